package layout

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// FileTemplate renders a complete profile file containing the
// specified profile under the specified context, suitable for hand
// editing. Loading the result back with LoadFile yields the same
// profile.
func FileTemplate(context string, p Profile) ([]byte, error) {
	err := p.Validate()
	if err != nil {
		return nil, fmt.Errorf("invalid layout profile - %w", err)
	}

	if context == "" {
		context = DefaultContext
	}

	doc := struct {
		Context  string             `yaml:"context"`
		Profiles map[string]Profile `yaml:"profiles"`
	}{
		Context: context,
		Profiles: map[string]Profile{
			context: p,
		},
	}

	b, err := yaml.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to render profile file - %w", err)
	}

	return b, nil
}
