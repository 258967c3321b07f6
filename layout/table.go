package layout

import (
	"fmt"

	"github.com/spf13/viper"
)

// NewTable creates a new *Table with the specified initial context.
// The default context always exists and holds Default().
func NewTable(initialContext string) *Table {
	return &Table{
		currentContext: initialContext,
		profiles: map[string]Profile{
			DefaultContext: Default(),
		},
	}
}

// DefaultContext is the name of the built-in profile context.
const DefaultContext = "default"

// Table organizes layout profiles for different contexts. A context
// is typically the name or version of a host build.
//
// The host's layout can differ between the build on a test machine
// and the build the engine ultimately runs against. Rather than
// editing offsets in place when switching targets, keep one profile
// per context and select between them - only one string changes.
type Table struct {
	currentContext string
	profiles       map[string]Profile
}

// SetContext sets the current context to the specified value.
func (o *Table) SetContext(context string) *Table {
	o.currentContext = context
	return o
}

// CurrentContext returns the current context.
func (o *Table) CurrentContext() string {
	return o.currentContext
}

// AddProfileInContext adds or replaces the profile for the specified
// context.
func (o *Table) AddProfileInContext(p Profile, context string) *Table {
	o.profiles[context] = p
	return o
}

// DeleteContext deletes the specified context.
func (o *Table) DeleteContext(context string) *Table {
	delete(o.profiles, context)
	return o
}

// Current returns the profile for the currently selected context.
func (o *Table) Current() (Profile, error) {
	p, hasIt := o.profiles[o.currentContext]
	if !hasIt {
		return Profile{}, fmt.Errorf("the current context ('%s') is not in the profile table",
			o.currentContext)
	}

	err := p.Validate()
	if err != nil {
		return Profile{}, fmt.Errorf("profile for context '%s' is invalid - %w",
			o.currentContext, err)
	}

	return p, nil
}

// LoadFile reads a profile table from a configuration file. Profiles
// in the file only need to specify fields that differ from Default();
// unset fields inherit the default value.
//
// The file looks like:
//
//	context: host-build-12
//	profiles:
//	  host-build-12:
//	    pos_off: 584
//	    obj_ident_off: 12
func LoadFile(path string) (*Table, error) {
	v := viper.New()
	v.SetConfigFile(path)

	err := v.ReadInConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to read profile file - %w", err)
	}

	var file struct {
		Context  string                    `mapstructure:"context"`
		Profiles map[string]map[string]any `mapstructure:"profiles"`
	}

	err = v.Unmarshal(&file)
	if err != nil {
		return nil, fmt.Errorf("failed to parse profile file - %w", err)
	}

	initial := file.Context
	if initial == "" {
		initial = DefaultContext
	}

	table := NewTable(initial)

	for context := range file.Profiles {
		profile := Default()

		sub := v.Sub("profiles." + context)
		if sub == nil {
			continue
		}

		err = sub.Unmarshal(&profile)
		if err != nil {
			return nil, fmt.Errorf("failed to parse profile for context '%s' - %w",
				context, err)
		}

		err = profile.Validate()
		if err != nil {
			return nil, fmt.Errorf("profile for context '%s' is invalid - %w",
				context, err)
		}

		table.AddProfileInContext(profile, context)
	}

	if _, err := table.Current(); err != nil {
		return nil, err
	}

	return table, nil
}
