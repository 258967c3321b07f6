package record

const (
	minNameLen = 3
	maxNameLen = 30
)

// ValidName reports whether s satisfies the record name grammar:
// 3 to 30 characters, starts with an uppercase letter, contains at
// least one lowercase letter, every character is a letter, digit,
// space, apostrophe, hyphen, or period, and no lowercase letter is
// immediately followed by an uppercase letter.
//
// The grammar is strict on purpose. The full-region scanner runs this
// against arbitrary memory, and a permissive grammar would drown the
// results in garbage that happens to look string-ish.
func ValidName(s []byte) bool {
	if len(s) < minNameLen || len(s) > maxNameLen {
		return false
	}

	if !isUpper(s[0]) {
		return false
	}

	hasLower := false

	for i, c := range s {
		if !isNameChar(c) {
			return false
		}

		if isLower(c) {
			hasLower = true
		}

		if i > 0 && isLower(s[i-1]) && isUpper(c) {
			return false
		}
	}

	return hasLower
}

func isNameChar(c byte) bool {
	return c == ' ' || c == '\'' || c == '-' || c == '.' ||
		(c >= '0' && c <= '9') || isUpper(c) || isLower(c)
}

func isUpper(c byte) bool {
	return c >= 'A' && c <= 'Z'
}

func isLower(c byte) bool {
	return c >= 'a' && c <= 'z'
}
