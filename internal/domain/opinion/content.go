package opinion

import "unicode/utf8"

// CharacterCount counts user-perceived characters (runes), not bytes.
func CharacterCount(content string) int {
	return utf8.RuneCountInString(content)
}

// IsActive reports whether the status means someone is acting on the opinion.
func (s ActionStatus) IsActive() bool {
	for _, active := range ActiveActionStatuses {
		if s == active {
			return true
		}
	}
	return false
}
