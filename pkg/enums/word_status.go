package enums

import "fmt"

// WordStatus maps to the word_status enum in Postgres.
type WordStatus string

const (
	WordStatusPending       WordStatus = "pending"
	WordStatusVisible       WordStatus = "visible"
	WordStatusProtected     WordStatus = "protected"
	WordStatusFlagged       WordStatus = "flagged"
	WordStatusRedacted      WordStatus = "redacted"
	WordStatusAdminRedacted WordStatus = "admin_redacted"
	WordStatusAdminRemoved  WordStatus = "admin_removed"
	WordStatusLinebreak     WordStatus = "linebreak"
)

var validWordStatuses = []WordStatus{
	WordStatusPending,
	WordStatusVisible,
	WordStatusProtected,
	WordStatusFlagged,
	WordStatusRedacted,
	WordStatusAdminRedacted,
	WordStatusAdminRemoved,
	WordStatusLinebreak,
}

// WordStatuses returns every known status in declaration order.
func WordStatuses() []WordStatus {
	out := make([]WordStatus, len(validWordStatuses))
	copy(out, validWordStatuses)
	return out
}

// String implements fmt.Stringer.
func (s WordStatus) String() string {
	return string(s)
}

// IsValid reports whether the value is a known WordStatus.
func (s WordStatus) IsValid() bool {
	for _, candidate := range validWordStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// DisclosesContent reports whether a word in this status may expose its text.
func (s WordStatus) DisclosesContent() (bool, error) {
	switch s {
	case WordStatusVisible, WordStatusProtected, WordStatusFlagged:
		return true, nil
	case WordStatusPending, WordStatusRedacted, WordStatusAdminRedacted, WordStatusAdminRemoved, WordStatusLinebreak:
		return false, nil
	default:
		return false, fmt.Errorf("unknown word status %q", s)
	}
}

// IsPublic reports whether the word belongs in the story read.
func (s WordStatus) IsPublic() bool {
	return s.IsValid() && s != WordStatusPending
}

// ParseWordStatus converts raw input into a WordStatus.
func ParseWordStatus(value string) (WordStatus, error) {
	for _, candidate := range validWordStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid word status %q", value)
}
