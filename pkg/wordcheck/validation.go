// Package wordcheck validates the text of a single story word.
package wordcheck

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	pkgerrors "github.com/angelmondragon/storyline-backend/pkg/errors"
)

const (
	MinLength = 1
	MaxLength = 20

	allowedPunctuation = `.,!?'"-:;()&`
)

// Violation describes why content was rejected.
type Violation struct {
	Reason    string `json:"reason"`
	Character string `json:"character,omitempty"`
	Length    int    `json:"length"`
}

// Length returns the character count used for content_length.
func Length(content string) int {
	return utf8.RuneCountInString(content)
}

// Validate checks the content against the character allowlist and length bounds.
// The returned error is a CodeValidation error whose message is the specific reason.
func Validate(content string) error {
	length := Length(content)
	switch {
	case length < MinLength || strings.TrimSpace(content) == "":
		return violation(Violation{Reason: "word cannot be empty", Length: length})
	case length > MaxLength:
		return violation(Violation{Reason: fmt.Sprintf("word exceeds %d characters", MaxLength), Length: length})
	}

	if !utf8.ValidString(content) {
		return violation(Violation{Reason: "word is not valid UTF-8", Length: length})
	}

	for _, r := range content {
		if allowed(r) {
			continue
		}
		if unicode.IsSpace(r) {
			return violation(Violation{Reason: "word cannot contain spaces", Character: string(r), Length: length})
		}
		return violation(Violation{Reason: fmt.Sprintf("character %q is not allowed", r), Character: string(r), Length: length})
	}

	hasLetterOrDigit := false
	for _, r := range content {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			hasLetterOrDigit = true
			break
		}
	}
	if !hasLetterOrDigit {
		return violation(Violation{Reason: "word must contain a letter or digit", Length: length})
	}
	return nil
}

func allowed(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || strings.ContainsRune(allowedPunctuation, r)
}

func violation(v Violation) error {
	return pkgerrors.New(pkgerrors.CodeValidation, v.Reason).WithDetails(v)
}
