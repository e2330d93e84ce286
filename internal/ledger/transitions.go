package ledger

import (
	"fmt"

	"github.com/angelmondragon/storyline-backend/pkg/db/models"
	"github.com/angelmondragon/storyline-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/storyline-backend/pkg/errors"
)

// Actor distinguishes anonymous, paid callers from administrators.
type Actor int

const (
	ActorUser Actor = iota
	ActorAdmin
)

func (a Actor) String() string {
	if a == ActorAdmin {
		return "admin"
	}
	return "user"
}

func stale(message string) error {
	return pkgerrors.New(pkgerrors.CodeStateConflict, message)
}

func unknownStatus(status enums.WordStatus) error {
	return pkgerrors.New(pkgerrors.CodeInternal, fmt.Sprintf("unknown word status %q", status))
}

// withhold moves the text out of the disclosed column.
func withhold(word *models.Word) {
	if word.Content != nil {
		word.WithheldContent = word.Content
		word.Content = nil
	}
}

// disclose moves withheld text back into the disclosed column.
func disclose(word *models.Word) {
	if word.WithheldContent != nil {
		word.Content = word.WithheldContent
		word.WithheldContent = nil
	}
}

func publishWord(word *models.Word) error {
	switch word.Status {
	case enums.WordStatusPending:
		word.Status = enums.WordStatusVisible
		disclose(word)
		return nil
	case enums.WordStatusVisible, enums.WordStatusProtected, enums.WordStatusFlagged,
		enums.WordStatusRedacted, enums.WordStatusAdminRedacted, enums.WordStatusAdminRemoved,
		enums.WordStatusLinebreak:
		return stale("word already published")
	default:
		return unknownStatus(word.Status)
	}
}

func redactWord(word *models.Word, actor Actor) error {
	switch word.Status {
	case enums.WordStatusVisible, enums.WordStatusFlagged:
	case enums.WordStatusProtected:
		if actor != ActorAdmin {
			return stale("word is protected")
		}
	case enums.WordStatusRedacted, enums.WordStatusAdminRedacted:
		return stale("word already redacted")
	case enums.WordStatusAdminRemoved:
		return stale("word was removed")
	case enums.WordStatusPending:
		return stale("word is not published")
	case enums.WordStatusLinebreak:
		return stale("line breaks cannot be redacted")
	default:
		return unknownStatus(word.Status)
	}
	word.Status = enums.WordStatusRedacted
	word.FlagCount = 0
	withhold(word)
	return nil
}

func uncoverWord(word *models.Word, actor Actor) error {
	switch word.Status {
	case enums.WordStatusRedacted:
	case enums.WordStatusAdminRedacted:
		if actor != ActorAdmin {
			return stale("word was redacted by an administrator")
		}
	case enums.WordStatusVisible, enums.WordStatusProtected, enums.WordStatusFlagged:
		return stale("word is not redacted")
	case enums.WordStatusAdminRemoved:
		return stale("word was removed")
	case enums.WordStatusPending:
		return stale("word is not published")
	case enums.WordStatusLinebreak:
		return stale("line breaks cannot be uncovered")
	default:
		return unknownStatus(word.Status)
	}
	word.Status = enums.WordStatusVisible
	word.FlagCount = 0
	disclose(word)
	return nil
}

func hideWord(word *models.Word) error {
	switch word.Status {
	case enums.WordStatusVisible, enums.WordStatusFlagged, enums.WordStatusRedacted:
	case enums.WordStatusAdminRedacted:
		return stale("word already hidden")
	case enums.WordStatusProtected:
		return stale("word is protected")
	case enums.WordStatusAdminRemoved:
		return stale("word was removed")
	case enums.WordStatusPending:
		return stale("word is not published")
	case enums.WordStatusLinebreak:
		return stale("line breaks cannot be hidden")
	default:
		return unknownStatus(word.Status)
	}
	word.Status = enums.WordStatusAdminRedacted
	withhold(word)
	return nil
}

func removeWord(word *models.Word) error {
	switch word.Status {
	case enums.WordStatusVisible, enums.WordStatusProtected, enums.WordStatusFlagged,
		enums.WordStatusRedacted, enums.WordStatusAdminRedacted, enums.WordStatusLinebreak:
	case enums.WordStatusAdminRemoved:
		return stale("word already removed")
	case enums.WordStatusPending:
		return stale("word is not published")
	default:
		return unknownStatus(word.Status)
	}
	word.Status = enums.WordStatusAdminRemoved
	withhold(word)
	return nil
}

// restoreWord returns a removed word to the story. A removed line break has no
// text and zero length, which is how it is told apart from a removed word.
func restoreWord(word *models.Word) error {
	switch word.Status {
	case enums.WordStatusAdminRemoved:
	case enums.WordStatusVisible, enums.WordStatusProtected, enums.WordStatusFlagged,
		enums.WordStatusRedacted, enums.WordStatusAdminRedacted, enums.WordStatusLinebreak,
		enums.WordStatusPending:
		return stale("word is not removed")
	default:
		return unknownStatus(word.Status)
	}
	if word.WithheldContent == nil && word.ContentLength == 0 {
		word.Status = enums.WordStatusLinebreak
		return nil
	}
	word.Status = enums.WordStatusVisible
	word.FlagCount = 0
	disclose(word)
	return nil
}

func protectWord(word *models.Word) error {
	switch word.Status {
	case enums.WordStatusVisible, enums.WordStatusFlagged:
	case enums.WordStatusProtected:
		return stale("word already protected")
	case enums.WordStatusRedacted, enums.WordStatusAdminRedacted, enums.WordStatusAdminRemoved,
		enums.WordStatusPending, enums.WordStatusLinebreak:
		return stale(fmt.Sprintf("cannot protect a %s word", word.Status))
	default:
		return unknownStatus(word.Status)
	}
	word.Status = enums.WordStatusProtected
	return nil
}

func unprotectWord(word *models.Word) error {
	switch word.Status {
	case enums.WordStatusProtected:
	case enums.WordStatusVisible, enums.WordStatusFlagged, enums.WordStatusRedacted,
		enums.WordStatusAdminRedacted, enums.WordStatusAdminRemoved, enums.WordStatusPending,
		enums.WordStatusLinebreak:
		return stale("word is not protected")
	default:
		return unknownStatus(word.Status)
	}
	if word.FlagCount > 0 {
		word.Status = enums.WordStatusFlagged
	} else {
		word.Status = enums.WordStatusVisible
	}
	return nil
}

// flagWord adds one flag, clamped at max. Administrators may also flag
// protected words, which only moves the count.
func flagWord(word *models.Word, actor Actor, max int) error {
	switch word.Status {
	case enums.WordStatusVisible, enums.WordStatusFlagged:
		word.FlagCount = clamp(word.FlagCount+1, max)
		word.Status = enums.WordStatusFlagged
		return nil
	case enums.WordStatusProtected:
		if actor != ActorAdmin {
			return stale("word is protected")
		}
		word.FlagCount = clamp(word.FlagCount+1, max)
		return nil
	case enums.WordStatusRedacted, enums.WordStatusAdminRedacted, enums.WordStatusAdminRemoved,
		enums.WordStatusPending, enums.WordStatusLinebreak:
		return stale(fmt.Sprintf("cannot flag a %s word", word.Status))
	default:
		return unknownStatus(word.Status)
	}
}

func unflagWord(word *models.Word, max int) error {
	switch word.Status {
	case enums.WordStatusVisible, enums.WordStatusFlagged:
		word.FlagCount = clamp(word.FlagCount-1, max)
		if word.FlagCount < 1 {
			word.Status = enums.WordStatusVisible
		}
		return nil
	case enums.WordStatusProtected:
		word.FlagCount = clamp(word.FlagCount-1, max)
		return nil
	case enums.WordStatusRedacted, enums.WordStatusAdminRedacted, enums.WordStatusAdminRemoved,
		enums.WordStatusPending, enums.WordStatusLinebreak:
		return stale(fmt.Sprintf("cannot unflag a %s word", word.Status))
	default:
		return unknownStatus(word.Status)
	}
}

// editWord replaces the text wherever the word currently keeps it.
func editWord(word *models.Word, content string, length int) error {
	switch word.Status {
	case enums.WordStatusVisible, enums.WordStatusProtected, enums.WordStatusFlagged:
		word.Content = &content
		word.WithheldContent = nil
	case enums.WordStatusRedacted, enums.WordStatusAdminRedacted, enums.WordStatusAdminRemoved:
		if word.WithheldContent == nil && word.ContentLength == 0 {
			return stale("line breaks have no content")
		}
		word.WithheldContent = &content
		word.Content = nil
	case enums.WordStatusPending:
		return stale("word is not published")
	case enums.WordStatusLinebreak:
		return stale("line breaks have no content")
	default:
		return unknownStatus(word.Status)
	}
	word.ContentLength = length
	return nil
}

func clamp(count, max int) int {
	if count < 0 {
		return 0
	}
	if count > max {
		return max
	}
	return count
}
