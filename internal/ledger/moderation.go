package ledger

import (
	"context"
	"strings"

	"github.com/angelmondragon/storyline-backend/pkg/db"
	"github.com/angelmondragon/storyline-backend/pkg/db/models"
	"github.com/angelmondragon/storyline-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/storyline-backend/pkg/errors"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// FlagResult is what a flag submission reports back to the caller.
type FlagResult struct {
	WordID           uuid.UUID        `json:"word_id"`
	FlagCount        int              `json:"flag_count"`
	Status           enums.WordStatus `json:"status"`
	OpacityReduction float64          `json:"opacity_reduction"`
}

// opacity fades a word linearly with its flag count up to the configured ceiling.
func (s *service) opacity(flagCount int) float64 {
	count := clamp(flagCount, s.opts.MaxFlagsPerWord)
	return s.opts.OpacityCeiling * float64(count) / float64(s.opts.MaxFlagsPerWord)
}

func (s *service) flagResult(word *models.Word) *FlagResult {
	return &FlagResult{
		WordID:           word.ID,
		FlagCount:        word.FlagCount,
		Status:           word.Status,
		OpacityReduction: s.opacity(word.FlagCount),
	}
}

// Flag records one anonymous flag. A word already at the ceiling is returned
// unchanged and no flag record is written for the caller.
func (s *service) Flag(ctx context.Context, id uuid.UUID, fingerprint string) (*FlagResult, error) {
	fingerprint = strings.TrimSpace(fingerprint)
	if fingerprint == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "fingerprint required")
	}
	max := s.opts.MaxFlagsPerWord

	var result *FlagResult
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		word, err := repo.LockByID(ctx, id)
		if err != nil {
			return err
		}
		probe := *word
		if err := flagWord(&probe, ActorUser, max); err != nil {
			return err
		}
		if word.FlagCount >= max {
			result = s.flagResult(word)
			return nil
		}

		exists, err := repo.HasFlag(ctx, word.ID, fingerprint)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "check flag")
		}
		if exists {
			return pkgerrors.New(pkgerrors.CodeConflict, "word already flagged")
		}
		total, err := repo.CountFlagsByFingerprint(ctx, fingerprint)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "count flags")
		}
		if total >= int64(s.opts.MaxFlagsPerFingerprint) {
			return pkgerrors.New(pkgerrors.CodeRateLimit, "flag limit reached, try again later")
		}

		if err := repo.CreateFlag(ctx, &models.WordFlag{WordID: word.ID, Fingerprint: fingerprint}); err != nil {
			if db.IsUniqueViolation(err, "") {
				return pkgerrors.New(pkgerrors.CodeConflict, "word already flagged")
			}
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "record flag")
		}

		from := word.Status
		if err := flagWord(word, ActorUser, max); err != nil {
			return err
		}
		if err := repo.Save(ctx, word); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "flag word")
		}
		if err := s.emitStatusChange(ctx, tx, word, "flag", from, actorFor(ActorUser, "flag")); err != nil {
			return err
		}
		result = s.flagResult(word)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// AdminFlag skips the ceiling, dedup and rate limit checks.
func (s *service) AdminFlag(ctx context.Context, id uuid.UUID) (*FlagResult, error) {
	word, err := s.mutate(ctx, id, "flag", ActorAdmin, func(word *models.Word) error {
		return flagWord(word, ActorAdmin, s.opts.MaxFlagsPerWord)
	})
	if err != nil {
		return nil, err
	}
	return s.flagResult(word), nil
}

func (s *service) AdminUnflag(ctx context.Context, id uuid.UUID) (*FlagResult, error) {
	word, err := s.mutate(ctx, id, "unflag", ActorAdmin, func(word *models.Word) error {
		return unflagWord(word, s.opts.MaxFlagsPerWord)
	})
	if err != nil {
		return nil, err
	}
	return s.flagResult(word), nil
}
