package ledger

import (
	"context"

	"github.com/angelmondragon/storyline-backend/pkg/db/models"
	"github.com/angelmondragon/storyline-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/storyline-backend/pkg/errors"
	"github.com/angelmondragon/storyline-backend/pkg/outbox"
	"github.com/angelmondragon/storyline-backend/pkg/outbox/payloads"
	"github.com/angelmondragon/storyline-backend/pkg/wordcheck"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

func (s *service) Insert(ctx context.Context, input InsertInput) (*models.Word, error) {
	if err := wordcheck.Validate(input.Content); err != nil {
		return nil, err
	}
	if input.Position != nil && *input.Position < 1 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "position must be positive")
	}
	content := input.Content
	word := &models.Word{
		Status:        enums.WordStatusVisible,
		Content:       &content,
		ContentLength: wordcheck.Length(content),
	}
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		return s.place(ctx, tx, word, input.Position)
	})
	if err != nil {
		return nil, err
	}
	return word, nil
}

// InsertLinebreak returns a nil word, and shifts nothing, when another line
// break already sits within the configured spacing of position.
func (s *service) InsertLinebreak(ctx context.Context, position int64) (*models.Word, error) {
	if position < 1 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "position must be positive")
	}
	var word *models.Word
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		max, err := repo.MaxPosition(ctx)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "read max position")
		}
		effective := position
		if effective > max {
			effective = max + 1
		}
		near, err := repo.LinebreakWithin(ctx, effective, s.opts.LinebreakSpacing)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "check line break spacing")
		}
		if near {
			return nil
		}
		marker := &models.Word{Status: enums.WordStatusLinebreak}
		if err := s.place(ctx, tx, marker, &position); err != nil {
			return err
		}
		word = marker
		return nil
	})
	if err != nil {
		return nil, err
	}
	return word, nil
}

// place writes a new word at position, shifting the tail up by one, or appends
// it at the next sequence slot when position is nil or past the end.
func (s *service) place(ctx context.Context, tx *gorm.DB, word *models.Word, position *int64) error {
	repo := s.repo.WithTx(tx)
	max, err := repo.MaxPosition(ctx)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "read max position")
	}

	var target int64
	if position == nil || *position > max {
		target, err = repo.NextPosition(ctx)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "allocate position")
		}
	} else {
		target = *position
		if err := repo.DeferPositionCheck(ctx); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "defer position check")
		}
		if err := repo.ShiftRange(ctx, target, max, 1); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "shift positions")
		}
	}

	word.Position = &target
	if err := repo.Create(ctx, word); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "insert word")
	}
	if err := repo.RaiseSequence(ctx); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "raise position sequence")
	}
	return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventWordPublished,
		AggregateType: enums.AggregateWord,
		AggregateID:   word.ID,
		Actor:         &outbox.Actor{Kind: outbox.ActorAdmin, Ref: "insert"},
		Data: payloads.WordPublishedEvent{
			WordID:        word.ID,
			Position:      target,
			Status:        word.Status,
			ContentLength: word.ContentLength,
			PublishedAt:   word.CreatedAt,
		},
	})
}

// Reorder moves a word to newPosition and shifts the words in between by one
// slot toward the vacated position. Targets past the end clamp to the last slot.
func (s *service) Reorder(ctx context.Context, id uuid.UUID, newPosition int64) (*models.Word, error) {
	if newPosition < 1 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "position must be positive")
	}
	var word *models.Word
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		locked, err := repo.LockByID(ctx, id)
		if err != nil {
			return err
		}
		if locked.Position == nil {
			return stale("word is not published")
		}
		from := *locked.Position
		max, err := repo.MaxPosition(ctx)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "read max position")
		}
		to := newPosition
		if to > max {
			to = max
		}
		word = locked
		if to == from {
			return nil
		}

		if err := repo.DeferPositionCheck(ctx); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "defer position check")
		}
		locked.Position = nil
		if err := repo.Save(ctx, locked); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "park word")
		}
		if to < from {
			err = repo.ShiftRange(ctx, to, from-1, 1)
		} else {
			err = repo.ShiftRange(ctx, from+1, to, -1)
		}
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "shift positions")
		}
		locked.Position = &to
		if err := repo.Save(ctx, locked); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "move word")
		}
		return s.emitStatusChange(ctx, tx, locked, "reorder", locked.Status, actorFor(ActorAdmin, "reorder"))
	})
	if err != nil {
		return nil, err
	}
	return word, nil
}

// Delete removes the word and its flag records. It cannot be undone.
func (s *service) Delete(ctx context.Context, id uuid.UUID) error {
	return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		word, err := repo.LockByID(ctx, id)
		if err != nil {
			return err
		}
		if err := repo.Delete(ctx, word.ID); err != nil {
			if pkgerrors.As(err) != nil {
				return err
			}
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "delete word")
		}
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventWordDeleted,
			AggregateType: enums.AggregateWord,
			AggregateID:   word.ID,
			Actor:         &outbox.Actor{Kind: outbox.ActorAdmin, Ref: "delete"},
			Data: payloads.WordDeletedEvent{
				WordID:   word.ID,
				Position: word.Position,
			},
		})
	})
}
