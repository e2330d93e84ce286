package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/angelmondragon/storyline-backend/pkg/db/models"
	"github.com/angelmondragon/storyline-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/storyline-backend/pkg/errors"
	"github.com/angelmondragon/storyline-backend/pkg/outbox"
	"github.com/angelmondragon/storyline-backend/pkg/outbox/payloads"
	"github.com/angelmondragon/storyline-backend/pkg/wordcheck"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	defaultMaxFlagsPerWord        = 20
	defaultMaxFlagsPerFingerprint = 100
	defaultOpacityCeiling         = 0.75
	defaultLinebreakSpacing       = 10
	defaultStoryLimit             = 5000
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// Service owns every transition of the word ledger.
type Service interface {
	Story(ctx context.Context, query StoryQuery) ([]StoryWord, error)
	Get(ctx context.Context, id uuid.UUID) (*models.Word, error)

	CreatePending(ctx context.Context, input WriteInput) (*models.Word, error)
	Publish(ctx context.Context, id uuid.UUID) (*models.Word, error)
	Write(ctx context.Context, input WriteInput) (*models.Word, error)
	Redact(ctx context.Context, id uuid.UUID, actor Actor) (*models.Word, error)
	Uncover(ctx context.Context, id uuid.UUID, actor Actor) (*models.Word, error)

	Flag(ctx context.Context, id uuid.UUID, fingerprint string) (*FlagResult, error)
	AdminFlag(ctx context.Context, id uuid.UUID) (*FlagResult, error)
	AdminUnflag(ctx context.Context, id uuid.UUID) (*FlagResult, error)

	Hide(ctx context.Context, id uuid.UUID) (*models.Word, error)
	Remove(ctx context.Context, id uuid.UUID) (*models.Word, error)
	Restore(ctx context.Context, id uuid.UUID) (*models.Word, error)
	Protect(ctx context.Context, id uuid.UUID) (*models.Word, error)
	Unprotect(ctx context.Context, id uuid.UUID) (*models.Word, error)
	Edit(ctx context.Context, id uuid.UUID, content string) (*models.Word, error)
	Insert(ctx context.Context, input InsertInput) (*models.Word, error)
	InsertLinebreak(ctx context.Context, position int64) (*models.Word, error)
	Reorder(ctx context.Context, id uuid.UUID, newPosition int64) (*models.Word, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

// Options tunes moderation ceilings and line break spacing.
type Options struct {
	MaxFlagsPerWord        int
	MaxFlagsPerFingerprint int
	OpacityCeiling         float64
	LinebreakSpacing       int64
}

func (o Options) withDefaults() Options {
	if o.MaxFlagsPerWord <= 0 || o.MaxFlagsPerWord > defaultMaxFlagsPerWord {
		o.MaxFlagsPerWord = defaultMaxFlagsPerWord
	}
	if o.MaxFlagsPerFingerprint <= 0 {
		o.MaxFlagsPerFingerprint = defaultMaxFlagsPerFingerprint
	}
	if o.OpacityCeiling <= 0 || o.OpacityCeiling > 1 {
		o.OpacityCeiling = defaultOpacityCeiling
	}
	if o.LinebreakSpacing <= 0 {
		o.LinebreakSpacing = defaultLinebreakSpacing
	}
	return o
}

// WriteInput carries a paid write.
type WriteInput struct {
	Content          string
	PaymentReference *string
	Fingerprint      *string
}

// InsertInput carries an administrator-authored word. A nil Position appends.
type InsertInput struct {
	Content  string
	Position *int64
}

// StoryQuery pages through the story by position.
type StoryQuery struct {
	After int64
	Limit int
}

// StoryWord is the public projection of a word.
type StoryWord struct {
	ID               uuid.UUID        `json:"id"`
	Position         int64            `json:"position"`
	Content          *string          `json:"content"`
	ContentLength    int              `json:"content_length"`
	Status           enums.WordStatus `json:"status"`
	FlagCount        int              `json:"flag_count"`
	OpacityReduction float64          `json:"opacity_reduction"`
	CreatedAt        time.Time        `json:"created_at"`
}

type service struct {
	tx     txRunner
	repo   Repository
	outbox outboxPublisher
	opts   Options
}

// NewService wires the ledger service.
func NewService(tx txRunner, repo Repository, publisher outboxPublisher, opts Options) (Service, error) {
	if tx == nil {
		return nil, fmt.Errorf("tx runner required")
	}
	if repo == nil {
		return nil, fmt.Errorf("word repository required")
	}
	if publisher == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	return &service{
		tx:     tx,
		repo:   repo,
		outbox: publisher,
		opts:   opts.withDefaults(),
	}, nil
}

func (s *service) Story(ctx context.Context, query StoryQuery) ([]StoryWord, error) {
	limit := query.Limit
	if limit <= 0 || limit > defaultStoryLimit {
		limit = defaultStoryLimit
	}
	words, err := s.repo.ListStory(ctx, query.After, limit)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list story")
	}
	out := make([]StoryWord, 0, len(words))
	for _, word := range words {
		view, err := s.storyWord(word)
		if err != nil {
			return nil, err
		}
		out = append(out, view)
	}
	return out, nil
}

func (s *service) storyWord(word models.Word) (StoryWord, error) {
	discloses, err := word.Status.DisclosesContent()
	if err != nil {
		return StoryWord{}, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "project word")
	}
	view := StoryWord{
		ID:               word.ID,
		ContentLength:    word.ContentLength,
		Status:           word.Status,
		FlagCount:        word.FlagCount,
		OpacityReduction: s.opacity(word.FlagCount),
		CreatedAt:        word.CreatedAt,
	}
	if word.Position != nil {
		view.Position = *word.Position
	}
	if discloses && word.Content != nil {
		content := *word.Content
		view.Content = &content
	}
	return view, nil
}

func (s *service) Get(ctx context.Context, id uuid.UUID) (*models.Word, error) {
	return s.repo.FindByID(ctx, id)
}

func (s *service) CreatePending(ctx context.Context, input WriteInput) (*models.Word, error) {
	var word *models.Word
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		created, err := s.createPending(ctx, s.repo.WithTx(tx), input)
		word = created
		return err
	})
	return word, err
}

func (s *service) Publish(ctx context.Context, id uuid.UUID) (*models.Word, error) {
	var word *models.Word
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		locked, err := repo.LockByID(ctx, id)
		if err != nil {
			return err
		}
		if err := s.publish(ctx, tx, repo, locked); err != nil {
			return err
		}
		word = locked
		return nil
	})
	return word, err
}

// Write creates the pending word and publishes it in one transaction.
func (s *service) Write(ctx context.Context, input WriteInput) (*models.Word, error) {
	var word *models.Word
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		created, err := s.createPending(ctx, repo, input)
		if err != nil {
			return err
		}
		if err := s.publish(ctx, tx, repo, created); err != nil {
			return err
		}
		word = created
		return nil
	})
	return word, err
}

func (s *service) createPending(ctx context.Context, repo Repository, input WriteInput) (*models.Word, error) {
	if err := wordcheck.Validate(input.Content); err != nil {
		return nil, err
	}
	content := input.Content
	word := &models.Word{
		Status:           enums.WordStatusPending,
		WithheldContent:  &content,
		ContentLength:    wordcheck.Length(content),
		PaymentReference: input.PaymentReference,
		Fingerprint:      input.Fingerprint,
	}
	if err := repo.Create(ctx, word); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "create word")
	}
	return word, nil
}

// publish assigns the next position at transition time and re-stamps created_at
// so story order follows confirmation order.
func (s *service) publish(ctx context.Context, tx *gorm.DB, repo Repository, word *models.Word) error {
	if err := publishWord(word); err != nil {
		return err
	}
	position, err := repo.NextPosition(ctx)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "allocate position")
	}
	word.Position = &position
	word.CreatedAt = time.Now().UTC()
	if err := repo.Save(ctx, word); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "publish word")
	}
	return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventWordPublished,
		AggregateType: enums.AggregateWord,
		AggregateID:   word.ID,
		Actor:         &outbox.Actor{Kind: outbox.ActorReconciliation, Ref: derefString(word.PaymentReference)},
		Data: payloads.WordPublishedEvent{
			WordID:           word.ID,
			Position:         position,
			Status:           word.Status,
			ContentLength:    word.ContentLength,
			PaymentReference: word.PaymentReference,
			PublishedAt:      word.CreatedAt,
		},
	})
}

func (s *service) Redact(ctx context.Context, id uuid.UUID, actor Actor) (*models.Word, error) {
	return s.mutate(ctx, id, "redact", actor, func(word *models.Word) error {
		return redactWord(word, actor)
	})
}

func (s *service) Uncover(ctx context.Context, id uuid.UUID, actor Actor) (*models.Word, error) {
	return s.mutate(ctx, id, "uncover", actor, func(word *models.Word) error {
		return uncoverWord(word, actor)
	})
}

func (s *service) Hide(ctx context.Context, id uuid.UUID) (*models.Word, error) {
	return s.mutate(ctx, id, "hide", ActorAdmin, hideWord)
}

func (s *service) Remove(ctx context.Context, id uuid.UUID) (*models.Word, error) {
	return s.mutate(ctx, id, "remove", ActorAdmin, removeWord)
}

func (s *service) Restore(ctx context.Context, id uuid.UUID) (*models.Word, error) {
	return s.mutate(ctx, id, "restore", ActorAdmin, restoreWord)
}

func (s *service) Protect(ctx context.Context, id uuid.UUID) (*models.Word, error) {
	return s.mutate(ctx, id, "protect", ActorAdmin, protectWord)
}

func (s *service) Unprotect(ctx context.Context, id uuid.UUID) (*models.Word, error) {
	return s.mutate(ctx, id, "unprotect", ActorAdmin, unprotectWord)
}

func (s *service) Edit(ctx context.Context, id uuid.UUID, content string) (*models.Word, error) {
	if err := wordcheck.Validate(content); err != nil {
		return nil, err
	}
	length := wordcheck.Length(content)
	return s.mutate(ctx, id, "edit", ActorAdmin, func(word *models.Word) error {
		return editWord(word, content, length)
	})
}

// mutate runs one guarded transition against a locked row and records it in the outbox.
func (s *service) mutate(ctx context.Context, id uuid.UUID, operation string, actor Actor, apply func(*models.Word) error) (*models.Word, error) {
	var word *models.Word
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		locked, err := repo.LockByID(ctx, id)
		if err != nil {
			return err
		}
		from := locked.Status
		if err := apply(locked); err != nil {
			return err
		}
		if err := repo.Save(ctx, locked); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, operation+" word")
		}
		if err := s.emitStatusChange(ctx, tx, locked, operation, from, actorFor(actor, operation)); err != nil {
			return err
		}
		word = locked
		return nil
	})
	return word, err
}

func (s *service) emitStatusChange(ctx context.Context, tx *gorm.DB, word *models.Word, operation string, from enums.WordStatus, actor *outbox.Actor) error {
	return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventWordStatusChanged,
		AggregateType: enums.AggregateWord,
		AggregateID:   word.ID,
		Actor:         actor,
		Data: payloads.WordStatusChangedEvent{
			WordID:     word.ID,
			Operation:  operation,
			FromStatus: from,
			ToStatus:   word.Status,
			Position:   word.Position,
			FlagCount:  word.FlagCount,
		},
	})
}

func actorFor(actor Actor, operation string) *outbox.Actor {
	switch {
	case actor == ActorAdmin:
		return &outbox.Actor{Kind: outbox.ActorAdmin, Ref: operation}
	case operation == "flag":
		return &outbox.Actor{Kind: outbox.ActorModeration}
	default:
		return &outbox.Actor{Kind: outbox.ActorReconciliation}
	}
}

func derefString(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}
