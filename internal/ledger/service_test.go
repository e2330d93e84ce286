package ledger

import (
	"context"
	"fmt"
	"testing"

	"github.com/angelmondragon/storyline-backend/pkg/db"
	"github.com/angelmondragon/storyline-backend/pkg/db/dbtest"
	"github.com/angelmondragon/storyline-backend/pkg/db/models"
	"github.com/angelmondragon/storyline-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/storyline-backend/pkg/errors"
	"github.com/angelmondragon/storyline-backend/pkg/outbox"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

type ledgerFixture struct {
	client *db.Client
	svc    Service
}

func newLedger(t *testing.T, opts Options) ledgerFixture {
	t.Helper()
	client := dbtest.New(t)
	publisher := outbox.NewService(outbox.NewRepository(client.DB()), nil)
	svc, err := NewService(client, NewRepository(client.DB()), publisher, opts)
	require.NoError(t, err)
	return ledgerFixture{client: client, svc: svc}
}

func (f ledgerFixture) write(t *testing.T, content string) *models.Word {
	t.Helper()
	word, err := f.svc.Write(context.Background(), WriteInput{Content: content})
	require.NoError(t, err)
	return word
}

func (f ledgerFixture) words(t *testing.T) []models.Word {
	t.Helper()
	var words []models.Word
	require.NoError(t, f.client.DB().Order("position ASC").Find(&words).Error)
	return words
}

func (f ledgerFixture) positions(t *testing.T) map[uuid.UUID]int64 {
	t.Helper()
	out := map[uuid.UUID]int64{}
	for _, w := range f.words(t) {
		if w.Position != nil {
			out[w.ID] = *w.Position
		}
	}
	return out
}

// assertLedgerInvariants checks unique positions, flag bounds and that content
// is stored only while the status allows disclosure.
func (f ledgerFixture) assertLedgerInvariants(t *testing.T) {
	t.Helper()
	seen := map[int64]uuid.UUID{}
	for _, w := range f.words(t) {
		if w.Position != nil {
			if other, dup := seen[*w.Position]; dup {
				t.Fatalf("position %d held by %s and %s", *w.Position, other, w.ID)
			}
			seen[*w.Position] = w.ID
		}
		require.GreaterOrEqual(t, w.FlagCount, 0)
		require.LessOrEqual(t, w.FlagCount, 20)
		discloses, err := w.Status.DisclosesContent()
		require.NoError(t, err)
		if discloses {
			require.NotNil(t, w.Content, "word %s in %s should carry content", w.ID, w.Status)
		} else {
			require.Nil(t, w.Content, "word %s in %s must not carry content", w.ID, w.Status)
		}
	}
}

func countRows(t *testing.T, client *db.Client, table, where string, args ...any) int64 {
	t.Helper()
	var count int64
	query := client.DB().Table(table)
	if where != "" {
		query = query.Where(where, args...)
	}
	require.NoError(t, query.Count(&count).Error)
	return count
}

func TestWriteAssignsIncreasingPositions(t *testing.T) {
	f := newLedger(t, Options{})
	var last int64
	for i := 0; i < 5; i++ {
		word := f.write(t, fmt.Sprintf("word%d", i))
		require.Equal(t, enums.WordStatusVisible, word.Status)
		require.NotNil(t, word.Position)
		require.Greater(t, *word.Position, last)
		last = *word.Position
	}
	f.assertLedgerInvariants(t)
	require.EqualValues(t, 5, countRows(t, f.client, "outbox_events", "event_type = ?", enums.EventWordPublished))
}

func TestPublishOrderFollowsConfirmationOrder(t *testing.T) {
	f := newLedger(t, Options{})
	ctx := context.Background()

	first, err := f.svc.CreatePending(ctx, WriteInput{Content: "first"})
	require.NoError(t, err)
	second, err := f.svc.CreatePending(ctx, WriteInput{Content: "second"})
	require.NoError(t, err)
	require.Nil(t, first.Position)
	require.Nil(t, first.Content)
	f.assertLedgerInvariants(t)

	story, err := f.svc.Story(ctx, StoryQuery{})
	require.NoError(t, err)
	require.Empty(t, story, "pending words are not part of the story")

	publishedSecond, err := f.svc.Publish(ctx, second.ID)
	require.NoError(t, err)
	publishedFirst, err := f.svc.Publish(ctx, first.ID)
	require.NoError(t, err)
	require.Less(t, *publishedSecond.Position, *publishedFirst.Position)
	require.Equal(t, "first", *publishedFirst.Content)

	_, err = f.svc.Publish(ctx, first.ID)
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeStateConflict))
	f.assertLedgerInvariants(t)
}

func TestWriteRejectsInvalidContent(t *testing.T) {
	f := newLedger(t, Options{})
	_, err := f.svc.Write(context.Background(), WriteInput{Content: "two words"})
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
	require.Zero(t, countRows(t, f.client, "words", ""))
}

func TestStoryWithholdsRedactedContent(t *testing.T) {
	f := newLedger(t, Options{})
	ctx := context.Background()
	open := f.write(t, "open")
	hidden := f.write(t, "hidden")

	_, err := f.svc.Redact(ctx, hidden.ID, ActorUser)
	require.NoError(t, err)

	story, err := f.svc.Story(ctx, StoryQuery{})
	require.NoError(t, err)
	require.Len(t, story, 2)
	require.Equal(t, open.ID, story[0].ID)
	require.Equal(t, "open", *story[0].Content)
	require.Equal(t, hidden.ID, story[1].ID)
	require.Nil(t, story[1].Content)
	require.Equal(t, 6, story[1].ContentLength)
	require.Equal(t, enums.WordStatusRedacted, story[1].Status)

	page, err := f.svc.Story(ctx, StoryQuery{After: *open.Position, Limit: 1})
	require.NoError(t, err)
	require.Len(t, page, 1)
	require.Equal(t, hidden.ID, page[0].ID)
	f.assertLedgerInvariants(t)
}

func TestUserRedactUncoverRedact(t *testing.T) {
	f := newLedger(t, Options{})
	ctx := context.Background()
	word := f.write(t, "toggle")

	_, err := f.svc.Redact(ctx, word.ID, ActorUser)
	require.NoError(t, err)
	uncovered, err := f.svc.Uncover(ctx, word.ID, ActorUser)
	require.NoError(t, err)
	require.Equal(t, "toggle", *uncovered.Content)
	redacted, err := f.svc.Redact(ctx, word.ID, ActorUser)
	require.NoError(t, err)
	require.Equal(t, enums.WordStatusRedacted, redacted.Status)

	_, err = f.svc.Redact(ctx, word.ID, ActorUser)
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeStateConflict))
	f.assertLedgerInvariants(t)
}

func TestUserUncoverOfAdminRedactedFails(t *testing.T) {
	f := newLedger(t, Options{})
	ctx := context.Background()
	word := f.write(t, "strong")

	_, err := f.svc.Hide(ctx, word.ID)
	require.NoError(t, err)
	_, err = f.svc.Uncover(ctx, word.ID, ActorUser)
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeStateConflict))

	restored, err := f.svc.Uncover(ctx, word.ID, ActorAdmin)
	require.NoError(t, err)
	require.Equal(t, enums.WordStatusVisible, restored.Status)
	require.Equal(t, "strong", *restored.Content)
	f.assertLedgerInvariants(t)
}

func TestMissingWordIsNotFound(t *testing.T) {
	f := newLedger(t, Options{})
	_, err := f.svc.Redact(context.Background(), uuid.New(), ActorUser)
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))
	_, err = f.svc.Flag(context.Background(), uuid.New(), "fp")
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))
}

func TestFlagDeduplicatesPerFingerprint(t *testing.T) {
	f := newLedger(t, Options{})
	ctx := context.Background()
	word := f.write(t, "flagme")

	result, err := f.svc.Flag(ctx, word.ID, "fp-1")
	require.NoError(t, err)
	require.Equal(t, 1, result.FlagCount)
	require.Equal(t, enums.WordStatusFlagged, result.Status)
	require.InDelta(t, 0.75/20, result.OpacityReduction, 1e-9)

	_, err = f.svc.Flag(ctx, word.ID, "fp-1")
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeConflict))

	stored, err := f.svc.Get(ctx, word.ID)
	require.NoError(t, err)
	require.Equal(t, 1, stored.FlagCount)
	require.EqualValues(t, 1, countRows(t, f.client, "word_flags", "word_id = ?", word.ID))
}

func TestFlagCeilingDropsExtraFlags(t *testing.T) {
	f := newLedger(t, Options{})
	ctx := context.Background()
	word := f.write(t, "popular")

	for i := 0; i < 20; i++ {
		result, err := f.svc.Flag(ctx, word.ID, fmt.Sprintf("fp-%02d", i))
		require.NoError(t, err)
		require.Equal(t, enums.WordStatusFlagged, result.Status)
		require.Equal(t, i+1, result.FlagCount)
	}

	result, err := f.svc.Flag(ctx, word.ID, "fp-late")
	require.NoError(t, err)
	require.Equal(t, 20, result.FlagCount)
	require.InDelta(t, 0.75, result.OpacityReduction, 1e-9)
	require.Zero(t, countRows(t, f.client, "word_flags", "fingerprint = ?", "fp-late"))
	require.EqualValues(t, 20, countRows(t, f.client, "word_flags", "word_id = ?", word.ID))
	f.assertLedgerInvariants(t)
}

func TestFlagRateLimitPerFingerprint(t *testing.T) {
	f := newLedger(t, Options{MaxFlagsPerFingerprint: 3})
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		word := f.write(t, fmt.Sprintf("w%d", i))
		_, err := f.svc.Flag(ctx, word.ID, "busy")
		require.NoError(t, err)
	}
	extra := f.write(t, "extra")
	_, err := f.svc.Flag(ctx, extra.ID, "busy")
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeRateLimit))

	_, err = f.svc.Flag(ctx, extra.ID, "someone-else")
	require.NoError(t, err)
}

func TestFlagRejectsNonFlaggableStatuses(t *testing.T) {
	f := newLedger(t, Options{})
	ctx := context.Background()
	redacted := f.write(t, "shh")
	_, err := f.svc.Redact(ctx, redacted.ID, ActorUser)
	require.NoError(t, err)
	_, err = f.svc.Flag(ctx, redacted.ID, "fp")
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeStateConflict))

	protected := f.write(t, "safe")
	_, err = f.svc.Protect(ctx, protected.ID)
	require.NoError(t, err)
	_, err = f.svc.Flag(ctx, protected.ID, "fp")
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeStateConflict))
	_, err = f.svc.Redact(ctx, protected.ID, ActorUser)
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeStateConflict))
	require.Zero(t, countRows(t, f.client, "word_flags", ""))
}

func TestAdminFlagBypassesDedup(t *testing.T) {
	f := newLedger(t, Options{})
	ctx := context.Background()
	word := f.write(t, "admin")

	for i := 0; i < 22; i++ {
		_, err := f.svc.AdminFlag(ctx, word.ID)
		require.NoError(t, err)
	}
	stored, err := f.svc.Get(ctx, word.ID)
	require.NoError(t, err)
	require.Equal(t, 20, stored.FlagCount)
	require.Zero(t, countRows(t, f.client, "word_flags", ""))

	for i := 0; i < 20; i++ {
		_, err := f.svc.AdminUnflag(ctx, word.ID)
		require.NoError(t, err)
	}
	result, err := f.svc.AdminUnflag(ctx, word.ID)
	require.NoError(t, err)
	require.Equal(t, 0, result.FlagCount)
	require.Equal(t, enums.WordStatusVisible, result.Status)
}

func TestInsertShiftsTailAndSequence(t *testing.T) {
	f := newLedger(t, Options{})
	ctx := context.Background()
	a := f.write(t, "a")
	b := f.write(t, "b")
	c := f.write(t, "c")

	pos := *b.Position
	inserted, err := f.svc.Insert(ctx, InsertInput{Content: "new", Position: &pos})
	require.NoError(t, err)
	require.Equal(t, pos, *inserted.Position)

	positions := f.positions(t)
	require.Equal(t, *a.Position, positions[a.ID])
	require.Equal(t, pos+1, positions[b.ID])
	require.Equal(t, *c.Position+1, positions[c.ID])

	next := f.write(t, "after")
	require.Greater(t, *next.Position, positions[c.ID])
	f.assertLedgerInvariants(t)

	appended, err := f.svc.Insert(ctx, InsertInput{Content: "tail"})
	require.NoError(t, err)
	require.Greater(t, *appended.Position, *next.Position)
}

func TestLinebreakSpacing(t *testing.T) {
	f := newLedger(t, Options{})
	ctx := context.Background()
	for i := 0; i < 30; i++ {
		f.write(t, fmt.Sprintf("w%d", i))
	}

	first, err := f.svc.InsertLinebreak(ctx, 5)
	require.NoError(t, err)
	require.NotNil(t, first)
	require.Equal(t, enums.WordStatusLinebreak, first.Status)
	require.Nil(t, first.Content)
	before := f.positions(t)

	tooClose, err := f.svc.InsertLinebreak(ctx, 15)
	require.NoError(t, err)
	require.Nil(t, tooClose)
	require.Equal(t, before, f.positions(t), "a rejected line break must not shift anything")

	farEnough, err := f.svc.InsertLinebreak(ctx, 16)
	require.NoError(t, err)
	require.NotNil(t, farEnough)
	f.assertLedgerInvariants(t)
}

func TestReorderMovesAndShifts(t *testing.T) {
	f := newLedger(t, Options{})
	ctx := context.Background()
	ids := make([]uuid.UUID, 0, 5)
	for i := 0; i < 5; i++ {
		ids = append(ids, f.write(t, fmt.Sprintf("w%d", i)).ID)
	}

	moved, err := f.svc.Reorder(ctx, ids[4], 2)
	require.NoError(t, err)
	require.EqualValues(t, 2, *moved.Position)
	positions := f.positions(t)
	require.EqualValues(t, 1, positions[ids[0]])
	require.EqualValues(t, 2, positions[ids[4]])
	require.EqualValues(t, 3, positions[ids[1]])
	require.EqualValues(t, 4, positions[ids[2]])
	require.EqualValues(t, 5, positions[ids[3]])

	_, err = f.svc.Reorder(ctx, ids[0], 99)
	require.NoError(t, err)
	positions = f.positions(t)
	require.EqualValues(t, 5, positions[ids[0]])
	require.EqualValues(t, 1, positions[ids[4]])
	require.EqualValues(t, 4, positions[ids[3]])
	f.assertLedgerInvariants(t)
}

func TestDeleteRemovesWordAndFlags(t *testing.T) {
	f := newLedger(t, Options{})
	ctx := context.Background()
	word := f.write(t, "bye")
	_, err := f.svc.Flag(ctx, word.ID, "fp")
	require.NoError(t, err)

	require.NoError(t, f.svc.Delete(ctx, word.ID))
	require.Zero(t, countRows(t, f.client, "words", ""))
	require.Zero(t, countRows(t, f.client, "word_flags", ""))
	require.EqualValues(t, 1, countRows(t, f.client, "outbox_events", "event_type = ?", enums.EventWordDeleted))

	err = f.svc.Delete(ctx, word.ID)
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))
}

func TestRemoveRestoreAndEdit(t *testing.T) {
	f := newLedger(t, Options{})
	ctx := context.Background()
	word := f.write(t, "draft")

	removed, err := f.svc.Remove(ctx, word.ID)
	require.NoError(t, err)
	require.Nil(t, removed.Content)

	edited, err := f.svc.Edit(ctx, word.ID, "final")
	require.NoError(t, err)
	require.Nil(t, edited.Content)
	require.Equal(t, 5, edited.ContentLength)

	restored, err := f.svc.Restore(ctx, word.ID)
	require.NoError(t, err)
	require.Equal(t, enums.WordStatusVisible, restored.Status)
	require.Equal(t, "final", *restored.Content)

	_, err = f.svc.Edit(ctx, word.ID, "not valid")
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
	f.assertLedgerInvariants(t)
}
