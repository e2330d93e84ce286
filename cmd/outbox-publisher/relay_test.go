package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"gorm.io/gorm"

	"github.com/angelmondragon/storyline-backend/pkg/config"
	"github.com/angelmondragon/storyline-backend/pkg/db/models"
	"github.com/angelmondragon/storyline-backend/pkg/enums"
	"github.com/angelmondragon/storyline-backend/pkg/logger"
	"github.com/angelmondragon/storyline-backend/pkg/metrics"
	"github.com/angelmondragon/storyline-backend/pkg/outbox"
	"github.com/angelmondragon/storyline-backend/pkg/outbox/payloads"
	"github.com/angelmondragon/storyline-backend/pkg/outbox/registry"
)

func TestRelayBatchRetriesFailureAndPublishesOthers(t *testing.T) {
	first := wordEvent(t, uuid.New(), 0)
	second := wordEvent(t, uuid.New(), 0)
	rows := &fakeRows{events: []models.OutboxEvent{first, second}}
	pub := &fakeTopic{errs: []error{errors.New("transient"), nil}}
	reg := prometheus.NewRegistry()
	relay := newTestRelay(t, rows, pub, &fakeResolver{}, config.OutboxConfig{MaxAttempts: 5}, metrics.NewOutboxMetrics(reg))

	handled, err := relay.RelayBatch(context.Background())
	if err != nil {
		t.Fatalf("relay batch: %v", err)
	}
	if handled != 2 {
		t.Fatalf("expected 2 handled rows, got %d", handled)
	}
	if len(rows.failed) != 1 || rows.failed[0] != first.ID {
		t.Fatalf("expected first row marked failed, got %v", rows.failed)
	}
	if len(rows.published) != 1 || rows.published[0] != second.ID {
		t.Fatalf("expected second row published, got %v", rows.published)
	}
	if n, err := testutil.GatherAndCount(reg, "storyline_outbox_deliveries_total"); err != nil || n != 2 {
		t.Fatalf("expected retry and published series, got %d (%v)", n, err)
	}
}

func TestRelayBatchHoldsBackAggregateAfterFailure(t *testing.T) {
	wordID := uuid.New()
	first := wordEvent(t, wordID, 0)
	second := wordEvent(t, wordID, 0)
	rows := &fakeRows{events: []models.OutboxEvent{first, second}}
	pub := &fakeTopic{errs: []error{errors.New("transient")}}
	relay := newTestRelay(t, rows, pub, &fakeResolver{}, config.OutboxConfig{MaxAttempts: 5, OrderByAggregate: true}, nil)

	handled, err := relay.RelayBatch(context.Background())
	if err != nil {
		t.Fatalf("relay batch: %v", err)
	}
	if handled != 1 || len(pub.sent) != 1 {
		t.Fatalf("expected only the first row attempted, handled=%d sent=%d", handled, len(pub.sent))
	}
	if len(rows.published) != 0 {
		t.Fatalf("later row of the same word must wait, published %v", rows.published)
	}
	if len(pub.resumed) != 1 || pub.resumed[0] != "word:"+wordID.String() {
		t.Fatalf("expected ordering key resumed, got %v", pub.resumed)
	}
}

func TestRelayBatchDeadLettersUnresolvableRows(t *testing.T) {
	event := wordEvent(t, uuid.New(), 0)
	rows := &fakeRows{events: []models.OutboxEvent{event}}
	resolver := &fakeResolver{err: registry.Permanent(errors.New("invalid payload"))}
	relay := newTestRelay(t, rows, &fakeTopic{}, resolver, config.OutboxConfig{MaxAttempts: 5}, nil)

	if _, err := relay.RelayBatch(context.Background()); err != nil {
		t.Fatalf("relay batch: %v", err)
	}
	if len(rows.terminal) != 1 || rows.terminal[0] != event.ID {
		t.Fatalf("expected row dead-lettered, got %v", rows.terminal)
	}
	if rows.terminalAttempts != 5 {
		t.Fatalf("expected terminal attempts 5, got %d", rows.terminalAttempts)
	}
}

func TestRelayBatchDeadLettersOnLastAttempt(t *testing.T) {
	event := wordEvent(t, uuid.New(), 1)
	rows := &fakeRows{events: []models.OutboxEvent{event}}
	pub := &fakeTopic{errs: []error{errors.New("transient")}}
	relay := newTestRelay(t, rows, pub, &fakeResolver{}, config.OutboxConfig{MaxAttempts: 2}, nil)

	if _, err := relay.RelayBatch(context.Background()); err != nil {
		t.Fatalf("relay batch: %v", err)
	}
	if len(rows.terminal) != 1 || rows.terminalAttempts != 2 {
		t.Fatalf("expected row parked at 2 attempts, got %v/%d", rows.terminal, rows.terminalAttempts)
	}
	if len(rows.failed) != 0 {
		t.Fatalf("dead-lettered rows are not marked failed")
	}
}

func TestRelayWithoutPublisherDeadLetters(t *testing.T) {
	event := wordEvent(t, uuid.New(), 0)
	rows := &fakeRows{events: []models.OutboxEvent{event}}
	relay := newTestRelay(t, rows, nil, &fakeResolver{}, config.OutboxConfig{MaxAttempts: 5}, nil)
	relay.publishers = func(string) topicPublisher { return nil }

	if _, err := relay.RelayBatch(context.Background()); err != nil {
		t.Fatalf("relay batch: %v", err)
	}
	if len(rows.terminal) != 1 {
		t.Fatalf("expected missing publisher to be permanent, got %v", rows.terminal)
	}
}

func TestStoryMessageAttributes(t *testing.T) {
	event := models.OutboxEvent{
		ID:            uuid.New(),
		EventType:     enums.EventCheckoutCompleted,
		AggregateType: enums.AggregateCheckout,
		AggregateID:   uuid.New(),
		Payload:       envelopePayload(t, "evt-1"),
	}
	occurred := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	resolved := &registry.ResolvedEvent{
		Envelope: outbox.PayloadEnvelope{
			Version:    1,
			EventID:    "evt-1",
			OccurredAt: occurred,
			Actor:      &outbox.Actor{Kind: outbox.ActorReconciliation},
		},
		Payload: &payloads.CheckoutCompletedEvent{},
	}

	msg := storyMessage(event, resolved, true)
	want := map[string]string{
		"event_id":       "evt-1",
		"event_type":     string(enums.EventCheckoutCompleted),
		"aggregate_type": string(enums.AggregateCheckout),
		"aggregate_id":   event.AggregateID.String(),
		"schema_version": "1",
		"occurred_at":    "2026-03-01T12:00:00Z",
		"actor":          outbox.ActorReconciliation,
	}
	for k, v := range want {
		if msg.Attributes[k] != v {
			t.Fatalf("attribute %s = %q, want %q", k, msg.Attributes[k], v)
		}
	}
	if msg.OrderingKey != "checkout:"+event.AggregateID.String() {
		t.Fatalf("unexpected ordering key %q", msg.OrderingKey)
	}
	if !bytes.Equal(msg.Data, event.Payload) {
		t.Fatal("message data should be the stored envelope")
	}
	if unordered := storyMessage(event, resolved, false); unordered.OrderingKey != "" {
		t.Fatalf("expected no ordering key, got %q", unordered.OrderingKey)
	}
}

func TestNewRelayRequiresCollaborators(t *testing.T) {
	if _, err := NewRelay(RelayParams{}); err == nil {
		t.Fatal("expected error without config")
	}
	relay, err := NewRelay(RelayParams{
		Config:   &config.Config{},
		Logger:   testLogger(),
		DB:       fakeDB{},
		PubSub:   fakeTopics{},
		Rows:     &fakeRows{},
		Registry: &fakeResolver{},
	})
	if err != nil {
		t.Fatalf("new relay: %v", err)
	}
	if relay.batchSize != defaultBatchSize || relay.maxAttempts != defaultMaxAttempts || relay.pollInterval != defaultPollInterval {
		t.Fatalf("defaults not applied: %d %d %v", relay.batchSize, relay.maxAttempts, relay.pollInterval)
	}
}

func newTestRelay(t *testing.T, rows outboxRows, pub topicPublisher, resolver eventResolver, cfg config.OutboxConfig, m *metrics.OutboxMetrics) *Relay {
	t.Helper()
	relay, err := NewRelay(RelayParams{
		Config:     &config.Config{Outbox: cfg},
		Logger:     testLogger(),
		DB:         fakeDB{},
		PubSub:     fakeTopics{},
		Rows:       rows,
		Registry:   resolver,
		Metrics:    m,
		Publishers: func(string) topicPublisher { return pub },
	})
	if err != nil {
		t.Fatalf("new relay: %v", err)
	}
	return relay
}

func testLogger() *logger.Logger {
	return logger.New(logger.Options{ServiceName: "outbox-publisher-test", Output: io.Discard})
}

func wordEvent(tb testing.TB, wordID uuid.UUID, attempts int) models.OutboxEvent {
	tb.Helper()
	return models.OutboxEvent{
		ID:            uuid.New(),
		EventType:     enums.EventWordPublished,
		AggregateType: enums.AggregateWord,
		AggregateID:   wordID,
		Payload:       envelopePayload(tb, uuid.NewString()),
		AttemptCount:  attempts,
		CreatedAt:     time.Now().Add(-time.Second),
	}
}

func envelopePayload(tb testing.TB, eventID string) json.RawMessage {
	tb.Helper()
	payload, err := json.Marshal(outbox.PayloadEnvelope{
		Version:    1,
		EventID:    eventID,
		OccurredAt: time.Now(),
		Data:       json.RawMessage(`{}`),
	})
	if err != nil {
		tb.Fatalf("marshal envelope: %v", err)
	}
	return payload
}

type fakeRows struct {
	events           []models.OutboxEvent
	published        []uuid.UUID
	failed           []uuid.UUID
	terminal         []uuid.UUID
	terminalAttempts int
}

func (f *fakeRows) FetchUnpublishedForPublish(*gorm.DB, int, int) ([]models.OutboxEvent, error) {
	return f.events, nil
}

func (f *fakeRows) MarkPublishedTx(_ *gorm.DB, id uuid.UUID) error {
	f.published = append(f.published, id)
	return nil
}

func (f *fakeRows) MarkFailedTx(_ *gorm.DB, id uuid.UUID, _ error) error {
	f.failed = append(f.failed, id)
	return nil
}

func (f *fakeRows) MarkTerminalTx(_ *gorm.DB, id uuid.UUID, _ error, attempts int) error {
	f.terminal = append(f.terminal, id)
	f.terminalAttempts = attempts
	return nil
}

type fakeDB struct{}

func (fakeDB) Ping(context.Context) error { return nil }

func (fakeDB) WithTx(_ context.Context, fn func(*gorm.DB) error) error { return fn(nil) }

type fakeTopics struct{}

func (fakeTopics) Ping(context.Context) error { return nil }

func (fakeTopics) Publisher(string) *gcppubsub.Publisher { return nil }

type fakeTopic struct {
	errs    []error
	sent    []*gcppubsub.Message
	resumed []string
}

func (f *fakeTopic) Publish(_ context.Context, msg *gcppubsub.Message) publishResult {
	f.sent = append(f.sent, msg)
	var err error
	if len(f.errs) > 0 {
		err, f.errs = f.errs[0], f.errs[1:]
	}
	return fakeResult{err: err}
}

func (f *fakeTopic) ResumePublish(key string) {
	f.resumed = append(f.resumed, key)
}

type fakeResult struct{ err error }

func (r fakeResult) Get(context.Context) (string, error) { return "server-id", r.err }

type fakeResolver struct{ err error }

func (f *fakeResolver) Resolve(event models.OutboxEvent) (*registry.ResolvedEvent, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &registry.ResolvedEvent{
		Descriptor: registry.EventDescriptor{EventType: event.EventType, Topic: "sl-story-events"},
		Envelope:   outbox.PayloadEnvelope{Version: 1, EventID: event.ID.String(), OccurredAt: time.Now()},
		Payload:    &payloads.WordPublishedEvent{},
	}, nil
}
