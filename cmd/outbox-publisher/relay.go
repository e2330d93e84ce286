package main

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strconv"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/storyline-backend/pkg/config"
	"github.com/angelmondragon/storyline-backend/pkg/db/models"
	"github.com/angelmondragon/storyline-backend/pkg/logger"
	"github.com/angelmondragon/storyline-backend/pkg/metrics"
	"github.com/angelmondragon/storyline-backend/pkg/outbox/registry"
)

const (
	defaultBatchSize      = 50
	defaultPollInterval   = 500 * time.Millisecond
	defaultPublishTimeout = 15 * time.Second
	defaultMaxAttempts    = 10
	maxIdleBackoff        = 10 * time.Second
	jitterWindow          = 250 * time.Millisecond
)

type delivery int

const (
	deliveryPublished delivery = iota
	deliveryRetry
	deliveryDeadLettered
)

func (d delivery) label() string {
	switch d {
	case deliveryPublished:
		return metrics.DeliveryPublished
	case deliveryRetry:
		return metrics.DeliveryRetry
	default:
		return metrics.DeliveryDeadLettered
	}
}

type txRunner interface {
	Ping(context.Context) error
	WithTx(context.Context, func(tx *gorm.DB) error) error
}

type topicSource interface {
	Ping(context.Context) error
	Publisher(name string) *gcppubsub.Publisher
}

type outboxRows interface {
	FetchUnpublishedForPublish(tx *gorm.DB, limit, maxAttempts int) ([]models.OutboxEvent, error)
	MarkPublishedTx(tx *gorm.DB, id uuid.UUID) error
	MarkFailedTx(tx *gorm.DB, id uuid.UUID, err error) error
	MarkTerminalTx(tx *gorm.DB, id uuid.UUID, err error, terminalAttempts int) error
}

type eventResolver interface {
	Resolve(models.OutboxEvent) (*registry.ResolvedEvent, error)
}

type topicPublisher interface {
	Publish(context.Context, *gcppubsub.Message) publishResult
	// ResumePublish unblocks an ordering key after a failed publish.
	ResumePublish(orderingKey string)
}

type publishResult interface {
	Get(context.Context) (string, error)
}

// RelayParams wires the outbox relay.
type RelayParams struct {
	Config   *config.Config
	Logger   *logger.Logger
	DB       txRunner
	PubSub   topicSource
	Rows     outboxRows
	Registry eventResolver
	Metrics  *metrics.OutboxMetrics
	// Publishers overrides the Pub/Sub publisher lookup; tests inject fakes here.
	Publishers func(topic string) topicPublisher
	Now        func() time.Time
}

// Relay drains outbox_events into the story topic. Each batch runs inside one
// transaction holding row locks, so replicas never publish the same row twice
// concurrently.
type Relay struct {
	logg         *logger.Logger
	db           txRunner
	pubsub       topicSource
	rows         outboxRows
	registry     eventResolver
	metrics      *metrics.OutboxMetrics
	publishers   func(topic string) topicPublisher
	now          func() time.Time
	batchSize    int
	maxAttempts  int
	pollInterval time.Duration
	ordered      bool
}

// NewRelay validates params and applies defaults.
func NewRelay(params RelayParams) (*Relay, error) {
	switch {
	case params.Config == nil:
		return nil, errors.New("config is required")
	case params.Logger == nil:
		return nil, errors.New("logger is required")
	case params.DB == nil:
		return nil, errors.New("database client is required")
	case params.PubSub == nil:
		return nil, errors.New("pubsub client is required")
	case params.Rows == nil:
		return nil, errors.New("outbox repository is required")
	case params.Registry == nil:
		return nil, errors.New("event registry is required")
	}

	cfg := params.Config.Outbox
	r := &Relay{
		logg:         params.Logger,
		db:           params.DB,
		pubsub:       params.PubSub,
		rows:         params.Rows,
		registry:     params.Registry,
		metrics:      params.Metrics,
		publishers:   params.Publishers,
		now:          params.Now,
		batchSize:    cfg.BatchSize,
		maxAttempts:  cfg.MaxAttempts,
		pollInterval: time.Duration(cfg.PollIntervalMS) * time.Millisecond,
		ordered:      cfg.OrderByAggregate,
	}
	if r.batchSize <= 0 {
		r.batchSize = defaultBatchSize
	}
	if r.maxAttempts <= 0 {
		r.maxAttempts = defaultMaxAttempts
	}
	if r.pollInterval <= 0 {
		r.pollInterval = defaultPollInterval
	}
	if r.now == nil {
		r.now = time.Now
	}
	if r.publishers == nil {
		r.publishers = r.gcpPublisher
	}
	return r, nil
}

func (r *Relay) gcpPublisher(topic string) topicPublisher {
	p := r.pubsub.Publisher(topic)
	if p == nil {
		return nil
	}
	return gcpTopic{p}
}

// Run relays until ctx is canceled. Empty polls and batch errors back off
// exponentially up to maxIdleBackoff; a full batch loops immediately.
func (r *Relay) Run(ctx context.Context) error {
	for name, ping := range map[string]func(context.Context) error{"database": r.db.Ping, "pubsub": r.pubsub.Ping} {
		if err := ping(ctx); err != nil {
			r.logg.Error(ctx, name+" ping failed", err)
			return fmt.Errorf("%s ping failed: %w", name, err)
		}
	}

	wait := r.pollInterval
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		n, err := r.RelayBatch(ctx)
		switch {
		case err != nil:
			r.logg.Error(ctx, "outbox relay batch failed", err)
			wait = min(wait*2, maxIdleBackoff)
		case n > 0:
			wait = r.pollInterval
			continue
		default:
			wait = r.pollInterval
		}

		timer := time.NewTimer(wait + rand.N(jitterWindow))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// RelayBatch publishes up to one batch of rows and returns how many were handled.
func (r *Relay) RelayBatch(ctx context.Context) (int, error) {
	handled := 0
	err := r.db.WithTx(ctx, func(tx *gorm.DB) error {
		events, err := r.rows.FetchUnpublishedForPublish(tx, r.batchSize, r.maxAttempts)
		if err != nil {
			return fmt.Errorf("fetch outbox batch: %w", err)
		}
		r.metrics.ObserveBatch(len(events))

		// A failed aggregate holds back its later rows so consumers see commit order.
		blocked := map[uuid.UUID]bool{}
		for _, event := range events {
			if r.ordered && blocked[event.AggregateID] {
				continue
			}
			outcome, err := r.deliver(ctx, tx, event)
			if err != nil {
				return err
			}
			if outcome == deliveryRetry {
				blocked[event.AggregateID] = true
			}
			handled++
		}
		return nil
	})
	return handled, err
}

func (r *Relay) deliver(ctx context.Context, tx *gorm.DB, event models.OutboxEvent) (delivery, error) {
	ctx = r.logg.WithFields(ctx, map[string]any{
		"outbox_id":     event.ID.String(),
		"event_type":    event.EventType,
		"aggregate_id":  event.AggregateID.String(),
		"attempt_count": event.AttemptCount,
	})

	resolved, err := r.registry.Resolve(event)
	if err != nil {
		return r.deadLetter(ctx, tx, event, err)
	}

	if err := r.publish(ctx, event, resolved); err != nil {
		next := event
		next.AttemptCount++
		if registry.IsPermanent(err) || next.DeadLettered(r.maxAttempts) {
			return r.deadLetter(ctx, tx, event, err)
		}
		r.logg.Warn(r.logg.WithField(ctx, "error", err.Error()), "outbox publish failed; will retry")
		if markErr := r.rows.MarkFailedTx(tx, event.ID, err); markErr != nil {
			return deliveryRetry, fmt.Errorf("mark failure %s: %w", event.ID, markErr)
		}
		r.metrics.ObserveDelivery(string(event.EventType), deliveryRetry.label(), 0)
		return deliveryRetry, nil
	}

	if err := r.rows.MarkPublishedTx(tx, event.ID); err != nil {
		return deliveryPublished, fmt.Errorf("mark published %s: %w", event.ID, err)
	}
	r.metrics.ObserveDelivery(string(event.EventType), deliveryPublished.label(), r.now().Sub(event.CreatedAt))
	r.logg.Info(ctx, "outbox event published")
	return deliveryPublished, nil
}

// deadLetter parks the row at maxAttempts so the fetch query skips it while it
// stays available for inspection until the retention job prunes it.
func (r *Relay) deadLetter(ctx context.Context, tx *gorm.DB, event models.OutboxEvent, cause error) (delivery, error) {
	r.logg.Warn(r.logg.WithField(ctx, "error", cause.Error()), "outbox event dead-lettered")
	if err := r.rows.MarkTerminalTx(tx, event.ID, cause, r.maxAttempts); err != nil {
		return deliveryDeadLettered, fmt.Errorf("mark terminal %s: %w", event.ID, err)
	}
	r.metrics.ObserveDelivery(string(event.EventType), deliveryDeadLettered.label(), 0)
	return deliveryDeadLettered, nil
}

func (r *Relay) publish(ctx context.Context, event models.OutboxEvent, resolved *registry.ResolvedEvent) error {
	topic := resolved.Descriptor.Topic
	pub := r.publishers(topic)
	if pub == nil {
		return registry.Permanent(fmt.Errorf("no publisher for topic %s", topic))
	}

	msg := storyMessage(event, resolved, r.ordered)
	publishCtx, cancel := context.WithTimeout(ctx, defaultPublishTimeout)
	defer cancel()

	result := pub.Publish(publishCtx, msg)
	if result == nil {
		return registry.Permanent(fmt.Errorf("publisher for %s returned no result", topic))
	}
	if _, err := result.Get(publishCtx); err != nil {
		if msg.OrderingKey != "" {
			pub.ResumePublish(msg.OrderingKey)
		}
		return err
	}
	return nil
}

// storyMessage carries the stored envelope verbatim; attributes let
// subscribers filter without decoding the body.
func storyMessage(event models.OutboxEvent, resolved *registry.ResolvedEvent, ordered bool) *gcppubsub.Message {
	attrs := map[string]string{
		"event_id":       resolved.Envelope.EventID,
		"event_type":     string(event.EventType),
		"aggregate_type": string(event.AggregateType),
		"aggregate_id":   event.AggregateID.String(),
		"schema_version": strconv.Itoa(resolved.Envelope.Version),
		"occurred_at":    resolved.Envelope.OccurredAt.UTC().Format(time.RFC3339Nano),
	}
	if actor := resolved.Envelope.Actor; actor != nil {
		attrs["actor"] = actor.Kind
	}
	msg := &gcppubsub.Message{Data: event.Payload, Attributes: attrs}
	if ordered {
		msg.OrderingKey = string(event.AggregateType) + ":" + event.AggregateID.String()
	}
	return msg
}

type gcpTopic struct {
	*gcppubsub.Publisher
}

func (t gcpTopic) Publish(ctx context.Context, msg *gcppubsub.Message) publishResult {
	return t.Publisher.Publish(ctx, msg)
}
