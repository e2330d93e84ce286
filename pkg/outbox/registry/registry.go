// Package registry maps stored outbox rows to their Pub/Sub topic and typed
// payload. Rows that can never decode are reported as permanent failures.
package registry

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/angelmondragon/storyline-backend/pkg/config"
	"github.com/angelmondragon/storyline-backend/pkg/db/models"
	"github.com/angelmondragon/storyline-backend/pkg/enums"
	"github.com/angelmondragon/storyline-backend/pkg/outbox"
	"github.com/angelmondragon/storyline-backend/pkg/outbox/payloads"
)

// ErrPermanent marks failures that retrying cannot fix.
var ErrPermanent = errors.New("permanent outbox failure")

// Permanent tags err so the relay dead-letters the row instead of retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrPermanent, err)
}

func IsPermanent(err error) bool {
	return errors.Is(err, ErrPermanent)
}

// EventDescriptor routes one event type.
type EventDescriptor struct {
	EventType enums.OutboxEventType
	Topic     string
	decode    func([]byte) (any, error)
}

type ResolvedEvent struct {
	Descriptor EventDescriptor
	Envelope   outbox.PayloadEnvelope
	Payload    any
}

type EventRegistry struct {
	entries map[enums.OutboxEventType]EventDescriptor
}

var payloadValidator = validator.New()

func describe[T any](event enums.OutboxEventType, topic string) EventDescriptor {
	return EventDescriptor{
		EventType: event,
		Topic:     topic,
		decode: func(raw []byte) (any, error) {
			payload := new(T)
			if err := json.Unmarshal(raw, payload); err != nil {
				return nil, err
			}
			if err := payloadValidator.Struct(payload); err != nil {
				return nil, err
			}
			return payload, nil
		},
	}
}

// NewEventRegistry routes every story event to the configured topic.
func NewEventRegistry(cfg config.PubSubConfig) (*EventRegistry, error) {
	topic := cfg.StoryTopic
	if topic == "" {
		return nil, fmt.Errorf("story topic is required")
	}
	descriptors := []EventDescriptor{
		describe[payloads.WordPublishedEvent](enums.EventWordPublished, topic),
		describe[payloads.WordStatusChangedEvent](enums.EventWordStatusChanged, topic),
		describe[payloads.WordDeletedEvent](enums.EventWordDeleted, topic),
		describe[payloads.CheckoutCompletedEvent](enums.EventCheckoutCompleted, topic),
	}
	reg := &EventRegistry{entries: make(map[enums.OutboxEventType]EventDescriptor, len(descriptors))}
	for _, desc := range descriptors {
		reg.entries[desc.EventType] = desc
	}
	return reg, nil
}

// Resolve checks the row against its descriptor and decodes the payload.
// Every error it returns is permanent.
func (r *EventRegistry) Resolve(event models.OutboxEvent) (*ResolvedEvent, error) {
	desc, ok := r.entries[event.EventType]
	if !ok {
		return nil, Permanent(fmt.Errorf("unsupported event type %s", event.EventType))
	}
	if want := event.EventType.Aggregate(); event.AggregateType != want {
		return nil, Permanent(fmt.Errorf("aggregate mismatch: %s events belong to %s, row has %s", event.EventType, want, event.AggregateType))
	}
	if event.AggregateID == uuid.Nil {
		return nil, Permanent(errors.New("missing aggregate_id"))
	}

	envelope, err := outbox.DecodeEnvelope(event.Payload)
	if err != nil {
		return nil, Permanent(fmt.Errorf("%s: %w", event.EventType, err))
	}
	payload, err := desc.decode(envelope.Data)
	if err != nil {
		return nil, Permanent(fmt.Errorf("decode %s payload: %w", event.EventType, err))
	}
	return &ResolvedEvent{Descriptor: desc, Envelope: envelope, Payload: payload}, nil
}
