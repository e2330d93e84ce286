package enums

import "fmt"

// OutboxAggregateType maps to the aggregate_type column of outbox_events.
type OutboxAggregateType string

const (
	AggregateWord     OutboxAggregateType = "word"
	AggregateCheckout OutboxAggregateType = "checkout"
)

func (a OutboxAggregateType) IsValid() bool {
	return a == AggregateWord || a == AggregateCheckout
}

// OutboxEventType maps to the event_type column of outbox_events.
type OutboxEventType string

const (
	EventWordPublished     OutboxEventType = "word_published"
	EventWordStatusChanged OutboxEventType = "word_status_changed"
	EventWordDeleted       OutboxEventType = "word_deleted"
	EventCheckoutCompleted OutboxEventType = "checkout_completed"
)

// eventAggregates pins every event type to the aggregate it describes.
var eventAggregates = map[OutboxEventType]OutboxAggregateType{
	EventWordPublished:     AggregateWord,
	EventWordStatusChanged: AggregateWord,
	EventWordDeleted:       AggregateWord,
	EventCheckoutCompleted: AggregateCheckout,
}

func (e OutboxEventType) IsValid() bool {
	_, ok := eventAggregates[e]
	return ok
}

// Aggregate returns the aggregate type the event belongs to, or "" when the
// event type is unknown.
func (e OutboxEventType) Aggregate() OutboxAggregateType {
	return eventAggregates[e]
}

// ParseOutboxEventType converts raw input into OutboxEventType.
func ParseOutboxEventType(value string) (OutboxEventType, error) {
	e := OutboxEventType(value)
	if !e.IsValid() {
		return "", fmt.Errorf("invalid event type %q", value)
	}
	return e, nil
}
