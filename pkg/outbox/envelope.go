package outbox

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Actor kinds recorded on story events.
const (
	ActorReconciliation = "reconciliation"
	ActorModeration     = "moderation"
	ActorAdmin          = "admin"
	ActorSweeper        = "sweeper"
)

// Actor names the component that caused an event and, optionally, the
// operation or payment reference behind it.
type Actor struct {
	Kind string `json:"kind"`
	Ref  string `json:"ref,omitempty"`
}

// PayloadEnvelope wraps every payload stored in outbox_events. EventID equals
// the row id and is the consumer dedupe key.
type PayloadEnvelope struct {
	Version    int             `json:"version"`
	EventID    string          `json:"eventId"`
	OccurredAt time.Time       `json:"occurredAt"`
	Actor      *Actor          `json:"actor,omitempty"`
	Data       json.RawMessage `json:"data"`
}

var ErrEmptyPayload = errors.New("envelope has no data")

// DecodeEnvelope parses a stored payload, rejecting envelopes written by a
// newer schema or carrying no data.
func DecodeEnvelope(raw []byte) (PayloadEnvelope, error) {
	var env PayloadEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return PayloadEnvelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	if env.Version < 1 || env.Version > envelopeVersion {
		return PayloadEnvelope{}, fmt.Errorf("unsupported envelope version %d", env.Version)
	}
	data := bytes.TrimSpace(env.Data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return PayloadEnvelope{}, ErrEmptyPayload
	}
	env.Data = data
	return env, nil
}
