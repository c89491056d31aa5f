package events

import (
	"encoding/json"
	"fmt"
)

// Inbound commands.
const (
	EventFetch      = "fetch"
	EventInvalid    = "invalid"
	EventValidate   = "validate"
	EventSettings   = "settings"
	EventConnect    = "connect"
	EventDisconnect = "disconnect"
)

// Outbound events. The settings reply reuses EventSettings.
const (
	EventAuthenticated = "authenticated"
	EventCombo         = "combo"
	EventNoCombos      = "no_combos"
	EventInvalidated   = "invalidated"
	EventErrors        = "errors"
)

// Envelope frames every message in both directions.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Settings are the operational parameters advertised to authorized peers.
type Settings struct {
	BatchSize int `json:"batch_size"`
	Workers   int `json:"workers_in_rest_api"`
}

// payload is the union of the fields any command may carry. Pointers tell a
// missing field apart from an empty one.
type payload struct {
	Auth     *string         `json:"auth"`
	Keyspace *string         `json:"keyspace"`
	Category *string         `json:"category"`
	UUID     *string         `json:"uuid"`
	ID       *string         `json:"id"`
	Acc      json.RawMessage `json:"acc"`
	Limit    int             `json:"limit"`
}

func decodePayload(raw json.RawMessage) (payload, error) {
	var p payload
	if len(raw) == 0 {
		return p, nil
	}
	if err := json.Unmarshal(raw, &p); err != nil {
		return payload{}, err
	}
	return p, nil
}

func (p payload) category() *string {
	if p.Keyspace != nil {
		return p.Keyspace
	}
	return p.Category
}

func (p payload) uuid() *string {
	if p.UUID != nil {
		return p.UUID
	}
	return p.ID
}

func newEnvelope(event string, data any) Envelope {
	raw, err := json.Marshal(data)
	if err != nil {
		return Envelope{Event: EventErrors, Data: json.RawMessage(`{"errors":["could not encode reply"]}`)}
	}
	return Envelope{Event: event, Data: raw}
}

func errorsEvent(msgs ...string) Envelope {
	return newEnvelope(EventErrors, map[string][]string{"errors": msgs})
}

func missingKey(key string) Envelope {
	return errorsEvent(fmt.Sprintf("Could not find key in key-value pair %q", key))
}
