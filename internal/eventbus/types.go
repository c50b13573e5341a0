package eventbus

import (
	"encoding/json"
	"fmt"
	"time"
)

type EventType string

const (
	EventProvisioningStarted EventType = "session.provisioning_started"
	EventAddressAssigned     EventType = "session.address_assigned"
	EventSessionReady        EventType = "session.ready"
	EventSessionFailed       EventType = "session.failed"
	EventSessionTimedOut     EventType = "session.timed_out"
	EventSessionTerminated   EventType = "session.terminated"
)

// Detail is the closed set of event payloads. Each event type carries
// exactly one detail variant, so consumers can switch exhaustively
// instead of digging through untyped maps.
type Detail interface {
	detail()
}

type ProvisioningStarted struct {
	ContainerID string `json:"container_id"`
}

type AddressAssigned struct {
	Address string `json:"address"`
}

type Ready struct {
	Address           string `json:"address"`
	ContinuationToken string `json:"continuation_token,omitempty"`
}

type TimedOut struct {
	Age   time.Duration `json:"age"`
	Limit time.Duration `json:"limit"`
}

type Failed struct {
	Reason string `json:"reason"`
}

type Terminated struct{}

func (ProvisioningStarted) detail() {}
func (AddressAssigned) detail()     {}
func (Ready) detail()               {}
func (TimedOut) detail()            {}
func (Failed) detail()              {}
func (Terminated) detail()          {}

type Event struct {
	Type      EventType `json:"type"`
	SessionID string    `json:"session_id"`
	Detail    Detail    `json:"detail,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

func (e *Event) UnmarshalJSON(data []byte) error {
	var raw struct {
		Type      EventType       `json:"type"`
		SessionID string          `json:"session_id"`
		Detail    json.RawMessage `json:"detail"`
		Timestamp time.Time       `json:"timestamp"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	e.Type = raw.Type
	e.SessionID = raw.SessionID
	e.Timestamp = raw.Timestamp
	e.Detail = nil

	if len(raw.Detail) == 0 || string(raw.Detail) == "null" {
		return nil
	}

	decode := func(v Detail) error {
		if err := json.Unmarshal(raw.Detail, v); err != nil {
			return fmt.Errorf("decode %s detail: %w", raw.Type, err)
		}
		return nil
	}

	switch raw.Type {
	case EventProvisioningStarted:
		d := &ProvisioningStarted{}
		if err := decode(d); err != nil {
			return err
		}
		e.Detail = *d
	case EventAddressAssigned:
		d := &AddressAssigned{}
		if err := decode(d); err != nil {
			return err
		}
		e.Detail = *d
	case EventSessionReady:
		d := &Ready{}
		if err := decode(d); err != nil {
			return err
		}
		e.Detail = *d
	case EventSessionTimedOut:
		d := &TimedOut{}
		if err := decode(d); err != nil {
			return err
		}
		e.Detail = *d
	case EventSessionFailed:
		d := &Failed{}
		if err := decode(d); err != nil {
			return err
		}
		e.Detail = *d
	case EventSessionTerminated:
		e.Detail = Terminated{}
	default:
		return fmt.Errorf("unknown event type: %s", raw.Type)
	}
	return nil
}

func SessionChannelKey(sessionID string) string {
	return "session:" + sessionID + ":events"
}
