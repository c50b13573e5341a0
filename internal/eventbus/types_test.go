package eventbus_test

import (
	"encoding/json"
	"testing"
	"time"

	"browsergrid/internal/eventbus"
)

func TestEventDetailDecoding(t *testing.T) {
	t.Run("Ready", func(t *testing.T) {
		src := eventbus.Event{
			Type:      eventbus.EventSessionReady,
			SessionID: "s1",
			Detail:    eventbus.Ready{Address: "ws://10.0.0.5:9222", ContinuationToken: "resume-42"},
			Timestamp: time.Now(),
		}
		data, err := json.Marshal(src)
		if err != nil {
			t.Fatal(err)
		}

		var got eventbus.Event
		if err := json.Unmarshal(data, &got); err != nil {
			t.Fatal(err)
		}
		detail, ok := got.Detail.(eventbus.Ready)
		if !ok {
			t.Fatalf("Expected Ready detail, got %T", got.Detail)
		}
		if detail.Address != "ws://10.0.0.5:9222" || detail.ContinuationToken != "resume-42" {
			t.Errorf("Detail mismatch: %+v", detail)
		}
	})

	t.Run("Failed", func(t *testing.T) {
		data := []byte(`{"type":"session.failed","session_id":"s1","detail":{"reason":"container died"}}`)
		var got eventbus.Event
		if err := json.Unmarshal(data, &got); err != nil {
			t.Fatal(err)
		}
		if detail, ok := got.Detail.(eventbus.Failed); !ok || detail.Reason != "container died" {
			t.Errorf("Expected Failed detail, got %T %+v", got.Detail, got.Detail)
		}
	})

	t.Run("TerminatedHasNoPayload", func(t *testing.T) {
		data := []byte(`{"type":"session.terminated","session_id":"s1","detail":{}}`)
		var got eventbus.Event
		if err := json.Unmarshal(data, &got); err != nil {
			t.Fatal(err)
		}
		if _, ok := got.Detail.(eventbus.Terminated); !ok {
			t.Errorf("Expected Terminated detail, got %T", got.Detail)
		}
	})

	t.Run("MissingDetail", func(t *testing.T) {
		data := []byte(`{"type":"session.ready","session_id":"s1"}`)
		var got eventbus.Event
		if err := json.Unmarshal(data, &got); err != nil {
			t.Fatal(err)
		}
		if got.Detail != nil {
			t.Errorf("Expected nil detail, got %+v", got.Detail)
		}
	})

	t.Run("UnknownType", func(t *testing.T) {
		data := []byte(`{"type":"session.exploded","session_id":"s1","detail":{}}`)
		var got eventbus.Event
		if err := json.Unmarshal(data, &got); err == nil {
			t.Error("Expected error for unknown event type")
		}
	})
}

func TestSessionChannelKey(t *testing.T) {
	if got := eventbus.SessionChannelKey("s1"); got != "session:s1:events" {
		t.Errorf("Unexpected channel key: %s", got)
	}
}
