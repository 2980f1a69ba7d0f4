package audit

import (
	"context"
	"encoding/json"
	"io"
	"maps"
	"sync"
	"time"
)

// EventType classifies a security-relevant action.
type EventType string

const (
	TypeAuthenticationSuccess     EventType = "authentication_success"
	TypeAuthenticationFailed      EventType = "authentication_failed"
	TypeRealmAuthenticationFailed EventType = "realm_authentication_failed"
	TypeAnonymousAccessDenied     EventType = "anonymous_access_denied"
	TypeAccessGranted             EventType = "access_granted"
	TypeAccessDenied              EventType = "access_denied"
	TypeTamperedRequest           EventType = "tampered_request"
	TypeConnectionGranted         EventType = "connection_granted"
	TypeConnectionDenied          EventType = "connection_denied"
	TypeRunAsGranted              EventType = "run_as_granted"
	TypeRunAsDenied               EventType = "run_as_denied"
	TypeSystemAccessGranted       EventType = "system_access_granted"
	TypeConfigChange              EventType = "config_change"
)

// Event is the canonical audit record. Once recorded it is treated as immutable.
type Event struct {
	ID            string         `json:"id"`
	Type          EventType      `json:"event_type"`
	Timestamp     time.Time      `json:"@timestamp"`
	Principal     string         `json:"principal,omitempty"`
	OriginAddress string         `json:"origin_address,omitempty"`
	Action        string         `json:"action,omitempty"`
	Layer         string         `json:"layer,omitempty"`
	Node          string         `json:"node_name,omitempty"`
	Details       map[string]any `json:"details,omitempty"`
}

// Clone returns a copy whose Details map is not shared with ev.
func (ev Event) Clone() Event {
	if ev.Details != nil {
		ev.Details = maps.Clone(ev.Details)
	}
	return ev
}

// Sink receives mirrored audit events.
type Sink interface {
	Emit(ctx context.Context, event Event)
}

// NoOpSink drops audit events.
type NoOpSink struct{}

func (NoOpSink) Emit(context.Context, Event) {}

// ChannelSink writes audit events into a buffered channel.
type ChannelSink struct {
	events chan Event
}

func NewChannelSink(buffer int) *ChannelSink {
	if buffer <= 0 {
		buffer = 1
	}
	return &ChannelSink{
		events: make(chan Event, buffer),
	}
}

func (s *ChannelSink) Emit(ctx context.Context, event Event) {
	select {
	case s.events <- event:
	case <-ctx.Done():
	}
}

func (s *ChannelSink) Events() <-chan Event {
	return s.events
}

// JSONWriterSink writes one JSON object per line, the logfile counterpart of
// the indexed output.
type JSONWriterSink struct {
	writer io.Writer
	mu     sync.Mutex
}

func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return &JSONWriterSink{
		writer: w,
	}
}

func (s *JSONWriterSink) Emit(_ context.Context, event Event) {
	if s == nil || s.writer == nil {
		return
	}
	data, err := json.Marshal(event)
	if err != nil {
		return
	}
	data = append(data, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()

	_, _ = s.writer.Write(data)
}
