// Package streaming provides the live progress feed for audit runs.
// The engine publishes one event per completed stage transition; zero or
// more subscribers (CLI progress, MCP notifications) consume them. The
// feed is observability only — run correctness never depends on delivery.
package streaming

import "context"

// StageEvent is a real-time event emitted during an audit run.
type StageEvent struct {
	RunID     string `json:"run_id"`
	Stage     string `json:"stage"`
	Feature   string `json:"feature,omitempty"`
	EventType string `json:"event_type"`
	Payload   any    `json:"payload,omitempty"`
}

// EventFilter specifies which events a subscriber wants to receive.
type EventFilter struct {
	RunID      string   `json:"run_id,omitempty"`
	EventTypes []string `json:"event_types,omitempty"`
}

// EventHub provides pub/sub for real-time audit events.
type EventHub interface {
	Publish(ctx context.Context, event StageEvent) error
	Subscribe(ctx context.Context, filter EventFilter) (<-chan StageEvent, func(), error)
}
