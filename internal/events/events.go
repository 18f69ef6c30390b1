// Package events publishes merge outcomes to Kafka.
package events

import (
	"context"
	"log/slog"
	"time"

	"example.com/pdf-fusion/pkg/kafka"
)

// Publisher is the subset of the Kafka producer the emitter uses.
type Publisher interface {
	Publish(ctx context.Context, event kafka.Event) error
}

// Event types.
const (
	TypeMergeCompleted = "merge.completed"
	TypeMergeFailed    = "merge.failed"
)

// SourceRef points at the source that failed a merge.
type SourceRef struct {
	Index    int    `json:"index"`
	Supplier string `json:"supplier"`
	URL      string `json:"url"`
}

// MergeEvent is the JSON payload of both event types.
type MergeEvent struct {
	Type       string     `json:"type"`
	RequestID  string     `json:"requestId"`
	Title      string     `json:"title"`
	Sources    int        `json:"sources"`
	Pages      int        `json:"pages,omitempty"`
	Bytes      int64      `json:"bytes,omitempty"`
	Filename   string     `json:"filename,omitempty"`
	Dropped    int        `json:"droppedChapters,omitempty"`
	Cached     bool       `json:"cached,omitempty"`
	Kind       string     `json:"kind,omitempty"`
	Error      string     `json:"error,omitempty"`
	Source     *SourceRef `json:"source,omitempty"`
	DurationMS int64      `json:"durationMs"`
	At         time.Time  `json:"at"`
}

// Emitter publishes merge events. A nil *Emitter drops everything.
type Emitter struct {
	pub     Publisher
	timeout time.Duration
	logger  *slog.Logger
}

// NewEmitter creates an Emitter.
func NewEmitter(pub Publisher) *Emitter {
	return &Emitter{
		pub:     pub,
		timeout: 5 * time.Second,
		logger:  slog.Default().With("component", "events"),
	}
}

// Emit publishes ev keyed by request id. It outlives the caller's
// cancellation and never fails the merge; errors are logged.
func (e *Emitter) Emit(ctx context.Context, ev MergeEvent) {
	if e == nil {
		return
	}
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.timeout)
	defer cancel()
	if err := e.pub.Publish(ctx, kafka.Event{Key: ev.RequestID, Value: ev}); err != nil {
		e.logger.Warn("merge event not published", "type", ev.Type, "request_id", ev.RequestID, "error", err)
	}
}
