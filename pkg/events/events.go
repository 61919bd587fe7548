// Package events defines the messages that are sent to Kafka.
package events

import (
	"context"
	"time"

	"docqa-go/internal/model"
)

// Status values of a finished chat request.
const (
	StatusDone    = "done"
	StatusErrored = "errored"
	StatusAborted = "aborted"
)

// QueryEvent summarises one chat request once it has terminated.
// It deliberately carries no question or answer text.
type QueryEvent struct {
	RequestID     string    `json:"request_id"`
	Intent        string    `json:"intent"`
	Keywords      string    `json:"keywords,omitempty"`
	Model         string    `json:"model"`
	HitCount      int       `json:"hit_count"`
	ChunkCount    int       `json:"chunk_count"`
	Status        string    `json:"status"`
	ErrorCategory string    `json:"error_category,omitempty"`
	DurationMs    int64     `json:"duration_ms"`
	FinishedAt    time.Time `json:"finished_at"`
}

// Audit converts the event into its database row.
func (e QueryEvent) Audit() *model.QueryAudit {
	return &model.QueryAudit{
		RequestID:     e.RequestID,
		Intent:        e.Intent,
		Keywords:      truncate(e.Keywords, 512),
		Model:         e.Model,
		HitCount:      e.HitCount,
		ChunkCount:    e.ChunkCount,
		Status:        e.Status,
		ErrorCategory: e.ErrorCategory,
		DurationMs:    e.DurationMs,
		CreatedAt:     e.FinishedAt,
	}
}

// Sink receives query events. Publish must not block the caller for long.
type Sink interface {
	Publish(ctx context.Context, e QueryEvent) error
}

// NopSink discards every event.
type NopSink struct{}

func (NopSink) Publish(context.Context, QueryEvent) error { return nil }

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

// SinkFunc adapts a function to Sink, e.g. to persist events in-process when no broker is configured.
type SinkFunc func(ctx context.Context, e QueryEvent) error

func (f SinkFunc) Publish(ctx context.Context, e QueryEvent) error { return f(ctx, e) }
