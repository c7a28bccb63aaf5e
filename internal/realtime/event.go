// Package realtime delivers generation progress to connected clients over
// server-sent events and WebSocket rooms, optionally fanned out across API
// instances through Redis.
package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"visualbatch/internal/domain"
)

// EventType names one kind of progress event.
type EventType string

const (
	EventVisualProcessing   EventType = "visual_processing"
	EventVisualCompleted    EventType = "visual_completed"
	EventVisualFailed       EventType = "visual_failed"
	EventGenerationProgress EventType = "generation_progress"
	EventGenerationComplete EventType = "generation_complete"
)

// Event is the envelope carried by every transport. Data holds the payload
// exactly as SSE clients receive it.
type Event struct {
	GenerationID string          `json:"generation_id"`
	Type         EventType       `json:"type"`
	Data         json.RawMessage `json:"data"`
	At           time.Time       `json:"at"`
}

type VisualProcessing struct {
	Type  string `json:"type"`
	Index int    `json:"index"`
}

type VisualCompleted struct {
	Type        string        `json:"type"`
	Index       int           `json:"index"`
	ImageURL    string        `json:"image_url"`
	GeneratedAt *time.Time    `json:"generated_at"`
	Status      domain.Status `json:"status"`
}

type VisualFailed struct {
	Type  string `json:"type"`
	Index int    `json:"index"`
	Error string `json:"error"`
}

type GenerationProgress struct {
	ProgressPercent int     `json:"progress_percent"`
	Completed       int     `json:"completed"`
	Total           int     `json:"total"`
	ElapsedSeconds  float64 `json:"elapsed_seconds"`
}

type GenerationComplete struct {
	Status    domain.Status   `json:"status"`
	Completed int             `json:"completed"`
	Total     int             `json:"total"`
	Error     string          `json:"error,omitempty"`
	Visuals   []domain.Visual `json:"visuals"`
}

// NewEvent encodes payload into an event envelope.
func NewEvent(generationID string, typ EventType, payload any) (Event, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("realtime: encode %s: %w", typ, err)
	}
	return Event{GenerationID: generationID, Type: typ, Data: raw, At: time.Now().UTC()}, nil
}

// Emitter publishes events. Delivery is best effort: a slow or absent
// subscriber never blocks the publisher.
type Emitter interface {
	Emit(ctx context.Context, ev Event)
}

// EmitterFunc adapts a function into an Emitter.
type EmitterFunc func(ctx context.Context, ev Event)

func (f EmitterFunc) Emit(ctx context.Context, ev Event) { f(ctx, ev) }

// Discard drops every event.
var Discard Emitter = EmitterFunc(func(context.Context, Event) {})
