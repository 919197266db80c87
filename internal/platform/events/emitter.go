// Package events publishes audit events to log output and, when configured,
// to a Pub/Sub topic.
package events

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type Emitter interface {
	Emit(ctx context.Context, event AuditEvent) error
}

// Stamp fills ID and OccurredAt when they are missing.
func Stamp(event AuditEvent) AuditEvent {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}
	return event
}

// LogEmitter writes events to a zerolog logger.
type LogEmitter struct {
	logger zerolog.Logger
}

func NewLogEmitter(logger zerolog.Logger) *LogEmitter {
	return &LogEmitter{logger: logger.With().Str("component", "audit").Logger()}
}

func (e *LogEmitter) Emit(_ context.Context, event AuditEvent) error {
	event = Stamp(event)
	ev := e.logger.Info().
		Str("event_id", event.ID).
		Str("type", event.Type).
		Str("subject", event.Subject).
		Time("occurred_at", event.OccurredAt)
	if event.Actor != "" {
		ev = ev.Str("actor", event.Actor)
	}
	if event.RequestID != "" {
		ev = ev.Str("request_id", event.RequestID)
	}
	if len(event.Attributes) > 0 {
		d := zerolog.Dict()
		for k, v := range event.Attributes {
			d = d.Str(k, v)
		}
		ev = ev.Dict("attributes", d)
	}
	ev.Msg("audit event")
	return nil
}

// MultiEmitter fans out to every emitter and joins their errors.
type MultiEmitter struct {
	emitters []Emitter
}

func NewMultiEmitter(emitters ...Emitter) *MultiEmitter {
	return &MultiEmitter{emitters: emitters}
}

func (m *MultiEmitter) Emit(ctx context.Context, event AuditEvent) error {
	event = Stamp(event)
	var errs []error
	for _, e := range m.emitters {
		if err := e.Emit(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Nop discards events.
type Nop struct{}

func (Nop) Emit(context.Context, AuditEvent) error { return nil }
