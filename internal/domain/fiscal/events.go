package fiscal

import (
	"context"
	"time"
)

// StatusEvent is published after every persisted status change.
type StatusEvent struct {
	ID           string    `json:"id"`
	Status       Status    `json:"status"`
	LastError    string    `json:"last_error,omitempty"`
	FiscalNumber int64     `json:"fiscal_number,omitempty"`
	At           time.Time `json:"at"`
}

// EventFromEntry builds the event for e's current state.
func EventFromEntry(e *Entry) StatusEvent {
	return StatusEvent{
		ID:           e.ID,
		Status:       e.Status,
		LastError:    e.LastError,
		FiscalNumber: e.FiscalNumber,
		At:           e.UpdatedAt,
	}
}

// Notifier receives status events. Implementations must not block.
type Notifier interface {
	Notify(ctx context.Context, ev StatusEvent)
}

// NopNotifier discards events.
type NopNotifier struct{}

// Notify implements Notifier.
func (NopNotifier) Notify(context.Context, StatusEvent) {}
