package engine

import (
	"context"
	"log"

	"github.com/warp/dues-engine/ledger"
)

// =============================================================================
// NOTIFICATION DISPATCHER - Fire-and-forget
// =============================================================================
// Delivery mechanics (SMS, push) are out of scope; the engine only emits
// events. A failed dispatch is logged and dropped - it must never roll
// back a ledger mutation.

type EventKind string

const (
	EventDueGenerated      EventKind = "due_generated"
	EventPaymentRecorded   EventKind = "payment_recorded"
	EventPaymentReconciled EventKind = "payment_reconciled"
	EventPaymentReversed   EventKind = "payment_reversed"
	EventDueWaived         EventKind = "due_waived"
)

type Event struct {
	TenantID ledger.TenantID
	MemberID ledger.MemberID
	Kind     EventKind
	Subject  string // due or payment ID
}

type Notifier interface {
	Notify(ctx context.Context, ev Event) error
}

// NopNotifier drops all events.
type NopNotifier struct{}

func (NopNotifier) Notify(context.Context, Event) error { return nil }

// LogNotifier writes events to the process log. Useful in development and
// as a template for real dispatchers.
type LogNotifier struct{}

func (LogNotifier) Notify(_ context.Context, ev Event) error {
	log.Printf("[Notify] tenant=%s member=%s kind=%s subject=%s", ev.TenantID, ev.MemberID, ev.Kind, ev.Subject)
	return nil
}

// dispatch sends an event after a successful mutation, swallowing errors.
func (e *Engine) dispatch(ctx context.Context, ev Event) {
	if err := e.notifier.Notify(ctx, ev); err != nil {
		log.Printf("[Notify] dispatch failed (ignored): %v", err)
	}
}
