// Package mailbox implements the FIFO synchronization primitive the rest
// of procmesh is built on: a queue of pending senders, each suspended
// until the mailbox's owning thread drains and answers it.
package mailbox

import (
	"context"
	"errors"

	"github.com/fluxorio/procmesh/pkg/message"
)

// ErrClosed is returned by Post when the mailbox already closed. Submit
// on a closed mailbox does not return it: it answers with a Failed
// response whose Data is empty.
var ErrClosed = errors.New("mailbox: closed")

// Handler interprets one Standard message dequeued by Process and
// produces the Message to write back into the sender's result slot.
// Mailbox.Process hands Handler every dequeued message unchanged,
// LinkDead/Shutdown Kinds included; it is thread.Context.Process that
// interprets those control Kinds and translates them into a synthesized
// Standard message (message.Signal) before reaching its Handler.
type Handler func(req message.Message) message.Message

// Mailbox is the FIFO of pending senders owned 1:1 by a logical thread.
type Mailbox interface {
	// Submit enqueues msg and suspends the caller until the owning
	// thread's Process call answers it, or the mailbox is/becomes
	// closed. It never panics: failure is always an in-band Failed
	// response.
	Submit(ctx context.Context, msg message.Message) message.Message

	// Post enqueues msg without a result slot and returns immediately.
	// Used for control traffic (LinkDead fan-out, Shutdown signaling)
	// that must never block the sender waiting for an application
	// response — see spec.md §4.5 ("does not block the caller
	// indefinitely").
	Post(msg message.Message) error

	// Process performs one processing step: dequeue the head pending
	// send (if any), interpret it, and wake its sender. Returns false
	// if the mailbox was closed or empty.
	Process(handler Handler) bool

	// Close closes the mailbox: no further Submit/Post is admitted,
	// and every currently queued sender is drained and woken with a
	// Failed response (Submit) or simply dropped (Post).
	Close()

	// IsClosed reports whether Close has been called.
	IsClosed() bool

	// Len reports the number of pending sends currently queued, for
	// callers that want to observe backlog (e.g. metrics reporting).
	Len() int
}

// fiberKey marks a context as belonging to a caller running inside a
// cooperative fiber/task scheduler, per spec.md §5's single suspension
// point: such a caller yields instead of busy-polling. The scheduler
// itself is out of scope (spec.md §1) — WithFiber is the hook one would
// wire a real scheduler into.
type fiberKey struct{}

// WithFiber marks ctx as belonging to a fiber-scheduled caller, so a
// subsequent Submit suspends via channel receive instead of polling.
func WithFiber(ctx context.Context) context.Context {
	return context.WithValue(ctx, fiberKey{}, true)
}

func isFiber(ctx context.Context) bool {
	v, _ := ctx.Value(fiberKey{}).(bool)
	return v
}
