package mailbox

import (
	"context"
	"sync"

	"github.com/fluxorio/procmesh/pkg/message"
)

// pendingSend is a queued sender record: the submitted request, the
// result slot the processor writes into, and the wakeup handle. res and
// waiter are both nil for a Post-origin entry (control traffic with no
// caller waiting for a reply).
type pendingSend struct {
	req    message.Message
	res    *message.Message
	waiter waiter
}

// mailbox is the default Mailbox: a mutex-guarded, unbounded FIFO slice.
// Unbounded is deliberate — spec.md's Non-goals exclude back-pressure
// beyond the sender blocking in Submit, so there is no queue-full
// rejection path the way a bounded channel would have one.
type mailbox struct {
	mu     sync.Mutex
	closed bool
	queue  []*pendingSend
}

// New creates an open mailbox with an empty queue.
func New() Mailbox {
	return &mailbox{}
}

func (m *mailbox) Submit(ctx context.Context, msg message.Message) message.Message {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return message.FailedResponse("")
	}

	var w waiter
	if isFiber(ctx) {
		w = newFiberWaiter()
	} else {
		w = &pollWaiter{}
	}

	var res message.Message
	ps := &pendingSend{req: msg, res: &res, waiter: w}
	m.queue = append(m.queue, ps)
	m.mu.Unlock()

	// Suspension happens outside the lock: a fiber caller parks on a
	// channel receive, a plain-thread caller polls at ~1ms.
	w.wait()
	return res
}

func (m *mailbox) Post(msg message.Message) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	m.queue = append(m.queue, &pendingSend{req: msg})
	m.mu.Unlock()
	return nil
}

// ProcessFunc classifies and interprets one dequeued message, returning
// the Message to write back (if write is true) and whether a response
// should be written at all — control-only deliveries (LinkDead fan-out,
// translated OwnerTerminated/LinkTerminated/Shutdown signals) return
// write=false per spec.md §4.1.
type ProcessFunc func(req message.Message) (resp message.Message, write bool)

func (m *mailbox) Process(fn Handler) bool {
	return m.process(func(req message.Message) (message.Message, bool) {
		return fn(req), true
	})
}

// process is the shared implementation behind the exported Process and
// the richer ProcessFunc entry point pkg/thread uses to interleave
// control-message interpretation ahead of the application handler.
func (m *mailbox) process(fn ProcessFunc) bool {
	m.mu.Lock()
	if m.closed || len(m.queue) == 0 {
		m.mu.Unlock()
		return false
	}
	ps := m.queue[0]
	m.queue = m.queue[1:]
	m.mu.Unlock()

	// Handler invocation and wakeup happen outside the lock, per
	// spec.md §5, so user code never runs while holding the mailbox
	// mutex.
	resp, write := fn(ps.req)
	if write && ps.res != nil {
		*ps.res = resp
	}
	if ps.waiter != nil {
		ps.waiter.wake()
	}
	return true
}

// ProcessWith is the richer entry point used by pkg/thread: fn decides,
// per message Kind, whether to invoke the application handler and
// whether the result is written back to a waiting sender.
func ProcessWith(m Mailbox, fn ProcessFunc) bool {
	impl, ok := m.(*mailbox)
	if !ok {
		// Fall back to the exported Handler contract for any other
		// Mailbox implementation (e.g. a test double).
		return m.Process(func(req message.Message) message.Message {
			resp, _ := fn(req)
			return resp
		})
	}
	return impl.process(fn)
}

func (m *mailbox) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	drained := m.queue
	m.queue = nil
	m.mu.Unlock()

	for _, ps := range drained {
		if ps.res != nil {
			*ps.res = message.FailedResponse("")
		}
		if ps.waiter != nil {
			ps.waiter.wake()
		}
	}
}

func (m *mailbox) IsClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

func (m *mailbox) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queue)
}
