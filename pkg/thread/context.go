package thread

import (
	"errors"
	"sync"

	"github.com/fluxorio/procmesh/pkg/core"
	"github.com/fluxorio/procmesh/pkg/mailbox"
	"github.com/fluxorio/procmesh/pkg/message"
	"github.com/fluxorio/procmesh/pkg/observability/prometheus"
	"golang.org/x/sync/errgroup"
)

// ErrTidMissing is returned by OwnerTid when the context has no owner
// (e.g. it was created by NewRoot, not Spawn).
var ErrTidMissing = errors.New("thread: owner id not set")

// ErrOwnerTerminated is the error Process surfaces when an
// OwnerTerminated signal reaches a handler that doesn't explicitly
// consume it (per spec.md §7, "thrown ... after the handler has had a
// chance to intercept").
var ErrOwnerTerminated = errors.New("thread: owner terminated")

// ErrLinkTerminated is the equivalent for an unconsumed LinkTerminated
// signal.
var ErrLinkTerminated = errors.New("thread: linked peer terminated")

var logger = core.NewDefaultLogger()

// directory maps a live thread's textual ID to its Context, so that
// owner/link bookkeeping (which only ever deals in IDs, per spec.md's
// "weak links vs ownership" design note) can resolve a peer's mailbox to
// deliver a LinkDead notice. It is deliberately separate from the named
// registry (pkg/registry): this is bookkeeping internal to the
// thread/mailbox substrate, not the user-facing name lookup.
var directory = struct {
	mu sync.RWMutex
	m  map[string]*Context
}{m: make(map[string]*Context)}

func directoryLookup(id ID) (*Context, bool) {
	directory.mu.RLock()
	defer directory.mu.RUnlock()
	c, ok := directory.m[id.String()]
	return c, ok
}

func directoryPut(c *Context) {
	directory.mu.Lock()
	directory.m[c.id.String()] = c
	directory.mu.Unlock()
}

func directoryRemove(id ID) {
	directory.mu.Lock()
	delete(directory.m, id.String())
	directory.mu.Unlock()
}

// IsLive reports whether id still refers to a thread whose mailbox has
// neither closed nor fully deregistered. An id that Cleanup already ran
// to completion for (removed from the directory) and an id that never
// existed are indistinguishable here and both report false, which is the
// distinction pkg/registry needs: a closed-mailbox id should never
// accept a fresh registration (spec.md §4.4).
func IsLive(id ID) bool {
	c, ok := directoryLookup(id)
	if !ok {
		return false
	}
	return !c.mbox.IsClosed()
}

// cleanupHooks run after a Context's mailbox closes and its peers have
// been notified, letting other packages (pkg/registry) react to thread
// termination without this package importing them back (which would
// cycle, since pkg/registry already imports pkg/thread for the ID type).
var cleanupHooksMu sync.Mutex
var cleanupHooks []func(ID)

// RegisterCleanupHook adds fn to the set of callbacks invoked, in
// registration order, whenever a Context's Cleanup runs.
func RegisterCleanupHook(fn func(ID)) {
	cleanupHooksMu.Lock()
	cleanupHooks = append(cleanupHooks, fn)
	cleanupHooksMu.Unlock()
}

// Context is the per-thread singleton spec.md §3 calls ThreadContext:
// own identity, optional owner, and the set of linked peers to notify
// on termination.
type Context struct {
	id ID

	mu    sync.Mutex
	owner *ID
	links map[ID]struct{}

	mbox mailbox.Mailbox
}

// NewRoot creates a Context with no owner, for a top-level goroutine
// (e.g. a test's main goroutine, or the process's entrypoint) that was
// not itself produced by Spawn.
func NewRoot() *Context {
	c := &Context{
		id:    newID(),
		links: make(map[ID]struct{}),
		mbox:  mailbox.New(),
	}
	directoryPut(c)
	return c
}

// ID returns this thread's own identity (spec.md's this_tid()).
func (c *Context) ID() ID { return c.id }

// Mailbox returns the mailbox owned by this thread.
func (c *Context) Mailbox() mailbox.Mailbox { return c.mbox }

// OwnerTid returns the owner's ID, or ErrTidMissing if none is set.
func (c *Context) OwnerTid() (ID, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.owner == nil {
		return ID{}, ErrTidMissing
	}
	return *c.owner, nil
}

// Links returns a snapshot of the current linked-peer set.
func (c *Context) Links() []ID {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]ID, 0, len(c.links))
	for id := range c.links {
		out = append(out, id)
	}
	return out
}

// addLink records peer as a linked dependent of c, per spec.md §4.3
// ("In the caller's context, record child in links").
func (c *Context) addLink(peer ID) {
	c.mu.Lock()
	c.links[peer] = struct{}{}
	c.mu.Unlock()
}

// Process performs one processing step on this thread's mailbox,
// interleaving control-message interpretation (spec.md §4.1's control
// rules) ahead of handler, and returns false if there was nothing to
// process. err is non-nil only when an OwnerTerminated/LinkTerminated
// signal reached handler and handler did not explicitly consume it by
// returning a Success response — spec.md §7's "thrown ... after the
// handler has had a chance to intercept", rendered as a Go error since
// this substrate never panics on in-band failures.
func (c *Context) Process(handler mailbox.Handler) (processed bool, err error) {
	processed = mailbox.ProcessWith(c.mbox, func(req message.Message) (message.Message, bool) {
		switch req.Kind {
		case message.LinkDead:
			err = c.handleLinkDead(req.Peer, handler)
			return message.Message{}, false

		case message.Shutdown:
			sig := message.NewSignalMessage(message.Signal{Kind: message.SignalShutdown, Peer: req.Peer})
			handler(sig)
			return message.Message{}, false

		default: // message.Standard
			return handler(req), true
		}
	})
	prometheus.GetMetrics().ObserveQueueDepth(c.id.String(), c.mbox.Len())
	return processed, err
}

// handleLinkDead applies spec.md §4.1's control-message rule for
// LinkDead(peer): if peer is a tracked link, drop it and, unless it was
// also the owner, deliver a synthesized LinkTerminated(peer). If peer
// was the owner, clear owner and deliver OwnerTerminated(peer) instead.
// A peer we weren't tracking at all (race with a prior unlink, or a
// stray notice) is silently ignored.
func (c *Context) handleLinkDead(peer string, handler mailbox.Handler) error {
	pid := ParseID(peer)

	c.mu.Lock()
	_, wasLink := c.links[pid]
	wasOwner := c.owner != nil && *c.owner == pid
	if wasLink {
		delete(c.links, pid)
	}
	if wasOwner {
		c.owner = nil
	}
	c.mu.Unlock()

	if !wasLink && !wasOwner {
		return nil
	}

	var sig message.Signal
	if wasOwner {
		sig = message.Signal{Kind: message.SignalOwnerTerminated, Peer: peer}
	} else {
		sig = message.Signal{Kind: message.SignalLinkTerminated, Peer: peer}
	}

	resp := handler(message.NewSignalMessage(sig))
	if resp.Resp != nil && resp.Resp.Status == message.Success {
		return nil // handler explicitly consumed the notice
	}
	if wasOwner {
		return ErrOwnerTerminated
	}
	return ErrLinkTerminated
}

// Cleanup runs when c's thread is terminating: close its own mailbox,
// best-effort notify every linked peer and the owner, then deregister
// from the directory and run any registered cleanup hooks (e.g. the
// named registry's deregistration).
func (c *Context) Cleanup() {
	c.mbox.Close()

	c.mu.Lock()
	peers := make([]ID, 0, len(c.links)+1)
	for id := range c.links {
		peers = append(peers, id)
	}
	if c.owner != nil {
		peers = append(peers, *c.owner)
	}
	c.mu.Unlock()

	// Fan the LinkDead notice out concurrently: no peer's slow or
	// already-dead mailbox should delay notifying the others.
	var g errgroup.Group
	for _, peer := range peers {
		peer := peer
		g.Go(func() error {
			notifyPeer(peer, c.id)
			return nil
		})
	}
	_ = g.Wait()

	directoryRemove(c.id)

	cleanupHooksMu.Lock()
	hooks := append([]func(ID){}, cleanupHooks...)
	cleanupHooksMu.Unlock()
	for _, hook := range hooks {
		hook(c.id)
	}
}

// notifyPeer posts a LinkDead(dead) notice to peer's mailbox,
// best-effort: a peer that no longer exists in the directory, or whose
// mailbox already closed, silently absorbs the failure (it's already
// gone, per spec.md §4.2's idempotence invariant).
func notifyPeer(peer, dead ID) {
	target, ok := directoryLookup(peer)
	if !ok {
		return
	}
	if err := target.mbox.Post(message.NewLinkDead(dead.String())); err != nil {
		logger.Debugf("thread: could not deliver LinkDead(%s) to %s: %v", dead, peer, err)
		return
	}
	prometheus.GetMetrics().LinkDeadTotal.Inc()
}
