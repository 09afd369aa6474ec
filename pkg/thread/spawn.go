package thread

import (
	"github.com/fluxorio/procmesh/pkg/core/failfast"
	"github.com/fluxorio/procmesh/pkg/mailbox"
)

// Spawn creates a new thread: a fresh Context owned by parent, launched
// as its own goroutine running fn. The child is immediately recorded in
// parent's links (spec.md §4.3, "record child in links"), so parent
// will receive LinkDead(child) when the child terminates. fn is
// responsible for calling child.Cleanup() before returning — Spawn
// itself does not defer it, since a thread that panics mid-flight
// should crash loudly rather than silently appear to have cleaned up.
//
// parent and fn are caller-side preconditions, not spec.md-defined
// failure modes (there is no "spawn with no owner" in the spec) — a nil
// value here is a programming error, so it fails fast instead of
// surfacing as an in-band Response.
func Spawn(parent *Context, fn func(self *Context)) *Context {
	failfast.NotNil(parent, "parent")
	failfast.NotNil(fn, "fn")

	child := &Context{
		id:    newID(),
		owner: &parent.id,
		links: make(map[ID]struct{}),
		mbox:  mailbox.New(),
	}
	directoryPut(child)
	parent.addLink(child.id)

	go fn(child)

	return child
}
