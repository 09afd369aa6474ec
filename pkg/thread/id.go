// Package thread implements thread identity and lifecycle: ThreadId,
// ThreadContext (owner/links bookkeeping), Spawn, and the cleanup
// protocol that turns a terminating thread's death into LinkDead /
// OwnerTerminated notices for its dependents.
package thread

import "github.com/google/uuid"

// ID is an opaque handle identifying a mailbox, and hence a logical
// thread. Distinct threads always have distinct IDs; per spec.md §3, a
// terminated thread's textual form may later collide with a new ID and
// that is accepted (uuid collision is astronomically unlikely, but the
// spec doesn't require us to prevent it, only to not rely on it).
type ID struct {
	value string
}

// newID generates a fresh ID. Grounded on the teacher's
// generateDeploymentID/generateReplyAddress convention of a uuid-backed
// opaque handle.
func newID() ID {
	return ID{value: uuid.New().String()}
}

// String returns the stable textual form used as a map key and as the
// Request.Sender / Message.Peer wire representation.
func (id ID) String() string { return id.value }

// IsZero reports whether id is the zero value (never assigned).
func (id ID) IsZero() bool { return id.value == "" }

// ParseID wraps an already-known textual ID (e.g. one received inside a
// Request.Sender field) back into an ID value.
func ParseID(s string) ID { return ID{value: s} }
