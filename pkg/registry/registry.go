// Package registry implements the process-wide name -> ThreadId lookup
// table: Register, Unregister, and Locate. Modeled on the teacher's
// eventBus.consumers map[string][]*consumer (pkg/core/eventbus_impl.go),
// narrowed from "one address, many consumers" to "one name, at most one
// owner" per spec.md's registry invariant.
package registry

import (
	"errors"
	"sync"

	"github.com/fluxorio/procmesh/pkg/observability/prometheus"
	"github.com/fluxorio/procmesh/pkg/thread"
)

// ErrNameTaken is returned by Register when name already resolves to a
// different, still-live ThreadId.
var ErrNameTaken = errors.New("registry: name already registered")

// ErrNameNotFound is returned by Locate/Unregister for an unknown name.
var ErrNameNotFound = errors.New("registry: name not registered")

// ErrInvalidName is returned by Register for an empty name. This is
// ordinary caller input, not a programming error, so spec.md §4.4 models
// it the same way as ErrNameTaken — an in-band register -> false, never
// a panic.
var ErrInvalidName = errors.New("registry: name must not be empty")

// ErrThreadTerminated is returned by Register when id's mailbox has
// already closed (or id was never a live thread at all), per spec.md
// §4.4: "fail if name is already present or tid's mailbox is closed."
var ErrThreadTerminated = errors.New("registry: thread already terminated")

type registry struct {
	mu     sync.RWMutex
	byName map[string]thread.ID
	byTid  map[thread.ID][]string
}

var global = newRegistry()

func newRegistry() *registry {
	return &registry{
		byName: make(map[string]thread.ID),
		byTid:  make(map[thread.ID][]string),
	}
}

func init() {
	// Wire thread termination into deregistration without pkg/thread
	// importing pkg/registry back (see thread.RegisterCleanupHook's doc).
	thread.RegisterCleanupHook(UnregisterAll)
}

// reportSize publishes the current name count. Called after every
// mutation, outside whatever lock the caller was holding.
func reportSize() {
	global.mu.RLock()
	n := len(global.byName)
	global.mu.RUnlock()
	prometheus.GetMetrics().SetRegistryNames(n)
}

// Register associates name with id. Re-registering the same (name, id)
// pair is idempotent; registering an already-taken name under a
// different id fails with ErrNameTaken, per spec.md's registry
// invariant ("a name resolves to at most one live ThreadId"); an empty
// name fails with ErrInvalidName, and a name registered against a
// thread whose mailbox already closed fails with ErrThreadTerminated.
func Register(name string, id thread.ID) error {
	if name == "" {
		return ErrInvalidName
	}
	if !thread.IsLive(id) {
		return ErrThreadTerminated
	}

	global.mu.Lock()

	if existing, ok := global.byName[name]; ok {
		global.mu.Unlock()
		if existing == id {
			return nil
		}
		return ErrNameTaken
	}
	global.byName[name] = id
	global.byTid[id] = append(global.byTid[id], name)
	global.mu.Unlock()
	reportSize()
	return nil
}

// Unregister removes name, regardless of which id it pointed to.
func Unregister(name string) error {
	global.mu.Lock()
	id, ok := global.byName[name]
	if !ok {
		global.mu.Unlock()
		return ErrNameNotFound
	}
	delete(global.byName, name)
	removeName(global, id, name)
	global.mu.Unlock()
	reportSize()
	return nil
}

// UnregisterAll removes every name currently pointing at id. It is
// idempotent and safe to call for an id that was never registered
// (both hold for spec.md's cleanup protocol, since not every
// terminating thread had a name at all).
func UnregisterAll(id thread.ID) {
	global.mu.Lock()
	for _, name := range global.byTid[id] {
		delete(global.byName, name)
	}
	delete(global.byTid, id)
	global.mu.Unlock()
	reportSize()
}

// Locate resolves name to its current ThreadId.
func Locate(name string) (thread.ID, error) {
	global.mu.RLock()
	defer global.mu.RUnlock()

	id, ok := global.byName[name]
	if !ok {
		return thread.ID{}, ErrNameNotFound
	}
	return id, nil
}

// Names returns every name currently registered for id, in no
// particular order.
func Names(id thread.ID) []string {
	global.mu.RLock()
	defer global.mu.RUnlock()

	names := global.byTid[id]
	out := make([]string, len(names))
	copy(out, names)
	return out
}

func removeName(r *registry, id thread.ID, name string) {
	names := r.byTid[id]
	for i, n := range names {
		if n == name {
			r.byTid[id] = append(names[:i], names[i+1:]...)
			break
		}
	}
	if len(r.byTid[id]) == 0 {
		delete(r.byTid, id)
	}
}
