// Package stream implements the broadcast core: sources, listeners, the
// fan-out broadcaster, and the server-wide registry that owns them.
package stream

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// listenerEntry is the global, properties-only record spec.md §3 calls
// "listener-id → listener-properties": enough to enumerate every
// listener in the process without reaching into its source.
type listenerEntry struct {
	Mountpoint string
	Properties ListenerProperties
}

// ServerStats are the aggregate counters spec.md §3 names for the
// server: start_time, peak_listeners, session_bytes_sent,
// session_bytes_read.
type ServerStats struct {
	StartTime        time.Time
	PeakListeners    atomic.Int64
	SessionBytesSent atomic.Int64
	SessionBytesRead atomic.Int64
}

// Registry is the process-wide singleton of spec.md §3: the mountpoint
// -> Source map, the listener-id -> properties map, the source/relay
// counters, and aggregate stats. All membership changes (attach/detach a
// listener, register/remove a source) happen under mu — the "server
// write guard"; introspection that only reads takes mu.RLock — the
// "server read guard".
type Registry struct {
	mu        sync.RWMutex
	sources   map[string]*Source
	listeners map[uuid.UUID]listenerEntry

	sourceCount atomic.Int64
	relayCount  atomic.Int64

	Stats ServerStats
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		sources:   make(map[string]*Source),
		listeners: make(map[uuid.UUID]listenerEntry),
		Stats:     ServerStats{StartTime: time.Now()},
	}
}

// SourceCount returns the number of locally-ingested (non-relay) sources.
func (r *Registry) SourceCount() int64 { return r.sourceCount.Load() }

// RelayCount returns the number of relay-pulled sources.
func (r *Registry) RelayCount() int64 { return r.relayCount.Load() }

// TotalSources returns source_count + relay_count.
func (r *Registry) TotalSources() int64 { return r.sourceCount.Load() + r.relayCount.Load() }

// Get returns the Source at mountpoint, if any.
func (r *Registry) Get(mountpoint string) (*Source, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sources[mountpoint]
	return s, ok
}

// Has reports whether mountpoint is currently registered.
func (r *Registry) Has(mountpoint string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.sources[mountpoint]
	return ok
}

// Mountpoints returns a snapshot of all registered mountpoints.
func (r *Registry) Mountpoints() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.sources))
	for m := range r.sources {
		out = append(out, m)
	}
	return out
}

// Register inserts a newly-ingested source into the mountpoint map and
// increments source_count (isRelay: relay_count instead). It is the
// caller's responsibility to have already checked admission limits
// (spec.md §4.4 step 4 / §4.7 step 2).
func (r *Registry) Register(s *Source, isRelay bool) {
	r.mu.Lock()
	r.sources[s.Mountpoint] = s
	if isRelay {
		r.relayCount.Add(1)
	} else {
		r.sourceCount.Add(1)
	}
	r.mu.Unlock()
}

// Remove removes a source from the mountpoint map, decrements the
// appropriate counter, and folds bytesRead into session_bytes_read
// (spec.md §4.4 step 8's final teardown actions, performed "under the
// server write guard").
func (r *Registry) Remove(mountpoint string, isRelay bool, bytesRead int64) {
	r.mu.Lock()
	delete(r.sources, mountpoint)
	if isRelay {
		r.relayCount.Add(-1)
	} else {
		r.sourceCount.Add(-1)
	}
	r.Stats.SessionBytesRead.Add(bytesRead)
	r.mu.Unlock()
}

// AttachListener performs the combined server+source registration of
// spec.md §3's Ownership section: the listener is inserted into both
// server.clients and source.clients "together under the server write
// guard". Returns the burst buffer to replay and false if the mount no
// longer exists (source torn down concurrently).
func (r *Registry) AttachListener(mountpoint string, l *Listener) (burst []byte, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	source, exists := r.sources[mountpoint]
	if !exists {
		return nil, false
	}

	r.listeners[l.ID] = listenerEntry{Mountpoint: mountpoint, Properties: l.Properties}
	burst = source.AttachListener(l)

	if n := int64(len(r.listeners)); n > r.Stats.PeakListeners.Load() {
		r.Stats.PeakListeners.Store(n)
	}
	return burst, true
}

// DetachListener removes a listener from the server's global map and (if
// still present there — the broadcaster may already have evicted it)
// from its source's client map, folding its bytes_sent into
// session_bytes_sent. Spec.md §4.5 step 8.
func (r *Registry) DetachListener(id uuid.UUID, bytesSent int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, existed := r.listeners[id]
	delete(r.listeners, id)
	r.Stats.SessionBytesSent.Add(bytesSent)

	if !existed {
		return
	}
	if source, ok := r.sources[entry.Mountpoint]; ok {
		source.DetachListener(id)
	}
}

// ListenerCount returns the total number of listeners across all
// mounts.
func (r *Registry) ListenerCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.listeners)
}

// MoveListener migrates a listener from one source to another, updating
// its source back-reference, per the admin moveclients endpoint (§4.6)
// and fallback handover (§4.4 step 8). The destination adopts the
// listener before the origin detaches it, and each source's guard is
// acquired independently rather than both at once, so a concurrent
// reverse move cannot deadlock against this one. The move is therefore
// not atomic: a chunk broadcast on either source between the two steps
// can reach the listener from both.
func (r *Registry) MoveListener(l *Listener, fromMount, toMount string) bool {
	r.mu.RLock()
	from, fromOK := r.sources[fromMount]
	to, ok := r.sources[toMount]
	r.mu.RUnlock()
	if !ok {
		return false
	}

	l.SetSource(toMount)
	to.AdoptListener(l)
	if fromOK {
		from.DetachListener(l.ID)
	}

	r.mu.Lock()
	if entry, exists := r.listeners[l.ID]; exists {
		entry.Mountpoint = toMount
		r.listeners[l.ID] = entry
	}
	r.mu.Unlock()
	return true
}

// FallbackHandover moves every listener attached to a dying source into
// its live fallback, per spec.md §4.4 step 8. Returns the number of
// listeners moved.
func (r *Registry) FallbackHandover(dying *Source) int {
	fallback := dying.Fallback()
	if fallback == "" {
		return 0
	}
	to, ok := r.Get(fallback)
	if !ok {
		return 0
	}

	victims := dying.DrainClients()
	for _, l := range victims {
		l.SetSource(fallback)
		to.AdoptListener(l)

		r.mu.Lock()
		if entry, exists := r.listeners[l.ID]; exists {
			entry.Mountpoint = fallback
			r.listeners[l.ID] = entry
		}
		r.mu.Unlock()
	}
	return len(victims)
}
