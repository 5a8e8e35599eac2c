package stream

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/icestream/icestream/internal/metadata"
)

// SourceProperties are the ingestion-time attributes spec.md §6 lists as
// recognized source headers: content type plus the advertised
// name/description/url/genre/bitrate/public/user-agent fields.
type SourceProperties struct {
	ContentType string
	Name        string
	Description string
	URL         string
	Genre       string
	Bitrate     int
	Public      bool
	UserAgent   string
}

// SourceStats tracks the lifetime counters spec.md §3 names for a Source.
type SourceStats struct {
	StartTime     time.Time
	BytesRead     atomic.Int64
	PeakListeners atomic.Int64
}

// Source is a live stream bound to a mountpoint: spec.md §3's Source.
// Its clients, metadata, burst buffer, fallback and disconnect flag are
// all guarded by a single per-source RWMutex (mu) — the "per-source
// guard" of spec.md §5. Keeping one guard for all of these (rather than
// splitting clients into its own lock, as spec.md §9 considers and
// rejects) is what lets the Broadcaster publish a chunk and update the
// burst buffer as one atomic step.
type Source struct {
	Mountpoint string
	IsRelay    bool

	mu          sync.RWMutex
	properties  SourceProperties
	metadata    metadata.Metadata
	metadataVec []byte
	burstBuffer []byte
	burstSize   int
	clients     map[uuid.UUID]*Listener
	fallback    string

	disconnectFlag atomic.Bool
	Stats          SourceStats
}

// NewSource creates a Source for mountpoint with the given burst buffer
// capacity (spec.md §3: "burst_buffer ... a bounded trailing window of
// most-recent stream bytes, ≤ configured burst size").
func NewSource(mountpoint string, props SourceProperties, burstSize int) *Source {
	return &Source{
		Mountpoint:  mountpoint,
		properties:  props,
		metadataVec: metadata.Encode("", ""),
		burstSize:   burstSize,
		clients:     make(map[uuid.UUID]*Listener),
		Stats:       SourceStats{StartTime: time.Now()},
	}
}

// Properties returns a copy of the source's current properties.
func (s *Source) Properties() SourceProperties {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.properties
}

// Metadata returns the current {title, url} and its pre-encoded form.
// metadataVec always equals the encoded form of metadata (spec.md §3
// invariant); callers needing a consistent snapshot for splicing must
// call this under read guard, matching spec.md §4.5's "snapshot under
// the source's read guard at the time of splicing".
func (s *Source) Metadata() (metadata.Metadata, []byte) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.metadata, s.metadataVec
}

// SetMetadata replaces the source's now-playing metadata and re-encodes
// metadata_vec, preserving the invariant that the two always agree.
// Used by the admin metadata endpoint (§4.6) and the relay demuxer
// (§4.7).
func (s *Source) SetMetadata(title, url string) {
	s.mu.Lock()
	s.metadata = metadata.Metadata{Title: title, URL: url}
	s.metadataVec = metadata.Encode(title, url)
	s.mu.Unlock()
}

// Fallback returns the mountpoint listeners are migrated to on teardown,
// or "" if none is set.
func (s *Source) Fallback() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.fallback
}

// SetFallback sets or clears (empty string) the fallback mountpoint.
func (s *Source) SetFallback(mount string) {
	s.mu.Lock()
	s.fallback = mount
	s.mu.Unlock()
}

// SetBitrateIfUnknown records a sniffed bitrate for sources whose
// ingestion headers didn't advertise one (spec.md §6 lists ice-bitrate
// as optional), so admin/API introspection still reports something
// useful. A no-op once a bitrate is already known.
func (s *Source) SetBitrateIfUnknown(kbps int) {
	s.mu.Lock()
	if s.properties.Bitrate == 0 {
		s.properties.Bitrate = kbps
	}
	s.mu.Unlock()
}

// RequestDisconnect sets the monotonic disconnect flag; once true it
// never reverts (spec.md §3).
func (s *Source) RequestDisconnect() {
	s.disconnectFlag.Store(true)
}

// Disconnecting reports whether teardown has been requested.
func (s *Source) Disconnecting() bool {
	return s.disconnectFlag.Load()
}

// burstBufferLocked returns a copy of the current trailing burst window,
// for replay to newly attached listeners (spec.md §4.5 step 6). Must be
// called under the same critical section that attaches the listener to
// avoid a gap/duplicate at the boundary; AttachListener below does this.
func (s *Source) burstBufferLocked() []byte {
	out := make([]byte, len(s.burstBuffer))
	copy(out, s.burstBuffer)
	return out
}

// ClientCount returns the number of attached listeners.
func (s *Source) ClientCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

// Clients returns a snapshot slice of attached listeners, for admin
// introspection (listclients, listmounts) and moveclients.
func (s *Source) Clients() []*Listener {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Listener, 0, len(s.clients))
	for _, l := range s.clients {
		out = append(out, l)
	}
	return out
}

// AttachListener adds l to the source's client set and returns the
// current burst buffer to replay, in one critical section so that the
// burst buffer cannot advance between the two (spec.md §4.3's
// "Rationale for holding the write guard"). Updates peak_listeners.
func (s *Source) AttachListener(l *Listener) []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clients[l.ID] = l
	if n := int64(len(s.clients)); n > s.Stats.PeakListeners.Load() {
		s.Stats.PeakListeners.Store(n)
	}
	return s.burstBufferLocked()
}

// DetachListener removes l from the source's client set, if present.
func (s *Source) DetachListener(id uuid.UUID) {
	s.mu.Lock()
	delete(s.clients, id)
	s.mu.Unlock()
}

// KillClient sends the kick sentinel to the named listener, if attached,
// per the admin killclient endpoint (§4.6). Returns false if no such
// listener is attached to this source.
func (s *Source) KillClient(id uuid.UUID) bool {
	s.mu.Lock()
	l, ok := s.clients[id]
	if ok {
		delete(s.clients, id)
	}
	s.mu.Unlock()
	if ok {
		l.kick()
	}
	return ok
}

// KillAll sends the kick sentinel to every attached listener and clears
// the client set, used by ingestion teardown when there is no live
// fallback (§4.4 step 8).
func (s *Source) KillAll() {
	s.mu.Lock()
	victims := make([]*Listener, 0, len(s.clients))
	for _, l := range s.clients {
		victims = append(victims, l)
	}
	s.clients = make(map[uuid.UUID]*Listener)
	s.mu.Unlock()
	for _, l := range victims {
		l.kick()
	}
}

// DrainClients removes and returns every attached listener without
// kicking them, for fallback handover (§4.4 step 8): the caller migrates
// each one into the fallback source instead of disconnecting it.
func (s *Source) DrainClients() []*Listener {
	s.mu.Lock()
	victims := make([]*Listener, 0, len(s.clients))
	for _, l := range s.clients {
		victims = append(victims, l)
	}
	s.clients = make(map[uuid.UUID]*Listener)
	s.mu.Unlock()
	return victims
}

// AdoptListener inserts an already-existing listener (migrated from a
// dying source) into this source's client set without replaying the
// burst buffer to it — it is already mid-stream. Used by fallback
// handover and moveclients.
func (s *Source) AdoptListener(l *Listener) {
	s.mu.Lock()
	s.clients[l.ID] = l
	if n := int64(len(s.clients)); n > s.Stats.PeakListeners.Load() {
		s.Stats.PeakListeners.Store(n)
	}
	s.mu.Unlock()
}
