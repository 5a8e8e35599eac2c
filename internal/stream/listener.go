package stream

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// ListenerProperties are the client-supplied attributes spec.md §3 names
// for a Listener: user-agent and whether in-band metadata was requested.
type ListenerProperties struct {
	UserAgent       string
	MetadataEnabled bool
}

// ListenerStats tracks the lifetime counters spec.md §3 names for a
// Listener.
type ListenerStats struct {
	StartTime time.Time
	BytesSent atomic.Int64
}

// Listener is one connected consumer of a Source's stream: a bounded
// (by byte volume, not message count) queue of shared blob references
// plus the bookkeeping the listener handler (internal/server) needs to
// drain it. The queue, buffer_size and stats are guarded by the
// "per-listener guard" of spec.md §5; here that guard is Listener.mu.
type Listener struct {
	ID         uuid.UUID
	Properties ListenerProperties
	Stats      ListenerStats

	mu     sync.Mutex
	source string // mountpoint back-reference; read and written under mu
	queue  [][]byte
	closed bool
	notify chan struct{}

	bufferSize atomic.Int64
}

// NewListener creates a Listener attached (by back-reference only) to
// mountpoint, with the given client-supplied properties.
func NewListener(mountpoint string, props ListenerProperties) *Listener {
	id, err := uuid.NewRandom()
	if err != nil {
		// uuid.NewRandom only fails if the system RNG is broken; try once
		// more via uuid.New, which panics if the RNG fails again.
		id = uuid.New()
	}
	return &Listener{
		ID:         id,
		Properties: props,
		Stats:      ListenerStats{StartTime: time.Now()},
		source:     mountpoint,
		notify:     make(chan struct{}, 1),
	}
}

// Source returns the listener's current mountpoint back-reference.
func (l *Listener) Source() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.source
}

// SetSource updates the mountpoint back-reference under the listener's
// own guard. Registry.MoveListener (admin moveclients) and
// Registry.FallbackHandover call it without holding the registry lock.
func (l *Listener) SetSource(mountpoint string) {
	l.mu.Lock()
	l.source = mountpoint
	l.mu.Unlock()
}

// BufferSize returns the bytes currently enqueued but not yet sent.
func (l *Listener) BufferSize() int64 {
	return l.bufferSize.Load()
}

// tryEnqueue attempts to push chunk onto the queue, subject to the
// queue_size cap evaluated by the broadcaster (spec.md §4.3 step 2). It
// is the broadcaster's job to decide whether to call this; tryEnqueue
// itself only fails if the queue has already been closed out from under
// it (a listener tearing down concurrently with a broadcast).
func (l *Listener) tryEnqueue(chunk []byte) bool {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return false
	}
	l.queue = append(l.queue, chunk)
	l.mu.Unlock()
	l.bufferSize.Add(int64(len(chunk)))
	l.wake()
	return true
}

// kick appends the empty-blob sentinel spec.md §4.3/§4.5 defines as "you
// were kicked": the listener handler observes a zero-length blob and
// disconnects. Safe to call multiple times or after Close.
func (l *Listener) kick() {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.queue = append(l.queue, []byte{})
	l.mu.Unlock()
	l.wake()
}

func (l *Listener) wake() {
	select {
	case l.notify <- struct{}{}:
	default:
	}
}

// Recv blocks until a blob is available or ctx is done, returning the
// blob and true, or nil and false once the queue is closed and drained.
// A zero-length, non-nil blob is the kick sentinel; the caller (listener
// handler) must treat it as "disconnect now", not as zero bytes to
// write.
func (l *Listener) Recv(ctx context.Context) ([]byte, bool) {
	for {
		l.mu.Lock()
		if len(l.queue) > 0 {
			blob := l.queue[0]
			l.queue = l.queue[1:]
			l.mu.Unlock()
			return blob, true
		}
		if l.closed {
			l.mu.Unlock()
			return nil, false
		}
		l.mu.Unlock()

		select {
		case <-l.notify:
		case <-ctx.Done():
			return nil, false
		}
	}
}

// AfterSend decrements buffer_size by n bytes once the listener handler
// has successfully written a blob of that length to the socket (spec.md
// §4.3: "The broadcaster does NOT decrement buffer_size on send; the
// listener handler does so after each successful socket write").
func (l *Listener) AfterSend(n int) {
	l.bufferSize.Add(-int64(n))
}

// Close closes the receive side of the queue; subsequent Recv calls
// return immediately once drained. Teardown step of spec.md §4.5.
func (l *Listener) Close() {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.closed = true
	l.mu.Unlock()
	l.wake()
}
