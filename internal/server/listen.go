package server

import (
	"bufio"
	"net/http"
	"strconv"

	"github.com/icestream/icestream/internal/icerr"
	"github.com/icestream/icestream/internal/stream"
)

// handleListener implements spec.md §4.5's eight-step listener contract.
func (s *Server) handleListener(w http.ResponseWriter, r *http.Request) {
	// Step 1: canonicalize; no matching mount is a 404. /admin/ and /api/
	// paths never get here: dispatch routes them to handleAdmin first.
	mount := canonicalizeMount(r.URL.Path)
	source, ok := s.registry.Get(mount)
	if !ok {
		icerr.WriteError(w, icerr.NotFound("no such mountpoint"))
		return
	}

	// Step 2: admission checks (global and per-mount listener caps).
	limits := s.cfg.EffectiveSourceLimits(mount)
	if s.registry.ListenerCount() >= s.cfg.Limits.Clients {
		icerr.WriteError(w, icerr.Admission("server listener limit reached"))
		return
	}
	if source.ClientCount() >= limits.Clients {
		icerr.WriteError(w, icerr.Admission("mountpoint listener limit reached"))
		return
	}

	// Step 3: in-band metadata opt-in.
	metadataEnabled := r.Header.Get("Icy-MetaData") == "1"

	props := source.Properties()

	// Step 4: response headers.
	w.Header().Set("Content-Type", props.ContentType)
	w.Header().Set("Connection", "Close")
	w.Header().Set("Cache-Control", "no-cache, no-store")
	w.Header().Set("Pragma", "no-cache")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("icy-name", props.Name)
	w.Header().Set("icy-description", props.Description)
	w.Header().Set("icy-genre", props.Genre)
	w.Header().Set("icy-url", props.URL)
	w.Header().Set("icy-pub", boolToIcy(props.Public))
	if props.Bitrate > 0 {
		w.Header().Set("icy-br", strconv.Itoa(props.Bitrate))
	}
	if metadataEnabled {
		w.Header().Set("icy-metaint", strconv.Itoa(s.cfg.Metaint))
	}
	w.WriteHeader(http.StatusOK)

	if r.Method == http.MethodHead {
		return
	}

	// Step 5: allocate a listener id and attach under the server write
	// guard, taking the burst buffer snapshot to replay (step 6) under the
	// same critical section.
	listener := stream.NewListener(mount, stream.ListenerProperties{
		UserAgent:       r.Header.Get("User-Agent"),
		MetadataEnabled: metadataEnabled,
	})
	burst, ok := s.registry.AttachListener(mount, listener)
	if !ok {
		icerr.WriteError(w, icerr.NotFound("mountpoint disappeared"))
		return
	}

	// The status line and headers above are still sitting in net/http's
	// response buffer. Hijack flushes them too, since WriteHeader has
	// already been called; flushing here just makes that explicit before
	// the raw connection is taken over.
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}

	hj, ok := w.(http.Hijacker)
	if !ok {
		return
	}
	conn, bufrw, err := hj.Hijack()
	if err != nil {
		s.log.Error("hijack failed", "error", err, "mount", mount)
		return
	}
	defer conn.Close()

	splicer := newMetaSplicer(s.cfg.Metaint, metadataEnabled)

	// Step 6: replay the burst buffer.
	if len(burst) > 0 {
		if !writeSpliced(bufrw, burst, listener, splicer, source) {
			teardownListener(s.registry, listener)
			return
		}
	}

	// Step 7: stream loop.
	ctx := r.Context()
	for {
		blob, ok := listener.Recv(ctx)
		if !ok {
			break
		}
		if len(blob) == 0 {
			// Kick sentinel, or the streamer closed with nothing queued.
			break
		}
		if !writeSpliced(bufrw, blob, listener, splicer, source) {
			break
		}
	}

	// Step 8: teardown.
	teardownListener(s.registry, listener)
}

func teardownListener(registry *stream.Registry, listener *stream.Listener) {
	listener.Close()
	registry.DetachListener(listener.ID, listener.Stats.BytesSent.Load())
}

func boolToIcy(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

// metaSplicer tracks the running byte count modulo metaint needed to
// splice in-band ICY metadata blocks at the correct boundary (spec.md
// §4.5's metadata splicer detail).
type metaSplicer struct {
	enabled bool
	metaint int
	sent    int
}

func newMetaSplicer(metaint int, enabled bool) *metaSplicer {
	return &metaSplicer{enabled: enabled, metaint: metaint}
}

// writeSpliced writes data to the hijacked connection, splicing in ICY
// metadata blocks every metaint bytes when enabled. AfterSend is charged
// with the original audio-byte count, the same count the broadcaster
// added to buffer_size — not the larger on-wire count including spliced
// metadata blocks. The listener's bytes_sent is advanced by the on-wire
// count after a successful write. Returns false on write error.
func writeSpliced(bufrw *bufio.ReadWriter, data []byte, listener *stream.Listener, sp *metaSplicer, source *stream.Source) bool {
	audioLen := len(data)
	defer listener.AfterSend(audioLen)

	if !sp.enabled {
		_, err := bufrw.Write(data)
		if err != nil || bufrw.Flush() != nil {
			return false
		}
		listener.Stats.BytesSent.Add(int64(audioLen))
		return true
	}

	bufPtr := stream.GetMetaBuffer()
	defer stream.PutMetaBuffer(bufPtr)
	out := *bufPtr

	for len(data) > 0 {
		toBoundary := sp.metaint - sp.sent
		if toBoundary > len(data) {
			toBoundary = len(data)
		}
		out = append(out, data[:toBoundary]...)
		data = data[toBoundary:]
		sp.sent += toBoundary

		if sp.sent == sp.metaint {
			_, vec := source.Metadata()
			out = append(out, vec...)
			sp.sent = 0
		}
	}
	*bufPtr = out

	_, err := bufrw.Write(out)
	if err != nil || bufrw.Flush() != nil {
		return false
	}
	listener.Stats.BytesSent.Add(int64(len(out)))
	return true
}
