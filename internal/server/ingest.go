package server

import (
	"bufio"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/icestream/icestream/internal/icerr"
	"github.com/icestream/icestream/internal/stream"
	"github.com/icestream/icestream/internal/transfer"
)

// handleIngest implements spec.md §4.4's nine-step source ingestion
// contract for both the legacy SOURCE method and PUT.
func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	// Step 1: authenticate.
	if !s.auth.Authenticate(r) {
		icerr.WriteError(w, icerr.Auth("authentication required"))
		return
	}

	// Step 2: canonicalize and reject reserved mountpoints.
	mount := canonicalizeMount(r.URL.Path)
	if isReservedMount(mount) {
		icerr.WriteError(w, icerr.Admission("reserved mountpoint"))
		return
	}

	// Step 3: Content-Type is mandatory.
	contentType := r.Header.Get("Content-Type")
	if contentType == "" {
		icerr.WriteError(w, icerr.Admission("Content-Type is required"))
		return
	}

	// Step 4: admission checks.
	if s.registry.Has(mount) {
		icerr.WriteError(w, icerr.Admission("mountpoint already in use"))
		return
	}
	if s.registry.SourceCount() >= int64(s.cfg.Limits.Sources) {
		icerr.WriteError(w, icerr.Admission("source limit reached"))
		return
	}
	if s.registry.TotalSources() >= int64(s.cfg.Limits.TotalSources) {
		icerr.WriteError(w, icerr.Admission("total source limit reached"))
		return
	}

	// Step 5: transfer framing. PUT must announce Expect: 100-continue;
	// a PUT body is otherwise indistinguishable from a client that never
	// intends to stream (spec.md §6's documented divergence from plain
	// HTTP, where the header is optional).
	isPut := r.Method == http.MethodPut
	if isPut && !strings.EqualFold(r.Header.Get("Expect"), "100-continue") {
		icerr.WriteError(w, icerr.Protocol("PUT ingestion requires Expect: 100-continue"))
		return
	}
	decoder, err := transfer.NewDecoder(r.Header.Get("Transfer-Encoding"), r.Header.Get("Content-Length"))
	if err != nil {
		icerr.WriteError(w, err)
		return
	}

	hj, ok := w.(http.Hijacker)
	if !ok {
		icerr.WriteError(w, icerr.Internal("connection does not support hijacking"))
		return
	}
	conn, bufrw, err := hj.Hijack()
	if err != nil {
		s.log.Error("hijack failed", "error", err, "mount", mount)
		return
	}
	defer conn.Close()

	limits := s.cfg.EffectiveSourceLimits(mount)
	props := stream.SourceProperties{
		ContentType: contentType,
		Name:        firstHeader(r, "ice-name", "icy-name", "x-audiocast-name"),
		Description: firstHeader(r, "ice-description", "icy-description", "x-audiocast-description"),
		URL:         firstHeader(r, "ice-url", "icy-url", "x-audiocast-url"),
		Genre:       firstHeader(r, "ice-genre", "icy-genre", "x-audiocast-genre"),
		Bitrate:     atoiDefault(firstHeader(r, "ice-bitrate", "icy-bitrate", "icy-br", "x-audiocast-bitrate"), 0),
		Public:      firstHeader(r, "ice-public", "icy-pub", "x-audiocast-public", "icy-public") == "1",
		UserAgent:   r.Header.Get("User-Agent"),
	}
	source := stream.NewSource(mount, props, limits.BurstSize)

	if isPut {
		writeRawResponse(bufrw, "HTTP/1.0 100 Continue\r\n\r\n")
	} else {
		writeRawResponse(bufrw, "HTTP/1.0 200 OK\r\n\r\n")
	}

	// Step 6: register.
	s.registry.Register(source, false)

	log := s.log.With("mount", mount, "remote_addr", r.RemoteAddr)
	log.Info("source connected", "name", props.Name, "content_type", props.ContentType)

	bytesRead := s.feedSource(conn, bufrw, decoder, source, limits.SourceTimeout, limits.BurstSize)

	// Step 8: teardown. Migrate listeners to a live fallback if one is
	// configured, otherwise disconnect them outright.
	moved := s.registry.FallbackHandover(source)
	if moved == 0 {
		source.KillAll()
	}
	s.registry.Remove(mount, false, bytesRead)
	log.Info("source disconnected", "bytes_read", bytesRead, "listeners_moved", moved)

	// Step 9: PUT expects a final status line once the body ends; SOURCE
	// already received its 200 OK before streaming began.
	if isPut {
		writeRawResponse(bufrw, "HTTP/1.0 200 OK\r\n\r\n")
	}
}

// feedSource runs the read-decode-broadcast loop until the decoder
// finishes, the source is asked to disconnect, the per-read timeout
// expires, or the connection errors out. Returns the total decoded
// bytes read.
func (s *Server) feedSource(conn net.Conn, bufrw *bufio.ReadWriter, decoder transfer.Decoder, source *stream.Source, timeout time.Duration, burstSize int) int64 {
	bufPtr := stream.GetLargeBuffer()
	defer stream.PutLargeBuffer(bufPtr)
	raw := *bufPtr

	var total int64
	for {
		if source.Disconnecting() {
			return total
		}
		if timeout > 0 {
			conn.SetReadDeadline(time.Now().Add(timeout))
		}
		n, err := bufrw.Read(raw)
		if n > 0 {
			decoded, _, derr := decoder.Decode(nil, raw[:n])
			if derr != nil {
				return total
			}
			if len(decoded) > 0 {
				if total == 0 {
					source.SetBitrateIfUnknown(stream.SniffBitrateKbps(decoded))
				}
				stream.Broadcast(source, decoded, s.cfg.Limits.QueueSize, burstSize)
				source.Stats.BytesRead.Add(int64(len(decoded)))
				total += int64(len(decoded))
			}
		}
		if decoder.Finished() {
			return total
		}
		if err != nil {
			return total
		}
	}
}

func writeRawResponse(bufrw *bufio.ReadWriter, status string) {
	bufrw.WriteString(status)
	bufrw.Flush()
}

// firstHeader returns the value of the first header in names that is
// present, checking the ice-/icy-/x-audiocast- alias family a real
// Shoutcast-style source sends under (ices, BUTT, and others each favor
// a different prefix for the same property).
func firstHeader(r *http.Request, names ...string) string {
	for _, name := range names {
		if v := r.Header.Get(name); v != "" {
			return v
		}
	}
	return ""
}

func atoiDefault(s string, def int) int {
	n := 0
	if s == "" {
		return def
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return def
		}
		n = n*10 + int(c-'0')
	}
	return n
}
