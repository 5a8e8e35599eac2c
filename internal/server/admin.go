package server

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/icestream/icestream/internal/icerr"
	"github.com/icestream/icestream/internal/stats"
	"github.com/icestream/icestream/internal/stream"
)

// handleAdmin dispatches the control-plane endpoints of spec.md §4.6:
// /admin/* requires the same Basic auth as ingestion; /api/* is open,
// read-only introspection.
func (s *Server) handleAdmin(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path

	if r.Method != http.MethodGet {
		icerr.WriteError(w, icerr.Method("method not allowed"))
		return
	}

	if strings.HasPrefix(path, "/admin/") {
		if !s.auth.Authenticate(r) {
			icerr.WriteError(w, icerr.Auth("authentication required"))
			return
		}
		switch strings.TrimPrefix(path, "/admin/") {
		case "metadata":
			s.adminMetadata(w, r)
		case "listclients":
			s.adminListClients(w, r)
		case "fallbacks":
			s.adminFallbacks(w, r)
		case "moveclients":
			s.adminMoveClients(w, r)
		case "killclient":
			s.adminKillClient(w, r)
		case "killsource":
			s.adminKillSource(w, r)
		case "listmounts":
			s.adminListMounts(w, r)
		default:
			icerr.WriteError(w, icerr.NotFound("unknown admin endpoint"))
		}
		return
	}

	switch strings.TrimPrefix(path, "/api/") {
	case "serverinfo":
		s.apiServerInfo(w, r)
	case "mountinfo":
		s.apiMountInfo(w, r)
	case "stats":
		s.apiStats(w, r)
	default:
		icerr.WriteError(w, icerr.NotFound("unknown api endpoint"))
	}
}

func (s *Server) resolveMount(w http.ResponseWriter, r *http.Request) (*stream.Source, string, bool) {
	mount := r.URL.Query().Get("mount")
	if mount == "" {
		icerr.WriteError(w, icerr.Protocol("mount query parameter required"))
		return nil, "", false
	}
	mount = canonicalizeMount(mount)
	source, ok := s.registry.Get(mount)
	if !ok {
		icerr.WriteError(w, icerr.NotFound("unknown mountpoint"))
		return nil, "", false
	}
	return source, mount, true
}

// adminMetadata implements updinfo-mode metadata pushes: ?mount=&song=
// or &title=&url=.
func (s *Server) adminMetadata(w http.ResponseWriter, r *http.Request) {
	source, _, ok := s.resolveMount(w, r)
	if !ok {
		return
	}
	if r.URL.Query().Get("mode") != "" && r.URL.Query().Get("mode") != "updinfo" {
		icerr.WriteError(w, icerr.Protocol("unsupported mode"))
		return
	}
	title := r.URL.Query().Get("song")
	if title == "" {
		title = r.URL.Query().Get("title")
	}
	url := r.URL.Query().Get("url")
	source.SetMetadata(title, url)
	writeJSON(w, map[string]string{"status": "ok"})
}

type clientView struct {
	ID              string `json:"id"`
	UserAgent       string `json:"user_agent"`
	MetadataEnabled bool   `json:"metadata_enabled"`
	BufferSize      int64  `json:"buffer_size"`
	BytesSent       int64  `json:"bytes_sent"`
	BytesSentHuman  string `json:"bytes_sent_human"`
	ConnectedFor    string `json:"connected_for"`
}

func clientViewOf(l *stream.Listener) clientView {
	bytesSent := l.Stats.BytesSent.Load()
	return clientView{
		ID:              l.ID.String(),
		UserAgent:       l.Properties.UserAgent,
		MetadataEnabled: l.Properties.MetadataEnabled,
		BufferSize:      l.BufferSize(),
		BytesSent:       bytesSent,
		BytesSentHuman:  stats.FormatBytes(bytesSent),
		ConnectedFor:    stats.FormatDuration(time.Since(l.Stats.StartTime)),
	}
}

func (s *Server) adminListClients(w http.ResponseWriter, r *http.Request) {
	source, mount, ok := s.resolveMount(w, r)
	if !ok {
		return
	}
	clients := source.Clients()
	out := make([]clientView, 0, len(clients))
	for _, l := range clients {
		out = append(out, clientViewOf(l))
	}
	writeJSON(w, map[string]any{"mount": mount, "clients": out})
}

func (s *Server) adminFallbacks(w http.ResponseWriter, r *http.Request) {
	source, mount, ok := s.resolveMount(w, r)
	if !ok {
		return
	}
	if fallback := r.URL.Query().Get("fallback"); r.URL.Query().Has("fallback") {
		source.SetFallback(fallback)
		writeJSON(w, map[string]string{"mount": mount, "fallback": fallback})
		return
	}
	writeJSON(w, map[string]string{"mount": mount, "fallback": source.Fallback()})
}

// adminMoveClients moves every listener attached to the "mount" query
// parameter's source over to "destination". Registry.MoveListener locks
// each source independently (adopt into the destination, then detach
// from the origin) rather than holding both at once, so a concurrent
// reverse move cannot deadlock against this one regardless of
// mountpoint ordering.
func (s *Server) adminMoveClients(w http.ResponseWriter, r *http.Request) {
	from := canonicalizeMount(r.URL.Query().Get("mount"))
	to := canonicalizeMount(r.URL.Query().Get("destination"))
	if from == "" || to == "" {
		icerr.WriteError(w, icerr.Protocol("mount and destination query parameters required"))
		return
	}
	fromSource, fromOK := s.registry.Get(from)
	_, toOK := s.registry.Get(to)
	if !fromOK || !toOK {
		icerr.WriteError(w, icerr.NotFound("unknown mountpoint"))
		return
	}

	moved := 0
	for _, l := range fromSource.Clients() {
		if s.registry.MoveListener(l, from, to) {
			moved++
		}
	}
	writeJSON(w, map[string]any{"moved": moved, "from": from, "to": to})
}

func (s *Server) adminKillClient(w http.ResponseWriter, r *http.Request) {
	source, mount, ok := s.resolveMount(w, r)
	if !ok {
		return
	}
	idStr := r.URL.Query().Get("id")
	id, err := uuid.Parse(idStr)
	if err != nil {
		icerr.WriteError(w, icerr.Protocol("invalid id"))
		return
	}
	killed := source.KillClient(id)
	writeJSON(w, map[string]any{"mount": mount, "id": idStr, "killed": killed})
}

func (s *Server) adminKillSource(w http.ResponseWriter, r *http.Request) {
	source, mount, ok := s.resolveMount(w, r)
	if !ok {
		return
	}
	source.RequestDisconnect()
	writeJSON(w, map[string]string{"mount": mount, "status": "disconnecting"})
}

type mountView struct {
	Mountpoint string               `json:"mountpoint"`
	Fallback   string               `json:"fallback"`
	IsRelay    bool                 `json:"is_relay"`
	Properties stream.SourceProperties `json:"properties"`
	Listeners  int                  `json:"listeners"`
	ClientIDs  []string             `json:"client_ids"`
	StartTime  time.Time            `json:"start_time"`
	BytesRead  int64                `json:"bytes_read"`
}

func mountViewOf(source *stream.Source) mountView {
	clients := source.Clients()
	ids := make([]string, 0, len(clients))
	for _, l := range clients {
		ids = append(ids, l.ID.String())
	}
	return mountView{
		Mountpoint: source.Mountpoint,
		Fallback:   source.Fallback(),
		IsRelay:    source.IsRelay,
		Properties: source.Properties(),
		Listeners:  len(clients),
		ClientIDs:  ids,
		StartTime:  source.Stats.StartTime,
		BytesRead:  source.Stats.BytesRead.Load(),
	}
}

func (s *Server) adminListMounts(w http.ResponseWriter, r *http.Request) {
	mounts := s.registry.Mountpoints()
	out := make([]mountView, 0, len(mounts))
	for _, m := range mounts {
		if source, ok := s.registry.Get(m); ok {
			out = append(out, mountViewOf(source))
		}
	}
	writeJSON(w, map[string]any{"mounts": out})
}

func (s *Server) apiServerInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{
		"server_id":       s.cfg.ServerID,
		"admin":           s.cfg.Admin,
		"host":            s.cfg.Host,
		"location":        s.cfg.Location,
		"description":     s.cfg.Description,
		"source_count":    s.registry.SourceCount(),
		"relay_count":     s.registry.RelayCount(),
		"listener_count":  s.registry.ListenerCount(),
		"start_time":      s.registry.Stats.StartTime,
		"peak_listeners":  s.registry.Stats.PeakListeners.Load(),
		"mounts":          s.registry.Mountpoints(),
	})
}

func (s *Server) apiMountInfo(w http.ResponseWriter, r *http.Request) {
	source, _, ok := s.resolveMount(w, r)
	if !ok {
		return
	}
	writeJSON(w, mountViewOf(source))
}

func (s *Server) apiStats(w http.ResponseWriter, r *http.Request) {
	bytesSent := s.registry.Stats.SessionBytesSent.Load()
	bytesRead := s.registry.Stats.SessionBytesRead.Load()
	writeJSON(w, map[string]any{
		"start_time":               s.registry.Stats.StartTime,
		"uptime":                   stats.FormatDuration(time.Since(s.registry.Stats.StartTime)),
		"peak_listeners":           s.registry.Stats.PeakListeners.Load(),
		"session_bytes_sent":       bytesSent,
		"session_bytes_sent_human": stats.FormatBytes(bytesSent),
		"session_bytes_read":       bytesRead,
		"session_bytes_read_human": stats.FormatBytes(bytesRead),
		"listener_count":           s.registry.ListenerCount(),
		"source_count":             s.registry.SourceCount(),
		"relay_count":              s.registry.RelayCount(),
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	enc.Encode(v)
}
