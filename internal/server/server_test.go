package server

import (
	"bufio"
	"encoding/base64"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/icestream/icestream/internal/auth"
	"github.com/icestream/icestream/internal/config"
	"github.com/icestream/icestream/internal/logging"
	"github.com/icestream/icestream/internal/stream"
)

// newTestServer builds a Server with a small, fast-failing config and
// wraps its dispatcher in an httptest.Server, which (unlike
// httptest.NewRecorder) backs responses with a real net.Conn and so
// supports http.Hijacker the way the ingestion/listener handlers
// require.
func newTestServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()
	cfg := config.Default()
	cfg.Users = []config.User{{Username: "source", Password: "hackme"}}
	cfg.Limits.HeaderTimeout = 2 * time.Second
	cfg.Limits.SourceTimeout = 2 * time.Second

	a, err := auth.NewAuthenticator(cfg)
	if err != nil {
		t.Fatalf("NewAuthenticator: %v", err)
	}
	registry := stream.NewRegistry()
	srv := New(cfg, registry, a, logging.New(true))

	ts := httptest.NewServer(http.HandlerFunc(srv.dispatch))
	t.Cleanup(ts.Close)
	return srv, ts
}

func dial(t *testing.T, addr string) (net.Conn, *bufio.Reader) {
	t.Helper()
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("dial %s: %v", addr, err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn, bufio.NewReader(conn)
}

// sourceAddr strips the "http://" scheme httptest.Server.URL carries, to
// hand a bare host:port to net.Dial.
func sourceAddr(ts *httptest.Server) string {
	return ts.Listener.Addr().String()
}

func readStatusLine(t *testing.T, r *bufio.Reader) string {
	t.Helper()
	line, err := r.ReadString('\n')
	if err != nil {
		t.Fatalf("read status line: %v", err)
	}
	return line
}

func basicAuthHeader(user, pass string) string {
	return fmt.Sprintf("Authorization: Basic %s\r\n", basicAuthValue(user, pass))
}

func basicAuthValue(user, pass string) string {
	return base64.StdEncoding.EncodeToString([]byte(user + ":" + pass))
}
