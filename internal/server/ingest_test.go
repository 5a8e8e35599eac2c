package server

import (
	"bufio"
	"fmt"
	"strings"
	"testing"
	"time"
)

func TestIngestRequiresAuth(t *testing.T) {
	_, ts := newTestServer(t)
	conn, r := dial(t, sourceAddr(ts))

	fmt.Fprintf(conn, "SOURCE /radio HTTP/1.1\r\nHost: test\r\nContent-Type: audio/mpeg\r\n\r\n")
	status := readStatusLine(t, r)
	if !strings.Contains(status, "401") {
		t.Fatalf("expected 401, got %q", status)
	}
}

func TestIngestRejectsMissingContentType(t *testing.T) {
	_, ts := newTestServer(t)
	conn, r := dial(t, sourceAddr(ts))

	fmt.Fprintf(conn, "SOURCE /radio HTTP/1.1\r\nHost: test\r\n%s\r\n", basicAuthHeader("source", "hackme"))
	status := readStatusLine(t, r)
	if !strings.Contains(status, "403") {
		t.Fatalf("expected 403, got %q", status)
	}
}

// TestIngestRejectsReservedMountpoint exercises handleIngest's own
// isReservedMount check with a nested path. Paths under /admin/ and
// /api/ never reach handleIngest at all — the dispatcher routes those
// straight to handleAdmin — so this uses a path shape that actually
// arrives here.
func TestIngestRejectsReservedMountpoint(t *testing.T) {
	_, ts := newTestServer(t)
	conn, r := dial(t, sourceAddr(ts))

	fmt.Fprintf(conn, "SOURCE /foo/bar HTTP/1.1\r\nHost: test\r\n%sContent-Type: audio/mpeg\r\n\r\n", basicAuthHeader("source", "hackme"))
	status := readStatusLine(t, r)
	if !strings.Contains(status, "403") {
		t.Fatalf("expected 403, got %q", status)
	}
}

func TestIngestRejectsDuplicateMountpoint(t *testing.T) {
	_, ts := newTestServer(t)
	addr := sourceAddr(ts)

	sconn, sr := dial(t, addr)
	fmt.Fprintf(sconn, "SOURCE /radio HTTP/1.1\r\nHost: test\r\n%sContent-Type: audio/mpeg\r\n\r\n", basicAuthHeader("source", "hackme"))
	if status := readStatusLine(t, sr); !strings.Contains(status, "200") {
		t.Fatalf("expected first source to be admitted, got %q", status)
	}
	drainHeaders(t, sr)
	time.Sleep(50 * time.Millisecond)

	dconn, dr := dial(t, addr)
	fmt.Fprintf(dconn, "SOURCE /radio HTTP/1.1\r\nHost: test\r\n%sContent-Type: audio/mpeg\r\n\r\n", basicAuthHeader("source", "hackme"))
	status := readStatusLine(t, dr)
	if !strings.Contains(status, "403") {
		t.Fatalf("expected 403 for duplicate mountpoint, got %q", status)
	}
}

// drainHeaders reads lines off r until a blank line, the same way a real
// client would consume a status response before switching to raw framing.
func drainHeaders(t *testing.T, r *bufio.Reader) {
	t.Helper()
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			t.Fatalf("read header line: %v", err)
		}
		if line == "\r\n" {
			return
		}
	}
}

// TestIngestRecognizesIcyHeaderAliases covers a Shoutcast-style source
// client (ices, BUTT) that sends the icy- prefixed alias family instead
// of ice-name/ice-public/ice-bitrate.
func TestIngestRecognizesIcyHeaderAliases(t *testing.T) {
	srv, ts := newTestServer(t)
	addr := sourceAddr(ts)

	sconn, sr := dial(t, addr)
	fmt.Fprintf(sconn, "SOURCE /radio HTTP/1.1\r\nHost: test\r\n%sicy-name: Icy Radio\r\nicy-pub: 1\r\nicy-br: 128\r\nContent-Type: audio/mpeg\r\n\r\n", basicAuthHeader("source", "hackme"))
	if status := readStatusLine(t, sr); !strings.Contains(status, "200") {
		t.Fatalf("expected source 200, got %q", status)
	}
	drainHeaders(t, sr)
	defer sconn.Close()

	time.Sleep(50 * time.Millisecond)

	source, ok := srv.registry.Get("/radio")
	if !ok {
		t.Fatalf("expected /radio to be registered")
	}
	props := source.Properties()
	if props.Name != "Icy Radio" {
		t.Fatalf("expected icy-name alias to populate Name, got %q", props.Name)
	}
	if !props.Public {
		t.Fatalf("expected icy-pub alias to populate Public")
	}
	if props.Bitrate != 128 {
		t.Fatalf("expected icy-br alias to populate Bitrate, got %d", props.Bitrate)
	}
}

// TestIngestAndListenFlow drives a full source-connects, listener-attaches
// round trip over raw sockets: the ingestion handler hijacks the SOURCE
// connection and the listener handler hijacks the GET connection, so
// net/http's recorder-based test helpers can't exercise this path.
func TestIngestAndListenFlow(t *testing.T) {
	_, ts := newTestServer(t)
	addr := sourceAddr(ts)

	sconn, sr := dial(t, addr)
	fmt.Fprintf(sconn, "SOURCE /radio HTTP/1.1\r\nHost: test\r\n%sice-name: Test Radio\r\nContent-Type: audio/mpeg\r\n\r\n", basicAuthHeader("source", "hackme"))
	if status := readStatusLine(t, sr); !strings.Contains(status, "200") {
		t.Fatalf("expected source 200, got %q", status)
	}
	drainHeaders(t, sr)

	first := []byte(strings.Repeat("A", 4096))
	if _, err := sconn.Write(first); err != nil {
		t.Fatalf("write first chunk: %v", err)
	}

	// Give the server goroutine time to register the source and broadcast
	// the first chunk into its burst buffer before the listener attaches.
	time.Sleep(100 * time.Millisecond)

	lconn, lr := dial(t, addr)
	fmt.Fprintf(lconn, "GET /radio HTTP/1.1\r\nHost: test\r\n\r\n")
	status := readStatusLine(t, lr)
	if !strings.Contains(status, "200") {
		t.Fatalf("expected listener 200, got %q", status)
	}
	headers := map[string]string{}
	for {
		line, err := lr.ReadString('\n')
		if err != nil {
			t.Fatalf("read listener header: %v", err)
		}
		if line == "\r\n" {
			break
		}
		line = strings.TrimRight(line, "\r\n")
		if idx := strings.Index(line, ":"); idx >= 0 {
			headers[strings.ToLower(line[:idx])] = strings.TrimSpace(line[idx+1:])
		}
	}
	if headers["content-type"] != "audio/mpeg" {
		t.Fatalf("expected content-type audio/mpeg, got %q", headers["content-type"])
	}
	if headers["icy-name"] != "Test Radio" {
		t.Fatalf("expected icy-name Test Radio, got %q", headers["icy-name"])
	}

	got := make([]byte, len(first))
	if _, err := readFull(lr, got); err != nil {
		t.Fatalf("read burst replay: %v", err)
	}
	if string(got) != string(first) {
		t.Fatalf("burst replay mismatch")
	}

	second := []byte(strings.Repeat("B", 2048))
	if _, err := sconn.Write(second); err != nil {
		t.Fatalf("write second chunk: %v", err)
	}
	got2 := make([]byte, len(second))
	if _, err := readFull(lr, got2); err != nil {
		t.Fatalf("read live chunk: %v", err)
	}
	if string(got2) != string(second) {
		t.Fatalf("live chunk mismatch")
	}

	sconn.Close()
	lconn.Close()
}

func readFull(r *bufio.Reader, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := r.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}
