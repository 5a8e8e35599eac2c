package server

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"testing"

	"github.com/icestream/icestream/internal/stream"
)

func TestAdminRequiresAuth(t *testing.T) {
	_, ts := newTestServer(t)
	resp, err := http.Get(ts.URL + "/admin/listmounts?mount=/radio")
	if err != nil {
		t.Fatalf("GET /admin/listmounts: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
}

func TestAdminRejectsNonGetMethod(t *testing.T) {
	_, ts := newTestServer(t)

	req, err := http.NewRequest(http.MethodDelete, ts.URL+"/admin/killsource?mount=/x", nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.SetBasicAuth("source", "hackme")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("DELETE /admin/killsource: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", resp.StatusCode)
	}
	if allow := resp.Header.Get("Allow"); allow != "GET, SOURCE" {
		t.Fatalf("expected Allow: GET, SOURCE, got %q", allow)
	}
}

func TestApiEndpointsAreOpen(t *testing.T) {
	_, ts := newTestServer(t)
	resp, err := http.Get(ts.URL + "/api/serverinfo")
	if err != nil {
		t.Fatalf("GET /api/serverinfo: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var info map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		t.Fatalf("decode serverinfo: %v", err)
	}
	if _, ok := info["mounts"]; !ok {
		t.Fatalf("expected serverinfo to report a \"mounts\" field, got %v", info)
	}
}

func TestAdminListMountsAfterSourceConnect(t *testing.T) {
	srv, ts := newTestServer(t)

	source := stream.NewSource("/radio", stream.SourceProperties{ContentType: "audio/mpeg", Name: "Test"}, 65536)
	srv.registry.Register(source, false)

	req, err := http.NewRequest(http.MethodGet, ts.URL+"/admin/listmounts", nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.SetBasicAuth("source", "hackme")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET /admin/listmounts: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		t.Fatalf("expected 200, got %d: %s", resp.StatusCode, body)
	}

	var out struct {
		Mounts []struct {
			Mountpoint string `json:"mountpoint"`
		} `json:"mounts"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode listmounts: %v", err)
	}
	if len(out.Mounts) != 1 || out.Mounts[0].Mountpoint != "/radio" {
		t.Fatalf("expected exactly /radio listed, got %+v", out.Mounts)
	}
}

func TestApiStatsIncludesHumanReadableFields(t *testing.T) {
	_, ts := newTestServer(t)
	resp, err := http.Get(ts.URL + "/api/stats")
	if err != nil {
		t.Fatalf("GET /api/stats: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var out map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode stats: %v", err)
	}
	for _, key := range []string{"uptime", "session_bytes_sent_human", "session_bytes_read_human"} {
		if _, ok := out[key]; !ok {
			t.Fatalf("expected %q in stats response, got %v", key, out)
		}
	}
}

func TestAdminMoveClients(t *testing.T) {
	srv, ts := newTestServer(t)

	a := stream.NewSource("/a", stream.SourceProperties{ContentType: "audio/mpeg"}, 65536)
	b := stream.NewSource("/b", stream.SourceProperties{ContentType: "audio/mpeg"}, 65536)
	srv.registry.Register(a, false)
	srv.registry.Register(b, false)

	l := stream.NewListener("/a", stream.ListenerProperties{})
	srv.registry.AttachListener("/a", l)

	req, err := http.NewRequest(http.MethodGet, fmt.Sprintf("%s/admin/moveclients?mount=/a&destination=/b", ts.URL), nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.SetBasicAuth("source", "hackme")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET /admin/moveclients: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		t.Fatalf("expected 200, got %d: %s", resp.StatusCode, body)
	}

	if a.ClientCount() != 0 {
		t.Fatalf("expected source /a to have no clients left, got %d", a.ClientCount())
	}
	if b.ClientCount() != 1 {
		t.Fatalf("expected source /b to have adopted the listener, got %d", b.ClientCount())
	}
}
