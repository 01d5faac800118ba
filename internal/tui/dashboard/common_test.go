package dashboard

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

// newTestServer returns an httptest.Server handling the statusapi routes
// the dashboard consumes.
func newTestServer(status any) *httptest.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/status", func(w http.ResponseWriter, _ *http.Request) {
		json.NewEncoder(w).Encode(status) //nolint:errcheck
	})
	return httptest.NewServer(mux)
}

func TestFetchStatus(t *testing.T) {
	srv := newTestServer(map[string]any{
		"anonymity_active": true,
		"mode":             "extreme",
		"profile":          "paranoid",
		"distro_family":    "debian",
		"firewall_backend": "modern",
		"recent_alerts":    []string{"[DNS] resolver rewritten"},
	})
	defer srv.Close()

	data := FetchStatus(srv.Client(), srv.URL)

	if !data.Reachable {
		t.Fatal("expected Reachable=true")
	}
	if !data.AnonymityActive {
		t.Error("expected AnonymityActive=true")
	}
	if data.Mode != "extreme" {
		t.Errorf("Mode = %q, want extreme", data.Mode)
	}
	if data.Profile != "paranoid" {
		t.Errorf("Profile = %q, want paranoid", data.Profile)
	}
	if data.FirewallBackend != "modern" {
		t.Errorf("FirewallBackend = %q, want modern", data.FirewallBackend)
	}
	if len(data.RecentAlerts) != 1 {
		t.Fatalf("got %d alerts, want 1", len(data.RecentAlerts))
	}
}

func TestFetchStatusUsesAPIBase(t *testing.T) {
	// Verify that FetchStatus uses the provided apiBase, not a hardcoded host.
	srv := newTestServer(map[string]any{"anonymity_active": false, "mode": "none", "profile": "default"})
	defer srv.Close()

	client := &http.Client{}
	data := FetchStatus(client, srv.URL)

	if !data.Reachable {
		t.Fatal("expected Reachable=true when apiBase is honored")
	}
	if data.Profile != "default" {
		t.Errorf("Profile = %q, want default (apiBase not used?)", data.Profile)
	}
}

func TestFetchStatus_ServerDown(t *testing.T) {
	client := &http.Client{}
	data := FetchStatus(client, "http://127.0.0.1:1")

	if data.Reachable {
		t.Error("expected Reachable=false for an unreachable server")
	}
}

func TestFetchStatus_MalformedBodyIsUnreachable(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/status", func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte("not json")) //nolint:errcheck
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	data := FetchStatus(srv.Client(), srv.URL)
	if data.Reachable {
		t.Error("expected Reachable=false for a malformed response body")
	}
}

func TestRenderPlain_Active(t *testing.T) {
	data := StatusData{
		Reachable:       true,
		AnonymityActive: true,
		Mode:            "extreme",
		Profile:         "paranoid",
		DistroFamily:    "debian",
		FirewallBackend: "modern",
		RecentAlerts:    []string{"[DNS] resolver rewritten"},
	}
	out := RenderPlain(data)
	for _, want := range []string{"active", "extreme", "paranoid", "debian", "modern", "resolver rewritten"} {
		if !contains(out, want) {
			t.Errorf("RenderPlain missing %q in:\n%s", want, out)
		}
	}
}

func TestRenderPlain_InactiveNoAlerts(t *testing.T) {
	data := StatusData{Reachable: true, Mode: "none", Profile: "default"}
	out := RenderPlain(data)
	if !contains(out, "inactive") {
		t.Errorf("expected 'inactive' in: %s", out)
	}
	if !contains(out, "none recorded") {
		t.Errorf("expected 'none recorded' in: %s", out)
	}
}

func TestRenderPlain_Unreachable(t *testing.T) {
	out := RenderPlain(StatusData{Reachable: false})
	if !contains(out, "unreachable") {
		t.Errorf("expected 'unreachable' in: %s", out)
	}
}

func contains(s, substr string) bool {
	return len(s) >= len(substr) && searchString(s, substr)
}

func searchString(s, sub string) bool {
	for i := 0; i <= len(s)-len(sub); i++ {
		if s[i:i+len(sub)] == sub {
			return true
		}
	}
	return false
}
