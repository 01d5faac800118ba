package dashboard

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

// StatusData holds everything the dashboard's Overview tab renders.
type StatusData struct {
	Reachable       bool // false when the status API socket could not be reached at all
	AnonymityActive bool
	Mode            string
	Profile         string
	DistroFamily    string
	FirewallBackend string
	RecentAlerts    []string
}

// apiBaseURL is the dummy host used for requests over the statusapi Unix
// socket; the actual routing happens via the http.Client's Transport.
const apiBaseURL = "http://anonmanager-status"

// FetchStatus fetches the current status from the statusapi Unix socket.
// apiClient's Transport must already be dialed against the socket; apiBase
// is taken as an explicit parameter rather than hardcoded so callers (and
// tests) can point it at an httptest server instead.
func FetchStatus(apiClient *http.Client, apiBase string) StatusData {
	resp, err := apiClient.Get(apiBase + "/status") //nolint:noctx
	if err != nil || resp == nil {
		return StatusData{Reachable: false}
	}
	defer resp.Body.Close()

	var result struct {
		AnonymityActive bool     `json:"anonymity_active"`
		Mode            string   `json:"mode"`
		Profile         string   `json:"profile"`
		DistroFamily    string   `json:"distro_family"`
		FirewallBackend string   `json:"firewall_backend"`
		RecentAlerts    []string `json:"recent_alerts"`
	}
	if json.NewDecoder(resp.Body).Decode(&result) != nil {
		return StatusData{Reachable: false}
	}

	return StatusData{
		Reachable:       true,
		AnonymityActive: result.AnonymityActive,
		Mode:            result.Mode,
		Profile:         result.Profile,
		DistroFamily:    result.DistroFamily,
		FirewallBackend: result.FirewallBackend,
		RecentAlerts:    result.RecentAlerts,
	}
}

// RenderPlain renders a plain text status display (no colors, no TUI).
func RenderPlain(data StatusData) string {
	var sb strings.Builder
	if !data.Reachable {
		sb.WriteString("[anonmanager] status: unreachable (no status API socket)")
		return sb.String()
	}

	if data.AnonymityActive {
		fmt.Fprintf(&sb, "[anonmanager] Status:   active (%s mode, profile %s)\n", data.Mode, data.Profile)
	} else {
		sb.WriteString("[anonmanager] Status:   inactive\n")
	}
	fmt.Fprintf(&sb, "[anonmanager] Host:     %s, firewall backend %s\n", data.DistroFamily, data.FirewallBackend)

	if len(data.RecentAlerts) == 0 {
		sb.WriteString("[anonmanager] Alerts:   none recorded")
		return sb.String()
	}
	sb.WriteString("[anonmanager] Alerts:\n")
	for _, a := range data.RecentAlerts {
		fmt.Fprintf(&sb, "  %s\n", a)
	}
	return strings.TrimRight(sb.String(), "\n")
}
