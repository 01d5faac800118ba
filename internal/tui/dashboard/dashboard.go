//go:build !notui

package dashboard

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/anonmanager/anonmanager/internal/tui"
)

// tickMsg triggers a refresh.
type tickMsg time.Time

// statsMsg carries fetched status data.
type statsMsg struct {
	data StatusData
}

// model is the bubbletea model for the live dashboard.
type model struct {
	data      StatusData
	apiClient *http.Client
	apiBase   string

	spinner spinner.Model

	// shimmer triggers when a new alert appears since the last refresh.
	shimmer    tui.ShimmerState
	prevAlerts int

	width  int
	height int
}

func newModel(apiClient *http.Client, apiBase string) model {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(tui.ColorSuccess)

	shimCfg := tui.SubtleShimmerConfig()
	shimCfg.TickInterval = 25 * time.Millisecond // coarser for alt-screen redraws

	return model{
		apiClient: apiClient,
		apiBase:   apiBase,
		spinner:   s,
		shimmer:   tui.NewShimmer(shimCfg),
		width:     60,
	}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.fetchStats())
}

func (m model) fetchStats() tea.Cmd {
	return func() tea.Msg {
		return statsMsg{data: FetchStatus(m.apiClient, m.apiBase)}
	}
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {

	case statsMsg:
		if len(msg.data.RecentAlerts) > m.prevAlerts && m.prevAlerts >= 0 {
			m.shimmer.Start(20)
		}
		m.prevAlerts = len(msg.data.RecentAlerts)
		m.data = msg.data

		cmds := []tea.Cmd{tea.Tick(2*time.Second, func(t time.Time) tea.Msg {
			return tickMsg(t)
		})}
		if m.shimmer.Active {
			cmds = append(cmds, m.shimmer.Tick())
		}
		return m, tea.Batch(cmds...)

	case tickMsg:
		return m, m.fetchStats()

	case tui.ShimmerTickMsg:
		if !m.shimmer.Advance() {
			return m, m.shimmer.Tick()
		}
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "esc", "ctrl+c":
			return m, tea.Quit
		case "r":
			return m, m.fetchStats()
		}
	}
	return m, nil
}

func (m model) View() string {
	d := m.data

	title := tui.BrandGradient("ANONMANAGER", true) + " " + tui.BrandGradient("STATUS", true)
	var statusDot string
	switch {
	case !d.Reachable:
		statusDot = tui.StyleError.Render(tui.IconCross + " unreachable")
	case d.AnonymityActive:
		statusDot = tui.StyleSuccess.Render(m.spinner.View() + " active")
	default:
		statusDot = tui.StyleMuted.Render(tui.IconCircle + " inactive")
	}
	header := title + strings.Repeat(" ", max(2, 40-lipgloss.Width(title))) + statusDot

	var sb strings.Builder
	sb.WriteString(header + "\n\n")
	sb.WriteString(m.renderOverview() + "\n\n")
	sb.WriteString(tui.StyleMuted.Render("  q quit  r refresh"))

	return tui.StyleBox.Render(sb.String()) + "\n"
}

func (m model) renderOverview() string {
	d := m.data
	if !d.Reachable {
		return tui.StyleMuted.Render("  No status API socket reachable. Is anonmanager running?")
	}

	modeStr := fmt.Sprintf("  %s  %s", tui.Faint("Mode"), d.Mode)
	profileStr := fmt.Sprintf("  %s  %s", tui.Faint("Profile"), d.Profile)
	hostStr := fmt.Sprintf("  %s  %s (%s)", tui.Faint("Host"), d.DistroFamily, d.FirewallBackend)

	info := fmt.Sprintf("%-30s%s\n%s", modeStr, profileStr, hostStr)

	alertsTitle := tui.Separator("Recent Watchdog Alerts")

	var alertsBody string
	if len(d.RecentAlerts) == 0 {
		alertsBody = tui.StyleMuted.Render("  none recorded")
	} else if m.shimmer.Active {
		var bb strings.Builder
		for i, line := range d.RecentAlerts {
			runes := []rune("  " + line)
			for j, r := range runes {
				color := m.shimmer.ShimmerColor("#E05A3A", i*len(runes)+j)
				style := lipgloss.NewStyle().Foreground(lipgloss.Color(color))
				bb.WriteString(style.Render(string(r)))
			}
			bb.WriteString("\n")
		}
		alertsBody = strings.TrimRight(bb.String(), "\n")
	} else {
		var bb strings.Builder
		for _, line := range d.RecentAlerts {
			bb.WriteString(tui.StyleMuted.Render("  "+line) + "\n")
		}
		alertsBody = strings.TrimRight(bb.String(), "\n")
	}

	var sb strings.Builder
	sb.WriteString(info + "\n\n")
	sb.WriteString(alertsTitle + "\n\n")
	sb.WriteString(alertsBody)
	return sb.String()
}

// Run launches the live dashboard that refreshes every 2 seconds.
// Press q to quit, r for immediate refresh.
func Run(apiClient *http.Client, apiBase string) error {
	if tui.IsPlainMode() {
		data := FetchStatus(apiClient, apiBase)
		fmt.Println(RenderPlain(data))
		return nil
	}

	m := newModel(apiClient, apiBase)
	p := tea.NewProgram(m, tea.WithAltScreen())
	_, err := p.Run()
	return err
}

// RenderStatic renders a one-shot enhanced status display (no interactivity).
func RenderStatic(data StatusData) string {
	if tui.IsPlainMode() {
		return RenderPlain(data)
	}

	var sb strings.Builder

	var status string
	switch {
	case !data.Reachable:
		status = tui.StyleError.Render(tui.IconCross + " unreachable")
	case data.AnonymityActive:
		status = tui.StyleSuccess.Render(tui.IconDot + " active")
	default:
		status = tui.StyleMuted.Render(tui.IconCircle + " inactive")
	}

	sb.WriteString(tui.BrandGradient("ANONMANAGER", true) + "  " + status + "\n\n")

	if data.Reachable {
		fmt.Fprintf(&sb, "  %s  %s\n", tui.Faint("Mode"), data.Mode)
		fmt.Fprintf(&sb, "  %s  %s\n", tui.Faint("Profile"), data.Profile)
		fmt.Fprintf(&sb, "  %s  %s (%s)\n", tui.Faint("Host"), data.DistroFamily, data.FirewallBackend)
		if len(data.RecentAlerts) == 0 {
			sb.WriteString(fmt.Sprintf("  %s  none recorded", tui.Faint("Alerts")))
		} else {
			fmt.Fprintf(&sb, "  %s\n", tui.Faint("Alerts"))
			for _, line := range data.RecentAlerts {
				fmt.Fprintf(&sb, "    %s\n", line)
			}
		}
	}

	return tui.StyleBox.Render(strings.TrimRight(sb.String(), "\n"))
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
