// Package statusapi exposes a small read-only HTTP surface over a Unix
// socket so the CLI's --status/--verify/--logs can be driven by a process
// other than the one that holds the orchestrator's lock, and so the
// bubbletea dashboard can poll live state without linking against the
// orchestrator directly. Every handler here is read-only: none of them
// mutate host state, mirroring the watchdog's own observation-only
// contract.
package statusapi

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"strconv"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/anonmanager/anonmanager/internal/api"
	"github.com/anonmanager/anonmanager/internal/logger"
	"github.com/anonmanager/anonmanager/internal/state"
	"github.com/anonmanager/anonmanager/internal/telemetry"
	"github.com/anonmanager/anonmanager/internal/verify"
)

// Server binds a gin.Engine to a Unix socket and answers status/verify/log
// queries by reading the same on-disk and in-process state the orchestrator
// itself maintains, without ever touching it.
type Server struct {
	SocketPath      string
	StatePath       string
	ActivityLogPath string
	SecurityLogPath string

	Verifier *verify.Verifier // nil disables GET /verify with 503
	History  *telemetry.Recorder

	log      *logger.Logger
	listener net.Listener
}

// New returns a Server wired against the given paths and collaborators.
// history may be nil; Verifier may be nil when no active profile configured
// one (e.g. the host is not currently anonymized).
func New(socketPath, statePath, activityLogPath, securityLogPath string, v *verify.Verifier, history *telemetry.Recorder) *Server {
	return &Server{
		SocketPath:      socketPath,
		StatePath:       statePath,
		ActivityLogPath: activityLogPath,
		SecurityLogPath: securityLogPath,
		Verifier:        v,
		History:         history,
		log:             logger.New("statusapi"),
	}
}

// Serve binds the Unix socket and runs the HTTP server until ctx is
// canceled, then shuts down gracefully and removes the socket file. The
// socket is created with an umask restrictive enough that it is mode 0600
// from the instant it appears, closing the create-then-chmod race a
// separate chmod call would leave open.
func (s *Server) Serve(ctx context.Context) error {
	_ = os.Remove(s.SocketPath)

	oldUmask := syscall.Umask(0077)
	listener, err := net.Listen("unix", s.SocketPath)
	syscall.Umask(oldUmask)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.SocketPath, err)
	}
	s.listener = listener
	defer os.Remove(s.SocketPath)

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery(), api.SecurityHeadersMiddleware(), api.BodySizeLimitMiddleware(api.MaxBodySize))
	s.registerRoutes(engine)

	srv := &http.Server{Handler: engine}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(listener)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("serve status api: %w", err)
		}
		return nil
	}
}

func (s *Server) registerRoutes(r *gin.Engine) {
	r.GET("/status", s.handleStatus)
	r.GET("/verify", s.handleVerify)
	r.GET("/logs", s.handleLogs)
}

// statusResponse is the JSON shape GET /status returns.
type statusResponse struct {
	AnonymityActive bool     `json:"anonymity_active"`
	Mode            string   `json:"mode"`
	Profile         string   `json:"profile"`
	DistroFamily    string   `json:"distro_family"`
	FirewallBackend string   `json:"firewall_backend"`
	RecentAlerts    []string `json:"recent_alerts"`
}

func (s *Server) handleStatus(c *gin.Context) {
	st, err := state.Load(s.StatePath)
	if err != nil {
		api.Error(c, http.StatusInternalServerError, fmt.Sprintf("load state: %v", err))
		return
	}

	resp := statusResponse{
		AnonymityActive: st.AnonymityActive,
		Mode:            string(st.Mode),
		Profile:         st.Profile,
		DistroFamily:    string(st.DistroFamily),
		FirewallBackend: string(st.FirewallBackend),
	}

	if s.History != nil {
		alerts, err := s.History.RecentAlerts(c.Request.Context(), 10)
		if err != nil {
			s.log.Warn("recent alerts lookup failed: %v", err)
		}
		for _, a := range alerts {
			resp.RecentAlerts = append(resp.RecentAlerts, fmt.Sprintf("[%s] %s %s", a.Time.Format(time.RFC3339), a.Category, a.Message))
		}
	}

	api.Success(c, resp)
}

func (s *Server) handleVerify(c *gin.Context) {
	if s.Verifier == nil {
		api.Error(c, http.StatusServiceUnavailable, "no verifier configured for the active profile")
		return
	}

	summary := s.Verifier.Run(c.Request.Context())

	if s.History != nil {
		run := telemetry.VerifyRun{Time: time.Now(), Pass: summary.Pass, Fail: summary.Fail, Warn: summary.Warn}
		for _, r := range summary.Results {
			run.Results = append(run.Results, telemetry.CheckResult{Name: r.Name, Status: string(r.Status), Detail: r.Detail})
		}
		if err := s.History.RecordVerifyRun(c.Request.Context(), run); err != nil {
			s.log.Warn("failed to persist verify run: %v", err)
		}
	}

	api.Success(c, summary)
}

const defaultLogLines = 100
const maxLogLines = 5000

func (s *Server) handleLogs(c *gin.Context) {
	which := c.DefaultQuery("log", "activity")
	path := s.ActivityLogPath
	switch which {
	case "activity":
		path = s.ActivityLogPath
	case "security":
		path = s.SecurityLogPath
	default:
		api.Error(c, http.StatusBadRequest, "log must be \"activity\" or \"security\"")
		return
	}

	n := defaultLogLines
	if raw := c.Query("n"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			n = parsed
		}
	}
	if n > maxLogLines {
		n = maxLogLines
	}

	lines, err := tailLines(path, n)
	if err != nil {
		api.Error(c, http.StatusInternalServerError, fmt.Sprintf("read %s log: %v", which, err))
		return
	}
	api.Success(c, gin.H{"log": which, "lines": lines})
}

// tailLines returns the last n lines of the file at path. Activity and
// security logs are append-only plain text, so this reads the whole file
// and trims it; nothing in this package bounds the file's size.
func tailLines(path string, n int) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	var all []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		all = append(all, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	if len(all) <= n {
		return all, nil
	}
	return all[len(all)-n:], nil
}
