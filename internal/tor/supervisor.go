// Package tor supervises a Tor process running inside the isolated network
// namespace: writing its configuration, launching it as the unprivileged
// Tor user, checking liveness, stopping it, and polling its control port
// for bootstrap progress.
package tor

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/anonmanager/anonmanager/internal/config"
	"github.com/anonmanager/anonmanager/internal/executil"
	"github.com/anonmanager/anonmanager/internal/fileutil"
	"github.com/anonmanager/anonmanager/internal/logger"
	"github.com/anonmanager/anonmanager/internal/netns"
	"github.com/anonmanager/anonmanager/internal/types"
)

const livenessCheckDelay = 2 * time.Second
const stopGrace = 5 * time.Second

// Supervisor launches, stops, and reports liveness of the Tor process. It
// never manages Tor through the system service manager: that manager has no
// way to start a process whose network context is a foreign namespace.
type Supervisor struct {
	Topo    config.Topology
	Ports   config.TorPorts
	NS      *netns.Manager
	Runner  executil.Runner
	TorUser string
	DataDir string
	PIDFile string
	log     *logger.Logger
}

// New returns a Supervisor for the given namespace, topology, and Tor user
// (the unprivileged account Tor runs as, typically "debian-tor" / "tor").
func New(topo config.Topology, ports config.TorPorts, ns *netns.Manager, runner executil.Runner, torUser, dataDir, pidFile string) *Supervisor {
	return &Supervisor{
		Topo: topo, Ports: ports, NS: ns, Runner: runner,
		TorUser: torUser, DataDir: dataDir, PIDFile: pidFile,
		log: logger.New("tor"),
	}
}

func (s *Supervisor) run(ctx context.Context, name string, args ...string) (executil.Result, error) {
	return s.Runner.Run(ctx, executil.DefaultTimeout, name, args...)
}

// Start kills any prior managed Tor process, stops any system-managed Tor
// service that would contend for ports, removes a stale lock file, ensures
// the data directory is owned by the Tor user at mode 0700, launches Tor
// inside the namespace as the Tor user with configPath, and after a brief
// liveness check persists the child's pid to PIDFile.
func (s *Supervisor) Start(ctx context.Context, configPath string) error {
	if running, pid := s.IsRunning(ctx); running {
		s.killPID(ctx, pid)
	}
	_, _ = s.run(ctx, "systemctl", "stop", "tor")

	lockPath := filepath.Join(s.DataDir, "lock")
	_ = os.Remove(lockPath)

	if err := s.prepareDataDir(ctx); err != nil {
		return fmt.Errorf("prepare tor data dir: %w", err)
	}

	if err := s.validateConfig(ctx, configPath); err != nil {
		return fmt.Errorf("tor configuration failed dry-run validation: %w", err)
	}

	res, err := s.NS.Exec(ctx, "su", "-s", "/bin/sh", "-c", "tor -f "+configPath+" --RunAsDaemon 0 & echo $!", s.TorUser)
	if err != nil {
		return types.NewFault(types.ErrStepFault, "launch tor inside namespace", "check that tor is installed and the namespace exists", err)
	}
	pid := firstInt(res.Stdout)
	if pid <= 0 {
		return types.NewFault(types.ErrStepFault, "tor did not report a pid after launch", "inspect the security log for tor's stderr output", nil)
	}

	time.Sleep(livenessCheckDelay)
	if alive, _ := s.pidAlive(pid); !alive {
		return types.NewFault(types.ErrStepFault, "tor exited within the liveness check window", "inspect the activity log for tor's startup error", nil)
	}

	if err := fileutil.SecureWriteFile(s.PIDFile, []byte(strconv.Itoa(pid))); err != nil {
		return fmt.Errorf("persist tor pid: %w", err)
	}
	return nil
}

func (s *Supervisor) prepareDataDir(ctx context.Context) error {
	if err := os.MkdirAll(s.DataDir, 0700); err != nil {
		return err
	}
	if err := os.Chmod(s.DataDir, 0700); err != nil {
		return err
	}
	if _, err := s.run(ctx, "chown", "-R", s.TorUser+":"+s.TorUser, s.DataDir); err != nil {
		return err
	}
	return nil
}

// validateConfig runs tor --verify-config against configPath before Start
// commits to launching the process, per the supervisor's contract of
// validating a configuration update by dry-run before reporting success.
func (s *Supervisor) validateConfig(ctx context.Context, configPath string) error {
	_, err := s.run(ctx, "tor", "--verify-config", "-f", configPath)
	return err
}

// Stop TERMs the recorded pid and any process running as the Tor user named
// "tor", waits up to stopGrace for exit, then KILLs survivors, then removes
// the pid file.
func (s *Supervisor) Stop(ctx context.Context) error {
	if pid, err := s.readPIDFile(); err == nil && pid > 0 {
		s.killPID(ctx, pid)
	}
	_, _ = s.run(ctx, "pkill", "-TERM", "-u", s.TorUser, "-x", "tor")

	deadline := time.Now().Add(stopGrace)
	for time.Now().Before(deadline) {
		if running, _ := s.IsRunning(ctx); !running {
			break
		}
		time.Sleep(200 * time.Millisecond)
	}
	_, _ = s.run(ctx, "pkill", "-KILL", "-u", s.TorUser, "-x", "tor")

	_ = os.Remove(s.PIDFile)
	return nil
}

// Restart stops then starts Tor with the same configuration file.
func (s *Supervisor) Restart(ctx context.Context, configPath string) error {
	if err := s.Stop(ctx); err != nil {
		return err
	}
	return s.Start(ctx, configPath)
}

// IsRunning reports whether the pid file exists and its recorded pid still
// responds to signal 0.
func (s *Supervisor) IsRunning(ctx context.Context) (bool, int) {
	pid, err := s.readPIDFile()
	if err != nil {
		return false, 0
	}
	alive, _ := s.pidAlive(pid)
	return alive, pid
}

func (s *Supervisor) readPIDFile() (int, error) {
	data, err := os.ReadFile(s.PIDFile)
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, fmt.Errorf("invalid pid file contents")
	}
	return pid, nil
}

func (s *Supervisor) pidAlive(pid int) (bool, error) {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false, err
	}
	err = proc.Signal(syscall.Signal(0))
	return err == nil, err
}

func (s *Supervisor) killPID(ctx context.Context, pid int) {
	if proc, err := os.FindProcess(pid); err == nil {
		_ = proc.Signal(syscall.SIGTERM)
	}
}

func firstInt(s string) int {
	s = strings.TrimSpace(s)
	i := 0
	for i < len(s) && s[i] >= '0' && s[i] <= '9' {
		i++
	}
	n, _ := strconv.Atoi(s[:i])
	return n
}
