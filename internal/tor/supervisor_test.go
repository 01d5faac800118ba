package tor

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/anonmanager/anonmanager/internal/config"
	"github.com/anonmanager/anonmanager/internal/executil"
	"github.com/anonmanager/anonmanager/internal/netns"
)

func newTestSupervisor(t *testing.T) (*Supervisor, *executil.FakeRunner) {
	dir := t.TempDir()
	runner := executil.NewFakeRunner()
	ns := netns.New(config.DefaultTopology(), runner)
	s := New(config.DefaultTopology(), config.DefaultTorPorts(), ns, runner, "debian-tor", dir, filepath.Join(dir, "tor.pid"))
	return s, runner
}

func TestStart_PersistsPidFromNamespaceExec(t *testing.T) {
	s, runner := newTestSupervisor(t)
	selfPid := os.Getpid()

	runner.On("ip", func(args []string) (executil.Result, error) {
		return executil.Result{Stdout: fmt.Sprintf("%d\n", selfPid)}, nil
	})
	runner.On("tor", func(args []string) (executil.Result, error) { return executil.Result{}, nil })
	runner.On("systemctl", func(args []string) (executil.Result, error) { return executil.Result{}, nil })
	runner.On("chown", func(args []string) (executil.Result, error) { return executil.Result{}, nil })

	if err := s.Start(context.Background(), filepath.Join(t.TempDir(), "torrc")); err != nil {
		t.Fatalf("Start: %v", err)
	}

	data, err := os.ReadFile(s.PIDFile)
	if err != nil {
		t.Fatalf("expected pid file to be written: %v", err)
	}
	if string(data) != fmt.Sprintf("%d", selfPid) {
		t.Errorf("got pid file content %q, want %d", data, selfPid)
	}
}

func TestStart_FailsWhenNoPidReported(t *testing.T) {
	s, runner := newTestSupervisor(t)
	runner.On("ip", func(args []string) (executil.Result, error) { return executil.Result{Stdout: ""}, nil })
	runner.On("tor", func(args []string) (executil.Result, error) { return executil.Result{}, nil })

	if err := s.Start(context.Background(), filepath.Join(t.TempDir(), "torrc")); err == nil {
		t.Fatal("expected Start to fail when tor reports no pid")
	}
}

func TestIsRunning_FalseWhenNoPidFile(t *testing.T) {
	s, _ := newTestSupervisor(t)
	if running, _ := s.IsRunning(context.Background()); running {
		t.Error("expected IsRunning to be false with no pid file")
	}
}

func TestIsRunning_TrueForLivePid(t *testing.T) {
	s, _ := newTestSupervisor(t)
	if err := os.WriteFile(s.PIDFile, []byte(fmt.Sprintf("%d", os.Getpid())), 0600); err != nil {
		t.Fatal(err)
	}
	running, pid := s.IsRunning(context.Background())
	if !running || pid != os.Getpid() {
		t.Errorf("expected IsRunning true for self pid, got running=%v pid=%d", running, pid)
	}
}

func TestIsRunning_FalseForGarbagePidFile(t *testing.T) {
	s, _ := newTestSupervisor(t)
	if err := os.WriteFile(s.PIDFile, []byte("not-a-pid"), 0600); err != nil {
		t.Fatal(err)
	}
	if running, _ := s.IsRunning(context.Background()); running {
		t.Error("expected IsRunning to be false for an unparseable pid file")
	}
}

func TestStop_RemovesPidFile(t *testing.T) {
	s, runner := newTestSupervisor(t)
	runner.On("pkill", func(args []string) (executil.Result, error) { return executil.Result{}, nil })
	// Stop sends SIGTERM to the recorded pid, so record an exited child's pid
	// rather than the test process's own.
	child := exec.Command("true")
	if err := child.Run(); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(s.PIDFile, []byte(fmt.Sprintf("%d", child.Process.Pid)), 0600); err != nil {
		t.Fatal(err)
	}

	if err := s.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if _, err := os.Stat(s.PIDFile); !os.IsNotExist(err) {
		t.Error("expected pid file to be removed after Stop")
	}
}

func TestFirstInt_ParsesLeadingDigitsOnly(t *testing.T) {
	cases := map[string]int{
		"1234\n":    1234,
		"  5678 ":   5678,
		"":          0,
		"not-a-pid": 0,
	}
	for in, want := range cases {
		if got := firstInt(in); got != want {
			t.Errorf("firstInt(%q) = %d, want %d", in, got, want)
		}
	}
}
