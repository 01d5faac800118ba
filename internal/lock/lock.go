// Package lock implements the single-instance guarantee: a PID file held
// with an exclusive advisory flock for the lifetime of the process, stale-PID
// reaping, and a signal-driven cleanup path that unwinds a LIFO stack of
// acquired resources on any exit — normal, error, or signal.
package lock

import (
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/anonmanager/anonmanager/internal/fileutil"
	"github.com/anonmanager/anonmanager/internal/types"
	"golang.org/x/sys/unix"
)

// Lock holds the open PID file and the flock advisory lock acquired on it.
// The lock is held for the lifetime of the orchestrator; Release drops it.
type Lock struct {
	path string
	file *os.File
}

// Acquire opens path (creating it if absent), attempts a non-blocking
// exclusive flock, and on contention inspects the recorded PID: if that
// process is no longer alive the entry is stale and is reaped by truncating
// and retrying once; if it is alive, acquisition fails with LockContention.
func Acquire(path string) (*Lock, error) {
	f, err := fileutil.SecureOpenFile(path, os.O_CREATE|os.O_RDWR)
	if err != nil {
		return nil, types.NewFault(types.ErrStepFault, "open lock file", "check permissions on the configuration directory", err)
	}

	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil { //nolint:gosec // Fd() fits in int on all supported platforms
		if reaped := reapIfStale(f); !reaped {
			f.Close()
			return nil, types.NewFault(types.ErrLockContention, "another instance holds the system lock", "wait for the other instance to exit, or use --restore if it crashed", err)
		}
		if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil { //nolint:gosec
			f.Close()
			return nil, types.NewFault(types.ErrLockContention, "another instance holds the system lock", "wait for the other instance to exit, or use --restore if it crashed", err)
		}
	}

	if err := f.Truncate(0); err != nil {
		f.Close()
		return nil, types.NewFault(types.ErrStepFault, "truncate lock file", "check permissions on the configuration directory", err)
	}
	if _, err := f.Seek(0, 0); err != nil {
		f.Close()
		return nil, types.NewFault(types.ErrStepFault, "seek lock file", "check permissions on the configuration directory", err)
	}
	if _, err := fmt.Fprintf(f, "%d", os.Getpid()); err != nil {
		f.Close()
		return nil, types.NewFault(types.ErrStepFault, "write lock file", "check permissions on the configuration directory", err)
	}

	return &Lock{path: path, file: f}, nil
}

// reapIfStale reads the PID currently recorded in f; if that process no
// longer responds to signal 0, it is dead and the entry is stale.
func reapIfStale(f *os.File) bool {
	data := make([]byte, 32)
	if _, err := f.Seek(0, 0); err != nil {
		return false
	}
	n, _ := f.Read(data)
	pid := parsePID(string(data[:n]))
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	if err := proc.Signal(syscall.Signal(0)); err == nil {
		return false // still alive, not stale
	}
	return true
}

func parsePID(s string) int {
	n := 0
	for _, c := range s {
		if c < '0' || c > '9' {
			break
		}
		n = n*10 + int(c-'0')
	}
	return n
}

// Release drops the flock, closes the file, and removes the lock file.
func (l *Lock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}
	_ = unix.Flock(int(l.file.Fd()), unix.LOCK_UN) //nolint:gosec
	path := l.path
	if err := l.file.Close(); err != nil {
		return fmt.Errorf("close lock file: %w", err)
	}
	l.file = nil
	_ = os.Remove(path)
	return nil
}

// CompensationStack is a LIFO stack of inverse actions. The orchestrator
// pushes one onto it after every successful step and unwinds it, in strict
// reverse order, on any abort path — normal disable, error, or signal.
type CompensationStack struct {
	mu      sync.Mutex
	actions []func()
}

// Push records an inverse action to run during Unwind.
func (c *CompensationStack) Push(inverse func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.actions = append(c.actions, inverse)
}

// Unwind runs every recorded inverse action in reverse order of
// registration, then clears the stack. Safe to call more than once; a
// second call is a no-op.
func (c *CompensationStack) Unwind() {
	c.mu.Lock()
	actions := c.actions
	c.actions = nil
	c.mu.Unlock()

	for i := len(actions) - 1; i >= 0; i-- {
		actions[i]()
	}
}

// Len reports how many inverse actions are currently pending, mainly for
// tests asserting the stack unwound completely.
func (c *CompensationStack) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.actions)
}

// NotifyTermination registers SIGINT/SIGTERM delivery on a buffered channel,
// the same pattern the rest of the corpus uses for its own shutdown path.
func NotifyTermination() chan os.Signal {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	return ch
}
