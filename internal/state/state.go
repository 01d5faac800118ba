// Package state persists the orchestrator's cross-invocation runtime state:
// whether anonymity is currently active, which pipeline enabled it, the
// detected host environment, and the monitor process handle. The file is a
// flat key=value format chosen so a line of shell-injection-shaped garbage
// in one key can never cascade into another; every key is matched against a
// fixed pattern before being applied, and anything that doesn't match is
// silently ignored in favor of the in-memory default.
package state

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/anonmanager/anonmanager/internal/fileutil"
	"github.com/anonmanager/anonmanager/internal/types"
)

const currentVersion = "1"

// RuntimeState is the persisted cross-invocation state described in the
// data model: active flag, mode, profile, monitor handle, detected host
// environment, and a format version.
type RuntimeState struct {
	AnonymityActive bool
	Mode            types.Mode
	Profile         string
	MonitorHandle   int // 0 means no monitor recorded
	DistroFamily    types.DistroFamily
	FirewallBackend types.FirewallBackend
	Version         string
}

// Default returns the state a fresh install starts from: inactive, no mode,
// the "default" profile, no monitor, unknown host environment.
func Default() RuntimeState {
	return RuntimeState{
		AnonymityActive: false,
		Mode:            types.ModeNone,
		Profile:         "default",
		MonitorHandle:   0,
		DistroFamily:    types.DistroUnknown,
		FirewallBackend: types.BackendUnknown,
		Version:         currentVersion,
	}
}

var keyPattern = regexp.MustCompile(`^[A-Z_]+$`)

// validators maps each recognized key to a function that either applies a
// syntactically valid value to s or returns false, leaving s untouched.
// Unrecognized keys, and keys whose value fails this check, are ignored
// outright — the in-memory default for that field is retained, exactly as
// required by the state-file robustness property.
var validators = map[string]func(s *RuntimeState, value string) bool{
	"ANONYMITY_ACTIVE": func(s *RuntimeState, v string) bool {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return false
		}
		s.AnonymityActive = b
		return true
	},
	"CURRENT_MODE": func(s *RuntimeState, v string) bool {
		m := types.Mode(v)
		if !m.Valid() {
			return false
		}
		s.Mode = m
		return true
	},
	"PROFILE": func(s *RuntimeState, v string) bool {
		if v == "" || !profileNamePattern.MatchString(v) {
			return false
		}
		s.Profile = v
		return true
	},
	"MONITOR_HANDLE": func(s *RuntimeState, v string) bool {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return false
		}
		s.MonitorHandle = n
		return true
	},
	"DISTRO_FAMILY": func(s *RuntimeState, v string) bool {
		d := types.DistroFamily(v)
		if !d.Valid() {
			return false
		}
		s.DistroFamily = d
		return true
	},
	"FIREWALL_BACKEND": func(s *RuntimeState, v string) bool {
		b := types.FirewallBackend(v)
		if !b.Valid() {
			return false
		}
		s.FirewallBackend = b
		return true
	},
	"VERSION": func(s *RuntimeState, v string) bool {
		if v == "" {
			return false
		}
		s.Version = v
		return true
	},
}

var profileNamePattern = regexp.MustCompile(`^[a-zA-Z0-9_-]{1,64}$`)

// Load reads path and applies every syntactically valid key=value line on
// top of Default(). A missing file returns Default() with no error. A line
// whose key is unrecognized, or whose value fails validation for its key
// (including a value that is itself shell-injection-shaped, e.g.
// CURRENT_MODE=$(rm -rf /)), leaves the corresponding field at its prior
// value — Load never partially applies a bad line.
func Load(path string) (RuntimeState, error) {
	s := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return s, fmt.Errorf("read state file: %w", err)
	}

	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok || !keyPattern.MatchString(key) {
			continue
		}
		if fn, known := validators[key]; known {
			fn(&s, value)
		}
	}
	if err := scanner.Err(); err != nil {
		return s, fmt.Errorf("scan state file: %w", err)
	}
	return s, nil
}

// Save writes s to path atomically (write-temp-then-rename), one validated
// key=value line per field, LF-terminated, mode 0600.
func Save(path string, s RuntimeState) error {
	var b strings.Builder
	fmt.Fprintf(&b, "ANONYMITY_ACTIVE=%t\n", s.AnonymityActive)
	fmt.Fprintf(&b, "CURRENT_MODE=%s\n", s.Mode)
	fmt.Fprintf(&b, "PROFILE=%s\n", s.Profile)
	fmt.Fprintf(&b, "MONITOR_HANDLE=%d\n", s.MonitorHandle)
	fmt.Fprintf(&b, "DISTRO_FAMILY=%s\n", s.DistroFamily)
	fmt.Fprintf(&b, "FIREWALL_BACKEND=%s\n", s.FirewallBackend)
	fmt.Fprintf(&b, "VERSION=%s\n", s.Version)

	if err := fileutil.AtomicWriteFile(path, []byte(b.String()), 0600); err != nil {
		return fmt.Errorf("write state file: %w", err)
	}
	return nil
}
