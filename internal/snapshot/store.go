package snapshot

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/anonmanager/anonmanager/internal/config"
	"github.com/anonmanager/anonmanager/internal/executil"
	"github.com/anonmanager/anonmanager/internal/fileutil"
	"github.com/anonmanager/anonmanager/internal/logger"
	"github.com/anonmanager/anonmanager/internal/types"
)

const captureTimeout = 2 * time.Second

const completionMarker = ".complete"

// Store is the Snapshot Store. Every capture and restore syscall it issues
// goes through Runner, bounded by captureTimeout, so no single value capture
// can block the orchestrator's hot path.
type Store struct {
	BaseDir    string
	Runner     executil.Runner
	ResolvPath string
	log        *logger.Logger
}

// New returns a Store rooted at baseDir (typically the configuration root's
// "snapshots" subdirectory), capturing and restoring the resolver config at
// resolvPath (typically "/etc/resolv.conf").
func New(baseDir string, runner executil.Runner, resolvPath string) *Store {
	return &Store{BaseDir: baseDir, Runner: runner, ResolvPath: resolvPath, log: logger.New("snapshot")}
}

func (s *Store) dir(name string) string        { return filepath.Join(s.BaseDir, name) }
func (s *Store) stagingDir(name string) string { return s.dir(name) + ".staging" }

// Save captures the host's current state into <name>.staging, writes the
// completion marker last, then atomically renames it over <name>. If
// name == "initial" and a complete snapshot under that name already exists,
// Save is a no-op — the first snapshot taken is never silently overwritten.
// Any partial staging directory left by a prior failed Save is removed
// before capture begins.
func (s *Store) Save(ctx context.Context, name string, backend types.FirewallBackend, iface string) error {
	if name == "initial" {
		if existing, err := s.Load(name); err == nil && existing.Complete {
			s.log.Debug("initial snapshot already present, skipping capture")
			return nil
		}
	}

	staging := s.stagingDir(name)
	if err := os.RemoveAll(staging); err != nil {
		return fmt.Errorf("clear stale staging directory: %w", err)
	}
	if err := fileutil.SecureMkdirAll(staging); err != nil {
		return fmt.Errorf("create staging directory: %w", err)
	}

	snap := Snapshot{Name: name, FirewallBackend: backend, IfaceName: iface}
	snap.SysctlValues = s.captureSysctl(ctx)
	snap.Resolv = s.captureResolv(ctx)
	snap.FirewallRuleset = s.captureFirewall(ctx, backend)
	snap.ServiceStates = s.captureServiceStates(ctx, []string{"systemd-resolved", "NetworkManager", "tor"})
	snap.NMActive = s.captureNMActive(ctx)
	snap.OriginalMAC = s.captureMAC(ctx, iface)

	if err := writeSnapshotFiles(staging, snap); err != nil {
		return fmt.Errorf("write staging files: %w", err)
	}
	// The completion marker must be the last file written: a crash before
	// this point leaves a staging directory a subsequent Save will discard,
	// and leaves <name> itself (if it existed) untouched.
	if err := fileutil.SecureWriteFile(filepath.Join(staging, completionMarker), []byte(time.Now().UTC().Format(time.RFC3339))); err != nil {
		return fmt.Errorf("write completion marker: %w", err)
	}

	final := s.dir(name)
	if err := os.RemoveAll(final); err != nil {
		return fmt.Errorf("remove previous snapshot: %w", err)
	}
	if err := os.Rename(staging, final); err != nil {
		return fmt.Errorf("commit snapshot: %w", err)
	}
	return nil
}

// Load reads the on-disk snapshot under name without applying it. Complete
// is false, and every field is zero, unless the completion marker is
// present — callers must check Complete before trusting any other field.
func (s *Store) Load(name string) (Snapshot, error) {
	dir := s.dir(name)
	snap := Snapshot{Name: name}

	if _, err := os.Stat(filepath.Join(dir, completionMarker)); err != nil {
		return snap, fmt.Errorf("snapshot %q incomplete or absent: %w", name, err)
	}

	loaded, err := readSnapshotFiles(dir)
	if err != nil {
		return snap, fmt.Errorf("read snapshot %q: %w", name, err)
	}
	loaded.Name = name
	loaded.Complete = true
	return loaded, nil
}

// --- capture helpers ---

func (s *Store) run(ctx context.Context, name string, args ...string) (executil.Result, error) {
	return s.Runner.Run(ctx, captureTimeout, name, args...)
}

func (s *Store) captureSysctl(ctx context.Context) map[string]string {
	values := make(map[string]string)
	for _, key := range sysctlKeysToCapture() {
		res, err := s.run(ctx, "sysctl", "-n", key)
		if err != nil {
			values[key] = types.UnknownValue
			continue
		}
		values[key] = strings.TrimSpace(res.Stdout)
	}
	return values
}

func (s *Store) captureResolv(ctx context.Context) ResolvCapture {
	resolvPath := s.ResolvPath

	info, err := os.Lstat(resolvPath)
	if err != nil {
		return ResolvCapture{Kind: ResolvFile, Content: types.UnknownValue}
	}

	if info.Mode()&os.ModeSymlink != 0 {
		relTarget, err := os.Readlink(resolvPath)
		if err != nil {
			return ResolvCapture{Kind: ResolvSymlink, RelativeTarget: types.UnknownValue}
		}
		absTarget := relTarget
		if !filepath.IsAbs(absTarget) {
			absTarget = filepath.Join(filepath.Dir(resolvPath), relTarget)
		}
		content, err := os.ReadFile(absTarget)
		if err != nil {
			return ResolvCapture{Kind: ResolvSymlink, RelativeTarget: relTarget, AbsoluteTarget: absTarget, Content: types.UnknownValue}
		}
		return ResolvCapture{Kind: ResolvSymlink, RelativeTarget: relTarget, AbsoluteTarget: absTarget, Content: string(content)}
	}

	content, err := os.ReadFile(resolvPath)
	if err != nil {
		return ResolvCapture{Kind: ResolvFile, Content: types.UnknownValue}
	}
	immutable := false
	if res, err := s.run(ctx, "lsattr", resolvPath); err == nil {
		immutable = strings.Contains(res.Stdout, "i") && immutableFlagSet(res.Stdout)
	}
	return ResolvCapture{Kind: ResolvFile, Content: string(content), Immutable: immutable}
}

// immutableFlagSet inspects the lsattr attribute column (first whitespace
// field) for the 'i' flag, rather than substring-matching the whole line,
// since the filename itself could otherwise coincidentally contain "i".
func immutableFlagSet(lsattrOutput string) bool {
	fields := strings.Fields(lsattrOutput)
	if len(fields) == 0 {
		return false
	}
	return strings.ContainsRune(fields[0], 'i')
}

func (s *Store) captureFirewall(ctx context.Context, backend types.FirewallBackend) FirewallRuleset {
	var rs FirewallRuleset
	switch backend {
	case types.BackendModern:
		if res, err := s.run(ctx, "nft", "list", "ruleset"); err == nil {
			rs.Modern = res.Stdout
		} else {
			rs.Modern = types.UnknownValue
		}
	case types.BackendLegacy, types.BackendLegacyAlt:
		if res, err := s.run(ctx, "iptables-save"); err == nil {
			rs.LegacyV4 = res.Stdout
		} else {
			rs.LegacyV4 = types.UnknownValue
		}
		if res, err := s.run(ctx, "ip6tables-save"); err == nil {
			rs.LegacyV6 = res.Stdout
		} else {
			rs.LegacyV6 = types.UnknownValue
		}
		if res, err := s.run(ctx, "ipset", "save"); err == nil {
			rs.SetState = res.Stdout
		} else {
			rs.SetState = types.UnknownValue
		}
	}
	return rs
}

func (s *Store) captureServiceStates(ctx context.Context, services []string) map[string]ServiceState {
	out := make(map[string]ServiceState, len(services))
	for _, svc := range services {
		state := ServiceState{Enabled: types.ServiceNotFound, Active: types.ServiceInactive}

		if res, err := s.run(ctx, "systemctl", "is-enabled", svc); err == nil {
			state.Enabled = types.ServiceEnabled
		} else if strings.Contains(res.Stdout+res.Stderr, "disabled") {
			state.Enabled = types.ServiceDisabled
		}
		if res, err := s.run(ctx, "systemctl", "is-active", svc); err == nil && strings.TrimSpace(res.Stdout) == "active" {
			state.Active = types.ServiceActive
		}
		out[svc] = state
	}
	return out
}

// captureMAC reads the egress interface's hardware address before MAC
// Rotator randomization, so disable (and emergency_restore) can put it back.
func (s *Store) captureMAC(ctx context.Context, iface string) string {
	if iface == "" {
		return ""
	}
	data, err := os.ReadFile(filepath.Join("/sys/class/net", iface, "address"))
	if err != nil {
		return types.UnknownValue
	}
	return strings.TrimSpace(string(data))
}

func (s *Store) captureNMActive(ctx context.Context) string {
	res, err := s.run(ctx, "nmcli", "-t", "-f", "NAME", "connection", "show", "--active")
	if err != nil {
		return ""
	}
	lines := strings.Split(strings.TrimSpace(res.Stdout), "\n")
	if len(lines) == 0 || lines[0] == "" {
		return ""
	}
	return lines[0]
}

// sysctlKeysToCapture returns every key the hardening matrix and the IPv6
// disable matrix touch, so the initial snapshot always has a pre-change
// value on hand to restore, even for keys the partial pipeline alone would
// never have written.
func sysctlKeysToCapture() []string {
	seen := map[string]bool{}
	var keys []string
	collect := func(entries []config.SysctlEntry) {
		for _, e := range entries {
			if !seen[e.Key] {
				seen[e.Key] = true
				keys = append(keys, e.Key)
			}
		}
	}
	collect(config.SysctlMatrix())
	collect(config.IPv6DisableMatrix())
	sort.Strings(keys)
	return keys
}

// --- staging file layout ---

func writeSnapshotFiles(dir string, snap Snapshot) error {
	if err := writeFirewallBlobs(dir, snap.FirewallRuleset); err != nil {
		return err
	}
	if err := writeSysctlValues(dir, snap.SysctlValues); err != nil {
		return err
	}
	if err := writeResolvCapture(dir, snap.Resolv); err != nil {
		return err
	}
	if err := writeServiceStates(dir, snap.ServiceStates); err != nil {
		return err
	}
	if err := fileutil.SecureMkdirAll(filepath.Join(dir, "network")); err != nil {
		return err
	}
	if err := fileutil.SecureWriteFile(filepath.Join(dir, "network", "nm_active"), []byte(snap.NMActive)); err != nil {
		return err
	}
	if err := fileutil.SecureWriteFile(filepath.Join(dir, "network", "original_mac"), []byte(snap.OriginalMAC)); err != nil {
		return err
	}
	if err := fileutil.SecureWriteFile(filepath.Join(dir, "interface"), []byte(snap.IfaceName)); err != nil {
		return err
	}
	return nil
}

func writeFirewallBlobs(dir string, rs FirewallRuleset) error {
	fwDir := filepath.Join(dir, "firewall")
	if err := fileutil.SecureMkdirAll(fwDir); err != nil {
		return err
	}
	write := func(name, content string) error {
		if content == "" {
			return nil
		}
		compressed, err := zstdCompress([]byte(content))
		if err != nil {
			return fmt.Errorf("compress %s: %w", name, err)
		}
		return fileutil.SecureWriteFile(filepath.Join(fwDir, name+".zst"), compressed)
	}
	if err := write("modern", rs.Modern); err != nil {
		return err
	}
	if err := write("legacy_v4", rs.LegacyV4); err != nil {
		return err
	}
	if err := write("legacy_v6", rs.LegacyV6); err != nil {
		return err
	}
	if err := write("set_state", rs.SetState); err != nil {
		return err
	}
	return nil
}

func writeSysctlValues(dir string, values map[string]string) error {
	sysctlDir := filepath.Join(dir, "sysctl")
	if err := fileutil.SecureMkdirAll(sysctlDir); err != nil {
		return err
	}
	for key, val := range values {
		flat := strings.ReplaceAll(key, ".", "_")
		if err := fileutil.SecureWriteFile(filepath.Join(sysctlDir, flat+".val"), []byte(val)); err != nil {
			return err
		}
	}
	return nil
}

func writeResolvCapture(dir string, r ResolvCapture) error {
	resolvDir := filepath.Join(dir, "resolv")
	if err := fileutil.SecureMkdirAll(resolvDir); err != nil {
		return err
	}
	if err := fileutil.SecureWriteFile(filepath.Join(resolvDir, "type"), []byte(r.Kind)); err != nil {
		return err
	}
	if err := fileutil.SecureWriteFile(filepath.Join(resolvDir, "content"), []byte(r.Content)); err != nil {
		return err
	}
	switch r.Kind {
	case ResolvSymlink:
		if err := fileutil.SecureWriteFile(filepath.Join(resolvDir, "absolute_target"), []byte(r.AbsoluteTarget)); err != nil {
			return err
		}
		if err := fileutil.SecureWriteFile(filepath.Join(resolvDir, "relative_target"), []byte(r.RelativeTarget)); err != nil {
			return err
		}
	case ResolvFile:
		flag := "0"
		if r.Immutable {
			flag = "1"
		}
		if err := fileutil.SecureWriteFile(filepath.Join(resolvDir, "immutable_flag"), []byte(flag)); err != nil {
			return err
		}
	}
	return nil
}

func writeServiceStates(dir string, states map[string]ServiceState) error {
	svcDir := filepath.Join(dir, "systemd")
	if err := fileutil.SecureMkdirAll(svcDir); err != nil {
		return err
	}
	for svc, st := range states {
		if err := fileutil.SecureWriteFile(filepath.Join(svcDir, svc+".enabled"), []byte(st.Enabled)); err != nil {
			return err
		}
		if err := fileutil.SecureWriteFile(filepath.Join(svcDir, svc+".active"), []byte(st.Active)); err != nil {
			return err
		}
	}
	return nil
}

func readSnapshotFiles(dir string) (Snapshot, error) {
	var snap Snapshot

	rs, err := readFirewallBlobs(dir)
	if err != nil {
		return snap, err
	}
	snap.FirewallRuleset = rs

	sysctlVals, err := readSysctlValues(dir)
	if err != nil {
		return snap, err
	}
	snap.SysctlValues = sysctlVals

	resolv, err := readResolvCapture(dir)
	if err != nil {
		return snap, err
	}
	snap.Resolv = resolv

	states, err := readServiceStates(dir)
	if err != nil {
		return snap, err
	}
	snap.ServiceStates = states

	if data, err := os.ReadFile(filepath.Join(dir, "network", "nm_active")); err == nil {
		snap.NMActive = string(data)
	}
	if data, err := os.ReadFile(filepath.Join(dir, "network", "original_mac")); err == nil {
		snap.OriginalMAC = string(data)
	}
	if data, err := os.ReadFile(filepath.Join(dir, "interface")); err == nil {
		snap.IfaceName = string(data)
	}
	return snap, nil
}

func readFirewallBlobs(dir string) (FirewallRuleset, error) {
	var rs FirewallRuleset
	fwDir := filepath.Join(dir, "firewall")
	read := func(name string) (string, error) {
		data, err := os.ReadFile(filepath.Join(fwDir, name+".zst"))
		if err != nil {
			if os.IsNotExist(err) {
				return "", nil
			}
			return "", err
		}
		out, err := zstdDecompress(data)
		if err != nil {
			return "", err
		}
		return string(out), nil
	}
	var err error
	if rs.Modern, err = read("modern"); err != nil {
		return rs, err
	}
	if rs.LegacyV4, err = read("legacy_v4"); err != nil {
		return rs, err
	}
	if rs.LegacyV6, err = read("legacy_v6"); err != nil {
		return rs, err
	}
	if rs.SetState, err = read("set_state"); err != nil {
		return rs, err
	}
	return rs, nil
}

func readSysctlValues(dir string) (map[string]string, error) {
	sysctlDir := filepath.Join(dir, "sysctl")
	entries, err := os.ReadDir(sysctlDir)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]string{}, nil
		}
		return nil, err
	}
	// Flattening is lossy (keys themselves contain underscores), so map each
	// flattened name back to the captured key it came from.
	known := make(map[string]string)
	for _, k := range sysctlKeysToCapture() {
		known[strings.ReplaceAll(k, ".", "_")] = k
	}
	out := make(map[string]string, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".val") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(sysctlDir, e.Name()))
		if err != nil {
			return nil, err
		}
		flat := strings.TrimSuffix(e.Name(), ".val")
		key, ok := known[flat]
		if !ok {
			key = strings.ReplaceAll(flat, "_", ".")
		}
		out[key] = string(data)
	}
	return out, nil
}

func readResolvCapture(dir string) (ResolvCapture, error) {
	resolvDir := filepath.Join(dir, "resolv")
	kindData, err := os.ReadFile(filepath.Join(resolvDir, "type"))
	if err != nil {
		return ResolvCapture{}, err
	}
	content, _ := os.ReadFile(filepath.Join(resolvDir, "content"))

	r := ResolvCapture{Kind: ResolvKind(kindData), Content: string(content)}
	switch r.Kind {
	case ResolvSymlink:
		if data, err := os.ReadFile(filepath.Join(resolvDir, "absolute_target")); err == nil {
			r.AbsoluteTarget = string(data)
		}
		if data, err := os.ReadFile(filepath.Join(resolvDir, "relative_target")); err == nil {
			r.RelativeTarget = string(data)
		}
	case ResolvFile:
		if data, err := os.ReadFile(filepath.Join(resolvDir, "immutable_flag")); err == nil {
			r.Immutable = string(data) == "1"
		}
	}
	return r, nil
}

func readServiceStates(dir string) (map[string]ServiceState, error) {
	svcDir := filepath.Join(dir, "systemd")
	entries, err := os.ReadDir(svcDir)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]ServiceState{}, nil
		}
		return nil, err
	}
	out := make(map[string]ServiceState)
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".enabled") {
			continue
		}
		svc := strings.TrimSuffix(e.Name(), ".enabled")
		enabledData, err := os.ReadFile(filepath.Join(svcDir, e.Name()))
		if err != nil {
			return nil, err
		}
		activeData, err := os.ReadFile(filepath.Join(svcDir, svc+".active"))
		if err != nil {
			return nil, err
		}
		out[svc] = ServiceState{
			Enabled: types.ServiceEnabledState(enabledData),
			Active:  types.ServiceActiveState(activeData),
		}
	}
	return out, nil
}

func zstdCompress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := zstd.NewWriter(&buf)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(data); err != nil {
		w.Close()
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func zstdDecompress(data []byte) ([]byte, error) {
	r, err := zstd.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}
