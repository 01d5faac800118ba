// Package watchdog runs the periodic assertion sweep over the live
// anonymity configuration and raises alerts on a bounded out-of-band
// channel when an invariant no longer holds. It never repairs anything;
// repair is policy and belongs to the orchestrator.
package watchdog

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/anonmanager/anonmanager/internal/dnslock"
	"github.com/anonmanager/anonmanager/internal/executil"
	"github.com/anonmanager/anonmanager/internal/firewall"
	"github.com/anonmanager/anonmanager/internal/logger"
	"github.com/anonmanager/anonmanager/internal/netns"
	"github.com/anonmanager/anonmanager/internal/tor"
	"github.com/anonmanager/anonmanager/internal/types"
)

// alertBuffer is the bounded out-of-band channel's capacity. Writes never
// block: a full channel means alerts are being dropped, not that the
// watchdog should stall waiting for a reader.
const alertBuffer = 64

// Watchdog holds read-only references to every component whose invariants
// it asserts. It never mutates any of them.
type Watchdog struct {
	Period     time.Duration
	Supervisor *tor.Supervisor
	Firewall   firewall.Engine
	NS         *netns.Manager
	Runner     executil.Runner
	ResolvPath string

	Alerts chan types.WatchdogAlert

	log *logger.Logger

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	fsw     *fsnotify.Watcher
}

// New returns a Watchdog. period is typically
// config.Profile.WatchdogPeriodSeconds converted to a time.Duration.
func New(period time.Duration, sup *tor.Supervisor, fw firewall.Engine, ns *netns.Manager, runner executil.Runner, resolvPath string) *Watchdog {
	return &Watchdog{
		Period:     period,
		Supervisor: sup,
		Firewall:   fw,
		NS:         ns,
		Runner:     runner,
		ResolvPath: resolvPath,
		Alerts:     make(chan types.WatchdogAlert, alertBuffer),
		log:        logger.New("watchdog"),
	}
}

// Start begins the periodic sweep and the resolv.conf tamper watch. Calling
// Start on an already-running Watchdog is a no-op.
func (w *Watchdog) Start(ctx context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return
	}
	sweepCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.running = true

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		w.log.Warn("resolv.conf tamper watch unavailable: %v", err)
	} else {
		w.fsw = fsw
		if err := fsw.Add(w.ResolvPath); err != nil {
			w.log.Warn("cannot watch %s: %v", w.ResolvPath, err)
		}
		w.wg.Add(1)
		go w.watchResolv(sweepCtx)
	}

	w.wg.Add(1)
	go w.sweepLoop(sweepCtx)
}

// Stop cancels the sweep and the tamper watch, and waits for both
// goroutines to exit. Teardown calls this before touching the firewall,
// namespace, or Tor process, so no stale tick can race a restore.
func (w *Watchdog) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	cancel := w.cancel
	fsw := w.fsw
	w.mu.Unlock()

	cancel()
	if fsw != nil {
		_ = fsw.Close()
	}
	w.wg.Wait()
}

// Sweep runs checks (a)-(e) of the periodic assertion sweep once; it is
// exported so tests can trigger it outside the timer loop.
func (w *Watchdog) Sweep(ctx context.Context) {
	if w.Supervisor != nil {
		if alive, _ := w.Supervisor.IsRunning(ctx); !alive {
			w.emit(types.AlertTor, "tor process is not running")
		}
	}
	if w.Firewall != nil {
		if active, err := w.Firewall.IsActive(ctx); err != nil || !active {
			w.emit(types.AlertFirewall, "anonmanager firewall chain/table is not present")
		}
	}
	if content, err := os.ReadFile(w.ResolvPath); err == nil {
		if !dnslock.PointsAtLoopback(string(content)) {
			w.emit(types.AlertDNS, "resolver configuration no longer points at loopback")
		}
	} else {
		w.emit(types.AlertDNS, fmt.Sprintf("cannot read resolver configuration: %v", err))
	}
	if !w.ipv6Disabled(ctx) {
		w.emit(types.AlertIPv6, "IPv6 is no longer disabled")
	}
	if w.NS != nil && !w.NS.Exists(ctx) {
		w.emit(types.AlertNamespace, "network namespace no longer exists")
	}
}

func (w *Watchdog) sweepLoop(ctx context.Context) {
	defer w.wg.Done()
	ticker := time.NewTicker(w.Period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.Sweep(ctx)
		}
	}
}

// watchResolv raises an immediate DNS alert on any out-of-band rewrite of
// the resolver configuration between sweep ticks, supplementing rather than
// replacing the periodic check.
func (w *Watchdog) watchResolv(ctx context.Context) {
	defer w.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			content, err := os.ReadFile(w.ResolvPath)
			if err != nil || !dnslock.PointsAtLoopback(string(content)) {
				w.emit(types.AlertDNS, "resolver configuration was rewritten out of band")
			}
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.log.Warn("resolv.conf watch error: %v", err)
		}
	}
}

// emit writes an alert to the bounded channel without blocking, and logs
// it to the security log unconditionally — the channel write is a courtesy
// to an attached reader, not the alert's sole record.
func (w *Watchdog) emit(category types.AlertCategory, message string) {
	w.log.Warn("watchdog alert [%s]: %s", category, message)
	alert := types.WatchdogAlert{Category: category, Message: message, Time: time.Now()}
	select {
	case w.Alerts <- alert:
	default:
		w.log.Warn("alert channel full, dropping alert [%s]: %s", category, message)
	}
}

func (w *Watchdog) ipv6Disabled(ctx context.Context) bool {
	if w.Runner == nil {
		return true
	}
	res, err := w.Runner.Run(ctx, 2*time.Second, "sysctl", "-n", "net.ipv6.conf.all.disable_ipv6")
	if err != nil {
		return false
	}
	return strings.TrimSpace(res.Stdout) == "1"
}
