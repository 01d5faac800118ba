package cli

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/anonmanager/anonmanager/internal/config"
	"github.com/anonmanager/anonmanager/internal/executil"
	"github.com/anonmanager/anonmanager/internal/fileutil"
	"github.com/anonmanager/anonmanager/internal/lock"
	"github.com/anonmanager/anonmanager/internal/logger"
	"github.com/anonmanager/anonmanager/internal/orchestrator"
	"github.com/anonmanager/anonmanager/internal/state"
	"github.com/anonmanager/anonmanager/internal/statusapi"
	"github.com/anonmanager/anonmanager/internal/telemetry"
	"github.com/anonmanager/anonmanager/internal/tor"
	"github.com/anonmanager/anonmanager/internal/tui/banner"
	"github.com/anonmanager/anonmanager/internal/tui/dashboard"
	"github.com/anonmanager/anonmanager/internal/tui/startup"
	"github.com/anonmanager/anonmanager/internal/types"
	"github.com/anonmanager/anonmanager/internal/verify"
)

var log = logger.New("cli")

// root resolves the configuration/state root directory, honoring
// $ANONMANAGER_HOME the same way config.ProfilesDir and the orchestrator's
// test seams do.
func root() string {
	if home := os.Getenv("ANONMANAGER_HOME"); home != "" {
		return home
	}
	return "/etc/anonmanager"
}

// socketPath returns the conventional statusapi Unix socket location,
// alongside the root's other runtime files.
func socketPath(r string) string {
	return r + "/status.sock"
}

// setupLogging opens (creating if absent) the activity and security log
// files under root and wires them into the logger package, so every
// Logger.Info/Warn/Error call across the process lands in the same two
// files the --logs action and the status API read from.
func setupLogging(r string) error {
	if err := fileutil.SecureMkdirAll(r); err != nil {
		return fmt.Errorf("create config root: %w", err)
	}
	activity, err := fileutil.SecureOpenFile(r+"/activity.log", os.O_CREATE|os.O_APPEND|os.O_WRONLY)
	if err != nil {
		return fmt.Errorf("open activity log: %w", err)
	}
	security, err := fileutil.SecureOpenFile(r+"/security.log", os.O_CREATE|os.O_APPEND|os.O_WRONLY)
	if err != nil {
		return fmt.Errorf("open security log: %w", err)
	}
	logger.SetLogFiles(activity, security)
	return nil
}

// requireRoot refuses to continue a mutating action when not running as
// root, surfacing a PermissionFault the way every other startup check in
// the pipeline does.
func requireRoot() error {
	if os.Geteuid() != 0 {
		return types.NewFault(types.ErrPermissionFault, "anonmanager must run as root", "re-run with sudo or as root", nil)
	}
	return nil
}

// Run dispatches opts to the action it names, or opens the interactive menu
// when none was given. It returns the process exit code.
func Run(ctx context.Context, opts Options, version string) int {
	version_ = version

	if opts.Help {
		fmt.Print(Usage())
		return 0
	}

	r := root()

	if opts.Action == "" {
		cfg, err := startup.RunStartup()
		if err != nil {
			printFault(err)
			return 1
		}
		if cfg.Canceled {
			return 0
		}
		opts.Action = string(cfg.Action)
		opts.Profile = cfg.Profile
		return dispatch(ctx, opts, r, version, &cfg)
	}

	return dispatch(ctx, opts, r, version, nil)
}

// dispatch runs the resolved action. override carries the optional
// per-invocation egress interface / watchdog / bootstrap overrides the
// interactive menu collects; it is nil for flag-driven invocations, which
// have no equivalent surface and rely entirely on the profile file.
func dispatch(ctx context.Context, opts Options, r, version string, override *startup.Config) int {
	profile, err := config.LoadProfile(opts.Profile)
	if err != nil {
		printFault(err)
		return 1
	}
	if override != nil {
		if override.EgressInterfaceOverride != "" {
			profile.EgressInterface = override.EgressInterfaceOverride
		}
		if override.WatchdogPeriodOverride > 0 {
			profile.WatchdogPeriodSeconds = override.WatchdogPeriodOverride
		}
		if override.BootstrapTimeoutOverride > 0 {
			profile.BootstrapTimeoutSeconds = override.BootstrapTimeoutOverride
		}
	}
	logger.SetGlobalLevelFromString(profile.LogLevel)

	if err := setupLogging(r); err != nil {
		printFault(err)
		return 1
	}

	switch opts.Action {
	case "extreme", "partial":
		return runEnable(ctx, r, profile, opts.Action == "extreme")
	case "disable":
		return runDisable(ctx, r)
	case "restore":
		return runRestore(ctx, r)
	case "status":
		return runStatus(r)
	case "verify":
		return runVerify(ctx, r, profile)
	case "newid":
		return runNewID(ctx)
	case "logs":
		return runLogs(r, opts.LogName, opts.LogLines)
	default:
		fmt.Print(Usage())
		return 1
	}
}

func printFault(err error) {
	fmt.Fprintf(os.Stderr, "anonmanager: %v\n", err)
}

// runEnable acquires the single-instance lock, runs the requested enable
// pipeline, and then — on success — becomes the resident foreground process:
// it records its own PID as the runtime state's monitor handle, serves the
// status API over a Unix socket, drains watchdog alerts into the history
// store, and blocks until SIGINT/SIGTERM, at which point it disables cleanly
// and exits. A failed enable releases the lock and returns immediately; the
// orchestrator's own compensation stack has already unwound anything it
// started.
func runEnable(ctx context.Context, r string, profile config.Profile, extreme bool) int {
	if err := requireRoot(); err != nil {
		printFault(err)
		return 1
	}

	l, err := lock.Acquire(r + "/lock")
	if err != nil {
		printFault(err)
		return 1
	}
	defer l.Release()

	paths := orchestrator.DefaultPaths(r)
	runner := executil.NewHostRunner()
	o, err := orchestrator.New(ctx, paths, config.DefaultTopology(), config.DefaultTorPorts(), profile, runner, "", profile.EgressInterface)
	if err != nil {
		printFault(err)
		return 1
	}

	mode := "partial"
	if extreme {
		mode = "extreme"
	}
	banner.PrintBanner(version_)

	if extreme {
		err = o.EnableExtreme(ctx)
	} else {
		err = o.EnablePartial(ctx)
	}
	if err != nil {
		printFault(err)
		return 1
	}
	log.Info("%s mode active", mode)

	history, err := openHistory(r, profile)
	if err != nil {
		log.Warn("history store unavailable: %v", err)
	}
	defer history.Close()

	v := newVerifier(o)
	srv := statusapi.New(socketPath(r), paths.StateFile, r+"/activity.log", r+"/security.log", v, history)

	srvCtx, cancelSrv := context.WithCancel(ctx)
	defer cancelSrv()
	srvDone := make(chan error, 1)
	go func() { srvDone <- srv.Serve(srvCtx) }()

	alertsDone := make(chan struct{})
	if history != nil && o.Watchdog != nil {
		go func() {
			history.DrainAlerts(srvCtx, o.Watchdog.Alerts)
			close(alertsDone)
		}()
	} else {
		close(alertsDone)
	}

	sig := lock.NotifyTermination()
	<-sig
	log.Info("shutdown requested, disabling")

	cancelSrv()
	<-srvDone
	<-alertsDone

	if err := o.Disable(context.Background(), extreme); err != nil {
		printFault(err)
		return 1
	}
	log.Info("anonymity disabled")
	return 0
}

// runDisable locates the resident process recorded at enable time via the
// runtime state's monitor handle and asks it to shut down cleanly. Disable
// itself needs the live in-process collaborators the resident process holds,
// so this invocation never calls orchestrator.Disable directly.
func runDisable(ctx context.Context, r string) int {
	if err := requireRoot(); err != nil {
		printFault(err)
		return 1
	}

	paths := orchestrator.DefaultPaths(r)
	st, err := state.Load(paths.StateFile)
	if err != nil {
		printFault(err)
		return 1
	}
	if !st.AnonymityActive || st.MonitorHandle == 0 {
		fmt.Println("anonmanager: not currently active")
		return 0
	}
	if !confirm("Disable anonymity and restore the host's previous state?") {
		return 0
	}

	proc, err := os.FindProcess(st.MonitorHandle)
	if err != nil {
		printFault(fmt.Errorf("locate resident process %d: %w", st.MonitorHandle, err))
		return 1
	}
	if err := proc.Signal(os.Interrupt); err != nil {
		printFault(fmt.Errorf("signal resident process %d: %w", st.MonitorHandle, err))
		return 1
	}

	deadline := time.Now().Add(30 * time.Second)
	for time.Now().Before(deadline) {
		cur, err := state.Load(paths.StateFile)
		if err == nil && !cur.AnonymityActive {
			fmt.Println("anonmanager: disabled")
			return 0
		}
		select {
		case <-ctx.Done():
			return 1
		case <-time.After(500 * time.Millisecond):
		}
	}
	printFault(fmt.Errorf("resident process %d did not exit within 30s, try --restore", st.MonitorHandle))
	return 1
}

// runRestore runs the brute-force restore path directly against whatever
// state the host happens to be in; unlike --disable it needs no resident
// process, since it rebuilds every collaborator from scratch and falls back
// to the on-disk snapshot store.
func runRestore(ctx context.Context, r string) int {
	if err := requireRoot(); err != nil {
		printFault(err)
		return 1
	}
	if !confirm("Force-restore the host to its pre-anonymized state?") {
		return 0
	}

	paths := orchestrator.DefaultPaths(r)
	profile := config.DefaultProfile()
	runner := executil.NewHostRunner()
	o, err := orchestrator.New(ctx, paths, config.DefaultTopology(), config.DefaultTorPorts(), profile, runner, "", "")
	if err != nil {
		printFault(err)
		return 1
	}
	o.EmergencyRestore(ctx)
	fmt.Println("anonmanager: restore complete")
	return 0
}

// runStatus queries the status API over its Unix socket and renders the
// result, either as the live dashboard or (in plain mode) as static text.
func runStatus(r string) int {
	client := unixSocketClient(socketPath(r))
	data, reachable := fetchStatusOrFallback(client, r)
	if !reachable {
		fmt.Println(dashboard.RenderPlain(data))
		return 0
	}
	if err := dashboard.Run(client, "http://anonmanager-status"); err != nil {
		fmt.Println(dashboard.RenderPlain(data))
	}
	return 0
}

func fetchStatusOrFallback(client *http.Client, r string) (dashboard.StatusData, bool) {
	data := dashboard.FetchStatus(client, "http://anonmanager-status")
	if data.Reachable {
		return data, true
	}
	st, err := state.Load(orchestrator.DefaultPaths(r).StateFile)
	if err != nil {
		return dashboard.StatusData{Reachable: false}, false
	}
	return dashboard.StatusData{
		Reachable:       true,
		AnonymityActive: st.AnonymityActive,
		Mode:            string(st.Mode),
		Profile:         st.Profile,
		DistroFamily:    string(st.DistroFamily),
		FirewallBackend: string(st.FirewallBackend),
	}, false
}

func unixSocketClient(socket string) *http.Client {
	return &http.Client{
		Timeout: 5 * time.Second,
		Transport: &http.Transport{
			DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
				return net.Dial("unix", socket)
			},
		},
	}
}

// runVerify runs the ten-point verification standalone, against whatever
// Tor/firewall/namespace state currently exists on the host, and persists
// the outcome to the same encrypted history store the resident process's
// watchdog alerts use.
func runVerify(ctx context.Context, r string, profile config.Profile) int {
	paths := orchestrator.DefaultPaths(r)
	runner := executil.NewHostRunner()
	o, err := orchestrator.New(ctx, paths, config.DefaultTopology(), config.DefaultTorPorts(), profile, runner, "", profile.EgressInterface)
	if err != nil {
		printFault(err)
		return 1
	}

	v := newVerifier(o)
	summary := v.Run(ctx)

	history, err := openHistory(r, profile)
	if err != nil {
		log.Warn("history store unavailable: %v", err)
	}
	defer history.Close()
	if history != nil {
		run := telemetry.VerifyRun{Time: time.Now(), Pass: summary.Pass, Fail: summary.Fail, Warn: summary.Warn}
		for _, res := range summary.Results {
			run.Results = append(run.Results, telemetry.CheckResult{Name: res.Name, Status: string(res.Status), Detail: res.Detail})
		}
		if err := history.RecordVerifyRun(ctx, run); err != nil {
			log.Warn("failed to persist verify run: %v", err)
		}
	}

	for _, res := range summary.Results {
		fmt.Printf("[%s] %-24s %s\n", res.Status, res.Name, res.Detail)
	}
	fmt.Printf("\n%d pass, %d fail, %d warn\n", summary.Pass, summary.Fail, summary.Warn)
	if summary.Fail > 0 {
		return 1
	}
	return 0
}

// newVerifier builds a Verifier against o's wired collaborators, sourcing
// its SOCKS address and WebRTC port list from the same topology and
// killswitch-rule data the orchestrator itself uses.
func newVerifier(o *orchestrator.Orchestrator) *verify.Verifier {
	socksAddr := o.Topo.TorIP + ":" + strconv.Itoa(o.Ports.SOCKS)
	rules := config.DefaultKillswitchRules(o.Topo, o.Ports, 0)
	return verify.New(socksAddr, o.Supervisor, o.Poller, o.Firewall, o.NS, o.Runner, o.Paths.ResolvConf, o.Profile.EgressInterface, rules.WebRTCPorts)
}

// runNewID requests a fresh Tor identity over the control port. It does not
// require the resident process: the control port accepts any authenticated
// client regardless of which process started Tor.
func runNewID(ctx context.Context) int {
	topo := config.DefaultTopology()
	ports := config.DefaultTorPorts()
	poller := tor.NewBootstrapPoller(topo, ports, "/var/lib/tor/anonmanager")
	if err := poller.NewIdentity(ctx); err != nil {
		printFault(err)
		return 1
	}
	fmt.Println("anonmanager: requested a new Tor identity")
	return 0
}

// runLogs tails the named log file directly off disk, the same file the
// status API's /logs handler and the resident process's logger writes to.
func runLogs(r, name string, lines int) int {
	var path string
	switch name {
	case "activity", "":
		path = r + "/activity.log"
	case "security":
		path = r + "/security.log"
	default:
		printFault(fmt.Errorf("unknown log %q, must be \"activity\" or \"security\"", name))
		return 1
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			fmt.Println("anonmanager: no log entries yet")
			return 0
		}
		printFault(err)
		return 1
	}
	printTail(string(data), lines)
	return 0
}

// printTail writes the last n lines of text to stdout.
func printTail(text string, n int) {
	var all []string
	start := 0
	for i := 0; i < len(text); i++ {
		if text[i] == '\n' {
			all = append(all, text[start:i])
			start = i + 1
		}
	}
	if start < len(text) {
		all = append(all, text[start:])
	}
	if len(all) > n {
		all = all[len(all)-n:]
	}
	for _, line := range all {
		fmt.Println(line)
	}
}

// openHistory resolves the encryption key and opens the shared history
// store. A nil Recorder (when opening fails) degrades every caller to "no
// history available" rather than blocking the action itself.
func openHistory(r string, profile config.Profile) (*telemetry.Recorder, error) {
	key, err := telemetry.ResolveEncryptionKey(r, profile.HistoryKey)
	if err != nil {
		return nil, err
	}
	return telemetry.Open(r+"/history.db", key)
}

// version_ is set from Run's version argument; the enable banner reads it.
var version_ = "dev"
