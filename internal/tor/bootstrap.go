package tor

import (
	"bufio"
	"context"
	"encoding/hex"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/anonmanager/anonmanager/internal/config"
	"github.com/anonmanager/anonmanager/internal/types"
)

const pollInterval = 2 * time.Second
const controlDialTimeout = 5 * time.Second

// BootstrapPoller queries the in-namespace Tor process's control port for
// bootstrap progress, authenticating with the cookie Tor itself writes to
// its data directory.
type BootstrapPoller struct {
	Topo    config.Topology
	Ports   config.TorPorts
	DataDir string
}

// NewBootstrapPoller returns a poller for the Tor instance at topo/ports,
// reading its auth cookie from dataDir.
func NewBootstrapPoller(topo config.Topology, ports config.TorPorts, dataDir string) *BootstrapPoller {
	return &BootstrapPoller{Topo: topo, Ports: ports, DataDir: dataDir}
}

// Progress opens a short-lived connection to the control port, authenticates
// with the hex-encoded cookie, issues a single GETINFO status/bootstrap-phase
// query, and parses the PROGRESS and TAG fields from the response.
func (p *BootstrapPoller) Progress(ctx context.Context) (percent int, phaseTag string, err error) {
	addr := net.JoinHostPort(p.Topo.TorIP, strconv.Itoa(p.Ports.Control))

	dialer := &net.Dialer{Timeout: controlDialTimeout}
	conn, dialErr := dialer.DialContext(ctx, "tcp", addr)
	if dialErr != nil {
		return 0, "", types.NewFault(types.ErrTransient, "connect to tor control port", "confirm tor is running inside the namespace", dialErr)
	}
	defer conn.Close()

	rw := bufio.NewReadWriter(bufio.NewReader(conn), bufio.NewWriter(conn))

	cookie, cookieErr := p.readCookie()
	if cookieErr != nil {
		return 0, "", types.NewFault(types.ErrStepFault, "read tor control auth cookie", "confirm CookieAuthentication is enabled and tor has started", cookieErr)
	}

	if err := writeLine(rw, "AUTHENTICATE "+hex.EncodeToString(cookie)); err != nil {
		return 0, "", err
	}
	authReply, err := readLine(rw)
	if err != nil {
		return 0, "", err
	}
	if !strings.HasPrefix(authReply, "250") {
		return 0, "", types.NewFault(types.ErrStepFault, fmt.Sprintf("tor control authentication failed: %s", authReply), "confirm the control port and cookie path match", nil)
	}

	if err := writeLine(rw, "GETINFO status/bootstrap-phase"); err != nil {
		return 0, "", err
	}
	reply, err := readMultiline(rw)
	if err != nil {
		return 0, "", err
	}

	percent, phaseTag, err = parseBootstrapPhase(reply)
	if err != nil {
		return 0, "", err
	}

	_ = writeLine(rw, "QUIT")
	return percent, phaseTag, nil
}

// NewIdentity opens a short-lived connection to the control port and issues
// SIGNAL NEWNYM, the same rotation Tor Browser's "New Identity" button
// triggers: a fresh circuit set for subsequent connections. It does not
// affect connections already established.
func (p *BootstrapPoller) NewIdentity(ctx context.Context) error {
	addr := net.JoinHostPort(p.Topo.TorIP, strconv.Itoa(p.Ports.Control))

	dialer := &net.Dialer{Timeout: controlDialTimeout}
	conn, dialErr := dialer.DialContext(ctx, "tcp", addr)
	if dialErr != nil {
		return types.NewFault(types.ErrTransient, "connect to tor control port", "confirm tor is running inside the namespace", dialErr)
	}
	defer conn.Close()

	rw := bufio.NewReadWriter(bufio.NewReader(conn), bufio.NewWriter(conn))

	cookie, cookieErr := p.readCookie()
	if cookieErr != nil {
		return types.NewFault(types.ErrStepFault, "read tor control auth cookie", "confirm CookieAuthentication is enabled and tor has started", cookieErr)
	}

	if err := writeLine(rw, "AUTHENTICATE "+hex.EncodeToString(cookie)); err != nil {
		return err
	}
	authReply, err := readLine(rw)
	if err != nil {
		return err
	}
	if !strings.HasPrefix(authReply, "250") {
		return types.NewFault(types.ErrStepFault, fmt.Sprintf("tor control authentication failed: %s", authReply), "confirm the control port and cookie path match", nil)
	}

	if err := writeLine(rw, "SIGNAL NEWNYM"); err != nil {
		return err
	}
	reply, err := readLine(rw)
	if err != nil {
		return err
	}
	if !strings.HasPrefix(reply, "250") {
		return types.NewFault(types.ErrStepFault, fmt.Sprintf("tor rejected NEWNYM signal: %s", reply), "wait for the rate limit to clear and retry", nil)
	}

	_ = writeLine(rw, "QUIT")
	return nil
}

// WaitUntilDone polls Progress every pollInterval until it reaches 100%,
// fails if the Tor process is no longer alive, or the timeout elapses.
func (p *BootstrapPoller) WaitUntilDone(ctx context.Context, timeout time.Duration, alive func() bool) error {
	deadline := time.Now().Add(timeout)
	for {
		if !alive() {
			return types.NewFault(types.ErrStepFault, "tor process exited during bootstrap", "inspect the activity log for tor's exit reason", nil)
		}

		pctx, cancel := context.WithTimeout(ctx, controlDialTimeout)
		percent, _, err := p.Progress(pctx)
		cancel()
		if err == nil && percent >= 100 {
			return nil
		}

		if time.Now().After(deadline) {
			return types.NewFault(types.ErrBootstrapTimeout, fmt.Sprintf("tor did not bootstrap within %s", timeout), "check network connectivity and retry, or use --restore", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(pollInterval):
		}
	}
}

func (p *BootstrapPoller) readCookie() ([]byte, error) {
	return os.ReadFile(filepath.Join(p.DataDir, "control_auth_cookie"))
}

func writeLine(rw *bufio.ReadWriter, line string) error {
	if _, err := rw.WriteString(line + "\r\n"); err != nil {
		return fmt.Errorf("write control command: %w", err)
	}
	return rw.Flush()
}

func readLine(rw *bufio.ReadWriter) (string, error) {
	line, err := rw.ReadString('\n')
	if err != nil {
		return "", fmt.Errorf("read control reply: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// readMultiline reads lines until a single-line "250 OK" terminator or a
// "250 " prefixed final line, per the Tor control protocol's reply framing.
func readMultiline(rw *bufio.ReadWriter) (string, error) {
	var b strings.Builder
	for {
		line, err := readLine(rw)
		if err != nil {
			return "", err
		}
		b.WriteString(line)
		b.WriteString("\n")
		if len(line) >= 4 && line[3] == ' ' {
			break
		}
	}
	return b.String(), nil
}

var progressPattern = regexp.MustCompile(`PROGRESS=(\d+)`)
var tagPattern = regexp.MustCompile(`TAG=(\S+)`)

func parseBootstrapPhase(reply string) (int, string, error) {
	pm := progressPattern.FindStringSubmatch(reply)
	if pm == nil {
		return 0, "", types.NewFault(types.ErrStepFault, "could not parse bootstrap progress from control reply", "inspect the security log for the raw control reply", nil)
	}
	percent, err := strconv.Atoi(pm[1])
	if err != nil {
		return 0, "", fmt.Errorf("parse progress value: %w", err)
	}
	tag := ""
	if tm := tagPattern.FindStringSubmatch(reply); tm != nil {
		tag = tm[1]
	}
	return percent, tag, nil
}
