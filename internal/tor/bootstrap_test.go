package tor

import (
	"bufio"
	"context"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/anonmanager/anonmanager/internal/config"
)

// fakeControlPort starts a listener that speaks just enough of the Tor
// control protocol to exercise Progress: accept AUTHENTICATE unconditionally,
// then answer GETINFO status/bootstrap-phase with a fixed progress line.
func fakeControlPort(t *testing.T, progressLine string) (host string, port int) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go serveFakeControl(conn, progressLine)
		}
	}()

	addr := ln.Addr().(*net.TCPAddr)
	return addr.IP.String(), addr.Port
}

func serveFakeControl(conn net.Conn, progressLine string) {
	defer conn.Close()
	r := bufio.NewReader(conn)
	w := bufio.NewWriter(conn)
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return
		}
		cmd := strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(cmd, "AUTHENTICATE"):
			w.WriteString("250 OK\r\n")
			w.Flush()
		case strings.HasPrefix(cmd, "GETINFO"):
			w.WriteString("250+status/bootstrap-phase=\r\n")
			w.WriteString(progressLine + "\r\n")
			w.WriteString(".\r\n")
			w.WriteString("250 OK\r\n")
			w.Flush()
		case strings.HasPrefix(cmd, "SIGNAL NEWNYM"):
			w.WriteString("250 OK\r\n")
			w.Flush()
		case strings.HasPrefix(cmd, "QUIT"):
			w.WriteString("250 closing connection\r\n")
			w.Flush()
			return
		}
	}
}

func newTestPoller(t *testing.T, progressLine string) *BootstrapPoller {
	host, port := fakeControlPort(t, progressLine)
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "control_auth_cookie"), []byte{0xde, 0xad, 0xbe, 0xef}, 0600); err != nil {
		t.Fatal(err)
	}
	topo := config.DefaultTopology()
	topo.TorIP = host
	ports := config.DefaultTorPorts()
	ports.Control = port
	return NewBootstrapPoller(topo, ports, dir)
}

func TestProgress_ParsesPercentAndTag(t *testing.T) {
	p := newTestPoller(t, "NOTICE BOOTSTRAP PROGRESS=45 TAG=conn_dir SUMMARY=\"Connecting to directory\"")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	percent, tag, err := p.Progress(ctx)
	if err != nil {
		t.Fatalf("Progress: %v", err)
	}
	if percent != 45 {
		t.Errorf("got percent %d, want 45", percent)
	}
	if tag != "conn_dir" {
		t.Errorf("got tag %q, want conn_dir", tag)
	}
}

func TestWaitUntilDone_SucceedsAt100Percent(t *testing.T) {
	p := newTestPoller(t, "NOTICE BOOTSTRAP PROGRESS=100 TAG=done SUMMARY=\"Done\"")

	err := p.WaitUntilDone(context.Background(), 5*time.Second, func() bool { return true })
	if err != nil {
		t.Fatalf("WaitUntilDone: %v", err)
	}
}

func TestWaitUntilDone_FailsWhenProcessNotAlive(t *testing.T) {
	p := newTestPoller(t, "NOTICE BOOTSTRAP PROGRESS=10 TAG=conn SUMMARY=\"Connecting\"")

	err := p.WaitUntilDone(context.Background(), 5*time.Second, func() bool { return false })
	if err == nil {
		t.Fatal("expected WaitUntilDone to fail immediately when the process is not alive")
	}
}

func TestWaitUntilDone_TimesOutWhenStuck(t *testing.T) {
	p := newTestPoller(t, "NOTICE BOOTSTRAP PROGRESS=10 TAG=conn SUMMARY=\"Connecting\"")

	err := p.WaitUntilDone(context.Background(), 1*time.Millisecond, func() bool { return true })
	if err == nil {
		t.Fatal("expected WaitUntilDone to time out when progress never reaches 100")
	}
}

func TestNewIdentity_SendsSignalAndSucceeds(t *testing.T) {
	p := newTestPoller(t, "NOTICE BOOTSTRAP PROGRESS=100 TAG=done SUMMARY=\"Done\"")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := p.NewIdentity(ctx); err != nil {
		t.Fatalf("NewIdentity: %v", err)
	}
}

func TestParseBootstrapPhase_MissingProgressErrors(t *testing.T) {
	_, _, err := parseBootstrapPhase("no progress field here\n")
	if err == nil {
		t.Fatal("expected an error when PROGRESS is absent from the reply")
	}
}
