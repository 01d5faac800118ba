package firewall

import (
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/gobwas/glob"
)

// dohDescriptor pairs a well-known DNS-over-HTTPS resolver IP with a
// human-readable glob-style label, used only in log messages: the killswitch
// itself always matches on the literal IP, never the label.
type dohDescriptor struct {
	IP    string
	Label string
}

var defaultDescriptors = []dohDescriptor{
	{"1.1.1.1", "*.cloudflare-dns.com"},
	{"1.0.0.1", "*.cloudflare-dns.com"},
	{"8.8.8.8", "*.dns.google"},
	{"8.8.4.4", "*.dns.google"},
	{"9.9.9.9", "*.quad9.net"},
	{"149.112.112.112", "*.quad9.net"},
	{"208.67.222.222", "*.opendns.com"},
	{"208.67.220.220", "*.opendns.com"},
}

// LabelForIP returns the descriptive label for a known DoH resolver IP, for
// use in security-log lines ("rejected DoH connection to 1.1.1.1
// (*.cloudflare-dns.com)"). Unknown IPs (Profile-supplied extras) get a
// generic label.
func LabelForIP(ip string) string {
	for _, d := range defaultDescriptors {
		if d.IP == ip {
			return d.Label
		}
	}
	return "*.unspecified"
}

// cidrShapePattern is a coarse pre-filter on Profile-supplied CIDR overrides
// before net.ParseCIDR does the authoritative parse: four dot-separated
// octet groups, optionally followed by a mask.
var cidrShapePattern = glob.MustCompile("[0-9]*.[0-9]*.[0-9]*.[0-9]*")

// portSpecPattern is a coarse pre-filter on Profile-supplied "<port>/<proto>"
// WebRTC port overrides (e.g. "49152/udp") before the port and protocol are
// parsed individually.
var portSpecPattern = glob.MustCompile("[0-9]*/[a-z]*")

// ValidateCIDROverride reports whether s is shaped like a dotted-quad
// address or CIDR, then confirms it parses. Rejects anything that does not
// pass both the allow-pattern and net's own parser, so a malformed Profile
// override never reaches the rule compiler.
func ValidateCIDROverride(s string) error {
	if !cidrShapePattern.Match(strings.SplitN(s, "/", 2)[0]) {
		return fmt.Errorf("%q is not shaped like an IPv4 address", s)
	}
	if strings.Contains(s, "/") {
		if _, _, err := net.ParseCIDR(s); err != nil {
			return fmt.Errorf("%q is not a valid CIDR: %w", s, err)
		}
		return nil
	}
	if net.ParseIP(s) == nil {
		return fmt.Errorf("%q is not a valid IP address", s)
	}
	return nil
}

// ValidatePortOverride parses a "<port>/<proto>" WebRTC port override
// string, gated by portSpecPattern before the numeric and protocol parts
// are parsed individually.
func ValidatePortOverride(s string) (port int, proto string, err error) {
	if !portSpecPattern.Match(s) {
		return 0, "", fmt.Errorf("%q is not shaped like <port>/<proto>", s)
	}
	parts := strings.SplitN(s, "/", 2)
	port, err = strconv.Atoi(parts[0])
	if err != nil || port < 1 || port > 65535 {
		return 0, "", fmt.Errorf("%q has an invalid port", s)
	}
	proto = parts[1]
	if proto != "udp" && proto != "tcp" {
		return 0, "", fmt.Errorf("%q has an unsupported protocol %q", s, proto)
	}
	return port, proto, nil
}
