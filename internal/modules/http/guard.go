package http

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"net/url"
	"strings"

	"github.com/cryguy/runjs/internal/bridge"
)

// ErrPrivateAddress is the cause of every refusal by the destination guard.
var ErrPrivateAddress = errors.New("destination is a private address")

// ForbiddenHeaders lists request headers scripts cannot set.
var ForbiddenHeaders = headerSet(
	"host", "transfer-encoding", "connection", "keep-alive", "upgrade", "te", "trailer",
	"proxy-authorization", "proxy-connection",
	"x-forwarded-for", "x-forwarded-host", "x-forwarded-proto", "x-real-ip",
)

func headerSet(names ...string) map[string]bool {
	set := make(map[string]bool, len(names))
	for _, n := range names {
		set[n] = true
	}
	return set
}

// blocked holds the loopback, private, shared, link-local, documentation
// and reserved ranges.
var blocked = []netip.Prefix{
	netip.MustParsePrefix("0.0.0.0/8"),
	netip.MustParsePrefix("10.0.0.0/8"),
	netip.MustParsePrefix("100.64.0.0/10"),
	netip.MustParsePrefix("127.0.0.0/8"),
	netip.MustParsePrefix("169.254.0.0/16"),
	netip.MustParsePrefix("172.16.0.0/12"),
	netip.MustParsePrefix("192.0.0.0/24"),
	netip.MustParsePrefix("192.0.2.0/24"),
	netip.MustParsePrefix("192.168.0.0/16"),
	netip.MustParsePrefix("198.18.0.0/15"),
	netip.MustParsePrefix("198.51.100.0/24"),
	netip.MustParsePrefix("203.0.113.0/24"),
	netip.MustParsePrefix("240.0.0.0/4"),
	netip.MustParsePrefix("::/128"),
	netip.MustParsePrefix("::1/128"),
	netip.MustParsePrefix("fc00::/7"),
	netip.MustParsePrefix("fe80::/10"),
}

// denied reports a refused destination as a PermissionDenied failure.
func denied(dest string) *bridge.Failure {
	f := bridge.Wrap(bridge.KindRuntime, ErrPrivateAddress, "access to %s denied: private address", dest)
	f.Name = "Error"
	f.Code = "PermissionDenied"
	return f
}

// Blocked reports whether addr must not be contacted. IPv4-mapped IPv6
// addresses are judged by their IPv4 form.
func Blocked(addr netip.Addr) bool {
	addr = addr.Unmap()
	if !addr.IsValid() {
		return true
	}
	for _, p := range blocked {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

// checkDestination rejects URLs whose host is a localhost name or a
// blocked literal address without resolving it. Names that resolve to
// blocked addresses are caught when dialing.
func checkDestination(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return denied(fmt.Sprintf("%q", rawURL))
	}
	host := strings.ToLower(strings.TrimSuffix(u.Hostname(), "."))
	if host == "localhost" || strings.HasSuffix(host, ".localhost") {
		return denied(host)
	}
	if addr, err := netip.ParseAddr(host); err == nil && Blocked(addr) {
		return denied(host)
	}
	return nil
}

// dialPublic resolves the host at connect time and dials the first
// address outside the blocked ranges.
func dialPublic(ctx context.Context, network, hostport string) (net.Conn, error) {
	host, port, err := net.SplitHostPort(hostport)
	if err != nil {
		return nil, fmt.Errorf("invalid address %q: %w", hostport, err)
	}
	addrs, err := net.DefaultResolver.LookupNetIP(ctx, "ip", host)
	if err != nil {
		return nil, fmt.Errorf("lookup %s: %w", host, err)
	}
	var d net.Dialer
	for _, a := range addrs {
		if Blocked(a) {
			continue
		}
		return d.DialContext(ctx, network, net.JoinHostPort(a.Unmap().String(), port))
	}
	return nil, denied(host)
}
