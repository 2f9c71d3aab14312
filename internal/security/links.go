// Package security guards outbound fetches of links the service did not
// choose itself, such as result pages returned by a search engine.
package security

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"

	"harmony-core/internal/domain"
)

// ErrLinkBlocked marks a link that points at a private or reserved address.
var ErrLinkBlocked = errors.New("link blocked")

var privateRanges = mustParseCIDRs(
	"10.0.0.0/8",
	"172.16.0.0/12",
	"192.168.0.0/16",
	"127.0.0.0/8",
	"169.254.0.0/16",
	"100.64.0.0/10",
	"0.0.0.0/8",
	"::1/128",
	"fc00::/7",
	"fe80::/10",
)

func mustParseCIDRs(cidrs ...string) []*net.IPNet {
	nets := make([]*net.IPNet, 0, len(cidrs))
	for _, c := range cidrs {
		_, n, err := net.ParseCIDR(c)
		if err != nil {
			panic(fmt.Sprintf("invalid CIDR %q: %v", c, err))
		}
		nets = append(nets, n)
	}
	return nets
}

// IsPrivateIP reports whether ip is loopback, link-local or in a private
// or reserved range.
func IsPrivateIP(ip net.IP) bool {
	if v4 := ip.To4(); v4 != nil {
		ip = v4
	}
	for _, n := range privateRanges {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

// CheckLink validates a link without resolving it: the scheme must be http
// or https, the host must be present, and neither localhost nor a literal
// private address is accepted. Names that resolve to private addresses are
// caught at dial time by GuardedDialContext.
func CheckLink(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return blocked("invalid URL: " + err.Error())
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
	default:
		return blocked(fmt.Sprintf("scheme %q not allowed", u.Scheme))
	}

	host := strings.ToLower(u.Hostname())
	switch {
	case host == "":
		return blocked("empty host")
	case host == "localhost" || strings.HasSuffix(host, ".localhost"):
		return blocked("host " + host)
	}
	if ip := net.ParseIP(host); ip != nil && IsPrivateIP(ip) {
		return blocked(fmt.Sprintf("IP %s is private", ip))
	}
	return nil
}

func blocked(detail string) error {
	return domain.NewDomainError("security.CheckLink", ErrLinkBlocked, detail)
}

// Resolver looks up host addresses. *net.Resolver implements it.
type Resolver interface {
	LookupIPAddr(ctx context.Context, host string) ([]net.IPAddr, error)
}

// GuardedDialContext returns a DialContext that resolves the host once,
// rejects it when any address is private, and dials the first address
// directly so a second lookup cannot rebind the name. A nil resolver uses
// net.DefaultResolver.
func GuardedDialContext(resolver Resolver, timeout time.Duration) func(ctx context.Context, network, addr string) (net.Conn, error) {
	if resolver == nil {
		resolver = net.DefaultResolver
	}
	dialer := &net.Dialer{Timeout: timeout, KeepAlive: 30 * time.Second}
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		host, port, err := net.SplitHostPort(addr)
		if err != nil {
			return nil, fmt.Errorf("invalid address: %w", err)
		}
		ips, err := resolver.LookupIPAddr(ctx, host)
		if err != nil {
			return nil, fmt.Errorf("lookup %s: %w", host, err)
		}
		if len(ips) == 0 {
			return nil, fmt.Errorf("lookup %s: no addresses", host)
		}
		for _, ip := range ips {
			if IsPrivateIP(ip.IP) {
				return nil, domain.NewDomainError("security.Dial", ErrLinkBlocked,
					fmt.Sprintf("%s resolves to private IP %s", host, ip.IP))
			}
		}
		return dialer.DialContext(ctx, network, net.JoinHostPort(ips[0].IP.String(), port))
	}
}
