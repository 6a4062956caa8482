package security

import (
	"fmt"
	"net/http"
	"net/netip"
	"strings"
	"sync"
)

// DefaultTrustedProxies are the networks whose forwarding headers are
// honoured when none are configured.
var DefaultTrustedProxies = []string{"127.0.0.0/8", "::1/128", "10.0.0.0/8", "172.16.0.0/12", "192.168.0.0/16"}

var (
	proxyMu        sync.RWMutex
	trustedProxies = mustPrefixes(DefaultTrustedProxies)
)

// SetTrustedProxies replaces the trusted proxy networks. An empty list
// restores the defaults.
func SetTrustedProxies(cidrs []string) error {
	if len(cidrs) == 0 {
		cidrs = DefaultTrustedProxies
	}
	prefixes, err := parsePrefixes(cidrs)
	if err != nil {
		return err
	}
	proxyMu.Lock()
	trustedProxies = prefixes
	proxyMu.Unlock()
	return nil
}

func parsePrefixes(cidrs []string) ([]netip.Prefix, error) {
	prefixes := make([]netip.Prefix, 0, len(cidrs))
	for _, cidr := range cidrs {
		p, err := netip.ParsePrefix(strings.TrimSpace(cidr))
		if err != nil {
			return nil, fmt.Errorf("trusted proxy %q: %w", cidr, err)
		}
		prefixes = append(prefixes, p.Masked())
	}
	return prefixes, nil
}

func mustPrefixes(cidrs []string) []netip.Prefix {
	prefixes, err := parsePrefixes(cidrs)
	if err != nil {
		panic(err)
	}
	return prefixes
}

func isTrustedProxy(addr netip.Addr) bool {
	addr = addr.Unmap()
	proxyMu.RLock()
	defer proxyMu.RUnlock()
	for _, p := range trustedProxies {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

// ClientIP returns the address a connection is accounted to. Forwarding
// headers are read only from trusted proxies, and X-Forwarded-For is walked
// from the nearest hop so a client cannot prepend a spoofed address.
func ClientIP(r *http.Request) string {
	direct, err := netip.ParseAddrPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	addr := direct.Addr().Unmap()
	if !isTrustedProxy(addr) {
		return addr.String()
	}

	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		hops := strings.Split(xff, ",")
		for i := len(hops) - 1; i >= 0; i-- {
			hop, err := netip.ParseAddr(strings.TrimSpace(hops[i]))
			if err != nil {
				break
			}
			if !isTrustedProxy(hop) || i == 0 {
				return hop.Unmap().String()
			}
		}
	}
	if xri, err := netip.ParseAddr(strings.TrimSpace(r.Header.Get("X-Real-Ip"))); err == nil {
		return xri.Unmap().String()
	}
	return addr.String()
}
