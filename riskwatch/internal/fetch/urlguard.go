package fetch

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
)

var (
	// ErrUnsafeScheme rejects anything but http and https.
	ErrUnsafeScheme = errors.New("fetch: only http and https URLs are allowed")
	// ErrPrivateTarget rejects URLs resolving to loopback, link-local or
	// private addresses.
	ErrPrivateTarget = errors.New("fetch: URL targets a private address")
)

var privateNets = func() []*net.IPNet {
	var nets []*net.IPNet
	for _, cidr := range []string{"10.0.0.0/8", "172.16.0.0/12", "192.168.0.0/16", "100.64.0.0/10", "fc00::/7"} {
		_, n, _ := net.ParseCIDR(cidr)
		nets = append(nets, n)
	}
	return nets
}()

// ValidateScheme accepts any absolute http(s) URL with a host.
func ValidateScheme(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("fetch: invalid URL: %w", err)
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
	default:
		return ErrUnsafeScheme
	}
	if u.Hostname() == "" {
		return fmt.Errorf("fetch: URL %q has no host", raw)
	}
	return nil
}

// ValidatePublicURL is ValidateScheme plus a check that the host does not
// resolve to a non-public address. A DNS failure passes; the request fails
// later with a network error.
func ValidatePublicURL(raw string) error {
	if err := ValidateScheme(raw); err != nil {
		return err
	}
	u, _ := url.Parse(raw)
	host := u.Hostname()
	if ip := net.ParseIP(host); ip != nil {
		if isPrivate(ip) {
			return ErrPrivateTarget
		}
		return nil
	}
	addrs, err := net.LookupHost(host)
	if err != nil {
		return nil
	}
	for _, a := range addrs {
		if ip := net.ParseIP(a); ip != nil && isPrivate(ip) {
			return ErrPrivateTarget
		}
	}
	return nil
}

func isPrivate(ip net.IP) bool {
	if ip.IsLoopback() || ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() || ip.IsUnspecified() {
		return true
	}
	for _, n := range privateNets {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}
