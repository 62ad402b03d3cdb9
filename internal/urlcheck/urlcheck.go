// Package urlcheck validates callback URLs before a job is admitted.
package urlcheck

import (
	"fmt"
	"net/netip"
	"net/url"
	"strings"
)

// Policy controls which callback targets are rejected.
type Policy struct {
	BlockLocalhost  bool
	BlockPrivateIPs bool
}

// Validate checks that rawURL is an http(s) URL with a hostname and, per the
// policy, does not point at localhost or a private address. Domain names are
// not resolved; only literal IPs are classified.
func (p Policy) Validate(rawURL string) error {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}

	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("invalid scheme %q: only http and https are allowed", parsed.Scheme)
	}

	host := parsed.Hostname()
	if host == "" {
		return fmt.Errorf("invalid URL: no hostname")
	}

	if p.BlockLocalhost {
		switch strings.ToLower(host) {
		case "localhost", "127.0.0.1", "::1":
			return fmt.Errorf("localhost URLs are not allowed")
		}
	}

	if addr, err := netip.ParseAddr(host); err == nil {
		if p.BlockPrivateIPs && (addr.IsPrivate() || addr.IsLoopback() || addr.IsLinkLocalUnicast() || addr.IsLinkLocalMulticast()) {
			return fmt.Errorf("private or internal IP addresses are not allowed: %s", host)
		}
	}

	return nil
}
