// Package security provides shared security validation functions.
package security

import (
	"fmt"
	"net"
	"net/url"
	"strings"
)

// ValidateEndpoint checks a configured outbound endpoint. Only http and https
// URLs with a host are accepted. Link-local addresses (including the cloud
// metadata endpoint), multicast and unspecified addresses are always
// rejected. Localhost, loopback and private addresses are rejected unless
// allowLocal is set, for example to reach a model served on the same machine.
func ValidateEndpoint(rawURL string, allowLocal bool) error {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}

	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("URL scheme must be http or https, got %q", parsed.Scheme)
	}

	host := parsed.Hostname()
	if host == "" {
		return fmt.Errorf("URL must have a host")
	}

	hostLower := strings.ToLower(host)
	if hostLower == "localhost" || hostLower == "localhost.localdomain" {
		if allowLocal {
			return nil
		}
		return fmt.Errorf("requests to localhost are not allowed")
	}

	ip := net.ParseIP(host)
	if ip == nil {
		// Hostnames are not resolved here.
		return nil
	}

	switch {
	case ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast():
		return fmt.Errorf("requests to link-local addresses are not allowed")
	case ip.IsUnspecified():
		return fmt.Errorf("requests to unspecified addresses are not allowed")
	case ip.IsMulticast():
		return fmt.Errorf("requests to multicast addresses are not allowed")
	case ip.IsLoopback() && !allowLocal:
		return fmt.Errorf("requests to loopback addresses are not allowed")
	case ip.IsPrivate() && !allowLocal:
		return fmt.Errorf("requests to private network addresses are not allowed")
	}
	return nil
}
