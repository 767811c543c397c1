// Package security validates user-supplied endpoints before any client is
// built from them. Experiment files may point the engine at arbitrary base
// URLs; the checks here keep a misconfigured or hostile file from steering
// completion traffic at internal infrastructure.
package security

import (
	"net/netip"
	"net/url"
	"strings"

	"github.com/pkg/errors"
)

// OutboundURLOptions relaxes the validation for deployments that genuinely
// live on the local network, like an ollama daemon.
type OutboundURLOptions struct {
	// AllowHTTP permits plain http URLs. https always passes.
	AllowHTTP bool
	// AllowLocalNetworks permits loopback, private and link-local targets
	// as well as localhost-style hostnames.
	AllowLocalNetworks bool
}

// ValidateOutboundURL checks that a configured base URL is acceptable for
// outbound provider traffic. IP literals are judged without DNS lookups;
// hostnames that resolve somewhere local are the deployment's own concern.
func ValidateOutboundURL(rawURL string, opts OutboundURLOptions) error {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return errors.Wrap(err, "invalid URL")
	}

	if err := checkScheme(parsed.Scheme, opts); err != nil {
		return err
	}

	host := strings.ToLower(parsed.Hostname())
	if host == "" {
		return errors.New("URL host is required")
	}
	if opts.AllowLocalNetworks {
		return nil
	}

	if host == "localhost" || strings.HasSuffix(host, ".localhost") || strings.HasSuffix(host, ".local") {
		return errors.Errorf("local hostname %q is not allowed", host)
	}
	return checkAddr(host)
}

func checkScheme(scheme string, opts OutboundURLOptions) error {
	switch scheme {
	case "https":
		return nil
	case "http":
		if !opts.AllowHTTP {
			return errors.New("http scheme is not allowed")
		}
		return nil
	default:
		return errors.Errorf("unsupported URL scheme %q", scheme)
	}
}

func checkAddr(host string) error {
	addr, err := netip.ParseAddr(host)
	if err != nil {
		// a hostname, not an IP literal
		return nil
	}
	if addr.Zone() != "" {
		return errors.Errorf("zoned IP address %q is not allowed", host)
	}

	addr = addr.Unmap()
	switch {
	case addr.IsUnspecified(), addr.IsMulticast():
		return errors.Errorf("disallowed IP address %q", host)
	case addr.IsLoopback(), addr.IsPrivate(), addr.IsLinkLocalUnicast(), addr.IsLinkLocalMulticast():
		return errors.Errorf("local network IP %q is not allowed", host)
	}
	return nil
}
