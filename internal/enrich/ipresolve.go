package enrich

import (
	"net"
	"net/http"
	"net/netip"
	"strings"
)

// UnknownIP is the resolution result when no public candidate exists.
const UnknownIP = "unknown"

// ForwardedPick selects which end of a forwarded-for chain is the client.
type ForwardedPick string

const (
	// PickFirst treats the leftmost entry as the originating client.
	PickFirst ForwardedPick = "first"
	// PickLast is for reverse-proxy chains that append the client last.
	PickLast ForwardedPick = "last"
)

// ParseForwardedPick defaults to PickFirst for anything but "last".
func ParseForwardedPick(s string) ForwardedPick {
	if strings.EqualFold(strings.TrimSpace(s), string(PickLast)) {
		return PickLast
	}
	return PickFirst
}

// AddressHints holds every transport-level hint about the client address,
// in no particular order. Resolve applies precedence.
type AddressHints struct {
	ClientReported    string // sent by the beacon itself
	CFConnectingIP    string // CF-Connecting-IP
	RealIP            string // X-Real-IP
	PlatformForwarded string // X-Vercel-Forwarded-For
	ForwardedFor      string // X-Forwarded-For
	ClientIP          string // X-Client-IP
	RemoteAddr        string // raw connection address, may carry a port
}

// IPResolution is the best-guess client IP plus a fallback taken from the
// forwarded-for chain for geolocation retries.
type IPResolution struct {
	Primary   string
	Secondary string
}

// Known reports whether a public primary address was found.
func (r IPResolution) Known() bool { return r.Primary != "" && r.Primary != UnknownIP }

// IPPolicy configures client address resolution.
type IPPolicy struct {
	Pick ForwardedPick
}

// AddressHintsFromRequest collects the standard proxy and CDN headers.
func AddressHintsFromRequest(r *http.Request, clientReported string) AddressHints {
	return AddressHints{
		ClientReported:    clientReported,
		CFConnectingIP:    r.Header.Get("CF-Connecting-IP"),
		RealIP:            r.Header.Get("X-Real-IP"),
		PlatformForwarded: r.Header.Get("X-Vercel-Forwarded-For"),
		ForwardedFor:      r.Header.Get("X-Forwarded-For"),
		ClientIP:          r.Header.Get("X-Client-IP"),
		RemoteAddr:        r.RemoteAddr,
	}
}

// Resolve picks the highest-precedence public address. Private, loopback
// and malformed candidates are skipped.
func (p IPPolicy) Resolve(h AddressHints) IPResolution {
	candidates := []string{
		h.ClientReported,
		h.CFConnectingIP,
		h.RealIP,
		p.pick(h.PlatformForwarded),
		p.pick(h.ForwardedFor),
		h.ClientIP,
		h.RemoteAddr,
	}
	res := IPResolution{Primary: UnknownIP}
	for _, c := range candidates {
		if ip, ok := publicIP(c); ok {
			res.Primary = ip
			break
		}
	}

	chain := splitChain(h.ForwardedFor)
	if len(chain) == 0 {
		return res
	}
	preferred, opposite := chain[0], chain[len(chain)-1]
	if p.Pick == PickLast {
		preferred, opposite = opposite, preferred
	}
	for _, c := range []string{preferred, opposite} {
		if ip, ok := publicIP(c); ok && ip != res.Primary {
			res.Secondary = ip
			break
		}
	}
	return res
}

func (p IPPolicy) pick(chain string) string {
	parts := splitChain(chain)
	if len(parts) == 0 {
		return ""
	}
	if p.Pick == PickLast {
		return parts[len(parts)-1]
	}
	return parts[0]
}

func splitChain(chain string) []string {
	var out []string
	for _, s := range strings.Split(chain, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// publicIP normalises s (dropping any port or zone) and reports whether it
// is a routable public address.
func publicIP(s string) (string, bool) {
	s = strings.TrimSpace(s)
	if s == "" || strings.EqualFold(s, UnknownIP) {
		return "", false
	}
	addr, err := netip.ParseAddr(s)
	if err != nil {
		host, _, splitErr := net.SplitHostPort(s)
		if splitErr != nil {
			return "", false
		}
		if addr, err = netip.ParseAddr(host); err != nil {
			return "", false
		}
	}
	addr = addr.Unmap().WithZone("")
	if !addr.IsValid() || addr.IsPrivate() || addr.IsLoopback() || addr.IsUnspecified() ||
		addr.IsLinkLocalUnicast() || addr.IsMulticast() {
		return "", false
	}
	return addr.String(), true
}
