// Package urlguard parses user supplied URLs with the WHATWG algorithm and
// rejects anything that could reach the host, the local network, or a
// reserved address range.
package urlguard

import (
	"errors"
	"net/netip"
	"strings"

	"github.com/nlnwa/whatwg-url/url"
)

// Reason is the closed set of validation failures.
type Reason int

// Validation failure reasons.
const (
	ReasonInvalidURL Reason = iota + 1
	ReasonScheme
	ReasonMissingHost
	ReasonLocalHost
	ReasonBlockedAddress
)

// String returns the message surfaced to API callers.
func (r Reason) String() string {
	switch r {
	case ReasonInvalidURL:
		return "invalid URL"
	case ReasonScheme:
		return "URL scheme must be http or https"
	case ReasonMissingHost:
		return "URL host is required"
	case ReasonLocalHost:
		return "local addresses are not allowed"
	case ReasonBlockedAddress:
		return "host address is blocked"
	default:
		return "invalid URL"
	}
}

// Error reports why a URL was refused.
type Error struct {
	Reason Reason
	Cause  error
}

func (e *Error) Error() string {
	return e.Reason.String()
}

func (e *Error) Unwrap() error {
	return e.Cause
}

func reject(reason Reason, cause error) *Error {
	return &Error{Reason: reason, Cause: cause}
}

// ReasonOf extracts the Reason from err, or 0 when err is not a validation error.
func ReasonOf(err error) Reason {
	var guardErr *Error
	if errors.As(err, &guardErr) {
		return guardErr.Reason
	}
	return 0
}

// Target is a parsed, normalized URL. Two inputs that name the same resource
// produce the same Key.
type Target struct {
	u *url.Url
}

// Parse parses raw without validating its destination.
func Parse(raw string) (*Target, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, reject(ReasonInvalidURL, nil)
	}
	u, err := url.Parse(trimmed)
	if err != nil {
		return nil, reject(ReasonInvalidURL, err)
	}
	return &Target{u: u}, nil
}

// ParseAndValidate parses raw and applies Validate.
func ParseAndValidate(raw string) (*Target, error) {
	t, err := Parse(raw)
	if err != nil {
		return nil, err
	}
	if err := Validate(t); err != nil {
		return nil, err
	}
	return t, nil
}

// Resolve joins ref against t the way a browser follows a link or Location header.
func (t *Target) Resolve(ref string) (*Target, error) {
	u, err := t.u.Parse(strings.TrimSpace(ref))
	if err != nil {
		return nil, reject(ReasonInvalidURL, err)
	}
	return &Target{u: u}, nil
}

// Key is the normalized serialization used as a cache key.
func (t *Target) Key() string {
	return t.u.Href(false)
}

// String is the normalized serialization.
func (t *Target) String() string {
	return t.u.Href(false)
}

// Scheme returns the scheme without the trailing colon.
func (t *Target) Scheme() string {
	return t.u.Scheme()
}

// Host returns the hostname with IPv6 brackets removed.
func (t *Target) Host() string {
	return strings.TrimSuffix(strings.TrimPrefix(t.u.Hostname(), "["), "]")
}

// Authority returns the host as written in the URL, with the port only when
// it differs from the scheme default.
func (t *Target) Authority() string {
	return t.u.Host()
}

// Port returns the explicit port, or the scheme default.
func (t *Target) Port() int {
	return t.u.DecodedPort()
}

// Addr returns the literal IP address in the host position, if any.
func (t *Target) Addr() (netip.Addr, bool) {
	addr, err := netip.ParseAddr(t.Host())
	if err != nil {
		return netip.Addr{}, false
	}
	return addr, true
}

// Validate enforces the destination policy on an already parsed target.
func Validate(t *Target) error {
	switch t.Scheme() {
	case "http", "https":
	default:
		return reject(ReasonScheme, nil)
	}

	host := strings.TrimSuffix(strings.ToLower(t.Host()), ".")
	if host == "" {
		return reject(ReasonMissingHost, nil)
	}
	if host == "localhost" || strings.HasSuffix(host, ".localhost") {
		return reject(ReasonLocalHost, nil)
	}

	if addr, ok := t.Addr(); ok {
		if !AllowedIP(addr) {
			return reject(ReasonBlockedAddress, nil)
		}
		return nil
	}
	if looksNumeric(host) {
		// The parser decodes every legal numeric form to dotted quad, so a
		// numeric host that reaches this point is not an address we can vet.
		return reject(ReasonBlockedAddress, nil)
	}
	return nil
}

func looksNumeric(host string) bool {
	last := host
	if i := strings.LastIndexByte(host, '.'); i >= 0 {
		last = host[i+1:]
	}
	if last == "" {
		return false
	}
	if strings.HasPrefix(last, "0x") || strings.HasPrefix(last, "0X") {
		return true
	}
	for _, r := range last {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

var (
	ipv4Documentation = []netip.Prefix{
		netip.MustParsePrefix("192.0.2.0/24"),
		netip.MustParsePrefix("198.51.100.0/24"),
		netip.MustParsePrefix("203.0.113.0/24"),
	}
	ipv4ThisNetwork = netip.MustParsePrefix("0.0.0.0/8")
	ipv4Broadcast   = netip.MustParseAddr("255.255.255.255")
	ipv6UniqueLocal = netip.MustParsePrefix("fc00::/7")
	ipv6Doc         = netip.MustParsePrefix("2001:db8::/32")
)

// AllowedIP reports whether addr is a public unicast address. IPv4-mapped
// (::ffff:a.b.c.d) and IPv4-compatible (::a.b.c.d) IPv6 addresses are judged
// by their IPv4 form.
func AllowedIP(addr netip.Addr) bool {
	addr = embeddedIPv4(addr.Unmap())
	if !addr.IsValid() {
		return false
	}
	if addr.Is4() {
		return allowedIPv4(addr)
	}
	return allowedIPv6(addr)
}

// embeddedIPv4 returns the IPv4 address inside a ::/96 address, or addr
// unchanged.
func embeddedIPv4(addr netip.Addr) netip.Addr {
	if !addr.Is6() || addr.Zone() != "" {
		return addr
	}
	b := addr.As16()
	for _, octet := range b[:12] {
		if octet != 0 {
			return addr
		}
	}
	return netip.AddrFrom4([4]byte{b[12], b[13], b[14], b[15]})
}

func allowedIPv4(addr netip.Addr) bool {
	switch {
	case addr.IsPrivate(),
		addr.IsLoopback(),
		addr.IsLinkLocalUnicast(),
		addr.IsMulticast(),
		addr.IsUnspecified(),
		addr == ipv4Broadcast,
		ipv4ThisNetwork.Contains(addr):
		return false
	}
	for _, p := range ipv4Documentation {
		if p.Contains(addr) {
			return false
		}
	}
	return true
}

func allowedIPv6(addr netip.Addr) bool {
	switch {
	case addr.IsLoopback(),
		addr.IsUnspecified(),
		addr.IsMulticast(),
		addr.IsLinkLocalUnicast(),
		ipv6UniqueLocal.Contains(addr),
		ipv6Doc.Contains(addr):
		return false
	}
	return true
}
