package pinned

import "errors"

// Kind classifies fetch failures. Every kind is recoverable from the
// caller's point of view: the preview degrades instead of failing.
type Kind int

// Fetch failure kinds.
const (
	KindRequest Kind = iota + 1
	KindTooManyRedirects
	KindRedirectWithoutLocation
	KindInvalidRedirect
	KindNonSuccess
	KindBodyTooLarge
	KindBodyRead
	KindDNSTimeout
	KindUnresolvable
	KindClientSetup
	KindBlocked
)

func (k Kind) String() string {
	switch k {
	case KindTooManyRedirects:
		return "too many redirects"
	case KindRedirectWithoutLocation:
		return "received redirect without location"
	case KindInvalidRedirect:
		return "received invalid redirect location"
	case KindNonSuccess:
		return "received non-success response"
	case KindBodyTooLarge:
		return "response body too large"
	case KindBodyRead:
		return "failed reading response body"
	case KindDNSTimeout:
		return "host lookup timed out"
	case KindUnresolvable:
		return "unable to resolve host"
	case KindClientSetup:
		return "failed to prepare request client"
	case KindBlocked:
		return "host address is blocked"
	default:
		return "failed to fetch URL"
	}
}

func (k Kind) label() string {
	switch k {
	case KindTooManyRedirects:
		return "too_many_redirects"
	case KindRedirectWithoutLocation, KindInvalidRedirect:
		return "bad_redirect"
	case KindNonSuccess:
		return "non_success"
	case KindBodyTooLarge:
		return "body_too_large"
	case KindBodyRead:
		return "body_read"
	case KindDNSTimeout:
		return "dns_timeout"
	case KindUnresolvable:
		return "unresolvable"
	case KindClientSetup:
		return "client_setup"
	case KindBlocked:
		return "blocked"
	default:
		return "request"
	}
}

// Error is returned by Fetch.
type Error struct {
	Kind       Kind
	StatusCode int
	Cause      error
}

func newError(kind Kind, cause error) *Error {
	return &Error{Kind: kind, Cause: cause}
}

func (e *Error) Error() string {
	if e.Kind == KindBlocked && e.Cause != nil {
		// Surface the validator's wording, e.g. "URL scheme must be http or https".
		return e.Cause.Error()
	}
	return e.Kind.String()
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// KindOf extracts the Kind from err, defaulting to KindRequest.
func KindOf(err error) Kind {
	var fetchErr *Error
	if errors.As(err, &fetchErr) {
		return fetchErr.Kind
	}
	return KindRequest
}
