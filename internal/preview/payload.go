// Package preview orchestrates a single link preview: validation, cache
// lookup, metadata fetch, and the screenshot fallback.
package preview

// Payload is the JSON body returned by the preview endpoint and stored in the
// preview cache.
type Payload struct {
	OK          bool   `json:"ok"`
	URL         string `json:"url,omitempty"`
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
	Image       string `json:"image,omitempty"`
	Error       string `json:"error,omitempty"`
}

// ErrorPayload builds the body returned for rejected requests.
func ErrorPayload(message string) Payload {
	return Payload{OK: false, Error: message}
}
