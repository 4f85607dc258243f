package screenshot

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// ReadURLList loads the scheduled refresh list. The file holds either a bare
// JSON array of strings or an object with a "urls" array. Entries are trimmed
// and blanks dropped; validity is checked later by RefreshBatch.
func ReadURLList(path string) ([]string, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- operator-configured path.
	if err != nil {
		return nil, fmt.Errorf("read url list: %w", err)
	}

	var urls []string
	if err := json.Unmarshal(data, &urls); err != nil {
		var wrapped struct {
			URLs *[]string `json:"urls"`
		}
		if wrappedErr := json.Unmarshal(data, &wrapped); wrappedErr != nil || wrapped.URLs == nil {
			return nil, fmt.Errorf("decode url list: %w", err)
		}
		urls = *wrapped.URLs
	}

	out := make([]string, 0, len(urls))
	for _, u := range urls {
		if trimmed := strings.TrimSpace(u); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out, nil
}
