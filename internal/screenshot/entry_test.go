package screenshot

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecide(t *testing.T) {
	t.Parallel()

	entry := &Entry{Image: "img", CapturedAt: 900, ExpiresAt: 1000}
	const grace = 60

	testCases := []struct {
		name  string
		now   int64
		entry *Entry
		want  Decision
	}{
		{"missing", 1000, nil, DecisionMissingOrExpired},
		{"before expiry", 999, entry, DecisionFresh},
		{"exactly at expiry", 1000, entry, DecisionStaleWithinGrace},
		{"inside grace", 1030, entry, DecisionStaleWithinGrace},
		{"exactly at grace limit", 1060, entry, DecisionStaleWithinGrace},
		{"past grace", 1061, entry, DecisionMissingOrExpired},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.want, Decide(tc.now, tc.entry, grace))
		})
	}
}

func TestDecide_GraceDoesNotOverflow(t *testing.T) {
	t.Parallel()

	entry := &Entry{ExpiresAt: 1 << 62}
	assert.Equal(t, DecisionStaleWithinGrace, Decide(1<<62+1, entry, 1<<62))
}

func TestDecisionString(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "fresh", DecisionFresh.String())
	assert.Equal(t, "stale", DecisionStaleWithinGrace.String())
	assert.Equal(t, "missing_or_expired", DecisionMissingOrExpired.String())
}

func TestIndexJSONShape(t *testing.T) {
	t.Parallel()

	raw := `{"entries":{"https://example.com/":{"image":"data:x","captured_at":10,"expires_at":20,"source":"scheduled-refresh"}}}`
	var index Index
	require.NoError(t, json.Unmarshal([]byte(raw), &index))
	assert.Equal(t, Entry{Image: "data:x", CapturedAt: 10, ExpiresAt: 20, Source: SourceScheduled},
		index.Entries["https://example.com/"])

	out, err := json.Marshal(index)
	require.NoError(t, err)
	assert.NotContains(t, string(out), "last_error")
}
