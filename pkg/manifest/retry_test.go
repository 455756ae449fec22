package manifest

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestParseRetryOn(t *testing.T) {
	c, err := ParseRetryOn([]string{"network", " TIMEOUT ", "5xx", "429", "408-409"})
	require.NoError(t, err)
	assert.True(t, c.Network)
	assert.True(t, c.Timeout)
	for _, code := range []int{500, 503, 599, 429, 408, 409} {
		assert.True(t, c.RetryableStatus(code), code)
	}
	for _, code := range []int{400, 404, 410, 428, 200} {
		assert.False(t, c.RetryableStatus(code), code)
	}
}

func TestParseRetryOnRejects(t *testing.T) {
	for _, s := range []string{"0xx", "6xx", "x", "99", "600", "504-500", "a-b", ""} {
		_, err := ParseRetryOn([]string{s})
		assert.Error(t, err, "%q", s)
	}
}

func TestRetryableStatusMatchesRange(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		lo := rapid.IntRange(100, 599).Draw(t, "lo")
		hi := rapid.IntRange(lo, 599).Draw(t, "hi")
		code := rapid.IntRange(100, 599).Draw(t, "code")
		c := RetryClasses{Statuses: []StatusRange{{Lo: lo, Hi: hi}}}
		if c.RetryableStatus(code) != (code >= lo && code <= hi) {
			t.Fatalf("code %d range %d-%d", code, lo, hi)
		}
	})
}
