package timespec

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_RFC3339(t *testing.T) {
	got, err := Parse("2026-08-21T13:00:00Z")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 8, 21, 13, 0, 0, 0, time.UTC), got.UTC())
}

func TestParse_DurationIsRelativeToNow(t *testing.T) {
	before := time.Now().Add(-time.Hour)
	got, err := Parse("1h")
	require.NoError(t, err)
	after := time.Now().Add(-time.Hour)

	assert.False(t, got.Before(before), "parsed time %v too early", got)
	assert.False(t, got.After(after), "parsed time %v too late", got)
}

func TestParse_Rejections(t *testing.T) {
	_, err := Parse("")
	assert.EqualError(t, err, "empty time specification")

	_, err = Parse("next tuesday")
	assert.ErrorContains(t, err, "invalid time specification: next tuesday")
}

func TestParseRange(t *testing.T) {
	sinceAt, untilAt, err := ParseRange("2026-08-21T10:00:00Z", "2026-08-21T12:00:00Z")
	require.NoError(t, err)
	assert.True(t, sinceAt.Before(untilAt))

	sinceAt, untilAt, err = ParseRange("", "")
	require.NoError(t, err)
	assert.True(t, sinceAt.IsZero())
	assert.True(t, untilAt.IsZero())
}

func TestParseRange_OrderEnforced(t *testing.T) {
	_, _, err := ParseRange("2026-08-21T12:00:00Z", "2026-08-21T10:00:00Z")
	assert.EqualError(t, err, "--since must be before --until")
}

func TestParseRange_WrapsFlagName(t *testing.T) {
	_, _, err := ParseRange("garbage", "")
	assert.ErrorContains(t, err, "invalid --since:")

	_, _, err = ParseRange("", "garbage")
	assert.ErrorContains(t, err, "invalid --until:")
}
