package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestIsAtMidnight(t *testing.T) {
	// 03:30 UTC is 23:30 in New York (EDT) and 05:30 in Berlin.
	now := time.Date(2025, 6, 2, 3, 30, 0, 0, time.UTC)

	assert.False(t, IsAtMidnight("UTC", now))
	assert.False(t, IsAtMidnight("America/New_York", now))
	assert.False(t, IsAtMidnight("Europe/Berlin", now))

	// 04:30 UTC is 00:30 in New York.
	later := time.Date(2025, 6, 2, 4, 30, 0, 0, time.UTC)
	assert.True(t, IsAtMidnight("America/New_York", later))

	assert.False(t, IsAtMidnight("Not/AZone", later))
}

func TestLocalDate(t *testing.T) {
	// 23:30 EDT June 1 is June 2 in UTC, but the local date is still June 1.
	now := time.Date(2025, 6, 2, 3, 30, 0, 0, time.UTC)

	assert.Equal(t, time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC), localDate("America/New_York", now))
	assert.Equal(t, time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC), localDate("UTC", now))
	assert.Equal(t, time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC), localDate("Not/AZone", now),
		"unknown zones fall back to UTC")
}

func TestSummaryStatus(t *testing.T) {
	cases := []struct {
		name    string
		summary ResetSummary
		want    string
	}{
		{"all reset", ResetSummary{Reset: 10}, "SUCCESS"},
		{"partial", ResetSummary{Reset: 7, Failed: 3}, "PARTIAL"},
		{"all failed", ResetSummary{Failed: 5}, "FAILED"},
		{"nothing to do", ResetSummary{}, "SUCCESS"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, string(deriveStatus(tc.summary.Reset, tc.summary.Failed)))
		})
	}
}
