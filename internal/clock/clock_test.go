package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeSlot(t *testing.T) {
	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	in := time.Date(2026, 3, 12, 14, 30, 45, 123456789, time.UTC)
	got := NormalizeSlot(in, loc)

	assert.Equal(t, loc, got.Location())
	assert.Zero(t, got.Second())
	assert.Zero(t, got.Nanosecond())
	// 14:30 UTC is 10:30 in New York during EDT.
	assert.Equal(t, 10, got.Hour())
	assert.Equal(t, 30, got.Minute())
}

func TestNormalizeSlotSecondsCollapse(t *testing.T) {
	loc := time.UTC
	a := NormalizeSlot(time.Date(2026, 3, 12, 14, 30, 5, 0, loc), loc)
	b := NormalizeSlot(time.Date(2026, 3, 12, 14, 30, 55, 0, loc), loc)
	assert.True(t, a.Equal(b), "same minute is the same slot")
}

func TestValidateLead(t *testing.T) {
	now := time.Date(2026, 3, 12, 9, 0, 0, 0, time.UTC)
	lead := 5 * time.Minute

	assert.ErrorIs(t, ValidateLead(now, now.Add(-time.Hour), lead), ErrSlotInPast)
	assert.ErrorIs(t, ValidateLead(now, now, lead), ErrSlotInPast)
	assert.ErrorIs(t, ValidateLead(now, now.Add(2*time.Minute), lead), ErrSlotTooSoon)
	// Landing exactly on now + lead is still too soon; strictly later is required.
	assert.ErrorIs(t, ValidateLead(now, now.Add(5*time.Minute), lead), ErrSlotTooSoon)
	assert.NoError(t, ValidateLead(now, now.Add(5*time.Minute+time.Second), lead))
	assert.NoError(t, ValidateLead(now, now.Add(2*time.Hour), lead))
}

func TestClinicClockLocation(t *testing.T) {
	loc, err := time.LoadLocation("Asia/Tokyo")
	require.NoError(t, err)

	clk := NewClinicClock(loc)
	assert.Equal(t, loc, clk.Now().Location())
}
