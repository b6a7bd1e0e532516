package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func at(hour, minute int) time.Time {
	return time.Date(2026, 8, 25, hour, minute, 0, 0, time.Local)
}

func TestParseWindow(t *testing.T) {
	w, err := ParseWindow("06:00", "22:30")
	require.NoError(t, err)
	assert.Equal(t, ClockTime{Hour: 6}, w.Start)
	assert.Equal(t, ClockTime{Hour: 22, Minute: 30}, w.End)
	assert.Equal(t, "06:00-22:30", w.String())
}

func TestParseWindowInvalid(t *testing.T) {
	for _, s := range []string{"6", "25:00", "12:60", "noon", "-1:30", "06:00:30", "06:00xyz", "06:00 "} {
		_, err := ParseClockTime(s)
		assert.Error(t, err, s)
	}
}

func TestParseClockTimeShortHour(t *testing.T) {
	c, err := ParseClockTime("6:05")
	require.NoError(t, err)
	assert.Equal(t, ClockTime{Hour: 6, Minute: 5}, c)
}

func TestWindowContains(t *testing.T) {
	w, err := ParseWindow("09:00", "17:00")
	require.NoError(t, err)

	assert.True(t, w.Contains(at(9, 0)), "start is inclusive")
	assert.True(t, w.Contains(at(12, 30)))
	assert.False(t, w.Contains(at(17, 0)), "end is exclusive")
	assert.False(t, w.Contains(at(8, 59)))
	assert.False(t, w.Contains(at(23, 0)))
}

func TestWindowWrapsMidnight(t *testing.T) {
	w, err := ParseWindow("06:00", "00:30")
	require.NoError(t, err)

	assert.True(t, w.Contains(at(23, 0)))
	assert.True(t, w.Contains(at(0, 15)))
	assert.False(t, w.Contains(at(1, 0)))
	assert.False(t, w.Contains(at(5, 0)))
	assert.True(t, w.Contains(at(6, 0)))
}

func TestWindowDegenerate(t *testing.T) {
	w := Window{Start: ClockTime{Hour: 8}, End: ClockTime{Hour: 8}}
	assert.True(t, w.Contains(at(8, 0)))
	assert.True(t, w.Contains(at(20, 0)))
}
