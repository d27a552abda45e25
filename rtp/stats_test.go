package rtp

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPtimeStatsRecord(t *testing.T) {
	var stats PtimeStats

	assert.True(t, stats.Record(20*time.Millisecond))
	assert.True(t, stats.Record(18*time.Millisecond))
	assert.True(t, stats.Record(25*time.Millisecond))
	assert.False(t, stats.Record(5*time.Millisecond))
	assert.False(t, stats.Record(80*time.Millisecond))

	assert.Equal(t, 3, stats.Count)
	assert.Equal(t, 18*time.Millisecond, stats.Min)
	assert.Equal(t, 25*time.Millisecond, stats.Max)
	assert.Equal(t, 21*time.Millisecond, stats.Mean())
}

func TestPtimeStatsEmptyMean(t *testing.T) {
	var stats PtimeStats
	assert.Equal(t, time.Duration(0), stats.Mean())
}
