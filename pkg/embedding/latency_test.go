package embedding

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLatencyTrackerEmpty(t *testing.T) {
	lt := NewLatencyTracker(10)
	assert.Equal(t, 0.0, lt.P95())
}

func TestLatencyTrackerP95(t *testing.T) {
	lt := NewLatencyTracker(100)
	for i := 1; i <= 100; i++ {
		lt.Record(time.Duration(i) * time.Millisecond)
	}
	assert.Equal(t, 95.0, lt.P95())
}

func TestLatencyTrackerSingleSample(t *testing.T) {
	lt := NewLatencyTracker(10)
	lt.Record(42 * time.Millisecond)
	assert.Equal(t, 42.0, lt.P95())
}

func TestLatencyTrackerWindowEvictsOldSamples(t *testing.T) {
	lt := NewLatencyTracker(4)

	lt.Record(1000 * time.Millisecond)
	lt.Record(1000 * time.Millisecond)
	lt.Record(1000 * time.Millisecond)
	lt.Record(1000 * time.Millisecond)
	assert.Equal(t, 1000.0, lt.P95())

	// A full window of fast samples pushes the spike out
	for i := 0; i < 4; i++ {
		lt.Record(10 * time.Millisecond)
	}
	assert.Equal(t, 10.0, lt.P95())
}
