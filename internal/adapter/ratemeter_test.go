package adapter

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRateMeterFirstSampleIsZero(t *testing.T) {
	var m RateMeter
	down, up := m.Update(1000, 500, time.Now())
	assert.Zero(t, down)
	assert.Zero(t, up)
}

func TestRateMeterComputesRates(t *testing.T) {
	var m RateMeter
	start := time.Now()

	m.Update(1000, 500, start)
	down, up := m.Update(3000, 1500, start.Add(2*time.Second))
	assert.InDelta(t, 1000, down, 0.01)
	assert.InDelta(t, 500, up, 0.01)
}

func TestRateMeterCounterResetYieldsZero(t *testing.T) {
	var m RateMeter
	start := time.Now()

	m.Update(5000, 5000, start)
	// A fresh session restarts the cumulative counters below the previous
	// sample; the meter must not report a negative or huge rate.
	down, up := m.Update(100, 100, start.Add(time.Second))
	assert.Zero(t, down)
	assert.Zero(t, up)
}

func TestRateMeterReset(t *testing.T) {
	var m RateMeter
	start := time.Now()

	m.Update(1000, 1000, start)
	m.Reset()

	down, up := m.Update(9000, 9000, start.Add(time.Second))
	assert.Zero(t, down, "first sample after reset carries no rate")
	assert.Zero(t, up)
}
