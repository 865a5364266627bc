package metrics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRoundTripCollectorP95(t *testing.T) {
	c := NewRoundTripCollector()
	for i := 1; i <= 100; i++ {
		c.Record("lan", time.Duration(i)*time.Millisecond)
	}

	p95 := c.P95("lan")
	assert.InDelta(t, 95*time.Millisecond, p95, float64(2*time.Millisecond))
}

func TestRoundTripCollectorEmptyIsZero(t *testing.T) {
	c := NewRoundTripCollector()
	assert.Equal(t, time.Duration(0), c.P95("cloud"))
}

func TestRoundTripCollectorReset(t *testing.T) {
	c := NewRoundTripCollector()
	c.Record("lan", 10*time.Millisecond)
	c.Reset()
	assert.Equal(t, time.Duration(0), c.P95("lan"))
}
