package clock_test

import (
	"testing"
	"time"

	"github.com/BradenHooton/estateguard/internal/clock"
	"github.com/stretchr/testify/assert"
)

func TestFake_AdvanceAndSince(t *testing.T) {
	start := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	c := clock.NewFake(start)

	c.Advance(10 * time.Minute)
	assert.Equal(t, start.Add(10*time.Minute), c.Now())
	assert.Equal(t, start.Add(-5*time.Minute), clock.Since(c, 15*time.Minute))

	c.Set(start)
	assert.Equal(t, start, c.Now())
}

func TestSystem_Now(t *testing.T) {
	before := time.Now()
	got := clock.System{}.Now()
	assert.False(t, got.Before(before))
}
