package venue

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoffGrowsToMax(t *testing.T) {
	b := Backoff{Min: time.Second, Max: 8 * time.Second, Factor: 2.0}

	assert.Equal(t, time.Second, b.Next(1))
	assert.Equal(t, 2*time.Second, b.Next(2))
	assert.Equal(t, 4*time.Second, b.Next(3))
	assert.Equal(t, 8*time.Second, b.Next(4))
	assert.Equal(t, 8*time.Second, b.Next(10))
}

func TestBackoffClampsAttempt(t *testing.T) {
	b := Backoff{Min: time.Second, Max: 8 * time.Second, Factor: 2.0}
	assert.Equal(t, time.Second, b.Next(0))
	assert.Equal(t, time.Second, b.Next(-3))
}

func TestBackoffJitterBounds(t *testing.T) {
	b := Backoff{Min: time.Second, Max: 8 * time.Second, Factor: 2.0, Jitter: 0.5}
	for i := 0; i < 100; i++ {
		wait := b.Next(2)
		assert.GreaterOrEqual(t, wait, time.Second)
		assert.LessOrEqual(t, wait, 3*time.Second)
	}
}

func TestBackoffDefaultsOnZeroConfig(t *testing.T) {
	var b Backoff
	wait := b.Next(1)
	assert.Greater(t, wait, time.Duration(0))
	assert.LessOrEqual(t, wait, 60*time.Second)
}
