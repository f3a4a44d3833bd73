package link

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoffFixed(t *testing.T) {
	b := Backoff{Initial: 5 * time.Second, Multiplier: 1}
	for attempt := 1; attempt < 10; attempt++ {
		assert.Equal(t, 5*time.Second, b.Delay(attempt))
	}
}

func TestBackoffExponentialCapped(t *testing.T) {
	b := Backoff{Initial: time.Second, Max: 30 * time.Second, Multiplier: 2}

	assert.Equal(t, time.Second, b.Delay(1))
	assert.Equal(t, 2*time.Second, b.Delay(2))
	assert.Equal(t, 4*time.Second, b.Delay(3))
	assert.Equal(t, 16*time.Second, b.Delay(5))
	assert.Equal(t, 30*time.Second, b.Delay(6))
	assert.Equal(t, 30*time.Second, b.Delay(100))
}

func TestBackoffZero(t *testing.T) {
	assert.Zero(t, Backoff{}.Delay(3))
}

func TestDropSignalFirstWins(t *testing.T) {
	d := NewDropSignal()
	assert.False(t, d.Dropped())
	assert.NoError(t, d.Err())

	d.Drop(assert.AnError)
	d.Drop(nil)

	assert.True(t, d.Dropped())
	assert.ErrorIs(t, d.Err(), assert.AnError)
	<-d.Done()
}
