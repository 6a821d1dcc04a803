package money

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEqual_IgnoresSignAndFloatNoise(t *testing.T) {
	assert.True(t, Equal(45.99, -45.99))
	assert.True(t, Equal(0.1+0.2, 0.3))
	assert.False(t, Equal(45.99, 45.98))
}

func TestWithinAbs(t *testing.T) {
	assert.True(t, WithinAbs(100.00, -100.10, 0.10))
	assert.False(t, WithinAbs(100.00, -100.20, 0.10))
}

func TestWithinRel(t *testing.T) {
	assert.True(t, WithinRel(100.00, 104.00, 0.05))
	assert.False(t, WithinRel(100.00, 110.00, 0.05))
	assert.False(t, WithinRel(100.00, 100.00, 0), "zero tolerance disables the check")
}

func TestAbsDiffAndFormat(t *testing.T) {
	assert.InDelta(t, 0.11, AbsDiff(-45.99, 46.10), 0.0001)
	assert.Equal(t, "45.99", Format(-45.99))
	assert.Equal(t, "7.50", Format(7.5))
}
