package randbytes

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDeterministic(t *testing.T) {
	t.Parallel()

	a := Fill(1234, 4096)
	b := Fill(1234, 4096)
	assert.Equal(t, a, b)
}

func TestDifferentSeedsDiffer(t *testing.T) {
	t.Parallel()

	a := Fill(1, 256)
	b := Fill(2, 256)
	assert.NotEqual(t, a, b)
}

func TestZeroSeedIsRemapped(t *testing.T) {
	t.Parallel()

	g := New(0)
	assert.NotZero(t, g.Uint64())
}

func TestOddLength(t *testing.T) {
	t.Parallel()

	b := Fill(7, 13)
	assert.Len(t, b, 13)
}
