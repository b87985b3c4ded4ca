package termtable

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRandomIntnIsWithinRange(t *testing.T) {
	r := NewRandom(12345)
	for i := 0; i < 1000; i++ {
		v := r.Intn(7)
		require.True(t, v >= 0 && v < 7)
	}
}

func TestRandomIsDeterministicForSameSeed(t *testing.T) {
	a := NewRandom(99)
	b := NewRandom(99)
	for i := 0; i < 50; i++ {
		require.Equal(t, a.Intn(1000), b.Intn(1000))
	}
}

func TestRandomIntRangeBounds(t *testing.T) {
	r := NewRandom(7)
	for i := 0; i < 1000; i++ {
		v := r.IntRange(-5, 5)
		require.True(t, v >= -5 && v <= 5)
	}
}
