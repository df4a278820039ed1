package power

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApplyBoost(t *testing.T) {
	t.Run("Tabulated Points", func(t *testing.T) {
		out, err := ApplyBoost(20, Booster4W)
		require.NoError(t, err)
		assert.Equal(t, 800, out)

		out, err = ApplyBoost(100, Booster4W)
		require.NoError(t, err)
		assert.Equal(t, 4000, out)
	})

	t.Run("Interpolated", func(t *testing.T) {
		out, err := ApplyBoost(15, Booster4W)
		require.NoError(t, err)
		assert.Equal(t, 610, out)
	})

	t.Run("No Booster Passes Through", func(t *testing.T) {
		out, err := ApplyBoost(500, BoosterNone)
		require.NoError(t, err)
		assert.Equal(t, 500, out)
	})

	t.Run("Curves Are Monotonic", func(t *testing.T) {
		for _, kind := range []BoosterKind{Booster2W, Booster4W} {
			prev := 0
			for mw := MinBoostInputMw; mw <= MaxBoostInputMw; mw++ {
				out, err := ApplyBoost(mw, kind)
				require.NoError(t, err)
				assert.GreaterOrEqual(t, out, prev, "%s at %d mW", kind, mw)
				prev = out
			}
		}
	})
}

func TestApplyBoostOutOfRange(t *testing.T) {
	for _, kind := range []BoosterKind{Booster2W, Booster4W} {
		for _, mw := range []int{-5, 0, 1, MaxBoostInputMw + 1, 1000} {
			out, err := ApplyBoost(mw, kind)
			assert.ErrorIs(t, err, ErrOutOfBoostRange, "%s at %d mW", kind, mw)
			assert.Zero(t, out)
		}
	}
}

func TestParseBoosterKind(t *testing.T) {
	for in, want := range map[string]BoosterKind{"": BoosterNone, "none": BoosterNone, "2W": Booster2W, "4w": Booster4W} {
		got, err := ParseBoosterKind(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := ParseBoosterKind("8w")
	assert.Error(t, err)
}
