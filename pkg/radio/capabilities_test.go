package radio

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCapabilityPredicates(t *testing.T) {
	tests := []struct {
		name   string
		caps   Capabilities
		rxOnly bool
		txOnly bool
		usable bool
		valid  bool
	}{
		{"Full", DefaultCapabilities, false, false, true, true},
		{"RX Only", CapRX | CapVideo, true, false, true, true},
		{"TX Only", CapTX | CapData, false, true, true, true},
		{"Neither", CapVideo, true, true, true, false},
		{"Disabled", DefaultCapabilities | CapDisabled, false, false, false, true},
		{"No Traffic", CapRX | CapTX, false, false, false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.rxOnly, tt.caps.IsRxOnly())
			assert.Equal(t, tt.txOnly, tt.caps.IsTxOnly())
			assert.Equal(t, tt.usable, tt.caps.Usable())
			assert.Equal(t, tt.valid, tt.caps.Valid())
		})
	}
}

func TestParseCapabilities(t *testing.T) {
	caps, err := ParseCapabilities("tx|rx,video+data")
	require.NoError(t, err)
	assert.Equal(t, DefaultCapabilities, caps)
	assert.Equal(t, "tx|rx|video|data", caps.String())

	text, err := (CapRX | CapInternal).MarshalText()
	require.NoError(t, err)
	var back Capabilities
	require.NoError(t, back.UnmarshalText(text))
	assert.Equal(t, CapRX|CapInternal, back)

	_, err = ParseCapabilities("tx|warp")
	assert.Error(t, err)
}

func TestBands(t *testing.T) {
	b, err := ParseBands("2.4|5.8")
	require.NoError(t, err)
	assert.True(t, b.Overlaps(Band5800))
	assert.False(t, b.Overlaps(Band433|Band915))
	assert.Equal(t, "2.4|5.8", b.String())

	_, err = ParseBands("1.2")
	assert.Error(t, err)
}
