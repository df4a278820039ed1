package radio

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dougsko/fpvlinkd/pkg/power"
)

func newTestRegistry(t *testing.T, side Side, ids ...string) *Registry {
	t.Helper()
	reg := NewRegistry(side, power.BoardGeneric, power.DefaultTable())
	for _, id := range ids {
		require.NoError(t, reg.Add(Interface{
			ID:           id,
			Card:         power.Known(power.CardAWUS036ACH),
			Bands:        Band5800,
			RawPower:     20,
			AssignedLink: Unbound,
		}))
	}
	reg.MarkClean()
	return reg
}

func TestRegistryAdd(t *testing.T) {
	reg := newTestRegistry(t, SideController, "aa:01")

	t.Run("Defaults", func(t *testing.T) {
		iface, ok := reg.Get("aa:01")
		require.True(t, ok)
		assert.Equal(t, DefaultCapabilities, iface.Capabilities)
		assert.Equal(t, Unbound, iface.AssignedLink)
	})

	t.Run("Serial Radio Drops Video", func(t *testing.T) {
		require.NoError(t, reg.Add(Interface{ID: "/dev/ttyUSB0", Kind: KindSiK, Card: power.Known(power.CardSiKRadio)}))
		caps, err := reg.Flags("/dev/ttyUSB0")
		require.NoError(t, err)
		assert.False(t, caps.CanUseForVideo())
		assert.True(t, caps.CanUseForData())
		assert.True(t, reg.Dirty())
	})

	t.Run("Duplicate", func(t *testing.T) {
		assert.ErrorIs(t, reg.Add(Interface{ID: "aa:01"}), ErrDuplicateInterface)
	})
}

func TestCannotDisableLastInterface(t *testing.T) {
	reg := newTestRegistry(t, SideController, "aa:01", "aa:02")

	require.NoError(t, reg.SetDisabled("aa:01", true))
	before := reg.Snapshot()
	reg.MarkClean()

	err := reg.SetDisabled("aa:02", true)
	assert.ErrorIs(t, err, ErrCannotDisableLastInterface)
	assert.Equal(t, before, reg.All(), "failed mutation must not change state")
	assert.False(t, reg.Dirty())

	err = reg.SetFlags("aa:02", DefaultCapabilities|CapDisabled)
	assert.ErrorIs(t, err, ErrCannotDisableLastInterface)
	assert.Equal(t, 1, reg.EnabledCount())
}

func TestInvalidCapabilityCombination(t *testing.T) {
	reg := newTestRegistry(t, SideController, "aa:01", "aa:02")

	err := reg.SetFlags("aa:01", CapVideo|CapData)
	assert.ErrorIs(t, err, ErrInvalidCapabilityCombination)

	caps, _ := reg.Flags("aa:01")
	assert.Equal(t, DefaultCapabilities, caps)
}

func TestRxTxModes(t *testing.T) {
	reg := newTestRegistry(t, SideController, "aa:01", "aa:02")

	require.NoError(t, reg.SetTxPreferred("aa:01"))
	require.NoError(t, reg.SetRxOnly("aa:01"))
	assert.True(t, reg.IsRxOnly("aa:01"))
	assert.False(t, reg.IsTxOnly("aa:01"))

	iface, _ := reg.Get("aa:01")
	assert.Zero(t, iface.TxPriority, "RX only interfaces lose TX preference")

	require.NoError(t, reg.SetTxOnly("aa:02"))
	assert.True(t, reg.IsTxOnly("aa:02"))

	require.NoError(t, reg.SetTxRx("aa:02"))
	assert.False(t, reg.IsTxOnly("aa:02"))
	assert.False(t, reg.IsRxOnly("aa:02"))
}

func TestTxPreferredOrdering(t *testing.T) {
	reg := newTestRegistry(t, SideController, "aa:01", "aa:02", "aa:03")

	require.NoError(t, reg.SetTxPreferred("aa:01"))
	require.NoError(t, reg.SetTxPreferred("aa:03"))
	assert.Equal(t, []string{"aa:03", "aa:01"}, reg.PreferredOrder())

	require.NoError(t, reg.SetTxPreferred("aa:01"))
	assert.Equal(t, []string{"aa:01", "aa:03"}, reg.PreferredOrder())

	require.NoError(t, reg.RemoveTxPreferred("aa:01"))
	assert.Equal(t, []string{"aa:03"}, reg.PreferredOrder())
	iface, _ := reg.Get("aa:03")
	assert.Equal(t, 1, iface.TxPriority)

	require.NoError(t, reg.SetRxOnly("aa:02"))
	assert.ErrorIs(t, reg.SetTxPreferred("aa:02"), ErrNotTxCapable)
}

func TestSetRawPower(t *testing.T) {
	reg := newTestRegistry(t, SideController, "aa:01")

	require.NoError(t, reg.SetRawPower("aa:01", 45))
	iface, _ := reg.Get("aa:01")
	assert.Equal(t, 45, iface.RawPower)

	assert.ErrorIs(t, reg.SetRawPower("aa:01", 70), ErrRawPowerOutOfRange)
	assert.ErrorIs(t, reg.SetRawPower("aa:01", 0), ErrRawPowerOutOfRange)
	assert.ErrorIs(t, reg.SetRawPower("missing", 10), ErrUnknownInterface)
}

func TestSetName(t *testing.T) {
	reg := newTestRegistry(t, SideController, "aa:01")

	require.NoError(t, reg.SetName("aa:01", "Left patch"))
	iface, _ := reg.Get("aa:01")
	assert.Equal(t, "Left patch", iface.DisplayName())

	require.NoError(t, reg.SetName("aa:01", " "))
	iface, _ = reg.Get("aa:01")
	assert.Equal(t, "Alfa AWUS036ACH", iface.DisplayName())
}

func TestVehicleLinkBinding(t *testing.T) {
	reg := newTestRegistry(t, SideVehicle, "bb:01", "bb:02")

	require.NoError(t, reg.SetAssignedLink("bb:01", 0))
	assert.ErrorIs(t, reg.SetAssignedLink("bb:02", 0), ErrLinkAlreadyBound)
	require.NoError(t, reg.SetAssignedLink("bb:02", 1))

	// controller side may bind several interfaces to one link
	ctrl := newTestRegistry(t, SideController, "aa:01", "aa:02")
	require.NoError(t, ctrl.SetAssignedLink("aa:01", 0))
	require.NoError(t, ctrl.SetAssignedLink("aa:02", 0))
}

func TestReplaceAndRestore(t *testing.T) {
	reg := newTestRegistry(t, SideController, "aa:01", "aa:02")
	committed := reg.Snapshot()

	proposed := reg.All()
	proposed[0].AssignedLink = 1
	require.NoError(t, reg.Replace(proposed))
	iface, _ := reg.Get("aa:01")
	assert.Equal(t, 1, iface.AssignedLink)

	reg.Restore(committed)
	assert.Equal(t, committed, reg.All())

	assert.Error(t, reg.Replace(proposed[:1]))
	proposed[1].ID = "other"
	assert.Error(t, reg.Replace(proposed))
}
