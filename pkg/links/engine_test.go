package links

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dougsko/fpvlinkd/pkg/power"
	"github.com/dougsko/fpvlinkd/pkg/radio"
)

// newTestEngine builds two 5.8 GHz controller cards, one 2.4 GHz data-only
// controller card and a vehicle with one interface per link.
func newTestEngine(t *testing.T, policy AutoPolicy) *Engine {
	t.Helper()
	table := power.DefaultTable()
	ctrl := radio.NewRegistry(radio.SideController, power.BoardGeneric, table)
	veh := radio.NewRegistry(radio.SideVehicle, power.BoardGeneric, table)

	for _, iface := range []radio.Interface{
		{ID: "c0", Card: power.Known(power.CardAWUS036ACH), Bands: radio.Band5800, RawPower: 20, AssignedLink: radio.Unbound},
		{ID: "c1", Card: power.Known(power.CardAWUS036ACH), Bands: radio.Band5800, RawPower: 50, AssignedLink: radio.Unbound},
		{ID: "c2", Card: power.Known(power.CardTPLink722N), Bands: radio.Band2400,
			Capabilities: radio.CapData | radio.CapTX | radio.CapRX, RawPower: 20, AssignedLink: radio.Unbound},
	} {
		require.NoError(t, ctrl.Add(iface))
	}
	for _, iface := range []radio.Interface{
		{ID: "v0", Card: power.Known(power.CardBlue8812EU), Bands: radio.Band5800, RawPower: 30, AssignedLink: 0},
		{ID: "v1", Card: power.Known(power.CardTPLink722N), Bands: radio.Band2400, RawPower: 30, AssignedLink: 1},
	} {
		require.NoError(t, veh.Add(iface))
	}

	e := NewEngine(ctrl, veh, policy)
	require.NoError(t, e.SetLinks([]radio.Link{
		{ID: 0, Capabilities: radio.DefaultCapabilities, Bands: radio.Band5800, FrequencyKhz: 5745000},
		{ID: 1, Capabilities: radio.CapData | radio.CapTX | radio.CapRX, Bands: radio.Band2400, FrequencyKhz: 2412000},
	}))
	return e
}

func TestEligibility(t *testing.T) {
	t.Run("Band And Capability Match", func(t *testing.T) {
		e := newTestEngine(t, AutoFirstByIndex)
		el, err := e.Eligibility(0)
		require.NoError(t, err)
		assert.Equal(t, []string{"c0", "c1"}, el.Eligible)
		assert.Equal(t, 0, el.BoundCount)
		assert.Equal(t, 2, el.AssignableCount)
		assert.Equal(t, "v0", el.VehicleInterfaceID)
		assert.Equal(t, PreferredNone, el.PreferredSource)

		el, err = e.Eligibility(1)
		require.NoError(t, err)
		assert.Equal(t, []string{"c2"}, el.Eligible)
	})

	t.Run("Bound Interfaces Are Not Assignable", func(t *testing.T) {
		e := newTestEngine(t, AutoFirstByIndex)
		require.NoError(t, e.Controller().SetAssignedLink("c0", 0))

		el, err := e.Eligibility(0)
		require.NoError(t, err)
		assert.Equal(t, 1, el.BoundCount)
		assert.Equal(t, 1, el.AssignableCount)
		assert.Equal(t, "c0", el.PreferredInterfaceID)
		assert.Equal(t, PreferredAuto, el.PreferredSource)
	})

	t.Run("Disabled Interfaces Count As Potential", func(t *testing.T) {
		e := newTestEngine(t, AutoFirstByIndex)
		require.NoError(t, e.Controller().SetDisabled("c1", true))

		el, err := e.Eligibility(0)
		require.NoError(t, err)
		assert.Equal(t, []string{"c0"}, el.Eligible)
		assert.Equal(t, 1, el.AssignableCount)
		assert.Equal(t, 1, el.PotentialCount)
	})

	t.Run("Disabled Link", func(t *testing.T) {
		e := newTestEngine(t, AutoFirstByIndex)
		links := e.Links()
		links[0].Capabilities = links[0].Capabilities.With(radio.CapDisabled)
		require.NoError(t, e.SetLinks(links))

		el, err := e.Eligibility(0)
		require.NoError(t, err)
		assert.True(t, el.Disabled)
		assert.Empty(t, el.Eligible)
		assert.Zero(t, el.AssignableCount)
	})

	t.Run("Unknown Link", func(t *testing.T) {
		e := newTestEngine(t, AutoFirstByIndex)
		_, err := e.Eligibility(7)
		assert.ErrorIs(t, err, ErrUnknownLink)
	})
}

func TestPreferredTxInterface(t *testing.T) {
	t.Run("Lowest Priority Wins", func(t *testing.T) {
		e := newTestEngine(t, AutoFirstByIndex)
		ctrl := e.Controller()
		require.NoError(t, ctrl.SetAssignedLink("c0", 0))
		require.NoError(t, ctrl.SetAssignedLink("c1", 0))
		require.NoError(t, ctrl.SetTxPreferred("c0"))
		require.NoError(t, ctrl.SetTxPreferred("c1"))

		c0, _ := ctrl.Get("c0")
		c1, _ := ctrl.Get("c1")
		require.Equal(t, 2, c0.TxPriority)
		require.Equal(t, 1, c1.TxPriority)

		for i := 0; i < 10; i++ {
			el, err := e.Eligibility(0)
			require.NoError(t, err)
			assert.Equal(t, "c1", el.PreferredInterfaceID)
			assert.Equal(t, PreferredExplicit, el.PreferredSource)
		}
	})

	t.Run("RX Only Interfaces Are Skipped", func(t *testing.T) {
		e := newTestEngine(t, AutoFirstByIndex)
		ctrl := e.Controller()
		require.NoError(t, ctrl.SetAssignedLink("c0", 0))
		require.NoError(t, ctrl.SetAssignedLink("c1", 0))
		require.NoError(t, ctrl.SetRxOnly("c0"))

		el, err := e.Eligibility(0)
		require.NoError(t, err)
		assert.Equal(t, "c1", el.PreferredInterfaceID)
	})

	t.Run("Auto Highest Power", func(t *testing.T) {
		e := newTestEngine(t, AutoHighestPower)
		ctrl := e.Controller()
		require.NoError(t, ctrl.SetAssignedLink("c0", 0))
		require.NoError(t, ctrl.SetAssignedLink("c1", 0))

		el, err := e.Eligibility(0)
		require.NoError(t, err)
		assert.Equal(t, "c1", el.PreferredInterfaceID)
		assert.Equal(t, PreferredAuto, el.PreferredSource)
	})
}

func TestProposeLinkSwitch(t *testing.T) {
	t.Run("Cycles Through Eligible Interfaces", func(t *testing.T) {
		e := newTestEngine(t, AutoFirstByIndex)

		p, err := e.ProposeLinkSwitch(0)
		require.NoError(t, err)
		assert.Equal(t, []Move{{Side: radio.SideController, InterfaceID: "c0", From: radio.Unbound, To: 0}}, p.Moves)
		require.NoError(t, e.Commit(p))

		p, err = e.ProposeLinkSwitch(0)
		require.NoError(t, err)
		require.NoError(t, e.Commit(p))
		c0, _ := e.Controller().Get("c0")
		c1, _ := e.Controller().Get("c1")
		assert.Equal(t, radio.Unbound, c0.AssignedLink)
		assert.Equal(t, 0, c1.AssignedLink)

		p, err = e.ProposeLinkSwitch(0)
		require.NoError(t, err)
		assert.Len(t, p.Moves, 2)
		assert.Equal(t, 0, p.After.Controller[0].AssignedLink)
	})

	t.Run("Proposal Leaves State Untouched", func(t *testing.T) {
		e := newTestEngine(t, AutoFirstByIndex)
		before := e.State()
		_, err := e.ProposeLinkSwitch(0)
		require.NoError(t, err)
		assert.Equal(t, before, e.State())
	})

	t.Run("No Eligible Interface", func(t *testing.T) {
		e := newTestEngine(t, AutoFirstByIndex)
		require.NoError(t, e.Controller().SetDisabled("c2", true))
		before := e.State()

		_, err := e.ProposeLinkSwitch(1)
		assert.ErrorIs(t, err, ErrNoEligibleInterfaceForLink)
		assert.Equal(t, before, e.State())
	})

	t.Run("Nothing To Switch", func(t *testing.T) {
		e := newTestEngine(t, AutoFirstByIndex)
		require.NoError(t, e.Controller().SetAssignedLink("c2", 1))
		_, err := e.ProposeLinkSwitch(1)
		assert.ErrorIs(t, err, ErrNothingToSwitch)
	})

	t.Run("Unknown Link", func(t *testing.T) {
		e := newTestEngine(t, AutoFirstByIndex)
		_, err := e.ProposeLinkSwitch(-3)
		assert.ErrorIs(t, err, ErrUnknownLink)
	})
}

func TestProposeRotateLinks(t *testing.T) {
	e := newTestEngine(t, AutoFirstByIndex)
	require.NoError(t, e.Controller().SetAssignedLink("c0", 0))

	p, err := e.ProposeRotateLinks()
	require.NoError(t, err)
	require.NoError(t, e.Commit(p))

	links := e.Links()
	assert.Equal(t, radio.Band2400, links[0].Bands)
	assert.Equal(t, radio.Band5800, links[1].Bands)
	assert.Equal(t, 0, links[0].ID)

	v0, _ := e.Vehicle().Get("v0")
	v1, _ := e.Vehicle().Get("v1")
	c0, _ := e.Controller().Get("c0")
	assert.Equal(t, 1, v0.AssignedLink)
	assert.Equal(t, 0, v1.AssignedLink)
	assert.Equal(t, 1, c0.AssignedLink)

	require.NoError(t, e.SetLinks(links[:1]))
	_, err = e.ProposeRotateLinks()
	assert.ErrorIs(t, err, ErrNothingToRotate)
}

func TestProposeSwapInterfaces(t *testing.T) {
	e := newTestEngine(t, AutoFirstByIndex)
	_, err := e.ProposeSwapInterfaces()
	assert.ErrorIs(t, err, ErrNoSwappableInterfaces)

	links := e.Links()
	links[1].Bands = radio.Band5800
	links[0].Capabilities = links[0].Capabilities.With(radio.CapHighCapacity)
	links[1].Capabilities = links[1].Capabilities.With(radio.CapHighCapacity)
	require.NoError(t, e.SetLinks(links))

	veh := e.Vehicle().All()
	veh[1].Bands = radio.Band5800
	require.NoError(t, e.Vehicle().Replace(veh))

	p, err := e.ProposeSwapInterfaces()
	require.NoError(t, err)
	assert.Len(t, p.Moves, 2)
	require.NoError(t, e.Commit(p))

	v0, _ := e.Vehicle().Get("v0")
	assert.Equal(t, 1, v0.AssignedLink)
}

func TestCommitKeepsOtherFields(t *testing.T) {
	e := newTestEngine(t, AutoFirstByIndex)
	p, err := e.ProposeLinkSwitch(0)
	require.NoError(t, err)

	require.NoError(t, e.Controller().SetRawPower("c0", 45))
	require.NoError(t, e.Commit(p))

	c0, _ := e.Controller().Get("c0")
	assert.Equal(t, 45, c0.RawPower)
	assert.Equal(t, 0, c0.AssignedLink)
}

func TestSetLinksUnbindsRemovedLinks(t *testing.T) {
	e := newTestEngine(t, AutoFirstByIndex)
	require.NoError(t, e.Controller().SetAssignedLink("c2", 1))

	require.NoError(t, e.SetLinks(e.Links()[:1]))
	c2, _ := e.Controller().Get("c2")
	v1, _ := e.Vehicle().Get("v1")
	assert.Equal(t, radio.Unbound, c2.AssignedLink)
	assert.Equal(t, radio.Unbound, v1.AssignedLink)

	assert.Error(t, e.SetLinks([]radio.Link{{ID: 3}}))
}
