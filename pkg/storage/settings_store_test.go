package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dougsko/fpvlinkd/pkg/power"
	"github.com/dougsko/fpvlinkd/pkg/radio"
)

func newTestStore(t *testing.T, maxHistory int) *SettingsStore {
	t.Helper()
	tempDir, err := os.MkdirTemp("", "fpvlinkd-storage-test")
	if err != nil {
		t.Fatalf("Failed to create temp dir: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(tempDir) })

	store, err := NewSettingsStore(filepath.Join(tempDir, "nested", "settings.db"), maxHistory)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func sampleInterfaces() []radio.Interface {
	return []radio.Interface{
		{
			ID: "00:c0:ca:aa:bb:01", Name: "left patch", Kind: radio.KindWiFi,
			Card: power.Known(power.CardAWUS036ACH), Capabilities: radio.DefaultCapabilities,
			Bands: radio.Band5800, RawPower: 30, Booster: power.Booster2W, TxPriority: 1, AssignedLink: 0,
		},
		{
			ID: "/dev/ttyUSB0", Kind: radio.KindSiK, Card: power.UnverifiedVariant(power.CardSiKRadio),
			Capabilities: radio.CapData | radio.CapTX | radio.CapRX, Bands: radio.Band915,
			RawPower: 20, AssignedLink: radio.Unbound,
		},
	}
}

func TestControllerInterfaceSettings(t *testing.T) {
	store := newTestStore(t, 100)

	items, err := store.LoadControllerInterfaceSettings()
	require.NoError(t, err)
	assert.Empty(t, items)

	require.NoError(t, store.SaveControllerInterfaceSettings(sampleInterfaces()))
	items, err = store.LoadControllerInterfaceSettings()
	require.NoError(t, err)
	assert.Equal(t, sampleInterfaces(), items)

	// saving replaces the previous set and keeps order
	reordered := []radio.Interface{sampleInterfaces()[1]}
	require.NoError(t, store.SaveControllerInterfaceSettings(reordered))
	items, err = store.LoadControllerInterfaceSettings()
	require.NoError(t, err)
	assert.Equal(t, reordered, items)

	vehicle, err := store.LoadVehicleInterfaceSettings()
	require.NoError(t, err)
	assert.Empty(t, vehicle)
}

func TestControllerSettings(t *testing.T) {
	store := newTestStore(t, 100)

	_, found, err := store.LoadControllerSettings()
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, store.SaveControllerSettings(ControllerSettings{
		PowerMode:  "auto",
		AutoPolicy: "highest-power",
		FixedMw:    map[string]int{"00:c0:ca:aa:bb:01": 200},
	}))

	settings, found, err := store.LoadControllerSettings()
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "auto", settings.PowerMode)
	assert.Equal(t, "highest-power", settings.AutoPolicy)
	assert.Equal(t, 200, settings.FixedMw["00:c0:ca:aa:bb:01"])
	assert.False(t, settings.UpdatedAt.IsZero())
}

func TestSaveSnapshot(t *testing.T) {
	store := newTestStore(t, 100)
	links := []radio.Link{
		{ID: 0, Capabilities: radio.DefaultCapabilities, Bands: radio.Band5800, FrequencyKhz: 5745000},
		{ID: 1, Capabilities: radio.CapData | radio.CapTX | radio.CapRX | radio.CapHighCapacity, Bands: radio.Band2400},
	}
	vehicle := []radio.Interface{{
		ID: "bb:01", Card: power.Known(power.CardBlue8812EU), Capabilities: radio.DefaultCapabilities,
		Bands: radio.Band5800, RawPower: 40, AssignedLink: 0,
	}}

	require.NoError(t, store.SaveSnapshot(Snapshot{
		Controller: sampleInterfaces(),
		Vehicle:    vehicle,
		Links:      links,
		Settings:   ControllerSettings{PowerMode: "fixed", AutoPolicy: "first-by-index"},
	}))

	gotLinks, err := store.LoadVehicleLinks()
	require.NoError(t, err)
	assert.Equal(t, links, gotLinks)

	gotVehicle, err := store.LoadVehicleInterfaceSettings()
	require.NoError(t, err)
	assert.Equal(t, vehicle, gotVehicle)

	gotController, err := store.LoadControllerInterfaceSettings()
	require.NoError(t, err)
	assert.Len(t, gotController, 2)

	settings, _, err := store.LoadControllerSettings()
	require.NoError(t, err)
	assert.Equal(t, "fixed", settings.PowerMode)
	assert.Empty(t, settings.FixedMw)
}

func TestCommandHistory(t *testing.T) {
	store := newTestStore(t, 5)
	base := time.Now().Add(-time.Hour)

	for i := 0; i < 8; i++ {
		outcome := "acknowledged"
		if i%2 == 1 {
			outcome = "timed_out"
		}
		require.NoError(t, store.RecordCommand(HistoryEntry{
			Timestamp: base.Add(time.Duration(i) * time.Second),
			RequestID: fmt.Sprintf("req-%d", i),
			Target:    "vehicle",
			Kind:      "set_tx_powers",
			CommandID: uint32(i + 1),
			Outcome:   outcome,
		}))
	}

	t.Run("Trimmed To Max History", func(t *testing.T) {
		entries, err := store.GetRecentCommands(0)
		require.NoError(t, err)
		require.Len(t, entries, 5)
		assert.Equal(t, "req-7", entries[0].RequestID)
		assert.Equal(t, "req-3", entries[4].RequestID)
	})

	t.Run("Filter By Outcome", func(t *testing.T) {
		entries, err := store.GetCommandHistory(HistoryQuery{Outcome: "timed_out", Limit: 10})
		require.NoError(t, err)
		assert.Len(t, entries, 3)
		for _, e := range entries {
			assert.Equal(t, "timed_out", e.Outcome)
		}
	})

	t.Run("Stats", func(t *testing.T) {
		stats, err := store.GetHistoryStats()
		require.NoError(t, err)
		assert.Equal(t, 5, stats.Total)
		assert.Equal(t, 2, stats.Outcomes["acknowledged"])
		assert.Equal(t, 3, stats.Outcomes["timed_out"])
	})
}
