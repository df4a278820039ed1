package telemetry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFeed(t *testing.T) {
	now := time.Date(2024, 12, 23, 10, 0, 0, 0, time.UTC)
	feed := NewFeed(5 * time.Second)
	feed.now = func() time.Time { return now }

	assert.False(t, feed.Latest().HasData())

	var seen []VehicleStats
	feed.OnUpdate(func(s VehicleStats) { seen = append(seen, s) })

	feed.Update(VehicleStats{
		Paired:            true,
		LinkInterfaces:    map[int]string{0: "bb:01"},
		InterfaceRawPower: map[string]int{"bb:01": 40},
	})
	require.Len(t, seen, 1)

	latest := feed.Latest()
	assert.True(t, latest.HasData())
	assert.Equal(t, now, latest.ReceivedAt)

	id, raw, ok := latest.ReportedRaw(0)
	assert.True(t, ok)
	assert.Equal(t, "bb:01", id)
	assert.Equal(t, 40, raw)

	_, _, ok = latest.ReportedRaw(1)
	assert.False(t, ok)

	// callers get copies
	latest.InterfaceRawPower["bb:01"] = 1
	_, raw, _ = feed.Latest().ReportedRaw(0)
	assert.Equal(t, 40, raw)

	now = now.Add(6 * time.Second)
	assert.True(t, feed.Latest().Stale)
	assert.False(t, feed.Latest().HasData())

	feed.Reset()
	assert.False(t, feed.Latest().Paired)
}

func TestDecodeStats(t *testing.T) {
	stats, err := DecodeStats([]byte(`{"vehicle_id":"quad-7","paired":true,"links":{"0":"bb:01","1":"bb:02"},"raw_power":{"bb:01":40,"bb:02":20}}`))
	require.NoError(t, err)
	assert.Equal(t, "quad-7", stats.VehicleID)
	assert.Equal(t, "bb:02", stats.LinkInterfaces[1])
	assert.Equal(t, 20, stats.InterfaceRawPower["bb:02"])
	assert.True(t, stats.ReceivedAt.IsZero())

	_, err = DecodeStats([]byte(`{"raw_power":{"bb:01":-3}}`))
	assert.Error(t, err)

	_, err = DecodeStats([]byte(`not json`))
	assert.Error(t, err)
}
