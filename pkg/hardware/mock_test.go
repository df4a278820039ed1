package hardware

import (
	"errors"
	"testing"

	"github.com/dougsko/fpvlinkd/pkg/power"
	"github.com/dougsko/fpvlinkd/pkg/radio"
)

func testLocalInterfaces() []radio.Interface {
	return []radio.Interface{
		{ID: "wlan0", Kind: radio.KindWiFi, Card: power.Known(power.CardAWUS036ACH),
			Capabilities: radio.DefaultCapabilities, Bands: radio.Band5800, RawPower: 20},
		{ID: "/dev/ttyUSB0", Kind: radio.KindSiK, Card: power.Known(power.CardSiKRadio),
			Bands: radio.Band915, RawPower: 10},
		{ID: "/dev/ttyACM0", Kind: radio.KindELRS, Card: power.Known(power.CardSerialRadioELRS),
			Capabilities: radio.CapData | radio.CapTX | radio.CapRX, Bands: radio.Band2400, RawPower: 5},
	}
}

func TestMockProbe(t *testing.T) {
	probe := NewMockProbe(testLocalInterfaces())

	t.Run("Enumerate", func(t *testing.T) {
		n, err := probe.EnumerateLocalRadioInterfaces()
		if err != nil {
			t.Fatalf("Expected no error, got: %v", err)
		}
		if n != 3 {
			t.Errorf("Expected 3 radios, got %d", n)
		}
	})

	t.Run("Radio Kinds", func(t *testing.T) {
		if !probe.IsWifiRadio(0) || probe.IsWifiRadio(1) {
			t.Error("Expected only radio 0 to be WiFi")
		}
		if !probe.IsSikRadio(1) {
			t.Error("Expected radio 1 to be SiK")
		}
		if !probe.IsElrsRadio(2) {
			t.Error("Expected radio 2 to be ELRS")
		}
		if probe.IsElrsRadio(7) {
			t.Error("Expected out of range index to report false")
		}
	})

	t.Run("Out Of Range", func(t *testing.T) {
		_, err := probe.GetRadioInfo(3)
		if !errors.Is(err, ErrNoSuchRadio) {
			t.Errorf("Expected ErrNoSuchRadio, got: %v", err)
		}
	})

	t.Run("Discover", func(t *testing.T) {
		ifaces, err := DiscoverInterfaces(probe)
		if err != nil {
			t.Fatalf("Expected no error, got: %v", err)
		}
		if len(ifaces) != 3 {
			t.Fatalf("Expected 3 interfaces, got %d", len(ifaces))
		}
		for _, iface := range ifaces {
			if iface.Bound() {
				t.Errorf("Expected %s to start unbound", iface.ID)
			}
		}
		if ifaces[1].Capabilities.CanUseForVideo() {
			t.Error("Expected SiK radio without flags to default to data only")
		}
		if !ifaces[1].Capabilities.CanTX() {
			t.Error("Expected SiK radio to default to TX")
		}
		if ifaces[2].Capabilities != radio.CapData|radio.CapTX|radio.CapRX {
			t.Errorf("Expected configured flags to be kept, got %s", ifaces[2].Capabilities)
		}
	})
}

func TestMockPowerDriver(t *testing.T) {
	driver := NewMockPowerDriver(map[string]int{"wlan0": 20})

	t.Run("Not Connected", func(t *testing.T) {
		if err := driver.SetTxPowerRaw("wlan0", 30); !errors.Is(err, ErrNotConnected) {
			t.Errorf("Expected ErrNotConnected, got: %v", err)
		}
	})

	if err := driver.Initialize(); err != nil {
		t.Fatalf("Failed to initialize driver: %v", err)
	}
	defer driver.Close()

	t.Run("Set and Get Raw Power", func(t *testing.T) {
		if err := driver.SetTxPowerRaw("wlan0", 45); err != nil {
			t.Fatalf("Failed to set raw power: %v", err)
		}
		raw, err := driver.GetTxPowerRaw("wlan0")
		if err != nil {
			t.Fatalf("Failed to get raw power: %v", err)
		}
		if raw != 45 {
			t.Errorf("Expected raw 45, got %d", raw)
		}
	})

	t.Run("Unknown Radio", func(t *testing.T) {
		if err := driver.SetTxPowerRaw("wlan9", 10); !errors.Is(err, ErrUnknownRadio) {
			t.Errorf("Expected ErrUnknownRadio, got: %v", err)
		}
	})

	t.Run("Simulated Failure", func(t *testing.T) {
		boom := errors.New("i2c write failed")
		driver.SimulateFailure("wlan0", boom)
		if err := driver.SetTxPowerRaw("wlan0", 10); !errors.Is(err, boom) {
			t.Errorf("Expected simulated failure, got: %v", err)
		}
		driver.SimulateFailure("wlan0", nil)
		if err := driver.SetTxPowerRaw("wlan0", 10); err != nil {
			t.Errorf("Expected failure to be cleared, got: %v", err)
		}
	})
}
