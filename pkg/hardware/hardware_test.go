package hardware

import (
	"testing"
	"time"

	"github.com/dougsko/fpvlinkd/pkg/links"
	"github.com/dougsko/fpvlinkd/pkg/power"
	"github.com/dougsko/fpvlinkd/pkg/radio"
	"github.com/dougsko/fpvlinkd/pkg/session"
	"github.com/dougsko/fpvlinkd/pkg/telemetry"
	"github.com/dougsko/fpvlinkd/pkg/txpower"
)

type resultMsg struct {
	commandID uint32
	result    session.Result
}

func waitResult(t *testing.T, ch <-chan resultMsg) resultMsg {
	t.Helper()
	select {
	case r := <-ch:
		return r
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for command result")
	}
	return resultMsg{}
}

func encode(t *testing.T, p session.Payload) []byte {
	t.Helper()
	data, err := p.Encode()
	if err != nil {
		t.Fatalf("Failed to encode payload: %v", err)
	}
	return data
}

func testVehicleConfig() VehicleLinkConfig {
	return VehicleLinkConfig{
		Paired: true,
		Interfaces: []radio.Interface{
			{ID: "veh0", Card: power.Known(power.CardBlue8812EU), Capabilities: radio.DefaultCapabilities,
				Bands: radio.Band5800, RawPower: 30, AssignedLink: 0},
			{ID: "veh1", Card: power.Known(power.CardBlue8812EU), Capabilities: radio.DefaultCapabilities,
				Bands: radio.Band5800, RawPower: 40, AssignedLink: radio.Unbound},
		},
		Links: []radio.Link{{ID: 0, Capabilities: radio.DefaultCapabilities, Bands: radio.Band5800}},
	}
}

func TestHardwareManagerInitialization(t *testing.T) {
	manager := NewHardwareManager(HardwareConfig{
		LocalInterfaces: testLocalInterfaces(),
		Vehicle:         testVehicleConfig(),
	})

	if manager.IsInitialized() {
		t.Error("Expected manager to not be initialized initially")
	}

	if err := manager.Initialize(); err != nil {
		t.Fatalf("Failed to initialize hardware: %v", err)
	}
	// second call is a no-op
	if err := manager.Initialize(); err != nil {
		t.Fatalf("Second initialize failed: %v", err)
	}

	status := manager.GetStatus()
	if !status.Initialized || !status.DriverConnected || !status.VehiclePaired {
		t.Errorf("Unexpected status: %+v", status)
	}
	if status.LocalRadios != 3 {
		t.Errorf("Expected 3 local radios, got %d", status.LocalRadios)
	}
	if len(manager.LocalInterfaces()) != 3 {
		t.Errorf("Expected 3 local interfaces, got %d", len(manager.LocalInterfaces()))
	}

	if err := manager.Close(); err != nil {
		t.Fatalf("Failed to close hardware: %v", err)
	}
	if manager.IsInitialized() {
		t.Error("Expected manager to be closed")
	}
	if manager.GetStatus().DriverConnected {
		t.Error("Expected driver to be disconnected after close")
	}
}

func TestLocalChannel(t *testing.T) {
	driver := NewMockPowerDriver(map[string]int{"wlan0": 20, "wlan1": 20})
	if err := driver.Initialize(); err != nil {
		t.Fatalf("Failed to initialize driver: %v", err)
	}
	ch := NewLocalChannel(driver)
	results := make(chan resultMsg, 4)
	ch.OnResult(func(id uint32, r session.Result) { results <- resultMsg{id, r} })

	t.Run("Applies Raw Powers", func(t *testing.T) {
		payload := encode(t, session.Payload{RawPowers: map[string]int{"wlan0": 45, "wlan1": 30}})
		if !ch.SendCommand(7, session.KindSetTxPowers.Param(), payload) {
			t.Fatal("Expected command to be sent")
		}
		got := waitResult(t, results)
		if got.commandID != 7 || got.result.Status != session.ResultAccepted {
			t.Fatalf("Unexpected result: %+v", got)
		}
		if got.result.Applied != session.PartRawPower {
			t.Errorf("Expected raw power part applied, got %s", got.result.Applied)
		}
		if raw, _ := driver.GetTxPowerRaw("wlan0"); raw != 45 {
			t.Errorf("Expected wlan0 raw 45, got %d", raw)
		}
	})

	t.Run("Unknown Interface Applies Nothing", func(t *testing.T) {
		payload := encode(t, session.Payload{RawPowers: map[string]int{"wlan0": 60, "wlan5": 30}})
		ch.SendCommand(8, session.KindSetTxPowers.Param(), payload)
		got := waitResult(t, results)
		if got.result.Status != session.ResultRejected {
			t.Fatalf("Expected rejection, got %+v", got)
		}
		if raw, _ := driver.GetTxPowerRaw("wlan0"); raw != 45 {
			t.Errorf("Expected wlan0 unchanged at 45, got %d", raw)
		}
	})

	t.Run("Disconnected Driver", func(t *testing.T) {
		driver.Close()
		payload := encode(t, session.Payload{RawPowers: map[string]int{"wlan0": 10}})
		if ch.SendCommand(9, session.KindSetTxPowers.Param(), payload) {
			t.Error("Expected send to fail with disconnected driver")
		}
	})
}

func TestMockVehicleLink(t *testing.T) {
	t.Run("Accepts And Applies", func(t *testing.T) {
		v := NewMockVehicleLink(testVehicleConfig())
		defer v.Close()
		results := make(chan resultMsg, 1)
		stats := make(chan telemetry.VehicleStats, 1)
		v.OnResult(func(id uint32, r session.Result) { results <- resultMsg{id, r} })
		v.OnStats(func(s telemetry.VehicleStats) { stats <- s })

		mode := txpower.ModeAuto
		payload := encode(t, session.Payload{
			PowerMode: &mode,
			RawPowers: map[string]int{"veh1": 50},
			Moves:     []links.Move{{Side: radio.SideVehicle, InterfaceID: "veh1", From: radio.Unbound, To: 0}},
		})
		if !v.Channel().SendCommand(3, session.KindSwitchLink.Param(), payload) {
			t.Fatal("Expected command to be sent")
		}
		got := waitResult(t, results)
		if got.result.Status != session.ResultAccepted {
			t.Fatalf("Expected acceptance, got %+v", got)
		}
		if v.PowerMode() != txpower.ModeAuto {
			t.Error("Expected vehicle to adopt auto power mode")
		}

		select {
		case s := <-stats:
			if s.InterfaceRawPower["veh1"] != 50 {
				t.Errorf("Expected reported raw 50 for veh1, got %d", s.InterfaceRawPower["veh1"])
			}
			if !s.Paired {
				t.Error("Expected stats to report paired")
			}
		case <-time.After(2 * time.Second):
			t.Fatal("Timed out waiting for stats")
		}
	})

	t.Run("Applies Booster", func(t *testing.T) {
		v := NewMockVehicleLink(testVehicleConfig())
		defer v.Close()
		results := make(chan resultMsg, 1)
		v.OnResult(func(id uint32, r session.Result) { results <- resultMsg{id, r} })

		payload := encode(t, session.Payload{Boosters: map[string]power.BoosterKind{"veh0": power.Booster2W}})
		v.SendCommandToVehicle(4, session.KindSetBoosters.Param(), payload)
		if r := waitResult(t, results); r.result.Status != session.ResultAccepted {
			t.Fatalf("Expected booster change accepted, got %+v", r)
		}
		if v.Interfaces()[0].Booster != power.Booster2W {
			t.Errorf("Expected veh0 booster 2W, got %s", v.Interfaces()[0].Booster)
		}
	})

	t.Run("Unpaired Refuses", func(t *testing.T) {
		cfg := testVehicleConfig()
		cfg.Paired = false
		v := NewMockVehicleLink(cfg)
		if v.SendCommandToVehicle(1, 1, encode(t, session.Payload{RawPowers: map[string]int{"veh0": 1}})) {
			t.Error("Expected unpaired vehicle to refuse commands")
		}
	})

	t.Run("Reject Every", func(t *testing.T) {
		cfg := testVehicleConfig()
		cfg.RejectEvery = 2
		v := NewMockVehicleLink(cfg)
		defer v.Close()
		results := make(chan resultMsg, 2)
		v.OnResult(func(id uint32, r session.Result) { results <- resultMsg{id, r} })

		payload := encode(t, session.Payload{RawPowers: map[string]int{"veh0": 35}})
		v.SendCommandToVehicle(1, 1, payload)
		if r := waitResult(t, results); r.result.Status != session.ResultAccepted {
			t.Errorf("Expected first command accepted, got %+v", r)
		}
		v.SendCommandToVehicle(2, 1, encode(t, session.Payload{RawPowers: map[string]int{"veh0": 60}}))
		r := waitResult(t, results)
		if r.result.Status != session.ResultRejected || r.result.Reason != "vehicle refused" {
			t.Errorf("Expected second command rejected, got %+v", r)
		}
		if v.Interfaces()[0].RawPower != 35 {
			t.Errorf("Expected rejected command to change nothing, got raw %d", v.Interfaces()[0].RawPower)
		}
	})

	t.Run("Drop Every", func(t *testing.T) {
		cfg := testVehicleConfig()
		cfg.DropEvery = 1
		v := NewMockVehicleLink(cfg)
		defer v.Close()
		results := make(chan resultMsg, 1)
		v.OnResult(func(id uint32, r session.Result) { results <- resultMsg{id, r} })

		if !v.SendCommandToVehicle(1, 1, encode(t, session.Payload{RawPowers: map[string]int{"veh0": 1}})) {
			t.Fatal("Expected dropped command to report sent")
		}
		select {
		case r := <-results:
			t.Errorf("Expected no result for dropped command, got %+v", r)
		case <-time.After(50 * time.Millisecond):
		}
	})

	t.Run("Stats Map Links", func(t *testing.T) {
		v := NewMockVehicleLink(testVehicleConfig())
		s := v.Stats()
		if s.LinkInterfaces[0] != "veh0" {
			t.Errorf("Expected link 0 on veh0, got %q", s.LinkInterfaces[0])
		}
		if _, raw, ok := s.ReportedRaw(0); !ok || raw != 30 {
			t.Errorf("Expected reported raw 30 for link 0, got %d (%t)", raw, ok)
		}
	})
}
