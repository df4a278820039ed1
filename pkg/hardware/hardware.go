package hardware

import (
	"fmt"
	"sync"

	"github.com/dougsko/fpvlinkd/pkg/logging"
	"github.com/dougsko/fpvlinkd/pkg/radio"
)

// HardwareConfig represents hardware configuration
type HardwareConfig struct {
	// radios attached to the controller, reported by the probe
	LocalInterfaces []radio.Interface
	Vehicle         VehicleLinkConfig
}

// HardwareStatus summarises the hardware state for status reporting
type HardwareStatus struct {
	Initialized     bool `json:"initialized"`
	DriverConnected bool `json:"driver_connected"`
	LocalRadios     int  `json:"local_radios"`
	VehiclePaired   bool `json:"vehicle_paired"`
}

// HardwareManager manages the radio hardware: the local probe and power
// driver and the command link to the vehicle
type HardwareManager struct {
	config HardwareConfig
	mutex  sync.RWMutex

	probe   ProbeInterface
	driver  PowerDriverInterface
	local   *LocalChannel
	vehicle *MockVehicleLink

	discovered  []radio.Interface
	initialized bool
}

// NewHardwareManager creates a new hardware manager
func NewHardwareManager(config HardwareConfig) *HardwareManager {
	return &HardwareManager{
		config: config,
	}
}

// Initialize probes the local radios and brings up the links
func (h *HardwareManager) Initialize() error {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	if h.initialized {
		return nil
	}

	logging.Info("hardware", "Initializing hardware manager...")

	if h.probe == nil {
		h.probe = NewMockProbe(h.config.LocalInterfaces)
	}
	discovered, err := DiscoverInterfaces(h.probe)
	if err != nil {
		return fmt.Errorf("failed to probe radios: %w", err)
	}
	h.discovered = discovered
	logging.Info("hardware", fmt.Sprintf("Found %d local radios", len(discovered)))

	if h.driver == nil {
		initial := make(map[string]int, len(discovered))
		for _, iface := range discovered {
			initial[iface.ID] = iface.RawPower
		}
		h.driver = NewMockPowerDriver(initial)
	}
	if err := h.driver.Initialize(); err != nil {
		return fmt.Errorf("failed to initialize power driver: %w", err)
	}
	h.local = NewLocalChannel(h.driver)

	h.vehicle = NewMockVehicleLink(h.config.Vehicle)
	logging.Info("hardware", fmt.Sprintf("Vehicle link ready (paired: %t, latency: %v)",
		h.config.Vehicle.Paired, h.config.Vehicle.Latency))

	h.initialized = true
	logging.Info("hardware", "Hardware manager initialized successfully")
	return nil
}

// Close shuts down all hardware interfaces
func (h *HardwareManager) Close() error {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	if !h.initialized {
		return nil
	}

	logging.Info("hardware", "Shutting down hardware manager...")

	if h.vehicle != nil {
		if err := h.vehicle.Close(); err != nil {
			logging.Error("hardware", fmt.Sprintf("Error closing vehicle link: %v", err))
		}
	}
	if h.driver != nil {
		if err := h.driver.Close(); err != nil {
			logging.Error("hardware", fmt.Sprintf("Error closing power driver: %v", err))
		}
	}

	h.initialized = false
	logging.Info("hardware", "Hardware manager shut down")
	return nil
}

// SetProbe replaces the probe used by Initialize
func (h *HardwareManager) SetProbe(p ProbeInterface) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	h.probe = p
}

// SetDriver replaces the power driver used by Initialize
func (h *HardwareManager) SetDriver(d PowerDriverInterface) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	h.driver = d
}

// LocalInterfaces returns the radios found by the probe
func (h *HardwareManager) LocalInterfaces() []radio.Interface {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return append([]radio.Interface(nil), h.discovered...)
}

// LocalChannel returns the controller side command channel
func (h *HardwareManager) LocalChannel() *LocalChannel {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return h.local
}

// VehicleLink returns the vehicle command link
func (h *HardwareManager) VehicleLink() *MockVehicleLink {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return h.vehicle
}

// Driver returns the local power driver
func (h *HardwareManager) Driver() PowerDriverInterface {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return h.driver
}

// IsInitialized returns whether hardware is initialized
func (h *HardwareManager) IsInitialized() bool {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return h.initialized
}

// GetConfig returns the hardware configuration
func (h *HardwareManager) GetConfig() HardwareConfig {
	return h.config
}

// GetStatus returns the current hardware status
func (h *HardwareManager) GetStatus() HardwareStatus {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	st := HardwareStatus{
		Initialized: h.initialized,
		LocalRadios: len(h.discovered),
	}
	if h.driver != nil {
		st.DriverConnected = h.driver.IsConnected()
	}
	if h.vehicle != nil {
		st.VehiclePaired = h.vehicle.IsPaired()
	}
	return st
}
