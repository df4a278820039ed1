package hardware

import (
	"fmt"
	"sync"

	"github.com/dougsko/fpvlinkd/pkg/logging"
)

// MockPowerDriver implements PowerDriverInterface without touching hardware
type MockPowerDriver struct {
	mutex sync.RWMutex

	connected bool
	raw       map[string]int
	failures  map[string]error
}

// NewMockPowerDriver creates a driver that knows the given interfaces and
// their initial raw power
func NewMockPowerDriver(initial map[string]int) *MockPowerDriver {
	d := &MockPowerDriver{
		raw:      make(map[string]int, len(initial)),
		failures: make(map[string]error),
	}
	for id, raw := range initial {
		d.raw[id] = raw
	}
	return d
}

// Initialize connects the mock driver
func (d *MockPowerDriver) Initialize() error {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	d.connected = true
	logging.Info("hardware", fmt.Sprintf("Mock power driver connected (%d radios)", len(d.raw)))
	return nil
}

// Close disconnects the mock driver
func (d *MockPowerDriver) Close() error {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	if !d.connected {
		return nil
	}
	logging.Info("hardware", "Mock power driver disconnected")
	d.connected = false
	return nil
}

// SetTxPowerRaw programs the raw power register of a local radio
func (d *MockPowerDriver) SetTxPowerRaw(interfaceID string, raw int) error {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	if !d.connected {
		return ErrNotConnected
	}
	if _, ok := d.raw[interfaceID]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownRadio, interfaceID)
	}
	if err := d.failures[interfaceID]; err != nil {
		return err
	}

	if d.raw[interfaceID] != raw {
		logging.Debug("hardware", fmt.Sprintf("Setting %s raw power %d -> %d", interfaceID, d.raw[interfaceID], raw))
	}
	d.raw[interfaceID] = raw
	return nil
}

// GetTxPowerRaw reads back the raw power of a local radio
func (d *MockPowerDriver) GetTxPowerRaw(interfaceID string) (int, error) {
	d.mutex.RLock()
	defer d.mutex.RUnlock()

	if !d.connected {
		return 0, ErrNotConnected
	}
	raw, ok := d.raw[interfaceID]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownRadio, interfaceID)
	}
	return raw, nil
}

// IsConnected returns whether the driver is connected
func (d *MockPowerDriver) IsConnected() bool {
	d.mutex.RLock()
	defer d.mutex.RUnlock()
	return d.connected
}

// SimulateFailure makes every write to interfaceID fail with err. A nil
// err clears it.
func (d *MockPowerDriver) SimulateFailure(interfaceID string, err error) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	if err == nil {
		delete(d.failures, interfaceID)
		return
	}
	d.failures[interfaceID] = err
}
