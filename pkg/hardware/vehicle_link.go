package hardware

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/dougsko/fpvlinkd/pkg/logging"
	"github.com/dougsko/fpvlinkd/pkg/radio"
	"github.com/dougsko/fpvlinkd/pkg/session"
	"github.com/dougsko/fpvlinkd/pkg/telemetry"
	"github.com/dougsko/fpvlinkd/pkg/txpower"
)

// VehicleLinkConfig configures the simulated vehicle
type VehicleLinkConfig struct {
	VehicleID    string
	Latency      time.Duration
	RejectEvery  int
	DropEvery    int
	RejectReason string
	Paired       bool
	Interfaces   []radio.Interface
	Links        []radio.Link
}

// MockVehicleLink simulates the vehicle end of the command link. It keeps
// its own copy of the vehicle radio state, applies accepted payloads to it
// and answers after the configured latency.
type MockVehicleLink struct {
	mutex sync.Mutex

	config     VehicleLinkConfig
	interfaces []radio.Interface
	links      []radio.Link
	mode       txpower.Mode
	received   int
	closed     bool

	onResult ResultFunc
	onStats  func(telemetry.VehicleStats)
}

// NewMockVehicleLink creates a simulated vehicle
func NewMockVehicleLink(config VehicleLinkConfig) *MockVehicleLink {
	if config.VehicleID == "" {
		config.VehicleID = "sim-vehicle"
	}
	if config.RejectReason == "" {
		config.RejectReason = "vehicle refused"
	}
	return &MockVehicleLink{
		config:     config,
		interfaces: append([]radio.Interface(nil), config.Interfaces...),
		links:      radio.CloneLinks(config.Links),
	}
}

// OnResult registers the command result callback
func (v *MockVehicleLink) OnResult(fn ResultFunc) {
	v.mutex.Lock()
	defer v.mutex.Unlock()
	v.onResult = fn
}

// OnStats registers the callback receiving radio reports after every
// applied command and on Publish
func (v *MockVehicleLink) OnStats(fn func(telemetry.VehicleStats)) {
	v.mutex.Lock()
	defer v.mutex.Unlock()
	v.onStats = fn
}

// SetPaired simulates pairing or losing the vehicle
func (v *MockVehicleLink) SetPaired(paired bool) {
	v.mutex.Lock()
	defer v.mutex.Unlock()
	v.config.Paired = paired
	logging.Info("hardware", fmt.Sprintf("Simulated vehicle paired: %t", paired))
}

// IsPaired reports whether the vehicle is reachable
func (v *MockVehicleLink) IsPaired() bool {
	v.mutex.Lock()
	defer v.mutex.Unlock()
	return v.config.Paired && !v.closed
}

// Channel adapts the link to session.Channel
func (v *MockVehicleLink) Channel() session.Channel {
	return session.ChannelFunc(v.SendCommandToVehicle)
}

// SendCommandToVehicle transmits a command. It returns false when the
// vehicle is not paired.
func (v *MockVehicleLink) SendCommandToVehicle(commandID uint32, param uint8, payload []byte) bool {
	v.mutex.Lock()
	if !v.config.Paired || v.closed {
		v.mutex.Unlock()
		return false
	}
	v.received++
	n := v.received

	if v.config.DropEvery > 0 && n%v.config.DropEvery == 0 {
		v.mutex.Unlock()
		logging.Debug("hardware", fmt.Sprintf("Simulated vehicle dropped command %d", commandID))
		return true
	}

	var result session.Result
	applied := false
	p, err := session.DecodePayload(payload)
	switch {
	case err != nil:
		result = session.Result{Status: session.ResultRejected, Reason: err.Error()}
	case v.config.RejectEvery > 0 && n%v.config.RejectEvery == 0:
		result = session.Result{Status: session.ResultRejected, Reason: v.config.RejectReason}
	default:
		if err := v.applyLocked(p); err != nil {
			result = session.Result{Status: session.ResultRejected, Reason: err.Error()}
		} else {
			result = session.Result{Status: session.ResultAccepted, Applied: p.Parts()}
			applied = true
		}
	}
	latency := v.config.Latency
	v.mutex.Unlock()

	logging.Debug("hardware", fmt.Sprintf("Simulated vehicle received command %d (param %d)", commandID, param))
	time.AfterFunc(latency, func() {
		v.mutex.Lock()
		fn, statsFn, closed := v.onResult, v.onStats, v.closed
		v.mutex.Unlock()
		if closed {
			return
		}
		if fn != nil {
			fn(commandID, result)
		}
		if applied && statsFn != nil {
			statsFn(v.Stats())
		}
	})
	return true
}

func (v *MockVehicleLink) applyLocked(p session.Payload) error {
	next := append([]radio.Interface(nil), v.interfaces...)
	index := make(map[string]int, len(next))
	for i, iface := range next {
		index[iface.ID] = i
	}

	for _, d := range p.FlagDeltas {
		if d.Side != radio.SideVehicle {
			continue
		}
		i, ok := index[d.InterfaceID]
		if !ok {
			return fmt.Errorf("%w: %s", ErrUnknownRadio, d.InterfaceID)
		}
		next[i].Capabilities = d.Flags
	}
	for id, raw := range p.RawPowers {
		i, ok := index[id]
		if !ok {
			return fmt.Errorf("%w: %s", ErrUnknownRadio, id)
		}
		next[i].RawPower = raw
	}
	for _, m := range p.Moves {
		if m.Side != radio.SideVehicle {
			continue
		}
		i, ok := index[m.InterfaceID]
		if !ok {
			return fmt.Errorf("%w: %s", ErrUnknownRadio, m.InterfaceID)
		}
		next[i].AssignedLink = m.To
	}
	for id, kind := range p.Boosters {
		i, ok := index[id]
		if !ok {
			return fmt.Errorf("%w: %s", ErrUnknownRadio, id)
		}
		next[i].Booster = kind
	}

	v.interfaces = next
	if len(p.Links) > 0 {
		v.links = radio.CloneLinks(p.Links)
	}
	if p.PowerMode != nil {
		v.mode = *p.PowerMode
	}
	return nil
}

// Interfaces returns the simulated vehicle radio state
func (v *MockVehicleLink) Interfaces() []radio.Interface {
	v.mutex.Lock()
	defer v.mutex.Unlock()
	return append([]radio.Interface(nil), v.interfaces...)
}

// PowerMode returns the last power mode the vehicle accepted
func (v *MockVehicleLink) PowerMode() txpower.Mode {
	v.mutex.Lock()
	defer v.mutex.Unlock()
	return v.mode
}

// Stats builds a radio report from the simulated state
func (v *MockVehicleLink) Stats() telemetry.VehicleStats {
	v.mutex.Lock()
	defer v.mutex.Unlock()

	s := telemetry.VehicleStats{
		VehicleID:         v.config.VehicleID,
		Paired:            v.config.Paired,
		LinkInterfaces:    make(map[int]string),
		InterfaceRawPower: make(map[string]int, len(v.interfaces)),
	}
	ifaces := append([]radio.Interface(nil), v.interfaces...)
	sort.SliceStable(ifaces, func(i, j int) bool { return ifaces[i].TxPriority < ifaces[j].TxPriority })
	for _, iface := range ifaces {
		s.InterfaceRawPower[iface.ID] = iface.RawPower
		if iface.Bound() {
			if _, taken := s.LinkInterfaces[iface.AssignedLink]; !taken {
				s.LinkInterfaces[iface.AssignedLink] = iface.ID
			}
		}
	}
	return s
}

// Publish pushes the current report to the stats callback
func (v *MockVehicleLink) Publish() {
	v.mutex.Lock()
	fn := v.onStats
	v.mutex.Unlock()
	if fn != nil {
		fn(v.Stats())
	}
}

// Close stops result delivery
func (v *MockVehicleLink) Close() error {
	v.mutex.Lock()
	defer v.mutex.Unlock()
	v.closed = true
	return nil
}
