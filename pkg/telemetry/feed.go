package telemetry

import (
	"sync"
	"time"
)

// VehicleStats is the latest radio link report received from the vehicle
type VehicleStats struct {
	VehicleID string `json:"vehicle_id"`
	Paired    bool   `json:"paired"`
	// link id -> vehicle interface id
	LinkInterfaces map[int]string `json:"links"`
	// vehicle interface id -> reported raw power
	InterfaceRawPower map[string]int `json:"raw_power"`
	ReceivedAt        time.Time      `json:"received_at"`
	Stale             bool           `json:"stale"`
}

// HasData reports whether the stats describe a live, paired vehicle
func (s VehicleStats) HasData() bool {
	return s.Paired && !s.Stale && !s.ReceivedAt.IsZero() && len(s.InterfaceRawPower) > 0
}

// ReportedRaw returns the raw power reported for the vehicle interface
// serving a link.
func (s VehicleStats) ReportedRaw(linkID int) (string, int, bool) {
	id, ok := s.LinkInterfaces[linkID]
	if !ok {
		return "", 0, false
	}
	raw, ok := s.InterfaceRawPower[id]
	return id, raw, ok
}

func (s VehicleStats) clone() VehicleStats {
	c := s
	c.LinkInterfaces = make(map[int]string, len(s.LinkInterfaces))
	for k, v := range s.LinkInterfaces {
		c.LinkInterfaces[k] = v
	}
	c.InterfaceRawPower = make(map[string]int, len(s.InterfaceRawPower))
	for k, v := range s.InterfaceRawPower {
		c.InterfaceRawPower[k] = v
	}
	return c
}

// Feed keeps the most recent vehicle stats. It is safe for concurrent use.
type Feed struct {
	mu       sync.RWMutex
	latest   VehicleStats
	maxAge   time.Duration
	onUpdate func(VehicleStats)
	now      func() time.Time
}

// NewFeed creates a feed. Reports older than maxAge are marked stale; zero
// disables ageing.
func NewFeed(maxAge time.Duration) *Feed {
	return &Feed{
		maxAge: maxAge,
		now:    time.Now,
	}
}

// OnUpdate registers the callback invoked after every update
func (f *Feed) OnUpdate(fn func(VehicleStats)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onUpdate = fn
}

// Update stores a new report
func (f *Feed) Update(s VehicleStats) {
	f.mu.Lock()
	if s.ReceivedAt.IsZero() {
		s.ReceivedAt = f.now()
	}
	s.Stale = false
	f.latest = s.clone()
	fn := f.onUpdate
	f.mu.Unlock()

	if fn != nil {
		fn(s.clone())
	}
}

// Latest returns a copy of the most recent report
func (f *Feed) Latest() VehicleStats {
	f.mu.RLock()
	defer f.mu.RUnlock()

	s := f.latest.clone()
	if f.maxAge > 0 && !s.ReceivedAt.IsZero() && f.now().Sub(s.ReceivedAt) > f.maxAge {
		s.Stale = true
	}
	return s
}

// Reset forgets the vehicle, for example after unpairing
func (f *Feed) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.latest = VehicleStats{}
}
