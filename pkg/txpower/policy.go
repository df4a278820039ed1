package txpower

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

// ErrAutoModeActive is returned for manual power requests while the
// controller follows the vehicle
var ErrAutoModeActive = errors.New("automatic power mode active")

// Mode is the process wide power policy mode
type Mode int

const (
	ModeFixed Mode = iota
	ModeAuto
)

func (m Mode) String() string {
	if m == ModeAuto {
		return "auto"
	}
	return "fixed"
}

// ParseMode parses "fixed" or "auto"
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "fixed", "manual":
		return ModeFixed, nil
	case "auto", "auto-match", "match":
		return ModeAuto, nil
	}
	return ModeFixed, fmt.Errorf("unknown power mode: %s", s)
}

func (m Mode) MarshalText() ([]byte, error) { return []byte(m.String()), nil }

func (m *Mode) UnmarshalText(text []byte) error {
	parsed, err := ParseMode(string(text))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// Reciprocation maps the vehicle's transmit power to the controller's
type Reciprocation struct {
	Multiplier float64 `json:"multiplier"`
	FloorMw    int     `json:"floor_mw"`
}

// DefaultReciprocation doubles the vehicle power
func DefaultReciprocation() Reciprocation {
	return Reciprocation{Multiplier: 2.0}
}

// Apply returns the controller target for a vehicle output power
func (r Reciprocation) Apply(vehicleMw int) int {
	m := r.Multiplier
	if m <= 0 {
		m = 1
	}
	mw := int(math.Round(float64(vehicleMw) * m))
	if mw < r.FloorMw {
		mw = r.FloorMw
	}
	return mw
}

// Policy is the current power policy: fixed per interface targets, or
// automatic matching of the vehicle
type Policy struct {
	Mode    Mode           `json:"mode"`
	FixedMw map[string]int `json:"fixed_mw,omitempty"`
}

// FixedPolicy returns a fixed policy with the given targets
func FixedPolicy(targets map[string]int) Policy {
	p := Policy{Mode: ModeFixed}
	return p.withTargets(targets)
}

// AutoPolicy returns the vehicle matching policy. Fixed targets are kept so
// switching back restores them.
func AutoPolicy(targets map[string]int) Policy {
	p := Policy{Mode: ModeAuto}
	return p.withTargets(targets)
}

func (p Policy) withTargets(targets map[string]int) Policy {
	p.FixedMw = make(map[string]int, len(targets))
	for k, v := range targets {
		p.FixedMw[k] = v
	}
	return p
}

// Clone returns an independent copy
func (p Policy) Clone() Policy {
	return p.withTargets(p.FixedMw)
}

// WithMode returns the policy switched to mode
func (p Policy) WithMode(mode Mode) Policy {
	c := p.Clone()
	c.Mode = mode
	return c
}

// WithFixedTarget returns the policy with a new target for one interface
func (p Policy) WithFixedTarget(interfaceID string, mw int) (Policy, error) {
	if p.Mode == ModeAuto {
		return p, ErrAutoModeActive
	}
	if mw <= 0 {
		return p, fmt.Errorf("invalid power target %d mW", mw)
	}
	c := p.Clone()
	c.FixedMw[interfaceID] = mw
	return c, nil
}

// Target returns the fixed target of an interface
func (p Policy) Target(interfaceID string) (int, bool) {
	mw, ok := p.FixedMw[interfaceID]
	return mw, ok
}
