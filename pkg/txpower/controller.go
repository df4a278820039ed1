package txpower

import (
	"errors"
	"fmt"
	"time"

	"github.com/dougsko/fpvlinkd/pkg/links"
	"github.com/dougsko/fpvlinkd/pkg/power"
	"github.com/dougsko/fpvlinkd/pkg/radio"
	"github.com/dougsko/fpvlinkd/pkg/telemetry"
)

// DefaultFallbackMw is used in automatic mode when nothing is known about
// the vehicle
const DefaultFallbackMw = 10

// Source tells where an effective power value came from
type Source string

const (
	SourceFixed    Source = "fixed"
	SourceCurrent  Source = "current"
	SourceAuto     Source = "auto"
	SourceFallback Source = "fallback"
)

// Effective is the resolved power of one interface
type Effective struct {
	InterfaceID    string     `json:"interface_id"`
	Side           radio.Side `json:"side"`
	RequestedMw    int        `json:"requested_mw,omitempty"`
	Mw             int        `json:"mw"`
	Raw            int        `json:"raw"`
	CeilingMw      int        `json:"ceiling_mw"`
	Clamped        bool       `json:"clamped"`
	Source         Source     `json:"source"`
	VehicleMw      int        `json:"vehicle_mw,omitempty"`
	OutputMw       int        `json:"output_mw"`
	DefaultProfile bool       `json:"default_profile,omitempty"`
}

// Snapshot holds the effective power of every interface after one
// recomputation
type Snapshot struct {
	Mode       Mode                 `json:"mode"`
	Controller map[string]Effective `json:"controller"`
	Vehicle    map[string]Effective `json:"vehicle"`
	ComputedAt time.Time            `json:"computed_at"`
}

// Get looks an interface up on either side
func (s Snapshot) Get(interfaceID string) (Effective, bool) {
	if e, ok := s.Controller[interfaceID]; ok {
		return e, true
	}
	e, ok := s.Vehicle[interfaceID]
	return e, ok
}

// Controller resolves the power policy into effective per interface power.
// It is not safe for concurrent use.
type Controller struct {
	policy     Policy
	recip      Reciprocation
	fallbackMw int
	snapshot   Snapshot
	now        func() time.Time
}

// NewController creates a power controller
func NewController(policy Policy, recip Reciprocation, fallbackMw int) *Controller {
	if fallbackMw <= 0 {
		fallbackMw = DefaultFallbackMw
	}
	return &Controller{
		policy:     policy.Clone(),
		recip:      recip,
		fallbackMw: fallbackMw,
		now:        time.Now,
	}
}

func (c *Controller) Policy() Policy { return c.policy.Clone() }

func (c *Controller) Mode() Mode { return c.policy.Mode }

func (c *Controller) Reciprocation() Reciprocation { return c.recip }

func (c *Controller) FallbackMw() int { return c.fallbackMw }

// SetPolicy replaces the policy. The snapshot is not recomputed.
func (c *Controller) SetPolicy(p Policy) {
	c.policy = p.Clone()
}

// Snapshot returns the last computed snapshot
func (c *Controller) Snapshot() Snapshot { return c.snapshot }

// EffectiveMw returns the effective power of an interface
func (c *Controller) EffectiveMw(interfaceID string) (int, error) {
	e, ok := c.snapshot.Get(interfaceID)
	if !ok {
		return 0, fmt.Errorf("%w: %s", radio.ErrUnknownInterface, interfaceID)
	}
	return e.Mw, nil
}

// CheckManual fails while automatic matching owns controller power
func (c *Controller) CheckManual(side radio.Side) error {
	if side == radio.SideController && c.policy.Mode == ModeAuto {
		return ErrAutoModeActive
	}
	return nil
}

// Recompute computes a snapshot for the current policy and stores it
func (c *Controller) Recompute(eng *links.Engine, stats telemetry.VehicleStats) (Snapshot, error) {
	snap, err := c.Compute(c.policy, eng, stats)
	c.snapshot = snap
	return snap, err
}

// Compute resolves policy against the assignment state without storing the
// result. Booster failures are joined into the returned error; the snapshot
// is complete regardless.
func (c *Controller) Compute(policy Policy, eng *links.Engine, stats telemetry.VehicleStats) (Snapshot, error) {
	snap := Snapshot{
		Mode:       policy.Mode,
		Controller: make(map[string]Effective),
		Vehicle:    make(map[string]Effective),
		ComputedAt: c.now(),
	}
	var errs []error

	veh := eng.Vehicle()
	for _, iface := range veh.All() {
		profile, ok := veh.Profile(iface)
		e := fixedOrCurrent(policy, iface, profile)
		e.Side = radio.SideVehicle
		e.DefaultProfile = !ok
		e.OutputMw, errs = boosted(iface, e.Mw, errs)
		snap.Vehicle[iface.ID] = e
	}

	var vehicleMw map[int]int
	if policy.Mode == ModeAuto {
		vehicleMw, errs = c.vehicleLinkPower(eng, stats, errs)
	}

	ctrl := eng.Controller()
	for _, iface := range ctrl.All() {
		profile, ok := ctrl.Profile(iface)
		var e Effective
		if policy.Mode == ModeAuto {
			e = c.matchVehicle(iface, profile, vehicleMw)
		} else {
			e = fixedOrCurrent(policy, iface, profile)
		}
		e.Side = radio.SideController
		e.DefaultProfile = !ok
		e.OutputMw, errs = boosted(iface, e.Mw, errs)
		snap.Controller[iface.ID] = e
	}

	return snap, errors.Join(errs...)
}

func fixedOrCurrent(policy Policy, iface radio.Interface, profile power.Profile) Effective {
	e := Effective{
		InterfaceID: iface.ID,
		CeilingMw:   profile.UsableMw,
	}
	if target, ok := policy.Target(iface.ID); ok {
		e.RequestedMw = target
		e.Source = SourceFixed
		e.Mw, e.Clamped = clamp(target, profile.UsableMw)
		e.Raw = profile.MwToRaw(e.Mw)
		return e
	}
	e.Source = SourceCurrent
	e.Raw = iface.RawPower
	e.Mw = profile.RawToMw(iface.RawPower)
	return e
}

// vehicleLinkPower returns the vehicle output power per link from the
// latest telemetry
func (c *Controller) vehicleLinkPower(eng *links.Engine, stats telemetry.VehicleStats, errs []error) (map[int]int, []error) {
	out := make(map[int]int)
	if !stats.HasData() {
		return out, errs
	}
	veh := eng.Vehicle()
	for _, l := range eng.Links() {
		id, raw, ok := stats.ReportedRaw(l.ID)
		if !ok {
			// telemetry may lag behind a committed assignment
			id, ok = boundVehicleInterface(veh, l.ID)
			if !ok {
				continue
			}
			raw, ok = stats.InterfaceRawPower[id]
			if !ok {
				continue
			}
		}
		iface, known := veh.Get(id)
		if !known {
			iface = radio.Interface{ID: id, Card: power.Known(power.CardGeneric)}
		}
		profile, _ := veh.Profile(iface)
		mw, err := power.ApplyBoost(profile.RawToMw(raw), iface.Booster)
		if err != nil {
			errs = append(errs, fmt.Errorf("vehicle interface %s: %w", id, err))
			continue
		}
		out[l.ID] = mw
	}
	return out, errs
}

func boundVehicleInterface(veh *radio.Registry, linkID int) (string, bool) {
	for _, iface := range veh.All() {
		if iface.AssignedLink == linkID {
			return iface.ID, true
		}
	}
	return "", false
}

func (c *Controller) matchVehicle(iface radio.Interface, profile power.Profile, vehicleMw map[int]int) Effective {
	e := Effective{
		InterfaceID: iface.ID,
		CeilingMw:   profile.UsableMw,
	}

	vmw, ok := 0, false
	if iface.Bound() {
		vmw, ok = vehicleMw[iface.AssignedLink]
	} else {
		for _, mw := range vehicleMw {
			if !ok || mw > vmw {
				vmw, ok = mw, true
			}
		}
	}

	if ok {
		e.Source = SourceAuto
		e.VehicleMw = vmw
		e.RequestedMw = c.recip.Apply(vmw)
	} else {
		e.Source = SourceFallback
		e.RequestedMw = c.fallbackMw
	}
	e.Mw, e.Clamped = clamp(e.RequestedMw, profile.UsableMw)
	e.Raw = profile.MwToRaw(e.Mw)
	return e
}

func boosted(iface radio.Interface, mw int, errs []error) (int, []error) {
	out, err := power.ApplyBoost(mw, iface.Booster)
	if err != nil {
		return 0, append(errs, fmt.Errorf("interface %s: %w", iface.ID, err))
	}
	return out, errs
}

func clamp(mw, ceiling int) (int, bool) {
	if mw > ceiling {
		return ceiling, true
	}
	return mw, false
}
