package engine

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/dougsko/fpvlinkd/pkg/links"
	"github.com/dougsko/fpvlinkd/pkg/logging"
	"github.com/dougsko/fpvlinkd/pkg/power"
	"github.com/dougsko/fpvlinkd/pkg/radio"
	"github.com/dougsko/fpvlinkd/pkg/session"
	"github.com/dougsko/fpvlinkd/pkg/telemetry"
	"github.com/dougsko/fpvlinkd/pkg/txpower"
)

// Status is a summary of the engine for status displays
type Status struct {
	PowerMode            txpower.Mode                      `json:"power_mode"`
	AutoPolicy           string                            `json:"auto_policy"`
	Paired               bool                              `json:"paired"`
	ControllerInterfaces int                               `json:"controller_interfaces"`
	VehicleInterfaces    int                               `json:"vehicle_interfaces"`
	Links                int                               `json:"links"`
	Sessions             map[session.Target]session.Status `json:"sessions"`
	Telemetry            telemetry.VehicleStats            `json:"telemetry"`
}

func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()

	st := Status{
		PowerMode:            e.power.Mode(),
		AutoPolicy:           e.links.Policy().String(),
		Paired:               e.paired(),
		ControllerInterfaces: e.controller.Len(),
		VehicleInterfaces:    e.vehicle.Len(),
		Links:                len(e.links.Links()),
		Sessions:             make(map[session.Target]session.Status, len(e.sessions)),
		Telemetry:            e.vehicleStatsLocked(),
	}
	for t, s := range e.sessions {
		st.Sessions[t] = s.Status()
	}
	return st
}

// GetLinkEligibility reports bound, assignable and preferred interfaces for
// one link
func (e *Engine) GetLinkEligibility(linkID int) (links.Eligibility, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.links.Eligibility(linkID)
}

func (e *Engine) AllEligibility() []links.Eligibility {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.links.AllEligibility()
}

// EligibleLinks lists the links a controller interface could carry
func (e *Engine) EligibleLinks(interfaceID string) ([]int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.links.EligibleLinks(interfaceID)
}

// GetEffectivePowerMw returns the power from the latest recomputation
func (e *Engine) GetEffectivePowerMw(interfaceID string) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.power.EffectiveMw(interfaceID)
}

func (e *Engine) PowerSnapshot() txpower.Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.power.Snapshot()
}

func (e *Engine) PowerMode() txpower.Mode {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.power.Mode()
}

// Interfaces returns the committed interfaces of one side
func (e *Engine) Interfaces(side radio.Side) []radio.Interface {
	e.mu.Lock()
	defer e.mu.Unlock()
	if side == radio.SideVehicle {
		return e.vehicle.All()
	}
	return e.controller.All()
}

func (e *Engine) Links() []radio.Link {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.links.Links()
}

// GetSessionState returns the live state of a session. Once idle, the
// outcome of the last finished request is reported until the next one
// starts.
func (e *Engine) GetSessionState(target session.Target) (session.State, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	s, ok := e.sessions[target]
	if !ok {
		return session.StateIdle, fmt.Errorf("unknown session target: %d", int(target))
	}
	if state := s.State(); state != session.StateIdle {
		return state, nil
	}
	return s.Status().LastResult, nil
}

func (e *Engine) SessionStatus(target session.Target) (session.Status, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	s, ok := e.sessions[target]
	if !ok {
		return session.Status{}, fmt.Errorf("unknown session target: %d", int(target))
	}
	return s.Status(), nil
}

// display settings are local to this daemon and need no command

// SetInterfaceName sets the display name of an interface on either side
func (e *Engine) SetInterfaceName(interfaceID, name string) error {
	return e.localChange(interfaceID, func(reg *radio.Registry) error {
		return reg.SetName(interfaceID, name)
	})
}

// SetTxPreferred moves an interface to the top of the TX preferred list
func (e *Engine) SetTxPreferred(interfaceID string) error {
	return e.localChange(interfaceID, func(reg *radio.Registry) error {
		return reg.SetTxPreferred(interfaceID)
	})
}

func (e *Engine) RemoveTxPreferred(interfaceID string) error {
	return e.localChange(interfaceID, func(reg *radio.Registry) error {
		return reg.RemoveTxPreferred(interfaceID)
	})
}

// SetBooster records the external amplifier fitted to an interface. A
// controller amplifier is a local setting. A vehicle amplifier changes what
// the vehicle transmits, so it is negotiated with the vehicle and the id of
// the request is returned.
func (e *Engine) SetBooster(interfaceID string, kind power.BoosterKind) (uuid.UUID, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	_, reg, err := e.findInterface(interfaceID)
	if err != nil {
		return uuid.Nil, err
	}
	if reg.Side() == radio.SideController {
		return uuid.Nil, e.localChangeLocked(interfaceID, func(reg *radio.Registry) error {
			return reg.SetBooster(interfaceID, kind)
		})
	}

	payload := session.Payload{Boosters: map[string]power.BoosterKind{interfaceID: kind}}
	commit := func() error {
		return reg.SetBooster(interfaceID, kind)
	}
	id, err := e.submitLocked(session.TargetVehicle, session.KindSetBoosters, payload, commit)
	if err == nil {
		logging.Info("engine", fmt.Sprintf("Requested %s booster on %s", kind, interfaceID))
	}
	return id, err
}

func (e *Engine) localChange(interfaceID string, fn func(reg *radio.Registry) error) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.localChangeLocked(interfaceID, fn)
}

func (e *Engine) localChangeLocked(interfaceID string, fn func(reg *radio.Registry) error) error {
	_, reg, err := e.findInterface(interfaceID)
	if err != nil {
		return err
	}
	if err := fn(reg); err != nil {
		return err
	}
	e.recomputeLocked()
	e.persistLocked()
	logging.Debug("engine", fmt.Sprintf("Updated settings of %s", interfaceID))
	return nil
}
