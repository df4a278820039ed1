package engine

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/dougsko/fpvlinkd/pkg/links"
	"github.com/dougsko/fpvlinkd/pkg/logging"
	"github.com/dougsko/fpvlinkd/pkg/power"
	"github.com/dougsko/fpvlinkd/pkg/radio"
	"github.com/dougsko/fpvlinkd/pkg/session"
	"github.com/dougsko/fpvlinkd/pkg/txpower"
)

// submitLocked hands a change to the session of target. commit runs once
// the target acknowledged the command; state is only touched there.
func (e *Engine) submitLocked(target session.Target, kind session.Kind, payload session.Payload, commit func() error) (uuid.UUID, error) {
	if e.closed {
		return uuid.Nil, fmt.Errorf("engine closed")
	}
	if target == session.TargetVehicle && !e.paired() {
		return uuid.Nil, ErrNoVehiclePaired
	}
	hooks := session.Hooks{
		Commit: func() error {
			if err := commit(); err != nil {
				e.recomputeLocked()
				return err
			}
			e.recomputeLocked()
			e.persistLocked()
			// the command is still in flight here, so a sync can only queue
			if target == session.TargetController && e.syncDeferred {
				e.syncControllerPowerLocked("deferred")
			}
			return nil
		},
		Revert: func() {
			e.recomputeLocked()
		},
	}
	return e.sessions[target].Request(kind, payload, hooks)
}

// targetFor picks the session for a change on one side
func targetFor(side radio.Side) session.Target {
	if side == radio.SideVehicle {
		return session.TargetVehicle
	}
	return session.TargetController
}

// findInterface looks an interface up on both sides
func (e *Engine) findInterface(id string) (radio.Interface, *radio.Registry, error) {
	if iface, ok := e.controller.Get(id); ok {
		return iface, e.controller, nil
	}
	if iface, ok := e.vehicle.Get(id); ok {
		return iface, e.vehicle, nil
	}
	return radio.Interface{}, nil, fmt.Errorf("%w: %s", radio.ErrUnknownInterface, id)
}

// RequestPowerChange asks for a new transmit power on one interface. For a
// controller interface the value becomes its fixed target, which fails while
// automatic matching is active.
func (e *Engine) RequestPowerChange(interfaceID string, mw int) (uuid.UUID, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	iface, reg, err := e.findInterface(interfaceID)
	if err != nil {
		return uuid.Nil, err
	}
	if mw <= 0 {
		return uuid.Nil, fmt.Errorf("invalid power target %d mW", mw)
	}
	side := reg.Side()
	if err := e.power.CheckManual(side); err != nil {
		return uuid.Nil, err
	}

	var raw, effMw int
	var commit func() error
	if side == radio.SideController {
		policy, err := e.power.Policy().WithFixedTarget(interfaceID, mw)
		if err != nil {
			return uuid.Nil, err
		}
		// other interfaces may report booster errors; only the target matters here
		snap, _ := e.power.Compute(policy, e.links, e.vehicleStatsLocked())
		eff := snap.Controller[interfaceID]
		raw, effMw = eff.Raw, eff.Mw
		commit = func() error {
			// the mode may have changed while the command was queued
			current, err := e.power.Policy().WithFixedTarget(interfaceID, mw)
			if err != nil {
				return err
			}
			if err := e.controller.SetRawPower(interfaceID, raw); err != nil {
				return err
			}
			e.power.SetPolicy(current)
			return nil
		}
	} else {
		profile, _ := e.vehicle.Profile(iface)
		target := mw
		if target > profile.UsableMw {
			target = profile.UsableMw
		}
		raw, effMw = profile.MwToRaw(target), target
		commit = func() error {
			return e.vehicle.SetRawPower(interfaceID, raw)
		}
	}
	if _, err := power.ApplyBoost(effMw, iface.Booster); err != nil {
		return uuid.Nil, fmt.Errorf("interface %s: %w", interfaceID, err)
	}

	payload := session.Payload{RawPowers: map[string]int{interfaceID: raw}}
	id, err := e.submitLocked(targetFor(side), session.KindSetTxPowers, payload, commit)
	if err == nil {
		logging.Info("engine", fmt.Sprintf("Requested %d mW (raw %d) on %s", mw, raw, interfaceID))
	}
	return id, err
}

// RequestLinkSwitch moves a link to the next eligible controller interface.
// Errors leave the committed state untouched.
func (e *Engine) RequestLinkSwitch(linkID int) (uuid.UUID, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	p, err := e.links.ProposeLinkSwitch(linkID)
	if err != nil {
		return uuid.Nil, err
	}
	return e.submitProposalLocked(p, session.KindSwitchLink)
}

// RequestLinkRotation shifts every link to the next link slot
func (e *Engine) RequestLinkRotation() (uuid.UUID, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	p, err := e.links.ProposeRotateLinks()
	if err != nil {
		return uuid.Nil, err
	}
	return e.submitProposalLocked(p, session.KindRotateLinks)
}

// RequestInterfaceSwap exchanges the links of the two high capacity
// vehicle interfaces
func (e *Engine) RequestInterfaceSwap() (uuid.UUID, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	p, err := e.links.ProposeSwapInterfaces()
	if err != nil {
		return uuid.Nil, err
	}
	return e.submitProposalLocked(p, session.KindSwapInterfaces)
}

// submitProposalLocked sends an assignment proposal. Proposals that only
// move controller interfaces are applied locally; anything touching the
// vehicle goes to the vehicle.
func (e *Engine) submitProposalLocked(p links.Proposal, kind session.Kind) (uuid.UUID, error) {
	payload := session.Payload{Moves: p.Moves}
	target := session.TargetController
	for _, m := range p.Moves {
		if m.Side == radio.SideVehicle {
			target = session.TargetVehicle
		}
	}
	if p.Kind == links.ChangeRotate {
		payload.Links = p.After.Links
		target = session.TargetVehicle
	}

	moves := append([]links.Move(nil), p.Moves...)
	newLinks := payload.Links
	commit := func() error {
		return e.applyMovesLocked(moves, newLinks)
	}

	id, err := e.submitLocked(target, kind, payload, commit)
	if err == nil {
		logging.Info("engine", fmt.Sprintf("Requested %s (%d moves) on %s", kind, len(moves), target))
	}
	return id, err
}

// applyMovesLocked commits the moves of a proposal on top of the current
// committed state
func (e *Engine) applyMovesLocked(moves []links.Move, newLinks []radio.Link) error {
	after := e.links.State()
	for _, m := range moves {
		items := after.Controller
		if m.Side == radio.SideVehicle {
			items = after.Vehicle
		}
		found := false
		for i := range items {
			if items[i].ID == m.InterfaceID {
				items[i].AssignedLink = m.To
				found = true
				break
			}
		}
		if !found {
			return fmt.Errorf("%w: %s", radio.ErrUnknownInterface, m.InterfaceID)
		}
	}
	if len(newLinks) > 0 {
		after.Links = radio.CloneLinks(newLinks)
	}
	return e.links.Commit(links.Proposal{After: after, Moves: moves})
}

// RequestInterfaceFlags replaces the capability flags of an interface. The
// registry guards are checked before anything is sent.
func (e *Engine) RequestInterfaceFlags(interfaceID string, flags radio.Capabilities) (uuid.UUID, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	_, reg, err := e.findInterface(interfaceID)
	if err != nil {
		return uuid.Nil, err
	}
	if err := checkFlags(reg, interfaceID, flags); err != nil {
		return uuid.Nil, err
	}

	side := reg.Side()
	payload := session.Payload{FlagDeltas: []session.FlagDelta{{InterfaceID: interfaceID, Side: side, Flags: flags}}}
	commit := func() error {
		return reg.SetFlags(interfaceID, flags)
	}
	return e.submitLocked(targetFor(side), session.KindSetInterfaceFlags, payload, commit)
}

// checkFlags dry runs a flag change against the registry guards
func checkFlags(reg *radio.Registry, id string, flags radio.Capabilities) error {
	before := reg.Snapshot()
	wasDirty := reg.Dirty()
	err := reg.SetFlags(id, flags)
	reg.Restore(before)
	if !wasDirty {
		reg.MarkClean()
	}
	return err
}

// SetPowerMode switches between fixed and vehicle matching power. With a
// paired vehicle the change is negotiated with the vehicle; controller
// power follows once it is accepted.
func (e *Engine) SetPowerMode(mode txpower.Mode) (uuid.UUID, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	target := session.TargetController
	if e.paired() {
		target = session.TargetVehicle
	}
	payload := session.Payload{PowerMode: &mode}
	commit := func() error {
		e.power.SetPolicy(e.power.Policy().WithMode(mode))
		logging.Info("engine", fmt.Sprintf("Power mode is now %s", mode))
		// queued behind the mode change when both use the local channel
		e.syncControllerPowerLocked("power mode change")
		return nil
	}
	return e.submitLocked(target, session.KindSetPowerMode, payload, commit)
}

// syncControllerPowerLocked submits the raw power changes needed to bring
// the controller interfaces to the current effective snapshot. An operator
// request waiting on the controller session is never replaced; the sync is
// deferred until that request is committed.
func (e *Engine) syncControllerPowerLocked(reason string) {
	snap := e.recomputeLocked()
	if kind, ok := e.sessions[session.TargetController].QueuedKind(); ok && kind != session.KindSetTxPowers {
		if !e.syncDeferred {
			logging.Debug("engine", fmt.Sprintf("Controller power sync (%s) deferred behind queued %s", reason, kind))
		}
		e.syncDeferred = true
		return
	}
	e.syncDeferred = false

	changes := make(map[string]int)
	for _, iface := range e.controller.All() {
		eff, ok := snap.Controller[iface.ID]
		if ok && eff.Raw != iface.RawPower {
			changes[iface.ID] = eff.Raw
		}
	}
	if len(changes) == 0 {
		return
	}

	commit := func() error {
		for id, raw := range changes {
			if err := e.controller.SetRawPower(id, raw); err != nil {
				return err
			}
		}
		return nil
	}
	payload := session.Payload{RawPowers: changes}
	if _, err := e.submitLocked(session.TargetController, session.KindSetTxPowers, payload, commit); err != nil {
		logging.Warn("engine", fmt.Sprintf("Controller power sync (%s) failed: %v", reason, err))
		return
	}
	logging.Debug("engine", fmt.Sprintf("Controller power sync (%s): %d interfaces", reason, len(changes)))
}

// CancelRequest drops a request that has not been sent yet
func (e *Engine) CancelRequest(id uuid.UUID) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, s := range e.sessions {
		if s.Owns(id) {
			return s.Cancel(id)
		}
	}
	return session.ErrUnknownRequest
}

// OnCommandResult routes a command outcome to the session that sent it.
// It returns false for stale or unknown command ids.
func (e *Engine) OnCommandResult(commandID uint32, result session.Result) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, s := range e.sessions {
		if id, ok := s.InFlightCommand(); ok && id == commandID {
			return s.OnCommandResult(commandID, result)
		}
	}
	logging.Warn("engine", fmt.Sprintf("Ignoring result for unknown command %d", commandID))
	return false
}
