package links

import (
	"fmt"

	"github.com/dougsko/fpvlinkd/pkg/radio"
)

// Engine answers assignment questions over the controller registry, the
// vehicle mirror registry and the vehicle link descriptors it owns.
type Engine struct {
	controller *radio.Registry
	vehicle    *radio.Registry
	links      []radio.Link
	policy     AutoPolicy
}

// NewEngine creates an assignment engine
func NewEngine(controller, vehicle *radio.Registry, policy AutoPolicy) *Engine {
	return &Engine{
		controller: controller,
		vehicle:    vehicle,
		policy:     policy,
	}
}

func (e *Engine) Controller() *radio.Registry { return e.controller }

func (e *Engine) Vehicle() *radio.Registry { return e.vehicle }

func (e *Engine) Policy() AutoPolicy { return e.policy }

// Links returns a copy of the link descriptors
func (e *Engine) Links() []radio.Link {
	return radio.CloneLinks(e.links)
}

// SetLinks replaces the link descriptors. Link ids must match their
// position. Interfaces bound to links that no longer exist are unbound.
func (e *Engine) SetLinks(links []radio.Link) error {
	for i, l := range links {
		if l.ID != i {
			return fmt.Errorf("link at position %d has id %d", i, l.ID)
		}
	}
	for _, reg := range []*radio.Registry{e.controller, e.vehicle} {
		items := reg.All()
		changed := false
		for i := range items {
			if items[i].AssignedLink >= len(links) {
				items[i].AssignedLink = radio.Unbound
				changed = true
			}
		}
		if changed {
			if err := reg.Replace(items); err != nil {
				return err
			}
		}
	}
	e.links = radio.CloneLinks(links)
	return nil
}

// State snapshots everything an assignment computation reads
func (e *Engine) State() State {
	return State{
		Controller: e.controller.All(),
		Vehicle:    e.vehicle.All(),
		Links:      e.Links(),
	}
}

// Eligibility returns the eligibility of one link
func (e *Engine) Eligibility(linkID int) (Eligibility, error) {
	return ComputeEligibility(e.State(), linkID, e.policy, e.controllerMw)
}

// AllEligibility returns the eligibility of every link in id order
func (e *Engine) AllEligibility() []Eligibility {
	state := e.State()
	out := make([]Eligibility, 0, len(state.Links))
	for _, l := range state.Links {
		el, err := ComputeEligibility(state, l.ID, e.policy, e.controllerMw)
		if err == nil {
			out = append(out, el)
		}
	}
	return out
}

// EligibleLinks lists the links a controller interface could carry
func (e *Engine) EligibleLinks(interfaceID string) ([]int, error) {
	iface, ok := e.controller.Get(interfaceID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", radio.ErrUnknownInterface, interfaceID)
	}
	ids := []int{}
	for _, l := range e.links {
		if !l.IsDisabled() && Eligible(iface, l) {
			ids = append(ids, l.ID)
		}
	}
	return ids, nil
}

func (e *Engine) ProposeLinkSwitch(linkID int) (Proposal, error) {
	return ProposeLinkSwitch(e.State(), linkID)
}

func (e *Engine) ProposeRotateLinks() (Proposal, error) {
	return ProposeRotateLinks(e.State())
}

func (e *Engine) ProposeSwapInterfaces() (Proposal, error) {
	return ProposeSwapInterfaces(e.State())
}

// Commit applies the assignment part of an accepted proposal. Other
// interface fields keep their current committed values. Nothing changes
// when any part fails validation.
func (e *Engine) Commit(p Proposal) error {
	ctrlBefore := e.controller.Snapshot()
	vehBefore := e.vehicle.Snapshot()

	if err := e.controller.Replace(withAssignments(ctrlBefore, p.After.Controller)); err != nil {
		return fmt.Errorf("commit controller assignment: %w", err)
	}
	if err := e.vehicle.Replace(withAssignments(vehBefore, p.After.Vehicle)); err != nil {
		e.controller.Restore(ctrlBefore)
		return fmt.Errorf("commit vehicle assignment: %w", err)
	}
	if len(p.After.Links) == len(e.links) {
		e.links = radio.CloneLinks(p.After.Links)
	}
	return nil
}

func withAssignments(current, proposed []radio.Interface) []radio.Interface {
	out := append([]radio.Interface(nil), current...)
	for i := range out {
		for _, p := range proposed {
			if p.ID == out[i].ID {
				out[i].AssignedLink = p.AssignedLink
				break
			}
		}
	}
	return out
}

func (e *Engine) controllerMw(iface radio.Interface) int {
	p, _ := e.controller.Profile(iface)
	return p.RawToMw(iface.RawPower)
}
