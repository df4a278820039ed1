package links

import (
	"fmt"

	"github.com/dougsko/fpvlinkd/pkg/radio"
)

// ChangeKind identifies the assignment change a proposal describes
type ChangeKind string

const (
	ChangeSwitch ChangeKind = "switch"
	ChangeRotate ChangeKind = "rotate"
	ChangeSwap   ChangeKind = "swap"
)

// Move is one interface changing link
type Move struct {
	Side        radio.Side `json:"side"`
	InterfaceID string     `json:"interface_id"`
	From        int        `json:"from"`
	To          int        `json:"to"`
}

// Proposal is a proposed assignment state. Building one performs no I/O.
type Proposal struct {
	Kind   ChangeKind `json:"kind"`
	LinkID int        `json:"link_id"`
	After  State      `json:"after"`
	Moves  []Move     `json:"moves"`
}

// ProposeLinkSwitch moves a link onto another eligible controller interface.
// An unbound link gets the first eligible interface that carries no link,
// otherwise the first eligible one. A bound link advances to the next
// eligible interface after its current ones, in index order.
func ProposeLinkSwitch(s State, linkID int) (Proposal, error) {
	link, ok := radio.FindLink(s.Links, linkID)
	if !ok {
		return Proposal{}, fmt.Errorf("%w: %d", ErrUnknownLink, linkID)
	}

	var eligible []int
	last := -1
	for i, iface := range s.Controller {
		if iface.AssignedLink == linkID {
			last = i
		}
		if !link.IsDisabled() && Eligible(iface, link) {
			eligible = append(eligible, i)
		}
	}
	if len(eligible) == 0 {
		return Proposal{}, fmt.Errorf("%w: %d", ErrNoEligibleInterfaceForLink, linkID)
	}

	target := -1
	if last < 0 {
		target = eligible[0]
		for _, i := range eligible {
			if !s.Controller[i].Bound() {
				target = i
				break
			}
		}
	} else {
		n := len(s.Controller)
		for step := 1; step <= n && target < 0; step++ {
			cand := (last + step) % n
			if s.Controller[cand].AssignedLink == linkID {
				continue
			}
			for _, i := range eligible {
				if i == cand {
					target = cand
					break
				}
			}
		}
		if target < 0 {
			return Proposal{}, fmt.Errorf("%w: %d", ErrNothingToSwitch, linkID)
		}
	}

	after := s.Clone()
	for i := range after.Controller {
		if after.Controller[i].AssignedLink == linkID {
			after.Controller[i].AssignedLink = radio.Unbound
		}
	}
	after.Controller[target].AssignedLink = linkID

	return newProposal(ChangeSwitch, linkID, s, after), nil
}

// ProposeRotateLinks shifts every link descriptor to the next link slot and
// moves every bound interface along with it.
func ProposeRotateLinks(s State) (Proposal, error) {
	n := len(s.Links)
	if n < 2 {
		return Proposal{}, ErrNothingToRotate
	}

	after := s.Clone()
	for i, l := range s.Links {
		next := (i + 1) % n
		l.ID = next
		after.Links[next] = l
	}
	rotate := func(items []radio.Interface) {
		for i := range items {
			if items[i].Bound() {
				items[i].AssignedLink = (items[i].AssignedLink + 1) % n
			}
		}
	}
	rotate(after.Controller)
	rotate(after.Vehicle)

	return newProposal(ChangeRotate, radio.Unbound, s, after), nil
}

// ProposeSwapInterfaces exchanges the links of the two enabled vehicle
// interfaces that serve high capacity links on the same bands.
func ProposeSwapInterfaces(s State) (Proposal, error) {
	var pair []int
	for i, iface := range s.Vehicle {
		if iface.Capabilities.IsDisabled() || !iface.Bound() {
			continue
		}
		link, ok := radio.FindLink(s.Links, iface.AssignedLink)
		if !ok || !link.Capabilities.IsHighCapacity() || link.IsDisabled() {
			continue
		}
		pair = append(pair, i)
	}
	if len(pair) != 2 || s.Vehicle[pair[0]].Bands != s.Vehicle[pair[1]].Bands {
		return Proposal{}, ErrNoSwappableInterfaces
	}

	after := s.Clone()
	a, b := &after.Vehicle[pair[0]], &after.Vehicle[pair[1]]
	a.AssignedLink, b.AssignedLink = b.AssignedLink, a.AssignedLink

	return newProposal(ChangeSwap, radio.Unbound, s, after), nil
}

func newProposal(kind ChangeKind, linkID int, before, after State) Proposal {
	p := Proposal{Kind: kind, LinkID: linkID, After: after}
	diff := func(side radio.Side, prev, next []radio.Interface) {
		for i := range next {
			if prev[i].AssignedLink != next[i].AssignedLink {
				p.Moves = append(p.Moves, Move{
					Side:        side,
					InterfaceID: next[i].ID,
					From:        prev[i].AssignedLink,
					To:          next[i].AssignedLink,
				})
			}
		}
	}
	diff(radio.SideController, before.Controller, after.Controller)
	diff(radio.SideVehicle, before.Vehicle, after.Vehicle)
	return p
}
