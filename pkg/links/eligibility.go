package links

import (
	"errors"
	"fmt"
	"strings"

	"github.com/dougsko/fpvlinkd/pkg/radio"
)

var (
	ErrUnknownLink                = errors.New("unknown radio link")
	ErrNoEligibleInterfaceForLink = errors.New("no eligible controller interface for radio link")
	ErrNothingToSwitch            = errors.New("radio link already uses every eligible interface")
	ErrNothingToRotate            = errors.New("at least two radio links are required to rotate")
	ErrNoSwappableInterfaces      = errors.New("no pair of high capacity vehicle interfaces to swap")
)

// AutoPolicy picks the TX interface of a link when no interface carries a
// TX preference.
type AutoPolicy int

const (
	// AutoFirstByIndex picks the lowest registry index
	AutoFirstByIndex AutoPolicy = iota
	// AutoHighestPower picks the interface with the highest current mW,
	// lowest index on ties
	AutoHighestPower
)

func (p AutoPolicy) String() string {
	if p == AutoHighestPower {
		return "highest-power"
	}
	return "first-by-index"
}

// ParseAutoPolicy parses "first-by-index" or "highest-power"
func ParseAutoPolicy(s string) (AutoPolicy, error) {
	switch strings.ToLower(s) {
	case "", "first-by-index":
		return AutoFirstByIndex, nil
	case "highest-power":
		return AutoHighestPower, nil
	}
	return AutoFirstByIndex, fmt.Errorf("unknown auto TX policy: %s", s)
}

// PreferredSource tells how the preferred TX interface was chosen
type PreferredSource string

const (
	PreferredNone     PreferredSource = "none"
	PreferredExplicit PreferredSource = "priority"
	PreferredAuto     PreferredSource = "auto"
)

// PowerFunc reports the current output power of a controller interface
type PowerFunc func(radio.Interface) int

// State is the complete input of an assignment computation
type State struct {
	Controller []radio.Interface `json:"controller"`
	Vehicle    []radio.Interface `json:"vehicle"`
	Links      []radio.Link      `json:"links"`
}

// Clone returns a deep copy
func (s State) Clone() State {
	return State{
		Controller: append([]radio.Interface(nil), s.Controller...),
		Vehicle:    append([]radio.Interface(nil), s.Vehicle...),
		Links:      radio.CloneLinks(s.Links),
	}
}

// Eligibility describes the controller side of one vehicle link
type Eligibility struct {
	LinkID               int             `json:"link_id"`
	Disabled             bool            `json:"disabled"`
	Relay                bool            `json:"relay"`
	BoundCount           int             `json:"bound_count"`
	AssignableCount      int             `json:"assignable_count"`
	PotentialCount       int             `json:"potential_count"`
	Bound                []string        `json:"bound"`
	Eligible             []string        `json:"eligible"`
	PreferredInterfaceID string          `json:"preferred_interface_id"`
	PreferredSource      PreferredSource `json:"preferred_source"`
	VehicleInterfaceID   string          `json:"vehicle_interface_id,omitempty"`
}

// Eligible reports whether a controller interface may carry a vehicle link
func Eligible(iface radio.Interface, link radio.Link) bool {
	return !iface.Capabilities.IsDisabled() && compatible(iface, link)
}

func compatible(iface radio.Interface, link radio.Link) bool {
	return iface.Bands.Overlaps(link.Bands) &&
		iface.Capabilities&link.Capabilities&radio.CapTraffic != 0
}

// ComputeEligibility derives the eligibility of one link from a state.
// A disabled link has an empty eligible set.
func ComputeEligibility(s State, linkID int, policy AutoPolicy, powerOf PowerFunc) (Eligibility, error) {
	link, ok := radio.FindLink(s.Links, linkID)
	if !ok {
		return Eligibility{}, fmt.Errorf("%w: %d", ErrUnknownLink, linkID)
	}

	e := Eligibility{
		LinkID:          linkID,
		Disabled:        link.IsDisabled(),
		Relay:           link.IsRelay(),
		Bound:           []string{},
		Eligible:        []string{},
		PreferredSource: PreferredNone,
	}

	var bound []radio.Interface
	for _, iface := range s.Controller {
		if iface.AssignedLink == linkID {
			bound = append(bound, iface)
			e.Bound = append(e.Bound, iface.ID)
		}
		if e.Disabled {
			continue
		}
		switch {
		case Eligible(iface, link):
			e.Eligible = append(e.Eligible, iface.ID)
			if !iface.Bound() {
				e.AssignableCount++
			}
		case compatible(iface, link) && !iface.Bound():
			e.PotentialCount++
		}
	}
	e.BoundCount = len(bound)
	e.PreferredInterfaceID, e.PreferredSource = preferredTx(bound, policy, powerOf)

	for _, iface := range s.Vehicle {
		if iface.AssignedLink == linkID {
			e.VehicleInterfaceID = iface.ID
			break
		}
	}
	return e, nil
}

// preferredTx picks the smallest positive priority among transmitting bound
// interfaces, then falls back to the auto policy.
func preferredTx(bound []radio.Interface, policy AutoPolicy, powerOf PowerFunc) (string, PreferredSource) {
	var candidates []radio.Interface
	for _, iface := range bound {
		caps := iface.Capabilities
		if caps.CanTX() && !caps.IsRxOnly() && !caps.IsDisabled() {
			candidates = append(candidates, iface)
		}
	}
	if len(candidates) == 0 {
		return "", PreferredNone
	}

	best := -1
	for i, iface := range candidates {
		if iface.TxPriority <= 0 {
			continue
		}
		if best < 0 || iface.TxPriority < candidates[best].TxPriority {
			best = i
		}
	}
	if best >= 0 {
		return candidates[best].ID, PreferredExplicit
	}

	best = 0
	if policy == AutoHighestPower && powerOf != nil {
		bestMw := powerOf(candidates[0])
		for i := 1; i < len(candidates); i++ {
			if mw := powerOf(candidates[i]); mw > bestMw {
				best, bestMw = i, mw
			}
		}
	}
	return candidates[best].ID, PreferredAuto
}
