package radio

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/dougsko/fpvlinkd/pkg/power"
)

var (
	ErrCannotDisableLastInterface   = errors.New("cannot disable the last enabled radio interface")
	ErrInvalidCapabilityCombination = errors.New("interface can not be both RX only and TX only")
	ErrUnknownInterface             = errors.New("unknown radio interface")
	ErrDuplicateInterface           = errors.New("radio interface already registered")
	ErrRawPowerOutOfRange           = errors.New("raw power outside usable range")
	ErrLinkAlreadyBound             = errors.New("vehicle link already has a bound interface")
	ErrNotTxCapable                 = errors.New("interface can not transmit")
)

// Registry holds the radio interfaces of one side. It is not safe for
// concurrent use; the engine serializes access.
type Registry struct {
	side  Side
	board power.BoardType
	table *power.Table
	items []Interface
	dirty bool
}

// NewRegistry creates an empty registry for one side
func NewRegistry(side Side, board power.BoardType, table *power.Table) *Registry {
	return &Registry{
		side:  side,
		board: board,
		table: table,
	}
}

func (r *Registry) Side() Side { return r.side }

func (r *Registry) Board() power.BoardType { return r.board }

func (r *Registry) Len() int { return len(r.items) }

// Dirty reports unsaved mutations
func (r *Registry) Dirty() bool { return r.dirty }

// MarkClean clears the dirty flag after the registry was persisted
func (r *Registry) MarkClean() { r.dirty = false }

// All returns a copy of every interface in index order
func (r *Registry) All() []Interface {
	return append([]Interface(nil), r.items...)
}

// At returns the interface at a stable index
func (r *Registry) At(index int) (Interface, bool) {
	if index < 0 || index >= len(r.items) {
		return Interface{}, false
	}
	return r.items[index], true
}

// Get returns an interface by id
func (r *Registry) Get(id string) (Interface, bool) {
	if i := r.IndexOf(id); i >= 0 {
		return r.items[i], true
	}
	return Interface{}, false
}

// IndexOf returns the stable index of an interface or -1
func (r *Registry) IndexOf(id string) int {
	for i := range r.items {
		if r.items[i].ID == id {
			return i
		}
	}
	return -1
}

func (r *Registry) IsDisabled(id string) bool {
	iface, ok := r.Get(id)
	return ok && iface.Capabilities.IsDisabled()
}

func (r *Registry) IsTxOnly(id string) bool {
	iface, ok := r.Get(id)
	return ok && iface.Capabilities.IsTxOnly()
}

func (r *Registry) IsRxOnly(id string) bool {
	iface, ok := r.Get(id)
	return ok && iface.Capabilities.IsRxOnly()
}

func (r *Registry) IsInternal(id string) bool {
	iface, ok := r.Get(id)
	return ok && iface.Capabilities.IsInternal()
}

// Flags returns the capability set of an interface
func (r *Registry) Flags(id string) (Capabilities, error) {
	iface, ok := r.Get(id)
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownInterface, id)
	}
	return iface.Capabilities, nil
}

// EnabledCount returns the number of interfaces that are not disabled
func (r *Registry) EnabledCount() int {
	return enabledCount(r.items)
}

// Profile returns the power profile of an interface's card. The boolean is
// false when the card is unknown and the conservative default was used.
func (r *Registry) Profile(iface Interface) (power.Profile, bool) {
	return r.table.LookupOrDefault(r.board, iface.Card)
}

// Add registers a newly discovered interface. A zero capability set gets
// the defaults for the radio kind.
func (r *Registry) Add(iface Interface) error {
	if iface.ID == "" {
		return fmt.Errorf("interface id is required")
	}
	if r.IndexOf(iface.ID) >= 0 {
		return fmt.Errorf("%w: %s", ErrDuplicateInterface, iface.ID)
	}
	if iface.Capabilities == 0 {
		iface.Capabilities = DefaultCapabilities
		if iface.Kind != KindWiFi {
			iface.Capabilities = iface.Capabilities.Without(CapVideo)
		}
	}
	if iface.AssignedLink < Unbound {
		iface.AssignedLink = Unbound
	}

	next := append(r.All(), iface)
	if err := r.validate(r.items, next); err != nil {
		return err
	}
	r.items = next
	r.dirty = true
	return nil
}

// SetFlags replaces the capability set of an interface
func (r *Registry) SetFlags(id string, caps Capabilities) error {
	return r.mutate(id, func(iface *Interface) error {
		iface.Capabilities = caps
		if caps.IsRxOnly() {
			iface.TxPriority = 0
		}
		return nil
	})
}

// SetDisabled enables or disables an interface
func (r *Registry) SetDisabled(id string, disabled bool) error {
	return r.mutate(id, func(iface *Interface) error {
		if disabled {
			iface.Capabilities = iface.Capabilities.With(CapDisabled)
		} else {
			iface.Capabilities = iface.Capabilities.Without(CapDisabled)
		}
		return nil
	})
}

// SetTxRx allows the interface to both transmit and receive
func (r *Registry) SetTxRx(id string) error {
	return r.mutate(id, func(iface *Interface) error {
		iface.Capabilities = iface.Capabilities.With(CapTX | CapRX)
		return nil
	})
}

// SetRxOnly stops the interface from transmitting
func (r *Registry) SetRxOnly(id string) error {
	return r.mutate(id, func(iface *Interface) error {
		iface.Capabilities = iface.Capabilities.With(CapRX).Without(CapTX)
		iface.TxPriority = 0
		return nil
	})
}

// SetTxOnly stops the interface from receiving
func (r *Registry) SetTxOnly(id string) error {
	return r.mutate(id, func(iface *Interface) error {
		iface.Capabilities = iface.Capabilities.With(CapTX).Without(CapRX)
		return nil
	})
}

// SetInternal marks an interface as built into the board
func (r *Registry) SetInternal(id string, internal bool) error {
	return r.mutate(id, func(iface *Interface) error {
		if internal {
			iface.Capabilities = iface.Capabilities.With(CapInternal)
		} else {
			iface.Capabilities = iface.Capabilities.Without(CapInternal)
		}
		return nil
	})
}

// SetName sets the user defined name. A blank name clears it.
func (r *Registry) SetName(id, name string) error {
	return r.mutate(id, func(iface *Interface) error {
		iface.Name = strings.TrimSpace(name)
		return nil
	})
}

// SetBooster records the external amplifier attached to an interface
func (r *Registry) SetBooster(id string, kind power.BoosterKind) error {
	return r.mutate(id, func(iface *Interface) error {
		iface.Booster = kind
		return nil
	})
}

// SetRawPower sets the raw power register value, bounded by the card's
// usable ceiling.
func (r *Registry) SetRawPower(id string, raw int) error {
	return r.mutate(id, func(iface *Interface) error {
		p, _ := r.Profile(*iface)
		if raw < p.Raw[0] || raw > p.UsableRaw {
			return fmt.Errorf("%w: %d for %s (usable %d-%d)",
				ErrRawPowerOutOfRange, raw, iface.ID, p.Raw[0], p.UsableRaw)
		}
		iface.RawPower = raw
		return nil
	})
}

// SetAssignedLink binds an interface to a link or unbinds it with Unbound
func (r *Registry) SetAssignedLink(id string, linkID int) error {
	return r.mutate(id, func(iface *Interface) error {
		if linkID < Unbound {
			linkID = Unbound
		}
		iface.AssignedLink = linkID
		return nil
	})
}

// SetTxPreferred moves an interface to the top of the TX preference list
func (r *Registry) SetTxPreferred(id string) error {
	idx := r.IndexOf(id)
	if idx < 0 {
		return fmt.Errorf("%w: %s", ErrUnknownInterface, id)
	}
	if !r.items[idx].Capabilities.CanTX() {
		return fmt.Errorf("%w: %s", ErrNotTxCapable, id)
	}
	return r.reorderPreferred(id, true)
}

// RemoveTxPreferred drops an interface from the TX preference list
func (r *Registry) RemoveTxPreferred(id string) error {
	if r.IndexOf(id) < 0 {
		return fmt.Errorf("%w: %s", ErrUnknownInterface, id)
	}
	return r.reorderPreferred(id, false)
}

// PreferredOrder returns interface ids ordered by TX preference
func (r *Registry) PreferredOrder() []string {
	return preferredOrder(r.items)
}

func preferredOrder(items []Interface) []string {
	var prefs []Interface
	for _, iface := range items {
		if iface.TxPriority > 0 {
			prefs = append(prefs, iface)
		}
	}
	sort.SliceStable(prefs, func(a, b int) bool {
		return prefs[a].TxPriority < prefs[b].TxPriority
	})
	ids := make([]string, len(prefs))
	for i, p := range prefs {
		ids[i] = p.ID
	}
	return ids
}

func (r *Registry) reorderPreferred(id string, top bool) error {
	order := []string{}
	if top {
		order = append(order, id)
	}
	for _, other := range preferredOrder(r.items) {
		if other != id {
			order = append(order, other)
		}
	}

	next := r.All()
	for i := range next {
		next[i].TxPriority = 0
		for pos, pid := range order {
			if next[i].ID == pid {
				next[i].TxPriority = pos + 1
			}
		}
	}
	r.items = next
	r.dirty = true
	return nil
}

// Snapshot returns a copy of the registry contents for later Restore
func (r *Registry) Snapshot() []Interface {
	return r.All()
}

// Restore puts back a previously committed snapshot without validation
func (r *Registry) Restore(items []Interface) {
	r.items = append([]Interface(nil), items...)
}

// Replace swaps in a proposed interface list after validating it. Interface
// identities must match the current registry.
func (r *Registry) Replace(items []Interface) error {
	if len(items) != len(r.items) {
		return fmt.Errorf("replacement has %d interfaces, registry has %d", len(items), len(r.items))
	}
	for i := range items {
		if items[i].ID != r.items[i].ID {
			return fmt.Errorf("replacement interface %d is %s, expected %s", i, items[i].ID, r.items[i].ID)
		}
	}
	next := append([]Interface(nil), items...)
	if err := r.validate(r.items, next); err != nil {
		return err
	}
	r.items = next
	r.dirty = true
	return nil
}

// mutate applies fn to a copy of one interface and commits the result only
// if the registry invariants still hold.
func (r *Registry) mutate(id string, fn func(*Interface) error) error {
	idx := r.IndexOf(id)
	if idx < 0 {
		return fmt.Errorf("%w: %s", ErrUnknownInterface, id)
	}

	next := r.All()
	if err := fn(&next[idx]); err != nil {
		return err
	}
	if err := r.validate(r.items, next); err != nil {
		return err
	}
	r.items = next
	r.dirty = true
	return nil
}

func (r *Registry) validate(prev, next []Interface) error {
	if len(next) > 0 && enabledCount(next) == 0 && enabledCount(prev) > 0 {
		return ErrCannotDisableLastInterface
	}

	before := make(map[string]Capabilities, len(prev))
	for _, iface := range prev {
		before[iface.ID] = iface.Capabilities
	}
	for _, iface := range next {
		if old, ok := before[iface.ID]; ok && old == iface.Capabilities {
			continue
		}
		if !iface.Capabilities.Valid() {
			return fmt.Errorf("%w: %s", ErrInvalidCapabilityCombination, iface.ID)
		}
	}

	if r.side == SideVehicle {
		bound := make(map[int]string)
		for _, iface := range next {
			if !iface.Bound() {
				continue
			}
			if other, ok := bound[iface.AssignedLink]; ok {
				return fmt.Errorf("%w: link %d has %s and %s", ErrLinkAlreadyBound, iface.AssignedLink, other, iface.ID)
			}
			bound[iface.AssignedLink] = iface.ID
		}
	}
	return nil
}

func enabledCount(items []Interface) int {
	n := 0
	for _, iface := range items {
		if !iface.Capabilities.IsDisabled() {
			n++
		}
	}
	return n
}
