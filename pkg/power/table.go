package power

import (
	"errors"
	"fmt"
	"math"
)

// ErrUnknownCardProfile is returned when no power profile exists for a
// (board, card) pair.
var ErrUnknownCardProfile = errors.New("unknown card power profile")

// BoardType identifies the host board a radio card is attached to
type BoardType int

const (
	BoardGeneric BoardType = 0
	BoardOpenIPC BoardType = 1

	// anyBoard keys profiles that apply to every board
	anyBoard BoardType = -1
)

// Raw register values at which the WiFi card tables were measured
var measurementPoints = []int{1, 10, 20, 30, 40, 45, 50, 53, 56, 60, 63, 68, 70}

const (
	serialMaxRaw       = 30
	serialUsableRawMax = 20
)

// Profile is the calibrated power curve of one card on one board
type Profile struct {
	Card      CardID `json:"card"`
	Raw       []int  `json:"raw"`
	Mw        []int  `json:"mw"`
	UsableRaw int    `json:"usable_raw"`
	UsableMw  int    `json:"usable_mw"`
}

// measured builds a profile from mW readings taken at measurementPoints.
// A zero reading ends the usable part of the curve and readings equal to
// the previous one are folded into the lower raw value.
func measured(card CardID, mw ...int) Profile {
	p := Profile{Card: card}
	for i, v := range mw {
		if i >= len(measurementPoints) || v <= 0 {
			break
		}
		if n := len(p.Mw); n > 0 && p.Mw[n-1] == v {
			continue
		}
		p.Raw = append(p.Raw, measurementPoints[i])
		p.Mw = append(p.Mw, v)
	}
	p.UsableRaw = p.Raw[len(p.Raw)-1]
	p.UsableMw = p.Mw[len(p.Mw)-1]
	return p
}

// serial builds the dBm curve used by SiK and ELRS radios
func serial(card CardID) Profile {
	p := Profile{Card: card}
	for raw := 1; raw <= serialMaxRaw; raw++ {
		v := int(math.Round(math.Pow(10, float64(raw)/10)))
		if n := len(p.Mw); n > 0 && p.Mw[n-1] == v {
			continue
		}
		p.Raw = append(p.Raw, raw)
		p.Mw = append(p.Mw, v)
		if raw <= serialUsableRawMax {
			p.UsableRaw = raw
			p.UsableMw = v
		}
	}
	return p
}

// MaxRaw returns the absolute hardware maximum raw value
func (p Profile) MaxRaw() int {
	return p.Raw[len(p.Raw)-1]
}

// MaxMw returns the absolute hardware maximum mW value
func (p Profile) MaxMw() int {
	return p.Mw[len(p.Mw)-1]
}

// Validate checks the table invariants
func (p Profile) Validate() error {
	if len(p.Raw) == 0 || len(p.Raw) != len(p.Mw) {
		return fmt.Errorf("profile %s: raw and mW tables must be non-empty and of equal length", p.Card)
	}
	for i := 1; i < len(p.Raw); i++ {
		if p.Raw[i] < p.Raw[i-1] || p.Mw[i] < p.Mw[i-1] {
			return fmt.Errorf("profile %s: table is not monotonic at entry %d", p.Card, i)
		}
	}
	if p.UsableRaw > p.MaxRaw() || p.UsableMw > p.MaxMw() {
		return fmt.Errorf("profile %s: usable ceiling above hardware maximum", p.Card)
	}
	if p.UsableRaw < p.Raw[0] || p.UsableMw < p.Mw[0] {
		return fmt.Errorf("profile %s: usable ceiling below first table entry", p.Card)
	}
	return nil
}

// RawToMw converts a raw register value to mW by linear interpolation
func (p Profile) RawToMw(raw int) int {
	if raw <= 0 {
		return 0
	}
	if raw < p.Raw[0] {
		return p.Mw[0] * raw / p.Raw[0]
	}
	for i := 0; i < len(p.Raw)-1; i++ {
		if raw == p.Raw[i] {
			return p.Mw[i]
		}
		if raw > p.Raw[i] && raw < p.Raw[i+1] {
			return p.Mw[i] + (raw-p.Raw[i])*(p.Mw[i+1]-p.Mw[i])/(p.Raw[i+1]-p.Raw[i])
		}
	}
	return p.MaxMw()
}

// MwToRaw returns the tabulated raw value whose mW is nearest to mw,
// preferring the lower raw value on ties. Entries above the usable
// ceiling are never selected.
func (p Profile) MwToRaw(mw int) int {
	best := p.Raw[0]
	bestDiff := absInt(p.Mw[0] - mw)
	for i := 1; i < len(p.Raw) && p.Raw[i] <= p.UsableRaw; i++ {
		if d := absInt(p.Mw[i] - mw); d < bestDiff {
			best, bestDiff = p.Raw[i], d
		}
	}
	return best
}

func (p Profile) clone() Profile {
	c := p
	c.Raw = append([]int(nil), p.Raw...)
	c.Mw = append([]int(nil), p.Mw...)
	return c
}

func absInt(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

type profileKey struct {
	board BoardType
	card  CardID
}

// Table resolves power profiles per (board, card). Board specific profiles
// take precedence over board independent ones.
type Table struct {
	profiles map[profileKey]Profile
	fallback Profile
}

// NewTable returns an empty table with the given fallback profile
func NewTable(fallback Profile) *Table {
	return &Table{
		profiles: make(map[profileKey]Profile),
		fallback: fallback,
	}
}

// DefaultTable returns the calibrated profiles for all supported cards
func DefaultTable() *Table {
	generic58 := measured(CardGeneric, 1, 5, 17, 50, 150, 170, 190, 210, 261, 310)
	t := NewTable(generic58)

	atheros := []int{1, 1, 2, 3, 10, 25, 35, 60, 80, 90}
	rtlDual := []int{1, 1, 2, 4, 15, 25, 40, 45, 55, 70, 80, 80}

	for _, p := range []Profile{
		generic58,
		measured(CardTPLink722N, atheros...),
		measured(CardAtherosGeneric, atheros...),
		measured(CardBlueStick, 1, 2, 4, 8, 28, 50, 80, 110, 280, 1000),
		measured(CardAWUS036NH, 1, 10, 20, 30, 40, 50, 60),
		measured(CardAWUS036NHA, 1, 1, 2, 6, 17, 70, 120, 180, 215, 310, 460),
		measured(CardAWUS036ACH, 1, 2, 5, 20, 50, 90, 160, 250, 300, 420, 500),
		measured(CardASUSAC56, 1, 4, 13, 42, 116, 190, 280, 360, 420, 490, 540),
		measured(CardRTL8812AUDualAnt, rtlDual...),
		measured(CardRTL8812AUGeneric, rtlDual...),
		measured(CardZipray, 1, 1, 2, 5, 10, 20, 30, 50, 100, 300, 450),
		measured(CardNetgearA6100, 1, 1, 3, 10, 17, 19, 22, 23, 25),
		measured(CardAWUS036ACS, 1, 1, 2, 3, 10, 25, 35, 50, 60, 90, 110),
		measured(CardArcherT2UPlus, 1, 3, 10, 25, 55, 75, 110, 120, 140, 150),
		measured(CardBlue8812EU, 6, 7, 15, 45, 110, 160, 230, 270, 320, 380, 430, 500, 550),
		withCard(generic58, CardTendaU12),
		withCard(generic58, CardRTL8814AU),
		withCard(generic58, CardRTL8812AUAF1),
		serial(CardSiKRadio),
		serial(CardSerialRadio),
		serial(CardSerialRadioELRS),
	} {
		t.profiles[profileKey{anyBoard, p.Card}] = p
	}

	// OpenIPC camera modules only exist on OpenIPC boards
	usight := measured(CardOpenIPCUSight, 550, 600, 650, 670)
	t.profiles[profileKey{BoardOpenIPC, CardOpenIPCUSight}] = usight
	t.profiles[profileKey{BoardOpenIPC, CardOpenIPCUSight2}] = withCard(usight, CardOpenIPCUSight2)

	return t
}

func withCard(p Profile, card CardID) Profile {
	c := p.clone()
	c.Card = card
	return c
}

// Register adds or replaces the profile for a board. Use BoardGeneric to
// register a profile for the generic board only.
func (t *Table) Register(board BoardType, p Profile) error {
	if err := p.Validate(); err != nil {
		return err
	}
	t.profiles[profileKey{board, p.Card}] = p.clone()
	return nil
}

// Lookup resolves the profile for a card on a board
func (t *Table) Lookup(board BoardType, card CardModel) (Profile, error) {
	if p, ok := t.profiles[profileKey{board, card.ID()}]; ok {
		return p, nil
	}
	if p, ok := t.profiles[profileKey{anyBoard, card.ID()}]; ok {
		return p, nil
	}
	return Profile{}, fmt.Errorf("%w: %s on board %d", ErrUnknownCardProfile, card, board)
}

// LookupOrDefault resolves the profile, falling back to the conservative
// default profile. The boolean is false when the fallback was used.
func (t *Table) LookupOrDefault(board BoardType, card CardModel) (Profile, bool) {
	p, err := t.Lookup(board, card)
	if err != nil {
		return t.fallback, false
	}
	return p, true
}

// RawToMw converts a raw register value to mW for a card
func (t *Table) RawToMw(board BoardType, card CardModel, raw int) (int, error) {
	p, err := t.Lookup(board, card)
	if err != nil {
		return 0, err
	}
	return p.RawToMw(raw), nil
}

// MwToRaw converts mW to the nearest usable raw register value for a card
func (t *Table) MwToRaw(board BoardType, card CardModel, mw int) (int, error) {
	p, err := t.Lookup(board, card)
	if err != nil {
		return 0, err
	}
	return p.MwToRaw(mw), nil
}

// MaxUsableMw returns the configured usable ceiling in mW
func (t *Table) MaxUsableMw(board BoardType, card CardModel) (int, error) {
	p, err := t.Lookup(board, card)
	if err != nil {
		return 0, err
	}
	return p.UsableMw, nil
}

// MaxUsableRaw returns the configured usable ceiling as a raw value
func (t *Table) MaxUsableRaw(board BoardType, card CardModel) (int, error) {
	p, err := t.Lookup(board, card)
	if err != nil {
		return 0, err
	}
	return p.UsableRaw, nil
}

// SetUsableCeilingMw lowers the usable ceiling of a card on a board to the
// highest table entry not above mw. Ceilings are never raised.
func (t *Table) SetUsableCeilingMw(board BoardType, card CardModel, mw int) error {
	p, err := t.Lookup(board, card)
	if err != nil {
		return err
	}
	if mw > p.UsableMw {
		return fmt.Errorf("ceiling %d mW for %s exceeds usable maximum %d mW", mw, card, p.UsableMw)
	}
	if mw < p.Mw[0] {
		return fmt.Errorf("ceiling %d mW for %s is below the lowest power step %d mW", mw, card, p.Mw[0])
	}

	p = p.clone()
	for i := range p.Raw {
		if p.Mw[i] > mw {
			break
		}
		p.UsableRaw, p.UsableMw = p.Raw[i], p.Mw[i]
	}
	t.profiles[profileKey{board, card.ID()}] = p
	return nil
}
