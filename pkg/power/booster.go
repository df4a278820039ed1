package power

import (
	"errors"
	"fmt"
	"strings"
)

// ErrOutOfBoostRange is returned when a booster input lies outside the
// amplifier's valid input window.
var ErrOutOfBoostRange = errors.New("booster input out of range")

// Valid booster input window in mW
const (
	MinBoostInputMw = 2
	MaxBoostInputMw = 100
)

// BoosterKind is the external RF amplifier attached to an interface
type BoosterKind int

const (
	BoosterNone BoosterKind = iota
	Booster2W
	Booster4W
)

func (k BoosterKind) String() string {
	switch k {
	case Booster2W:
		return "2W"
	case Booster4W:
		return "4W"
	default:
		return "none"
	}
}

// ParseBoosterKind parses "none", "2w" or "4w"
func ParseBoosterKind(s string) (BoosterKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none":
		return BoosterNone, nil
	case "2w":
		return Booster2W, nil
	case "4w":
		return Booster4W, nil
	default:
		return BoosterNone, fmt.Errorf("unknown booster kind: %s", s)
	}
}

func (k BoosterKind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

func (k *BoosterKind) UnmarshalText(text []byte) error {
	parsed, err := ParseBoosterKind(string(text))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

type gainPoint struct {
	in  int
	out int
}

var booster4WCurve = []gainPoint{
	{2, 100}, {5, 230}, {10, 420}, {20, 800}, {30, 1100}, {40, 1300},
	{50, 1400}, {60, 1500}, {70, 1600}, {80, 1700}, {100, 4000},
}

var booster2WCurve = []gainPoint{
	{2, 50}, {5, 115}, {10, 210}, {20, 400}, {30, 550}, {40, 650},
	{50, 700}, {60, 750}, {70, 800}, {80, 850}, {100, 2000},
}

// ApplyBoost returns the amplifier output power for an input power.
// BoosterNone passes the input through.
func ApplyBoost(mw int, kind BoosterKind) (int, error) {
	var curve []gainPoint
	switch kind {
	case BoosterNone:
		return mw, nil
	case Booster2W:
		curve = booster2WCurve
	case Booster4W:
		curve = booster4WCurve
	default:
		return 0, fmt.Errorf("unknown booster kind %d", int(kind))
	}

	if mw < MinBoostInputMw || mw > MaxBoostInputMw {
		return 0, fmt.Errorf("%w: %d mW into %s booster (valid %d-%d mW)",
			ErrOutOfBoostRange, mw, kind, MinBoostInputMw, MaxBoostInputMw)
	}

	for i := 0; i < len(curve)-1; i++ {
		a, b := curve[i], curve[i+1]
		if mw >= a.in && mw <= b.in {
			return a.out + (mw-a.in)*(b.out-a.out)/(b.in-a.in), nil
		}
	}
	return curve[len(curve)-1].out, nil
}
