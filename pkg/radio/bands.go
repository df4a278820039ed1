package radio

import (
	"fmt"
	"strings"
)

// Bands is a mask of frequency bands
type Bands uint8

const (
	Band2300 Bands = 1 << 0
	Band2400 Bands = 1 << 1
	Band2500 Bands = 1 << 2
	Band5800 Bands = 1 << 3
	Band433  Bands = 1 << 4
	Band868  Bands = 1 << 5
	Band915  Bands = 1 << 6
)

var bandNames = []struct {
	band Bands
	name string
}{
	{Band2300, "2.3"},
	{Band2400, "2.4"},
	{Band2500, "2.5"},
	{Band5800, "5.8"},
	{Band433, "433"},
	{Band868, "868"},
	{Band915, "915"},
}

// Overlaps reports whether the masks share a band
func (b Bands) Overlaps(other Bands) bool {
	return b&other != 0
}

func (b Bands) String() string {
	var parts []string
	for _, n := range bandNames {
		if b&n.band != 0 {
			parts = append(parts, n.name)
		}
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, "|")
}

// ParseBands parses band names such as "2.4|5.8"
func ParseBands(s string) (Bands, error) {
	var b Bands
	for _, f := range strings.FieldsFunc(s, func(r rune) bool { return r == '|' || r == ',' || r == ' ' }) {
		if f == "none" {
			continue
		}
		found := false
		for _, n := range bandNames {
			if n.name == f {
				b |= n.band
				found = true
			}
		}
		if !found {
			return 0, fmt.Errorf("unknown band: %s", f)
		}
	}
	return b, nil
}

// MarshalText implements encoding.TextMarshaler
func (b Bands) MarshalText() ([]byte, error) {
	return []byte(b.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (b *Bands) UnmarshalText(text []byte) error {
	parsed, err := ParseBands(string(text))
	if err != nil {
		return err
	}
	*b = parsed
	return nil
}
