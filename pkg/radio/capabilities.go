package radio

import (
	"fmt"
	"strings"
)

// Capabilities is the capability and state flag set of an interface or a
// logical link. Bit positions match the persisted and wire encoding.
type Capabilities uint32

const (
	CapVideo        Capabilities = 1 << 0
	CapData         Capabilities = 1 << 2
	CapRelay        Capabilities = 1 << 4
	CapRX           Capabilities = 1 << 5
	CapTX           Capabilities = 1 << 6
	CapDisabled     Capabilities = 1 << 7
	CapHighCapacity Capabilities = 1 << 9
	CapInternal     Capabilities = 1 << 16

	// CapTraffic selects the traffic classes an interface or link carries
	CapTraffic = CapVideo | CapData
	// DefaultCapabilities is assigned to newly discovered WiFi cards
	DefaultCapabilities = CapVideo | CapData | CapRX | CapTX
)

var capNames = []struct {
	flag Capabilities
	name string
}{
	{CapTX, "tx"},
	{CapRX, "rx"},
	{CapVideo, "video"},
	{CapData, "data"},
	{CapRelay, "relay"},
	{CapHighCapacity, "highcap"},
	{CapInternal, "internal"},
	{CapDisabled, "disabled"},
}

func (c Capabilities) Has(flag Capabilities) bool { return c&flag == flag }

func (c Capabilities) With(flag Capabilities) Capabilities { return c | flag }

func (c Capabilities) Without(flag Capabilities) Capabilities { return c &^ flag }

func (c Capabilities) CanTX() bool { return c.Has(CapTX) }

func (c Capabilities) CanRX() bool { return c.Has(CapRX) }

func (c Capabilities) CanUseForVideo() bool { return c.Has(CapVideo) }

func (c Capabilities) CanUseForData() bool { return c.Has(CapData) }

func (c Capabilities) IsDisabled() bool { return c.Has(CapDisabled) }

func (c Capabilities) IsInternal() bool { return c.Has(CapInternal) }

func (c Capabilities) IsRelay() bool { return c.Has(CapRelay) }

func (c Capabilities) IsHighCapacity() bool { return c.Has(CapHighCapacity) }

// IsRxOnly reports that the interface can not transmit
func (c Capabilities) IsRxOnly() bool { return !c.CanTX() }

// IsTxOnly reports that the interface can not receive
func (c Capabilities) IsTxOnly() bool { return !c.CanRX() }

// Usable reports whether the interface is enabled and carries at least one
// traffic class.
func (c Capabilities) Usable() bool {
	return !c.IsDisabled() && c&CapTraffic != 0
}

// Valid reports whether the combination can exist on an interface
func (c Capabilities) Valid() bool {
	return !(c.IsRxOnly() && c.IsTxOnly())
}

// String renders the set as "tx|rx|video|data"
func (c Capabilities) String() string {
	var parts []string
	for _, n := range capNames {
		if c.Has(n.flag) {
			parts = append(parts, n.name)
		}
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, "|")
}

// ParseCapabilities parses names separated by '|', ',' or '+'
func ParseCapabilities(s string) (Capabilities, error) {
	var c Capabilities
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return r == '|' || r == ',' || r == '+' || r == ' '
	})
	for _, f := range fields {
		if f == "none" {
			continue
		}
		found := false
		for _, n := range capNames {
			if n.name == f {
				c |= n.flag
				found = true
				break
			}
		}
		if !found {
			return 0, fmt.Errorf("unknown capability: %s", f)
		}
	}
	return c, nil
}

// MarshalText implements encoding.TextMarshaler
func (c Capabilities) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (c *Capabilities) UnmarshalText(text []byte) error {
	parsed, err := ParseCapabilities(string(text))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}
