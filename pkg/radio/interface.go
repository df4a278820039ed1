package radio

import (
	"fmt"
	"strings"

	"github.com/dougsko/fpvlinkd/pkg/power"
)

// Unbound marks an interface that carries no link
const Unbound = -1

// Side identifies which end of the radio pair a registry describes
type Side int

const (
	SideController Side = iota
	SideVehicle
)

func (s Side) String() string {
	if s == SideVehicle {
		return "vehicle"
	}
	return "controller"
}

// ParseSide parses "controller" or "vehicle"
func ParseSide(s string) (Side, error) {
	switch strings.ToLower(s) {
	case "controller", "ctrl":
		return SideController, nil
	case "vehicle", "veh":
		return SideVehicle, nil
	}
	return SideController, fmt.Errorf("unknown side: %s", s)
}

func (s Side) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *Side) UnmarshalText(text []byte) error {
	parsed, err := ParseSide(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// Kind is the radio technology of an interface
type Kind int

const (
	KindWiFi Kind = iota
	KindSiK
	KindELRS
	KindSerial
)

func (k Kind) String() string {
	switch k {
	case KindSiK:
		return "sik"
	case KindELRS:
		return "elrs"
	case KindSerial:
		return "serial"
	default:
		return "wifi"
	}
}

// ParseKind parses "wifi", "sik", "elrs" or "serial"
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(s) {
	case "", "wifi":
		return KindWiFi, nil
	case "sik":
		return KindSiK, nil
	case "elrs":
		return KindELRS, nil
	case "serial":
		return KindSerial, nil
	}
	return KindWiFi, fmt.Errorf("unknown radio kind: %s", s)
}

func (k Kind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

func (k *Kind) UnmarshalText(text []byte) error {
	parsed, err := ParseKind(string(text))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// Interface is one physical radio transceiver
type Interface struct {
	ID           string            `json:"id"`
	Name         string            `json:"name,omitempty"`
	Kind         Kind              `json:"kind"`
	Card         power.CardModel   `json:"card"`
	Capabilities Capabilities      `json:"capabilities"`
	Bands        Bands             `json:"bands"`
	RawPower     int               `json:"raw_power"`
	Booster      power.BoosterKind `json:"booster"`
	TxPriority   int               `json:"tx_priority,omitempty"`
	AssignedLink int               `json:"assigned_link"`
}

// DisplayName returns the user defined name or the card name
func (i Interface) DisplayName() string {
	if i.Name != "" {
		return i.Name
	}
	return i.Card.String()
}

// Bound reports whether the interface carries a link
func (i Interface) Bound() bool {
	return i.AssignedLink != Unbound
}

// Link is a logical radio link between controller and vehicle
type Link struct {
	ID           int          `json:"id"`
	Capabilities Capabilities `json:"capabilities"`
	Bands        Bands        `json:"bands"`
	FrequencyKhz int          `json:"frequency_khz"`
}

func (l Link) IsDisabled() bool { return l.Capabilities.IsDisabled() }

func (l Link) IsRelay() bool { return l.Capabilities.IsRelay() }

// CloneLinks returns an independent copy of a link list
func CloneLinks(links []Link) []Link {
	return append([]Link(nil), links...)
}

// FindLink returns the link with the given id
func FindLink(links []Link, id int) (Link, bool) {
	for _, l := range links {
		if l.ID == id {
			return l, true
		}
	}
	return Link{}, false
}
