package hardware

import (
	"errors"

	"github.com/dougsko/fpvlinkd/pkg/power"
	"github.com/dougsko/fpvlinkd/pkg/radio"
)

var (
	ErrNoSuchRadio     = errors.New("no radio at index")
	ErrNotConnected    = errors.New("radio driver not connected")
	ErrUnknownRadio    = errors.New("unknown radio interface")
	ErrVehicleUnpaired = errors.New("vehicle not paired")
)

// RadioInfo describes one local radio as reported by the capability probe
type RadioInfo struct {
	Index        int                `json:"index"`
	ID           string             `json:"id"`
	Name         string             `json:"name"`
	Kind         radio.Kind         `json:"kind"`
	Card         power.CardModel    `json:"card"`
	Bands        radio.Bands        `json:"bands"`
	Capabilities radio.Capabilities `json:"capabilities"`
	RawPower     int                `json:"raw_power"`
}

// Interface converts the probe result into a registry entry
func (ri RadioInfo) Interface() radio.Interface {
	return radio.Interface{
		ID:           ri.ID,
		Name:         ri.Name,
		Kind:         ri.Kind,
		Card:         ri.Card,
		Capabilities: ri.Capabilities,
		Bands:        ri.Bands,
		RawPower:     ri.RawPower,
		AssignedLink: radio.Unbound,
	}
}

// ProbeInterface enumerates the radios attached to the controller
type ProbeInterface interface {
	EnumerateLocalRadioInterfaces() (int, error)
	GetRadioInfo(index int) (RadioInfo, error)
	IsWifiRadio(index int) bool
	IsSikRadio(index int) bool
	IsElrsRadio(index int) bool
}

// PowerDriverInterface programs transmit power on local radios
type PowerDriverInterface interface {
	Initialize() error
	Close() error
	SetTxPowerRaw(interfaceID string, raw int) error
	GetTxPowerRaw(interfaceID string) (int, error)
	IsConnected() bool
}
