package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dougsko/fpvlinkd/pkg/links"
	"github.com/dougsko/fpvlinkd/pkg/power"
	"github.com/dougsko/fpvlinkd/pkg/radio"
	"github.com/dougsko/fpvlinkd/pkg/txpower"
)

var (
	ErrCommandTimeout   = errors.New("command timed out")
	ErrCannotCancelSent = errors.New("command already sent, can not cancel")
	ErrUnknownRequest   = errors.New("unknown request")
	ErrSessionBusy      = errors.New("session already has an open draft")
	ErrEmptyPayload     = errors.New("empty command payload")
)

// RejectedError is returned when the target refuses a command
type RejectedError struct {
	Reason string
}

func (e *RejectedError) Error() string {
	if e.Reason == "" {
		return "command rejected"
	}
	return "command rejected: " + e.Reason
}

// ProtocolViolationError is returned when an acknowledgement reports that
// only part of an atomic payload was applied
type ProtocolViolationError struct {
	Expected Parts
	Applied  Parts
}

func (e *ProtocolViolationError) Error() string {
	return fmt.Sprintf("protocol violation: partial apply (expected %s, applied %s)", e.Expected, e.Applied)
}

// State is the state of a per target session
type State int

const (
	StateIdle State = iota
	StateBuilding
	StateSent
	StateAcknowledged
	StateRejected
	StateTimedOut
)

var stateNames = map[State]string{
	StateIdle:         "idle",
	StateBuilding:     "building",
	StateSent:         "sent",
	StateAcknowledged: "acknowledged",
	StateRejected:     "rejected",
	StateTimedOut:     "timed_out",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("state(%d)", int(s))
}

func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Target is where a command is applied
type Target int

const (
	TargetController Target = iota
	TargetVehicle
)

func (t Target) String() string {
	if t == TargetVehicle {
		return "vehicle"
	}
	return "controller"
}

// ParseTarget parses "controller" or "vehicle"
func ParseTarget(s string) (Target, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "controller", "local":
		return TargetController, nil
	case "vehicle", "remote":
		return TargetVehicle, nil
	}
	return TargetController, fmt.Errorf("unknown target: %s", s)
}

func (t Target) MarshalText() ([]byte, error) { return []byte(t.String()), nil }

func (t *Target) UnmarshalText(text []byte) error {
	parsed, err := ParseTarget(string(text))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// Kind is the type of change a command carries
type Kind string

const (
	KindSetTxPowers       Kind = "set_tx_powers"
	KindSetInterfaceFlags Kind = "set_interface_flags"
	KindSwitchLink        Kind = "switch_link"
	KindRotateLinks       Kind = "rotate_links"
	KindSwapInterfaces    Kind = "swap_interfaces"
	KindSetPowerMode      Kind = "set_power_mode"
	KindSetBoosters       Kind = "set_boosters"
)

var kindParams = map[Kind]uint8{
	KindSetTxPowers:       1,
	KindSetInterfaceFlags: 2,
	KindSwitchLink:        3,
	KindRotateLinks:       4,
	KindSwapInterfaces:    5,
	KindSetPowerMode:      6,
	KindSetBoosters:       7,
}

// Param is the command parameter code sent with the payload
func (k Kind) Param() uint8 {
	return kindParams[k]
}

// Parts is the set of payload sections a command carries
type Parts uint8

const (
	PartFlags Parts = 1 << iota
	PartRawPower
	PartAssignment
	PartPowerMode
	PartBooster
)

func (p Parts) String() string {
	if p == 0 {
		return "none"
	}
	var names []string
	for _, part := range []struct {
		bit  Parts
		name string
	}{
		{PartFlags, "flags"},
		{PartRawPower, "raw_power"},
		{PartAssignment, "assignment"},
		{PartPowerMode, "power_mode"},
		{PartBooster, "booster"},
	} {
		if p&part.bit != 0 {
			names = append(names, part.name)
		}
	}
	return strings.Join(names, "|")
}

// FlagDelta changes the capability flags of one interface
type FlagDelta struct {
	InterfaceID string             `json:"interface_id"`
	Side        radio.Side         `json:"side"`
	Flags       radio.Capabilities `json:"flags"`
}

// Payload is the atomic content of one command
type Payload struct {
	PowerMode  *txpower.Mode                `json:"power_mode,omitempty"`
	FlagDeltas []FlagDelta                  `json:"flag_deltas,omitempty"`
	RawPowers  map[string]int               `json:"raw_powers,omitempty"`
	Moves      []links.Move                 `json:"moves,omitempty"`
	Links      []radio.Link                 `json:"links,omitempty"`
	Boosters   map[string]power.BoosterKind `json:"boosters,omitempty"`
}

// Parts returns the sections present in the payload
func (p Payload) Parts() Parts {
	var parts Parts
	if len(p.FlagDeltas) > 0 {
		parts |= PartFlags
	}
	if len(p.RawPowers) > 0 {
		parts |= PartRawPower
	}
	if len(p.Moves) > 0 || len(p.Links) > 0 {
		parts |= PartAssignment
	}
	if p.PowerMode != nil {
		parts |= PartPowerMode
	}
	if len(p.Boosters) > 0 {
		parts |= PartBooster
	}
	return parts
}

// Encode returns the wire form of the payload
func (p Payload) Encode() ([]byte, error) {
	return json.Marshal(p)
}

// DecodePayload parses the wire form of a payload
func DecodePayload(data []byte) (Payload, error) {
	var p Payload
	if err := json.Unmarshal(data, &p); err != nil {
		return Payload{}, fmt.Errorf("invalid command payload: %w", err)
	}
	return p, nil
}

// ResultStatus is the outcome reported by a command target
type ResultStatus int

const (
	ResultAccepted ResultStatus = iota
	ResultRejected
)

// Result is a command outcome delivered by a channel. Applied is the set
// of payload parts the target applied; zero means all of them.
type Result struct {
	Status  ResultStatus
	Reason  string
	Applied Parts
}

// EventType describes a request lifecycle step
type EventType string

const (
	EventQueued            EventType = "queued"
	EventSent              EventType = "sent"
	EventAcknowledged      EventType = "acknowledged"
	EventRejected          EventType = "rejected"
	EventTimedOut          EventType = "timed_out"
	EventProtocolViolation EventType = "protocol_violation"
	EventSuperseded        EventType = "superseded"
	EventCancelled         EventType = "cancelled"
	EventCoalesced         EventType = "coalesced"
)

// Terminal reports whether the request is finished
func (t EventType) Terminal() bool {
	return t != EventQueued && t != EventSent
}

// Event notifies subscribers of request progress. Every request gets
// exactly one terminal event.
type Event struct {
	Type       EventType `json:"type"`
	RequestID  uuid.UUID `json:"request_id"`
	Target     Target    `json:"target"`
	Kind       Kind      `json:"kind"`
	CommandID  uint32    `json:"command_id,omitempty"`
	RetryCount int       `json:"retry_count"`
	Error      string    `json:"error,omitempty"`
	Err        error     `json:"-"`
	Time       time.Time `json:"time"`
	// for coalesced requests, the queued request that carries the change
	MergedInto *uuid.UUID `json:"merged_into,omitempty"`
}
