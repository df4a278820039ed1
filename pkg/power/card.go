package power

import (
	"encoding/json"
	"fmt"
)

// CardID identifies a radio chipset family. Values match the persisted and
// over-the-air card model codes.
type CardID int

const (
	CardGeneric          CardID = 0
	CardTPLink722N       CardID = 1
	CardAWUS036NHA       CardID = 2
	CardAWUS036NH        CardID = 3
	CardAWUS036ACH       CardID = 4
	CardASUSAC56         CardID = 5
	CardBlueStick        CardID = 6
	CardRTL8812AUDualAnt CardID = 7
	CardNetgearA6100     CardID = 8
	CardTendaU12         CardID = 9
	CardRTL8812AUAF1     CardID = 10
	CardZipray           CardID = 11
	CardArcherT2UPlus    CardID = 12
	CardRTL8814AU        CardID = 13
	CardAWUS036ACS       CardID = 14
	CardBlue8812EU       CardID = 15
	CardAtherosGeneric   CardID = 16
	CardRTL8812AUGeneric CardID = 17
	CardOpenIPCUSight    CardID = 18
	CardOpenIPCUSight2   CardID = 19
	CardRTL8733BU        CardID = 20
	CardSiKRadio         CardID = 100
	CardSerialRadio      CardID = 101
	CardSerialRadioELRS  CardID = 102
)

var cardNames = map[CardID]string{
	CardGeneric:          "Generic",
	CardTPLink722N:       "TPLink WN722N",
	CardAWUS036NHA:       "Alfa AWUS036NHA",
	CardAWUS036NH:        "Alfa AWUS036NH",
	CardAWUS036ACH:       "Alfa AWUS036ACH",
	CardASUSAC56:         "ASUS AC56",
	CardBlueStick:        "BlueStick",
	CardRTL8812AUDualAnt: "RTL8812AU-DualAnt",
	CardNetgearA6100:     "Netgear A6100",
	CardTendaU12:         "Tenda U12",
	CardRTL8812AUAF1:     "RTL8812AU-AF1",
	CardZipray:           "Zipray 1W",
	CardArcherT2UPlus:    "Archer T2U Plus",
	CardRTL8814AU:        "RTL8814AU",
	CardAWUS036ACS:       "Alfa AWUS036ACS",
	CardBlue8812EU:       "Blue 8812EU",
	CardAtherosGeneric:   "Atheros Generic",
	CardRTL8812AUGeneric: "RTL8812AU Generic",
	CardOpenIPCUSight:    "OpenIPC USight",
	CardOpenIPCUSight2:   "OpenIPC USight 2",
	CardRTL8733BU:        "RTL8733BU",
	CardSiKRadio:         "SiK Radio",
	CardSerialRadio:      "Serial Radio",
	CardSerialRadioELRS:  "ELRS Radio",
}

// String returns the marketing name of the chipset
func (c CardID) String() string {
	if name, ok := cardNames[c]; ok {
		return name
	}
	return fmt.Sprintf("card-%d", int(c))
}

// IsSerial reports whether the card is a serial (non-WiFi) radio whose raw
// power register is expressed in dBm.
func (c CardID) IsSerial() bool {
	return c == CardSiKRadio || c == CardSerialRadio || c == CardSerialRadioELRS
}

// CardModel is either Known(id) or UnverifiedVariant(id). An unverified
// variant shares the tables of its chipset family but was never calibrated.
type CardModel struct {
	id         CardID
	unverified bool
}

// Known returns a calibrated card model
func Known(id CardID) CardModel {
	return CardModel{id: id}
}

// UnverifiedVariant returns an alternate, uncalibrated variant of a chipset.
// The generic card is uncalibrated already and has no variants, so it
// yields Known(CardGeneric); every model survives a Code round trip.
func UnverifiedVariant(id CardID) CardModel {
	if id == CardGeneric {
		return Known(CardGeneric)
	}
	return CardModel{id: id, unverified: true}
}

// DecodeCardModel converts the signed storage encoding into a CardModel.
// Negative codes denote an unverified variant.
func DecodeCardModel(code int) CardModel {
	if code < 0 {
		return UnverifiedVariant(CardID(-code))
	}
	return Known(CardID(code))
}

// Code returns the signed storage encoding of the model
func (m CardModel) Code() int {
	if m.unverified {
		return -int(m.id)
	}
	return int(m.id)
}

// ID returns the chipset family
func (m CardModel) ID() CardID {
	return m.id
}

// IsUnverified reports whether this is an uncalibrated variant
func (m CardModel) IsUnverified() bool {
	return m.unverified
}

func (m CardModel) String() string {
	if m.unverified {
		return m.id.String() + " (unverified variant)"
	}
	return m.id.String()
}

// MarshalJSON encodes the model as its signed code
func (m CardModel) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.Code())
}

// UnmarshalJSON decodes a signed code
func (m *CardModel) UnmarshalJSON(data []byte) error {
	var code int
	if err := json.Unmarshal(data, &code); err != nil {
		return fmt.Errorf("invalid card model: %w", err)
	}
	*m = DecodeCardModel(code)
	return nil
}
