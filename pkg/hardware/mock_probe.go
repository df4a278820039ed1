package hardware

import (
	"fmt"

	"github.com/dougsko/fpvlinkd/pkg/radio"
)

// MockProbe reports a fixed set of radios, normally taken from the
// configuration
type MockProbe struct {
	radios []RadioInfo
}

// NewMockProbe creates a probe reporting the given interfaces in order
func NewMockProbe(interfaces []radio.Interface) *MockProbe {
	p := &MockProbe{}
	for i, iface := range interfaces {
		p.radios = append(p.radios, RadioInfo{
			Index:        i,
			ID:           iface.ID,
			Name:         iface.Name,
			Kind:         iface.Kind,
			Card:         iface.Card,
			Bands:        iface.Bands,
			Capabilities: iface.Capabilities,
			RawPower:     iface.RawPower,
		})
	}
	return p
}

// EnumerateLocalRadioInterfaces returns the number of radios present
func (p *MockProbe) EnumerateLocalRadioInterfaces() (int, error) {
	return len(p.radios), nil
}

// GetRadioInfo returns the radio at index
func (p *MockProbe) GetRadioInfo(index int) (RadioInfo, error) {
	if index < 0 || index >= len(p.radios) {
		return RadioInfo{}, fmt.Errorf("%w: %d", ErrNoSuchRadio, index)
	}
	return p.radios[index], nil
}

func (p *MockProbe) kindAt(index int) (radio.Kind, bool) {
	if index < 0 || index >= len(p.radios) {
		return 0, false
	}
	return p.radios[index].Kind, true
}

func (p *MockProbe) IsWifiRadio(index int) bool {
	k, ok := p.kindAt(index)
	return ok && k == radio.KindWiFi
}

func (p *MockProbe) IsSikRadio(index int) bool {
	k, ok := p.kindAt(index)
	return ok && k == radio.KindSiK
}

func (p *MockProbe) IsElrsRadio(index int) bool {
	k, ok := p.kindAt(index)
	return ok && k == radio.KindELRS
}

// DiscoverInterfaces enumerates the probe into registry entries
func DiscoverInterfaces(p ProbeInterface) ([]radio.Interface, error) {
	n, err := p.EnumerateLocalRadioInterfaces()
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate radios: %w", err)
	}
	out := make([]radio.Interface, 0, n)
	for i := 0; i < n; i++ {
		info, err := p.GetRadioInfo(i)
		if err != nil {
			return nil, err
		}
		iface := info.Interface()
		if iface.Capabilities == 0 && !p.IsWifiRadio(i) {
			// serial radios never carry video
			iface.Capabilities = radio.DefaultCapabilities.Without(radio.CapVideo)
		}
		out = append(out, iface)
	}
	return out, nil
}
