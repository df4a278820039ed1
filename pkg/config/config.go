package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/dougsko/fpvlinkd/pkg/power"
	"github.com/dougsko/fpvlinkd/pkg/radio"
)

// InterfaceConfig describes one radio interface
type InterfaceConfig struct {
	ID       string `yaml:"id"`
	Name     string `yaml:"name"`
	Kind     string `yaml:"kind"`
	Card     int    `yaml:"card"` // negative for unverified variants
	Flags    string `yaml:"flags"`
	Bands    string `yaml:"bands"`
	RawPower int    `yaml:"raw_power"`
	Booster  string `yaml:"booster"`
	Link     *int   `yaml:"link"`
}

// LinkConfig describes one logical vehicle link
type LinkConfig struct {
	Flags        string `yaml:"flags"`
	Bands        string `yaml:"bands"`
	FrequencyKhz int    `yaml:"frequency_khz"`
}

// CeilingConfig lowers the usable power ceiling of a card
type CeilingConfig struct {
	Board int `yaml:"board"`
	Card  int `yaml:"card"`
	Mw    int `yaml:"mw"`
}

// Config represents the fpvlinkd configuration
type Config struct {
	Controller struct {
		Board           int               `yaml:"board"`
		DefaultRawPower int               `yaml:"default_raw_power"`
		AutoPolicy      string            `yaml:"auto_policy"`
		Interfaces      []InterfaceConfig `yaml:"interfaces"`
	} `yaml:"controller"`

	Vehicle struct {
		Board      int               `yaml:"board"`
		Interfaces []InterfaceConfig `yaml:"interfaces"`
		Links      []LinkConfig      `yaml:"links"`
	} `yaml:"vehicle"`

	Power struct {
		Mode       string          `yaml:"mode"`
		FallbackMw int             `yaml:"fallback_mw"`
		Multiplier float64         `yaml:"multiplier"`
		FloorMw    int             `yaml:"floor_mw"`
		FixedMw    map[string]int  `yaml:"fixed_mw"`
		Ceilings   []CeilingConfig `yaml:"ceilings"`
	} `yaml:"power"`

	Session struct {
		TimeoutMs int `yaml:"timeout_ms"`
	} `yaml:"session"`

	Web struct {
		Port        int    `yaml:"port"`
		BindAddress string `yaml:"bind_address"`
	} `yaml:"web"`

	API struct {
		UnixSocket string `yaml:"unix_socket"`
	} `yaml:"api"`

	Storage struct {
		DatabasePath string `yaml:"database_path"`
		MaxHistory   int    `yaml:"max_history"`
	} `yaml:"storage"`

	Logging struct {
		Level      string `yaml:"level"`
		File       string `yaml:"file"`
		Console    bool   `yaml:"console"`
		Structured bool   `yaml:"structured"`
		MaxSize    int    `yaml:"max_size"`
		MaxBackups int    `yaml:"max_backups"`
		MaxAge     int    `yaml:"max_age"`
		Compress   bool   `yaml:"compress"`
	} `yaml:"logging"`

	Telemetry struct {
		Enabled  bool   `yaml:"enabled"`
		Broker   string `yaml:"broker"`
		Topic    string `yaml:"topic"`
		Username string `yaml:"username"`
		Password string `yaml:"password"`
		QoS      int    `yaml:"qos"`
		MaxAgeMs int    `yaml:"max_age_ms"`
	} `yaml:"telemetry"`

	Metrics struct {
		Enabled bool   `yaml:"enabled"`
		Path    string `yaml:"path"`
	} `yaml:"metrics"`

	Hardware struct {
		// simulated vehicle link
		VehicleLatencyMs int    `yaml:"vehicle_latency_ms"`
		RejectEvery      int    `yaml:"reject_every"`
		DropEvery        int    `yaml:"drop_every"`
		RejectReason     string `yaml:"reject_reason"`
		Paired           bool   `yaml:"paired"`
	} `yaml:"hardware"`
}

// LoadConfig loads configuration from a YAML file
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	config.ApplyDefaults()
	return &config, nil
}

// ApplyDefaults fills unset values
func (c *Config) ApplyDefaults() {
	if c.Controller.DefaultRawPower == 0 {
		c.Controller.DefaultRawPower = 20
	}
	if c.Controller.AutoPolicy == "" {
		c.Controller.AutoPolicy = "first-by-index"
	}
	if c.Power.Mode == "" {
		c.Power.Mode = "fixed"
	}
	if c.Power.FallbackMw == 0 {
		c.Power.FallbackMw = 10
	}
	if c.Power.Multiplier == 0 {
		c.Power.Multiplier = 2.0
	}
	if c.Session.TimeoutMs == 0 {
		c.Session.TimeoutMs = 4000
	}
	if c.Web.Port == 0 {
		c.Web.Port = 8080
	}
	if c.Web.BindAddress == "" {
		c.Web.BindAddress = "0.0.0.0"
	}
	if c.API.UnixSocket == "" {
		c.API.UnixSocket = "/tmp/fpvlinkd.sock"
	}
	if c.Storage.DatabasePath == "" {
		c.Storage.DatabasePath = "./fpvlinkd.db"
	}
	if c.Storage.MaxHistory == 0 {
		c.Storage.MaxHistory = 1000
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.MaxSize == 0 {
		c.Logging.MaxSize = 10
	}
	if c.Logging.MaxBackups == 0 {
		c.Logging.MaxBackups = 3
	}
	if c.Logging.MaxAge == 0 {
		c.Logging.MaxAge = 28
	}
	if c.Telemetry.Topic == "" {
		c.Telemetry.Topic = "fpv/vehicle/radio"
	}
	if c.Telemetry.MaxAgeMs == 0 {
		c.Telemetry.MaxAgeMs = 5000
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
	if c.Hardware.VehicleLatencyMs == 0 {
		c.Hardware.VehicleLatencyMs = 50
	}
	if c.Hardware.RejectReason == "" {
		c.Hardware.RejectReason = "vehicle refused"
	}
}

// SessionTimeout returns the command deadline
func (c *Config) SessionTimeout() time.Duration {
	return time.Duration(c.Session.TimeoutMs) * time.Millisecond
}

// TelemetryMaxAge returns how long a vehicle report stays fresh
func (c *Config) TelemetryMaxAge() time.Duration {
	return time.Duration(c.Telemetry.MaxAgeMs) * time.Millisecond
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	switch strings.ToLower(c.Power.Mode) {
	case "fixed", "auto":
	default:
		return fmt.Errorf("power mode must be fixed or auto, got %q", c.Power.Mode)
	}
	switch c.Controller.AutoPolicy {
	case "first-by-index", "highest-power":
	default:
		return fmt.Errorf("unknown auto policy %q", c.Controller.AutoPolicy)
	}
	if c.Power.FallbackMw < 0 || c.Power.FloorMw < 0 || c.Power.Multiplier < 0 {
		return fmt.Errorf("power settings must not be negative")
	}
	if c.Session.TimeoutMs < 0 {
		return fmt.Errorf("session timeout must be positive")
	}
	if c.Telemetry.Enabled && c.Telemetry.Broker == "" {
		return fmt.Errorf("telemetry broker is required when telemetry is enabled")
	}
	if c.Telemetry.QoS < 0 || c.Telemetry.QoS > 2 {
		return fmt.Errorf("telemetry qos must be 0, 1 or 2")
	}

	if err := validateInterfaces("controller", c.Controller.Interfaces, -1); err != nil {
		return err
	}
	if err := validateInterfaces("vehicle", c.Vehicle.Interfaces, len(c.Vehicle.Links)); err != nil {
		return err
	}
	if _, err := c.VehicleLinks(); err != nil {
		return err
	}
	for _, ceiling := range c.Power.Ceilings {
		if ceiling.Mw <= 0 {
			return fmt.Errorf("power ceiling for card %d must be positive", ceiling.Card)
		}
	}
	return nil
}

func validateInterfaces(side string, items []InterfaceConfig, links int) error {
	seen := make(map[string]bool)
	for i, item := range items {
		if item.ID == "" {
			return fmt.Errorf("%s interface %d: id is required", side, i)
		}
		if seen[item.ID] {
			return fmt.Errorf("%s interface %s: duplicate id", side, item.ID)
		}
		seen[item.ID] = true
		if _, err := item.ToInterface(0); err != nil {
			return fmt.Errorf("%s interface %s: %w", side, item.ID, err)
		}
		if item.Link != nil && links >= 0 && *item.Link >= links {
			return fmt.Errorf("%s interface %s: link %d does not exist", side, item.ID, *item.Link)
		}
	}
	return nil
}

// ToInterface converts the configuration into a radio interface
func (ic InterfaceConfig) ToInterface(defaultRaw int) (radio.Interface, error) {
	kind, err := radio.ParseKind(ic.Kind)
	if err != nil {
		return radio.Interface{}, err
	}
	caps, err := radio.ParseCapabilities(ic.Flags)
	if err != nil {
		return radio.Interface{}, err
	}
	bands, err := radio.ParseBands(ic.Bands)
	if err != nil {
		return radio.Interface{}, err
	}
	booster, err := power.ParseBoosterKind(ic.Booster)
	if err != nil {
		return radio.Interface{}, err
	}

	iface := radio.Interface{
		ID:           ic.ID,
		Name:         strings.TrimSpace(ic.Name),
		Kind:         kind,
		Card:         power.DecodeCardModel(ic.Card),
		Capabilities: caps,
		Bands:        bands,
		RawPower:     ic.RawPower,
		Booster:      booster,
		AssignedLink: radio.Unbound,
	}
	if iface.RawPower == 0 {
		iface.RawPower = defaultRaw
	}
	if ic.Link != nil {
		iface.AssignedLink = *ic.Link
	}
	return iface, nil
}

// VehicleLinks converts the link descriptors; ids follow list order
func (c *Config) VehicleLinks() ([]radio.Link, error) {
	out := make([]radio.Link, 0, len(c.Vehicle.Links))
	for i, lc := range c.Vehicle.Links {
		caps := radio.DefaultCapabilities
		if lc.Flags != "" {
			parsed, err := radio.ParseCapabilities(lc.Flags)
			if err != nil {
				return nil, fmt.Errorf("vehicle link %d: %w", i, err)
			}
			caps = parsed
		}
		bands, err := radio.ParseBands(lc.Bands)
		if err != nil {
			return nil, fmt.Errorf("vehicle link %d: %w", i, err)
		}
		out = append(out, radio.Link{
			ID:           i,
			Capabilities: caps,
			Bands:        bands,
			FrequencyKhz: lc.FrequencyKhz,
		})
	}
	return out, nil
}
