package metrics

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector bundles the Prometheus metrics of the link daemon. All methods
// are safe on a nil collector so metrics can be switched off.
type Collector struct {
	gatherer prometheus.Gatherer

	CommandsTotal    *prometheus.CounterVec
	CommandRetries   *prometheus.CounterVec
	CommandLatency   *prometheus.HistogramVec
	SessionState     *prometheus.GaugeVec
	EffectivePowerMw *prometheus.GaugeVec
	AssignableRadios *prometheus.GaugeVec
	PowerModeAuto    prometheus.Gauge
	TelemetryUpdates prometheus.Counter
}

// NewCollector registers the metrics against reg, defaulting to the global
// registry when nil
func NewCollector(reg prometheus.Registerer) (*Collector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	commands, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "fpvlinkd_commands_total",
		Help: "Finished link requests, labeled by target and outcome.",
	}, []string{"target", "outcome"}), "fpvlinkd_commands_total")
	if err != nil {
		return nil, err
	}
	retries, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "fpvlinkd_command_retries_total",
		Help: "Requests that reissued a previously failed change, labeled by target.",
	}, []string{"target"}), "fpvlinkd_command_retries_total")
	if err != nil {
		return nil, err
	}
	latency, err := registerHistogramVec(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "fpvlinkd_command_latency_seconds",
		Help:    "Time from sending a command to its result.",
		Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 4, 8},
	}, []string{"target"}), "fpvlinkd_command_latency_seconds")
	if err != nil {
		return nil, err
	}
	state, err := registerGaugeVec(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "fpvlinkd_session_state",
		Help: "Session state per target (0 idle, 1 building, 2 sent).",
	}, []string{"target"}), "fpvlinkd_session_state")
	if err != nil {
		return nil, err
	}
	effective, err := registerGaugeVec(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "fpvlinkd_effective_power_mw",
		Help: "Effective transmit power per interface in milliwatts.",
	}, []string{"side", "interface"}), "fpvlinkd_effective_power_mw")
	if err != nil {
		return nil, err
	}
	assignable, err := registerGaugeVec(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "fpvlinkd_assignable_interfaces",
		Help: "Controller interfaces eligible to carry each link.",
	}, []string{"link"}), "fpvlinkd_assignable_interfaces")
	if err != nil {
		return nil, err
	}
	mode, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "fpvlinkd_power_mode_auto",
		Help: "1 when transmit power follows the vehicle, 0 in fixed mode.",
	}), "fpvlinkd_power_mode_auto")
	if err != nil {
		return nil, err
	}
	telemetry, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "fpvlinkd_telemetry_updates_total",
		Help: "Vehicle radio reports received.",
	}), "fpvlinkd_telemetry_updates_total")
	if err != nil {
		return nil, err
	}

	return &Collector{
		gatherer:         gatherer,
		CommandsTotal:    commands,
		CommandRetries:   retries,
		CommandLatency:   latency,
		SessionState:     state,
		EffectivePowerMw: effective,
		AssignableRadios: assignable,
		PowerModeAuto:    mode,
		TelemetryUpdates: telemetry,
	}, nil
}

// Handler exposes a ready-to-use /metrics handler
func (c *Collector) Handler() http.Handler {
	gatherer := prometheus.DefaultGatherer
	if c != nil && c.gatherer != nil {
		gatherer = c.gatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// RecordCommand counts a finished request. A zero latency is not observed.
func (c *Collector) RecordCommand(target, outcome string, retryCount int, latency time.Duration) {
	if c == nil {
		return
	}
	c.CommandsTotal.WithLabelValues(target, outcome).Inc()
	if retryCount > 0 {
		c.CommandRetries.WithLabelValues(target).Inc()
	}
	if latency > 0 {
		c.CommandLatency.WithLabelValues(target).Observe(latency.Seconds())
	}
}

func (c *Collector) SetSessionState(target string, state int) {
	if c == nil {
		return
	}
	c.SessionState.WithLabelValues(target).Set(float64(state))
}

// SetEffectivePower replaces the effective power gauges with the given
// side -> interface -> mW values
func (c *Collector) SetEffectivePower(values map[string]map[string]int) {
	if c == nil {
		return
	}
	c.EffectivePowerMw.Reset()
	for side, ifaces := range values {
		for id, mw := range ifaces {
			c.EffectivePowerMw.WithLabelValues(side, id).Set(float64(mw))
		}
	}
}

// SetAssignable replaces the per link eligible interface counts
func (c *Collector) SetAssignable(counts map[int]int) {
	if c == nil {
		return
	}
	c.AssignableRadios.Reset()
	for link, n := range counts {
		c.AssignableRadios.WithLabelValues(strconv.Itoa(link)).Set(float64(n))
	}
}

func (c *Collector) SetPowerModeAuto(auto bool) {
	if c == nil {
		return
	}
	if auto {
		c.PowerModeAuto.Set(1)
	} else {
		c.PowerModeAuto.Set(0)
	}
}

func (c *Collector) TelemetryReceived() {
	if c == nil {
		return
	}
	c.TelemetryUpdates.Inc()
}

func registerCounterVec(reg prometheus.Registerer, vec *prometheus.CounterVec, name string) (*prometheus.CounterVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerHistogramVec(reg prometheus.Registerer, vec *prometheus.HistogramVec, name string) (*prometheus.HistogramVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.HistogramVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerGaugeVec(reg prometheus.Registerer, vec *prometheus.GaugeVec, name string) (*prometheus.GaugeVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.GaugeVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerGauge(reg prometheus.Registerer, gauge prometheus.Gauge, name string) (prometheus.Gauge, error) {
	if err := reg.Register(gauge); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Gauge); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return gauge, nil
}

func registerCounter(reg prometheus.Registerer, counter prometheus.Counter, name string) (prometheus.Counter, error) {
	if err := reg.Register(counter); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Counter); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return counter, nil
}
