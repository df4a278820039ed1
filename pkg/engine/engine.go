package engine

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dougsko/fpvlinkd/pkg/config"
	"github.com/dougsko/fpvlinkd/pkg/links"
	"github.com/dougsko/fpvlinkd/pkg/logging"
	"github.com/dougsko/fpvlinkd/pkg/metrics"
	"github.com/dougsko/fpvlinkd/pkg/power"
	"github.com/dougsko/fpvlinkd/pkg/radio"
	"github.com/dougsko/fpvlinkd/pkg/session"
	"github.com/dougsko/fpvlinkd/pkg/storage"
	"github.com/dougsko/fpvlinkd/pkg/telemetry"
	"github.com/dougsko/fpvlinkd/pkg/txpower"
)

// ErrNoVehiclePaired is returned for changes that need the vehicle while
// none is reachable
var ErrNoVehiclePaired = errors.New("no vehicle paired")

// Store persists committed state and the command history
type Store interface {
	LoadControllerInterfaceSettings() ([]radio.Interface, error)
	LoadVehicleInterfaceSettings() ([]radio.Interface, error)
	LoadVehicleLinks() ([]radio.Link, error)
	LoadControllerSettings() (storage.ControllerSettings, bool, error)
	SaveSnapshot(snap storage.Snapshot) error
	RecordCommand(entry storage.HistoryEntry) error
	GetCommandHistory(query storage.HistoryQuery) ([]storage.HistoryEntry, error)
}

// Options holds the collaborators of an Engine. Only the channels are
// required.
type Options struct {
	// radios found by the hardware probe; the configuration is used when nil
	ControllerInterfaces []radio.Interface

	Table     *power.Table
	Store     Store
	Metrics   *metrics.Collector
	Feed      *telemetry.Feed
	Local     session.Channel
	Vehicle   session.Channel
	Paired    func() bool
	Scheduler session.Scheduler
	Now       func() time.Time
}

// Engine is the link control facade. Every exported method is safe for
// concurrent use; calls, timer expiries, telemetry and command results are
// serialized through one mutex and never block on I/O.
type Engine struct {
	mu sync.Mutex

	cfg        *config.Config
	table      *power.Table
	controller *radio.Registry
	vehicle    *radio.Registry
	links      *links.Engine
	power      *txpower.Controller
	feed       *telemetry.Feed
	sessions   map[session.Target]*session.Session
	store      Store
	metrics    *metrics.Collector
	paired     func() bool
	now        func() time.Time

	// a controller power sync is waiting behind an operator request
	syncDeferred bool

	sentAt      map[uuid.UUID]time.Time
	subscribers map[int]chan session.Event
	nextSub     int

	history chan storage.HistoryEntry
	wg      sync.WaitGroup
	closed  bool
}

// lockedScheduler runs timer callbacks under the engine lock
type lockedScheduler struct {
	inner session.Scheduler
	mu    *sync.Mutex
}

func (s lockedScheduler) AfterFunc(d time.Duration, fn func()) func() bool {
	return s.inner.AfterFunc(d, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		fn()
	})
}

// New builds the engine from configuration, overlaid with any persisted
// state
func New(cfg *config.Config, opts Options) (*Engine, error) {
	if opts.Local == nil || opts.Vehicle == nil {
		return nil, fmt.Errorf("both command channels are required")
	}
	if opts.Table == nil {
		opts.Table = power.DefaultTable()
	}
	if opts.Feed == nil {
		opts.Feed = telemetry.NewFeed(cfg.TelemetryMaxAge())
	}
	if opts.Scheduler == nil {
		opts.Scheduler = session.TimeScheduler()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Paired == nil {
		opts.Paired = func() bool { return true }
	}

	for _, c := range cfg.Power.Ceilings {
		if err := opts.Table.SetUsableCeilingMw(power.BoardType(c.Board), power.DecodeCardModel(c.Card), c.Mw); err != nil {
			return nil, fmt.Errorf("power ceiling for card %d: %w", c.Card, err)
		}
	}

	autoPolicy, err := links.ParseAutoPolicy(cfg.Controller.AutoPolicy)
	if err != nil {
		return nil, err
	}

	e := &Engine{
		cfg:         cfg,
		table:       opts.Table,
		controller:  radio.NewRegistry(radio.SideController, power.BoardType(cfg.Controller.Board), opts.Table),
		vehicle:     radio.NewRegistry(radio.SideVehicle, power.BoardType(cfg.Vehicle.Board), opts.Table),
		feed:        opts.Feed,
		store:       opts.Store,
		metrics:     opts.Metrics,
		paired:      opts.Paired,
		now:         opts.Now,
		sentAt:      make(map[uuid.UUID]time.Time),
		subscribers: make(map[int]chan session.Event),
		history:     make(chan storage.HistoryEntry, 64),
	}
	e.links = links.NewEngine(e.controller, e.vehicle, autoPolicy)

	policy, err := e.load(opts.ControllerInterfaces)
	if err != nil {
		return nil, err
	}
	recip := txpower.Reciprocation{Multiplier: cfg.Power.Multiplier, FloorMw: cfg.Power.FloorMw}
	e.power = txpower.NewController(policy, recip, cfg.Power.FallbackMw)

	ids := &session.CommandIDs{}
	sched := lockedScheduler{inner: opts.Scheduler, mu: &e.mu}
	sessionConfig := func() session.Config {
		return session.Config{
			Timeout:   cfg.SessionTimeout(),
			Scheduler: sched,
			IDs:       ids,
			OnEvent:   e.onSessionEvent,
			Now:       e.now,
		}
	}
	e.sessions = map[session.Target]*session.Session{
		session.TargetController: session.New(session.TargetController, opts.Local, sessionConfig()),
		session.TargetVehicle:    session.New(session.TargetVehicle, opts.Vehicle, sessionConfig()),
	}

	e.recomputeLocked()
	e.controller.MarkClean()
	e.vehicle.MarkClean()

	e.feed.OnUpdate(e.handleTelemetry)

	e.wg.Add(1)
	go e.historyWriter()

	logging.Info("engine", fmt.Sprintf("Engine ready: %d controller interfaces, %d vehicle interfaces, %d links, %s power",
		e.controller.Len(), e.vehicle.Len(), len(e.links.Links()), policy.Mode))
	return e, nil
}

// load fills the registries and returns the power policy to start with
func (e *Engine) load(discovered []radio.Interface) (txpower.Policy, error) {
	cfg := e.cfg

	ctrl := discovered
	if ctrl == nil {
		for _, ic := range cfg.Controller.Interfaces {
			iface, err := ic.ToInterface(cfg.Controller.DefaultRawPower)
			if err != nil {
				return txpower.Policy{}, fmt.Errorf("controller interface %s: %w", ic.ID, err)
			}
			ctrl = append(ctrl, iface)
		}
	}
	var veh []radio.Interface
	for _, ic := range cfg.Vehicle.Interfaces {
		iface, err := ic.ToInterface(cfg.Controller.DefaultRawPower)
		if err != nil {
			return txpower.Policy{}, fmt.Errorf("vehicle interface %s: %w", ic.ID, err)
		}
		veh = append(veh, iface)
	}
	linkList, err := cfg.VehicleLinks()
	if err != nil {
		return txpower.Policy{}, err
	}

	mode, err := txpower.ParseMode(cfg.Power.Mode)
	if err != nil {
		return txpower.Policy{}, err
	}
	policy := txpower.FixedPolicy(cfg.Power.FixedMw).WithMode(mode)

	if e.store != nil {
		saved, err := e.store.LoadControllerInterfaceSettings()
		if err != nil {
			return txpower.Policy{}, fmt.Errorf("failed to load controller interfaces: %w", err)
		}
		ctrl = overlay(ctrl, saved)

		savedVeh, err := e.store.LoadVehicleInterfaceSettings()
		if err != nil {
			return txpower.Policy{}, fmt.Errorf("failed to load vehicle interfaces: %w", err)
		}
		savedLinks, err := e.store.LoadVehicleLinks()
		if err != nil {
			return txpower.Policy{}, fmt.Errorf("failed to load vehicle links: %w", err)
		}
		if len(savedLinks) > 0 {
			linkList = savedLinks
			veh = overlay(veh, savedVeh)
		}

		settings, found, err := e.store.LoadControllerSettings()
		if err != nil {
			return txpower.Policy{}, fmt.Errorf("failed to load controller settings: %w", err)
		}
		if found {
			if m, err := txpower.ParseMode(settings.PowerMode); err == nil {
				policy = txpower.FixedPolicy(settings.FixedMw).WithMode(m)
			}
			logging.Info("engine", "Restored controller settings", map[string]interface{}{
				"power_mode": settings.PowerMode,
				"updated_at": settings.UpdatedAt,
			})
		}
	}

	for _, iface := range ctrl {
		if err := e.controller.Add(iface); err != nil {
			return txpower.Policy{}, fmt.Errorf("controller interface %s: %w", iface.ID, err)
		}
	}
	for _, iface := range veh {
		if err := e.vehicle.Add(iface); err != nil {
			return txpower.Policy{}, fmt.Errorf("vehicle interface %s: %w", iface.ID, err)
		}
	}
	if err := e.links.SetLinks(linkList); err != nil {
		return txpower.Policy{}, fmt.Errorf("vehicle links: %w", err)
	}
	return policy, nil
}

// overlay applies persisted user settings to discovered interfaces. The
// hardware identity (kind, card, bands) always comes from discovery.
func overlay(found, saved []radio.Interface) []radio.Interface {
	out := append([]radio.Interface(nil), found...)
	for i := range out {
		for _, s := range saved {
			if s.ID != out[i].ID {
				continue
			}
			out[i].Name = s.Name
			out[i].Capabilities = s.Capabilities
			out[i].RawPower = s.RawPower
			out[i].Booster = s.Booster
			out[i].TxPriority = s.TxPriority
			out[i].AssignedLink = s.AssignedLink
			break
		}
	}
	return out
}

// Close stops background work. Pending commands are abandoned.
func (e *Engine) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	close(e.history)
	for id, ch := range e.subscribers {
		close(ch)
		delete(e.subscribers, id)
	}
	e.mu.Unlock()
	e.wg.Wait()
}

// Feed returns the telemetry feed the engine listens to
func (e *Engine) Feed() *telemetry.Feed { return e.feed }

// PairingChanged tells the engine the vehicle was paired or lost. Losing it
// drops the last report, so automatic mode falls back to the conservative
// power at once.
func (e *Engine) PairingChanged(paired bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}

	if !paired {
		e.feed.Reset()
	}
	logging.Info("engine", fmt.Sprintf("Vehicle paired: %t", paired))
	if e.power.Mode() == txpower.ModeAuto {
		e.syncControllerPowerLocked("pairing change")
		return
	}
	e.recomputeLocked()
}

// vehicleStatsLocked returns the latest vehicle report. Reports are
// ignored while no vehicle is paired.
func (e *Engine) vehicleStatsLocked() telemetry.VehicleStats {
	stats := e.feed.Latest()
	if !e.paired() {
		stats.Paired = false
	}
	return stats
}

// recomputeLocked refreshes the effective power snapshot from committed
// state and updates the gauges
func (e *Engine) recomputeLocked() txpower.Snapshot {
	snap, err := e.power.Recompute(e.links, e.vehicleStatsLocked())
	if err != nil {
		logging.Warn("engine", fmt.Sprintf("Power recomputation: %v", err))
	}
	e.publishGaugesLocked(snap)
	return snap
}

func (e *Engine) publishGaugesLocked(snap txpower.Snapshot) {
	if e.metrics == nil {
		return
	}
	values := map[string]map[string]int{
		radio.SideController.String(): {},
		radio.SideVehicle.String():    {},
	}
	for id, eff := range snap.Controller {
		values[radio.SideController.String()][id] = eff.Mw
	}
	for id, eff := range snap.Vehicle {
		values[radio.SideVehicle.String()][id] = eff.Mw
	}
	e.metrics.SetEffectivePower(values)

	counts := make(map[int]int)
	for _, el := range e.links.AllEligibility() {
		counts[el.LinkID] = el.AssignableCount
	}
	e.metrics.SetAssignable(counts)
	e.metrics.SetPowerModeAuto(snap.Mode == txpower.ModeAuto)
}

func (e *Engine) persistLocked() {
	if e.store == nil {
		return
	}
	policy := e.power.Policy()
	snap := storage.Snapshot{
		Controller: e.controller.All(),
		Vehicle:    e.vehicle.All(),
		Links:      e.links.Links(),
		Settings: storage.ControllerSettings{
			PowerMode:  policy.Mode.String(),
			FixedMw:    policy.FixedMw,
			AutoPolicy: e.links.Policy().String(),
		},
	}
	if err := e.store.SaveSnapshot(snap); err != nil {
		logging.Error("engine", fmt.Sprintf("Failed to persist committed state: %v", err))
		return
	}
	e.controller.MarkClean()
	e.vehicle.MarkClean()
}
