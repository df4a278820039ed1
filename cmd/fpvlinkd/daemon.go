package main

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/dougsko/fpvlinkd/pkg/client"
	"github.com/dougsko/fpvlinkd/pkg/config"
	"github.com/dougsko/fpvlinkd/pkg/engine"
	"github.com/dougsko/fpvlinkd/pkg/hardware"
	"github.com/dougsko/fpvlinkd/pkg/logging"
	"github.com/dougsko/fpvlinkd/pkg/metrics"
	"github.com/dougsko/fpvlinkd/pkg/radio"
	"github.com/dougsko/fpvlinkd/pkg/session"
	"github.com/dougsko/fpvlinkd/pkg/storage"
	"github.com/dougsko/fpvlinkd/pkg/telemetry"
)

// FPVLinkDaemon wires the hardware, the link engine, the control socket and
// the web API together
type FPVLinkDaemon struct {
	config *config.Config
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	hardware *hardware.HardwareManager
	store    *storage.SettingsStore
	metrics  *metrics.Collector
	engine   *engine.Engine
	server   *engine.Server
	mqtt     *telemetry.MQTTSource

	socketClient *client.SocketClient
	webServer    *http.Server

	socketPath string
}

// NewFPVLinkDaemon creates a new daemon instance
func NewFPVLinkDaemon(cfg *config.Config) (*FPVLinkDaemon, error) {
	ctx, cancel := context.WithCancel(context.Background())

	d := &FPVLinkDaemon{
		config:       cfg,
		ctx:          ctx,
		cancel:       cancel,
		socketPath:   cfg.API.UnixSocket,
		socketClient: client.NewSocketClient(cfg.API.UnixSocket),
	}

	if err := d.setup(); err != nil {
		d.teardown()
		cancel()
		return nil, err
	}

	if err := d.setupWebServer(); err != nil {
		d.teardown()
		cancel()
		return nil, fmt.Errorf("failed to setup web server: %w", err)
	}

	return d, nil
}

func (d *FPVLinkDaemon) setup() error {
	cfg := d.config

	hwConfig, err := hardwareConfig(cfg)
	if err != nil {
		return err
	}
	d.hardware = hardware.NewHardwareManager(hwConfig)
	if err := d.hardware.Initialize(); err != nil {
		return fmt.Errorf("failed to initialize hardware: %w", err)
	}

	d.store, err = storage.NewSettingsStore(cfg.Storage.DatabasePath, cfg.Storage.MaxHistory)
	if err != nil {
		return fmt.Errorf("failed to open settings store: %w", err)
	}

	if cfg.Metrics.Enabled {
		d.metrics, err = metrics.NewCollector(nil)
		if err != nil {
			return fmt.Errorf("failed to register metrics: %w", err)
		}
	}

	vehicle := d.hardware.VehicleLink()
	d.engine, err = engine.New(cfg, engine.Options{
		ControllerInterfaces: d.hardware.LocalInterfaces(),
		Store:                d.store,
		Metrics:              d.metrics,
		Local:                d.hardware.LocalChannel(),
		Vehicle:              vehicle.Channel(),
		Paired:               vehicle.IsPaired,
	})
	if err != nil {
		return fmt.Errorf("failed to create engine: %w", err)
	}

	d.hardware.LocalChannel().OnResult(d.onCommandResult)
	vehicle.OnResult(d.onCommandResult)

	if cfg.Telemetry.Enabled {
		d.mqtt, err = telemetry.NewMQTTSource(telemetry.MQTTConfig{
			Broker:   cfg.Telemetry.Broker,
			Topic:    cfg.Telemetry.Topic,
			Username: cfg.Telemetry.Username,
			Password: cfg.Telemetry.Password,
			QoS:      byte(cfg.Telemetry.QoS),
		}, d.engine.Feed())
		if err != nil {
			return fmt.Errorf("failed to start telemetry: %w", err)
		}
	} else {
		// the simulated vehicle reports its own radio state
		vehicle.OnStats(d.engine.UpdateTelemetry)
	}

	d.server = engine.NewServer(d.engine, d.socketPath)
	return nil
}

func (d *FPVLinkDaemon) onCommandResult(commandID uint32, result session.Result) {
	d.engine.OnCommandResult(commandID, result)
}

// hardwareConfig turns the radio sections of the configuration into the
// simulated hardware description
func hardwareConfig(cfg *config.Config) (hardware.HardwareConfig, error) {
	local := make([]radio.Interface, 0, len(cfg.Controller.Interfaces))
	for _, ic := range cfg.Controller.Interfaces {
		iface, err := ic.ToInterface(cfg.Controller.DefaultRawPower)
		if err != nil {
			return hardware.HardwareConfig{}, fmt.Errorf("controller interface %s: %w", ic.ID, err)
		}
		local = append(local, iface)
	}

	remote := make([]radio.Interface, 0, len(cfg.Vehicle.Interfaces))
	for _, ic := range cfg.Vehicle.Interfaces {
		iface, err := ic.ToInterface(cfg.Controller.DefaultRawPower)
		if err != nil {
			return hardware.HardwareConfig{}, fmt.Errorf("vehicle interface %s: %w", ic.ID, err)
		}
		remote = append(remote, iface)
	}
	links, err := cfg.VehicleLinks()
	if err != nil {
		return hardware.HardwareConfig{}, err
	}

	return hardware.HardwareConfig{
		LocalInterfaces: local,
		Vehicle: hardware.VehicleLinkConfig{
			Latency:      time.Duration(cfg.Hardware.VehicleLatencyMs) * time.Millisecond,
			RejectEvery:  cfg.Hardware.RejectEvery,
			DropEvery:    cfg.Hardware.DropEvery,
			RejectReason: cfg.Hardware.RejectReason,
			Paired:       cfg.Hardware.Paired,
			Interfaces:   remote,
			Links:        links,
		},
	}, nil
}

// Start starts the daemon
func (d *FPVLinkDaemon) Start() error {
	logging.Info("main", "Starting fpvlinkd daemon...")

	if err := d.server.Start(); err != nil {
		return fmt.Errorf("failed to start control socket: %w", err)
	}

	// Wait a moment for socket to be ready
	time.Sleep(100 * time.Millisecond)

	if !d.socketClient.IsConnected() {
		return fmt.Errorf("failed to connect to control socket")
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		logging.Info("api", fmt.Sprintf("Starting web server on %s", d.webServer.Addr))
		if err := d.webServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Error("api", fmt.Sprintf("Web server error: %v", err))
		}
	}()

	if d.mqtt == nil {
		d.wg.Add(1)
		go d.simulatedTelemetry()
	}

	return nil
}

// Stop stops the daemon gracefully
func (d *FPVLinkDaemon) Stop() error {
	logging.Info("main", "Stopping daemon...")

	d.cancel()

	if d.webServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := d.webServer.Shutdown(ctx); err != nil {
			logging.Warn("api", fmt.Sprintf("Web server shutdown error: %v", err))
		}
	}

	d.wg.Wait()
	d.teardown()

	logging.Info("main", "Daemon stopped")
	return nil
}

// teardown releases whatever setup managed to create
func (d *FPVLinkDaemon) teardown() {
	if d.server != nil {
		d.server.Stop()
	}
	if d.mqtt != nil {
		d.mqtt.Close()
	}
	if d.hardware != nil {
		if err := d.hardware.Close(); err != nil {
			logging.Warn("hardware", fmt.Sprintf("Hardware shutdown error: %v", err))
		}
	}
	if d.engine != nil {
		d.engine.Close()
	}
	if d.store != nil {
		if err := d.store.Close(); err != nil {
			logging.Warn("storage", fmt.Sprintf("Settings store close error: %v", err))
		}
	}
}

// simulatedTelemetry publishes the simulated vehicle report once a second
func (d *FPVLinkDaemon) simulatedTelemetry() {
	defer d.wg.Done()

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return
		case <-ticker.C:
			if d.hardware.VehicleLink().IsPaired() {
				d.hardware.VehicleLink().Publish()
			}
		}
	}
}

// setupWebServer initializes the web server and routes
func (d *FPVLinkDaemon) setupWebServer() error {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Logger(), gin.Recovery())

	router.GET("/", d.handleHome)
	router.GET("/ws/events", d.handleEventsWebSocket)
	if d.metrics != nil {
		router.GET(d.config.Metrics.Path, gin.WrapH(d.metrics.Handler()))
	}

	api := router.Group("/api/v1")
	{
		api.GET("/status", d.handleGetStatus)
		api.GET("/interfaces", d.handleGetInterfaces)
		api.PUT("/interfaces/:id/power", d.handleSetPower)
		api.PUT("/interfaces/:id/flags", d.handleSetFlags)
		api.PUT("/interfaces/:id/settings", d.handleInterfaceSettings)
		api.GET("/links", d.handleGetLinks)
		api.GET("/links/:link/eligibility", d.handleGetEligibility)
		api.POST("/links/:link/switch", d.handleSwitchLink)
		api.POST("/links/rotate", d.handleRotate)
		api.POST("/links/swap", d.handleSwap)
		api.GET("/power", d.handleGetPower)
		api.GET("/power/mode", d.handleGetMode)
		api.PUT("/power/mode", d.handleSetMode)
		api.GET("/sessions", d.handleGetSessions)
		api.GET("/sessions/:target", d.handleGetSessions)
		api.DELETE("/requests/:id", d.handleCancelRequest)
		api.GET("/history", d.handleGetHistory)
		api.PUT("/vehicle/paired", d.handleSetPaired)
	}

	addr := fmt.Sprintf("%s:%d", d.config.Web.BindAddress, d.config.Web.Port)
	d.webServer = &http.Server{
		Addr:    addr,
		Handler: router,
	}

	return nil
}
