package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"

	"github.com/nugget/thingy-control/internal/api"
	"github.com/nugget/thingy-control/internal/buildinfo"
	"github.com/nugget/thingy-control/internal/characteristic"
	"github.com/nugget/thingy-control/internal/config"
	"github.com/nugget/thingy-control/internal/connwatch"
	"github.com/nugget/thingy-control/internal/control"
	"github.com/nugget/thingy-control/internal/emitter"
	"github.com/nugget/thingy-control/internal/events"
	"github.com/nugget/thingy-control/internal/journal"
	"github.com/nugget/thingy-control/internal/keyboard"
	"github.com/nugget/thingy-control/internal/mqtt"
	"github.com/nugget/thingy-control/internal/sensor"
	"github.com/nugget/thingy-control/internal/sink"
	"github.com/nugget/thingy-control/internal/source"
)

// shutdownTimeout bounds the graceful shutdown of every component.
const shutdownTimeout = 10 * time.Second

// openKeyboard opens the virtual keyboard for host mode. Tests replace
// it with an in-memory device.
var openKeyboard = func(path, name string, keys []keyboard.Key) (keyboard.Device, error) {
	dev, err := keyboard.OpenUinput(path, name, keys)
	if err != nil {
		return nil, err
	}
	return dev, nil
}

// pipeline is the assembled set of tasks for one mode: the shared
// state, the sources that write it and the sinks the emitter feeds.
type pipeline struct {
	cfg     *config.Config
	logger  *slog.Logger
	state   *control.State
	bus     *events.Bus
	hub     *characteristic.Hub
	client  *mqtt.Client
	counter *mqtt.DailyTransitions
	journal *journal.Store
	watch   *connwatch.Manager

	sources []source.Source
	sinks   sink.Multi

	// closers run in reverse order during shutdown.
	closers []func(ctx context.Context)
}

// newPipeline creates the state, bus and broker client for cfg. No
// connections are opened.
func newPipeline(cfg *config.Config, logger *slog.Logger) (*pipeline, error) {
	p := &pipeline{
		cfg:    cfg,
		logger: logger,
		state:  control.NewState(),
		bus:    events.New(),
		watch:  connwatch.NewManager(logger),
	}
	if cfg.Mode == config.ModeDevice {
		p.hub = characteristic.NewHub(logger, p.bus)
	}
	if cfg.MQTT.Configured() {
		instanceID, err := mqtt.LoadOrCreateInstanceID(cfg.DataDir)
		if err != nil {
			return nil, err
		}
		p.counter = mqtt.NewDailyTransitions(nil)
		p.client = mqtt.New(cfg.MQTT, cfg.Device, instanceID, p.counter, logger.With("component", "mqtt"), p.bus)
		logger.Info("mqtt configured", "broker", cfg.MQTT.Broker, "instance_id", instanceID)
	}
	return p, nil
}

func (p *pipeline) addCloser(fn func(ctx context.Context)) {
	p.closers = append(p.closers, fn)
}

// close runs every registered closer, newest first.
func (p *pipeline) close(ctx context.Context) {
	for i := len(p.closers) - 1; i >= 0; i-- {
		p.closers[i](ctx)
	}
}

// buildSources registers the message sources for the configured mode
// and input. Broker queues are registered on the client so they are
// subscribed on connect.
func (p *pipeline) buildSources() error {
	cfg := p.cfg
	th := sensor.Thresholds{Tilt: cfg.Classifier.Tilt, Jump: cfg.Classifier.Jump, Spin: cfg.Classifier.Spin}
	interval := time.Duration(cfg.Classifier.IntervalMS) * time.Millisecond
	samplerLog := p.logger.With("component", "sampler")

	switch cfg.Mode {
	case config.ModeDevice:
		p.sources = append(p.sources, p.hub.Sources(p.state)...)
		switch cfg.Classifier.Input {
		case config.InputSimulated:
			sim := sensor.NewSimulated(cfg.Classifier.Seed)
			p.sources = append(p.sources, sensor.NewSampler(sim, p.state, th, interval, samplerLog))
		case config.InputQueue:
			if p.client == nil {
				return errors.New("classifier.input queue requires mqtt")
			}
			p.sources = append(p.sources, p.client.AddQueues(source.ControlFields(p.state))...)
		}
	case config.ModeHost:
		if p.client == nil {
			return errors.New("host mode requires mqtt")
		}
		switch cfg.Classifier.Input {
		case config.InputSensor:
			buf := sensor.NewBuffer()
			p.sources = append(p.sources, p.client.AddQueues(source.SensorChannels(buf))...)
			p.sources = append(p.sources, sensor.NewSampler(buf, p.state, th, interval, samplerLog))
		case config.InputControl:
			p.sources = append(p.sources, p.client.AddQueues(source.ControlFields(p.state))...)
		}
	default:
		return fmt.Errorf("unknown mode %q", cfg.Mode)
	}

	p.logger.Info("sources registered", "mode", cfg.Mode, "input", cfg.Classifier.Input, "count", len(p.sources))
	return nil
}

// buildSinks opens the sinks for the configured mode. Anything opened
// here registers a closer.
func (p *pipeline) buildSinks(ctx context.Context) error {
	cfg := p.cfg
	p.sinks = append(p.sinks, sink.Log{Logger: p.logger.With("component", "transitions")})

	switch cfg.Mode {
	case config.ModeDevice:
		p.sinks = append(p.sinks, sink.NewNotify("characteristic", p.hub, p.logger, p.bus))
		if p.client != nil && cfg.MQTT.Notify {
			p.sinks = append(p.sinks, sink.NewNotify("mqtt", p.client, p.logger, p.bus))
		}
	case config.ModeHost:
		if cfg.Keyboard.Enabled {
			keys, err := keyboard.NewKeymap(cfg.Keyboard.Keys)
			if err != nil {
				return fmt.Errorf("keyboard keymap: %w", err)
			}
			dev, err := openKeyboard(cfg.Keyboard.Path, cfg.Keyboard.DeviceName, keys.Keys())
			if err != nil {
				return fmt.Errorf("open virtual keyboard: %w", err)
			}
			p.addCloser(func(context.Context) {
				if err := dev.Close(); err != nil {
					p.logger.Warn("virtual keyboard close failed", "error", err)
				}
			})
			p.sinks = append(p.sinks, keyboard.NewSink(dev, keys, p.logger.With("component", "keyboard")))
			p.logger.Info("virtual keyboard ready", "name", cfg.Keyboard.DeviceName)
		}
	}

	if p.counter != nil {
		p.sinks = append(p.sinks, p.counter)
	}

	if cfg.Journal.Enabled {
		store, err := journal.Open(cfg.Journal.Path)
		if err != nil {
			return fmt.Errorf("open journal: %w", err)
		}
		p.journal = store
		p.addCloser(func(context.Context) {
			if err := store.Close(); err != nil {
				p.logger.Warn("journal close failed", "error", err)
			}
		})
		p.sinks = append(p.sinks, store)
		p.logger.Info("transition journal opened", "path", cfg.Journal.Path)
	}

	if cfg.Influx.Configured() {
		client := influxdb2.NewClient(cfg.Influx.URL, cfg.Influx.Token)
		writeAPI := client.WriteAPI(cfg.Influx.Org, cfg.Influx.Bucket)
		go sink.LogWriteErrors(ctx, writeAPI, p.logger.With("component", "influx"))
		p.addCloser(func(context.Context) {
			writeAPI.Flush()
			client.Close()
		})
		p.watch.Watch(ctx, connwatch.WatcherConfig{
			Name:  "influx",
			Probe: connwatch.PingProbe(client),
		})
		p.sinks = append(p.sinks, sink.NewInflux(writeAPI, cfg.Device.ID))
		p.logger.Info("influx sink configured", "url", cfg.Influx.URL, "bucket", cfg.Influx.Bucket)
	}

	return nil
}

// pruneJournal deletes journal entries past the retention window once
// at startup and then daily until ctx is cancelled.
func (p *pipeline) pruneJournal(ctx context.Context) {
	if p.journal == nil || p.cfg.Journal.RetentionDays <= 0 {
		return
	}
	retention := time.Duration(p.cfg.Journal.RetentionDays) * 24 * time.Hour
	prune := func() {
		n, err := p.journal.Prune(ctx, time.Now().Add(-retention))
		if err != nil {
			p.logger.Warn("journal prune failed", "error", err)
			return
		}
		if n > 0 {
			p.logger.Info("journal pruned", "deleted", n)
		}
	}

	prune()
	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			prune()
		}
	}
}

// runServe runs the pipeline and the API server until a signal
// arrives or a task fails fatally.
func runServe(ctx context.Context, stdout io.Writer, stderr io.Writer, configPath string) error {
	cfg, cfgPath, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	level, err := config.ParseLogLevel(cfg.LogLevel)
	if err != nil {
		return err
	}
	logger := newLogger(stdout, level, cfg.LogFormat)
	logger.Info("starting Thingy",
		"version", buildinfo.Short(),
		"mode", cfg.Mode,
		"input", cfg.Classifier.Input,
		"config", cfgPath,
	)

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("create data dir %s: %w", cfg.DataDir, err)
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	p, err := newPipeline(cfg, logger)
	if err != nil {
		return err
	}
	if err := p.buildSources(); err != nil {
		return err
	}
	if err := p.buildSinks(ctx); err != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		p.close(shutdownCtx)
		cancel()
		return err
	}
	defer p.watch.Stop()

	em := emitter.New(p.state, p.sinks, time.Duration(cfg.Emitter.IntervalMS)*time.Millisecond,
		logger.With("component", "emitter"), p.bus)

	server := api.NewServer(cfg.Listen.Address, cfg.Listen.Port, cfg.Mode, p.state, logger.With("component", "api"))
	server.SetBus(p.bus)
	server.SetConnWatch(p.watch)
	if p.hub != nil {
		server.SetHub(p.hub)
	}
	if p.journal != nil {
		server.SetJournal(p.journal)
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	errCh := make(chan error, 4)

	go func() {
		errCh <- source.RunAll(runCtx, p.sources, logger)
	}()
	go func() {
		errCh <- em.Run(runCtx)
	}()
	go func() {
		if err := server.Start(runCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("api server: %w", err)
			return
		}
		errCh <- nil
	}()
	if p.client != nil {
		client := p.client
		p.watch.Watch(runCtx, connwatch.WatcherConfig{
			Name:  "mqtt",
			Probe: connwatch.BrokerProbe(client),
			OnReady: func() {
				logger.Info("mqtt ready", "queues", len(client.Topics()))
			},
			OnDown: func(err error) {
				logger.Warn("mqtt unavailable", "error", err)
			},
		})
		go func() {
			errCh <- client.Start(runCtx)
		}()
	}
	go p.pruneJournal(runCtx)

	// The first task to return ends the run: a nil return on signal,
	// an error on a fatal failure.
	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case runErr = <-errCh:
		if runErr != nil {
			logger.Error("pipeline stopped", "error", runErr)
		}
	}
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if p.client != nil {
		if err := p.client.Stop(shutdownCtx); err != nil {
			logger.Warn("mqtt disconnect failed", "error", err)
		}
	}
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("api server shutdown failed", "error", err)
	}
	p.close(shutdownCtx)

	logger.Info("Thingy stopped")
	return runErr
}
