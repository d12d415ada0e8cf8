// Package app wires the configured components into a running service.
package app

import (
	"context"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/printfarm/enclosure-cam/internal/api"
	"github.com/printfarm/enclosure-cam/internal/buildinfo"
	"github.com/printfarm/enclosure-cam/internal/capture"
	"github.com/printfarm/enclosure-cam/internal/conf"
	"github.com/printfarm/enclosure-cam/internal/connect"
	"github.com/printfarm/enclosure-cam/internal/enclosure"
	"github.com/printfarm/enclosure-cam/internal/errors"
	"github.com/printfarm/enclosure-cam/internal/httpclient"
	"github.com/printfarm/enclosure-cam/internal/illumination"
	"github.com/printfarm/enclosure-cam/internal/logger"
	"github.com/printfarm/enclosure-cam/internal/mqtt"
	"github.com/printfarm/enclosure-cam/internal/observability"
	"github.com/printfarm/enclosure-cam/internal/observability/metrics"
	"github.com/printfarm/enclosure-cam/internal/orchestrator"
	"github.com/printfarm/enclosure-cam/internal/overlay"
	"github.com/printfarm/enclosure-cam/internal/pipeline"
	"github.com/printfarm/enclosure-cam/internal/prober"
	"github.com/printfarm/enclosure-cam/internal/sensor"
)

// mqttConnectTimeout bounds the first broker connection attempt.
const mqttConnectTimeout = 30 * time.Second

// App holds every component built from one Settings value. Optional parts
// are nil when disabled.
type App struct {
	Settings     *conf.Settings
	Enclosures   []*enclosure.Enclosure
	Prober       *prober.Prober
	Connect      *connect.Client
	Pipeline     *pipeline.Pipeline
	Orchestrator *orchestrator.Orchestrator

	Metrics   *observability.Metrics
	MQTT      mqtt.Client
	Publisher *mqtt.Publisher
	Discovery *mqtt.Discovery
	API       *api.Server

	http     *httpclient.Client
	composer *overlay.Composer
	log      logger.Logger
}

// New builds the service described by settings. Only configuration
// mistakes are fatal; missing GPIO hardware disables light control.
func New(settings *conf.Settings, info buildinfo.BuildInfo, log logger.Logger) (*App, error) {
	if log == nil {
		log = logger.Global().Module("app")
	}
	if info == nil {
		info = buildinfo.NewContext("", "")
	}
	a := &App{Settings: settings, log: log}

	hcfg := httpclient.DefaultConfig()
	hcfg.UserAgent = settings.Main.Name + "/" + info.Version()
	a.http = httpclient.New(&hcfg)

	a.Prober = prober.New(a.http, settings.Probe.Timeout, log.Module("prober"))
	a.Connect = connect.New(a.http, connect.Config{
		InfoURL:         settings.Connect.InfoURL,
		SnapshotURL:     settings.Connect.SnapshotURL,
		UploadTimeout:   settings.Connect.Timeout,
		RegisterTimeout: settings.Connect.RegisterTimeout,
	}, log.Module("connect"))

	opts := []capture.Option{capture.WithTimeout(settings.Capture.Timeout)}
	if settings.Capture.Path != "" {
		opts = append(opts, capture.WithBinary(settings.Capture.Path))
	}
	capturer, err := capture.New(settings.Capture.Tool, settings.Capture.SkipFrames, opts...)
	if err != nil {
		return nil, err
	}

	reader, err := sensor.New(settings.Sensor.Source, settings.Sensor.Pattern, settings.Sensor.HostKey, settings.Sensor.CacheTTL)
	if err != nil {
		return nil, err
	}

	a.composer = overlay.NewComposer(settings.Overlay.FontPath, settings.Overlay.JPEGQuality, log.Module("overlay"))

	driver, err := illumination.NewDriver(settings.Illumination.Driver)
	if err != nil {
		if errors.IsCategory(err, errors.CategoryConfiguration) {
			return nil, err
		}
		log.Warn("GPIO unavailable, light control disabled",
			logger.String("driver", settings.Illumination.Driver), logger.Error(err))
		driver = illumination.NoneDriver{}
	}
	a.Enclosures = enclosure.FromSettings(settings, driver, log.Module("illumination"))

	tempDir := settings.Main.TempDir
	if tempDir == "" {
		tempDir = os.TempDir()
	}
	a.Pipeline = pipeline.New(capturer, a.composer, reader, a.Connect, tempDir, log.Module("pipeline"))
	a.Orchestrator = orchestrator.New(a.Enclosures, a.Prober, a.Connect, a.Pipeline, settings.Main.Interval, log.Module("orchestrator"))

	var mqttMetrics *metrics.MQTTMetrics
	if settings.Telemetry.Enabled {
		if a.Metrics, err = observability.NewMetrics(); err != nil {
			return nil, err
		}
		mqttMetrics = a.Metrics.MQTT
		a.Pipeline.Observe(a.Metrics.ObserveStage)
		a.Orchestrator.AddReporter(a.Metrics)
		a.watchLights(a.Metrics.WatchLight)
	}

	if settings.MQTT.Enabled {
		if err := a.setupMQTT(info, mqttMetrics); err != nil {
			return nil, err
		}
	}

	if settings.WebServer.Enabled {
		serverOpts := []api.ServerOption{
			api.WithVersion(info.Version()),
			api.WithLogger(log.Module("api")),
		}
		if a.Metrics != nil {
			serverOpts = append(serverOpts, api.WithMetrics(a.Metrics.Handler()))
		}
		if a.API, err = api.New(api.ConfigFromSettings(settings), a.Orchestrator, serverOpts...); err != nil {
			return nil, err
		}
	}

	return a, nil
}

func (a *App) setupMQTT(info buildinfo.BuildInfo, m *metrics.MQTTMetrics) error {
	s := a.Settings.MQTT
	cfg := mqtt.DefaultConfig()
	cfg.Broker = s.Broker
	cfg.ClientID = s.ClientID
	cfg.Username = s.Username
	cfg.Password = s.Password

	client, err := mqtt.NewClient(cfg, m, a.log.Module("mqtt"))
	if err != nil {
		return err
	}
	a.MQTT = client
	a.Publisher = mqtt.NewPublisher(client, mqtt.PublisherConfig{Topic: s.Topic, Retain: s.Retain}, m, a.log.Module("mqtt"))
	a.Orchestrator.AddReporter(a.Publisher)
	a.watchLights(a.Publisher.WatchLight)

	if s.HomeAssistant.Enabled {
		a.Discovery = mqtt.NewDiscovery(client, a.Publisher, mqtt.DiscoveryConfig{
			DiscoveryPrefix: s.HomeAssistant.DiscoveryPrefix,
			NodeID:          s.ClientID,
			Version:         info.Version(),
		}, a.log.Module("mqtt"))
	}
	return nil
}

func (a *App) watchLights(fn func(*illumination.Controller)) {
	for _, enc := range a.Enclosures {
		if enc.Light != nil {
			fn(enc.Light)
		}
	}
}

// Run claims the lights, registers cameras and then runs the capture loop
// alongside the optional web server and MQTT publisher until ctx is done.
func (a *App) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	if a.Publisher != nil {
		a.Publisher.Start(ctx)
		g.Go(func() error {
			a.connectMQTT(ctx)
			return nil
		})
	}

	// A web server failure is logged and leaves the capture loop running.
	if a.API != nil {
		g.Go(func() error {
			if err := a.API.Run(ctx); err != nil {
				a.log.Error("web server stopped, capture loop continues",
					logger.String("listen", a.Settings.WebServer.Listen), logger.Error(err))
			}
			return nil
		})
	}

	g.Go(func() error {
		a.Orchestrator.Bootstrap(ctx)
		return a.Orchestrator.Run(ctx)
	})

	return g.Wait()
}

// connectMQTT makes the first broker connection. The client keeps retrying
// on its own when this attempt fails, so errors are only logged.
func (a *App) connectMQTT(ctx context.Context) {
	cctx, cancel := context.WithTimeout(ctx, mqttConnectTimeout)
	defer cancel()

	if err := a.MQTT.Connect(cctx); err != nil {
		a.log.Warn("MQTT broker not reachable yet", logger.String("broker", a.Settings.MQTT.Broker), logger.Error(err))
		return
	}
	if a.Discovery == nil {
		return
	}
	if err := a.Discovery.PublishDiscovery(ctx, a.Enclosures); err != nil {
		a.log.Warn("failed to publish Home Assistant discovery", logger.Error(err))
	}
}

// RunOnce makes a single pass over every enclosure. Cameras are registered
// first when register is set.
func (a *App) RunOnce(ctx context.Context, register bool) orchestrator.CycleReport {
	a.Orchestrator.InitializeLights(ctx)
	if register {
		a.Orchestrator.RegisterCameras(ctx)
	}
	return a.Orchestrator.RunCycle(ctx)
}

// Close releases the lights and network resources. It is safe to call after
// Run has returned.
func (a *App) Close() error {
	var errs []error
	if err := a.Orchestrator.Close(); err != nil {
		errs = append(errs, err)
	}
	if a.Publisher != nil {
		a.Publisher.Close()
	}
	if a.MQTT != nil {
		a.MQTT.Disconnect()
	}
	if err := a.composer.Close(); err != nil {
		errs = append(errs, err)
	}
	a.http.Close()
	return errors.Join(errs...)
}
