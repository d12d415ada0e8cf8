package observability

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/printfarm/enclosure-cam/internal/illumination"
	"github.com/printfarm/enclosure-cam/internal/logger"
	"github.com/printfarm/enclosure-cam/internal/observability/metrics"
	"github.com/printfarm/enclosure-cam/internal/orchestrator"
	"github.com/printfarm/enclosure-cam/internal/pipeline"
	"github.com/printfarm/enclosure-cam/internal/prober"
)

// Metrics holds all the metric collectors for the application.
type Metrics struct {
	registry     *prometheus.Registry
	Capture      *metrics.CaptureMetrics
	Illumination *metrics.IlluminationMetrics
	MQTT         *metrics.MQTTMetrics
}

// NewMetrics creates a registry with the process collectors and every
// application collector registered on it.
func NewMetrics() (*Metrics, error) {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	captureMetrics, err := metrics.NewCaptureMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to create capture metrics: %w", err)
	}

	lightMetrics, err := metrics.NewIlluminationMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to create illumination metrics: %w", err)
	}

	mqttMetrics, err := metrics.NewMQTTMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to create MQTT metrics: %w", err)
	}

	return &Metrics{
		registry:     registry,
		Capture:      captureMetrics,
		Illumination: lightMetrics,
		MQTT:         mqttMetrics,
	}, nil
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		ErrorLog:      promLogger{},
		ErrorHandling: promhttp.ContinueOnError,
	})
}

// promLogger routes promhttp errors to the module logger.
type promLogger struct{}

func (promLogger) Println(v ...any) {
	log.Error("metrics handler error", logger.String("detail", fmt.Sprint(v...)))
}

// WatchLight follows the state and button edges of c.
func (m *Metrics) WatchLight(c *illumination.Controller) {
	if c == nil {
		return
	}
	m.Illumination.SetState(c.Enclosure(), c.State())
	c.OnChange(m.Illumination.RecordTransition)
	c.OnEdge(m.Illumination.RecordEdge)
}

// ObserveStage records a pipeline stage timing. It matches
// pipeline.StageObserver.
func (m *Metrics) ObserveStage(_, camera string, stage pipeline.Stage, d time.Duration, err error) {
	m.Capture.RecordStage(camera, string(stage), d, err != nil)
}

// EnclosureChecked implements orchestrator.Reporter.
func (m *Metrics) EnclosureChecked(status orchestrator.EnclosureStatus, probe prober.Result) {
	outcome := metrics.LabelOffline
	switch {
	case probe.Skipped:
		outcome = metrics.LabelSkipped
	case probe.Online:
		outcome = metrics.LabelOnline
	}
	m.Capture.RecordProbe(status.Name, outcome)
}

// CameraProcessed implements orchestrator.Reporter.
func (m *Metrics) CameraProcessed(res orchestrator.CameraResult) {
	m.Capture.RecordPipeline(res.Enclosure, res.Camera, res.Success, res.At.Add(res.Duration))
	if res.Success || res.Stage == pipeline.StageUpload {
		m.Capture.RecordUpload(res.Camera, res.StatusCode, res.Success)
	}
}

// CycleCompleted implements orchestrator.Reporter.
func (m *Metrics) CycleCompleted(report orchestrator.CycleReport) {
	m.Capture.RecordCycle(report.Duration(), report.Uploaded, report.Failed, report.Skipped)
}

var _ orchestrator.Reporter = (*Metrics)(nil)
