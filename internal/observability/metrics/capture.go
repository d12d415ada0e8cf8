package metrics

import (
	"fmt"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// CaptureMetrics covers the capture loop: cycles, availability checks and
// the per-camera snapshot pipeline.
type CaptureMetrics struct {
	CyclesTotal     prometheus.Counter
	CycleDuration   prometheus.Histogram
	CycleCameras    *prometheus.GaugeVec
	ProbeResults    *prometheus.CounterVec
	PrinterOnline   *prometheus.GaugeVec
	PipelineResults *prometheus.CounterVec
	StageDuration   *prometheus.HistogramVec
	StageErrors     *prometheus.CounterVec
	UploadStatus    *prometheus.CounterVec
	LastSuccess     *prometheus.GaugeVec
}

// NewCaptureMetrics creates and registers the capture collectors.
func NewCaptureMetrics(registry prometheus.Registerer) (*CaptureMetrics, error) {
	m := &CaptureMetrics{}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register capture metrics: %w", err)
	}
	return m, nil
}

func (m *CaptureMetrics) initMetrics() {
	m.CyclesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "enclosurecam_cycles_total",
		Help: "Total number of completed passes over all enclosures",
	})
	m.CycleDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "enclosurecam_cycle_duration_seconds",
		Help:    "Duration of one pass over all enclosures",
		Buckets: prometheus.ExponentialBuckets(BucketStart1s, BucketFactor2, BucketCount10),
	})
	m.CycleCameras = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "enclosurecam_cycle_cameras",
		Help: "Cameras uploaded, failed and skipped in the last cycle",
	}, []string{"result"})
	m.ProbeResults = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "enclosurecam_probe_results_total",
		Help: "Printer availability checks by enclosure and outcome",
	}, []string{"enclosure", "outcome"})
	m.PrinterOnline = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "enclosurecam_printer_online",
		Help: "Whether the enclosure's printer was online at the last check (1 or 0)",
	}, []string{"enclosure"})
	m.PipelineResults = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "enclosurecam_pipeline_results_total",
		Help: "Snapshot pipeline runs by camera and result",
	}, []string{"enclosure", "camera", "result"})
	m.StageDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "enclosurecam_stage_duration_seconds",
		Help:    "Duration of each pipeline stage",
		Buckets: prometheus.ExponentialBuckets(BucketStart10ms, BucketFactor2, BucketCount12),
	}, []string{"camera", "stage"})
	m.StageErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "enclosurecam_stage_errors_total",
		Help: "Pipeline stage failures by camera and stage",
	}, []string{"camera", "stage"})
	m.UploadStatus = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "enclosurecam_upload_status_total",
		Help: "Snapshot upload responses by camera and HTTP status",
	}, []string{"camera", "code"})
	m.LastSuccess = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "enclosurecam_last_upload_timestamp_seconds",
		Help: "Unix time of the last successful upload per camera",
	}, []string{"enclosure", "camera"})
}

// RecordCycle records one completed cycle.
func (m *CaptureMetrics) RecordCycle(d time.Duration, uploaded, failed, skipped int) {
	m.CyclesTotal.Inc()
	m.CycleDuration.Observe(d.Seconds())
	m.CycleCameras.WithLabelValues("uploaded").Set(float64(uploaded))
	m.CycleCameras.WithLabelValues("failed").Set(float64(failed))
	m.CycleCameras.WithLabelValues("skipped").Set(float64(skipped))
}

// RecordProbe records one availability check. outcome is LabelOnline,
// LabelOffline or LabelSkipped.
func (m *CaptureMetrics) RecordProbe(enclosure, outcome string) {
	m.ProbeResults.WithLabelValues(enclosure, outcome).Inc()
	online := 0.0
	if outcome != LabelOffline {
		online = 1
	}
	m.PrinterOnline.WithLabelValues(enclosure).Set(online)
}

// RecordPipeline records the outcome of one camera run.
func (m *CaptureMetrics) RecordPipeline(enclosure, camera string, success bool, at time.Time) {
	if success {
		m.PipelineResults.WithLabelValues(enclosure, camera, LabelSuccess).Inc()
		m.LastSuccess.WithLabelValues(enclosure, camera).Set(float64(at.Unix()))
		return
	}
	m.PipelineResults.WithLabelValues(enclosure, camera, LabelFailure).Inc()
}

// RecordStage records how long one stage took and whether it failed.
func (m *CaptureMetrics) RecordStage(camera, stage string, d time.Duration, failed bool) {
	m.StageDuration.WithLabelValues(camera, stage).Observe(d.Seconds())
	if failed {
		m.StageErrors.WithLabelValues(camera, stage).Inc()
	}
}

// RecordUpload records an upload outcome. Accepted uploads are counted as
// 2xx; a rejected upload carries its status code and zero means no response
// was received.
func (m *CaptureMetrics) RecordUpload(camera string, code int, accepted bool) {
	label := LabelTransportError
	switch {
	case accepted:
		label = Label2xx
	case code > 0:
		label = strconv.Itoa(code)
	}
	m.UploadStatus.WithLabelValues(camera, label).Inc()
}

// Collect implements the prometheus.Collector interface.
func (m *CaptureMetrics) Collect(ch chan<- prometheus.Metric) {
	m.CyclesTotal.Collect(ch)
	m.CycleDuration.Collect(ch)
	m.CycleCameras.Collect(ch)
	m.ProbeResults.Collect(ch)
	m.PrinterOnline.Collect(ch)
	m.PipelineResults.Collect(ch)
	m.StageDuration.Collect(ch)
	m.StageErrors.Collect(ch)
	m.UploadStatus.Collect(ch)
	m.LastSuccess.Collect(ch)
}

// Describe implements the prometheus.Collector interface.
func (m *CaptureMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.CyclesTotal.Describe(ch)
	m.CycleDuration.Describe(ch)
	m.CycleCameras.Describe(ch)
	m.ProbeResults.Describe(ch)
	m.PrinterOnline.Describe(ch)
	m.PipelineResults.Describe(ch)
	m.StageDuration.Describe(ch)
	m.StageErrors.Describe(ch)
	m.UploadStatus.Describe(ch)
	m.LastSuccess.Describe(ch)
}
