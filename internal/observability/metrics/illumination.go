package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/printfarm/enclosure-cam/internal/illumination"
)

var lightStates = []illumination.State{illumination.Off, illumination.OnForCapture, illumination.OnManual}

// IlluminationMetrics tracks enclosure lights and their buttons.
type IlluminationMetrics struct {
	State       *prometheus.GaugeVec
	Transitions *prometheus.CounterVec
	ButtonEdges *prometheus.CounterVec
}

// NewIlluminationMetrics creates and registers the illumination collectors.
func NewIlluminationMetrics(registry prometheus.Registerer) (*IlluminationMetrics, error) {
	m := &IlluminationMetrics{
		State: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "enclosurecam_light_state",
			Help: "Current light state per enclosure, 1 for the active state",
		}, []string{"enclosure", "state"}),
		Transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "enclosurecam_light_transitions_total",
			Help: "Light state changes by enclosure and new state",
		}, []string{"enclosure", "state"}),
		ButtonEdges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "enclosurecam_button_edges_total",
			Help: "Button presses by enclosure and debounce result",
		}, []string{"enclosure", "result"}),
	}
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register illumination metrics: %w", err)
	}
	return m, nil
}

// SetState marks state as the active one for enclosure.
func (m *IlluminationMetrics) SetState(enclosure string, state illumination.State) {
	for _, s := range lightStates {
		v := 0.0
		if s == state {
			v = 1
		}
		m.State.WithLabelValues(enclosure, s.String()).Set(v)
	}
}

// RecordTransition records a change to state and updates the gauge.
func (m *IlluminationMetrics) RecordTransition(enclosure string, state illumination.State) {
	m.Transitions.WithLabelValues(enclosure, state.String()).Inc()
	m.SetState(enclosure, state)
}

// RecordEdge records one button edge.
func (m *IlluminationMetrics) RecordEdge(enclosure string, accepted bool) {
	result := LabelRejected
	if accepted {
		result = LabelAccepted
	}
	m.ButtonEdges.WithLabelValues(enclosure, result).Inc()
}

// Collect implements the prometheus.Collector interface.
func (m *IlluminationMetrics) Collect(ch chan<- prometheus.Metric) {
	m.State.Collect(ch)
	m.Transitions.Collect(ch)
	m.ButtonEdges.Collect(ch)
}

// Describe implements the prometheus.Collector interface.
func (m *IlluminationMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.State.Describe(ch)
	m.Transitions.Describe(ch)
	m.ButtonEdges.Describe(ch)
}
