package mqtt

import (
	"time"

	"github.com/printfarm/enclosure-cam/internal/illumination"
	"github.com/printfarm/enclosure-cam/internal/orchestrator"
	"github.com/printfarm/enclosure-cam/internal/prober"
)

// Field names are part of the published contract that home automation
// templates key on. Add fields, never rename them.

// StatusMessage is published to <topic>/<enclosure>/status after every
// availability check.
type StatusMessage struct {
	Enclosure    string    `json:"enclosure"`
	Online       bool      `json:"online"`
	State        string    `json:"state,omitempty"`
	CheckSkipped bool      `json:"check_skipped"`
	StatusCode   int       `json:"status_code,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}

// LightMessage is published to <topic>/<enclosure>/light on every light
// state change.
type LightMessage struct {
	Enclosure      string    `json:"enclosure"`
	State          string    `json:"state"`
	On             bool      `json:"on"`
	ManualOverride bool      `json:"manual_override"`
	Timestamp      time.Time `json:"timestamp"`
}

// SnapshotMessage is published to <topic>/<enclosure>/<camera>/snapshot
// after every pipeline run.
type SnapshotMessage struct {
	Enclosure  string    `json:"enclosure"`
	Camera     string    `json:"camera"`
	Success    bool      `json:"success"`
	Stage      string    `json:"stage,omitempty"`
	Error      string    `json:"error,omitempty"`
	StatusCode int       `json:"status_code,omitempty"`
	DurationMs int64     `json:"duration_ms"`
	Timestamp  time.Time `json:"timestamp"`
}

// CycleMessage is published to <topic>/cycle after every pass.
type CycleMessage struct {
	TraceID    string    `json:"trace_id"`
	Uploaded   int       `json:"uploaded"`
	Failed     int       `json:"failed"`
	Skipped    int       `json:"skipped"`
	DurationMs int64     `json:"duration_ms"`
	Timestamp  time.Time `json:"timestamp"`
}

// NewStatusMessage converts an availability result.
func NewStatusMessage(status orchestrator.EnclosureStatus, probe prober.Result) StatusMessage {
	return StatusMessage{
		Enclosure:    status.Name,
		Online:       probe.Online,
		State:        probe.State,
		CheckSkipped: probe.Skipped,
		StatusCode:   probe.StatusCode,
		Timestamp:    status.CheckedAt,
	}
}

// NewLightMessage converts a light state change.
func NewLightMessage(enclosure string, state illumination.State, at time.Time) LightMessage {
	return LightMessage{
		Enclosure:      enclosure,
		State:          state.String(),
		On:             state != illumination.Off,
		ManualOverride: state == illumination.OnManual,
		Timestamp:      at,
	}
}

// NewSnapshotMessage converts a camera result.
func NewSnapshotMessage(res orchestrator.CameraResult) SnapshotMessage {
	return SnapshotMessage{
		Enclosure:  res.Enclosure,
		Camera:     res.Camera,
		Success:    res.Success,
		Stage:      string(res.Stage),
		Error:      res.Error,
		StatusCode: res.StatusCode,
		DurationMs: res.Duration.Milliseconds(),
		Timestamp:  res.At,
	}
}

// NewCycleMessage converts a cycle report.
func NewCycleMessage(report orchestrator.CycleReport) CycleMessage {
	return CycleMessage{
		TraceID:    report.TraceID,
		Uploaded:   report.Uploaded,
		Failed:     report.Failed,
		Skipped:    report.Skipped,
		DurationMs: report.Duration().Milliseconds(),
		Timestamp:  report.Finished,
	}
}
