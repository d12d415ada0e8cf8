// Package orchestrator drives the capture loop: it registers cameras once,
// then repeatedly checks every enclosure's printer and, when it is online,
// runs the snapshot pipeline for each of its cameras with the light on.
package orchestrator

import (
	"context"
	"runtime/debug"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/printfarm/enclosure-cam/internal/connect"
	"github.com/printfarm/enclosure-cam/internal/enclosure"
	"github.com/printfarm/enclosure-cam/internal/errors"
	"github.com/printfarm/enclosure-cam/internal/illumination"
	"github.com/printfarm/enclosure-cam/internal/logger"
	"github.com/printfarm/enclosure-cam/internal/pipeline"
	"github.com/printfarm/enclosure-cam/internal/prober"
)

// DefaultInterval is the pause between the end of one cycle and the next.
const DefaultInterval = 60 * time.Second

// Prober answers whether an enclosure's printer is online.
type Prober interface {
	Check(ctx context.Context, name string, target enclosure.ProbeTarget) prober.Result
}

// Registrar announces a camera to Prusa Connect.
type Registrar interface {
	RegisterCamera(ctx context.Context, cam connect.Camera) error
}

// CameraRunner produces and uploads one snapshot.
type CameraRunner interface {
	Run(ctx context.Context, enclosureName string, cam enclosure.Camera) error
}

// CameraResult is the outcome of the most recent attempt for one camera.
type CameraResult struct {
	Enclosure  string         `json:"enclosure"`
	Camera     string         `json:"camera"`
	Success    bool           `json:"success"`
	Stage      pipeline.Stage `json:"stage,omitempty"`
	Error      string         `json:"error,omitempty"`
	StatusCode int            `json:"status_code,omitempty"`
	At         time.Time      `json:"at"`
	Duration   time.Duration  `json:"duration"`
}

// EnclosureStatus is the state of one enclosure after its last check.
type EnclosureStatus struct {
	Name           string         `json:"name"`
	Online         bool           `json:"online"`
	CheckSkipped   bool           `json:"check_skipped"`
	PrinterState   string         `json:"printer_state,omitempty"`
	LightEnabled   bool           `json:"light_enabled"`
	Light          string         `json:"light"`
	ManualOverride bool           `json:"manual_override"`
	CheckedAt      time.Time      `json:"checked_at"`
	Cameras        []CameraResult `json:"cameras"`
}

// CycleReport summarizes one pass over all enclosures.
type CycleReport struct {
	TraceID    string            `json:"trace_id"`
	Started    time.Time         `json:"started"`
	Finished   time.Time         `json:"finished"`
	Enclosures []EnclosureStatus `json:"enclosures"`
	Uploaded   int               `json:"uploaded"`
	Failed     int               `json:"failed"`
	Skipped    int               `json:"skipped"` // cameras of offline enclosures
}

// Duration returns how long the cycle took.
func (r CycleReport) Duration() time.Duration {
	return r.Finished.Sub(r.Started)
}

// Reporter receives results as they happen. Implementations must not block.
type Reporter interface {
	EnclosureChecked(status EnclosureStatus, probe prober.Result)
	CameraProcessed(result CameraResult)
	CycleCompleted(report CycleReport)
}

// Orchestrator owns the capture loop.
type Orchestrator struct {
	enclosures []*enclosure.Enclosure
	prober     Prober
	registrar  Registrar
	runner     CameraRunner
	interval   time.Duration
	log        logger.Logger

	reporters []Reporter

	mu   sync.RWMutex
	last map[string]EnclosureStatus
}

// New creates an Orchestrator. A non-positive interval selects DefaultInterval.
func New(encs []*enclosure.Enclosure, p Prober, reg Registrar, run CameraRunner, interval time.Duration, log logger.Logger) *Orchestrator {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if log == nil {
		log = logger.Global().Module("orchestrator")
	}
	o := &Orchestrator{
		enclosures: encs,
		prober:     p,
		registrar:  reg,
		runner:     run,
		interval:   interval,
		log:        log,
		last:       make(map[string]EnclosureStatus, len(encs)),
	}
	for _, enc := range encs {
		o.last[enc.Name] = o.baseStatus(enc)
	}
	return o
}

// AddReporter registers r. It must be called before Run.
func (o *Orchestrator) AddReporter(r Reporter) {
	o.reporters = append(o.reporters, r)
}

// Enclosures returns the managed enclosures in configuration order.
func (o *Orchestrator) Enclosures() []*enclosure.Enclosure {
	return o.enclosures
}

// Bootstrap claims light pins and registers every camera with Prusa Connect.
// Failures are logged per enclosure or camera and never abort startup.
func (o *Orchestrator) Bootstrap(ctx context.Context) {
	o.InitializeLights(ctx)
	o.RegisterCameras(ctx)
}

// InitializeLights claims the GPIO pins of every enclosure with light control.
func (o *Orchestrator) InitializeLights(ctx context.Context) {
	for _, enc := range o.enclosures {
		if enc.Light != nil {
			enc.Light.Initialize(ctx)
		}
	}
}

// RegisterCameras reports every camera's name and resolution once. It
// returns the number of cameras that failed to register.
func (o *Orchestrator) RegisterCameras(ctx context.Context) int {
	failed := 0
	for _, enc := range o.enclosures {
		for _, cam := range enc.Cameras {
			if ctx.Err() != nil {
				return failed
			}
			err := o.registrar.RegisterCamera(ctx, connect.Camera{
				Name:        cam.Name,
				Fingerprint: cam.Fingerprint,
				Token:       cam.Token,
				Width:       cam.Width,
				Height:      cam.Height,
			})
			log := o.log.With(logger.String("enclosure", enc.Name), logger.String("camera", cam.Name))
			if err != nil {
				failed++
				log.Error("failed to register camera", logger.Error(err))
				continue
			}
			log.Info("camera registered")
		}
	}
	return failed
}

// Run executes cycles until ctx is cancelled. The interval is measured from
// the end of one cycle to the start of the next.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.log.Info("starting capture loop",
		logger.Duration("interval", o.interval),
		logger.Int("enclosures", len(o.enclosures)),
		logger.Int("cameras", enclosure.CameraCount(o.enclosures)))

	for {
		o.RunCycle(ctx)

		select {
		case <-ctx.Done():
			o.log.Info("capture loop stopped")
			return nil
		case <-time.After(o.interval):
		}
	}
}

// RunCycle makes one pass over every enclosure in order.
func (o *Orchestrator) RunCycle(ctx context.Context) CycleReport {
	report := CycleReport{TraceID: uuid.NewString(), Started: time.Now()}
	ctx = logger.WithTraceID(ctx, report.TraceID)
	log := o.log.WithContext(ctx)

	for _, enc := range o.enclosures {
		if ctx.Err() != nil {
			break
		}
		status := o.processEnclosure(ctx, enc)
		report.Enclosures = append(report.Enclosures, status)
		if !status.Online {
			report.Skipped += len(enc.Cameras)
			continue
		}
		for _, r := range status.Cameras {
			if r.Success {
				report.Uploaded++
			} else {
				report.Failed++
			}
		}
	}

	report.Finished = time.Now()
	log.Info("cycle complete",
		logger.Int("uploaded", report.Uploaded),
		logger.Int("failed", report.Failed),
		logger.Int("skipped", report.Skipped),
		logger.Duration("duration", report.Duration()))

	for _, r := range o.reporters {
		r.CycleCompleted(report)
	}
	return report
}

func (o *Orchestrator) processEnclosure(ctx context.Context, enc *enclosure.Enclosure) EnclosureStatus {
	log := o.log.WithContext(ctx).With(logger.String("enclosure", enc.Name))

	probe := o.prober.Check(ctx, enc.Name, enc.Probe)
	status := o.baseStatus(enc)
	status.Online = probe.Online
	status.CheckSkipped = probe.Skipped
	status.PrinterState = probe.State
	status.CheckedAt = time.Now()

	if !probe.Online {
		log.Info("printer offline, skipping cameras")
		status.Cameras = o.previousCameras(enc.Name)
		o.store(status)
		for _, r := range o.reporters {
			r.EnclosureChecked(status, probe)
		}
		return status
	}

	for _, r := range o.reporters {
		r.EnclosureChecked(status, probe)
	}

	status.Cameras = make([]CameraResult, 0, len(enc.Cameras))
	for _, cam := range enc.Cameras {
		if ctx.Err() != nil {
			break
		}
		res := o.processCamera(ctx, enc, cam)
		status.Cameras = append(status.Cameras, res)
		for _, r := range o.reporters {
			r.CameraProcessed(res)
		}
	}

	fillLight(&status, enc.Light)
	o.store(status)
	return status
}

// processCamera brackets one pipeline run with the light. A panic in the
// pipeline is recovered and reported as a failure of this camera only.
func (o *Orchestrator) processCamera(ctx context.Context, enc *enclosure.Enclosure, cam enclosure.Camera) (res CameraResult) {
	log := o.log.WithContext(ctx).With(logger.String("enclosure", enc.Name), logger.String("camera", cam.Name))
	start := time.Now()
	res = CameraResult{Enclosure: enc.Name, Camera: cam.Name, At: start}

	defer func() {
		if r := recover(); r != nil {
			err := errors.Newf("panic while processing camera: %v", r).
				Component("orchestrator").
				Category(errors.CategoryGeneric).
				Priority(errors.PriorityCritical).
				Context("stack", string(debug.Stack())).
				Build()
			log.Error("camera pipeline panicked", logger.Error(err))
			res.Success = false
			res.Error = err.Error()
		}
		res.Duration = time.Since(start)
	}()

	if enc.Light != nil {
		enc.Light.PrepareForCapture(ctx)
		defer enc.Light.RestoreAfterCapture()
	}

	err := o.runner.Run(ctx, enc.Name, cam)
	if err != nil {
		res.Stage = pipeline.FailedStage(err)
		res.Error = err.Error()
		res.StatusCode = connect.StatusCode(err)
		log.Error("camera update failed", logger.String("stage", string(res.Stage)), logger.Error(err))
		return res
	}

	res.Success = true
	log.Debug("camera updated", logger.Duration("duration", time.Since(start)))
	return res
}

func (o *Orchestrator) baseStatus(enc *enclosure.Enclosure) EnclosureStatus {
	s := EnclosureStatus{Name: enc.Name, Light: illumination.Off.String()}
	fillLight(&s, enc.Light)
	return s
}

func fillLight(s *EnclosureStatus, light *illumination.Controller) {
	if light == nil {
		return
	}
	s.LightEnabled = light.Enabled()
	s.Light = light.State().String()
	s.ManualOverride = light.ManualOverride()
}

func (o *Orchestrator) previousCameras(name string) []CameraResult {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return slices.Clone(o.last[name].Cameras)
}

func (o *Orchestrator) store(status EnclosureStatus) {
	o.mu.Lock()
	o.last[status.Name] = status
	o.mu.Unlock()
}

// Snapshot returns the last known status of every enclosure in
// configuration order. Light fields reflect the current state.
func (o *Orchestrator) Snapshot() []EnclosureStatus {
	o.mu.RLock()
	out := make([]EnclosureStatus, 0, len(o.enclosures))
	for _, enc := range o.enclosures {
		s := o.last[enc.Name]
		s.Cameras = slices.Clone(s.Cameras)
		out = append(out, s)
	}
	o.mu.RUnlock()

	for i, enc := range o.enclosures {
		fillLight(&out[i], enc.Light)
	}
	return out
}

// Close releases every light controller.
func (o *Orchestrator) Close() error {
	var errs []error
	for _, enc := range o.enclosures {
		if enc.Light == nil {
			continue
		}
		if err := enc.Light.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
