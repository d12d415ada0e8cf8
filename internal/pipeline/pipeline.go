// Package pipeline turns one camera into one uploaded snapshot: capture a
// raw frame, optionally stamp the enclosure temperature on it, and send it
// to Prusa Connect.
package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/printfarm/enclosure-cam/internal/capture"
	"github.com/printfarm/enclosure-cam/internal/connect"
	"github.com/printfarm/enclosure-cam/internal/enclosure"
	"github.com/printfarm/enclosure-cam/internal/errors"
	"github.com/printfarm/enclosure-cam/internal/logger"
	"github.com/printfarm/enclosure-cam/internal/sensor"
)

// Stage names a pipeline step.
type Stage string

const (
	StageCapture  Stage = "capture"
	StageAnnotate Stage = "annotate"
	StageUpload   Stage = "upload"
)

// StageError reports which step failed for which camera.
type StageError struct {
	Stage  Stage
	Camera string
	Err    error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s failed for camera %s: %v", e.Stage, e.Camera, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// FailedStage returns the stage of a *StageError in err's chain, or "".
func FailedStage(err error) Stage {
	var se *StageError
	if errors.As(err, &se) {
		return se.Stage
	}
	return ""
}

// Annotator renders the temperature label onto a JPEG.
type Annotator interface {
	Render(raw []byte, reading string, cameraWidth int) ([]byte, error)
}

// Uploader sends a finished snapshot.
type Uploader interface {
	UploadSnapshot(ctx context.Context, cam connect.Camera, jpeg []byte) error
}

// StageObserver is told how long each completed or failed step took.
type StageObserver func(enclosure, camera string, stage Stage, d time.Duration, err error)

// Pipeline runs the capture, annotate and upload steps for single cameras.
// It never touches illumination or availability state.
type Pipeline struct {
	capturer  capture.Capturer
	annotator Annotator
	sensor    sensor.Reader
	uploader  Uploader
	tempDir   string
	log       logger.Logger
	observers []StageObserver
}

// New creates a Pipeline writing intermediate frames below tempDir.
func New(c capture.Capturer, a Annotator, s sensor.Reader, u Uploader, tempDir string, log logger.Logger) *Pipeline {
	if tempDir == "" {
		tempDir = os.TempDir()
	}
	if s == nil {
		s = sensor.None{}
	}
	if log == nil {
		log = logger.Global().Module("pipeline")
	}
	return &Pipeline{capturer: c, annotator: a, sensor: s, uploader: u, tempDir: tempDir, log: log}
}

// Observe registers fn for stage timings.
func (p *Pipeline) Observe(fn StageObserver) {
	p.observers = append(p.observers, fn)
}

// RawPath returns where the captured frame of cam is written.
func (p *Pipeline) RawPath(cam enclosure.Camera) string {
	return filepath.Join(p.tempDir, cam.Fingerprint+"_raw.jpg")
}

// FinalPath returns where the annotated frame of cam is written.
func (p *Pipeline) FinalPath(cam enclosure.Camera) string {
	return filepath.Join(p.tempDir, cam.Fingerprint+"_final.jpg")
}

func (p *Pipeline) observe(enc, cam string, stage Stage, start time.Time, err error) {
	d := time.Since(start)
	for _, fn := range p.observers {
		fn(enc, cam, stage, d, err)
	}
}

// Run processes cam of the enclosure called enclosureName. Any failure is
// returned as a *StageError.
func (p *Pipeline) Run(ctx context.Context, enclosureName string, cam enclosure.Camera) error {
	log := p.log.WithContext(ctx).With(
		logger.String("enclosure", enclosureName),
		logger.String("camera", cam.Name))

	rawPath, finalPath := p.RawPath(cam), p.FinalPath(cam)
	removeStale(log, rawPath, finalPath)

	start := time.Now()
	err := p.capturer.Capture(ctx, capture.Request{
		Device: cam.Device,
		Width:  cam.Width,
		Height: cam.Height,
		Params: cam.Params,
		Output: rawPath,
	})
	if err == nil {
		var raw []byte
		raw, err = os.ReadFile(rawPath)
		if err == nil {
			p.observe(enclosureName, cam.Name, StageCapture, start, nil)
			return p.finish(ctx, log, enclosureName, cam, raw, finalPath)
		}
		err = errors.New(err).Component("pipeline").Category(errors.CategoryFileIO).Build()
	}
	p.observe(enclosureName, cam.Name, StageCapture, start, err)
	return &StageError{Stage: StageCapture, Camera: cam.Name, Err: err}
}

func (p *Pipeline) finish(ctx context.Context, log logger.Logger, enclosureName string, cam enclosure.Camera, raw []byte, finalPath string) error {
	payload := raw
	if cam.Overlay {
		start := time.Now()
		reading := sensor.Format(ctx, p.sensor)
		annotated, err := p.annotator.Render(raw, reading, cam.Width)
		if err == nil {
			err = os.WriteFile(finalPath, annotated, 0o600)
			if err != nil {
				err = errors.New(err).Component("pipeline").Category(errors.CategoryFileIO).Build()
			}
		}
		p.observe(enclosureName, cam.Name, StageAnnotate, start, err)
		if err != nil {
			return &StageError{Stage: StageAnnotate, Camera: cam.Name, Err: err}
		}
		payload = annotated
		log.Debug("overlay applied", logger.String("reading", reading))
	}

	start := time.Now()
	err := p.uploader.UploadSnapshot(ctx, connect.Camera{
		Name:        cam.Name,
		Fingerprint: cam.Fingerprint,
		Token:       cam.Token,
		Width:       cam.Width,
		Height:      cam.Height,
	}, payload)
	p.observe(enclosureName, cam.Name, StageUpload, start, err)
	if err != nil {
		return &StageError{Stage: StageUpload, Camera: cam.Name, Err: err}
	}

	log.Info("snapshot uploaded",
		logger.String("resolution", capture.Resolution(cam.Width, cam.Height)),
		logger.Int("bytes", len(payload)))
	return nil
}

func removeStale(log logger.Logger, paths ...string) {
	for _, path := range paths {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			log.Warn("cannot remove stale frame", logger.String("path", path), logger.Error(err))
		}
	}
}
