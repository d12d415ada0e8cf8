// Package capture takes still frames from V4L2 cameras with an external
// capture tool.
package capture

import (
	"bytes"
	"context"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"strconv"
	"time"

	"github.com/printfarm/enclosure-cam/internal/errors"
)

const (
	// DefaultTimeout bounds a single capture.
	DefaultTimeout = 30 * time.Second

	// DefaultSkipFrames lets auto exposure settle before fswebcam grabs.
	DefaultSkipFrames = 10

	// maxOutputInError limits how much tool output is kept in an error.
	maxOutputInError = 1024
)

// Request describes one still capture.
type Request struct {
	Device string
	Width  int
	Height int
	Params []string // extra tool arguments, inserted before the output path
	Output string
}

// Capturer writes a JPEG frame for req to req.Output.
type Capturer interface {
	Name() string
	Capture(ctx context.Context, req Request) error
}

// Runner executes name with args and returns its combined output.
type Runner func(ctx context.Context, name string, args ...string) ([]byte, error)

// ExecRunner runs the command as a child process.
func ExecRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...) // #nosec G204 - tool and device come from validated configuration
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	err := cmd.Run()
	return out.Bytes(), err
}

// Tool runs a capture binary with arguments built by argv.
type Tool struct {
	name    string
	binary  string
	timeout time.Duration
	run     Runner
	argv    func(req Request) []string
}

func (t *Tool) Name() string { return t.name }

// Args returns the full argument list used for req.
func (t *Tool) Args(req Request) []string {
	return t.argv(req)
}

// Capture runs the tool and checks that it produced a non-empty file.
func (t *Tool) Capture(ctx context.Context, req Request) error {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	start := time.Now()
	out, err := t.run(ctx, t.binary, t.argv(req)...)
	if err != nil {
		b := errors.New(fmt.Errorf("%s failed on %s: %w", t.name, req.Device, err)).
			Component("capture").
			Category(errors.CategoryCapture).
			Context("tool", t.name).
			Context("device", req.Device).
			Context("output", truncate(out)).
			Timing("capture", time.Since(start))
		switch {
		case ctx.Err() == context.DeadlineExceeded:
			b = b.Category(errors.CategoryTimeout).Context("timeout", t.timeout.String())
		case ctx.Err() != nil:
			b = b.Category(errors.CategoryCancellation)
		case errors.Is(err, exec.ErrNotFound), errors.Is(err, fs.ErrNotExist), errors.Is(err, fs.ErrPermission):
			b = b.Category(errors.CategoryCommandExecution).Context("binary", t.binary)
		}
		return b.Build()
	}

	info, err := os.Stat(req.Output)
	if err != nil || info.Size() == 0 {
		return errors.Newf("%s produced no image for %s", t.name, req.Device).
			Component("capture").
			Category(errors.CategoryCapture).
			Context("tool", t.name).
			Context("output", truncate(out)).
			Build()
	}
	return nil
}

// Option customizes a Tool.
type Option func(*Tool)

// WithRunner replaces the process runner.
func WithRunner(r Runner) Option {
	return func(t *Tool) { t.run = r }
}

// WithBinary overrides the binary path.
func WithBinary(path string) Option {
	return func(t *Tool) {
		if path != "" {
			t.binary = path
		}
	}
}

// WithTimeout overrides DefaultTimeout.
func WithTimeout(d time.Duration) Option {
	return func(t *Tool) {
		if d > 0 {
			t.timeout = d
		}
	}
}

func newTool(name string, argv func(Request) []string, opts []Option) *Tool {
	t := &Tool{name: name, binary: name, timeout: DefaultTimeout, run: ExecRunner, argv: argv}
	for _, o := range opts {
		o(t)
	}
	return t
}

// NewFSWebcam returns a capturer running
// fswebcam -d <dev> -r WxH --no-banner -S <skip> [params...] <out>.
func NewFSWebcam(skipFrames int, opts ...Option) *Tool {
	if skipFrames < 0 {
		skipFrames = DefaultSkipFrames
	}
	return newTool("fswebcam", func(req Request) []string {
		args := []string{
			"-d", req.Device,
			"-r", Resolution(req.Width, req.Height),
			"--no-banner",
			"-S", strconv.Itoa(skipFrames),
		}
		args = append(args, req.Params...)
		return append(args, req.Output)
	}, opts)
}

// NewFFmpeg returns a capturer running
// ffmpeg -f v4l2 -video_size WxH -i <dev> -vframes 1 [params...] -y <out>.
func NewFFmpeg(opts ...Option) *Tool {
	return newTool("ffmpeg", func(req Request) []string {
		args := []string{
			"-hide_banner", "-loglevel", "error",
			"-f", "v4l2",
			"-video_size", Resolution(req.Width, req.Height),
			"-i", req.Device,
			"-vframes", "1",
		}
		args = append(args, req.Params...)
		return append(args, "-y", req.Output)
	}, opts)
}

// New returns the capturer for tool ("fswebcam" or "ffmpeg").
func New(tool string, skipFrames int, opts ...Option) (Capturer, error) {
	switch tool {
	case "fswebcam", "":
		return NewFSWebcam(skipFrames, opts...), nil
	case "ffmpeg":
		return NewFFmpeg(opts...), nil
	default:
		return nil, errors.Newf("unknown capture tool %q", tool).
			Component("capture").
			Category(errors.CategoryConfiguration).
			Build()
	}
}

// Resolution formats a WxH resolution string.
func Resolution(width, height int) string {
	return strconv.Itoa(width) + "x" + strconv.Itoa(height)
}

func truncate(out []byte) string {
	if len(out) <= maxOutputInError {
		return string(out)
	}
	return string(out[:maxOutputInError-3]) + "..."
}
