// Package connect is a client for the Prusa Connect camera API.
package connect

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/printfarm/enclosure-cam/internal/errors"
	"github.com/printfarm/enclosure-cam/internal/httpclient"
	"github.com/printfarm/enclosure-cam/internal/logger"
)

const (
	DefaultInfoURL     = "https://connect.prusa3d.com/c/info"
	DefaultSnapshotURL = "https://connect.prusa3d.com/c/snapshot"

	DefaultUploadTimeout   = 15 * time.Second
	DefaultRegisterTimeout = 10 * time.Second

	// Driver is reported for every camera at registration.
	Driver = "V4L2"

	maxErrorBody = 2048
)

// Camera identifies a Prusa Connect camera and what it reports about itself.
type Camera struct {
	Name        string
	Fingerprint string
	Token       string
	Width       int
	Height      int
}

// RejectedError is returned when Prusa Connect answers with an unexpected
// status code. Body holds the start of the response for diagnostics.
type RejectedError struct {
	Operation  string
	StatusCode int
	Body       string
}

func (e *RejectedError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("prusa connect rejected %s with status %d", e.Operation, e.StatusCode)
	}
	return fmt.Sprintf("prusa connect rejected %s with status %d: %s", e.Operation, e.StatusCode, e.Body)
}

// Config holds the endpoints and timeouts.
type Config struct {
	InfoURL         string
	SnapshotURL     string
	UploadTimeout   time.Duration
	RegisterTimeout time.Duration
}

// Client talks to Prusa Connect.
type Client struct {
	http *httpclient.Client
	cfg  Config
	log  logger.Logger
}

// New creates a Client, filling unset Config fields with defaults.
func New(hc *httpclient.Client, cfg Config, log logger.Logger) *Client {
	if hc == nil {
		hc = httpclient.New(nil)
	}
	if cfg.InfoURL == "" {
		cfg.InfoURL = DefaultInfoURL
	}
	if cfg.SnapshotURL == "" {
		cfg.SnapshotURL = DefaultSnapshotURL
	}
	if cfg.UploadTimeout <= 0 {
		cfg.UploadTimeout = DefaultUploadTimeout
	}
	if cfg.RegisterTimeout <= 0 {
		cfg.RegisterTimeout = DefaultRegisterTimeout
	}
	if log == nil {
		log = logger.Global().Module("connect")
	}
	return &Client{http: hc, cfg: cfg, log: log}
}

type resolution struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

type cameraConfig struct {
	Name       string     `json:"name"`
	Driver     string     `json:"driver"`
	Resolution resolution `json:"resolution"`
}

type infoPayload struct {
	Config cameraConfig `json:"config"`
}

func authHeader(cam Camera, contentType string) http.Header {
	h := make(http.Header)
	h.Set("fingerprint", cam.Fingerprint)
	h.Set("token", cam.Token)
	h.Set("Content-Type", contentType)
	return h
}

// RegisterCamera reports the camera's name, driver and resolution.
func (c *Client) RegisterCamera(ctx context.Context, cam Camera) error {
	body, err := json.Marshal(infoPayload{Config: cameraConfig{
		Name:       cam.Name,
		Driver:     Driver,
		Resolution: resolution{Width: cam.Width, Height: cam.Height},
	}})
	if err != nil {
		return errors.New(err).Component("connect").Category(errors.CategoryRegistration).Build()
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.RegisterTimeout)
	defer cancel()

	status, respBody, err := c.put(ctx, c.cfg.InfoURL, authHeader(cam, "application/json"), body)
	if err != nil {
		return errors.New(fmt.Errorf("register camera %s: %w", cam.Name, err)).
			Component("connect").
			Category(errors.CategoryRegistration).
			NetworkContext(c.cfg.InfoURL, c.cfg.RegisterTimeout).
			Build()
	}
	if status < 200 || status > 299 {
		return errors.New(&RejectedError{Operation: "camera registration", StatusCode: status, Body: respBody}).
			Component("connect").
			Category(errors.CategoryRegistration).
			Context("status_code", status).
			Context("camera", cam.Name).
			Build()
	}

	c.log.Debug("camera registered", logger.String("camera", cam.Name), logger.Int("status_code", status))
	return nil
}

// UploadSnapshot sends a JPEG frame. Only 200 and 204 count as success.
func (c *Client) UploadSnapshot(ctx context.Context, cam Camera, jpeg []byte) error {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.UploadTimeout)
	defer cancel()

	start := time.Now()
	status, respBody, err := c.put(ctx, c.cfg.SnapshotURL, authHeader(cam, "image/jpg"), jpeg)
	if err != nil {
		return errors.New(fmt.Errorf("upload snapshot for %s: %w", cam.Name, err)).
			Component("connect").
			Category(errors.CategoryUpload).
			NetworkContext(c.cfg.SnapshotURL, c.cfg.UploadTimeout).
			Timing("upload_snapshot", time.Since(start)).
			Build()
	}

	if status != http.StatusOK && status != http.StatusNoContent {
		c.log.Warn("server rejected snapshot",
			logger.String("camera", cam.Name),
			logger.Int("status_code", status),
			logger.String("body", respBody))
		return errors.New(&RejectedError{Operation: "snapshot upload", StatusCode: status, Body: respBody}).
			Component("connect").
			Category(errors.CategoryUpload).
			Context("status_code", status).
			Context("camera", cam.Name).
			Build()
	}

	c.log.Debug("snapshot uploaded",
		logger.String("camera", cam.Name),
		logger.Int("bytes", len(jpeg)),
		logger.Duration("duration", time.Since(start)))
	return nil
}

// put returns the status code and, for non-2xx answers, the start of the body.
func (c *Client) put(ctx context.Context, url string, header http.Header, body []byte) (int, string, error) {
	resp, err := c.http.Put(ctx, url, header, body)
	if err != nil {
		return 0, "", err
	}
	defer func() { _ = resp.Body.Close() }()

	// Snapshot upload rejects any other 2xx, so only these drop the body.
	if resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusNoContent {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBody))
		return resp.StatusCode, "", nil
	}
	data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return resp.StatusCode, strings.TrimSpace(string(data)), nil
}

// StatusCode extracts the HTTP status of a rejection, or 0.
func StatusCode(err error) int {
	var rej *RejectedError
	if errors.As(err, &rej) {
		return rej.StatusCode
	}
	return 0
}
