// Package prober decides whether a printer is worth photographing by asking
// its Prusa Link API for the current printer state.
package prober

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/icholy/digest"

	"github.com/printfarm/enclosure-cam/internal/enclosure"
	"github.com/printfarm/enclosure-cam/internal/errors"
	"github.com/printfarm/enclosure-cam/internal/httpclient"
	"github.com/printfarm/enclosure-cam/internal/logger"
)

// DefaultTimeout bounds one availability request.
const DefaultTimeout = 5 * time.Second

// maxBodySize caps how much of the status response is read.
const maxBodySize = 64 << 10

// onlineStates are the lower-cased Prusa Link state texts counted as online.
var onlineStates = map[string]struct{}{
	"operational": {},
	"printing":    {},
	"paused":      {},
	"ready":       {},
}

// Result is the outcome of one availability check.
type Result struct {
	Online     bool
	State      string // lower-cased state.text, empty when unknown
	StatusCode int
	Skipped    bool // no address configured
	Err        error
}

// printerStatus is the subset of /api/printer the check reads.
type printerStatus struct {
	State struct {
		Text string `json:"text"`
	} `json:"state"`
}

// Prober checks printer availability over Prusa Link.
type Prober struct {
	client  *httpclient.Client
	timeout time.Duration
	log     logger.Logger
}

// New creates a Prober. A non-positive timeout selects DefaultTimeout.
func New(client *httpclient.Client, timeout time.Duration, log logger.Logger) *Prober {
	if client == nil {
		client = httpclient.New(nil)
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if log == nil {
		log = logger.Global().Module("prober")
	}
	return &Prober{client: client, timeout: timeout, log: log}
}

// IsOnline reports whether target counts as online. It never fails: every
// problem is logged and reported as offline.
func (p *Prober) IsOnline(ctx context.Context, name string, target enclosure.ProbeTarget) bool {
	return p.Check(ctx, name, target).Online
}

// Check performs the availability request for the enclosure called name.
// An empty address means the check is skipped and the printer is assumed
// to be online.
func (p *Prober) Check(ctx context.Context, name string, target enclosure.ProbeTarget) Result {
	log := p.log.WithContext(ctx).With(logger.String("enclosure", name))

	if target.Address == "" {
		log.Debug("no Prusa Link address configured, assuming online")
		return Result{Online: true, Skipped: true}
	}

	res := p.check(ctx, target)
	switch {
	case res.Err != nil:
		log.Warn("printer status check failed",
			logger.String("address", target.Address),
			logger.Int("status_code", res.StatusCode),
			logger.Error(res.Err))
	case res.Online:
		log.Info("printer online", logger.String("state", res.State))
	default:
		log.Info("printer offline", logger.String("state", res.State))
	}
	return res
}

func (p *Prober) check(ctx context.Context, target enclosure.ProbeTarget) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			res = Result{Err: fmt.Errorf("panic during status check: %v", r)}
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	client := p.client
	if target.Username != "" && target.Password != "" {
		client = client.WithTransport(func(rt http.RoundTripper) http.RoundTripper {
			return &digest.Transport{
				Username:  target.Username,
				Password:  target.Password,
				Transport: rt,
			}
		})
	}

	url := StatusURL(target.Address)
	resp, err := client.Get(ctx, url)
	if err != nil {
		return Result{Err: errors.New(err).
			Component("prober").
			Category(errors.CategoryProbe).
			NetworkContext(url, p.timeout).
			Build()}
	}
	defer func() { _ = resp.Body.Close() }()

	res.StatusCode = resp.StatusCode
	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodySize))
		res.Err = errors.Newf("Prusa Link returned status %d", resp.StatusCode).
			Component("prober").
			Category(errors.CategoryProbe).
			NetworkContext(url, p.timeout).
			Context("status_code", resp.StatusCode).
			Build()
		return res
	}

	var status printerStatus
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBodySize)).Decode(&status); err != nil {
		res.Err = errors.New(fmt.Errorf("decode printer status: %w", err)).
			Component("prober").
			Category(errors.CategoryProbe).
			Context("operation", "decode_status").
			Build()
		return res
	}

	res.State = strings.ToLower(status.State.Text)
	_, res.Online = onlineStates[res.State]
	return res
}

// StatusURL returns the Prusa Link printer status URL for address.
func StatusURL(address string) string {
	return "http://" + address + "/api/printer"
}
