// Package illumination controls the light of a printer enclosure. A light is
// switched on for the duration of a capture unless the user has taken manual
// control with the enclosure button, in which case the capture cycle leaves
// the light alone until the button is pressed again.
package illumination

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/printfarm/enclosure-cam/internal/errors"
	"github.com/printfarm/enclosure-cam/internal/logger"
)

// DefaultDebounce is the minimum spacing between accepted button edges.
const DefaultDebounce = 300 * time.Millisecond

// edgePollInterval bounds how long the watcher blocks before rechecking ctx.
const edgePollInterval = 500 * time.Millisecond

// State is the observable light state of an enclosure.
type State int

const (
	Off State = iota
	OnForCapture
	OnManual
)

func (s State) String() string {
	switch s {
	case OnForCapture:
		return "on_for_capture"
	case OnManual:
		return "on_manual"
	default:
		return "off"
	}
}

// Config describes the light of one enclosure.
type Config struct {
	Enclosure string
	Enabled   bool
	Pin       *int
	ButtonPin *int
	Debounce  time.Duration
	Settle    time.Duration
}

// Controller owns the light output, the button input and the manual
// override flag of a single enclosure. All state lives behind mu.
type Controller struct {
	cfg    Config
	driver Driver
	log    logger.Logger

	mu             sync.Mutex
	initialized    bool
	enabled        bool
	manualOverride bool
	capturing      bool
	output         Output
	button         Button
	cancel         context.CancelFunc

	limiter *rate.Limiter
	now     func() time.Time

	obsMu    sync.RWMutex
	onChange []func(enclosure string, state State)
	onEdge   []func(enclosure string, accepted bool)

	// notifyMu is taken before mu is released so changes are delivered in
	// the order they happened. lastState is guarded by notifyMu.
	notifyMu  sync.Mutex
	lastState State

	wg sync.WaitGroup
}

// NewController creates a controller. It does not touch hardware until
// Initialize is called.
func NewController(cfg Config, driver Driver, log logger.Logger) *Controller {
	if driver == nil {
		driver = NoneDriver{}
	}
	if log == nil {
		log = logger.Global().Module("illumination")
	}
	if cfg.Debounce < DefaultDebounce {
		cfg.Debounce = DefaultDebounce
	}

	return &Controller{
		cfg:     cfg,
		driver:  driver,
		log:     log.With(logger.String("enclosure", cfg.Enclosure)),
		limiter: rate.NewLimiter(rate.Every(cfg.Debounce), 1),
		now:     time.Now,
	}
}

// Enclosure returns the name of the enclosure this controller belongs to.
func (c *Controller) Enclosure() string {
	return c.cfg.Enclosure
}

// Enabled reports whether the light is under control. It is false when light
// control is not configured or the pins could not be claimed.
func (c *Controller) Enabled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.enabled
}

// ManualOverride reports whether the user has taken manual control.
func (c *Controller) ManualOverride() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.manualOverride
}

// OnChange registers fn to be called after every light state change.
// Callbacks run synchronously and must not call back into the controller.
func (c *Controller) OnChange(fn func(enclosure string, state State)) {
	c.obsMu.Lock()
	c.onChange = append(c.onChange, fn)
	c.obsMu.Unlock()
}

// OnEdge registers fn to be called for every button edge with whether it
// passed the debounce filter.
func (c *Controller) OnEdge(fn func(enclosure string, accepted bool)) {
	c.obsMu.Lock()
	c.onEdge = append(c.onEdge, fn)
	c.obsMu.Unlock()
}

// Initialize claims the output and button pins. When light control is not
// configured it does nothing. A claim failure is logged and disables the
// controller for the rest of the process lifetime. Only the first call has
// any effect.
func (c *Controller) Initialize(ctx context.Context) {
	c.mu.Lock()
	if c.initialized {
		c.mu.Unlock()
		return
	}
	c.initialized = true
	c.mu.Unlock()

	if !c.cfg.Enabled || c.cfg.Pin == nil || c.cfg.ButtonPin == nil {
		c.log.Debug("light control not configured")
		return
	}

	out, err := c.driver.Output(*c.cfg.Pin)
	if err != nil {
		c.log.Error("failed to claim light output, light control disabled",
			logger.Int("pin", *c.cfg.Pin),
			logger.String("driver", c.driver.Name()),
			logger.Error(err))
		return
	}

	btn, err := c.driver.Button(*c.cfg.ButtonPin)
	if err != nil {
		c.log.Error("failed to claim button input, light control disabled",
			logger.Int("button_pin", *c.cfg.ButtonPin),
			logger.String("driver", c.driver.Name()),
			logger.Error(err))
		if rerr := out.Release(); rerr != nil {
			c.log.Warn("failed to release light output", logger.Error(rerr))
		}
		return
	}

	if err := out.Set(false); err != nil {
		c.log.Error("failed to switch light off, light control disabled", logger.Error(err))
		_ = btn.Release()
		_ = out.Release()
		return
	}

	watchCtx, cancel := context.WithCancel(ctx)

	c.mu.Lock()
	c.output = out
	c.button = btn
	c.enabled = true
	c.cancel = cancel
	c.wg.Add(1)
	c.mu.Unlock()

	go c.watch(watchCtx, btn)

	c.log.Info("light control initialized",
		logger.Int("pin", *c.cfg.Pin),
		logger.Int("button_pin", *c.cfg.ButtonPin),
		logger.String("driver", c.driver.Name()))
}

func (c *Controller) watch(ctx context.Context, btn Button) {
	defer c.wg.Done()
	for {
		if ctx.Err() != nil {
			return
		}
		if btn.WaitForPress(edgePollInterval) {
			if ctx.Err() != nil {
				return
			}
			c.OnButtonEdge()
		}
	}
}

// OnButtonEdge handles one falling edge of the button. Edges arriving faster
// than the debounce interval are dropped. An accepted edge flips the manual
// override and drives the light to match it.
func (c *Controller) OnButtonEdge() {
	c.mu.Lock()
	if !c.enabled {
		c.mu.Unlock()
		return
	}

	if !c.limiter.AllowN(c.now(), 1) {
		c.mu.Unlock()
		c.log.Trace("button edge ignored by debounce")
		c.notifyEdge(false)
		return
	}

	c.manualOverride = !c.manualOverride
	override := c.manualOverride
	if err := c.output.Set(override); err != nil {
		c.log.Error("failed to drive light after button press", logger.Error(err))
	}
	c.log.Info("manual override toggled", logger.Bool("manual_override", override))
	c.notifyEdge(true)
	c.publishAndUnlock()
}

// PrepareForCapture switches the light on and waits for the exposure to
// settle. It does nothing when light control is disabled or the user has
// the light under manual control. The settle wait ends early if ctx is done.
func (c *Controller) PrepareForCapture(ctx context.Context) {
	c.mu.Lock()
	if !c.enabled || c.manualOverride {
		c.mu.Unlock()
		return
	}
	c.capturing = true
	if err := c.output.Set(true); err != nil {
		c.log.Error("failed to switch light on for capture", logger.Error(err))
	}
	c.publishAndUnlock()

	if c.cfg.Settle <= 0 {
		return
	}
	timer := time.NewTimer(c.cfg.Settle)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

// RestoreAfterCapture switches the light off again unless the user took
// manual control while the capture was running.
func (c *Controller) RestoreAfterCapture() {
	c.mu.Lock()
	c.capturing = false
	if c.enabled && !c.manualOverride {
		if err := c.output.Set(false); err != nil {
			c.log.Error("failed to switch light off after capture", logger.Error(err))
		}
	}
	c.publishAndUnlock()
}

// State returns the current light state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stateLocked()
}

func (c *Controller) stateLocked() State {
	switch {
	case !c.enabled:
		return Off
	case c.manualOverride:
		return OnManual
	case c.capturing:
		return OnForCapture
	default:
		return Off
	}
}

// publishAndUnlock must be called with mu held. It releases mu and fires
// OnChange callbacks when the state differs from the last one reported.
// notifyMu is acquired before mu is released, so two racing changes are
// reported in the order they were made.
func (c *Controller) publishAndUnlock() {
	state := c.stateLocked()
	c.notifyMu.Lock()
	c.mu.Unlock()
	defer c.notifyMu.Unlock()

	if state == c.lastState {
		return
	}
	c.lastState = state

	c.obsMu.RLock()
	callbacks := slices.Clone(c.onChange)
	c.obsMu.RUnlock()

	for _, fn := range callbacks {
		fn(c.cfg.Enclosure, state)
	}
}

func (c *Controller) notifyEdge(accepted bool) {
	c.obsMu.RLock()
	callbacks := slices.Clone(c.onEdge)
	c.obsMu.RUnlock()

	for _, fn := range callbacks {
		fn(c.cfg.Enclosure, accepted)
	}
}

// Close stops the button watcher, switches the light off and releases the
// pins. It is safe to call more than once.
func (c *Controller) Close() error {
	c.mu.Lock()
	out, btn, cancel := c.output, c.button, c.cancel
	c.output, c.button, c.cancel = nil, nil, nil
	c.enabled = false
	c.initialized = true
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	var errs []error
	if btn != nil {
		if err := btn.Release(); err != nil {
			errs = append(errs, fmt.Errorf("release button: %w", err))
		}
	}
	c.wg.Wait()
	if out != nil {
		if err := out.Release(); err != nil {
			errs = append(errs, fmt.Errorf("release output: %w", err))
		}
	}

	if len(errs) > 0 {
		return errors.New(errors.Join(errs...)).
			Component("illumination").
			Category(errors.CategoryGPIO).
			Context("enclosure", c.cfg.Enclosure).
			Build()
	}
	return nil
}
