package illumination

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/printfarm/enclosure-cam/internal/logger"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeOutput struct {
	mu       sync.Mutex
	levels   []bool
	released bool
	setErr   error
}

func (o *fakeOutput) Set(on bool) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.levels = append(o.levels, on)
	return o.setErr
}

func (o *fakeOutput) Release() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.released = true
	return nil
}

func (o *fakeOutput) history() []bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]bool(nil), o.levels...)
}

func (o *fakeOutput) last() bool {
	h := o.history()
	if len(h) == 0 {
		return false
	}
	return h[len(h)-1]
}

type fakeButton struct {
	presses  chan struct{}
	done     chan struct{}
	once     sync.Once
	released bool
}

func newFakeButton() *fakeButton {
	return &fakeButton{presses: make(chan struct{}), done: make(chan struct{})}
}

func (b *fakeButton) WaitForPress(timeout time.Duration) bool {
	select {
	case <-b.presses:
		return true
	case <-b.done:
		return false
	case <-time.After(timeout):
		return false
	}
}

func (b *fakeButton) Release() error {
	b.once.Do(func() {
		b.released = true
		close(b.done)
	})
	return nil
}

type fakeDriver struct {
	out       *fakeOutput
	btn       *fakeButton
	outErr    error
	btnErr    error
	outClaims int
}

func newFakeDriver() *fakeDriver {
	return &fakeDriver{out: &fakeOutput{}, btn: newFakeButton()}
}

func (d *fakeDriver) Name() string { return "fake" }

func (d *fakeDriver) Output(int) (Output, error) {
	d.outClaims++
	if d.outErr != nil {
		return nil, d.outErr
	}
	return d.out, nil
}

func (d *fakeDriver) Button(int) (Button, error) {
	if d.btnErr != nil {
		return nil, d.btnErr
	}
	return d.btn, nil
}

func pin(n int) *int { return &n }

// fakeClock is advanced by hand so debounce tests do not sleep.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newTestController(t *testing.T, d *fakeDriver) (*Controller, *fakeClock) {
	t.Helper()
	c := NewController(Config{
		Enclosure: "MK4",
		Enabled:   true,
		Pin:       pin(17),
		ButtonPin: pin(27),
		Debounce:  DefaultDebounce,
	}, d, logger.NewDiscard())
	clock := &fakeClock{t: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	c.now = clock.Now
	c.Initialize(context.Background())
	t.Cleanup(func() { _ = c.Close() })
	return c, clock
}

func TestInitializeDrivesLightOff(t *testing.T) {
	d := newFakeDriver()
	c, _ := newTestController(t, d)

	assert.True(t, c.Enabled())
	assert.Equal(t, []bool{false}, d.out.history())
	assert.Equal(t, Off, c.State())
}

func TestInitializeNotConfigured(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{"disabled", Config{Enclosure: "a", Enabled: false, Pin: pin(1), ButtonPin: pin(2)}},
		{"no output pin", Config{Enclosure: "a", Enabled: true, ButtonPin: pin(2)}},
		{"no button pin", Config{Enclosure: "a", Enabled: true, Pin: pin(1)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := newFakeDriver()
			c := NewController(tt.cfg, d, logger.NewDiscard())
			c.Initialize(context.Background())
			defer func() { _ = c.Close() }()

			assert.False(t, c.Enabled())
			assert.Zero(t, d.outClaims)

			c.PrepareForCapture(context.Background())
			c.OnButtonEdge()
			c.RestoreAfterCapture()
			assert.Empty(t, d.out.history())
			assert.Equal(t, Off, c.State())
		})
	}
}

func TestInitializeClaimFailureDisables(t *testing.T) {
	t.Run("output", func(t *testing.T) {
		d := newFakeDriver()
		d.outErr = errors.New("busy")
		c, _ := newTestController(t, d)
		assert.False(t, c.Enabled())
	})

	t.Run("button releases output", func(t *testing.T) {
		d := newFakeDriver()
		d.btnErr = errors.New("busy")
		c, _ := newTestController(t, d)
		assert.False(t, c.Enabled())
		assert.True(t, d.out.released)
	})

	t.Run("none driver", func(t *testing.T) {
		c := NewController(Config{Enclosure: "a", Enabled: true, Pin: pin(1), ButtonPin: pin(2)}, NoneDriver{}, logger.NewDiscard())
		c.Initialize(context.Background())
		defer func() { _ = c.Close() }()
		assert.False(t, c.Enabled())
		c.PrepareForCapture(context.Background())
		assert.Equal(t, Off, c.State())
	})
}

func TestCaptureBracketWithoutOverride(t *testing.T) {
	d := newFakeDriver()
	c, _ := newTestController(t, d)

	c.PrepareForCapture(context.Background())
	assert.True(t, d.out.last())
	assert.Equal(t, OnForCapture, c.State())

	c.RestoreAfterCapture()
	assert.False(t, d.out.last())
	assert.Equal(t, Off, c.State())
	assert.Equal(t, []bool{false, true, false}, d.out.history())
}

func TestOverrideSuppressesCaptureBracket(t *testing.T) {
	d := newFakeDriver()
	c, _ := newTestController(t, d)

	c.OnButtonEdge()
	require.True(t, c.ManualOverride())
	assert.Equal(t, OnManual, c.State())
	before := d.out.history()

	c.PrepareForCapture(context.Background())
	c.RestoreAfterCapture()

	assert.Equal(t, before, d.out.history(), "override must leave the light alone")
	assert.True(t, d.out.last())
	assert.Equal(t, OnManual, c.State())
}

func TestButtonPressDuringCaptureKeepsLightOn(t *testing.T) {
	d := newFakeDriver()
	c, _ := newTestController(t, d)

	c.PrepareForCapture(context.Background())
	c.OnButtonEdge()
	c.RestoreAfterCapture()

	assert.True(t, d.out.last())
	assert.Equal(t, OnManual, c.State())
}

func TestEdgePairsToggleOverride(t *testing.T) {
	d := newFakeDriver()
	c, clock := newTestController(t, d)

	for i := 1; i <= 6; i++ {
		c.OnButtonEdge()
		clock.Advance(350 * time.Millisecond)
		assert.Equal(t, i%2 == 1, c.ManualOverride(), "after %d edges", i)
		assert.Equal(t, i%2 == 1, d.out.last())
	}
}

func TestDebounceDropsCloseEdges(t *testing.T) {
	d := newFakeDriver()
	c, clock := newTestController(t, d)

	var mu sync.Mutex
	var accepted, rejected int
	c.OnEdge(func(_ string, ok bool) {
		mu.Lock()
		defer mu.Unlock()
		if ok {
			accepted++
		} else {
			rejected++
		}
	})

	c.OnButtonEdge()
	clock.Advance(50 * time.Millisecond)
	c.OnButtonEdge()

	assert.True(t, c.ManualOverride(), "second edge within 300ms must be ignored")
	mu.Lock()
	assert.Equal(t, 1, accepted)
	assert.Equal(t, 1, rejected)
	mu.Unlock()

	clock.Advance(400 * time.Millisecond)
	c.OnButtonEdge()
	assert.False(t, c.ManualOverride())
}

func TestDebounceHasFloor(t *testing.T) {
	d := newFakeDriver()
	c := NewController(Config{
		Enclosure: "MK4", Enabled: true, Pin: pin(17), ButtonPin: pin(27),
		Debounce: 0,
	}, d, logger.NewDiscard())
	clock := &fakeClock{t: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	c.now = clock.Now
	c.Initialize(context.Background())
	defer func() { _ = c.Close() }()

	c.OnButtonEdge()
	clock.Advance(50 * time.Millisecond)
	c.OnButtonEdge()
	assert.True(t, c.ManualOverride(), "zero debounce still ignores a release bounce")

	clock.Advance(DefaultDebounce)
	c.OnButtonEdge()
	assert.False(t, c.ManualOverride())
}

func TestOnChangeObserver(t *testing.T) {
	d := newFakeDriver()
	c, clock := newTestController(t, d)

	var mu sync.Mutex
	var states []State
	c.OnChange(func(enclosure string, s State) {
		assert.Equal(t, "MK4", enclosure)
		mu.Lock()
		states = append(states, s)
		mu.Unlock()
	})

	c.PrepareForCapture(context.Background())
	c.RestoreAfterCapture()
	c.OnButtonEdge()
	clock.Advance(time.Second)
	c.OnButtonEdge()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []State{OnForCapture, Off, OnManual, Off}, states)
}

func TestOnChangeFollowsLatestState(t *testing.T) {
	d := newFakeDriver()
	c, clock := newTestController(t, d)

	var mu sync.Mutex
	var last State
	c.OnChange(func(_ string, s State) {
		mu.Lock()
		last = s
		mu.Unlock()
	})

	var wg sync.WaitGroup
	for range 4 {
		wg.Go(func() {
			for range 50 {
				clock.Advance(time.Second)
				c.OnButtonEdge()
			}
		})
		wg.Go(func() {
			for range 50 {
				c.PrepareForCapture(context.Background())
				c.RestoreAfterCapture()
			}
		})
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, c.State(), last)
}

func TestSettleHonoursContext(t *testing.T) {
	d := newFakeDriver()
	c := NewController(Config{
		Enclosure: "MK4", Enabled: true, Pin: pin(17), ButtonPin: pin(27),
		Settle: time.Hour,
	}, d, logger.NewDiscard())
	c.Initialize(context.Background())
	defer func() { _ = c.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	c.PrepareForCapture(ctx)
	assert.Less(t, time.Since(start), 5*time.Second)
	assert.Equal(t, OnForCapture, c.State())
	c.RestoreAfterCapture()
}

func TestWatcherDeliversPresses(t *testing.T) {
	d := newFakeDriver()
	c, _ := newTestController(t, d)

	d.btn.presses <- struct{}{}
	assert.Eventually(t, c.ManualOverride, time.Second, 5*time.Millisecond)
}

func TestCloseReleasesPins(t *testing.T) {
	d := newFakeDriver()
	c, _ := newTestController(t, d)

	require.NoError(t, c.Close())
	require.NoError(t, c.Close())
	assert.True(t, d.btn.released)
	assert.True(t, d.out.released)
	assert.False(t, c.Enabled())
}

func TestInitializeOnlyOnce(t *testing.T) {
	d := newFakeDriver()
	c, _ := newTestController(t, d)

	c.Initialize(context.Background())
	assert.Equal(t, 1, d.outClaims)
	assert.True(t, c.Enabled())

	require.NoError(t, c.Close())
	assert.True(t, d.btn.released)
}

func TestNewDriver(t *testing.T) {
	d, err := NewDriver("none")
	require.NoError(t, err)
	assert.Equal(t, "none", d.Name())

	_, err = d.Output(4)
	assert.ErrorIs(t, err, ErrNoGPIO)

	_, err = NewDriver("sysfs")
	assert.Error(t, err)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "off", Off.String())
	assert.Equal(t, "on_for_capture", OnForCapture.String())
	assert.Equal(t, "on_manual", OnManual.String())
}
