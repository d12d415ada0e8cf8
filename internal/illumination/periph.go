package illumination

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"

	"github.com/printfarm/enclosure-cam/internal/errors"
)

var (
	hostInitOnce sync.Once
	hostInitErr  error
)

// PeriphDriver drives Raspberry Pi header pins through periph.io.
type PeriphDriver struct {
	lookup func(name string) gpio.PinIO
}

// NewPeriphDriver loads the periph.io host drivers once per process.
func NewPeriphDriver() (*PeriphDriver, error) {
	hostInitOnce.Do(func() {
		_, hostInitErr = host.Init()
	})
	if hostInitErr != nil {
		return nil, errors.New(fmt.Errorf("periph host init: %w", hostInitErr)).
			Component("illumination").
			Category(errors.CategoryGPIO).
			Build()
	}
	return &PeriphDriver{lookup: gpioreg.ByName}, nil
}

func (d *PeriphDriver) Name() string { return "periph" }

func (d *PeriphDriver) pin(pin int) (gpio.PinIO, error) {
	name := fmt.Sprintf("GPIO%d", pin)
	p := d.lookup(name)
	if p == nil {
		return nil, errors.Newf("pin %s not found", name).
			Component("illumination").
			Category(errors.CategoryGPIO).
			Context("pin", pin).
			Build()
	}
	return p, nil
}

// Output claims pin as an output and drives it low.
func (d *PeriphDriver) Output(pin int) (Output, error) {
	p, err := d.pin(pin)
	if err != nil {
		return nil, err
	}
	if err := p.Out(gpio.Low); err != nil {
		return nil, errors.New(fmt.Errorf("configure GPIO%d as output: %w", pin, err)).
			Component("illumination").
			Category(errors.CategoryGPIO).
			Build()
	}
	return &periphOutput{pin: p}, nil
}

// Button claims pin as a pulled-up input that reports falling edges.
func (d *PeriphDriver) Button(pin int) (Button, error) {
	p, err := d.pin(pin)
	if err != nil {
		return nil, err
	}
	if err := p.In(gpio.PullUp, gpio.FallingEdge); err != nil {
		return nil, errors.New(fmt.Errorf("configure GPIO%d as button input: %w", pin, err)).
			Component("illumination").
			Category(errors.CategoryGPIO).
			Build()
	}
	return &periphButton{pin: p}, nil
}

type periphOutput struct {
	pin gpio.PinIO
}

func (o *periphOutput) Set(on bool) error {
	level := gpio.Low
	if on {
		level = gpio.High
	}
	return o.pin.Out(level)
}

func (o *periphOutput) Release() error {
	if err := o.pin.Out(gpio.Low); err != nil {
		return err
	}
	return o.pin.Halt()
}

type periphButton struct {
	pin      gpio.PinIO
	released atomic.Bool
}

func (b *periphButton) WaitForPress(timeout time.Duration) bool {
	if b.released.Load() {
		return false
	}
	return b.pin.WaitForEdge(timeout) && !b.released.Load()
}

// Release halts edge detection, unblocking a pending WaitForEdge.
func (b *periphButton) Release() error {
	b.released.Store(true)
	if err := b.pin.Halt(); err != nil {
		return err
	}
	return b.pin.In(gpio.PullUp, gpio.NoEdge)
}
