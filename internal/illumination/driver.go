package illumination

import (
	"fmt"
	"time"

	"github.com/printfarm/enclosure-cam/internal/errors"
)

// Output is a claimed digital output driving the enclosure light.
type Output interface {
	Set(on bool) error
	Release() error
}

// Button is a claimed digital input with falling-edge detection.
type Button interface {
	// WaitForPress blocks until a falling edge is seen or timeout elapses
	// and reports whether an edge arrived. It returns false promptly once
	// Release has been called.
	WaitForPress(timeout time.Duration) bool
	Release() error
}

// Driver claims GPIO resources by BCM pin number.
type Driver interface {
	Name() string
	Output(pin int) (Output, error)
	Button(pin int) (Button, error)
}

// ErrNoGPIO is returned by the none driver for every claim.
var ErrNoGPIO = errors.NewStd("gpio not available on this host")

// NoneDriver is used on hosts without GPIO. Every claim fails, so every
// controller ends up disabled.
type NoneDriver struct{}

func (NoneDriver) Name() string { return "none" }

func (NoneDriver) Output(pin int) (Output, error) {
	return nil, fmt.Errorf("claim output GPIO%d: %w", pin, ErrNoGPIO)
}

func (NoneDriver) Button(pin int) (Button, error) {
	return nil, fmt.Errorf("claim button GPIO%d: %w", pin, ErrNoGPIO)
}

// NewDriver returns the driver registered under name.
func NewDriver(name string) (Driver, error) {
	switch name {
	case "periph":
		return NewPeriphDriver()
	case "none", "":
		return NoneDriver{}, nil
	default:
		return nil, errors.Newf("unknown illumination driver %q", name).
			Component("illumination").
			Category(errors.CategoryConfiguration).
			Build()
	}
}
