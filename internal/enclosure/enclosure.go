// Package enclosure holds the runtime model of the printer enclosures the
// daemon manages: their cameras, Prusa Link endpoint and light controller.
package enclosure

import (
	"slices"

	"github.com/printfarm/enclosure-cam/internal/conf"
	"github.com/printfarm/enclosure-cam/internal/illumination"
	"github.com/printfarm/enclosure-cam/internal/logger"
)

// Camera is one Prusa Connect camera. Values are never modified after load.
type Camera struct {
	Name        string
	Fingerprint string
	Token       string
	Device      string
	Width       int
	Height      int
	Params      []string
	Overlay     bool
}

// ProbeTarget is the Prusa Link endpoint used for the availability check.
// An empty Address disables the check.
type ProbeTarget struct {
	Address  string
	Username string
	Password string
}

// Enclosure groups the cameras of one printer with its light.
type Enclosure struct {
	Name    string
	Probe   ProbeTarget
	Light   *illumination.Controller
	Cameras []Camera
}

// FromSettings builds the enclosures in configuration order. Light
// controllers are created but not initialized.
func FromSettings(settings *conf.Settings, driver illumination.Driver, log logger.Logger) []*Enclosure {
	var lightLog logger.Logger
	if log != nil {
		lightLog = log.Module("illumination")
	} else {
		lightLog = logger.Global().Module("illumination")
	}

	out := make([]*Enclosure, 0, len(settings.Enclosures))
	for _, es := range settings.Enclosures {
		enc := &Enclosure{
			Name: es.Name,
			Probe: ProbeTarget{
				Address:  es.Probe.Address,
				Username: es.Probe.Username,
				Password: es.Probe.Password,
			},
			Light: illumination.NewController(illumination.Config{
				Enclosure: es.Name,
				Enabled:   es.Light.Enabled,
				Pin:       es.Light.Pin,
				ButtonPin: es.Light.ButtonPin,
				Debounce:  settings.Illumination.Debounce,
				Settle:    settings.Illumination.Settle,
			}, driver, lightLog),
			Cameras: make([]Camera, 0, len(es.Cameras)),
		}
		for _, cs := range es.Cameras {
			enc.Cameras = append(enc.Cameras, Camera{
				Name:        cs.Name,
				Fingerprint: cs.Fingerprint,
				Token:       cs.Token,
				Device:      cs.Device,
				Width:       cs.Width,
				Height:      cs.Height,
				Params:      slices.Clone(cs.Params),
				Overlay:     cs.Overlay,
			})
		}
		out = append(out, enc)
	}
	return out
}

// Find returns the enclosure named name, or nil.
func Find(enclosures []*Enclosure, name string) *Enclosure {
	for _, e := range enclosures {
		if e.Name == name {
			return e
		}
	}
	return nil
}

// CameraCount returns the number of cameras across all enclosures.
func CameraCount(enclosures []*Enclosure) int {
	n := 0
	for _, e := range enclosures {
		n += len(e.Cameras)
	}
	return n
}
