package conf

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/printfarm/enclosure-cam/internal/errors"
)

// ValidationError collects every problem found in a configuration.
type ValidationError struct {
	Errors []string
}

// Error returns a string representation of the validation errors
func (ve ValidationError) Error() string {
	return fmt.Sprintf("validation errors: %s", strings.Join(ve.Errors, "; "))
}

// ValidateSettings validates the entire Settings struct
func ValidateSettings(settings *Settings) error {
	ve := ValidationError{}

	if settings.Main.Interval < time.Second {
		ve.Errors = append(ve.Errors, fmt.Sprintf("main.interval must be at least 1s, got %s", settings.Main.Interval))
	}

	ve.Errors = append(ve.Errors, validateConnectSettings(&settings.Connect)...)
	ve.Errors = append(ve.Errors, validateCaptureSettings(&settings.Capture)...)
	ve.Errors = append(ve.Errors, validateIlluminationSettings(&settings.Illumination)...)
	ve.Errors = append(ve.Errors, validateSensorSettings(&settings.Sensor)...)

	if q := settings.Overlay.JPEGQuality; q < 1 || q > 100 {
		ve.Errors = append(ve.Errors, fmt.Sprintf("overlay.jpegquality must be between 1 and 100, got %d", q))
	}

	if settings.MQTT.Enabled && settings.MQTT.Broker == "" {
		ve.Errors = append(ve.Errors, "mqtt.broker is required when mqtt is enabled")
	}

	if settings.WebServer.Enabled && settings.WebServer.Listen == "" {
		ve.Errors = append(ve.Errors, "webserver.listen is required when the web server is enabled")
	}

	ve.Errors = append(ve.Errors, validateEnclosures(settings.Enclosures)...)

	if len(ve.Errors) > 0 {
		return errors.New(ve).
			Component("configuration").
			Category(errors.CategoryValidation).
			Context("error_count", len(ve.Errors)).
			Build()
	}

	return nil
}

func validateConnectSettings(c *ConnectSettings) []string {
	var errs []string
	for key, raw := range map[string]string{"connect.infourl": c.InfoURL, "connect.snapshoturl": c.SnapshotURL} {
		u, err := url.Parse(raw)
		if err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Sprintf("%s must be an absolute URL, got %q", key, raw))
		}
	}
	if c.Timeout <= 0 {
		errs = append(errs, "connect.timeout must be positive")
	}
	if c.RegisterTimeout <= 0 {
		errs = append(errs, "connect.registertimeout must be positive")
	}
	return errs
}

func validateCaptureSettings(c *CaptureSettings) []string {
	var errs []string
	switch c.Tool {
	case "fswebcam", "ffmpeg":
	default:
		errs = append(errs, fmt.Sprintf("capture.tool must be fswebcam or ffmpeg, got %q", c.Tool))
	}
	if c.Timeout <= 0 {
		errs = append(errs, "capture.timeout must be positive")
	}
	if c.SkipFrames < 0 {
		errs = append(errs, "capture.skipframes cannot be negative")
	}
	return errs
}

func validateIlluminationSettings(s *IlluminationSettings) []string {
	var errs []string
	switch s.Driver {
	case "periph", "none":
	default:
		errs = append(errs, fmt.Sprintf("illumination.driver must be periph or none, got %q", s.Driver))
	}
	if s.Debounce < DefaultDebounce {
		errs = append(errs, fmt.Sprintf("illumination.debounce must be at least %s, got %s", DefaultDebounce, s.Debounce))
	}
	if s.Settle < 0 {
		errs = append(errs, "illumination.settle cannot be negative")
	}
	return errs
}

func validateSensorSettings(s *SensorSettings) []string {
	var errs []string
	switch s.Source {
	case "w1":
		if s.Pattern == "" {
			errs = append(errs, "sensor.pattern is required for the w1 source")
		}
	case "host", "none":
	default:
		errs = append(errs, fmt.Sprintf("sensor.source must be w1, host or none, got %q", s.Source))
	}
	if s.CacheTTL < 0 {
		errs = append(errs, "sensor.cachettl cannot be negative")
	}
	return errs
}

func validateEnclosures(enclosures []EnclosureSettings) []string {
	var errs []string

	if len(enclosures) == 0 {
		errs = append(errs, "at least one enclosure must be configured")
	}

	names := make(map[string]bool, len(enclosures))
	fingerprints := make(map[string]string)

	for i := range enclosures {
		enc := &enclosures[i]
		prefix := fmt.Sprintf("enclosures[%d]", i)

		if enc.Name == "" {
			errs = append(errs, prefix+".name is required")
		} else if names[enc.Name] {
			errs = append(errs, fmt.Sprintf("%s.name %q is used by another enclosure", prefix, enc.Name))
		}
		names[enc.Name] = true

		if enc.Light.Enabled {
			if enc.Light.Pin != nil && *enc.Light.Pin < 0 {
				errs = append(errs, fmt.Sprintf("%s.light.pin cannot be negative", prefix))
			}
			if enc.Light.ButtonPin != nil && *enc.Light.ButtonPin < 0 {
				errs = append(errs, fmt.Sprintf("%s.light.buttonpin cannot be negative", prefix))
			}
		}

		if len(enc.Cameras) == 0 {
			errs = append(errs, prefix+" has no cameras")
		}

		for j := range enc.Cameras {
			cam := &enc.Cameras[j]
			cp := fmt.Sprintf("%s.cameras[%d]", prefix, j)

			if cam.Fingerprint == "" {
				errs = append(errs, cp+".fingerprint is required")
			} else if owner, dup := fingerprints[cam.Fingerprint]; dup {
				errs = append(errs, fmt.Sprintf("%s.fingerprint is already used by %s", cp, owner))
			} else {
				fingerprints[cam.Fingerprint] = cp
			}
			if strings.ContainsAny(cam.Fingerprint, `/\`) {
				errs = append(errs, cp+".fingerprint cannot contain path separators")
			}
			if cam.Token == "" {
				errs = append(errs, cp+".token is required")
			}
			if cam.Device == "" {
				errs = append(errs, cp+".device is required")
			}
			if cam.Width <= 0 || cam.Height <= 0 {
				errs = append(errs, fmt.Sprintf("%s resolution must be positive, got %dx%d", cp, cam.Width, cam.Height))
			}
		}
	}

	return errs
}
