package conf

import (
	"slices"

	"gopkg.in/yaml.v3"
)

const redactedValue = "********"

func mask(s string) string {
	if s == "" {
		return ""
	}
	return redactedValue
}

// Redacted returns a deep copy of the settings with credentials masked.
func (s *Settings) Redacted() *Settings {
	out := *s
	out.MQTT.Password = mask(s.MQTT.Password)
	out.Sentry.DSN = mask(s.Sentry.DSN)

	out.Enclosures = slices.Clone(s.Enclosures)
	for i := range out.Enclosures {
		enc := &out.Enclosures[i]
		enc.Probe.Password = mask(enc.Probe.Password)
		enc.Cameras = slices.Clone(enc.Cameras)
		for j := range enc.Cameras {
			enc.Cameras[j].Token = mask(enc.Cameras[j].Token)
		}
	}

	return &out
}

// RedactedYAML renders the effective configuration with credentials masked.
func (s *Settings) RedactedYAML() ([]byte, error) {
	return yaml.Marshal(s.Redacted())
}
