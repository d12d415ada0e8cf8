package conf

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/printfarm/enclosure-cam/internal/errors"
)

const validYAML = `
main:
  interval: 30s
  tempdir: /var/tmp
enclosures:
  - name: MK4
    probe:
      address: 192.168.1.40
      username: maker
      password: linkpass
    light:
      enabled: true
      pin: 17
      buttonpin: 27
    cameras:
      - name: Front
        fingerprint: fp-front-0000001
        token: tok-front
        device: /dev/video0
        width: 1280
        height: 720
        overlay: true
      - name: Top
        fingerprint: fp-top-000000002
        token: tok-top
        device: /dev/video2
        width: 640
        height: 480
        params: ["-s", "brightness=60%"]
`

const legacyJSON = `{
  "interval_seconds": 45,
  "printers": [
    {
      "name": "Core One",
      "prusa_link_ip": "10.0.0.7",
      "prusa_link_user": "maker",
      "prusa_link_password": "secret",
      "led_control_enabled": true,
      "led_pin": 22,
      "button_pin": 23,
      "cameras": [
        {"fingerprint": "legacy-fp-00001", "token": "legacy-token", "name": "Bed",
         "path": "/dev/video0", "width": 1920, "height": 1080, "overlay_temp": true}
      ]
    },
    {
      "name": "Mini",
      "cameras": [
        {"fingerprint": "legacy-fp-00002", "token": "t2", "name": "Side",
         "path": "/dev/video1", "width": 640, "height": 480, "overlay_temp": false}
      ]
    }
  ]
}`

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadYAML(t *testing.T) {
	path := writeConfig(t, "config.yaml", validYAML)

	s, err := LoadWith(viper.New(), path)
	require.NoError(t, err)

	assert.Equal(t, 30*time.Second, s.Main.Interval)
	assert.Equal(t, "/var/tmp", s.Main.TempDir)
	assert.Equal(t, "https://connect.prusa3d.com/c/snapshot", s.Connect.SnapshotURL)
	assert.Equal(t, DefaultProbeTimeout, s.Probe.Timeout)
	assert.Equal(t, DefaultDebounce, s.Illumination.Debounce)
	assert.Equal(t, "fswebcam", s.Capture.Tool)
	assert.Equal(t, 90, s.Overlay.JPEGQuality)

	require.Len(t, s.Enclosures, 1)
	enc := s.Enclosures[0]
	assert.Equal(t, "192.168.1.40", enc.Probe.Address)
	require.NotNil(t, enc.Light.Pin)
	assert.Equal(t, 17, *enc.Light.Pin)
	require.Len(t, enc.Cameras, 2)
	assert.True(t, enc.Cameras[0].Overlay)
	assert.Equal(t, []string{"-s", "brightness=60%"}, enc.Cameras[1].Params)
}

func TestLoadLegacyJSONLayout(t *testing.T) {
	path := writeConfig(t, "config.json", legacyJSON)

	s, err := LoadWith(viper.New(), path)
	require.NoError(t, err)

	assert.Equal(t, 45*time.Second, s.Main.Interval)
	require.Len(t, s.Enclosures, 2)

	core := s.Enclosures[0]
	assert.Equal(t, "Core One", core.Name)
	assert.Equal(t, "10.0.0.7", core.Probe.Address)
	assert.Equal(t, "secret", core.Probe.Password)
	assert.True(t, core.Light.Enabled)
	require.NotNil(t, core.Light.ButtonPin)
	assert.Equal(t, 23, *core.Light.ButtonPin)
	require.Len(t, core.Cameras, 1)
	assert.Equal(t, "/dev/video0", core.Cameras[0].Device)
	assert.True(t, core.Cameras[0].Overlay)

	mini := s.Enclosures[1]
	assert.Empty(t, mini.Probe.Address)
	assert.False(t, mini.Light.Enabled)
	assert.Nil(t, mini.Light.Pin)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := LoadWith(viper.New(), filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryConfiguration))
}

func validSettings(t *testing.T) *Settings {
	t.Helper()
	s, err := LoadWith(viper.New(), writeConfig(t, "config.yaml", validYAML))
	require.NoError(t, err)
	return s
}

func TestValidateSettings(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(s *Settings)
		wantErr string
	}{
		{"valid", func(*Settings) {}, ""},
		{"interval too short", func(s *Settings) { s.Main.Interval = 500 * time.Millisecond }, "main.interval"},
		{"no enclosures", func(s *Settings) { s.Enclosures = nil }, "at least one enclosure"},
		{"duplicate enclosure", func(s *Settings) {
			s.Enclosures = append(s.Enclosures, s.Enclosures[0])
		}, "used by another enclosure"},
		{"duplicate fingerprint", func(s *Settings) {
			s.Enclosures[0].Cameras[1].Fingerprint = s.Enclosures[0].Cameras[0].Fingerprint
		}, "already used"},
		{"missing token", func(s *Settings) { s.Enclosures[0].Cameras[0].Token = "" }, "token is required"},
		{"missing device", func(s *Settings) { s.Enclosures[0].Cameras[0].Device = "" }, "device is required"},
		{"bad resolution", func(s *Settings) { s.Enclosures[0].Cameras[0].Width = 0 }, "resolution must be positive"},
		{"fingerprint path", func(s *Settings) { s.Enclosures[0].Cameras[0].Fingerprint = "../etc" }, "path separators"},
		{"negative pin", func(s *Settings) {
			pin := -1
			s.Enclosures[0].Light.Pin = &pin
		}, "light.pin cannot be negative"},
		{"bad tool", func(s *Settings) { s.Capture.Tool = "raspistill" }, "capture.tool"},
		{"bad driver", func(s *Settings) { s.Illumination.Driver = "sysfs" }, "illumination.driver"},
		{"zero debounce", func(s *Settings) { s.Illumination.Debounce = 0 }, "illumination.debounce must be at least 300ms"},
		{"short debounce", func(s *Settings) { s.Illumination.Debounce = 100 * time.Millisecond }, "illumination.debounce"},
		{"bad sensor", func(s *Settings) { s.Sensor.Source = "i2c" }, "sensor.source"},
		{"bad quality", func(s *Settings) { s.Overlay.JPEGQuality = 0 }, "jpegquality"},
		{"bad url", func(s *Settings) { s.Connect.SnapshotURL = "connect" }, "connect.snapshoturl"},
		{"mqtt without broker", func(s *Settings) {
			s.MQTT.Enabled = true
			s.MQTT.Broker = ""
		}, "mqtt.broker"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := validSettings(t)
			tt.mutate(s)

			err := ValidateSettings(s)
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
			assert.True(t, errors.IsCategory(err, errors.CategoryValidation))
		})
	}
}

func TestRedactedYAMLMasksSecrets(t *testing.T) {
	s := validSettings(t)
	s.MQTT.Password = "mqtt-pass"
	s.Sentry.DSN = "https://key@sentry.example/1"

	out, err := s.RedactedYAML()
	require.NoError(t, err)

	text := string(out)
	for _, secret := range []string{"linkpass", "tok-front", "tok-top", "mqtt-pass", "sentry.example"} {
		assert.NotContains(t, text, secret)
	}
	assert.Contains(t, text, "fp-front-0000001")

	// original untouched
	assert.Equal(t, "tok-front", s.Enclosures[0].Cameras[0].Token)
	assert.Equal(t, "linkpass", s.Enclosures[0].Probe.Password)

	var round Settings
	require.NoError(t, yaml.Unmarshal(out, &round))
	assert.Equal(t, s.Main.Interval, round.Main.Interval)
}

func TestDefaultConfigTemplateParses(t *testing.T) {
	var raw map[string]any
	require.NoError(t, yaml.Unmarshal([]byte(getDefaultConfig()), &raw))
	assert.Contains(t, raw, "enclosures")
	assert.Contains(t, raw, "illumination")
}
