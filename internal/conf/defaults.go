// conf/defaults.go default values for settings
package conf

import (
	"os"
	"time"

	"github.com/spf13/viper"
)

// Default timing values.
const (
	DefaultInterval        = 60 * time.Second
	DefaultProbeTimeout    = 5 * time.Second
	DefaultUploadTimeout   = 15 * time.Second
	DefaultRegisterTimeout = 10 * time.Second
	DefaultCaptureTimeout  = 30 * time.Second
	DefaultDebounce        = 300 * time.Millisecond
	DefaultSettle          = 1 * time.Second
	DefaultSensorCacheTTL  = 10 * time.Second
)

// Sets default values for the configuration.
func setDefaultConfig(v *viper.Viper) {
	v.SetDefault("debug", false)

	v.SetDefault("main.name", "enclosure-cam")
	v.SetDefault("main.interval", DefaultInterval)
	v.SetDefault("main.tempdir", os.TempDir())
	v.SetDefault("main.lockfile", "/tmp/enclosure-cam.lock")

	v.SetDefault("logging.default_level", "info")
	v.SetDefault("logging.timezone", "Local")
	v.SetDefault("logging.console.enabled", true)
	v.SetDefault("logging.console.level", "info")
	v.SetDefault("logging.file_output.enabled", false)
	v.SetDefault("logging.file_output.path", "logs/enclosure-cam.log")
	v.SetDefault("logging.file_output.level", "info")
	v.SetDefault("logging.file_output.max_size", 10)
	v.SetDefault("logging.file_output.max_age", 14)
	v.SetDefault("logging.file_output.max_rotated_files", 5)
	v.SetDefault("logging.file_output.compress", false)

	v.SetDefault("connect.infourl", "https://connect.prusa3d.com/c/info")
	v.SetDefault("connect.snapshoturl", "https://connect.prusa3d.com/c/snapshot")
	v.SetDefault("connect.timeout", DefaultUploadTimeout)
	v.SetDefault("connect.registertimeout", DefaultRegisterTimeout)

	v.SetDefault("probe.timeout", DefaultProbeTimeout)

	v.SetDefault("capture.tool", "fswebcam")
	v.SetDefault("capture.path", "")
	v.SetDefault("capture.timeout", DefaultCaptureTimeout)
	v.SetDefault("capture.skipframes", 10)

	v.SetDefault("illumination.driver", "periph")
	v.SetDefault("illumination.debounce", DefaultDebounce)
	v.SetDefault("illumination.settle", DefaultSettle)

	v.SetDefault("sensor.source", "w1")
	v.SetDefault("sensor.pattern", "/sys/bus/w1/devices/28*/w1_slave")
	v.SetDefault("sensor.hostkey", "")
	v.SetDefault("sensor.cachettl", DefaultSensorCacheTTL)

	v.SetDefault("overlay.fontpath", "/usr/share/fonts/truetype/dejavu/DejaVuSans-Bold.ttf")
	v.SetDefault("overlay.jpegquality", 90)

	v.SetDefault("webserver.enabled", false)
	v.SetDefault("webserver.listen", ":8090")

	v.SetDefault("telemetry.enabled", true)

	v.SetDefault("mqtt.enabled", false)
	v.SetDefault("mqtt.broker", "tcp://localhost:1883")
	v.SetDefault("mqtt.clientid", "enclosure-cam")
	v.SetDefault("mqtt.username", "")
	v.SetDefault("mqtt.password", "")
	v.SetDefault("mqtt.topic", "enclosure-cam")
	v.SetDefault("mqtt.retain", true)
	v.SetDefault("mqtt.homeassistant.enabled", false)
	v.SetDefault("mqtt.homeassistant.discoveryprefix", "homeassistant")

	v.SetDefault("sentry.enabled", false)
	v.SetDefault("sentry.dsn", "")
}
