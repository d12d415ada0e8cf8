// config.go: settings struct for enclosure-cam and the functions to load it.
package conf

import (
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/spf13/viper"

	"github.com/printfarm/enclosure-cam/internal/errors"
	"github.com/printfarm/enclosure-cam/internal/logger"
)

//go:embed config.yaml
var configFiles embed.FS

// MainSettings contains process-wide settings.
type MainSettings struct {
	Name     string        `yaml:"name"`
	Interval time.Duration `yaml:"interval"` // pause between the end of one cycle and the start of the next
	TempDir  string        `yaml:"tempdir"`  // directory for raw and annotated frames
	LockFile string        `yaml:"lockfile"` // single-instance lock path
}

// ConnectSettings configures the Prusa Connect camera API.
type ConnectSettings struct {
	InfoURL         string        `yaml:"infourl"`
	SnapshotURL     string        `yaml:"snapshoturl"`
	Timeout         time.Duration `yaml:"timeout"`         // snapshot upload timeout
	RegisterTimeout time.Duration `yaml:"registertimeout"` // camera registration timeout
}

// ProbeSettings configures the Prusa Link availability check.
type ProbeSettings struct {
	Timeout time.Duration `yaml:"timeout"`
}

// CaptureSettings selects the still capture tool.
type CaptureSettings struct {
	Tool       string        `yaml:"tool"` // fswebcam or ffmpeg
	Path       string        `yaml:"path"` // optional binary path, resolved from PATH when empty
	Timeout    time.Duration `yaml:"timeout"`
	SkipFrames int           `yaml:"skipframes"` // fswebcam -S, lets auto exposure settle
}

// IlluminationSettings configures GPIO light control shared by all enclosures.
type IlluminationSettings struct {
	Driver   string        `yaml:"driver"` // periph or none
	Debounce time.Duration `yaml:"debounce"`
	Settle   time.Duration `yaml:"settle"`
}

// SensorSettings selects the enclosure temperature source.
type SensorSettings struct {
	Source   string        `yaml:"source"`  // w1, host or none
	Pattern  string        `yaml:"pattern"` // 1-Wire slave file glob
	HostKey  string        `yaml:"hostkey"` // gopsutil sensor key substring
	CacheTTL time.Duration `yaml:"cachettl"`
}

// OverlaySettings configures the temperature overlay.
type OverlaySettings struct {
	FontPath    string `yaml:"fontpath"`
	JPEGQuality int    `yaml:"jpegquality"`
}

// WebServerSettings configures the status API.
type WebServerSettings struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
}

// TelemetrySettings controls the Prometheus endpoint.
type TelemetrySettings struct {
	Enabled bool `yaml:"enabled"`
}

// MQTTSettings configures the status publisher.
type MQTTSettings struct {
	Enabled  bool   `yaml:"enabled"`
	Broker   string `yaml:"broker"`
	ClientID string `yaml:"clientid"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Topic    string `yaml:"topic"`
	Retain   bool   `yaml:"retain"`

	HomeAssistant HomeAssistantSettings `yaml:"homeassistant"`
}

// HomeAssistantSettings configures MQTT auto-discovery announcements.
type HomeAssistantSettings struct {
	Enabled         bool   `yaml:"enabled"`
	DiscoveryPrefix string `yaml:"discoveryprefix"`
}

// SentrySettings configures optional error reporting.
type SentrySettings struct {
	Enabled bool   `yaml:"enabled"`
	DSN     string `yaml:"dsn"`
}

// ProbeTarget is the Prusa Link endpoint of an enclosure.
type ProbeTarget struct {
	Address  string `yaml:"address"` // host[:port], empty disables the check
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// LightSettings assigns the GPIO pins of an enclosure.
type LightSettings struct {
	Enabled   bool `yaml:"enabled"`
	Pin       *int `yaml:"pin,omitempty"`       // BCM output pin, nil when unset
	ButtonPin *int `yaml:"buttonpin,omitempty"` // BCM input pin, nil when unset
}

// CameraSettings describes one camera of an enclosure.
type CameraSettings struct {
	Name        string   `yaml:"name"`
	Fingerprint string   `yaml:"fingerprint"`
	Token       string   `yaml:"token"`
	Device      string   `yaml:"device"`
	Width       int      `yaml:"width"`
	Height      int      `yaml:"height"`
	Params      []string `yaml:"params"`
	Overlay     bool     `yaml:"overlay"`
}

// EnclosureSettings describes one printer enclosure.
type EnclosureSettings struct {
	Name    string           `yaml:"name"`
	Probe   ProbeTarget      `yaml:"probe"`
	Light   LightSettings    `yaml:"light"`
	Cameras []CameraSettings `yaml:"cameras"`
}

// Settings contains all configuration options for enclosure-cam.
type Settings struct {
	Debug bool `yaml:"debug"`

	Main         MainSettings         `yaml:"main"`
	Logging      logger.LoggingConfig `yaml:"logging"`
	Connect      ConnectSettings      `yaml:"connect"`
	Probe        ProbeSettings        `yaml:"probe"`
	Capture      CaptureSettings      `yaml:"capture"`
	Illumination IlluminationSettings `yaml:"illumination"`
	Sensor       SensorSettings       `yaml:"sensor"`
	Overlay      OverlaySettings      `yaml:"overlay"`
	WebServer    WebServerSettings    `yaml:"webserver"`
	Telemetry    TelemetrySettings    `yaml:"telemetry"`
	MQTT         MQTTSettings         `yaml:"mqtt"`
	Sentry       SentrySettings       `yaml:"sentry"`
	Enclosures   []EnclosureSettings  `yaml:"enclosures"`
}

var (
	settingsInstance *Settings
	settingsMutex    sync.RWMutex
)

// Load reads the configuration through the global viper instance. When path
// is empty the default locations are searched and a default config file is
// written if none exists.
func Load(path string) (*Settings, error) {
	settings, err := LoadWith(viper.GetViper(), path)
	if err != nil {
		return nil, err
	}

	settingsMutex.Lock()
	settingsInstance = settings
	settingsMutex.Unlock()

	return settings, nil
}

// LoadWith reads and validates the configuration using v.
func LoadWith(v *viper.Viper, path string) (*Settings, error) {
	if err := initViper(v, path); err != nil {
		return nil, fmt.Errorf("error initializing viper: %w", err)
	}

	if err := applyLegacyLayout(v); err != nil {
		return nil, err
	}

	settings := &Settings{}
	if err := v.Unmarshal(settings); err != nil {
		return nil, errors.New(fmt.Errorf("error unmarshaling config into struct: %w", err)).
			Component("configuration").
			Category(errors.CategoryConfiguration).
			Build()
	}

	if settings.Debug {
		settings.Logging.DefaultLevel = string(logger.LogLevelDebug)
		if settings.Logging.Console != nil {
			settings.Logging.Console.Level = string(logger.LogLevelDebug)
		}
	}

	if err := ValidateSettings(settings); err != nil {
		return nil, fmt.Errorf("error validating settings: %w", err)
	}

	return settings, nil
}

// Setting returns the settings loaded by the last successful Load.
func Setting() *Settings {
	settingsMutex.RLock()
	defer settingsMutex.RUnlock()
	return settingsInstance
}

func initViper(v *viper.Viper, path string) error {
	setDefaultConfig(v)

	v.SetEnvPrefix("ENCLOSURECAM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return errors.New(fmt.Errorf("error reading config file %s: %w", path, err)).
				Component("configuration").
				Category(errors.CategoryConfiguration).
				Context("operation", "read_config").
				Build()
		}
		return nil
	}

	v.SetConfigName("config")
	v.SetConfigType("yaml")

	configPaths, err := GetDefaultConfigPaths()
	if err != nil {
		return fmt.Errorf("error getting default config paths: %w", err)
	}
	for _, p := range configPaths {
		v.AddConfigPath(p)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return createDefaultConfig(v, configPaths[0])
		}
		return fmt.Errorf("fatal error reading config file: %w", err)
	}

	return nil
}

// createDefaultConfig writes the embedded template into dir and reads it back.
func createDefaultConfig(v *viper.Viper, dir string) error {
	configPath := filepath.Join(dir, "config.yaml")

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("error creating directories for config file: %w", err)
	}

	if err := os.WriteFile(configPath, []byte(getDefaultConfig()), 0o600); err != nil {
		return fmt.Errorf("error writing default config file: %w", err)
	}

	logger.Global().Module("configuration").Info("created default config file", logger.String("path", configPath))

	v.SetConfigFile(configPath)
	return v.ReadInConfig()
}

// getDefaultConfig returns the embedded config.yaml template.
func getDefaultConfig() string {
	data, err := fs.ReadFile(configFiles, "config.yaml")
	if err != nil {
		// embedded at build time
		panic(fmt.Sprintf("error reading embedded config template: %v", err))
	}
	return string(data)
}

// GetDefaultConfigPaths returns the directories searched for config.yaml.
// If one of them already holds a config file only that directory is returned.
func GetDefaultConfigPaths() ([]string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, errors.New(err).
			Component("configuration").
			Category(errors.CategorySystem).
			Context("operation", "get_home_directory").
			Build()
	}

	configPaths := []string{
		filepath.Join(homeDir, ".config", "enclosure-cam"),
		"/etc/enclosure-cam",
	}

	for _, p := range configPaths {
		if _, err := os.Stat(filepath.Join(p, "config.yaml")); err == nil {
			return []string{p}, nil
		}
	}

	return configPaths, nil
}
