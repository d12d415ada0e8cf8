package app

import (
	"github.com/printfarm/enclosure-cam/internal/buildinfo"
	"github.com/printfarm/enclosure-cam/internal/conf"
	"github.com/printfarm/enclosure-cam/internal/logger"
)

// Runtime is shared by the CLI commands. Settings and Logger are filled in
// once flags are parsed, before any command runs.
type Runtime struct {
	Info       buildinfo.BuildInfo
	ConfigPath string
	Settings   *conf.Settings
	Logger     *logger.CentralLogger
}

// Log returns the logger for module, falling back to the global logger
// before setup has run.
func (rt *Runtime) Log(module string) logger.Logger {
	if rt.Logger == nil {
		return logger.Global().Module(module)
	}
	return rt.Logger.Module(module)
}

// OneShot builds an App for a single command invocation. The web server,
// MQTT and metrics are left out since nothing stays up to serve them.
func (rt *Runtime) OneShot() (*App, error) {
	s := *rt.Settings
	s.WebServer.Enabled = false
	s.MQTT.Enabled = false
	s.Telemetry.Enabled = false
	return New(&s, rt.Info, rt.Log("app"))
}
