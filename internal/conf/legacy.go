package conf

import (
	"fmt"
	"time"

	"github.com/spf13/viper"

	"github.com/printfarm/enclosure-cam/internal/errors"
)

// legacyCamera is a camera entry of the older config.json layout.
type legacyCamera struct {
	Fingerprint string   `mapstructure:"fingerprint"`
	Token       string   `mapstructure:"token"`
	Name        string   `mapstructure:"name"`
	Path        string   `mapstructure:"path"`
	Width       int      `mapstructure:"width"`
	Height      int      `mapstructure:"height"`
	Params      []string `mapstructure:"params"`
	OverlayTemp bool     `mapstructure:"overlay_temp"`
}

// legacyPrinter is a printer entry of the older config.json layout.
type legacyPrinter struct {
	Name              string         `mapstructure:"name"`
	PrusaLinkIP       string         `mapstructure:"prusa_link_ip"`
	PrusaLinkUser     string         `mapstructure:"prusa_link_user"`
	PrusaLinkPassword string         `mapstructure:"prusa_link_password"`
	LEDControlEnabled bool           `mapstructure:"led_control_enabled"`
	LEDPin            *int           `mapstructure:"led_pin"`
	ButtonPin         *int           `mapstructure:"button_pin"`
	Cameras           []legacyCamera `mapstructure:"cameras"`
}

// applyLegacyLayout maps the flat config.json keys (interval_seconds,
// printers) onto the current layout. Current keys win when both are present.
func applyLegacyLayout(v *viper.Viper) error {
	if v.IsSet("interval_seconds") && !v.InConfig("main.interval") {
		seconds := v.GetFloat64("interval_seconds")
		v.Set("main.interval", time.Duration(seconds*float64(time.Second)))
	}

	if !v.IsSet("printers") || v.IsSet("enclosures") {
		return nil
	}

	var printers []legacyPrinter
	if err := v.UnmarshalKey("printers", &printers); err != nil {
		return errors.New(fmt.Errorf("error reading legacy printers list: %w", err)).
			Component("configuration").
			Category(errors.CategoryConfiguration).
			Build()
	}

	enclosures := make([]map[string]any, 0, len(printers))
	for i := range printers {
		enclosures = append(enclosures, printers[i].toEnclosure())
	}
	v.Set("enclosures", enclosures)

	return nil
}

func (p *legacyPrinter) toEnclosure() map[string]any {
	cameras := make([]map[string]any, 0, len(p.Cameras))
	for _, c := range p.Cameras {
		cameras = append(cameras, map[string]any{
			"name":        c.Name,
			"fingerprint": c.Fingerprint,
			"token":       c.Token,
			"device":      c.Path,
			"width":       c.Width,
			"height":      c.Height,
			"params":      c.Params,
			"overlay":     c.OverlayTemp,
		})
	}

	return map[string]any{
		"name": p.Name,
		"probe": map[string]any{
			"address":  p.PrusaLinkIP,
			"username": p.PrusaLinkUser,
			"password": p.PrusaLinkPassword,
		},
		"light": map[string]any{
			"enabled":   p.LEDControlEnabled,
			"pin":       p.LEDPin,
			"buttonpin": p.ButtonPin,
		},
		"cameras": cameras,
	}
}
