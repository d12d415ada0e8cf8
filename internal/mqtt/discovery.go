// Home Assistant MQTT auto-discovery.
// See: https://www.home-assistant.io/integrations/mqtt/#mqtt-discovery

package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/printfarm/enclosure-cam/internal/enclosure"
	"github.com/printfarm/enclosure-cam/internal/errors"
	"github.com/printfarm/enclosure-cam/internal/logger"
)

// Entity object suffixes.
const (
	EntityPrinterOnline = "printer_online"
	EntityPrinterState  = "printer_state"
	EntityLight         = "light"
	EntitySnapshot      = "snapshot_problem"
)

const deviceIDPrefix = "enclosure_cam"

// DefaultDiscoveryPrefix is the Home Assistant default.
const DefaultDiscoveryPrefix = "homeassistant"

// idSanitizer replaces characters Home Assistant does not accept in IDs.
var idSanitizer = regexp.MustCompile(`[^a-zA-Z0-9_-]`)

// SanitizeID ensures the ID contains only [a-zA-Z0-9_-].
func SanitizeID(id string) string {
	sanitized := idSanitizer.ReplaceAllString(id, "_")
	for strings.Contains(sanitized, "__") {
		sanitized = strings.ReplaceAll(sanitized, "__", "_")
	}
	sanitized = strings.Trim(sanitized, "_")
	if sanitized == "" {
		sanitized = "unknown"
	}
	return sanitized
}

// DiscoveryPayload represents a Home Assistant MQTT discovery message.
type DiscoveryPayload struct {
	Name           string           `json:"name"`
	UniqueID       string           `json:"unique_id"`
	StateTopic     string           `json:"state_topic"`
	ValueTemplate  string           `json:"value_template,omitempty"`
	DeviceClass    string           `json:"device_class,omitempty"`
	Icon           string           `json:"icon,omitempty"`
	EntityCategory string           `json:"entity_category,omitempty"`
	PayloadOn      string           `json:"payload_on,omitempty"`
	PayloadOff     string           `json:"payload_off,omitempty"`
	Device         DiscoveryDevice  `json:"device"`
	Origin         *DiscoveryOrigin `json:"origin,omitempty"`
}

// DiscoveryDevice represents the device information in a discovery payload.
type DiscoveryDevice struct {
	Identifiers  []string `json:"identifiers"`
	Name         string   `json:"name"`
	Manufacturer string   `json:"manufacturer"`
	Model        string   `json:"model"`
	SWVersion    string   `json:"sw_version,omitempty"`
}

// DiscoveryOrigin identifies the software creating the discovery message.
type DiscoveryOrigin struct {
	Name      string `json:"name"`
	SWVersion string `json:"sw_version,omitempty"`
}

// DiscoveryConfig holds configuration for generating discovery payloads.
type DiscoveryConfig struct {
	DiscoveryPrefix string // Home Assistant discovery topic prefix
	NodeID          string // typically main.name
	Version         string
}

// Discovery publishes Home Assistant discovery configs that point at the
// state topics of a Publisher.
type Discovery struct {
	client    Client
	config    DiscoveryConfig
	publisher *Publisher
	log       logger.Logger
}

// NewDiscovery creates a discovery announcer for the topics of pub.
func NewDiscovery(c Client, pub *Publisher, cfg DiscoveryConfig, log logger.Logger) *Discovery {
	if cfg.DiscoveryPrefix == "" {
		cfg.DiscoveryPrefix = DefaultDiscoveryPrefix
	}
	if log == nil {
		log = GetLogger()
	}
	return &Discovery{client: c, config: cfg, publisher: pub, log: log}
}

// Payloads returns every discovery topic and payload for encs.
func (d *Discovery) Payloads(encs []*enclosure.Enclosure) map[string]DiscoveryPayload {
	nodeID := SanitizeID(d.config.NodeID)
	out := make(map[string]DiscoveryPayload)

	for _, enc := range encs {
		encID := SanitizeID(enc.Name)
		deviceID := fmt.Sprintf("%s_%s_%s", deviceIDPrefix, nodeID, encID)
		device := DiscoveryDevice{
			Identifiers:  []string{deviceID},
			Name:         enc.Name,
			Manufacturer: "enclosure-cam",
			Model:        "Printer Enclosure",
			SWVersion:    d.config.Version,
		}

		statusTopic := d.publisher.StatusTopic(enc.Name)
		out[d.topic("binary_sensor", nodeID, encID+"_"+EntityPrinterOnline)] = DiscoveryPayload{
			Name:          "Printer Online",
			UniqueID:      deviceID + "_" + EntityPrinterOnline,
			StateTopic:    statusTopic,
			ValueTemplate: "{{ 'ON' if value_json.online else 'OFF' }}",
			DeviceClass:   "connectivity",
			PayloadOn:     "ON",
			PayloadOff:    "OFF",
			Device:        device,
			Origin:        d.origin(),
		}
		out[d.topic("sensor", nodeID, encID+"_"+EntityPrinterState)] = DiscoveryPayload{
			Name:          "Printer State",
			UniqueID:      deviceID + "_" + EntityPrinterState,
			StateTopic:    statusTopic,
			ValueTemplate: "{{ value_json.state | default('unknown') }}",
			Icon:          "mdi:printer-3d",
			Device:        device,
			Origin:        d.origin(),
		}

		if enc.Light != nil && enc.Light.Enabled() {
			out[d.topic("sensor", nodeID, encID+"_"+EntityLight)] = DiscoveryPayload{
				Name:          "Light",
				UniqueID:      deviceID + "_" + EntityLight,
				StateTopic:    d.publisher.LightTopic(enc.Name),
				ValueTemplate: "{{ value_json.state }}",
				Icon:          "mdi:lightbulb",
				Device:        device,
				Origin:        d.origin(),
			}
		}

		for _, cam := range enc.Cameras {
			camID := SanitizeID(cam.Name)
			out[d.topic("binary_sensor", nodeID, encID+"_"+camID+"_"+EntitySnapshot)] = DiscoveryPayload{
				Name:           cam.Name + " Snapshot",
				UniqueID:       deviceID + "_" + camID + "_" + EntitySnapshot,
				StateTopic:     d.publisher.SnapshotTopic(enc.Name, cam.Name),
				ValueTemplate:  "{{ 'OFF' if value_json.success else 'ON' }}",
				DeviceClass:    "problem",
				EntityCategory: "diagnostic",
				PayloadOn:      "ON",
				PayloadOff:     "OFF",
				Device:         device,
				Origin:         d.origin(),
			}
		}
	}
	return out
}

// PublishDiscovery announces every entity of encs. Discovery messages are
// always retained. It keeps going after a failure and returns the first one.
func (d *Discovery) PublishDiscovery(ctx context.Context, encs []*enclosure.Enclosure) error {
	payloads := d.Payloads(encs)
	d.log.Info("publishing Home Assistant discovery messages",
		logger.Int("entities", len(payloads)),
		logger.String("discovery_prefix", d.config.DiscoveryPrefix))

	var errs []error
	for topic, payload := range payloads {
		data, err := json.Marshal(payload)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if err := d.client.Publish(ctx, topic, data, true); err != nil {
			d.log.Warn("failed to publish discovery message", logger.String("topic", topic), logger.Error(err))
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return errors.New(errs[0]).
			Component("mqtt").
			Category(errors.CategoryMQTTPublish).
			Context("failed", len(errs)).
			Build()
	}
	return nil
}

// RemoveDiscovery publishes empty retained payloads for every entity of encs.
func (d *Discovery) RemoveDiscovery(ctx context.Context, encs []*enclosure.Enclosure) {
	for topic := range d.Payloads(encs) {
		if err := d.client.Publish(ctx, topic, nil, true); err != nil {
			d.log.Warn("failed to remove discovery message", logger.String("topic", topic), logger.Error(err))
		}
	}
}

func (d *Discovery) topic(component, nodeID, objectID string) string {
	return fmt.Sprintf("%s/%s/%s/%s/config", d.config.DiscoveryPrefix, component, nodeID, objectID)
}

func (d *Discovery) origin() *DiscoveryOrigin {
	return &DiscoveryOrigin{Name: "enclosure-cam", SWVersion: d.config.Version}
}
