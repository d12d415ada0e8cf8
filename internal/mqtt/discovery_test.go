package mqtt

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/printfarm/enclosure-cam/internal/enclosure"
	"github.com/printfarm/enclosure-cam/internal/logger"
)

func TestSanitizeID(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"MK4", "MK4"},
		{"Voron 2.4", "Voron_2_4"},
		{"__bay//1__", "bay_1"},
		{"école", "cole"},
		{"!!!", "unknown"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, SanitizeID(tt.in), tt.in)
	}
}

func testEnclosures() []*enclosure.Enclosure {
	return []*enclosure.Enclosure{{
		Name: "Voron 2.4",
		Cameras: []enclosure.Camera{
			{Name: "Front"},
			{Name: "Top"},
		},
	}}
}

func newTestDiscovery(c Client) *Discovery {
	pub := NewPublisher(c, PublisherConfig{Topic: "farm"}, nil, logger.NewDiscard())
	return NewDiscovery(c, pub, DiscoveryConfig{NodeID: "shop pi", Version: "1.2.0"}, logger.NewDiscard())
}

func TestDiscoveryPayloads(t *testing.T) {
	d := newTestDiscovery(newFakeClient())

	payloads := d.Payloads(testEnclosures())
	require.Len(t, payloads, 4, "online, state and one per camera; no light without control")

	online, ok := payloads["homeassistant/binary_sensor/shop_pi/Voron_2_4_printer_online/config"]
	require.True(t, ok)
	assert.Equal(t, "farm/Voron 2.4/status", online.StateTopic)
	assert.Equal(t, "connectivity", online.DeviceClass)
	assert.Equal(t, "enclosure_cam_shop_pi_Voron_2_4_printer_online", online.UniqueID)
	assert.Equal(t, []string{"enclosure_cam_shop_pi_Voron_2_4"}, online.Device.Identifiers)
	assert.Equal(t, "1.2.0", online.Device.SWVersion)

	snap, ok := payloads["homeassistant/binary_sensor/shop_pi/Voron_2_4_Top_snapshot_problem/config"]
	require.True(t, ok)
	assert.Equal(t, "farm/Voron 2.4/Top/snapshot", snap.StateTopic)
	assert.Equal(t, "problem", snap.DeviceClass)
	assert.Equal(t, "diagnostic", snap.EntityCategory)

	_, ok = payloads["homeassistant/sensor/shop_pi/Voron_2_4_printer_state/config"]
	assert.True(t, ok)
}

func TestPublishDiscovery(t *testing.T) {
	c := newFakeClient()
	d := newTestDiscovery(c)

	require.NoError(t, d.PublishDiscovery(context.Background(), testEnclosures()))

	msgs := c.all()
	require.Len(t, msgs, 4)
	for _, m := range msgs {
		assert.True(t, m.retain)
		var p DiscoveryPayload
		require.NoError(t, json.Unmarshal(m.payload, &p))
		assert.NotEmpty(t, p.UniqueID)
		require.NotNil(t, p.Origin)
		assert.Equal(t, "enclosure-cam", p.Origin.Name)
	}
}

func TestPublishDiscoveryReportsFailure(t *testing.T) {
	c := newFakeClient()
	c.err = assert.AnError
	d := newTestDiscovery(c)

	err := d.PublishDiscovery(context.Background(), testEnclosures())
	require.Error(t, err)
	assert.Len(t, c.all(), 4, "a failure does not stop the remaining announcements")
}

func TestRemoveDiscovery(t *testing.T) {
	c := newFakeClient()
	d := newTestDiscovery(c)

	d.RemoveDiscovery(context.Background(), testEnclosures())

	msgs := c.all()
	require.Len(t, msgs, 4)
	for _, m := range msgs {
		assert.Empty(t, m.payload)
		assert.True(t, m.retain)
	}
}
