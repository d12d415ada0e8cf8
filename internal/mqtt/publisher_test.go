package mqtt

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/printfarm/enclosure-cam/internal/illumination"
	"github.com/printfarm/enclosure-cam/internal/logger"
	"github.com/printfarm/enclosure-cam/internal/observability/metrics"
	"github.com/printfarm/enclosure-cam/internal/orchestrator"
	"github.com/printfarm/enclosure-cam/internal/pipeline"
	"github.com/printfarm/enclosure-cam/internal/prober"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func waitMessages(t *testing.T, c *fakeClient, n int) {
	t.Helper()
	for range n {
		select {
		case <-c.notify:
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for %d messages, got %d", n, len(c.all()))
		}
	}
}

func startPublisher(t *testing.T, c Client, cfg PublisherConfig, m *metrics.MQTTMetrics) *Publisher {
	t.Helper()
	p := NewPublisher(c, cfg, m, logger.NewDiscard())
	p.Start(context.Background())
	t.Cleanup(p.Close)
	return p
}

func TestTopics(t *testing.T) {
	p := NewPublisher(newFakeClient(), PublisherConfig{Topic: "farm/"}, nil, logger.NewDiscard())

	assert.Equal(t, "farm/MK4/status", p.StatusTopic("MK4"))
	assert.Equal(t, "farm/MK4/light", p.LightTopic("MK4"))
	assert.Equal(t, "farm/MK4/Top View/snapshot", p.SnapshotTopic("MK4", "Top View"))
	assert.Equal(t, "farm/Bay_1/cam_a/snapshot", p.SnapshotTopic("Bay/1", "cam#a"))
	assert.Equal(t, "farm/cycle", p.CycleTopic())
}

func TestTopicLevel(t *testing.T) {
	tests := map[string]string{
		"MK4":       "MK4",
		" Mini ":    "Mini",
		"a/b":       "a_b",
		"all+#":     "all__",
		"":          "unknown",
		"Voron 2.4": "Voron 2.4",
	}
	for in, want := range tests {
		assert.Equal(t, want, TopicLevel(in), in)
	}
}

func TestPublisherReporter(t *testing.T) {
	c := newFakeClient()
	p := startPublisher(t, c, PublisherConfig{Topic: "farm", Retain: true}, nil)

	checked := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	p.EnclosureChecked(orchestrator.EnclosureStatus{Name: "MK4", CheckedAt: checked},
		prober.Result{Online: true, State: "printing", StatusCode: 200})
	p.CameraProcessed(orchestrator.CameraResult{
		Enclosure: "MK4", Camera: "Front", Stage: pipeline.StageUpload,
		Error: "rejected", StatusCode: 503, At: checked, Duration: 1500 * time.Millisecond,
	})
	p.CycleCompleted(orchestrator.CycleReport{TraceID: "abc", Started: checked, Finished: checked.Add(3 * time.Second), Uploaded: 1})
	waitMessages(t, c, 3)

	msgs := c.byTopic()
	require.Contains(t, msgs, "farm/MK4/status")
	require.Contains(t, msgs, "farm/MK4/Front/snapshot")
	require.Contains(t, msgs, "farm/cycle")
	for _, m := range msgs {
		assert.True(t, m.retain)
	}

	var status StatusMessage
	require.NoError(t, json.Unmarshal(msgs["farm/MK4/status"].payload, &status))
	assert.Equal(t, StatusMessage{Enclosure: "MK4", Online: true, State: "printing", StatusCode: 200, Timestamp: checked}, status)

	var snap map[string]any
	require.NoError(t, json.Unmarshal(msgs["farm/MK4/Front/snapshot"].payload, &snap))
	assert.Equal(t, false, snap["success"])
	assert.Equal(t, "upload", snap["stage"])
	assert.Equal(t, "rejected", snap["error"])
	assert.InDelta(t, 503, snap["status_code"], 0)
	assert.InDelta(t, 1500, snap["duration_ms"], 0)

	var cycle CycleMessage
	require.NoError(t, json.Unmarshal(msgs["farm/cycle"].payload, &cycle))
	assert.Equal(t, "abc", cycle.TraceID)
	assert.Equal(t, int64(3000), cycle.DurationMs)
}

func TestPublisherLight(t *testing.T) {
	c := newFakeClient()
	p := startPublisher(t, c, PublisherConfig{Topic: "farm"}, nil)

	p.PublishLight("MK4", illumination.OnManual)
	waitMessages(t, c, 1)

	m := c.all()[0]
	assert.Equal(t, "farm/MK4/light", m.topic)
	assert.False(t, m.retain)

	var light LightMessage
	require.NoError(t, json.Unmarshal(m.payload, &light))
	assert.Equal(t, "on_manual", light.State)
	assert.True(t, light.On)
	assert.True(t, light.ManualOverride)
}

func TestPublisherWatchLight(t *testing.T) {
	c := newFakeClient()
	p := startPublisher(t, c, PublisherConfig{Topic: "farm"}, nil)

	light := illumination.NewController(illumination.Config{Enclosure: "MK4"}, nil, logger.NewDiscard())
	p.WatchLight(light)
	p.WatchLight(nil)
	waitMessages(t, c, 1)

	var msg LightMessage
	require.NoError(t, json.Unmarshal(c.all()[0].payload, &msg))
	assert.Equal(t, "off", msg.State)
	assert.False(t, msg.On)
}

func TestPublisherErrorsDoNotStopWorker(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := metrics.NewMQTTMetrics(reg)
	require.NoError(t, err)

	c := newFakeClient()
	c.err = assert.AnError
	p := startPublisher(t, c, PublisherConfig{Topic: "farm"}, m)

	p.EnclosureChecked(orchestrator.EnclosureStatus{Name: "MK4"}, prober.Result{})
	p.EnclosureChecked(orchestrator.EnclosureStatus{Name: "Mini"}, prober.Result{})
	waitMessages(t, c, 2)

	assert.Eventually(t, func() bool {
		return testutil.ToFloat64(m.Errors.WithLabelValues(KindStatus)) == 2
	}, time.Second, 10*time.Millisecond)
	assert.InDelta(t, 0, testutil.ToFloat64(m.MessagesDelivered.WithLabelValues(KindStatus)), 0)
}

func TestPublisherNeverBlocksCaller(t *testing.T) {
	c := newFakeClient()
	c.block = make(chan struct{})
	p := startPublisher(t, c, PublisherConfig{Topic: "farm", QueueSize: 2}, nil)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for range 20 {
			p.CameraProcessed(orchestrator.CameraResult{Enclosure: "MK4", Camera: "Front"})
		}
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("reporter call blocked on a stalled broker")
	}

	close(c.block)
	// One message in flight plus a full queue at most.
	waitMessages(t, c, 1)
	p.Close()
	assert.LessOrEqual(t, len(c.all()), 3)
}

func TestPublisherStopsWithContext(t *testing.T) {
	c := newFakeClient()
	p := NewPublisher(c, PublisherConfig{Topic: "farm"}, nil, logger.NewDiscard())
	ctx, cancel := context.WithCancel(context.Background())
	p.Start(ctx)
	p.Start(ctx)
	cancel()
	p.Close()
	p.Close()
}
