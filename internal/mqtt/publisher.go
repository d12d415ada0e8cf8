package mqtt

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/printfarm/enclosure-cam/internal/illumination"
	"github.com/printfarm/enclosure-cam/internal/logger"
	"github.com/printfarm/enclosure-cam/internal/observability/metrics"
	"github.com/printfarm/enclosure-cam/internal/orchestrator"
	"github.com/printfarm/enclosure-cam/internal/prober"
)

// DefaultQueueSize is how many messages may wait for the broker before new
// ones are dropped.
const DefaultQueueSize = 64

// Message kinds, used for metrics and logs.
const (
	KindStatus   = "status"
	KindLight    = "light"
	KindSnapshot = "snapshot"
	KindCycle    = "cycle"
)

// PublisherConfig configures the topic layout.
type PublisherConfig struct {
	Topic     string
	Retain    bool
	QueueSize int
}

type message struct {
	kind    string
	topic   string
	payload []byte
}

// Publisher turns capture loop events into MQTT messages. Events are queued
// and sent by a single worker so a slow or absent broker never holds up the
// caller; when the queue is full the event is dropped.
type Publisher struct {
	client  Client
	cfg     PublisherConfig
	metrics *metrics.MQTTMetrics
	log     logger.Logger
	now     func() time.Time

	queue     chan message
	stop      chan struct{}
	startOnce sync.Once
	stopOnce  sync.Once
	wg        sync.WaitGroup
}

// NewPublisher creates a Publisher. m may be nil.
func NewPublisher(c Client, cfg PublisherConfig, m *metrics.MQTTMetrics, log logger.Logger) *Publisher {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	cfg.Topic = strings.TrimSuffix(cfg.Topic, "/")
	if log == nil {
		log = GetLogger()
	}
	return &Publisher{
		client:  c,
		cfg:     cfg,
		metrics: m,
		log:     log,
		now:     time.Now,
		queue:   make(chan message, cfg.QueueSize),
		stop:    make(chan struct{}),
	}
}

// Start launches the send worker. It returns at once; the worker runs until
// ctx is done or Close is called.
func (p *Publisher) Start(ctx context.Context) {
	p.startOnce.Do(func() {
		p.wg.Go(func() { p.run(ctx) })
	})
}

// Close stops the worker and waits for it to exit. Queued messages that
// were not sent yet are discarded.
func (p *Publisher) Close() {
	p.stopOnce.Do(func() { close(p.stop) })
	p.wg.Wait()
}

func (p *Publisher) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stop:
			return
		case msg := <-p.queue:
			p.send(ctx, msg)
		}
	}
}

func (p *Publisher) send(ctx context.Context, msg message) {
	start := time.Now()
	err := p.client.Publish(ctx, msg.topic, msg.payload, p.cfg.Retain)
	if p.metrics != nil {
		p.metrics.RecordPublish(msg.kind, len(msg.payload), time.Since(start), err)
	}
	if err != nil {
		p.log.Warn("failed to publish MQTT message",
			logger.String("topic", msg.topic),
			logger.String("kind", msg.kind),
			logger.Error(err))
		return
	}
	p.log.Trace("published MQTT message", logger.String("topic", msg.topic))
}

func (p *Publisher) enqueue(kind, topic string, v any) {
	payload, err := json.Marshal(v)
	if err != nil {
		p.log.Error("failed to encode MQTT message", logger.String("kind", kind), logger.Error(err))
		return
	}
	select {
	case p.queue <- message{kind: kind, topic: topic, payload: payload}:
	default:
		if p.metrics != nil {
			p.metrics.Errors.WithLabelValues(kind).Inc()
		}
		p.log.Warn("MQTT queue full, dropping message", logger.String("topic", topic))
	}
}

// StatusTopic returns <topic>/<enclosure>/status.
func (p *Publisher) StatusTopic(enclosure string) string {
	return p.cfg.Topic + "/" + TopicLevel(enclosure) + "/status"
}

// LightTopic returns <topic>/<enclosure>/light.
func (p *Publisher) LightTopic(enclosure string) string {
	return p.cfg.Topic + "/" + TopicLevel(enclosure) + "/light"
}

// SnapshotTopic returns <topic>/<enclosure>/<camera>/snapshot.
func (p *Publisher) SnapshotTopic(enclosure, camera string) string {
	return p.cfg.Topic + "/" + TopicLevel(enclosure) + "/" + TopicLevel(camera) + "/snapshot"
}

// CycleTopic returns <topic>/cycle.
func (p *Publisher) CycleTopic() string {
	return p.cfg.Topic + "/cycle"
}

// EnclosureChecked implements orchestrator.Reporter.
func (p *Publisher) EnclosureChecked(status orchestrator.EnclosureStatus, probe prober.Result) {
	p.enqueue(KindStatus, p.StatusTopic(status.Name), NewStatusMessage(status, probe))
}

// CameraProcessed implements orchestrator.Reporter.
func (p *Publisher) CameraProcessed(res orchestrator.CameraResult) {
	p.enqueue(KindSnapshot, p.SnapshotTopic(res.Enclosure, res.Camera), NewSnapshotMessage(res))
}

// CycleCompleted implements orchestrator.Reporter.
func (p *Publisher) CycleCompleted(report orchestrator.CycleReport) {
	p.enqueue(KindCycle, p.CycleTopic(), NewCycleMessage(report))
}

// WatchLight publishes the current state of c and every later change.
func (p *Publisher) WatchLight(c *illumination.Controller) {
	if c == nil {
		return
	}
	p.PublishLight(c.Enclosure(), c.State())
	c.OnChange(p.PublishLight)
}

// PublishLight queues a light state message.
func (p *Publisher) PublishLight(enclosure string, state illumination.State) {
	p.enqueue(KindLight, p.LightTopic(enclosure), NewLightMessage(enclosure, state, p.now()))
}

// topicReplacer strips the MQTT level separator and wildcards from names.
var topicReplacer = strings.NewReplacer("/", "_", "+", "_", "#", "_")

// TopicLevel turns a configured name into a single topic level.
func TopicLevel(name string) string {
	name = topicReplacer.Replace(strings.TrimSpace(name))
	if name == "" {
		return "unknown"
	}
	return name
}

var _ orchestrator.Reporter = (*Publisher)(nil)
