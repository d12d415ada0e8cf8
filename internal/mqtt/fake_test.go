package mqtt

import (
	"context"
	"sync"
)

type published struct {
	topic   string
	payload []byte
	retain  bool
}

// fakeClient records publishes. When block is set every Publish waits for
// it to be closed or for ctx to end.
type fakeClient struct {
	mu        sync.Mutex
	messages  []published
	err       error
	block     chan struct{}
	connected bool
	notify    chan struct{}
}

func newFakeClient() *fakeClient {
	return &fakeClient{connected: true, notify: make(chan struct{}, 256)}
}

func (c *fakeClient) Connect(context.Context) error {
	c.mu.Lock()
	c.connected = true
	c.mu.Unlock()
	return nil
}

func (c *fakeClient) Publish(ctx context.Context, topic string, payload []byte, retain bool) error {
	if c.block != nil {
		select {
		case <-c.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	c.mu.Lock()
	c.messages = append(c.messages, published{topic: topic, payload: payload, retain: retain})
	err := c.err
	c.mu.Unlock()
	c.notify <- struct{}{}
	return err
}

func (c *fakeClient) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *fakeClient) Disconnect() {
	c.mu.Lock()
	c.connected = false
	c.mu.Unlock()
}

func (c *fakeClient) all() []published {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]published(nil), c.messages...)
}

func (c *fakeClient) byTopic() map[string]published {
	out := make(map[string]published)
	for _, m := range c.all() {
		out[m.topic] = m
	}
	return out
}
