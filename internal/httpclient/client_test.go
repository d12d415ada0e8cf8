package httpclient

import (
	"context"
	"io"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	t.Run("nil config", func(t *testing.T) {
		client := New(nil)
		assert.Equal(t, DefaultTimeout, client.defaultTimeout)
		assert.Equal(t, "enclosure-cam", client.userAgent)
	})

	t.Run("overrides", func(t *testing.T) {
		cfg := Config{DefaultTimeout: 5 * time.Second, UserAgent: "probe/1.0"}
		client := New(&cfg)
		assert.Equal(t, 5*time.Second, client.defaultTimeout)
		assert.Equal(t, "probe/1.0", client.userAgent)
		assert.Equal(t, 5*time.Second, cfg.DefaultTimeout, "caller config is not mutated")
	})
}

func TestDo_SetsUserAgentAndHooks(t *testing.T) {
	var receivedUA string
	server := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		receivedUA = r.Header.Get("User-Agent")
		w.WriteHeader(http.StatusOK)
	})

	client := newTestClient(t)

	var before, after bool
	client.SetBeforeRequestHook(func(r *http.Request) {
		before = true
		assert.Equal(t, server.URL, r.URL.String())
	})
	client.SetAfterResponseHook(func(_ *http.Request, resp *http.Response, err error) {
		after = true
		assert.NotNil(t, resp)
		assert.NoError(t, err)
	})

	resp, err := client.Get(t.Context(), server.URL)
	require.NoError(t, err)
	defer closeResponseBody(t, resp)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "enclosure-cam", receivedUA)
	assert.True(t, before, "before hook was not called")
	assert.True(t, after, "after hook was not called")
}

func TestDo_Timeouts(t *testing.T) {
	server := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(300 * time.Millisecond):
		case <-r.Context().Done():
		}
		w.WriteHeader(http.StatusOK)
	})

	t.Run("default timeout applies without deadline", func(t *testing.T) {
		cfg := Config{DefaultTimeout: 50 * time.Millisecond}
		client := newTestClientWithConfig(t, &cfg)

		resp, err := client.Get(t.Context(), server.URL)
		defer closeResponseBody(t, resp)

		require.Error(t, err)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})

	t.Run("context deadline wins over default", func(t *testing.T) {
		cfg := Config{DefaultTimeout: 10 * time.Millisecond}
		client := newTestClientWithConfig(t, &cfg)

		ctx, cancel := context.WithTimeout(t.Context(), 2*time.Second)
		defer cancel()

		resp, err := client.Get(ctx, server.URL)
		require.NoError(t, err)
		defer closeResponseBody(t, resp)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	})

	t.Run("cancelled context", func(t *testing.T) {
		client := newTestClient(t)

		ctx, cancel := context.WithCancel(t.Context())
		cancel()

		resp, err := client.Get(ctx, server.URL)
		defer closeResponseBody(t, resp)

		require.Error(t, err)
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestDo_NilRequest(t *testing.T) {
	client := newTestClient(t)
	_, err := client.Do(t.Context(), nil)
	require.Error(t, err)
}

func TestPut(t *testing.T) {
	server := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method, "expected PUT method")
		assert.Equal(t, "image/jpg", r.Header.Get("Content-Type"))
		assert.Equal(t, "fp-1", r.Header.Get("fingerprint"))
		body, err := io.ReadAll(r.Body)
		assert.NoError(t, err)
		assert.Equal(t, []byte{0xff, 0xd8}, body)
		w.WriteHeader(http.StatusNoContent)
	})

	client := newTestClient(t)

	header := http.Header{}
	header.Set("fingerprint", "fp-1")
	header.Set("Content-Type", "image/jpg")

	resp, err := client.Put(t.Context(), server.URL, header, []byte{0xff, 0xd8})
	require.NoError(t, err, "PUT failed")
	defer closeResponseBody(t, resp)

	assert.Equal(t, http.StatusNoContent, resp.StatusCode, "expected status 204")
}

type headerTransport struct {
	next  http.RoundTripper
	key   string
	value string
}

func (h *headerTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	r = r.Clone(r.Context())
	r.Header.Set(h.key, h.value)
	return h.next.RoundTrip(r)
}

func TestWithTransport(t *testing.T) {
	var got []string
	server := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		got = append(got, r.Header.Get("X-One")+"|"+r.Header.Get("X-Two"))
		w.WriteHeader(http.StatusOK)
	})

	base := newTestClient(t)
	var hookCalls atomic.Int32
	base.SetAfterResponseHook(func(*http.Request, *http.Response, error) { hookCalls.Add(1) })

	one := base.WithTransport(func(rt http.RoundTripper) http.RoundTripper {
		return &headerTransport{next: rt, key: "X-One", value: "1"}
	})
	two := one.WithTransport(func(rt http.RoundTripper) http.RoundTripper {
		return &headerTransport{next: rt, key: "X-Two", value: "2"}
	})

	for _, c := range []*Client{base, one, two} {
		resp, err := c.Get(t.Context(), server.URL)
		require.NoError(t, err)
		closeResponseBody(t, resp)
	}

	assert.Equal(t, []string{"|", "1|", "1|2"}, got)
	assert.Equal(t, int32(3), hookCalls.Load(), "derived clients share hooks")
}

func TestDo_DefaultTimeoutKeepsBodyReadable(t *testing.T) {
	server := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"state":{"text":"PRINTING"}}`))
	})

	cfg := Config{DefaultTimeout: time.Second}
	client := newTestClientWithConfig(t, &cfg)

	resp, err := client.Get(context.Background(), server.URL)
	require.NoError(t, err)
	defer closeResponseBody(t, resp)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "PRINTING")
}

func TestClose(t *testing.T) {
	cfg := DefaultConfig()
	client := New(&cfg)

	// Close should not panic
	client.Close()

	// Multiple closes should be safe
	client.Close()
}
