package notify

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"flightguard/internal/config"
	"flightguard/internal/logging"
	"flightguard/internal/model"
	"flightguard/internal/retry"
)

func testEvent() model.AlertEvent {
	return model.AlertEvent{
		Category:  "quality_degradation",
		Severity:  model.SeverityHigh,
		Message:   "batch average quality 0.750 is 16.7% below baseline 0.900",
		DedupeKey: "quality_degradation|high",
		BatchID:   "b-1",
		Timestamp: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		Deliveries: []model.DeliveryResult{
			{Channel: "other", Status: model.DeliveryDelivered},
		},
	}
}

func TestWebhookPostsJSONPayload(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	wh := NewWebhook(config.ChannelConfig{Name: "hook", URL: srv.URL, Timeout: time.Second})
	require.NoError(t, wh.Deliver(context.Background(), testEvent()))
	assert.Equal(t, "flightguard", got["source"])
	alert := got["alert"].(map[string]any)
	assert.Equal(t, "quality_degradation", alert["category"])
	assert.NotContains(t, alert, "deliveries")
}

func TestWebhookSlackFormat(t *testing.T) {
	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&got)
	}))
	defer srv.Close()

	wh := NewWebhook(config.ChannelConfig{Name: "slack", URL: srv.URL, Format: "slack", Timeout: time.Second})
	require.NoError(t, wh.Deliver(context.Background(), testEvent()))
	assert.Contains(t, got["text"], "[HIGH]")
	assert.Contains(t, got["text"], "quality_degradation")
}

func TestWebhookErrorClassification(t *testing.T) {
	var status atomic.Int32
	status.Store(http.StatusBadGateway)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(int(status.Load()))
	}))
	defer srv.Close()
	wh := NewWebhook(config.ChannelConfig{Name: "hook", URL: srv.URL, Timeout: time.Second})

	err := wh.Deliver(context.Background(), testEvent())
	require.Error(t, err)
	assert.False(t, retry.IsPermanent(err))

	status.Store(http.StatusBadRequest)
	err = wh.Deliver(context.Background(), testEvent())
	require.Error(t, err)
	assert.True(t, retry.IsPermanent(err))
}

func TestWebhookURLFromEnv(t *testing.T) {
	t.Setenv("FG_TEST_HOOK", "http://example.invalid/hook")
	wh := NewWebhook(config.ChannelConfig{Name: "hook", URL: "http://fallback", URLEnv: "FG_TEST_HOOK"})
	assert.Equal(t, "http://example.invalid/hook", wh.url)
}

type fakeWriter struct {
	mu   sync.Mutex
	msgs []kafka.Message
}

func (f *fakeWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeWriter) Close() error { return nil }

func TestKafkaChannelKeysByDedupeKey(t *testing.T) {
	w := &fakeWriter{}
	ch := &Kafka{name: "bus", writer: w}
	require.NoError(t, ch.Deliver(context.Background(), testEvent()))
	require.Len(t, w.msgs, 1)
	assert.Equal(t, "quality_degradation|high", string(w.msgs[0].Key))
	var p payload
	require.NoError(t, json.Unmarshal(w.msgs[0].Value, &p))
	assert.Equal(t, model.SeverityHigh, p.Alert.Severity)
}

func TestBuildChannels(t *testing.T) {
	chs, err := Build([]config.ChannelConfig{
		{Name: "log", Type: config.ChannelLog},
		{Name: "hook", Type: config.ChannelWebhook, URL: "http://localhost:1"},
	}, logging.Discard())
	require.NoError(t, err)
	require.Len(t, chs, 2)
	assert.Equal(t, "log", chs[0].Name())
	assert.Equal(t, "hook", chs[1].Name())
	require.NoError(t, chs[0].Deliver(context.Background(), testEvent()))
	CloseAll(chs)

	_, err = Build([]config.ChannelConfig{{Name: "pager", Type: "pager"}}, logging.Discard())
	assert.Error(t, err)
}
