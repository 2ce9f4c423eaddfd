package integration

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTopic(t *testing.T) {
	tests := []struct {
		prefix, subject string
		topic           string
		retained, ok    bool
	}{
		{"dongle", "dongle.device.351234567890123.added", "dongle/351234567890123/added", false, true},
		{"home/gsm/", "dongle.device.351234567890123.state", "home/gsm/351234567890123/state", false, true},
		{"", "dongle.device.1.sms", "1/sms", false, true},
		{"dongle", "dongle.bridge.status", "dongle/bridge/status", true, true},
		{"dongle", "dongle.cmd.sms", "", false, false},
		{"dongle", "dongle.device.1", "", false, false},
		{"dongle", "other.device.1.added", "", false, false},
	}
	for _, tt := range tests {
		t.Run(tt.subject, func(t *testing.T) {
			f := NewForwarderService(nil, tt.prefix)
			topic, retained, ok := Topic(f.prefix, tt.subject)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.topic, topic)
			assert.Equal(t, tt.retained, retained)
		})
	}
}

type sent struct {
	topic    string
	retained bool
	payload  string
}

type recordingSink struct {
	mu   sync.Mutex
	msgs []sent
	err  error
}

func (r *recordingSink) Name() string { return "recording" }

func (r *recordingSink) Send(_ context.Context, topic string, retained bool, payload []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, sent{topic, retained, string(payload)})
	return r.err
}

func (r *recordingSink) Close() {}

func TestForwardToAllSinks(t *testing.T) {
	failing := &recordingSink{err: errors.New("broker down")}
	ok := &recordingSink{}
	f := NewForwarderService(nil, "dongle", failing, ok)

	f.forward(context.Background(), "dongle.device.42.removed", []byte(`{"imei":"42"}`))
	f.forward(context.Background(), "dongle.bridge.status", []byte(`{"connected":true}`))
	f.forward(context.Background(), "dongle.cmd.exec", []byte(`{}`))

	require.Len(t, ok.msgs, 2)
	assert.Equal(t, sent{"dongle/42/removed", false, `{"imei":"42"}`}, ok.msgs[0])
	assert.Equal(t, sent{"dongle/bridge/status", true, `{"connected":true}`}, ok.msgs[1])
	assert.Len(t, failing.msgs, 2)
}

func TestWebhookSink(t *testing.T) {
	var (
		gotTopic, gotAuth, gotBody string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotTopic = r.Header.Get("X-Dongle-Topic")
		gotAuth = r.Header.Get("Authorization")
		body, _ := io.ReadAll(r.Body)
		gotBody = string(body)
		if r.URL.Path == "/fail" {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	sink := NewWebhookSink(WebhookConfig{
		Endpoint: srv.URL + "/hook",
		Headers:  map[string]string{"Authorization": "Bearer t"},
		Timeout:  time.Second,
	})
	defer sink.Close()

	require.NoError(t, sink.Send(context.Background(), "dongle/1/added", false, []byte(`{"a":1}`)))
	assert.Equal(t, "dongle/1/added", gotTopic)
	assert.Equal(t, "Bearer t", gotAuth)
	assert.Equal(t, `{"a":1}`, gotBody)

	failing := NewWebhookSink(WebhookConfig{Endpoint: srv.URL + "/fail"})
	assert.ErrorContains(t, failing.Send(context.Background(), "t", false, nil), "status 502")
}
