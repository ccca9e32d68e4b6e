package delivery

import (
	"SupportDesk/internal/config"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newService(t *testing.T, h http.HandlerFunc) *Service {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	conf := &config.Config{}
	conf.Channel.OutboundURL = srv.URL + "/send/"
	conf.Channel.ApiKey = "chan-key"
	conf.Channel.Timeout = time.Second
	return NewDeliveryService(conf, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestDeliver(t *testing.T) {
	var got sendRequest
	s := newService(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/send", r.URL.Path)
		assert.Equal(t, "Bearer chan-key", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusAccepted)
	})

	require.NoError(t, s.Deliver(context.Background(), "+50255550000", "hello"))
	assert.Equal(t, "+50255550000", got.To)
	assert.Equal(t, "text", got.Type)
	assert.Equal(t, "hello", got.Content)
	assert.NotZero(t, got.Watermark)
}

func TestDeliver_ChannelError(t *testing.T) {
	s := newService(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unknown recipient", http.StatusUnprocessableEntity)
	})

	err := s.Deliver(context.Background(), "+50255550000", "hello")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "422")
	assert.Contains(t, err.Error(), "unknown recipient")
}

func TestNewDeliveryService_Disabled(t *testing.T) {
	assert.Nil(t, NewDeliveryService(&config.Config{}, slog.New(slog.NewTextHandler(io.Discard, nil))))
}
