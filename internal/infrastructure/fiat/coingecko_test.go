package fiat

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestServer(t *testing.T, body string, status int) (*httptest.Server, *int32) {
	t.Helper()
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		assert.Equal(t, "/simple/price", r.URL.Path)
		assert.Equal(t, "bitcoin", r.URL.Query().Get("ids"))
		assert.Equal(t, "usd", r.URL.Query().Get("vs_currencies"))
		w.WriteHeader(status)
		w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func TestConvert_CachesRate(t *testing.T) {
	srv, calls := newTestServer(t, `{"bitcoin":{"usd":15000}}`, http.StatusOK)
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	conv := NewCoinGeckoConverter(srv.URL, zap.NewNop())
	conv.now = func() time.Time { return now }

	got, err := conv.Convert(context.Background(), 0.00006126, "BTC", "USD")
	require.NoError(t, err)
	assert.InDelta(t, 0.9189, got, 1e-9)

	_, err = conv.Convert(context.Background(), 1, "btc", "usd")
	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(calls))

	now = now.Add(RateTTL)
	_, err = conv.Convert(context.Background(), 1, "BTC", "USD")
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(calls), "expired rate is refetched")
}

func TestConvert_SameCurrency(t *testing.T) {
	conv := NewCoinGeckoConverter("http://127.0.0.1:0", zap.NewNop())
	got, err := conv.Convert(context.Background(), 2.5, "USD", "usd")
	require.NoError(t, err)
	assert.Equal(t, 2.5, got)
}

func TestConvert_Errors(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		status int
	}{
		{"rate limited", `{"status":{"error_code":429}}`, http.StatusTooManyRequests},
		{"missing price", `{"bitcoin":{}}`, http.StatusOK},
		{"garbled", `<html>`, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, _ := newTestServer(t, tt.body, tt.status)
			conv := NewCoinGeckoConverter(srv.URL, zap.NewNop())
			_, err := conv.Convert(context.Background(), 1, "BTC", "USD")
			assert.Error(t, err)
		})
	}
}
