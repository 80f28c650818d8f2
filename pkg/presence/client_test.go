package presence

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClient_CheckPresence(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if r.Header.Get("X-API-Key") != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/v1/presence/online":
			w.Write([]byte(`{"required":true,"connected":true}`))
		case "/v1/presence/offline":
			w.Write([]byte(`{"required":true,"connected":false}`))
		case "/v1/presence/console":
			w.Write([]byte(`{"required":false,"connected":false}`))
		case "/v1/presence/broken":
			w.WriteHeader(http.StatusBadGateway)
			w.Write([]byte(`upstream down`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	client := NewClient(srv.URL, WithAPIKey("secret"), WithTimeout(time.Second))
	ctx := context.Background()

	tests := []struct {
		player string
		ok     bool
	}{
		{"online", true},
		{"offline", false},
		{"console", true},
		{"unknown", false},
	}
	for _, tt := range tests {
		t.Run(tt.player, func(t *testing.T) {
			res, err := client.CheckPresence(ctx, tt.player)
			require.NoError(t, err)
			assert.Equal(t, tt.ok, res.OK())
		})
	}

	_, err := client.CheckPresence(ctx, "broken")
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusBadGateway, apiErr.Status)
	assert.Equal(t, "upstream down", apiErr.Body)
}

func TestClient_RetriesServerErrors(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"required":true,"connected":true}`))
	}))
	defer srv.Close()

	client := NewClient(srv.URL, WithRetries(3))
	res, err := client.CheckPresence(context.Background(), "p1")
	require.NoError(t, err)
	assert.True(t, res.Connected)
	assert.Equal(t, int32(3), hits.Load())
}
