package admin

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/larkspur-labs/proxycache/internal/cache"
	"github.com/larkspur-labs/proxycache/internal/httpmsg"
)

type fakeActivity struct {
	clients, tunnels int64
}

func (f fakeActivity) ActiveClients() int64 { return f.clients }
func (f fakeActivity) ActiveTunnels() int64 { return f.tunnels }

func TestHealthz(t *testing.T) {
	s := New(cache.New(4, time.Minute), fakeActivity{})
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestMetricsExposesCacheCounters(t *testing.T) {
	c := cache.New(4, time.Minute)
	resp := &httpmsg.Response{Raw: []byte("HTTP/1.1 200 OK\r\nContent-Length: 0\r\n\r\n"), ContentLen: 0}
	c.Put("example.com/a", resp, time.Minute)
	c.Get("example.com/a")
	c.Get("example.com/missing")

	s := New(c, fakeActivity{clients: 2, tunnels: 1})
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "proxycache_cache_hits_total 1")
	require.Contains(t, rec.Body.String(), "proxycache_active_clients 2")
}

func TestCacheSnapshotJSON(t *testing.T) {
	c := cache.New(4, time.Minute)
	resp := &httpmsg.Response{Raw: []byte("HTTP/1.1 200 OK\r\nContent-Length: 0\r\n\r\n"), ContentLen: 0}
	c.Put("example.com/a", resp, time.Minute)

	s := New(c, fakeActivity{})
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/cache", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var entries []cacheEntryView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &entries))
	require.Len(t, entries, 1)
	require.Equal(t, "example.com/a", entries[0].Key)
}
