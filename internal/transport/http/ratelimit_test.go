package http

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestGetClientIP(t *testing.T) {
	tests := []struct {
		name      string
		remote    string
		forwarded string
		want      string
	}{
		{"remote addr port stripped", "192.0.2.10:5123", "", "192.0.2.10"},
		{"forwarded header ignored", "10.0.0.1:80", "198.51.100.4", "10.0.0.1"},
		{"forwarded chain ignored", "10.0.0.1:80", "198.51.100.4, 10.0.0.2", "10.0.0.1"},
		{"no port", "192.0.2.10", "", "192.0.2.10"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("GET", "/", nil)
			r.RemoteAddr = tt.remote
			if tt.forwarded != "" {
				r.Header.Set("X-Forwarded-For", tt.forwarded)
			}
			assert.Equal(t, tt.want, getClientIP(r))
		})
	}
}

func TestRateLimiter_EvictIdle(t *testing.T) {
	rl := NewRateLimiter(10, 10)
	defer rl.Stop()

	first := rl.GetLimiter("192.0.2.1")
	assert.Same(t, first, rl.GetLimiter("192.0.2.1"))
	rl.GetLimiter("192.0.2.2")

	rl.mu.Lock()
	rl.ips["192.0.2.1"].lastSeen = time.Now().Add(-time.Hour)
	rl.mu.Unlock()

	rl.evictIdle(time.Now())

	rl.mu.Lock()
	_, stale := rl.ips["192.0.2.1"]
	_, fresh := rl.ips["192.0.2.2"]
	rl.mu.Unlock()
	assert.False(t, stale)
	assert.True(t, fresh)
	assert.NotSame(t, first, rl.GetLimiter("192.0.2.1"))

	assert.NotPanics(t, rl.Stop)
}
