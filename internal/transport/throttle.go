package transport

import (
	"net"
	"net/http"
	"sync"

	"golang.org/x/time/rate"
)

// limiterPair mirrors the teacher's per-session RPS/RPM limiter pair
// (server/mcp/validators/throttling.go), keyed here by remote client address
// rather than by MCP session, since this transport has no session concept.
type limiterPair struct {
	rps *rate.Limiter
	rpm *rate.Limiter
}

// throttle enforces a requests-per-second and requests-per-minute ceiling
// per client address on the JSON-RPC endpoint, generalizing the teacher's
// Throttling validator from a per-session MessageValidator to an HTTP
// middleware over remote address.
type throttle struct {
	mu       sync.Mutex
	clients  map[string]*limiterPair
	rps, rpm int
}

func newThrottle(rps, rpm int) *throttle {
	return &throttle{clients: make(map[string]*limiterPair), rps: rps, rpm: rpm}
}

func (t *throttle) allow(remoteAddr string) bool {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		host = remoteAddr
	}

	t.mu.Lock()
	pair, ok := t.clients[host]
	if !ok {
		pair = &limiterPair{}
		if t.rps > 0 {
			pair.rps = rate.NewLimiter(rate.Limit(t.rps), t.rps)
		}
		if t.rpm > 0 {
			// Convert requests-per-minute to the limiter's per-second rate.
			pair.rpm = rate.NewLimiter(rate.Limit(t.rpm)/60.0, t.rpm)
		}
		t.clients[host] = pair
	}
	t.mu.Unlock()

	if pair.rps != nil && !pair.rps.Allow() {
		return false
	}
	if pair.rpm != nil && !pair.rpm.Allow() {
		return false
	}
	return true
}

func (t *throttle) middleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !t.allow(r.RemoteAddr) {
			http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
			return
		}
		next(w, r)
	}
}
