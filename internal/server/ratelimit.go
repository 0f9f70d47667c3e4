package server

import (
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimitConfig bounds request throughput. The global limit protects the
// process; the per-client limit keeps one chatty caller (or a webhook
// replay storm) from starving everyone else. Zero values disable the
// corresponding limit.
type RateLimitConfig struct {
	GlobalRPS      float64
	GlobalBurst    int
	PerClientRPS   float64
	PerClientBurst int
}

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

type rateLimiter struct {
	global         *rate.Limiter
	perClientRPS   float64
	perClientBurst int
	mu             sync.Mutex
	clients        map[string]*clientLimiter
	lastSweep      time.Time
}

const clientIdleEviction = 10 * time.Minute

func newRateLimiter(cfg RateLimitConfig) *rateLimiter {
	rl := &rateLimiter{
		perClientRPS:   cfg.PerClientRPS,
		perClientBurst: cfg.PerClientBurst,
		clients:        make(map[string]*clientLimiter),
		lastSweep:      time.Now(),
	}
	if cfg.GlobalRPS > 0 {
		burst := cfg.GlobalBurst
		if burst <= 0 {
			burst = int(cfg.GlobalRPS)
			if burst < 1 {
				burst = 1
			}
		}
		rl.global = rate.NewLimiter(rate.Limit(cfg.GlobalRPS), burst)
	}
	if rl.perClientBurst <= 0 && rl.perClientRPS > 0 {
		rl.perClientBurst = int(rl.perClientRPS)
		if rl.perClientBurst < 1 {
			rl.perClientBurst = 1
		}
	}
	return rl
}

func (rl *rateLimiter) allow(clientKey string) bool {
	if rl.global != nil && !rl.global.Allow() {
		return false
	}
	if rl.perClientRPS <= 0 {
		return true
	}

	now := time.Now()
	rl.mu.Lock()
	defer rl.mu.Unlock()
	if now.Sub(rl.lastSweep) > clientIdleEviction {
		for key, client := range rl.clients {
			if now.Sub(client.lastSeen) > clientIdleEviction {
				delete(rl.clients, key)
			}
		}
		rl.lastSweep = now
	}
	client, ok := rl.clients[clientKey]
	if !ok {
		client = &clientLimiter{limiter: rate.NewLimiter(rate.Limit(rl.perClientRPS), rl.perClientBurst)}
		rl.clients[clientKey] = client
	}
	client.lastSeen = now
	return client.limiter.Allow()
}

func (rl *rateLimiter) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.allow(clientKey(r)) {
			w.Header().Set("Retry-After", "1")
			http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
