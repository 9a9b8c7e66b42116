// Package handler reports readiness of the auth service's dependencies over gRPC health and HTTP.
package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

const defaultPingTimeout = 2 * time.Second

// Pinger is a dependency that can report whether it is reachable (e.g. *pgxpool.Pool).
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingerFunc adapts a function to Pinger.
type PingerFunc func(ctx context.Context) error

// Ping calls f(ctx).
func (f PingerFunc) Ping(ctx context.Context) error { return f(ctx) }

// RedisPinger adapts a go-redis client to Pinger.
func RedisPinger(c redis.UniversalClient) Pinger {
	return PingerFunc(func(ctx context.Context) error {
		return c.Ping(ctx).Err()
	})
}

// Checker pings registered dependencies and mirrors the result into a gRPC health server.
// Services are reported SERVING only when every dependency answers.
type Checker struct {
	grpc     *health.Server
	services []string
	logger   *slog.Logger
	timeout  time.Duration

	mu      sync.RWMutex
	pingers map[string]Pinger
	last    map[string]string
}

// NewChecker returns a Checker that updates hs for the overall status ("") and each name in services.
// hs may be nil when only the HTTP endpoint is used.
func NewChecker(hs *health.Server, logger *slog.Logger, services ...string) *Checker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Checker{
		grpc:     hs,
		services: append([]string{""}, services...),
		logger:   logger,
		timeout:  defaultPingTimeout,
		pingers:  make(map[string]Pinger),
		last:     make(map[string]string),
	}
}

// Register adds a named dependency. A nil pinger is ignored.
func (c *Checker) Register(name string, p Pinger) {
	if p == nil {
		return
	}
	c.mu.Lock()
	c.pingers[name] = p
	c.mu.Unlock()
}

// Check pings every dependency and returns per-dependency results ("ok" or the error text).
// It reports whether all dependencies are healthy.
func (c *Checker) Check(ctx context.Context) (map[string]string, bool) {
	c.mu.RLock()
	pingers := make(map[string]Pinger, len(c.pingers))
	for k, v := range c.pingers {
		pingers[k] = v
	}
	c.mu.RUnlock()

	results := make(map[string]string, len(pingers))
	healthy := true
	for name, p := range pingers {
		pctx, cancel := context.WithTimeout(ctx, c.timeout)
		err := p.Ping(pctx)
		cancel()
		if err != nil {
			healthy = false
			results[name] = err.Error()
			continue
		}
		results[name] = "ok"
	}

	status := healthpb.HealthCheckResponse_SERVING
	if !healthy {
		status = healthpb.HealthCheckResponse_NOT_SERVING
	}
	if c.grpc != nil {
		for _, svc := range c.services {
			c.grpc.SetServingStatus(svc, status)
		}
	}
	c.logTransitions(results)
	return results, healthy
}

func (c *Checker) logTransitions(results map[string]string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for name, res := range results {
		if prev, ok := c.last[name]; ok && prev == res {
			continue
		}
		if res == "ok" {
			c.logger.Info("dependency healthy", "dependency", name)
		} else {
			c.logger.Warn("dependency unhealthy", "dependency", name, "error", res)
		}
		c.last[name] = res
	}
}

// Run checks immediately and then every interval until ctx is canceled.
func (c *Checker) Run(ctx context.Context, interval time.Duration) {
	c.Check(ctx)
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			c.Check(ctx)
		}
	}
}

// Shutdown marks every service NOT_SERVING so load balancers drain before the server stops.
func (c *Checker) Shutdown() {
	if c.grpc != nil {
		c.grpc.Shutdown()
	}
}

type healthResponse struct {
	Status       string            `json:"status"`
	Dependencies map[string]string `json:"dependencies,omitempty"`
}

// ServeHTTP answers GET /healthz with 200 when healthy and 503 otherwise.
func (c *Checker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	results, healthy := c.Check(r.Context())
	resp := healthResponse{Status: "SERVING", Dependencies: results}
	code := http.StatusOK
	if !healthy {
		resp.Status = "NOT_SERVING"
		code = http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(resp)
}

// Names returns the registered dependency names in sorted order.
func (c *Checker) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.pingers))
	for k := range c.pingers {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
