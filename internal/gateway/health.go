package gateway

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/mcpgate/mcpgate/internal/model"
)

// Checker periodically probes registered HTTP instances and records the
// results in the registry. Instances that keep failing are evicted once they
// reach the failure limit.
type Checker struct {
	registry    *Registry
	client      *http.Client
	interval    time.Duration
	maxFailures int
	logger      *slog.Logger

	checks atomic.Int64
}

func NewChecker(registry *Registry, interval time.Duration, maxFailures int, logger *slog.Logger) *Checker {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Checker{
		registry:    registry,
		client:      &http.Client{Timeout: 10 * time.Second},
		interval:    interval,
		maxFailures: maxFailures,
		logger:      logger,
	}
}

// Checks reports how many probes the checker has issued.
func (c *Checker) Checks() int64 {
	return c.checks.Load()
}

// Run probes all instances on a fixed interval until the context is
// cancelled. Call it from its own goroutine.
func (c *Checker) Run(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	c.logger.Info("health checker started", "interval", c.interval)
	for {
		select {
		case <-ctx.Done():
			c.logger.Info("health checker stopped")
			return
		case <-ticker.C:
			c.CheckAll(ctx)
		}
	}
}

// CheckAll probes every registered instance once and evicts those past the
// failure limit.
func (c *Checker) CheckAll(ctx context.Context) {
	for _, tmpl := range c.registry.Templates() {
		for _, inst := range tmpl.Instances {
			healthy := c.CheckInstance(ctx, inst)
			if err := c.registry.MarkHealth(ctx, inst.Template, inst.ID, healthy); err != nil {
				// Deregistered mid-sweep.
				continue
			}
			if !healthy {
				c.logger.Warn("instance unhealthy", "template", inst.Template, "instance_id", inst.ID)
			}
		}
	}
	if c.maxFailures > 0 {
		c.registry.ClearUnhealthy(ctx, c.maxFailures)
	}
}

// CheckInstance probes one instance. HTTP instances must answer 2xx on their
// health endpoint; stdio instances are spawned per request so there is no
// process to probe, and they count as healthy while registered.
func (c *Checker) CheckInstance(ctx context.Context, inst model.BackendInstance) bool {
	c.checks.Add(1)

	if inst.Transport != model.TransportHTTP {
		return true
	}

	url := strings.TrimRight(inst.Endpoint, "/") + "/health"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode >= 200 && resp.StatusCode < 300
}
