package monitoring

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ramincsy/Sarafchi/internal/cache"
)

type HealthChecker interface {
	CheckHealth(ctx context.Context) *HealthStatus
	RegisterCheck(name string, checker ComponentChecker)
}

type ComponentChecker interface {
	Check(ctx context.Context) error
	Name() string
	Timeout() time.Duration
}

type HealthStatus struct {
	Status     string                      `json:"status"` // "healthy", "degraded", "unhealthy"
	Timestamp  time.Time                   `json:"timestamp"`
	Uptime     time.Duration               `json:"uptime"`
	Version    string                      `json:"version"`
	Components map[string]*ComponentHealth `json:"components"`
}

type ComponentHealth struct {
	Status      string        `json:"status"`
	LastChecked time.Time     `json:"last_checked"`
	Duration    time.Duration `json:"duration"`
	Error       string        `json:"error,omitempty"`
}

type healthChecker struct {
	checkers  map[string]ComponentChecker
	startTime time.Time
	version   string
	mutex     sync.RWMutex
}

func NewHealthChecker(version string) HealthChecker {
	return &healthChecker{
		checkers:  make(map[string]ComponentChecker),
		startTime: time.Now(),
		version:   version,
	}
}

func (h *healthChecker) RegisterCheck(name string, checker ComponentChecker) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	h.checkers[name] = checker
}

func (h *healthChecker) CheckHealth(ctx context.Context) *HealthStatus {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	components := make(map[string]*ComponentHealth, len(h.checkers))
	unhealthy := 0
	for name, checker := range h.checkers {
		health := h.checkComponent(ctx, checker)
		components[name] = health
		if health.Status != "healthy" {
			unhealthy++
		}
	}

	overall := "healthy"
	switch {
	case unhealthy == 0:
	case unhealthy < len(h.checkers):
		overall = "degraded"
	default:
		overall = "unhealthy"
	}

	return &HealthStatus{
		Status:     overall,
		Timestamp:  time.Now(),
		Uptime:     time.Since(h.startTime),
		Version:    h.version,
		Components: components,
	}
}

func (h *healthChecker) checkComponent(ctx context.Context, checker ComponentChecker) *ComponentHealth {
	start := time.Now()
	checkCtx, cancel := context.WithTimeout(ctx, checker.Timeout())
	defer cancel()

	err := checker.Check(checkCtx)
	health := &ComponentHealth{
		LastChecked: time.Now(),
		Duration:    time.Since(start),
		Status:      "healthy",
	}
	if err != nil {
		health.Status = "unhealthy"
		health.Error = err.Error()
	}
	return health
}

// DatabaseChecker wraps a ping function so the monitoring package stays
// ignorant of the driver.
type DatabaseChecker struct {
	name string
	ping func(ctx context.Context) error
}

func NewDatabaseChecker(name string, ping func(ctx context.Context) error) ComponentChecker {
	return &DatabaseChecker{name: name, ping: ping}
}

func (d *DatabaseChecker) Name() string           { return d.name }
func (d *DatabaseChecker) Timeout() time.Duration { return 5 * time.Second }
func (d *DatabaseChecker) Check(ctx context.Context) error {
	if d.ping == nil {
		return fmt.Errorf("no ping function configured for %s", d.name)
	}
	return d.ping(ctx)
}

type CacheChecker struct {
	name  string
	cache cache.CacheService
}

func NewCacheChecker(name string, cacheService cache.CacheService) ComponentChecker {
	return &CacheChecker{name: name, cache: cacheService}
}

func (c *CacheChecker) Name() string                    { return c.name }
func (c *CacheChecker) Timeout() time.Duration          { return 3 * time.Second }
func (c *CacheChecker) Check(ctx context.Context) error { return c.cache.Ping(ctx) }

// UploadDirChecker verifies the receipt upload directory is writable.
type UploadDirChecker struct {
	name string
	dir  string
}

func NewUploadDirChecker(name, dir string) ComponentChecker {
	return &UploadDirChecker{name: name, dir: dir}
}

func (u *UploadDirChecker) Name() string           { return u.name }
func (u *UploadDirChecker) Timeout() time.Duration { return 2 * time.Second }

func (u *UploadDirChecker) Check(ctx context.Context) error {
	if err := os.MkdirAll(u.dir, 0o755); err != nil {
		return fmt.Errorf("upload dir not creatable: %w", err)
	}
	probe := filepath.Join(u.dir, ".healthcheck")
	if err := os.WriteFile(probe, []byte("ok"), 0o644); err != nil {
		return fmt.Errorf("upload dir not writable: %w", err)
	}
	return os.Remove(probe)
}
