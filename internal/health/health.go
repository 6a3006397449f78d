package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"github.com/Shugur-Network/relay-gate/internal/logger"
)

const checkTimeout = 5 * time.Second

// HealthStatus represents the overall health status
type HealthStatus string

const (
	StatusHealthy   HealthStatus = "healthy"
	StatusDegraded  HealthStatus = "degraded"
	StatusUnhealthy HealthStatus = "unhealthy"
)

// ComponentStatus represents the status of a specific component
type ComponentStatus struct {
	Name    string                 `json:"name"`
	Status  HealthStatus           `json:"status"`
	Message string                 `json:"message,omitempty"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// HealthResponse represents the complete health check response
type HealthResponse struct {
	Status     HealthStatus           `json:"status"`
	Timestamp  time.Time              `json:"timestamp"`
	Version    string                 `json:"version"`
	Uptime     string                 `json:"uptime"`
	Components []*ComponentStatus     `json:"components"`
	Summary    map[string]interface{} `json:"summary"`
}

// GatewayStats is the slice of the connection manager the checker reads.
type GatewayStats interface {
	Count() int
	PendingPayments() int
}

// Pinger is a backing service that can be probed.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthChecker performs health checks over the gateway and its backends
type HealthChecker struct {
	gateway        GatewayStats
	maxConnections int
	version        string
	clock          clock.Clock
	startTime      time.Time
	logger         *zap.Logger

	mu       sync.RWMutex
	backends map[string]Pinger
}

// NewHealthChecker creates a new health checker
func NewHealthChecker(gateway GatewayStats, maxConnections int, version string, clk clock.Clock) *HealthChecker {
	if clk == nil {
		clk = clock.New()
	}
	return &HealthChecker{
		gateway:        gateway,
		maxConnections: maxConnections,
		version:        version,
		clock:          clk,
		startTime:      clk.Now(),
		logger:         logger.New("health"),
		backends:       make(map[string]Pinger),
	}
}

// AddBackend registers a service whose reachability affects health.
func (h *HealthChecker) AddBackend(name string, p Pinger) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.backends[name] = p
}

// CheckHealth performs a comprehensive health check
func (h *HealthChecker) CheckHealth(ctx context.Context) *HealthResponse {
	h.mu.RLock()
	names := make([]string, 0, len(h.backends))
	for name := range h.backends {
		names = append(names, name)
	}
	backends := make(map[string]Pinger, len(h.backends))
	for k, v := range h.backends {
		backends[k] = v
	}
	h.mu.RUnlock()
	sort.Strings(names)

	started := h.clock.Now()
	components := []*ComponentStatus{h.checkConnections(), h.checkMemory()}
	for _, name := range names {
		components = append(components, h.checkBackend(ctx, name, backends[name]))
	}

	return &HealthResponse{
		Status:     determineOverallStatus(components),
		Timestamp:  h.clock.Now(),
		Version:    h.version,
		Uptime:     formatUptime(h.clock.Since(h.startTime)),
		Components: components,
		Summary: map[string]interface{}{
			"active_connections":   h.gateway.Count(),
			"pending_payments":     h.gateway.PendingPayments(),
			"total_components":     len(components),
			"unhealthy_components": countComponentsByStatus(components, StatusUnhealthy),
			"check_duration_ms":    h.clock.Since(started).Milliseconds(),
		},
	}
}

func (h *HealthChecker) checkBackend(ctx context.Context, name string, p Pinger) *ComponentStatus {
	status := &ComponentStatus{Name: name, Status: StatusHealthy, Message: "reachable"}
	if err := p.Ping(ctx); err != nil {
		status.Status = StatusUnhealthy
		status.Message = "unreachable"
		status.Details = map[string]interface{}{"error": err.Error()}
	}
	return status
}

// checkConnections compares open client connections with the configured cap.
func (h *HealthChecker) checkConnections() *ComponentStatus {
	count := h.gateway.Count()
	status := &ComponentStatus{
		Name: "connections",
		Details: map[string]interface{}{
			"active_connections": count,
			"pending_payments":   h.gateway.PendingPayments(),
		},
	}
	if h.maxConnections <= 0 {
		status.Status = StatusHealthy
		status.Message = fmt.Sprintf("%d open", count)
		return status
	}

	utilization := float64(count) / float64(h.maxConnections) * 100
	status.Details["max_connections"] = h.maxConnections
	status.Details["connection_utilization_percent"] = utilization

	switch {
	case count >= h.maxConnections:
		status.Status = StatusDegraded
		status.Message = fmt.Sprintf("At connection capacity: %d/%d", count, h.maxConnections)
	case utilization > 90:
		status.Status = StatusDegraded
		status.Message = fmt.Sprintf("High connection utilization: %d/%d (%.1f%%)", count, h.maxConnections, utilization)
	default:
		status.Status = StatusHealthy
		status.Message = fmt.Sprintf("Connection count normal: %d/%d (%.1f%%)", count, h.maxConnections, utilization)
	}
	return status
}

// checkMemory checks memory usage
func (h *HealthChecker) checkMemory() *ComponentStatus {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	allocMB := float64(m.Alloc) / 1024 / 1024
	status := &ComponentStatus{
		Name: "memory",
		Details: map[string]interface{}{
			"alloc_mb":   allocMB,
			"sys_mb":     float64(m.Sys) / 1024 / 1024,
			"num_gc":     m.NumGC,
			"goroutines": runtime.NumGoroutine(),
		},
	}

	const (
		memoryWarningMB  = 500
		memoryCriticalMB = 1000
	)
	switch {
	case allocMB > memoryCriticalMB:
		status.Status = StatusUnhealthy
		status.Message = fmt.Sprintf("High memory usage: %.1f MB", allocMB)
	case allocMB > memoryWarningMB:
		status.Status = StatusDegraded
		status.Message = fmt.Sprintf("Elevated memory usage: %.1f MB", allocMB)
	default:
		status.Status = StatusHealthy
		status.Message = fmt.Sprintf("Memory usage normal: %.1f MB", allocMB)
	}
	return status
}

func determineOverallStatus(components []*ComponentStatus) HealthStatus {
	overall := StatusHealthy
	for _, comp := range components {
		switch comp.Status {
		case StatusUnhealthy:
			return StatusUnhealthy
		case StatusDegraded:
			overall = StatusDegraded
		}
	}
	return overall
}

func countComponentsByStatus(components []*ComponentStatus, status HealthStatus) int {
	count := 0
	for _, comp := range components {
		if comp.Status == status {
			count++
		}
	}
	return count
}

// formatUptime formats uptime duration as a human-readable string
func formatUptime(d time.Duration) string {
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	minutes := int(d.Minutes()) % 60
	seconds := int(d.Seconds()) % 60

	switch {
	case days > 0:
		return fmt.Sprintf("%dd %dh %dm %ds", days, hours, minutes, seconds)
	case hours > 0:
		return fmt.Sprintf("%dh %dm %ds", hours, minutes, seconds)
	case minutes > 0:
		return fmt.Sprintf("%dm %ds", minutes, seconds)
	}
	return fmt.Sprintf("%ds", seconds)
}

// ServeHTTP answers GET /health. Only an unhealthy gateway yields 503.
func (h *HealthChecker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
	defer cancel()

	resp := h.CheckHealth(ctx)
	statusCode := http.StatusOK
	if resp.Status == StatusUnhealthy {
		statusCode = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(resp); err != nil {
		h.logger.Error("Failed to encode health response", zap.Error(err))
		return
	}
	h.logger.Debug("Health check completed",
		zap.String("status", string(resp.Status)),
		zap.Int("status_code", statusCode),
		zap.String("client_ip", r.RemoteAddr))
}
