package resilience

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"net/http"
	"runtime"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// HealthStatus is the verdict of one check or of a whole round.
type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "HEALTHY"
	HealthStatusDegraded  HealthStatus = "DEGRADED"
	HealthStatusUnhealthy HealthStatus = "UNHEALTHY"
	HealthStatusUnknown   HealthStatus = "UNKNOWN"
)

// severity orders statuses so a round reports its worst component.
var severity = map[HealthStatus]int{
	HealthStatusHealthy:   0,
	HealthStatusDegraded:  1,
	HealthStatusUnhealthy: 2,
}

// ComponentHealth is the latest result of one named check.
type ComponentHealth struct {
	Name      string                 `json:"name"`
	Status    HealthStatus           `json:"status"`
	Message   string                 `json:"message"`
	LastCheck time.Time              `json:"last_check"`
	Latency   time.Duration          `json:"latency_ns"`
	Details   map[string]interface{} `json:"details,omitempty"`
}

// HealthCheck checks one component.
type HealthCheck func(ctx context.Context) ComponentHealth

// SystemHealth is what /health serves.
type SystemHealth struct {
	Status        HealthStatus      `json:"status"`
	Uptime        string            `json:"uptime"`
	StartTime     time.Time         `json:"start_time"`
	Components    []ComponentHealth `json:"components"`
	Goroutines    int               `json:"goroutines"`
	MemoryAllocMB uint64            `json:"memory_alloc_mb"`
	TotalChecks   int64             `json:"total_checks"`
	FailedChecks  int64             `json:"failed_checks"`
}

type HealthMonitorConfig struct {
	CheckInterval time.Duration
	CheckTimeout  time.Duration
}

func DefaultHealthMonitorConfig() HealthMonitorConfig {
	return HealthMonitorConfig{CheckInterval: 30 * time.Second, CheckTimeout: 10 * time.Second}
}

// HealthMonitor runs registered checks on an interval and keeps the latest
// result of each for the HTTP handlers.
type HealthMonitor struct {
	cfg     HealthMonitorConfig
	logger  zerolog.Logger
	started time.Time

	mu          sync.RWMutex
	checks      map[string]HealthCheck
	latest      map[string]ComponentHealth
	status      HealthStatus
	rounds      int64
	failures    int64
	onUnhealthy func(ComponentHealth)

	cancel context.CancelFunc
	done   chan struct{}
}

func NewHealthMonitor(cfg HealthMonitorConfig, logger zerolog.Logger) *HealthMonitor {
	return &HealthMonitor{
		cfg:     cfg,
		logger:  logger.With().Str("component", "health").Logger(),
		started: time.Now(),
		checks:  make(map[string]HealthCheck),
		latest:  make(map[string]ComponentHealth),
		status:  HealthStatusUnknown,
	}
}

// RegisterComponent adds or replaces the check stored under name.
func (m *HealthMonitor) RegisterComponent(name string, check HealthCheck) {
	m.mu.Lock()
	m.checks[name] = check
	m.mu.Unlock()
}

// OnUnhealthy sets a callback invoked for every unhealthy check result.
func (m *HealthMonitor) OnUnhealthy(callback func(ComponentHealth)) {
	m.mu.Lock()
	m.onUnhealthy = callback
	m.mu.Unlock()
}

// Start runs a round immediately and then every CheckInterval until Stop
// is called or ctx is done.
func (m *HealthMonitor) Start(ctx context.Context) {
	ctx, m.cancel = context.WithCancel(ctx)
	m.done = make(chan struct{})
	go func() {
		defer close(m.done)
		tick := time.NewTicker(m.cfg.CheckInterval)
		defer tick.Stop()
		for {
			m.CheckNow(ctx)
			select {
			case <-ctx.Done():
				return
			case <-tick.C:
			}
		}
	}()
}

// Stop cancels the loop and waits for an in-flight round.
func (m *HealthMonitor) Stop() {
	if m.cancel == nil {
		return
	}
	m.cancel()
	<-m.done
}

// CheckNow runs every registered check concurrently under CheckTimeout and
// records the round.
func (m *HealthMonitor) CheckNow(ctx context.Context) SystemHealth {
	m.mu.RLock()
	checks := maps.Clone(m.checks)
	m.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, m.cfg.CheckTimeout)
	defer cancel()

	results := make([]ComponentHealth, 0, len(checks))
	var (
		wg  sync.WaitGroup
		rmu sync.Mutex
	)
	for name, check := range checks {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h := runCheck(ctx, name, check)
			rmu.Lock()
			results = append(results, h)
			rmu.Unlock()
		}()
	}
	wg.Wait()

	worst := HealthStatusHealthy
	var down []ComponentHealth
	m.mu.Lock()
	m.rounds++
	for _, h := range results {
		m.latest[h.Name] = h
		if severity[h.Status] > severity[worst] {
			worst = h.Status
		}
		if h.Status == HealthStatusUnhealthy {
			m.failures++
			down = append(down, h)
		}
	}
	m.status = worst
	notify := m.onUnhealthy
	m.mu.Unlock()

	for _, h := range down {
		m.logger.Warn().Str("check", h.Name).Str("message", h.Message).Msg("Component unhealthy")
		if notify != nil {
			notify(h)
		}
	}
	return m.GetHealth()
}

// runCheck runs one check, turning a panic into an unhealthy result.
func runCheck(ctx context.Context, name string, check HealthCheck) (h ComponentHealth) {
	begin := time.Now()
	defer func() {
		if r := recover(); r != nil {
			h = ComponentHealth{Status: HealthStatusUnhealthy, Message: fmt.Sprintf("check panicked: %v", r)}
		}
		h.Name = name
		h.LastCheck = time.Now()
		if h.Latency == 0 {
			h.Latency = time.Since(begin)
		}
	}()
	return check(ctx)
}

// GetHealth returns the last recorded round, components sorted by name.
func (m *HealthMonitor) GetHealth() SystemHealth {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	m.mu.RLock()
	defer m.mu.RUnlock()
	components := slices.SortedFunc(maps.Values(m.latest), func(a, b ComponentHealth) int {
		return strings.Compare(a.Name, b.Name)
	})
	return SystemHealth{
		Status:        m.status,
		Uptime:        time.Since(m.started).Round(time.Second).String(),
		StartTime:     m.started,
		Components:    components,
		Goroutines:    runtime.NumGoroutine(),
		MemoryAllocMB: mem.Alloc >> 20,
		TotalChecks:   m.rounds,
		FailedChecks:  m.failures,
	}
}

// IsHealthy reports whether the last round found nothing wrong.
func (m *HealthMonitor) IsHealthy() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status == HealthStatusHealthy
}

// HealthHTTPHandler serves the latest SystemHealth; only an unhealthy or
// unknown status answers 503.
func (m *HealthMonitor) HealthHTTPHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		health := m.GetHealth()
		code := http.StatusOK
		if health.Status != HealthStatusHealthy && health.Status != HealthStatusDegraded {
			code = http.StatusServiceUnavailable
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(health)
	}
}

// LivenessHTTPHandler answers 200 while the process is up.
func (m *HealthMonitor) LivenessHTTPHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"alive"}`))
	}
}

// Mux exposes /health and /live.
func (m *HealthMonitor) Mux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", m.HealthHTTPHandler())
	mux.HandleFunc("/live", m.LivenessHTTPHandler())
	return mux
}

func verdict(status HealthStatus, format string, args ...interface{}) ComponentHealth {
	return ComponentHealth{Status: status, Message: fmt.Sprintf(format, args...)}
}

// DatabaseHealthCheck pings the store; a ping slower than 100ms is degraded.
func DatabaseHealthCheck(ping func(ctx context.Context) error) HealthCheck {
	return func(ctx context.Context) ComponentHealth {
		begin := time.Now()
		err := ping(ctx)
		took := time.Since(begin)

		var h ComponentHealth
		switch {
		case err != nil:
			h = verdict(HealthStatusUnhealthy, "store ping failed: %v", err)
		case took > 100*time.Millisecond:
			h = verdict(HealthStatusDegraded, "store slow: %v", took)
		default:
			h = verdict(HealthStatusHealthy, "store ok: %v", took)
		}
		h.Latency = took
		return h
	}
}

// FreshnessCheck degrades once the last sync is older than maxAge. Data that
// was never synced is unhealthy.
func FreshnessCheck(lastSync func() time.Time, maxAge time.Duration, now func() time.Time) HealthCheck {
	return func(ctx context.Context) ComponentHealth {
		last := lastSync()
		var h ComponentHealth
		if last.IsZero() {
			h = verdict(HealthStatusUnhealthy, "Never synced")
		} else if age := now().Sub(last); age > maxAge {
			h = verdict(HealthStatusDegraded, "Last sync %v ago", age.Round(time.Minute))
		} else {
			h = verdict(HealthStatusHealthy, "Synced %v ago", age.Round(time.Minute))
		}
		h.Details = map[string]interface{}{"last_sync": last}
		return h
	}
}

// CircuitBreakerCheck maps an open breaker to unhealthy and a half-open one
// to degraded.
func CircuitBreakerCheck(cb *CircuitBreaker) HealthCheck {
	return func(ctx context.Context) ComponentHealth {
		stats := cb.Stats()
		var h ComponentHealth
		switch stats.State {
		case CircuitOpen:
			h = verdict(HealthStatusUnhealthy, "%s circuit open", cb.Name())
		case CircuitHalfOpen:
			h = verdict(HealthStatusDegraded, "%s circuit half-open", cb.Name())
		default:
			h = verdict(HealthStatusHealthy, "%s circuit closed", cb.Name())
		}
		h.Details = map[string]interface{}{"state": stats.State, "failures": stats.CurrentFailures}
		return h
	}
}
