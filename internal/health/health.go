// Package health aggregates dependency probes behind the standard health
// endpoints. /health and /health/live report process liveness only; /health/ready
// gates on every registered dependency.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Checker probes one dependency.
type Checker interface {
	Name() string
	Check(ctx context.Context) error
}

// CheckFunc adapts a function into a Checker.
type CheckFunc struct {
	CheckName string
	Fn        func(ctx context.Context) error
}

func (c CheckFunc) Name() string                    { return c.CheckName }
func (c CheckFunc) Check(ctx context.Context) error { return c.Fn(ctx) }

// Result is the outcome of one probe.
type Result struct {
	Healthy bool   `json:"healthy"`
	Error   string `json:"error,omitempty"`
}

type Manager struct {
	mu       sync.RWMutex
	checkers []Checker
	timeout  time.Duration
	logger   *zap.Logger
}

func NewManager(logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{timeout: 5 * time.Second, logger: logger}
}

func (m *Manager) Register(c Checker) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checkers = append(m.checkers, c)
}

// RunChecks probes every dependency concurrently under a shared timeout.
func (m *Manager) RunChecks(ctx context.Context) (map[string]Result, bool) {
	m.mu.RLock()
	checkers := make([]Checker, len(m.checkers))
	copy(checkers, m.checkers)
	m.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	results := make(map[string]Result, len(checkers))
	var (
		wg sync.WaitGroup
		mu sync.Mutex
	)
	healthy := true
	for _, c := range checkers {
		wg.Add(1)
		go func(c Checker) {
			defer wg.Done()
			err := c.Check(ctx)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				healthy = false
				results[c.Name()] = Result{Healthy: false, Error: err.Error()}
				m.logger.Warn("Health check failed", zap.String("check", c.Name()), zap.Error(err))
				return
			}
			results[c.Name()] = Result{Healthy: true}
		}(c)
	}
	wg.Wait()
	return results, healthy
}

// RegisterRoutes attaches the health endpoints to the mux.
func (m *Manager) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/health", m.handleLive)
	mux.HandleFunc("/health/live", m.handleLive)
	mux.HandleFunc("/health/ready", m.handleReady)
	mux.HandleFunc("/health/detailed", m.handleDetailed)
}

func (m *Manager) handleLive(w http.ResponseWriter, _ *http.Request) {
	respond(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (m *Manager) handleReady(w http.ResponseWriter, r *http.Request) {
	_, healthy := m.RunChecks(r.Context())
	if !healthy {
		respond(w, http.StatusServiceUnavailable, map[string]string{"status": "not ready"})
		return
	}
	respond(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (m *Manager) handleDetailed(w http.ResponseWriter, r *http.Request) {
	results, healthy := m.RunChecks(r.Context())
	status := http.StatusOK
	overall := "healthy"
	if !healthy {
		status = http.StatusServiceUnavailable
		overall = "unhealthy"
	}
	respond(w, status, map[string]interface{}{
		"status": overall,
		"checks": results,
	})
}

func respond(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
