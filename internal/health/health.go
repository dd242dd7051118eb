// Package health отдаёт состояние роли саги по HTTP: полный отчёт (/healthz),
// готовность (/readyz) и liveness (/livez).
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"time"
)

// Status - состояние компонента или роли целиком.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
	StatusDraining  Status = "draining"
)

const defaultCheckTimeout = 2 * time.Second

// Checker проверяет внешнюю зависимость роли.
type Checker interface {
	Check(ctx context.Context) error
}

// CheckerFunc позволяет использовать функцию как Checker.
type CheckerFunc func(ctx context.Context) error

// Check реализует Checker.
func (f CheckerFunc) Check(ctx context.Context) error { return f(ctx) }

// Probe - зарегистрированная проверка. Отказ критичной проверки делает роль
// неготовой, отказ некритичной только понижает статус до degraded.
type Probe struct {
	Name     string
	Checker  Checker
	Critical bool
}

// Result - итог одной проверки.
type Result struct {
	Status     Status `json:"status"`
	Critical   bool   `json:"critical"`
	Message    string `json:"message,omitempty"`
	DurationMs int64  `json:"duration_ms"`
}

// Report - ответ /healthz.
type Report struct {
	Service       string            `json:"service"`
	Status        Status            `json:"status"`
	Version       string            `json:"version,omitempty"`
	Timestamp     time.Time         `json:"timestamp"`
	UptimeSeconds int64             `json:"uptime_seconds"`
	Checks        map[string]Result `json:"checks,omitempty"`
}

// Option настраивает Handler.
type Option func(*Handler)

// WithVersion добавляет строку версии в отчёт.
func WithVersion(version string) Option {
	return func(h *Handler) { h.version = version }
}

// WithCheckTimeout ограничивает время одной проверки.
func WithCheckTimeout(timeout time.Duration) Option {
	return func(h *Handler) {
		if timeout > 0 {
			h.timeout = timeout
		}
	}
}

// Handler собирает проверки роли и отвечает на health-запросы.
type Handler struct {
	service string
	version string
	timeout time.Duration
	started time.Time

	mu       sync.RWMutex
	probes   map[string]Probe
	draining bool
}

// NewHandler создаёт Handler для роли service.
func NewHandler(service string, opts ...Option) *Handler {
	h := &Handler{
		service: service,
		timeout: defaultCheckTimeout,
		started: time.Now(),
		probes:  make(map[string]Probe),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Register добавляет проверку; повторная регистрация имени заменяет прежнюю.
func (h *Handler) Register(probe Probe) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.probes[probe.Name] = probe
}

// SetDraining переводит роль в режим остановки: /readyz начинает отвечать 503,
// чтобы балансировщик перестал слать запросы до закрытия серверов.
func (h *Handler) SetDraining(draining bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.draining = draining
}

// Run выполняет все проверки параллельно и сводит их в отчёт.
func (h *Handler) Run(ctx context.Context) Report {
	h.mu.RLock()
	probes := make([]Probe, 0, len(h.probes))
	for _, probe := range h.probes {
		probes = append(probes, probe)
	}
	draining := h.draining
	h.mu.RUnlock()
	sort.Slice(probes, func(i, j int) bool { return probes[i].Name < probes[j].Name })

	results := make([]Result, len(probes))
	var wg sync.WaitGroup
	for i, probe := range probes {
		wg.Add(1)
		go func(i int, probe Probe) {
			defer wg.Done()
			results[i] = h.runProbe(ctx, probe)
		}(i, probe)
	}
	wg.Wait()

	report := Report{
		Service:       h.service,
		Status:        StatusHealthy,
		Version:       h.version,
		Timestamp:     time.Now().UTC(),
		UptimeSeconds: int64(time.Since(h.started).Seconds()),
	}
	if len(probes) > 0 {
		report.Checks = make(map[string]Result, len(probes))
	}
	for i, probe := range probes {
		result := results[i]
		report.Checks[probe.Name] = result
		switch {
		case result.Status == StatusHealthy:
		case result.Critical:
			report.Status = StatusUnhealthy
		case report.Status == StatusHealthy:
			report.Status = StatusDegraded
		}
	}
	if draining && report.Status != StatusUnhealthy {
		report.Status = StatusDraining
	}
	return report
}

func (h *Handler) runProbe(ctx context.Context, probe Probe) Result {
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	started := time.Now()
	err := probe.Checker.Check(ctx)
	result := Result{
		Status:     StatusHealthy,
		Critical:   probe.Critical,
		DurationMs: time.Since(started).Milliseconds(),
	}
	if err != nil {
		result.Status = StatusUnhealthy
		result.Message = err.Error()
	}
	return result
}

// ServeHTTP отдаёт полный отчёт; 503 только при отказе критичной проверки.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	report := h.Run(r.Context())

	code := http.StatusOK
	if report.Status == StatusUnhealthy {
		code = http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(report)
}

// ReadinessHandler отвечает 503, пока роль останавливается или недоступна критичная зависимость.
func (h *Handler) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	switch h.Run(r.Context()).Status {
	case StatusUnhealthy:
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("not ready"))
	case StatusDraining:
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("draining"))
	default:
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	}
}

// LivenessHandler всегда отвечает 200: процесс жив, пока обслуживает HTTP.
func LivenessHandler(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}
