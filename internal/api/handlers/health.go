// health.go — обработчики health endpoints Access Module.
// /health/live — liveness probe (процесс жив)
// /health/ready — readiness probe (PostgreSQL, JWKS доступны, таблица доступа загружена)
// /metrics — Prometheus метрики
package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/bigkaa/sentinela/access-module/internal/config"
	"github.com/bigkaa/sentinela/access-module/internal/service"
)

const (
	statusOK       = "ok"
	statusDegraded = "degraded"
	statusFail     = "fail"
)

const serviceName = "access-module"

// ReadinessChecker — интерфейс проверки готовности зависимости.
type ReadinessChecker interface {
	// CheckReady возвращает статус ("ok", "degraded", "fail") и сообщение.
	CheckReady() (status string, message string)
}

// SnapshotSource — источник снимка таблицы доступа.
type SnapshotSource interface {
	Snapshot() service.Snapshot
}

// DependencyHealth — результаты фоновых проверок зависимостей (topologymetrics).
type DependencyHealth interface {
	Health() map[string]bool
}

// HealthHandler — обработчик health endpoints.
type HealthHandler struct {
	pgChecker   ReadinessChecker
	jwksChecker ReadinessChecker
	policy      SnapshotSource
	deps        DependencyHealth
	promHandler http.Handler
}

// NewHealthHandler создаёт обработчик health endpoints.
// pgChecker — проверка PostgreSQL, jwksChecker — проверка JWKS.
// Checker может быть nil (readiness вернёт "fail" для nil зависимостей).
// deps — опционально, добавляет в ответ статусы фоновых проверок.
func NewHealthHandler(pgChecker, jwksChecker ReadinessChecker, policy SnapshotSource, deps DependencyHealth) *HealthHandler {
	return &HealthHandler{
		pgChecker:   pgChecker,
		jwksChecker: jwksChecker,
		policy:      policy,
		deps:        deps,
		promHandler: promhttp.Handler(),
	}
}

// healthCheckResult — результат проверки одной зависимости.
type healthCheckResult struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// healthLiveResponse — ответ liveness probe.
type healthLiveResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	Version   string `json:"version"`
	Service   string `json:"service"`
}

// healthReadyResponse — ответ readiness probe.
type healthReadyResponse struct {
	Status       string                       `json:"status"`
	Timestamp    string                       `json:"timestamp"`
	Version      string                       `json:"version"`
	Service      string                       `json:"service"`
	Checks       map[string]healthCheckResult `json:"checks"`
	Dependencies map[string]bool              `json:"dependencies,omitempty"`
}

// HealthLive — liveness probe. Возвращает 200 если процесс жив.
func (h *HealthHandler) HealthLive(w http.ResponseWriter, r *http.Request) {
	resp := healthLiveResponse{
		Status:    statusOK,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Version:   config.Version,
		Service:   serviceName,
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(resp)
}

// HealthReady — readiness probe. Проверяет PostgreSQL, JWKS и состояние
// таблицы доступа. Возвращает 200 (ok/degraded) или 503 (fail).
func (h *HealthHandler) HealthReady(w http.ResponseWriter, r *http.Request) {
	resp := healthReadyResponse{
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Version:   config.Version,
		Service:   serviceName,
		Checks: map[string]healthCheckResult{
			"postgresql":  runCheck(h.pgChecker),
			"jwks":        runCheck(h.jwksChecker),
			"page_access": h.pageAccessCheck(),
		},
	}
	if h.deps != nil {
		resp.Dependencies = h.deps.Health()
	}

	statuses := make([]string, 0, len(resp.Checks))
	for _, c := range resp.Checks {
		statuses = append(statuses, c.Status)
	}
	resp.Status = overallStatus(statuses...)

	w.Header().Set("Content-Type", "application/json")
	if resp.Status == statusFail {
		w.WriteHeader(http.StatusServiceUnavailable)
	} else {
		w.WriteHeader(http.StatusOK)
	}
	_ = json.NewEncoder(w).Encode(resp)
}

// GetMetrics — Prometheus метрики.
func (h *HealthHandler) GetMetrics(w http.ResponseWriter, r *http.Request) {
	h.promHandler.ServeHTTP(w, r)
}

func runCheck(c ReadinessChecker) healthCheckResult {
	if c == nil {
		return healthCheckResult{Status: statusFail, Message: "не инициализирован"}
	}
	status, msg := c.CheckReady()
	return healthCheckResult{Status: status, Message: msg}
}

// pageAccessCheck: пока таблица не загружена, запросы к API получили бы 503.
func (h *HealthHandler) pageAccessCheck() healthCheckResult {
	if h.policy == nil {
		return healthCheckResult{Status: statusFail, Message: "не инициализирован"}
	}
	snap := h.policy.Snapshot()
	switch {
	case !snap.Loaded:
		return healthCheckResult{Status: statusFail, Message: "таблица доступа загружается"}
	case snap.Stale:
		return healthCheckResult{Status: statusDegraded, Message: "таблица доступа не подтверждена хранилищем"}
	case snap.Defaulted:
		return healthCheckResult{Status: statusOK, Message: "используется таблица по умолчанию"}
	default:
		return healthCheckResult{Status: statusOK}
	}
}

// overallStatus определяет итоговый статус из статусов зависимостей.
// Если хотя бы одна зависимость fail — итог fail.
// Если хотя бы одна degraded — итог degraded.
// Иначе — ok.
func overallStatus(statuses ...string) string {
	hasDegraded := false
	for _, s := range statuses {
		if s == statusFail {
			return statusFail
		}
		if s == statusDegraded {
			hasDegraded = true
		}
	}
	if hasDegraded {
		return statusDegraded
	}
	return statusOK
}
