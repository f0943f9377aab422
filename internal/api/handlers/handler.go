// handler.go — основной обработчик API Access Module.
// Объединяет доменные обработчики и делегирует запросы в сервисный слой.
package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/bigkaa/sentinela/access-module/internal/domain/model"
	"github.com/bigkaa/sentinela/access-module/internal/domain/rbac"
	"github.com/bigkaa/sentinela/access-module/internal/service"
)

// PageAccessService — операции над таблицей доступа, нужные API.
type PageAccessService interface {
	Snapshot() service.Snapshot
	Refresh(ctx context.Context) (service.Snapshot, error)
	Update(ctx context.Context, entries []model.PageAccessEntry, updatedBy string) bool
	Watch() (<-chan service.Snapshot, func())
}

// RoleRegistry — источник списка известных ролей.
type RoleRegistry interface {
	Resolve(ctx context.Context) ([]string, string)
}

const defaultSSEKeepalive = 15 * time.Second

// APIHandler — основной обработчик API Access Module.
type APIHandler struct {
	health       *HealthHandler
	pageAccess   PageAccessService
	roles        RoleRegistry
	engine       *rbac.Engine
	sseKeepalive time.Duration
	logger       *slog.Logger

	// streamsDone закрывается при остановке сервера: SSE-потоки завершаются
	streamsDone chan struct{}
	closeOnce   sync.Once
}

// NewAPIHandler создаёт основной обработчик API.
// sseKeepalive — интервал комментариев keepalive в SSE-потоке (SN_SSE_KEEPALIVE).
func NewAPIHandler(
	health *HealthHandler,
	pageAccess PageAccessService,
	roles RoleRegistry,
	engine *rbac.Engine,
	sseKeepalive time.Duration,
	logger *slog.Logger,
) *APIHandler {
	if sseKeepalive <= 0 {
		sseKeepalive = defaultSSEKeepalive
	}
	return &APIHandler{
		health:       health,
		pageAccess:   pageAccess,
		roles:        roles,
		engine:       engine,
		sseKeepalive: sseKeepalive,
		logger:       logger.With(slog.String("component", "api_handler")),
		streamsDone:  make(chan struct{}),
	}
}

// CloseStreams завершает открытые SSE-потоки. Вызывается при graceful
// shutdown: иначе http.Server.Shutdown ждёт их до таймаута.
func (h *APIHandler) CloseStreams() {
	h.closeOnce.Do(func() { close(h.streamsDone) })
}

// HealthLive — liveness probe (делегируется в HealthHandler).
func (h *APIHandler) HealthLive(w http.ResponseWriter, r *http.Request) {
	h.health.HealthLive(w, r)
}

// HealthReady — readiness probe (делегируется в HealthHandler).
func (h *APIHandler) HealthReady(w http.ResponseWriter, r *http.Request) {
	h.health.HealthReady(w, r)
}

// GetMetrics — Prometheus метрики (делегируется в HealthHandler).
func (h *APIHandler) GetMetrics(w http.ResponseWriter, r *http.Request) {
	h.health.GetMetrics(w, r)
}

// --- Вспомогательные функции ---

// writeJSON записывает JSON-ответ с указанным статусом.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// snapshotResponse нормализует снимок для ответа: списки не бывают null.
func snapshotResponse(s service.Snapshot) service.Snapshot {
	if s.Entries == nil {
		s.Entries = []model.PageAccessEntry{}
	}
	for i := range s.Entries {
		if s.Entries[i].AllowedProfiles == nil {
			s.Entries[i].AllowedProfiles = []string{}
		}
	}
	if s.Roles == nil {
		s.Roles = []string{}
	}
	return s
}
