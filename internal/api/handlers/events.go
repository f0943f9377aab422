// events.go — SSE-поток изменений таблицы доступа.
// Клиент получает текущий снимок сразу при подключении и затем каждый
// новый снимок. Если клиент не успевает читать, промежуточные версии
// пропускаются: важна только последняя.
package handlers

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	apierrors "github.com/bigkaa/sentinela/access-module/internal/api/errors"
	"github.com/bigkaa/sentinela/access-module/internal/api/middleware"
	"github.com/bigkaa/sentinela/access-module/internal/service"
)

const eventPageAccess = "page-access"

// StreamPageAccess обрабатывает GET /api/v1/events/page-access.
// Формат: event: page-access\nid: <version>\ndata: {json}\n\n
func (h *APIHandler) StreamPageAccess(w http.ResponseWriter, r *http.Request) {
	userID := middleware.SubjectFromContext(r.Context())
	if userID == "" {
		apierrors.Unauthorized(w, "Отсутствуют claims в контексте")
		return
	}

	updates, cancel := h.pageAccess.Watch()
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Отключаем буферизацию Nginx

	// ResponseController находит http.Flusher через Unwrap() обёрток middleware.
	rc := http.NewResponseController(w)
	// Поток живёт дольше WriteTimeout сервера
	_ = rc.SetWriteDeadline(time.Time{})
	if err := rc.Flush(); err != nil {
		apierrors.InternalError(w, "SSE не поддерживается")
		return
	}

	ctx := r.Context()
	h.logger.Debug("SSE клиент подключён",
		slog.String("user_id", userID),
		slog.String("remote_addr", r.RemoteAddr),
	)

	if err := h.sendSnapshot(w, rc, h.pageAccess.Snapshot()); err != nil {
		return
	}

	keepalive := time.NewTicker(h.sseKeepalive)
	defer keepalive.Stop()

	for {
		select {
		case <-ctx.Done():
			h.logger.Debug("SSE клиент отключён", slog.String("user_id", userID))
			return
		case <-h.streamsDone:
			return
		case snap, ok := <-updates:
			if !ok {
				return
			}
			if err := h.sendSnapshot(w, rc, snap); err != nil {
				return
			}
		case <-keepalive.C:
			if _, err := fmt.Fprint(w, ": keepalive\n\n"); err != nil {
				return
			}
			if err := rc.Flush(); err != nil {
				return
			}
		}
	}
}

// sendSnapshot отправляет снимок одним SSE-событием.
func (h *APIHandler) sendSnapshot(w http.ResponseWriter, rc *http.ResponseController, snap service.Snapshot) error {
	data, err := json.Marshal(snapshotResponse(snap))
	if err != nil {
		h.logger.Error("Ошибка сериализации снимка", slog.String("error", err.Error()))
		return err
	}
	if _, err := fmt.Fprintf(w, "event: %s\nid: %d\ndata: %s\n\n", eventPageAccess, snap.Version, data); err != nil {
		return err
	}
	return rc.Flush()
}
