// page_access.go — обработчики таблицы доступа к страницам.
package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"

	apierrors "github.com/bigkaa/sentinela/access-module/internal/api/errors"
	"github.com/bigkaa/sentinela/access-module/internal/api/middleware"
	"github.com/bigkaa/sentinela/access-module/internal/domain/model"
	"github.com/bigkaa/sentinela/access-module/internal/domain/rbac"
)

// pageAccessSaveRequest — тело PUT /api/v1/page-access.
type pageAccessSaveRequest struct {
	Entries []model.PageAccessEntry `json:"entries"`
}

// GetPageAccess обрабатывает GET /api/v1/page-access.
func (h *APIHandler) GetPageAccess(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, snapshotResponse(h.pageAccess.Snapshot()))
}

// SavePageAccess обрабатывает PUT /api/v1/page-access — полная замена таблицы.
// Доступ к странице настроек проверяет middleware RequirePageAccess.
func (h *APIHandler) SavePageAccess(w http.ResponseWriter, r *http.Request) {
	var req pageAccessSaveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apierrors.ValidationError(w, "Невалидный JSON: "+err.Error())
		return
	}
	if msg := rbac.ValidateEntries(req.Entries); msg != "" {
		apierrors.ValidationError(w, msg)
		return
	}

	updatedBy := ""
	if claims := middleware.ClaimsFromContext(r.Context()); claims != nil {
		updatedBy = claims.Email
		if updatedBy == "" {
			updatedBy = claims.Subject
		}
	}

	if !h.pageAccess.Update(r.Context(), req.Entries, updatedBy) {
		apierrors.SaveFailed(w, "Не удалось сохранить таблицу доступа, изменения отменены")
		return
	}

	h.logger.Info("Таблица доступа сохранена",
		slog.String("updated_by", updatedBy),
		slog.Int("entries", len(req.Entries)),
	)
	writeJSON(w, http.StatusOK, snapshotResponse(h.pageAccess.Snapshot()))
}

// RefreshPageAccess обрабатывает POST /api/v1/page-access/refresh.
// Ошибка чтения не возвращается клиенту: снимок остаётся прежним
// и помечается как неподтверждённый (stale).
func (h *APIHandler) RefreshPageAccess(w http.ResponseWriter, r *http.Request) {
	snap, err := h.pageAccess.Refresh(r.Context())
	if err != nil {
		h.logger.Warn("Принудительное перечитывание таблицы не удалось",
			slog.String("error", err.Error()),
		)
	}
	writeJSON(w, http.StatusOK, snapshotResponse(snap))
}
