// access.go — решения о доступе к страницам для текущего пользователя.
package handlers

import (
	"log/slog"
	"net/http"

	"github.com/oapi-codegen/runtime"

	apierrors "github.com/bigkaa/sentinela/access-module/internal/api/errors"
	"github.com/bigkaa/sentinela/access-module/internal/api/middleware"
	"github.com/bigkaa/sentinela/access-module/internal/domain/model"
	"github.com/bigkaa/sentinela/access-module/internal/domain/rbac"
)

// Заголовки, которыми reverse proxy передаёт исходный URI.
const (
	headerForwardedURI = "X-Forwarded-Uri"
	headerOriginalURI  = "X-Original-Uri"
)

// Заголовки ответа forward-auth для upstream-сервиса.
const (
	headerUserID  = "X-Sentinela-User"
	headerProfile = "X-Sentinela-Profile"
)

type accessDecisionResponse struct {
	Path     string    `json:"path"`
	Allowed  bool      `json:"allowed"`
	Rule     rbac.Rule `json:"rule"`
	BasePath string    `json:"basePath"`
}

// CheckAccess обрабатывает GET /api/v1/access/check?path=.
func (h *APIHandler) CheckAccess(w http.ResponseWriter, r *http.Request) {
	var path string
	if err := runtime.BindQueryParameter("form", true, true, "path", r.URL.Query(), &path); err != nil {
		apierrors.ValidationError(w, "Некорректный параметр path: "+err.Error())
		return
	}

	s, d, ok := h.decide(w, r, path)
	if !ok {
		return
	}

	h.logger.Debug("Проверка доступа",
		slog.String("user_id", s.UserID),
		slog.String("path", path),
		slog.Bool("allowed", d.Allowed),
		slog.String("rule", string(d.Rule)),
	)
	writeJSON(w, http.StatusOK, accessDecisionResponse{
		Path:     path,
		Allowed:  d.Allowed,
		Rule:     d.Rule,
		BasePath: d.BasePath,
	})
}

// AuthorizeForward обрабатывает GET /api/v1/access/authorize —
// forward-auth для reverse proxy (Traefik forwardAuth, nginx auth_request).
// 200 — доступ разрешён, 403 — запрещён.
func (h *APIHandler) AuthorizeForward(w http.ResponseWriter, r *http.Request) {
	path := r.Header.Get(headerForwardedURI)
	if path == "" {
		path = r.Header.Get(headerOriginalURI)
	}
	if path == "" {
		apierrors.ValidationError(w, "Отсутствует заголовок "+headerForwardedURI)
		return
	}

	s, d, ok := h.decide(w, r, path)
	if !ok {
		return
	}

	if !d.Allowed {
		h.logger.Info("Forward-auth: доступ запрещён",
			slog.String("user_id", s.UserID),
			slog.String("profile", s.EffectiveProfile),
			slog.String("path", path),
			slog.String("rule", string(d.Rule)),
		)
		apierrors.Forbidden(w, "Нет доступа к странице "+d.BasePath)
		return
	}

	w.Header().Set(headerUserID, s.UserID)
	w.Header().Set(headerProfile, s.EffectiveProfile)
	w.WriteHeader(http.StatusOK)
}

// decide применяет движок к текущей сессии. Пока таблица доступа не
// загружена, отвечает 503 и возвращает ok=false.
func (h *APIHandler) decide(w http.ResponseWriter, r *http.Request, path string) (model.Session, rbac.Decision, bool) {
	s, ok := middleware.SessionFromContext(r.Context())
	if !ok {
		apierrors.Unauthorized(w, "Профиль пользователя не определён")
		return model.Session{}, rbac.Decision{}, false
	}

	snap := h.pageAccess.Snapshot()
	if !snap.Loaded {
		apierrors.Loading(w, "Таблица доступа ещё загружается")
		return s, rbac.Decision{}, false
	}
	return s, h.engine.Decide(s, snap.Entries, path), true
}
