package handlers

import (
	"net/http"

	openapi_types "github.com/oapi-codegen/runtime/types"

	apierrors "github.com/bigkaa/sentinela/access-module/internal/api/errors"
	"github.com/bigkaa/sentinela/access-module/internal/api/middleware"
	"github.com/bigkaa/sentinela/access-module/internal/domain/model"
)

// meResponse — текущий пользователь и доступные ему страницы.
type meResponse struct {
	UserID           string                  `json:"userId"`
	Email            *openapi_types.Email    `json:"email,omitempty"`
	Role             string                  `json:"role"`
	EffectiveProfile string                  `json:"effectiveProfile"`
	Override         string                  `json:"override,omitempty"`
	Pages            []model.PageAccessEntry `json:"pages"`
}

// GetMe обрабатывает GET /api/v1/me.
func (h *APIHandler) GetMe(w http.ResponseWriter, r *http.Request) {
	res, ok := middleware.ResolutionFromContext(r.Context())
	if !ok {
		apierrors.Unauthorized(w, "Профиль пользователя не определён")
		return
	}

	s := res.Session
	resp := meResponse{
		UserID:           s.UserID,
		Role:             s.Role,
		EffectiveProfile: s.EffectiveProfile,
		Override:         string(res.OverrideKind),
		Pages:            h.engine.AccessiblePages(s, h.pageAccess.Snapshot().Entries),
	}
	if s.Email != "" {
		email := openapi_types.Email(s.Email)
		resp.Email = &email
	}

	writeJSON(w, http.StatusOK, resp)
}
