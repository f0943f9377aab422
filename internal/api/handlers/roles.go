package handlers

import "net/http"

type roleListResponse struct {
	Roles  []string `json:"roles"`
	Source string   `json:"source"`
}

// ListRoles обрабатывает GET /api/v1/roles. Реестр ролей не возвращает
// ошибок: при недоступности хранилища отдаются роли по умолчанию.
func (h *APIHandler) ListRoles(w http.ResponseWriter, r *http.Request) {
	roles, source := h.roles.Resolve(r.Context())
	if roles == nil {
		roles = []string{}
	}
	writeJSON(w, http.StatusOK, roleListResponse{Roles: roles, Source: source})
}
