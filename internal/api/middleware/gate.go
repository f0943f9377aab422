// gate.go — middleware проверки доступа к странице приложения.
// Защищает API-операции, принадлежащие странице (например, сохранение
// таблицы доступа — странице настроек).
package middleware

import (
	"log/slog"
	"net/http"

	apierrors "github.com/bigkaa/sentinela/access-module/internal/api/errors"
	"github.com/bigkaa/sentinela/access-module/internal/domain/rbac"
	"github.com/bigkaa/sentinela/access-module/internal/service"
)

// PolicySource — источник текущего снимка таблицы доступа.
type PolicySource interface {
	Snapshot() service.Snapshot
}

// RequirePageAccess возвращает middleware, пропускающий только пользователей
// с доступом к странице pagePath. Пока таблица не загружена — 503.
// Должен использоваться ПОСЛЕ ProfileResolver.
func RequirePageAccess(engine *rbac.Engine, policy PolicySource, pagePath string, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			s, ok := SessionFromContext(r.Context())
			if !ok {
				apierrors.Unauthorized(w, "Профиль пользователя не определён")
				return
			}

			snap := policy.Snapshot()
			if !snap.Loaded {
				apierrors.Loading(w, "Таблица доступа ещё загружается")
				return
			}

			d := engine.Decide(s, snap.Entries, pagePath)
			if !d.Allowed {
				logger.Info("Доступ к странице запрещён",
					slog.String("user_id", s.UserID),
					slog.String("profile", s.EffectiveProfile),
					slog.String("page", pagePath),
					slog.String("rule", string(d.Rule)),
				)
				apierrors.Forbidden(w, "Недостаточно прав: нет доступа к странице "+d.BasePath)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
