// profile.go — middleware определения Effective Profile.
// Выполняется после JWTAuth: по идентичности из токена и cookie профиля
// определяет сессию и, если cookie устарела, перезаписывает её до вызова
// обработчика. Обработчик и движок решений видят уже актуальный профиль.
package middleware

import (
	"context"
	"log/slog"
	"net/http"

	apierrors "github.com/bigkaa/sentinela/access-module/internal/api/errors"
	"github.com/bigkaa/sentinela/access-module/internal/domain/model"
	"github.com/bigkaa/sentinela/access-module/internal/service"
)

const contextKeySession contextKey = "session"

// SessionResolver определяет сессию пользователя.
type SessionResolver interface {
	Resolve(ctx context.Context, id service.Identity, cached *service.CachedProfile) service.Resolution
}

// ProfileCookies — хранилище профиля на стороне клиента.
type ProfileCookies interface {
	FromRequest(r *http.Request) (*service.CachedProfile, error)
	Set(w http.ResponseWriter, p *service.CachedProfile) error
}

// ProfileResolver возвращает middleware, помещающий в контекст
// service.Resolution текущего пользователя.
func ProfileResolver(resolver SessionResolver, cookies ProfileCookies, logger *slog.Logger) func(http.Handler) http.Handler {
	logger = logger.With(slog.String("component", "profile_resolver"))

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims := ClaimsFromContext(r.Context())
			if claims == nil {
				apierrors.Unauthorized(w, "Отсутствуют claims в контексте")
				return
			}

			cached, err := cookies.FromRequest(r)
			if err != nil {
				// Повреждённая или чужая cookie — определяем профиль заново
				logger.Debug("Cookie профиля отброшена",
					slog.String("user_id", claims.Subject),
					slog.String("error", err.Error()),
				)
				cached = nil
			}

			res := resolver.Resolve(r.Context(), service.Identity{
				UserID: claims.Subject,
				Email:  claims.Email,
			}, cached)

			if res.Rewrite {
				p := res.ToCached()
				if err := cookies.Set(w, &p); err != nil {
					logger.Warn("Ошибка записи cookie профиля",
						slog.String("user_id", claims.Subject),
						slog.String("error", err.Error()),
					)
				}
			}

			ctx := context.WithValue(r.Context(), contextKeySession, res)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// ResolutionFromContext извлекает результат определения профиля.
func ResolutionFromContext(ctx context.Context) (service.Resolution, bool) {
	res, ok := ctx.Value(contextKeySession).(service.Resolution)
	return res, ok
}

// SessionFromContext извлекает сессию текущего пользователя.
func SessionFromContext(ctx context.Context) (model.Session, bool) {
	res, ok := ResolutionFromContext(ctx)
	return res.Session, ok
}

// WithResolution помещает результат определения профиля в контекст.
func WithResolution(ctx context.Context, res service.Resolution) context.Context {
	return context.WithValue(ctx, contextKeySession, res)
}
