// session.go — определение Effective Profile текущего пользователя.
//
// Порядок:
//  1. статическое переопределение по id;
//  2. статическое переопределение по email;
//  3. роль из профиля пользователя (таблица profiles через ProfileCache).
//
// Результат кэшируется у клиента (cookie профиля). Resolution.Rewrite
// сообщает, что cookie нужно перезаписать до выполнения обработчика.
package service

import (
	"context"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/sentinela/access-module/internal/domain/model"
	"github.com/bigkaa/sentinela/access-module/internal/domain/rbac"
)

var sessionResolutions = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "sentinela_session_resolutions_total",
	Help: "Определения Effective Profile по источнику (override_id, override_email, profile, cached, none)",
}, []string{"source"})

// Identity — идентичность пользователя из токена.
type Identity struct {
	UserID string
	Email  string
}

// CachedProfile — состояние профиля, сохранённое у клиента.
type CachedProfile struct {
	UserID           string `json:"uid"`
	Email            string `json:"email"`
	Role             string `json:"role"`
	EffectiveProfile string `json:"effectiveProfile"`
}

// Resolution — результат определения профиля.
type Resolution struct {
	Session model.Session
	// OverrideKind — сработавшее переопределение (пусто, если нет)
	OverrideKind model.OverrideKind
	// Rewrite — сохранённое у клиента состояние устарело
	Rewrite bool
}

// ProfileSource — источник профиля пользователя.
type ProfileSource interface {
	Get(ctx context.Context, userID string) (model.Profile, error)
}

// SessionResolver определяет Effective Profile.
type SessionResolver struct {
	overrides *rbac.Overrides
	profiles  ProfileSource
	logger    *slog.Logger
}

// NewSessionResolver создаёт резолвер сессии.
func NewSessionResolver(overrides *rbac.Overrides, profiles ProfileSource, logger *slog.Logger) *SessionResolver {
	return &SessionResolver{
		overrides: overrides,
		profiles:  profiles,
		logger:    logger.With(slog.String("component", "session_resolver")),
	}
}

// Resolve определяет сессию пользователя. cached может быть nil;
// состояние другого пользователя игнорируется.
func (r *SessionResolver) Resolve(ctx context.Context, id Identity, cached *CachedProfile) Resolution {
	if cached != nil && id.UserID != "" && cached.UserID != id.UserID {
		cached = nil
	}

	s := model.Session{UserID: id.UserID, Email: id.Email}
	if cached != nil {
		if s.UserID == "" {
			s.UserID = cached.UserID
		}
		if s.Email == "" {
			s.Email = cached.Email
		}
	}

	source := "none"
	if s.UserID != "" && r.profiles != nil {
		p, err := r.profiles.Get(ctx, s.UserID)
		switch {
		case err == nil:
			s.Role = p.Role
			if s.Email == "" {
				s.Email = p.Email
			}
			source = "profile"
		case cached != nil:
			r.logger.Warn("Профиль недоступен, используем сохранённую роль",
				slog.String("user_id", s.UserID),
				slog.String("error", err.Error()),
			)
			s.Role = cached.Role
			source = "cached"
		default:
			r.logger.Warn("Профиль недоступен, роль не определена",
				slog.String("user_id", s.UserID),
				slog.String("error", err.Error()),
			)
		}
	}

	res := Resolution{}
	s.EffectiveProfile = s.Role
	if role, kind, ok := r.overrides.Resolve(s.UserID, s.Email); ok {
		s.EffectiveProfile = role
		res.OverrideKind = kind
		source = "override_" + string(kind)
	}
	sessionResolutions.WithLabelValues(source).Inc()

	res.Session = s
	res.Rewrite = cached == nil ||
		cached.UserID != s.UserID ||
		cached.Email != s.Email ||
		cached.Role != s.Role ||
		cached.EffectiveProfile != s.EffectiveProfile
	return res
}

// ToCached возвращает состояние для сохранения у клиента.
func (res Resolution) ToCached() CachedProfile {
	return CachedProfile{
		UserID:           res.Session.UserID,
		Email:            res.Session.Email,
		Role:             res.Session.Role,
		EffectiveProfile: res.Session.EffectiveProfile,
	}
}
