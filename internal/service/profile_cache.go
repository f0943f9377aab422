// profile_cache.go — LRU-кэш профилей пользователей с TTL.
// Обёртка над hashicorp/golang-lru/v2/expirable: роль из profiles читается
// не чаще одного раза за SN_PROFILE_CACHE_TTL на пользователя.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/sentinela/access-module/internal/domain/model"
	"github.com/bigkaa/sentinela/access-module/internal/repository"
)

// Prometheus-метрики кэша профилей.
var (
	profileCacheHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sentinela_profile_cache_hits_total",
		Help: "Общее количество попаданий в LRU-кэш профилей.",
	})
	profileCacheMissesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sentinela_profile_cache_misses_total",
		Help: "Общее количество промахов LRU-кэша профилей.",
	})
)

// ProfileCache — кэш профилей поверх ProfileRepository.
// Отсутствующий профиль тоже кэшируется (с пустой ролью).
type ProfileCache struct {
	repo  repository.ProfileRepository
	cache *expirable.LRU[string, model.Profile]
}

// NewProfileCache создаёт кэш с указанным максимальным размером и TTL.
func NewProfileCache(repo repository.ProfileRepository, maxSize int, ttl time.Duration) *ProfileCache {
	return &ProfileCache{
		repo:  repo,
		cache: expirable.NewLRU[string, model.Profile](maxSize, nil, ttl),
	}
}

// Get возвращает профиль пользователя из кэша или из БД.
func (c *ProfileCache) Get(ctx context.Context, userID string) (model.Profile, error) {
	if p, ok := c.cache.Get(userID); ok {
		profileCacheHitsTotal.Inc()
		return p, nil
	}
	profileCacheMissesTotal.Inc()

	p, err := c.repo.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			empty := model.Profile{ID: userID}
			c.cache.Add(userID, empty)
			return empty, nil
		}
		return model.Profile{}, fmt.Errorf("получение профиля: %w", err)
	}

	c.cache.Add(userID, *p)
	return *p, nil
}

// Invalidate удаляет профиль из кэша.
func (c *ProfileCache) Invalidate(userID string) {
	c.cache.Remove(userID)
}

// Len возвращает количество записей в кэше.
func (c *ProfileCache) Len() int {
	return c.cache.Len()
}
