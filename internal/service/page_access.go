// page_access.go — таблица доступа к страницам: чтение, сохранение и
// локальный снимок, общий для всех HTTP-запросов.
//
// PageAccessService — единственный владелец снимка. Снимок обновляется:
//   - при старте (первая загрузка, до её окончания Loaded = false);
//   - по уведомлению LISTEN/NOTIFY (не более одного ожидающего обновления);
//   - по таймеру страховочной пересинхронизации (SN_RESYNC_INTERVAL);
//   - после каждого сохранения (оптимистичная замена, затем перечитывание).
//
// Из конкурирующих чтений побеждает начатое последним: результат чтения,
// начатого раньше уже применённого, отбрасывается.
//
// Prometheus-метрики:
//   - sentinela_page_access_refresh_total{result} — результаты обновлений снимка
//   - sentinela_page_access_refresh_duration_seconds — длительность чтения таблицы
//   - sentinela_page_access_save_total{result} — результаты сохранений
//   - sentinela_page_access_entries — количество записей в снимке
//   - sentinela_page_access_notifications_total{result} — уведомления об изменениях
package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/sync/errgroup"

	"github.com/bigkaa/sentinela/access-module/internal/domain/model"
	"github.com/bigkaa/sentinela/access-module/internal/domain/rbac"
	"github.com/bigkaa/sentinela/access-module/internal/repository"
)

var (
	pageAccessRefreshTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sentinela_page_access_refresh_total",
		Help: "Результаты обновления снимка таблицы доступа (ok, empty, error, stale)",
	}, []string{"result"})

	pageAccessRefreshDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "sentinela_page_access_refresh_duration_seconds",
		Help:    "Длительность чтения таблицы доступа из PostgreSQL",
		Buckets: prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms … ~10s
	})

	pageAccessSaveTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sentinela_page_access_save_total",
		Help: "Результаты сохранения таблицы доступа (ok, error, invalid)",
	}, []string{"result"})

	pageAccessEntries = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "sentinela_page_access_entries",
		Help: "Количество записей в текущем снимке таблицы доступа",
	})

	pageAccessNotifications = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sentinela_page_access_notifications_total",
		Help: "Уведомления об изменении таблицы доступа (queued, coalesced)",
	}, []string{"result"})
)

// RoleSource — источник всех известных ролей.
type RoleSource interface {
	GetAllRoles(ctx context.Context) []string
}

// ChangeFeed — подписка на изменения таблицы page_access.
// Subscribe блокируется до отмены ctx.
type ChangeFeed interface {
	Subscribe(ctx context.Context, onChange func(event string)) error
}

// Snapshot — состояние локальной копии таблицы доступа.
// Срез Entries общий для всех читателей и не должен изменяться.
type Snapshot struct {
	Entries []model.PageAccessEntry `json:"entries"`
	// Roles — роли, упомянутые в таблице page_access
	Roles []string `json:"roles"`
	// Loaded — первая загрузка завершена (успешно или с откатом на значения по умолчанию)
	Loaded bool `json:"loaded"`
	// Defaulted — Entries взяты из таблицы по умолчанию
	Defaulted bool `json:"defaulted"`
	// Stale — последнее чтение завершилось ошибкой, снимок может быть устаревшим
	Stale       bool      `json:"stale"`
	Version     uint64    `json:"version"`
	RefreshedAt time.Time `json:"refreshedAt"`
}

// PageAccessService — сервис таблицы доступа к страницам.
type PageAccessService struct {
	repo           repository.PageAccessRepository
	roles          RoleSource
	feed           ChangeFeed
	fetchTimeout   time.Duration
	resyncInterval time.Duration
	logger         *slog.Logger

	mu         sync.RWMutex
	snap       Snapshot
	appliedSeq uint64

	// Порядковый номер начатого чтения
	readSeq atomic.Uint64

	watchMu  sync.Mutex
	watchers map[chan Snapshot]struct{}

	pending chan struct{}
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewPageAccessService создаёт сервис таблицы доступа.
// feed может быть nil — тогда снимок обновляется только по таймеру и после сохранений.
func NewPageAccessService(
	repo repository.PageAccessRepository,
	roles RoleSource,
	feed ChangeFeed,
	fetchTimeout time.Duration,
	resyncInterval time.Duration,
	logger *slog.Logger,
) *PageAccessService {
	return &PageAccessService{
		repo:           repo,
		roles:          roles,
		feed:           feed,
		fetchTimeout:   fetchTimeout,
		resyncInterval: resyncInterval,
		logger:         logger.With(slog.String("component", "page_access")),
		watchers:       make(map[chan Snapshot]struct{}),
		pending:        make(chan struct{}, 1),
	}
}

// Fetch читает таблицу из хранилища и собирает записи политики.
// Пустое хранилище — пустой список без ошибки.
func (s *PageAccessService) Fetch(ctx context.Context) ([]model.PageAccessEntry, error) {
	entries, _, err := s.fetch(ctx)
	return entries, err
}

// fetch параллельно читает страницы, роли и все строки таблицы.
func (s *PageAccessService) fetch(ctx context.Context) ([]model.PageAccessEntry, []string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.fetchTimeout)
	defer cancel()

	start := time.Now()
	defer func() { pageAccessRefreshDuration.Observe(time.Since(start).Seconds()) }()

	var (
		pages []model.PageRef
		roles []string
		rows  []model.PageRoleAccess
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		pages, err = s.repo.ListPages(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		roles, err = s.repo.ListRoles(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		rows, err = s.repo.ListAll(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, nil, fmt.Errorf("чтение таблицы доступа: %w", err)
	}

	return rbac.FoldPageAccess(pages, rows), rbac.NormalizeRoles(roles), nil
}

// Save записывает полный список записей: для каждой записи и каждой
// известной роли (реестр ролей ∪ роли из записей) — строка с can_access.
// Возвращает false при любой ошибке; ошибка логируется.
func (s *PageAccessService) Save(ctx context.Context, entries []model.PageAccessEntry, updatedBy string) bool {
	if msg := rbac.ValidateEntries(entries); msg != "" {
		s.logger.Warn("Сохранение отклонено: некорректный список страниц",
			slog.String("reason", msg),
		)
		pageAccessSaveTotal.WithLabelValues("invalid").Inc()
		return false
	}

	ctx, cancel := context.WithTimeout(ctx, s.fetchTimeout)
	defer cancel()

	known := s.roles.GetAllRoles(ctx)
	rows := rbac.ExpandPageAccess(entries, known, updatedBy)

	if err := s.repo.UpsertBatch(ctx, rows); err != nil {
		s.logger.Error("Ошибка сохранения таблицы доступа",
			slog.Int("entries", len(entries)),
			slog.Int("rows", len(rows)),
			slog.String("error", err.Error()),
		)
		pageAccessSaveTotal.WithLabelValues("error").Inc()
		return false
	}

	s.logger.Info("Таблица доступа сохранена",
		slog.Int("entries", len(entries)),
		slog.Int("rows", len(rows)),
		slog.String("updated_by", updatedBy),
	)
	pageAccessSaveTotal.WithLabelValues("ok").Inc()
	return true
}

// Snapshot возвращает текущий снимок таблицы доступа.
func (s *PageAccessService) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap
}

// Entries возвращает записи текущего снимка.
func (s *PageAccessService) Entries() []model.PageAccessEntry {
	return s.Snapshot().Entries
}

// Refresh перечитывает таблицу и обновляет снимок.
//   - пустой результат → таблица по умолчанию (Defaulted);
//   - ошибка → прежний снимок (Stale), либо таблица по умолчанию, если
//     ничего ещё не загружено; ошибка возвращается для логирования;
//   - результат (и ошибка) чтения, начатого раньше уже применённого,
//     отбрасывается.
func (s *PageAccessService) Refresh(ctx context.Context) (Snapshot, error) {
	seq := s.readSeq.Add(1)
	entries, roles, err := s.fetch(ctx)

	s.mu.Lock()

	// Более позднее чтение уже применено: ни результат, ни ошибка
	// этого чтения не меняют снимок.
	if seq < s.appliedSeq {
		snap, applied := s.snap, s.appliedSeq
		s.mu.Unlock()

		s.logger.Debug("Результат устаревшего чтения отброшен",
			slog.Uint64("seq", seq),
			slog.Uint64("applied_seq", applied),
			slog.Bool("failed", err != nil),
		)
		pageAccessRefreshTotal.WithLabelValues("stale").Inc()
		return snap, nil
	}

	if err != nil {
		if !s.snap.Loaded {
			s.applyLocked(defaultSnapshot(), false)
		} else {
			s.snap.Stale = true
		}
		snap := s.snap
		s.mu.Unlock()

		s.logger.Warn("Ошибка чтения таблицы доступа, используем прежний снимок",
			slog.Bool("defaulted", snap.Defaulted),
			slog.String("error", err.Error()),
		)
		pageAccessRefreshTotal.WithLabelValues("error").Inc()
		return snap, err
	}

	s.appliedSeq = seq

	result := "ok"
	next := Snapshot{Entries: entries, Roles: roles}
	if len(entries) == 0 {
		result = "empty"
		next = defaultSnapshot()
	}
	snap := s.applyLocked(next, true)
	s.mu.Unlock()

	s.logger.Debug("Снимок таблицы доступа обновлён",
		slog.Int("entries", len(snap.Entries)),
		slog.Bool("defaulted", snap.Defaulted),
		slog.Uint64("version", snap.Version),
	)
	pageAccessRefreshTotal.WithLabelValues(result).Inc()
	return snap, nil
}

// Update заменяет таблицу: сначала локально (оптимистично), затем
// сохраняет в хранилище и безусловно перечитывает её. При ошибке
// сохранения оптимистичное состояние отбрасывается.
func (s *PageAccessService) Update(ctx context.Context, entries []model.PageAccessEntry, updatedBy string) bool {
	s.mu.Lock()
	prev := s.snap
	optimistic := s.applyLocked(Snapshot{
		Entries: cloneEntries(entries),
		Roles:   mentionedRoles(entries),
	}, true)
	s.mu.Unlock()

	ok := s.Save(ctx, entries, updatedBy)
	if !ok {
		s.rollback(prev, optimistic.Version)
	}

	if _, err := s.Refresh(ctx); err != nil {
		s.logger.Warn("Не удалось перечитать таблицу после сохранения",
			slog.Bool("saved", ok),
			slog.String("error", err.Error()),
		)
	}
	return ok
}

// rollback возвращает снимок prev, если после оптимистичной замены
// снимок не менялся.
func (s *PageAccessService) rollback(prev Snapshot, optimisticVersion uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.snap.Version != optimisticVersion {
		return
	}
	if !prev.Loaded {
		prev = defaultSnapshot()
		prev.Stale = true
	}
	s.applyLocked(prev, !prev.Stale)
}

// applyLocked публикует новый снимок. Вызывается под s.mu.
func (s *PageAccessService) applyLocked(next Snapshot, fresh bool) Snapshot {
	next.Loaded = true
	next.Stale = !fresh
	next.Version = s.snap.Version + 1
	next.RefreshedAt = time.Now().UTC()
	if next.Roles == nil {
		next.Roles = []string{}
	}
	s.snap = next

	pageAccessEntries.Set(float64(len(next.Entries)))
	s.broadcast(next)
	return next
}

// Watch подписывает на новые версии снимка. Канал хранит только
// последнюю неполученную версию. Вызов cancel закрывает канал.
func (s *PageAccessService) Watch() (<-chan Snapshot, func()) {
	ch := make(chan Snapshot, 1)

	s.watchMu.Lock()
	s.watchers[ch] = struct{}{}
	s.watchMu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			s.watchMu.Lock()
			delete(s.watchers, ch)
			s.watchMu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}

func (s *PageAccessService) broadcast(snap Snapshot) {
	s.watchMu.Lock()
	defer s.watchMu.Unlock()

	for ch := range s.watchers {
		select {
		case ch <- snap:
		default:
			// Вытесняем непрочитанную версию
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- snap:
			default:
			}
		}
	}
}

// Start запускает подписку на изменения и фоновое обновление снимка.
// Первая загрузка выполняется асинхронно, до её завершения Loaded = false.
func (s *PageAccessService) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)

	s.RequestRefresh("startup")

	if s.feed != nil {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			if err := s.feed.Subscribe(ctx, s.RequestRefresh); err != nil {
				s.logger.Error("Подписка на изменения таблицы доступа завершилась с ошибкой",
					slog.String("error", err.Error()),
				)
			}
		}()
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.run(ctx)
	}()
}

// Stop останавливает фоновые горутины и ждёт их завершения.
func (s *PageAccessService) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

// RequestRefresh ставит обновление снимка в очередь. Если обновление уже
// ожидает, новый запрос с ним сливается.
func (s *PageAccessService) RequestRefresh(event string) {
	select {
	case s.pending <- struct{}{}:
		pageAccessNotifications.WithLabelValues("queued").Inc()
		s.logger.Debug("Обновление снимка запрошено", slog.String("event", event))
	default:
		pageAccessNotifications.WithLabelValues("coalesced").Inc()
	}
}

func (s *PageAccessService) run(ctx context.Context) {
	s.logger.Info("Обновление таблицы доступа запущено",
		slog.String("resync_interval", s.resyncInterval.String()),
		slog.Bool("change_feed", s.feed != nil),
	)

	var tick <-chan time.Time
	if s.resyncInterval > 0 {
		ticker := time.NewTicker(s.resyncInterval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Обновление таблицы доступа остановлено")
			return
		case <-s.pending:
			_, _ = s.Refresh(ctx)
		case <-tick:
			_, _ = s.Refresh(ctx)
		}
	}
}

// defaultSnapshot — снимок из таблицы по умолчанию.
func defaultSnapshot() Snapshot {
	entries := rbac.DefaultPageAccess()
	return Snapshot{
		Entries:   entries,
		Roles:     mentionedRoles(entries),
		Defaulted: true,
	}
}

func mentionedRoles(entries []model.PageAccessEntry) []string {
	lists := make([][]string, 0, len(entries))
	for _, e := range entries {
		lists = append(lists, e.AllowedProfiles)
	}
	return rbac.NormalizeRoles(lists...)
}

func cloneEntries(entries []model.PageAccessEntry) []model.PageAccessEntry {
	out := make([]model.PageAccessEntry, len(entries))
	for i, e := range entries {
		e.AllowedProfiles = append([]string(nil), e.AllowedProfiles...)
		if e.AllowedProfiles == nil {
			e.AllowedProfiles = []string{}
		}
		if e.ID == "" {
			e.ID = rbac.Slug(e.Name)
		}
		out[i] = e
	}
	return out
}
