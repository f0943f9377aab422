package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"reflect"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/bigkaa/sentinela/access-module/internal/domain/model"
	"github.com/bigkaa/sentinela/access-module/internal/domain/rbac"
	"github.com/bigkaa/sentinela/access-module/internal/repository"
)

var errStore = errors.New("хранилище недоступно")

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// memPageAccessRepo — PageAccessRepository в памяти.
type memPageAccessRepo struct {
	mu        sync.Mutex
	rows      map[[2]string]model.PageRoleAccess
	readErr   error
	upsertErr error
	upserts   int
	// beforeListAll вызывается перед ответом ListAll (для управления порядком чтений)
	beforeListAll func()
}

func newMemRepo() *memPageAccessRepo {
	return &memPageAccessRepo{rows: make(map[[2]string]model.PageRoleAccess)}
}

func (m *memPageAccessRepo) ListPages(_ context.Context) ([]model.PageRef, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.readErr != nil {
		return nil, m.readErr
	}
	seen := map[string]string{}
	for _, r := range m.rows {
		seen[r.PageName] = r.PagePath
	}
	pages := make([]model.PageRef, 0, len(seen))
	for name, path := range seen {
		pages = append(pages, model.PageRef{Name: name, Path: path})
	}
	sort.Slice(pages, func(i, j int) bool { return pages[i].Name < pages[j].Name })
	return pages, nil
}

func (m *memPageAccessRepo) ListRoles(_ context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.readErr != nil {
		return nil, m.readErr
	}
	var roles []string
	for _, r := range m.rows {
		roles = append(roles, r.Role)
	}
	return rbac.NormalizeRoles(roles), nil
}

func (m *memPageAccessRepo) ListAll(_ context.Context) ([]model.PageRoleAccess, error) {
	m.mu.Lock()
	hook := m.beforeListAll
	m.mu.Unlock()
	if hook != nil {
		hook()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.readErr != nil {
		return nil, m.readErr
	}
	all := make([]model.PageRoleAccess, 0, len(m.rows))
	for _, r := range m.rows {
		all = append(all, r)
	}
	return all, nil
}

func (m *memPageAccessRepo) UpsertBatch(_ context.Context, rows []model.PageRoleAccess) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.upserts++
	if m.upsertErr != nil {
		return m.upsertErr
	}
	for _, r := range rows {
		m.rows[[2]string{r.PageName, r.Role}] = r
	}
	return nil
}

func (m *memPageAccessRepo) set(f func(m *memPageAccessRepo)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f(m)
}

type staticRoles []string

func (s staticRoles) GetAllRoles(context.Context) []string { return s }

type fakeRPC struct {
	roles []string
	err   error
}

func (f fakeRPC) CallGetAllRoles(context.Context) ([]string, error) { return f.roles, f.err }

type fakeLister struct {
	roles []string
	err   error
}

func (f fakeLister) ListRoles(context.Context) ([]string, error) { return f.roles, f.err }

func newTestService(repo repository.PageAccessRepository, roles RoleSource) *PageAccessService {
	return NewPageAccessService(repo, roles, nil, time.Second, 0, discardLogger())
}

// --- RoleRegistry ---

func TestRoleRegistry(t *testing.T) {
	defaults := []string{"Inspetor", "Agente"}

	tests := []struct {
		name       string
		rpc        repository.RoleRepository
		tables     []RoleLister
		want       []string
		wantSource string
	}{
		{
			name:       "rpc отвечает",
			rpc:        fakeRPC{roles: []string{"Supervisor", "Agente", "Agente"}},
			tables:     []RoleLister{fakeLister{roles: []string{"X"}}},
			want:       []string{"Agente", "Supervisor"},
			wantSource: RoleSourceRPC,
		},
		{
			name: "rpc недоступен — объединение таблиц",
			rpc:  fakeRPC{err: errStore},
			tables: []RoleLister{
				fakeLister{roles: []string{"Supervisor", "", "  "}},
				fakeLister{roles: []string{"Agente", "Supervisor"}},
			},
			want:       []string{"Agente", "Supervisor"},
			wantSource: RoleSourceTables,
		},
		{
			name:       "rpc пуст — объединение таблиц",
			rpc:        fakeRPC{roles: []string{}},
			tables:     []RoleLister{fakeLister{roles: []string{"Corregedor"}}},
			want:       []string{"Corregedor"},
			wantSource: RoleSourceTables,
		},
		{
			name:       "одна таблица недоступна",
			rpc:        fakeRPC{err: errStore},
			tables:     []RoleLister{fakeLister{err: errStore}, fakeLister{roles: []string{"Agente"}}},
			want:       []string{"Agente"},
			wantSource: RoleSourceTables,
		},
		{
			name:       "всё недоступно — роли по умолчанию",
			rpc:        fakeRPC{err: errStore},
			tables:     []RoleLister{fakeLister{err: errStore}, fakeLister{err: errStore}},
			want:       []string{"Agente", "Inspetor"},
			wantSource: RoleSourceDefaults,
		},
		{
			name:       "всё пусто — роли по умолчанию",
			rpc:        fakeRPC{},
			tables:     []RoleLister{fakeLister{}, fakeLister{roles: []string{""}}},
			want:       []string{"Agente", "Inspetor"},
			wantSource: RoleSourceDefaults,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRoleRegistry(tt.rpc, tt.tables, defaults, discardLogger())
			got, source := r.Resolve(context.Background())
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Resolve() = %v, хотели %v", got, tt.want)
			}
			if source != tt.wantSource {
				t.Errorf("источник = %q, хотели %q", source, tt.wantSource)
			}
			if !reflect.DeepEqual(r.GetAllRoles(context.Background()), tt.want) {
				t.Error("GetAllRoles() не совпадает с Resolve()")
			}
		})
	}
}

func TestRoleRegistry_DefaultsCopy(t *testing.T) {
	r := NewRoleRegistry(nil, nil, []string{"Agente"}, discardLogger())
	roles := r.GetAllRoles(context.Background())
	roles[0] = "Alterado"
	if got := r.GetAllRoles(context.Background()); got[0] != "Agente" {
		t.Errorf("роли по умолчанию изменены вызывающим: %v", got)
	}
}

// --- PageAccessService ---

func TestPageAccessService_SaveFetchRoundTrip(t *testing.T) {
	repo := newMemRepo()
	svc := newTestService(repo, staticRoles{"Agente", "Inspetor", "Supervisor"})
	ctx := context.Background()

	entries := []model.PageAccessEntry{
		{ID: "viaturas", Name: "Viaturas", Path: "/viaturas", AllowedProfiles: []string{"Supervisor", "Agente"}},
		{ID: "mapa", Name: "Mapa", Path: "/mapa", AllowedProfiles: []string{"Corregedor"}},
		{ID: "corregedoria", Name: "Corregedoria", Path: "/corregedoria", AllowedProfiles: []string{}},
	}
	if !svc.Save(ctx, entries, "admin") {
		t.Fatal("Save() = false")
	}

	// 3 страницы × 4 роли (3 известных + Corregedor из записей)
	if len(repo.rows) != 12 {
		t.Errorf("записано %d строк, хотели 12", len(repo.rows))
	}

	got, err := svc.Fetch(ctx)
	if err != nil {
		t.Fatalf("Fetch() вернул ошибку: %v", err)
	}
	want := []model.PageAccessEntry{
		{ID: "corregedoria", Name: "Corregedoria", Path: "/corregedoria", AllowedProfiles: []string{}},
		{ID: "mapa", Name: "Mapa", Path: "/mapa", AllowedProfiles: []string{"Corregedor"}},
		{ID: "viaturas", Name: "Viaturas", Path: "/viaturas", AllowedProfiles: []string{"Agente", "Supervisor"}},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Fetch() после Save() =\n%+v\nхотели\n%+v", got, want)
	}

	// Отзыв роли записывается как can_access = false
	entries[0].AllowedProfiles = []string{"Agente"}
	if !svc.Save(ctx, entries, "admin") {
		t.Fatal("повторный Save() = false")
	}
	row := repo.rows[[2]string{"Viaturas", "Supervisor"}]
	if row.CanAccess {
		t.Error("Supervisor должен потерять доступ к Viaturas")
	}
}

func TestPageAccessService_SaveRejectsInvalid(t *testing.T) {
	repo := newMemRepo()
	svc := newTestService(repo, staticRoles{"Agente"})

	entries := []model.PageAccessEntry{
		{Name: "A", Path: "/a"},
		{Name: "A", Path: "/b"},
	}
	if svc.Save(context.Background(), entries, "admin") {
		t.Error("Save() с повтором имени = true")
	}
	if repo.upserts != 0 {
		t.Errorf("UpsertBatch вызван %d раз, хотели 0", repo.upserts)
	}
}

func TestPageAccessService_SaveError(t *testing.T) {
	repo := newMemRepo()
	repo.upsertErr = errStore
	svc := newTestService(repo, staticRoles{"Agente"})

	if svc.Save(context.Background(), rbac.DefaultPageAccess(), "admin") {
		t.Error("Save() при ошибке хранилища = true")
	}
}

func TestPageAccessService_Refresh(t *testing.T) {
	ctx := context.Background()

	t.Run("до загрузки", func(t *testing.T) {
		svc := newTestService(newMemRepo(), staticRoles{})
		snap := svc.Snapshot()
		if snap.Loaded {
			t.Error("Loaded = true до первого обновления")
		}
	})

	t.Run("пустое хранилище — значения по умолчанию", func(t *testing.T) {
		svc := newTestService(newMemRepo(), staticRoles{})
		snap, err := svc.Refresh(ctx)
		if err != nil {
			t.Fatalf("Refresh() вернул ошибку: %v", err)
		}
		if !snap.Loaded || !snap.Defaulted || snap.Stale {
			t.Errorf("снимок = %+v, хотели Loaded, Defaulted, не Stale", snap)
		}
		if !reflect.DeepEqual(snap.Entries, rbac.DefaultPageAccess()) {
			t.Error("Entries не совпадают с таблицей по умолчанию")
		}
	})

	t.Run("ошибка до загрузки — значения по умолчанию", func(t *testing.T) {
		repo := newMemRepo()
		repo.readErr = errStore
		svc := newTestService(repo, staticRoles{})
		snap, err := svc.Refresh(ctx)
		if !errors.Is(err, errStore) {
			t.Errorf("Refresh() = %v, хотели errStore", err)
		}
		if !snap.Loaded || !snap.Defaulted || !snap.Stale {
			t.Errorf("снимок = %+v, хотели Loaded, Defaulted, Stale", snap)
		}
	})

	t.Run("ошибка после загрузки — прежний снимок", func(t *testing.T) {
		repo := newMemRepo()
		svc := newTestService(repo, staticRoles{"Agente"})
		entries := []model.PageAccessEntry{{Name: "Mapa", Path: "/mapa", AllowedProfiles: []string{"Agente"}}}
		if !svc.Save(ctx, entries, "admin") {
			t.Fatal("Save() = false")
		}
		loaded, err := svc.Refresh(ctx)
		if err != nil {
			t.Fatalf("Refresh() вернул ошибку: %v", err)
		}

		repo.set(func(m *memPageAccessRepo) { m.readErr = errStore })
		snap, err := svc.Refresh(ctx)
		if err == nil {
			t.Error("Refresh() при ошибке хранилища вернул nil")
		}
		if !reflect.DeepEqual(snap.Entries, loaded.Entries) || snap.Defaulted {
			t.Errorf("снимок заменён при ошибке: %+v", snap)
		}
		if !snap.Stale {
			t.Error("Stale = false после ошибки чтения")
		}
	})
}

// Из двух конкурирующих чтений побеждает начатое последним,
// даже если оно завершилось первым.
func TestPageAccessService_LastStartedReadWins(t *testing.T) {
	repo := newMemRepo()
	svc := newTestService(repo, staticRoles{"Agente"})
	ctx := context.Background()

	old := []model.PageAccessEntry{{Name: "Mapa", Path: "/mapa", AllowedProfiles: []string{"Agente"}}}
	if !svc.Save(ctx, old, "admin") {
		t.Fatal("Save() = false")
	}

	release := make(chan struct{})
	entered := make(chan struct{})
	repo.set(func(m *memPageAccessRepo) {
		m.beforeListAll = func() {
			close(entered)
			<-release
		}
	})

	// Первое чтение зависает внутри ListAll
	slowDone := make(chan Snapshot)
	go func() {
		snap, _ := svc.Refresh(ctx)
		slowDone <- snap
	}()
	<-entered

	// Данные меняются, второе чтение завершается сразу
	repo.set(func(m *memPageAccessRepo) {
		m.beforeListAll = nil
		m.rows[[2]string{"Mapa", "Agente"}] = model.PageRoleAccess{PageName: "Mapa", PagePath: "/mapa", Role: "Agente", CanAccess: false}
	})
	fresh, err := svc.Refresh(ctx)
	if err != nil {
		t.Fatalf("Refresh() вернул ошибку: %v", err)
	}
	if len(fresh.Entries) != 1 || len(fresh.Entries[0].AllowedProfiles) != 0 {
		t.Fatalf("свежий снимок = %+v", fresh.Entries)
	}

	close(release)
	slow := <-slowDone
	if slow.Version != fresh.Version {
		t.Errorf("результат устаревшего чтения применён: версия %d, хотели %d", slow.Version, fresh.Version)
	}
	if got := svc.Entries(); len(got[0].AllowedProfiles) != 0 {
		t.Errorf("Entries() = %+v, устаревшее чтение перезаписало снимок", got)
	}
}

func TestPageAccessService_EarlierFailedReadKeepsFreshSnapshot(t *testing.T) {
	repo := newMemRepo()
	svc := newTestService(repo, staticRoles{"Agente"})
	ctx := context.Background()

	if !svc.Save(ctx, []model.PageAccessEntry{{Name: "Mapa", Path: "/mapa", AllowedProfiles: []string{"Agente"}}}, "admin") {
		t.Fatal("Save() = false")
	}

	release := make(chan struct{})
	entered := make(chan struct{})
	repo.set(func(m *memPageAccessRepo) {
		m.beforeListAll = func() {
			close(entered)
			<-release
		}
	})

	slowDone := make(chan error)
	go func() {
		_, err := svc.Refresh(ctx)
		slowDone <- err
	}()
	<-entered

	repo.set(func(m *memPageAccessRepo) { m.beforeListAll = nil })
	fresh, err := svc.Refresh(ctx)
	if err != nil {
		t.Fatalf("Refresh() вернул ошибку: %v", err)
	}
	if fresh.Stale {
		t.Fatal("свежий снимок помечен устаревшим")
	}

	// Первое чтение завершается ошибкой уже после применения второго
	repo.set(func(m *memPageAccessRepo) { m.readErr = errStore })
	close(release)
	if err := <-slowDone; err != nil {
		t.Errorf("ошибка устаревшего чтения = %v, хотели nil", err)
	}

	got := svc.Snapshot()
	if got.Stale {
		t.Error("Stale = true: ошибка устаревшего чтения испортила свежий снимок")
	}
	if got.Version != fresh.Version {
		t.Errorf("Version = %d, хотели %d", got.Version, fresh.Version)
	}
}

func TestPageAccessService_Update(t *testing.T) {
	ctx := context.Background()
	entries := []model.PageAccessEntry{
		{Name: "Guardas", Path: "/guardas", AllowedProfiles: []string{"Supervisor"}},
	}

	t.Run("успех", func(t *testing.T) {
		repo := newMemRepo()
		svc := newTestService(repo, staticRoles{"Agente", "Supervisor"})

		if !svc.Update(ctx, entries, "admin") {
			t.Fatal("Update() = false")
		}
		snap := svc.Snapshot()
		if snap.Defaulted || snap.Stale || len(snap.Entries) != 1 {
			t.Fatalf("снимок = %+v", snap)
		}
		if snap.Entries[0].ID != "guardas" {
			t.Errorf("ID = %q, хотели guardas", snap.Entries[0].ID)
		}
	})

	t.Run("ошибка сохранения — оптимистичное состояние отброшено", func(t *testing.T) {
		repo := newMemRepo()
		svc := newTestService(repo, staticRoles{"Agente"})
		before, _ := svc.Refresh(ctx)

		repo.set(func(m *memPageAccessRepo) { m.upsertErr = errStore })
		if svc.Update(ctx, entries, "admin") {
			t.Fatal("Update() = true при ошибке сохранения")
		}

		snap := svc.Snapshot()
		if !reflect.DeepEqual(snap.Entries, before.Entries) {
			t.Errorf("после неудачного Update() Entries = %+v, хотели прежние", snap.Entries)
		}
	})

	t.Run("ошибка сохранения и чтения — откат без перечитывания", func(t *testing.T) {
		repo := newMemRepo()
		svc := newTestService(repo, staticRoles{"Agente"})
		before, _ := svc.Refresh(ctx)

		repo.set(func(m *memPageAccessRepo) {
			m.upsertErr = errStore
			m.readErr = errStore
		})
		if svc.Update(ctx, entries, "admin") {
			t.Fatal("Update() = true при ошибке сохранения")
		}
		if got := svc.Entries(); !reflect.DeepEqual(got, before.Entries) {
			t.Errorf("Entries() = %+v, хотели прежние", got)
		}
	})
}

func TestPageAccessService_Watch(t *testing.T) {
	svc := newTestService(newMemRepo(), staticRoles{})
	ch, cancel := svc.Watch()

	if _, err := svc.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh() вернул ошибку: %v", err)
	}
	if _, err := svc.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh() вернул ошибку: %v", err)
	}

	// Канал хранит только последнюю версию
	select {
	case snap := <-ch:
		if snap.Version != 2 {
			t.Errorf("Version = %d, хотели 2", snap.Version)
		}
	case <-time.After(time.Second):
		t.Fatal("нет уведомления о новой версии")
	}

	cancel()
	cancel()
	if _, ok := <-ch; ok {
		t.Error("канал не закрыт после cancel()")
	}
}

type fakeFeed struct {
	subscribed chan func(string)
}

func (f *fakeFeed) Subscribe(ctx context.Context, onChange func(event string)) error {
	f.subscribed <- onChange
	<-ctx.Done()
	return nil
}

func TestPageAccessService_StartStop(t *testing.T) {
	repo := newMemRepo()
	feed := &fakeFeed{subscribed: make(chan func(string), 1)}
	svc := NewPageAccessService(repo, staticRoles{"Agente"}, feed, time.Second, time.Hour, discardLogger())

	ch, cancel := svc.Watch()
	defer cancel()

	svc.Start(context.Background())
	defer svc.Stop()

	waitVersion := func() Snapshot {
		t.Helper()
		select {
		case snap := <-ch:
			return snap
		case <-time.After(2 * time.Second):
			t.Fatal("снимок не обновлён")
			return Snapshot{}
		}
	}

	first := waitVersion()
	if !first.Loaded || !first.Defaulted {
		t.Errorf("первый снимок = %+v, хотели Loaded и Defaulted", first)
	}

	onChange := <-feed.subscribed
	repo.set(func(m *memPageAccessRepo) {
		m.rows[[2]string{"Mapa", "Agente"}] = model.PageRoleAccess{PageName: "Mapa", PagePath: "/mapa", Role: "Agente", CanAccess: true}
	})
	onChange("INSERT")

	snap := waitVersion()
	if snap.Defaulted || len(snap.Entries) != 1 || snap.Entries[0].Name != "Mapa" {
		t.Errorf("снимок после уведомления = %+v", snap)
	}
}

func TestPageAccessService_RequestRefreshCoalesces(t *testing.T) {
	svc := newTestService(newMemRepo(), staticRoles{})
	for range 5 {
		svc.RequestRefresh("UPDATE")
	}
	if len(svc.pending) != 1 {
		t.Errorf("ожидающих обновлений = %d, хотели 1", len(svc.pending))
	}
}

// --- ProfileCache и SessionResolver ---

type countingProfiles struct {
	mu       sync.Mutex
	profiles map[string]*model.Profile
	err      error
	calls    int
}

func (c *countingProfiles) GetByID(_ context.Context, id string) (*model.Profile, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	if c.err != nil {
		return nil, c.err
	}
	p, ok := c.profiles[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return p, nil
}

func (c *countingProfiles) ListRoles(context.Context) ([]string, error) { return nil, nil }

func TestProfileCache(t *testing.T) {
	repo := &countingProfiles{profiles: map[string]*model.Profile{
		"u1": {ID: "u1", Email: "u1@gcm.local", Role: "Agente"},
	}}
	cache := NewProfileCache(repo, 10, time.Minute)
	ctx := context.Background()

	for range 3 {
		p, err := cache.Get(ctx, "u1")
		if err != nil {
			t.Fatalf("Get() вернул ошибку: %v", err)
		}
		if p.Role != "Agente" {
			t.Errorf("Role = %q, хотели Agente", p.Role)
		}
	}
	if repo.calls != 1 {
		t.Errorf("обращений к БД = %d, хотели 1", repo.calls)
	}

	// Отсутствующий профиль кэшируется с пустой ролью
	p, err := cache.Get(ctx, "ghost")
	if err != nil || p.Role != "" {
		t.Errorf("Get(ghost) = %+v, %v", p, err)
	}
	_, _ = cache.Get(ctx, "ghost")
	if repo.calls != 2 {
		t.Errorf("обращений к БД = %d, хотели 2", repo.calls)
	}

	cache.Invalidate("u1")
	if cache.Len() != 1 {
		t.Errorf("Len() = %d, хотели 1", cache.Len())
	}

	repo.err = errStore
	if _, err := cache.Get(ctx, "u1"); !errors.Is(err, errStore) {
		t.Errorf("Get() при ошибке БД = %v, хотели errStore", err)
	}
}

type mapProfiles struct {
	profiles map[string]model.Profile
	err      error
}

func (m mapProfiles) Get(_ context.Context, id string) (model.Profile, error) {
	if m.err != nil {
		return model.Profile{}, m.err
	}
	return m.profiles[id], nil
}

func TestSessionResolver(t *testing.T) {
	const (
		adminID = "9b2f6c1e-0d7a-4c55-8f3e-1a2b3c4d5e6f"
		guardID = "3e4f5a6b-7c8d-4e9f-a0b1-c2d3e4f5a6b7"
		chiefID = "0a1b2c3d-4e5f-4a6b-8c7d-9e0f1a2b3c4d"
	)
	overrides := rbac.NewOverrides([]model.SpecialOverride{
		{By: model.OverrideByID, Match: adminID, Role: rbac.RoleInspetor},
		{By: model.OverrideByEmail, Match: "Chefe@GCM.local", Role: rbac.RoleSubinspetor},
	})
	profiles := mapProfiles{profiles: map[string]model.Profile{
		adminID: {ID: adminID, Email: "admin@gcm.local", Role: rbac.RoleAgente},
		guardID: {ID: guardID, Email: "guarda@gcm.local", Role: rbac.RoleAgente},
		chiefID: {ID: chiefID, Email: "chefe@gcm.local", Role: rbac.RoleSupervisor},
	}}
	r := NewSessionResolver(overrides, profiles, discardLogger())
	ctx := context.Background()

	tests := []struct {
		name          string
		id            Identity
		cached        *CachedProfile
		wantEffective string
		wantRole      string
		wantKind      model.OverrideKind
		wantRewrite   bool
	}{
		{
			name:          "переопределение по id",
			id:            Identity{UserID: adminID},
			wantEffective: rbac.RoleInspetor,
			wantRole:      rbac.RoleAgente,
			wantKind:      model.OverrideByID,
			wantRewrite:   true,
		},
		{
			name:          "переопределение по email без учёта регистра",
			id:            Identity{UserID: chiefID, Email: "chefe@gcm.local"},
			wantEffective: rbac.RoleSubinspetor,
			wantRole:      rbac.RoleSupervisor,
			wantKind:      model.OverrideByEmail,
			wantRewrite:   true,
		},
		{
			name:          "роль из профиля",
			id:            Identity{UserID: guardID, Email: "guarda@gcm.local"},
			wantEffective: rbac.RoleAgente,
			wantRole:      rbac.RoleAgente,
			wantRewrite:   true,
		},
		{
			name: "актуальное сохранённое состояние не перезаписывается",
			id:   Identity{UserID: guardID, Email: "guarda@gcm.local"},
			cached: &CachedProfile{
				UserID: guardID, Email: "guarda@gcm.local",
				Role: rbac.RoleAgente, EffectiveProfile: rbac.RoleAgente,
			},
			wantEffective: rbac.RoleAgente,
			wantRole:      rbac.RoleAgente,
		},
		{
			name: "устаревший Effective Profile перезаписывается",
			id:   Identity{UserID: adminID},
			cached: &CachedProfile{
				UserID: adminID, Email: "admin@gcm.local",
				Role: rbac.RoleAgente, EffectiveProfile: rbac.RoleAgente,
			},
			wantEffective: rbac.RoleInspetor,
			wantRole:      rbac.RoleAgente,
			wantKind:      model.OverrideByID,
			wantRewrite:   true,
		},
		{
			name: "состояние другого пользователя игнорируется",
			id:   Identity{UserID: guardID},
			cached: &CachedProfile{
				UserID: adminID, Email: "admin@gcm.local",
				Role: rbac.RoleInspetor, EffectiveProfile: rbac.RoleInspetor,
			},
			wantEffective: rbac.RoleAgente,
			wantRole:      rbac.RoleAgente,
			wantRewrite:   true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := r.Resolve(ctx, tt.id, tt.cached)
			if res.Session.EffectiveProfile != tt.wantEffective {
				t.Errorf("EffectiveProfile = %q, хотели %q", res.Session.EffectiveProfile, tt.wantEffective)
			}
			if res.Session.Role != tt.wantRole {
				t.Errorf("Role = %q, хотели %q", res.Session.Role, tt.wantRole)
			}
			if res.OverrideKind != tt.wantKind {
				t.Errorf("OverrideKind = %q, хотели %q", res.OverrideKind, tt.wantKind)
			}
			if res.Rewrite != tt.wantRewrite {
				t.Errorf("Rewrite = %v, хотели %v", res.Rewrite, tt.wantRewrite)
			}
			if c := res.ToCached(); c.EffectiveProfile != res.Session.EffectiveProfile || c.UserID != res.Session.UserID {
				t.Errorf("ToCached() = %+v не соответствует сессии", c)
			}
		})
	}
}

func TestSessionResolver_ProfileUnavailable(t *testing.T) {
	r := NewSessionResolver(nil, mapProfiles{err: errStore}, discardLogger())
	ctx := context.Background()

	// С сохранённым состоянием — роль из него
	res := r.Resolve(ctx, Identity{UserID: "u1"}, &CachedProfile{UserID: "u1", Role: rbac.RoleSupervisor})
	if res.Session.EffectiveProfile != rbac.RoleSupervisor {
		t.Errorf("EffectiveProfile = %q, хотели Supervisor", res.Session.EffectiveProfile)
	}

	// Без него — роль не определена, доступ решает политика
	res = r.Resolve(ctx, Identity{UserID: "u1"}, nil)
	if res.Session.EffectiveProfile != "" {
		t.Errorf("EffectiveProfile = %q, хотели пустую", res.Session.EffectiveProfile)
	}
}
