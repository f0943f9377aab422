// Точка входа Access Module — авторизация доступа к страницам GCM Sentinela.
// Загружает конфигурацию, подключается к PostgreSQL, применяет миграции,
// создаёт реестр ролей, таблицу доступа с подпиской LISTEN/NOTIFY,
// определение Effective Profile, API handlers, запускает topologymetrics
// и HTTP-сервер с JWT middleware и graceful shutdown.
package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/jackc/pgx/v5/stdlib"

	"github.com/bigkaa/sentinela/access-module/api"
	"github.com/bigkaa/sentinela/access-module/internal/api/handlers"
	"github.com/bigkaa/sentinela/access-module/internal/api/middleware"
	"github.com/bigkaa/sentinela/access-module/internal/api/session"
	"github.com/bigkaa/sentinela/access-module/internal/config"
	"github.com/bigkaa/sentinela/access-module/internal/database"
	"github.com/bigkaa/sentinela/access-module/internal/domain/rbac"
	"github.com/bigkaa/sentinela/access-module/internal/repository"
	"github.com/bigkaa/sentinela/access-module/internal/server"
	"github.com/bigkaa/sentinela/access-module/internal/service"
)

func main() {
	// 1. Загрузка конфигурации из переменных окружения
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Ошибка загрузки конфигурации", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 2. Настройка логирования
	logger := config.SetupLogger(cfg)
	logger.Info("Access Module запускается",
		slog.String("version", config.Version),
		slog.Int("port", cfg.Port),
	)

	// Предупреждения о дефолтных значениях topologymetrics
	if os.Getenv("SN_DEPHEALTH_GROUP") == "" {
		logger.Warn("SN_DEPHEALTH_GROUP не задана, используется значение по умолчанию",
			slog.String("default", cfg.DephealthGroup),
		)
	}

	// 3. Применение миграций БД
	logger.Info("Применение миграций БД...")
	if err := database.Migrate(cfg, logger); err != nil {
		logger.Error("Ошибка миграций БД", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 4. Подключение к PostgreSQL (pgxpool)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := database.Connect(ctx, cfg, logger)
	if err != nil {
		logger.Error("Ошибка подключения к PostgreSQL", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer pool.Close()

	// 4.1 Адаптер pgxpool → *sql.DB для topologymetrics (connection pool mode).
	pgDB := stdlib.OpenDBFromPool(pool)
	defer pgDB.Close()

	// 5. Repositories
	pageAccessRepo := repository.NewPageAccessRepository(pool)
	profileRepo := repository.NewProfileRepository(pool)
	roleRepo := repository.NewRoleRepository(pool)

	// 6. Реестр ролей: get_all_roles() → profiles ∪ page_access → SN_DEFAULT_ROLES
	roleRegistry := service.NewRoleRegistry(
		roleRepo,
		[]service.RoleLister{profileRepo, pageAccessRepo},
		cfg.DefaultRoles,
		logger,
	)

	// 7. Таблица доступа с подпиской на изменения
	listener := database.NewListener(cfg.DatabaseDSN(), database.NotifyChannel, logger)
	pageAccessSvc := service.NewPageAccessService(
		pageAccessRepo,
		roleRegistry,
		listener,
		cfg.FetchTimeout,
		cfg.ResyncInterval,
		logger,
	)
	pageAccessSvc.Start(ctx)

	// 8. Движок решений и определение Effective Profile
	overrides := rbac.NewOverrides(cfg.SpecialOverrides)
	if overrides.Len() > 0 {
		logger.Info("Статические переопределения ролей загружены",
			slog.Int("count", overrides.Len()),
		)
	}
	engine := rbac.NewEngine(overrides)

	profileCache := service.NewProfileCache(profileRepo, cfg.ProfileCacheSize, cfg.ProfileCacheTTL)
	resolver := service.NewSessionResolver(overrides, profileCache, logger)

	// Cookie профиля — шифрование AES-256-GCM
	cookies, err := session.NewManager(cfg.SessionSecret, cfg.SessionCookieSecure)
	if err != nil {
		logger.Error("Ошибка создания менеджера cookie профиля", slog.String("error", err.Error()))
		os.Exit(1)
	}
	if cfg.SessionSecret == "" {
		logger.Warn("SN_SESSION_SECRET не задан, cookie профиля не переживают рестарт")
	}

	// 9. topologymetrics — мониторинг зависимостей (PostgreSQL + JWKS)
	dephealthSvc, dephealthErr := service.NewDephealthService(service.DephealthConfig{
		ServiceID:     "access-module",
		Group:         cfg.DephealthGroup,
		DB:            pgDB,
		PostgresURL:   cfg.DatabaseURL(),
		JWKSURL:       cfg.JWTJWKSURL,
		CheckInterval: cfg.DephealthCheckInterval,
		TLSSkipVerify: cfg.DephealthTLSSkipVerify,
	}, logger)
	if dephealthErr != nil {
		logger.Warn("topologymetrics недоступен, запуск без мониторинга зависимостей",
			slog.String("error", dephealthErr.Error()),
		)
		dephealthSvc = nil
	} else if startErr := dephealthSvc.Start(ctx); startErr != nil {
		logger.Warn("Ошибка запуска topologymetrics",
			slog.String("error", startErr.Error()),
		)
		dephealthSvc = nil
	} else {
		logger.Info("topologymetrics запущен",
			slog.String("group", cfg.DephealthGroup),
			slog.String("check_interval", cfg.DephealthCheckInterval.String()),
		)
	}

	// 10. Readiness checkers (PostgreSQL + JWKS)
	pgChecker := database.NewReadinessChecker(pool)
	jwksChecker, err := middleware.NewJWKSReadinessChecker(cfg.JWTJWKSURL, cfg.CACertPath, cfg.JWKSClientTimeout)
	if err != nil {
		logger.Error("Ошибка создания JWKS readiness checker", slog.String("error", err.Error()))
		os.Exit(1)
	}
	var deps handlers.DependencyHealth
	if dephealthSvc != nil {
		deps = dephealthSvc
	}
	healthHandler := handlers.NewHealthHandler(pgChecker, jwksChecker, pageAccessSvc, deps)

	// 11. API handler
	apiHandler := handlers.NewAPIHandler(
		healthHandler,
		pageAccessSvc,
		roleRegistry,
		engine,
		cfg.SSEKeepalive,
		logger,
	)

	// 12. Middleware: JWT, OpenAPI, профиль, доступ к странице настроек
	jwtAuth, err := middleware.NewJWTAuth(
		cfg.JWTJWKSURL,
		cfg.CACertPath,
		cfg.JWTIssuer,
		cfg.JWKSClientTimeout,
		cfg.JWKSRefreshInterval,
		cfg.JWTLeeway,
		logger,
	)
	if err != nil {
		logger.Error("Ошибка создания JWT middleware", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger.Info("JWT middleware инициализирован",
		slog.String("jwks_url", cfg.JWTJWKSURL),
		slog.String("issuer", cfg.JWTIssuer),
	)

	validator, err := middleware.NewRequestValidator(api.OpenAPISpec, logger)
	if err != nil {
		logger.Error("Ошибка загрузки OpenAPI контракта", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 13. Создание и запуск HTTP-сервера
	srv := server.New(cfg, logger, apiHandler, server.Middlewares{
		JWTAuth:      jwtAuth,
		Validator:    validator,
		Profile:      middleware.ProfileResolver(resolver, cookies, logger),
		SettingsGate: middleware.RequirePageAccess(engine, pageAccessSvc, cfg.SettingsPagePath, logger),
	})
	if err := srv.Run(ctx); err != nil {
		logger.Error("Ошибка сервера", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 14. Graceful shutdown фоновых задач
	logger.Info("Останавливаем фоновые задачи...")

	if dephealthSvc != nil {
		dephealthSvc.Stop()
	}
	pageAccessSvc.Stop()

	logger.Info("Access Module остановлен")
}
