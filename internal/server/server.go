// Пакет server — HTTP-сервер Access Module с graceful shutdown.
// Без TLS — HTTP внутри кластера, TLS termination на API Gateway.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/bigkaa/sentinela/access-module/internal/api/handlers"
	"github.com/bigkaa/sentinela/access-module/internal/api/middleware"
	"github.com/bigkaa/sentinela/access-module/internal/config"
)

// Middlewares — middleware защищённых маршрутов /api/v1.
// Любое поле может быть nil (используется в тестах).
type Middlewares struct {
	// JWTAuth — аутентификация по bearer token
	JWTAuth *middleware.JWTAuth
	// Validator — проверка запросов по OpenAPI контракту
	Validator *middleware.RequestValidator
	// Profile — определение Effective Profile (middleware.ProfileResolver)
	Profile func(http.Handler) http.Handler
	// SettingsGate — доступ к странице настроек (middleware.RequirePageAccess)
	SettingsGate func(http.Handler) http.Handler
}

// Server — HTTP-сервер Access Module.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
	cfg        *config.Config
}

// New создаёт новый HTTP-сервер с настроенными routes и middleware.
func New(cfg *config.Config, logger *slog.Logger, handler *handlers.APIHandler, mw Middlewares) *Server {
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      NewRouter(logger, handler, mw),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	srv.RegisterOnShutdown(handler.CloseStreams)

	return &Server{
		httpServer: srv,
		logger:     logger,
		cfg:        cfg,
	}
}

// NewRouter строит chi-роутер Access Module.
// Health и metrics публичны: их проверяет Kubernetes напрямую, без API Gateway.
func NewRouter(logger *slog.Logger, handler *handlers.APIHandler, mw Middlewares) http.Handler {
	router := chi.NewRouter()

	// Глобальные middleware (применяются ко ВСЕМ маршрутам)
	router.Use(chimw.RequestID)
	router.Use(chimw.Recoverer)
	router.Use(middleware.MetricsMiddleware())
	router.Use(middleware.RequestLogger(logger))

	router.Get("/health/live", handler.HealthLive)
	router.Get("/health/ready", handler.HealthReady)
	router.Get("/metrics", handler.GetMetrics)

	router.Route("/api/v1", func(r chi.Router) {
		if mw.JWTAuth != nil {
			r.Use(mw.JWTAuth.Middleware())
		}
		if mw.Validator != nil {
			r.Use(mw.Validator.Middleware())
		}
		if mw.Profile != nil {
			r.Use(mw.Profile)
		}

		r.Get("/me", handler.GetMe)
		r.Get("/roles", handler.ListRoles)

		r.Get("/page-access", handler.GetPageAccess)
		r.With(optional(mw.SettingsGate)).Put("/page-access", handler.SavePageAccess)
		r.Post("/page-access/refresh", handler.RefreshPageAccess)

		r.Get("/access/check", handler.CheckAccess)
		r.Get("/access/authorize", handler.AuthorizeForward)

		r.Get("/events/page-access", handler.StreamPageAccess)
	})

	return router
}

// optional возвращает m или пропускающий middleware, если m == nil.
func optional(m func(http.Handler) http.Handler) func(http.Handler) http.Handler {
	if m != nil {
		return m
	}
	return func(next http.Handler) http.Handler { return next }
}

// Run запускает сервер и ожидает сигнала завершения (SIGINT, SIGTERM)
// или отмены ctx. После этого выполняется graceful shutdown.
func (s *Server) Run(ctx context.Context) error {
	// Канал для ошибок сервера
	errCh := make(chan error, 1)

	go func() {
		s.logger.Info("HTTP-сервер запущен",
			slog.String("addr", s.httpServer.Addr),
		)

		err := s.httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	// Ожидание сигнала завершения
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case sig := <-quit:
		s.logger.Info("Получен сигнал завершения", slog.String("signal", sig.String()))
	case <-ctx.Done():
		s.logger.Info("Контекст сервера отменён")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("ошибка HTTP-сервера: %w", err)
		}
	}

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()

	s.logger.Info("Выполняется graceful shutdown...")
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("ошибка при graceful shutdown: %w", err)
	}

	s.logger.Info("HTTP-сервер остановлен")
	return nil
}
