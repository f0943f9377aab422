// Пакет config — загрузка и валидация конфигурации Access Module
// из переменных окружения.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/bigkaa/sentinela/access-module/internal/domain/model"
)

// Версия приложения, задаётся при сборке через -ldflags.
var Version = "dev"

// DefaultRoles — роли по умолчанию, если ни один источник ролей не ответил.
const DefaultRoles = "Agente,Corregedor,Inspetor,Subinspetor,Supervisor"

// Config содержит все параметры конфигурации Access Module.
type Config struct {
	// --- Сервер ---

	// Порт HTTP-сервера
	Port int
	// Уровень логирования (debug, info, warn, error)
	LogLevel slog.Level
	// Формат логов (json, text)
	LogFormat string

	// --- PostgreSQL ---

	DBHost     string
	DBPort     int
	DBName     string
	DBUser     string
	DBPassword string
	// Режим SSL: disable, require, verify-ca, verify-full
	DBSSLMode string

	// --- JWT (идентичность сессии) ---

	// URL JWKS endpoint провайдера аутентификации
	JWTJWKSURL string
	// Ожидаемый issuer JWT (пустой — не проверяется)
	JWTIssuer string
	// Допустимое отклонение часов при проверке exp/nbf
	JWTLeeway time.Duration
	// Таймаут HTTP-клиента JWKS
	JWKSClientTimeout time.Duration
	// Интервал фонового обновления JWKS
	JWKSRefreshInterval time.Duration
	// Путь к CA-сертификату для JWKS (опционально)
	CACertPath string

	// --- Авторизация страниц ---

	// Статические переопределения ролей (SN_SPECIAL_OVERRIDES)
	SpecialOverrides []model.SpecialOverride
	// Роли по умолчанию для реестра ролей
	DefaultRoles []string
	// Корневой путь страницы настроек доступа
	SettingsPagePath string
	// Таймаут одного обращения к хранилищу политик
	FetchTimeout time.Duration
	// Интервал страховочной полной перезагрузки таблицы доступа
	ResyncInterval time.Duration

	// --- Кэш профилей ---

	ProfileCacheSize int
	ProfileCacheTTL  time.Duration

	// --- Сессия ---

	// Ключ шифрования cookie профиля (пустой — случайный)
	SessionSecret string
	// Secure flag cookie профиля (false — только для разработки по HTTP)
	SessionCookieSecure bool
	// Интервал keepalive для SSE
	SSEKeepalive time.Duration

	// --- topologymetrics ---

	DephealthGroup         string
	DephealthCheckInterval time.Duration
	// Не проверять TLS-сертификат JWKS endpoint при health check (dev-среда)
	DephealthTLSSkipVerify bool

	// --- Graceful shutdown ---

	ShutdownTimeout time.Duration
}

// Load загружает конфигурацию из переменных окружения, валидирует
// обязательные поля и возвращает Config или ошибку.
func Load() (*Config, error) {
	cfg := &Config{}
	var err error

	// --- Сервер ---

	cfg.Port, err = getEnvInt("SN_PORT", 8000)
	if err != nil {
		return nil, fmt.Errorf("SN_PORT: %w", err)
	}
	if cfg.Port < 1 || cfg.Port > 65535 {
		return nil, fmt.Errorf("SN_PORT: значение %d вне допустимого диапазона 1-65535", cfg.Port)
	}

	cfg.LogLevel, err = parseLogLevel(getEnvDefault("SN_LOG_LEVEL", "info"))
	if err != nil {
		return nil, fmt.Errorf("SN_LOG_LEVEL: %w", err)
	}

	cfg.LogFormat = getEnvDefault("SN_LOG_FORMAT", "json")
	if cfg.LogFormat != "json" && cfg.LogFormat != "text" {
		return nil, fmt.Errorf("SN_LOG_FORMAT: недопустимое значение %q, допустимые: json, text", cfg.LogFormat)
	}

	// --- PostgreSQL ---

	if cfg.DBHost, err = getEnvRequired("SN_DB_HOST"); err != nil {
		return nil, err
	}
	cfg.DBPort, err = getEnvInt("SN_DB_PORT", 5432)
	if err != nil {
		return nil, fmt.Errorf("SN_DB_PORT: %w", err)
	}
	if cfg.DBName, err = getEnvRequired("SN_DB_NAME"); err != nil {
		return nil, err
	}
	if cfg.DBUser, err = getEnvRequired("SN_DB_USER"); err != nil {
		return nil, err
	}
	if cfg.DBPassword, err = getEnvRequired("SN_DB_PASSWORD"); err != nil {
		return nil, err
	}
	cfg.DBSSLMode = getEnvDefault("SN_DB_SSL_MODE", "disable")
	validSSLModes := map[string]bool{
		"disable": true, "require": true, "verify-ca": true, "verify-full": true,
	}
	if !validSSLModes[cfg.DBSSLMode] {
		return nil, fmt.Errorf("SN_DB_SSL_MODE: недопустимое значение %q, допустимые: disable, require, verify-ca, verify-full", cfg.DBSSLMode)
	}

	// --- JWT ---

	if cfg.JWTJWKSURL, err = getEnvRequired("SN_JWT_JWKS_URL"); err != nil {
		return nil, err
	}
	cfg.JWTIssuer = getEnvDefault("SN_JWT_ISSUER", "")
	if cfg.JWTLeeway, err = getEnvDuration("SN_JWT_LEEWAY", 30*time.Second); err != nil {
		return nil, fmt.Errorf("SN_JWT_LEEWAY: %w", err)
	}
	if cfg.JWKSClientTimeout, err = getEnvDuration("SN_JWKS_CLIENT_TIMEOUT", 10*time.Second); err != nil {
		return nil, fmt.Errorf("SN_JWKS_CLIENT_TIMEOUT: %w", err)
	}
	if cfg.JWKSRefreshInterval, err = getEnvDuration("SN_JWKS_REFRESH_INTERVAL", 15*time.Minute); err != nil {
		return nil, fmt.Errorf("SN_JWKS_REFRESH_INTERVAL: %w", err)
	}
	cfg.CACertPath = getEnvDefault("SN_CA_CERT_PATH", "")

	// --- Авторизация страниц ---

	cfg.SpecialOverrides, err = ParseSpecialOverrides(os.Getenv("SN_SPECIAL_OVERRIDES"))
	if err != nil {
		return nil, fmt.Errorf("SN_SPECIAL_OVERRIDES: %w", err)
	}

	cfg.DefaultRoles = parseCSV(getEnvDefault("SN_DEFAULT_ROLES", DefaultRoles))
	if len(cfg.DefaultRoles) == 0 {
		return nil, fmt.Errorf("SN_DEFAULT_ROLES: список ролей по умолчанию не может быть пустым")
	}

	cfg.SettingsPagePath = getEnvDefault("SN_SETTINGS_PAGE_PATH", "/configuracoes")
	if !strings.HasPrefix(cfg.SettingsPagePath, "/") {
		return nil, fmt.Errorf("SN_SETTINGS_PAGE_PATH: путь %q должен начинаться с /", cfg.SettingsPagePath)
	}

	if cfg.FetchTimeout, err = getEnvDuration("SN_FETCH_TIMEOUT", 10*time.Second); err != nil {
		return nil, fmt.Errorf("SN_FETCH_TIMEOUT: %w", err)
	}
	if cfg.FetchTimeout <= 0 {
		return nil, fmt.Errorf("SN_FETCH_TIMEOUT: таймаут должен быть положительным")
	}
	if cfg.ResyncInterval, err = getEnvDuration("SN_RESYNC_INTERVAL", 5*time.Minute); err != nil {
		return nil, fmt.Errorf("SN_RESYNC_INTERVAL: %w", err)
	}

	// --- Кэш профилей ---

	cfg.ProfileCacheSize, err = getEnvInt("SN_PROFILE_CACHE_SIZE", 1024)
	if err != nil {
		return nil, fmt.Errorf("SN_PROFILE_CACHE_SIZE: %w", err)
	}
	if cfg.ProfileCacheSize < 1 {
		return nil, fmt.Errorf("SN_PROFILE_CACHE_SIZE: значение %d должно быть положительным", cfg.ProfileCacheSize)
	}
	if cfg.ProfileCacheTTL, err = getEnvDuration("SN_PROFILE_CACHE_TTL", 30*time.Second); err != nil {
		return nil, fmt.Errorf("SN_PROFILE_CACHE_TTL: %w", err)
	}

	// --- Сессия ---

	cfg.SessionSecret = getEnvDefault("SN_SESSION_SECRET", "")
	if cfg.SessionCookieSecure, err = getEnvBool("SN_SESSION_COOKIE_SECURE", true); err != nil {
		return nil, fmt.Errorf("SN_SESSION_COOKIE_SECURE: %w", err)
	}
	if cfg.SSEKeepalive, err = getEnvDuration("SN_SSE_KEEPALIVE", 15*time.Second); err != nil {
		return nil, fmt.Errorf("SN_SSE_KEEPALIVE: %w", err)
	}

	// --- topologymetrics ---

	cfg.DephealthGroup = getEnvDefault("SN_DEPHEALTH_GROUP", "sentinela")
	if cfg.DephealthCheckInterval, err = getEnvDuration("SN_DEPHEALTH_CHECK_INTERVAL", 15*time.Second); err != nil {
		return nil, fmt.Errorf("SN_DEPHEALTH_CHECK_INTERVAL: %w", err)
	}
	if cfg.DephealthTLSSkipVerify, err = getEnvBool("SN_DEPHEALTH_TLS_SKIP_VERIFY", false); err != nil {
		return nil, fmt.Errorf("SN_DEPHEALTH_TLS_SKIP_VERIFY: %w", err)
	}

	// --- Graceful shutdown ---

	if cfg.ShutdownTimeout, err = getEnvDuration("SN_SHUTDOWN_TIMEOUT", 5*time.Second); err != nil {
		return nil, fmt.Errorf("SN_SHUTDOWN_TIMEOUT: %w", err)
	}

	return cfg, nil
}

// DatabaseDSN возвращает строку подключения к PostgreSQL.
func (c *Config) DatabaseDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d dbname=%s user=%s password=%s sslmode=%s",
		c.DBHost, c.DBPort, c.DBName, c.DBUser, c.DBPassword, c.DBSSLMode,
	)
}

// DatabaseURL возвращает URL PostgreSQL без пароля (для лейблов метрик).
func (c *Config) DatabaseURL() string {
	return fmt.Sprintf("postgres://%s:%d/%s", c.DBHost, c.DBPort, c.DBName)
}

// SetupLogger настраивает глобальный slog-логгер на основе конфигурации.
func SetupLogger(cfg *Config) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}

	var handler slog.Handler
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// ParseSpecialOverrides разбирает список статических переопределений.
// Формат: "id:<uuid>=Роль,email:<адрес>=Роль". Пустая строка — пустой список.
func ParseSpecialOverrides(s string) ([]model.SpecialOverride, error) {
	items := parseCSV(s)
	if len(items) == 0 {
		return nil, nil
	}

	result := make([]model.SpecialOverride, 0, len(items))
	for _, item := range items {
		kind, rest, ok := strings.Cut(item, ":")
		if !ok {
			return nil, fmt.Errorf("элемент %q: ожидается формат id:<uuid>=Роль или email:<адрес>=Роль", item)
		}
		match, role, ok := strings.Cut(rest, "=")
		match = strings.TrimSpace(match)
		role = strings.TrimSpace(role)
		if !ok || match == "" || role == "" {
			return nil, fmt.Errorf("элемент %q: пустое значение или роль", item)
		}

		ov := model.SpecialOverride{Match: match, Role: role}
		switch model.OverrideKind(strings.ToLower(strings.TrimSpace(kind))) {
		case model.OverrideByID:
			id, err := uuid.Parse(match)
			if err != nil {
				return nil, fmt.Errorf("элемент %q: некорректный UUID пользователя", item)
			}
			// sub в JWT приходит в каноническом виде
			ov.Match = id.String()
			ov.By = model.OverrideByID
		case model.OverrideByEmail:
			if !strings.Contains(match, "@") {
				return nil, fmt.Errorf("элемент %q: некорректный email", item)
			}
			ov.By = model.OverrideByEmail
		default:
			return nil, fmt.Errorf("элемент %q: неизвестный тип %q, допустимые: id, email", item, kind)
		}
		result = append(result, ov)
	}
	return result, nil
}

// --- Вспомогательные функции ---

// getEnvRequired возвращает значение переменной окружения или ошибку, если она не задана.
func getEnvRequired(key string) (string, error) {
	val := os.Getenv(key)
	if val == "" {
		return "", fmt.Errorf("%s: обязательная переменная окружения не задана", key)
	}
	return val, nil
}

// getEnvDefault возвращает значение переменной окружения или значение по умолчанию.
func getEnvDefault(key, defaultVal string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	return val
}

// getEnvInt возвращает целочисленное значение переменной окружения или значение по умолчанию.
func getEnvInt(key string, defaultVal int) (int, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("некорректное целое число: %q", val)
	}
	return n, nil
}

// getEnvBool возвращает булево значение переменной окружения или значение по умолчанию.
func getEnvBool(key string, defaultVal bool) (bool, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return false, fmt.Errorf("некорректное булево значение: %q", val)
	}
	return b, nil
}

// getEnvDuration возвращает time.Duration из переменной окружения или значение по умолчанию.
func getEnvDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("некорректная длительность: %q (используйте формат Go: 30s, 1h, 15m)", val)
	}
	return d, nil
}

// parseLogLevel преобразует строку уровня логирования в slog.Level.
func parseLogLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("недопустимый уровень %q, допустимые: debug, info, warn, error", level)
	}
}

// parseCSV разбирает строку, разделённую запятыми, на срез строк.
// Пробелы вокруг элементов убираются, пустые элементы игнорируются.
func parseCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			result = append(result, p)
		}
	}
	return result
}
