package database

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5"
)

// EventReconnect — событие, которое Listener передаёт подписчику после
// каждого (пере)подключения: уведомления, отправленные, пока соединения
// не было, потеряны, и подписчик должен перечитать состояние целиком.
const EventReconnect = "RECONNECT"

// NotifyChannel — канал, в который пишет триггер page_access_notify
// (миграция 000001). Имя зашито в миграцию, поэтому не настраивается.
const NotifyChannel = "page_access_changed"

const (
	listenerMinBackoff = time.Second
	listenerMaxBackoff = 30 * time.Second
)

// Listener — подписка на канал PostgreSQL LISTEN/NOTIFY.
// Держит отдельное соединение (не из пула): LISTEN привязан к сессии.
type Listener struct {
	dsn     string
	channel string
	logger  *slog.Logger

	connected atomic.Bool

	// Для тестов
	minBackoff time.Duration
	maxBackoff time.Duration
}

// NewListener создаёт подписку на канал channel.
func NewListener(dsn, channel string, logger *slog.Logger) *Listener {
	return &Listener{
		dsn:        dsn,
		channel:    channel,
		logger:     logger.With(slog.String("component", "pg_listener"), slog.String("channel", channel)),
		minBackoff: listenerMinBackoff,
		maxBackoff: listenerMaxBackoff,
	}
}

// Connected сообщает, активно ли сейчас соединение LISTEN.
func (l *Listener) Connected() bool {
	return l.connected.Load()
}

// Subscribe блокируется до отмены ctx и вызывает onChange для каждого
// уведомления канала (payload — TG_OP: INSERT, UPDATE, DELETE, TRUNCATE).
// После каждого успешного подключения onChange вызывается с EventReconnect.
// При обрыве соединения переподключается с экспоненциальной задержкой.
func (l *Listener) Subscribe(ctx context.Context, onChange func(event string)) error {
	backoff := l.minBackoff

	for {
		err := l.listen(ctx, onChange)
		l.connected.Store(false)

		if ctx.Err() != nil {
			return nil
		}
		if errors.Is(err, errListenEstablished) {
			backoff = l.minBackoff
		}

		l.logger.Warn("Подписка на уведомления прервана, переподключение",
			slog.Duration("backoff", backoff),
			slog.String("error", err.Error()),
		)

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(backoff):
		}

		backoff = min(backoff*2, l.maxBackoff)
	}
}

// errListenEstablished помечает обрыв уже установленного соединения.
var errListenEstablished = errors.New("соединение LISTEN было установлено")

// listen выполняет один цикл: подключение, LISTEN, ожидание уведомлений.
func (l *Listener) listen(ctx context.Context, onChange func(event string)) error {
	conn, err := pgx.Connect(ctx, l.dsn)
	if err != nil {
		return fmt.Errorf("ошибка подключения: %w", err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = conn.Close(closeCtx)
	}()

	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{l.channel}.Sanitize()); err != nil {
		return fmt.Errorf("ошибка LISTEN: %w", err)
	}

	l.connected.Store(true)
	l.logger.Info("Подписка на уведомления установлена")
	onChange(EventReconnect)

	for {
		n, err := conn.WaitForNotification(ctx)
		if err != nil {
			return fmt.Errorf("%w: %w", errListenEstablished, err)
		}
		l.logger.Debug("Получено уведомление",
			slog.String("payload", n.Payload),
			slog.Int("pid", int(n.PID)),
		)
		onChange(n.Payload)
	}
}
