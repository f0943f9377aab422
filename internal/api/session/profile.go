// Пакет session — клиентская копия профиля пользователя в cookie.
// Cookie шифруется AES-256-GCM: клиент не может подменить свою роль.
package session

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/bigkaa/sentinela/access-module/internal/service"
)

// Имя cookie профиля.
const ProfileCookieName = "sentinela_profile"

// Максимальный возраст cookie профиля (24 часа).
const ProfileCookieMaxAge = 24 * 60 * 60

// Manager шифрует/дешифрует service.CachedProfile в HTTP cookie.
type Manager struct {
	gcm cipher.AEAD
	// secure — Secure flag для cookie (true для HTTPS).
	secure bool
}

// NewManager создаёт менеджер cookie профиля.
// key — base64 32-байтового ключа или произвольная строка (хешируется SHA-256).
// Пустой key — случайный ключ: cookie не переживают рестарт, профиль
// просто определяется заново.
func NewManager(key string, secure bool) (*Manager, error) {
	var keyBytes []byte

	if key == "" {
		keyBytes = make([]byte, 32)
		if _, err := io.ReadFull(rand.Reader, keyBytes); err != nil {
			return nil, fmt.Errorf("ошибка генерации ключа cookie: %w", err)
		}
	} else {
		var err error
		keyBytes, err = base64.StdEncoding.DecodeString(key)
		if err != nil || len(keyBytes) != 32 {
			h := sha256.Sum256([]byte(key))
			keyBytes = h[:]
		}
	}

	block, err := aes.NewCipher(keyBytes)
	if err != nil {
		return nil, fmt.Errorf("ошибка создания AES cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("ошибка создания GCM: %w", err)
	}

	return &Manager{gcm: gcm, secure: secure}, nil
}

// Encrypt шифрует профиль и возвращает base64-строку.
func (m *Manager) Encrypt(p *service.CachedProfile) (string, error) {
	plaintext, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("ошибка сериализации профиля: %w", err)
	}

	nonce := make([]byte, m.gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("ошибка генерации nonce: %w", err)
	}

	ciphertext := m.gcm.Seal(nonce, nonce, plaintext, nil)
	return base64.URLEncoding.EncodeToString(ciphertext), nil
}

// Decrypt дешифрует base64-строку обратно в профиль.
func (m *Manager) Decrypt(encrypted string) (*service.CachedProfile, error) {
	ciphertext, err := base64.URLEncoding.DecodeString(encrypted)
	if err != nil {
		return nil, fmt.Errorf("ошибка декодирования base64: %w", err)
	}

	nonceSize := m.gcm.NonceSize()
	if len(ciphertext) < nonceSize {
		return nil, errors.New("зашифрованные данные слишком короткие")
	}

	nonce, ciphertext := ciphertext[:nonceSize], ciphertext[nonceSize:]
	plaintext, err := m.gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("ошибка дешифрования профиля: %w", err)
	}

	var p service.CachedProfile
	if err := json.Unmarshal(plaintext, &p); err != nil {
		return nil, fmt.Errorf("ошибка десериализации профиля: %w", err)
	}
	return &p, nil
}

// Set записывает cookie профиля в ответ.
func (m *Manager) Set(w http.ResponseWriter, p *service.CachedProfile) error {
	encrypted, err := m.Encrypt(p)
	if err != nil {
		return err
	}

	http.SetCookie(w, &http.Cookie{
		Name:     ProfileCookieName,
		Value:    encrypted,
		Path:     "/",
		MaxAge:   ProfileCookieMaxAge,
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteLaxMode,
	})
	return nil
}

// FromRequest извлекает профиль из cookie запроса.
// Возвращает nil, nil если cookie отсутствует.
func (m *Manager) FromRequest(r *http.Request) (*service.CachedProfile, error) {
	cookie, err := r.Cookie(ProfileCookieName)
	if err != nil {
		if errors.Is(err, http.ErrNoCookie) {
			return nil, nil
		}
		return nil, err
	}
	return m.Decrypt(cookie.Value)
}

// Clear удаляет cookie профиля.
func (m *Manager) Clear(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     ProfileCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteLaxMode,
	})
}
