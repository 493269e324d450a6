// Package auth はAPIを保護する任意のログインセッションを提供します。
// APP_USERNAME / APP_PASSWORD_HASH が未設定の場合、保護ミドルウェアは素通りします。
package auth

import (
	"crypto/rand"
	"encoding/hex"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/yourusername/draftmark/internal/config"
)

const (
	SessionCookieName = "draftmark_session"

	keyUser       = "user"
	keyIssuedAt   = "issued_at"
	keyLastActive = "last_active"
	keyCSRF       = "csrf"

	csrfHeader = "X-CSRF-Token"

	// ContextUserKey はログイン済みユーザー名を gin.Context に格納するキーです。
	ContextUserKey = "auth.user"
)

const (
	maxSessionLifetime = 12 * time.Hour
	idleTimeout        = 30 * time.Minute
)

// SessionMaxAgeSeconds はクッキーの MaxAge に使う秒数です。
func SessionMaxAgeSeconds() int {
	return int(maxSessionLifetime / time.Second)
}

// Manager はログイン状態の発行と検証を行います。
type Manager struct {
	username     string
	passwordHash []byte
	limiter      *loginLimiter
	now          func() time.Time
}

// NewManager は設定から Manager を作成します。
func NewManager(cfg *config.Config) *Manager {
	m := &Manager{
		limiter: newLoginLimiter(5, 15*time.Minute, 10*time.Minute),
		now:     time.Now,
	}
	if cfg != nil && cfg.AuthEnabled() {
		m.username = cfg.AppUsername
		m.passwordHash = []byte(cfg.AppPasswordHash)
	}
	return m
}

// Enabled は認証が有効かどうかを返します。
func (m *Manager) Enabled() bool {
	return m.username != "" && len(m.passwordHash) > 0
}

func (m *Manager) checkCredentials(username, password string) bool {
	if username != m.username {
		// 存在しないユーザーでも比較時間を揃える
		_ = bcrypt.CompareHashAndPassword(m.passwordHash, []byte(password))
		return false
	}
	return bcrypt.CompareHashAndPassword(m.passwordHash, []byte(password)) == nil
}

func newCSRFToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
