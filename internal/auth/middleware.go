package auth

import (
	"crypto/subtle"
	"net/http"
	"time"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
)

// Guard はログインとCSRFトークンの両方を検証するミドルウェアを返します。認証が無効なら何もしません。
func (m *Manager) Guard() gin.HandlerFunc {
	return func(c *gin.Context) {
		if m.Enabled() && (!m.checkSession(c) || !checkCSRF(c)) {
			return
		}
		c.Next()
	}
}

// RequireLogin はセッションの有効期限と無操作時間を検証します。
func (m *Manager) RequireLogin() gin.HandlerFunc {
	return func(c *gin.Context) {
		if m.checkSession(c) {
			c.Next()
		}
	}
}

// VerifyCSRF は状態を変更するリクエストの X-CSRF-Token を検証します。
func (m *Manager) VerifyCSRF() gin.HandlerFunc {
	return func(c *gin.Context) {
		if checkCSRF(c) {
			c.Next()
		}
	}
}

func (m *Manager) checkSession(c *gin.Context) bool {
	session := sessions.Default(c)
	user, _ := session.Get(keyUser).(string)
	if user == "" {
		abort(c, http.StatusUnauthorized, "UNAUTHORIZED", "ログインしてください")
		return false
	}

	now := m.now()
	issued := unixTime(session.Get(keyIssuedAt))
	last := unixTime(session.Get(keyLastActive))
	switch {
	case issued.IsZero() || now.Sub(issued) > maxSessionLifetime:
		expire(session)
		abort(c, http.StatusUnauthorized, "SESSION_EXPIRED", "セッションの有効期限が切れました")
		return false
	case last.IsZero() || now.Sub(last) > idleTimeout:
		expire(session)
		abort(c, http.StatusUnauthorized, "SESSION_IDLE_TIMEOUT", "一定時間操作がなかったため、再度ログインしてください")
		return false
	}

	session.Set(keyLastActive, now.Unix())
	_ = session.Save()
	c.Set(ContextUserKey, user)
	return true
}

func checkCSRF(c *gin.Context) bool {
	switch c.Request.Method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return true
	}

	expected, _ := sessions.Default(c).Get(keyCSRF).(string)
	if expected == "" {
		abort(c, http.StatusForbidden, "CSRF_MISSING", "CSRF トークンが発行されていません")
		return false
	}
	if subtle.ConstantTimeCompare([]byte(expected), []byte(c.GetHeader(csrfHeader))) != 1 {
		abort(c, http.StatusForbidden, "CSRF_INVALID", "CSRF トークンが一致しません")
		return false
	}
	return true
}

func abort(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, gin.H{"code": code, "message": message})
}

func expire(session sessions.Session) {
	session.Clear()
	_ = session.Save()
}

func unixTime(v any) time.Time {
	switch t := v.(type) {
	case int64:
		return time.Unix(t, 0)
	case int:
		return time.Unix(int64(t), 0)
	case float64:
		return time.Unix(int64(t), 0)
	}
	return time.Time{}
}
