package auth

import (
	"math"
	"net/http"
	"strconv"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
)

type credentials struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// Login は POST /api/auth/login のハンドラーです。成功時は X-CSRF-Token ヘッダーでトークンを返します。
func (m *Manager) Login(c *gin.Context) {
	if !m.Enabled() {
		c.JSON(http.StatusNotFound, gin.H{
			"code":    "AUTH_DISABLED",
			"message": "認証は無効化されています",
		})
		return
	}

	var req credentials
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":    "INVALID_INPUT",
			"message": "username と password を JSON で指定してください",
		})
		return
	}

	ip := c.ClientIP()
	now := m.now()
	if wait := m.limiter.locked(ip, now); wait > 0 {
		c.Header("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
		c.JSON(http.StatusTooManyRequests, gin.H{
			"code":    "TOO_MANY_ATTEMPTS",
			"message": "ログイン試行回数の上限に達しました。しばらくしてから再度お試しください",
		})
		return
	}

	if !m.checkCredentials(req.Username, req.Password) {
		c.JSON(http.StatusUnauthorized, gin.H{
			"code":              "INVALID_CREDENTIALS",
			"message":           "ユーザー名またはパスワードが違います",
			"remainingAttempts": m.limiter.fail(ip, now),
		})
		return
	}
	m.limiter.reset(ip)

	token, err := newCSRFToken()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":    "TOKEN_GENERATION_FAILED",
			"message": "CSRF トークンを生成できませんでした",
		})
		return
	}

	session := sessions.Default(c)
	session.Clear()
	session.Set(keyUser, m.username)
	session.Set(keyIssuedAt, now.Unix())
	session.Set(keyLastActive, now.Unix())
	session.Set(keyCSRF, token)
	if err := session.Save(); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":    "SESSION_SAVE_FAILED",
			"message": "セッションを保存できませんでした",
		})
		return
	}

	c.Header(csrfHeader, token)
	c.Status(http.StatusNoContent)
}

// Logout は POST /api/auth/logout のハンドラーです。
func (m *Manager) Logout(c *gin.Context) {
	session := sessions.Default(c)
	session.Clear()
	session.Options(sessions.Options{Path: "/", MaxAge: -1})
	if err := session.Save(); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":    "SESSION_SAVE_FAILED",
			"message": "セッションを破棄できませんでした",
		})
		return
	}
	c.Status(http.StatusNoContent)
}
