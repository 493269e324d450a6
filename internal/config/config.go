// Package config は環境変数から設定を読み込み、アプリケーション全体で使用する設定を提供します。
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config はアプリケーションの設定を保持する構造体です。
type Config struct {
	// 認証設定（未設定なら認証なしで動作）
	AppUsername     string
	AppPasswordHash string // bcrypt
	SessionSecret   string

	// サーバー設定
	Port               string
	GinMode            string // debug, release, test
	CORSAllowedOrigins string // カンマ区切り

	// ジョブ/キュー設定
	QueueRedisURL     string
	JobExpireMinutes  int
	JobResultBaseURL  string // download_url の組み立てに使うベースURL
	WorkerConcurrency int

	// 透かし設定
	OutputDir          string
	WatermarkText      string
	OutputSuffix       string
	WatermarkStyleFile string

	// 入力制限
	MaxFileSize   int64 // 単一ファイルの最大サイズ（バイト）。0 以下で無制限
	MaxBatchFiles int   // 1バッチの最大ファイル数。0 以下で無制限

	// ログ設定
	LogLevel string
	LogFile  string // 指定時はJSON形式でも書き出す
}

// Load は環境変数から設定を読み込みます。
// .env.local ファイルが存在する場合はそこから読み込みます。
func Load() (*Config, error) {
	loadEnvFile()

	config := &Config{
		AppUsername:     getEnv("APP_USERNAME", ""),
		AppPasswordHash: getEnv("APP_PASSWORD_HASH", ""),
		SessionSecret:   getEnv("SESSION_SECRET", ""),

		Port:               getEnv("PORT", "8080"),
		GinMode:            getEnv("GIN_MODE", "debug"),
		CORSAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:5173"),

		QueueRedisURL:     getEnv("QUEUE_REDIS_URL", "redis://127.0.0.1:6379/0"),
		JobExpireMinutes:  getEnvAsInt("JOB_EXPIRE_MINUTES", 60),
		JobResultBaseURL:  getEnv("JOB_RESULT_BASE_URL", ""),
		WorkerConcurrency: getEnvAsInt("WORKER_CONCURRENCY", 4),

		OutputDir:          getEnv("OUTPUT_DIR", filepath.Join(os.TempDir(), "draftmark")),
		WatermarkText:      getEnv("WATERMARK_TEXT", "DRAFT"),
		OutputSuffix:       getEnv("OUTPUT_SUFFIX", "-DRAFT"),
		WatermarkStyleFile: getEnv("WATERMARK_STYLE_FILE", ""),

		MaxFileSize:   getEnvAsInt64("MAX_FILE_SIZE", 104857600), // 100MB
		MaxBatchFiles: getEnvAsInt("MAX_BATCH_FILES", 100),

		LogLevel: getEnv("LOG_LEVEL", "info"),
		LogFile:  getEnv("LOG_FILE", ""),
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

func loadEnvFile() {
	if err := godotenv.Load(".env.local"); err == nil {
		return
	}

	cwd, err := os.Getwd()
	if err != nil {
		return
	}

	parent := filepath.Dir(cwd)
	if parent == "" || parent == cwd {
		return
	}

	_ = godotenv.Load(filepath.Join(parent, ".env.local"))
}

// Validate は設定の妥当性を検証します。
func (c *Config) Validate() error {
	if c.OutputDir == "" {
		return fmt.Errorf("OUTPUT_DIR must not be empty")
	}
	if c.JobExpireMinutes <= 0 {
		return fmt.Errorf("JOB_EXPIRE_MINUTES must be positive (got %d)", c.JobExpireMinutes)
	}
	if c.WorkerConcurrency <= 0 {
		return fmt.Errorf("WORKER_CONCURRENCY must be positive (got %d)", c.WorkerConcurrency)
	}
	if c.OutputSuffix == "" {
		return fmt.Errorf("OUTPUT_SUFFIX must not be empty")
	}

	// ローカル開発では認証設定は任意
	if c.GinMode == "release" {
		if c.QueueRedisURL == "" {
			return fmt.Errorf("QUEUE_REDIS_URL is required in release mode")
		}
		if c.AuthEnabled() && c.SessionSecret == "" {
			return fmt.Errorf("SESSION_SECRET is required in release mode when authentication is enabled")
		}
	}
	if (c.AppUsername == "") != (c.AppPasswordHash == "") {
		return fmt.Errorf("APP_USERNAME and APP_PASSWORD_HASH must be set together")
	}

	return nil
}

// AuthEnabled はログイン必須で動作させるかどうかを返します。
func (c *Config) AuthEnabled() bool {
	return c.AppUsername != "" && c.AppPasswordHash != ""
}

// JobTTL はジョブ記録と成果物の保持期間です。
func (c *Config) JobTTL() time.Duration {
	return time.Duration(c.JobExpireMinutes) * time.Minute
}

// AllowedOrigins は CORS_ALLOWED_ORIGINS を分割して返します。
func (c *Config) AllowedOrigins() []string {
	var origins []string
	for _, o := range strings.Split(c.CORSAllowedOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	return origins
}

// getEnv は環境変数を取得し、存在しない場合はデフォルト値を返します。
func getEnv(key string, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsInt64(key string, defaultValue int64) int64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseInt(valueStr, 10, 64)
	if err != nil {
		return defaultValue
	}
	return value
}
