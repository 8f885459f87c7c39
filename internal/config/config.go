package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Config はクライアント全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// API
	APIBaseURL  string
	HTTPTimeout time.Duration

	// Rate Limit（クライアント側の送信レート）
	RateLimitPerSec float64
	RateLimitBurst  int

	// State（トークン・役割の永続化先）
	StateDir string

	// List
	PageSize int

	// Upload / Download
	UploadMaxSize   int64
	DownloadMaxSize int64
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}

	// Required fields
	var missing []string

	cfg.APIBaseURL = os.Getenv("JOBMAN_API_BASE_URL")
	if cfg.APIBaseURL == "" {
		missing = append(missing, "JOBMAN_API_BASE_URL")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	if !strings.HasPrefix(cfg.APIBaseURL, "http://") && !strings.HasPrefix(cfg.APIBaseURL, "https://") {
		return nil, fmt.Errorf("JOBMAN_API_BASE_URL must start with http:// or https://: %s", cfg.APIBaseURL)
	}
	cfg.APIBaseURL = strings.TrimRight(cfg.APIBaseURL, "/")

	// Optional fields with defaults
	cfg.HTTPTimeout = getEnvDuration("JOBMAN_HTTP_TIMEOUT", 10*time.Second)
	cfg.RateLimitPerSec = getEnvFloat("JOBMAN_RATE_LIMIT", 8)
	cfg.RateLimitBurst = getEnvInt("JOBMAN_RATE_LIMIT_BURST", 16)
	cfg.StateDir = getEnvString("JOBMAN_STATE_DIR", defaultStateDir())
	cfg.PageSize = getEnvInt("JOBMAN_PAGE_SIZE", 10)
	cfg.UploadMaxSize = getEnvInt64("JOBMAN_UPLOAD_MAX_SIZE", 5242880)
	cfg.DownloadMaxSize = getEnvInt64("JOBMAN_DOWNLOAD_MAX_SIZE", 10485760)

	if cfg.PageSize < 1 {
		return nil, fmt.Errorf("JOBMAN_PAGE_SIZE must be positive: %d", cfg.PageSize)
	}

	return cfg, nil
}

// defaultStateDir は認証情報の既定の保存先を返す。
// ホームディレクトリが解決できない環境ではカレントディレクトリ配下を使用する。
func defaultStateDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".jobman"
	}
	return filepath.Join(home, ".jobman")
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvInt64(key string, defaultVal int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvFloat(key string, defaultVal float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return defaultVal
	}
	return f
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
