// Package app はCLIの組み立てとサブコマンドの振り分けを行う。
package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/jobman/internal/api"
	"github.com/hitoshi/jobman/internal/applicantjobs"
	"github.com/hitoshi/jobman/internal/applications"
	"github.com/hitoshi/jobman/internal/config"
	"github.com/hitoshi/jobman/internal/dashboard"
	"github.com/hitoshi/jobman/internal/jobs"
	"github.com/hitoshi/jobman/internal/logger"
	"github.com/hitoshi/jobman/internal/metrics"
	"github.com/hitoshi/jobman/internal/security"
	"github.com/hitoshi/jobman/internal/session"
	"github.com/hitoshi/jobman/internal/storage"
	"github.com/hitoshi/jobman/internal/users"
)

// Init はアプリケーションの初期化を行う。
// JSON構造化ログをセットアップし、環境変数からConfigを読み込む。
// logWがnilの場合はログは標準エラーに出力され、標準出力は表示結果専用になる。
func Init(logW io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(logW)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	return cfg, nil
}

// Stores はCLIが利用する全ストアの束。
type Stores struct {
	Session       *session.Store
	Jobs          *jobs.Service
	ApplicantJobs *applicantjobs.Service
	Applications  *applications.Service
	Users         *users.Service
	Dashboard     *dashboard.Service
}

// BuildStores は設定から全ストアをワイヤリングする。
func BuildStores(cfg *config.Config) *Stores {
	// 1. メトリクスとAPIクライアント
	collector := metrics.NewCollector(prometheus.NewRegistry())
	client := api.NewClient(api.Config{
		BaseURL:         cfg.APIBaseURL,
		Timeout:         cfg.HTTPTimeout,
		RateLimitPerSec: cfg.RateLimitPerSec,
		RateLimitBurst:  cfg.RateLimitBurst,
	}, nil, collector, slog.Default())

	// 2. 認証情報の永続化とセッションストア
	creds := storage.NewFileStore(cfg.StateDir)
	sess := session.NewStore(client, creds, slog.Default())

	// 3. リソースストア
	jobSvc := jobs.NewService(client, sess, cfg.PageSize, slog.Default())
	applicantSvc := applicantjobs.NewService(jobSvc)
	appSvc := applications.NewService(client, sess, security.NewDownloadGuard(), applications.Options{
		PageSize:        cfg.PageSize,
		UploadMaxSize:   cfg.UploadMaxSize,
		DownloadMaxSize: cfg.DownloadMaxSize,
		DownloadTimeout: cfg.HTTPTimeout,
	}, slog.Default())
	userSvc := users.NewService(client, sess, cfg.PageSize, slog.Default())
	dashSvc := dashboard.NewService(client, sess, slog.Default())

	return &Stores{
		Session:       sess,
		Jobs:          jobSvc,
		ApplicantJobs: applicantSvc,
		Applications:  appSvc,
		Users:         userSvc,
		Dashboard:     dashSvc,
	}
}

// Run はCLIのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応する操作を実行する。
// argsにはos.Args[1:]を渡す。表示結果はwに、ログは標準エラーに出力される。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// help は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHelp {
		printUsage(w)
		return nil
	}

	cfg, err := Init(nil)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("コマンドを実行します",
		slog.String("command", string(cmd)),
		slog.String("base_url", cfg.APIBaseURL),
	)

	st := BuildStores(cfg)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	rest := args[1:]
	switch cmd {
	case CommandLogin:
		return runLogin(ctx, w, st, rest)
	case CommandRegister:
		return runRegister(ctx, w, st, rest)
	case CommandLogout:
		return runLogout(ctx, w, st)
	case CommandMe:
		return runMe(ctx, w, st)
	case CommandJobs:
		return runJobs(ctx, w, st, rest)
	case CommandApply:
		return runApply(ctx, w, st, rest)
	case CommandApplications:
		return runApplications(ctx, w, st, rest)
	case CommandUsers:
		return runUsers(ctx, w, st, rest)
	case CommandDashboard:
		return runDashboard(ctx, w, st)
	default:
		printUsage(w)
		return nil
	}
}

// printUsage は使い方を表示する。
func printUsage(w io.Writer) {
	fmt.Fprintln(w, `jobman - 求人プラットフォームクライアント

使い方:
  jobman login -email <email> -password <password>
  jobman register -name <name> -email <email> -phone <phone> -password <password>
  jobman logout
  jobman me
  jobman jobs list [-status <status>] [-location <loc>] [-skills a,b] [-pages N]
  jobman jobs published [-search <q>] [-location <loc>] [-skills a,b] [-pages N]
  jobman jobs get|create|update|delete|publish|close|stats ...
  jobman apply -job <id> -resume <file> -experience <years> [-notes <text>]
  jobman applications mine|list|job|get|status|withdraw|delete|download|stats ...
  jobman users list|get|create|update|delete ...
  jobman dashboard

環境変数:
  JOBMAN_API_BASE_URL  （必須）APIのベースURL
  JOBMAN_STATE_DIR     認証情報の保存先（既定: ~/.jobman）`)
}
