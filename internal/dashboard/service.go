// Package dashboard は管理者ダッシュボードの集計スナップショットを保持する。
package dashboard

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/hitoshi/jobman/internal/api"
	"github.com/hitoshi/jobman/internal/model"
)

// API はダッシュボードエンドポイント呼び出しのインターフェース。
type API interface {
	DoEnvelope(ctx context.Context, method, path string, query url.Values, body any, token, fallback string) (*api.Result, error)
}

// TokenSource は現在のセッションからトークンと役割を提供する。
type TokenSource interface {
	Token() string
	Role() model.Role
}

// Service はダッシュボードストア。取得したスナップショット全体を
// 取得時刻とともに保持し、部分更新は行わない。
type Service struct {
	api    API
	tokens TokenSource
	logger *slog.Logger

	mu          sync.Mutex
	pending     int
	errMsg      string
	snapshot    *model.DashboardSnapshot
	lastUpdated time.Time
}

// NewService はServiceを生成する。
func NewService(apiClient API, tokens TokenSource, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		api:    apiClient,
		tokens: tokens,
		logger: logger,
	}
}

// Fetch はダッシュボードの集計一式を取得し、スナップショットを置き換える。
func (s *Service) Fetch(ctx context.Context) (*model.DashboardSnapshot, error) {
	token := s.tokens.Token()
	if token == "" {
		return nil, model.NewNotAuthenticatedError()
	}
	if s.tokens.Role() != model.RoleAdmin {
		return nil, model.NewForbiddenRoleError(model.RoleAdmin)
	}

	s.begin()
	defer s.end()

	res, err := s.api.DoEnvelope(ctx, "GET", "/jobs/admin/dashboard", nil, nil, token, "ダッシュボードの取得に失敗しました")
	if err != nil {
		s.setErr(model.ErrorMessage(err))
		return nil, err
	}

	var snap model.DashboardSnapshot
	if err := json.Unmarshal(res.Data, &snap); err != nil {
		decodeErr := fmt.Errorf("failed to decode dashboard snapshot: %w", err)
		s.setErr(decodeErr.Error())
		return nil, decodeErr
	}

	s.mu.Lock()
	s.snapshot = &snap
	s.lastUpdated = time.Now()
	s.errMsg = ""
	s.mu.Unlock()

	s.logger.Info("ダッシュボードを取得しました",
		slog.Int("top_jobs", len(snap.TopJobs)),
		slog.Int("recent_activities", len(snap.RecentActivities)),
	)
	return &snap, nil
}

// Snapshot は最後に取得したスナップショットを返す。未取得の場合はnil。
func (s *Service) Snapshot() *model.DashboardSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshot
}

// LastUpdated は最後に取得が成功した時刻を返す。未取得の場合はゼロ値。
func (s *Service) LastUpdated() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastUpdated
}

// Clear はスナップショットと取得時刻を破棄する。ログアウト時に使用する。
func (s *Service) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshot = nil
	s.lastUpdated = time.Time{}
	s.errMsg = ""
}

// Loading は実行中の取得があるかどうかを返す。
func (s *Service) Loading() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending > 0
}

// Error は最後の失敗のエラー表示文言を返す。
func (s *Service) Error() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.errMsg
}

// ClearError はエラー表示を明示的に消去する。
func (s *Service) ClearError() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errMsg = ""
}

func (s *Service) begin() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending++
}

func (s *Service) end() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending--
}

func (s *Service) setErr(msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errMsg = msg
}
