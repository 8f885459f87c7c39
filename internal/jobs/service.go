// Package jobs はHR向けの求人管理ストアを提供する。
// 一覧・単体取得・作成・更新・削除・公開状態変更・集計の各操作を持ち、
// 結果は正規化キャッシュに反映される。
package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/hitoshi/jobman/internal/api"
	"github.com/hitoshi/jobman/internal/model"
	"github.com/hitoshi/jobman/internal/security"
	"github.com/hitoshi/jobman/internal/store"
)

// ビュー名。viewJobsはHR視点の管理一覧、viewPublishedは応募者視点の公開求人一覧。
const (
	viewJobs      = "jobs"
	viewPublished = "published"
)

// API は求人エンドポイント呼び出しのインターフェース。
type API interface {
	DoEnvelope(ctx context.Context, method, path string, query url.Values, body any, token, fallback string) (*api.Result, error)
}

// TokenSource は現在のセッションからトークンと役割を提供する。
type TokenSource interface {
	Token() string
	Role() model.Role
}

// Filter は求人一覧の絞り込み条件。
type Filter struct {
	Status   model.JobStatus
	Location string
	Skills   []string
}

// query はフィルタをクエリパラメータに変換する。
func (f Filter) query(page, limit int) url.Values {
	q := url.Values{}
	q.Set("page", strconv.Itoa(page))
	q.Set("limit", strconv.Itoa(limit))
	if f.Status != "" {
		q.Set("status", string(f.Status))
	}
	if f.Location != "" {
		q.Set("location", f.Location)
	}
	if len(f.Skills) > 0 {
		q.Set("skills", strings.Join(f.Skills, ","))
	}
	return q
}

// PublishedFilter は公開求人一覧の絞り込み条件。
type PublishedFilter struct {
	Search   string
	Location string
	Skills   []string
}

// query はフィルタをクエリパラメータに変換する。
func (f PublishedFilter) query(page, limit int) url.Values {
	q := url.Values{}
	q.Set("page", strconv.Itoa(page))
	q.Set("limit", strconv.Itoa(limit))
	if f.Search != "" {
		q.Set("search", f.Search)
	}
	if f.Location != "" {
		q.Set("location", f.Location)
	}
	if len(f.Skills) > 0 {
		q.Set("skills", strings.Join(f.Skills, ","))
	}
	return q
}

// Input は求人の作成・更新に使用する入力。
type Input struct {
	Title          string                `json:"title" validate:"required,min=3"`
	Description    string                `json:"description" validate:"required"`
	RequiredSkills []string              `json:"requiredSkills" validate:"required,min=1,dive,required"`
	Experience     model.ExperienceRange `json:"experience"`
	Location       string                `json:"location" validate:"required"`
	Salary         model.Salary          `json:"salary"`
}

// Service は求人管理ストア。
type Service struct {
	api       API
	tokens    TokenSource
	cache     *store.Cache[model.Job]
	sanitizer security.DescriptionSanitizerService
	validate  *validator.Validate
	logger    *slog.Logger
	pageSize  int

	mu         sync.Mutex
	pending    int
	errMsg     string
	successMsg string
	lastFilter    Filter
	lastPubFilter PublishedFilter
	selectedID    string
	stats         *model.JobStats
}

// NewService はServiceを生成する。
func NewService(apiClient API, tokens TokenSource, pageSize int, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if pageSize < 1 {
		pageSize = 10
	}
	return &Service{
		api:       apiClient,
		tokens:    tokens,
		cache:     store.New[model.Job](),
		sanitizer: security.NewDescriptionSanitizer(),
		validate:  validator.New(),
		logger:    logger,
		pageSize:  pageSize,
	}
}

// List は自分が管理する求人一覧の1ページ目を取得し、一覧を置き換える。
// フィルタは後続のLoadMoreに引き継がれる。
func (s *Service) List(ctx context.Context, f Filter) error {
	token, err := s.authorize(model.RoleHR, model.RoleAdmin)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.lastFilter = f
	s.mu.Unlock()

	return s.fetchPage(ctx, token, f, 1, false)
}

// LoadMore は次ページを取得し、一覧の末尾に累積する。
// 最終ページに達している場合は何もしない。
func (s *Service) LoadMore(ctx context.Context) error {
	token, err := s.authorize(model.RoleHR, model.RoleAdmin)
	if err != nil {
		return err
	}

	pg := s.cache.PaginationOf(viewJobs)
	if pg.TotalPages > 0 && pg.CurrentPage >= pg.TotalPages {
		return nil
	}

	s.mu.Lock()
	f := s.lastFilter
	s.mu.Unlock()

	return s.fetchPage(ctx, token, f, pg.CurrentPage+1, true)
}

// ListPublished は公開中の求人一覧の1ページ目を取得し、一覧を置き換える。
// 認証は不要（トークンがあれば付与する）。フィルタは後続のLoadMorePublishedに引き継がれる。
func (s *Service) ListPublished(ctx context.Context, f PublishedFilter) error {
	s.mu.Lock()
	s.lastPubFilter = f
	s.mu.Unlock()

	return s.fetchPublishedPage(ctx, f, 1, false)
}

// LoadMorePublished は公開求人の次ページを取得し、一覧の末尾に累積する。
func (s *Service) LoadMorePublished(ctx context.Context) error {
	pg := s.cache.PaginationOf(viewPublished)
	if pg.TotalPages > 0 && pg.CurrentPage >= pg.TotalPages {
		return nil
	}

	s.mu.Lock()
	f := s.lastPubFilter
	s.mu.Unlock()

	return s.fetchPublishedPage(ctx, f, pg.CurrentPage+1, true)
}

// fetchPublishedPage は公開求人一覧の1ページを取得してキャッシュにコミットする。
func (s *Service) fetchPublishedPage(ctx context.Context, f PublishedFilter, page int, appendMode bool) error {
	gen := s.cache.Begin(viewPublished)
	s.begin()
	defer s.end()

	res, err := s.api.DoEnvelope(ctx, "GET", "/jobs/published", f.query(page, s.pageSize), nil, s.tokens.Token(), "公開求人一覧の取得に失敗しました")
	if err != nil {
		s.setErr(model.ErrorMessage(err))
		return err
	}

	var items []model.Job
	if err := json.Unmarshal(res.Data, &items); err != nil {
		decodeErr := fmt.Errorf("failed to decode published job list: %w", err)
		s.setErr(decodeErr.Error())
		return decodeErr
	}

	pg := store.Pagination{CurrentPage: page, TotalPages: 1, Total: len(items)}
	if res.Pagination != nil {
		pg = *res.Pagination
	}

	committed := false
	if appendMode {
		committed = s.cache.CommitAppend(viewPublished, gen, items, pg)
	} else {
		committed = s.cache.CommitReplace(viewPublished, gen, items, pg)
	}
	if !committed {
		s.logger.Debug("追い越された公開求人一覧レスポンスを破棄しました", slog.Int("page", page))
	}
	return nil
}

// ResetPublished は公開求人一覧を1ページ目に巻き戻し、実行中の取得を無効化する。
// フィルタ変更時に使用する。
func (s *Service) ResetPublished() {
	s.cache.Reset(viewPublished)
}

// PublishedJobs は公開求人一覧をサーバー順で返す。
func (s *Service) PublishedJobs() []model.Job {
	return s.cache.Items(viewPublished)
}

// PublishedPagination は公開求人一覧のページング情報を返す。
func (s *Service) PublishedPagination() store.Pagination {
	return s.cache.PaginationOf(viewPublished)
}

// fetchPage は求人一覧の1ページを取得してキャッシュにコミットする。
// 取得開始時の世代番号と一致しないコミットは破棄される（最後の要求が勝つ）。
func (s *Service) fetchPage(ctx context.Context, token string, f Filter, page int, appendMode bool) error {
	gen := s.cache.Begin(viewJobs)
	s.begin()
	defer s.end()

	res, err := s.api.DoEnvelope(ctx, "GET", "/jobs", f.query(page, s.pageSize), nil, token, "求人一覧の取得に失敗しました")
	if err != nil {
		s.setErr(model.ErrorMessage(err))
		return err
	}

	var items []model.Job
	if err := json.Unmarshal(res.Data, &items); err != nil {
		decodeErr := fmt.Errorf("failed to decode job list: %w", err)
		s.setErr(decodeErr.Error())
		return decodeErr
	}

	pg := store.Pagination{CurrentPage: page, TotalPages: 1, Total: len(items)}
	if res.Pagination != nil {
		pg = *res.Pagination
	}

	committed := false
	if appendMode {
		committed = s.cache.CommitAppend(viewJobs, gen, items, pg)
	} else {
		committed = s.cache.CommitReplace(viewJobs, gen, items, pg)
	}
	if !committed {
		s.logger.Debug("追い越された求人一覧レスポンスを破棄しました", slog.Int("page", page))
	}
	return nil
}

// GetByID は求人を1件取得し、選択中の求人として保持する。
func (s *Service) GetByID(ctx context.Context, id string) (*model.Job, error) {
	token := s.tokens.Token()
	if token == "" {
		return nil, model.NewNotAuthenticatedError()
	}

	s.begin()
	defer s.end()

	res, err := s.api.DoEnvelope(ctx, "GET", "/jobs/"+id, nil, nil, token, "求人の取得に失敗しました")
	if err != nil {
		s.setErr(model.ErrorMessage(err))
		return nil, err
	}

	var job model.Job
	if err := json.Unmarshal(res.Data, &job); err != nil {
		decodeErr := fmt.Errorf("failed to decode job: %w", err)
		s.setErr(decodeErr.Error())
		return nil, decodeErr
	}

	s.cache.Put(job)
	s.mu.Lock()
	s.selectedID = job.ID
	s.mu.Unlock()
	return &job, nil
}

// Create は求人を新規作成する。作成された求人は下書き状態で一覧の先頭に挿入される。
func (s *Service) Create(ctx context.Context, input Input) (*model.Job, error) {
	token, err := s.authorize(model.RoleHR)
	if err != nil {
		return nil, err
	}
	if err := s.validateInput(input); err != nil {
		return nil, err
	}

	s.begin()
	defer s.end()

	res, err := s.api.DoEnvelope(ctx, "POST", "/jobs", nil, input, token, "求人の作成に失敗しました")
	if err != nil {
		s.setErr(model.ErrorMessage(err))
		return nil, err
	}

	var job model.Job
	if err := json.Unmarshal(res.Data, &job); err != nil {
		decodeErr := fmt.Errorf("failed to decode created job: %w", err)
		s.setErr(decodeErr.Error())
		return nil, decodeErr
	}

	s.cache.Prepend(viewJobs, job)
	s.setSuccess(messageOr(res.Message, "求人を作成しました"))
	s.logger.Info("求人を作成しました", slog.String("job_id", job.ID), slog.String("title", job.Title))
	return &job, nil
}

// Update は求人を更新する。更新結果はキャッシュの実体表に反映され、
// その求人を含む全ての一覧が同時に収束する。
func (s *Service) Update(ctx context.Context, id string, input Input) (*model.Job, error) {
	token, err := s.authorize(model.RoleHR)
	if err != nil {
		return nil, err
	}
	if err := s.validateInput(input); err != nil {
		return nil, err
	}

	s.begin()
	defer s.end()

	res, err := s.api.DoEnvelope(ctx, "PUT", "/jobs/"+id, nil, input, token, "求人の更新に失敗しました")
	if err != nil {
		s.setErr(model.ErrorMessage(err))
		return nil, err
	}

	var job model.Job
	if err := json.Unmarshal(res.Data, &job); err != nil {
		decodeErr := fmt.Errorf("failed to decode updated job: %w", err)
		s.setErr(decodeErr.Error())
		return nil, decodeErr
	}

	if !s.cache.Patch(job.ID, func(model.Job) model.Job { return job }) {
		s.cache.Put(job)
	}
	s.setSuccess(messageOr(res.Message, "求人を更新しました"))
	return &job, nil
}

// Delete は求人を削除し、一覧から取り除く。
func (s *Service) Delete(ctx context.Context, id string) error {
	token, err := s.authorize(model.RoleHR)
	if err != nil {
		return err
	}

	s.begin()
	defer s.end()

	res, err := s.api.DoEnvelope(ctx, "DELETE", "/jobs/"+id, nil, nil, token, "求人の削除に失敗しました")
	if err != nil {
		s.setErr(model.ErrorMessage(err))
		return err
	}

	s.cache.Remove(id, s.cache.ViewNames()...)
	s.mu.Lock()
	if s.selectedID == id {
		s.selectedID = ""
	}
	s.mu.Unlock()
	s.setSuccess(messageOr(res.Message, "求人を削除しました"))
	s.logger.Info("求人を削除しました", slog.String("job_id", id))
	return nil
}

// SetStatus は求人の公開状態を変更する（下書き→公開→終了）。
// 遷移の正当性はサーバーが最終判断する。
func (s *Service) SetStatus(ctx context.Context, id string, status model.JobStatus) (*model.Job, error) {
	token, err := s.authorize(model.RoleHR)
	if err != nil {
		return nil, err
	}
	if !status.Valid() {
		return nil, model.NewValidationError(fmt.Sprintf("不明な求人状態です: %s", status))
	}

	s.begin()
	defer s.end()

	body := map[string]string{"status": string(status)}
	res, err := s.api.DoEnvelope(ctx, "PATCH", "/jobs/"+id+"/publish", nil, body, token, "求人の公開状態の変更に失敗しました")
	if err != nil {
		s.setErr(model.ErrorMessage(err))
		return nil, err
	}

	var job model.Job
	if err := json.Unmarshal(res.Data, &job); err != nil || job.ID == "" {
		// サーバーが更新後の求人を返さない場合は状態のみをパッチする
		s.cache.Patch(id, func(j model.Job) model.Job {
			j.Status = status
			return j
		})
		updated, _ := s.cache.Get(id)
		s.setSuccess(messageOr(res.Message, "求人の公開状態を変更しました"))
		return &updated, nil
	}

	if !s.cache.Patch(job.ID, func(model.Job) model.Job { return job }) {
		s.cache.Put(job)
	}
	s.setSuccess(messageOr(res.Message, "求人の公開状態を変更しました"))
	return &job, nil
}

// FetchStats は求人の集計情報を取得して保持する。
func (s *Service) FetchStats(ctx context.Context) (*model.JobStats, error) {
	token, err := s.authorize(model.RoleHR, model.RoleAdmin)
	if err != nil {
		return nil, err
	}

	s.begin()
	defer s.end()

	res, err := s.api.DoEnvelope(ctx, "GET", "/jobs/stats", nil, nil, token, "求人集計の取得に失敗しました")
	if err != nil {
		s.setErr(model.ErrorMessage(err))
		return nil, err
	}

	var stats model.JobStats
	if err := json.Unmarshal(res.Data, &stats); err != nil {
		decodeErr := fmt.Errorf("failed to decode job stats: %w", err)
		s.setErr(decodeErr.Error())
		return nil, decodeErr
	}

	s.mu.Lock()
	s.stats = &stats
	s.mu.Unlock()
	return &stats, nil
}

// Jobs は現在の一覧をサーバー順で返す。
func (s *Service) Jobs() []model.Job {
	return s.cache.Items(viewJobs)
}

// Pagination は一覧のページング情報を返す。
func (s *Service) Pagination() store.Pagination {
	return s.cache.PaginationOf(viewJobs)
}

// Selected は選択中の求人を返す。
func (s *Service) Selected() (model.Job, bool) {
	s.mu.Lock()
	id := s.selectedID
	s.mu.Unlock()
	if id == "" {
		return model.Job{}, false
	}
	return s.cache.Get(id)
}

// Stats は最後に取得した集計情報を返す。未取得の場合はnil。
func (s *Service) Stats() *model.JobStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stats == nil {
		return nil
	}
	stats := *s.stats
	return &stats
}

// DescriptionText は求人説明文をHTML除去済みのプレーンテキストで返す。
func (s *Service) DescriptionText(j model.Job) string {
	return s.sanitizer.SanitizeText(j.Description)
}

// Loading は実行中の操作があるかどうかを返す。
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

// Success は最後の成功メッセージを返す。
func (s *Service) Success() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.successMsg
}

// ClearError はエラー表示を明示的に消去する。
func (s *Service) ClearError() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errMsg = ""
}

// ClearSuccess は成功メッセージを明示的に消去する。
func (s *Service) ClearSuccess() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.successMsg = ""
}

// authorize はトークンの存在と役割を検証する。
func (s *Service) authorize(roles ...model.Role) (string, error) {
	token := s.tokens.Token()
	if token == "" {
		return "", model.NewNotAuthenticatedError()
	}
	role := s.tokens.Role()
	for _, r := range roles {
		if role == r {
			return token, nil
		}
	}
	return "", model.NewForbiddenRoleError(roles...)
}

// validateInput は求人入力を送信前に検証する。
func (s *Service) validateInput(input Input) error {
	if err := s.validate.Struct(input); err != nil {
		return model.NewValidationError("タイトル・説明・必須スキル・勤務地を正しく入力してください")
	}
	if input.Experience.Min < 0 || (input.Experience.Max > 0 && input.Experience.Max < input.Experience.Min) {
		return model.NewValidationError("経験年数の範囲が不正です")
	}
	if input.Salary.Min < 0 || (input.Salary.Max > 0 && input.Salary.Max < input.Salary.Min) {
		return model.NewValidationError("給与レンジが不正です")
	}
	return nil
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

func (s *Service) setSuccess(msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.successMsg = msg
	s.errMsg = ""
}

// messageOr はサーバーのmessageをそのまま使用し、空の場合はフォールバック文言を返す。
func messageOr(serverMsg, fallback string) string {
	if serverMsg != "" {
		return serverMsg
	}
	return fallback
}
