// Package applications は応募管理ストアを提供する。
// 応募者視点（応募・自分の応募一覧・取り下げ・履歴書ダウンロード）と
// HR/管理者視点（全応募・求人別応募・選考状態変更・削除・集計）の両方を扱う。
//
// 同一の応募が複数の一覧（全応募・求人別・自分の応募）に同時に載っていても、
// 実体は正規化キャッシュの表に1つであり、選考状態の変更は全一覧に同時に反映される。
package applications

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/gabriel-vasile/mimetype"

	"github.com/hitoshi/jobman/internal/api"
	"github.com/hitoshi/jobman/internal/model"
	"github.com/hitoshi/jobman/internal/security"
	"github.com/hitoshi/jobman/internal/store"
)

// ビュー名。求人別の一覧は "job:<求人ID>" の形で動的に作られる。
const (
	viewAll  = "applications"
	viewMine = "mine"
)

// jobView は求人別応募一覧のビュー名を返す。
func jobView(jobID string) string { return "job:" + jobID }

// allowedResumeTypes は履歴書として受け付けるMIMEタイプ。
// 宣言されたMIMEと内容の両方がこのいずれかである必要がある。
var allowedResumeTypes = map[string]bool{
	"application/pdf":    true,
	"application/msword": true,
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document": true,
}

// API は応募エンドポイント呼び出しのインターフェース。
type API interface {
	DoEnvelope(ctx context.Context, method, path string, query url.Values, body any, token, fallback string) (*api.Result, error)
	PostMultipart(ctx context.Context, path string, fields map[string]string, file api.FilePart, token, fallback string) (*api.Result, error)
}

// TokenSource は現在のセッションからトークンと役割を提供する。
type TokenSource interface {
	Token() string
	Role() model.Role
}

// Resume は応募時に添付する履歴書ファイル。
type Resume struct {
	Name string // ファイル名
	MIME string // 宣言されたMIMEタイプ
	Data []byte
}

// Options はServiceの動作パラメータ。
type Options struct {
	PageSize        int
	UploadMaxSize   int64         // 履歴書アップロードの上限バイト数
	DownloadMaxSize int64         // 履歴書ダウンロードの上限バイト数
	DownloadTimeout time.Duration // ダウンロード用HTTPクライアントのタイムアウト
}

// Service は応募管理ストア。
type Service struct {
	api       API
	tokens    TokenSource
	cache     *store.Cache[model.Application]
	guard     security.DownloadGuardService
	sanitizer security.DescriptionSanitizerService
	logger    *slog.Logger
	opts      Options

	mu         sync.Mutex
	pending    int
	uploading  bool
	errMsg     string
	successMsg string
	selectedID string
	stats      *model.ApplicationStats
}

// NewService はServiceを生成する。
func NewService(apiClient API, tokens TokenSource, guard security.DownloadGuardService, opts Options, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.PageSize < 1 {
		opts.PageSize = 10
	}
	if opts.UploadMaxSize <= 0 {
		opts.UploadMaxSize = 5242880
	}
	if opts.DownloadMaxSize <= 0 {
		opts.DownloadMaxSize = 10485760
	}
	if opts.DownloadTimeout <= 0 {
		opts.DownloadTimeout = 30 * time.Second
	}
	if guard == nil {
		guard = security.NewDownloadGuard()
	}
	return &Service{
		api:       apiClient,
		tokens:    tokens,
		cache:     store.New[model.Application](),
		guard:     guard,
		sanitizer: security.NewDescriptionSanitizer(),
		logger:    logger,
		opts:      opts,
	}
}

// Apply は求人に応募する。履歴書の検証は全てネットワーク送信前に行われ、
// 検証に失敗した場合はリクエストは一切発行されない。
// 検証規則: サイズ上限以内、PDF/DOC/DOCXのいずれか（宣言MIMEと内容の両方）、
// 経験年数は0以上の数値。
func (s *Service) Apply(ctx context.Context, jobID string, resume Resume, experience, notes string) (*model.Application, error) {
	token, err := s.authorize(model.RoleApplicant)
	if err != nil {
		return nil, err
	}

	if len(resume.Data) == 0 {
		return nil, model.NewValidationError("履歴書ファイルが空です")
	}
	if size := int64(len(resume.Data)); size > s.opts.UploadMaxSize {
		return nil, model.NewFileTooLargeError(size, s.opts.UploadMaxSize)
	}
	if !allowedResumeTypes[resume.MIME] {
		return nil, model.NewUnsupportedFileTypeError(resume.MIME)
	}
	if sniffed := mimetype.Detect(resume.Data); !allowedResumeTypes[sniffed.String()] {
		return nil, model.NewUnsupportedFileTypeError(sniffed.String())
	}
	years, err := strconv.ParseFloat(experience, 64)
	if err != nil || years < 0 {
		return nil, model.NewInvalidExperienceError(experience)
	}

	s.begin()
	s.setUploading(true)
	defer func() {
		s.setUploading(false)
		s.end()
	}()

	fields := map[string]string{
		"experience": experience,
	}
	if notes != "" {
		fields["notes"] = notes
	}
	file := api.FilePart{
		FieldName:   "resume",
		FileName:    resume.Name,
		ContentType: resume.MIME,
		Data:        resume.Data,
	}

	res, err := s.api.PostMultipart(ctx, "/applications/apply/"+jobID, fields, file, token, "応募に失敗しました")
	if err != nil {
		s.setErr(model.ErrorMessage(err))
		return nil, err
	}

	var app model.Application
	if err := json.Unmarshal(res.Data, &app); err != nil {
		decodeErr := fmt.Errorf("failed to decode created application: %w", err)
		s.setErr(decodeErr.Error())
		return nil, decodeErr
	}
	if app.ID == "" {
		decodeErr := fmt.Errorf("created application has no id")
		s.setErr(decodeErr.Error())
		return nil, decodeErr
	}

	s.cache.Prepend(viewMine, app)
	s.setSuccess(messageOr(res.Message, "応募が完了しました"))
	s.logger.Info("求人に応募しました",
		slog.String("job_id", jobID),
		slog.String("application_id", app.ID),
		slog.Int("resume_bytes", len(resume.Data)),
	)
	return &app, nil
}

// FetchMine は自分の応募一覧の1ページ目を取得する。
func (s *Service) FetchMine(ctx context.Context) error {
	token, err := s.authorize(model.RoleApplicant)
	if err != nil {
		return err
	}
	return s.fetchPage(ctx, token, viewMine, "/applications/my-applications", 1, false)
}

// LoadMoreMine は自分の応募一覧の次ページを累積する。
func (s *Service) LoadMoreMine(ctx context.Context) error {
	token, err := s.authorize(model.RoleApplicant)
	if err != nil {
		return err
	}
	return s.loadMore(ctx, token, viewMine, "/applications/my-applications")
}

// FetchAll は全応募一覧の1ページ目を取得する（HR/管理者）。
func (s *Service) FetchAll(ctx context.Context) error {
	token, err := s.authorize(model.RoleHR, model.RoleAdmin)
	if err != nil {
		return err
	}
	return s.fetchPage(ctx, token, viewAll, "/applications", 1, false)
}

// LoadMoreAll は全応募一覧の次ページを累積する。
func (s *Service) LoadMoreAll(ctx context.Context) error {
	token, err := s.authorize(model.RoleHR, model.RoleAdmin)
	if err != nil {
		return err
	}
	return s.loadMore(ctx, token, viewAll, "/applications")
}

// FetchByJob は指定求人への応募一覧の1ページ目を取得する（HR/管理者）。
func (s *Service) FetchByJob(ctx context.Context, jobID string) error {
	token, err := s.authorize(model.RoleHR, model.RoleAdmin)
	if err != nil {
		return err
	}
	return s.fetchPage(ctx, token, jobView(jobID), "/applications/job/"+jobID, 1, false)
}

// LoadMoreByJob は指定求人への応募一覧の次ページを累積する。
func (s *Service) LoadMoreByJob(ctx context.Context, jobID string) error {
	token, err := s.authorize(model.RoleHR, model.RoleAdmin)
	if err != nil {
		return err
	}
	return s.loadMore(ctx, token, jobView(jobID), "/applications/job/"+jobID)
}

// loadMore は次ページが存在する場合のみ取得する。
func (s *Service) loadMore(ctx context.Context, token, view, path string) error {
	pg := s.cache.PaginationOf(view)
	if pg.TotalPages > 0 && pg.CurrentPage >= pg.TotalPages {
		return nil
	}
	return s.fetchPage(ctx, token, view, path, pg.CurrentPage+1, true)
}

// fetchPage は応募一覧の1ページを取得してキャッシュにコミットする。
// 取得開始時の世代番号と一致しないコミットは破棄される。
func (s *Service) fetchPage(ctx context.Context, token, view, path string, page int, appendMode bool) error {
	gen := s.cache.Begin(view)
	s.begin()
	defer s.end()

	q := url.Values{}
	q.Set("page", strconv.Itoa(page))
	q.Set("limit", strconv.Itoa(s.opts.PageSize))

	res, err := s.api.DoEnvelope(ctx, "GET", path, q, nil, token, "応募一覧の取得に失敗しました")
	if err != nil {
		s.setErr(model.ErrorMessage(err))
		return err
	}

	var items []model.Application
	if err := json.Unmarshal(res.Data, &items); err != nil {
		decodeErr := fmt.Errorf("failed to decode application list: %w", err)
		s.setErr(decodeErr.Error())
		return decodeErr
	}

	pg := store.Pagination{CurrentPage: page, TotalPages: 1, Total: len(items)}
	if res.Pagination != nil {
		pg = *res.Pagination
	}

	committed := false
	if appendMode {
		committed = s.cache.CommitAppend(view, gen, items, pg)
	} else {
		committed = s.cache.CommitReplace(view, gen, items, pg)
	}
	if !committed {
		s.logger.Debug("追い越された応募一覧レスポンスを破棄しました",
			slog.String("view", view), slog.Int("page", page))
	}
	return nil
}

// GetByID は応募を1件取得し、選択中の応募として保持する。
func (s *Service) GetByID(ctx context.Context, id string) (*model.Application, error) {
	token := s.tokens.Token()
	if token == "" {
		return nil, model.NewNotAuthenticatedError()
	}

	s.begin()
	defer s.end()

	res, err := s.api.DoEnvelope(ctx, "GET", "/applications/"+id, nil, nil, token, "応募の取得に失敗しました")
	if err != nil {
		s.setErr(model.ErrorMessage(err))
		return nil, err
	}

	var app model.Application
	if err := json.Unmarshal(res.Data, &app); err != nil {
		decodeErr := fmt.Errorf("failed to decode application: %w", err)
		s.setErr(decodeErr.Error())
		return nil, decodeErr
	}

	s.cache.Put(app)
	s.mu.Lock()
	s.selectedID = app.ID
	s.mu.Unlock()
	return &app, nil
}

// UpdateStatus は応募の選考状態を変更する（HR/管理者）。
// 実体は表に1つなので、その応募を含む全ての一覧と選択中スロットが同時に収束する。
// 遷移の正当性はサーバーが最終判断する。
func (s *Service) UpdateStatus(ctx context.Context, id string, status model.ApplicationStatus, notes string) (*model.Application, error) {
	token, err := s.authorize(model.RoleHR, model.RoleAdmin)
	if err != nil {
		return nil, err
	}
	if !status.Valid() {
		return nil, model.NewValidationError(fmt.Sprintf("不明な選考状態です: %s", status))
	}

	s.begin()
	defer s.end()

	body := map[string]string{"status": string(status)}
	if notes != "" {
		body["notes"] = notes
	}
	res, err := s.api.DoEnvelope(ctx, "PATCH", "/applications/"+id+"/status", nil, body, token, "選考状態の変更に失敗しました")
	if err != nil {
		s.setErr(model.ErrorMessage(err))
		return nil, err
	}

	var app model.Application
	if err := json.Unmarshal(res.Data, &app); err != nil || app.ID == "" {
		// サーバーが更新後の応募を返さない場合は状態とメモのみをパッチする
		s.cache.Patch(id, func(a model.Application) model.Application {
			a.Status = status
			if notes != "" {
				a.Notes = notes
			}
			return a
		})
		updated, _ := s.cache.Get(id)
		s.setSuccess(messageOr(res.Message, "選考状態を変更しました"))
		return &updated, nil
	}

	if !s.cache.Patch(app.ID, func(model.Application) model.Application { return app }) {
		s.cache.Put(app)
	}
	s.setSuccess(messageOr(res.Message, "選考状態を変更しました"))
	s.logger.Info("選考状態を変更しました",
		slog.String("application_id", id), slog.String("status", string(status)))
	return &app, nil
}

// Withdraw は自分の応募を取り下げる（応募者）。
// 終端状態（取り下げ済み・不採用・採用）の応募は取り下げできない。
// 成功した応募は一覧から取り除かれる。
func (s *Service) Withdraw(ctx context.Context, id string) error {
	token, err := s.authorize(model.RoleApplicant)
	if err != nil {
		return err
	}
	if app, ok := s.cache.Get(id); ok && !app.CanWithdraw() {
		return model.NewValidationError(fmt.Sprintf("この応募は取り下げできません（現在の状態: %s）", app.Status))
	}

	s.begin()
	defer s.end()

	res, err := s.api.DoEnvelope(ctx, "DELETE", "/applications/"+id+"/withdraw", nil, nil, token, "応募の取り下げに失敗しました")
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
	s.setSuccess(messageOr(res.Message, "応募を取り下げました"))
	s.logger.Info("応募を取り下げました", slog.String("application_id", id))
	return nil
}

// Delete は応募を削除する（管理者）。応募は全ての一覧から取り除かれる。
func (s *Service) Delete(ctx context.Context, id string) error {
	token, err := s.authorize(model.RoleAdmin)
	if err != nil {
		return err
	}

	s.begin()
	defer s.end()

	res, err := s.api.DoEnvelope(ctx, "DELETE", "/applications/"+id, nil, nil, token, "応募の削除に失敗しました")
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
	s.setSuccess(messageOr(res.Message, "応募を削除しました"))
	s.logger.Info("応募を削除しました", slog.String("application_id", id))
	return nil
}

// ResumeURL は応募の履歴書ダウンロードURLを取得する。
func (s *Service) ResumeURL(ctx context.Context, id string) (string, error) {
	token := s.tokens.Token()
	if token == "" {
		return "", model.NewNotAuthenticatedError()
	}

	s.begin()
	defer s.end()

	res, err := s.api.DoEnvelope(ctx, "GET", "/applications/"+id+"/download", nil, nil, token, "履歴書URLの取得に失敗しました")
	if err != nil {
		s.setErr(model.ErrorMessage(err))
		return "", err
	}
	if res.ResumeURL == "" {
		missingErr := model.NewServerError(http.StatusOK, "", "履歴書URLが返されませんでした")
		s.setErr(missingErr.Message)
		return "", missingErr
	}
	return res.ResumeURL, nil
}

// DownloadResume は履歴書を取得してwに書き込み、書き込んだバイト数を返す。
// サーバーが返すURLは外部ストレージを指すため、SSRF防止検証を通過したURLにのみ
// アクセスする。ダウンロードサイズには上限がある。
func (s *Service) DownloadResume(ctx context.Context, id string, w io.Writer) (int64, error) {
	rawURL, err := s.ResumeURL(ctx, id)
	if err != nil {
		return 0, err
	}

	if err := s.guard.ValidateURL(rawURL); err != nil {
		blocked := model.NewDownloadBlockedError(err.Error())
		s.setErr(blocked.Message)
		return 0, blocked
	}

	client := s.guard.NewSafeClient(s.opts.DownloadTimeout)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to build download request: %w", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		// safeurlはブロック対象への接続をDialerレベルで拒否する
		blocked := model.NewDownloadBlockedError(err.Error())
		s.setErr(blocked.Message)
		return 0, blocked
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		dlErr := model.NewRequestFailedError(fmt.Sprintf("download status %d", resp.StatusCode))
		s.setErr(dlErr.Message)
		return 0, dlErr
	}

	n, err := io.Copy(w, io.LimitReader(resp.Body, s.opts.DownloadMaxSize+1))
	if err != nil {
		return n, model.NewRequestFailedError(fmt.Sprintf("download read: %s", err))
	}
	if n > s.opts.DownloadMaxSize {
		sizeErr := model.NewFileTooLargeError(n, s.opts.DownloadMaxSize)
		s.setErr(sizeErr.Message)
		return n, sizeErr
	}

	s.logger.Info("履歴書をダウンロードしました",
		slog.String("application_id", id), slog.Int64("bytes", n))
	return n, nil
}

// FetchStats は応募の集計情報を取得して保持する（HR/管理者）。
func (s *Service) FetchStats(ctx context.Context) (*model.ApplicationStats, error) {
	token, err := s.authorize(model.RoleHR, model.RoleAdmin)
	if err != nil {
		return nil, err
	}

	s.begin()
	defer s.end()

	res, err := s.api.DoEnvelope(ctx, "GET", "/applications/stats", nil, nil, token, "応募集計の取得に失敗しました")
	if err != nil {
		s.setErr(model.ErrorMessage(err))
		return nil, err
	}

	var stats model.ApplicationStats
	if err := json.Unmarshal(res.Data, &stats); err != nil {
		decodeErr := fmt.Errorf("failed to decode application stats: %w", err)
		s.setErr(decodeErr.Error())
		return nil, decodeErr
	}

	s.mu.Lock()
	s.stats = &stats
	s.mu.Unlock()
	return &stats, nil
}

// Mine は自分の応募一覧をサーバー順で返す。
func (s *Service) Mine() []model.Application {
	return s.cache.Items(viewMine)
}

// All は全応募一覧をサーバー順で返す。
func (s *Service) All() []model.Application {
	return s.cache.Items(viewAll)
}

// ByJob は求人別応募一覧をサーバー順で返す。
func (s *Service) ByJob(jobID string) []model.Application {
	return s.cache.Items(jobView(jobID))
}

// MinePagination は自分の応募一覧のページング情報を返す。
func (s *Service) MinePagination() store.Pagination {
	return s.cache.PaginationOf(viewMine)
}

// AllPagination は全応募一覧のページング情報を返す。
func (s *Service) AllPagination() store.Pagination {
	return s.cache.PaginationOf(viewAll)
}

// ByJobPagination は求人別応募一覧のページング情報を返す。
func (s *Service) ByJobPagination(jobID string) store.Pagination {
	return s.cache.PaginationOf(jobView(jobID))
}

// Selected は選択中の応募を返す。
func (s *Service) Selected() (model.Application, bool) {
	s.mu.Lock()
	id := s.selectedID
	s.mu.Unlock()
	if id == "" {
		return model.Application{}, false
	}
	return s.cache.Get(id)
}

// Stats は最後に取得した集計情報を返す。未取得の場合はnil。
func (s *Service) Stats() *model.ApplicationStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stats == nil {
		return nil
	}
	stats := *s.stats
	return &stats
}

// NotesText は選考メモをHTML除去済みのプレーンテキストで返す。
func (s *Service) NotesText(a model.Application) string {
	return s.sanitizer.SanitizeText(a.Notes)
}

// Loading は実行中の操作があるかどうかを返す。
func (s *Service) Loading() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending > 0
}

// Uploading は履歴書アップロードが実行中かどうかを返す。
func (s *Service) Uploading() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.uploading
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

func (s *Service) setUploading(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.uploading = v
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
