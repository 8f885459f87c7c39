// Package users は管理者向けのユーザー管理ストアを提供する。
// ユーザー一覧はdataではなくusersキー、総件数はtotalUsersで返るが、
// その揺れはapiパッケージで正規化済みの形で受け取る。
package users

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/hitoshi/jobman/internal/api"
	"github.com/hitoshi/jobman/internal/model"
	"github.com/hitoshi/jobman/internal/store"
)

// viewUsers はユーザー一覧のビュー名。
const viewUsers = "users"

// API はユーザーエンドポイント呼び出しのインターフェース。
type API interface {
	DoEnvelope(ctx context.Context, method, path string, query url.Values, body any, token, fallback string) (*api.Result, error)
}

// TokenSource は現在のセッションからトークンと役割を提供する。
type TokenSource interface {
	Token() string
	Role() model.Role
}

// CreateInput は管理者によるユーザー作成の入力。
// 作成できる役割はHRと管理者のみ（応募者は自己登録のみ）。
type CreateInput struct {
	Name     string     `json:"name" validate:"required,min=3"`
	Email    string     `json:"email" validate:"required,email"`
	Password string     `json:"password" validate:"required,min=6"`
	Role     model.Role `json:"role" validate:"required,oneof=hr admin"`
}

// UpdateInput はユーザー更新の入力。空のフィールドは送信されず、変更されない。
type UpdateInput struct {
	Name  string     `json:"name,omitempty"`
	Email string     `json:"email,omitempty" validate:"omitempty,email"`
	Phone string     `json:"phone,omitempty"`
	Role  model.Role `json:"role,omitempty" validate:"omitempty,oneof=hr admin applicant"`
}

// empty は送信すべき変更が1つもないかどうかを返す。
func (in UpdateInput) empty() bool {
	return in.Name == "" && in.Email == "" && in.Phone == "" && in.Role == ""
}

// Service はユーザー管理ストア。全操作は管理者役割を要求する。
type Service struct {
	api      API
	tokens   TokenSource
	cache    *store.Cache[model.User]
	validate *validator.Validate
	logger   *slog.Logger
	pageSize int

	mu         sync.Mutex
	pending    int
	errMsg     string
	successMsg string
	lastRole   model.Role
	selectedID string
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
		api:      apiClient,
		tokens:   tokens,
		cache:    store.New[model.User](),
		validate: validator.New(),
		logger:   logger,
		pageSize: pageSize,
	}
}

// List はユーザー一覧の1ページ目を取得し、一覧を置き換える。
// roleが空でない場合はその役割のみに絞り込む。絞り込みは後続のLoadMoreに引き継がれる。
func (s *Service) List(ctx context.Context, role model.Role) error {
	token, err := s.authorize()
	if err != nil {
		return err
	}
	if role != "" && !role.Valid() {
		return model.NewValidationError(fmt.Sprintf("不明な役割です: %s", role))
	}

	s.mu.Lock()
	s.lastRole = role
	s.mu.Unlock()

	return s.fetchPage(ctx, token, role, 1, false)
}

// LoadMore は次ページを取得し、一覧の末尾に累積する。
func (s *Service) LoadMore(ctx context.Context) error {
	token, err := s.authorize()
	if err != nil {
		return err
	}

	pg := s.cache.PaginationOf(viewUsers)
	if pg.TotalPages > 0 && pg.CurrentPage >= pg.TotalPages {
		return nil
	}

	s.mu.Lock()
	role := s.lastRole
	s.mu.Unlock()

	return s.fetchPage(ctx, token, role, pg.CurrentPage+1, true)
}

// fetchPage はユーザー一覧の1ページを取得してキャッシュにコミットする。
func (s *Service) fetchPage(ctx context.Context, token string, role model.Role, page int, appendMode bool) error {
	gen := s.cache.Begin(viewUsers)
	s.begin()
	defer s.end()

	q := url.Values{}
	q.Set("page", strconv.Itoa(page))
	q.Set("limit", strconv.Itoa(s.pageSize))
	if role != "" {
		q.Set("role", string(role))
	}

	res, err := s.api.DoEnvelope(ctx, "GET", "/user/all", q, nil, token, "ユーザー一覧の取得に失敗しました")
	if err != nil {
		s.setErr(model.ErrorMessage(err))
		return err
	}

	var items []model.User
	if err := json.Unmarshal(res.Data, &items); err != nil {
		decodeErr := fmt.Errorf("failed to decode user list: %w", err)
		s.setErr(decodeErr.Error())
		return decodeErr
	}

	pg := store.Pagination{CurrentPage: page, TotalPages: 1, Total: len(items)}
	if res.Pagination != nil {
		pg = *res.Pagination
	}

	committed := false
	if appendMode {
		committed = s.cache.CommitAppend(viewUsers, gen, items, pg)
	} else {
		committed = s.cache.CommitReplace(viewUsers, gen, items, pg)
	}
	if !committed {
		s.logger.Debug("追い越されたユーザー一覧レスポンスを破棄しました", slog.Int("page", page))
	}
	return nil
}

// GetByID はユーザーを1件取得し、選択中のユーザーとして保持する。
func (s *Service) GetByID(ctx context.Context, id string) (*model.User, error) {
	token, err := s.authorize()
	if err != nil {
		return nil, err
	}

	s.begin()
	defer s.end()

	res, err := s.api.DoEnvelope(ctx, "GET", "/user/"+id, nil, nil, token, "ユーザーの取得に失敗しました")
	if err != nil {
		s.setErr(model.ErrorMessage(err))
		return nil, err
	}

	var user model.User
	if err := json.Unmarshal(res.Data, &user); err != nil {
		decodeErr := fmt.Errorf("failed to decode user: %w", err)
		s.setErr(decodeErr.Error())
		return nil, decodeErr
	}

	s.cache.Put(user)
	s.mu.Lock()
	s.selectedID = user.ID
	s.mu.Unlock()
	return &user, nil
}

// Create はHRまたは管理者のアカウントを作成する。作成されたユーザーは一覧の先頭に挿入される。
func (s *Service) Create(ctx context.Context, input CreateInput) (*model.User, error) {
	token, err := s.authorize()
	if err != nil {
		return nil, err
	}
	if err := s.validate.Struct(input); err != nil {
		return nil, model.NewValidationError("名前・メールアドレス・パスワード・役割（hrまたはadmin）を正しく入力してください")
	}

	s.begin()
	defer s.end()

	res, err := s.api.DoEnvelope(ctx, "POST", "/user/create", nil, input, token, "ユーザーの作成に失敗しました")
	if err != nil {
		s.setErr(model.ErrorMessage(err))
		return nil, err
	}

	var user model.User
	if err := json.Unmarshal(res.Data, &user); err != nil {
		decodeErr := fmt.Errorf("failed to decode created user: %w", err)
		s.setErr(decodeErr.Error())
		return nil, decodeErr
	}

	s.cache.Prepend(viewUsers, user)
	s.setSuccess(messageOr(res.Message, "ユーザーを作成しました"))
	s.logger.Info("ユーザーを作成しました",
		slog.String("user_id", user.ID), slog.String("role", string(user.Role)))
	return &user, nil
}

// Update はユーザーの変更されたフィールドのみを送信して更新する。
// 更新結果は実体表に反映され、一覧と選択中スロットが同時に収束する。
func (s *Service) Update(ctx context.Context, id string, input UpdateInput) (*model.User, error) {
	token, err := s.authorize()
	if err != nil {
		return nil, err
	}
	if input.empty() {
		return nil, model.NewValidationError("変更する項目がありません")
	}
	if err := s.validate.Struct(input); err != nil {
		return nil, model.NewValidationError("メールアドレスまたは役割の形式が不正です")
	}

	s.begin()
	defer s.end()

	res, err := s.api.DoEnvelope(ctx, "PUT", "/user/"+id, nil, input, token, "ユーザーの更新に失敗しました")
	if err != nil {
		s.setErr(model.ErrorMessage(err))
		return nil, err
	}

	var user model.User
	if err := json.Unmarshal(res.Data, &user); err != nil || user.ID == "" {
		// サーバーが更新後のユーザーを返さない場合は変更フィールドのみをパッチする
		s.cache.Patch(id, func(u model.User) model.User {
			if input.Name != "" {
				u.Name = input.Name
			}
			if input.Email != "" {
				u.Email = input.Email
			}
			if input.Phone != "" {
				u.Phone = input.Phone
			}
			if input.Role != "" {
				u.Role = input.Role
			}
			return u
		})
		updated, _ := s.cache.Get(id)
		s.setSuccess(messageOr(res.Message, "ユーザーを更新しました"))
		return &updated, nil
	}

	if !s.cache.Patch(user.ID, func(model.User) model.User { return user }) {
		s.cache.Put(user)
	}
	s.setSuccess(messageOr(res.Message, "ユーザーを更新しました"))
	return &user, nil
}

// Delete はユーザーを削除し、一覧から取り除く。
func (s *Service) Delete(ctx context.Context, id string) error {
	token, err := s.authorize()
	if err != nil {
		return err
	}

	s.begin()
	defer s.end()

	res, err := s.api.DoEnvelope(ctx, "DELETE", "/user/"+id, nil, nil, token, "ユーザーの削除に失敗しました")
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
	s.setSuccess(messageOr(res.Message, "ユーザーを削除しました"))
	s.logger.Info("ユーザーを削除しました", slog.String("user_id", id))
	return nil
}

// Users は現在の一覧をサーバー順で返す。
func (s *Service) Users() []model.User {
	return s.cache.Items(viewUsers)
}

// Pagination は一覧のページング情報を返す。
func (s *Service) Pagination() store.Pagination {
	return s.cache.PaginationOf(viewUsers)
}

// Selected は選択中のユーザーを返す。
func (s *Service) Selected() (model.User, bool) {
	s.mu.Lock()
	id := s.selectedID
	s.mu.Unlock()
	if id == "" {
		return model.User{}, false
	}
	return s.cache.Get(id)
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

// authorize は管理者トークンを検証する。
func (s *Service) authorize() (string, error) {
	token := s.tokens.Token()
	if token == "" {
		return "", model.NewNotAuthenticatedError()
	}
	if s.tokens.Role() != model.RoleAdmin {
		return "", model.NewForbiddenRoleError(model.RoleAdmin)
	}
	return token, nil
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
