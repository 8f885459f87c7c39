// Package session は認証状態の保持とセッション操作を提供する。
//
// 状態機械: {未認証} --login/register成功--> {認証済み(役割)} --logout--> {未認証}。
// bootstrapは未認証→認証済みの方向にしか遷移しない。
// 同種のセッション操作は実行中ガードで直列化され、二重ログイン等の競合は
// ErrCodeOperationInFlight のエラーになる。
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/golang-jwt/jwt/v5"

	"github.com/hitoshi/jobman/internal/api"
	"github.com/hitoshi/jobman/internal/model"
	"github.com/hitoshi/jobman/internal/storage"
)

// AuthAPI は認証エンドポイント呼び出しのインターフェース。
// 認証系はエンベロープを使わないためDoRawを使用する。
type AuthAPI interface {
	DoRaw(ctx context.Context, method, path string, query url.Values, body any, token, fallback string) ([]byte, error)
}

// opKind は実行中ガードの対象となるセッション操作の種類。
type opKind string

const (
	opBootstrap opKind = "bootstrap"
	opLogin     opKind = "login"
	opRegister  opKind = "register"
	opFetchUser opKind = "fetch_user"
	opLogout    opKind = "logout"
)

// Store はクライアント側のセッションストア。
// 状態の変更は全て単一のミューテックス下で行われる。
type Store struct {
	mu       sync.Mutex
	state    model.Session
	inflight map[opKind]bool

	creds    storage.CredentialStore
	api      AuthAPI
	validate *validator.Validate
	logger   *slog.Logger
}

// NewStore はStoreを生成する。
func NewStore(authAPI AuthAPI, creds storage.CredentialStore, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		inflight: make(map[opKind]bool),
		creds:    creds,
		api:      authAPI,
		validate: validator.New(),
		logger:   logger,
	}
}

// Snapshot は現在のセッション状態のコピーを返す。
func (s *Store) Snapshot() model.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := s.state
	if s.state.User != nil {
		u := *s.state.User
		snap.User = &u
	}
	return snap
}

// Token は現在の認証トークンを返す。未認証の場合は空文字列。
func (s *Store) Token() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Token
}

// Role は現在の役割を返す。
func (s *Store) Role() model.Role {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Role
}

// Bootstrap は永続化済みの認証情報からセッションを復元する。
// トークンが保存されていない場合はネットワークを使わず未認証のまま返る。
// 保存済みトークンが期限切れの場合は認証情報を破棄して未認証のまま返る。
// トークンが有効な場合は認証済みに遷移し、現在のユーザー情報を取得する。
func (s *Store) Bootstrap(ctx context.Context) error {
	if err := s.begin(opBootstrap); err != nil {
		return err
	}
	defer s.end(opBootstrap)

	creds, err := s.creds.Load()
	if err != nil {
		storageErr := model.NewStorageError(err.Error())
		s.setErr(storageErr.Message)
		return storageErr
	}

	if creds.Empty() {
		return nil
	}

	if expired, expiredAt := tokenExpired(creds.Token, time.Now()); expired {
		s.logger.Info("保存済みトークンが期限切れのため破棄します",
			slog.Time("expired_at", expiredAt),
		)
		if err := s.creds.Clear(); err != nil {
			s.logger.Warn("期限切れ認証情報の削除に失敗しました", slog.String("error", err.Error()))
		}
		return nil
	}

	s.mu.Lock()
	s.state.Token = creds.Token
	s.state.Role = creds.Role
	s.state.IsLoggedIn = true
	s.state.Err = ""
	s.mu.Unlock()

	if err := s.fetchCurrentUser(ctx, creds.Token); err != nil {
		// ユーザー情報の取得失敗はセッション復元自体を失敗にしない。
		// トークンは保持され、次の操作でサーバーが最終判断する。
		s.logger.Warn("セッション復元時のユーザー情報取得に失敗しました", slog.String("error", err.Error()))
	}
	return nil
}

// Login はメールアドレスとパスワードでログインする。
// 入力検証エラーはネットワーク送信前に返され、ストアの状態には反映されない。
// API失敗はLoginErrorにのみ記録され、他のフォームのエラー表示と干渉しない。
func (s *Store) Login(ctx context.Context, email, password string) error {
	input := struct {
		Email    string `validate:"required,email"`
		Password string `validate:"required"`
	}{Email: email, Password: password}
	if err := s.validate.Struct(input); err != nil {
		return model.NewValidationError("メールアドレスとパスワードを正しく入力してください")
	}

	if err := s.begin(opLogin); err != nil {
		return err
	}
	defer s.end(opLogin)

	s.mu.Lock()
	s.state.LoginError = ""
	s.mu.Unlock()

	body := map[string]string{"email": email, "password": password}
	raw, err := s.api.DoRaw(ctx, "POST", "/auth/login", nil, body, "", "ログインに失敗しました")
	if err != nil {
		s.setLoginErr(model.ErrorMessage(err))
		return err
	}

	return s.completeAuth(ctx, raw, func(msg string) { s.setLoginErr(msg) })
}

// Register は新規応募者アカウントを登録する。
// 検証規則: 名前3文字以上、メールアドレス形式、電話番号は数字10桁ちょうど、
// パスワード6文字以上。全てネットワーク送信前に検証される。
func (s *Store) Register(ctx context.Context, name, email, phone, password string) error {
	input := struct {
		Name     string `validate:"required,min=3"`
		Email    string `validate:"required,email"`
		Phone    string `validate:"required,len=10"`
		Password string `validate:"required,min=6"`
	}{Name: name, Email: email, Phone: phone, Password: password}
	if err := s.validate.Struct(input); err != nil {
		return model.NewValidationError("名前・メールアドレス・電話番号・パスワードを正しく入力してください")
	}
	if !digitsOnly(phone) {
		return model.NewValidationError("電話番号は数字10桁で入力してください")
	}

	if err := s.begin(opRegister); err != nil {
		return err
	}
	defer s.end(opRegister)

	s.mu.Lock()
	s.state.RegisterError = ""
	s.mu.Unlock()

	body := map[string]string{
		"name":     name,
		"email":    email,
		"phone":    phone,
		"password": password,
	}
	raw, err := s.api.DoRaw(ctx, "POST", "/auth/register", nil, body, "", "登録に失敗しました")
	if err != nil {
		s.setRegisterErr(model.ErrorMessage(err))
		return err
	}

	return s.completeAuth(ctx, raw, func(msg string) { s.setRegisterErr(msg) })
}

// completeAuth はログイン・登録成功後の共通処理。
// 認証情報の永続化はユーザー情報取得より先に行う。
func (s *Store) completeAuth(ctx context.Context, raw []byte, setErr func(string)) error {
	auth, err := decodeAuthResponse(raw)
	if err != nil {
		setErr(model.ErrorMessage(err))
		return err
	}

	if err := s.creds.Save(model.Credentials{Token: auth.Token, Role: auth.Role}); err != nil {
		storageErr := model.NewStorageError(err.Error())
		setErr(storageErr.Message)
		return storageErr
	}

	s.mu.Lock()
	s.state.Token = auth.Token
	s.state.Role = auth.Role
	s.state.User = auth.User
	s.state.IsLoggedIn = true
	s.state.Err = ""
	s.mu.Unlock()

	if auth.User == nil {
		if err := s.fetchCurrentUser(ctx, auth.Token); err != nil {
			s.logger.Warn("認証直後のユーザー情報取得に失敗しました", slog.String("error", err.Error()))
		}
	}

	s.logger.Info("ログインしました", slog.String("role", string(auth.Role)))
	return nil
}

// FetchCurrentUser は現在のユーザー情報を取得して状態に反映する。
func (s *Store) FetchCurrentUser(ctx context.Context) error {
	s.mu.Lock()
	token := s.state.Token
	s.mu.Unlock()
	if token == "" {
		return model.NewNotAuthenticatedError()
	}

	if err := s.begin(opFetchUser); err != nil {
		return err
	}
	defer s.end(opFetchUser)

	return s.fetchCurrentUser(ctx, token)
}

// fetchCurrentUser はGET /auth/meを呼び、結果を状態に反映する。ガードは呼び出し側が持つ。
func (s *Store) fetchCurrentUser(ctx context.Context, token string) error {
	raw, err := s.api.DoRaw(ctx, "GET", "/auth/me", nil, nil, token, "ユーザー情報の取得に失敗しました")
	if err != nil {
		s.setErr(model.ErrorMessage(err))
		return err
	}

	// バックエンドは {user: {...}} とユーザーオブジェクト単体の両方を返しうる。
	user, err := api.DecodeUser(raw)
	if err != nil {
		s.setErr(model.ErrorMessage(err))
		return err
	}

	s.mu.Lock()
	s.state.User = user
	s.state.Err = ""
	s.mu.Unlock()
	return nil
}

// Logout はセッションを終了する。
// 永続化された認証情報の削除をメモリ上の状態クリアより先に行う。
// 削除に失敗してもメモリ上のセッションは必ずクリアされる。
func (s *Store) Logout(ctx context.Context) error {
	if err := s.begin(opLogout); err != nil {
		return err
	}
	defer s.end(opLogout)

	clearErr := s.creds.Clear()

	s.mu.Lock()
	s.state = model.Session{}
	if clearErr != nil {
		s.state.Err = model.NewStorageError(clearErr.Error()).Message
	}
	s.mu.Unlock()

	if clearErr != nil {
		s.logger.Error("認証情報の削除に失敗しました", slog.String("error", clearErr.Error()))
		return model.NewStorageError(clearErr.Error())
	}

	s.logger.Info("ログアウトしました")
	return nil
}

// ClearError はbootstrap/ユーザー取得系のエラー表示をクリアする。
func (s *Store) ClearError() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.Err = ""
}

// ClearLoginError はログインフォームのエラー表示をクリアする。
func (s *Store) ClearLoginError() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.LoginError = ""
}

// ClearRegisterError は登録フォームのエラー表示をクリアする。
func (s *Store) ClearRegisterError() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.RegisterError = ""
}

// begin は操作の実行中ガードを取得する。取得中はIsLoadingがtrueになる。
func (s *Store) begin(kind opKind) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inflight[kind] {
		return model.NewOperationInFlightError(string(kind))
	}
	s.inflight[kind] = true
	s.state.IsLoading = true
	return nil
}

// end は実行中ガードを解放する。全ての操作が完了したらIsLoadingをfalseに戻す。
func (s *Store) end(kind opKind) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inflight, kind)
	s.state.IsLoading = len(s.inflight) > 0
}

func (s *Store) setErr(msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.Err = msg
}

func (s *Store) setLoginErr(msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.LoginError = msg
}

func (s *Store) setRegisterErr(msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.RegisterError = msg
}

// tokenExpired はJWTのexpクレームが過去かどうかを返す。
// 署名検証は行わない（検証はサーバーの責務）。JWTとして解釈できない
// 不透明トークンは期限切れ扱いにしない。
func tokenExpired(token string, now time.Time) (bool, time.Time) {
	parsed, _, err := jwt.NewParser().ParseUnverified(token, jwt.MapClaims{})
	if err != nil {
		return false, time.Time{}
	}
	exp, err := parsed.Claims.GetExpirationTime()
	if err != nil || exp == nil {
		return false, time.Time{}
	}
	return exp.Time.Before(now), exp.Time
}

// digitsOnly は文字列が数字のみで構成されるかを返す。
func digitsOnly(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return len(s) > 0
}

// decodeAuthResponse は認証エンドポイントのレスポンスを復元する。
func decodeAuthResponse(raw []byte) (*api.AuthResponse, error) {
	var auth api.AuthResponse
	if err := json.Unmarshal(raw, &auth); err != nil {
		return nil, fmt.Errorf("failed to decode auth response: %w", err)
	}
	if auth.Token == "" {
		return nil, fmt.Errorf("auth response has no token")
	}
	return &auth, nil
}
