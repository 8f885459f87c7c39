package api

import (
	"encoding/json"
	"fmt"

	"github.com/hitoshi/jobman/internal/model"
	"github.com/hitoshi/jobman/internal/store"
)

// Pagination は正規化済みのページング情報。
// サーバーのエンベロープは page/pages/total と currentPage/totalPages/totalUsers の
// 2通りの命名で揺れているため、境界で必ずこの形に正規化してから
// storeパッケージと共有する。
type Pagination = store.Pagination

// wirePagination はサーバーが返しうるページング表現の和集合。
type wirePagination struct {
	Page        int `json:"page"`
	CurrentPage int `json:"currentPage"`
	Pages       int `json:"pages"`
	TotalPages  int `json:"totalPages"`
	Total       int `json:"total"`
	TotalUsers  int `json:"totalUsers"`
}

// normalize は揺れた命名を正規化する。同じ意味のキーは先に見つかった非ゼロ値を採用する。
func (w *wirePagination) normalize() Pagination {
	p := Pagination{
		CurrentPage: w.Page,
		TotalPages:  w.Pages,
		Total:       w.Total,
	}
	if p.CurrentPage == 0 {
		p.CurrentPage = w.CurrentPage
	}
	if p.TotalPages == 0 {
		p.TotalPages = w.TotalPages
	}
	if p.Total == 0 {
		p.Total = w.TotalUsers
	}
	if p.CurrentPage == 0 {
		p.CurrentPage = 1
	}
	return p
}

// envelope はリソース系エンドポイントの標準レスポンス
// {success, message, data, pagination} を表す。
// ユーザー一覧のみ data の代わりに users キーで返る（既知の揺れ）。
type envelope struct {
	Success    bool            `json:"success"`
	Message    string          `json:"message"`
	Data       json.RawMessage `json:"data"`
	Users      json.RawMessage `json:"users"`
	Pagination *wirePagination `json:"pagination"`
	ResumeURL  string          `json:"resumeUrl"`
}

// Result はエンベロープを正規化した結果。
type Result struct {
	Message    string
	Data       json.RawMessage
	Pagination *Pagination
	ResumeURL  string
}

// parseEnvelope はレスポンスボディをResultに正規化する。
func parseEnvelope(body []byte) (*Result, error) {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("failed to decode response envelope: %w", err)
	}

	res := &Result{
		Message:   env.Message,
		Data:      env.Data,
		ResumeURL: env.ResumeURL,
	}
	if len(res.Data) == 0 || string(res.Data) == "null" {
		res.Data = env.Users
	}
	if env.Pagination != nil {
		p := env.Pagination.normalize()
		res.Pagination = &p
	}
	return res, nil
}

// AuthResponse は認証エンドポイント（/auth/login, /auth/register）のレスポンス。
// 認証系はエンベロープを使わずトップレベルで返す（既知の揺れ）。
type AuthResponse struct {
	Token   string      `json:"token"`
	Role    model.Role  `json:"role"`
	User    *model.User `json:"user"`
	Message string      `json:"message"`
}

// DecodeUser は /auth/me のレスポンスをUserに復元する。
// バックエンドは {user: {...}} とユーザーオブジェクト単体の2通りの形で返すため、
// その揺れの吸収はこの関数に閉じ込める。業務ロジックには漏らさない。
func DecodeUser(body []byte) (*model.User, error) {
	var wrapped struct {
		User *model.User `json:"user"`
	}
	if err := json.Unmarshal(body, &wrapped); err == nil && wrapped.User != nil && wrapped.User.ID != "" {
		return wrapped.User, nil
	}

	var bare model.User
	if err := json.Unmarshal(body, &bare); err != nil {
		return nil, fmt.Errorf("failed to decode user: %w", err)
	}
	if bare.ID == "" {
		return nil, fmt.Errorf("user response has no id: %s", string(body))
	}
	return &bare, nil
}

// serverMessage はエラーレスポンスボディからmessageフィールドを取り出す。
// 取り出せない場合は空文字列を返し、呼び出し側のフォールバック文言が使われる。
func serverMessage(body []byte) string {
	var env struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &env); err != nil {
		return ""
	}
	return env.Message
}
