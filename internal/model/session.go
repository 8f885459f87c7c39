package model

// Session はクライアント側の認証状態を表す。
// 不変条件: IsLoggedIn ⇔ Token が空でない。
type Session struct {
	Token      string
	Role       Role
	User       *User
	IsLoggedIn bool
	IsLoading  bool

	// Err は bootstrap / ユーザー取得 / ログアウトの失敗を保持する。
	// LoginError / RegisterError はそれぞれのフォームにスコープされ、
	// 片方のフォームのエラーがもう片方に漏れないよう分離されている。
	Err           string
	LoginError    string
	RegisterError string
}

// Credentials は永続化される認証情報。トークンと役割の2キーのみを保存する。
type Credentials struct {
	Token string `json:"token"`
	Role  Role   `json:"role"`
}

// Empty は認証情報が存在しないことを表す。
func (c Credentials) Empty() bool { return c.Token == "" }
