package model

import (
	"errors"
	"fmt"
)

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, api, storage, download
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// ErrorMessage はユーザー表示用のエラーメッセージを取り出す。
// *APIErrorの場合はMessage（サーバー文言はそのまま）を、それ以外はError()を使用する。
func ErrorMessage(err error) string {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Message
	}
	return err.Error()
}

// 定義済みエラーコード
const (
	ErrCodeValidationFailed    = "VALIDATION_FAILED"
	ErrCodeFileTooLarge        = "FILE_TOO_LARGE"
	ErrCodeUnsupportedFileType = "UNSUPPORTED_FILE_TYPE"
	ErrCodeInvalidExperience   = "INVALID_EXPERIENCE"
	ErrCodeOperationInFlight   = "OPERATION_IN_FLIGHT"
	ErrCodeNotAuthenticated    = "NOT_AUTHENTICATED"
	ErrCodeForbiddenRole       = "FORBIDDEN_ROLE"
	ErrCodeRequestFailed       = "REQUEST_FAILED"
	ErrCodeAPIError            = "API_ERROR"
	ErrCodeStorageFailed       = "STORAGE_FAILED"
	ErrCodeDownloadBlocked     = "DOWNLOAD_BLOCKED"
)

// NewValidationError は入力検証エラーを生成する。
// 検証エラーはネットワーク送信前に検出され、ストアのエラーフィールドには入らない。
func NewValidationError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeValidationFailed,
		Message:  fmt.Sprintf("入力内容に誤りがあります: %s", reason),
		Category: "validation",
		Action:   "入力内容を確認して再度お試しください。",
	}
}

// NewFileTooLargeError はファイルサイズ超過エラーを生成する。
func NewFileTooLargeError(size, max int64) *APIError {
	return &APIError{
		Code:     ErrCodeFileTooLarge,
		Message:  fmt.Sprintf("ファイルサイズが上限を超えています: %dバイト（上限%dバイト）", size, max),
		Category: "validation",
		Action:   "5MB以下のファイルを選択してください。",
	}
}

// NewUnsupportedFileTypeError は非対応ファイル形式エラーを生成する。
func NewUnsupportedFileTypeError(mimeType string) *APIError {
	return &APIError{
		Code:     ErrCodeUnsupportedFileType,
		Message:  fmt.Sprintf("対応していないファイル形式です: %s", mimeType),
		Category: "validation",
		Action:   "PDF、DOC、DOCXのいずれかの形式で履歴書を用意してください。",
	}
}

// NewInvalidExperienceError は経験年数の形式エラーを生成する。
func NewInvalidExperienceError(raw string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidExperience,
		Message:  fmt.Sprintf("経験年数が不正です: %q", raw),
		Category: "validation",
		Action:   "経験年数には0以上の数値を入力してください。",
	}
}

// NewOperationInFlightError は同種のセッション操作が実行中であることを示すエラーを生成する。
// 二重ログイン等の競合はこのエラーで直列化される。
func NewOperationInFlightError(kind string) *APIError {
	return &APIError{
		Code:     ErrCodeOperationInFlight,
		Message:  fmt.Sprintf("操作が既に実行中です: %s", kind),
		Category: "auth",
		Action:   "実行中の操作が完了してから再度お試しください。",
	}
}

// NewNotAuthenticatedError は未認証エラーを生成する。
func NewNotAuthenticatedError() *APIError {
	return &APIError{
		Code:     ErrCodeNotAuthenticated,
		Message:  "ログインしていません。",
		Category: "auth",
		Action:   "ログインしてから再度お試しください。",
	}
}

// NewForbiddenRoleError は役割不足エラーを生成する。
func NewForbiddenRoleError(required ...Role) *APIError {
	return &APIError{
		Code:     ErrCodeForbiddenRole,
		Message:  fmt.Sprintf("この操作を行う権限がありません（必要な役割: %v）", required),
		Category: "auth",
		Action:   "権限のあるアカウントでログインし直してください。",
	}
}

// NewRequestFailedError は通信レベルの失敗エラーを生成する。
// サーバーからのレスポンスが得られなかった場合に使用する。
func NewRequestFailedError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeRequestFailed,
		Message:  fmt.Sprintf("サーバーとの通信に失敗しました: %s", reason),
		Category: "api",
		Action:   "通信環境を確認し、しばらく待ってから再度お試しください。",
	}
}

// NewServerError はAPIエラーレスポンスを表すエラーを生成する。
// サーバーのmessageフィールドをそのまま保持し、空の場合はフォールバック文言を使用する。
func NewServerError(statusCode int, serverMessage, fallback string) *APIError {
	msg := serverMessage
	if msg == "" {
		msg = fallback
	}
	return &APIError{
		Code:     ErrCodeAPIError,
		Message:  msg,
		Category: "api",
		Action:   fmt.Sprintf("問題が続く場合は管理者に連絡してください（HTTP %d）。", statusCode),
	}
}

// NewStorageError はローカル保存領域のエラーを生成する。
func NewStorageError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeStorageFailed,
		Message:  fmt.Sprintf("ローカル保存領域の操作に失敗しました: %s", reason),
		Category: "storage",
		Action:   "保存先ディレクトリの権限と空き容量を確認してください。",
	}
}

// NewDownloadBlockedError は履歴書ダウンロード先URLがポリシーで拒否されたことを示すエラーを生成する。
func NewDownloadBlockedError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeDownloadBlocked,
		Message:  fmt.Sprintf("ダウンロード先URLがセキュリティポリシーにより拒否されました: %s", reason),
		Category: "download",
		Action:   "サーバーが返すURLが公開ストレージを指しているか確認してください。",
	}
}
