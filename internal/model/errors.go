// Package model はドメインモデルを定義する。
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
	Category string // カテゴリ: auth, validation, content, progress, curriculum, system
	Action   string // ユーザー向け対処方法
	Err      error  // 原因エラー（レスポンスには含めない）
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap は原因エラーを返す。
func (e *APIError) Unwrap() error {
	return e.Err
}

// 定義済みエラーコード
const (
	ErrCodeLessonNotFound    = "LESSON_NOT_FOUND"
	ErrCodeSectionNotFound   = "SECTION_NOT_FOUND"
	ErrCodePathNotFound      = "PATH_NOT_FOUND"
	ErrCodeUserNotFound      = "USER_NOT_FOUND"
	ErrCodeConflict          = "CONFLICT"
	ErrCodeTransactionFailed = "TRANSACTION_FAILED"
	ErrCodeInvalidContent    = "INVALID_CONTENT"
	ErrCodeInvalidRequest    = "INVALID_REQUEST"
	ErrCodeUnauthorized      = "UNAUTHORIZED"
	ErrCodeRateLimited       = "RATE_LIMITED"
)

// NewLessonNotFoundError はレッスン未検出エラーを生成する。
func NewLessonNotFoundError(lessonID string) *APIError {
	return &APIError{
		Code:     ErrCodeLessonNotFound,
		Message:  fmt.Sprintf("Lesson not found: %s", lessonID),
		Category: "content",
		Action:   "レッスンIDを確認してください。",
	}
}

// NewSectionNotFoundError はセクション未検出エラーを生成する。
func NewSectionNotFoundError(identifier string) *APIError {
	return &APIError{
		Code:     ErrCodeSectionNotFound,
		Message:  fmt.Sprintf("Section not found: %s", identifier),
		Category: "curriculum",
		Action:   "セクションIDまたはスラッグを確認してください。",
	}
}

// NewPathNotFoundError は学習パス未検出エラーを生成する。
func NewPathNotFoundError(identifier string) *APIError {
	return &APIError{
		Code:     ErrCodePathNotFound,
		Message:  fmt.Sprintf("Path not found: %s", identifier),
		Category: "curriculum",
		Action:   "学習パスIDまたはスラッグを確認してください。",
	}
}

// NewUserNotFoundError はユーザーが見つからない場合のエラーを生成する。
func NewUserNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeUserNotFound,
		Message:  "User not found",
		Category: "auth",
		Action:   "ログインし直してください。",
	}
}

// NewConflictError は一意制約違反などの競合エラーを生成する。
func NewConflictError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeConflict,
		Message:  reason,
		Category: "system",
		Action:   "最新の状態を取得してから再度お試しください。",
	}
}

// NewTransactionFailedError はトランザクション失敗エラーを生成する。
// トランザクションはロールバック済みで、永続化状態は変更されていない。
func NewTransactionFailedError(err error) *APIError {
	return &APIError{
		Code:     ErrCodeTransactionFailed,
		Message:  "コンテンツの更新に失敗しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
		Err:      err,
	}
}

// NewInvalidContentError はコンテンツ入力が不正な場合のエラーを生成する。
func NewInvalidContentError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidContent,
		Message:  fmt.Sprintf("無効なコンテンツです: %s", reason),
		Category: "validation",
		Action:   "content には文字列、または raw と format を持つオブジェクトを指定してください。",
	}
}

// NewInvalidRequestError はリクエスト形式が不正な場合のエラーを生成する。
func NewInvalidRequestError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidRequest,
		Message:  fmt.Sprintf("無効なリクエストです: %s", reason),
		Category: "validation",
		Action:   "リクエスト内容を確認してください。",
	}
}

// NewUnauthorizedError は認証トークンが無い、または無効な場合のエラーを生成する。
func NewUnauthorizedError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthorized,
		Message:  "認証が必要です。",
		Category: "auth",
		Action:   "有効なアクセストークンを Authorization ヘッダーに指定してください。",
	}
}

// NewRateLimitedError はレート制限超過エラーを生成する。
func NewRateLimitedError() *APIError {
	return &APIError{
		Code:     ErrCodeRateLimited,
		Message:  "リクエストが多すぎます。",
		Category: "system",
		Action:   "Retry-After ヘッダーの秒数だけ待ってから再度お試しください。",
	}
}

// IsNotFound はエラーがいずれかの未検出エラーかどうかを判定する。
func IsNotFound(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	switch apiErr.Code {
	case ErrCodeLessonNotFound, ErrCodeSectionNotFound, ErrCodePathNotFound, ErrCodeUserNotFound:
		return true
	}
	return false
}
