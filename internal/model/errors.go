// Package model はドメインモデルを定義する。
package model

import (
	"errors"
	"fmt"
)

// ErrUnauthorized はセッションが失効・無効であることを示す。
// プロフィール取得時にこのエラーが返った場合、セッションは強制的に破棄される。
var ErrUnauthorized = errors.New("unauthorized: session expired or invalid")

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, job, currency, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeInvalidURL      = "INVALID_URL"
	ErrCodeSSRFBlocked     = "SSRF_BLOCKED"
	ErrCodeFeedNotDetected = "FEED_NOT_DETECTED"
	ErrCodeFetchFailed     = "FETCH_FAILED"
	ErrCodeUserNotFound    = "USER_NOT_FOUND"
	ErrCodeProfileNotFound = "PROFILE_NOT_FOUND"
	ErrCodeInvalidProfile  = "INVALID_PROFILE"
	ErrCodeJobNotFound     = "JOB_NOT_FOUND"
	ErrCodeInvalidJob      = "INVALID_JOB"
	ErrCodeEmployerOnly    = "EMPLOYER_ONLY"
	ErrCodeInvalidCurrency = "INVALID_CURRENCY"
	ErrCodeRateUnavailable = "RATE_UNAVAILABLE"
	ErrCodeInvalidAmount   = "INVALID_AMOUNT"
	ErrCodeFeedNotFound    = "FEED_NOT_FOUND"
	ErrCodeShuttingDown    = "SHUTTING_DOWN"
)

// NewInvalidURLError は無効なURLエラーを生成する。
func NewInvalidURLError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidURL,
		Message:  fmt.Sprintf("無効なURLです: %s", reason),
		Category: "validation",
		Action:   "正しいURL形式（http:// または https:// で始まるURL）を入力してください。",
	}
}

// NewSSRFBlockedError はSSRFブロックエラーを生成する。
func NewSSRFBlockedError() *APIError {
	return &APIError{
		Code:     ErrCodeSSRFBlocked,
		Message:  "セキュリティポリシーにより、指定されたURLへのアクセスがブロックされました。",
		Category: "validation",
		Action:   "公開されているWebサイトのURLを入力してください。ローカルネットワークやプライベートIPへのアクセスは許可されていません。",
	}
}

// NewFeedNotDetectedError は採用フィード未検出エラーを生成する。
func NewFeedNotDetectedError(url string) *APIError {
	return &APIError{
		Code:     ErrCodeFeedNotDetected,
		Message:  fmt.Sprintf("指定されたURLから求人のRSS/Atomフィードを検出できませんでした: %s", url),
		Category: "job",
		Action:   "フィードのURLを直接入力するか、採用ページのURLを確認してください。",
	}
}

// NewFetchFailedError はフェッチ失敗エラーを生成する。
func NewFetchFailedError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeFetchFailed,
		Message:  fmt.Sprintf("URLの取得に失敗しました: %s", reason),
		Category: "job",
		Action:   "URLが正しいか確認し、しばらく待ってから再度お試しください。",
	}
}

// NewUserNotFoundError はユーザーが見つからない場合のエラーを生成する。
func NewUserNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeUserNotFound,
		Message:  "ユーザーが見つかりません。",
		Category: "auth",
		Action:   "ログインし直してください。",
	}
}

// NewProfileNotFoundError はプロフィールが見つからない場合のエラーを生成する。
func NewProfileNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeProfileNotFound,
		Message:  "プロフィールが見つかりません。",
		Category: "auth",
		Action:   "ログインし直すか、登録をやり直してください。",
	}
}

// NewInvalidProfileError はプロフィール入力値が不正な場合のエラーを生成する。
func NewInvalidProfileError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidProfile,
		Message:  fmt.Sprintf("プロフィールの入力内容が不正です: %s", reason),
		Category: "validation",
		Action:   "入力内容を確認してください。",
	}
}

// NewJobNotFoundError は求人未検出エラーを生成する。
func NewJobNotFoundError(jobID string) *APIError {
	return &APIError{
		Code:     ErrCodeJobNotFound,
		Message:  fmt.Sprintf("指定された求人が見つかりません: %s", jobID),
		Category: "job",
		Action:   "求人IDを確認してください。",
	}
}

// NewInvalidJobError は求人入力値が不正な場合のエラーを生成する。
func NewInvalidJobError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidJob,
		Message:  fmt.Sprintf("求人の入力内容が不正です: %s", reason),
		Category: "validation",
		Action:   "入力内容を確認してください。",
	}
}

// NewEmployerOnlyError は採用企業以外が企業向け操作を行った場合のエラーを生成する。
func NewEmployerOnlyError() *APIError {
	return &APIError{
		Code:     ErrCodeEmployerOnly,
		Message:  "この操作は採用企業アカウントのみ実行できます。",
		Category: "auth",
		Action:   "採用企業アカウントでログインしてください。",
	}
}

// NewInvalidCurrencyError は通貨コードが不正な場合のエラーを生成する。
func NewInvalidCurrencyError(code string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidCurrency,
		Message:  fmt.Sprintf("無効な通貨コードです: %s", code),
		Category: "validation",
		Action:   "USD、EUR のような3文字の通貨コードを指定してください。",
	}
}

// NewRateUnavailableError は換算レートが取得できない場合のエラーを生成する。
func NewRateUnavailableError(from, to string) *APIError {
	return &APIError{
		Code:     ErrCodeRateUnavailable,
		Message:  fmt.Sprintf("%s から %s への換算レートを取得できません。", from, to),
		Category: "currency",
		Action:   "別の通貨を指定してください。",
	}
}

// NewInvalidAmountError は金額が不正な場合のエラーを生成する。
func NewInvalidAmountError(raw string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidAmount,
		Message:  fmt.Sprintf("無効な金額です: %s", raw),
		Category: "validation",
		Action:   "数値で金額を指定してください。",
	}
}

// NewFeedNotFoundError は採用フィードが未登録の場合のエラーを生成する。
func NewFeedNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeFeedNotFound,
		Message:  "採用フィードが登録されていません。",
		Category: "job",
		Action:   "採用ページまたはフィードのURLを登録してください。",
	}
}
