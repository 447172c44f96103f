// Package sessionsync はIdPのセッションイベントとプロフィールの読み取りモデルを同期する。
//
// Synchronizerはイベントとコマンドを1本のチャネルで受け取り、単一のゴルーチンで
// 到着順に処理する。各メッセージは付随するプロフィール取得を含めて完了してから
// 次のメッセージに進むため、SIGNED_INの直後にSIGNED_OUTが届いた場合も最終状態は
// 後着のイベントを反映する。
package sessionsync

import (
	"context"
	"fmt"

	"github.com/hitoshi/jobboard/internal/model"
)

// EventType はIdPから届く認証イベントの種別。
type EventType string

const (
	EventSignedIn       EventType = "SIGNED_IN"
	EventSignedOut      EventType = "SIGNED_OUT"
	EventTokenRefreshed EventType = "TOKEN_REFRESHED"
	EventUserUpdated    EventType = "USER_UPDATED"
)

// Event はIdPから届く{event, session}の組。SIGNED_OUTではSessionはnil。
type Event struct {
	Type    EventType
	Session *model.Session
}

// ErrorKind はUIに提示するエラーの分類。
type ErrorKind string

const (
	KindSessionLoad     ErrorKind = "SessionLoadError"
	KindProfileLoad     ErrorKind = "ProfileLoadError"
	KindProfileNotFound ErrorKind = "ProfileNotFound"
	KindAuth            ErrorKind = "AuthError"
	KindUpdate          ErrorKind = "UpdateError"
)

// SyncError はUIに表示するエラー。
type SyncError struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *SyncError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *SyncError) Unwrap() error {
	return e.Err
}

// Fatal はセッションの継続が不可能なエラーかを返す。AuthErrorのみtrue。
func (e *SyncError) Fatal() bool {
	return e.Kind == KindAuth
}

// State はUIが観測する同期状態のスナップショット。
// IsAuthenticatedは常にSession != nilと一致する。
type State struct {
	Session         *model.Session
	Profile         *model.Profile
	Loading         bool
	Error           *SyncError
	IsAuthenticated bool
}

// clone はポインタ先も含めてコピーする。
func (s State) clone() State {
	if s.Session != nil {
		sess := *s.Session
		s.Session = &sess
	}
	if s.Profile != nil {
		p := *s.Profile
		p.Skills = append([]string(nil), p.Skills...)
		s.Profile = &p
	}
	if s.Error != nil {
		e := *s.Error
		s.Error = &e
	}
	return s
}

// Navigation はプロフィール読み込み後にUIが遷移すべき先。
type Navigation struct {
	Path string
}

// SessionSource はIdPのセッション操作。
type SessionSource interface {
	// CurrentSession は現在有効なセッションを返す。無ければnil。
	CurrentSession(ctx context.Context) (*model.Session, error)
	// SignOut はIdP側のセッションを終了する。
	SignOut(ctx context.Context, session *model.Session) error
}

// ProfileSource はプロフィールの読み書き。
// セッションが無効な場合はmodel.ErrUnauthorizedを返す。
type ProfileSource interface {
	// GetProfile はセッションのユーザーのプロフィールを返す。レコードが無ければnil。
	GetProfile(ctx context.Context, session *model.Session) (*model.Profile, error)
	UpdateProfile(ctx context.Context, session *model.Session, update model.ProfileUpdate) error
}
