// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"time"

	"github.com/hitoshi/jobboard/internal/model"
)

// UserRepository はユーザーデータの永続化インターフェース。
type UserRepository interface {
	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.User, error)

	// CreateWithProfile はユーザー、identity、初期プロフィールを同一トランザクションで作成する。
	CreateWithProfile(ctx context.Context, user *model.User, identity *model.Identity, profile *model.Profile) error

	// DeleteByID は指定IDのユーザーを削除する。
	// 関連するidentities、profiles、careers_feedsはCASCADE削除される。
	DeleteByID(ctx context.Context, id string) error
}

// IdentityRepository は外部IdP紐付け情報の永続化インターフェース。
type IdentityRepository interface {
	// FindByProviderAndProviderUserID はproviderとprovider_user_idでidentityを検索する。
	// 見つからない場合はnilを返す。
	FindByProviderAndProviderUserID(ctx context.Context, provider, providerUserID string) (*model.Identity, error)
}

// SessionRepository はセッションデータの永続化インターフェース。
type SessionRepository interface {
	// Create はセッションを作成する。
	Create(ctx context.Context, session *model.Session) error
	// FindByID は指定IDのセッションを取得する。期限切れの場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Session, error)
	// Extend は有効なセッションの有効期限を延長する。
	// 期限切れまたは存在しない場合はnilを返す。
	Extend(ctx context.Context, id string, expiresAt time.Time) (*model.Session, error)
	// DeleteByID は指定IDのセッションを削除する。
	DeleteByID(ctx context.Context, id string) error
	// DeleteByUserID は指定ユーザーの全セッションを削除する。
	DeleteByUserID(ctx context.Context, userID string) error
	// DeleteExpired は期限切れセッションを削除し、削除件数を返す。
	DeleteExpired(ctx context.Context) (int64, error)
}

// ProfileRepository はプロフィールの永続化インターフェース。
type ProfileRepository interface {
	// FindByID は指定ユーザーのプロフィールを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Profile, error)
	// Update はプロフィールの編集可能フィールドを上書きする。
	Update(ctx context.Context, profile *model.Profile) error
	// DeleteByID は指定ユーザーのプロフィールを削除する。
	DeleteByID(ctx context.Context, id string) error
}

// JobRepository は求人データの永続化インターフェース。
type JobRepository interface {
	// FindByID は指定IDの求人を取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.JobPosting, error)
	// List は条件に合う求人をpublished_at降順で返す。
	List(ctx context.Context, filter model.JobFilter) ([]*model.JobPosting, error)
	// Create は求人を作成する。
	Create(ctx context.Context, job *model.JobPosting) error
	// UpsertByGUID は(employer_id, source_guid)をキーに求人を作成または上書きする。
	// 新規作成した場合はtrueを返す。
	UpsertByGUID(ctx context.Context, job *model.JobPosting) (bool, error)
	// Delete は指定IDの求人を削除する。
	Delete(ctx context.Context, id string) error
	// DeleteByEmployerID は採用企業の全求人を削除する。
	DeleteByEmployerID(ctx context.Context, employerID string) error
	// DeletePublishedBefore はcutoffより前に公開された求人を削除し、削除件数を返す。
	DeletePublishedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// CareersFeedRepository は採用フィードの永続化インターフェース。
type CareersFeedRepository interface {
	// FindByEmployerID は採用企業のフィードを取得する。見つからない場合はnilを返す。
	FindByEmployerID(ctx context.Context, employerID string) (*model.CareersFeed, error)
	// Upsert はフィードURLを登録し、フェッチ状態を初期化する。
	Upsert(ctx context.Context, feed *model.CareersFeed) error
	// ListDueForFetch はnext_fetch_at <= now() かつ fetch_status = 'active' のフィードを
	// FOR UPDATE SKIP LOCKEDで排他的に取得する。
	ListDueForFetch(ctx context.Context) ([]*model.CareersFeed, error)
	// UpdateFetchState はフィードのフェッチ状態を更新する。
	UpdateFetchState(ctx context.Context, feed *model.CareersFeed) error
	// DeleteByEmployerID は採用企業のフィードを削除する。
	DeleteByEmployerID(ctx context.Context, employerID string) error
}
