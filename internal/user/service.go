// Package user はユーザー管理のドメインロジックを提供する。
package user

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hitoshi/jobboard/internal/model"
	"github.com/hitoshi/jobboard/internal/repository"
)

// EmployerDataDeleter は採用企業が所有するデータの一括削除インターフェース。
// 求人と採用フィードのリポジトリが満たす。
type EmployerDataDeleter interface {
	DeleteByEmployerID(ctx context.Context, employerID string) error
}

// ProfileDeleter はプロフィールの削除インターフェース。
type ProfileDeleter interface {
	DeleteByID(ctx context.Context, id string) error
}

// Service はユーザー管理のサービス層。
// 退会処理のビジネスロジックを提供する。
type Service struct {
	userRepo       repository.UserRepository
	sessionRepo    repository.SessionRepository
	profileDeleter ProfileDeleter
	jobDeleter     EmployerDataDeleter
	feedDeleter    EmployerDataDeleter
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(
	userRepo repository.UserRepository,
	sessionRepo repository.SessionRepository,
	profileDeleter ProfileDeleter,
	jobDeleter EmployerDataDeleter,
	feedDeleter EmployerDataDeleter,
) *Service {
	return &Service{
		userRepo:       userRepo,
		sessionRepo:    sessionRepo,
		profileDeleter: profileDeleter,
		jobDeleter:     jobDeleter,
		feedDeleter:    feedDeleter,
	}
}

// Withdraw はユーザーの退会処理を実行する。
// 削除順序: 求人 → 採用フィード → sessions → profile → user（+ CASCADE: identities）
func (s *Service) Withdraw(ctx context.Context, userID string) error {
	user, err := s.userRepo.FindByID(ctx, userID)
	if err != nil {
		return fmt.Errorf("ユーザーの取得に失敗しました: %w", err)
	}
	if user == nil {
		return model.NewUserNotFoundError()
	}

	slog.Info("退会処理を開始します",
		slog.String("user_id", userID),
	)

	if s.jobDeleter != nil {
		if err := s.jobDeleter.DeleteByEmployerID(ctx, userID); err != nil {
			return fmt.Errorf("求人の削除に失敗しました: %w", err)
		}
	}

	if s.feedDeleter != nil {
		if err := s.feedDeleter.DeleteByEmployerID(ctx, userID); err != nil {
			return fmt.Errorf("採用フィードの削除に失敗しました: %w", err)
		}
	}

	// 以降セッションが無効になるため、同期中のクライアントは次の取得でサインアウトされる
	if s.sessionRepo != nil {
		if err := s.sessionRepo.DeleteByUserID(ctx, userID); err != nil {
			return fmt.Errorf("セッションの削除に失敗しました: %w", err)
		}
	}

	if s.profileDeleter != nil {
		if err := s.profileDeleter.DeleteByID(ctx, userID); err != nil {
			return fmt.Errorf("プロフィールの削除に失敗しました: %w", err)
		}
	}

	if err := s.userRepo.DeleteByID(ctx, userID); err != nil {
		return fmt.Errorf("ユーザーの削除に失敗しました: %w", err)
	}

	slog.Info("退会処理が完了しました",
		slog.String("user_id", userID),
	)

	return nil
}
