package jobfeed

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/jobboard/internal/model"
	"github.com/hitoshi/jobboard/internal/repository"
)

// FeedDetector はフィード検出のインターフェース。
type FeedDetector interface {
	Detect(ctx context.Context, inputURL string) (string, error)
}

// Service は採用フィード登録のサービス層。
// 検出 → 保存の流れを統括し、取り込みはworker/fetchのスケジューラが行う。
type Service struct {
	feedRepo    repository.CareersFeedRepository
	profileRepo repository.ProfileRepository
	detector    FeedDetector
	now         func() time.Time
}

// NewService はServiceを生成する。
func NewService(
	feedRepo repository.CareersFeedRepository,
	profileRepo repository.ProfileRepository,
	detector FeedDetector,
) *Service {
	return &Service{
		feedRepo:    feedRepo,
		profileRepo: profileRepo,
		detector:    detector,
		now:         time.Now,
	}
}

// Register は採用ページまたはフィードのURLから求人フィードを検出して登録する。
// 既に登録済みの場合はURLを置き換え、フェッチ状態を初期化する。
func (s *Service) Register(ctx context.Context, employerID, inputURL string) (*model.CareersFeed, error) {
	if err := s.requireEmployer(ctx, employerID); err != nil {
		return nil, err
	}

	feedURL, err := s.detector.Detect(ctx, inputURL)
	if err != nil {
		return nil, err
	}

	now := s.now()
	feed := &model.CareersFeed{
		EmployerID:  employerID,
		FeedURL:     feedURL,
		FetchStatus: model.FetchStatusActive,
		NextFetchAt: now,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.feedRepo.Upsert(ctx, feed); err != nil {
		return nil, fmt.Errorf("採用フィードの保存に失敗しました: %w", err)
	}

	slog.Info("採用フィードを登録しました",
		slog.String("employer_id", employerID),
		slog.String("input_url", inputURL),
		slog.String("feed_url", feedURL),
	)
	return feed, nil
}

// Get は採用企業のフィードを返す。未登録の場合はnil。
func (s *Service) Get(ctx context.Context, employerID string) (*model.CareersFeed, error) {
	feed, err := s.feedRepo.FindByEmployerID(ctx, employerID)
	if err != nil {
		return nil, fmt.Errorf("採用フィードの取得に失敗しました: %w", err)
	}
	return feed, nil
}

// Remove は採用フィードの登録を解除する。取り込み済みの求人は残す。
func (s *Service) Remove(ctx context.Context, employerID string) error {
	if err := s.requireEmployer(ctx, employerID); err != nil {
		return err
	}
	if err := s.feedRepo.DeleteByEmployerID(ctx, employerID); err != nil {
		return fmt.Errorf("採用フィードの削除に失敗しました: %w", err)
	}
	slog.Info("採用フィードを削除しました", slog.String("employer_id", employerID))
	return nil
}

func (s *Service) requireEmployer(ctx context.Context, userID string) error {
	p, err := s.profileRepo.FindByID(ctx, userID)
	if err != nil {
		return fmt.Errorf("プロフィールの取得に失敗しました: %w", err)
	}
	if p == nil {
		return model.NewProfileNotFoundError()
	}
	if p.UserType != model.UserTypeEmployer {
		return model.NewEmployerOnlyError()
	}
	return nil
}
