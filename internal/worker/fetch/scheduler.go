// Package fetch は採用フィードのバックグラウンド取り込み処理を提供する。
// スケジューラ、フェッチャー、リトライ/バックオフ戦略を含む。
package fetch

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/hitoshi/jobboard/internal/model"
	"github.com/hitoshi/jobboard/internal/repository"
)

// FeedFetcherService は採用フィード取り込みの実行インターフェース。
type FeedFetcherService interface {
	// Fetch は指定フィードを取り込み、結果に応じてフィード状態を更新する。
	Fetch(ctx context.Context, feed *model.CareersFeed) error
}

// Scheduler は採用フィード取り込みのスケジューリングと並列制御を行う。
// ティッカーで取り込み対象フィードを取得し、
// semaphoreパターンで最大並列数を制御しながら取り込みを実行する。
type Scheduler struct {
	feedRepo       repository.CareersFeedRepository
	fetcher        FeedFetcherService
	logger         *slog.Logger
	maxConcurrency int
}

// NewScheduler はSchedulerの新しいインスタンスを生成する。
// maxConcurrencyが0以下の場合はデフォルト値10を使用する。
func NewScheduler(
	feedRepo repository.CareersFeedRepository,
	fetcher FeedFetcherService,
	logger *slog.Logger,
	maxConcurrency int,
) *Scheduler {
	if maxConcurrency <= 0 {
		maxConcurrency = 10
	}
	return &Scheduler{
		feedRepo:       feedRepo,
		fetcher:        fetcher,
		logger:         logger,
		maxConcurrency: maxConcurrency,
	}
}

// Start はinterval間隔でスケジューラを起動する。
// コンテキストがキャンセルされるまで実行を継続する。
func (s *Scheduler) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Info("採用フィードのスケジューラを開始しました",
		slog.Duration("interval", interval),
		slog.Int("max_concurrency", s.maxConcurrency),
	)

	s.runLogged(ctx)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("採用フィードのスケジューラを停止しました")
			return
		case <-ticker.C:
			s.runLogged(ctx)
		}
	}
}

func (s *Scheduler) runLogged(ctx context.Context) {
	if err := s.RunOnce(ctx); err != nil {
		s.logger.Error("取り込みサイクルの実行に失敗しました",
			slog.String("error", err.Error()),
		)
	}
}

// RunOnce は取り込み対象フィードを1回取得し、並列で取り込みを実行する。
func (s *Scheduler) RunOnce(ctx context.Context) error {
	start := time.Now()

	feeds, err := s.feedRepo.ListDueForFetch(ctx)
	if err != nil {
		return err
	}

	if len(feeds) == 0 {
		s.logger.Debug("取り込み対象の採用フィードはありません")
		return nil
	}

	s.logger.Info("取り込みサイクルを開始します",
		slog.Int("feed_count", len(feeds)),
	)

	sem := make(chan struct{}, s.maxConcurrency)
	var wg sync.WaitGroup

	for _, feed := range feeds {
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			wg.Wait()
			return ctx.Err()
		}
		wg.Add(1)

		go func(f *model.CareersFeed) {
			defer wg.Done()
			defer func() { <-sem }()

			if err := s.fetcher.Fetch(ctx, f); err != nil {
				s.logger.Error("採用フィードの取り込みに失敗しました",
					slog.String("employer_id", f.EmployerID),
					slog.String("feed_url", f.FeedURL),
					slog.String("error", err.Error()),
				)
			}
		}(feed)
	}

	wg.Wait()

	s.logger.Info("取り込みサイクルが完了しました",
		slog.Int("feed_count", len(feeds)),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)

	return nil
}
