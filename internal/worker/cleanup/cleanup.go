// Package cleanup は期限切れデータの自動削除ジョブを提供する。
// 期限切れのセッションと、保持期間（デフォルト180日）を超過した求人を
// 日次バッチで削除する。
package cleanup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// SessionPurger は期限切れセッションを削除する。
type SessionPurger interface {
	DeleteExpired(ctx context.Context) (int64, error)
}

// PostingPurger は公開日時がcutoffより前の求人を削除する。
type PostingPurger interface {
	DeletePublishedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// CleanupJob は期限切れデータの自動削除ジョブ。
// 日次実行のバッチジョブとして設計されており、冪等な削除処理を保証する。
type CleanupJob struct {
	sessions      SessionPurger
	postings      PostingPurger
	logger        *slog.Logger
	RetentionDays int // 求人の保持日数（デフォルト: 180）
	now           func() time.Time
}

// NewCleanupJob は新しいCleanupJobを生成する。
// デフォルトの保持日数は180日。
func NewCleanupJob(sessions SessionPurger, postings PostingPurger, logger *slog.Logger) *CleanupJob {
	return &CleanupJob{
		sessions:      sessions,
		postings:      postings,
		logger:        logger,
		RetentionDays: 180,
		now:           time.Now,
	}
}

// Run は期限切れセッションと保持期間を超過した求人を削除する。
// 片方が失敗してももう片方は実行し、両方のエラーをまとめて返す。
// 冪等: 削除対象がない場合でもエラーにならない。
func (j *CleanupJob) Run(ctx context.Context) error {
	start := time.Now()

	sessionCount, sessionErr := j.sessions.DeleteExpired(ctx)
	if sessionErr != nil {
		j.logger.Error("期限切れセッションの削除に失敗しました",
			slog.String("error", sessionErr.Error()),
		)
		sessionErr = fmt.Errorf("セッションクリーンアップの実行に失敗: %w", sessionErr)
	}

	cutoff := j.now().AddDate(0, 0, -j.RetentionDays)
	postingCount, postingErr := j.postings.DeletePublishedBefore(ctx, cutoff)
	if postingErr != nil {
		j.logger.Error("求人クリーンアップジョブの実行に失敗しました",
			slog.String("error", postingErr.Error()),
			slog.Int("retention_days", j.RetentionDays),
		)
		postingErr = fmt.Errorf("求人クリーンアップの実行に失敗: %w", postingErr)
	}

	if err := errors.Join(sessionErr, postingErr); err != nil {
		return err
	}

	j.logger.Info("クリーンアップジョブが完了しました",
		slog.Int64("deleted_sessions", sessionCount),
		slog.Int64("deleted_count", postingCount),
		slog.Int("retention_days", j.RetentionDays),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)

	return nil
}

// Start はinterval間隔でRunを実行する。コンテキストがキャンセルされるまで継続する。
func (j *CleanupJob) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			// エラーはRun内でログ出力済み
			_ = j.Run(ctx)
		}
	}
}
