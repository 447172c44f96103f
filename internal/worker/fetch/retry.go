package fetch

import (
	"fmt"
	"time"

	"github.com/hitoshi/jobboard/internal/model"
)

// FetchResult はHTTPステータスコードに基づくフェッチ結果の分類。
type FetchResult int

const (
	// FetchResultOK はフェッチ成功（200）。
	FetchResultOK FetchResult = iota
	// FetchResultNotModified はコンテンツ未変更（304）。
	FetchResultNotModified
	// FetchResultStop はフェッチ停止が必要なステータス（404/410/401/403）。
	FetchResultStop
	// FetchResultBackoff はバックオフが必要なステータス（429/5xx）。
	FetchResultBackoff
	// FetchResultUnknown は未知のステータスコード。
	FetchResultUnknown
)

const (
	// DefaultInterval は正常時の取り込み間隔。
	DefaultInterval = time.Hour
	// initialBackoff は指数バックオフの初回遅延。
	initialBackoff = 30 * time.Minute
	// maxBackoff は指数バックオフの最大遅延。
	maxBackoff = 12 * time.Hour
	// parseFailureThreshold はパース失敗によるフェッチ停止の閾値。
	parseFailureThreshold = 10
)

// ClassifyHTTPStatus はHTTPステータスコードをフェッチ結果に分類する。
func ClassifyHTTPStatus(statusCode int) FetchResult {
	switch {
	case statusCode == 200:
		return FetchResultOK
	case statusCode == 304:
		return FetchResultNotModified
	case statusCode == 404 || statusCode == 410 || statusCode == 401 || statusCode == 403:
		return FetchResultStop
	case statusCode == 429 || statusCode >= 500:
		return FetchResultBackoff
	default:
		return FetchResultUnknown
	}
}

// CalculateBackoff は連続エラー回数に基づいて指数バックオフ遅延を計算する。
// 初回30分、2倍ずつ増加、最大12時間。
func CalculateBackoff(consecutiveErrors int) time.Duration {
	delay := initialBackoff
	for i := 0; i < consecutiveErrors; i++ {
		delay *= 2
		if delay > maxBackoff {
			return maxBackoff
		}
	}
	return delay
}

// feedState は採用フィードのフェッチ状態を遷移させる。
type feedState struct {
	feed *model.CareersFeed
	now  time.Time
}

// stop はフィードのフェッチを停止する。
func (s feedState) stop(reason string) {
	s.feed.FetchStatus = model.FetchStatusStopped
	s.feed.ErrorMessage = reason
	s.feed.UpdatedAt = s.now
}

// backoff は連続エラー回数を増やし、指数バックオフでnext_fetch_atを設定する。
func (s feedState) backoff(reason string) {
	s.feed.ConsecutiveErrors++
	s.feed.ErrorMessage = reason
	s.feed.NextFetchAt = s.now.Add(CalculateBackoff(s.feed.ConsecutiveErrors - 1))
	s.feed.UpdatedAt = s.now
}

// succeed はエラー状態をリセットし、intervalで次回のフェッチを予約する。
func (s feedState) succeed(interval time.Duration) {
	s.feed.ConsecutiveErrors = 0
	s.feed.ErrorMessage = ""
	s.feed.NextFetchAt = s.now.Add(interval)
	s.feed.UpdatedAt = s.now
}

// parseFailed はパース失敗を記録する。閾値に達した場合はフェッチを停止する。
// 壊れたフィードは時間を置いても直らないことが多いため、次回は通常間隔で再試行する。
func (s feedState) parseFailed(reason string, interval time.Duration) {
	s.feed.ConsecutiveErrors++
	s.feed.ErrorMessage = fmt.Sprintf("パース失敗 (%d回連続): %s", s.feed.ConsecutiveErrors, reason)
	s.feed.NextFetchAt = s.now.Add(interval)
	s.feed.UpdatedAt = s.now

	if s.feed.ConsecutiveErrors >= parseFailureThreshold {
		s.feed.FetchStatus = model.FetchStatusStopped
		s.feed.ErrorMessage = fmt.Sprintf("パース失敗が%d回連続したためフェッチを停止しました: %s", s.feed.ConsecutiveErrors, reason)
	}
}
