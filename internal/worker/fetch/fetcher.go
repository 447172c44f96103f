package fetch

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mmcdole/gofeed"

	"github.com/hitoshi/jobboard/internal/metrics"
	"github.com/hitoshi/jobboard/internal/model"
	"github.com/hitoshi/jobboard/internal/repository"
	"github.com/hitoshi/jobboard/internal/security"
)

const (
	userAgent = "JobBoard/1.0 (+careers feed import)"
	// maxTitleRunes、maxLocationRunesは取り込む求人のタイトル・勤務地の上限。
	maxTitleRunes    = 200
	maxLocationRunes = 200
)

// Fetcher は採用フィードのHTTPフェッチとパースを行い、求人を取り込む。
// ETag/Last-Modifiedによる条件付きGET、SSRF対策済みクライアント、
// gofeedによるパース、本文のサニタイズ、GUIDによるUPSERTを実行する。
type Fetcher struct {
	feedRepo    repository.CareersFeedRepository
	jobRepo     repository.JobRepository
	guard       security.URLGuard
	sanitizer   security.Sanitizer
	metrics     metrics.FeedMetrics
	logger      *slog.Logger
	timeout     time.Duration
	maxBodySize int64
	interval    time.Duration
	now         func() time.Time
}

// FetcherConfig はFetcherの設定。
type FetcherConfig struct {
	Timeout     time.Duration
	MaxBodySize int64
	// Interval は正常時の次回取り込みまでの間隔。0の場合はDefaultInterval。
	Interval time.Duration
}

// NewFetcher はFetcherの新しいインスタンスを生成する。
func NewFetcher(
	feedRepo repository.CareersFeedRepository,
	jobRepo repository.JobRepository,
	guard security.URLGuard,
	sanitizer security.Sanitizer,
	recorder metrics.FeedMetrics,
	logger *slog.Logger,
	config FetcherConfig,
) *Fetcher {
	if config.Interval <= 0 {
		config.Interval = DefaultInterval
	}
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}
	if config.MaxBodySize <= 0 {
		config.MaxBodySize = 5 << 20
	}
	return &Fetcher{
		feedRepo:    feedRepo,
		jobRepo:     jobRepo,
		guard:       guard,
		sanitizer:   sanitizer,
		metrics:     recorder,
		logger:      logger,
		timeout:     config.Timeout,
		maxBodySize: config.MaxBodySize,
		interval:    config.Interval,
		now:         time.Now,
	}
}

// Fetch は採用フィードを取り込み、結果に応じてフィード状態を更新する。
func (f *Fetcher) Fetch(ctx context.Context, feed *model.CareersFeed) error {
	start := time.Now()
	log := f.logger.With(
		slog.String("employer_id", feed.EmployerID),
		slog.String("feed_url", feed.FeedURL),
	)

	if err := f.guard.ValidateURL(feed.FeedURL); err != nil {
		log.Error("SSRF検証に失敗しました", slog.String("error", err.Error()))
		f.metrics.RecordFeedFetchFailure(feed.EmployerID, "ssrf")
		f.state(feed).stop(fmt.Sprintf("SSRF検証失敗: %s", err.Error()))
		f.saveState(ctx, log, feed)
		return fmt.Errorf("SSRF検証に失敗: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, feed.FeedURL, nil)
	if err != nil {
		return fmt.Errorf("リクエスト作成に失敗: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/rss+xml, application/atom+xml, application/xml, text/xml, */*")
	if feed.ETag != "" {
		req.Header.Set("If-None-Match", feed.ETag)
	}
	if feed.LastModified != "" {
		req.Header.Set("If-Modified-Since", feed.LastModified)
	}

	resp, err := f.guard.NewSafeClient(f.timeout).Do(req)
	f.metrics.RecordFeedFetchLatency(time.Since(start))
	if err != nil {
		log.Error("HTTPリクエストに失敗しました", slog.String("error", err.Error()))
		f.metrics.RecordFeedFetchFailure(feed.EmployerID, "transport")
		f.state(feed).backoff(fmt.Sprintf("HTTPリクエスト失敗: %s", err.Error()))
		f.saveState(ctx, log, feed)
		return fmt.Errorf("HTTPリクエスト失敗: %w", err)
	}
	defer resp.Body.Close()

	f.metrics.RecordFeedHTTPStatus(resp.StatusCode)

	switch ClassifyHTTPStatus(resp.StatusCode) {
	case FetchResultOK:
	case FetchResultNotModified:
		log.Info("フィードは未変更です（304）", slog.Int("http_status", resp.StatusCode))
		f.metrics.RecordFeedFetchSuccess(feed.EmployerID)
		f.state(feed).succeed(f.interval)
		return f.feedRepo.UpdateFetchState(ctx, feed)
	case FetchResultStop:
		reason := fmt.Sprintf("HTTPステータス %d によりフェッチを停止しました", resp.StatusCode)
		log.Warn("フィードフェッチを停止します", slog.Int("http_status", resp.StatusCode))
		f.metrics.RecordFeedFetchFailure(feed.EmployerID, "stopped")
		f.state(feed).stop(reason)
		return f.feedRepo.UpdateFetchState(ctx, feed)
	default:
		log.Warn("フィードフェッチにバックオフを適用します",
			slog.Int("http_status", resp.StatusCode),
			slog.Int("consecutive_errors", feed.ConsecutiveErrors+1),
		)
		f.metrics.RecordFeedFetchFailure(feed.EmployerID, "http_status")
		f.state(feed).backoff(fmt.Sprintf("HTTPステータス %d によりバックオフを適用しました", resp.StatusCode))
		return f.feedRepo.UpdateFetchState(ctx, feed)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBodySize))
	if err != nil {
		log.Error("レスポンスボディの読み取りに失敗しました", slog.String("error", err.Error()))
		f.metrics.RecordFeedFetchFailure(feed.EmployerID, "read")
		f.state(feed).backoff(fmt.Sprintf("レスポンス読み取り失敗: %s", err.Error()))
		return f.feedRepo.UpdateFetchState(ctx, feed)
	}

	if etag := resp.Header.Get("ETag"); etag != "" {
		feed.ETag = etag
	}
	if lastMod := resp.Header.Get("Last-Modified"); lastMod != "" {
		feed.LastModified = lastMod
	}

	parsed, err := gofeed.NewParser().Parse(bytes.NewReader(body))
	if err != nil {
		log.Error("フィードのパースに失敗しました", slog.String("error", err.Error()))
		f.metrics.RecordFeedParseFailure(feed.EmployerID)
		f.state(feed).parseFailed(err.Error(), f.interval)
		f.saveState(ctx, log, feed)
		// パース失敗はカウントして継続する
		return nil
	}

	postings := convertGofeedItems(parsed.Items)
	inserted, updated, err := f.upsertPostings(ctx, feed.EmployerID, postings)
	if err != nil {
		log.Error("求人のUPSERTに失敗しました", slog.String("error", err.Error()))
		f.metrics.RecordFeedFetchFailure(feed.EmployerID, "upsert")
		f.state(feed).backoff(fmt.Sprintf("求人UPSERT失敗: %s", err.Error()))
		f.saveState(ctx, log, feed)
		return nil
	}

	f.metrics.RecordFeedFetchSuccess(feed.EmployerID)
	f.metrics.RecordPostingsUpserted(inserted + updated)
	f.state(feed).succeed(f.interval)
	if err := f.feedRepo.UpdateFetchState(ctx, feed); err != nil {
		log.Error("フィード状態の更新に失敗しました", slog.String("error", err.Error()))
		return err
	}

	log.Info("採用フィードの取り込みが完了しました",
		slog.Int("http_status", resp.StatusCode),
		slog.Int("postings_inserted", inserted),
		slog.Int("postings_updated", updated),
		slog.Int("postings_total", len(postings)),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)
	return nil
}

// upsertPostings は解析済みの求人をサニタイズしてGUIDでUPSERTする。
func (f *Fetcher) upsertPostings(ctx context.Context, employerID string, postings []model.ParsedPosting) (inserted, updated int, err error) {
	now := f.now()
	for _, p := range postings {
		title := f.sanitizer.SanitizeText(p.Title, maxTitleRunes)
		if title == "" {
			continue
		}
		link := strings.TrimSpace(p.Link)
		if link != "" && f.guard.ValidateURL(link) != nil {
			link = ""
		}
		publishedAt := now
		if p.PublishedAt != nil {
			publishedAt = *p.PublishedAt
		}

		job := &model.JobPosting{
			ID:          uuid.New().String(),
			EmployerID:  employerID,
			Title:       title,
			Description: f.sanitizer.SanitizeHTML(p.Description),
			Location:    f.sanitizer.SanitizeText(p.Location, maxLocationRunes),
			Source:      model.JobSourceFeed,
			SourceGUID:  p.GUID,
			URL:         link,
			PublishedAt: publishedAt,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		created, err := f.jobRepo.UpsertByGUID(ctx, job)
		if err != nil {
			return inserted, updated, err
		}
		if created {
			inserted++
		} else {
			updated++
		}
	}
	return inserted, updated, nil
}

func (f *Fetcher) state(feed *model.CareersFeed) feedState {
	return feedState{feed: feed, now: f.now()}
}

func (f *Fetcher) saveState(ctx context.Context, log *slog.Logger, feed *model.CareersFeed) {
	if err := f.feedRepo.UpdateFetchState(ctx, feed); err != nil {
		log.Error("フィード状態の更新に失敗しました", slog.String("error", err.Error()))
	}
}

// convertGofeedItems はgofeedの記事をmodel.ParsedPostingに変換する。
// GUIDもリンクも無い記事は同一性を判定できないため除外する。
func convertGofeedItems(items []*gofeed.Item) []model.ParsedPosting {
	postings := make([]model.ParsedPosting, 0, len(items))

	for _, item := range items {
		if item == nil {
			continue
		}

		p := model.ParsedPosting{
			GUID:        strings.TrimSpace(item.GUID),
			Title:       item.Title,
			Link:        item.Link,
			Description: item.Content,
		}
		if p.Description == "" {
			p.Description = item.Description
		}
		if p.GUID == "" {
			p.GUID = strings.TrimSpace(item.Link)
		}
		if p.GUID == "" {
			continue
		}
		if p.Link == "" && (strings.HasPrefix(p.GUID, "http://") || strings.HasPrefix(p.GUID, "https://")) {
			p.Link = p.GUID
		}

		// <job:location>拡張要素、無ければ"location:"で始まるカテゴリ
		if ext := item.Extensions["job"]["location"]; len(ext) > 0 {
			p.Location = ext[0].Value
		} else {
			for _, c := range item.Categories {
				if loc, ok := strings.CutPrefix(c, "location:"); ok {
					p.Location = strings.TrimSpace(loc)
					break
				}
			}
		}

		if item.PublishedParsed != nil {
			t := *item.PublishedParsed
			p.PublishedAt = &t
		} else if item.UpdatedParsed != nil {
			t := *item.UpdatedParsed
			p.PublishedAt = &t
		}

		postings = append(postings, p)
	}

	return postings
}
