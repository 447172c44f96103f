package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/jobboard/internal/model"
)

const careersFeedColumns = `employer_id, feed_url, etag, last_modified, fetch_status,
	consecutive_errors, error_message, next_fetch_at, created_at, updated_at`

// PostgresCareersFeedRepo はPostgreSQLを使用した採用フィードリポジトリ。
type PostgresCareersFeedRepo struct {
	db *sql.DB
}

// NewPostgresCareersFeedRepo はPostgresCareersFeedRepoを生成する。
func NewPostgresCareersFeedRepo(db *sql.DB) *PostgresCareersFeedRepo {
	return &PostgresCareersFeedRepo{db: db}
}

func scanCareersFeed(s rowScanner) (*model.CareersFeed, error) {
	f := &model.CareersFeed{}
	var status string
	if err := s.Scan(
		&f.EmployerID, &f.FeedURL, &f.ETag, &f.LastModified, &status,
		&f.ConsecutiveErrors, &f.ErrorMessage, &f.NextFetchAt, &f.CreatedAt, &f.UpdatedAt,
	); err != nil {
		return nil, err
	}
	f.FetchStatus = model.FetchStatus(status)
	return f, nil
}

// FindByEmployerID は採用企業のフィードを取得する。見つからない場合はnilを返す。
func (r *PostgresCareersFeedRepo) FindByEmployerID(ctx context.Context, employerID string) (*model.CareersFeed, error) {
	f, err := scanCareersFeed(r.db.QueryRowContext(ctx,
		`SELECT `+careersFeedColumns+` FROM careers_feeds WHERE employer_id = $1`,
		employerID,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("採用フィードの取得に失敗しました: %w", err)
	}
	return f, nil
}

// Upsert はフィードURLを登録する。
// URLを差し替えた場合はETag等のキャッシュ情報とエラー状態をリセットする。
func (r *PostgresCareersFeedRepo) Upsert(ctx context.Context, f *model.CareersFeed) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO careers_feeds (`+careersFeedColumns+`)
		 VALUES ($1, $2, '', '', $3, 0, '', $4, $5, $6)
		 ON CONFLICT (employer_id) DO UPDATE SET
		    feed_url = EXCLUDED.feed_url,
		    etag = '', last_modified = '',
		    fetch_status = EXCLUDED.fetch_status,
		    consecutive_errors = 0, error_message = '',
		    next_fetch_at = EXCLUDED.next_fetch_at,
		    updated_at = EXCLUDED.updated_at`,
		f.EmployerID, f.FeedURL, string(f.FetchStatus), f.NextFetchAt, f.CreatedAt, f.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("採用フィードの登録に失敗しました: %w", err)
	}
	return nil
}

// ListDueForFetch はnext_fetch_at <= now() かつ fetch_status = 'active' のフィードを
// FOR UPDATE SKIP LOCKEDで排他的に取得する。
func (r *PostgresCareersFeedRepo) ListDueForFetch(ctx context.Context) ([]*model.CareersFeed, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+careersFeedColumns+`
		 FROM careers_feeds
		 WHERE next_fetch_at <= now()
		   AND fetch_status = 'active'
		 ORDER BY next_fetch_at ASC
		 FOR UPDATE SKIP LOCKED`,
	)
	if err != nil {
		return nil, fmt.Errorf("フェッチ対象の採用フィード取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var feeds []*model.CareersFeed
	for rows.Next() {
		f, err := scanCareersFeed(rows)
		if err != nil {
			return nil, fmt.Errorf("採用フィードの読み取りに失敗しました: %w", err)
		}
		feeds = append(feeds, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("採用フィードの走査に失敗しました: %w", err)
	}
	return feeds, nil
}

// UpdateFetchState はフィードのフェッチ状態を更新する。
func (r *PostgresCareersFeedRepo) UpdateFetchState(ctx context.Context, f *model.CareersFeed) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE careers_feeds SET
		    fetch_status = $2,
		    consecutive_errors = $3,
		    error_message = $4,
		    next_fetch_at = $5,
		    etag = $6,
		    last_modified = $7,
		    updated_at = now()
		 WHERE employer_id = $1`,
		f.EmployerID,
		string(f.FetchStatus),
		f.ConsecutiveErrors,
		f.ErrorMessage,
		f.NextFetchAt,
		f.ETag,
		f.LastModified,
	)
	if err != nil {
		return fmt.Errorf("フェッチ状態の更新に失敗しました: %w", err)
	}
	return nil
}

// DeleteByEmployerID は採用企業のフィードを削除する。
func (r *PostgresCareersFeedRepo) DeleteByEmployerID(ctx context.Context, employerID string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM careers_feeds WHERE employer_id = $1`, employerID); err != nil {
		return fmt.Errorf("採用フィードの削除に失敗しました: %w", err)
	}
	return nil
}

var _ CareersFeedRepository = (*PostgresCareersFeedRepo)(nil)
