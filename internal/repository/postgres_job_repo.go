package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/hitoshi/jobboard/internal/model"
)

const (
	defaultJobListLimit = 50
	maxJobListLimit     = 200
)

// jobColumns はjob_postingsのSELECT対象カラム。scanJobの順序と一致させること。
const jobColumns = `id, employer_id, title, description, location,
	salary_min, salary_max, salary_currency, source, source_guid,
	url, published_at, created_at, updated_at`

// PostgresJobRepo はPostgreSQLを使用した求人リポジトリ。
type PostgresJobRepo struct {
	db *sql.DB
}

// NewPostgresJobRepo はPostgresJobRepoを生成する。
func NewPostgresJobRepo(db *sql.DB) *PostgresJobRepo {
	return &PostgresJobRepo{db: db}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(s rowScanner) (*model.JobPosting, error) {
	j := &model.JobPosting{}
	var source string
	var guid sql.NullString
	if err := s.Scan(
		&j.ID, &j.EmployerID, &j.Title, &j.Description, &j.Location,
		&j.SalaryMin, &j.SalaryMax, &j.SalaryCurrency, &source, &guid,
		&j.URL, &j.PublishedAt, &j.CreatedAt, &j.UpdatedAt,
	); err != nil {
		return nil, err
	}
	j.Source = model.JobSource(source)
	j.SourceGUID = nullStringValue(guid)
	return j, nil
}

// FindByID は指定IDの求人を取得する。見つからない場合はnilを返す。
func (r *PostgresJobRepo) FindByID(ctx context.Context, id string) (*model.JobPosting, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+jobColumns+` FROM job_postings WHERE id = $1`,
		id,
	)
	j, err := scanJob(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("求人の取得に失敗しました: %w", err)
	}
	return j, nil
}

// List は条件に合う求人をpublished_at降順で返す。
// Keywordはtitleとdescriptionの部分一致、Locationはlocationの部分一致で絞り込む。
func (r *PostgresJobRepo) List(ctx context.Context, filter model.JobFilter) ([]*model.JobPosting, error) {
	query := `SELECT ` + jobColumns + ` FROM job_postings WHERE true`
	var args []any
	argIndex := 1

	if filter.EmployerID != "" {
		query += fmt.Sprintf(" AND employer_id = $%d", argIndex)
		args = append(args, filter.EmployerID)
		argIndex++
	}
	if kw := strings.TrimSpace(filter.Keyword); kw != "" {
		query += fmt.Sprintf(" AND (title ILIKE $%d OR description ILIKE $%d)", argIndex, argIndex)
		args = append(args, "%"+escapeLike(kw)+"%")
		argIndex++
	}
	if loc := strings.TrimSpace(filter.Location); loc != "" {
		query += fmt.Sprintf(" AND location ILIKE $%d", argIndex)
		args = append(args, "%"+escapeLike(loc)+"%")
		argIndex++
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = defaultJobListLimit
	}
	if limit > maxJobListLimit {
		limit = maxJobListLimit
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}
	query += fmt.Sprintf(" ORDER BY published_at DESC, id LIMIT $%d OFFSET $%d", argIndex, argIndex+1)
	args = append(args, limit, offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("求人一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var jobs []*model.JobPosting
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("求人行の読み取りに失敗しました: %w", err)
		}
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("求人一覧の走査に失敗しました: %w", err)
	}
	return jobs, nil
}

// Create は求人を作成する。
func (r *PostgresJobRepo) Create(ctx context.Context, j *model.JobPosting) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO job_postings (`+jobColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		j.ID, j.EmployerID, j.Title, j.Description, j.Location,
		j.SalaryMin, j.SalaryMax, j.SalaryCurrency, string(j.Source), nullString(j.SourceGUID),
		j.URL, j.PublishedAt, j.CreatedAt, j.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("求人の作成に失敗しました: %w", err)
	}
	return nil
}

// UpsertByGUID は(employer_id, source_guid)をキーに求人を作成または上書きする。
// 上書き時はid、created_atを維持する。新規作成した場合はtrueを返す。
func (r *PostgresJobRepo) UpsertByGUID(ctx context.Context, j *model.JobPosting) (bool, error) {
	if j.SourceGUID == "" {
		return false, fmt.Errorf("source_guidが空の求人はUPSERTできません")
	}
	var inserted bool
	err := r.db.QueryRowContext(ctx,
		`INSERT INTO job_postings (`+jobColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		 ON CONFLICT (employer_id, source_guid) WHERE source_guid IS NOT NULL
		 DO UPDATE SET
		    title = EXCLUDED.title, description = EXCLUDED.description,
		    location = EXCLUDED.location, url = EXCLUDED.url,
		    published_at = EXCLUDED.published_at, updated_at = EXCLUDED.updated_at
		 RETURNING (xmax = 0)`,
		j.ID, j.EmployerID, j.Title, j.Description, j.Location,
		j.SalaryMin, j.SalaryMax, j.SalaryCurrency, string(j.Source), j.SourceGUID,
		j.URL, j.PublishedAt, j.CreatedAt, j.UpdatedAt,
	).Scan(&inserted)
	if err != nil {
		return false, fmt.Errorf("求人のUPSERTに失敗しました: %w", err)
	}
	return inserted, nil
}

// Delete は指定IDの求人を削除する。
func (r *PostgresJobRepo) Delete(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM job_postings WHERE id = $1`, id); err != nil {
		return fmt.Errorf("求人の削除に失敗しました: %w", err)
	}
	return nil
}

// DeleteByEmployerID は採用企業の全求人を削除する。
func (r *PostgresJobRepo) DeleteByEmployerID(ctx context.Context, employerID string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM job_postings WHERE employer_id = $1`, employerID); err != nil {
		return fmt.Errorf("採用企業の求人削除に失敗しました: %w", err)
	}
	return nil
}

// DeletePublishedBefore はcutoffより前に公開された求人を削除し、削除件数を返す。
func (r *PostgresJobRepo) DeletePublishedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM job_postings WHERE published_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("古い求人の削除に失敗しました: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("削除件数の取得に失敗しました: %w", err)
	}
	return n, nil
}

// escapeLike はLIKEパターンのメタ文字をエスケープする。
func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

// nullString は空文字列をsql.NullStringに変換する。
func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// nullStringValue はsql.NullStringから文字列を取得する。
func nullStringValue(ns sql.NullString) string {
	if ns.Valid {
		return ns.String
	}
	return ""
}

// compile-time interface check
var _ JobRepository = (*PostgresJobRepo)(nil)
