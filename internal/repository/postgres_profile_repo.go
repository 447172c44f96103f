package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"

	"github.com/hitoshi/jobboard/internal/model"
)

// PostgresProfileRepo はPostgreSQLを使用したプロフィールリポジトリ。
type PostgresProfileRepo struct {
	db *sql.DB
}

// NewPostgresProfileRepo はPostgresProfileRepoを生成する。
func NewPostgresProfileRepo(db *sql.DB) *PostgresProfileRepo {
	return &PostgresProfileRepo{db: db}
}

// FindByID は指定ユーザーのプロフィールを取得する。見つからない場合はnilを返す。
// 採用企業の場合は登録済みの採用フィードURLも併せて返す。
func (r *PostgresProfileRepo) FindByID(ctx context.Context, id string) (*model.Profile, error) {
	p := &model.Profile{}
	var userType string
	var feedURL sql.NullString

	err := r.db.QueryRowContext(ctx,
		`SELECT p.id, p.email, p.full_name, p.user_type, p.phone, p.location,
		        p.skills, p.experience, p.resume_url, p.company_name,
		        p.company_description, cf.feed_url, p.created_at, p.updated_at
		 FROM profiles p
		 LEFT JOIN careers_feeds cf ON cf.employer_id = p.id
		 WHERE p.id = $1`,
		id,
	).Scan(
		&p.ID, &p.Email, &p.FullName, &userType, &p.Phone, &p.Location,
		pq.Array(&p.Skills), &p.Experience, &p.ResumeURL, &p.CompanyName,
		&p.CompanyDescription, &feedURL, &p.CreatedAt, &p.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("プロフィールの取得に失敗しました: %w", err)
	}

	p.UserType = model.UserType(userType)
	p.CareersFeedURL = nullStringValue(feedURL)
	return p, nil
}

// Update はプロフィールの編集可能フィールドを上書きする。
// email、user_typeは変更しない。
func (r *PostgresProfileRepo) Update(ctx context.Context, p *model.Profile) error {
	skills := p.Skills
	if skills == nil {
		skills = []string{}
	}
	result, err := r.db.ExecContext(ctx,
		`UPDATE profiles SET
		    full_name = $2, phone = $3, location = $4, skills = $5,
		    experience = $6, resume_url = $7, company_name = $8,
		    company_description = $9, updated_at = $10
		 WHERE id = $1`,
		p.ID, p.FullName, p.Phone, p.Location, pq.Array(skills),
		p.Experience, p.ResumeURL, p.CompanyName,
		p.CompanyDescription, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("プロフィールの更新に失敗しました: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("更新件数の取得に失敗しました: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("profile not found: %s", p.ID)
	}
	return nil
}

// DeleteByID は指定ユーザーのプロフィールを削除する。
func (r *PostgresProfileRepo) DeleteByID(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM profiles WHERE id = $1`, id); err != nil {
		return fmt.Errorf("プロフィールの削除に失敗しました: %w", err)
	}
	return nil
}

var _ ProfileRepository = (*PostgresProfileRepo)(nil)
