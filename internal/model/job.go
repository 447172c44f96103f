// Package model はドメインモデルを定義する。
package model

import "time"

// JobSource は求人の登録経路を表す。
type JobSource string

const (
	// JobSourceManual は採用企業が画面から登録した求人。
	JobSourceManual JobSource = "manual"
	// JobSourceFeed は採用ページのRSS/Atomフィードから取り込んだ求人。
	JobSourceFeed JobSource = "feed"
)

// JobPosting は求人情報を表す。
// 給与はSalaryCurrencyの通貨建てで保持し、表示時に換算する。
type JobPosting struct {
	ID             string
	EmployerID     string
	Title          string
	Description    string
	Location       string
	SalaryMin      float64
	SalaryMax      float64
	SalaryCurrency string
	Source         JobSource
	SourceGUID     string
	URL            string
	PublishedAt    time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// HasSalary は給与レンジが設定されているかを返す。
func (j *JobPosting) HasSalary() bool {
	return j.SalaryCurrency != "" && (j.SalaryMin > 0 || j.SalaryMax > 0)
}

// JobFilter は求人一覧の絞り込み条件。
type JobFilter struct {
	EmployerID string
	Keyword    string
	Location   string
	Limit      int
	Offset     int
}

// FetchStatus は採用フィードのフェッチ状態を表す。
type FetchStatus string

const (
	// FetchStatusActive はアクティブなフェッチ状態。
	FetchStatusActive FetchStatus = "active"
	// FetchStatusStopped は停止されたフェッチ状態。
	FetchStatusStopped FetchStatus = "stopped"
)

// CareersFeed は採用企業が登録した求人フィードを表す。
// 1社につき1フィード。
type CareersFeed struct {
	EmployerID        string
	FeedURL           string
	ETag              string
	LastModified      string
	FetchStatus       FetchStatus
	ConsecutiveErrors int
	ErrorMessage      string
	NextFetchAt       time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// ParsedPosting はフィードから解析された求人（保存前）。
type ParsedPosting struct {
	GUID        string
	Title       string
	Link        string
	Description string
	Location    string
	PublishedAt *time.Time
}
