// Package model はドメインモデルを定義する。
package model

import "time"

// User はサービス利用ユーザーを表す。
type User struct {
	ID        string
	Email     string
	Name      string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Identity は外部IdPとの紐付け情報を表す。
// 将来的に複数のIdP（Google, GitHub等）に対応可能な構造。
type Identity struct {
	ID             string
	UserID         string
	Provider       string
	ProviderUserID string
	CreatedAt      time.Time
}

// Session はユーザーのログインセッションを表す。
type Session struct {
	ID        string
	UserID    string
	ExpiresAt time.Time
	CreatedAt time.Time
}

// UserType はプロフィールの利用者区分を表す。
type UserType string

const (
	// UserTypeApplicant は求職者。
	UserTypeApplicant UserType = "applicant"
	// UserTypeEmployer は採用企業。
	UserTypeEmployer UserType = "employer"
)

// ParseUserType は文字列をUserTypeに変換する。
// 未知の値の場合はfalseを返す。
func ParseUserType(s string) (UserType, bool) {
	switch UserType(s) {
	case UserTypeApplicant:
		return UserTypeApplicant, true
	case UserTypeEmployer:
		return UserTypeEmployer, true
	default:
		return "", false
	}
}

// Profile はアプリケーション上のユーザープロフィールを表す。
// IDはUser.ID（= Session.UserID）と一致する。
// 求職者のみ: Skills, Experience, ResumeURL
// 採用企業のみ: CompanyName, CompanyDescription, CareersFeedURL
type Profile struct {
	ID                 string
	Email              string
	FullName           string
	UserType           UserType
	Phone              string
	Location           string
	Skills             []string
	Experience         string
	ResumeURL          string
	CompanyName        string
	CompanyDescription string
	CareersFeedURL     string
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// ProfileUpdate はプロフィールの部分更新内容を表す。
// nilフィールドは変更しない。
type ProfileUpdate struct {
	FullName           *string
	Phone              *string
	Location           *string
	Skills             []string
	Experience         *string
	ResumeURL          *string
	CompanyName        *string
	CompanyDescription *string
}

// IsEmpty は更新対象のフィールドが1つもないかを返す。
func (u ProfileUpdate) IsEmpty() bool {
	return u.FullName == nil && u.Phone == nil && u.Location == nil &&
		u.Skills == nil && u.Experience == nil && u.ResumeURL == nil &&
		u.CompanyName == nil && u.CompanyDescription == nil
}

// Apply は更新内容をプロフィールに適用した新しいProfileを返す。
// 元のProfileは変更しない。
func (u ProfileUpdate) Apply(p Profile) Profile {
	if u.FullName != nil {
		p.FullName = *u.FullName
	}
	if u.Phone != nil {
		p.Phone = *u.Phone
	}
	if u.Location != nil {
		p.Location = *u.Location
	}
	if u.Skills != nil {
		p.Skills = append([]string(nil), u.Skills...)
	}
	if u.Experience != nil {
		p.Experience = *u.Experience
	}
	if u.ResumeURL != nil {
		p.ResumeURL = *u.ResumeURL
	}
	if u.CompanyName != nil {
		p.CompanyName = *u.CompanyName
	}
	if u.CompanyDescription != nil {
		p.CompanyDescription = *u.CompanyDescription
	}
	return p
}
