// Package profile はプロフィールの読み書きを提供する。
package profile

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/hitoshi/jobboard/internal/model"
	"github.com/hitoshi/jobboard/internal/repository"
	"github.com/hitoshi/jobboard/internal/security"
	"github.com/hitoshi/jobboard/internal/sessionsync"
)

// 入力値の上限（文字数）
const (
	maxNameLength        = 100
	maxPhoneLength       = 32
	maxLocationLength    = 200
	maxExperienceLength  = 5000
	maxCompanyNameLength = 200
	maxDescriptionLength = 5000
	maxSkills            = 50
	maxSkillLength       = 50
)

// Service はプロフィールのサービス層。
// sessionsync.ProfileSourceを実装する。
type Service struct {
	profileRepo repository.ProfileRepository
	sessionRepo repository.SessionRepository
	urlGuard    security.URLGuard
	sanitizer   security.Sanitizer
	now         func() time.Time
}

var _ sessionsync.ProfileSource = (*Service)(nil)

// NewService はServiceを生成する。
func NewService(
	profileRepo repository.ProfileRepository,
	sessionRepo repository.SessionRepository,
	urlGuard security.URLGuard,
	sanitizer security.Sanitizer,
) *Service {
	return &Service{
		profileRepo: profileRepo,
		sessionRepo: sessionRepo,
		urlGuard:    urlGuard,
		sanitizer:   sanitizer,
		now:         time.Now,
	}
}

// GetProfile はセッションのユーザーのプロフィールを返す。
// セッションが失効している場合はmodel.ErrUnauthorized、レコードが無い場合はnilを返す。
func (s *Service) GetProfile(ctx context.Context, session *model.Session) (*model.Profile, error) {
	if err := s.verifySession(ctx, session); err != nil {
		return nil, err
	}

	profile, err := s.profileRepo.FindByID(ctx, session.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to find profile: %w", err)
	}
	return profile, nil
}

// UpdateProfile は入力を検証・サニタイズしてプロフィールを更新する。
func (s *Service) UpdateProfile(ctx context.Context, session *model.Session, update model.ProfileUpdate) error {
	if err := s.verifySession(ctx, session); err != nil {
		return err
	}

	current, err := s.profileRepo.FindByID(ctx, session.UserID)
	if err != nil {
		return fmt.Errorf("failed to find profile: %w", err)
	}
	if current == nil {
		return model.NewProfileNotFoundError()
	}

	if err := s.validate(current.UserType, update); err != nil {
		return err
	}
	if update.IsEmpty() {
		return nil
	}

	updated := s.sanitize(update).Apply(*current)
	if strings.TrimSpace(updated.FullName) == "" {
		return model.NewInvalidProfileError("氏名は必須です")
	}
	updated.UpdatedAt = s.now()

	if err := s.profileRepo.Update(ctx, &updated); err != nil {
		return fmt.Errorf("failed to update profile: %w", err)
	}

	slog.Info("プロフィールを更新しました",
		slog.String("user_id", session.UserID),
		slog.String("user_type", string(current.UserType)),
	)
	return nil
}

// verifySession はセッションがまだ有効で、同じユーザーのものかを確認する。
func (s *Service) verifySession(ctx context.Context, session *model.Session) error {
	if session == nil || session.ID == "" {
		return model.ErrUnauthorized
	}
	stored, err := s.sessionRepo.FindByID(ctx, session.ID)
	if err != nil {
		return fmt.Errorf("failed to find session: %w", err)
	}
	if stored == nil || stored.UserID != session.UserID {
		return model.ErrUnauthorized
	}
	return nil
}

func (s *Service) validate(userType model.UserType, u model.ProfileUpdate) error {
	if userType == model.UserTypeEmployer {
		if u.Skills != nil || u.Experience != nil || u.ResumeURL != nil {
			return model.NewInvalidProfileError("採用企業アカウントでは求職者用の項目を更新できません")
		}
	} else {
		if u.CompanyName != nil || u.CompanyDescription != nil {
			return model.NewInvalidProfileError("求職者アカウントでは企業情報を更新できません")
		}
	}

	checks := []struct {
		value *string
		max   int
		label string
	}{
		{u.FullName, maxNameLength, "氏名"},
		{u.Phone, maxPhoneLength, "電話番号"},
		{u.Location, maxLocationLength, "所在地"},
		{u.Experience, maxExperienceLength, "職務経歴"},
		{u.CompanyName, maxCompanyNameLength, "会社名"},
		{u.CompanyDescription, maxDescriptionLength, "会社説明"},
	}
	for _, c := range checks {
		if c.value != nil && utf8.RuneCountInString(*c.value) > c.max {
			return model.NewInvalidProfileError(fmt.Sprintf("%sは%d文字以内で入力してください", c.label, c.max))
		}
	}

	if len(u.Skills) > maxSkills {
		return model.NewInvalidProfileError(fmt.Sprintf("スキルは%d件以内で入力してください", maxSkills))
	}

	if u.ResumeURL != nil && *u.ResumeURL != "" {
		if err := s.urlGuard.ValidateURL(*u.ResumeURL); err != nil {
			return model.NewInvalidURLError(err.Error())
		}
	}
	return nil
}

// sanitize は自由入力のテキストからHTMLを除去する。
func (s *Service) sanitize(u model.ProfileUpdate) model.ProfileUpdate {
	clean := func(v *string, max int) *string {
		if v == nil {
			return nil
		}
		c := s.sanitizer.SanitizeText(*v, max)
		return &c
	}

	out := model.ProfileUpdate{
		FullName:           clean(u.FullName, maxNameLength),
		Phone:              clean(u.Phone, maxPhoneLength),
		Location:           clean(u.Location, maxLocationLength),
		Experience:         clean(u.Experience, maxExperienceLength),
		CompanyName:        clean(u.CompanyName, maxCompanyNameLength),
		CompanyDescription: clean(u.CompanyDescription, maxDescriptionLength),
	}
	if u.ResumeURL != nil {
		v := strings.TrimSpace(*u.ResumeURL)
		out.ResumeURL = &v
	}
	if u.Skills != nil {
		out.Skills = make([]string, 0, len(u.Skills))
		seen := make(map[string]struct{}, len(u.Skills))
		for _, skill := range u.Skills {
			c := s.sanitizer.SanitizeText(skill, maxSkillLength)
			key := strings.ToLower(c)
			if c == "" {
				continue
			}
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			out.Skills = append(out.Skills, c)
		}
	}
	return out
}
