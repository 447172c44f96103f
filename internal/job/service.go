// Package job は求人の閲覧・登録を提供する。
package job

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/hitoshi/jobboard/internal/currency"
	"github.com/hitoshi/jobboard/internal/model"
	"github.com/hitoshi/jobboard/internal/repository"
	"github.com/hitoshi/jobboard/internal/security"
)

const (
	maxTitleLength       = 200
	maxDescriptionLength = 20000
	maxLocationLength    = 200
)

// RateConverter は給与の通貨換算インターフェース。
type RateConverter interface {
	Convert(ctx context.Context, amount float64, from, to string) (float64, error)
}

// Listing は表示用に給与を換算した求人。
type Listing struct {
	*model.JobPosting
	// DisplayCurrency は給与表示の通貨。換算できなかった場合は求人の通貨。
	DisplayCurrency string
	DisplaySalary   string
	Converted       bool
}

// CreateInput は求人登録の入力。
type CreateInput struct {
	Title          string
	Description    string
	Location       string
	SalaryMin      float64
	SalaryMax      float64
	SalaryCurrency string
	URL            string
}

// Service は求人のサービス層。
type Service struct {
	jobRepo     repository.JobRepository
	profileRepo repository.ProfileRepository
	converter   RateConverter
	sanitizer   security.Sanitizer
	urlGuard    security.URLGuard
	now         func() time.Time
}

// NewService はServiceを生成する。
func NewService(
	jobRepo repository.JobRepository,
	profileRepo repository.ProfileRepository,
	converter RateConverter,
	sanitizer security.Sanitizer,
	urlGuard security.URLGuard,
) *Service {
	return &Service{
		jobRepo:     jobRepo,
		profileRepo: profileRepo,
		converter:   converter,
		sanitizer:   sanitizer,
		urlGuard:    urlGuard,
		now:         time.Now,
	}
}

// List は求人一覧を返す。displayCurrencyが空でなければ給与をその通貨に換算する。
func (s *Service) List(ctx context.Context, filter model.JobFilter, displayCurrency string) ([]*Listing, error) {
	displayCurrency, err := normalizeDisplayCurrency(displayCurrency)
	if err != nil {
		return nil, err
	}

	jobs, err := s.jobRepo.List(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}

	listings := make([]*Listing, 0, len(jobs))
	for _, j := range jobs {
		listings = append(listings, s.toListing(ctx, j, displayCurrency))
	}
	return listings, nil
}

// Get は求人を1件返す。
func (s *Service) Get(ctx context.Context, id, displayCurrency string) (*Listing, error) {
	displayCurrency, err := normalizeDisplayCurrency(displayCurrency)
	if err != nil {
		return nil, err
	}

	if _, err := uuid.Parse(id); err != nil {
		return nil, model.NewJobNotFoundError(id)
	}
	j, err := s.jobRepo.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to find job: %w", err)
	}
	if j == nil {
		return nil, model.NewJobNotFoundError(id)
	}
	return s.toListing(ctx, j, displayCurrency), nil
}

// Create は採用企業の求人を登録する。
func (s *Service) Create(ctx context.Context, employerID string, in CreateInput) (*model.JobPosting, error) {
	if err := s.requireEmployer(ctx, employerID); err != nil {
		return nil, err
	}

	j, err := s.buildPosting(employerID, in)
	if err != nil {
		return nil, err
	}

	if err := s.jobRepo.Create(ctx, j); err != nil {
		return nil, fmt.Errorf("failed to create job: %w", err)
	}

	slog.Info("求人を登録しました",
		slog.String("job_id", j.ID),
		slog.String("employer_id", employerID),
	)
	return j, nil
}

// Delete は求人を削除する。登録した採用企業以外は削除できない。
func (s *Service) Delete(ctx context.Context, employerID, jobID string) error {
	if _, err := uuid.Parse(jobID); err != nil {
		return model.NewJobNotFoundError(jobID)
	}
	j, err := s.jobRepo.FindByID(ctx, jobID)
	if err != nil {
		return fmt.Errorf("failed to find job: %w", err)
	}
	// 他社の求人は存在しないものとして扱う
	if j == nil || j.EmployerID != employerID {
		return model.NewJobNotFoundError(jobID)
	}

	if err := s.jobRepo.Delete(ctx, jobID); err != nil {
		return fmt.Errorf("failed to delete job: %w", err)
	}

	slog.Info("求人を削除しました",
		slog.String("job_id", jobID),
		slog.String("employer_id", employerID),
	)
	return nil
}

func (s *Service) requireEmployer(ctx context.Context, userID string) error {
	p, err := s.profileRepo.FindByID(ctx, userID)
	if err != nil {
		return fmt.Errorf("failed to find profile: %w", err)
	}
	if p == nil {
		return model.NewProfileNotFoundError()
	}
	if p.UserType != model.UserTypeEmployer {
		return model.NewEmployerOnlyError()
	}
	return nil
}

func (s *Service) buildPosting(employerID string, in CreateInput) (*model.JobPosting, error) {
	title := s.sanitizer.SanitizeText(in.Title, 0)
	if title == "" {
		return nil, model.NewInvalidJobError("タイトルは必須です")
	}
	if utf8.RuneCountInString(title) > maxTitleLength {
		return nil, model.NewInvalidJobError(fmt.Sprintf("タイトルは%d文字以内で入力してください", maxTitleLength))
	}
	if utf8.RuneCountInString(in.Description) > maxDescriptionLength {
		return nil, model.NewInvalidJobError(fmt.Sprintf("本文は%d文字以内で入力してください", maxDescriptionLength))
	}

	if in.SalaryMin < 0 || in.SalaryMax < 0 || math.IsNaN(in.SalaryMin) || math.IsNaN(in.SalaryMax) {
		return nil, model.NewInvalidJobError("給与は0以上で入力してください")
	}
	if in.SalaryMax > 0 && in.SalaryMin > in.SalaryMax {
		return nil, model.NewInvalidJobError("給与の下限が上限を超えています")
	}
	salaryCurrency := currency.NormalizeCode(in.SalaryCurrency)
	if in.SalaryMin > 0 || in.SalaryMax > 0 {
		if !currency.IsValidCode(salaryCurrency) {
			return nil, model.NewInvalidCurrencyError(in.SalaryCurrency)
		}
	} else {
		salaryCurrency = ""
	}

	link := strings.TrimSpace(in.URL)
	if link != "" {
		if err := s.urlGuard.ValidateURL(link); err != nil {
			return nil, model.NewInvalidURLError(err.Error())
		}
	}

	now := s.now()
	return &model.JobPosting{
		ID:             uuid.New().String(),
		EmployerID:     employerID,
		Title:          title,
		Description:    s.sanitizer.SanitizeHTML(in.Description),
		Location:       s.sanitizer.SanitizeText(in.Location, maxLocationLength),
		SalaryMin:      in.SalaryMin,
		SalaryMax:      in.SalaryMax,
		SalaryCurrency: salaryCurrency,
		Source:         model.JobSourceManual,
		URL:            link,
		PublishedAt:    now,
		CreatedAt:      now,
		UpdatedAt:      now,
	}, nil
}

// toListing は給与を表示通貨に換算する。換算できない場合は元の通貨で表示する。
func (s *Service) toListing(ctx context.Context, j *model.JobPosting, displayCurrency string) *Listing {
	l := &Listing{JobPosting: j, DisplayCurrency: j.SalaryCurrency}
	if !j.HasSalary() {
		return l
	}

	lo, hi := j.SalaryMin, j.SalaryMax
	if displayCurrency != "" && displayCurrency != j.SalaryCurrency {
		cLo, errLo := s.converter.Convert(ctx, lo, j.SalaryCurrency, displayCurrency)
		cHi, errHi := s.converter.Convert(ctx, hi, j.SalaryCurrency, displayCurrency)
		if err := errors.Join(errLo, errHi); err != nil {
			slog.Warn("給与の換算に失敗しました",
				slog.String("job_id", j.ID),
				slog.String("from", j.SalaryCurrency),
				slog.String("to", displayCurrency),
				slog.String("error", err.Error()),
			)
		} else {
			lo, hi = cLo, cHi
			l.DisplayCurrency = displayCurrency
			l.Converted = true
		}
	}

	l.DisplaySalary = formatRange(lo, hi, l.DisplayCurrency)
	return l
}

func formatRange(lo, hi float64, code string) string {
	switch {
	case lo > 0 && hi > 0 && math.Round(lo) != math.Round(hi):
		return currency.Format(lo, code) + " - " + currency.Format(hi, code)
	case lo > 0:
		return currency.Format(lo, code)
	default:
		return currency.Format(hi, code)
	}
}

func normalizeDisplayCurrency(code string) (string, error) {
	if code == "" {
		return "", nil
	}
	normalized := currency.NormalizeCode(code)
	if !currency.IsValidCode(normalized) {
		return "", model.NewInvalidCurrencyError(code)
	}
	return normalized, nil
}
