package handler

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/jobboard/internal/job"
	"github.com/hitoshi/jobboard/internal/model"
)

const (
	defaultJobPageSize = 20
	maxJobPageSize     = 100
)

// JobServiceInterface は求人ハンドラーが必要とするサービスインターフェース。
type JobServiceInterface interface {
	List(ctx context.Context, filter model.JobFilter, displayCurrency string) ([]*job.Listing, error)
	Get(ctx context.Context, id, displayCurrency string) (*job.Listing, error)
	Create(ctx context.Context, employerID string, in job.CreateInput) (*model.JobPosting, error)
	Delete(ctx context.Context, employerID, jobID string) error
}

type jobResponse struct {
	ID              string    `json:"id"`
	EmployerID      string    `json:"employer_id"`
	Title           string    `json:"title"`
	Description     string    `json:"description"`
	Location        string    `json:"location,omitempty"`
	SalaryMin       float64   `json:"salary_min,omitempty"`
	SalaryMax       float64   `json:"salary_max,omitempty"`
	SalaryCurrency  string    `json:"salary_currency,omitempty"`
	DisplaySalary   string    `json:"display_salary,omitempty"`
	DisplayCurrency string    `json:"display_currency,omitempty"`
	Converted       bool      `json:"converted"`
	Source          string    `json:"source"`
	URL             string    `json:"url,omitempty"`
	PublishedAt     time.Time `json:"published_at"`
}

type jobListResponse struct {
	Jobs   []jobResponse `json:"jobs"`
	Limit  int           `json:"limit"`
	Offset int           `json:"offset"`
}

type createJobRequest struct {
	Title          string  `json:"title"`
	Description    string  `json:"description"`
	Location       string  `json:"location"`
	SalaryMin      float64 `json:"salary_min"`
	SalaryMax      float64 `json:"salary_max"`
	SalaryCurrency string  `json:"salary_currency"`
	URL            string  `json:"url"`
}

// JobHandler は求人のHTTPハンドラー。
type JobHandler struct {
	service JobServiceInterface
}

// NewJobHandler はJobHandlerを生成する。
func NewJobHandler(service JobServiceInterface) *JobHandler {
	return &JobHandler{service: service}
}

// ListJobs は求人一覧を返す。
// GET /api/jobs?q=&location=&employer_id=&limit=&offset=&currency=JPY
func (h *JobHandler) ListJobs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	limit, ok := parseIntParam(q.Get("limit"), defaultJobPageSize)
	if !ok || limit <= 0 {
		writeAPIErrorResponse(w, http.StatusBadRequest, newInvalidQueryError("limit"))
		return
	}
	if limit > maxJobPageSize {
		limit = maxJobPageSize
	}
	offset, ok := parseIntParam(q.Get("offset"), 0)
	if !ok || offset < 0 {
		writeAPIErrorResponse(w, http.StatusBadRequest, newInvalidQueryError("offset"))
		return
	}

	filter := model.JobFilter{
		EmployerID: q.Get("employer_id"),
		Keyword:    q.Get("q"),
		Location:   q.Get("location"),
		Limit:      limit,
		Offset:     offset,
	}
	listings, err := h.service.List(r.Context(), filter, q.Get("currency"))
	if err != nil {
		handleServiceError(w, err)
		return
	}

	resp := jobListResponse{Jobs: make([]jobResponse, 0, len(listings)), Limit: limit, Offset: offset}
	for _, l := range listings {
		resp.Jobs = append(resp.Jobs, toJobResponse(l))
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetJob は求人を1件返す。
// GET /api/jobs/{id}?currency=JPY
func (h *JobHandler) GetJob(w http.ResponseWriter, r *http.Request) {
	l, err := h.service.Get(r.Context(), chi.URLParam(r, "id"), r.URL.Query().Get("currency"))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toJobResponse(l))
}

// CreateJob は求人を登録する。採用企業のみ。
// POST /api/jobs
func (h *JobHandler) CreateJob(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	var req createJobRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	posting, err := h.service.Create(r.Context(), userID, job.CreateInput{
		Title:          req.Title,
		Description:    req.Description,
		Location:       req.Location,
		SalaryMin:      req.SalaryMin,
		SalaryMax:      req.SalaryMax,
		SalaryCurrency: req.SalaryCurrency,
		URL:            req.URL,
	})
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, toJobResponse(&job.Listing{
		JobPosting:      posting,
		DisplayCurrency: posting.SalaryCurrency,
	}))
}

// DeleteJob は自社の求人を削除する。
// DELETE /api/jobs/{id}
func (h *JobHandler) DeleteJob(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	if err := h.service.Delete(r.Context(), userID, chi.URLParam(r, "id")); err != nil {
		handleServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func toJobResponse(l *job.Listing) jobResponse {
	return jobResponse{
		ID:              l.ID,
		EmployerID:      l.EmployerID,
		Title:           l.Title,
		Description:     l.Description,
		Location:        l.Location,
		SalaryMin:       l.SalaryMin,
		SalaryMax:       l.SalaryMax,
		SalaryCurrency:  l.SalaryCurrency,
		DisplaySalary:   l.DisplaySalary,
		DisplayCurrency: l.DisplayCurrency,
		Converted:       l.Converted,
		Source:          string(l.Source),
		URL:             l.URL,
		PublishedAt:     l.PublishedAt,
	}
}

// parseIntParam は空ならdefを返す。
func parseIntParam(raw string, def int) (int, bool) {
	if raw == "" {
		return def, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false
	}
	return n, true
}

func newInvalidQueryError(param string) *model.APIError {
	return &model.APIError{
		Code:     "INVALID_REQUEST",
		Message:  "クエリパラメータ " + param + " が不正です。",
		Category: "validation",
		Action:   "0以上の整数を指定してください。",
	}
}
