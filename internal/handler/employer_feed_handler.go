package handler

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/hitoshi/jobboard/internal/model"
)

// CareersFeedServiceInterface は採用フィードハンドラーが必要とするサービスインターフェース。
type CareersFeedServiceInterface interface {
	Register(ctx context.Context, employerID, inputURL string) (*model.CareersFeed, error)
	Get(ctx context.Context, employerID string) (*model.CareersFeed, error)
	Remove(ctx context.Context, employerID string) error
}

type registerFeedRequest struct {
	URL string `json:"url"`
}

type careersFeedResponse struct {
	FeedURL           string     `json:"feed_url"`
	FetchStatus       string     `json:"fetch_status"`
	ConsecutiveErrors int        `json:"consecutive_errors"`
	ErrorMessage      string     `json:"error_message,omitempty"`
	NextFetchAt       *time.Time `json:"next_fetch_at,omitempty"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// EmployerFeedHandler は採用企業の求人フィード登録のHTTPハンドラー。
type EmployerFeedHandler struct {
	service CareersFeedServiceInterface
}

// NewEmployerFeedHandler はEmployerFeedHandlerを生成する。
func NewEmployerFeedHandler(service CareersFeedServiceInterface) *EmployerFeedHandler {
	return &EmployerFeedHandler{service: service}
}

// GetFeed は登録済みの採用フィードを返す。
// GET /api/employer/feed
func (h *EmployerFeedHandler) GetFeed(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	feed, err := h.service.Get(r.Context(), userID)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	if feed == nil {
		writeAPIErrorResponse(w, http.StatusNotFound, model.NewFeedNotFoundError())
		return
	}
	writeJSON(w, http.StatusOK, toCareersFeedResponse(feed))
}

// RegisterFeed は採用ページまたはフィードのURLを登録する。登録済みなら置き換える。
// PUT /api/employer/feed
func (h *EmployerFeedHandler) RegisterFeed(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	var req registerFeedRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	req.URL = strings.TrimSpace(req.URL)
	if req.URL == "" {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidURLError("URLが空です"))
		return
	}

	feed, err := h.service.Register(r.Context(), userID, req.URL)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toCareersFeedResponse(feed))
}

// DeleteFeed は採用フィードの登録を解除する。
// DELETE /api/employer/feed
func (h *EmployerFeedHandler) DeleteFeed(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	if err := h.service.Remove(r.Context(), userID); err != nil {
		handleServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func toCareersFeedResponse(feed *model.CareersFeed) careersFeedResponse {
	resp := careersFeedResponse{
		FeedURL:           feed.FeedURL,
		FetchStatus:       string(feed.FetchStatus),
		ConsecutiveErrors: feed.ConsecutiveErrors,
		ErrorMessage:      feed.ErrorMessage,
		UpdatedAt:         feed.UpdatedAt,
	}
	if feed.FetchStatus == model.FetchStatusActive && !feed.NextFetchAt.IsZero() {
		next := feed.NextFetchAt
		resp.NextFetchAt = &next
	}
	return resp
}
