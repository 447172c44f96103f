package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/hitoshi/jobboard/internal/middleware"
	"github.com/hitoshi/jobboard/internal/model"
)

// ProfileReader はプロフィール取得のインターフェース。
type ProfileReader interface {
	GetProfile(ctx context.Context, session *model.Session) (*model.Profile, error)
}

type profileResponse struct {
	ID                 string    `json:"id"`
	Email              string    `json:"email"`
	FullName           string    `json:"full_name"`
	UserType           string    `json:"user_type"`
	Phone              string    `json:"phone,omitempty"`
	Location           string    `json:"location,omitempty"`
	Skills             []string  `json:"skills,omitempty"`
	Experience         string    `json:"experience,omitempty"`
	ResumeURL          string    `json:"resume_url,omitempty"`
	CompanyName        string    `json:"company_name,omitempty"`
	CompanyDescription string    `json:"company_description,omitempty"`
	CareersFeedURL     string    `json:"careers_feed_url,omitempty"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// updateProfileRequest はPUT /api/profile のリクエストボディ。省略したフィールドは変更しない。
type updateProfileRequest struct {
	FullName           *string  `json:"full_name"`
	Phone              *string  `json:"phone"`
	Location           *string  `json:"location"`
	Skills             []string `json:"skills"`
	Experience         *string  `json:"experience"`
	ResumeURL          *string  `json:"resume_url"`
	CompanyName        *string  `json:"company_name"`
	CompanyDescription *string  `json:"company_description"`
}

// ProfileHandler はプロフィールのHTTPハンドラー。
// 更新は同期器経由で行い、書き込み後に読み直した状態を返す。
type ProfileHandler struct {
	reader ProfileReader
	hub    SessionHub
}

// NewProfileHandler はProfileHandlerを生成する。
func NewProfileHandler(reader ProfileReader, hub SessionHub) *ProfileHandler {
	return &ProfileHandler{reader: reader, hub: hub}
}

// GetProfile はログインユーザーのプロフィールを返す。
// GET /api/profile
func (h *ProfileHandler) GetProfile(w http.ResponseWriter, r *http.Request) {
	session := middleware.SessionFromContext(r.Context())
	if session == nil {
		middleware.WriteUnauthorized(w)
		return
	}

	p, err := h.reader.GetProfile(r.Context(), session)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	if p == nil {
		writeAPIErrorResponse(w, http.StatusNotFound, model.NewProfileNotFoundError())
		return
	}

	writeJSON(w, http.StatusOK, toProfileResponse(p))
}

// UpdateProfile はプロフィールを部分更新する。
// PUT /api/profile
func (h *ProfileHandler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	if middleware.SessionFromContext(r.Context()) == nil {
		middleware.WriteUnauthorized(w)
		return
	}

	var req updateProfileRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	update := model.ProfileUpdate{
		FullName:           req.FullName,
		Phone:              req.Phone,
		Location:           req.Location,
		Skills:             req.Skills,
		Experience:         req.Experience,
		ResumeURL:          req.ResumeURL,
		CompanyName:        req.CompanyName,
		CompanyDescription: req.CompanyDescription,
	}
	if update.IsEmpty() {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidProfileError("更新する項目がありません"))
		return
	}

	s, err := synchronizerFor(r, h.hub, "")
	if err != nil {
		handleServiceError(w, err)
		return
	}
	if err := s.UpdateProfile(r.Context(), update); err != nil {
		handleServiceError(w, err)
		return
	}

	st := s.State()
	if st.Profile == nil {
		writeAPIErrorResponse(w, http.StatusNotFound, model.NewProfileNotFoundError())
		return
	}
	writeJSON(w, http.StatusOK, toProfileResponse(st.Profile))
}

func toProfileResponse(p *model.Profile) profileResponse {
	return profileResponse{
		ID:                 p.ID,
		Email:              p.Email,
		FullName:           p.FullName,
		UserType:           string(p.UserType),
		Phone:              p.Phone,
		Location:           p.Location,
		Skills:             p.Skills,
		Experience:         p.Experience,
		ResumeURL:          p.ResumeURL,
		CompanyName:        p.CompanyName,
		CompanyDescription: p.CompanyDescription,
		CareersFeedURL:     p.CareersFeedURL,
		UpdatedAt:          p.UpdatedAt,
	}
}
