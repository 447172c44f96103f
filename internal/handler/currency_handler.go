package handler

import (
	"context"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/jobboard/internal/currency"
	"github.com/hitoshi/jobboard/internal/model"
)

// RateService は為替レート参照のインターフェース。currency.Converterが実装する。
type RateService interface {
	Snapshot(ctx context.Context, base string) currency.Snapshot
	Convert(ctx context.Context, amount float64, from, to string) (float64, error)
}

type ratesResponse struct {
	Base      string             `json:"base"`
	Rates     map[string]float64 `json:"rates"`
	FetchedAt *time.Time         `json:"fetched_at,omitempty"`
	Stale     bool               `json:"stale"`
	Builtin   bool               `json:"builtin"`
}

type convertResponse struct {
	Amount    float64 `json:"amount"`
	From      string  `json:"from"`
	To        string  `json:"to"`
	Result    float64 `json:"result"`
	Formatted string  `json:"formatted"`
}

// CurrencyHandler は為替レートのHTTPハンドラー。
type CurrencyHandler struct {
	rates RateService
}

// NewCurrencyHandler はCurrencyHandlerを生成する。
func NewCurrencyHandler(rates RateService) *CurrencyHandler {
	return &CurrencyHandler{rates: rates}
}

// GetRates は基準通貨のレート表を返す。取得に失敗してもキャッシュか組み込み表を返す。
// GET /api/currency/rates/{base}
func (h *CurrencyHandler) GetRates(w http.ResponseWriter, r *http.Request) {
	raw := chi.URLParam(r, "base")
	base := currency.NormalizeCode(raw)
	if !currency.IsValidCode(base) {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidCurrencyError(raw))
		return
	}

	snap := h.rates.Snapshot(r.Context(), base)
	resp := ratesResponse{
		Base:    snap.Base,
		Rates:   snap.Rates,
		Stale:   snap.Stale,
		Builtin: snap.Builtin,
	}
	if !snap.FetchedAt.IsZero() {
		resp.FetchedAt = &snap.FetchedAt
	}
	writeJSON(w, http.StatusOK, resp)
}

// Convert は金額を換算する。
// GET /api/currency/convert?amount=1000&from=USD&to=JPY
func (h *CurrencyHandler) Convert(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	rawAmount := q.Get("amount")
	amount, err := strconv.ParseFloat(rawAmount, 64)
	if err != nil || math.IsNaN(amount) || math.IsInf(amount, 0) {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidAmountError(rawAmount))
		return
	}

	from, to := currency.NormalizeCode(q.Get("from")), currency.NormalizeCode(q.Get("to"))
	for _, code := range []string{from, to} {
		if !currency.IsValidCode(code) {
			writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidCurrencyError(code))
			return
		}
	}

	result, err := h.rates.Convert(r.Context(), amount, from, to)
	if err != nil {
		handleServiceError(w, model.NewRateUnavailableError(from, to))
		return
	}

	writeJSON(w, http.StatusOK, convertResponse{
		Amount:    amount,
		From:      from,
		To:        to,
		Result:    result,
		Formatted: currency.Format(result, to),
	})
}
