package currency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
)

// maxResponseSize はレートAPIレスポンスの読み取り上限。
const maxResponseSize = 1 << 20

// RateFetcher は基準通貨に対する最新レートを取得する。
type RateFetcher interface {
	FetchRates(ctx context.Context, base string) (map[string]float64, error)
}

// FetchError はレート取得失敗の分類付きエラー。
// Reasonは"config", "transport", "http_status", "parse", "provider"のいずれか。
type FetchError struct {
	Reason string
	Err    error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("rate fetch failed (%s): %v", e.Reason, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// fetchReason はメトリクス用に失敗理由を取り出す。
func fetchReason(err error) string {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.Reason
	}
	return "unknown"
}

// Client はExchangeRate-API互換のレートAPIクライアント。
// GET {baseURL}/{apiKey}/latest/{base} を呼び出す。
type Client struct {
	httpClient *http.Client
	logger     *slog.Logger
	baseURL    string
	apiKey     string
}

// NewClient はClientを生成する。
func NewClient(httpClient *http.Client, baseURL, apiKey string, logger *slog.Logger) *Client {
	return &Client{
		httpClient: httpClient,
		logger:     logger,
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
	}
}

type latestResponse struct {
	Result          string             `json:"result"`
	ErrorType       string             `json:"error-type"`
	ConversionRates map[string]float64 `json:"conversion_rates"`
}

// FetchRates は最新レートを取得する。
// 2xx以外、JSONパース失敗、resultが"success"以外の場合はFetchErrorを返す。
func (c *Client) FetchRates(ctx context.Context, base string) (map[string]float64, error) {
	if c.apiKey == "" {
		return nil, &FetchError{Reason: "config", Err: errors.New("APIキーが設定されていません")}
	}

	reqURL := fmt.Sprintf("%s/%s/latest/%s", c.baseURL, url.PathEscape(c.apiKey), url.PathEscape(base))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, &FetchError{Reason: "transport", Err: fmt.Errorf("HTTPリクエストの作成に失敗しました: %w", err)}
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "JobBoard/1.0")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &FetchError{Reason: "transport", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseSize))
		return nil, &FetchError{Reason: "http_status", Err: fmt.Errorf("レートAPIがステータス %d を返しました", resp.StatusCode)}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, &FetchError{Reason: "transport", Err: fmt.Errorf("レスポンスボディの読み取りに失敗しました: %w", err)}
	}

	var parsed latestResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, &FetchError{Reason: "parse", Err: fmt.Errorf("レスポンスJSONのパースに失敗しました: %w", err)}
	}
	if parsed.Result != "success" {
		return nil, &FetchError{Reason: "provider", Err: fmt.Errorf("レートAPIが失敗を返しました: result=%q error-type=%q", parsed.Result, parsed.ErrorType)}
	}
	if len(parsed.ConversionRates) == 0 {
		return nil, &FetchError{Reason: "parse", Err: errors.New("conversion_ratesが空です")}
	}

	c.logger.Debug("為替レートを取得しました",
		slog.String("base", base),
		slog.Int("currency_count", len(parsed.ConversionRates)),
	)
	return parsed.ConversionRates, nil
}
