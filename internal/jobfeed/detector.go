// Package jobfeed は採用企業の求人フィード（RSS/Atom）の登録を提供する。
package jobfeed

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/html"

	"github.com/hitoshi/jobboard/internal/model"
	"github.com/hitoshi/jobboard/internal/security"
)

const (
	userAgent         = "JobBoard/1.0 (+careers feed import)"
	detectTimeout     = 10 * time.Second
	maxDetectBodySize = 5 << 20
	// sniffSize はXMLのルート要素を判定するために見る先頭バイト数。
	sniffSize = 4096
)

// Kind はフィードの種類。
type Kind string

const (
	KindRSS  Kind = "rss"
	KindAtom Kind = "atom"
)

// Candidate は採用ページのheadから見つかったフィードリンク。
type Candidate struct {
	URL   string
	Kind  Kind
	Title string
}

// Detector は採用ページURLから求人フィードURLを特定する。
type Detector struct {
	guard security.URLGuard
}

// NewDetector はDetectorを生成する。guardがnilの場合はSSRF検証を行わない（テスト用）。
func NewDetector(guard security.URLGuard) *Detector {
	return &Detector{guard: guard}
}

// Detect は入力URLがフィードならそのまま、HTMLならheadのalternateリンクから
// 最適なフィードURLを返す。
func (d *Detector) Detect(ctx context.Context, inputURL string) (string, error) {
	inputURL = strings.TrimSpace(inputURL)
	if inputURL == "" {
		return "", model.NewInvalidURLError("URLが入力されていません")
	}
	if d.guard != nil {
		if err := d.guard.ValidateURL(inputURL); err != nil {
			return "", model.NewSSRFBlockedError()
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, inputURL, nil)
	if err != nil {
		return "", model.NewInvalidURLError(err.Error())
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/rss+xml, application/atom+xml, application/xml, text/xml, text/html;q=0.9, */*;q=0.5")

	resp, err := d.client().Do(req)
	if err != nil {
		return "", model.NewFetchFailedError(err.Error())
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", model.NewFetchFailedError(fmt.Sprintf("HTTPステータス %d", resp.StatusCode))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxDetectBodySize))
	if err != nil {
		return "", model.NewFetchFailedError(fmt.Sprintf("レスポンスの読み取りに失敗: %v", err))
	}

	mediaType := mediaTypeOf(resp.Header.Get("Content-Type"))
	if IsFeed(mediaType, body) {
		return inputURL, nil
	}
	if !strings.Contains(mediaType, "html") {
		return "", model.NewFeedNotDetectedError(inputURL)
	}

	best := SelectBest(FindFeedLinks(body, inputURL), inputURL)
	if best == nil {
		return "", model.NewFeedNotDetectedError(inputURL)
	}
	return best.URL, nil
}

func (d *Detector) client() *http.Client {
	if d.guard != nil {
		return d.guard.NewSafeClient(detectTimeout)
	}
	return &http.Client{Timeout: detectTimeout}
}

func mediaTypeOf(contentType string) string {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType = strings.TrimSpace(strings.Split(contentType, ";")[0])
	}
	return strings.ToLower(mediaType)
}

// IsFeed はメディアタイプとボディからRSS/Atomフィードかを判定する。
// text/xml、application/xmlの場合はボディ先頭のルート要素で判定する。
func IsFeed(mediaType string, body []byte) bool {
	switch mediaTypeOf(mediaType) {
	case "application/rss+xml", "application/atom+xml":
		return true
	case "text/xml", "application/xml":
		return looksLikeFeed(body)
	default:
		return false
	}
}

func looksLikeFeed(body []byte) bool {
	if len(body) > sniffSize {
		body = body[:sniffSize]
	}
	head := strings.ToLower(string(body))

	switch {
	case strings.Contains(head, "<rss"), strings.Contains(head, "<rdf:rdf"):
		return true
	case strings.Contains(head, "<feed") && strings.Contains(head, "http://www.w3.org/2005/atom"):
		return true
	}
	return false
}

// FindFeedLinks はHTMLのheadからrel="alternate"のRSS/Atomリンクを抽出する。
// 相対URLはpageURLを基準に解決する。
func FindFeedLinks(htmlBody []byte, pageURL string) []Candidate {
	base, err := url.Parse(pageURL)
	if err != nil {
		return nil
	}

	var found []Candidate
	z := html.NewTokenizer(bytes.NewReader(htmlBody))
	inHead := false

	for {
		switch z.Next() {
		case html.ErrorToken:
			return found

		case html.EndTagToken:
			if name, _ := z.TagName(); string(name) == "head" {
				return found
			}

		case html.StartTagToken, html.SelfClosingTagToken:
			name, hasAttr := z.TagName()
			switch string(name) {
			case "head":
				inHead = true
				continue
			case "body":
				return found
			case "link":
			default:
				continue
			}
			if !inHead || !hasAttr {
				continue
			}

			attrs := readAttrs(z)
			if !hasToken(attrs["rel"], "alternate") || attrs["href"] == "" {
				continue
			}

			var kind Kind
			switch strings.ToLower(attrs["type"]) {
			case "application/rss+xml":
				kind = KindRSS
			case "application/atom+xml":
				kind = KindAtom
			default:
				continue
			}

			ref, err := url.Parse(attrs["href"])
			if err != nil {
				continue
			}
			found = append(found, Candidate{
				URL:   base.ResolveReference(ref).String(),
				Kind:  kind,
				Title: attrs["title"],
			})
		}
	}
}

func readAttrs(z *html.Tokenizer) map[string]string {
	attrs := make(map[string]string)
	for {
		key, val, more := z.TagAttr()
		attrs[strings.ToLower(string(key))] = string(val)
		if !more {
			return attrs
		}
	}
}

// hasToken はrel="alternate nofollow"のような空白区切りの値にtokenが含まれるかを返す。
func hasToken(value, token string) bool {
	for _, f := range strings.Fields(strings.ToLower(value)) {
		if f == token {
			return true
		}
	}
	return false
}

// jobKeywords はタイトルやURLに含まれていれば求人フィードとみなす語。
var jobKeywords = []string{"job", "career", "hiring", "vacanc", "opening", "求人", "採用"}

// SelectBest は候補から最適なフィードを選ぶ。
// 優先順位: 求人らしいタイトル/URL > 同一ホスト > Atom > 先頭
func SelectBest(candidates []Candidate, pageURL string) *Candidate {
	if len(candidates) == 0 {
		return nil
	}

	pageHost := hostOf(pageURL)
	best, bestScore := 0, -1
	for i, c := range candidates {
		score := 0
		if isJobFeed(c) {
			score += 1000
		}
		if hostOf(c.URL) == pageHost {
			score += 100
		}
		if c.Kind == KindAtom {
			score += 10
		}
		if score > bestScore {
			best, bestScore = i, score
		}
	}
	return &candidates[best]
}

func isJobFeed(c Candidate) bool {
	text := strings.ToLower(c.Title + " " + c.URL)
	for _, kw := range jobKeywords {
		if strings.Contains(text, kw) {
			return true
		}
	}
	return false
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}
