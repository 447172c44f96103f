// Package currency は求人の給与表示に使う為替換算を提供する。
//
// 為替レートはリモートAPIから取得し、メモリと永続ストアの2層にTTL付きで
// キャッシュする。取得に失敗した場合は期限切れのキャッシュ、それも無ければ
// 組み込みの概算レート表を返すため、レート取得自体はエラーにならない。
package currency

import (
	"errors"
	"maps"
	"regexp"
	"strings"
	"time"
)

// DefaultTTL はキャッシュが新鮮とみなされる期間。
const DefaultTTL = time.Hour

// cacheKeyPrefix は永続ストアのキー接頭辞。基準通貨ごとに1エントリを持つ。
const cacheKeyPrefix = "exchange_rates_cache:"

// ErrRateUnavailable は換算先通貨のレートが解決できなかったことを表す。
var ErrRateUnavailable = errors.New("exchange rate unavailable")

var codePattern = regexp.MustCompile(`^[A-Z]{3}$`)

// NormalizeCode は通貨コードを大文字に正規化する。
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// IsValidCode は3文字の英大文字コードかを返す。
func IsValidCode(code string) bool {
	return codePattern.MatchString(code)
}

// Snapshot はある時点で取得した為替レート表。生成後は変更しない。
type Snapshot struct {
	Base      string
	Rates     map[string]float64
	FetchedAt time.Time
	// Stale はTTLを過ぎたキャッシュを取得失敗時の代替として返したことを示す。
	Stale bool
	// Builtin は組み込みの概算レート表であることを示す。FetchedAtはゼロ値になる。
	Builtin bool
}

// newSnapshot はratesをコピーしてSnapshotを作る。Rates[base]は常に1。
func newSnapshot(base string, rates map[string]float64, fetchedAt time.Time) Snapshot {
	copied := make(map[string]float64, len(rates)+1)
	maps.Copy(copied, rates)
	copied[base] = 1
	return Snapshot{Base: base, Rates: copied, FetchedAt: fetchedAt}
}

// clone は呼び出し元がRatesを書き換えてもキャッシュに影響しないようにコピーを返す。
func (s Snapshot) clone() Snapshot {
	s.Rates = maps.Clone(s.Rates)
	return s
}

// Age はnow時点でのスナップショットの経過時間を返す。
func (s Snapshot) Age(now time.Time) time.Duration {
	return now.Sub(s.FetchedAt)
}

func cacheKey(base string) string {
	return cacheKeyPrefix + base
}
