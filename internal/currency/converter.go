package currency

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hitoshi/jobboard/internal/metrics"
)

// Converter は為替レートのキャッシュと換算を行う。
//
// 解決順序:
//  1. メモリ上のTTL内エントリ
//  2. 永続ストア上のTTL内エントリ（メモリに載せ直す）
//  3. レートAPIからの取得（成功時は永続ストアとメモリを置き換える）
//  4. 取得失敗時は期限切れでも最新のキャッシュ
//  5. それも無ければ組み込みの概算レート表
//
// 同じ基準通貨への同時呼び出しは合流させない。
type Converter struct {
	fetcher RateFetcher
	store   Store
	metrics metrics.RateMetrics
	logger  *slog.Logger
	ttl     time.Duration
	now     func() time.Time

	mu     sync.Mutex
	memory map[string]Snapshot
}

// NewConverter はConverterを生成する。ttlが0以下の場合はDefaultTTLを使う。
// recorderはnilでもよい。
func NewConverter(fetcher RateFetcher, store Store, recorder metrics.RateMetrics, logger *slog.Logger, ttl time.Duration) *Converter {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if recorder == nil {
		recorder = noopMetrics{}
	}
	return &Converter{
		fetcher: fetcher,
		store:   store,
		metrics: recorder,
		logger:  logger,
		ttl:     ttl,
		now:     time.Now,
		memory:  make(map[string]Snapshot),
	}
}

// GetRates はbase基準のレート表を返す。エラーにはならない。
func (c *Converter) GetRates(ctx context.Context, base string) map[string]float64 {
	return c.Snapshot(ctx, base).Rates
}

// Convert はamountをfromからtoへ換算する。
// from == to の場合はレートを解決せずにamountをそのまま返す。
// 解決したレート表にtoが含まれない場合はErrRateUnavailableを返す。
func (c *Converter) Convert(ctx context.Context, amount float64, from, to string) (float64, error) {
	from, to = NormalizeCode(from), NormalizeCode(to)
	if from == to {
		return amount, nil
	}
	rate, ok := c.GetRates(ctx, from)[to]
	if !ok {
		return 0, fmt.Errorf("%w: %s -> %s", ErrRateUnavailable, from, to)
	}
	return amount * rate, nil
}

// Snapshot はGetRatesと同じ順序でレート表を解決し、取得時刻と由来を併せて返す。
func (c *Converter) Snapshot(ctx context.Context, base string) Snapshot {
	base = NormalizeCode(base)
	now := c.now()

	mem, inMemory := c.fromMemory(base)
	if inMemory && mem.Age(now) < c.ttl {
		c.metrics.RecordRateCacheHit("memory")
		return mem.clone()
	}

	stored, inStore := c.fromStore(ctx, base)
	if inStore && stored.Age(now) < c.ttl {
		c.metrics.RecordRateCacheHit("store")
		c.remember(stored)
		return stored.clone()
	}

	c.metrics.RecordRateCacheMiss()
	start := time.Now()
	rates, err := c.fetcher.FetchRates(ctx, base)
	c.metrics.RecordRateFetchLatency(time.Since(start))
	if err == nil {
		snap := newSnapshot(base, rates, now)
		c.remember(snap)
		c.persist(ctx, snap)
		return snap.clone()
	}

	c.metrics.RecordRateFetchFailure(fetchReason(err))

	// 期限切れでも手元で最も新しいものを返す
	var stale Snapshot
	var haveStale bool
	switch {
	case inMemory && inStore:
		stale, haveStale = mem, true
		if stored.FetchedAt.After(mem.FetchedAt) {
			stale = stored
		}
	case inMemory:
		stale, haveStale = mem, true
	case inStore:
		stale, haveStale = stored, true
	}
	if haveStale {
		c.logger.Warn("為替レートの取得に失敗したため期限切れのキャッシュを使用します",
			slog.String("base", base),
			slog.Time("fetched_at", stale.FetchedAt),
			slog.String("error", err.Error()),
		)
		c.metrics.RecordRateFallback("stale")
		stale = stale.clone()
		stale.Stale = true
		return stale
	}

	c.logger.Warn("為替レートの取得に失敗し、キャッシュも無いため組み込みレートを使用します",
		slog.String("base", base),
		slog.String("error", err.Error()),
	)
	c.metrics.RecordRateFallback("table")
	return Snapshot{Base: base, Rates: builtinRates(base), Builtin: true}
}

func (c *Converter) fromMemory(base string) (Snapshot, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.memory[base]
	return s, ok
}

func (c *Converter) remember(s Snapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cur, ok := c.memory[s.Base]; ok && cur.FetchedAt.After(s.FetchedAt) {
		return
	}
	c.memory[s.Base] = s
}

// fromStore は永続ストアから読み出す。読めないデータはキャッシュミスとして扱う。
func (c *Converter) fromStore(ctx context.Context, base string) (Snapshot, bool) {
	data, ok, err := c.store.Get(ctx, cacheKey(base))
	if err != nil {
		c.logger.Warn("為替レートキャッシュの読み取りに失敗しました",
			slog.String("base", base),
			slog.String("error", err.Error()),
		)
		return Snapshot{}, false
	}
	if !ok {
		return Snapshot{}, false
	}
	snap, err := decodeSnapshot(base, data)
	if err != nil {
		c.logger.Warn("破損した為替レートキャッシュを無視します",
			slog.String("base", base),
			slog.String("error", err.Error()),
		)
		return Snapshot{}, false
	}
	return snap, true
}

func (c *Converter) persist(ctx context.Context, s Snapshot) {
	data, err := encodeSnapshot(s)
	if err == nil {
		err = c.store.Set(ctx, cacheKey(s.Base), data)
	}
	if err != nil {
		c.logger.Error("為替レートキャッシュの保存に失敗しました",
			slog.String("base", s.Base),
			slog.String("error", err.Error()),
		)
	}
}

type noopMetrics struct{}

func (noopMetrics) RecordRateCacheHit(string)            {}
func (noopMetrics) RecordRateCacheMiss()                 {}
func (noopMetrics) RecordRateFetchFailure(string)        {}
func (noopMetrics) RecordRateFetchLatency(time.Duration) {}
func (noopMetrics) RecordRateFallback(string)            {}
