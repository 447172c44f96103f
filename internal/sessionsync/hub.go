package sessionsync

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// SessionSourceFactory はブラウザが提示したセッションIDに紐づくSessionSourceを返す。
type SessionSourceFactory func(sessionID string) SessionSource

// HubConfig はHubの設定。
type HubConfig struct {
	// IdleTTL は最終アクセスからこの時間を過ぎたSynchronizerを停止する。
	IdleTTL time.Duration
	// CleanupInterval は期限切れエントリの確認間隔。0の場合はIdleTTLの半分。
	CleanupInterval time.Duration
	Sync            Config
}

type hubEntry struct {
	sync       *Synchronizer
	cancel     context.CancelFunc
	lastAccess time.Time
}

// Hub はブラウザのクライアントIDごとにSynchronizerを1つ保持する。
// 必要になった時点で生成し、一定時間アクセスの無いものは停止する。
type Hub struct {
	newSessions SessionSourceFactory
	profiles    ProfileSource
	config      HubConfig
	logger      *slog.Logger
	now         func() time.Time

	mu      sync.Mutex
	entries map[string]*hubEntry
	wg      sync.WaitGroup

	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewHub はHubを生成し、バックグラウンドで期限切れエントリの掃除を開始する。
func NewHub(newSessions SessionSourceFactory, profiles ProfileSource, config HubConfig) *Hub {
	config.Sync = config.Sync.withDefaults()
	if config.IdleTTL <= 0 {
		config.IdleTTL = 30 * time.Minute
	}
	if config.CleanupInterval <= 0 {
		config.CleanupInterval = config.IdleTTL / 2
	}
	h := &Hub{
		newSessions: newSessions,
		profiles:    profiles,
		config:      config,
		logger:      config.Sync.Logger,
		now:         time.Now,
		entries:     make(map[string]*hubEntry),
		stopCh:      make(chan struct{}),
	}

	go h.cleanupLoop()

	return h
}

// Get はクライアントのSynchronizerを返す。無ければsessionIDで起動時のセッションを
// 読み込むSynchronizerを生成する。
func (h *Hub) Get(clientID, sessionID string) *Synchronizer {
	return h.GetAt(clientID, sessionID, "")
}

// GetAt はGetと同じだが、locationが空でなければUIの現在のパスとして記録する。
// 新規生成時は起動時のプロフィール読み込みより前に記録される。
func (h *Hub) GetAt(clientID, sessionID, location string) *Synchronizer {
	h.mu.Lock()
	defer h.mu.Unlock()

	select {
	case <-h.stopCh:
		// 停止後は生成しない
		s := New(h.newSessions(sessionID), h.profiles, h.config.Sync)
		s.stop()
		return s
	default:
	}

	if e, ok := h.entries[clientID]; ok {
		select {
		case <-e.sync.Done():
			// 停止済みのものは作り直す
		default:
			e.lastAccess = h.now()
			if location != "" {
				e.sync.SetLocation(location)
			}
			return e.sync
		}
	}

	s := New(h.newSessions(sessionID), h.profiles, h.config.Sync.withLogger(
		h.logger.With(slog.String("client_id", clientID)),
	))
	if location != "" {
		s.SetLocation(location)
	}
	ctx, cancel := context.WithCancel(context.Background())
	h.entries[clientID] = &hubEntry{sync: s, cancel: cancel, lastAccess: h.now()}
	h.config.Sync.Metrics.SetActiveSynchronizers(len(h.entries))

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		s.Run(ctx)
	}()

	return s
}

// Publish はクライアントのSynchronizerにイベントを送り、処理完了まで待つ。
// Synchronizerがまだ無い場合は何もしない（生成時に現在のセッションを読み込むため）。
func (h *Hub) Publish(ctx context.Context, clientID string, ev Event) error {
	h.mu.Lock()
	e, ok := h.entries[clientID]
	if ok {
		e.lastAccess = h.now()
	}
	h.mu.Unlock()

	if !ok {
		return nil
	}
	return e.sync.Send(ctx, ev)
}

// Remove はクライアントのSynchronizerを停止する。
func (h *Hub) Remove(clientID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if e, ok := h.entries[clientID]; ok {
		e.cancel()
		delete(h.entries, clientID)
		h.config.Sync.Metrics.SetActiveSynchronizers(len(h.entries))
	}
}

// Len は稼働中のSynchronizer数を返す。テストおよびメトリクス用。
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.entries)
}

// Stop は全てのSynchronizerと掃除用ゴルーチンを停止し、終了を待つ。
func (h *Hub) Stop() {
	h.mu.Lock()
	h.stopOnce.Do(func() { close(h.stopCh) })
	for id, e := range h.entries {
		e.cancel()
		delete(h.entries, id)
	}
	h.config.Sync.Metrics.SetActiveSynchronizers(0)
	h.mu.Unlock()

	h.wg.Wait()
}

func (h *Hub) cleanupLoop() {
	ticker := time.NewTicker(h.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			h.evictIdle()
		case <-h.stopCh:
			return
		}
	}
}

// evictIdle は最終アクセスからIdleTTLを超えたエントリを停止する。
func (h *Hub) evictIdle() {
	now := h.now()

	h.mu.Lock()
	defer h.mu.Unlock()

	evicted := 0
	for id, e := range h.entries {
		if now.Sub(e.lastAccess) > h.config.IdleTTL {
			e.cancel()
			delete(h.entries, id)
			evicted++
		}
	}
	if evicted > 0 {
		h.config.Sync.Metrics.SetActiveSynchronizers(len(h.entries))
		h.logger.Debug("アイドル状態のセッション同期を停止しました", slog.Int("count", evicted))
	}
}

func (c Config) withLogger(l *slog.Logger) Config {
	c.Logger = l
	return c
}
