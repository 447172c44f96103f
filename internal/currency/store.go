package currency

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// Store は為替レートキャッシュの永続化先となるキー・バリューストア。
// 本番ではrepository.PostgresKVStore、テストではMemoryStoreを使う。
type Store interface {
	// Get はキーに対応する値を返す。存在しない場合はfalseを返す。
	Get(ctx context.Context, key string) ([]byte, bool, error)
	// Set はキーに値を保存する。既存の値は置き換える。
	Set(ctx context.Context, key string, value []byte) error
}

// MemoryStore はプロセス内で完結するStore実装。
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewMemoryStore は空のMemoryStoreを生成する。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string][]byte)}
}

func (s *MemoryStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.data[key]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), v...), true, nil
}

func (s *MemoryStore) Set(_ context.Context, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = append([]byte(nil), value...)
	return nil
}

// storedRates は永続化形式。timestampはUnixミリ秒。
type storedRates struct {
	Rates     map[string]float64 `json:"rates"`
	Timestamp int64              `json:"timestamp"`
}

func encodeSnapshot(s Snapshot) ([]byte, error) {
	return json.Marshal(storedRates{Rates: s.Rates, Timestamp: s.FetchedAt.UnixMilli()})
}

func decodeSnapshot(base string, data []byte) (Snapshot, error) {
	var stored storedRates
	if err := json.Unmarshal(data, &stored); err != nil {
		return Snapshot{}, fmt.Errorf("キャッシュデータのパースに失敗しました: %w", err)
	}
	if len(stored.Rates) == 0 || stored.Timestamp <= 0 {
		return Snapshot{}, fmt.Errorf("キャッシュデータが不完全です")
	}
	return newSnapshot(base, stored.Rates, time.UnixMilli(stored.Timestamp)), nil
}
