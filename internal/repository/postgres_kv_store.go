package repository

import (
	"context"
	"database/sql"
	"fmt"
)

// PostgresKVStore はkv_storeテーブルを使ったキー・バリューストア。
// 為替レートキャッシュの永続化先として使用する。
type PostgresKVStore struct {
	db *sql.DB
}

// NewPostgresKVStore はPostgresKVStoreを生成する。
func NewPostgresKVStore(db *sql.DB) *PostgresKVStore {
	return &PostgresKVStore{db: db}
}

// Get はキーに対応する値を返す。存在しない場合はfalseを返す。
func (s *PostgresKVStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var value []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM kv_store WHERE key = $1`,
		key,
	).Scan(&value)

	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("kv_storeの読み取りに失敗しました (key=%s): %w", key, err)
	}
	return value, true, nil
}

// Set はキーに値を保存する。既存の値は置き換える。
func (s *PostgresKVStore) Set(ctx context.Context, key string, value []byte) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO kv_store (key, value, updated_at)
		 VALUES ($1, $2, now())
		 ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = now()`,
		key, value,
	)
	if err != nil {
		return fmt.Errorf("kv_storeへの書き込みに失敗しました (key=%s): %w", key, err)
	}
	return nil
}
