package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"time"

	"github.com/redis/go-redis/v9"

	"adstudio/internal/domain"
	"adstudio/internal/infra"
	"adstudio/internal/sqlinline"
)

type historyDocument struct {
	Version int                    `json:"version"`
	Runs    []domain.GenerationRun `json:"runs"`
}

const historyVersion = 1

func encodeHistory(runs []domain.GenerationRun, maxLen int) ([]byte, int, error) {
	if maxLen >= 0 && len(runs) > maxLen {
		runs = runs[:maxLen]
	}
	data, err := json.Marshal(historyDocument{Version: historyVersion, Runs: runs})
	return data, len(runs), err
}

func decodeHistory(data []byte) ([]domain.GenerationRun, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var doc historyDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrCorruptedHistory, err)
	}
	if doc.Version != historyVersion {
		return nil, fmt.Errorf("%w: unknown version %d", domain.ErrCorruptedHistory, doc.Version)
	}
	return doc.Runs, nil
}

// FileHistory keeps each history list as a JSON document in the FileStore.
type FileHistory struct {
	store *FileStore
}

func NewFileHistory(store *FileStore) *FileHistory {
	return &FileHistory{store: store}
}

func (h *FileHistory) key(key string) string {
	return path.Join("history", IdentityKey(key)+".json")
}

func (h *FileHistory) Put(ctx context.Context, key string, runs []domain.GenerationRun, maxLen int) error {
	data, _, err := encodeHistory(runs, maxLen)
	if err != nil {
		return err
	}
	_, err = h.store.Write(ctx, h.key(key), data)
	return err
}

func (h *FileHistory) Get(ctx context.Context, key string) ([]domain.GenerationRun, error) {
	data, err := h.store.Read(ctx, h.key(key))
	if errors.Is(err, domain.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return decodeHistory(data)
}

// RedisHistory stores history lists as string values with an optional TTL.
type RedisHistory struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

func NewRedisHistory(client redis.UniversalClient, prefix string, ttl time.Duration) *RedisHistory {
	if prefix == "" {
		prefix = "adstudio:history:"
	}
	return &RedisHistory{client: client, prefix: prefix, ttl: ttl}
}

func (h *RedisHistory) Put(ctx context.Context, key string, runs []domain.GenerationRun, maxLen int) error {
	data, _, err := encodeHistory(runs, maxLen)
	if err != nil {
		return err
	}
	return h.client.Set(ctx, h.prefix+key, data, h.ttl).Err()
}

func (h *RedisHistory) Get(ctx context.Context, key string) ([]domain.GenerationRun, error) {
	data, err := h.client.Get(ctx, h.prefix+key).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return decodeHistory(data)
}

// PGHistory keeps one jsonb document per history key.
type PGHistory struct {
	db infra.SQLExecutor
}

func NewPGHistory(db infra.SQLExecutor) *PGHistory {
	return &PGHistory{db: db}
}

func (h *PGHistory) Put(ctx context.Context, key string, runs []domain.GenerationRun, maxLen int) error {
	data, n, err := encodeHistory(runs, maxLen)
	if err != nil {
		return err
	}
	_, err = h.db.Exec(ctx, sqlinline.QUpsertHistory, key, data, n)
	return err
}

func (h *PGHistory) Get(ctx context.Context, key string) ([]domain.GenerationRun, error) {
	var data []byte
	if err := h.db.QueryRow(ctx, sqlinline.QSelectHistory, key).Scan(&data); err != nil {
		if infra.IsNoRows(err) {
			return nil, nil
		}
		return nil, err
	}
	return decodeHistory(data)
}

var (
	_ domain.HistoryRepository = (*FileHistory)(nil)
	_ domain.HistoryRepository = (*RedisHistory)(nil)
	_ domain.HistoryRepository = (*PGHistory)(nil)
)
