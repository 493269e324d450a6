package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	jobKeyPrefix = "job:"

	maxUpdateAttempts = 16
)

// RecordStore はジョブ記録の保存先です。Update の mutate はエラーを返すと更新を中止します。
type RecordStore interface {
	Create(ctx context.Context, record *Record) error
	Get(ctx context.Context, jobID string) (*Record, error)
	Update(ctx context.Context, jobID string, mutate func(*Record) error) (*Record, error)
	Delete(ctx context.Context, jobID string) error
}

// Store はジョブ状態を Redis に保存します。
type Store struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewStore は Store を作成します。
func NewStore(rdb *redis.Client, ttl time.Duration) *Store {
	return &Store{
		rdb: rdb,
		ttl: ttl,
	}
}

// NewRedisStore は接続URLから Redis クライアントを作成し、Store を返します。
func NewRedisStore(redisURL string, ttl time.Duration) (*Store, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}
	return NewStore(redis.NewClient(opt), ttl), nil
}

// Create は新しいジョブ記録を保存します。同じIDが既に存在する場合はエラーです。
func (s *Store) Create(ctx context.Context, record *Record) error {
	if record == nil || record.JobID == "" {
		return fmt.Errorf("record with jobID is required")
	}
	payload, err := json.Marshal(record)
	if err != nil {
		return err
	}
	ok, err := s.rdb.SetNX(ctx, jobKey(record.JobID), payload, s.ttl).Result()
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("job already exists: %s", record.JobID)
	}
	return nil
}

// Get はジョブ情報を取得します。存在しない場合は ErrJobNotFound を返します。
func (s *Store) Get(ctx context.Context, jobID string) (*Record, error) {
	if jobID == "" {
		return nil, ErrJobNotFound
	}
	data, err := s.rdb.Get(ctx, jobKey(jobID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrJobNotFound
		}
		return nil, err
	}
	return decodeRecord(data)
}

// Update は WATCH による楽観ロックで記録を書き換えます。有効期限は作成時のものを引き継ぎます。
func (s *Store) Update(ctx context.Context, jobID string, mutate func(*Record) error) (*Record, error) {
	key := jobKey(jobID)
	var updated *Record
	txf := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return ErrJobNotFound
			}
			return err
		}
		record, err := decodeRecord(data)
		if err != nil {
			return err
		}
		if err := mutate(record); err != nil {
			return err
		}
		record.UpdatedAt = time.Now().UTC()
		payload, err := json.Marshal(record)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.SetArgs(ctx, key, payload, redis.SetArgs{KeepTTL: true})
			return nil
		})
		if err == nil {
			updated = record
		}
		return err
	}

	for range maxUpdateAttempts {
		err := s.rdb.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return updated, nil
	}
	return nil, fmt.Errorf("job %s: too many concurrent updates", jobID)
}

// Delete はジョブ記録を削除します。
func (s *Store) Delete(ctx context.Context, jobID string) error {
	return s.rdb.Del(ctx, jobKey(jobID)).Err()
}

func decodeRecord(data []byte) (*Record, error) {
	var record Record
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("ジョブ記録の解析に失敗しました: %w", err)
	}
	return &record, nil
}

func jobKey(id string) string {
	return jobKeyPrefix + id
}
