package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/zhouzirui/z-chat/backend/internal/memory"
	"github.com/zhouzirui/z-chat/backend/internal/model/chat"
)

const (
	sessionKeyPrefix = "chat:session:"
	defaultTTL       = 24 * time.Hour
)

// Record is the persisted form of a session. Settings never carry the API key.
type Record struct {
	Session chat.Session `json:"session"`
	Memory  memory.State `json:"memory"`
}

// Store persists session records between process restarts.
type Store interface {
	Save(ctx context.Context, record Record) error
	// Load returns ErrSessionNotFound when no record exists.
	Load(ctx context.Context, id string) (Record, error)
	Delete(ctx context.Context, id string) error
	// Touch extends the record's expiry. It returns ErrSessionNotFound when
	// the record is gone.
	Touch(ctx context.Context, id string) error
	Close() error
}

// memoryStore keeps serialized records in process.
type memoryStore struct {
	mu      sync.RWMutex
	ttl     time.Duration
	records map[string]memoryRecord
}

type memoryRecord struct {
	data    []byte
	expires time.Time
}

// NewMemoryStore returns a process-local Store. Records expire ttl after their
// last save, load or touch; a non-positive ttl keeps them forever.
func NewMemoryStore(ttl time.Duration) Store {
	return &memoryStore{ttl: ttl, records: make(map[string]memoryRecord)}
}

func (s *memoryStore) expiry(now time.Time) time.Time {
	if s.ttl <= 0 {
		return time.Time{}
	}
	return now.Add(s.ttl)
}

func (s *memoryStore) Save(_ context.Context, record Record) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encode session record: %w", err)
	}

	s.mu.Lock()
	s.records[record.Session.ID] = memoryRecord{data: data, expires: s.expiry(time.Now())}
	s.mu.Unlock()
	return nil
}

func (s *memoryStore) Load(ctx context.Context, id string) (Record, error) {
	if err := s.Touch(ctx, id); err != nil {
		return Record{}, err
	}

	s.mu.RLock()
	stored, ok := s.records[id]
	s.mu.RUnlock()
	if !ok {
		return Record{}, ErrSessionNotFound
	}
	return decodeRecord(stored.data)
}

func (s *memoryStore) Touch(_ context.Context, id string) error {
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.records[id]
	if !ok {
		return ErrSessionNotFound
	}
	if !stored.expires.IsZero() && !now.Before(stored.expires) {
		delete(s.records, id)
		return ErrSessionNotFound
	}
	stored.expires = s.expiry(now)
	s.records[id] = stored
	return nil
}

func (s *memoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	delete(s.records, id)
	s.mu.Unlock()
	return nil
}

func (s *memoryStore) purgeExpired(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, stored := range s.records {
		if !stored.expires.IsZero() && !now.Before(stored.expires) {
			delete(s.records, id)
		}
	}
}

func (s *memoryStore) Close() error { return nil }

// RedisStore persists records as JSON under chat:session:<id> with a sliding TTL.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisStore creates a Redis-backed Store.
func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &RedisStore{client: client, ttl: ttl}
}

func (s *RedisStore) Save(ctx context.Context, record Record) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encode session record: %w", err)
	}
	return s.client.Set(ctx, s.key(record.Session.ID), data, s.ttl).Err()
}

// Load refreshes the TTL on every read.
func (s *RedisStore) Load(ctx context.Context, id string) (Record, error) {
	key := s.key(id)
	data, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return Record{}, ErrSessionNotFound
	}
	if err != nil {
		return Record{}, err
	}

	record, err := decodeRecord(data)
	if err != nil {
		return Record{}, err
	}

	if err := s.client.Expire(ctx, key, s.ttl).Err(); err != nil {
		log.Printf("[chat] refresh ttl for session=%s: %v", id, err)
	}
	return record, nil
}

func (s *RedisStore) Touch(ctx context.Context, id string) error {
	ok, err := s.client.Expire(ctx, s.key(id), s.ttl).Result()
	if err != nil {
		return err
	}
	if !ok {
		return ErrSessionNotFound
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, id string) error {
	return s.client.Del(ctx, s.key(id)).Err()
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) key(id string) string {
	return sessionKeyPrefix + id
}

func decodeRecord(data []byte) (Record, error) {
	var record Record
	if err := json.Unmarshal(data, &record); err != nil {
		return Record{}, fmt.Errorf("decode session record: %w", err)
	}
	return record, nil
}
