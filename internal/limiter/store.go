package limiter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"

	atomicio "github.com/sawpanic/phasegate/internal/io"
)

// FileCounterStore keeps counters in a JSON file written atomically.
type FileCounterStore struct {
	path string
}

// NewFileCounterStore returns a store backed by path.
func NewFileCounterStore(path string) *FileCounterStore {
	return &FileCounterStore{path: path}
}

type counterFile struct {
	SavedAt time.Time      `json:"saved_at"`
	Counts  map[string]int `json:"counts"`
}

// Load returns an empty map when the file does not exist yet.
func (s *FileCounterStore) Load(ctx context.Context) (map[string]int, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return map[string]int{}, nil
	}
	if err != nil {
		return nil, err
	}

	var doc counterFile
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", s.path, err)
	}
	if doc.Counts == nil {
		doc.Counts = map[string]int{}
	}
	return doc.Counts, nil
}

func (s *FileCounterStore) Save(ctx context.Context, counts map[string]int) error {
	return atomicio.WriteJSONAtomic(s.path, counterFile{
		SavedAt: time.Now().UTC(),
		Counts:  counts,
	})
}

// RedisCounterStore keeps counters in a single Redis hash, field per date.
type RedisCounterStore struct {
	client  redis.UniversalClient
	key     string
	timeout time.Duration
}

// NewRedisCounterStore returns a store writing to hash key. A non-positive
// timeout falls back to two seconds per call.
func NewRedisCounterStore(client redis.UniversalClient, key string, timeout time.Duration) *RedisCounterStore {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &RedisCounterStore{client: client, key: key, timeout: timeout}
}

func (s *RedisCounterStore) Load(ctx context.Context) (map[string]int, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	raw, err := s.client.HGetAll(ctx, s.key).Result()
	if err != nil {
		return nil, fmt.Errorf("redis HGETALL %s: %w", s.key, err)
	}

	counts := make(map[string]int, len(raw))
	for field, value := range raw {
		n, err := strconv.Atoi(value)
		if err != nil {
			return nil, fmt.Errorf("invalid counter %s=%q: %w", field, value, err)
		}
		counts[field] = n
	}
	return counts, nil
}

// Save replaces the hash content in a single MULTI/EXEC.
func (s *RedisCounterStore) Save(ctx context.Context, counts map[string]int) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	fields := make([]string, 0, len(counts))
	for field := range counts {
		fields = append(fields, field)
	}
	sort.Strings(fields)

	values := make([]interface{}, 0, 2*len(fields))
	for _, field := range fields {
		values = append(values, field, counts[field])
	}

	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.key)
		if len(values) > 0 {
			pipe.HSet(ctx, s.key, values...)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis save %s: %w", s.key, err)
	}
	return nil
}
