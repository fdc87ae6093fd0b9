package agentstate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Store loads and saves State.
//
// Load always returns a usable state. A non-nil error alongside it explains
// why a fresh state was substituted (corrupt data, unreachable backend).
type Store interface {
	Load(ctx context.Context) (*State, error)
	Save(ctx context.Context, s *State) error
	Describe() string
}

// Load reads the state file at path. A missing file yields a fresh state and
// no error; an unreadable or corrupt file yields a fresh state and an error.
func Load(path string) (*State, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return New(), nil
		}
		return New(), fmt.Errorf("read state file: %w", err)
	}
	if strings.TrimSpace(string(b)) == "" {
		return New(), fmt.Errorf("state file %s is empty", path)
	}

	s := New()
	if err := json.Unmarshal(b, s); err != nil {
		return New(), fmt.Errorf("parse state file: %w", err)
	}
	return s, nil
}

// Save writes s to path with an atomic replace: the data goes to a temporary
// file in the same directory which is then renamed over the destination.
func (s *State) Save(path string) error {
	path = strings.TrimSpace(path)
	if path == "" {
		return errors.New("state path is empty")
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}

	b, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}
	b = append(b, '\n')

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp.*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(b); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp state file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync temp state file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp state file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("rename state file: %w", err)
	}
	return nil
}

// FileStore keeps state in a JSON file.
type FileStore struct {
	Path string
}

// NewFileStore returns a FileStore for path.
func NewFileStore(path string) *FileStore {
	return &FileStore{Path: strings.TrimSpace(path)}
}

func (f *FileStore) Load(context.Context) (*State, error) {
	return Load(f.Path)
}

func (f *FileStore) Save(_ context.Context, s *State) error {
	return s.Save(f.Path)
}

func (f *FileStore) Describe() string {
	return "file:" + f.Path
}

// KV is the subset of the Redis client used by RedisStore.
type KV interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
}

// DefaultRedisKey is the key used when none is configured.
const DefaultRedisKey = "beacon:state"

// RedisStore keeps state as a single JSON value. A SET replaces the value
// atomically, so readers never observe a partial document.
type RedisStore struct {
	client KV
	key    string
}

// NewRedisStore returns a store writing to key. An empty key uses
// DefaultRedisKey.
func NewRedisStore(client KV, key string) *RedisStore {
	key = strings.TrimSpace(key)
	if key == "" {
		key = DefaultRedisKey
	}
	return &RedisStore{client: client, key: key}
}

// NewRedisClient builds a client from a redis:// URL.
func NewRedisClient(url string) (*redis.Client, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return redis.NewClient(opt), nil
}

func (r *RedisStore) Load(ctx context.Context) (*State, error) {
	raw, err := r.client.Get(ctx, r.key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return New(), nil
		}
		return New(), fmt.Errorf("redis get %s: %w", r.key, err)
	}
	s := New()
	if err := json.Unmarshal([]byte(raw), s); err != nil {
		return New(), fmt.Errorf("parse state %s: %w", r.key, err)
	}
	return s, nil
}

func (r *RedisStore) Save(ctx context.Context, s *State) error {
	b, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}
	if err := r.client.Set(ctx, r.key, b, 0).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", r.key, err)
	}
	return nil
}

func (r *RedisStore) Describe() string {
	return "redis:" + r.key
}
