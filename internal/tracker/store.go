package tracker

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/redis/go-redis/v9"
)

// Store persists the set of identity keys seen by previous runs. Replace
// must be atomic: a crash leaves either the old or the new set, never a mix.
type Store interface {
	Load(ctx context.Context) (map[string]struct{}, error)
	Replace(ctx context.Context, keys map[string]struct{}) error
}

// FileStore keeps keys in a newline-delimited file
type FileStore struct {
	path string
}

// NewFileStore creates a file-backed store
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Load reads the key file. A missing file is an empty set.
func (s *FileStore) Load(_ context.Context) (map[string]struct{}, error) {
	keys := make(map[string]struct{})

	f, err := os.Open(s.path)
	if os.IsNotExist(err) {
		return keys, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open seen file: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		if k := strings.TrimSpace(scanner.Text()); k != "" {
			keys[k] = struct{}{}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read seen file: %w", err)
	}
	return keys, nil
}

// Replace writes all keys to a temp file in the same directory, syncs it and
// renames it over the previous file.
func (s *FileStore) Replace(_ context.Context, keys map[string]struct{}) error {
	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp seen file: %w", err)
	}
	defer os.Remove(tmp.Name())

	w := bufio.NewWriter(tmp)
	for _, k := range sortedKeys(keys) {
		w.WriteString(k)
		w.WriteByte('\n')
	}
	if err := w.Flush(); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp seen file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync temp seen file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp seen file: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("replace seen file: %w", err)
	}
	return nil
}

// RedisStore keeps keys in a Redis set
type RedisStore struct {
	client redis.UniversalClient
	key    string
	batch  int
}

// NewRedisStore creates a Redis-backed store on the given set key
func NewRedisStore(client redis.UniversalClient, key string) *RedisStore {
	return &RedisStore{client: client, key: key, batch: 500}
}

// Load returns the members of the set
func (s *RedisStore) Load(ctx context.Context) (map[string]struct{}, error) {
	keys := make(map[string]struct{})
	iter := s.client.SScan(ctx, s.key, 0, "", int64(s.batch)).Iterator()
	for iter.Next(ctx) {
		keys[iter.Val()] = struct{}{}
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("scan seen set: %w", err)
	}
	return keys, nil
}

// Replace fills a staging set and renames it over the live key, so readers
// never observe a partially written set.
func (s *RedisStore) Replace(ctx context.Context, keys map[string]struct{}) error {
	staging := s.key + ":staging"
	if err := s.client.Del(ctx, staging).Err(); err != nil {
		return fmt.Errorf("clear staging set: %w", err)
	}
	if len(keys) == 0 {
		return s.client.Del(ctx, s.key).Err()
	}

	sorted := sortedKeys(keys)
	for start := 0; start < len(sorted); start += s.batch {
		end := min(start+s.batch, len(sorted))
		members := make([]interface{}, 0, end-start)
		for _, k := range sorted[start:end] {
			members = append(members, k)
		}
		if err := s.client.SAdd(ctx, staging, members...).Err(); err != nil {
			return fmt.Errorf("stage seen keys: %w", err)
		}
	}

	if err := s.client.Rename(ctx, staging, s.key).Err(); err != nil {
		return fmt.Errorf("swap seen set: %w", err)
	}
	return nil
}

func sortedKeys(keys map[string]struct{}) []string {
	out := make([]string, 0, len(keys))
	for k := range keys {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
