package weather

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps fetched series in Redis so replicas share fetches.
type RedisStore struct {
	client redis.Cmdable
	prefix string
}

// NewRedisStore creates a store on an existing client.
func NewRedisStore(client redis.Cmdable, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "pvcast:weather:"
	}
	return &RedisStore{client: client, prefix: prefix}
}

// Get loads a series. A missing key is not an error.
func (s *RedisStore) Get(ctx context.Context, key string) (*Series, error) {
	data, err := s.client.Get(ctx, s.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading series: %w", err)
	}
	return DecodeSeries(data)
}

// Set stores a series with the given time to live.
func (s *RedisStore) Set(ctx context.Context, key string, series *Series, ttl time.Duration) error {
	data, err := EncodeSeries(series)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, s.prefix+key, data, ttl).Err(); err != nil {
		return fmt.Errorf("writing series: %w", err)
	}
	return nil
}

// EncodeSeries serializes a series for external storage.
func EncodeSeries(s *Series) ([]byte, error) {
	if s == nil {
		return nil, errors.New("nil series")
	}
	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("encoding series: %w", err)
	}
	return data, nil
}

// DecodeSeries parses a stored series.
func DecodeSeries(data []byte) (*Series, error) {
	var s Series
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("decoding series: %w", err)
	}
	return &s, nil
}
