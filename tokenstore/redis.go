// Package tokenstore keeps the device tokens reported by the feedback
// service in Redis, so that notifications are not sent to devices that
// removed the application.
package tokenstore

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	apns "github.com/mdigger/binapns"
)

// DefaultPrefix is the key prefix used when none is given.
const DefaultPrefix = "apns:token:suppressed:"

// DefaultTTL is how long a suppressed token is remembered by default.
const DefaultTTL = 30 * 24 * time.Hour

// RedisStore records suppressed tokens with the time the application was
// removed from the device.
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisStore returns a store on top of the client. Empty prefix and
// non-positive ttl select the defaults.
func NewRedisStore(client *redis.Client, prefix string, ttl time.Duration) *RedisStore {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisStore{client: client, prefix: prefix, ttl: ttl}
}

// Open connects to the Redis server at addr and checks the connection.
func Open(ctx context.Context, addr string) (*RedisStore, error) {
	opts, err := redis.ParseURL(addr)
	if err != nil {
		opts = &redis.Options{Addr: addr}
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, err
	}
	return NewRedisStore(client, "", 0), nil
}

// Close closes the Redis client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) key(token apns.DeviceToken) string {
	return s.prefix + string(token)
}

// Suppress marks the token as removed at the given time.
func (s *RedisStore) Suppress(ctx context.Context, token apns.DeviceToken, at time.Time) error {
	return s.client.Set(ctx, s.key(token), formatTime(at), s.ttl).Err()
}

// SuppressAll stores the feedback records in a single round trip.
func (s *RedisStore) SuppressAll(ctx context.Context, feedback map[apns.DeviceToken]time.Time) error {
	if len(feedback) == 0 {
		return nil
	}
	_, err := s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for token, at := range feedback {
			pipe.Set(ctx, s.key(token), formatTime(at), s.ttl)
		}
		return nil
	})
	return err
}

// Unsuppress removes the tokens from the store, for example after the
// devices registered again.
func (s *RedisStore) Unsuppress(ctx context.Context, tokens ...apns.DeviceToken) error {
	if len(tokens) == 0 {
		return nil
	}
	keys := make([]string, len(tokens))
	for i, token := range tokens {
		keys[i] = s.key(token)
	}
	return s.client.Del(ctx, keys...).Err()
}

// IsSuppressed returns true if the token is in the store.
func (s *RedisStore) IsSuppressed(ctx context.Context, token apns.DeviceToken) (bool, error) {
	exists, err := s.client.Exists(ctx, s.key(token)).Result()
	if err != nil {
		return false, err
	}
	return exists == 1, nil
}

// SuppressedAt returns the time the token was reported. The flag is false
// if the token is not in the store.
func (s *RedisStore) SuppressedAt(ctx context.Context, token apns.DeviceToken) (time.Time, bool, error) {
	value, err := s.client.Get(ctx, s.key(token)).Result()
	if errors.Is(err, redis.Nil) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	at, err := parseTime(value)
	if err != nil {
		return time.Time{}, false, err
	}
	return at, true, nil
}

// Filter splits the tokens into those that may be used and those that are
// suppressed. Both lists keep the order of tokens.
func (s *RedisStore) Filter(ctx context.Context, tokens []apns.DeviceToken) (allowed, suppressed []apns.DeviceToken, err error) {
	if len(tokens) == 0 {
		return nil, nil, nil
	}
	keys := make([]string, len(tokens))
	for i, token := range tokens {
		keys[i] = s.key(token)
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, nil, err
	}
	allowed, suppressed = split(tokens, values)
	return allowed, suppressed, nil
}

// split sorts tokens by the MGET reply: a nil value means the key is missing.
func split(tokens []apns.DeviceToken, values []interface{}) (allowed, suppressed []apns.DeviceToken) {
	allowed = make([]apns.DeviceToken, 0, len(tokens))
	for i, token := range tokens {
		if i < len(values) && values[i] != nil {
			suppressed = append(suppressed, token)
			continue
		}
		allowed = append(allowed, token)
	}
	return allowed, suppressed
}

func formatTime(t time.Time) string {
	return strconv.FormatInt(t.Unix(), 10)
}

func parseTime(value string) (time.Time, error) {
	sec, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.Unix(sec, 0), nil
}
