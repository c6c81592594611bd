package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/minus-twelve/csrfguard/types"
	"github.com/redis/go-redis/v9"
)

const (
	defaultPrefix   = "sess:"
	defaultRedisTTL = 24 * time.Hour
	swapRetries     = 3
)

type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

func NewRedisStore(cfg types.RedisConfig) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", cfg.Addr, err)
	}

	return NewRedisStoreWithClient(client, cfg.Prefix, cfg.TTL), nil
}

func NewRedisStoreWithClient(client *redis.Client, prefix string, ttl time.Duration) *RedisStore {
	if prefix == "" {
		prefix = defaultPrefix
	}
	if ttl <= 0 {
		ttl = defaultRedisTTL
	}
	return &RedisStore{
		client: client,
		prefix: prefix,
		ttl:    ttl,
	}
}

func (r *RedisStore) sessionKey(token string) string {
	return r.prefix + "session:" + token
}

func (r *RedisStore) userKey(userID string) string {
	return r.prefix + "user_sessions:" + userID
}

func (r *RedisStore) Save(ctx context.Context, token string, session types.SessionData) error {
	session.LastActivity = time.Now()

	data, err := json.Marshal(session)
	if err != nil {
		return err
	}

	pipe := r.client.TxPipeline()
	pipe.SetEx(ctx, r.sessionKey(token), data, r.ttl)
	pipe.SAdd(ctx, r.userKey(session.UserID), token)
	pipe.Expire(ctx, r.userKey(session.UserID), r.ttl)

	_, err = pipe.Exec(ctx)
	return err
}

func (r *RedisStore) Get(ctx context.Context, token string) (types.SessionData, error) {
	data, err := r.client.Get(ctx, r.sessionKey(token)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return types.SessionData{}, types.ErrSessionNotFound
		}
		return types.SessionData{}, err
	}

	var session types.SessionData
	if err := json.Unmarshal(data, &session); err != nil {
		return types.SessionData{}, err
	}

	return session, nil
}

// SwapCSRFToken runs an optimistic WATCH/MULTI transaction on the session key.
// A concurrent write to the key aborts the transaction and is retried; a
// token that no longer matches expected is reported as stale.
func (r *RedisStore) SwapCSRFToken(ctx context.Context, token, expected, next string) error {
	key := r.sessionKey(token)

	swap := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return types.ErrSessionNotFound
			}
			return err
		}

		var session types.SessionData
		if err := json.Unmarshal(data, &session); err != nil {
			return err
		}
		if session.CSRFToken != expected {
			return types.ErrCSRFTokenStale
		}

		session.CSRFToken = next
		session.LastActivity = time.Now()
		updated, err := json.Marshal(session)
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.SetEx(ctx, key, updated, r.ttl)
			return nil
		})
		return err
	}

	for i := 0; i < swapRetries; i++ {
		err := r.client.Watch(ctx, swap, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return types.ErrCSRFTokenStale
}

func (r *RedisStore) Delete(ctx context.Context, token string) error {
	session, err := r.Get(ctx, token)
	if err != nil {
		if errors.Is(err, types.ErrSessionNotFound) {
			return nil
		}
		return err
	}

	pipe := r.client.TxPipeline()
	pipe.Del(ctx, r.sessionKey(token))
	pipe.SRem(ctx, r.userKey(session.UserID), token)
	_, err = pipe.Exec(ctx)
	return err
}

// Touch extends the TTL of the session key and of its user index.
func (r *RedisStore) Touch(ctx context.Context, token string) error {
	session, err := r.Get(ctx, token)
	if err != nil {
		return err
	}

	pipe := r.client.TxPipeline()
	sessionTTL := pipe.Expire(ctx, r.sessionKey(token), r.ttl)
	pipe.Expire(ctx, r.userKey(session.UserID), r.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return err
	}
	if !sessionTTL.Val() {
		return types.ErrSessionNotFound
	}
	return nil
}

// Cleanup is a no-op: redis expires session keys on its own.
func (r *RedisStore) Cleanup(context.Context, time.Duration) error {
	return nil
}

func (r *RedisStore) GetAllByUserID(ctx context.Context, userID string) ([]string, error) {
	tokens, err := r.client.SMembers(ctx, r.userKey(userID)).Result()
	if err != nil {
		return nil, err
	}

	var validTokens []string
	for _, token := range tokens {
		exists, err := r.client.Exists(ctx, r.sessionKey(token)).Result()
		if err != nil {
			return nil, err
		}
		if exists == 1 {
			validTokens = append(validTokens, token)
		} else {
			r.client.SRem(ctx, r.userKey(userID), token)
		}
	}

	return validTokens, nil
}

func (r *RedisStore) Close() error {
	return r.client.Close()
}
