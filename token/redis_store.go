package token

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore persists token records, the per-subject index, and revocation
// markers in Redis. Record keys carry a TTL of the token lifetime plus the
// retention window so terminal entries age out without a remote sweep.
type RedisStore struct {
	redis     redis.UniversalClient
	prefix    string
	retention time.Duration
}

// NewRedisStore creates a RedisStore. prefix namespaces all keys; retention
// controls how long terminal records stay readable for audit.
func NewRedisStore(client redis.UniversalClient, prefix string, retention time.Duration) *RedisStore {
	if prefix == "" {
		prefix = "tpt"
	}
	if retention <= 0 {
		retention = 24 * time.Hour
	}
	return &RedisStore{redis: client, prefix: prefix, retention: retention}
}

func (s *RedisStore) key(jti string) string {
	return s.prefix + ":t:" + jti
}

func (s *RedisStore) subjectKey(subject string) string {
	return s.prefix + ":u:" + subject
}

func (s *RedisStore) revokedKey(jti string) string {
	return s.prefix + ":r:" + jti
}

func (s *RedisStore) Save(ctx context.Context, tok *Token) error {
	data, err := json.Marshal(tok)
	if err != nil {
		return err
	}

	ttl := time.Until(tok.ExpiresAt) + s.retention
	if ttl <= 0 {
		ttl = s.retention
	}

	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.key(tok.JTI), data, ttl)
		pipe.SAdd(ctx, s.subjectKey(tok.Subject), tok.JTI)
		pipe.Expire(ctx, s.subjectKey(tok.Subject), ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, jti string) (*Token, error) {
	data, err := s.redis.Get(ctx, s.key(jti)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrTokenNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	var tok Token
	if err := json.Unmarshal(data, &tok); err != nil {
		return nil, err
	}
	return &tok, nil
}

func (s *RedisStore) Update(ctx context.Context, tok *Token) error {
	key := s.key(tok.JTI)

	pttl, err := s.redis.PTTL(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if pttl == -2 {
		return ErrTokenNotFound
	}

	data, err := json.Marshal(tok)
	if err != nil {
		return err
	}

	// Preserve the remaining TTL; -1 means the key had none.
	if pttl > 0 {
		err = s.redis.Set(ctx, key, data, pttl).Err()
	} else {
		err = s.redis.Set(ctx, key, data, 0).Err()
	}
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, jti string) error {
	tok, err := s.Get(ctx, jti)
	if err != nil {
		if errors.Is(err, ErrTokenNotFound) {
			return nil
		}
		return err
	}

	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.key(jti))
		pipe.SRem(ctx, s.subjectKey(tok.Subject), jti)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

func (s *RedisStore) SubjectTokens(ctx context.Context, subject string) ([]string, error) {
	jtis, err := s.redis.SMembers(ctx, s.subjectKey(subject)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return jtis, nil
}

func (s *RedisStore) MarkRevoked(ctx context.Context, jti string, until time.Time) error {
	ttl := time.Until(until) + s.retention
	if ttl <= 0 {
		ttl = s.retention
	}
	if err := s.redis.Set(ctx, s.revokedKey(jti), 1, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

func (s *RedisStore) IsRevoked(ctx context.Context, jti string) (bool, error) {
	n, err := s.redis.Exists(ctx, s.revokedKey(jti)).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return n > 0, nil
}

// All scans every token record. O(n) over the keyspace; used only by the
// periodic sweep, never on request paths.
func (s *RedisStore) All(ctx context.Context) ([]*Token, error) {
	var (
		cursor uint64
		out    []*Token
	)

	for {
		keys, next, err := s.redis.Scan(ctx, cursor, s.prefix+":t:*", 1000).Result()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}

		for _, key := range keys {
			data, getErr := s.redis.Get(ctx, key).Bytes()
			if getErr != nil {
				if errors.Is(getErr, redis.Nil) {
					continue
				}
				return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, getErr)
			}
			var tok Token
			if err := json.Unmarshal(data, &tok); err != nil {
				continue
			}
			out = append(out, &tok)
		}

		cursor = next
		if cursor == 0 {
			break
		}
	}

	return out, nil
}
