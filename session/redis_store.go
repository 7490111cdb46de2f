package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"
)

const activityLogTTL = 30 * 24 * time.Hour

// RedisStore persists sessions, devices, and activity logs in Redis.
// Session keys carry a TTL of the remaining absolute lifetime so abandoned
// sessions age out even without a sweep; activity logs are capped lists
// that outlive the session record.
type RedisStore struct {
	redis         redis.UniversalClient
	prefix        string
	activityLimit int
}

// NewRedisStore creates a RedisStore. prefix namespaces all keys.
func NewRedisStore(client redis.UniversalClient, prefix string, activityLimit int) *RedisStore {
	if prefix == "" {
		prefix = "tps"
	}
	if activityLimit <= 0 {
		activityLimit = defaultActivityLimit
	}
	return &RedisStore{redis: client, prefix: prefix, activityLimit: activityLimit}
}

func (s *RedisStore) key(id string) string         { return s.prefix + ":s:" + id }
func (s *RedisStore) userKey(userID string) string { return s.prefix + ":u:" + userID }
func (s *RedisStore) deviceKey(id string) string   { return s.prefix + ":d:" + id }
func (s *RedisStore) logKey(id string) string      { return s.prefix + ":l:" + id }

func (s *RedisStore) sessionTTL(sess *Session) time.Duration {
	ttl := time.Until(sess.CreatedAt.Add(sess.AbsoluteTimeout))
	if ttl <= 0 {
		ttl = time.Second
	}
	return ttl
}

func (s *RedisStore) Save(ctx context.Context, sess *Session) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return err
	}

	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.key(sess.ID), data, s.sessionTTL(sess))
		pipe.SAdd(ctx, s.userKey(sess.UserID), sess.ID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, id string) (*Session, error) {
	data, err := s.redis.Get(ctx, s.key(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	var sess Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, err
	}
	return &sess, nil
}

func (s *RedisStore) Update(ctx context.Context, sess *Session) error {
	exists, err := s.redis.Exists(ctx, s.key(sess.ID)).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if exists == 0 {
		return ErrSessionNotFound
	}

	data, err := json.Marshal(sess)
	if err != nil {
		return err
	}
	if err := s.redis.Set(ctx, s.key(sess.ID), data, s.sessionTTL(sess)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, id string) error {
	sess, err := s.Get(ctx, id)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			return nil
		}
		return err
	}

	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.key(id))
		pipe.SRem(ctx, s.userKey(sess.UserID), id)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

func (s *RedisStore) UserSessions(ctx context.Context, userID string) ([]*Session, error) {
	ids, err := s.redis.SMembers(ctx, s.userKey(userID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return []*Session{}, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if len(ids) == 0 {
		return []*Session{}, nil
	}

	pipe := s.redis.Pipeline()
	cmds := make([]*redis.StringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.Get(ctx, s.key(id))
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	out := make([]*Session, 0, len(ids))
	stale := make([]interface{}, 0)
	for i, cmd := range cmds {
		data, cmdErr := cmd.Bytes()
		if cmdErr != nil {
			if errors.Is(cmdErr, redis.Nil) {
				// Session key expired out from under the index.
				stale = append(stale, ids[i])
				continue
			}
			return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, cmdErr)
		}
		var sess Session
		if err := json.Unmarshal(data, &sess); err != nil {
			continue
		}
		out = append(out, &sess)
	}

	if len(stale) > 0 {
		_ = s.redis.SRem(ctx, s.userKey(userID), stale...).Err()
	}

	sortByCreation(out)
	return out, nil
}

// All scans every live session record. O(n); used only by the sweep.
func (s *RedisStore) All(ctx context.Context) ([]*Session, error) {
	var (
		cursor uint64
		out    []*Session
	)

	for {
		keys, next, err := s.redis.Scan(ctx, cursor, s.prefix+":s:*", 1000).Result()
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
			var sess Session
			if err := json.Unmarshal(data, &sess); err != nil {
				continue
			}
			out = append(out, &sess)
		}

		cursor = next
		if cursor == 0 {
			break
		}
	}

	return out, nil
}

func (s *RedisStore) SaveDevice(ctx context.Context, device *Device) error {
	data, err := json.Marshal(device)
	if err != nil {
		return err
	}
	if err := s.redis.Set(ctx, s.deviceKey(device.ID), data, 0).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

func (s *RedisStore) GetDevice(ctx context.Context, id string) (*Device, error) {
	data, err := s.redis.Get(ctx, s.deviceKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	var device Device
	if err := json.Unmarshal(data, &device); err != nil {
		return nil, err
	}
	return &device, nil
}

func (s *RedisStore) AppendActivity(ctx context.Context, entry Activity) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}

	key := s.logKey(entry.SessionID)
	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(ctx, key, data)
		pipe.LTrim(ctx, key, int64(-s.activityLimit), -1)
		pipe.Expire(ctx, key, activityLogTTL)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

func (s *RedisStore) Activities(ctx context.Context, sessionID string, limit int) ([]Activity, error) {
	start := int64(0)
	if limit > 0 {
		start = int64(-limit)
	}

	raw, err := s.redis.LRange(ctx, s.logKey(sessionID), start, -1).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return []Activity{}, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	out := make([]Activity, 0, len(raw))
	for _, item := range raw {
		var entry Activity
		if err := json.Unmarshal([]byte(item), &entry); err != nil {
			continue
		}
		out = append(out, entry)
	}
	return out, nil
}

func sortByCreation(sessions []*Session) {
	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].CreatedAt.Before(sessions[j].CreatedAt)
	})
}
