package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// txnRetries bounds how often an AtomicUpdate is replayed against fresh
// values before the store is reported unavailable.
const txnRetries = 16

// eventsChannel carries every change notification. Subscribers filter by
// path prefix client-side.
const eventsChannel = "dibs:events"

// RedisStore implements Store on a Redis backend. Values live in plain
// string keys, collection membership in per-parent sets, and AtomicUpdate
// uses an optimistic WATCH/MULTI loop so a read-check-write cycle is
// indivisible against concurrent writers.
type RedisStore struct {
	client *redis.Client
	seq    atomic.Uint64
}

// RedisConfig holds connection settings for the backing Redis.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(cfg RedisConfig) (*RedisStore, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisStore{client: rdb}, nil
}

// Close releases the underlying connection pool.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) valKey(path string) string { return "dibs:v:" + path }
func (s *RedisStore) idxKey(path string) string { return "dibs:i:" + path }
func (s *RedisStore) discKey(owner string) string { return "dibs:disc:" + owner }
func (s *RedisStore) hbKey(owner string) string { return "dibs:hb:" + owner }

// ownersKey holds every owner with registered cleanup rules, so the reaper
// can find owners whose heartbeat key has expired.
const ownersKey = "dibs:owners"

type wireEvent struct {
	Path  string          `json:"path"`
	Value json.RawMessage `json:"value"`
}

func (s *RedisStore) Read(ctx context.Context, path string) ([]byte, error) {
	v, err := s.client.Get(ctx, s.valKey(path)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", ErrUnavailable, path, err)
	}
	return v, nil
}

func (s *RedisStore) Write(ctx context.Context, path string, value []byte) error {
	pipe := s.client.Pipeline()
	pipe.Set(ctx, s.valKey(path), value, 0)
	if parent, leaf, ok := splitPath(path); ok {
		pipe.SAdd(ctx, s.idxKey(parent), leaf)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("%w: write %s: %v", ErrUnavailable, path, err)
	}
	s.publish(ctx, path, value)
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, path string) error {
	leaves, err := s.client.SMembers(ctx, s.idxKey(path)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("%w: delete %s: %v", ErrUnavailable, path, err)
	}
	for _, leaf := range leaves {
		if err := s.Delete(ctx, path+"/"+leaf); err != nil {
			return err
		}
	}

	pipe := s.client.Pipeline()
	pipe.Del(ctx, s.valKey(path), s.idxKey(path))
	if parent, leaf, ok := splitPath(path); ok {
		pipe.SRem(ctx, s.idxKey(parent), leaf)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("%w: delete %s: %v", ErrUnavailable, path, err)
	}
	s.publish(ctx, path, nil)
	return nil
}

func (s *RedisStore) Push(ctx context.Context, path string, value []byte) (string, error) {
	key := pushKey(time.Now(), s.seq.Add(1))
	if err := s.Write(ctx, path+"/"+key, value); err != nil {
		return "", err
	}
	return key, nil
}

func (s *RedisStore) List(ctx context.Context, path string) (map[string][]byte, error) {
	leaves, err := s.client.SMembers(ctx, s.idxKey(path)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: list %s: %v", ErrUnavailable, path, err)
	}
	if len(leaves) == 0 {
		return map[string][]byte{}, nil
	}

	pipe := s.client.Pipeline()
	cmds := make(map[string]*redis.StringCmd, len(leaves))
	for _, leaf := range leaves {
		cmds[leaf] = pipe.Get(ctx, s.valKey(path+"/"+leaf))
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: list %s: %v", ErrUnavailable, path, err)
	}

	out := make(map[string][]byte, len(leaves))
	for leaf, cmd := range cmds {
		v, err := cmd.Bytes()
		if errors.Is(err, redis.Nil) {
			continue // removed between SMEMBERS and GET
		}
		if err != nil {
			return nil, fmt.Errorf("%w: list %s: %v", ErrUnavailable, path, err)
		}
		out[leaf] = v
	}
	return out, nil
}

func (s *RedisStore) AtomicUpdate(ctx context.Context, path string, fn TxnFn) ([]byte, error) {
	key := s.valKey(path)
	var committed []byte

	txf := func(tx *redis.Tx) error {
		cur, err := tx.Get(ctx, key).Bytes()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		var current []byte
		if err == nil {
			current = cur
		}

		next, ok := fn(current)
		if !ok {
			return ErrAborted
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, next, 0)
			if parent, leaf, ok := splitPath(path); ok {
				pipe.SAdd(ctx, s.idxKey(parent), leaf)
			}
			return nil
		})
		if err == nil {
			committed = next
		}
		return err
	}

	for i := 0; i < txnRetries; i++ {
		err := s.client.Watch(ctx, txf, key)
		switch {
		case err == nil:
			s.publish(ctx, path, committed)
			return committed, nil
		case errors.Is(err, ErrAborted):
			return nil, ErrAborted
		case errors.Is(err, redis.TxFailedErr):
			continue // lost the race; replay against the fresh value
		default:
			return nil, fmt.Errorf("%w: atomic update %s: %v", ErrUnavailable, path, err)
		}
	}
	return nil, fmt.Errorf("%w: atomic update %s: retry budget exhausted", ErrUnavailable, path)
}

func (s *RedisStore) Subscribe(ctx context.Context, path string) (<-chan Event, error) {
	sub := s.client.Subscribe(ctx, eventsChannel)
	if _, err := sub.Receive(ctx); err != nil {
		return nil, fmt.Errorf("%w: subscribe %s: %v", ErrUnavailable, path, err)
	}

	out := make(chan Event, 64)
	go func() {
		defer close(out)
		defer sub.Close()

		msgs := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var ev wireEvent
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					log.Warn().Err(err).Msg("dropping malformed store event")
					continue
				}
				if !pathCovers(path, ev.Path) {
					continue
				}
				value := []byte(ev.Value)
				if string(value) == "null" {
					value = nil // deletion
				}
				select {
				case out <- Event{Path: ev.Path, Value: value}:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

func (s *RedisStore) RegisterOnDisconnect(ctx context.Context, ownerID, path string) error {
	pipe := s.client.Pipeline()
	pipe.SAdd(ctx, s.discKey(ownerID), path)
	pipe.SAdd(ctx, ownersKey, ownerID)
	pipe.Set(ctx, s.hbKey(ownerID), "1", heartbeatTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("%w: register cleanup for %s: %v", ErrUnavailable, ownerID, err)
	}
	return nil
}

func (s *RedisStore) Heartbeat(ctx context.Context, ownerID string) error {
	if err := s.client.Set(ctx, s.hbKey(ownerID), "1", heartbeatTTL).Err(); err != nil {
		return fmt.Errorf("%w: heartbeat %s: %v", ErrUnavailable, ownerID, err)
	}
	return nil
}

func (s *RedisStore) Disconnect(ctx context.Context, ownerID string) error {
	paths, err := s.client.SMembers(ctx, s.discKey(ownerID)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("%w: disconnect %s: %v", ErrUnavailable, ownerID, err)
	}
	for _, path := range paths {
		if err := s.Delete(ctx, path); err != nil {
			return err
		}
	}
	pipe := s.client.Pipeline()
	pipe.Del(ctx, s.discKey(ownerID), s.hbKey(ownerID))
	pipe.SRem(ctx, ownersKey, ownerID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("%w: disconnect %s: %v", ErrUnavailable, ownerID, err)
	}
	return nil
}

// RunReaper periodically fires the cleanup rules of owners whose heartbeat
// key has expired, so a gateway process that died without calling Disconnect
// cannot leave ghost viewers behind. Blocks until ctx is done.
func (s *RedisStore) RunReaper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.reapExpired(ctx)
		}
	}
}

func (s *RedisStore) reapExpired(ctx context.Context) {
	owners, err := s.client.SMembers(ctx, ownersKey).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		log.Warn().Err(err).Msg("reaper failed to list cleanup owners")
		return
	}
	for _, owner := range owners {
		alive, err := s.client.Exists(ctx, s.hbKey(owner)).Result()
		if err != nil {
			log.Warn().Err(err).Str("owner_id", owner).Msg("reaper failed to check heartbeat")
			continue
		}
		if alive > 0 {
			continue
		}
		log.Info().Str("owner_id", owner).Msg("heartbeat lapsed, firing disconnect cleanups")
		if err := s.Disconnect(ctx, owner); err != nil {
			log.Warn().Err(err).Str("owner_id", owner).Msg("reaper failed to fire cleanups")
		}
	}
}

func (s *RedisStore) publish(ctx context.Context, path string, value []byte) {
	payload, err := json.Marshal(wireEvent{Path: path, Value: value})
	if err != nil {
		log.Error().Err(err).Str("path", path).Msg("failed to marshal store event")
		return
	}
	if err := s.client.Publish(ctx, eventsChannel, payload).Err(); err != nil {
		log.Warn().Err(err).Str("path", path).Msg("failed to publish store event")
	}
}
