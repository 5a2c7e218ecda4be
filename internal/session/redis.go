package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	statusTTL = 24 * time.Hour
	cancelTTL = time.Hour
)

var (
	unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)
	refreshScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)
)

type RedisMirror struct {
	client *redis.Client
	prefix string
}

func NewRedisMirror(addr, password string, db int) *RedisMirror {
	return &RedisMirror{
		client: redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: password,
			DB:       db,
		}),
		prefix: "crelay:session:",
	}
}

func (m *RedisMirror) Ping(ctx context.Context) error {
	if err := m.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	return nil
}

func (m *RedisMirror) Close() error {
	return m.client.Close()
}

func (m *RedisMirror) Acquire(ctx context.Context, userID, token string, ttl time.Duration) (bool, error) {
	ok, err := m.client.SetNX(ctx, m.key("lock", userID), token, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis setnx: %w", err)
	}
	return ok, nil
}

func (m *RedisMirror) Refresh(ctx context.Context, userID, token string, ttl time.Duration) error {
	return refreshScript.Run(ctx, m.client, []string{m.key("lock", userID)}, token, ttl.Milliseconds()).Err()
}

func (m *RedisMirror) Release(ctx context.Context, userID, token string) error {
	return unlockScript.Run(ctx, m.client, []string{m.key("lock", userID)}, token).Err()
}

func (m *RedisMirror) PublishStatus(ctx context.Context, snap Snapshot) error {
	payload, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	return m.client.Set(ctx, m.key("status", snap.UserID), payload, statusTTL).Err()
}

func (m *RedisMirror) Status(ctx context.Context, userID string) (Snapshot, bool, error) {
	payload, err := m.client.Get(ctx, m.key("status", userID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Snapshot{}, false, nil
	}
	if err != nil {
		return Snapshot{}, false, fmt.Errorf("redis get status: %w", err)
	}
	var snap Snapshot
	if err := json.Unmarshal(payload, &snap); err != nil {
		return Snapshot{}, false, fmt.Errorf("decode status: %w", err)
	}
	return snap, true, nil
}

func (m *RedisMirror) RequestCancel(ctx context.Context, userID string) error {
	return m.client.Set(ctx, m.key("cancel", userID), "1", cancelTTL).Err()
}

func (m *RedisMirror) CancelRequested(ctx context.Context, userID string) (bool, error) {
	n, err := m.client.Exists(ctx, m.key("cancel", userID)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (m *RedisMirror) ClearCancel(ctx context.Context, userID string) error {
	return m.client.Del(ctx, m.key("cancel", userID)).Err()
}

func (m *RedisMirror) RequestParallel(ctx context.Context, userID string, n int) error {
	return m.client.Set(ctx, m.key("parallel", userID), strconv.Itoa(n), cancelTTL).Err()
}

// TakeParallel reads and clears a pending parallelism request.
func (m *RedisMirror) TakeParallel(ctx context.Context, userID string) (int, bool, error) {
	raw, err := m.client.GetDel(ctx, m.key("parallel", userID)).Result()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false, fmt.Errorf("decode parallel request: %w", err)
	}
	return n, true, nil
}

func (m *RedisMirror) key(kind, userID string) string {
	return m.prefix + kind + ":" + userID
}
