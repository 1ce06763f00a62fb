package redisclient

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var (
	ErrLockNotAcquired = errors.New("lock not acquired")
)

// Locker guards critical sections keyed by an arbitrary resource name.
// The allocator uses it per booking window, the availability service per
// psychologist while editing templates.
type Locker interface {
	WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error
}

type redisLocker struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisLocker creates a locker backed by a per-key Redis SetNX lease.
func NewRedisLocker(client *redis.Client, ttl time.Duration) Locker {
	return &redisLocker{
		client: client,
		ttl:    ttl,
	}
}

// WindowLockKey names the lock for a psychologist's concrete booking window.
func WindowLockKey(psychologistID uuid.UUID, start time.Time) string {
	return fmt.Sprintf("lock:slot:%s:%d", psychologistID.String(), start.Unix())
}

// TemplateLockKey names the lock serializing template edits per psychologist.
func TemplateLockKey(psychologistID uuid.UUID) string {
	return fmt.Sprintf("lock:templates:%s", psychologistID.String())
}

// PatientLockKey names the lock serializing a patient's own bookings.
// Overlapping windows at different psychologists take different window
// locks, so the self-overlap check needs its own serialization.
func PatientLockKey(patientID uuid.UUID) string {
	return fmt.Sprintf("lock:patient:%s", patientID.String())
}

func (l *redisLocker) WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	token := uuid.NewString()

	ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return fmt.Errorf("acquire lock %s: %w", key, err)
	}
	if !ok {
		return ErrLockNotAcquired
	}

	defer func() {
		_ = l.release(ctx, key, token)
	}()

	ctxWithTimeout, cancel := context.WithTimeout(ctx, l.ttl)
	defer cancel()

	return fn(ctxWithTimeout)
}

var unlockScript = redis.NewScript(`
local val = redis.call("GET", KEYS[1])
if val == ARGV[1] then
  return redis.call("DEL", KEYS[1])
else
  return 0
end
`)

func (l *redisLocker) release(ctx context.Context, key, token string) error {
	_, err := unlockScript.Run(ctx, l.client, []string{key}, token).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("release lock %s: %w", key, err)
	}
	return nil
}
