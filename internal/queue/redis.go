package queue

import (
	"context"
	"encoding/json"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/micohasanen/hexagon-api/internal/config"
)

// Redis is a delayed queue on a sorted set: members are job keys scored
// by ready-time, payload envelopes live in a companion hash. ZREM is the
// claim: only one worker wins a key, so delivery is at-least-once with no
// duplicate concurrent execution of the same job.
type Redis struct {
	Client *redis.Client
	Logger *zap.Logger
	Config config.QueueConfig

	mu       sync.RWMutex
	handlers map[string]Handler
}

type envelope struct {
	Key      string          `json:"key"`
	Payload  json.RawMessage `json:"payload"`
	Attempts int             `json:"attempts"`
}

func NewRedis(client *redis.Client, cfg config.QueueConfig, logger *zap.Logger) *Redis {
	return &Redis{
		Client:   client,
		Logger:   logger,
		Config:   cfg,
		handlers: make(map[string]Handler),
	}
}

func (r *Redis) zsetKey(queue string) string {
	prefix := r.Config.Prefix
	if prefix == "" {
		prefix = "hexagon"
	}
	return prefix + ":queue:" + queue
}

func (r *Redis) hashKey(queue string) string {
	return r.zsetKey(queue) + ":jobs"
}

func (r *Redis) Enqueue(ctx context.Context, queue string, job Job) error {
	if r == nil || r.Client == nil {
		return nil
	}
	key := job.Key
	if key == "" {
		key = uuid.NewString()
	}
	env := envelope{Key: key, Payload: job.Payload}
	return r.enqueueEnvelope(ctx, queue, env, job.Delay)
}

func (r *Redis) enqueueEnvelope(ctx context.Context, queue string, env envelope, delay time.Duration) error {
	raw, err := json.Marshal(env)
	if err != nil {
		return err
	}
	if delay < 0 {
		delay = 0
	}
	readyAt := float64(time.Now().Add(delay).UnixMilli())
	pipe := r.Client.TxPipeline()
	pipe.HSet(ctx, r.hashKey(queue), env.Key, raw)
	pipe.ZAdd(ctx, r.zsetKey(queue), redis.Z{Score: readyAt, Member: env.Key})
	_, err = pipe.Exec(ctx)
	return err
}

func (r *Redis) Remove(ctx context.Context, queue string, key string) error {
	if r == nil || r.Client == nil || key == "" {
		return nil
	}
	pipe := r.Client.TxPipeline()
	pipe.ZRem(ctx, r.zsetKey(queue), key)
	pipe.HDel(ctx, r.hashKey(queue), key)
	_, err := pipe.Exec(ctx)
	return err
}

// Handle registers the handler for a queue. Must be called before Run.
func (r *Redis) Handle(queue string, h Handler) {
	if r == nil || h == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[queue] = h
}

// Run polls every registered queue for due jobs until ctx is canceled.
func (r *Redis) Run(ctx context.Context) error {
	if r == nil || r.Client == nil {
		return nil
	}
	interval := r.Config.PollInterval
	if interval <= 0 {
		interval = time.Second
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			r.mu.RLock()
			queues := make([]string, 0, len(r.handlers))
			for name := range r.handlers {
				queues = append(queues, name)
			}
			r.mu.RUnlock()
			for _, name := range queues {
				r.drainDue(ctx, name)
			}
		}
	}
}

func (r *Redis) drainDue(ctx context.Context, queue string) {
	batch := r.Config.ClaimBatch
	if batch <= 0 {
		batch = 32
	}
	now := time.Now().UnixMilli()
	keys, err := r.Client.ZRangeByScore(ctx, r.zsetKey(queue), &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(now, 10),
		Count: int64(batch),
	}).Result()
	if err != nil {
		r.logWarn("queue poll failed", err, zap.String("queue", queue))
		return
	}
	for _, key := range keys {
		removed, err := r.Client.ZRem(ctx, r.zsetKey(queue), key).Result()
		if err != nil || removed == 0 {
			// Another worker claimed it.
			continue
		}
		raw, err := r.Client.HGet(ctx, r.hashKey(queue), key).Bytes()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			r.logWarn("queue payload fetch failed", err, zap.String("queue", queue), zap.String("key", key))
			continue
		}
		_ = r.Client.HDel(ctx, r.hashKey(queue), key).Err()

		var env envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			r.logWarn("queue envelope decode failed", err, zap.String("queue", queue), zap.String("key", key))
			continue
		}
		r.dispatch(ctx, queue, env)
	}
}

func (r *Redis) dispatch(ctx context.Context, queue string, env envelope) {
	r.mu.RLock()
	h := r.handlers[queue]
	r.mu.RUnlock()
	if h == nil {
		return
	}
	if err := h(ctx, env.Payload); err != nil {
		env.Attempts++
		if r.Config.MaxAttempts > 0 && env.Attempts >= r.Config.MaxAttempts {
			r.logWarn("job dropped after max attempts", err,
				zap.String("queue", queue), zap.String("key", env.Key), zap.Int("attempts", env.Attempts))
			return
		}
		delay := r.backoff(env.Attempts)
		if reErr := r.enqueueEnvelope(ctx, queue, env, delay); reErr != nil {
			r.logWarn("job requeue failed", reErr, zap.String("queue", queue), zap.String("key", env.Key))
			return
		}
		r.logWarn("job failed, retrying", err,
			zap.String("queue", queue), zap.String("key", env.Key),
			zap.Int("attempts", env.Attempts), zap.Duration("delay", delay))
	}
}

func (r *Redis) backoff(attempts int) time.Duration {
	base := r.Config.RetryBase
	if base <= 0 {
		base = 5 * time.Second
	}
	max := r.Config.RetryMax
	if max <= 0 {
		max = 10 * time.Minute
	}
	delay := base
	for i := 1; i < attempts; i++ {
		delay *= 2
		if delay >= max {
			return max
		}
	}
	if delay > max {
		return max
	}
	return delay
}

func (r *Redis) logWarn(msg string, err error, fields ...zap.Field) {
	if r == nil || r.Logger == nil {
		return
	}
	r.Logger.Warn(msg, append(fields, zap.Error(err))...)
}
