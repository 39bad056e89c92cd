package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/cuongbtq/e2e-report-worker/internal/worker/domain"
	"github.com/redis/go-redis/v9"
)

const defaultListLimit = 50

// popDueScript reads and removes due members in one step, so concurrent
// schedulers can never both receive the same entry.
var popDueScript = redis.NewScript(`
local items = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, tonumber(ARGV[2]))
if #items > 0 then
	redis.call('ZREM', KEYS[1], unpack(items))
end
return items
`)

// RedisStore implements Store on Redis lists and sorted sets
type RedisStore struct {
	client redis.UniversalClient
	keys   keys
	logger *slog.Logger
}

// NewRedisStore creates a Store on top of an existing Redis client.
// An empty prefix falls back to DefaultKeyPrefix.
func NewRedisStore(client redis.UniversalClient, prefix string, logger *slog.Logger) *RedisStore {
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	return &RedisStore{
		client: client,
		keys:   keys{prefix: prefix},
		logger: logger,
	}
}

// EnqueueReady appends env to the tail of its ready list
func (s *RedisStore) EnqueueReady(ctx context.Context, env Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to marshal envelope: %w", err)
	}

	if err := s.client.RPush(ctx, s.keys.ready(env.JobType), data).Err(); err != nil {
		return s.wrap(ctx, "rpush ready", err)
	}
	return nil
}

// DequeueReady pops the head of the ready list, blocking up to timeout
func (s *RedisStore) DequeueReady(ctx context.Context, jobType domain.JobType, timeout time.Duration) (*Envelope, error) {
	result, err := s.client.BLPop(ctx, timeout, s.keys.ready(jobType)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, s.wrap(ctx, "blpop ready", err)
	}

	// result[0] = key, result[1] = value
	if len(result) < 2 {
		return nil, fmt.Errorf("%w: unexpected BLPOP reply of %d elements", ErrMalformedEnvelope, len(result))
	}

	var env Envelope
	if err := json.Unmarshal([]byte(result[1]), &env); err != nil {
		return nil, fmt.Errorf("%w: %v (body: %s)", ErrMalformedEnvelope, err, truncate(result[1], 256))
	}
	if env.JobType == "" {
		env.JobType = jobType
	}
	return &env, nil
}

// ScheduleDelayed adds entry to the delayed set scored by its due time
func (s *RedisStore) ScheduleDelayed(ctx context.Context, entry DelayedEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal delayed entry: %w", err)
	}

	err = s.client.ZAdd(ctx, s.keys.delayed(entry.Envelope.JobType), redis.Z{
		Score:  float64(entry.DueAtMS),
		Member: data,
	}).Err()
	if err != nil {
		return s.wrap(ctx, "zadd delayed", err)
	}
	return nil
}

// PopDueDelayed removes and returns up to limit entries whose score is <= now
func (s *RedisStore) PopDueDelayed(ctx context.Context, jobType domain.JobType, now time.Time, limit int) ([]DelayedEntry, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}

	members, err := popDueScript.Run(ctx, s.client,
		[]string{s.keys.delayed(jobType)},
		strconv.FormatInt(now.UnixMilli(), 10),
		limit,
	).StringSlice()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, s.wrap(ctx, "pop due delayed", err)
	}

	entries := make([]DelayedEntry, 0, len(members))
	for _, raw := range members {
		var entry DelayedEntry
		if err := json.Unmarshal([]byte(raw), &entry); err != nil {
			// Already removed from the set; nothing can ever decode it
			s.logger.Warn("Dropping malformed delayed entry",
				slog.String("job_type", jobType.String()),
				slog.String("error", err.Error()),
				slog.String("body", truncate(raw, 256)),
			)
			continue
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// EnqueueDeadLetter appends entry to the dead-letter list
func (s *RedisStore) EnqueueDeadLetter(ctx context.Context, entry DeadLetterEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal dead letter entry: %w", err)
	}

	if err := s.client.RPush(ctx, s.keys.dead(entry.Envelope.JobType), data).Err(); err != nil {
		return s.wrap(ctx, "rpush dead", err)
	}
	return nil
}

// ListDeadLetters returns dead letters oldest first
func (s *RedisStore) ListDeadLetters(ctx context.Context, jobType domain.JobType, offset, limit int) ([]DeadLetterEntry, error) {
	if offset < 0 {
		offset = 0
	}
	if limit <= 0 {
		limit = defaultListLimit
	}

	members, err := s.client.LRange(ctx, s.keys.dead(jobType), int64(offset), int64(offset+limit-1)).Result()
	if err != nil {
		return nil, s.wrap(ctx, "lrange dead", err)
	}

	entries := make([]DeadLetterEntry, 0, len(members))
	for _, raw := range members {
		var entry DeadLetterEntry
		if err := json.Unmarshal([]byte(raw), &entry); err != nil {
			s.logger.Warn("Skipping malformed dead letter entry",
				slog.String("job_type", jobType.String()),
				slog.String("error", err.Error()),
			)
			continue
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// Depth returns the sizes of the ready, delayed and dead-letter lists
func (s *RedisStore) Depth(ctx context.Context, jobType domain.JobType) (*Depth, error) {
	pipe := s.client.Pipeline()
	ready := pipe.LLen(ctx, s.keys.ready(jobType))
	delayed := pipe.ZCard(ctx, s.keys.delayed(jobType))
	dead := pipe.LLen(ctx, s.keys.dead(jobType))
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, s.wrap(ctx, "depth", err)
	}

	return &Depth{
		JobType:     jobType,
		Ready:       ready.Val(),
		Delayed:     delayed.Val(),
		DeadLetters: dead.Val(),
	}, nil
}

// ClaimOnce sets the marker key of name if it does not exist yet and reports
// whether this caller set it. The marker expires after ttl.
func (s *RedisStore) ClaimOnce(ctx context.Context, name string, ttl time.Duration) (bool, error) {
	claimed, err := s.client.SetNX(ctx, s.keys.once(name), time.Now().UTC().Format(time.RFC3339), ttl).Result()
	if err != nil {
		return false, s.wrap(ctx, "setnx once", err)
	}
	return claimed, nil
}

// wrap classifies a Redis error. The error is returned as is when the
// caller's ctx ended. Replies from the server keep their own identity.
// Everything else, dial and read timeouts included, means the store could not
// be reached.
func (s *RedisStore) wrap(ctx context.Context, op string, err error) error {
	if ctx.Err() != nil {
		return err
	}

	var replyErr redis.Error
	if errors.As(err, &replyErr) {
		return fmt.Errorf("queue %s: %w", op, err)
	}

	return fmt.Errorf("%w: %s: %w", ErrQueueUnavailable, op, err)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
