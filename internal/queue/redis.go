package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"convertd/internal/config"
	"convertd/internal/services"
)

// RedisOptions configures a RedisBroker.
type RedisOptions struct {
	Stream    string
	Group     string
	Consumer  string
	Block     time.Duration
	ResultTTL time.Duration
	// ReclaimIdle adopts entries another consumer left unacknowledged for at
	// least this long. Zero disables reclamation.
	ReclaimIdle time.Duration
}

// RedisBroker delivers jobs through a Redis Streams consumer group and keeps
// per-job state in a hash that expires after ResultTTL. Entries are deleted
// once acknowledged, so the stream only holds undelivered and in-flight jobs.
type RedisBroker struct {
	rc   redis.UniversalClient
	opts RedisOptions

	mu       sync.Mutex
	inflight map[string]string // job id -> stream entry id
}

// OpenRedis connects to cfg.Broker.RedisURL and ensures the consumer group exists.
func OpenRedis(ctx context.Context, cfg *config.Config) (*RedisBroker, error) {
	redisOpts, err := redis.ParseURL(cfg.Broker.RedisURL)
	if err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "queue", "open", "parse redis_url", err)
	}
	opts := RedisOptions{
		Stream:    cfg.Broker.Stream,
		Group:     cfg.Broker.Group,
		Consumer:  cfg.Broker.Consumer,
		Block:     time.Duration(cfg.Broker.BlockTimeout) * time.Second,
		ResultTTL: cfg.ResultTTL(),
	}
	if cfg.Workflow.ReclaimStale {
		opts.ReclaimIdle = time.Duration(cfg.Workflow.HeartbeatTimeout) * time.Second
	}
	broker := NewRedisBroker(redis.NewClient(redisOpts), opts)
	if err := broker.Ping(ctx); err != nil {
		_ = broker.Close()
		return nil, err
	}
	if err := broker.EnsureGroup(ctx); err != nil {
		_ = broker.Close()
		return nil, err
	}
	return broker, nil
}

// NewRedisBroker wraps an existing client.
func NewRedisBroker(rc redis.UniversalClient, opts RedisOptions) *RedisBroker {
	if opts.Block <= 0 {
		opts.Block = 5 * time.Second
	}
	return &RedisBroker{rc: rc, opts: opts, inflight: make(map[string]string)}
}

// EnsureGroup creates the stream and consumer group if they are missing.
func (b *RedisBroker) EnsureGroup(ctx context.Context) error {
	err := b.rc.XGroupCreateMkStream(ctx, b.opts.Stream, b.opts.Group, "0").Err()
	// BUSYGROUP means the group already exists.
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return services.Wrap(services.ErrTransient, "queue", "ensure group", b.opts.Group, err)
	}
	return nil
}

func (b *RedisBroker) stateKey(id string) string {
	return b.opts.Stream + ":job:" + id
}

// Enqueue appends job to the stream and seeds its state hash.
func (b *RedisBroker) Enqueue(ctx context.Context, job Job) (string, error) {
	if err := job.validate(); err != nil {
		return "", fmt.Errorf("%w: %v", services.ErrValidation, err)
	}
	if job.SubmittedAt.IsZero() {
		job.SubmittedAt = time.Now().UTC()
	}
	raw, err := json.Marshal(job)
	if err != nil {
		return "", fmt.Errorf("encode job: %w", err)
	}
	key := b.stateKey(job.ID)
	_, err = b.rc.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, "status", string(StatusPending), "percent", 0)
		b.expire(ctx, pipe, key)
		pipe.XAdd(ctx, &redis.XAddArgs{
			Stream: b.opts.Stream,
			Values: map[string]any{"job_id": job.ID, "payload": string(raw)},
		})
		return nil
	})
	if err != nil {
		return "", services.Wrap(services.ErrTransient, "queue", "enqueue", job.ID, err)
	}
	return job.ID, nil
}

// Query reads the state hash. Expired or unknown ids report pending.
func (b *RedisBroker) Query(ctx context.Context, id string) (State, error) {
	fields, err := b.rc.HGetAll(ctx, b.stateKey(id)).Result()
	if err != nil {
		return State{}, services.Wrap(services.ErrTransient, "queue", "query", id, err)
	}
	if len(fields) == 0 {
		return pendingState(), nil
	}
	token := Status(fields["status"])
	if token == "" {
		token = StatusPending
	}
	percent, _ := strconv.Atoi(fields["percent"])
	state := State{
		Token:      token,
		Ready:      token.Ready(),
		Successful: token == StatusSuccess,
		Percent:    percent,
		Message:    fields["message"],
		Error:      fields["error"],
	}
	if raw := fields["result"]; raw != "" {
		var result Result
		if err := json.Unmarshal([]byte(raw), &result); err != nil {
			return State{}, fmt.Errorf("decode result for %s: %w", id, err)
		}
		state.Result = &result
	}
	return state, nil
}

// Next adopts an abandoned entry when reclamation is enabled, otherwise
// blocks up to Block for a new one.
func (b *RedisBroker) Next(ctx context.Context) (*Job, error) {
	if b.opts.ReclaimIdle > 0 {
		msgs, _, err := b.rc.XAutoClaim(ctx, &redis.XAutoClaimArgs{
			Stream:   b.opts.Stream,
			Group:    b.opts.Group,
			Consumer: b.opts.Consumer,
			MinIdle:  b.opts.ReclaimIdle,
			Start:    "0-0",
			Count:    1,
		}).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return nil, services.Wrap(services.ErrTransient, "queue", "autoclaim", b.opts.Stream, err)
		}
		for _, msg := range msgs {
			if job, err := b.accept(ctx, msg); job != nil || err != nil {
				return job, err
			}
		}
	}

	streams, err := b.rc.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    b.opts.Group,
		Consumer: b.opts.Consumer,
		Streams:  []string{b.opts.Stream, ">"},
		Count:    1,
		Block:    b.opts.Block,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, services.Wrap(services.ErrTransient, "queue", "read group", b.opts.Stream, err)
	}
	for _, stream := range streams {
		for _, msg := range stream.Messages {
			if job, err := b.accept(ctx, msg); job != nil || err != nil {
				return job, err
			}
		}
	}
	return nil, nil
}

// accept decodes a delivered entry and marks the job started. Entries whose
// job already finished (a worker died between recording the result and the
// ack) are acknowledged and skipped.
func (b *RedisBroker) accept(ctx context.Context, msg redis.XMessage) (*Job, error) {
	raw, _ := msg.Values["payload"].(string)
	var job Job
	decodeErr := json.Unmarshal([]byte(raw), &job)
	if decodeErr == nil && job.ID == "" {
		decodeErr = errors.New("missing job id")
	}
	if decodeErr != nil {
		_ = b.rc.XAck(ctx, b.opts.Stream, b.opts.Group, msg.ID).Err()
		if id, ok := msg.Values["job_id"].(string); ok && id != "" {
			_ = b.finish(ctx, id, "", "status", string(StatusFailure), "error", "job payload could not be decoded")
		}
		return nil, fmt.Errorf("decode stream entry %s: %w", msg.ID, decodeErr)
	}

	status, err := b.rc.HGet(ctx, b.stateKey(job.ID), "status").Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, services.Wrap(services.ErrTransient, "queue", "claim", job.ID, err)
	}
	if Status(status).Ready() {
		_ = b.rc.XAck(ctx, b.opts.Stream, b.opts.Group, msg.ID).Err()
		return nil, nil
	}

	key := b.stateKey(job.ID)
	_, err = b.rc.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key,
			"status", string(StatusStarted),
			"worker", b.opts.Consumer,
			"heartbeat", timestamp(time.Now()),
		)
		b.expire(ctx, pipe, key)
		return nil
	})
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, "queue", "claim", job.ID, err)
	}

	b.mu.Lock()
	b.inflight[job.ID] = msg.ID
	b.mu.Unlock()
	return &job, nil
}

// ReportProgress records a checkpoint.
func (b *RedisBroker) ReportProgress(ctx context.Context, id string, percent int, message string) error {
	key := b.stateKey(id)
	_, err := b.rc.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, "status", string(StatusProgress), "percent", percent, "message", message)
		b.expire(ctx, pipe, key)
		return nil
	})
	if err != nil {
		return services.Wrap(services.ErrTransient, "queue", "report progress", id, err)
	}
	return nil
}

// Heartbeat stamps the state hash and resets the entry's idle time so
// XAUTOCLAIM leaves it with this consumer.
func (b *RedisBroker) Heartbeat(ctx context.Context, id string) error {
	b.mu.Lock()
	entry, ok := b.inflight[id]
	b.mu.Unlock()
	if !ok {
		return fmt.Errorf("heartbeat %s: %w", id, ErrNotActive)
	}
	if err := b.rc.HSet(ctx, b.stateKey(id), "heartbeat", timestamp(time.Now())).Err(); err != nil {
		return services.Wrap(services.ErrTransient, "queue", "heartbeat", id, err)
	}
	err := b.rc.XClaimJustID(ctx, &redis.XClaimArgs{
		Stream:   b.opts.Stream,
		Group:    b.opts.Group,
		Consumer: b.opts.Consumer,
		Messages: []string{entry},
	}).Err()
	if err != nil && !errors.Is(err, redis.Nil) {
		return services.Wrap(services.ErrTransient, "queue", "heartbeat", id, err)
	}
	return nil
}

// Complete records result, marks the task successful and acknowledges the entry.
func (b *RedisBroker) Complete(ctx context.Context, id string, result Result) error {
	encoded, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	return b.finish(ctx, id, b.takeEntry(id),
		"status", string(StatusSuccess), "percent", 100, "result", string(encoded))
}

// Fail marks the task failed and acknowledges the entry.
func (b *RedisBroker) Fail(ctx context.Context, id string, reason string) error {
	return b.finish(ctx, id, b.takeEntry(id), "status", string(StatusFailure), "error", reason)
}

func (b *RedisBroker) takeEntry(id string) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	entry := b.inflight[id]
	delete(b.inflight, id)
	return entry
}

func (b *RedisBroker) finish(ctx context.Context, id, entry string, fields ...any) error {
	key := b.stateKey(id)
	_, err := b.rc.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, fields...)
		pipe.HDel(ctx, key, "heartbeat")
		b.expire(ctx, pipe, key)
		if entry != "" {
			pipe.XAck(ctx, b.opts.Stream, b.opts.Group, entry)
			pipe.XDel(ctx, b.opts.Stream, entry)
		}
		return nil
	})
	if err != nil {
		return services.Wrap(services.ErrTransient, "queue", "finish", id, err)
	}
	return nil
}

func (b *RedisBroker) expire(ctx context.Context, pipe redis.Pipeliner, key string) {
	if b.opts.ResultTTL > 0 {
		pipe.Expire(ctx, key, b.opts.ResultTTL)
	}
}

// FailOrphaned fails and acknowledges entries a previous run of this consumer
// left pending. It is called at worker startup when reclamation is disabled.
func (b *RedisBroker) FailOrphaned(ctx context.Context, reason string) (int64, error) {
	pending, err := b.rc.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream:   b.opts.Stream,
		Group:    b.opts.Group,
		Consumer: b.opts.Consumer,
		Start:    "-",
		End:      "+",
		Count:    100,
	}).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return 0, services.Wrap(services.ErrTransient, "queue", "fail orphaned", b.opts.Consumer, err)
	}
	var failed int64
	for _, entry := range pending {
		msgs, err := b.rc.XRangeN(ctx, b.opts.Stream, entry.ID, entry.ID, 1).Result()
		if err != nil {
			return failed, services.Wrap(services.ErrTransient, "queue", "fail orphaned", entry.ID, err)
		}
		id := ""
		if len(msgs) == 1 {
			id, _ = msgs[0].Values["job_id"].(string)
		}
		if id == "" {
			// Already deleted from the stream; only the ack remains to do.
			_ = b.rc.XAck(ctx, b.opts.Stream, b.opts.Group, entry.ID).Err()
			continue
		}
		if err := b.finish(ctx, id, entry.ID, "status", string(StatusFailure), "error", reason); err != nil {
			return failed, err
		}
		failed++
	}
	return failed, nil
}

// Stats reports undelivered entries as pending and delivered but
// unacknowledged entries as started.
func (b *RedisBroker) Stats(ctx context.Context) (map[Status]int, error) {
	groups, err := b.rc.XInfoGroups(ctx, b.opts.Stream).Result()
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, "queue", "stats", b.opts.Stream, err)
	}
	stats := make(map[Status]int)
	for _, group := range groups {
		if group.Name != b.opts.Group {
			continue
		}
		if group.Lag > 0 {
			stats[StatusPending] = int(group.Lag)
		}
		if group.Pending > 0 {
			stats[StatusStarted] = int(group.Pending)
		}
	}
	return stats, nil
}

// Blocking reports that Next waits on the stream instead of returning at once.
func (b *RedisBroker) Blocking() bool { return b.opts.Block > 0 }

// Ping checks the connection.
func (b *RedisBroker) Ping(ctx context.Context) error {
	if err := b.rc.Ping(ctx).Err(); err != nil {
		return services.Wrap(services.ErrTransient, "queue", "ping", "redis", err)
	}
	return nil
}

// Close releases the client.
func (b *RedisBroker) Close() error {
	return b.rc.Close()
}
