package queue

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"log/slog"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"

	"github.com/hshdacs/Hall-of-Fame/internal/domain"
)

// Handler executes one build job. Errors trigger the queue's retry
// bookkeeping; the handler is responsible for writing terminal project state
// on success and on the final failed attempt (see Job.FinalAttempt).
type Handler func(ctx context.Context, job Job) error

// Options tunes queue behavior. Zero values fall back to defaults.
type Options struct {
	KeyPrefix      string
	Concurrency    int
	MaxAttempts    int
	RetryBackoff   time.Duration
	StallInterval  time.Duration
	StallTolerance time.Duration
}

func (o Options) withDefaults() Options {
	if o.KeyPrefix == "" {
		o.KeyPrefix = "halloffame:build:"
	}
	if o.Concurrency <= 0 {
		o.Concurrency = 5
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 3
	}
	if o.RetryBackoff <= 0 {
		o.RetryBackoff = 5 * time.Second
	}
	if o.StallInterval <= 0 {
		o.StallInterval = time.Minute
	}
	// Image builds legitimately run for many minutes. A short tolerance
	// would re-dispatch builds that are still in progress.
	if o.StallTolerance < time.Minute {
		o.StallTolerance = 30 * time.Minute
	}
	return o
}

// Queue is a durable at-least-once build queue on Redis. Jobs wait in a
// list, move to an active list while a worker holds a renewable lock, and
// return through a delayed set when an attempt fails. Jobs whose lock
// expires without renewal are considered stalled and re-dispatched.
type Queue struct {
	client  *redis.Client
	opts    Options
	logger  *slog.Logger
	handler Handler

	cancel context.CancelFunc
	wg     sync.WaitGroup

	startOnce sync.Once
	closeOnce sync.Once
}

// New constructs a Queue. The queue is an explicit instance with its own
// lifecycle so tests can run one per test case.
func New(client *redis.Client, opts Options, logger *slog.Logger) *Queue {
	return &Queue{
		client: client,
		opts:   opts.withDefaults(),
		logger: logger,
	}
}

func (q *Queue) key(parts ...string) string {
	out := q.opts.KeyPrefix
	for _, part := range parts {
		out += part
	}
	return out
}

func (q *Queue) waitingKey() string      { return q.key("waiting") }
func (q *Queue) activeKey() string       { return q.key("active") }
func (q *Queue) delayedKey() string      { return q.key("delayed") }
func (q *Queue) failedKey() string       { return q.key("failed") }
func (q *Queue) jobKey(id string) string { return q.key("job:", id) }
func (q *Queue) lockKey(id string) string {
	return q.key("lock:", id)
}

// Enqueue stores the job payload and appends it to the waiting list.
func (q *Queue) Enqueue(ctx context.Context, build domain.BuildJob) (string, error) {
	raw, err := marshalBuild(build)
	if err != nil {
		return "", err
	}
	id := uuid.NewString()
	pipe := q.client.TxPipeline()
	pipe.HSet(ctx, q.jobKey(id), map[string]any{
		"data":         raw,
		"attempts":     0,
		"max_attempts": q.opts.MaxAttempts,
		"created_at":   time.Now().UTC().Format(time.RFC3339Nano),
	})
	pipe.LPush(ctx, q.waitingKey(), id)
	if _, err := pipe.Exec(ctx); err != nil {
		return "", fmt.Errorf("enqueue job: %w", err)
	}
	q.logger.Info("build job enqueued", "job_id", id, "project_id", build.ProjectID)
	return id, nil
}

// Start launches the worker pool, the delayed-job promoter and the stall
// sweeper. Register sets the handler; Start without a handler is an error.
func (q *Queue) Start(handler Handler) error {
	if handler == nil {
		return errors.New("queue handler is required")
	}
	q.handler = handler
	q.startOnce.Do(func() {
		ctx, cancel := context.WithCancel(context.Background())
		q.cancel = cancel
		for i := 0; i < q.opts.Concurrency; i++ {
			q.wg.Add(1)
			go q.workerLoop(ctx)
		}
		q.wg.Add(2)
		go q.promoteLoop(ctx)
		go q.stallLoop(ctx)
		q.logger.Info("build queue started",
			"concurrency", q.opts.Concurrency,
			"max_attempts", q.opts.MaxAttempts,
			"stall_tolerance", q.opts.StallTolerance)
	})
	return nil
}

// Close drains workers and stops background loops. In-progress handlers run
// to completion; there is no mid-build cancellation primitive.
func (q *Queue) Close() {
	q.closeOnce.Do(func() {
		if q.cancel != nil {
			q.cancel()
		}
		q.wg.Wait()
	})
}

// Stats reports queue depths for observability.
func (q *Queue) Stats(ctx context.Context) (waiting, active, delayed int64, err error) {
	pipe := q.client.Pipeline()
	waitingCmd := pipe.LLen(ctx, q.waitingKey())
	activeCmd := pipe.LLen(ctx, q.activeKey())
	delayedCmd := pipe.ZCard(ctx, q.delayedKey())
	if _, err = pipe.Exec(ctx); err != nil {
		return 0, 0, 0, fmt.Errorf("queue stats: %w", err)
	}
	return waitingCmd.Val(), activeCmd.Val(), delayedCmd.Val(), nil
}

func (q *Queue) workerLoop(ctx context.Context) {
	defer q.wg.Done()
	for {
		if ctx.Err() != nil {
			return
		}
		id, err := q.client.BLMove(ctx, q.waitingKey(), q.activeKey(), "RIGHT", "LEFT", 5*time.Second).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) || ctx.Err() != nil {
				continue
			}
			q.logger.Error("queue dequeue failed", "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}
		q.process(ctx, id)
	}
}

// detach strips cancellation from the worker-loop context. Close cancels
// intake only; a job that was already dequeued finishes its attempt and its
// retry bookkeeping before wg.Wait returns.
func detach(ctx context.Context) context.Context {
	return context.WithoutCancel(ctx)
}

func (q *Queue) process(ctx context.Context, id string) {
	ctx = detach(ctx)
	token := uuid.NewString()
	locked, err := q.client.SetNX(ctx, q.lockKey(id), token, q.opts.StallTolerance).Result()
	if err != nil {
		q.logger.Error("acquire job lock failed", "job_id", id, "error", err)
		return
	}
	if !locked {
		// Another worker holds this job (duplicate from a stall re-queue).
		q.client.LRem(ctx, q.activeKey(), 1, id)
		return
	}
	defer q.client.Del(context.Background(), q.lockKey(id))

	fields, err := q.client.HGetAll(ctx, q.jobKey(id)).Result()
	if err != nil || len(fields) == 0 {
		q.logger.Warn("job payload missing, discarding", "job_id", id, "error", err)
		q.client.LRem(ctx, q.activeKey(), 1, id)
		return
	}
	build, err := unmarshalBuild(fields["data"])
	if err != nil {
		q.logger.Error("job payload corrupt, discarding", "job_id", id, "error", err)
		q.finishJob(ctx, id)
		return
	}
	attempts, _ := strconv.Atoi(fields["attempts"])
	maxAttempts, _ := strconv.Atoi(fields["max_attempts"])
	if maxAttempts <= 0 {
		maxAttempts = q.opts.MaxAttempts
	}
	job := Job{ID: id, Build: build, AttemptsMade: attempts, MaxAttempts: maxAttempts}

	// Renew the lock while the handler runs so the stall sweeper leaves the
	// job alone.
	renewCtx, stopRenew := context.WithCancel(ctx)
	renewDone := make(chan struct{})
	go func() {
		defer close(renewDone)
		q.renewLock(renewCtx, id)
	}()

	q.logger.Info("build job active",
		"job_id", id, "project_id", build.ProjectID, "attempt", attempts+1, "max_attempts", maxAttempts)
	handlerErr := q.handler(ctx, job)
	stopRenew()
	<-renewDone

	if handlerErr == nil {
		q.logger.Info("build job completed", "job_id", id, "project_id", build.ProjectID)
		q.finishJob(ctx, id)
		return
	}

	q.logger.Warn("build job attempt failed",
		"job_id", id, "project_id", build.ProjectID, "attempt", attempts+1, "error", handlerErr)
	q.retryOrFail(ctx, id, job, handlerErr)
}

func (q *Queue) renewLock(ctx context.Context, id string) {
	interval := q.opts.StallTolerance / 3
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := q.client.Expire(ctx, q.lockKey(id), q.opts.StallTolerance).Err(); err != nil && ctx.Err() == nil {
				q.logger.Warn("job lock renewal failed", "job_id", id, "error", err)
			}
		}
	}
}

// finishJob removes a job that reached a terminal outcome.
func (q *Queue) finishJob(ctx context.Context, id string) {
	pipe := q.client.TxPipeline()
	pipe.LRem(ctx, q.activeKey(), 1, id)
	pipe.Del(ctx, q.jobKey(id))
	if _, err := pipe.Exec(ctx); err != nil {
		q.logger.Error("finish job cleanup failed", "job_id", id, "error", err)
	}
}

func (q *Queue) retryOrFail(ctx context.Context, id string, job Job, cause error) {
	attempts := job.AttemptsMade + 1
	if attempts >= job.MaxAttempts || IsPermanent(cause) {
		pipe := q.client.TxPipeline()
		pipe.LRem(ctx, q.activeKey(), 1, id)
		pipe.HSet(ctx, q.jobKey(id), "attempts", attempts, "last_error", cause.Error())
		// Failed payloads are kept around for an hour for inspection.
		pipe.Expire(ctx, q.jobKey(id), time.Hour)
		pipe.ZAdd(ctx, q.failedKey(), redis.Z{Score: float64(time.Now().Unix()), Member: id})
		if _, err := pipe.Exec(ctx); err != nil {
			q.logger.Error("record failed job failed", "job_id", id, "error", err)
		}
		q.logger.Error("build job permanently failed",
			"job_id", id, "project_id", job.Build.ProjectID, "attempts", attempts, "error", cause)
		return
	}

	readyAt := time.Now().Add(q.opts.RetryBackoff)
	pipe := q.client.TxPipeline()
	pipe.LRem(ctx, q.activeKey(), 1, id)
	pipe.HSet(ctx, q.jobKey(id), "attempts", attempts, "last_error", cause.Error())
	pipe.ZAdd(ctx, q.delayedKey(), redis.Z{Score: float64(readyAt.UnixMilli()), Member: id})
	if _, err := pipe.Exec(ctx); err != nil {
		q.logger.Error("schedule retry failed", "job_id", id, "error", err)
	}
}

// promoteLoop moves delayed jobs whose backoff elapsed back to waiting.
func (q *Queue) promoteLoop(ctx context.Context) {
	defer q.wg.Done()
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			q.promoteDue(ctx)
		}
	}
}

func (q *Queue) promoteDue(ctx context.Context) {
	now := strconv.FormatInt(time.Now().UnixMilli(), 10)
	ids, err := q.client.ZRangeByScore(ctx, q.delayedKey(), &redis.ZRangeBy{
		Min: "-inf", Max: now, Count: 100,
	}).Result()
	if err != nil {
		if ctx.Err() == nil {
			q.logger.Error("scan delayed jobs failed", "error", err)
		}
		return
	}
	for _, id := range ids {
		removed, err := q.client.ZRem(ctx, q.delayedKey(), id).Result()
		if err != nil || removed == 0 {
			continue
		}
		if err := q.client.LPush(ctx, q.waitingKey(), id).Err(); err != nil {
			q.logger.Error("promote delayed job failed", "job_id", id, "error", err)
		}
	}
}

// stallLoop re-queues active jobs whose worker stopped renewing its lock.
func (q *Queue) stallLoop(ctx context.Context) {
	defer q.wg.Done()
	ticker := time.NewTicker(q.opts.StallInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			q.sweepStalled(ctx)
		}
	}
}

func (q *Queue) sweepStalled(ctx context.Context) {
	ids, err := q.client.LRange(ctx, q.activeKey(), 0, -1).Result()
	if err != nil {
		if ctx.Err() == nil {
			q.logger.Error("scan active jobs failed", "error", err)
		}
		return
	}
	for _, id := range ids {
		held, err := q.client.Exists(ctx, q.lockKey(id)).Result()
		if err != nil || held > 0 {
			continue
		}
		removed, err := q.client.LRem(ctx, q.activeKey(), 1, id).Result()
		if err != nil || removed == 0 {
			continue
		}
		if err := q.client.LPush(ctx, q.waitingKey(), id).Err(); err != nil {
			q.logger.Error("requeue stalled job failed", "job_id", id, "error", err)
			continue
		}
		q.logger.Warn("stalled build job re-queued", "job_id", id)
	}
}
