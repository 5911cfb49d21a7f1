// Package runner tracks durable run state for message processing in
// redis. A run is keyed by message id; each named step stores its result
// once, so a retried or resumed run skips work that already happened
// instead of repeating it.
package runner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrCancelled aborts a run when its cancel flag has been set.
var ErrCancelled = errors.New("run cancelled")

// ErrDeadlineExceeded aborts a run that has outlived its wall-clock budget.
var ErrDeadlineExceeded = errors.New("run deadline exceeded")

// NonRetriableError wraps a failure that must not be retried, such as a
// missing conversation or exhausted model credentials.
type NonRetriableError struct {
	Err error
}

func (e *NonRetriableError) Error() string { return e.Err.Error() }
func (e *NonRetriableError) Unwrap() error { return e.Err }

// NonRetriable marks err as permanent.
func NonRetriable(err error) error {
	if err == nil {
		return nil
	}
	return &NonRetriableError{Err: err}
}

// IsNonRetriable reports whether err (or anything it wraps) is permanent.
func IsNonRetriable(err error) bool {
	var nr *NonRetriableError
	return errors.As(err, &nr)
}

type Runner struct {
	client   *redis.Client
	prefix   string
	ttl      time.Duration
	deadline time.Duration
}

type Config struct {
	Addr     string
	Password string
	Prefix   string
	TTL      time.Duration
	Deadline time.Duration
}

// New connects to redis and returns a run-state tracker.
func New(cfg Config) (*Runner, error) {
	addr := strings.TrimSpace(cfg.Addr)
	if addr == "" {
		return nil, errors.New("redis addr required")
	}
	prefix := strings.TrimSpace(cfg.Prefix)
	if prefix == "" {
		prefix = "polaris:agent"
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	deadline := cfg.Deadline
	if deadline <= 0 {
		deadline = 10 * time.Minute
	}
	return &Runner{
		client:   redis.NewClient(&redis.Options{Addr: addr, Password: cfg.Password}),
		prefix:   prefix,
		ttl:      ttl,
		deadline: deadline,
	}, nil
}

func (r *Runner) Close() error {
	return r.client.Close()
}

// SetCancelled flags a message run so it aborts at its next step boundary.
// The flag also covers runs that have not started yet.
func (r *Runner) SetCancelled(ctx context.Context, messageID string) error {
	return r.client.Set(ctx, r.cancelKey(messageID), "1", r.ttl).Err()
}

// IsCancelled reports whether the run's cancel flag is set.
func (r *Runner) IsCancelled(ctx context.Context, messageID string) (bool, error) {
	n, err := r.client.Exists(ctx, r.cancelKey(messageID)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Run is one message's durable execution state.
type Run struct {
	runner    *Runner
	messageID string

	// Attempts counts how many times this run has been started,
	// including the current one.
	Attempts int64
	// Deadline is the wall-clock cutoff, anchored to the first attempt.
	Deadline time.Time
}

// Begin opens (or resumes) the run for a message. The deadline is fixed
// at the first attempt so retries cannot extend the budget.
func (r *Runner) Begin(ctx context.Context, messageID string) (*Run, error) {
	messageID = strings.TrimSpace(messageID)
	if messageID == "" {
		return nil, errors.New("messageId required")
	}
	key := r.runKey(messageID)
	startedAt := time.Now().UTC()
	pipe := r.client.TxPipeline()
	setStart := pipe.HSetNX(ctx, key, "startedAt", startedAt.Format(time.RFC3339Nano))
	attempts := pipe.HIncrBy(ctx, key, "attempts", 1)
	pipe.Expire(ctx, key, r.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, err
	}
	if !setStart.Val() {
		raw, err := r.client.HGet(ctx, key, "startedAt").Result()
		if err != nil {
			return nil, err
		}
		parsed, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return nil, fmt.Errorf("corrupt run state for %s: %w", messageID, err)
		}
		startedAt = parsed
	}
	return &Run{
		runner:    r,
		messageID: messageID,
		Attempts:  attempts.Val(),
		Deadline:  startedAt.Add(r.deadline),
	}, nil
}

// Cancelled reports whether the run should stop. Redis errors fail open:
// a run is never aborted because the flag could not be read.
func (run *Run) Cancelled(ctx context.Context) bool {
	cancelled, err := run.runner.IsCancelled(ctx, run.messageID)
	if err != nil {
		return false
	}
	return cancelled
}

// Finish deletes the run's durable state once the result is persisted.
func (run *Run) Finish(ctx context.Context) error {
	return run.runner.client.Del(ctx,
		run.runner.runKey(run.messageID),
		run.runner.stepsKey(run.messageID),
		run.runner.cancelKey(run.messageID),
	).Err()
}

// Step executes fn at most once per run. A step that already completed in
// an earlier attempt returns its stored result without calling fn. Each
// step checks the cancel flag and the run deadline before executing.
func Step[T any](ctx context.Context, run *Run, name string, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	if run.Cancelled(ctx) {
		return zero, ErrCancelled
	}
	if !run.Deadline.IsZero() && time.Now().After(run.Deadline) {
		return zero, ErrDeadlineExceeded
	}
	key := run.runner.stepsKey(run.messageID)
	raw, err := run.runner.client.HGet(ctx, key, name).Result()
	if err == nil {
		var stored T
		if err := json.Unmarshal([]byte(raw), &stored); err != nil {
			return zero, fmt.Errorf("corrupt step %s for %s: %w", name, run.messageID, err)
		}
		return stored, nil
	}
	if err != redis.Nil {
		return zero, err
	}

	result, err := fn(ctx)
	if err != nil {
		return zero, err
	}
	encoded, err := json.Marshal(result)
	if err != nil {
		return zero, fmt.Errorf("encode step %s: %w", name, err)
	}
	pipe := run.runner.client.TxPipeline()
	pipe.HSet(ctx, key, name, encoded)
	pipe.Expire(ctx, key, run.runner.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return zero, err
	}
	return result, nil
}

func (r *Runner) runKey(messageID string) string {
	return fmt.Sprintf("%s:run:%s", r.prefix, messageID)
}

func (r *Runner) stepsKey(messageID string) string {
	return fmt.Sprintf("%s:steps:%s", r.prefix, messageID)
}

func (r *Runner) cancelKey(messageID string) string {
	return fmt.Sprintf("%s:cancel:%s", r.prefix, messageID)
}
