package runner

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func newTestRunner(t *testing.T) *Runner {
	t.Helper()
	mr := miniredis.RunT(t)
	r, err := New(Config{Addr: mr.Addr(), Prefix: "test:agent"})
	if err != nil {
		t.Fatalf("new runner: %v", err)
	}
	t.Cleanup(func() { _ = r.Close() })
	return r
}

func TestStepMemoizedAcrossAttempts(t *testing.T) {
	r := newTestRunner(t)
	ctx := context.Background()

	run, err := r.Begin(ctx, "msg-1")
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	calls := 0
	fetch := func(context.Context) (string, error) {
		calls++
		return "conversation payload", nil
	}
	got, err := Step(ctx, run, "fetch-conversation", fetch)
	if err != nil {
		t.Fatalf("step: %v", err)
	}
	if got != "conversation payload" || calls != 1 {
		t.Fatalf("first execution: got %q calls %d", got, calls)
	}

	// simulate a worker restart: a fresh attempt sees the stored result
	resumed, err := r.Begin(ctx, "msg-1")
	if err != nil {
		t.Fatalf("begin resume: %v", err)
	}
	if resumed.Attempts != 2 {
		t.Fatalf("expected attempt 2, got %d", resumed.Attempts)
	}
	got, err = Step(ctx, resumed, "fetch-conversation", fetch)
	if err != nil {
		t.Fatalf("resumed step: %v", err)
	}
	if got != "conversation payload" || calls != 1 {
		t.Fatalf("step re-executed on resume: got %q calls %d", got, calls)
	}
}

func TestStepFailureIsNotStored(t *testing.T) {
	r := newTestRunner(t)
	ctx := context.Background()

	run, err := r.Begin(ctx, "msg-2")
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	calls := 0
	flaky := func(context.Context) (int, error) {
		calls++
		if calls == 1 {
			return 0, errors.New("transient")
		}
		return 42, nil
	}
	if _, err := Step(ctx, run, "model-round-1", flaky); err == nil {
		t.Fatalf("expected first call to fail")
	}
	got, err := Step(ctx, run, "model-round-1", flaky)
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if got != 42 || calls != 2 {
		t.Fatalf("retry should re-execute: got %d calls %d", got, calls)
	}
}

func TestCancelObservedBeforeStep(t *testing.T) {
	r := newTestRunner(t)
	ctx := context.Background()

	// cancel lands before the run even starts
	if err := r.SetCancelled(ctx, "msg-3"); err != nil {
		t.Fatalf("set cancelled: %v", err)
	}
	run, err := r.Begin(ctx, "msg-3")
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	_, err = Step(ctx, run, "fetch-conversation", func(context.Context) (string, error) {
		t.Fatalf("step body must not run after cancel")
		return "", nil
	})
	if !errors.Is(err, ErrCancelled) {
		t.Fatalf("expected ErrCancelled, got %v", err)
	}
}

func TestFinishClearsState(t *testing.T) {
	r := newTestRunner(t)
	ctx := context.Background()

	run, err := r.Begin(ctx, "msg-4")
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if _, err := Step(ctx, run, "persist", func(context.Context) (bool, error) { return true, nil }); err != nil {
		t.Fatalf("step: %v", err)
	}
	if err := r.SetCancelled(ctx, "msg-4"); err != nil {
		t.Fatalf("set cancelled: %v", err)
	}
	if err := run.Finish(ctx); err != nil {
		t.Fatalf("finish: %v", err)
	}
	cancelled, err := r.IsCancelled(ctx, "msg-4")
	if err != nil {
		t.Fatalf("is cancelled: %v", err)
	}
	if cancelled {
		t.Fatalf("finish should clear the cancel flag")
	}
	fresh, err := r.Begin(ctx, "msg-4")
	if err != nil {
		t.Fatalf("begin fresh: %v", err)
	}
	if fresh.Attempts != 1 {
		t.Fatalf("finished run should restart from attempt 1, got %d", fresh.Attempts)
	}
}

func TestDeadlineAnchoredToFirstAttempt(t *testing.T) {
	mr := miniredis.RunT(t)
	r, err := New(Config{Addr: mr.Addr(), Deadline: 50 * time.Millisecond})
	if err != nil {
		t.Fatalf("new runner: %v", err)
	}
	defer r.Close()
	ctx := context.Background()

	run, err := r.Begin(ctx, "msg-5")
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	time.Sleep(60 * time.Millisecond)
	_, err = Step(ctx, run, "model-round-1", func(context.Context) (string, error) { return "x", nil })
	if !errors.Is(err, ErrDeadlineExceeded) {
		t.Fatalf("expected ErrDeadlineExceeded, got %v", err)
	}

	// a retry does not reset the budget
	resumed, err := r.Begin(ctx, "msg-5")
	if err != nil {
		t.Fatalf("begin resume: %v", err)
	}
	if !time.Now().After(resumed.Deadline) {
		t.Fatalf("deadline should still be anchored to the first attempt")
	}
}
