package service

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/ravel/photoflow/internal/domain"
	"github.com/ravel/photoflow/internal/gateway"
)

func makeTargets(n int) []Target {
	targets := make([]Target, n)
	for i := range targets {
		targets[i] = Target{Photo: domain.Photo{ID: fmt.Sprintf("p%02d", i+1), UserID: "u1"}}
	}
	return targets
}

func newTestRunner(gw ModelGateway, cfg RunnerConfig) *BatchRunner {
	return NewBatchRunner(gw, newFakeClock(), cfg)
}

func TestRunDirectIsolatesFailingSubBatch(t *testing.T) {
	runner := newTestRunner(newFakeGateway(), RunnerConfig{Workers: 2})
	targets := makeTargets(5)

	var mu sync.Mutex
	var called []string
	failed := runner.RunDirect(context.Background(), "test", targets, 2, false, func(ctx context.Context, sub []Target) error {
		mu.Lock()
		called = append(called, joinIDs(sub))
		mu.Unlock()
		for _, tgt := range sub {
			if tgt.Photo.ID == "p03" {
				return fmt.Errorf("boom")
			}
		}
		return nil
	})

	if len(called) != 3 {
		t.Fatalf("expected 3 sub-batches, got %d", len(called))
	}
	sort.Strings(failed)
	if strings.Join(failed, ",") != "p03,p04" {
		t.Errorf("expected failed sub-batch p03,p04, got %v", failed)
	}
}

func TestRunDirectSequentialPreservesOrder(t *testing.T) {
	runner := newTestRunner(newFakeGateway(), RunnerConfig{Workers: 4})
	targets := makeTargets(6)

	var order []string
	failed := runner.RunDirect(context.Background(), "test", targets, 2, true, func(ctx context.Context, sub []Target) error {
		order = append(order, sub[0].Photo.ID)
		return nil
	})

	if len(failed) != 0 {
		t.Fatalf("unexpected failures: %v", failed)
	}
	want := []string{"p01", "p03", "p05"}
	for i, id := range want {
		if order[i] != id {
			t.Errorf("sub-batch %d started with %s, want %s", i, order[i], id)
		}
	}
}

func TestRunDirectParallelStaggersByIndex(t *testing.T) {
	clock := newFakeClock()
	runner := NewBatchRunner(newFakeGateway(), clock, RunnerConfig{Workers: 8, Stagger: 100})
	targets := makeTargets(6)

	runner.RunDirect(context.Background(), "test", targets, 2, false, func(ctx context.Context, sub []Target) error {
		return nil
	})

	clock.mu.Lock()
	defer clock.mu.Unlock()
	// Sub-batch 0 runs immediately; 1 and 2 sleep proportionally.
	if len(clock.sleeps) != 2 {
		t.Fatalf("expected 2 stagger sleeps, got %d", len(clock.sleeps))
	}
}

func TestRunBatchHonorsInflightCap(t *testing.T) {
	gw := newFakeGateway()
	gw.pollsUntilDone = 3
	runner := newTestRunner(gw, RunnerConfig{MaxInflight: 5})
	targets := makeTargets(24)

	var mu sync.Mutex
	var committed []string
	fallback := runner.RunBatch(context.Background(), "test", targets, 2, 1,
		func(sub []Target) gateway.BatchRequest {
			return gateway.BatchRequest{Model: "m", Prompt: "describe"}
		},
		func(ids []string, content string) error { return nil },
		func(ctx context.Context, ids []string) error {
			mu.Lock()
			committed = append(committed, ids...)
			mu.Unlock()
			return nil
		},
	)

	if len(fallback) != 0 {
		t.Fatalf("unexpected fallback targets: %d", len(fallback))
	}
	if gw.maxInflight > 5 {
		t.Errorf("inflight batches peaked at %d, cap is 5", gw.maxInflight)
	}
	if len(committed) != 24 {
		t.Errorf("expected 24 committed photos, got %d", len(committed))
	}
}

func TestRunBatchParseFailureRoutesToFallback(t *testing.T) {
	gw := newFakeGateway()
	runner := newTestRunner(gw, RunnerConfig{})
	targets := makeTargets(4)

	var committed []string
	fallback := runner.RunBatch(context.Background(), "test", targets, 4, 2,
		func(sub []Target) gateway.BatchRequest {
			return gateway.BatchRequest{Model: "m", Prompt: "describe"}
		},
		func(ids []string, content string) error {
			if ids[0] == "p01" {
				return &ParseError{CustomID: strings.Join(ids, "|"), Err: fmt.Errorf("bad shape")}
			}
			return nil
		},
		func(ctx context.Context, ids []string) error {
			committed = append(committed, ids...)
			return nil
		},
	)

	ids := targetIDs(fallback)
	sort.Strings(ids)
	if strings.Join(ids, ",") != "p01,p02" {
		t.Errorf("expected p01,p02 in fallback, got %v", ids)
	}
	sort.Strings(committed)
	if strings.Join(committed, ",") != "p03,p04" {
		t.Errorf("expected p03,p04 committed, got %v", committed)
	}
}

func TestRunBatchSubmitFailuresExhaustAttempts(t *testing.T) {
	gw := newFakeGateway()
	gw.submitFailures = 100
	runner := newTestRunner(gw, RunnerConfig{Attempts: 3})
	targets := makeTargets(3)

	fallback := runner.RunBatch(context.Background(), "test", targets, 10, 1,
		func(sub []Target) gateway.BatchRequest { return gateway.BatchRequest{Model: "m"} },
		func(ids []string, content string) error { return nil },
		func(ctx context.Context, ids []string) error { return nil },
	)

	if gw.submitCount != 3 {
		t.Errorf("expected 3 submit attempts, got %d", gw.submitCount)
	}
	if len(fallback) != 3 {
		t.Errorf("expected all 3 photos in fallback, got %d", len(fallback))
	}
}

func TestRunBatchTimeoutLeavesPhotosPending(t *testing.T) {
	gw := newFakeGateway()
	gw.pollsUntilDone = -1 // never completes
	runner := newTestRunner(gw, RunnerConfig{MaxPolls: 4})
	targets := makeTargets(2)

	var committed []string
	fallback := runner.RunBatch(context.Background(), "test", targets, 10, 1,
		func(sub []Target) gateway.BatchRequest { return gateway.BatchRequest{Model: "m"} },
		func(ids []string, content string) error { return nil },
		func(ctx context.Context, ids []string) error {
			committed = append(committed, ids...)
			return nil
		},
	)

	// A timed-out batch is neither committed nor retried directly.
	if len(fallback) != 0 {
		t.Errorf("timeout must not trigger fallback, got %d targets", len(fallback))
	}
	if len(committed) != 0 {
		t.Errorf("timeout must not commit, got %v", committed)
	}
	if gw.submitCount != 1 {
		t.Errorf("timeout must abandon the batch, got %d submits", gw.submitCount)
	}
}

func TestRunBatchTerminalFailureRetriesThenFallsBack(t *testing.T) {
	gw := newFakeGateway()
	gw.finalState = gateway.BatchFailed
	runner := newTestRunner(gw, RunnerConfig{Attempts: 2})
	targets := makeTargets(2)

	fallback := runner.RunBatch(context.Background(), "test", targets, 10, 1,
		func(sub []Target) gateway.BatchRequest { return gateway.BatchRequest{Model: "m"} },
		func(ids []string, content string) error { return nil },
		func(ctx context.Context, ids []string) error { return nil },
	)

	if gw.submitCount != 2 {
		t.Errorf("expected 2 attempts, got %d", gw.submitCount)
	}
	if len(fallback) != 2 {
		t.Errorf("expected both photos in fallback, got %d", len(fallback))
	}
}

func TestRunBatchMissingResultRoutesToFallback(t *testing.T) {
	gw := newFakeGateway()
	gw.dropCustomIDs["p01|p02"] = true
	runner := newTestRunner(gw, RunnerConfig{})
	targets := makeTargets(4)

	fallback := runner.RunBatch(context.Background(), "test", targets, 4, 2,
		func(sub []Target) gateway.BatchRequest { return gateway.BatchRequest{Model: "m"} },
		func(ids []string, content string) error { return nil },
		func(ctx context.Context, ids []string) error { return nil },
	)

	ids := targetIDs(fallback)
	sort.Strings(ids)
	if strings.Join(ids, ",") != "p01,p02" {
		t.Errorf("expected dropped sub-request in fallback, got %v", ids)
	}
}
