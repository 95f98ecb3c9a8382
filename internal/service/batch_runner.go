package service

import (
	"context"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ravel/photoflow/internal/domain"
	"github.com/ravel/photoflow/internal/gateway"
	"github.com/ravel/photoflow/internal/logger"
)

// Target is one photo prepared for execution, with image bytes materialized
// when the task needs them.
type Target struct {
	Photo   domain.Photo
	Bytes   []byte
	DataURL string
}

// DirectCall handles one sub-batch of targets end to end: gateway call,
// parse, and commit. Errors isolate the sub-batch; the run continues.
type DirectCall func(ctx context.Context, sub []Target) error

// BuildRequest turns one sub-request's targets into a gateway batch request.
type BuildRequest func(sub []Target) gateway.BatchRequest

// ParseContent parses one sub-request's response content and stages the
// per-photo results. A *ParseError routes the photos to the fallback set.
type ParseContent func(photoIDs []string, content string) error

// CommitBatch persists staged results for the given photos and updates the
// process sheet.
type CommitBatch func(ctx context.Context, photoIDs []string) error

// BatchRunner executes tasks in the two supported shapes: bounded direct
// fan-out with stagger, and the async Batch API with polling, retries, and
// a direct fallback for failed requests.
type BatchRunner struct {
	gw    ModelGateway
	clock Clock

	workers      int
	maxInflight  int
	attempts     int
	maxPolls     int
	pollInterval time.Duration
	stagger      time.Duration
}

// RunnerConfig tunes the batch runner. Zero values fall back to defaults.
type RunnerConfig struct {
	Workers      int
	MaxInflight  int
	Attempts     int
	MaxPolls     int
	PollInterval time.Duration
	Stagger      time.Duration
}

func NewBatchRunner(gw ModelGateway, clock Clock, cfg RunnerConfig) *BatchRunner {
	r := &BatchRunner{
		gw:           gw,
		clock:        clock,
		workers:      cfg.Workers,
		maxInflight:  cfg.MaxInflight,
		attempts:     cfg.Attempts,
		maxPolls:     cfg.MaxPolls,
		pollInterval: cfg.PollInterval,
		stagger:      cfg.Stagger,
	}
	if r.workers <= 0 {
		r.workers = 4
	}
	if r.maxInflight <= 0 {
		r.maxInflight = 5
	}
	if r.attempts <= 0 {
		r.attempts = 3
	}
	if r.maxPolls <= 0 {
		r.maxPolls = 120
	}
	if r.pollInterval <= 0 {
		r.pollInterval = 5 * time.Second
	}
	return r
}

// RunDirect splits targets into sub-batches of size and runs call over
// them, sequentially or with bounded parallelism. Parallel sub-batches are
// staggered by index. A failing sub-batch is logged and skipped; its photo
// ids are returned so callers can report them.
func (r *BatchRunner) RunDirect(ctx context.Context, taskName string, targets []Target, size int, sequential bool, call DirectCall) []string {
	subs := splitTargets(targets, size)

	var mu sync.Mutex
	var failed []string
	record := func(sub []Target, err error) {
		logger.With(logger.Fields{
			logger.FieldTask:  taskName,
			logger.FieldCount: len(sub),
		}).Warn(ctx, "Sub-batch failed, photos stay pending: %v", err)
		mu.Lock()
		failed = append(failed, targetIDs(sub)...)
		mu.Unlock()
	}

	if sequential {
		for _, sub := range subs {
			if ctx.Err() != nil {
				record(sub, ctx.Err())
				continue
			}
			if err := call(ctx, sub); err != nil {
				record(sub, err)
			}
		}
		return failed
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.workers)
	for i, sub := range subs {
		i, sub := i, sub
		g.Go(func() error {
			if r.stagger > 0 && i > 0 {
				if err := r.clock.Sleep(gctx, time.Duration(i)*r.stagger); err != nil {
					record(sub, err)
					return nil
				}
			}
			if err := call(gctx, sub); err != nil {
				record(sub, err)
			}
			return nil
		})
	}
	_ = g.Wait() // workers record failures instead of returning them
	return failed
}

// RunBatch executes targets through the async Batch API. Targets are split
// into large batches, each holding sub-requests of perRequest photos. At
// most maxInflight batches run concurrently. Each batch gets a bounded
// number of submit attempts; a terminal failure routes its photos to the
// returned fallback set, while a poll-budget timeout abandons the batch and
// leaves its photos pending. Sub-requests whose responses fail to parse
// also land in the fallback set.
func (r *BatchRunner) RunBatch(ctx context.Context, taskName string, targets []Target, batchSize, perRequest int, build BuildRequest, parse ParseContent, commit CommitBatch) []Target {
	byID := make(map[string]Target, len(targets))
	for _, t := range targets {
		byID[t.Photo.ID] = t
	}

	var mu sync.Mutex
	var fallback []Target
	addFallback := func(ids []string) {
		mu.Lock()
		for _, id := range ids {
			if t, ok := byID[id]; ok {
				fallback = append(fallback, t)
			}
		}
		mu.Unlock()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.maxInflight)
	for i, batch := range splitTargets(targets, batchSize) {
		i, batch := i, batch
		g.Go(func() error {
			r.runOneBatch(gctx, taskName, i, batch, perRequest, build, parse, commit, addFallback)
			return nil
		})
	}
	_ = g.Wait()
	return fallback
}

func (r *BatchRunner) runOneBatch(ctx context.Context, taskName string, index int, batch []Target, perRequest int, build BuildRequest, parse ParseContent, commit CommitBatch, addFallback func(ids []string)) {
	subs := splitTargets(batch, perRequest)
	requests := make([]gateway.BatchRequest, 0, len(subs))
	for _, sub := range subs {
		req := build(sub)
		req.CustomID = joinIDs(sub)
		requests = append(requests, req)
	}

	log := logger.With(logger.Fields{
		logger.FieldTask:  taskName,
		logger.FieldBatch: index,
		logger.FieldCount: len(batch),
	})

	for attempt := 1; attempt <= r.attempts; attempt++ {
		batchID, err := r.gw.SubmitBatch(ctx, requests)
		if err != nil {
			gerr := &TransientGatewayError{Op: "batch submit", Err: err}
			log.Warn(ctx, "Batch submission failed (attempt %d/%d): %v", attempt, r.attempts, gerr)
			continue
		}

		state, err := r.waitForBatch(ctx, batchID)
		if err != nil {
			log.Warn(ctx, "Abandoning batch %s, photos stay pending: %v", batchID, err)
			return
		}
		if state != gateway.BatchCompleted {
			log.Warn(ctx, "Batch %s ended in state %s (attempt %d/%d)", batchID, state, attempt, r.attempts)
			continue
		}

		results, err := r.gw.FetchBatchResults(ctx, batchID)
		if err != nil {
			log.Warn(ctx, "Failed to fetch results for batch %s (attempt %d/%d): %v", batchID, attempt, r.attempts, err)
			continue
		}
		r.consumeResults(ctx, taskName, batchID, subs, results, parse, commit, addFallback)
		return
	}

	// Out of attempts: the whole batch goes to the direct fallback.
	log.Warn(ctx, "Batch attempts exhausted, routing photos to direct fallback")
	addFallback(targetIDs(batch))
}

// waitForBatch polls until the batch leaves its running states or the poll
// budget is spent. A spent budget is a *BatchTimeoutError.
func (r *BatchRunner) waitForBatch(ctx context.Context, batchID string) (gateway.BatchState, error) {
	var state gateway.BatchState
	for poll := 0; poll < r.maxPolls; poll++ {
		if err := r.clock.Sleep(ctx, r.pollInterval); err != nil {
			return "", err
		}
		var err error
		state, err = r.gw.PollBatchStatus(ctx, batchID)
		if err != nil {
			logger.With(logger.Fields{logger.FieldBatch: batchID}).Warn(ctx, "Batch status poll failed: %v", err)
			continue
		}
		if !state.Running() {
			return state, nil
		}
	}
	return "", &BatchTimeoutError{BatchID: batchID, Polls: r.maxPolls}
}

func (r *BatchRunner) consumeResults(ctx context.Context, taskName, batchID string, subs [][]Target, results []gateway.BatchResult, parse ParseContent, commit CommitBatch, addFallback func(ids []string)) {
	byCustomID := make(map[string]string, len(results))
	for _, res := range results {
		byCustomID[res.CustomID] = res.Content
	}

	var parsed []string
	for _, sub := range subs {
		ids := targetIDs(sub)
		customID := joinIDs(sub)
		content, ok := byCustomID[customID]
		if !ok {
			addFallback(ids)
			continue
		}
		if err := parse(ids, content); err != nil {
			logger.With(logger.Fields{
				logger.FieldTask:  taskName,
				logger.FieldBatch: batchID,
			}).Warn(ctx, "Routing sub-request to direct fallback: %v", err)
			addFallback(ids)
			continue
		}
		parsed = append(parsed, ids...)
	}
	if len(parsed) == 0 {
		return
	}
	if err := commit(ctx, parsed); err != nil {
		logger.With(logger.Fields{
			logger.FieldTask:  taskName,
			logger.FieldBatch: batchID,
		}).Error(ctx, "Commit failed, photos stay pending: %v", err)
	}
}

func splitTargets(targets []Target, size int) [][]Target {
	if size <= 0 {
		size = 1
	}
	var subs [][]Target
	for start := 0; start < len(targets); start += size {
		end := start + size
		if end > len(targets) {
			end = len(targets)
		}
		subs = append(subs, targets[start:end])
	}
	return subs
}

func targetIDs(targets []Target) []string {
	ids := make([]string, len(targets))
	for i, t := range targets {
		ids[i] = t.Photo.ID
	}
	return ids
}

func joinIDs(targets []Target) string {
	return strings.Join(targetIDs(targets), "|")
}
