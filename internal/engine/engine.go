// Package engine orchestrates batch extraction runs: the worker pool,
// the per-item resilience pipeline, checkpointing, and resumability.
package engine

import (
	"context"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/taxbill-cli/internal/extract"
	"github.com/sells-group/taxbill-cli/internal/metrics"
	"github.com/sells-group/taxbill-cli/internal/model"
	"github.com/sells-group/taxbill-cli/internal/resilience"
	"github.com/sells-group/taxbill-cli/internal/store"
	"github.com/sells-group/taxbill-cli/internal/validate"
)

// Config controls batch orchestration.
type Config struct {
	// Workers is the number of concurrent item processors. Default: 4.
	Workers int

	// Retry is the per-item fetch retry policy.
	Retry resilience.RetryConfig

	// CheckpointEvery flushes accumulated results to the store after this
	// many items. Default: 25.
	CheckpointEvery int

	// CheckpointInterval flushes on a timer even when the item threshold
	// has not been reached. Default: 30s.
	CheckpointInterval time.Duration

	// DLQMaxRetries seeds max_retries on dead letter entries. Default: 3.
	DLQMaxRetries int
}

// DefaultConfig returns the default orchestration settings.
func DefaultConfig() Config {
	return Config{
		Workers:            4,
		Retry:              resilience.DefaultRetryConfig(),
		CheckpointEvery:    25,
		CheckpointInterval: 30 * time.Second,
		DLQMaxRetries:      3,
	}
}

// Deps are the collaborators an Engine orchestrates. Store and Metrics
// may be nil; the engine then runs without persistence or collectors.
type Deps struct {
	Registry  *extract.Registry
	Fetcher   *extract.Fetcher
	Validator *validate.Validator
	Limiter   *resilience.RateLimiter
	Breakers  *resilience.SourceBreakers
	Pool      *resilience.SessionPool
	Store     store.Store
	Metrics   *metrics.Metrics
}

// Engine runs extraction batches.
type Engine struct {
	cfg  Config
	deps Deps
}

// New creates an Engine.
func New(cfg Config, deps Deps) *Engine {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.CheckpointEvery <= 0 {
		cfg.CheckpointEvery = 25
	}
	if cfg.CheckpointInterval <= 0 {
		cfg.CheckpointInterval = 30 * time.Second
	}
	if cfg.DLQMaxRetries <= 0 {
		cfg.DLQMaxRetries = 3
	}
	return &Engine{cfg: cfg, deps: deps}
}

// RunOptions parameterize one batch run.
type RunOptions struct {
	// Label tags the run for later lookup.
	Label string

	// ResumeRunID continues a prior run: items already recorded as
	// success in that run are carried over instead of reprocessed.
	ResumeRunID string

	// Limit caps how many items are processed. Zero means all.
	Limit int

	// OnProgress, if set, is called after each item completes with the
	// number done, the total scheduled, and the item's result.
	OnProgress func(done, total int, r model.ExtractionResult)

	// SkipDeadLetter suppresses dead-lettering of failures for this
	// run. Used when replaying items already in the queue, which would
	// otherwise accumulate duplicate entries.
	SkipDeadLetter bool
}

// RunOutcome is what Run hands back to the caller.
type RunOutcome struct {
	RunID   string
	Report  *model.RunReport
	Results []model.ExtractionResult
}

// Run processes items through the full pipeline and returns the
// aggregate report. Interruption via ctx produces an aborted run whose
// checkpointed results a later --resume can pick up.
func (e *Engine) Run(ctx context.Context, items []model.WorkItem, opts RunOptions) (*RunOutcome, error) {
	runID, completed, err := e.prepareRun(ctx, opts)
	if err != nil {
		return nil, err
	}

	items = planItems(items, completed, opts.Limit)
	resumed := len(completed)

	zap.L().Info("starting run",
		zap.String("run_id", runID),
		zap.Int("items", len(items)),
		zap.Int("resumed", resumed),
		zap.Int("workers", e.cfg.Workers),
	)

	start := time.Now()

	resultCh := make(chan model.ExtractionResult, e.cfg.Workers)
	collectDone := make(chan struct{})
	var collected []model.ExtractionResult
	go func() {
		defer close(collectDone)
		collected = e.collect(runID, len(items), resultCh, opts.OnProgress)
	}()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.Workers)

	for _, item := range items {
		if gctx.Err() != nil {
			break
		}
		item := item
		g.Go(func() error {
			resultCh <- e.processItem(gctx, runID, item, opts.SkipDeadLetter)
			return nil
		})
	}

	_ = g.Wait()
	close(resultCh)
	<-collectDone

	end := time.Now()
	status := model.RunStatusComplete
	if ctx.Err() != nil {
		status = model.RunStatusAborted
	}

	report := model.BuildReport(collected, resumed, start, end)
	if e.deps.Store != nil {
		if err := e.deps.Store.CompleteRun(ctx, runID, status, report); err != nil {
			// The run finished; a bookkeeping failure should not discard it.
			zap.L().Error("persist run report", zap.Error(err))
		}
	}

	zap.L().Info("run finished",
		zap.String("run_id", runID),
		zap.String("status", string(status)),
		zap.Int("total", report.TotalItems),
		zap.Duration("duration", report.Duration),
	)

	return &RunOutcome{RunID: runID, Report: report, Results: collected}, nil
}

// prepareRun creates a fresh run row or reopens the one being resumed,
// returning the run ID and the item IDs already done.
func (e *Engine) prepareRun(ctx context.Context, opts RunOptions) (string, map[string]model.ResultStatus, error) {
	if e.deps.Store == nil {
		return "ephemeral", nil, nil
	}

	if opts.ResumeRunID != "" {
		if _, err := e.deps.Store.GetRun(ctx, opts.ResumeRunID); err != nil {
			return "", nil, eris.Wrapf(err, "engine: resume run %s", opts.ResumeRunID)
		}
		completed, err := e.deps.Store.CompletedItemIDs(ctx, opts.ResumeRunID, model.StatusSuccess)
		if err != nil {
			return "", nil, eris.Wrap(err, "engine: load checkpoint")
		}
		if err := e.deps.Store.UpdateRunStatus(ctx, opts.ResumeRunID, model.RunStatusRunning); err != nil {
			return "", nil, eris.Wrap(err, "engine: reopen run")
		}
		return opts.ResumeRunID, completed, nil
	}

	run, err := e.deps.Store.CreateRun(ctx, opts.Label)
	if err != nil {
		return "", nil, eris.Wrap(err, "engine: create run")
	}
	return run.ID, nil, nil
}

// planItems drops already-completed items and applies the limit,
// preserving input order.
func planItems(items []model.WorkItem, completed map[string]model.ResultStatus, limit int) []model.WorkItem {
	planned := make([]model.WorkItem, 0, len(items))
	for _, item := range items {
		if _, done := completed[item.ID]; done {
			continue
		}
		planned = append(planned, item)
		if limit > 0 && len(planned) >= limit {
			break
		}
	}
	return planned
}

// collect drains results, flushing a checkpoint to the store every
// CheckpointEvery items or CheckpointInterval, whichever comes first.
// Flushes use context.Background so an aborted run still checkpoints
// everything it finished.
func (e *Engine) collect(runID string, total int, resultCh <-chan model.ExtractionResult, onProgress func(int, int, model.ExtractionResult)) []model.ExtractionResult {
	var all []model.ExtractionResult
	var pending []model.ExtractionResult

	flush := func() {
		if len(pending) == 0 || e.deps.Store == nil {
			return
		}
		flushCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := e.deps.Store.SaveResults(flushCtx, runID, pending); err != nil {
			zap.L().Error("checkpoint flush failed",
				zap.String("run_id", runID),
				zap.Int("results", len(pending)),
				zap.Error(err),
			)
			return
		}
		zap.L().Debug("checkpoint flushed",
			zap.String("run_id", runID),
			zap.Int("results", len(pending)),
		)
		pending = pending[:0]
	}

	ticker := time.NewTicker(e.cfg.CheckpointInterval)
	defer ticker.Stop()

	for {
		select {
		case r, ok := <-resultCh:
			if !ok {
				flush()
				return all
			}
			all = append(all, r)
			pending = append(pending, r)
			if onProgress != nil {
				onProgress(len(all), total, r)
			}
			if len(pending) >= e.cfg.CheckpointEvery {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}

// processItem runs one work item through the full pipeline: circuit
// gate, rate limit, pooled fetch with retry, parse, then validation.
// It always returns a terminal result and never an error; failures are
// encoded in the result's status and error kind.
func (e *Engine) processItem(ctx context.Context, runID string, item model.WorkItem, skipDLQ bool) model.ExtractionResult {
	start := time.Now()
	e.deps.Metrics.IncInFlight()
	defer e.deps.Metrics.DecInFlight()
	sourceKey := item.DeriveSourceKey()
	strategy := e.deps.Registry.Resolve(sourceKey)
	log := zap.L().With(
		zap.String("item", item.ID),
		zap.String("source", sourceKey),
		zap.String("strategy", strategy.Name()),
	)

	// A cached response needs no network slot, so the rate limiter is
	// bypassed for it. The circuit is still consulted: a source in
	// failure isolation stays isolated even for cached URLs.
	cacheHit := e.deps.Fetcher != nil && e.deps.Fetcher.Cached(item.SourceURL)

	gate := func(ctx context.Context) error {
		if err := e.deps.Breakers.Allow(sourceKey); err != nil {
			return err
		}
		if cacheHit {
			return nil
		}
		if err := e.deps.Limiter.Wait(ctx, sourceKey); err != nil {
			// Allow may have claimed the half-open probe lease. No
			// attempt is coming, so hand it back.
			e.deps.Breakers.ReleaseProbe(sourceKey)
			return err
		}
		return nil
	}

	retryCfg := e.cfg.Retry
	baseOnRetry := retryCfg.OnRetry
	retryCfg.OnRetry = func(attempt int, err error) {
		e.deps.Metrics.IncRetry()
		resilience.RetryLogger(sourceKey)(attempt, err)
		if baseOnRetry != nil {
			baseOnRetry(attempt, err)
		}
	}

	fields, attempts, err := resilience.DoVal(ctx, retryCfg, gate, func(ctx context.Context) (model.RawFields, error) {
		return e.attempt(ctx, item, sourceKey, strategy, cacheHit)
	})

	e.deps.Metrics.IncAttempts(sourceKey, attempts)

	var result model.ExtractionResult
	switch {
	case err != nil && attempts == 0 && errors.Is(err, resilience.ErrCircuitOpen):
		log.Info("item skipped, circuit open")
		result = model.ExtractionResult{
			Status:    model.StatusSkipped,
			Error:     err.Error(),
			ErrorKind: string(resilience.KindCircuitOpen),
		}
	case err != nil && attempts == 0:
		// Gate denial before the first attempt, e.g. run cancellation
		// while waiting on the rate limiter.
		result = model.ExtractionResult{
			Status:    model.StatusSkipped,
			Error:     err.Error(),
			ErrorKind: string(resilience.KindOf(err)),
		}
	case err != nil:
		kind := resilience.KindOf(err)
		log.Warn("item failed", zap.Int("attempts", attempts), zap.String("kind", string(kind)), zap.Error(err))
		result = model.ExtractionResult{
			Status:    model.StatusFailed,
			Error:     err.Error(),
			ErrorKind: string(kind),
		}
		if !skipDLQ {
			e.deadLetter(ctx, runID, item, err, kind, attempts)
		}
	default:
		outcome := e.deps.Validator.Validate(item, fields)
		result = model.ExtractionResult{
			Status:     outcome.Status,
			AmountDue:  outcome.AmountDue,
			DueDate:    outcome.DueDate,
			Address:    outcome.Address,
			RawFields:  fields,
			Validation: outcome.Report,
		}
		if outcome.Report != nil {
			result.ErrorKind = string(resilience.KindValidationRejected)
			result.Error = outcome.Report.Message
			log.Info("item validated with findings",
				zap.String("status", string(outcome.Status)),
				zap.String("reason", string(outcome.Report.Reason)),
			)
		} else {
			log.Info("item extracted", zap.Float64("amount_due", outcome.AmountDue))
		}
	}

	result.WorkItemID = item.ID
	result.SourceKey = sourceKey
	result.Attempts = attempts
	result.CacheHit = cacheHit
	result.Duration = time.Since(start)
	result.ExtractedAt = time.Now().UTC()

	if cacheHit {
		e.deps.Metrics.IncCacheHit()
	}
	e.deps.Metrics.ObserveResult(string(result.Status), result.Duration)

	return result
}

// attempt is one fetch+parse try. It owns the session checkout, circuit
// bookkeeping, and the end-of-request rate limiter update.
func (e *Engine) attempt(ctx context.Context, item model.WorkItem, sourceKey string, strategy extract.Strategy, cacheHit bool) (model.RawFields, error) {
	sess, err := e.deps.Pool.Acquire(ctx, sourceKey)
	if err != nil {
		e.deps.Breakers.ReleaseProbe(sourceKey)
		return nil, err
	}

	fields, err := strategy.FetchAndParse(ctx, item, sess)

	// The spacing clock moves at request end so the configured interval
	// measures gap between requests, not between request starts.
	if !cacheHit {
		e.deps.Limiter.Record(sourceKey)
	}

	kind := resilience.KindOf(err)
	if err != nil && kind == resilience.KindNetwork {
		// A session that just saw a transport failure is suspect.
		e.deps.Pool.Discard(sess)
	} else {
		e.deps.Pool.Release(sess)
	}

	// Only infrastructure failures count toward opening the circuit.
	// A page that parses wrong is a strategy problem, not a source
	// outage, and must not block other items for the same county.
	switch {
	case err == nil:
		e.deps.Breakers.RecordSuccess(sourceKey)
	case kind == resilience.KindNetwork || kind == resilience.KindRenderTimeout:
		e.deps.Breakers.RecordFailure(sourceKey)
	default:
		e.deps.Breakers.RecordSuccess(sourceKey)
	}

	return fields, err
}

// deadLetter records a terminally failed item for later replay.
// Cancellation is not a source failure and is not dead-lettered.
func (e *Engine) deadLetter(ctx context.Context, runID string, item model.WorkItem, err error, kind resilience.ErrorKind, attempts int) {
	if e.deps.Store == nil || kind == resilience.KindCanceled {
		return
	}
	entry := &resilience.DLQEntry{
		RunID:        runID,
		Item:         item,
		Error:        err.Error(),
		ErrorKind:    string(kind),
		Attempts:     attempts,
		MaxRetries:   e.cfg.DLQMaxRetries,
		LastFailedAt: time.Now().UTC(),
	}
	if dErr := e.deps.Store.SaveDLQEntry(ctx, entry); dErr != nil {
		zap.L().Warn("dead letter save failed", zap.String("item", item.ID), zap.Error(dErr))
	}
}
