// Package pipeline sequences the ingestion run: discovery → backfill (or
// incremental) → analytics. At most one run is in flight process-wide; the
// in-process flag resolves same-process races and the durable pipeline-status
// row resolves cross-restart ambiguity. Schemes are processed sequentially —
// with a handful of schemes and a 300/hr admission ceiling, parallelism buys
// no throughput and would complicate limiter accounting.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/prashant21b/kreditbee/internal/analytics"
	"github.com/prashant21b/kreditbee/internal/discovery"
	"github.com/prashant21b/kreditbee/internal/mfapi"
	"github.com/prashant21b/kreditbee/internal/store"
)

// Mode selects which run Trigger starts.
type Mode string

const (
	ModeFull        Mode = "full"
	ModeIncremental Mode = "incremental"
)

// Phase names recorded in the pipeline-status row.
const (
	PhaseDiscovery   = "discovery"
	PhaseBackfill    = "backfill"
	PhaseIncremental = "incremental"
	PhaseAnalytics   = "analytics"
)

// Progress boundaries: discovery ends at 10%, ingestion at 70%, analytics at
// 100%. Incremental runs have no discovery phase, so ingestion spans 0–70.
const (
	discoveryEndPct = 10.0
	ingestEndPct    = 70.0
	analyticsEndPct = 100.0
)

// Upstream is the slice of the NAV API client the pipeline needs.
type Upstream interface {
	ListSchemes(ctx context.Context) ([]mfapi.SchemeRef, error)
	FetchScheme(ctx context.Context, schemeCode string) (*mfapi.SchemeHistory, error)
}

// FundRepo persists fund rows.
type FundRepo interface {
	Upsert(ctx context.Context, fund store.Fund) error
}

// NAVRepo persists and reads NAV history.
type NAVRepo interface {
	BulkUpsert(ctx context.Context, schemeCode string, points []store.NavPoint) error
	History(ctx context.Context, schemeCode string) ([]store.NavPoint, error)
	MaxDate(ctx context.Context, schemeCode string) (time.Time, bool, error)
}

// SyncRepo tracks per-scheme progress.
type SyncRepo interface {
	Get(ctx context.Context, schemeCode string, syncType store.SyncType) (*store.SyncState, error)
	MarkInProgress(ctx context.Context, schemeCode string, syncType store.SyncType) error
	MarkCompleted(ctx context.Context, schemeCode string, syncType store.SyncType, lastSynced time.Time, totalRecords int) error
	MarkFailed(ctx context.Context, schemeCode string, syncType store.SyncType, message string) error
	CompletedSchemes(ctx context.Context, syncType store.SyncType) ([]string, error)
}

// StatusRepo owns the singleton pipeline-status row.
type StatusRepo interface {
	Start(ctx context.Context, phase string) error
	Progress(ctx context.Context, phase string, percent float64, total, completed, failed int) error
	Complete(ctx context.Context) error
	Fail(ctx context.Context, message string) error
	ResetStale(ctx context.Context) (bool, error)
}

// AnalyticsRepo persists computed window rows.
type AnalyticsRepo interface {
	Upsert(ctx context.Context, schemeCode string, r analytics.WindowResult) error
}

// Deps wires the orchestrator.
type Deps struct {
	Upstream  Upstream
	Funds     FundRepo
	NAVs      NAVRepo
	Sync      SyncRepo
	Status    StatusRepo
	Analytics AnalyticsRepo
	Filter    discovery.Filter
	Logger    *slog.Logger
}

// Orchestrator runs the pipeline.
type Orchestrator struct {
	deps   Deps
	logger *slog.Logger

	mu      sync.Mutex
	running bool
}

// New builds an orchestrator.
func New(deps Deps) (*Orchestrator, error) {
	if deps.Upstream == nil || deps.Funds == nil || deps.NAVs == nil ||
		deps.Sync == nil || deps.Status == nil || deps.Analytics == nil {
		return nil, ErrMissingDependency
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if len(deps.Filter.Mandatory) == 0 && len(deps.Filter.AMCs) == 0 {
		deps.Filter = discovery.DefaultFilter()
	}
	return &Orchestrator{deps: deps, logger: logger}, nil
}

// Running reports whether a run currently holds the pipeline slot.
func (o *Orchestrator) Running() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.running
}

func (o *Orchestrator) tryAcquire() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.running {
		return false
	}
	o.running = true
	return true
}

func (o *Orchestrator) release() {
	o.mu.Lock()
	o.running = false
	o.mu.Unlock()
}

// Recover detects a run interrupted by a process kill (status still
// "running") and resets the row to idle so a new trigger is accepted.
// Per-scheme resume is then driven by sync_state.
func (o *Orchestrator) Recover(ctx context.Context) error {
	reset, err := o.deps.Status.ResetStale(ctx)
	if err != nil {
		return err
	}
	if reset {
		o.logger.WarnContext(ctx, "previous pipeline run was interrupted, status reset to idle")
	}
	return nil
}

// Trigger starts a run asynchronously. It returns ErrAlreadyRunning when the
// pipeline slot is taken; the control plane maps that to 409.
func (o *Orchestrator) Trigger(ctx context.Context, mode Mode) error {
	if mode != ModeFull && mode != ModeIncremental {
		return fmt.Errorf("%w: %q", ErrInvalidMode, mode)
	}
	if !o.tryAcquire() {
		return ErrAlreadyRunning
	}

	// The trigger request's context dies with the HTTP response; the run
	// keeps its values (request id) but not its cancellation.
	runCtx := context.WithoutCancel(ctx)
	go func() {
		defer o.release()
		var err error
		if mode == ModeFull {
			err = o.runFull(runCtx)
		} else {
			err = o.runIncremental(runCtx)
		}
		if err != nil {
			o.logger.Error("pipeline run failed", slog.String("mode", string(mode)), slog.Any("error", err))
		}
	}()
	return nil
}

// RunFull executes a full run synchronously (discovery → backfill →
// analytics). Used by the scheduler-less path and by tests.
func (o *Orchestrator) RunFull(ctx context.Context) error {
	if !o.tryAcquire() {
		return ErrAlreadyRunning
	}
	defer o.release()
	return o.runFull(ctx)
}

// RunIncremental executes an incremental run synchronously.
func (o *Orchestrator) RunIncremental(ctx context.Context) error {
	if !o.tryAcquire() {
		return ErrAlreadyRunning
	}
	defer o.release()
	return o.runIncremental(ctx)
}

func (o *Orchestrator) runFull(ctx context.Context) (err error) {
	started := time.Now()
	defer func() { o.finish(ctx, ModeFull, started, err) }()

	if err = o.deps.Status.Start(ctx, PhaseDiscovery); err != nil {
		return err
	}

	refs, err := o.deps.Upstream.ListSchemes(ctx)
	if err != nil {
		return fmt.Errorf("discovery: %w", err)
	}
	schemes := discovery.Discover(refs, o.deps.Filter)
	o.logger.InfoContext(ctx, "discovery finished",
		slog.Int("catalog_size", len(refs)), slog.Int("matched", len(schemes)))

	if err = o.deps.Status.Progress(ctx, PhaseDiscovery, discoveryEndPct, len(schemes), 0, 0); err != nil {
		return err
	}

	if err = o.backfill(ctx, schemes); err != nil {
		return err
	}

	codes := make([]string, len(schemes))
	for i, s := range schemes {
		codes[i] = s.SchemeCode
	}
	if err = o.recomputeAnalytics(ctx, codes, len(schemes)); err != nil {
		return err
	}

	return o.deps.Status.Complete(ctx)
}

func (o *Orchestrator) runIncremental(ctx context.Context) (err error) {
	started := time.Now()
	defer func() { o.finish(ctx, ModeIncremental, started, err) }()

	if err = o.deps.Status.Start(ctx, PhaseIncremental); err != nil {
		return err
	}

	codes, newRows, err := o.incremental(ctx)
	if err != nil {
		return err
	}

	if newRows == 0 {
		o.logger.InfoContext(ctx, "incremental sync found no new rows, skipping analytics")
		return o.deps.Status.Complete(ctx)
	}

	if err = o.recomputeAnalytics(ctx, codes, len(codes)); err != nil {
		return err
	}

	return o.deps.Status.Complete(ctx)
}

// finish records run metrics and writes the terminal failed state; success
// states are written by the run bodies themselves.
func (o *Orchestrator) finish(ctx context.Context, mode Mode, started time.Time, err error) {
	result := "ok"
	if err != nil {
		result = "error"
		if failErr := o.deps.Status.Fail(ctx, err.Error()); failErr != nil {
			o.logger.Error("failed to record pipeline failure", slog.Any("error", failErr))
		}
	}
	runsTotal.WithLabelValues(string(mode), result).Inc()
	runDuration.WithLabelValues(string(mode)).Observe(time.Since(started).Seconds())
}

// recomputeAnalytics rebuilds every window row for the given schemes,
// reading each series after its sync-state row was finalized so the snapshot
// reflects the completed sync.
func (o *Orchestrator) recomputeAnalytics(ctx context.Context, codes []string, total int) error {
	for i, code := range codes {
		points, err := o.deps.NAVs.History(ctx, code)
		if err != nil {
			return fmt.Errorf("analytics: %w", err)
		}

		series := make([]analytics.Point, len(points))
		for j, p := range points {
			series[j] = analytics.Point{Date: p.Date, NAV: p.NAV}
		}

		for _, result := range analytics.Compute(series) {
			if err := o.deps.Analytics.Upsert(ctx, code, result); err != nil {
				return fmt.Errorf("analytics: %w", err)
			}
		}

		pct := ingestEndPct + (analyticsEndPct-ingestEndPct)*float64(i+1)/float64(max(len(codes), 1))
		if err := o.deps.Status.Progress(ctx, PhaseAnalytics, pct, total, i+1, 0); err != nil {
			return err
		}
	}
	return nil
}
