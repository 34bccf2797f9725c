package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/prashant21b/kreditbee/internal/mfapi"
	"github.com/prashant21b/kreditbee/internal/store"
)

// incremental tops up schemes whose backfill has completed: fetch the full
// upstream series, keep only rows strictly newer than the stored high-water
// mark, and append them. It returns the scheme codes it touched and the total
// number of new rows so the caller can decide whether analytics needs a
// recompute.
func (o *Orchestrator) incremental(ctx context.Context) ([]string, int, error) {
	codes, err := o.deps.Sync.CompletedSchemes(ctx, store.SyncBackfill)
	if err != nil {
		return nil, 0, fmt.Errorf("incremental: %w", err)
	}
	if len(codes) == 0 {
		o.logger.InfoContext(ctx, "no backfilled schemes, incremental sync is a no-op")
		return nil, 0, nil
	}

	total := len(codes)
	completed, failed, newRows := 0, 0, 0

	for i, code := range codes {
		if err := o.deps.Sync.MarkInProgress(ctx, code, store.SyncIncremental); err != nil {
			return nil, 0, fmt.Errorf("incremental: %w", err)
		}

		added, err := o.syncScheme(ctx, code)
		if err != nil {
			if markErr := o.deps.Sync.MarkFailed(ctx, code, store.SyncIncremental, err.Error()); markErr != nil {
				return nil, 0, fmt.Errorf("incremental: %w", markErr)
			}
			if errors.Is(err, mfapi.ErrRateLimitBreach) {
				return nil, 0, fmt.Errorf("incremental: %w", err)
			}
			o.logger.WarnContext(ctx, "incremental sync failed",
				slog.String("scheme_code", code), slog.Any("error", err))
			failed++
		} else {
			completed++
			newRows += added
			schemesSynced.WithLabelValues(string(store.SyncIncremental)).Inc()
		}

		pct := ingestEndPct * float64(i+1) / float64(total)
		if err := o.deps.Status.Progress(ctx, PhaseIncremental, pct, total, completed, failed); err != nil {
			return nil, 0, err
		}
	}

	o.logger.InfoContext(ctx, "incremental sync finished",
		slog.Int("total", total), slog.Int("completed", completed),
		slog.Int("failed", failed), slog.Int("new_rows", newRows))
	return codes, newRows, nil
}

// syncScheme appends NAV rows newer than the stored maximum for one scheme
// and finalizes its incremental sync-state row.
func (o *Orchestrator) syncScheme(ctx context.Context, code string) (int, error) {
	maxDate, haveRows, err := o.deps.NAVs.MaxDate(ctx, code)
	if err != nil {
		return 0, err
	}

	history, err := o.deps.Upstream.FetchScheme(ctx, code)
	if err != nil {
		return 0, err
	}
	if len(history.NAVs) == 0 {
		return 0, errors.New("upstream returned no NAV data")
	}

	var fresh []store.NavPoint
	for _, p := range history.NAVs {
		if haveRows && !p.Date.After(maxDate) {
			continue
		}
		fresh = append(fresh, store.NavPoint{Date: p.Date, NAV: p.NAV})
	}

	if len(fresh) > 0 {
		if err := o.deps.NAVs.BulkUpsert(ctx, code, fresh); err != nil {
			return 0, err
		}
		navRowsWritten.Add(float64(len(fresh)))
	}

	last := maxDate
	if len(fresh) > 0 {
		last = fresh[len(fresh)-1].Date
	} else if !haveRows {
		last = history.NAVs[len(history.NAVs)-1].Date
	}
	if err := o.deps.Sync.MarkCompleted(ctx, code, store.SyncIncremental, last, len(fresh)); err != nil {
		return 0, err
	}
	return len(fresh), nil
}
