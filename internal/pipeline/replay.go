package pipeline

import (
	"context"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"recon_automation/backfill"
	"recon_automation/internal/jobs"
	"recon_automation/internal/lifecycle"
	"recon_automation/internal/report"
)

// TableStore is the store surface used by replay and reset.
type TableStore interface {
	Loader
	ResetTables(ctx context.Context) error
	LoadedReportNames(ctx context.Context) (map[string]bool, error)
}

// ReplayOptions tunes a replay.
type ReplayOptions struct {
	// Resume skips the reset and any staged report already archived or
	// already present in the header table.
	Resume      bool
	KeepArchive bool
	Limit       int
}

// Replayer reloads staged reports of the load process in report-date
// order. It implements backfill.Repository.
type Replayer struct {
	lc     *lifecycle.Manager
	store  TableStore
	load   jobs.Action
	logger *zap.Logger
	resume bool
}

func NewReplayer(lc *lifecycle.Manager, st TableStore, logger *zap.Logger) *Replayer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Replayer{lc: lc, store: st, load: LoadAction(st, lc, logger), logger: logger}
}

// ListCandidates lists staged files with their replay sort key.
func (r *Replayer) ListCandidates(ctx context.Context) ([]backfill.Record, error) {
	names, err := r.lc.StagingFiles()
	if err != nil {
		return nil, err
	}
	archived := map[string]bool{}
	if r.resume {
		loaded, err := r.store.LoadedReportNames(ctx)
		if err != nil {
			return nil, err
		}
		archived = loaded
		entries, err := os.ReadDir(r.lc.Areas().InputArchive)
		if err != nil {
			return nil, err
		}
		for _, e := range entries {
			archived[e.Name()] = true
		}
	}
	records := make([]backfill.Record, 0, len(names))
	for _, name := range names {
		rec := backfill.Record{Filename: name, SortKey: report.SortKey(name), Status: backfill.StatusPending}
		if info, err := os.Stat(filepath.Join(r.lc.Areas().Staging, name)); err == nil {
			rec.SizeBytes = info.Size()
		}
		if archived[name] {
			rec.Status = backfill.StatusDone
		}
		records = append(records, rec)
	}
	return records, nil
}

// Replay promotes one staged report and loads it.
func (r *Replayer) Replay(ctx context.Context, rec backfill.Record) error {
	path, err := r.lc.Promote(rec.Filename)
	if err != nil {
		return err
	}
	_, err = r.load(ctx, path)
	return err
}

// Pending returns the records a replay with opts would load, in order.
func (r *Replayer) Pending(ctx context.Context, opts ReplayOptions) ([]backfill.Record, error) {
	r.resume = opts.Resume
	records, err := r.ListCandidates(ctx)
	if err != nil {
		return nil, err
	}
	pending, _ := backfill.SelectPending(records, opts.Limit)
	return pending, nil
}

// Run resets the load process unless resuming, replays every pending
// staged report and finally empties the archive unless asked to keep it.
// The first failing report stops the replay and is left in input.
func (r *Replayer) Run(ctx context.Context, opts ReplayOptions, onDone func(backfill.Record)) (backfill.Summary, error) {
	r.resume = opts.Resume
	if !opts.Resume {
		if err := r.lc.Reset(); err != nil {
			return backfill.Summary{}, err
		}
		if err := r.store.ResetTables(ctx); err != nil {
			return backfill.Summary{}, err
		}
	}
	summary, err := backfill.Run(ctx, r, opts.Limit, r.logger, onDone)
	if err != nil {
		return summary, err
	}
	if !opts.KeepArchive {
		if err := r.lc.ClearArchive(); err != nil {
			return summary, err
		}
	}
	return summary, nil
}
