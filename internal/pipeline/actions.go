package pipeline

import (
	"context"
	"path/filepath"

	"go.uber.org/zap"

	"recon_automation/internal/jobs"
	"recon_automation/internal/lifecycle"
	"recon_automation/internal/recon"
	"recon_automation/internal/report"
)

// Loader persists parsed reports.
type Loader interface {
	LoadReport(ctx context.Context, rec *report.Record) (int64, error)
}

// LoadAction parses the report at path, persists it and moves it to the
// archive. On failure the file stays where it is.
func LoadAction(st Loader, lc *lifecycle.Manager, logger *zap.Logger) jobs.Action {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(ctx context.Context, path string) (jobs.Result, error) {
		rec, err := report.ParseFile(path)
		if err != nil {
			return jobs.Result{}, err
		}
		id, err := st.LoadReport(ctx, rec)
		if err != nil {
			return jobs.Result{Record: rec}, err
		}
		logger.Info("report loaded",
			zap.String("report", rec.ReportName),
			zap.String("vendor", rec.Vendor),
			zap.Int64("header_id", id),
			zap.Int("unique_count", rec.UniqueCount),
		)
		if _, err := lc.Archive(filepath.Base(path)); err != nil {
			return jobs.Result{Record: rec, HeaderID: id}, err
		}
		return jobs.Result{Record: rec, HeaderID: id}, nil
	}
}

// UpdateAction consumes the trigger by clearing the update input area and
// runs one reconciliation pass.
func UpdateAction(u *recon.Updater, lc *lifecycle.Manager) jobs.Action {
	return func(ctx context.Context, path string) (jobs.Result, error) {
		if err := lc.ClearInput(); err != nil {
			return jobs.Result{}, err
		}
		res, err := u.Run(ctx)
		if err != nil {
			return jobs.Result{Recon: &res}, err
		}
		return jobs.Result{Recon: &res}, nil
	}
}
