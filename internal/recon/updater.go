package recon

import (
	"context"
	"time"

	"go.uber.org/zap"

	"recon_automation/internal/store"
)

// IndicatorStore is the part of the store a reconciliation pass needs.
type IndicatorStore interface {
	UpdateIndicators(ctx context.Context, ids []string, ind store.Indicator) (int64, error)
	CallProcedure(ctx context.Context, name string) error
}

// Result summarises one reconciliation pass.
type Result struct {
	DropOffCharts   int           `json:"drop_off_charts"`
	ConfirmedCharts int           `json:"confirmed_charts"`
	DropOffUpdated  int64         `json:"drop_off_updated"`
	PaymentUpdated  int64         `json:"payment_updated"`
	Procedures      []string      `json:"procedures"`
	Duration        time.Duration `json:"duration"`
}

// Updater reconciles loaded detail rows against the drop-off location and
// the payment confirmation exports.
type Updater struct {
	Store      IndicatorStore
	DropOffDir string
	PaymentDir string
	Vendors    []string
	Procedures []string
	Logger     *zap.Logger
}

// Run gathers both sources for every vendor, updates drop_off_ind then
// payment_recon_ind, then calls the configured procedures in order. A source
// that cannot be read aborts the pass before any update is issued. Updates
// already committed are not rolled back when a later step fails.
func (u *Updater) Run(ctx context.Context) (Result, error) {
	start := time.Now()
	logger := u.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	var res Result

	var dropOff, confirmed []string
	for _, vendor := range u.Vendors {
		d, err := DropOffCharts(u.DropOffDir, vendor)
		if err != nil {
			return res, err
		}
		c, err := ConfirmedCharts(u.PaymentDir, vendor)
		if err != nil {
			return res, err
		}
		logger.Debug("vendor sources read", zap.String("vendor", vendor), zap.Int("drop_off", len(d)), zap.Int("confirmed", len(c)))
		dropOff = append(dropOff, d...)
		confirmed = append(confirmed, c...)
	}
	res.DropOffCharts = len(dropOff)
	res.ConfirmedCharts = len(confirmed)

	n, err := u.Store.UpdateIndicators(ctx, dropOff, store.DropOffInd)
	if err != nil {
		return res, err
	}
	res.DropOffUpdated = n
	n, err = u.Store.UpdateIndicators(ctx, confirmed, store.PaymentReconInd)
	if err != nil {
		return res, err
	}
	res.PaymentUpdated = n

	for _, proc := range u.Procedures {
		if err := u.Store.CallProcedure(ctx, proc); err != nil {
			return res, err
		}
		res.Procedures = append(res.Procedures, proc)
	}
	res.Duration = time.Since(start)
	logger.Info("reconciliation pass complete",
		zap.Int("drop_off_charts", res.DropOffCharts),
		zap.Int("confirmed_charts", res.ConfirmedCharts),
		zap.Int64("drop_off_updated", res.DropOffUpdated),
		zap.Int64("payment_updated", res.PaymentUpdated),
		zap.Duration("duration", res.Duration),
	)
	return res, nil
}
