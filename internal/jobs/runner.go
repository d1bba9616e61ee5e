package jobs

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"recon_automation/internal/apperrors"
	"recon_automation/internal/config"
	"recon_automation/internal/events"
	"recon_automation/internal/logging"
	"recon_automation/internal/metrics"
	"recon_automation/internal/notify"
	"recon_automation/internal/recon"
	"recon_automation/internal/report"
)

// Status values for outcomes.
const (
	StatusSuccess = notify.StatusSuccess
	StatusError   = notify.StatusError
)

const (
	recordTimeLayout = "2006-01-02 15:04:05"
	notifyTimeLayout = "2006-01-02 15:04:05.000"
)

// Result is what an action reports on success.
type Result struct {
	Record   *report.Record
	HeaderID int64
	Recon    *recon.Result
}

// Action does the work for one detected file.
type Action func(ctx context.Context, path string) (Result, error)

// Outcome is the explicit result of one processing run.
type Outcome struct {
	RunID     string         `json:"run_id"`
	Process   string         `json:"process"`
	FileName  string         `json:"file_name"`
	Status    string         `json:"status"`
	ErrKind   apperrors.Kind `json:"error_kind,omitempty"`
	Error     string         `json:"error,omitempty"`
	LogPath   string         `json:"log_path"`
	HeaderID  int64          `json:"header_id,omitempty"`
	Record    *report.Record `json:"-"`
	Recon     *recon.Result  `json:"recon,omitempty"`
	StartedAt time.Time      `json:"started_at"`
	Duration  time.Duration  `json:"duration"`
	Err       error          `json:"-"`
}

func (o Outcome) OK() bool { return o.Status == StatusSuccess }

// Options configures a Runner.
type Options struct {
	Process       string
	LogDir        string
	Action        Action
	Notifier      notify.Notifier
	NotifyTimeout time.Duration
	Metrics       *metrics.Metrics
	Bus           *events.Bus
	Logger        *zap.Logger
}

// Runner executes one action per detected file, records the outcome in a
// dedicated run log and reports it to the notifier.
type Runner struct {
	opts   Options
	logger *zap.Logger
	now    func() time.Time
}

// NewRunner constructs a runner.
func NewRunner(opts Options) *Runner {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{opts: opts, logger: logger.With(zap.String("process", opts.Process)), now: time.Now}
}

func (r *Runner) Process() string { return r.opts.Process }

// Run processes path to completion. It never returns an error: failures
// are captured in the Outcome. The action runs detached from ctx
// cancellation so an interrupt cannot abort it half way.
func (r *Runner) Run(ctx context.Context, path string) Outcome {
	start := r.now()
	out := Outcome{
		RunID:     uuid.NewString(),
		Process:   r.opts.Process,
		FileName:  filepath.Base(path),
		StartedAt: start,
	}
	logger := r.logger.With(zap.String("run_id", out.RunID), zap.String("file", out.FileName))

	runLog, err := logging.OpenRunLog(r.opts.LogDir, r.opts.Process, start)
	if err != nil {
		logger.Error("run log unavailable", zap.Error(err))
	} else {
		out.LogPath = runLog.Path
		defer runLog.Close()
	}
	runLog.Info("New file detected: " + out.FileName)

	res, err := r.opts.Action(context.WithoutCancel(ctx), path)
	out.Duration = time.Since(start)
	if err != nil {
		out.Status = StatusError
		out.Err = err
		out.Error = err.Error()
		out.ErrKind = apperrors.KindOf(err)
		runLog.Info(outcomeRecord(r.opts.Process, out.Status, r.now(), nil))
		runLog.Error(fmt.Sprintf("Error Details: %v\n", err))
		logger.Error("processing failed", zap.String("kind", string(out.ErrKind)), zap.Error(err))
	} else {
		out.Status = StatusSuccess
		out.Record = res.Record
		out.HeaderID = res.HeaderID
		out.Recon = res.Recon
		runLog.Info(outcomeRecord(r.opts.Process, out.Status, r.now(), res.Record))
		logger.Info("processing complete", zap.Duration("duration", out.Duration))
	}
	r.opts.Metrics.ObserveAction(r.opts.Process, out.Status, out.Duration)
	if res.Recon != nil {
		r.opts.Metrics.AddRowsUpdated("drop_off_ind", res.Recon.DropOffUpdated)
		r.opts.Metrics.AddRowsUpdated("payment_recon_ind", res.Recon.PaymentUpdated)
	}

	r.notify(ctx, out, start, logger)
	if r.opts.Bus != nil {
		r.opts.Bus.Publish(out)
	}
	return out
}

func (r *Runner) notify(ctx context.Context, out Outcome, detected time.Time, logger *zap.Logger) {
	if r.opts.Notifier == nil {
		return
	}
	nctx := context.WithoutCancel(ctx)
	if r.opts.NotifyTimeout > 0 {
		var cancel context.CancelFunc
		nctx, cancel = context.WithTimeout(nctx, r.opts.NotifyTimeout)
		defer cancel()
	}
	msg := notify.Message{
		ProcessName: out.Process,
		FileName:    out.FileName,
		Timestamp:   detected.Format(notifyTimeLayout),
		Status:      out.Status,
		LogLocation: out.LogPath,
		Exception:   out.Error,
	}
	if err := r.opts.Notifier.Notify(nctx, msg); err != nil {
		r.opts.Metrics.NotificationFailed(out.Process)
		logger.Warn("notification failed", zap.Error(err))
	}
}

// outcomeRecord renders the fixed-format status block of a run log.
// Successful loads also carry the parsed summary.
func outcomeRecord(process, status string, ts time.Time, rec *report.Record) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Status: %s\n", status)
	fmt.Fprintf(&b, "TimeStamp: %s", ts.Format(recordTimeLayout))
	if status != StatusSuccess || process != config.ProcessLoad || rec == nil {
		return b.String()
	}
	fmt.Fprintf(&b, "\nReportName: %s\n", rec.ReportName)
	fmt.Fprintf(&b, "ReportFileDate: %s\n", rec.ReportFileDateString())
	fmt.Fprintf(&b, "Vendor: %s\n", rec.Vendor)
	fmt.Fprintf(&b, "FileCount: %d\n", rec.FileCount)
	fmt.Fprintf(&b, "ObservedCount: %d\n", rec.ObservedCount)
	fmt.Fprintf(&b, "UniqueCount: %d\n", rec.UniqueCount)
	fmt.Fprintf(&b, "FirstDelivery: %s\n", rec.FirstDeliveryString())
	fmt.Fprintf(&b, "LastDelivery: %s\n", rec.LastDeliveryString())
	return b.String()
}
