package jobs

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"recon_automation/internal/apperrors"
	"recon_automation/internal/config"
	"recon_automation/internal/events"
	"recon_automation/internal/metrics"
	"recon_automation/internal/notify"
	"recon_automation/internal/report"
)

type captured struct {
	msgs []notify.Message
	err  error
}

func (c *captured) Notify(_ context.Context, msg notify.Message) error {
	c.msgs = append(c.msgs, msg)
	return c.err
}

func gryffRecord() *report.Record {
	return &report.Record{
		ReportFileDate: time.Date(2024, 3, 27, 0, 0, 0, 0, time.UTC),
		ReportName:     "Gryff_daily_report_20240327.txt",
		Vendor:         "Gryff",
		FileCount:      3,
		ObservedCount:  3,
		UniqueCount:    2,
		FirstDelivery:  time.Date(2024, 3, 26, 6, 30, 0, 0, time.UTC),
		LastDelivery:   time.Date(2024, 3, 27, 6, 29, 59, 0, time.UTC),
	}
}

func TestRunRecordsSuccessfulLoad(t *testing.T) {
	logDir := t.TempDir()
	sink := &captured{}
	bus := events.NewBus(10)
	r := NewRunner(Options{
		Process: config.ProcessLoad,
		LogDir:  logDir,
		Action: func(ctx context.Context, path string) (Result, error) {
			return Result{Record: gryffRecord(), HeaderID: 1}, nil
		},
		Notifier: sink,
		Metrics:  metrics.New(),
		Bus:      bus,
	})

	out := r.Run(context.Background(), "/in/Gryff_daily_report_20240327.txt")
	require.True(t, out.OK())
	assert.Equal(t, "Gryff_daily_report_20240327.txt", out.FileName)
	assert.Equal(t, int64(1), out.HeaderID)
	assert.NotEmpty(t, out.RunID)

	body, err := os.ReadFile(out.LogPath)
	require.NoError(t, err)
	text := string(body)
	assert.Contains(t, text, "New file detected: Gryff_daily_report_20240327.txt\n")
	assert.Contains(t, text, "Status: Success\nTimeStamp: ")
	assert.Contains(t, text, "Vendor: Gryff\nFileCount: 3\nObservedCount: 3\nUniqueCount: 2\n")
	assert.Contains(t, text, "FirstDelivery: 2024-03-26 06:30:00\nLastDelivery: 2024-03-27 06:29:59\n")
	assert.Equal(t, logDir, filepath.Dir(out.LogPath))

	require.Len(t, sink.msgs, 1)
	assert.Equal(t, notify.StatusSuccess, sink.msgs[0].Status)
	assert.Equal(t, out.LogPath, sink.msgs[0].LogLocation)
	assert.Empty(t, sink.msgs[0].Exception)
	assert.Len(t, bus.Recent(), 1)
}

func TestRunCapturesFailureAndSwallowsNotifyError(t *testing.T) {
	sink := &captured{err: apperrors.NotificationDeliveryFailed(errors.New("down"), "slack")}
	r := NewRunner(Options{
		Process: config.ProcessUpdate,
		LogDir:  t.TempDir(),
		Action: func(ctx context.Context, path string) (Result, error) {
			return Result{}, apperrors.ConfirmationSourceMissing(os.ErrNotExist, "Gryff_charts_reconciliation.csv")
		},
		Notifier: sink,
	})

	out := r.Run(context.Background(), "/in/recon_report_update.trigger")
	assert.False(t, out.OK())
	assert.Equal(t, apperrors.KindConfirmationSourceMissing, out.ErrKind)

	body, err := os.ReadFile(out.LogPath)
	require.NoError(t, err)
	assert.Contains(t, string(body), "Status: Error\n")
	assert.Contains(t, string(body), "Error Details: CONFIRMATION_SOURCE_MISSING")
	assert.NotContains(t, string(body), "Vendor:")

	require.Len(t, sink.msgs, 1)
	assert.Equal(t, notify.StatusError, sink.msgs[0].Status)
	assert.Contains(t, sink.msgs[0].Exception, "CONFIRMATION_SOURCE_MISSING")
}

func TestRunIgnoresCancellationOfCaller(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	var sawErr error
	r := NewRunner(Options{
		Process: config.ProcessLoad,
		LogDir:  t.TempDir(),
		Action: func(ctx context.Context, path string) (Result, error) {
			sawErr = ctx.Err()
			return Result{}, nil
		},
	})
	out := r.Run(ctx, "x.txt")
	assert.True(t, out.OK())
	assert.NoError(t, sawErr)
}

func TestOutcomeRecordForUpdateHasNoSummary(t *testing.T) {
	ts := time.Date(2024, 3, 27, 8, 0, 0, 0, time.UTC)
	assert.Equal(t, "Status: Success\nTimeStamp: 2024-03-27 08:00:00", outcomeRecord(config.ProcessUpdate, StatusSuccess, ts, nil))
}
