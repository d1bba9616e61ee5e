package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"recon_automation/backfill"
	"recon_automation/internal/apperrors"
	"recon_automation/internal/config"
	"recon_automation/internal/lifecycle"
	"recon_automation/internal/recon"
	"recon_automation/internal/report"
	"recon_automation/internal/store"
)

type fixture struct {
	cfg   config.Config
	store *store.Store
	load  *lifecycle.Manager
	upd   *lifecycle.Manager
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	base := t.TempDir()
	cfg := config.Config{
		BaseDir:         filepath.Join(base, "automation"),
		ReportDir:       filepath.Join(base, "reports"),
		DropOffDir:      filepath.Join(base, "dropoff"),
		PaymentReconDir: filepath.Join(base, "payment"),
		Database: config.DatabaseConfig{
			Driver:      "sqlite",
			DSN:         filepath.Join(base, "recon.db"),
			HeaderTable: "report_recon_header",
			DetailTable: "report_recon_detail",
			BatchSize:   1000,
			TimeoutSec:  5,
		},
	}
	st, err := store.Open(context.Background(), cfg.Database)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	require.NoError(t, st.EnsureSchema(context.Background()))

	loadAreas, updAreas := cfg.Areas(config.ProcessLoad), cfg.Areas(config.ProcessUpdate)
	require.NoError(t, lifecycle.EnsureLayout(loadAreas, updAreas))
	return &fixture{cfg: cfg, store: st, load: lifecycle.New(loadAreas, nil), upd: lifecycle.New(updAreas, nil)}
}

func reportBody(start, end string, charts ...string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Delivery Report for %s to %s\n\n", start, end)
	fmt.Fprintf(&b, "Charts Delivered: %d\n\n", len(charts))
	fmt.Fprintf(&b, "First Chart Delivered at: %s\n", start)
	fmt.Fprintf(&b, "Last Chart Delivered at: %s\n\n", end)
	b.WriteString(strings.Join(charts, "\n"))
	return b.String()
}

func mustParse(t *testing.T, name, body string) *report.Record {
	t.Helper()
	rec, err := report.Parse(body, name)
	require.NoError(t, err)
	return rec
}

func put(t *testing.T, path, body string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
}

func TestLoadActionPersistsAndArchives(t *testing.T) {
	f := newFixture(t)
	name := "Gryff_daily_report_20240327.txt"
	path := filepath.Join(f.load.Areas().Input, name)
	put(t, path, reportBody("20240326T063000Z", "20240327T062959Z",
		"20240326T071502Z_MBR00101_LocketHealthNetwork.json",
		"20240326T120044Z_MBR00422_DiaryMedicalGroup.json",
		"20240326T071502Z_MBR00101_LocketHealthNetwork.json"))

	res, err := LoadAction(f.store, f.load, nil)(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.HeaderID)
	assert.Equal(t, 2, res.Record.UniqueCount)

	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(filepath.Join(f.load.Areas().InputArchive, name))
	assert.NoError(t, err)

	details, err := f.store.Details(context.Background(), res.HeaderID)
	require.NoError(t, err)
	assert.Len(t, details, 2)
}

func TestLoadActionLeavesMalformedReportInInput(t *testing.T) {
	f := newFixture(t)
	path := filepath.Join(f.load.Areas().Input, "Gryff_daily_report_20240327.txt")
	put(t, path, "not a report")

	_, err := LoadAction(f.store, f.load, nil)(context.Background(), path)
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.KindMalformedReport))
	_, err = os.Stat(path)
	assert.NoError(t, err)

	headers, err := f.store.RecentHeaders(context.Background(), 5)
	require.NoError(t, err)
	assert.Empty(t, headers)
}

func TestUpdateActionClearsTriggerAndFlagsRows(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	chartA := "20240326T071502Z_MBR00101_LocketHealthNetwork.json"
	chartB := "20240326T120044Z_MBR00422_DiaryMedicalGroup.json"
	path := filepath.Join(f.load.Areas().Input, "Gryff_daily_report_20240327.txt")
	put(t, path, reportBody("20240326T063000Z", "20240327T062959Z", chartA, chartB))
	res, err := LoadAction(f.store, f.load, nil)(ctx, path)
	require.NoError(t, err)

	put(t, filepath.Join(f.cfg.DropOffDir, "Gryff", chartA), "{}")
	put(t, filepath.Join(f.cfg.DropOffDir, "Gryff", "Gryff_left_charts.txt"), chartB)
	put(t, recon.ConfirmationCSV(f.cfg.PaymentReconDir, "Gryff"), "chart_name\n"+chartB+"\n")
	trigger := filepath.Join(f.upd.Areas().Input, "recon_report_update.trigger")
	put(t, trigger, "")

	u := &recon.Updater{Store: f.store, DropOffDir: f.cfg.DropOffDir, PaymentDir: f.cfg.PaymentReconDir, Vendors: []string{"Gryff"}}
	out, err := UpdateAction(u, f.upd)(ctx, trigger)
	require.NoError(t, err)
	assert.Equal(t, int64(1), out.Recon.DropOffUpdated)
	assert.Equal(t, int64(1), out.Recon.PaymentUpdated)
	_, err = os.Stat(trigger)
	assert.True(t, os.IsNotExist(err))

	details, err := f.store.Details(ctx, res.HeaderID)
	require.NoError(t, err)
	require.Len(t, details, 2)
	byName := map[string]store.Detail{}
	for _, d := range details {
		byName[d.ChartName] = d
	}
	assert.True(t, byName[chartA].DropOffInd.Bool)
	assert.False(t, byName[chartA].PaymentReconInd.Valid)
	assert.True(t, byName[chartB].PaymentReconInd.Bool)
	assert.False(t, byName[chartB].DropOffInd.Valid)
}

func TestReplayLoadsOldestFirstAndClearsArchive(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	staging := f.load.Areas().Staging
	put(t, filepath.Join(staging, "Raven_daily_report_20240105.txt"), reportBody("20240104T063000Z", "20240105T062959Z", "20240104T080000Z_M1_H1.json"))
	put(t, filepath.Join(staging, "Gryff_daily_report_20240103.txt"), reportBody("20240102T063000Z", "20240103T062959Z", "20240102T080000Z_M2_H2.json"))
	put(t, filepath.Join(f.load.Areas().Log, "old.log"), "old")

	_, err := f.store.LoadReport(ctx, mustParse(t, "Huffle_daily_report_20240101.txt", reportBody("20231231T063000Z", "20240101T062959Z", "20231231T080000Z_M3_H3.json")))
	require.NoError(t, err)

	r := NewReplayer(f.load, f.store, nil)
	pending, err := r.Pending(ctx, ReplayOptions{})
	require.NoError(t, err)
	require.Len(t, pending, 2)

	var order []string
	summary, err := r.Run(ctx, ReplayOptions{}, func(rec backfill.Record) { order = append(order, rec.Filename) })
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Loaded)
	assert.Equal(t, []string{"Gryff_daily_report_20240103.txt", "Raven_daily_report_20240105.txt"}, order)

	headers, err := f.store.RecentHeaders(ctx, 10)
	require.NoError(t, err)
	require.Len(t, headers, 2)
	assert.Equal(t, int64(1), headers[1].ID)
	assert.Equal(t, "Gryff", headers[1].Vendor)
	assert.Equal(t, "Raven", headers[0].Vendor)

	entries, err := os.ReadDir(f.load.Areas().InputArchive)
	require.NoError(t, err)
	assert.Empty(t, entries)
	_, err = os.Stat(filepath.Join(f.load.Areas().Log, "old.log"))
	assert.True(t, os.IsNotExist(err))
}

func TestReplayStopsAtFirstFailure(t *testing.T) {
	f := newFixture(t)
	staging := f.load.Areas().Staging
	put(t, filepath.Join(staging, "Gryff_daily_report_20240103.txt"), "garbage")
	put(t, filepath.Join(staging, "Raven_daily_report_20240105.txt"), reportBody("20240104T063000Z", "20240105T062959Z", "20240104T080000Z_M1_H1.json"))

	summary, err := NewReplayer(f.load, f.store, nil).Run(context.Background(), ReplayOptions{KeepArchive: true}, nil)
	require.Error(t, err)
	assert.Equal(t, "Gryff_daily_report_20240103.txt", summary.FailedFile)
	assert.Zero(t, summary.Loaded)
	_, err = os.Stat(filepath.Join(f.load.Areas().Input, "Gryff_daily_report_20240103.txt"))
	assert.NoError(t, err)
}

func TestResetLoadRefreshesStagingAndTables(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	put(t, filepath.Join(f.cfg.ReportDir, "Gryff", "Gryff_daily_report_20240103.txt"), "r")
	put(t, filepath.Join(f.cfg.ReportDir, "Gryff", "Gryff_chartlist.txt"), "c")
	put(t, filepath.Join(f.load.Areas().Input, "leftover.txt"), "x")
	_, err := f.store.LoadReport(ctx, mustParse(t, "Huffle_daily_report_20240101.txt", reportBody("20231231T063000Z", "20240101T062959Z", "20231231T080000Z_M3_H3.json")))
	require.NoError(t, err)

	n, err := ResetLoad(ctx, f.load, f.store, f.cfg.ReportDir, []string{"Gryff"})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	headers, err := f.store.RecentHeaders(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, headers)
	_, err = os.Stat(filepath.Join(f.load.Areas().Input, "leftover.txt"))
	assert.True(t, os.IsNotExist(err))

	require.NoError(t, ResetUpdate(f.upd))
}

func TestResumeSkipsReportsAlreadyInHeaderTable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	staging := f.load.Areas().Staging
	put(t, filepath.Join(staging, "Gryff_daily_report_20240103.txt"), reportBody("20240102T063000Z", "20240103T062959Z", "20240102T080000Z_M2_H2.json"))

	r := NewReplayer(f.load, f.store, nil)
	summary, err := r.Run(ctx, ReplayOptions{}, nil)
	require.NoError(t, err)
	require.Equal(t, 1, summary.Loaded)

	summary, err = r.Run(ctx, ReplayOptions{Resume: true}, nil)
	require.NoError(t, err)
	assert.Zero(t, summary.Loaded)
	assert.Equal(t, 1, summary.AlreadyProcessed)

	headers, err := f.store.RecentHeaders(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, headers, 1)
}

func TestResumeSkipsReportCommittedButNotArchived(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	name := "Raven_daily_report_20240105.txt"
	body := reportBody("20240104T063000Z", "20240105T062959Z", "20240104T080000Z_M1_H1.json")
	put(t, filepath.Join(f.load.Areas().Staging, name), body)
	_, err := f.store.LoadReport(ctx, mustParse(t, name, body))
	require.NoError(t, err)

	pending, err := NewReplayer(f.load, f.store, nil).Pending(ctx, ReplayOptions{Resume: true})
	require.NoError(t, err)
	assert.Empty(t, pending)
}
