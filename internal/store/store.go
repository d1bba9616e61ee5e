package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"recon_automation/internal/apperrors"
	"recon_automation/internal/config"
	"recon_automation/internal/report"
)

// Indicator names a reconciliation flag column on the detail table.
type Indicator string

const (
	DropOffInd      Indicator = "drop_off_ind"
	PaymentReconInd Indicator = "payment_recon_ind"
)

func (i Indicator) valid() bool {
	return i == DropOffInd || i == PaymentReconInd
}

const maxBatch = 1000

// Header is one loaded report.
type Header struct {
	ID             int64  `db:"id" json:"id"`
	ReportPushDate string `db:"report_push_date" json:"report_push_date"`
	ReportFileDate string `db:"report_file_date" json:"report_file_date"`
	ReportName     string `db:"report_name" json:"report_name"`
	Vendor         string `db:"vendor" json:"vendor"`
	FileCount      int    `db:"file_count" json:"file_count"`
	UniqueCount    int    `db:"unique_count" json:"unique_count"`
	FirstDelivery  string `db:"first_delivery" json:"first_delivery"`
	LastDelivery   string `db:"last_delivery" json:"last_delivery"`
}

// Detail is one chart identifier delivered by a report.
type Detail struct {
	HeaderID        int64        `db:"header_id"`
	ChartName       string       `db:"chart_name"`
	InsertDatetime  string       `db:"insert_datetime"`
	UpdateDatetime  string       `db:"update_datetime"`
	ReportName      string       `db:"report_name"`
	DropOffInd      sql.NullBool `db:"drop_off_ind"`
	PaymentReconInd sql.NullBool `db:"payment_recon_ind"`
	ExclusionInd    sql.NullBool `db:"exclusion_ind"`
}

// Store wraps relational access to the header and detail tables.
type Store struct {
	db        *sqlx.DB
	d         dialect
	header    string
	detail    string
	batchSize int
	timeout   time.Duration
	atomic    bool
	now       func() time.Time
}

// Open connects to the configured store and verifies it is reachable.
func Open(ctx context.Context, cfg config.DatabaseConfig) (*Store, error) {
	d, err := dialectFor(cfg.Driver)
	if err != nil {
		return nil, apperrors.StoreUnavailable(err, "open")
	}
	for _, t := range []string{cfg.HeaderTable, cfg.DetailTable} {
		if !config.ValidIdentifier(t) {
			return nil, apperrors.StoreUnavailable(fmt.Errorf("invalid table name %q", t), "open")
		}
	}
	db, err := sqlx.Open(d.driverName, dsnFor(d, cfg.DSN))
	if err != nil {
		return nil, apperrors.StoreUnavailable(err, "open")
	}
	if d.name == "sqlite" {
		db.SetMaxOpenConns(1)
	}
	s := &Store{
		db:        db,
		d:         d,
		header:    cfg.HeaderTable,
		detail:    cfg.DetailTable,
		batchSize: cfg.BatchSize,
		timeout:   cfg.Timeout(),
		atomic:    cfg.Atomic(),
		now:       config.Now,
	}
	if s.batchSize <= 0 || s.batchSize > maxBatch {
		s.batchSize = maxBatch
	}
	if err := s.Health(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func dsnFor(d dialect, dsn string) string {
	if d.name != "sqlite" || dsn == ":memory:" || strings.HasPrefix(dsn, "file:") || strings.Contains(dsn, "?") {
		return dsn
	}
	return fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)", dsn)
}

func (s *Store) Close() error { return s.db.Close() }

// Driver reports the dialect in use.
func (s *Store) Driver() string { return s.d.name }

func (s *Store) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.timeout)
}

// Health pings the store.
func (s *Store) Health(ctx context.Context) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	if err := s.db.PingContext(ctx); err != nil {
		return apperrors.StoreUnavailable(err, "ping")
	}
	return nil
}

// EnsureSchema creates the header and detail tables when missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	for _, stmt := range s.d.schema(s.header, s.detail) {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return apperrors.StoreUnavailable(err, "ensure schema")
		}
	}
	return nil
}

// InsertHeader writes one header row and returns its id.
func (s *Store) InsertHeader(ctx context.Context, rec *report.Record) (int64, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	return s.insertHeader(ctx, s.db, rec)
}

// InsertDetail writes one detail row per unique chart of rec.
func (s *Store) InsertDetail(ctx context.Context, headerID int64, rec *report.Record) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	return s.insertDetail(ctx, s.db, headerID, rec)
}

// LoadReport persists a parsed report. Header and detail share one
// transaction unless atomic loads are disabled.
func (s *Store) LoadReport(ctx context.Context, rec *report.Record) (int64, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	if !s.atomic {
		id, err := s.insertHeader(ctx, s.db, rec)
		if err != nil {
			return 0, err
		}
		return id, s.insertDetail(ctx, s.db, id, rec)
	}
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, apperrors.StoreUnavailable(err, "begin load")
	}
	defer tx.Rollback()
	id, err := s.insertHeader(ctx, tx, rec)
	if err != nil {
		return 0, err
	}
	if err := s.insertDetail(ctx, tx, id, rec); err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, apperrors.StoreUnavailable(err, "commit load")
	}
	return id, nil
}

func (s *Store) insertHeader(ctx context.Context, q sqlx.ExtContext, rec *report.Record) (int64, error) {
	query := q.Rebind(fmt.Sprintf(`INSERT INTO %s(report_push_date, report_file_date, report_name, vendor, file_count, unique_count, first_delivery, last_delivery)
        VALUES(?,?,?,?,?,?,?,?)`, s.header))
	args := []any{
		s.now().Format(report.SQLDateLayout),
		rec.ReportFileDateString(),
		rec.ReportName,
		rec.Vendor,
		rec.FileCount,
		rec.UniqueCount,
		rec.FirstDeliveryString(),
		rec.LastDeliveryString(),
	}
	if s.d.returningID {
		var id int64
		if err := q.QueryRowxContext(ctx, query+" RETURNING id", args...).Scan(&id); err != nil {
			return 0, apperrors.StoreUnavailable(err, "insert header")
		}
		return id, nil
	}
	res, err := q.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, apperrors.StoreUnavailable(err, "insert header")
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, apperrors.StoreUnavailable(err, "header id")
	}
	return id, nil
}

func (s *Store) insertDetail(ctx context.Context, q sqlx.ExtContext, headerID int64, rec *report.Record) error {
	ts := s.now().Format(report.SQLTimestampLayout)
	for _, chunk := range chunks(rec.ChartList, s.batchSize) {
		var sb strings.Builder
		fmt.Fprintf(&sb, "INSERT INTO %s(header_id, chart_name, insert_datetime, update_datetime, report_name) VALUES ", s.detail)
		args := make([]any, 0, len(chunk)*5)
		for i, chart := range chunk {
			if i > 0 {
				sb.WriteString(",")
			}
			sb.WriteString("(?,?,?,?,?)")
			args = append(args, headerID, chart, ts, ts, rec.ReportName)
		}
		if _, err := q.ExecContext(ctx, q.Rebind(sb.String()), args...); err != nil {
			return apperrors.StoreUnavailable(err, "insert detail")
		}
	}
	return nil
}

// ResetTables empties both tables and reseeds the header identity so the
// next inserted header gets id 1.
func (s *Store) ResetTables(ctx context.Context) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	for _, stmt := range s.d.reset(s.header, s.detail) {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return apperrors.StoreUnavailable(err, "reset tables")
		}
	}
	return nil
}

// UpdateIndicators sets ind to true on every detail row whose chart is in
// ids, skipping excluded rows and rows already flagged. The identifiers
// are staged through a temporary table so the statement size stays
// bounded. Returns the number of rows changed.
func (s *Store) UpdateIndicators(ctx context.Context, ids []string, ind Indicator) (int64, error) {
	if !ind.valid() {
		return 0, apperrors.New(apperrors.KindInternal, fmt.Sprintf("unknown indicator %q", ind))
	}
	if len(ids) == 0 {
		return 0, nil
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, apperrors.StoreUnavailable(err, "begin update")
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, s.d.dropTemp); err != nil {
		return 0, apperrors.StoreUnavailable(err, "drop temp table")
	}
	if _, err := tx.ExecContext(ctx, s.d.createTemp); err != nil {
		return 0, apperrors.StoreUnavailable(err, "create temp table")
	}
	for _, chunk := range chunks(ids, s.batchSize) {
		query := "INSERT INTO " + tempChartTable + "(chart_name) VALUES " +
			strings.TrimSuffix(strings.Repeat("(?),", len(chunk)), ",")
		args := make([]any, len(chunk))
		for i, id := range chunk {
			args[i] = id
		}
		if _, err := tx.ExecContext(ctx, tx.Rebind(query), args...); err != nil {
			return 0, apperrors.StoreUnavailable(err, "stage chart names")
		}
	}

	update := fmt.Sprintf(`UPDATE %[1]s SET %[2]s = ?, update_datetime = ?
        WHERE chart_name IN (SELECT chart_name FROM %[3]s)
        AND (exclusion_ind = ? OR exclusion_ind IS NULL)
        AND (%[2]s = ? OR %[2]s IS NULL)`, s.detail, ind, tempChartTable)
	res, err := tx.ExecContext(ctx, tx.Rebind(update), true, s.now().Format(report.SQLTimestampLayout), false, false)
	if err != nil {
		return 0, apperrors.StoreUnavailable(err, "update "+string(ind))
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, apperrors.StoreUnavailable(err, "rows affected")
	}
	if _, err := tx.ExecContext(ctx, s.d.dropTemp); err != nil {
		return 0, apperrors.StoreUnavailable(err, "drop temp table")
	}
	if err := tx.Commit(); err != nil {
		return 0, apperrors.StoreUnavailable(err, "commit update")
	}
	return affected, nil
}

// CallProcedure invokes a stored procedure that takes no arguments.
func (s *Store) CallProcedure(ctx context.Context, name string) error {
	if !config.ValidIdentifier(name) {
		return apperrors.New(apperrors.KindInternal, fmt.Sprintf("invalid procedure name %q", name))
	}
	stmt, err := s.d.call(name)
	if err != nil {
		return apperrors.StoreUnavailable(err, "call "+name)
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	if _, err := s.db.ExecContext(ctx, stmt); err != nil {
		return apperrors.StoreUnavailable(err, "call "+name)
	}
	return nil
}

// RecentHeaders returns the newest headers first.
func (s *Store) RecentHeaders(ctx context.Context, limit int) ([]Header, error) {
	if limit <= 0 {
		limit = 20
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	var out []Header
	query := s.db.Rebind(fmt.Sprintf(`SELECT id, report_push_date, report_file_date, report_name, vendor, file_count, unique_count, first_delivery, last_delivery
        FROM %s ORDER BY id DESC LIMIT ?`, s.header))
	if err := s.db.SelectContext(ctx, &out, query, limit); err != nil {
		return nil, apperrors.StoreUnavailable(err, "list headers")
	}
	return out, nil
}

// LoadedReportNames returns the report names that already have a header.
func (s *Store) LoadedReportNames(ctx context.Context) (map[string]bool, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	var names []string
	if err := s.db.SelectContext(ctx, &names, fmt.Sprintf(`SELECT DISTINCT report_name FROM %s`, s.header)); err != nil {
		return nil, apperrors.StoreUnavailable(err, "list report names")
	}
	out := make(map[string]bool, len(names))
	for _, n := range names {
		out[n] = true
	}
	return out, nil
}

// Details returns the detail rows of one header ordered by chart name.
func (s *Store) Details(ctx context.Context, headerID int64) ([]Detail, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	var out []Detail
	query := s.db.Rebind(fmt.Sprintf(`SELECT header_id, chart_name, insert_datetime, update_datetime, report_name, drop_off_ind, payment_recon_ind, exclusion_ind
        FROM %s WHERE header_id = ? ORDER BY chart_name`, s.detail))
	if err := s.db.SelectContext(ctx, &out, query, headerID); err != nil {
		return nil, apperrors.StoreUnavailable(err, "list details")
	}
	return out, nil
}

func chunks(items []string, size int) [][]string {
	var out [][]string
	for start := 0; start < len(items); start += size {
		end := start + size
		if end > len(items) {
			end = len(items)
		}
		out = append(out, items[start:end])
	}
	return out
}
