package store

import (
	"fmt"
	"strings"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

const tempChartTable = "tmp_chart_names"

// dialect isolates the statements that differ between supported stores.
type dialect struct {
	name        string
	driverName  string
	returningID bool
	createTemp  string
	dropTemp    string
	schema      func(header, detail string) []string
	reset       func(header, detail string) []string
	call        func(proc string) (string, error)
}

var dialects = map[string]dialect{
	"sqlite": {
		name:       "sqlite",
		driverName: "sqlite",
		createTemp: "CREATE TEMP TABLE " + tempChartTable + " (chart_name TEXT)",
		dropTemp:   "DROP TABLE IF EXISTS temp." + tempChartTable,
		schema: func(header, detail string) []string {
			return []string{
				fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            report_push_date TEXT,
            report_file_date TEXT,
            report_name TEXT,
            vendor TEXT,
            file_count INTEGER,
            unique_count INTEGER,
            first_delivery TEXT,
            last_delivery TEXT
        );`, header),
				fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
            header_id INTEGER,
            chart_name TEXT,
            insert_datetime TEXT,
            update_datetime TEXT,
            report_name TEXT,
            drop_off_ind INTEGER,
            payment_recon_ind INTEGER,
            exclusion_ind INTEGER
        );`, detail),
				fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_chart ON %s(chart_name);`, baseName(detail), detail),
			}
		},
		reset: func(header, detail string) []string {
			return []string{
				"DELETE FROM " + detail,
				"DELETE FROM " + header,
				fmt.Sprintf("DELETE FROM sqlite_sequence WHERE name IN ('%s', '%s')", baseName(header), baseName(detail)),
			}
		},
		call: func(proc string) (string, error) {
			return "", fmt.Errorf("sqlite has no stored procedures (%s)", proc)
		},
	},
	"postgres": {
		name:        "postgres",
		driverName:  "postgres",
		returningID: true,
		createTemp:  "CREATE TEMP TABLE " + tempChartTable + " (chart_name VARCHAR(255))",
		dropTemp:    "DROP TABLE IF EXISTS " + tempChartTable,
		schema: func(header, detail string) []string {
			return []string{
				fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
            id SERIAL PRIMARY KEY,
            report_push_date DATE,
            report_file_date DATE,
            report_name VARCHAR(255),
            vendor VARCHAR(64),
            file_count INTEGER,
            unique_count INTEGER,
            first_delivery TIMESTAMP,
            last_delivery TIMESTAMP
        );`, header),
				fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
            header_id INTEGER,
            chart_name VARCHAR(255),
            insert_datetime TIMESTAMP,
            update_datetime TIMESTAMP,
            report_name VARCHAR(255),
            drop_off_ind BOOLEAN,
            payment_recon_ind BOOLEAN,
            exclusion_ind BOOLEAN
        );`, detail),
				fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_chart ON %s(chart_name);`, baseName(detail), detail),
			}
		},
		reset: func(header, detail string) []string {
			return []string{fmt.Sprintf("TRUNCATE TABLE %s, %s RESTART IDENTITY", detail, header)}
		},
		call: func(proc string) (string, error) {
			return "CALL " + proc + "()", nil
		},
	},
	"mysql": {
		name:       "mysql",
		driverName: "mysql",
		createTemp: "CREATE TEMPORARY TABLE " + tempChartTable + " (chart_name VARCHAR(255))",
		dropTemp:   "DROP TEMPORARY TABLE IF EXISTS " + tempChartTable,
		schema: func(header, detail string) []string {
			return []string{
				fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
            id INT AUTO_INCREMENT PRIMARY KEY,
            report_push_date DATE,
            report_file_date DATE,
            report_name VARCHAR(255),
            vendor VARCHAR(64),
            file_count INT,
            unique_count INT,
            first_delivery DATETIME,
            last_delivery DATETIME
        );`, header),
				fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
            header_id INT,
            chart_name VARCHAR(255),
            insert_datetime DATETIME,
            update_datetime DATETIME,
            report_name VARCHAR(255),
            drop_off_ind TINYINT(1),
            payment_recon_ind TINYINT(1),
            exclusion_ind TINYINT(1),
            INDEX idx_chart_name (chart_name)
        );`, detail),
			}
		},
		reset: func(header, detail string) []string {
			return []string{
				"DELETE FROM " + detail,
				"DELETE FROM " + header,
				"ALTER TABLE " + header + " AUTO_INCREMENT = 1",
			}
		},
		call: func(proc string) (string, error) {
			return "CALL " + proc + "()", nil
		},
	},
}

func dialectFor(driver string) (dialect, error) {
	d, ok := dialects[strings.ToLower(driver)]
	if !ok {
		return dialect{}, fmt.Errorf("unsupported database driver %q", driver)
	}
	return d, nil
}

// baseName strips a schema qualifier.
func baseName(table string) string {
	if i := strings.LastIndexByte(table, '.'); i >= 0 {
		return table[i+1:]
	}
	return table
}
