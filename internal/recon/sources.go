package recon

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/saintfish/chardet"
	"github.com/xuri/excelize/v2"
	"golang.org/x/text/encoding/ianaindex"
	"golang.org/x/text/transform"

	"recon_automation/internal/apperrors"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// DropOffCharts lists the chart files delivered to dropOffDir/<vendor>/,
// excluding the vendor's <vendor>_left_charts.txt and any subdirectory.
func DropOffCharts(dropOffDir, vendor string) ([]string, error) {
	dir := filepath.Join(dropOffDir, vendor)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, apperrors.ConfirmationSourceMissing(err, dir)
	}
	skip := vendor + "_left_charts.txt"
	var charts []string
	for _, e := range entries {
		if e.IsDir() || e.Name() == skip {
			continue
		}
		charts = append(charts, e.Name())
	}
	sort.Strings(charts)
	return charts, nil
}

// ConfirmationCSV is the path of the vendor's payment confirmation export.
func ConfirmationCSV(paymentDir, vendor string) string {
	return filepath.Join(paymentDir, vendor, vendor+"_charts_reconciliation.csv")
}

// ConfirmationXLSX is the spreadsheet variant of the export.
func ConfirmationXLSX(paymentDir, vendor string) string {
	return filepath.Join(paymentDir, vendor, vendor+"_charts_reconciliation.xlsx")
}

// ConfirmedCharts reads the vendor's confirmation export, preferring the CSV
// and falling back to the XLSX. The header row is skipped in both.
func ConfirmedCharts(paymentDir, vendor string) ([]string, error) {
	csvPath := ConfirmationCSV(paymentDir, vendor)
	raw, err := os.ReadFile(csvPath)
	if err == nil {
		return parseConfirmationCSV(raw)
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, apperrors.ConfirmationSourceMissing(err, csvPath)
	}
	xlsxPath := ConfirmationXLSX(paymentDir, vendor)
	if _, statErr := os.Stat(xlsxPath); statErr != nil {
		return nil, apperrors.ConfirmationSourceMissing(err, csvPath)
	}
	return readConfirmationXLSX(xlsxPath)
}

func parseConfirmationCSV(raw []byte) ([]string, error) {
	text, err := decodeText(raw)
	if err != nil {
		return nil, err
	}
	r := csv.NewReader(bytes.NewReader(text))
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	r.TrimLeadingSpace = true

	var charts []string
	header := true
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, apperrors.Wrap(err, apperrors.KindConfirmationSourceMissing, "read confirmation csv")
		}
		if header {
			header = false
			continue
		}
		if len(rec) == 0 {
			continue
		}
		if v := strings.TrimSpace(rec[0]); v != "" {
			charts = append(charts, v)
		}
	}
	return charts, nil
}

// decodeText converts a spreadsheet export to UTF-8. Exports saved from
// Excel are often UTF-8 with a BOM or a legacy single-byte charset.
func decodeText(raw []byte) ([]byte, error) {
	if bytes.HasPrefix(raw, utf8BOM) {
		return raw[len(utf8BOM):], nil
	}
	result, err := chardet.NewTextDetector().DetectBest(raw)
	if err != nil || result == nil {
		return raw, nil
	}
	charset := strings.ToLower(result.Charset)
	if charset == "utf-8" || charset == "ascii" {
		return raw, nil
	}
	enc, err := ianaindex.IANA.Encoding(strings.ToUpper(charset))
	if err != nil || enc == nil {
		return raw, nil
	}
	out, _, err := transform.Bytes(enc.NewDecoder(), raw)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", charset, err)
	}
	return bytes.TrimPrefix(out, utf8BOM), nil
}

func readConfirmationXLSX(path string) ([]string, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, apperrors.ConfirmationSourceMissing(err, path)
	}
	defer f.Close()

	sheet := f.GetSheetName(0)
	if sheet == "" {
		return nil, apperrors.ConfirmationSourceMissing(errors.New("no sheets"), path)
	}
	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, apperrors.ConfirmationSourceMissing(err, path)
	}
	var charts []string
	for i, row := range rows {
		if i == 0 || len(row) == 0 {
			continue
		}
		if v := strings.TrimSpace(row[0]); v != "" {
			charts = append(charts, v)
		}
	}
	return charts, nil
}
