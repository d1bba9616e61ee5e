package report

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"recon_automation/internal/apperrors"
)

// Wire formats used by the store and the run log.
const (
	CompactTimestampLayout = "20060102T150405Z"
	CompactDateLayout      = "20060102"
	SQLTimestampLayout     = "2006-01-02 15:04:05"
	SQLDateLayout          = "2006-01-02"
)

var (
	fileDatePattern      = regexp.MustCompile(`_([^_]+)\.txt$`)
	compactDatePattern   = regexp.MustCompile(`\d{8}`)
	fileCountPattern     = regexp.MustCompile(`Charts Delivered:\s+(\d+)`)
	firstDeliveryPattern = regexp.MustCompile(`First Chart Delivered at:\s+(\d+T\d+Z)`)
	lastDeliveryPattern  = regexp.MustCompile(`Last Chart Delivered at:\s+(\d+T\d+Z)`)
	chartPattern         = regexp.MustCompile(`\d+T\d+Z_\w+\.json`)
)

// Record is the structured content of one vendor delivery report.
type Record struct {
	ReportFileDate time.Time
	ReportName     string
	Vendor         string
	// FileCount is the count declared inside the report; ObservedCount is
	// len(ChartListWithDupes). They are not required to agree.
	FileCount          int
	ObservedCount      int
	UniqueCount        int
	FirstDelivery      time.Time
	LastDelivery       time.Time
	ChartListWithDupes []string
	ChartList          []string
}

func (r Record) ReportFileDateString() string { return r.ReportFileDate.Format(SQLDateLayout) }
func (r Record) FirstDeliveryString() string  { return r.FirstDelivery.Format(SQLTimestampLayout) }
func (r Record) LastDeliveryString() string   { return r.LastDelivery.Format(SQLTimestampLayout) }

// ParseFile reads path and parses it using its base name as the report name.
func ParseFile(path string) (*Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read report %s: %w", filepath.Base(path), err)
	}
	return Parse(string(data), filepath.Base(path))
}

// Parse extracts a Record from report text. Any missing required field yields
// a MALFORMED_REPORT error.
func Parse(content, fileName string) (*Record, error) {
	fileDate, err := DateFromName(fileName)
	if err != nil {
		return nil, err
	}

	countMatch := fileCountPattern.FindStringSubmatch(content)
	if countMatch == nil {
		return nil, apperrors.MalformedReport("%s: missing %q", fileName, "Charts Delivered:")
	}
	fileCount, err := strconv.Atoi(countMatch[1])
	if err != nil {
		return nil, apperrors.MalformedReport("%s: bad chart count %q", fileName, countMatch[1])
	}

	first, err := deliveryTimestamp(firstDeliveryPattern, content, fileName, "First Chart Delivered at:")
	if err != nil {
		return nil, err
	}
	last, err := deliveryTimestamp(lastDeliveryPattern, content, fileName, "Last Chart Delivered at:")
	if err != nil {
		return nil, err
	}

	withDupes := chartPattern.FindAllString(content, -1)
	if withDupes == nil {
		withDupes = []string{}
	}
	unique := Dedupe(withDupes)

	return &Record{
		ReportFileDate:     fileDate,
		ReportName:         fileName,
		Vendor:             strings.SplitN(fileName, "_", 2)[0],
		FileCount:          fileCount,
		ObservedCount:      len(withDupes),
		UniqueCount:        len(unique),
		FirstDelivery:      first,
		LastDelivery:       last,
		ChartListWithDupes: withDupes,
		ChartList:          unique,
	}, nil
}

// DateFromName returns the compact date between the last "_" and ".txt".
func DateFromName(fileName string) (time.Time, error) {
	m := fileDatePattern.FindStringSubmatch(fileName)
	if m == nil {
		return time.Time{}, apperrors.MalformedReport("%s: no date suffix", fileName)
	}
	d, err := time.Parse(CompactDateLayout, m[1])
	if err != nil {
		return time.Time{}, apperrors.MalformedReport("%s: bad date suffix %q", fileName, m[1])
	}
	return d, nil
}

// SortKey orders report files by embedded date. Names without a date suffix
// fall back to the first 8-digit run, then sort last.
func SortKey(fileName string) string {
	if d, err := DateFromName(fileName); err == nil {
		return d.Format(CompactDateLayout)
	}
	if m := compactDatePattern.FindString(fileName); m != "" {
		return m
	}
	return "99999999"
}

// Dedupe keeps the first occurrence of each identifier.
func Dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func deliveryTimestamp(p *regexp.Regexp, content, fileName, label string) (time.Time, error) {
	m := p.FindStringSubmatch(content)
	if m == nil {
		return time.Time{}, apperrors.MalformedReport("%s: missing %q", fileName, label)
	}
	ts, err := time.Parse(CompactTimestampLayout, m[1])
	if err != nil {
		return time.Time{}, apperrors.MalformedReport("%s: bad timestamp %q after %q", fileName, m[1], label)
	}
	return ts, nil
}
