package backfill

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"
)

// Record is a staged report considered for replay.
type Record struct {
	Filename  string
	SortKey   string
	SizeBytes int64
	Status    string
}

// Status constants used by selection logic.
const (
	StatusDone    = "done"
	StatusPending = "pending"
)

// Summary captures replay execution counts.
type Summary struct {
	TotalCandidates  int    `json:"total"`
	AlreadyProcessed int    `json:"already_processed"`
	Unprocessed      int    `json:"unprocessed"`
	Selected         int    `json:"selected"`
	Loaded           int    `json:"loaded"`
	FailedFile       string `json:"failed_file,omitempty"`
}

// Repository describes the data source needed for a replay.
type Repository interface {
	ListCandidates(ctx context.Context) ([]Record, error)
	Replay(ctx context.Context, rec Record) error
}

// SelectPending returns up to limit records that are not yet processed,
// ordered by the report date embedded in their names, oldest first. A
// limit of zero or less selects everything.
func SelectPending(records []Record, limit int) ([]Record, Summary) {
	sort.SliceStable(records, func(i, j int) bool {
		if records[i].SortKey != records[j].SortKey {
			return records[i].SortKey < records[j].SortKey
		}
		return records[i].Filename < records[j].Filename
	})

	summary := Summary{TotalCandidates: len(records)}
	unprocessed := make([]Record, 0, len(records))
	for _, r := range records {
		if r.Status == StatusDone {
			summary.AlreadyProcessed++
			continue
		}
		unprocessed = append(unprocessed, r)
	}

	summary.Unprocessed = len(unprocessed)
	if limit > 0 && limit < summary.Unprocessed {
		unprocessed = unprocessed[:limit]
	}
	summary.Selected = len(unprocessed)
	return unprocessed, summary
}

// Run replays the selected records one at a time and stops at the first
// failure. onDone is called after every successful record.
func Run(ctx context.Context, repo Repository, limit int, logger *zap.Logger, onDone func(Record)) (Summary, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	records, err := repo.ListCandidates(ctx)
	if err != nil {
		return Summary{}, fmt.Errorf("list candidates: %w", err)
	}
	selected, summary := SelectPending(records, limit)

	for _, rec := range selected {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		if err := repo.Replay(ctx, rec); err != nil {
			summary.FailedFile = rec.Filename
			logger.Error("replay stopped", zap.String("file", rec.Filename), zap.Error(err))
			return summary, fmt.Errorf("replay %s: %w", rec.Filename, err)
		}
		summary.Loaded++
		if onDone != nil {
			onDone(rec)
		}
	}

	logger.Info("replay summary",
		zap.Int("total", summary.TotalCandidates),
		zap.Int("unprocessed", summary.Unprocessed),
		zap.Int("selected", summary.Selected),
		zap.Int("loaded", summary.Loaded),
		zap.Int("already_processed", summary.AlreadyProcessed),
	)
	return summary, nil
}
