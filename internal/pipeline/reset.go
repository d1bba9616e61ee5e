package pipeline

import (
	"context"

	"recon_automation/internal/lifecycle"
)

// ResetLoad returns the load process to a clean state: processing areas
// cleared, staging refreshed from reportDir and both tables emptied with
// the header identity reseeded. Returns the number of staged reports.
func ResetLoad(ctx context.Context, lc *lifecycle.Manager, st TableStore, reportDir string, activeVendors []string) (int, error) {
	if err := lc.Reset(); err != nil {
		return 0, err
	}
	n, err := lc.CopyReports(reportDir, activeVendors)
	if err != nil {
		return n, err
	}
	if err := st.ResetTables(ctx); err != nil {
		return n, err
	}
	return n, nil
}

// ResetUpdate clears the processing areas of the update process.
func ResetUpdate(lc *lifecycle.Manager) error {
	return lc.Reset()
}
