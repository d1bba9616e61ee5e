package lifecycle

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"syscall"

	"go.uber.org/zap"

	"recon_automation/internal/apperrors"
	"recon_automation/internal/config"
)

// Manager moves report files through staging, input and input_archive for
// one process.
type Manager struct {
	areas  config.Areas
	logger *zap.Logger
}

func New(areas config.Areas, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{areas: areas, logger: logger}
}

func (m *Manager) Areas() config.Areas { return m.areas }

// EnsureLayout creates every lifecycle directory of the given processes.
func EnsureLayout(areas ...config.Areas) error {
	for _, a := range areas {
		for _, dir := range a.All() {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return apperrors.Lifecycle(err, "create "+dir)
			}
		}
	}
	return nil
}

// Clear removes every file and subdirectory under dir. An empty directory
// is not an error; an unreadable one is.
func Clear(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return apperrors.Lifecycle(err, "read "+dir)
	}
	for _, e := range entries {
		if err := os.RemoveAll(filepath.Join(dir, e.Name())); err != nil {
			return apperrors.Lifecycle(err, "remove "+e.Name())
		}
	}
	return nil
}

func (m *Manager) ClearInput() error   { return Clear(m.areas.Input) }
func (m *Manager) ClearArchive() error { return Clear(m.areas.InputArchive) }

// Promote copies name from staging into input. Staging keeps its copy.
func (m *Manager) Promote(name string) (string, error) {
	src := filepath.Join(m.areas.Staging, filepath.Base(name))
	dst := filepath.Join(m.areas.Input, filepath.Base(name))
	if err := copyFile(src, dst); err != nil {
		return "", apperrors.Lifecycle(err, "promote "+name)
	}
	m.logger.Debug("promoted", zap.String("file", name))
	return dst, nil
}

// Archive moves name from input into input_archive.
func (m *Manager) Archive(name string) (string, error) {
	src := filepath.Join(m.areas.Input, filepath.Base(name))
	dst := filepath.Join(m.areas.InputArchive, filepath.Base(name))
	if err := moveFile(src, dst); err != nil {
		return "", apperrors.Lifecycle(err, "archive "+name)
	}
	m.logger.Debug("archived", zap.String("file", name))
	return dst, nil
}

// Reset clears input, input_archive and log.
func (m *Manager) Reset() error {
	for _, dir := range []string{m.areas.Input, m.areas.InputArchive, m.areas.Log} {
		if err := Clear(dir); err != nil {
			return err
		}
	}
	return nil
}

// StagingFiles lists regular files in staging by name.
func (m *Manager) StagingFiles() ([]string, error) {
	return listFiles(m.areas.Staging)
}

// CopyReports replaces staging with the reports found under each vendor
// directory of reportDir. The <vendor>_chartlist.txt of every active vendor
// is skipped wherever it appears. Returns the number of files copied.
func (m *Manager) CopyReports(reportDir string, activeVendors []string) (int, error) {
	if err := Clear(m.areas.Staging); err != nil {
		return 0, err
	}
	skip := make(map[string]bool, len(activeVendors))
	for _, v := range activeVendors {
		skip[v+"_chartlist.txt"] = true
	}
	entries, err := os.ReadDir(reportDir)
	if err != nil {
		return 0, apperrors.Lifecycle(err, "read "+reportDir)
	}
	copied := 0
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		dir := filepath.Join(reportDir, e.Name())
		names, err := listFiles(dir)
		if err != nil {
			return copied, apperrors.Lifecycle(err, "list reports for "+e.Name())
		}
		for _, name := range names {
			if skip[name] {
				continue
			}
			if err := copyFile(filepath.Join(dir, name), filepath.Join(m.areas.Staging, name)); err != nil {
				return copied, apperrors.Lifecycle(err, "copy "+name)
			}
			copied++
		}
	}
	m.logger.Info("staging refreshed", zap.Int("files", copied))
	return copied, nil
}

func listFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if e.Type().IsRegular() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()
	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Close()
}

func moveFile(src, dst string) error {
	err := os.Rename(src, dst)
	if err == nil {
		return nil
	}
	var linkErr *os.LinkError
	if !errors.As(err, &linkErr) || !errors.Is(linkErr.Err, syscall.EXDEV) {
		return err
	}
	if err := copyFile(src, dst); err != nil {
		return fmt.Errorf("cross-device copy: %w", err)
	}
	return os.Remove(src)
}
