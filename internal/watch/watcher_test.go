package watch

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const reportPattern = `[A-Za-z]+_daily_report_\d{8}\.txt$`

func startWatcher(t *testing.T, dir string, settle time.Duration, handle Handler) (context.CancelFunc, <-chan error) {
	t.Helper()
	w, err := New(dir, reportPattern, settle, handle, nil)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	select {
	case <-w.Ready():
	case <-time.After(2 * time.Second):
		t.Fatal("watcher not ready")
	}
	return cancel, done
}

func TestMatchesIsAnchoredAtStart(t *testing.T) {
	w, err := New(t.TempDir(), `recon_report_update`, 0, func(context.Context, string) {}, nil)
	require.NoError(t, err)
	assert.True(t, w.Matches("recon_report_update.trigger"))
	assert.False(t, w.Matches("old_recon_report_update.trigger"))

	_, err = New(t.TempDir(), `(`, 0, nil, nil)
	assert.Error(t, err)
}

func TestWatcherDispatchesOnlyMatchingFiles(t *testing.T) {
	dir := t.TempDir()
	got := make(chan string, 4)
	cancel, done := startWatcher(t, dir, 0, func(ctx context.Context, path string) {
		got <- filepath.Base(path)
	})
	defer cancel()

	require.NoError(t, os.Mkdir(filepath.Join(dir, "Gryff_daily_report_20240101.txt"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "Gryff_daily_report_20240327.txt"), []byte("x"), 0o644))

	select {
	case name := <-got:
		assert.Equal(t, "Gryff_daily_report_20240327.txt", name)
	case <-time.After(3 * time.Second):
		t.Fatal("no dispatch")
	}
	select {
	case name := <-got:
		t.Fatalf("unexpected dispatch of %s", name)
	case <-time.After(200 * time.Millisecond):
	}

	cancel()
	require.NoError(t, <-done)
}

func TestWatcherHandlesOneFileAtATime(t *testing.T) {
	dir := t.TempDir()
	var active, peak, total int32
	var wg sync.WaitGroup
	wg.Add(3)
	cancel, _ := startWatcher(t, dir, 0, func(ctx context.Context, path string) {
		defer wg.Done()
		n := atomic.AddInt32(&active, 1)
		for {
			p := atomic.LoadInt32(&peak)
			if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
				break
			}
		}
		time.Sleep(50 * time.Millisecond)
		atomic.AddInt32(&total, 1)
		atomic.AddInt32(&active, -1)
	})
	defer cancel()

	for _, d := range []string{"20240103", "20240104", "20240105"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, "Raven_daily_report_"+d+".txt"), []byte("x"), 0o644))
	}
	waitGroupTimeout(t, &wg, 5*time.Second)
	assert.Equal(t, int32(3), atomic.LoadInt32(&total))
	assert.Equal(t, int32(1), atomic.LoadInt32(&peak))
}

func TestCancelWaitsForInFlightFile(t *testing.T) {
	dir := t.TempDir()
	started := make(chan struct{})
	release := make(chan struct{})
	var finished atomic.Bool
	cancel, done := startWatcher(t, dir, 0, func(ctx context.Context, path string) {
		close(started)
		<-release
		finished.Store(true)
	})

	require.NoError(t, os.WriteFile(filepath.Join(dir, "Huffle_daily_report_20240327.txt"), []byte("x"), 0o644))
	select {
	case <-started:
	case <-time.After(3 * time.Second):
		t.Fatal("handler not started")
	}
	cancel()
	select {
	case <-done:
		t.Fatal("watcher returned while a file was in flight")
	case <-time.After(100 * time.Millisecond):
	}
	close(release)
	require.NoError(t, <-done)
	assert.True(t, finished.Load())
}

func TestWaitForStableSize(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trigger")
	require.NoError(t, os.WriteFile(path, nil, 0o644))
	require.NoError(t, waitForStableSize(context.Background(), path, 5*time.Millisecond, 1))

	err := waitForStableSize(context.Background(), filepath.Join(t.TempDir(), "missing"), time.Millisecond, 1)
	assert.Error(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, waitForStableSize(ctx, path, time.Second, 1), context.Canceled)
}

func waitGroupTimeout(t *testing.T, wg *sync.WaitGroup, d time.Duration) {
	t.Helper()
	ch := make(chan struct{})
	go func() {
		wg.Wait()
		close(ch)
	}()
	select {
	case <-ch:
	case <-time.After(d):
		t.Fatal("timed out waiting for handlers")
	}
}

func TestDispatchSkipsNewFilesAfterCancel(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "Gryff_daily_report_20240327.txt")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
	var calls int32
	w, err := New(dir, reportPattern, 0, func(context.Context, string) { atomic.AddInt32(&calls, 1) }, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	w.dispatch(ctx, path)
	cancel()
	w.dispatch(ctx, path)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}
