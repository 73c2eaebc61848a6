package ingest

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"flightguard/internal/config"
	"flightguard/internal/logging"
	"flightguard/internal/model"
)

type spoolCollector struct {
	mu      sync.Mutex
	batches []model.Batch
	fail    string
}

func (c *spoolCollector) handle(_ context.Context, b model.Batch) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if b.ID == c.fail {
		return errors.New("engine unavailable")
	}
	c.batches = append(c.batches, b)
	return nil
}

func (c *spoolCollector) ids() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []string
	for _, b := range c.batches {
		out = append(out, b.ID)
	}
	return out
}

func writeFile(t *testing.T, dir, name, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644))
}

func TestSpoolScanOnce(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.json", `[{"aircraft_id": "abc123"}]`)
	writeFile(t, dir, "b.json", `{"id": "explicit", "records": [{"aircraft_id": "def456"}]}`)
	writeFile(t, dir, "c.json", `{not json`)
	writeFile(t, dir, "d.json", `[{"aircraft_id": "fff000"}]`)
	writeFile(t, dir, "notes.txt", `ignored`)

	c := &spoolCollector{fail: "d"}
	s := NewSpool(config.SpoolConfig{Dir: dir}, c.handle, logging.New(os.Stderr, "error", "text"))
	n, err := s.ScanOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []string{"a", "explicit"}, c.ids())

	assert.FileExists(t, filepath.Join(dir, "done", "a.json"))
	assert.FileExists(t, filepath.Join(dir, "done", "b.json"))
	assert.FileExists(t, filepath.Join(dir, "failed", "c.json"))
	assert.FileExists(t, filepath.Join(dir, "failed", "d.json"))
	assert.FileExists(t, filepath.Join(dir, "notes.txt"))
	assert.NoFileExists(t, filepath.Join(dir, "a.json"))

	c.mu.Lock()
	assert.Equal(t, "spool", c.batches[0].Records[0].Source)
	c.mu.Unlock()
}

func TestSpoolRunPicksUpNewFiles(t *testing.T) {
	dir := t.TempDir()
	staging := t.TempDir()
	c := &spoolCollector{}
	s := NewSpool(config.SpoolConfig{Dir: dir, PollInterval: 50 * time.Millisecond}, c.handle, logging.New(os.Stderr, "error", "text"))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	writeFile(t, staging, "late.json", `[{"aircraft_id": "abc123"}]`)
	require.NoError(t, os.Rename(filepath.Join(staging, "late.json"), filepath.Join(dir, "late.json")))

	require.Eventually(t, func() bool {
		return len(c.ids()) == 1
	}, 5*time.Second, 20*time.Millisecond)
	assert.Equal(t, []string{"late"}, c.ids())

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("spool did not stop")
	}
}

func TestSpoolRequiresDir(t *testing.T) {
	s := NewSpool(config.SpoolConfig{}, func(context.Context, model.Batch) error { return nil }, nil)
	_, err := s.ScanOnce(context.Background())
	assert.Error(t, err)
}
