package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"flightguard/internal/config"
	"flightguard/internal/model"
)

const (
	spoolDone   = "done"
	spoolFailed = "failed"
)

// Spool processes batch files dropped into a directory. Producers should
// write elsewhere and rename into the directory so a file is never read
// half written.
type Spool struct {
	dir     string
	pattern string
	poll    time.Duration
	handler Handler
	logger  *slog.Logger
}

func NewSpool(cfg config.SpoolConfig, handler Handler, logger *slog.Logger) *Spool {
	if logger == nil {
		logger = slog.Default()
	}
	pattern := cfg.Pattern
	if pattern == "" {
		pattern = "*.json"
	}
	poll := cfg.PollInterval
	if poll <= 0 {
		poll = 30 * time.Second
	}
	return &Spool{dir: cfg.Dir, pattern: pattern, poll: poll, handler: handler, logger: logger}
}

// Run drains the directory, then handles files as they arrive until ctx is
// done. The poll ticker picks up anything the watcher missed.
func (s *Spool) Run(ctx context.Context) error {
	if err := s.prepare(); err != nil {
		return err
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()
	if err := watcher.Add(s.dir); err != nil {
		return fmt.Errorf("watch spool %s: %w", s.dir, err)
	}
	s.logger.Info("spool ingest enabled", "dir", s.dir, "pattern", s.pattern)

	if _, err := s.ScanOnce(ctx); err != nil {
		s.logger.Warn("spool scan failed", "err", err)
	}
	ticker := time.NewTicker(s.poll)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) {
				continue
			}
			if filepath.Dir(ev.Name) != filepath.Clean(s.dir) || !s.matches(ev.Name) {
				continue
			}
			s.handleFile(ctx, ev.Name)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			s.logger.Warn("spool watcher error", "err", err)
		case <-ticker.C:
			if _, err := s.ScanOnce(ctx); err != nil {
				s.logger.Warn("spool scan failed", "err", err)
			}
		}
	}
}

// ScanOnce handles every matching file currently in the directory, oldest
// name first, and reports how many were processed successfully.
func (s *Spool) ScanOnce(ctx context.Context) (int, error) {
	if err := s.prepare(); err != nil {
		return 0, err
	}
	paths, err := filepath.Glob(filepath.Join(s.dir, s.pattern))
	if err != nil {
		return 0, err
	}
	sort.Strings(paths)
	ok := 0
	for _, path := range paths {
		if ctx.Err() != nil {
			return ok, ctx.Err()
		}
		if s.handleFile(ctx, path) {
			ok++
		}
	}
	return ok, nil
}

func (s *Spool) prepare() error {
	if s.dir == "" {
		return errors.New("spool dir is empty")
	}
	for _, sub := range []string{spoolDone, spoolFailed} {
		if err := os.MkdirAll(filepath.Join(s.dir, sub), 0o755); err != nil {
			return err
		}
	}
	return nil
}

func (s *Spool) matches(path string) bool {
	ok, _ := filepath.Match(s.pattern, filepath.Base(path))
	return ok
}

func (s *Spool) handleFile(ctx context.Context, path string) bool {
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		// already moved by an earlier event
		return false
	}
	data, err := os.ReadFile(path)
	if err != nil {
		s.logger.Warn("spool read failed", "path", path, "err", err)
		return false
	}
	batch, err := s.parse(path, data)
	if err != nil {
		s.logger.Warn("spool parse failed", "path", path, "err", err)
		s.move(path, spoolFailed)
		return false
	}
	if err := s.handler(ctx, batch); err != nil {
		if ctx.Err() != nil {
			// left in place for the next run
			return false
		}
		s.logger.Warn("spool batch failed", "path", path, "batch_id", batch.ID, "err", err)
		s.move(path, spoolFailed)
		return false
	}
	s.move(path, spoolDone)
	return true
}

func (s *Spool) parse(path string, data []byte) (model.Batch, error) {
	records, id, err := ParseRecords(data, "spool")
	if err != nil {
		return model.Batch{}, err
	}
	if id == "" {
		id = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	return model.Batch{ID: id, Records: records}, nil
}

func (s *Spool) move(path, sub string) {
	dst := filepath.Join(s.dir, sub, filepath.Base(path))
	if err := os.Rename(path, dst); err != nil {
		s.logger.Warn("spool move failed", "path", path, "dst", dst, "err", err)
	}
}
