package jobregistry

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/3leaps/beacon/pkg/engine"
)

// Store persists and loads RunRecords from an on-disk directory.
//
// Directory layout:
//
//	<root>/<run_id>/run.json
//	<root>/<run_id>/stdout.log
//	<root>/<run_id>/stderr.log
//
// Root is expected to be under the app data dir.
type Store struct {
	root string
}

var _ engine.Recorder = (*Store)(nil)

func NewStore(root string) *Store {
	return &Store{root: strings.TrimSpace(root)}
}

func (s *Store) RootDir() string {
	return s.root
}

func (s *Store) RunDir(runID string) string {
	return filepath.Join(s.root, runID)
}

func (s *Store) RunPath(runID string) string {
	return filepath.Join(s.RunDir(runID), "run.json")
}

func (s *Store) StdoutPath(runID string) string {
	return filepath.Join(s.RunDir(runID), "stdout.log")
}

func (s *Store) StderrPath(runID string) string {
	return filepath.Join(s.RunDir(runID), "stderr.log")
}

func (s *Store) ensureRoot() error {
	if strings.TrimSpace(s.root) == "" {
		return fmt.Errorf("run journal root dir is empty")
	}
	return os.MkdirAll(s.root, 0755)
}

// Write stores record atomically (temp file + rename).
func (s *Store) Write(record *RunRecord) error {
	if record == nil {
		return fmt.Errorf("run record is nil")
	}
	runID := strings.TrimSpace(record.RunID)
	if runID == "" {
		return fmt.Errorf("run_id is required")
	}
	if err := s.ensureRoot(); err != nil {
		return err
	}

	runDir := s.RunDir(runID)
	if err := os.MkdirAll(runDir, 0755); err != nil {
		return fmt.Errorf("create run dir: %w", err)
	}

	b, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal run record: %w", err)
	}
	b = append(b, '\n')

	tmp, err := os.CreateTemp(runDir, "run.json.tmp.*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(b); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp run file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp run file: %w", err)
	}

	if err := os.Rename(tmpName, s.RunPath(runID)); err != nil {
		return fmt.Errorf("rename run file: %w", err)
	}
	return nil
}

// RecordRun implements engine.Recorder. Log files written by the command
// executor are linked when present.
func (s *Store) RecordRun(run engine.RunningJob) error {
	rec := recordFromRun(run)
	if p := s.StdoutPath(rec.RunID); fileExists(p) {
		rec.StdoutPath = p
	}
	if p := s.StderrPath(rec.RunID); fileExists(p) {
		rec.StderrPath = p
	}
	return s.Write(rec)
}

func (s *Store) Get(runID string) (*RunRecord, error) {
	runID = strings.TrimSpace(runID)
	if runID == "" {
		return nil, fmt.Errorf("run_id is required")
	}
	b, err := os.ReadFile(s.RunPath(runID))
	if err != nil {
		return nil, err
	}

	trimmed := strings.TrimSpace(string(b))
	if trimmed == "" {
		return nil, fmt.Errorf("run.json is empty")
	}

	var record RunRecord
	if err := json.Unmarshal([]byte(trimmed), &record); err != nil {
		return nil, fmt.Errorf("parse run.json: %w", err)
	}
	return &record, nil
}

// List returns all readable records, newest first. Unreadable entries are
// skipped.
func (s *Store) List() ([]RunRecord, error) {
	if err := s.ensureRoot(); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(s.root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read runs root: %w", err)
	}

	out := make([]RunRecord, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		r, err := s.Get(entry.Name())
		if err != nil {
			continue
		}
		out = append(out, *r)
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].StartedAt.After(out[j].StartedAt)
	})
	return out, nil
}

// Recent returns at most limit records, newest first. Pipeline steps are
// included only when withSteps is set.
func (s *Store) Recent(limit int, withSteps bool) ([]RunRecord, error) {
	all, err := s.List()
	if err != nil {
		return nil, err
	}
	out := make([]RunRecord, 0, len(all))
	for _, r := range all {
		if !withSteps && r.Parent != "" {
			continue
		}
		out = append(out, r)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// GCResult describes one garbage collection pass.
type GCResult struct {
	Removed []string
	Kept    int
}

// GC removes run directories that ended more than maxAge before now. Run
// directories without a readable record (for example logs of a run that
// never finished) are aged by their modification time. When dryRun is set
// nothing is deleted.
func (s *Store) GC(maxAge time.Duration, now time.Time, dryRun bool) (*GCResult, error) {
	if maxAge <= 0 {
		return nil, fmt.Errorf("max age must be positive")
	}
	if err := s.ensureRoot(); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, fmt.Errorf("read runs root: %w", err)
	}

	cutoff := now.Add(-maxAge)
	res := &GCResult{}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		runID := entry.Name()

		var endedAt time.Time
		if rec, err := s.Get(runID); err == nil {
			if !rec.State.Terminal() || rec.EndedAt == nil {
				res.Kept++
				continue
			}
			endedAt = *rec.EndedAt
		} else {
			info, err := entry.Info()
			if err != nil {
				res.Kept++
				continue
			}
			endedAt = info.ModTime()
		}

		if !endedAt.Before(cutoff) {
			res.Kept++
			continue
		}
		if !dryRun {
			if err := os.RemoveAll(s.RunDir(runID)); err != nil {
				return res, fmt.Errorf("remove run %s: %w", runID, err)
			}
		}
		res.Removed = append(res.Removed, runID)
	}
	sort.Strings(res.Removed)
	return res, nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
