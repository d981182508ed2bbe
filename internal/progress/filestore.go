package progress

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	fileFormatVersion = 1
	maxBackups        = 5
	backupTimeLayout  = "20060102T150405.000000000"
)

// document is the on-disk layout. Workflow payloads stay raw so entries
// written by a newer build survive a round trip through an older one.
type document struct {
	Version   int                        `json:"version"`
	UpdatedAt time.Time                  `json:"updated_at"`
	Workflows map[string]json.RawMessage `json:"workflows"`
}

// FileStore persists records in a single JSON file. Every commit writes a
// complete new document via temp file, fsync and rename, and keeps a short
// rotation of backups to recover from on corruption.
type FileStore struct {
	mu        sync.Mutex
	path      string
	backupDir string
	log       *zap.Logger
	doc       document
}

func NewFileStore(path, backupDir string, log *zap.Logger) (*FileStore, error) {
	if backupDir == "" {
		backupDir = filepath.Dir(path)
	}
	s := &FileStore{path: path, backupDir: backupDir, log: log}
	if err := s.open(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *FileStore) open() error {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		s.doc = emptyDocument()
		return nil
	}
	if err != nil {
		return err
	}
	doc, derr := decodeDocument(data)
	if derr == nil {
		s.doc = doc
		return nil
	}

	// The main file is unreadable. Set it aside and fall back to the
	// newest backup that still decodes.
	s.log.Warn("progress file is corrupt, recovering from backups",
		zap.String("path", s.path), zap.Error(derr))
	if rerr := os.Rename(s.path, s.path+".corrupt"); rerr != nil {
		return fmt.Errorf("set aside corrupt progress file: %w", rerr)
	}
	for _, backup := range s.backups() {
		raw, rerr := os.ReadFile(backup)
		if rerr != nil {
			continue
		}
		doc, derr := decodeDocument(raw)
		if derr != nil {
			s.log.Warn("skipping unreadable backup", zap.String("path", backup), zap.Error(derr))
			continue
		}
		s.log.Info("recovered progress from backup", zap.String("path", backup))
		s.doc = doc
		return nil
	}
	s.log.Warn("no usable backup found, starting with empty progress")
	s.doc = emptyDocument()
	return nil
}

func emptyDocument() document {
	return document{Version: fileFormatVersion, Workflows: make(map[string]json.RawMessage)}
}

func decodeDocument(data []byte) (document, error) {
	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return document{}, err
	}
	if doc.Version == 0 || doc.Version > fileFormatVersion {
		return document{}, fmt.Errorf("unsupported progress format version %d", doc.Version)
	}
	if doc.Workflows == nil {
		doc.Workflows = make(map[string]json.RawMessage)
	}
	for name, raw := range doc.Workflows {
		if err := validateRecord(name, raw); err != nil {
			return document{}, err
		}
	}
	return doc, nil
}

func (s *FileStore) Load(ctx context.Context, name string) (Record, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	raw, ok := s.doc.Workflows[name]
	if !ok {
		return Record{}, false, nil
	}
	var rec Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return Record{}, false, fmt.Errorf("decode record %q: %w", name, err)
	}
	return rec, true, nil
}

func (s *FileStore) Commit(ctx context.Context, name string, mut Mutation) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var rec Record
	if raw, ok := s.doc.Workflows[name]; ok {
		if err := json.Unmarshal(raw, &rec); err != nil {
			return Record{}, fmt.Errorf("decode record %q: %w", name, err)
		}
	}
	next, err := apply(rec, name, mut, time.Now().UTC())
	if err != nil {
		return Record{}, err
	}
	merged, err := mergeRecord(s.doc.Workflows[name], next)
	if err != nil {
		return Record{}, err
	}

	updated := s.doc
	updated.Workflows = make(map[string]json.RawMessage, len(s.doc.Workflows)+1)
	for k, v := range s.doc.Workflows {
		updated.Workflows[k] = v
	}
	updated.Workflows[name] = merged
	updated.UpdatedAt = next.UpdatedAt

	if err := s.write(updated); err != nil {
		return Record{}, err
	}
	s.doc = updated
	return next, nil
}

// mergeRecord lays the new record over the stored object so keys this build
// does not know about are carried through unchanged.
func mergeRecord(old json.RawMessage, rec Record) (json.RawMessage, error) {
	merged := make(map[string]json.RawMessage)
	if len(old) > 0 {
		if err := json.Unmarshal(old, &merged); err != nil {
			return nil, err
		}
	}
	raw, err := json.Marshal(rec)
	if err != nil {
		return nil, err
	}
	var fresh map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fresh); err != nil {
		return nil, err
	}
	// Known keys are owned by this build: missing means cleared, not stale.
	for _, key := range []string{"name", "count", "thresholds", "last_step_id", "completed", "completed_at", "updated_at", "detail", "version"} {
		delete(merged, key)
	}
	for k, v := range fresh {
		merged[k] = v
	}
	return json.Marshal(merged)
}

func (s *FileStore) write(doc document) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}
	if err := s.rotateBackup(); err != nil {
		return err
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return err
	}
	if d, err := os.Open(dir); err == nil {
		_ = d.Sync()
		_ = d.Close()
	}
	return nil
}

// rotateBackup copies the current file into the backup directory and prunes
// the rotation down to maxBackups.
func (s *FileStore) rotateBackup() error {
	current, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	if err := os.MkdirAll(s.backupDir, 0o755); err != nil {
		return err
	}
	name := fmt.Sprintf("%s.%s.bak", filepath.Base(s.path), time.Now().UTC().Format(backupTimeLayout))
	if err := os.WriteFile(filepath.Join(s.backupDir, name), current, 0o600); err != nil {
		return err
	}
	backups := s.backups()
	for i := maxBackups; i < len(backups); i++ {
		if err := os.Remove(backups[i]); err != nil {
			s.log.Warn("could not prune backup", zap.String("path", backups[i]), zap.Error(err))
		}
	}
	return nil
}

// backups returns existing backup paths, newest first.
func (s *FileStore) backups() []string {
	pattern := filepath.Join(s.backupDir, filepath.Base(s.path)+".*.bak")
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return nil
	}
	sort.Sort(sort.Reverse(sort.StringSlice(matches)))
	return matches
}

func (s *FileStore) All(ctx context.Context) ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.doc.Workflows))
	for name := range s.doc.Workflows {
		names = append(names, name)
	}
	sort.Strings(names)
	out := make([]Record, 0, len(names))
	for _, name := range names {
		var rec Record
		if err := json.Unmarshal(s.doc.Workflows[name], &rec); err != nil {
			return nil, fmt.Errorf("decode record %q: %w", name, err)
		}
		out = append(out, rec)
	}
	return out, nil
}

func (s *FileStore) Close(ctx context.Context) error { return nil }
