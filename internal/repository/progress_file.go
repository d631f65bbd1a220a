package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/timmy/autograde/internal/domain"
	"github.com/timmy/autograde/internal/logger"
)

const progressDocumentVersion = 2

// Keys of the progress document this version understands. Anything else is carried through untouched.
var (
	knownDocumentKeys = map[string]bool{"version": true, "updated_at": true, "records": true}
	knownRecordKeys   = map[string]bool{
		"student_id": true, "status": true, "result": true,
		"retry_count": true, "total_attempts": true, "updated_at": true,
	}
)

type fileEntry struct {
	record domain.ProgressRecord
	extra  map[string]json.RawMessage // unknown fields of the loaded record
	raw    json.RawMessage            // loaded bytes, written back verbatim until the record changes
}

// FileProgressStore keeps progress in a single JSON document.
// Each Upsert rewrites the document to a temporary file and renames it over the original,
// so the file on disk is always either the previous or the new state.
type FileProgressStore struct {
	path   string
	logger *logger.Logger

	mu      sync.Mutex
	loaded  bool
	entries map[string]*fileEntry
	extras  map[string]json.RawMessage
}

// NewFileProgressStore creates a store backed by the JSON document at path.
// Parameters:
//   - path: progress document location; it need not exist yet.
//   - log: logger for load warnings; nil uses the default logger.
//
// Returns:
//   - *FileProgressStore: store instance; nothing is read until Load.
func NewFileProgressStore(path string, log *logger.Logger) *FileProgressStore {
	if log == nil {
		log = logger.GetDefault()
	}
	return &FileProgressStore{
		path:    path,
		logger:  log,
		entries: make(map[string]*fileEntry),
		extras:  make(map[string]json.RawMessage),
	}
}

// Path returns the document location.
func (s *FileProgressStore) Path() string {
	return s.path
}

// Load reads the document. A missing file is a first run; an unparsable file is preserved
// next to the original with a ".corrupt" suffix and treated as empty. A file that exists but
// cannot be read is a *StoreError, so nothing is written over it.
func (s *FileProgressStore) Load(ctx context.Context) (map[string]domain.ProgressRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.loadLocked(ctx); err != nil {
		return nil, err
	}
	return s.recordsLocked(), nil
}

func (s *FileProgressStore) loadLocked(ctx context.Context) error {
	data, err := os.ReadFile(s.path)
	missing := errors.Is(err, os.ErrNotExist) || errors.Is(err, syscall.ENOTDIR)
	if err != nil && !missing {
		s.logger.WithError(err).WithField("path", s.path).Error("Progress file unreadable")
		return &StoreError{Op: "read", Path: s.path, Err: err}
	}

	s.loaded = true
	s.entries = make(map[string]*fileEntry)
	s.extras = make(map[string]json.RawMessage)
	if err != nil {
		return nil
	}

	entries, extras, err := decodeProgressDocument(data)
	if err != nil {
		backup := s.path + ".corrupt"
		if werr := writeFileAtomic(backup, data, 0o644); werr != nil {
			s.logger.WithError(werr).WithField("path", backup).Error("Failed to preserve corrupt progress file")
		}
		s.logger.WithError(err).WithFields(logger.Fields{
			"path":   s.path,
			"backup": backup,
		}).Warn("Progress file corrupt, starting empty")
		return nil
	}

	s.entries = entries
	s.extras = extras
	logger.With(nil).Count(len(entries)).Debug(ctx, "Loaded progress file %s", s.path)
	return nil
}

// Upsert replaces one record and persists the whole document before returning.
// On a write failure the in-memory state is rolled back.
func (s *FileProgressStore) Upsert(ctx context.Context, rec domain.ProgressRecord) error {
	if rec.StudentID == "" {
		return &StoreError{Op: "upsert", Path: s.path, Err: errors.New("record without student ID")}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.loaded {
		if err := s.loadLocked(ctx); err != nil {
			return err
		}
	}

	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = time.Now().UTC()
	}

	prev, existed := s.entries[rec.StudentID]
	if existed {
		if err := checkTransition(prev.record.Status, rec); err != nil {
			return &StoreError{Op: "upsert", Path: s.path, Err: err}
		}
	}
	next := &fileEntry{record: rec}
	if existed {
		next.extra = prev.extra
	}
	s.entries[rec.StudentID] = next

	if err := s.persistLocked(); err != nil {
		if existed {
			s.entries[rec.StudentID] = prev
		} else {
			delete(s.entries, rec.StudentID)
		}
		return &StoreError{Op: "write", Path: s.path, Err: err}
	}
	return nil
}

// Snapshot returns every record sorted by student ID.
func (s *FileProgressStore) Snapshot(ctx context.Context) ([]domain.ProgressRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.loaded {
		if err := s.loadLocked(ctx); err != nil {
			return nil, err
		}
	}
	return sortedRecords(s.recordsLocked()), nil
}

// Reset discards every record and unknown field and persists an empty document.
func (s *FileProgressStore) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	prevEntries, prevExtras := s.entries, s.extras
	s.loaded = true
	s.entries = make(map[string]*fileEntry)
	s.extras = make(map[string]json.RawMessage)

	if err := s.persistLocked(); err != nil {
		s.entries, s.extras = prevEntries, prevExtras
		return &StoreError{Op: "reset", Path: s.path, Err: err}
	}
	return nil
}

func (s *FileProgressStore) Close() error {
	return nil
}

func (s *FileProgressStore) recordsLocked() map[string]domain.ProgressRecord {
	out := make(map[string]domain.ProgressRecord, len(s.entries))
	for id, e := range s.entries {
		out[id] = e.record
	}
	return out
}

func (s *FileProgressStore) persistLocked() error {
	data, err := encodeProgressDocument(s.entries, s.extras)
	if err != nil {
		return err
	}
	return writeFileAtomic(s.path, data, 0o644)
}

func decodeProgressDocument(data []byte) (map[string]*fileEntry, map[string]json.RawMessage, error) {
	var top map[string]json.RawMessage
	if err := json.Unmarshal(data, &top); err != nil {
		return nil, nil, fmt.Errorf("failed to parse progress document: %w", err)
	}
	if top == nil {
		return nil, nil, errors.New("progress document is not an object")
	}

	if _, ok := top["records"]; !ok && isLegacyDocument(top) {
		return migrateLegacyDocument(top)
	}

	extras := make(map[string]json.RawMessage)
	for k, v := range top {
		if !knownDocumentKeys[k] {
			extras[k] = v
		}
	}

	entries := make(map[string]*fileEntry)
	var raw map[string]json.RawMessage
	if r, ok := top["records"]; ok {
		if err := json.Unmarshal(r, &raw); err != nil {
			return nil, nil, fmt.Errorf("failed to parse progress records: %w", err)
		}
	}
	for id, r := range raw {
		entry, err := decodeRecord(id, r)
		if err != nil {
			return nil, nil, err
		}
		entries[id] = entry
	}
	return entries, extras, nil
}

func decodeRecord(id string, raw json.RawMessage) (*fileEntry, error) {
	var rec domain.ProgressRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("failed to parse progress record %q: %w", id, err)
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("failed to parse progress record %q: %w", id, err)
	}

	rec.StudentID = id
	if !rec.Status.Valid() {
		// Written by a newer version: grade it again rather than trust it.
		rec.Status = domain.ProgressStatusPending
	}

	entry := &fileEntry{record: rec, raw: raw}
	for k, v := range fields {
		if !knownRecordKeys[k] {
			if entry.extra == nil {
				entry.extra = make(map[string]json.RawMessage)
			}
			entry.extra[k] = v
		}
	}
	return entry, nil
}

func encodeProgressDocument(entries map[string]*fileEntry, extras map[string]json.RawMessage) ([]byte, error) {
	records := make(map[string]json.RawMessage, len(entries))
	for id, e := range entries {
		raw, err := encodeRecord(e)
		if err != nil {
			return nil, fmt.Errorf("failed to encode record %q: %w", id, err)
		}
		records[id] = raw
	}

	top := make(map[string]any, len(extras)+3)
	for k, v := range extras {
		top[k] = v
	}
	top["version"] = progressDocumentVersion
	top["updated_at"] = time.Now().UTC()
	top["records"] = records

	return json.MarshalIndent(top, "", "  ")
}

func encodeRecord(e *fileEntry) (json.RawMessage, error) {
	if e.raw != nil {
		return e.raw, nil
	}
	data, err := json.Marshal(e.record)
	if err != nil {
		return nil, err
	}
	if len(e.extra) == 0 {
		return data, nil
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, err
	}
	for k, v := range e.extra {
		if _, ok := fields[k]; !ok {
			fields[k] = v
		}
	}
	return json.Marshal(fields)
}

// writeFileAtomic writes data to a temporary file in the target directory, syncs it,
// renames it over path and syncs the directory.
func writeFileAtomic(path string, data []byte, perm os.FileMode) (err error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmpName)
		}
	}()

	if _, err = tmp.Write(data); err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err = tmp.Sync(); err != nil {
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err = os.Chmod(tmpName, perm); err != nil {
		return fmt.Errorf("failed to chmod temp file: %w", err)
	}
	if err = os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("failed to replace %s: %w", path, err)
	}

	syncDir(dir)
	return nil
}

// syncDir flushes the directory entry of a rename. Not every platform supports it.
func syncDir(dir string) {
	d, err := os.Open(dir)
	if err != nil {
		return
	}
	_ = d.Sync()
	_ = d.Close()
}
