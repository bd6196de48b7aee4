package state

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"sync"
	"time"
)

// FileDocumentStore manages reading and writing the policy document file.
// It provides atomic writes (write-tmp-then-rename), automatic backups,
// file locking (flock for cross-process, mutex for in-process), and
// first-boot initialization with the seed configuration.
type FileDocumentStore struct {
	path         string
	seedChannels []string
	mu           sync.Mutex
	logger       *slog.Logger

	// lastSaved is the revision of the most recent successful Save, used
	// to skip no-op writes and to let the watcher suppress self-writes.
	lastSaved uint64
}

// NewFileDocumentStore creates a store for the given path. seedChannels are
// the channels the default document is seeded with when no file exists yet.
func NewFileDocumentStore(path string, seedChannels []string, logger *slog.Logger) *FileDocumentStore {
	return &FileDocumentStore{
		path:         path,
		seedChannels: seedChannels,
		logger:       logger,
	}
}

// Load reads and parses the document file.
// A missing file yields the seed document; invalid JSON is an error.
// Warns if the existing file has permissions more open than 0600.
func (s *FileDocumentStore) Load() (*Document, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			s.logger.Info("policy document not found, using seed configuration",
				"path", s.path, "channels", s.seedChannels)
			return DefaultDocument(s.seedChannels...), nil
		}
		return nil, fmt.Errorf("read policy document: %w", err)
	}

	// Unix permission bits are meaningless on Windows.
	if runtime.GOOS != "windows" {
		if info, statErr := os.Stat(s.path); statErr == nil {
			mode := info.Mode().Perm()
			if mode&0077 != 0 { // group or other has access
				s.logger.Warn("policy document has too-open permissions, should be 0600",
					"path", s.path, "current_mode", fmt.Sprintf("%04o", mode))
			}
		}
	}

	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse policy document: %w", err)
	}
	if doc.Channels == nil {
		doc.Channels = map[string]map[string]RuleDocument{}
	}
	if doc.Exceptions == nil {
		doc.Exceptions = []string{}
	}

	return &doc, nil
}

// Save writes the document to disk atomically. Identical content (by
// revision) to the last successful Save is skipped without touching disk.
//
// The write sequence is:
//  1. Acquire in-process mutex
//  2. Acquire flock on path+".lock"
//  3. Copy current file to path+".bak" (skipped if no current file)
//  4. Marshal as indented JSON
//  5. Write to path+".tmp" with 0600 permissions
//  6. Fsync the temp file
//  7. Rename path+".tmp" -> path
func (s *FileDocumentStore) Save(doc *Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rev := doc.Revision()
	if rev == s.lastSaved && s.exists() {
		s.logger.Debug("policy document unchanged, skipping save", "revision", rev)
		return nil
	}

	if doc.Version == "" {
		doc.Version = DocumentVersion
	}
	now := time.Now().UTC()
	if doc.CreatedAt.IsZero() {
		// Preserve the original creation time across rewrites.
		if current, err := s.loadUnlocked(); err == nil && !current.CreatedAt.IsZero() {
			doc.CreatedAt = current.CreatedAt
		} else {
			doc.CreatedAt = now
		}
	}
	doc.UpdatedAt = now

	// Cross-process file lock.
	lockPath := s.path + ".lock"
	lockFile, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return fmt.Errorf("open lock file: %w", err)
	}
	defer func() { _ = lockFile.Close() }()

	if err := flockLock(lockFile.Fd()); err != nil {
		return fmt.Errorf("acquire file lock: %w", err)
	}
	defer flockUnlock(lockFile.Fd()) //nolint:errcheck

	// Backup the current file, if any.
	if currentData, readErr := os.ReadFile(s.path); readErr == nil {
		bakPath := s.path + ".bak"
		if writeErr := os.WriteFile(bakPath, currentData, 0600); writeErr != nil {
			s.logger.Warn("failed to create backup", "error", writeErr)
		}
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal policy document: %w", err)
	}
	data = append(data, '\n')

	if err := s.writeAtomic(data); err != nil {
		return err
	}

	// Safety net: keep the on-disk document private even if rename
	// inherited wider permissions from a pre-existing file.
	if err := os.Chmod(s.path, 0600); err != nil {
		s.logger.Warn("failed to set permissions on policy document", "error", err)
	}

	s.lastSaved = rev
	s.logger.Debug("policy document saved", "path", s.path, "revision", rev)
	return nil
}

// LastSavedRevision returns the revision of the most recent Save, or zero
// when nothing has been saved by this process yet.
func (s *FileDocumentStore) LastSavedRevision() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSaved
}

// Exists returns true if the document file exists on disk.
func (s *FileDocumentStore) Exists() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.exists()
}

// Path returns the configured file path.
func (s *FileDocumentStore) Path() string {
	return s.path
}

func (s *FileDocumentStore) exists() bool {
	_, err := os.Stat(s.path)
	return err == nil
}

// loadUnlocked reads the document without taking s.mu. Callers hold it.
func (s *FileDocumentStore) loadUnlocked() (*Document, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, err
	}
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

// writeAtomic writes data to a temp file, fsyncs it, and renames it over
// the target path. On any error the temp file is cleaned up.
func (s *FileDocumentStore) writeAtomic(data []byte) error {
	tmpPath := s.path + ".tmp"

	f, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}

	cleanup := func() {
		_ = f.Close()
		_ = os.Remove(tmpPath)
	}

	if _, err := f.Write(data); err != nil {
		cleanup()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := f.Sync(); err != nil {
		cleanup()
		return fmt.Errorf("fsync temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("close temp file: %w", err)
	}

	if err := os.Rename(tmpPath, s.path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("rename temp to document: %w", err)
	}
	return nil
}
