// Package filestore is the default sessionstore.Store backend: one JSON
// file per session under a temp directory, safe for concurrent access from
// independent processes via advisory file locking. This matches the HTTP
// transport's per-request-process model, where the in-memory alternative
// (a mutex-guarded map) would not survive past a single request.
package filestore

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofrs/flock"

	"github.com/wgs4/mmcp/sessionstore"
)

// Store persists sessionstore.Record values as <dir>/<sessionId>.json.
type Store struct {
	dir     string
	nowFunc func() time.Time
}

// New creates a Store rooted at dir, creating the directory with private
// permissions if it does not already exist.
func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("filestore: create dir: %w", err)
	}
	return &Store{dir: dir, nowFunc: time.Now}, nil
}

func (s *Store) recordPath(id string) string {
	return filepath.Join(s.dir, id+".json")
}

func (s *Store) lockPath(id string) string {
	return filepath.Join(s.dir, id+".json.lock")
}

// withLock serializes read-modify-write access to a single session's file
// across processes using an exclusive advisory lock on a sidecar file.
func (s *Store) withLock(ctx context.Context, id string, fn func() error) error {
	fl := flock.New(s.lockPath(id))
	if err := fl.Lock(); err != nil {
		return fmt.Errorf("filestore: lock %s: %w", id, err)
	}
	defer fl.Unlock()
	return fn()
}

func (s *Store) readUnlocked(id string) (sessionstore.Record, bool, error) {
	data, err := os.ReadFile(s.recordPath(id))
	if err != nil {
		if os.IsNotExist(err) {
			return sessionstore.Record{}, false, nil
		}
		return sessionstore.Record{}, false, fmt.Errorf("filestore: read %s: %w", id, err)
	}

	var rec sessionstore.Record
	if err := json.Unmarshal(data, &rec); err != nil {
		// A malformed file reads as a miss, per contract.
		return sessionstore.Record{}, false, nil
	}
	if !rec.Valid() {
		return sessionstore.Record{}, false, nil
	}
	return rec, true, nil
}

// writeUnlocked replaces the whole file contents atomically via a
// write-then-rename, so a reader never observes a half-written record.
func (s *Store) writeUnlocked(id string, rec sessionstore.Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("filestore: marshal %s: %w", id, err)
	}

	tmp := s.recordPath(id) + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("filestore: write temp %s: %w", id, err)
	}
	if err := os.Rename(tmp, s.recordPath(id)); err != nil {
		return fmt.Errorf("filestore: rename %s: %w", id, err)
	}
	return nil
}

func (s *Store) deleteUnlocked(id string) error {
	if err := os.Remove(s.recordPath(id)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("filestore: delete %s: %w", id, err)
	}
	_ = os.Remove(s.lockPath(id))
	return nil
}

// Create implements sessionstore.Store.
func (s *Store) Create(ctx context.Context, record sessionstore.Record) error {
	return s.withLock(ctx, record.SessionID, func() error {
		if _, ok, err := s.readUnlocked(record.SessionID); err != nil {
			return err
		} else if ok {
			return sessionstore.ErrExists
		}
		if _, statErr := os.Stat(s.recordPath(record.SessionID)); statErr == nil {
			return sessionstore.ErrExists
		}
		return s.writeUnlocked(record.SessionID, record)
	})
}

// Read implements sessionstore.Store.
func (s *Store) Read(ctx context.Context, sessionID string) (sessionstore.Record, bool, error) {
	return s.readUnlocked(sessionID)
}

// Update implements sessionstore.Store.
func (s *Store) Update(ctx context.Context, sessionID string, newStatus sessionstore.Status) (sessionstore.Status, bool, error) {
	var prior sessionstore.Status
	var found bool

	err := s.withLock(ctx, sessionID, func() error {
		rec, ok, err := s.readUnlocked(sessionID)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		found = true
		prior = rec.Status
		rec.Status = newStatus
		if newStatus == sessionstore.StatusClosed && rec.ClosedAt == 0 {
			rec.ClosedAt = s.nowFunc().Unix()
		}
		return s.writeUnlocked(sessionID, rec)
	})
	if err != nil {
		return "", false, err
	}
	return prior, found, nil
}

// List implements sessionstore.Store.
func (s *Store) List(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("filestore: list: %w", err)
	}
	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		ids = append(ids, strings.TrimSuffix(name, ".json"))
	}
	return ids, nil
}

// Reap implements sessionstore.Store.
func (s *Store) Reap(ctx context.Context, now time.Time, maxUptime, initTimeout time.Duration) error {
	ids, err := s.List(ctx)
	if err != nil {
		return err
	}

	for _, id := range ids {
		if err := s.withLock(ctx, id, func() error {
			rec, ok, err := s.readUnlocked(id)
			if err != nil || !ok {
				return err
			}

			openedAt := time.Unix(rec.OpenedAt, 0)

			if openedAt.Before(now.Add(-2 * maxUptime)) {
				return s.deleteUnlocked(id)
			}
			if rec.Status == sessionstore.StatusInitializing && openedAt.Before(now.Add(-initTimeout)) {
				return s.deleteUnlocked(id)
			}
			if rec.Status != sessionstore.StatusClosed && openedAt.Before(now.Add(-maxUptime)) {
				rec.Status = sessionstore.StatusClosed
				rec.ClosedAt = now.Unix()
				return s.writeUnlocked(id, rec)
			}
			return nil
		}); err != nil {
			return fmt.Errorf("filestore: reap %s: %w", id, err)
		}
	}
	return nil
}
