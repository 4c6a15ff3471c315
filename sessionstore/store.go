// Package sessionstore defines the durable session-record contract shared
// by every persistence backend (see filestore and redisstore) and the
// generic reaper/conformance tests that exercise both against the same
// rules.
package sessionstore

import (
	"context"
	"errors"
	"time"
)

// Status is a session's position in the {INITIALIZING -> OPEN -> CLOSED}
// state machine.
type Status string

const (
	StatusInitializing Status = "INITIALIZING"
	StatusOpen         Status = "OPEN"
	StatusClosed       Status = "CLOSED"
)

// Record is the durable state of a single session.
//
// Invariants: Status == StatusClosed iff ClosedAt is non-zero; ProtocolVersion
// is immutable after creation; SessionID never changes; Status only ever
// advances INITIALIZING -> OPEN -> CLOSED.
type Record struct {
	SessionID       string          `json:"sessionId"`
	Status          Status          `json:"status"`
	OpenedAt        int64           `json:"openedAt"`
	ClosedAt        int64           `json:"closedAt"`
	ClientInfo      map[string]any  `json:"clientInfo"`
	ProtocolVersion string          `json:"protocolVersion"`
}

// Valid reports whether all five fields of a decoded Record are present, per
// the read contract: a record missing any field reads as a miss rather than
// a partially-populated session.
func (r *Record) Valid() bool {
	if r == nil {
		return false
	}
	switch r.Status {
	case StatusInitializing, StatusOpen, StatusClosed:
	default:
		return false
	}
	return r.SessionID != "" && r.OpenedAt != 0 && r.ClientInfo != nil && r.ProtocolVersion != ""
}

// ErrExists is returned by Create when the session id already exists.
var ErrExists = errors.New("sessionstore: session already exists")

// Store is the durable, cross-process session record contract. Every
// method must tolerate being called from an independent process (or
// goroutine) racing with any other method call for the same session id.
type Store interface {
	// Create persists a new record. It fails with ErrExists if the id is
	// already present.
	Create(ctx context.Context, record Record) error

	// Read returns the record for sessionID, or ok=false if it is absent
	// or its persisted form failed to parse into a valid Record.
	Read(ctx context.Context, sessionID string) (record Record, ok bool, err error)

	// Update atomically reads, mutates Status (and ClosedAt when moving to
	// StatusClosed), and writes back the record for sessionID. It returns
	// the prior status and ok=true, or ok=false if the session could not
	// be verified to exist.
	Update(ctx context.Context, sessionID string, newStatus Status) (prior Status, ok bool, err error)

	// List returns every session id currently known to the store,
	// including closed-but-not-deleted sessions.
	List(ctx context.Context) ([]string, error)

	// Reap sweeps every known session: deletes ones whose OpenedAt predates
	// now-2*maxUptime, deletes INITIALIZING ones whose OpenedAt predates
	// now-initTimeout, and closes (without deleting) any other non-closed
	// session whose OpenedAt predates now-maxUptime. Reap is idempotent:
	// running it twice in a row has the same effect as running it once.
	Reap(ctx context.Context, now time.Time, maxUptime, initTimeout time.Duration) error
}
