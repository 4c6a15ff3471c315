// Package redisstore is an alternative sessionstore.Store backend for hosts
// that run the HTTP transport as a persistent server, rather than a true
// per-request process, and so have no shared filesystem to fall back on.
// It is grounded on the same storage/redis client conventions used
// elsewhere in this codebase's history, adapted to the session-record
// contract.
package redisstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/wgs4/mmcp/sessionstore"
)

// Config configures a Store.
type Config struct {
	// Client is the Redis client instance.
	Client *redis.Client

	// KeyPrefix namespaces every key this store touches. Default "mmcp:session:".
	KeyPrefix string
}

// Store implements sessionstore.Store against Redis. Records are stored as
// JSON string values; the set of known session ids lives in a companion
// Redis set so List and Reap don't need SCAN.
type Store struct {
	client    *redis.Client
	keyPrefix string
}

// New creates a Store from Config.
func New(cfg Config) (*Store, error) {
	if cfg.Client == nil {
		return nil, fmt.Errorf("redisstore: redis client is required")
	}
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "mmcp:session:"
	}
	return &Store{client: cfg.Client, keyPrefix: prefix}, nil
}

func (s *Store) recordKey(id string) string {
	return s.keyPrefix + id
}

func (s *Store) indexKey() string {
	return s.keyPrefix + "index"
}

// Create implements sessionstore.Store using SETNX semantics so two
// processes racing to create the same session id can't both succeed.
func (s *Store) Create(ctx context.Context, record sessionstore.Record) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("redisstore: marshal %s: %w", record.SessionID, err)
	}

	ok, err := s.client.SetNX(ctx, s.recordKey(record.SessionID), data, 0).Result()
	if err != nil {
		return fmt.Errorf("redisstore: create %s: %w", record.SessionID, err)
	}
	if !ok {
		return sessionstore.ErrExists
	}
	if err := s.client.SAdd(ctx, s.indexKey(), record.SessionID).Err(); err != nil {
		return fmt.Errorf("redisstore: index %s: %w", record.SessionID, err)
	}
	return nil
}

// Read implements sessionstore.Store.
func (s *Store) Read(ctx context.Context, sessionID string) (sessionstore.Record, bool, error) {
	val, err := s.client.Get(ctx, s.recordKey(sessionID)).Result()
	if err != nil {
		if err == redis.Nil {
			return sessionstore.Record{}, false, nil
		}
		return sessionstore.Record{}, false, fmt.Errorf("redisstore: read %s: %w", sessionID, err)
	}

	var rec sessionstore.Record
	if err := json.Unmarshal([]byte(val), &rec); err != nil {
		return sessionstore.Record{}, false, nil
	}
	if !rec.Valid() {
		return sessionstore.Record{}, false, nil
	}
	return rec, true, nil
}

// Update implements sessionstore.Store. A WATCH on the record key plus a
// MULTI/EXEC transaction stands in for the file backend's exclusive lock:
// if another client writes the key between the read and the write, the
// transaction is aborted and Update returns that error without retrying.
func (s *Store) Update(ctx context.Context, sessionID string, newStatus sessionstore.Status) (sessionstore.Status, bool, error) {
	var prior sessionstore.Status
	var found bool

	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		rec, ok, err := s.readTx(ctx, tx, sessionID)
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
			rec.ClosedAt = time.Now().Unix()
		}

		data, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("redisstore: marshal %s: %w", sessionID, err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, s.recordKey(sessionID), data, 0)
			return nil
		})
		return err
	}, s.recordKey(sessionID))

	if err != nil {
		return "", false, fmt.Errorf("redisstore: update %s: %w", sessionID, err)
	}
	return prior, found, nil
}

func (s *Store) readTx(ctx context.Context, tx *redis.Tx, sessionID string) (sessionstore.Record, bool, error) {
	val, err := tx.Get(ctx, s.recordKey(sessionID)).Result()
	if err != nil {
		if err == redis.Nil {
			return sessionstore.Record{}, false, nil
		}
		return sessionstore.Record{}, false, err
	}
	var rec sessionstore.Record
	if err := json.Unmarshal([]byte(val), &rec); err != nil || !rec.Valid() {
		return sessionstore.Record{}, false, nil
	}
	return rec, true, nil
}

// List implements sessionstore.Store.
func (s *Store) List(ctx context.Context) ([]string, error) {
	ids, err := s.client.SMembers(ctx, s.indexKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("redisstore: list: %w", err)
	}
	return ids, nil
}

func (s *Store) delete(ctx context.Context, sessionID string) error {
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, s.recordKey(sessionID))
	pipe.SRem(ctx, s.indexKey(), sessionID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redisstore: delete %s: %w", sessionID, err)
	}
	return nil
}

// Reap implements sessionstore.Store with the same rules as filestore.Reap.
func (s *Store) Reap(ctx context.Context, now time.Time, maxUptime, initTimeout time.Duration) error {
	ids, err := s.List(ctx)
	if err != nil {
		return err
	}

	for _, id := range ids {
		rec, ok, err := s.Read(ctx, id)
		if err != nil {
			return err
		}
		if !ok {
			// Index entry with no backing record; drop the stale index entry.
			_ = s.client.SRem(ctx, s.indexKey(), id).Err()
			continue
		}

		openedAt := time.Unix(rec.OpenedAt, 0)

		switch {
		case openedAt.Before(now.Add(-2 * maxUptime)):
			if err := s.delete(ctx, id); err != nil {
				return err
			}
		case rec.Status == sessionstore.StatusInitializing && openedAt.Before(now.Add(-initTimeout)):
			if err := s.delete(ctx, id); err != nil {
				return err
			}
		case rec.Status != sessionstore.StatusClosed && openedAt.Before(now.Add(-maxUptime)):
			if _, _, err := s.Update(ctx, id, sessionstore.StatusClosed); err != nil {
				return err
			}
		}
	}
	return nil
}
