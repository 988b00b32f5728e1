// Technocanvas - Collaborative Canvas Synchronization Core
// Copyright 2026 Arial Gardner (arialgardner)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/arialgardner/techno-canvas-sub001

// Package identity persists the client identity and its monotonic operation
// counter in BadgerDB, and mints operation identifiers from them.
//
// The identifier "clientID-counter" is unique and strictly increasing within
// one client only. It is intentionally NOT a causal clock: two operations
// from different clients carry no inherent order from their identifiers
// alone. Cross-client ordering comes from log arrival order and wall-clock
// timestamps, a documented simplification rather than a vector clock.
package identity

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"

	"github.com/arialgardner/techno-canvas-sub001/internal/logging"
)

// The durable local identity store holds exactly two entries.
var (
	keyClientID = []byte("identity:client_id")
	keyCounter  = []byte("identity:counter")
)

// ErrStoreClosed is returned after Close.
var ErrStoreClosed = errors.New("identity store is closed")

// Store is the durable client identity: a UUID created once, and a counter
// that survives restarts. All methods are safe for concurrent use.
type Store struct {
	db *badger.DB

	mu       sync.Mutex
	clientID string
	counter  uint64
	closed   bool
}

// Open opens (or creates) the identity store at path. On first open a fresh
// client ID is generated and persisted; on later opens both the ID and the
// counter are restored.
func Open(path string) (*Store, error) {
	opts := badger.DefaultOptions(path)
	opts.SyncWrites = true // counter loss would break uniqueness guarantees
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open identity store: %w", err)
	}

	s := &Store{db: db}
	if err := s.load(); err != nil {
		_ = db.Close()
		return nil, err
	}

	logging.Info().
		Str("client_id", s.clientID).
		Uint64("counter", s.counter).
		Msg("identity store opened")
	return s, nil
}

// load restores clientID and counter, creating the ID if absent.
func (s *Store) load() error {
	return s.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(keyClientID)
		switch {
		case errors.Is(err, badger.ErrKeyNotFound):
			s.clientID = uuid.New().String()
			if err := txn.Set(keyClientID, []byte(s.clientID)); err != nil {
				return fmt.Errorf("persist client id: %w", err)
			}
		case err != nil:
			return fmt.Errorf("read client id: %w", err)
		default:
			if err := item.Value(func(val []byte) error {
				s.clientID = string(val)
				return nil
			}); err != nil {
				return fmt.Errorf("read client id value: %w", err)
			}
		}

		item, err = txn.Get(keyCounter)
		switch {
		case errors.Is(err, badger.ErrKeyNotFound):
			s.counter = 0
		case err != nil:
			return fmt.Errorf("read counter: %w", err)
		default:
			if err := item.Value(func(val []byte) error {
				if len(val) != 8 {
					return fmt.Errorf("counter value has %d bytes, want 8", len(val))
				}
				s.counter = binary.BigEndian.Uint64(val)
				return nil
			}); err != nil {
				return fmt.Errorf("read counter value: %w", err)
			}
		}
		return nil
	})
}

// ClientID returns the stable client identity.
func (s *Store) ClientID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clientID
}

// Sequence returns the current counter value without advancing it.
func (s *Store) Sequence() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counter
}

// NextOperationID advances the counter, persists it, and returns the new
// operation identifier together with the sequence number it embeds. The
// persist happens before the ID is handed out, so a crash can skip sequence
// numbers but never reuse one.
func (s *Store) NextOperationID() (string, uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return "", 0, ErrStoreClosed
	}

	next := s.counter + 1
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], next)

	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(keyCounter, buf[:])
	})
	if err != nil {
		return "", 0, fmt.Errorf("persist counter: %w", err)
	}

	s.counter = next
	return s.clientID + "-" + strconv.FormatUint(next, 10), next, nil
}

// Close releases the underlying database.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close identity store: %w", err)
	}
	return nil
}
