// Technocanvas - Collaborative Canvas Synchronization Core
// Copyright 2026 Arial Gardner (arialgardner)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/arialgardner/techno-canvas-sub001

// Package oplog implements the append-only per-canvas operation log.
//
// Every operation accepted by the engine is appended here before it is
// applied anywhere. Entries start pending and move to acknowledged once the
// authoritative store confirms them; entries that stay pending past the ack
// timeout are surfaced to the prediction manager as rollback candidates.
// The log is lossy by design: a pruning timer removes entries past the
// retention age and trims each canvas to its maximum entry count.
package oplog

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"

	"github.com/arialgardner/techno-canvas-sub001/internal/config"
	"github.com/arialgardner/techno-canvas-sub001/internal/logging"
	"github.com/arialgardner/techno-canvas-sub001/internal/metrics"
	"github.com/arialgardner/techno-canvas-sub001/internal/models"
)

var (
	// ErrLogClosed is returned by all operations after Close.
	ErrLogClosed = errors.New("operation log is closed")

	// ErrEntryNotFound is returned when acknowledging an unknown or
	// already-acknowledged operation.
	ErrEntryNotFound = errors.New("operation log entry not found")

	// ErrNilOperation is returned when appending a nil operation.
	ErrNilOperation = errors.New("operation is nil")
)

// Status is the acknowledgment state of a log entry.
type Status string

const (
	StatusPending      Status = "pending"
	StatusAcknowledged Status = "acknowledged"
)

// Entry is one appended operation with its log metadata. Seq orders entries
// within a single canvas only.
type Entry struct {
	Seq        uint64            `json:"seq"`
	CanvasID   string            `json:"canvasId"`
	Op         *models.Operation `json:"op"`
	AppendedAt int64             `json:"appendedAt"`
	Status     Status            `json:"status"`
	AckedAt    int64             `json:"ackedAt,omitempty"`
}

// Log is the operation log contract the engine depends on.
type Log interface {
	// Append durably records op for canvasID and notifies subscribers.
	Append(ctx context.Context, canvasID string, op *models.Operation) (*Entry, error)

	// Acknowledge marks a pending operation as confirmed.
	Acknowledge(ctx context.Context, canvasID, operationID string) error

	// Replay returns up to limit most recent entries for canvasID in
	// ascending sequence order.
	Replay(ctx context.Context, canvasID string, limit int) ([]*Entry, error)

	// Subscribe replays the most recent entries for canvasID and then
	// streams new appends until ctx is cancelled or the returned cancel
	// function is called.
	Subscribe(ctx context.Context, canvasID string) (<-chan *Entry, func(), error)

	// PendingOlderThan returns entries that have been pending longer
	// than age across all canvases.
	PendingOlderThan(ctx context.Context, age time.Duration) ([]*Entry, error)

	// Prune removes entries past the retention age and trims each canvas
	// to the maximum entry count. It returns the number removed.
	Prune(ctx context.Context) (int, error)

	// PendingCount returns the number of unacknowledged operations for
	// canvasID.
	PendingCount(canvasID string) (int, error)

	Close() error
}

// Key layout. Sequence numbers are zero-padded so lexicographic iteration
// matches numeric order.
const (
	prefixEntry   = "op:"
	prefixPending = "pending:"
	prefixSeq     = "seq:"
)

func entryKey(canvasID string, seq uint64) []byte {
	return []byte(fmt.Sprintf("%s%s:%020d", prefixEntry, canvasID, seq))
}

func entryPrefix(canvasID string) []byte {
	return []byte(prefixEntry + canvasID + ":")
}

func pendingKey(canvasID, operationID string) []byte {
	return []byte(prefixPending + canvasID + ":" + operationID)
}

func seqKey(canvasID string) []byte {
	return []byte(prefixSeq + canvasID)
}

// BadgerLog implements Log on BadgerDB. A single BadgerLog serves every
// canvas; per-canvas isolation comes from the key prefixes.
type BadgerLog struct {
	db  *badger.DB
	cfg config.OpLogConfig

	mu     sync.RWMutex
	closed bool

	subMu sync.Mutex
	subs  map[*subscriber]struct{}

	pubMu     sync.RWMutex
	publisher func(*Entry)
}

type subscriber struct {
	canvasID string
	live     chan *Entry
}

// Open creates or reopens the operation log at cfg.Path.
func Open(cfg config.OpLogConfig) (*BadgerLog, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("oplog path is required")
	}

	opts := badger.DefaultOptions(cfg.Path)
	opts.SyncWrites = cfg.SyncWrites
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open operation log: %w", err)
	}

	l := &BadgerLog{
		db:   db,
		cfg:  cfg,
		subs: make(map[*subscriber]struct{}),
	}

	logging.Info().
		Str("path", cfg.Path).
		Int("max_entries", cfg.MaxEntries).
		Dur("retention", cfg.Retention).
		Msg("operation log opened")
	return l, nil
}

// Append assigns the next per-canvas sequence number, persists the entry in
// pending state and fans it out to live subscribers.
func (l *BadgerLog) Append(ctx context.Context, canvasID string, op *models.Operation) (*Entry, error) {
	start := time.Now()
	defer func() {
		metrics.AppendLatency.Observe(time.Since(start).Seconds())
	}()

	if err := l.checkOpen(); err != nil {
		return nil, err
	}
	if op == nil {
		return nil, ErrNilOperation
	}
	if canvasID == "" {
		return nil, fmt.Errorf("canvas ID is required")
	}

	entry := &Entry{
		CanvasID:   canvasID,
		Op:         op.Clone(),
		AppendedAt: time.Now().UnixMilli(),
		Status:     StatusPending,
	}

	err := l.db.Update(func(txn *badger.Txn) error {
		seq, err := nextSeq(txn, canvasID)
		if err != nil {
			return err
		}
		entry.Seq = seq
		entry.Op.SequenceNumber = seq

		data, err := json.Marshal(entry)
		if err != nil {
			return fmt.Errorf("marshal entry: %w", err)
		}
		if err := txn.Set(entryKey(canvasID, seq), data); err != nil {
			return fmt.Errorf("set entry: %w", err)
		}

		var seqBuf [8]byte
		binary.BigEndian.PutUint64(seqBuf[:], seq)
		if err := txn.Set(pendingKey(canvasID, op.OperationID), seqBuf[:]); err != nil {
			return fmt.Errorf("set pending index: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("append operation: %w", err)
	}

	metrics.OperationsAppended.WithLabelValues(string(op.Type)).Inc()
	metrics.OperationsPending.Inc()

	l.notify(entry)

	l.pubMu.RLock()
	publish := l.publisher
	l.pubMu.RUnlock()
	if publish != nil {
		publish(entry)
	}
	return entry, nil
}

// SetPublisher installs a hook invoked after every successful append,
// typically to mirror the entry onto the NATS feed. Publish failures must
// not propagate; the local log is the source of truth.
func (l *BadgerLog) SetPublisher(fn func(*Entry)) {
	l.pubMu.Lock()
	l.publisher = fn
	l.pubMu.Unlock()
}

// nextSeq reads and increments the per-canvas counter inside txn.
func nextSeq(txn *badger.Txn, canvasID string) (uint64, error) {
	var seq uint64
	item, err := txn.Get(seqKey(canvasID))
	switch {
	case errors.Is(err, badger.ErrKeyNotFound):
		seq = 1
	case err != nil:
		return 0, fmt.Errorf("get sequence counter: %w", err)
	default:
		if err := item.Value(func(val []byte) error {
			if len(val) != 8 {
				return fmt.Errorf("corrupt sequence counter")
			}
			seq = binary.BigEndian.Uint64(val) + 1
			return nil
		}); err != nil {
			return 0, err
		}
	}

	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], seq)
	if err := txn.Set(seqKey(canvasID), buf[:]); err != nil {
		return 0, fmt.Errorf("set sequence counter: %w", err)
	}
	return seq, nil
}

// Acknowledge moves a pending entry to acknowledged. Acknowledging an
// unknown or already-acknowledged operation returns ErrEntryNotFound.
func (l *BadgerLog) Acknowledge(ctx context.Context, canvasID, operationID string) error {
	if err := l.checkOpen(); err != nil {
		return err
	}
	if operationID == "" {
		return fmt.Errorf("operation ID is required")
	}

	pKey := pendingKey(canvasID, operationID)

	err := l.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(pKey)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrEntryNotFound
		}
		if err != nil {
			return fmt.Errorf("get pending index: %w", err)
		}

		var seq uint64
		if err := item.Value(func(val []byte) error {
			if len(val) != 8 {
				return fmt.Errorf("corrupt pending index")
			}
			seq = binary.BigEndian.Uint64(val)
			return nil
		}); err != nil {
			return err
		}

		eKey := entryKey(canvasID, seq)
		eItem, err := txn.Get(eKey)
		if errors.Is(err, badger.ErrKeyNotFound) {
			// Entry was pruned out from under its pending index.
			return txn.Delete(pKey)
		}
		if err != nil {
			return fmt.Errorf("get entry: %w", err)
		}

		var entry Entry
		if err := eItem.Value(func(val []byte) error {
			return json.Unmarshal(val, &entry)
		}); err != nil {
			return fmt.Errorf("unmarshal entry: %w", err)
		}

		entry.Status = StatusAcknowledged
		entry.AckedAt = time.Now().UnixMilli()

		data, err := json.Marshal(&entry)
		if err != nil {
			return fmt.Errorf("marshal entry: %w", err)
		}
		if err := txn.Set(eKey, data); err != nil {
			return fmt.Errorf("set entry: %w", err)
		}
		return txn.Delete(pKey)
	})
	if err != nil {
		return err
	}

	metrics.OperationsAcknowledged.Inc()
	metrics.OperationsPending.Dec()
	return nil
}

// Replay returns the most recent limit entries for canvasID, oldest first.
// A limit of zero or less falls back to the configured replay size.
func (l *BadgerLog) Replay(ctx context.Context, canvasID string, limit int) ([]*Entry, error) {
	if err := l.checkOpen(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = l.cfg.SubscribeReplay
	}

	var entries []*Entry
	prefix := entryPrefix(canvasID)

	err := l.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = true
		opts.Reverse = true
		it := txn.NewIterator(opts)
		defer it.Close()

		// Seek just past the prefix so reverse iteration starts at the
		// newest entry.
		seekTo := append(append([]byte{}, prefix...), 0xff)
		for it.Seek(seekTo); it.ValidForPrefix(prefix) && len(entries) < limit; it.Next() {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}

			var entry Entry
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &entry)
			}); err != nil {
				logging.Warn().Err(err).Str("key", string(it.Item().Key())).Msg("skipping unreadable log entry")
				continue
			}
			entries = append(entries, &entry)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("replay operations: %w", err)
	}

	// Reverse iteration collected newest first.
	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}
	return entries, nil
}

// Subscribe replays the most recent entries and then streams live appends.
// Entries appended while the replay is in flight are delivered exactly once:
// the live feed drops anything at or below the last replayed sequence.
func (l *BadgerLog) Subscribe(ctx context.Context, canvasID string) (<-chan *Entry, func(), error) {
	if err := l.checkOpen(); err != nil {
		return nil, nil, err
	}

	sub := &subscriber{
		canvasID: canvasID,
		live:     make(chan *Entry, 256),
	}

	// Register before the replay snapshot so no append falls in the gap.
	l.subMu.Lock()
	l.subs[sub] = struct{}{}
	l.subMu.Unlock()

	replay, err := l.Replay(ctx, canvasID, l.cfg.SubscribeReplay)
	if err != nil {
		l.unsubscribe(sub)
		return nil, nil, err
	}

	out := make(chan *Entry, 256)
	done := make(chan struct{})
	var once sync.Once
	cancel := func() {
		once.Do(func() {
			l.unsubscribe(sub)
			close(done)
		})
	}

	go func() {
		defer close(out)
		var lastSeq uint64

		for _, e := range replay {
			select {
			case out <- e:
				lastSeq = e.Seq
			case <-ctx.Done():
				cancel()
				return
			case <-done:
				return
			}
		}

		for {
			select {
			case e, ok := <-sub.live:
				if !ok {
					return
				}
				if e.Seq <= lastSeq {
					continue
				}
				select {
				case out <- e:
					lastSeq = e.Seq
				case <-ctx.Done():
					cancel()
					return
				case <-done:
					return
				}
			case <-ctx.Done():
				cancel()
				return
			case <-done:
				return
			}
		}
	}()

	return out, cancel, nil
}

func (l *BadgerLog) unsubscribe(sub *subscriber) {
	l.subMu.Lock()
	defer l.subMu.Unlock()
	if _, ok := l.subs[sub]; ok {
		delete(l.subs, sub)
		close(sub.live)
	}
}

// notify fans an entry out to matching subscribers. A slow subscriber whose
// buffer is full loses the entry; replay on reconnect recovers it.
func (l *BadgerLog) notify(entry *Entry) {
	l.subMu.Lock()
	defer l.subMu.Unlock()

	for sub := range l.subs {
		if sub.canvasID != entry.CanvasID {
			continue
		}
		select {
		case sub.live <- entry:
		default:
			logging.Warn().
				Str("canvas_id", entry.CanvasID).
				Uint64("seq", entry.Seq).
				Msg("subscriber buffer full, dropping log entry")
		}
	}
}

// PendingOlderThan returns entries pending longer than age, across every
// canvas, oldest first within a canvas.
func (l *BadgerLog) PendingOlderThan(ctx context.Context, age time.Duration) ([]*Entry, error) {
	if err := l.checkOpen(); err != nil {
		return nil, err
	}

	cutoff := time.Now().Add(-age).UnixMilli()
	var stale []*Entry

	err := l.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = true
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(prefixPending)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}

			key := string(it.Item().Key())
			rest := strings.TrimPrefix(key, prefixPending)
			idx := strings.IndexByte(rest, ':')
			if idx < 0 {
				continue
			}
			canvasID := rest[:idx]

			var seq uint64
			if err := it.Item().Value(func(val []byte) error {
				if len(val) != 8 {
					return fmt.Errorf("corrupt pending index")
				}
				seq = binary.BigEndian.Uint64(val)
				return nil
			}); err != nil {
				logging.Warn().Err(err).Str("key", key).Msg("skipping unreadable pending index")
				continue
			}

			eItem, err := txn.Get(entryKey(canvasID, seq))
			if errors.Is(err, badger.ErrKeyNotFound) {
				continue
			}
			if err != nil {
				return fmt.Errorf("get entry: %w", err)
			}

			var entry Entry
			if err := eItem.Value(func(val []byte) error {
				return json.Unmarshal(val, &entry)
			}); err != nil {
				continue
			}
			if entry.AppendedAt <= cutoff {
				stale = append(stale, &entry)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan pending entries: %w", err)
	}
	return stale, nil
}

// Prune applies the retention rules: entries older than the retention age
// go first, then each canvas is trimmed oldest-first to MaxEntries.
func (l *BadgerLog) Prune(ctx context.Context) (int, error) {
	if err := l.checkOpen(); err != nil {
		return 0, err
	}

	canvases, err := l.canvasIDs()
	if err != nil {
		return 0, err
	}

	cutoff := time.Now().Add(-l.cfg.Retention).UnixMilli()
	removed := 0

	for _, canvasID := range canvases {
		select {
		case <-ctx.Done():
			return removed, ctx.Err()
		default:
		}

		n, err := l.pruneCanvas(canvasID, cutoff)
		if err != nil {
			return removed, err
		}
		removed += n
	}

	if removed > 0 {
		logging.Debug().Int("removed", removed).Msg("operation log pruned")
	}
	return removed, nil
}

func (l *BadgerLog) canvasIDs() ([]string, error) {
	var ids []string
	err := l.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(prefixSeq)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			ids = append(ids, strings.TrimPrefix(string(it.Item().Key()), prefixSeq))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list canvases: %w", err)
	}
	return ids, nil
}

// pruneCanvas removes a single canvas's expired and excess entries in one
// transaction.
func (l *BadgerLog) pruneCanvas(canvasID string, cutoff int64) (int, error) {
	type victim struct {
		key    []byte
		entry  Entry
		reason string
	}
	var victims []victim

	prefix := entryPrefix(canvasID)

	err := l.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = true
		it := txn.NewIterator(opts)
		defer it.Close()

		var kept []victim
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var entry Entry
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &entry)
			}); err != nil {
				continue
			}
			key := it.Item().KeyCopy(nil)
			if entry.AppendedAt <= cutoff {
				victims = append(victims, victim{key: key, entry: entry, reason: "age"})
			} else {
				kept = append(kept, victim{key: key, entry: entry})
			}
		}

		if excess := len(kept) - l.cfg.MaxEntries; excess > 0 {
			for _, v := range kept[:excess] {
				v.reason = "count"
				victims = append(victims, v)
			}
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("scan canvas %s: %w", canvasID, err)
	}
	if len(victims) == 0 {
		return 0, nil
	}

	wb := l.db.NewWriteBatch()
	defer wb.Cancel()

	for _, v := range victims {
		if err := wb.Delete(v.key); err != nil {
			return 0, fmt.Errorf("delete entry: %w", err)
		}
		if v.entry.Status == StatusPending && v.entry.Op != nil {
			if err := wb.Delete(pendingKey(canvasID, v.entry.Op.OperationID)); err != nil {
				return 0, fmt.Errorf("delete pending index: %w", err)
			}
		}
	}
	if err := wb.Flush(); err != nil {
		return 0, fmt.Errorf("flush prune batch: %w", err)
	}

	for _, v := range victims {
		metrics.OperationsPruned.WithLabelValues(v.reason).Inc()
		if v.entry.Status == StatusPending {
			metrics.OperationsPending.Dec()
		}
	}
	return len(victims), nil
}

// PendingCount returns the number of pending entries for canvasID.
func (l *BadgerLog) PendingCount(canvasID string) (int, error) {
	if err := l.checkOpen(); err != nil {
		return 0, err
	}

	count := 0
	err := l.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(prefixPending + canvasID + ":")
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			count++
		}
		return nil
	})
	return count, err
}

// Close tears down subscribers and closes the database.
func (l *BadgerLog) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	l.mu.Unlock()

	l.subMu.Lock()
	for sub := range l.subs {
		delete(l.subs, sub)
		close(sub.live)
	}
	l.subMu.Unlock()

	return l.db.Close()
}

func (l *BadgerLog) checkOpen() error {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		return ErrLogClosed
	}
	return nil
}
