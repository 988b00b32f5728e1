// Technocanvas - Collaborative Canvas Synchronization Core
// Copyright 2026 Arial Gardner (arialgardner)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/arialgardner/techno-canvas-sub001

package store

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"

	"github.com/arialgardner/techno-canvas-sub001/internal/config"
	"github.com/arialgardner/techno-canvas-sub001/internal/logging"
	"github.com/arialgardner/techno-canvas-sub001/internal/models"
)

// ErrStoreClosed is returned by all Store operations after Close.
var ErrStoreClosed = errors.New("shape store is closed")

const shapePrefix = "shape:"

func shapeKey(canvasID, shapeID string) []byte {
	return []byte(shapePrefix + canvasID + ":" + shapeID)
}

// Store is the authoritative durable shape set. Acknowledged operations are
// folded into it, and the reconciler treats its contents as ground truth.
type Store struct {
	db *badger.DB

	mu     sync.RWMutex
	closed bool
}

// OpenStore opens or creates the shape store at cfg.Path.
func OpenStore(cfg config.StoreConfig) (*Store, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("store path is required")
	}

	opts := badger.DefaultOptions(cfg.Path)
	opts.SyncWrites = cfg.SyncWrites
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open shape store: %w", err)
	}

	logging.Info().Str("path", cfg.Path).Msg("shape store opened")
	return &Store{db: db}, nil
}

// SaveShape writes one shape.
func (s *Store) SaveShape(ctx context.Context, canvasID string, shape *models.Shape) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	if shape == nil || shape.ID == "" {
		return fmt.Errorf("shape with an ID is required")
	}

	data, err := json.Marshal(shape)
	if err != nil {
		return fmt.Errorf("marshal shape: %w", err)
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(shapeKey(canvasID, shape.ID), data)
	})
	if err != nil {
		return fmt.Errorf("save shape: %w", err)
	}
	return nil
}

// GetShape loads one shape. Missing shapes return ErrShapeNotFound.
func (s *Store) GetShape(ctx context.Context, canvasID, shapeID string) (*models.Shape, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	var shape models.Shape
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(shapeKey(canvasID, shapeID))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrShapeNotFound
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &shape)
		})
	})
	if err != nil {
		if errors.Is(err, ErrShapeNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("get shape: %w", err)
	}
	return &shape, nil
}

// DeleteShape removes one shape. Deleting a missing shape is a no-op.
func (s *Store) DeleteShape(ctx context.Context, canvasID, shapeID string) error {
	if err := s.checkOpen(); err != nil {
		return err
	}

	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(shapeKey(canvasID, shapeID))
	})
	if err != nil {
		return fmt.Errorf("delete shape: %w", err)
	}
	return nil
}

// FetchAll returns every shape on a canvas. This is the reconciler's
// authoritative fetch.
func (s *Store) FetchAll(ctx context.Context, canvasID string) ([]*models.Shape, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	var shapes []*models.Shape
	prefix := []byte(shapePrefix + canvasID + ":")

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = true
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}

			var shape models.Shape
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &shape)
			}); err != nil {
				logging.Warn().Err(err).Str("key", string(it.Item().Key())).Msg("skipping unreadable shape")
				continue
			}
			shapes = append(shapes, &shape)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("fetch shapes: %w", err)
	}
	return shapes, nil
}

// Close shuts the store down.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()
	return s.db.Close()
}

func (s *Store) checkOpen() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrStoreClosed
	}
	return nil
}
