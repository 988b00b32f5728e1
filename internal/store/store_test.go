// Technocanvas - Collaborative Canvas Synchronization Core
// Copyright 2026 Arial Gardner (arialgardner)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/arialgardner/techno-canvas-sub001

package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/arialgardner/techno-canvas-sub001/internal/config"
	"github.com/arialgardner/techno-canvas-sub001/internal/models"
)

func testShape(id string) *models.Shape {
	return &models.Shape{
		ID:           id,
		Type:         models.ShapeRectangle,
		X:            100,
		Y:            100,
		Width:        50,
		Height:       50,
		Fill:         "#000000",
		LastModified: time.Now().UnixMilli(),
	}
}

func TestArenaPutGetDelete(t *testing.T) {
	a := NewArena()

	a.Put("c1", testShape("s1"))

	got, ok := a.Get("c1", "s1")
	if !ok {
		t.Fatal("shape should exist")
	}
	if got.X != 100 {
		t.Errorf("x = %v, want 100", got.X)
	}

	// The arena hands out copies, not aliases.
	got.X = 999
	again, _ := a.Get("c1", "s1")
	if again.X != 100 {
		t.Errorf("stored shape mutated through returned copy: x = %v", again.X)
	}

	if !a.Delete("c1", "s1") {
		t.Error("delete should report true for existing shape")
	}
	if a.Delete("c1", "s1") {
		t.Error("second delete should report false")
	}
	if _, ok := a.Get("c1", "s1"); ok {
		t.Error("deleted shape still present")
	}
}

func TestArenaApplyDelta(t *testing.T) {
	a := NewArena()
	a.Put("c1", testShape("s1"))

	next, err := a.ApplyDelta("c1", "s1", &models.Delta{X: models.Float64(250)})
	if err != nil {
		t.Fatalf("apply delta: %v", err)
	}
	if next.X != 250 {
		t.Errorf("x = %v, want 250", next.X)
	}
	if next.Y != 100 {
		t.Errorf("y = %v, want untouched 100", next.Y)
	}

	stored, _ := a.Get("c1", "s1")
	if stored.X != 250 {
		t.Errorf("stored x = %v, want 250", stored.X)
	}

	_, err = a.ApplyDelta("c1", "missing", &models.Delta{X: models.Float64(1)})
	if !errors.Is(err, ErrShapeNotFound) {
		t.Errorf("err = %v, want ErrShapeNotFound", err)
	}
}

func TestArenaCanvasIsolation(t *testing.T) {
	a := NewArena()
	a.Put("c1", testShape("s1"))
	a.Put("c2", testShape("s1"))

	a.Delete("c1", "s1")
	if _, ok := a.Get("c2", "s1"); !ok {
		t.Error("deleting on one canvas must not affect another")
	}
	if a.Count("c1") != 0 || a.Count("c2") != 1 {
		t.Errorf("counts = %d/%d, want 0/1", a.Count("c1"), a.Count("c2"))
	}
}

func TestArenaSnapshotIsCopy(t *testing.T) {
	a := NewArena()
	a.Put("c1", testShape("s1"))

	snap := a.Snapshot("c1")
	snap["s1"].X = 999
	delete(snap, "s1")

	got, ok := a.Get("c1", "s1")
	if !ok || got.X != 100 {
		t.Error("snapshot mutation leaked into arena")
	}
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := OpenStore(config.StoreConfig{Path: t.TempDir()})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() {
		if err := s.Close(); err != nil {
			t.Errorf("close store: %v", err)
		}
	})
	return s
}

func TestStoreSaveFetch(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.SaveShape(ctx, "c1", testShape("s1")); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := s.SaveShape(ctx, "c1", testShape("s2")); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := s.SaveShape(ctx, "c2", testShape("other")); err != nil {
		t.Fatalf("save: %v", err)
	}

	shapes, err := s.FetchAll(ctx, "c1")
	if err != nil {
		t.Fatalf("fetch all: %v", err)
	}
	if len(shapes) != 2 {
		t.Fatalf("got %d shapes, want 2", len(shapes))
	}

	got, err := s.GetShape(ctx, "c1", "s1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.X != 100 {
		t.Errorf("x = %v, want 100", got.X)
	}
}

func TestStoreGetMissing(t *testing.T) {
	s := newTestStore(t)

	_, err := s.GetShape(context.Background(), "c1", "missing")
	if !errors.Is(err, ErrShapeNotFound) {
		t.Errorf("err = %v, want ErrShapeNotFound", err)
	}
}

func TestStoreDelete(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.SaveShape(ctx, "c1", testShape("s1")); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := s.DeleteShape(ctx, "c1", "s1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := s.GetShape(ctx, "c1", "s1"); !errors.Is(err, ErrShapeNotFound) {
		t.Errorf("err = %v, want ErrShapeNotFound", err)
	}

	// Deleting again is a no-op.
	if err := s.DeleteShape(ctx, "c1", "s1"); err != nil {
		t.Errorf("second delete: %v", err)
	}
}

func TestStoreClosed(t *testing.T) {
	s, err := OpenStore(config.StoreConfig{Path: t.TempDir()})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	ctx := context.Background()
	if err := s.SaveShape(ctx, "c1", testShape("s1")); !errors.Is(err, ErrStoreClosed) {
		t.Errorf("save err = %v, want ErrStoreClosed", err)
	}
	if _, err := s.FetchAll(ctx, "c1"); !errors.Is(err, ErrStoreClosed) {
		t.Errorf("fetch err = %v, want ErrStoreClosed", err)
	}
}

func TestLeaseAcquireRelease(t *testing.T) {
	lt := NewLeaseTable(30 * time.Second)

	if !lt.Acquire("c1", "s1", "alice") {
		t.Fatal("first acquire should succeed")
	}
	if lt.Acquire("c1", "s1", "bob") {
		t.Error("competing acquire should fail while lease is live")
	}
	// The holder can refresh.
	if !lt.Acquire("c1", "s1", "alice") {
		t.Error("holder refresh should succeed")
	}

	holder, _, held := lt.Holder("c1", "s1")
	if !held || holder != "alice" {
		t.Errorf("holder = %q/%v, want alice/true", holder, held)
	}

	if lt.Release("c1", "s1", "bob") {
		t.Error("non-holder release should fail")
	}
	if !lt.Release("c1", "s1", "alice") {
		t.Error("holder release should succeed")
	}
	if !lt.Acquire("c1", "s1", "bob") {
		t.Error("acquire after release should succeed")
	}
}

func TestLeaseExpiry(t *testing.T) {
	lt := NewLeaseTable(30 * time.Second)
	current := time.Now()
	lt.now = func() time.Time { return current }

	if !lt.Acquire("c1", "s1", "alice") {
		t.Fatal("acquire failed")
	}

	current = current.Add(31 * time.Second)

	if _, _, held := lt.Holder("c1", "s1"); held {
		t.Error("expired lease still reported as held")
	}
	if !lt.Acquire("c1", "s1", "bob") {
		t.Error("acquire over expired lease should succeed")
	}

	current = current.Add(31 * time.Second)
	if n := lt.Expire(); n != 1 {
		t.Errorf("expired %d leases, want 1", n)
	}
}

func TestLeaseIndependentShapes(t *testing.T) {
	lt := NewLeaseTable(30 * time.Second)

	if !lt.Acquire("c1", "s1", "alice") {
		t.Fatal("acquire failed")
	}
	if !lt.Acquire("c1", "s2", "bob") {
		t.Error("lease on a different shape should be independent")
	}
	if !lt.Acquire("c2", "s1", "bob") {
		t.Error("lease on a different canvas should be independent")
	}
}
