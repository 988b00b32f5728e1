// Technocanvas - Collaborative Canvas Synchronization Core
// Copyright 2026 Arial Gardner (arialgardner)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/arialgardner/techno-canvas-sub001

package transform

import (
	"testing"

	"github.com/arialgardner/techno-canvas-sub001/internal/models"
)

func baseShape() *models.Shape {
	return &models.Shape{
		ID:       "s1",
		Type:     models.ShapeRectangle,
		X:        100,
		Y:        100,
		Width:    100,
		Height:   50,
		Rotation: 350,
		Fill:     "#000000",
	}
}

func update(id string, ts int64, delta *models.Delta, base *models.Shape) *models.Operation {
	return &models.Operation{
		OperationID: id,
		Type:        models.OpUpdate,
		ShapeID:     "s1",
		UserID:      "u-" + id,
		Timestamp:   ts,
		Delta:       delta,
		BaseState:   base,
	}
}

func TestDeleteCandidateSurvives(t *testing.T) {
	del := &models.Operation{OperationID: "d1", Type: models.OpDelete, ShapeID: "s1", Timestamp: 1000}
	upd := update("u1", 1100, &models.Delta{X: models.Float64(150)}, baseShape())

	got := Transform(del, upd)
	if got == nil {
		t.Fatal("delete candidate must survive")
	}
	if got.Type != models.OpDelete {
		t.Errorf("type = %q, want delete", got.Type)
	}
}

func TestUpdateDiscardedAgainstDelete(t *testing.T) {
	upd := update("u1", 1100, &models.Delta{X: models.Float64(150)}, baseShape())
	del := &models.Operation{OperationID: "d1", Type: models.OpDelete, ShapeID: "s1", Timestamp: 1000}

	if got := Transform(upd, del); got != nil {
		t.Errorf("update vs delete = %+v, want nil", got)
	}
}

func TestCreateKeptAgainstDelete(t *testing.T) {
	create := &models.Operation{
		OperationID: "c1",
		Type:        models.OpCreate,
		ShapeID:     "s1",
		Timestamp:   1000,
		Delta:       &models.Delta{X: models.Float64(10)},
	}
	del := &models.Operation{OperationID: "d1", Type: models.OpDelete, ShapeID: "s1", Timestamp: 1100}

	got := Transform(create, del)
	if got == nil {
		t.Fatal("create must be kept in a delete race")
	}
	if got.Type != models.OpCreate {
		t.Errorf("type = %q, want create", got.Type)
	}
}

func TestPositionMergeAdditive(t *testing.T) {
	base := baseShape()
	// A moves x 100 -> 200 (+100), B moves x 100 -> 150 (+50).
	a := update("a", 1000, &models.Delta{X: models.Float64(200)}, base.Clone())
	b := update("b", 1100, &models.Delta{X: models.Float64(150)}, base.Clone())

	got := Transform(a, b)
	if got == nil {
		t.Fatal("expected merged operation")
	}
	if got.Delta.X == nil || *got.Delta.X != 250 {
		t.Errorf("merged x = %v, want 250", got.Delta.X)
	}
}

func TestPositionMergeCommutative(t *testing.T) {
	base := baseShape()
	a := update("a", 1000, &models.Delta{X: models.Float64(200), Y: models.Float64(130)}, base.Clone())
	b := update("b", 1100, &models.Delta{X: models.Float64(150), Y: models.Float64(80)}, base.Clone())

	ab := Transform(a, b)
	ba := Transform(b, a)
	if ab == nil || ba == nil {
		t.Fatal("expected merged operations both ways")
	}
	if *ab.Delta.X != *ba.Delta.X {
		t.Errorf("x: transform(a,b) = %v, transform(b,a) = %v", *ab.Delta.X, *ba.Delta.X)
	}
	if *ab.Delta.Y != *ba.Delta.Y {
		t.Errorf("y: transform(a,b) = %v, transform(b,a) = %v", *ab.Delta.Y, *ba.Delta.Y)
	}
	if *ab.Delta.X != 250 {
		t.Errorf("merged x = %v, want 250", *ab.Delta.X)
	}
	if *ab.Delta.Y != 110 {
		t.Errorf("merged y = %v, want 110", *ab.Delta.Y)
	}
}

func TestSizeMergeMultiplicative(t *testing.T) {
	base := baseShape()
	// A scales width 100 -> 200 (x2), B scales width 100 -> 150 (x1.5).
	a := update("a", 1000, &models.Delta{Width: models.Float64(200)}, base.Clone())
	b := update("b", 1100, &models.Delta{Width: models.Float64(150)}, base.Clone())

	got := Transform(a, b)
	if got == nil {
		t.Fatal("expected merged operation")
	}
	if got.Delta.Width == nil || *got.Delta.Width != 300 {
		t.Errorf("merged width = %v, want 300", got.Delta.Width)
	}
}

func TestRotationMergeWraps(t *testing.T) {
	base := baseShape() // rotation 350
	// A rotates 350 -> 360=0 stored as 5 (+15), B rotates 350 -> 355 (+5).
	a := update("a", 1000, &models.Delta{Rotation: models.Float64(5)}, base.Clone())
	b := update("b", 1100, &models.Delta{Rotation: models.Float64(355)}, base.Clone())

	got := Transform(a, b)
	if got == nil {
		t.Fatal("expected merged operation")
	}
	// Offsets are 5-350=-345 and 355-350=+5; 350-345+5 = 10.
	if got.Delta.Rotation == nil || *got.Delta.Rotation != 10 {
		t.Errorf("merged rotation = %v, want 10", got.Delta.Rotation)
	}
}

func TestStyleLastWriteWins(t *testing.T) {
	base := baseShape()
	a := update("a", 1000, &models.Delta{Fill: models.String("#ff0000")}, base.Clone())
	b := update("b", 1100, &models.Delta{Fill: models.String("#00ff00")}, base.Clone())

	got := Transform(a, b)
	if got == nil {
		t.Fatal("expected merged operation")
	}
	if got.Delta.Fill == nil || *got.Delta.Fill != "#00ff00" {
		t.Errorf("merged fill = %v, want later writer #00ff00", got.Delta.Fill)
	}

	// Same either direction: the later timestamp wins.
	got = Transform(b, a)
	if got == nil || got.Delta.Fill == nil || *got.Delta.Fill != "#00ff00" {
		t.Error("later write must win regardless of transform direction")
	}
}

func TestNonOverlappingFieldsUnioned(t *testing.T) {
	base := baseShape()
	a := update("a", 1000, &models.Delta{X: models.Float64(200)}, base.Clone())
	b := update("b", 1100, &models.Delta{Fill: models.String("#00ff00")}, base.Clone())

	got := Transform(a, b)
	if got == nil {
		t.Fatal("expected merged operation")
	}
	if got.Delta.X == nil || *got.Delta.X != 200 {
		t.Errorf("x = %v, want 200 carried over", got.Delta.X)
	}
	if got.Delta.Fill == nil || *got.Delta.Fill != "#00ff00" {
		t.Errorf("fill = %v, want #00ff00 unioned in", got.Delta.Fill)
	}
}

func TestCompositeUpdateMergesPerCategory(t *testing.T) {
	base := baseShape()
	a := update("a", 1000, &models.Delta{
		X:    models.Float64(200),
		Fill: models.String("#ff0000"),
	}, base.Clone())
	b := update("b", 1100, &models.Delta{
		X:    models.Float64(150),
		Fill: models.String("#00ff00"),
	}, base.Clone())

	got := Transform(a, b)
	if got == nil {
		t.Fatal("expected merged operation")
	}
	if *got.Delta.X != 250 {
		t.Errorf("x = %v, want additive 250", *got.Delta.X)
	}
	if *got.Delta.Fill != "#00ff00" {
		t.Errorf("fill = %v, want last-write #00ff00", *got.Delta.Fill)
	}
}

func TestMissingBaseStateFallsBackToLastWrite(t *testing.T) {
	a := update("a", 1000, &models.Delta{X: models.Float64(200)}, nil)
	b := update("b", 1100, &models.Delta{X: models.Float64(150)}, nil)

	got := Transform(a, b)
	if got == nil {
		t.Fatal("expected merged operation")
	}
	if got.Delta.X == nil || *got.Delta.X != 150 {
		t.Errorf("x = %v, want later write 150", got.Delta.X)
	}
}

func TestTransformDoesNotMutateInputs(t *testing.T) {
	base := baseShape()
	a := update("a", 1000, &models.Delta{X: models.Float64(200)}, base.Clone())
	b := update("b", 1100, &models.Delta{X: models.Float64(150)}, base.Clone())

	_ = Transform(a, b)

	if *a.Delta.X != 200 {
		t.Errorf("a.Delta.X mutated to %v", *a.Delta.X)
	}
	if *b.Delta.X != 150 {
		t.Errorf("b.Delta.X mutated to %v", *b.Delta.X)
	}
}

func TestTransformNilAgainst(t *testing.T) {
	a := update("a", 1000, &models.Delta{X: models.Float64(200)}, baseShape())

	got := Transform(a, nil)
	if got == nil {
		t.Fatal("transform against nil must pass through")
	}
	if *got.Delta.X != 200 {
		t.Errorf("x = %v, want 200", *got.Delta.X)
	}
	if Transform(nil, a) != nil {
		t.Error("nil candidate must stay nil")
	}
}
