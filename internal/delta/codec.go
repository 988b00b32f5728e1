// Technocanvas - Collaborative Canvas Synchronization Core
// Copyright 2026 Arial Gardner (arialgardner)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/arialgardner/techno-canvas-sub001

// Package delta implements the field-level diff codec: computing minimal
// deltas between shape states, applying them, and inverting them for
// rollback.
//
// Inversion is single-level only: Invert(d, base) undoes d relative to base,
// but cannot unwind a chain of deltas applied since base was captured. The
// prediction manager relies on exactly this property and nothing more.
package delta

import (
	"github.com/goccy/go-json"

	"github.com/arialgardner/techno-canvas-sub001/internal/models"
)

// Compute returns the minimal delta transforming old into new: only fields
// whose value differs are present. Point paths use element-wise equality.
// Bookkeeping fields (timestamps, lock, creator) are not part of deltas.
func Compute(old, new *models.Shape) *models.Delta {
	d := &models.Delta{}
	if old == nil || new == nil {
		return d
	}

	if old.X != new.X {
		d.X = models.Float64(new.X)
	}
	if old.Y != new.Y {
		d.Y = models.Float64(new.Y)
	}
	if old.Width != new.Width {
		d.Width = models.Float64(new.Width)
	}
	if old.Height != new.Height {
		d.Height = models.Float64(new.Height)
	}
	if old.Radius != new.Radius {
		d.Radius = models.Float64(new.Radius)
	}
	if old.Rotation != new.Rotation {
		d.Rotation = models.Float64(new.Rotation)
	}
	if old.Fill != new.Fill {
		d.Fill = models.String(new.Fill)
	}
	if old.Stroke != new.Stroke {
		d.Stroke = models.String(new.Stroke)
	}
	if old.StrokeWidth != new.StrokeWidth {
		d.StrokeWidth = models.Float64(new.StrokeWidth)
	}
	if old.Opacity != new.Opacity {
		d.Opacity = models.Float64(new.Opacity)
	}
	if old.Text != new.Text {
		d.Text = models.String(new.Text)
	}
	if old.FontSize != new.FontSize {
		d.FontSize = models.Float64(new.FontSize)
	}
	if old.FontFamily != new.FontFamily {
		d.FontFamily = models.String(new.FontFamily)
	}
	if !models.PointsEqual(old.Points, new.Points) {
		d.Points = make([]models.Point, len(new.Points))
		copy(d.Points, new.Points)
	}
	if old.ZIndex != new.ZIndex {
		d.ZIndex = models.Int(new.ZIndex)
	}
	return d
}

// Apply shallow-merges the delta onto state, returning a new shape. The
// input state is not mutated.
func Apply(state *models.Shape, d *models.Delta) *models.Shape {
	out := state.Clone()
	if out == nil || d == nil {
		return out
	}

	if d.X != nil {
		out.X = *d.X
	}
	if d.Y != nil {
		out.Y = *d.Y
	}
	if d.Width != nil {
		out.Width = *d.Width
	}
	if d.Height != nil {
		out.Height = *d.Height
	}
	if d.Radius != nil {
		out.Radius = *d.Radius
	}
	if d.Rotation != nil {
		out.Rotation = *d.Rotation
	}
	if d.Fill != nil {
		out.Fill = *d.Fill
	}
	if d.Stroke != nil {
		out.Stroke = *d.Stroke
	}
	if d.StrokeWidth != nil {
		out.StrokeWidth = *d.StrokeWidth
	}
	if d.Opacity != nil {
		out.Opacity = *d.Opacity
	}
	if d.Text != nil {
		out.Text = *d.Text
	}
	if d.FontSize != nil {
		out.FontSize = *d.FontSize
	}
	if d.FontFamily != nil {
		out.FontFamily = *d.FontFamily
	}
	if d.Points != nil {
		out.Points = make([]models.Point, len(d.Points))
		copy(out.Points, d.Points)
	}
	if d.ZIndex != nil {
		out.ZIndex = *d.ZIndex
	}
	return out
}

// Invert builds the delta that undoes d relative to base: for every field
// present in d, the corresponding value from base. Applying the result after
// d restores base for those fields.
func Invert(d *models.Delta, base *models.Shape) *models.Delta {
	inv := &models.Delta{}
	if d == nil || base == nil {
		return inv
	}

	if d.X != nil {
		inv.X = models.Float64(base.X)
	}
	if d.Y != nil {
		inv.Y = models.Float64(base.Y)
	}
	if d.Width != nil {
		inv.Width = models.Float64(base.Width)
	}
	if d.Height != nil {
		inv.Height = models.Float64(base.Height)
	}
	if d.Radius != nil {
		inv.Radius = models.Float64(base.Radius)
	}
	if d.Rotation != nil {
		inv.Rotation = models.Float64(base.Rotation)
	}
	if d.Fill != nil {
		inv.Fill = models.String(base.Fill)
	}
	if d.Stroke != nil {
		inv.Stroke = models.String(base.Stroke)
	}
	if d.StrokeWidth != nil {
		inv.StrokeWidth = models.Float64(base.StrokeWidth)
	}
	if d.Opacity != nil {
		inv.Opacity = models.Float64(base.Opacity)
	}
	if d.Text != nil {
		inv.Text = models.String(base.Text)
	}
	if d.FontSize != nil {
		inv.FontSize = models.Float64(base.FontSize)
	}
	if d.FontFamily != nil {
		inv.FontFamily = models.String(base.FontFamily)
	}
	if d.Points != nil {
		inv.Points = make([]models.Point, len(base.Points))
		copy(inv.Points, base.Points)
	}
	if d.ZIndex != nil {
		inv.ZIndex = models.Int(base.ZIndex)
	}
	return inv
}

// Savings reports the serialized byte sizes of transmitting the full shape
// versus the delta. Callers use it to decide whether to snapshot or
// delta-encode; a delta larger than the snapshot is not worth sending.
type Savings struct {
	FullBytes  int     `json:"fullBytes"`
	DeltaBytes int     `json:"deltaBytes"`
	SavedBytes int     `json:"savedBytes"`
	Ratio      float64 `json:"ratio"`
}

// Measure computes the size savings of delta-encoding full as d.
func Measure(full *models.Shape, d *models.Delta) (Savings, error) {
	fullJSON, err := json.Marshal(full)
	if err != nil {
		return Savings{}, err
	}
	deltaJSON, err := json.Marshal(d)
	if err != nil {
		return Savings{}, err
	}

	s := Savings{
		FullBytes:  len(fullJSON),
		DeltaBytes: len(deltaJSON),
		SavedBytes: len(fullJSON) - len(deltaJSON),
	}
	if s.FullBytes > 0 {
		s.Ratio = float64(s.DeltaBytes) / float64(s.FullBytes)
	}
	return s, nil
}
