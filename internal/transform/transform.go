// Technocanvas - Collaborative Canvas Synchronization Core
// Copyright 2026 Arial Gardner (arialgardner)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/arialgardner/techno-canvas-sub001

// Package transform is the operational-transform engine. Given a candidate
// operation and a concurrent conflicting operation that has already been
// accepted, it produces a modified candidate that preserves both users'
// intent where the field categories allow it, or discards the candidate
// when type priority demands it.
package transform

import (
	"math"

	"github.com/arialgardner/techno-canvas-sub001/internal/logging"
	"github.com/arialgardner/techno-canvas-sub001/internal/metrics"
	"github.com/arialgardner/techno-canvas-sub001/internal/models"
)

// Transform rewrites candidate a against accepted concurrent operation b.
// It returns nil when a must be discarded. The input operations are never
// mutated; a returned operation is always a fresh clone.
//
// Rules, in priority order: delete beats update (the update is discarded),
// a create survives a concurrent delete (losing brand-new content silently
// is worse than resurrecting it), a delete candidate always passes through
// untouched, and two updates merge per field category.
func Transform(a, b *models.Operation) *models.Operation {
	if a == nil {
		return nil
	}
	if b == nil {
		metrics.TransformOutcomes.WithLabelValues("passthrough").Inc()
		return a.Clone()
	}

	// A delete candidate survives transformation unchanged.
	if a.Type == models.OpDelete {
		metrics.TransformOutcomes.WithLabelValues("kept").Inc()
		return a.Clone()
	}

	if b.Type.Priority() > a.Type.Priority() {
		if b.Type == models.OpDelete && a.Type == models.OpUpdate {
			metrics.TransformOutcomes.WithLabelValues("discarded").Inc()
			logging.Debug().
				Str("op", a.OperationID).
				Str("against", b.OperationID).
				Msg("update discarded against concurrent delete")
			return nil
		}
		// Delete vs create is a race: keep the create. Update vs create
		// likewise passes through.
		metrics.TransformOutcomes.WithLabelValues("kept").Inc()
		return a.Clone()
	}

	if a.Type == models.OpUpdate && b.Type == models.OpUpdate {
		merged := mergeUpdates(a, b)
		metrics.TransformOutcomes.WithLabelValues("merged").Inc()
		return merged
	}

	metrics.TransformOutcomes.WithLabelValues("passthrough").Inc()
	return a.Clone()
}

// mergeUpdates merges two concurrent updates field by field. The earlier
// operation's base state serves as the common baseline; the tie-break picks
// a deterministic merge order but never discards either side.
func mergeUpdates(a, b *models.Operation) *models.Operation {
	first, second := a, b
	if second.Timestamp < first.Timestamp ||
		(second.Timestamp == first.Timestamp && second.OperationID < first.OperationID) {
		first, second = second, first
	}

	baseline := first.BaseState
	if baseline == nil {
		baseline = second.BaseState
	}

	out := a.Clone()
	merged := &models.Delta{}

	keys := unionKeys(a.Delta, b.Delta)
	for _, key := range keys {
		inA := a.Delta.Has(key)
		inB := b.Delta.Has(key)

		switch {
		case inA && !inB:
			copyField(merged, a.Delta, key)
		case inB && !inA:
			copyField(merged, b.Delta, key)
		default:
			mergeField(merged, key, a, b, baseline)
		}
	}

	out.Delta = merged
	return out
}

func mergeField(dst *models.Delta, key string, a, b *models.Operation, baseline *models.Shape) {
	later := a
	if b.Timestamp > a.Timestamp ||
		(b.Timestamp == a.Timestamp && b.OperationID > a.OperationID) {
		later = b
	}

	switch models.CategoryOf(key) {
	case models.CategoryPosition:
		if v, ok := mergeAdditive(key, a, b, baseline); ok {
			setFloat(dst, key, v)
			return
		}
	case models.CategorySize:
		if v, ok := mergeMultiplicative(key, a, b, baseline); ok {
			setFloat(dst, key, v)
			return
		}
	case models.CategoryRotation:
		if v, ok := mergeAdditive(key, a, b, baseline); ok {
			setFloat(dst, key, wrapDegrees(v))
			return
		}
	}

	// Style, text, geometry and order fields are non-mergeable, and any
	// mergeable field without usable base states degrades to the same rule:
	// last write wins by timestamp.
	copyField(dst, later.Delta, key)
}

// mergeAdditive recovers each side's own offset from its base state and
// applies both offsets to the common baseline.
func mergeAdditive(key string, a, b *models.Operation, baseline *models.Shape) (float64, bool) {
	base, ok := shapeFloat(baseline, key)
	if !ok {
		return 0, false
	}
	offA, okA := offset(key, a)
	offB, okB := offset(key, b)
	if !okA || !okB {
		return 0, false
	}
	return base + offA + offB, true
}

// mergeMultiplicative combines both scale ratios onto the baseline value.
func mergeMultiplicative(key string, a, b *models.Operation, baseline *models.Shape) (float64, bool) {
	base, ok := shapeFloat(baseline, key)
	if !ok || base == 0 {
		return 0, false
	}
	ratioA, okA := ratio(key, a)
	ratioB, okB := ratio(key, b)
	if !okA || !okB {
		return 0, false
	}
	return base * ratioA * ratioB, true
}

func offset(key string, op *models.Operation) (float64, bool) {
	val, ok := deltaFloat(op.Delta, key)
	if !ok {
		return 0, false
	}
	base, ok := shapeFloat(op.BaseState, key)
	if !ok {
		return 0, false
	}
	return val - base, true
}

func ratio(key string, op *models.Operation) (float64, bool) {
	val, ok := deltaFloat(op.Delta, key)
	if !ok {
		return 0, false
	}
	base, ok := shapeFloat(op.BaseState, key)
	if !ok || base == 0 {
		return 0, false
	}
	return val / base, true
}

func wrapDegrees(v float64) float64 {
	v = math.Mod(v, 360)
	if v < 0 {
		v += 360
	}
	return v
}

func unionKeys(a, b *models.Delta) []string {
	keys := a.Keys()
	seen := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		seen[k] = struct{}{}
	}
	for _, k := range b.Keys() {
		if _, ok := seen[k]; !ok {
			keys = append(keys, k)
		}
	}
	return keys
}

func shapeFloat(s *models.Shape, key string) (float64, bool) {
	if s == nil {
		return 0, false
	}
	switch key {
	case models.FieldX:
		return s.X, true
	case models.FieldY:
		return s.Y, true
	case models.FieldWidth:
		return s.Width, true
	case models.FieldHeight:
		return s.Height, true
	case models.FieldRadius:
		return s.Radius, true
	case models.FieldRotation:
		return s.Rotation, true
	default:
		return 0, false
	}
}

func deltaFloat(d *models.Delta, key string) (float64, bool) {
	if d == nil {
		return 0, false
	}
	var p *float64
	switch key {
	case models.FieldX:
		p = d.X
	case models.FieldY:
		p = d.Y
	case models.FieldWidth:
		p = d.Width
	case models.FieldHeight:
		p = d.Height
	case models.FieldRadius:
		p = d.Radius
	case models.FieldRotation:
		p = d.Rotation
	}
	if p == nil {
		return 0, false
	}
	return *p, true
}

func setFloat(d *models.Delta, key string, v float64) {
	switch key {
	case models.FieldX:
		d.X = &v
	case models.FieldY:
		d.Y = &v
	case models.FieldWidth:
		d.Width = &v
	case models.FieldHeight:
		d.Height = &v
	case models.FieldRadius:
		d.Radius = &v
	case models.FieldRotation:
		d.Rotation = &v
	}
}

// copyField copies one field from src into dst.
func copyField(dst, src *models.Delta, key string) {
	if src == nil {
		return
	}
	switch key {
	case models.FieldX:
		dst.X = cloneFloat(src.X)
	case models.FieldY:
		dst.Y = cloneFloat(src.Y)
	case models.FieldWidth:
		dst.Width = cloneFloat(src.Width)
	case models.FieldHeight:
		dst.Height = cloneFloat(src.Height)
	case models.FieldRadius:
		dst.Radius = cloneFloat(src.Radius)
	case models.FieldRotation:
		dst.Rotation = cloneFloat(src.Rotation)
	case models.FieldFill:
		dst.Fill = cloneString(src.Fill)
	case models.FieldStroke:
		dst.Stroke = cloneString(src.Stroke)
	case models.FieldStrokeWidth:
		dst.StrokeWidth = cloneFloat(src.StrokeWidth)
	case models.FieldOpacity:
		dst.Opacity = cloneFloat(src.Opacity)
	case models.FieldText:
		dst.Text = cloneString(src.Text)
	case models.FieldFontSize:
		dst.FontSize = cloneFloat(src.FontSize)
	case models.FieldFontFamily:
		dst.FontFamily = cloneString(src.FontFamily)
	case models.FieldPoints:
		if src.Points != nil {
			dst.Points = make([]models.Point, len(src.Points))
			copy(dst.Points, src.Points)
		}
	case models.FieldZIndex:
		if src.ZIndex != nil {
			v := *src.ZIndex
			dst.ZIndex = &v
		}
	}
}

func cloneFloat(p *float64) *float64 {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func cloneString(p *string) *string {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
