// Technocanvas - Collaborative Canvas Synchronization Core
// Copyright 2026 Arial Gardner (arialgardner)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/arialgardner/techno-canvas-sub001

package models

import (
	"github.com/goccy/go-json"
)

// Field keys appearing in deltas. These are the wire names, matching the
// Shape JSON tags.
const (
	FieldX           = "x"
	FieldY           = "y"
	FieldWidth       = "width"
	FieldHeight      = "height"
	FieldRadius      = "radius"
	FieldRotation    = "rotation"
	FieldFill        = "fill"
	FieldStroke      = "stroke"
	FieldStrokeWidth = "strokeWidth"
	FieldOpacity     = "opacity"
	FieldText        = "text"
	FieldFontSize    = "fontSize"
	FieldFontFamily  = "fontFamily"
	FieldPoints      = "points"
	FieldZIndex      = "zIndex"
)

// FieldCategory groups delta fields for operational-transform rule dispatch.
type FieldCategory int

const (
	// CategoryPosition fields merge additively (both movements preserved).
	CategoryPosition FieldCategory = iota
	// CategorySize fields merge multiplicatively (product of scale ratios).
	CategorySize
	// CategoryRotation merges additively, wrapped into [0, 360).
	CategoryRotation
	// CategoryStyle fields are non-mergeable; last write wins by timestamp.
	CategoryStyle
	// CategoryText is non-mergeable; character-level merging is out of scope.
	CategoryText
	// CategoryGeometry covers point paths; non-mergeable, last write wins.
	CategoryGeometry
	// CategoryOrder covers z-index; non-mergeable, last write wins.
	CategoryOrder
)

// CategoryOf maps a delta field key to its transform category.
func CategoryOf(key string) FieldCategory {
	switch key {
	case FieldX, FieldY:
		return CategoryPosition
	case FieldWidth, FieldHeight, FieldRadius:
		return CategorySize
	case FieldRotation:
		return CategoryRotation
	case FieldText:
		return CategoryText
	case FieldPoints:
		return CategoryGeometry
	case FieldZIndex:
		return CategoryOrder
	default:
		return CategoryStyle
	}
}

// Delta is a minimal set of changed shape fields. A nil pointer (or nil
// Points slice) means the field is not part of the delta.
type Delta struct {
	X           *float64 `json:"x,omitempty"`
	Y           *float64 `json:"y,omitempty"`
	Width       *float64 `json:"width,omitempty"`
	Height      *float64 `json:"height,omitempty"`
	Radius      *float64 `json:"radius,omitempty"`
	Rotation    *float64 `json:"rotation,omitempty"`
	Fill        *string  `json:"fill,omitempty"`
	Stroke      *string  `json:"stroke,omitempty"`
	StrokeWidth *float64 `json:"strokeWidth,omitempty"`
	Opacity     *float64 `json:"opacity,omitempty"`
	Text        *string  `json:"text,omitempty"`
	FontSize    *float64 `json:"fontSize,omitempty"`
	FontFamily  *string  `json:"fontFamily,omitempty"`
	Points      []Point  `json:"points,omitempty"`
	ZIndex      *int     `json:"zIndex,omitempty"`
}

// MarshalJSON keeps the distinction between "points not in the delta" (nil
// slice) and "clear the point path" (empty non-nil slice). omitempty drops
// both, so the clear is emitted as an explicit empty array. Unmarshal
// restores it: a JSON [] decodes to an empty non-nil slice.
func (d Delta) MarshalJSON() ([]byte, error) {
	type plain Delta
	if d.Points == nil || len(d.Points) > 0 {
		return json.Marshal(plain(d))
	}
	return json.Marshal(struct {
		plain
		Points []Point `json:"points"`
	}{plain: plain(d), Points: []Point{}})
}

// IsZero reports whether the delta carries no fields at all.
func (d *Delta) IsZero() bool {
	return d == nil || len(d.Keys()) == 0
}

// Keys returns the field keys present in the delta, in declaration order.
func (d *Delta) Keys() []string {
	if d == nil {
		return nil
	}
	keys := make([]string, 0, 4)
	if d.X != nil {
		keys = append(keys, FieldX)
	}
	if d.Y != nil {
		keys = append(keys, FieldY)
	}
	if d.Width != nil {
		keys = append(keys, FieldWidth)
	}
	if d.Height != nil {
		keys = append(keys, FieldHeight)
	}
	if d.Radius != nil {
		keys = append(keys, FieldRadius)
	}
	if d.Rotation != nil {
		keys = append(keys, FieldRotation)
	}
	if d.Fill != nil {
		keys = append(keys, FieldFill)
	}
	if d.Stroke != nil {
		keys = append(keys, FieldStroke)
	}
	if d.StrokeWidth != nil {
		keys = append(keys, FieldStrokeWidth)
	}
	if d.Opacity != nil {
		keys = append(keys, FieldOpacity)
	}
	if d.Text != nil {
		keys = append(keys, FieldText)
	}
	if d.FontSize != nil {
		keys = append(keys, FieldFontSize)
	}
	if d.FontFamily != nil {
		keys = append(keys, FieldFontFamily)
	}
	if d.Points != nil {
		keys = append(keys, FieldPoints)
	}
	if d.ZIndex != nil {
		keys = append(keys, FieldZIndex)
	}
	return keys
}

// Has reports whether the delta carries the given field key.
func (d *Delta) Has(key string) bool {
	for _, k := range d.Keys() {
		if k == key {
			return true
		}
	}
	return false
}

// Intersects reports whether two deltas touch at least one common field.
func (d *Delta) Intersects(other *Delta) bool {
	if d == nil || other == nil {
		return false
	}
	set := make(map[string]struct{}, 8)
	for _, k := range d.Keys() {
		set[k] = struct{}{}
	}
	for _, k := range other.Keys() {
		if _, ok := set[k]; ok {
			return true
		}
	}
	return false
}

// Categories returns the set of field categories the delta touches.
func (d *Delta) Categories() map[FieldCategory]bool {
	cats := make(map[FieldCategory]bool, 3)
	for _, k := range d.Keys() {
		cats[CategoryOf(k)] = true
	}
	return cats
}

// Clone returns a deep copy of the delta.
func (d *Delta) Clone() *Delta {
	if d == nil {
		return nil
	}
	dup := &Delta{}
	dup.X = cloneF64(d.X)
	dup.Y = cloneF64(d.Y)
	dup.Width = cloneF64(d.Width)
	dup.Height = cloneF64(d.Height)
	dup.Radius = cloneF64(d.Radius)
	dup.Rotation = cloneF64(d.Rotation)
	dup.Fill = cloneStr(d.Fill)
	dup.Stroke = cloneStr(d.Stroke)
	dup.StrokeWidth = cloneF64(d.StrokeWidth)
	dup.Opacity = cloneF64(d.Opacity)
	dup.Text = cloneStr(d.Text)
	dup.FontSize = cloneF64(d.FontSize)
	dup.FontFamily = cloneStr(d.FontFamily)
	if d.Points != nil {
		dup.Points = make([]Point, len(d.Points))
		copy(dup.Points, d.Points)
	}
	if d.ZIndex != nil {
		v := *d.ZIndex
		dup.ZIndex = &v
	}
	return dup
}

// Float64 returns a pointer to v, for building deltas in place.
func Float64(v float64) *float64 { return &v }

// String returns a pointer to v, for building deltas in place.
func String(v string) *string { return &v }

// Int returns a pointer to v, for building deltas in place.
func Int(v int) *int { return &v }

func cloneF64(p *float64) *float64 {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func cloneStr(p *string) *string {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
