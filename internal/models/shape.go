// Technocanvas - Collaborative Canvas Synchronization Core
// Copyright 2026 Arial Gardner (arialgardner)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/arialgardner/techno-canvas-sub001

package models

// Shape types supported by the canvas.
const (
	ShapeRectangle = "rectangle"
	ShapeCircle    = "circle"
	ShapeLine      = "line"
	ShapeText      = "text"
	ShapePen       = "pen"
)

// Point is a single coordinate in a pen or line path.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Shape is one mutable document object on the canvas.
//
// Shapes are owned collectively: any client may mutate any shape. The only
// exception is interactive text editing, which is guarded by the advisory
// lease fields (LockedBy/LockedAt). Deletion is terminal; there are no
// tombstones, absence is the record.
//
// LastModified is a millisecond wall-clock timestamp used for last-write-wins
// arbitration during reconciliation. It is heuristic, not a logical clock.
type Shape struct {
	ID   string `json:"id"`
	Type string `json:"type"`

	// Geometry
	X        float64 `json:"x"`
	Y        float64 `json:"y"`
	Width    float64 `json:"width,omitempty"`
	Height   float64 `json:"height,omitempty"`
	Radius   float64 `json:"radius,omitempty"`
	Rotation float64 `json:"rotation,omitempty"`
	Points   []Point `json:"points,omitempty"`

	// Style
	Fill        string  `json:"fill,omitempty"`
	Stroke      string  `json:"stroke,omitempty"`
	StrokeWidth float64 `json:"strokeWidth,omitempty"`
	Opacity     float64 `json:"opacity,omitempty"`

	// Text content and typography
	Text       string  `json:"text,omitempty"`
	FontSize   float64 `json:"fontSize,omitempty"`
	FontFamily string  `json:"fontFamily,omitempty"`

	ZIndex int `json:"zIndex"`

	// Advisory text-edit lease. Non-enforced; expires after a fixed window.
	LockedBy string `json:"lockedBy,omitempty"`
	LockedAt int64  `json:"lockedAt,omitempty"`

	// Bookkeeping
	LastModified   int64  `json:"lastModified"`
	LastModifiedBy string `json:"lastModifiedBy,omitempty"`
	CreatedBy      string `json:"createdBy,omitempty"`
	CreatedAt      int64  `json:"createdAt,omitempty"`
}

// Clone returns a deep copy of the shape. The Points slice is copied so the
// clone can be mutated independently.
func (s *Shape) Clone() *Shape {
	if s == nil {
		return nil
	}
	dup := *s
	if s.Points != nil {
		dup.Points = make([]Point, len(s.Points))
		copy(dup.Points, s.Points)
	}
	return &dup
}

// PointsEqual reports whether two point paths are element-wise identical.
// nil and empty are considered equal.
func PointsEqual(a, b []Point) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
