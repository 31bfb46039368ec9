// Package watermark maps pointer interaction on a scaled preview into a
// resolution-independent watermark placement.
//
// # Coordinate mapping
//
// A placement is a percentage of the rendered image's bounding box on each
// axis:
//
//	percentX = clamp((P.x - O.x) / W * 100, 0, 100)
//	percentY = clamp((P.y - O.y) / H * 100, 0, 100)
//
// Because it is a fraction of the rendered box it does not depend on display
// scale. The mapper also keeps the natural (true pixel) size and the preview
// (rendered) size so a consumer can re-derive absolute natural coordinates
// with ToNatural.
//
// # Drag interaction
//
//	        press inside hit region
//	idle ───────────────────────────▶ dragging ──┐ move: recompute + clamp
//	 ▲                                   │  ▲     │
//	 └────────── release (anywhere) ─────┘  └─────┘
//
// The press itself snaps the placement to the press point. Release is
// accepted wherever the pointer is, since a fast drag can leave the preview
// before the button comes up.
package watermark

import (
	"fmt"
	"sort"
	"strings"

	"github.com/imagepress/imagepress"
)

// Point is a pointer coordinate in viewport units (pixels, or terminal
// cells in the TUI).
type Point struct {
	X, Y float64
}

// Rect is a rendered bounding box: origin plus extent.
type Rect struct {
	X, Y float64
	W, H float64
}

// Contains reports whether p lies inside r, edges included.
func (r Rect) Contains(p Point) bool {
	return p.X >= r.X && p.X <= r.X+r.W && p.Y >= r.Y && p.Y <= r.Y+r.H
}

// Empty reports whether r has no area.
func (r Rect) Empty() bool {
	return r.W <= 0 || r.H <= 0
}

// MapPointer converts a viewport point into a clamped percentage placement
// relative to r. A degenerate rectangle maps every point to (0,0).
func MapPointer(p Point, r Rect) imagepress.Position {
	if r.Empty() {
		return imagepress.Position{}
	}
	return imagepress.Position{
		X: imagepress.ClampPercent((p.X - r.X) / r.W * 100),
		Y: imagepress.ClampPercent((p.Y - r.Y) / r.H * 100),
	}
}

// ToNatural converts a percentage placement to absolute pixel coordinates
// on an image of the given natural size.
func ToNatural(pos imagepress.Position, natural imagepress.Size) Point {
	pos = pos.Clamped()
	return Point{
		X: pos.X / 100 * float64(natural.Width),
		Y: pos.Y / 100 * float64(natural.Height),
	}
}

// Anchor is a named fixed placement.
type Anchor string

const (
	AnchorTopLeft     Anchor = "top-left"
	AnchorTopRight    Anchor = "top-right"
	AnchorBottomLeft  Anchor = "bottom-left"
	AnchorBottomRight Anchor = "bottom-right"
	AnchorCenter      Anchor = "center"
)

var anchors = map[Anchor]imagepress.Position{
	AnchorTopLeft:     {X: 5, Y: 5},
	AnchorTopRight:    {X: 95, Y: 5},
	AnchorBottomLeft:  {X: 5, Y: 95},
	AnchorBottomRight: {X: 95, Y: 95},
	AnchorCenter:      {X: 50, Y: 50},
}

// Anchors returns every anchor name, sorted.
func Anchors() []Anchor {
	out := make([]Anchor, 0, len(anchors))
	for a := range anchors {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Position returns the fixed placement of a.
func (a Anchor) Position() (imagepress.Position, bool) {
	p, ok := anchors[a]
	return p, ok
}

// ParseAnchor accepts anchor names with '-', '_' or ' ' separators.
func ParseAnchor(s string) (Anchor, error) {
	norm := strings.NewReplacer("_", "-", " ", "-").Replace(strings.ToLower(strings.TrimSpace(s)))
	a := Anchor(norm)
	if _, ok := anchors[a]; !ok {
		return "", fmt.Errorf("unknown anchor %q", s)
	}
	return a, nil
}

// DragState is the state of the drag interaction.
type DragState int

const (
	Idle DragState = iota
	Dragging
)

func (s DragState) String() string {
	if s == Dragging {
		return "dragging"
	}
	return "idle"
}

// Mapper tracks the placement of a watermark over one rendered preview.
type Mapper struct {
	bounds  Rect
	hit     Rect
	natural imagepress.Size
	state   DragState
	pos     imagepress.Position
}

// NewMapper returns a mapper for an image rendered at bounds whose true pixel
// size is natural. The placement starts at the center and the hit region is
// the whole preview.
func NewMapper(bounds Rect, natural imagepress.Size) *Mapper {
	return &Mapper{
		bounds:  bounds,
		hit:     bounds,
		natural: natural,
		pos:     imagepress.Position{X: 50, Y: 50},
	}
}

// SetBounds updates the rendered rectangle, for example after a resize. The
// percentage placement is unchanged.
func (m *Mapper) SetBounds(bounds Rect) {
	if m.hit == m.bounds {
		m.hit = bounds
	}
	m.bounds = bounds
}

// SetHitRegion restricts where a press may begin a drag.
func (m *Mapper) SetHitRegion(r Rect) {
	m.hit = r
}

// Bounds returns the rendered rectangle.
func (m *Mapper) Bounds() Rect { return m.bounds }

// State returns the drag state.
func (m *Mapper) State() DragState { return m.state }

// Position returns the current clamped placement.
func (m *Mapper) Position() imagepress.Position { return m.pos }

// SetPosition places the watermark directly, clamping to [0,100].
func (m *Mapper) SetPosition(p imagepress.Position) {
	m.pos = p.Clamped()
}

// NaturalSize returns the true pixel size of the image.
func (m *Mapper) NaturalSize() imagepress.Size { return m.natural }

// PreviewSize returns the rendered size, rounded to whole units.
func (m *Mapper) PreviewSize() imagepress.Size {
	return imagepress.Size{Width: int(m.bounds.W + 0.5), Height: int(m.bounds.H + 0.5)}
}

// Press begins a drag when p is inside the hit region and snaps the placement
// to p. It reports whether the press was accepted.
func (m *Mapper) Press(p Point) bool {
	if m.state == Dragging || !m.hit.Contains(p) {
		return false
	}
	m.state = Dragging
	m.pos = MapPointer(p, m.bounds)
	return true
}

// Move recomputes the placement while dragging. Moves while idle are ignored.
func (m *Mapper) Move(p Point) bool {
	if m.state != Dragging {
		return false
	}
	m.pos = MapPointer(p, m.bounds)
	return true
}

// Release ends a drag regardless of where the pointer is.
func (m *Mapper) Release() {
	m.state = Idle
}

// SelectAnchor jumps to a named anchor, discarding any drag-derived
// placement and ending an active drag.
func (m *Mapper) SelectAnchor(a Anchor) error {
	p, ok := a.Position()
	if !ok {
		return fmt.Errorf("unknown anchor %q", a)
	}
	m.state = Idle
	m.pos = p
	return nil
}

// Nudge shifts the placement by the given percentage deltas, clamped.
func (m *Mapper) Nudge(dx, dy float64) {
	m.pos = imagepress.Position{X: m.pos.X + dx, Y: m.pos.Y + dy}.Clamped()
}

// Natural returns the current placement in natural pixel coordinates.
func (m *Mapper) Natural() Point {
	return ToNatural(m.pos, m.natural)
}
