package schemas

import "time"

// -- UI Hierarchy Schemas --

// Well-known node attribute keys as emitted by the device bridge's XML dump.
const (
	AttrResourceID  = "resource-id"
	AttrText        = "text"
	AttrContentDesc = "content-desc"
	AttrClass       = "class"
	AttrBounds      = "bounds"
	AttrClickable   = "clickable"
	AttrEnabled     = "enabled"
)

// Point is a screen coordinate in device pixels.
type Point struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// Rect is an interactable region with exclusive bottom-right semantics as
// encoded by the bridge: "[x1,y1][x2,y2]".
type Rect struct {
	X1 int `json:"x1"`
	Y1 int `json:"y1"`
	X2 int `json:"x2"`
	Y2 int `json:"y2"`
}

// Center returns the integer-floor midpoint of the rectangle. This is the
// concrete interaction point for any matched node.
func (r Rect) Center() Point {
	return Point{X: (r.X1 + r.X2) / 2, Y: (r.Y1 + r.Y2) / 2}
}

// Contains reports whether p falls inside the rectangle.
func (r Rect) Contains(p Point) bool {
	return p.X >= r.X1 && p.X < r.X2 && p.Y >= r.Y1 && p.Y < r.Y2
}

// Area returns the pixel area, used to pick the smallest enclosing node.
func (r Rect) Area() int {
	return (r.X2 - r.X1) * (r.Y2 - r.Y1)
}

// UINode is one element description in a captured hierarchy. Bounds is nil
// when the node's bounds attribute was missing or degenerate; such nodes are
// kept in the tree (they may still carry identifying attributes for children)
// but never resolve to an interaction point themselves.
type UINode struct {
	Attributes map[string]string `json:"attributes"`
	Bounds     *Rect             `json:"bounds,omitempty"`
	Children   []*UINode         `json:"children,omitempty"`

	// Parent and SiblingIndex support structural-path derivation. Parent is
	// excluded from serialization to keep the tree acyclic on the wire.
	Parent       *UINode `json:"-"`
	SiblingIndex int     `json:"-"`
}

// Attr returns the named attribute or the empty string.
func (n *UINode) Attr(key string) string {
	if n == nil || n.Attributes == nil {
		return ""
	}
	return n.Attributes[key]
}

// UIHierarchySnapshot is a point-in-time tree of UI nodes. It is never
// mutated after capture; later captures supersede it wholesale.
type UIHierarchySnapshot struct {
	Root       *UINode   `json:"root"`
	CapturedAt time.Time `json:"captured_at"`
}

// Walk visits every node in depth-first order. Traversal stops early when fn
// returns false.
func (s *UIHierarchySnapshot) Walk(fn func(*UINode) bool) {
	if s == nil || s.Root == nil {
		return
	}
	var visit func(*UINode) bool
	visit = func(n *UINode) bool {
		if !fn(n) {
			return false
		}
		for _, c := range n.Children {
			if !visit(c) {
				return false
			}
		}
		return true
	}
	visit(s.Root)
}
