// Package pane implements the split-pane layout tree and its per-tab
// manager. The tree is a strict binary tree: every internal node is a
// Split with exactly two children, every leaf holds exactly one pane.
// Geometry is derived top-down from split ratios and never stored.
package pane

import (
	"errors"
	"sync/atomic"
)

var (
	// ErrNotFound is returned when an operation references an unknown pane.
	ErrNotFound = errors.New("pane not found")
	// ErrPaneLimit is returned when a mutation would exceed the configured
	// pane ceiling for a tab.
	ErrPaneLimit = errors.New("pane limit exceeded")
	// ErrRemoteManaged is returned when a local structural operation is
	// attempted on a tab whose layout is driven by a remote session.
	ErrRemoteManaged = errors.New("tab is remote managed")
	// ErrLastPane is returned when closing would leave the tab empty.
	// The caller closes the tab instead.
	ErrLastPane = errors.New("last pane in tab")
)

// ID identifies a pane for the life of the process. IDs are allocated
// from a monotonic counter and never reused; they are the join key
// between the tree, the input router and the terminal handle registry.
type ID uint64

// Allocator hands out process-unique pane IDs.
type Allocator struct {
	n atomic.Uint64
}

// Next returns a fresh ID. The zero ID is never returned so it can be
// used as a "no pane" sentinel.
func (a *Allocator) Next() ID {
	return ID(a.n.Add(1))
}

// Direction is the axis of a split. A horizontal split lays its
// children side by side, a vertical split stacks them.
type Direction int

const (
	Horizontal Direction = iota
	Vertical
)

func (d Direction) String() string {
	if d == Horizontal {
		return "horizontal"
	}
	return "vertical"
}

// NavDirection is a navigation heading for adjacent-pane movement.
type NavDirection int

const (
	NavLeft NavDirection = iota
	NavRight
	NavUp
	NavDown
)

// Rect is a rectangle in logical units.
type Rect struct {
	X, Y          float64
	Width, Height float64
}

// CenterX returns the horizontal center of the rectangle.
func (r Rect) CenterX() float64 { return r.X + r.Width/2 }

// CenterY returns the vertical center of the rectangle.
func (r Rect) CenterY() float64 { return r.Y + r.Height/2 }

// Contains reports whether the point lies inside the rectangle.
// The right and bottom edges are exclusive.
func (r Rect) Contains(x, y float64) bool {
	return x >= r.X && x < r.X+r.Width && y >= r.Y && y < r.Y+r.Height
}

// Ratio clamp bounds. Every pane keeps at least a sliver of usable
// area no matter what ratio a resize requests.
const (
	MinRatio = 0.05
	MaxRatio = 0.95
)

func clampRatio(r float64) float64 {
	return clampTo(r, MinRatio, MaxRatio)
}

func clampTo(r, min, max float64) float64 {
	if r < min {
		return min
	}
	if r > max {
		return max
	}
	return r
}

// Node is one node of the layout tree. Exactly one of the two forms is
// populated: a leaf has a nonzero ID and nil children, a split has two
// non-nil children and a ratio in (0, 1). Ratio is the fraction of
// space given to First.
type Node struct {
	ID ID

	Dir    Direction
	Ratio  float64
	First  *Node
	Second *Node
}

// NewLeaf returns a leaf node for the given pane.
func NewLeaf(id ID) *Node {
	return &Node{ID: id}
}

// NewSplit returns a split node dividing space between first and second
// along dir. The ratio is clamped to the usable range.
func NewSplit(dir Direction, ratio float64, first, second *Node) *Node {
	return &Node{Dir: dir, Ratio: clampRatio(ratio), First: first, Second: second}
}

// IsLeaf reports whether the node is a leaf.
func (n *Node) IsLeaf() bool { return n.First == nil }

// Tree owns the root node of one tab's layout.
type Tree struct {
	Root *Node
}

// NewTree returns a tree containing a single leaf.
func NewTree(id ID) *Tree {
	return &Tree{Root: NewLeaf(id)}
}

// Count returns the number of leaves.
func (t *Tree) Count() int {
	return countLeaves(t.Root)
}

func countLeaves(n *Node) int {
	if n == nil {
		return 0
	}
	if n.IsLeaf() {
		return 1
	}
	return countLeaves(n.First) + countLeaves(n.Second)
}

// IDs returns all pane IDs in pre-order.
func (t *Tree) IDs() []ID {
	var ids []ID
	walkLeaves(t.Root, func(n *Node) {
		ids = append(ids, n.ID)
	})
	return ids
}

func walkLeaves(n *Node, fn func(*Node)) {
	if n == nil {
		return
	}
	if n.IsLeaf() {
		fn(n)
		return
	}
	walkLeaves(n.First, fn)
	walkLeaves(n.Second, fn)
}

// Contains reports whether the pane exists in the tree.
func (t *Tree) Contains(id ID) bool {
	return findLeaf(t.Root, id) != nil
}

func findLeaf(n *Node, id ID) *Node {
	if n == nil {
		return nil
	}
	if n.IsLeaf() {
		if n.ID == id {
			return n
		}
		return nil
	}
	if l := findLeaf(n.First, id); l != nil {
		return l
	}
	return findLeaf(n.Second, id)
}

// FirstLeaf returns the first pane in pre-order, or zero if the tree is
// empty.
func (t *Tree) FirstLeaf() ID {
	return firstLeaf(t.Root)
}

func firstLeaf(n *Node) ID {
	if n == nil {
		return 0
	}
	for !n.IsLeaf() {
		n = n.First
	}
	return n.ID
}

// Split replaces the leaf holding target with a split node whose First
// is the original leaf and whose Second is a new leaf with newID. The
// original side keeps its position, so focus on target survives the
// split unchanged.
func (t *Tree) Split(target ID, dir Direction, ratio float64, newID ID) error {
	n := findLeaf(t.Root, target)
	if n == nil {
		return ErrNotFound
	}
	// Mutate the found node in place: it becomes the split, the two
	// children are fresh nodes. Pointers held by the parent stay valid.
	first := NewLeaf(n.ID)
	second := NewLeaf(newID)
	n.ID = 0
	n.Dir = dir
	n.Ratio = clampRatio(ratio)
	n.First = first
	n.Second = second
	return nil
}

// Close removes the leaf holding target. Its parent split is replaced
// by the sibling subtree, preserving any nested splits the sibling
// contains. Closing the root leaf empties the tree and returns
// closedRoot=true so the caller can close the owning tab.
func (t *Tree) Close(target ID) (closedRoot bool, err error) {
	if t.Root == nil {
		return false, ErrNotFound
	}
	if t.Root.IsLeaf() {
		if t.Root.ID != target {
			return false, ErrNotFound
		}
		t.Root = nil
		return true, nil
	}
	if !removeLeaf(t.Root, target) {
		return false, ErrNotFound
	}
	return false, nil
}

// removeLeaf finds the parent split of the target leaf and replaces
// that split, in place, with the sibling subtree.
func removeLeaf(n *Node, target ID) bool {
	if n == nil || n.IsLeaf() {
		return false
	}
	for _, pair := range [2][2]*Node{{n.First, n.Second}, {n.Second, n.First}} {
		child, sibling := pair[0], pair[1]
		if child.IsLeaf() && child.ID == target {
			*n = *sibling
			return true
		}
	}
	return removeLeaf(n.First, target) || removeLeaf(n.Second, target)
}

// Resize sets the ratio of the split directly above the given pane,
// preferring the nearest ancestor split along the given axis. The
// ratio is silently clamped to [min, max]; Resize never fails on
// out-of-range values. Callers with configured bounds pass them here.
func (t *Tree) Resize(target ID, dir Direction, ratio, min, max float64) error {
	s := ancestorSplit(t.Root, target, dir)
	if s == nil {
		return ErrNotFound
	}
	s.Ratio = clampTo(ratio, min, max)
	return nil
}

// ResizeBy nudges the ratio of the nearest ancestor split along dir by
// delta, clamped to [min, max]. The pane grows for positive delta when
// it sits on the First side and shrinks otherwise, so "grow right
// edge" behaves the same regardless of which side of the split the
// pane is on.
func (t *Tree) ResizeBy(target ID, dir Direction, delta, min, max float64) error {
	s := ancestorSplit(t.Root, target, dir)
	if s == nil {
		return ErrNotFound
	}
	if findLeaf(s.First, target) != nil {
		s.Ratio = clampTo(s.Ratio+delta, min, max)
	} else {
		s.Ratio = clampTo(s.Ratio-delta, min, max)
	}
	return nil
}

// ancestorSplit returns the nearest ancestor split of target whose
// axis matches dir, or nil.
func ancestorSplit(n *Node, target ID, dir Direction) *Node {
	if n == nil || n.IsLeaf() {
		return nil
	}
	var side *Node
	if findLeaf(n.First, target) != nil {
		side = n.First
	} else if findLeaf(n.Second, target) != nil {
		side = n.Second
	} else {
		return nil
	}
	if deeper := ancestorSplit(side, target, dir); deeper != nil {
		return deeper
	}
	if n.Dir == dir {
		return n
	}
	return nil
}

// ComputeBounds assigns a rectangle to every pane by dividing root
// top-down at each split's ratio. Pure and O(n); rectangles partition
// root exactly: no overlap, no gaps.
func (t *Tree) ComputeBounds(root Rect) map[ID]Rect {
	out := make(map[ID]Rect, t.Count())
	computeBounds(t.Root, root, out)
	return out
}

func computeBounds(n *Node, r Rect, out map[ID]Rect) {
	if n == nil {
		return
	}
	if n.IsLeaf() {
		out[n.ID] = r
		return
	}
	if n.Dir == Horizontal {
		w := r.Width * n.Ratio
		computeBounds(n.First, Rect{r.X, r.Y, w, r.Height}, out)
		computeBounds(n.Second, Rect{r.X + w, r.Y, r.Width - w, r.Height}, out)
	} else {
		h := r.Height * n.Ratio
		computeBounds(n.First, Rect{r.X, r.Y, r.Width, h}, out)
		computeBounds(n.Second, Rect{r.X, r.Y + h, r.Width, r.Height - h}, out)
	}
}

// FindAt returns the pane containing the point, in the coordinate
// space of the given root rectangle.
func (t *Tree) FindAt(root Rect, x, y float64) (ID, bool) {
	for id, r := range t.ComputeBounds(root) {
		if r.Contains(x, y) {
			return id, true
		}
	}
	return 0, false
}

// FindAdjacent returns the neighboring pane in the given heading.
//
// It walks up from the leaf to the nearest ancestor split on the
// travel axis where the leaf sits on the near side, then descends the
// sibling subtree: splits along the travel axis descend into the child
// touching the shared boundary, perpendicular splits descend into the
// first child. Reading order breaks ties between equally adjacent
// candidates, so moving right always lands on the topmost neighbor.
func (t *Tree) FindAdjacent(from ID, nav NavDirection) (ID, bool) {
	axis := Horizontal
	if nav == NavUp || nav == NavDown {
		axis = Vertical
	}
	wantFirst := nav == NavRight || nav == NavDown

	node, ok := adjacentSubtree(t.Root, from, axis, wantFirst)
	if !ok {
		return 0, false
	}
	// Descend toward the shared boundary.
	for !node.IsLeaf() {
		if node.Dir == axis {
			if wantFirst {
				node = node.First
			} else {
				node = node.Second
			}
		} else {
			node = node.First
		}
	}
	return node.ID, true
}

// adjacentSubtree finds the deepest ancestor split of from on the
// given axis where from is on the near side for the heading, and
// returns the sibling subtree on the far side.
func adjacentSubtree(n *Node, from ID, axis Direction, fromFirst bool) (*Node, bool) {
	if n == nil || n.IsLeaf() {
		return nil, false
	}
	var side, sibling *Node
	onFirst := findLeaf(n.First, from) != nil
	if onFirst {
		side, sibling = n.First, n.Second
	} else if findLeaf(n.Second, from) != nil {
		side, sibling = n.Second, n.First
	} else {
		return nil, false
	}
	if sub, ok := adjacentSubtree(side, from, axis, fromFirst); ok {
		return sub, ok
	}
	if n.Dir == axis && onFirst == fromFirst {
		return sibling, true
	}
	return nil, false
}
