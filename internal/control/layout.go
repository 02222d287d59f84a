package control

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/paulrobello/parmux/internal/pane"
)

// Layout is one node of a parsed window layout string. tmux describes
// a window as nested rectangles: a cell with geometry and a pane id,
// or a container of two or more children laid out left-to-right ("{}")
// or top-to-bottom ("[]") with explicit cell extents.
type Layout struct {
	Width, Height int
	X, Y          int

	// Leaf fields.
	Pane   PaneID
	IsLeaf bool

	// Container fields.
	Dir      pane.Direction
	Children []*Layout
}

// ParseLayout parses a layout string such as
// "b25f,178x48,0,0{89x48,0,0,1,88x48,90,0[88x24,90,0,2,88x23,90,25,3]}".
// The leading four-hex-digit checksum is optional and not verified.
func ParseLayout(s string) (*Layout, error) {
	if len(s) >= 5 && s[4] == ',' && isHex4(s[:4]) {
		s = s[5:]
	}
	node, rest, err := parseLayoutNode(s)
	if err != nil {
		return nil, err
	}
	if rest != "" {
		return nil, fmt.Errorf("%w: trailing layout data %q", ErrParse, rest)
	}
	return node, nil
}

func isHex4(s string) bool {
	for i := 0; i < 4; i++ {
		c := s[i]
		ok := (c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')
		if !ok {
			return false
		}
	}
	return true
}

func parseLayoutNode(s string) (*Layout, string, error) {
	var l Layout
	var err error
	if l.Width, s, err = layoutInt(s, 'x'); err != nil {
		return nil, "", err
	}
	if l.Height, s, err = layoutInt(s, ','); err != nil {
		return nil, "", err
	}
	if l.X, s, err = layoutInt(s, ','); err != nil {
		return nil, "", err
	}
	if l.Y, s, err = layoutNum(s); err != nil {
		return nil, "", err
	}

	switch {
	case strings.HasPrefix(s, ","):
		s = s[1:]
		if s != "" && (s[0] == '{' || s[0] == '[') {
			return nil, "", fmt.Errorf("%w: comma before container", ErrParse)
		}
		var id int
		if id, s, err = layoutNumOnly(s); err != nil {
			return nil, "", err
		}
		l.Pane = PaneID(id)
		l.IsLeaf = true
		return &l, s, nil

	case strings.HasPrefix(s, "{"):
		l.Dir = pane.Horizontal
		return parseLayoutChildren(&l, s[1:], '}')

	case strings.HasPrefix(s, "["):
		l.Dir = pane.Vertical
		return parseLayoutChildren(&l, s[1:], ']')
	}
	return nil, "", fmt.Errorf("%w: layout node missing pane or children", ErrParse)
}

func parseLayoutChildren(l *Layout, s string, closer byte) (*Layout, string, error) {
	for {
		child, rest, err := parseLayoutNode(s)
		if err != nil {
			return nil, "", err
		}
		l.Children = append(l.Children, child)
		s = rest
		if strings.HasPrefix(s, ",") {
			s = s[1:]
			continue
		}
		if s != "" && s[0] == closer {
			break
		}
		return nil, "", fmt.Errorf("%w: unterminated layout container", ErrParse)
	}
	if len(l.Children) < 2 {
		return nil, "", fmt.Errorf("%w: layout container with %d children", ErrParse, len(l.Children))
	}
	return l, s[1:], nil
}

// layoutInt parses an integer followed by a required separator.
func layoutInt(s string, sep byte) (int, string, error) {
	n, rest, err := layoutNumOnly(s)
	if err != nil {
		return 0, "", err
	}
	if rest == "" || rest[0] != sep {
		return 0, "", fmt.Errorf("%w: expected %q in layout", ErrParse, string(sep))
	}
	return n, rest[1:], nil
}

// layoutNum parses the trailing Y coordinate, leaving any suffix.
func layoutNum(s string) (int, string, error) {
	return layoutNumOnly(s)
}

func layoutNumOnly(s string) (int, string, error) {
	i := 0
	for i < len(s) && s[i] >= '0' && s[i] <= '9' {
		i++
	}
	if i == 0 {
		return 0, "", fmt.Errorf("%w: expected number in layout at %q", ErrParse, s)
	}
	n, err := strconv.Atoi(s[:i])
	if err != nil {
		return 0, "", fmt.Errorf("%w: %v", ErrParse, err)
	}
	return n, s[i:], nil
}

// PaneIDs returns the remote panes of the layout in pre-order, which
// matches their on-screen reading order.
func (l *Layout) PaneIDs() []PaneID {
	var ids []PaneID
	l.walk(func(leaf *Layout) {
		ids = append(ids, leaf.Pane)
	})
	return ids
}

func (l *Layout) walk(fn func(*Layout)) {
	if l.IsLeaf {
		fn(l)
		return
	}
	for _, c := range l.Children {
		c.walk(fn)
	}
}

// extent returns a child's size along its parent's axis.
func (l *Layout) extent(dir pane.Direction) float64 {
	if dir == pane.Horizontal {
		return float64(l.Width)
	}
	return float64(l.Height)
}

// BuildTree converts the layout into a binary pane tree. Containers
// with more than two children collapse right-associatively: the first
// child takes its extent's share of the container, the rest recurse.
// idFor maps each remote pane to the local pane occupying the leaf.
func (l *Layout) BuildTree(idFor func(PaneID) pane.ID) *pane.Node {
	if l.IsLeaf {
		return pane.NewLeaf(idFor(l.Pane))
	}
	return buildBinary(l.Children, l.Dir, idFor)
}

func buildBinary(children []*Layout, dir pane.Direction, idFor func(PaneID) pane.ID) *pane.Node {
	if len(children) == 1 {
		return children[0].BuildTree(idFor)
	}
	var total float64
	for _, c := range children {
		total += c.extent(dir)
	}
	first := children[0].BuildTree(idFor)
	rest := buildBinary(children[1:], dir, idFor)
	ratio := 0.5
	if total > 0 {
		ratio = children[0].extent(dir) / total
	}
	return pane.NewSplit(dir, ratio, first, rest)
}

// SerializeLayout renders a pane tree back into the layout grammar for
// a window of the given cell size. Each split reserves one cell for
// the divider, exactly as the remote side lays out windows. paneFor
// maps local panes back to their remote ids.
func SerializeLayout(root *pane.Node, width, height int, paneFor func(pane.ID) (PaneID, bool)) (string, error) {
	var b strings.Builder
	if err := serializeNode(&b, root, width, height, 0, 0, paneFor); err != nil {
		return "", err
	}
	body := b.String()
	return fmt.Sprintf("%04x,%s", layoutChecksum(body), body), nil
}

func serializeNode(b *strings.Builder, n *pane.Node, w, h, x, y int, paneFor func(pane.ID) (PaneID, bool)) error {
	if n.IsLeaf() {
		id, ok := paneFor(n.ID)
		if !ok {
			return fmt.Errorf("%w: pane %d has no remote mapping", ErrParse, n.ID)
		}
		fmt.Fprintf(b, "%dx%d,%d,%d,%d", w, h, x, y, uint64(id))
		return nil
	}

	if n.Dir == pane.Horizontal {
		first := splitExtent(w, n.Ratio)
		fmt.Fprintf(b, "%dx%d,%d,%d{", w, h, x, y)
		if err := serializeNode(b, n.First, first, h, x, y, paneFor); err != nil {
			return err
		}
		b.WriteByte(',')
		if err := serializeNode(b, n.Second, remainExtent(w, first), h, x+first+1, y, paneFor); err != nil {
			return err
		}
		b.WriteByte('}')
		return nil
	}

	first := splitExtent(h, n.Ratio)
	fmt.Fprintf(b, "%dx%d,%d,%d[", w, h, x, y)
	if err := serializeNode(b, n.First, w, first, x, y, paneFor); err != nil {
		return err
	}
	b.WriteByte(',')
	if err := serializeNode(b, n.Second, w, remainExtent(h, first), x, y+first+1, paneFor); err != nil {
		return err
	}
	b.WriteByte(']')
	return nil
}

// splitExtent converts a ratio into whole cells for the first child,
// leaving at least one cell for each side plus the divider. Totals too
// small to fit both sides still yield a one-cell extent so the output
// never carries zero or negative sizes.
func splitExtent(total int, ratio float64) int {
	if total < 3 {
		return 1
	}
	e := int(float64(total)*ratio + 0.5)
	if e < 1 {
		e = 1
	}
	if e > total-2 {
		e = total - 2
	}
	return e
}

func remainExtent(total, first int) int {
	r := total - first - 1
	if r < 1 {
		return 1
	}
	return r
}

// layoutChecksum is the rotating 16-bit checksum the layout grammar
// prefixes to the node description.
func layoutChecksum(s string) uint16 {
	var csum uint16
	for i := 0; i < len(s); i++ {
		csum = (csum >> 1) + ((csum & 1) << 15) + uint16(s[i])
	}
	return csum
}
