package pane

// Authority records which side may originate structural mutations for
// a tab. A tab bound to a remote multiplexer window is mutated only by
// the sync engine; local splits on it are rejected and translated into
// upstream commands by the caller.
type Authority int

const (
	AuthorityLocal Authority = iota
	AuthorityRemote
)

func (a Authority) String() string {
	if a == AuthorityRemote {
		return "remote"
	}
	return "local"
}

// Options bound a manager's behavior. Zero values fall back to the
// package defaults.
type Options struct {
	MaxPanes int
	MinRatio float64
	MaxRatio float64
}

// DefaultMaxPanes caps panes per tab against runaway remote layouts.
const DefaultMaxPanes = 16

// Manager owns one tab's tree plus its focus and broadcast state. It
// is not safe for concurrent use; all mutation happens on the update
// loop.
type Manager struct {
	tree  *Tree
	alloc *Allocator

	focused     ID
	broadcast   map[ID]struct{}
	broadcastOn bool
	authority   Authority

	area     Rect
	maxPanes int
	minRatio float64
	maxRatio float64
}

// NewManager returns a manager whose tree holds a single fresh pane.
// The allocator is shared across tabs so pane IDs stay process-unique.
func NewManager(alloc *Allocator, opts Options) *Manager {
	if opts.MaxPanes <= 0 {
		opts.MaxPanes = DefaultMaxPanes
	}
	if opts.MinRatio <= 0 {
		opts.MinRatio = MinRatio
	}
	if opts.MaxRatio <= 0 {
		opts.MaxRatio = MaxRatio
	}
	id := alloc.Next()
	return &Manager{
		tree:      NewTree(id),
		alloc:     alloc,
		focused:   id,
		broadcast: make(map[ID]struct{}),
		area:      Rect{Width: 1, Height: 1},
		maxPanes:  opts.MaxPanes,
		minRatio:  opts.MinRatio,
		maxRatio:  opts.MaxRatio,
	}
}

// Tree exposes the underlying tree for the sync engine and the view.
func (m *Manager) Tree() *Tree { return m.tree }

// Focused returns the focused pane.
func (m *Manager) Focused() ID { return m.focused }

// Authority returns the tab's current authority.
func (m *Manager) Authority() Authority { return m.authority }

// SetAuthority flips the tab between local and remote control. Used by
// the sync engine on bind and on detach; panes, focus and handles are
// untouched.
func (m *Manager) SetAuthority(a Authority) { m.authority = a }

// SetArea records the tab's content rectangle used for pointer lookup
// and bounds queries.
func (m *Manager) SetArea(r Rect) { m.area = r }

// Area returns the tab's content rectangle.
func (m *Manager) Area() Rect { return m.area }

// Bounds returns the current rectangle of every pane.
func (m *Manager) Bounds() map[ID]Rect {
	return m.tree.ComputeBounds(m.area)
}

// Count returns the number of panes in the tab.
func (m *Manager) Count() int { return m.tree.Count() }

// MaxPanes returns the tab's pane ceiling. The sync engine checks it
// before installing a remote layout, since ReplaceRoot does not.
func (m *Manager) MaxPanes() int { return m.maxPanes }

func (m *Manager) clamp(r float64) float64 {
	if r < m.minRatio {
		return m.minRatio
	}
	if r > m.maxRatio {
		return m.maxRatio
	}
	return r
}

func (m *Manager) checkMutable() error {
	if m.authority == AuthorityRemote {
		return ErrRemoteManaged
	}
	return nil
}

// SplitHorizontal splits the focused pane side by side, returning the
// new pane. Focus stays on the original pane.
func (m *Manager) SplitHorizontal(ratio float64) (ID, error) {
	return m.split(m.focused, Horizontal, ratio)
}

// SplitVertical splits the focused pane top over bottom.
func (m *Manager) SplitVertical(ratio float64) (ID, error) {
	return m.split(m.focused, Vertical, ratio)
}

// SplitPane splits an explicit target pane.
func (m *Manager) SplitPane(target ID, dir Direction, ratio float64) (ID, error) {
	return m.split(target, dir, ratio)
}

func (m *Manager) split(target ID, dir Direction, ratio float64) (ID, error) {
	if err := m.checkMutable(); err != nil {
		return 0, err
	}
	if m.tree.Count() >= m.maxPanes {
		return 0, ErrPaneLimit
	}
	newID := m.alloc.Next()
	if err := m.tree.Split(target, dir, m.clamp(ratio), newID); err != nil {
		return 0, err
	}
	return newID, nil
}

// CloseFocused removes the focused pane. Focus transfers to the first
// pre-order leaf of the promoted sibling subtree. Closing the last
// pane returns ErrLastPane; the tab container closes the whole tab.
func (m *Manager) CloseFocused() (ID, error) {
	return m.ClosePane(m.focused)
}

// ClosePane removes an explicit pane, returning the closed pane's ID.
func (m *Manager) ClosePane(target ID) (ID, error) {
	if err := m.checkMutable(); err != nil {
		return 0, err
	}
	if m.tree.Count() <= 1 {
		if !m.tree.Contains(target) {
			return 0, ErrNotFound
		}
		return 0, ErrLastPane
	}
	sibling := m.siblingOf(target)
	if _, err := m.tree.Close(target); err != nil {
		return 0, err
	}
	m.forget(target)
	if m.focused == target {
		if sibling != 0 && m.tree.Contains(sibling) {
			m.focused = sibling
		} else {
			m.focused = m.tree.FirstLeaf()
		}
	}
	return target, nil
}

// siblingOf returns the first pre-order leaf of the target's sibling
// subtree, or zero when the target has no parent.
func (m *Manager) siblingOf(target ID) ID {
	var sib ID
	var walk func(n *Node)
	walk = func(n *Node) {
		if n == nil || n.IsLeaf() || sib != 0 {
			return
		}
		if n.First.IsLeaf() && n.First.ID == target {
			sib = firstLeaf(n.Second)
			return
		}
		if n.Second.IsLeaf() && n.Second.ID == target {
			sib = firstLeaf(n.First)
			return
		}
		walk(n.First)
		walk(n.Second)
	}
	walk(m.tree.Root)
	return sib
}

// forget drops any focus or broadcast references to a removed pane.
func (m *Manager) forget(id ID) {
	delete(m.broadcast, id)
}

// Navigate moves focus to the adjacent pane in the given heading.
// Navigation is allowed on remote tabs; it changes no structure.
func (m *Manager) Navigate(nav NavDirection) bool {
	next, ok := m.tree.FindAdjacent(m.focused, nav)
	if !ok {
		return false
	}
	m.focused = next
	return true
}

// Focus moves focus to a specific live pane.
func (m *Manager) Focus(id ID) error {
	if !m.tree.Contains(id) {
		return ErrNotFound
	}
	m.focused = id
	return nil
}

// FocusAt moves focus to the pane under the given point in the tab's
// area, returning the pane hit.
func (m *Manager) FocusAt(x, y float64) (ID, bool) {
	id, ok := m.tree.FindAt(m.area, x, y)
	if ok {
		m.focused = id
	}
	return id, ok
}

// ResizeFocused grows or shrinks the focused pane along the axis of
// the heading by delta (a fraction of the enclosing split). The ratio
// is clamped to the tab's configured bounds, not the package floor.
func (m *Manager) ResizeFocused(nav NavDirection, delta float64) error {
	if err := m.checkMutable(); err != nil {
		return err
	}
	dir := Horizontal
	if nav == NavUp || nav == NavDown {
		dir = Vertical
	}
	if nav == NavLeft || nav == NavUp {
		delta = -delta
	}
	return m.tree.ResizeBy(m.focused, dir, delta, m.minRatio, m.maxRatio)
}

// ToggleBroadcast flips broadcast mode. Entering broadcast seeds the
// set with every current pane; leaving clears it.
func (m *Manager) ToggleBroadcast() bool {
	m.broadcastOn = !m.broadcastOn
	m.broadcast = make(map[ID]struct{})
	if m.broadcastOn {
		for _, id := range m.tree.IDs() {
			m.broadcast[id] = struct{}{}
		}
	}
	return m.broadcastOn
}

// Broadcasting reports whether broadcast mode is on.
func (m *Manager) Broadcasting() bool { return m.broadcastOn }

// BroadcastSet returns the panes receiving duplicated input, in
// pre-order.
func (m *Manager) BroadcastSet() []ID {
	if !m.broadcastOn {
		return nil
	}
	var ids []ID
	for _, id := range m.tree.IDs() {
		if _, ok := m.broadcast[id]; ok {
			ids = append(ids, id)
		}
	}
	return ids
}

// ReplaceRoot swaps in a new tree built by the sync engine. The focus
// is preserved when the focused pane survives, otherwise it moves to
// the first pre-order leaf. Only the sync engine calls this; the
// authority check is intentionally absent.
func (m *Manager) ReplaceRoot(root *Node) {
	m.tree.Root = root
	if !m.tree.Contains(m.focused) {
		m.focused = m.tree.FirstLeaf()
	}
	if m.broadcastOn {
		live := make(map[ID]struct{})
		for _, id := range m.tree.IDs() {
			if _, ok := m.broadcast[id]; ok {
				live[id] = struct{}{}
			}
		}
		m.broadcast = live
	}
}

// Alloc returns the shared pane ID allocator.
func (m *Manager) Alloc() *Allocator { return m.alloc }
