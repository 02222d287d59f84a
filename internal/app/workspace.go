// Package app is the interactive front end: a tab strip where every
// tab holds a split-pane tree, plus the glue binding local tabs to
// shells and mirrored tabs to a control session.
package app

import (
	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/paulrobello/parmux/internal/config"
	"github.com/paulrobello/parmux/internal/control"
	"github.com/paulrobello/parmux/internal/mirror"
	"github.com/paulrobello/parmux/internal/pane"
	"github.com/paulrobello/parmux/internal/terminal"
)

// Tab is one workspace tab. Remote tabs mirror a window of the control
// session and reject local structural edits until detach.
type Tab struct {
	ID     string
	Title  string
	Mgr    *pane.Manager
	Remote bool
}

// Workspace is the root model. One allocator and one handle registry
// are shared by every tab so pane IDs and handles stay process-unique.
type Workspace struct {
	cfg    *config.Config
	logger *log.Logger

	alloc *pane.Allocator
	reg   *terminal.Registry

	tabs   []*Tab
	active int

	sess    *control.Session
	engine  *mirror.Engine
	session string

	width, height int
	prefix        bool
	status        string
	quitting      bool
}

// New builds a workspace with one local tab. Attach wires a control
// session afterwards.
func New(cfg *config.Config, logger *log.Logger) *Workspace {
	if cfg == nil {
		cfg = config.Default()
	}
	if logger == nil {
		logger = log.Default()
	}
	w := &Workspace{
		cfg:    cfg,
		logger: logger,
		alloc:  &pane.Allocator{},
		reg:    terminal.NewRegistry(),
	}
	w.addLocalTab()
	return w
}

// Attach binds a connected control session. Remote windows arrive as
// tabs through the notification stream.
func (w *Workspace) Attach(sess *control.Session) {
	w.sess = sess
	w.engine = mirror.NewEngine(sess, w, w.reg, w.logger)
}

// Engine exposes the sync engine, mainly for tests.
func (w *Workspace) Engine() *mirror.Engine { return w.engine }

// Tabs returns the tab list in display order.
func (w *Workspace) Tabs() []*Tab { return w.tabs }

// ActiveTab returns the tab receiving input.
func (w *Workspace) ActiveTab() *Tab {
	if len(w.tabs) == 0 {
		return nil
	}
	return w.tabs[w.active]
}

func (w *Workspace) managerOptions() pane.Options {
	return pane.Options{
		MaxPanes: w.cfg.Layout.MaxPanes,
		MinRatio: w.cfg.Layout.MinRatio,
		MaxRatio: w.cfg.Layout.MaxRatio,
	}
}

// addLocalTab opens a tab with a single shell pane.
func (w *Workspace) addLocalTab() *Tab {
	mgr := pane.NewManager(w.alloc, w.managerOptions())
	t := &Tab{
		ID:    uuid.NewString(),
		Title: "shell",
		Mgr:   mgr,
	}
	if w.cfg.Input.BroadcastDefault {
		mgr.ToggleBroadcast()
	}
	w.tabs = append(w.tabs, t)
	w.active = len(w.tabs) - 1
	w.layoutTabs()
	w.spawnShell(mgr, mgr.Focused())
	return t
}

// spawnShell backs a local pane with a PTY. Failures leave the pane
// without a handle; input to it is dropped.
func (w *Workspace) spawnShell(mgr *pane.Manager, id pane.ID) {
	bounds := mgr.Bounds()[id]
	if _, err := w.reg.CreateLocal(id, int(bounds.Width), int(bounds.Height)); err != nil {
		w.logger.Error("failed to start shell", "pane", id, "err", err)
	}
}

// closeTabAt removes a tab and its pane handles. Closing the last tab
// ends the program.
func (w *Workspace) closeTabAt(idx int) {
	t := w.tabs[idx]
	for _, id := range t.Mgr.Tree().IDs() {
		_ = w.reg.Destroy(id)
	}
	w.tabs = append(w.tabs[:idx], w.tabs[idx+1:]...)
	if w.active >= len(w.tabs) {
		w.active = len(w.tabs) - 1
	}
	if len(w.tabs) == 0 {
		w.quitting = true
	}
}

func (w *Workspace) tabIndex(id string) int {
	for i, t := range w.tabs {
		if t.ID == id {
			return i
		}
	}
	return -1
}

// layoutTabs recomputes each tab's content area. Row zero is the tab
// bar; everything below belongs to panes.
func (w *Workspace) layoutTabs() {
	width, height := w.width, w.height
	if width <= 0 {
		width = 80
	}
	if height <= 1 {
		height = 24
	}
	area := pane.Rect{Y: 1, Width: float64(width), Height: float64(height - 1)}
	for _, t := range w.tabs {
		t.Mgr.SetArea(area)
	}
}

// resizeHandles pushes fresh pane sizes to local PTYs.
func (w *Workspace) resizeHandles(t *Tab) {
	for id, r := range t.Mgr.Bounds() {
		if h, ok := w.reg.Get(id); ok {
			_ = h.Resize(int(r.Width), int(r.Height))
		}
	}
}

// Host surface driven by the sync engine.

// CreateRemoteTab opens a tab for a remote window.
func (w *Workspace) CreateRemoteTab(title string) (string, *pane.Manager) {
	mgr := pane.NewManager(w.alloc, w.managerOptions())
	t := &Tab{
		ID:     uuid.NewString(),
		Title:  title,
		Mgr:    mgr,
		Remote: true,
	}
	w.tabs = append(w.tabs, t)
	w.layoutTabs()
	return t.ID, mgr
}

// CloseTab removes the tab mirroring a closed remote window.
func (w *Workspace) CloseTab(tabID string) {
	if idx := w.tabIndex(tabID); idx >= 0 {
		// Handles are already destroyed by the engine.
		w.tabs = append(w.tabs[:idx], w.tabs[idx+1:]...)
		if w.active >= len(w.tabs) {
			w.active = len(w.tabs) - 1
		}
		if len(w.tabs) == 0 {
			w.quitting = true
		}
	}
}

// RetitleTab applies a remote window rename.
func (w *Workspace) RetitleTab(tabID, title string) {
	if idx := w.tabIndex(tabID); idx >= 0 {
		w.tabs[idx].Title = title
	}
}

// SessionRenamed records the mirrored session's name for the tab bar.
func (w *Workspace) SessionRenamed(name string) {
	w.session = name
}

// Cleanup tears down shells and the control connection after the
// program loop exits.
func (w *Workspace) Cleanup() {
	w.reg.CloseAll()
	if w.sess != nil {
		_ = w.sess.Close()
	}
}

// Detached marks every mirrored tab as local again. The engine has
// already flipped their authority; panes and focus stand as they were.
func (w *Workspace) Detached() {
	for _, t := range w.tabs {
		t.Remote = false
	}
	w.status = "detached, panes are now local"
}
