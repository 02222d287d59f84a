package mirror

import (
	"context"
	"fmt"

	"github.com/charmbracelet/log"

	"github.com/paulrobello/parmux/internal/control"
	"github.com/paulrobello/parmux/internal/pane"
	"github.com/paulrobello/parmux/internal/terminal"
)

// Commander issues commands on the control connection. Satisfied by
// *control.Session; tests substitute a recorder.
type Commander interface {
	Send(ctx context.Context, cmd string) (control.Reply, error)
}

// Host is the tab container the engine drives. The engine decides what
// happens to tabs bound to remote windows; the host owns their
// presentation and ordering.
type Host interface {
	// CreateRemoteTab opens a tab for a remote window and returns its
	// ID plus its pane manager. The manager arrives remote-managed.
	CreateRemoteTab(title string) (string, *pane.Manager)
	CloseTab(tabID string)
	RetitleTab(tabID, title string)
	SessionRenamed(name string)
	// Detached fires once after the connection ends and every mirrored
	// tab has been handed back to local control.
	Detached()
}

// windowState is the engine's view of one remote window.
type windowState struct {
	tab      string
	mgr      *pane.Manager
	snapshot *control.Layout // last successfully applied layout
}

// Engine reconciles remote windows into local tabs. Every structural
// change to a mirrored tab originates here; user intents on mirrored
// tabs go upstream as commands and come back as notifications.
//
// The engine is not safe for concurrent use. All calls happen on the
// update loop that drains the session's notification channel.
type Engine struct {
	cmds   Commander
	host   Host
	reg    *terminal.Registry
	logger *log.Logger

	mapping  *Mapping
	windows  map[control.WindowID]*windowState
	session  string
	detached bool
}

// NewEngine binds a control connection to a tab host.
func NewEngine(cmds Commander, host Host, reg *terminal.Registry, logger *log.Logger) *Engine {
	if logger == nil {
		logger = log.Default()
	}
	return &Engine{
		cmds:    cmds,
		host:    host,
		reg:     reg,
		logger:  logger,
		mapping: NewMapping(),
		windows: make(map[control.WindowID]*windowState),
	}
}

// Mapping exposes the identifier table, mainly for tests.
func (e *Engine) Mapping() *Mapping { return e.mapping }

// SessionName returns the name of the mirrored session.
func (e *Engine) SessionName() string { return e.session }

// Detached reports whether the remote side is gone.
func (e *Engine) Detached() bool { return e.detached }

// HandleNotification applies one remote event. Parse failures on a
// layout leave the previous state untouched and are returned to the
// caller for logging; the connection itself stays usable.
func (e *Engine) HandleNotification(n control.Notification) error {
	if e.detached {
		return nil
	}
	switch v := n.(type) {
	case control.Output:
		e.routeOutput(v)
	case control.LayoutChange:
		return e.applyLayout(v)
	case control.WindowAdd:
		e.ensureWindow(v.Window, "")
	case control.WindowClose:
		e.closeWindow(v.Window)
	case control.WindowRenamed:
		if ws, ok := e.windows[v.Window]; ok {
			e.host.RetitleTab(ws.tab, v.Name)
		}
	case control.SessionChanged:
		e.session = v.Name
		e.host.SessionRenamed(v.Name)
	case control.SessionRenamed:
		e.session = v.Name
		e.host.SessionRenamed(v.Name)
	case control.PaneFocusChanged:
		e.applyFocus(v)
	case control.ClientDetached:
		e.logger.Debug("client detached", "client", v.Client)
	case control.Exit:
		e.Detach(v.Reason)
	}
	return nil
}

func (e *Engine) routeOutput(o control.Output) {
	local, ok := e.mapping.LocalPane(o.Pane)
	if !ok {
		// Output can trail a pane's close notification; drop it.
		e.logger.Debug("output for unmapped pane", "pane", o.Pane)
		return
	}
	e.reg.Feed(local, o.Data)
}

// applyLayout reconciles one window against a fresh layout string.
// Surviving remote panes keep their local pane and handle; additions
// get new ones; removals are destroyed after the swap. The swap is all
// or nothing: a parse error or a layout past the pane ceiling changes
// no local state.
func (e *Engine) applyLayout(lc control.LayoutChange) error {
	parsed, err := control.ParseLayout(lc.Layout)
	if err != nil {
		return fmt.Errorf("layout for %s: %w", lc.Window, err)
	}
	ws := e.ensureWindow(lc.Window, "")

	newIDs := parsed.PaneIDs()
	// ReplaceRoot installs whatever it is given, so the ceiling is
	// enforced here. Rejecting before any staging keeps the swap all
	// or nothing.
	if len(newIDs) > ws.mgr.MaxPanes() {
		return fmt.Errorf("layout for %s has %d panes: %w", lc.Window, len(newIDs), pane.ErrPaneLimit)
	}
	newSet := make(map[control.PaneID]struct{}, len(newIDs))
	locals := make(map[control.PaneID]pane.ID, len(newIDs))
	var added []control.PaneID
	for _, rp := range newIDs {
		newSet[rp] = struct{}{}
		if local, ok := e.mapping.LocalPane(rp); ok {
			locals[rp] = local
			continue
		}
		locals[rp] = ws.mgr.Alloc().Next()
		added = append(added, rp)
	}

	root := parsed.BuildTree(func(rp control.PaneID) pane.ID { return locals[rp] })
	ws.mgr.ReplaceRoot(root)

	for _, rp := range added {
		rp := rp
		e.mapping.BindPane(rp, locals[rp])
		e.reg.CreateRemote(locals[rp], func(data []byte) error {
			return e.sendKeys(rp, data)
		})
	}
	if ws.snapshot != nil {
		for _, rp := range ws.snapshot.PaneIDs() {
			if _, ok := newSet[rp]; ok {
				continue
			}
			if local, ok := e.mapping.LocalPane(rp); ok {
				_ = e.reg.Destroy(local)
			}
			e.mapping.UnbindPane(rp)
		}
	}
	ws.snapshot = parsed
	return nil
}

func (e *Engine) applyFocus(fc control.PaneFocusChanged) {
	ws, ok := e.windows[fc.Window]
	if !ok {
		return
	}
	local, ok := e.mapping.LocalPane(fc.Pane)
	if !ok {
		return
	}
	if err := ws.mgr.Focus(local); err != nil {
		e.logger.Debug("remote focus for stale pane", "pane", fc.Pane)
	}
}

// ensureWindow returns the state for a window, creating its tab on
// first sight. Layout changes can race ahead of window-add.
func (e *Engine) ensureWindow(win control.WindowID, title string) *windowState {
	if ws, ok := e.windows[win]; ok {
		return ws
	}
	if title == "" {
		title = win.String()
	}
	tab, mgr := e.host.CreateRemoteTab(title)
	mgr.SetAuthority(pane.AuthorityRemote)
	ws := &windowState{tab: tab, mgr: mgr}
	e.windows[win] = ws
	e.mapping.BindWindow(win, tab)
	return ws
}

func (e *Engine) closeWindow(win control.WindowID) {
	ws, ok := e.windows[win]
	if !ok {
		return
	}
	if ws.snapshot != nil {
		for _, rp := range ws.snapshot.PaneIDs() {
			if local, ok := e.mapping.LocalPane(rp); ok {
				_ = e.reg.Destroy(local)
			}
			e.mapping.UnbindPane(rp)
		}
	}
	e.mapping.UnbindWindow(win)
	delete(e.windows, win)
	e.host.CloseTab(ws.tab)
}

// Detach hands every mirrored tab back to local control. Panes, their
// handles and the focus survive as they stand; only the bindings and
// snapshots are dropped.
func (e *Engine) Detach(reason string) {
	if e.detached {
		return
	}
	e.detached = true
	if reason != "" {
		e.logger.Info("control session ended", "reason", reason)
	}
	for _, ws := range e.windows {
		ws.mgr.SetAuthority(pane.AuthorityLocal)
		ws.snapshot = nil
	}
	e.mapping.Reset()
	e.host.Detached()
}

// sendKeys is the write path of mirrored panes.
func (e *Engine) sendKeys(rp control.PaneID, data []byte) error {
	_, err := e.cmds.Send(context.Background(), control.SendKeys(rp, data))
	return err
}

// Upstream intents. Local gestures on a mirrored tab never mutate the
// tree directly; they are translated into commands, and the resulting
// notifications drive the actual change.

// RequestSplit asks the remote side to split the pane mirrored by a
// local pane.
func (e *Engine) RequestSplit(ctx context.Context, local pane.ID, dir pane.Direction) error {
	rp, ok := e.mapping.RemotePane(local)
	if !ok {
		return pane.ErrNotFound
	}
	_, err := e.cmds.Send(ctx, control.SplitWindow(rp, dir))
	return err
}

// RequestClose asks the remote side to close a mirrored pane.
func (e *Engine) RequestClose(ctx context.Context, local pane.ID) error {
	rp, ok := e.mapping.RemotePane(local)
	if !ok {
		return pane.ErrNotFound
	}
	_, err := e.cmds.Send(ctx, control.KillPane(rp))
	return err
}

// RequestFocus mirrors a local focus change upstream so both sides
// agree on the active pane.
func (e *Engine) RequestFocus(ctx context.Context, local pane.ID) error {
	rp, ok := e.mapping.RemotePane(local)
	if !ok {
		return pane.ErrNotFound
	}
	_, err := e.cmds.Send(ctx, control.SelectPane(rp))
	return err
}

// RequestResize asks the remote side to grow a mirrored pane by cells
// in a heading.
func (e *Engine) RequestResize(ctx context.Context, local pane.ID, nav pane.NavDirection, cells int) error {
	rp, ok := e.mapping.RemotePane(local)
	if !ok {
		return pane.ErrNotFound
	}
	_, err := e.cmds.Send(ctx, control.ResizePane(rp, nav, cells))
	return err
}

// RequestNewWindow opens a fresh remote window, which arrives back as
// a window-add.
func (e *Engine) RequestNewWindow(ctx context.Context) error {
	_, err := e.cmds.Send(ctx, control.NewWindow())
	return err
}

// RequestCloseWindow closes the remote window behind a tab.
func (e *Engine) RequestCloseWindow(ctx context.Context, tabID string) error {
	win, ok := e.mapping.WindowFor(tabID)
	if !ok {
		return pane.ErrNotFound
	}
	_, err := e.cmds.Send(ctx, control.KillWindow(win))
	return err
}

// RequestSelectWindow makes a tab's remote window the active one.
func (e *Engine) RequestSelectWindow(ctx context.Context, tabID string) error {
	win, ok := e.mapping.WindowFor(tabID)
	if !ok {
		return pane.ErrNotFound
	}
	_, err := e.cmds.Send(ctx, control.SelectWindow(win))
	return err
}

// Refresh reports the local client size upstream.
func (e *Engine) Refresh(ctx context.Context, cols, rows int) error {
	_, err := e.cmds.Send(ctx, control.RefreshClient(cols, rows))
	return err
}

// ManagerFor returns the pane manager mirroring a remote window.
func (e *Engine) ManagerFor(win control.WindowID) (*pane.Manager, bool) {
	ws, ok := e.windows[win]
	if !ok {
		return nil, false
	}
	return ws.mgr, true
}
