package app

import (
	"context"
	"errors"
	"strings"
	"time"

	tea "charm.land/bubbletea/v2"

	"github.com/paulrobello/parmux/internal/control"
	"github.com/paulrobello/parmux/internal/input"
	"github.com/paulrobello/parmux/internal/pane"
)

// notificationMsg carries one remote event into the update loop.
type notificationMsg struct {
	n control.Notification
}

// sessionClosedMsg fires when the notification channel drains after
// the connection ended.
type sessionClosedMsg struct{}

// remoteErrMsg reports a failed upstream command.
type remoteErrMsg struct {
	err error
}

// requestTimeout bounds upstream commands issued from key handling.
const requestTimeout = 10 * time.Second

// Init starts the notification pump when a session is attached.
func (w *Workspace) Init() tea.Cmd {
	if w.sess == nil {
		return nil
	}
	return listenNotifications(w.sess.Notifications())
}

// listenNotifications blocks on the session stream and feeds events
// into Update one at a time, preserving arrival order.
func listenNotifications(ch <-chan control.Notification) tea.Cmd {
	return func() tea.Msg {
		n, ok := <-ch
		if !ok {
			return sessionClosedMsg{}
		}
		return notificationMsg{n: n}
	}
}

// remoteCmd runs an upstream request off the update loop.
func remoteCmd(fn func(context.Context) error) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		if err := fn(ctx); err != nil {
			return remoteErrMsg{err: err}
		}
		return nil
	}
}

func (w *Workspace) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch m := msg.(type) {
	case tea.WindowSizeMsg:
		w.width, w.height = m.Width, m.Height
		w.layoutTabs()
		for _, t := range w.tabs {
			w.resizeHandles(t)
		}
		if w.engine != nil && !w.engine.Detached() {
			cols, rows := m.Width, m.Height-1
			return w, remoteCmd(func(ctx context.Context) error {
				return w.engine.Refresh(ctx, cols, rows)
			})
		}
		return w, nil

	case notificationMsg:
		if w.engine != nil {
			if err := w.engine.HandleNotification(m.n); err != nil {
				w.logger.Warn("notification rejected", "err", err)
				w.status = err.Error()
			}
			w.layoutTabs()
		}
		if w.quitting {
			w.Cleanup()
			return w, tea.Quit
		}
		return w, listenNotifications(w.sess.Notifications())

	case sessionClosedMsg:
		if w.engine != nil && !w.engine.Detached() {
			w.engine.Detach("connection closed")
		}
		return w, nil

	case remoteErrMsg:
		w.logger.Warn("remote command failed", "err", m.err)
		w.status = m.err.Error()
		return w, nil

	case tea.KeyPressMsg:
		return w.handleKey(m)

	case tea.MouseClickMsg:
		return w.handleClick(m)
	}
	return w, nil
}

func (w *Workspace) handleKey(msg tea.KeyPressMsg) (tea.Model, tea.Cmd) {
	if w.prefix {
		w.prefix = false
		return w.handlePrefixKey(msg)
	}
	if matchesPrefix(msg, w.cfg.Input.PrefixKey) {
		w.prefix = true
		return w, nil
	}

	t := w.ActiveTab()
	if t == nil {
		return w, nil
	}
	st := input.State{
		Focused:   t.Mgr.Focused(),
		Broadcast: t.Mgr.BroadcastSet(),
	}
	routing, ok := input.Route(msg, st)
	if !ok {
		return w, nil
	}
	for _, id := range routing.Targets {
		if h, found := w.reg.Get(id); found {
			if err := h.Write(routing.Data); err != nil {
				w.logger.Debug("write to pane failed", "pane", id, "err", err)
			}
		}
	}
	return w, nil
}

// handlePrefixKey runs one pane command. On mirrored tabs, structural
// commands go upstream instead of touching the tree.
func (w *Workspace) handlePrefixKey(msg tea.KeyPressMsg) (tea.Model, tea.Cmd) {
	t := w.ActiveTab()
	if t == nil {
		return w, nil
	}
	mgr := t.Mgr

	switch {
	case msg.Code == tea.KeyEscape:
		return w, nil

	case msg.Text == "%":
		return w.splitActive(pane.Horizontal)
	case msg.Text == `"`:
		return w.splitActive(pane.Vertical)

	case msg.Text == "x":
		return w.closeActivePane()

	case msg.Code == tea.KeyUp && msg.Mod == 0:
		return w.navigate(pane.NavUp)
	case msg.Code == tea.KeyDown && msg.Mod == 0:
		return w.navigate(pane.NavDown)
	case msg.Code == tea.KeyLeft && msg.Mod == 0:
		return w.navigate(pane.NavLeft)
	case msg.Code == tea.KeyRight && msg.Mod == 0:
		return w.navigate(pane.NavRight)

	case msg.Code == tea.KeyUp && msg.Mod == tea.ModShift:
		return w.resize(pane.NavUp)
	case msg.Code == tea.KeyDown && msg.Mod == tea.ModShift:
		return w.resize(pane.NavDown)
	case msg.Code == tea.KeyLeft && msg.Mod == tea.ModShift:
		return w.resize(pane.NavLeft)
	case msg.Code == tea.KeyRight && msg.Mod == tea.ModShift:
		return w.resize(pane.NavRight)

	case msg.Text == "b":
		if mgr.ToggleBroadcast() {
			w.status = "broadcast on"
		} else {
			w.status = "broadcast off"
		}
		return w, nil

	case msg.Text == "c":
		if w.engine != nil && !w.engine.Detached() {
			return w, remoteCmd(func(ctx context.Context) error {
				return w.engine.RequestNewWindow(ctx)
			})
		}
		w.addLocalTab()
		return w, nil

	case msg.Text == "t":
		w.addLocalTab()
		return w, nil

	case msg.Text == "&":
		if t.Remote {
			tabID := t.ID
			return w, remoteCmd(func(ctx context.Context) error {
				return w.engine.RequestCloseWindow(ctx, tabID)
			})
		}
		w.closeTabAt(w.active)
		if w.quitting {
			w.Cleanup()
			return w, tea.Quit
		}
		return w, nil

	case msg.Text == "n":
		return w.selectTab((w.active + 1) % len(w.tabs))
	case msg.Text == "p":
		return w.selectTab((w.active - 1 + len(w.tabs)) % len(w.tabs))

	case msg.Text == "d":
		if w.engine != nil && !w.engine.Detached() {
			w.engine.Detach("detach requested")
			_ = w.sess.Close()
		}
		return w, nil

	case msg.Text == "q":
		w.quitting = true
		w.reg.CloseAll()
		if w.sess != nil {
			_ = w.sess.Close()
		}
		return w, tea.Quit
	}
	return w, nil
}

func (w *Workspace) splitActive(dir pane.Direction) (tea.Model, tea.Cmd) {
	t := w.ActiveTab()
	if t.Remote {
		focused := t.Mgr.Focused()
		return w, remoteCmd(func(ctx context.Context) error {
			return w.engine.RequestSplit(ctx, focused, dir)
		})
	}
	newID, err := t.Mgr.SplitPane(t.Mgr.Focused(), dir, 0.5)
	if err != nil {
		w.status = err.Error()
		return w, nil
	}
	w.spawnShell(t.Mgr, newID)
	w.resizeHandles(t)
	return w, nil
}

func (w *Workspace) closeActivePane() (tea.Model, tea.Cmd) {
	t := w.ActiveTab()
	if t.Remote {
		focused := t.Mgr.Focused()
		return w, remoteCmd(func(ctx context.Context) error {
			return w.engine.RequestClose(ctx, focused)
		})
	}
	closed, err := t.Mgr.ClosePane(t.Mgr.Focused())
	if errors.Is(err, pane.ErrLastPane) {
		w.closeTabAt(w.active)
		if w.quitting {
			w.Cleanup()
			return w, tea.Quit
		}
		return w, nil
	}
	if err != nil {
		w.status = err.Error()
		return w, nil
	}
	_ = w.reg.Destroy(closed)
	w.resizeHandles(t)
	return w, nil
}

func (w *Workspace) navigate(nav pane.NavDirection) (tea.Model, tea.Cmd) {
	t := w.ActiveTab()
	if !t.Mgr.Navigate(nav) {
		return w, nil
	}
	if t.Remote {
		focused := t.Mgr.Focused()
		return w, remoteCmd(func(ctx context.Context) error {
			return w.engine.RequestFocus(ctx, focused)
		})
	}
	return w, nil
}

func (w *Workspace) resize(nav pane.NavDirection) (tea.Model, tea.Cmd) {
	t := w.ActiveTab()
	if t.Remote {
		focused := t.Mgr.Focused()
		return w, remoteCmd(func(ctx context.Context) error {
			return w.engine.RequestResize(ctx, focused, nav, 2)
		})
	}
	if err := t.Mgr.ResizeFocused(nav, w.cfg.Layout.ResizeStep); err != nil {
		w.status = err.Error()
		return w, nil
	}
	w.resizeHandles(t)
	return w, nil
}

func (w *Workspace) selectTab(idx int) (tea.Model, tea.Cmd) {
	if idx < 0 || idx >= len(w.tabs) || idx == w.active {
		return w, nil
	}
	w.active = idx
	t := w.tabs[idx]
	if t.Remote && w.engine != nil && !w.engine.Detached() {
		tabID := t.ID
		return w, remoteCmd(func(ctx context.Context) error {
			return w.engine.RequestSelectWindow(ctx, tabID)
		})
	}
	return w, nil
}

func (w *Workspace) handleClick(msg tea.MouseClickMsg) (tea.Model, tea.Cmd) {
	t := w.ActiveTab()
	if t == nil {
		return w, nil
	}
	mouse := msg.Mouse()
	id, ok := t.Mgr.FocusAt(float64(mouse.X), float64(mouse.Y))
	if !ok {
		return w, nil
	}
	if t.Remote && w.engine != nil && !w.engine.Detached() {
		return w, remoteCmd(func(ctx context.Context) error {
			return w.engine.RequestFocus(ctx, id)
		})
	}
	return w, nil
}

// matchesPrefix tests a key press against a "ctrl+x" style binding.
func matchesPrefix(msg tea.KeyPressMsg, binding string) bool {
	parts := strings.Split(binding, "+")
	key := parts[len(parts)-1]
	var mod tea.KeyMod
	for _, p := range parts[:len(parts)-1] {
		switch p {
		case "ctrl":
			mod |= tea.ModCtrl
		case "alt":
			mod |= tea.ModAlt
		case "shift":
			mod |= tea.ModShift
		}
	}
	if len(key) != 1 {
		return false
	}
	return msg.Mod == mod && msg.Code == rune(key[0])
}
