// Package mirror keeps a local pane tree synchronized, in both
// directions, with the windows and panes of a remote control-mode
// session.
package mirror

import (
	"sync"

	"github.com/paulrobello/parmux/internal/control"
	"github.com/paulrobello/parmux/internal/pane"
)

// Mapping is the bidirectional correspondence between remote-assigned
// identifiers and local panes and tabs. It is owned by the engine and
// is the only place remote-to-local lookups happen. Lookups are safe
// from other goroutines; upstream requests resolve identifiers off the
// update loop.
type Mapping struct {
	mu           sync.RWMutex
	remotePane   map[control.PaneID]pane.ID
	localPane    map[pane.ID]control.PaneID
	remoteWindow map[control.WindowID]string
	localTab     map[string]control.WindowID
}

// NewMapping returns an empty mapping.
func NewMapping() *Mapping {
	return &Mapping{
		remotePane:   make(map[control.PaneID]pane.ID),
		localPane:    make(map[pane.ID]control.PaneID),
		remoteWindow: make(map[control.WindowID]string),
		localTab:     make(map[string]control.WindowID),
	}
}

// BindPane records a remote pane living in a local pane.
func (m *Mapping) BindPane(remote control.PaneID, local pane.ID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.remotePane[remote] = local
	m.localPane[local] = remote
}

// UnbindPane drops a remote pane's binding.
func (m *Mapping) UnbindPane(remote control.PaneID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if local, ok := m.remotePane[remote]; ok {
		delete(m.localPane, local)
		delete(m.remotePane, remote)
	}
}

// LocalPane resolves a remote pane to its local pane.
func (m *Mapping) LocalPane(remote control.PaneID) (pane.ID, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.remotePane[remote]
	return id, ok
}

// RemotePane resolves a local pane back to the remote pane it mirrors.
func (m *Mapping) RemotePane(local pane.ID) (control.PaneID, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.localPane[local]
	return id, ok
}

// BindWindow records a remote window living in a local tab.
func (m *Mapping) BindWindow(remote control.WindowID, tab string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.remoteWindow[remote] = tab
	m.localTab[tab] = remote
}

// UnbindWindow drops a remote window's binding.
func (m *Mapping) UnbindWindow(remote control.WindowID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if tab, ok := m.remoteWindow[remote]; ok {
		delete(m.localTab, tab)
		delete(m.remoteWindow, remote)
	}
}

// TabFor resolves a remote window to its local tab.
func (m *Mapping) TabFor(remote control.WindowID) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	tab, ok := m.remoteWindow[remote]
	return tab, ok
}

// WindowFor resolves a local tab to the remote window it mirrors.
func (m *Mapping) WindowFor(tab string) (control.WindowID, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	win, ok := m.localTab[tab]
	return win, ok
}

// Reset invalidates every binding, for session teardown.
func (m *Mapping) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.remotePane = make(map[control.PaneID]pane.ID)
	m.localPane = make(map[pane.ID]control.PaneID)
	m.remoteWindow = make(map[control.WindowID]string)
	m.localTab = make(map[string]control.WindowID)
}
