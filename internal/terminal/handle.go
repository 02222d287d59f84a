// Package terminal is the boundary to the terminal-core: it owns the
// per-pane handle table and two handle backends, a local PTY running
// the user's shell and a remote-fed sink for mirrored panes. Cell
// content never crosses this boundary as anything but opaque bytes.
package terminal

import (
	"errors"
	"os"
	"os/exec"
	"runtime"
	"sync"

	"github.com/charmbracelet/x/xpty"

	"github.com/paulrobello/parmux/internal/pane"
)

// ErrHandleClosed is returned for writes to a closed handle.
var ErrHandleClosed = errors.New("terminal handle closed")

// Handle is one pane's terminal endpoint. Output is a live stream:
// it is not restartable, a consumer that drops it re-subscribes by
// calling Output again.
type Handle interface {
	Write(data []byte) error
	Output() <-chan []byte
	Resize(cols, rows int) error
	Close() error
}

// localHandle runs the user's shell on a PTY.
type localHandle struct {
	pty xpty.Pty
	cmd *exec.Cmd

	mu     sync.Mutex
	out    chan []byte
	closed bool
}

func newLocalHandle(cols, rows int) (*localHandle, error) {
	if cols <= 0 {
		cols = 80
	}
	if rows <= 0 {
		rows = 24
	}
	p, err := xpty.NewPty(cols, rows)
	if err != nil {
		return nil, err
	}

	cmd := exec.Command(defaultShell())
	cmd.Env = append(os.Environ(), "TERM=xterm-256color")
	if err := p.Start(cmd); err != nil {
		_ = p.Close()
		return nil, err
	}

	h := &localHandle{pty: p, cmd: cmd, out: make(chan []byte, 64)}
	go h.readLoop()
	return h, nil
}

func (h *localHandle) readLoop() {
	buf := make([]byte, 4096)
	for {
		n, err := h.pty.Read(buf)
		if n > 0 {
			data := make([]byte, n)
			copy(data, buf[:n])
			select {
			case h.out <- data:
			default:
				// Consumer fell behind; drop the chunk rather than
				// block the PTY reader.
			}
		}
		if err != nil {
			h.mu.Lock()
			if !h.closed {
				h.closed = true
				close(h.out)
			}
			h.mu.Unlock()
			return
		}
	}
}

func (h *localHandle) Write(data []byte) error {
	h.mu.Lock()
	closed := h.closed
	h.mu.Unlock()
	if closed {
		return ErrHandleClosed
	}
	_, err := h.pty.Write(data)
	return err
}

func (h *localHandle) Output() <-chan []byte { return h.out }

func (h *localHandle) Resize(cols, rows int) error {
	return h.pty.Resize(cols, rows)
}

func (h *localHandle) Close() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	h.mu.Unlock()

	err := h.pty.Close()
	if h.cmd.Process != nil {
		_ = h.cmd.Process.Kill()
		_, _ = h.cmd.Process.Wait()
	}
	return err
}

func defaultShell() string {
	if shell := os.Getenv("SHELL"); shell != "" {
		return shell
	}
	if runtime.GOOS == "windows" {
		return "cmd.exe"
	}
	return "/bin/sh"
}

// remoteHandle is fed by the sync engine with output routed from the
// remote session. Writes go back upstream through the sink, which
// encodes them as key input for the mapped remote pane.
type remoteHandle struct {
	sink func([]byte) error

	mu     sync.Mutex
	out    chan []byte
	closed bool
}

func newRemoteHandle(sink func([]byte) error) *remoteHandle {
	return &remoteHandle{sink: sink, out: make(chan []byte, 64)}
}

func (h *remoteHandle) Write(data []byte) error {
	h.mu.Lock()
	closed := h.closed
	h.mu.Unlock()
	if closed {
		return ErrHandleClosed
	}
	if h.sink == nil {
		return nil
	}
	return h.sink(data)
}

// Feed queues output bytes arriving from the remote session.
func (h *remoteHandle) Feed(data []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	select {
	case h.out <- data:
	default:
	}
}

func (h *remoteHandle) Output() <-chan []byte { return h.out }

// Resize is a no-op: the remote side sizes its own panes and reports
// them through layout notifications.
func (h *remoteHandle) Resize(cols, rows int) error { return nil }

func (h *remoteHandle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	h.closed = true
	close(h.out)
	return nil
}

// Registry is the handle table keyed by local pane ID.
type Registry struct {
	mu      sync.Mutex
	handles map[pane.ID]Handle
}

// NewRegistry returns an empty handle table.
func NewRegistry() *Registry {
	return &Registry{handles: make(map[pane.ID]Handle)}
}

// CreateLocal spawns a shell-backed handle for a pane.
func (r *Registry) CreateLocal(id pane.ID, cols, rows int) (Handle, error) {
	h, err := newLocalHandle(cols, rows)
	if err != nil {
		return nil, err
	}
	r.put(id, h)
	return h, nil
}

// CreateRemote registers a remote-fed handle for a pane. The sink
// receives bytes the user types into the pane.
func (r *Registry) CreateRemote(id pane.ID, sink func([]byte) error) Handle {
	h := newRemoteHandle(sink)
	r.put(id, h)
	return h
}

func (r *Registry) put(id pane.ID, h Handle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if old, ok := r.handles[id]; ok {
		_ = old.Close()
	}
	r.handles[id] = h
}

// Get looks up the handle for a pane.
func (r *Registry) Get(id pane.ID) (Handle, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.handles[id]
	return h, ok
}

// Feed routes remote output bytes into a remote-fed handle. Bytes for
// unknown or local panes are discarded; with no destination there is
// nothing useful to do with them.
func (r *Registry) Feed(id pane.ID, data []byte) bool {
	r.mu.Lock()
	h, ok := r.handles[id]
	r.mu.Unlock()
	if !ok {
		return false
	}
	rh, ok := h.(*remoteHandle)
	if !ok {
		return false
	}
	rh.Feed(data)
	return true
}

// Destroy closes and removes a pane's handle.
func (r *Registry) Destroy(id pane.ID) error {
	r.mu.Lock()
	h, ok := r.handles[id]
	delete(r.handles, id)
	r.mu.Unlock()
	if !ok {
		return nil
	}
	return h.Close()
}

// CloseAll tears down every handle, for shutdown.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	handles := r.handles
	r.handles = make(map[pane.ID]Handle)
	r.mu.Unlock()
	for _, h := range handles {
		_ = h.Close()
	}
}

// Count returns the number of live handles.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.handles)
}
