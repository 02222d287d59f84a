package app

import (
	"bufio"
	"io"
	"net"
	"strings"
	"testing"
	"time"

	tea "charm.land/bubbletea/v2"
	"github.com/charmbracelet/log"

	"github.com/paulrobello/parmux/internal/config"
	"github.com/paulrobello/parmux/internal/control"
)

func testWorkspace() *Workspace {
	logger := log.New(io.Discard)
	return New(config.Default(), logger)
}

func press(w *Workspace, msg tea.KeyPressMsg) tea.Cmd {
	_, cmd := w.Update(msg)
	return cmd
}

func prefixThen(w *Workspace, msg tea.KeyPressMsg) tea.Cmd {
	press(w, tea.KeyPressMsg{Code: 'b', Mod: tea.ModCtrl})
	return press(w, msg)
}

func TestMatchesPrefix(t *testing.T) {
	tests := []struct {
		binding string
		msg     tea.KeyPressMsg
		want    bool
	}{
		{"ctrl+b", tea.KeyPressMsg{Code: 'b', Mod: tea.ModCtrl}, true},
		{"ctrl+b", tea.KeyPressMsg{Code: 'b'}, false},
		{"ctrl+b", tea.KeyPressMsg{Code: 'a', Mod: tea.ModCtrl}, false},
		{"ctrl+a", tea.KeyPressMsg{Code: 'a', Mod: tea.ModCtrl}, true},
		{"alt+x", tea.KeyPressMsg{Code: 'x', Mod: tea.ModAlt}, true},
		{"ctrl+b", tea.KeyPressMsg{Code: 'b', Mod: tea.ModCtrl | tea.ModShift}, false},
	}
	for _, tt := range tests {
		if got := matchesPrefix(tt.msg, tt.binding); got != tt.want {
			t.Errorf("matchesPrefix(%+v, %q) = %v, want %v", tt.msg, tt.binding, got, tt.want)
		}
	}
}

func TestWorkspaceStartsWithOneLocalTab(t *testing.T) {
	w := testWorkspace()
	if len(w.Tabs()) != 1 {
		t.Fatalf("tab count = %d, want 1", len(w.Tabs()))
	}
	tab := w.ActiveTab()
	if tab.Remote {
		t.Error("initial tab should be local")
	}
	if tab.Mgr.Count() != 1 {
		t.Errorf("pane count = %d, want 1", tab.Mgr.Count())
	}
}

func TestPrefixSplitGrowsTree(t *testing.T) {
	w := testWorkspace()
	w.Update(tea.WindowSizeMsg{Width: 120, Height: 40})

	prefixThen(w, tea.KeyPressMsg{Code: '%', Text: "%"})
	if got := w.ActiveTab().Mgr.Count(); got != 2 {
		t.Fatalf("pane count after split = %d, want 2", got)
	}

	prefixThen(w, tea.KeyPressMsg{Code: '"', Text: `"`})
	if got := w.ActiveTab().Mgr.Count(); got != 3 {
		t.Fatalf("pane count after second split = %d, want 3", got)
	}
}

func TestPrefixIsConsumedBySingleCommand(t *testing.T) {
	w := testWorkspace()
	prefixThen(w, tea.KeyPressMsg{Code: '%', Text: "%"})
	// A second % without the prefix must not split again.
	press(w, tea.KeyPressMsg{Code: '%', Text: "%"})
	if got := w.ActiveTab().Mgr.Count(); got != 2 {
		t.Fatalf("pane count = %d, want 2", got)
	}
}

func TestCloseLastPaneClosesTab(t *testing.T) {
	w := testWorkspace()
	prefixThen(w, tea.KeyPressMsg{Code: 't', Text: "t"})
	if len(w.Tabs()) != 2 {
		t.Fatalf("tab count = %d, want 2", len(w.Tabs()))
	}

	prefixThen(w, tea.KeyPressMsg{Code: 'x', Text: "x"})
	if len(w.Tabs()) != 1 {
		t.Fatalf("tab count after closing last pane = %d, want 1", len(w.Tabs()))
	}
}

func TestClosingLastTabQuits(t *testing.T) {
	w := testWorkspace()
	cmd := prefixThen(w, tea.KeyPressMsg{Code: 'x', Text: "x"})
	if cmd == nil {
		t.Fatal("closing the last tab should return a command")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Error("closing the last tab should quit")
	}
	if len(w.Tabs()) != 0 {
		t.Errorf("tab count = %d, want 0", len(w.Tabs()))
	}
}

func TestTabCycling(t *testing.T) {
	w := testWorkspace()
	prefixThen(w, tea.KeyPressMsg{Code: 't', Text: "t"})
	prefixThen(w, tea.KeyPressMsg{Code: 't', Text: "t"})
	if w.active != 2 {
		t.Fatalf("active = %d, want 2", w.active)
	}
	prefixThen(w, tea.KeyPressMsg{Code: 'n', Text: "n"})
	if w.active != 0 {
		t.Errorf("next from last tab should wrap, active = %d", w.active)
	}
	prefixThen(w, tea.KeyPressMsg{Code: 'p', Text: "p"})
	if w.active != 2 {
		t.Errorf("prev from first tab should wrap, active = %d", w.active)
	}
}

func TestBroadcastToggle(t *testing.T) {
	w := testWorkspace()
	prefixThen(w, tea.KeyPressMsg{Code: '%', Text: "%"})
	prefixThen(w, tea.KeyPressMsg{Code: 'b', Text: "b"})

	mgr := w.ActiveTab().Mgr
	if !mgr.Broadcasting() {
		t.Fatal("broadcast should be on")
	}
	if got := len(mgr.BroadcastSet()); got != 2 {
		t.Errorf("broadcast set size = %d, want 2", got)
	}
	prefixThen(w, tea.KeyPressMsg{Code: 'b', Text: "b"})
	if mgr.Broadcasting() {
		t.Error("broadcast should be off again")
	}
}

// attachPipe wires a workspace to an in-memory control connection and
// plays the remote side's greeting.
func attachPipe(t *testing.T, w *Workspace) (*bufio.Reader, net.Conn, tea.Cmd) {
	t.Helper()
	client, server := net.Pipe()
	sess := control.NewSession(client, control.Options{ReplyTimeout: 2 * time.Second})
	w.Attach(sess)
	t.Cleanup(func() {
		_ = sess.Close()
		_ = server.Close()
	})

	if _, err := server.Write([]byte("%begin 1 0 0\n%end 1 0 0\n")); err != nil {
		t.Fatalf("greeting: %v", err)
	}
	return bufio.NewReader(server), server, w.Init()
}

func TestAttachMirrorsRemoteWindow(t *testing.T) {
	w := testWorkspace()
	w.Update(tea.WindowSizeMsg{Width: 120, Height: 40})
	_, server, listen := attachPipe(t, w)

	layout := "%layout-change @1 160x48,0,0{80x48,0,0,0,79x48,81,0,1} 160x48,0,0{80x48,0,0,0,79x48,81,0,1} *\n"
	go func() {
		_, _ = server.Write([]byte(layout))
	}()

	msg := listen()
	if _, ok := msg.(notificationMsg); !ok {
		t.Fatalf("message = %T, want notificationMsg", msg)
	}
	w.Update(msg)

	if len(w.Tabs()) != 2 {
		t.Fatalf("tab count = %d, want local + mirrored", len(w.Tabs()))
	}
	remote := w.Tabs()[1]
	if !remote.Remote {
		t.Fatal("second tab should be mirrored")
	}
	if remote.Mgr.Count() != 2 {
		t.Errorf("mirrored pane count = %d, want 2", remote.Mgr.Count())
	}
}

func TestRemoteTabSplitGoesUpstream(t *testing.T) {
	w := testWorkspace()
	w.Update(tea.WindowSizeMsg{Width: 120, Height: 40})
	reader, server, listen := attachPipe(t, w)

	layout := "%layout-change @1 160x48,0,0,0 160x48,0,0,0 *\n"
	go func() {
		_, _ = server.Write([]byte(layout))
	}()
	w.Update(listen())

	w.active = 1
	paneCount := w.ActiveTab().Mgr.Count()

	cmd := prefixThen(w, tea.KeyPressMsg{Code: '%', Text: "%"})
	if cmd == nil {
		t.Fatal("remote split should return an upstream command")
	}

	// Serve the command's reply while the request runs.
	done := make(chan string, 1)
	go func() {
		line, err := reader.ReadString('\n')
		if err != nil {
			done <- ""
			return
		}
		_, _ = server.Write([]byte("%begin 2 1 0\n%end 2 1 0\n"))
		done <- strings.TrimSpace(line)
	}()

	if msg := cmd(); msg != nil {
		t.Fatalf("upstream command failed: %#v", msg)
	}
	select {
	case line := <-done:
		if line != "split-window -h -t %0" {
			t.Errorf("sent %q, want split-window for %%0", line)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("remote side saw no command")
	}

	// The local tree must not change until a layout notification does it.
	if got := w.ActiveTab().Mgr.Count(); got != paneCount {
		t.Errorf("pane count changed locally: %d -> %d", paneCount, got)
	}
}
