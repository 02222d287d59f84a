package control

import (
	"testing"

	"github.com/paulrobello/parmux/internal/pane"
)

func TestSendKeysEscaping(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		want string
	}{
		{"printable run", []byte("ls"), "send-keys -t %1 'ls'"},
		{"space splits runs", []byte("a b"), "send-keys -t %1 'a' Space 'b'"},
		{"control keys", []byte{0x03}, "send-keys -t %1 C-c"},
		{"nul", []byte{0x00}, "send-keys -t %1 C-Space"},
		{"escape", []byte{0x1b}, "send-keys -t %1 Escape"},
		{"backspace", []byte{0x7f}, "send-keys -t %1 BSpace"},
		{"enter", []byte{0x0d}, "send-keys -t %1 C-m"},
		{"high byte", []byte{0xc3}, "send-keys -t %1 0xc3"},
		{"quote in run", []byte("it's"), `send-keys -t %1 'it'\''s'`},
		{"mixed", []byte("vim\r"), "send-keys -t %1 'vim' C-m"},
		{"arrow sequence", []byte{0x1b, '[', 'A'}, "send-keys -t %1 Escape '[A'"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SendKeys(1, tt.data); got != tt.want {
				t.Errorf("SendKeys(%q) = %q, want %q", tt.data, got, tt.want)
			}
		})
	}
}

func TestSendKeysLiteral(t *testing.T) {
	got := SendKeysLiteral(2, "echo hi")
	if want := "send-keys -l -t %2 'echo hi'"; got != want {
		t.Errorf("SendKeysLiteral = %q, want %q", got, want)
	}
}

func TestCommandBuilders(t *testing.T) {
	tests := []struct {
		name string
		got  string
		want string
	}{
		{"split horizontal", SplitWindow(3, pane.Horizontal), "split-window -h -t %3"},
		{"split vertical", SplitWindow(3, pane.Vertical), "split-window -v -t %3"},
		{"kill pane", KillPane(4), "kill-pane -t %4"},
		{"select pane", SelectPane(5), "select-pane -t %5"},
		{"resize pane", ResizePane(5, pane.NavRight, 2), "resize-pane -R 2 -t %5"},
		{"select window", SelectWindow(2), "select-window -t @2"},
		{"kill window", KillWindow(2), "kill-window -t @2"},
		{"rename window", RenameWindow(2, "logs"), "rename-window -t @2 logs"},
		{"rename window quoted", RenameWindow(2, "build logs"), "rename-window -t @2 'build logs'"},
		{"refresh client", RefreshClient(178, 48), "refresh-client -C 178x48"},
		{"new session", CreateSession("work"), "new-session -d -s work"},
		{"kill session", KillSession("work"), "kill-session -t work"},
		{"attach session", AttachSession("work"), "attach-session -t work"},
		{"capture pane", CapturePane(6), "capture-pane -p -t %6"},
		{"list panes", ListPanes(1), `list-panes -t @1 -F "#{pane_id}"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %q, want %q", tt.got, tt.want)
			}
		})
	}
}
