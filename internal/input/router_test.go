package input

import (
	"bytes"
	"testing"

	tea "charm.land/bubbletea/v2"

	"github.com/paulrobello/parmux/internal/pane"
)

func TestEncodeKey(t *testing.T) {
	tests := []struct {
		name string
		msg  tea.KeyPressMsg
		app  bool
		want []byte
	}{
		{"plain rune", tea.KeyPressMsg{Code: 'a', Text: "a"}, false, []byte("a")},
		{"shifted rune", tea.KeyPressMsg{Code: 'a', Mod: tea.ModShift, Text: "A"}, false, []byte("A")},
		{"enter", tea.KeyPressMsg{Code: tea.KeyEnter}, false, []byte("\r")},
		{"tab", tea.KeyPressMsg{Code: tea.KeyTab}, false, []byte("\t")},
		{"shift tab", tea.KeyPressMsg{Code: tea.KeyTab, Mod: tea.ModShift}, false, []byte("\x1b[Z")},
		{"backspace", tea.KeyPressMsg{Code: tea.KeyBackspace}, false, []byte{0x7f}},
		{"escape", tea.KeyPressMsg{Code: tea.KeyEscape}, false, []byte{0x1b}},
		{"ctrl+c", tea.KeyPressMsg{Code: 'c', Mod: tea.ModCtrl}, false, []byte{0x03}},
		{"ctrl+space", tea.KeyPressMsg{Code: tea.KeySpace, Mod: tea.ModCtrl}, false, []byte{0x00}},
		{"alt+x", tea.KeyPressMsg{Code: 'x', Mod: tea.ModAlt, Text: "x"}, false, []byte("\x1bx")},
		{"alt+enter", tea.KeyPressMsg{Code: tea.KeyEnter, Mod: tea.ModAlt}, false, []byte("\x1b\r")},
		{"up normal", tea.KeyPressMsg{Code: tea.KeyUp}, false, []byte("\x1b[A")},
		{"up application", tea.KeyPressMsg{Code: tea.KeyUp}, true, []byte("\x1bOA")},
		{"left normal", tea.KeyPressMsg{Code: tea.KeyLeft}, false, []byte("\x1b[D")},
		{"delete", tea.KeyPressMsg{Code: tea.KeyDelete}, false, []byte("\x1b[3~")},
		{"page up", tea.KeyPressMsg{Code: tea.KeyPgUp}, false, []byte("\x1b[5~")},
		{"f1", tea.KeyPressMsg{Code: tea.KeyF1}, false, []byte("\x1bOP")},
		{"f5", tea.KeyPressMsg{Code: tea.KeyF5}, false, []byte("\x1b[15~")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := EncodeKey(tt.msg, tt.app); !bytes.Equal(got, tt.want) {
				t.Errorf("EncodeKey = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestRouteKeyToFocusedPane(t *testing.T) {
	st := State{Focused: 3}
	r, ok := Route(tea.KeyPressMsg{Code: 'a', Text: "a"}, st)
	if !ok {
		t.Fatal("expected a routing")
	}
	if len(r.Targets) != 1 || r.Targets[0] != 3 {
		t.Errorf("targets = %v, want [3]", r.Targets)
	}
	if string(r.Data) != "a" {
		t.Errorf("data = %q", r.Data)
	}
}

func TestRouteKeyBroadcast(t *testing.T) {
	st := State{Focused: 3, Broadcast: []pane.ID{1, 2, 3}}
	r, ok := Route(tea.KeyPressMsg{Code: tea.KeyEnter}, st)
	if !ok {
		t.Fatal("expected a routing")
	}
	if len(r.Targets) != 3 {
		t.Errorf("targets = %v, want all three panes", r.Targets)
	}
	if string(r.Data) != "\r" {
		t.Errorf("data = %q", r.Data)
	}
}

func TestRouteNoFocusedPane(t *testing.T) {
	if _, ok := Route(tea.KeyPressMsg{Code: 'a', Text: "a"}, State{}); ok {
		t.Error("routing without a focused pane should fail")
	}
}

func TestRouteMouseClickFocusesPane(t *testing.T) {
	st := State{
		Focused: 1,
		Bounds: map[pane.ID]pane.Rect{
			1: {X: 0, Y: 0, Width: 40, Height: 20},
			2: {X: 40, Y: 0, Width: 40, Height: 20},
		},
	}
	r, ok := Route(tea.MouseClickMsg{X: 50, Y: 5, Button: tea.MouseLeft}, st)
	if !ok {
		t.Fatal("expected a routing")
	}
	if r.Focus != 2 {
		t.Errorf("focus = %d, want 2", r.Focus)
	}
	if len(r.Targets) != 0 {
		t.Errorf("click should not carry key data, got targets %v", r.Targets)
	}
}

func TestRouteMouseClickOutsidePanes(t *testing.T) {
	st := State{
		Focused: 1,
		Bounds:  map[pane.ID]pane.Rect{1: {Width: 10, Height: 10}},
	}
	if _, ok := Route(tea.MouseClickMsg{X: 99, Y: 99, Button: tea.MouseLeft}, st); ok {
		t.Error("click outside every pane should not route")
	}
}
