// Package input maps window input events to destination panes and the
// byte payload to deliver. The router is stateless: it never writes to
// terminal handles, it only decides who gets what.
package input

import (
	tea "charm.land/bubbletea/v2"

	"github.com/paulrobello/parmux/internal/pane"
)

// State is the slice of tab state a routing decision needs.
type State struct {
	Focused   pane.ID
	Broadcast []pane.ID // non-nil only while broadcast mode is on
	Bounds    map[pane.ID]pane.Rect

	// AppCursorKeys selects SS3 arrow encoding for panes whose
	// application enabled DECCKM.
	AppCursorKeys bool
}

// Routing is the outcome of one event: the panes to deliver to, the
// bytes to deliver, and an optional focus change for pointer events.
type Routing struct {
	Targets []pane.ID
	Data    []byte
	Focus   pane.ID
}

// Route maps one event. It reports false for events that produce no
// pane-directed action, such as unmapped keys or clicks outside every
// pane.
func Route(msg tea.Msg, st State) (Routing, bool) {
	switch m := msg.(type) {
	case tea.KeyPressMsg:
		data := EncodeKey(m, st.AppCursorKeys)
		if len(data) == 0 {
			return Routing{}, false
		}
		targets := st.Broadcast
		if targets == nil {
			if st.Focused == 0 {
				return Routing{}, false
			}
			targets = []pane.ID{st.Focused}
		}
		return Routing{Targets: targets, Data: data}, true

	case tea.MouseClickMsg:
		mouse := m.Mouse()
		for id, r := range st.Bounds {
			if r.Contains(float64(mouse.X), float64(mouse.Y)) {
				return Routing{Focus: id}, true
			}
		}
		return Routing{}, false
	}
	return Routing{}, false
}

// EncodeKey serializes a key press into the bytes a terminal expects.
// Alt prefixes ESC, Ctrl folds letters into control bytes, and special
// keys use their conventional escape sequences.
func EncodeKey(msg tea.KeyPressMsg, appCursorKeys bool) []byte {
	base := encodeBase(msg, appCursorKeys)
	if len(base) == 0 {
		return nil
	}
	if msg.Mod&tea.ModAlt != 0 {
		return append([]byte{0x1b}, base...)
	}
	return base
}

func encodeBase(msg tea.KeyPressMsg, appCursorKeys bool) []byte {
	if msg.Mod&tea.ModCtrl != 0 {
		c := msg.Code
		if c >= 'a' && c <= 'z' {
			return []byte{byte(c) & 0x1f}
		}
		switch c {
		case tea.KeySpace, '@':
			return []byte{0x00}
		case '[':
			return []byte{0x1b}
		case '\\':
			return []byte{0x1c}
		case ']':
			return []byte{0x1d}
		case '^':
			return []byte{0x1e}
		case '_', '/':
			return []byte{0x1f}
		}
	}

	switch msg.Code {
	case tea.KeyEnter:
		return []byte{'\r'}
	case tea.KeyTab:
		if msg.Mod&tea.ModShift != 0 {
			return []byte("\x1b[Z")
		}
		return []byte{'\t'}
	case tea.KeyBackspace:
		return []byte{0x7f}
	case tea.KeyEscape:
		return []byte{0x1b}
	case tea.KeySpace:
		return []byte{' '}
	case tea.KeyUp:
		return cursorKey('A', appCursorKeys)
	case tea.KeyDown:
		return cursorKey('B', appCursorKeys)
	case tea.KeyRight:
		return cursorKey('C', appCursorKeys)
	case tea.KeyLeft:
		return cursorKey('D', appCursorKeys)
	case tea.KeyHome:
		return cursorKey('H', appCursorKeys)
	case tea.KeyEnd:
		return cursorKey('F', appCursorKeys)
	case tea.KeyInsert:
		return []byte("\x1b[2~")
	case tea.KeyDelete:
		return []byte("\x1b[3~")
	case tea.KeyPgUp:
		return []byte("\x1b[5~")
	case tea.KeyPgDown:
		return []byte("\x1b[6~")
	case tea.KeyF1:
		return []byte("\x1bOP")
	case tea.KeyF2:
		return []byte("\x1bOQ")
	case tea.KeyF3:
		return []byte("\x1bOR")
	case tea.KeyF4:
		return []byte("\x1bOS")
	case tea.KeyF5:
		return []byte("\x1b[15~")
	case tea.KeyF6:
		return []byte("\x1b[17~")
	case tea.KeyF7:
		return []byte("\x1b[18~")
	case tea.KeyF8:
		return []byte("\x1b[19~")
	case tea.KeyF9:
		return []byte("\x1b[20~")
	case tea.KeyF10:
		return []byte("\x1b[21~")
	case tea.KeyF11:
		return []byte("\x1b[23~")
	case tea.KeyF12:
		return []byte("\x1b[24~")
	}

	// Printable input carries its bytes in Text.
	if msg.Text != "" {
		return []byte(msg.Text)
	}
	return nil
}

// cursorKey encodes arrows, home and end, honoring application cursor
// key mode.
func cursorKey(final byte, app bool) []byte {
	if app {
		return []byte{0x1b, 'O', final}
	}
	return []byte{0x1b, '[', final}
}
