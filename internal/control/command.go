package control

import (
	"fmt"
	"strings"

	"github.com/paulrobello/parmux/internal/pane"
)

// Command builders. The session speaks the remote multiplexer's own
// command language; nothing here invents verbs. Builders return the
// command text without the trailing newline.

// SplitWindow asks the remote side to split a pane. A horizontal
// split places the new pane to the right, a vertical split below.
func SplitWindow(target PaneID, dir pane.Direction) string {
	flag := "-h"
	if dir == pane.Vertical {
		flag = "-v"
	}
	return fmt.Sprintf("split-window %s -t %s", flag, target)
}

// KillPane closes a remote pane.
func KillPane(target PaneID) string {
	return fmt.Sprintf("kill-pane -t %s", target)
}

// SelectPane moves remote focus to a pane.
func SelectPane(target PaneID) string {
	return fmt.Sprintf("select-pane -t %s", target)
}

// ResizePane grows a pane by the given number of cells in a heading.
func ResizePane(target PaneID, nav pane.NavDirection, cells int) string {
	flag := map[pane.NavDirection]string{
		pane.NavLeft:  "-L",
		pane.NavRight: "-R",
		pane.NavUp:    "-U",
		pane.NavDown:  "-D",
	}[nav]
	return fmt.Sprintf("resize-pane %s %d -t %s", flag, cells, target)
}

// SelectWindow switches the attached client to a window.
func SelectWindow(target WindowID) string {
	return fmt.Sprintf("select-window -t %s", target)
}

// NewWindow creates a window in the attached session.
func NewWindow() string { return "new-window" }

// KillWindow closes a remote window.
func KillWindow(target WindowID) string {
	return fmt.Sprintf("kill-window -t %s", target)
}

// RenameWindow sets a window's title.
func RenameWindow(target WindowID, name string) string {
	return fmt.Sprintf("rename-window -t %s %s", target, quoteArg(name))
}

// RefreshClient reports the client's usable size so the remote side
// lays out windows to match.
func RefreshClient(cols, rows int) string {
	return fmt.Sprintf("refresh-client -C %dx%d", cols, rows)
}

// ListSessions lists sessions with name, window count and attachment.
func ListSessions() string {
	return "list-sessions -F \"#{session_name}:#{session_windows}:#{?session_attached,attached,detached}\""
}

// ListWindows lists the attached session's windows with their layouts.
func ListWindows() string {
	return "list-windows -F \"#{window_id} #{window_name} #{window_layout}\""
}

// ListPanes lists a window's panes.
func ListPanes(target WindowID) string {
	return fmt.Sprintf("list-panes -t %s -F \"#{pane_id}\"", target)
}

// CapturePane dumps a pane's visible content.
func CapturePane(target PaneID) string {
	return fmt.Sprintf("capture-pane -p -t %s", target)
}

// CreateSession creates a detached session.
func CreateSession(name string) string {
	return fmt.Sprintf("new-session -d -s %s", quoteArg(name))
}

// KillSession destroys a session.
func KillSession(name string) string {
	return fmt.Sprintf("kill-session -t %s", quoteArg(name))
}

// AttachSession switches the control client to a session.
func AttachSession(name string) string {
	return fmt.Sprintf("attach-session -t %s", quoteArg(name))
}

// SendKeys encodes raw input bytes as a send-keys command. Control
// bytes become C- key names, printable runs are quoted literals and
// bytes outside ASCII are sent as hex key codes.
func SendKeys(target PaneID, data []byte) string {
	var b strings.Builder
	fmt.Fprintf(&b, "send-keys -t %s", target)

	var run []byte
	flush := func() {
		if len(run) == 0 {
			return
		}
		b.WriteByte(' ')
		b.WriteString(quoteRun(run))
		run = run[:0]
	}

	for _, c := range data {
		switch {
		case c == 0x00:
			flush()
			b.WriteString(" C-Space")
		case c >= 0x01 && c <= 0x1a:
			flush()
			fmt.Fprintf(&b, " C-%c", 'a'+c-1)
		case c == 0x1b:
			flush()
			b.WriteString(" Escape")
		case c == 0x7f:
			flush()
			b.WriteString(" BSpace")
		case c == ' ':
			flush()
			b.WriteString(" Space")
		case c > 0x20 && c < 0x7f:
			run = append(run, c)
		default:
			flush()
			fmt.Fprintf(&b, " 0x%02x", c)
		}
	}
	flush()
	return b.String()
}

// SendKeysLiteral sends text with -l so the remote side does no key
// name interpretation.
func SendKeysLiteral(target PaneID, text string) string {
	return fmt.Sprintf("send-keys -l -t %s %s", target, quoteArg(text))
}

// quoteRun single-quotes a printable run, splicing embedded quotes.
func quoteRun(run []byte) string {
	s := string(run)
	if !strings.ContainsRune(s, '\'') {
		return "'" + s + "'"
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// quoteArg quotes a free-form argument such as a session name.
func quoteArg(s string) string {
	if s == "" {
		return "''"
	}
	if !strings.ContainsAny(s, " '\"\\;$") {
		return s
	}
	return quoteRun([]byte(s))
}
