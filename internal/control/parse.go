// Package control implements a client for a tmux control-mode
// connection: line framing, command reply matching, notification
// classification and the window layout grammar.
package control

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	// ErrParse marks a malformed notification or layout string. The
	// offending line is logged and skipped; the stream keeps flowing.
	ErrParse = errors.New("parse error")
	// ErrProtocol marks broken framing, such as an end marker without a
	// matching begin. It aborts the current pending command only.
	ErrProtocol = errors.New("protocol error")
	// ErrTimeout is returned when a command reply never arrived.
	ErrTimeout = errors.New("command timed out")
	// ErrCancelled resolves pending commands when the session is torn
	// down underneath them.
	ErrCancelled = errors.New("command cancelled")
	// ErrDisconnected marks transport EOF or process exit. Fatal to the
	// session, not to the application.
	ErrDisconnected = errors.New("session disconnected")
	// ErrCommandFailed wraps the error payload of a command the remote
	// side rejected.
	ErrCommandFailed = errors.New("command failed")
)

// WindowID is a window identifier assigned by the remote multiplexer,
// parsed from an "@N" token. Distinct namespace from local tab IDs.
type WindowID uint64

// PaneID is a pane identifier assigned by the remote multiplexer,
// parsed from a "%N" token. Distinct namespace from local pane IDs.
type PaneID uint64

func (w WindowID) String() string { return "@" + strconv.FormatUint(uint64(w), 10) }
func (p PaneID) String() string   { return "%" + strconv.FormatUint(uint64(p), 10) }

// ParseWindowID parses an "@N" token.
func ParseWindowID(tok string) (WindowID, error) {
	if !strings.HasPrefix(tok, "@") {
		return 0, fmt.Errorf("%w: bad window id %q", ErrParse, tok)
	}
	n, err := strconv.ParseUint(tok[1:], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: bad window id %q", ErrParse, tok)
	}
	return WindowID(n), nil
}

// ParsePaneID parses a "%N" token.
func ParsePaneID(tok string) (PaneID, error) {
	if !strings.HasPrefix(tok, "%") {
		return 0, fmt.Errorf("%w: bad pane id %q", ErrParse, tok)
	}
	n, err := strconv.ParseUint(tok[1:], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: bad pane id %q", ErrParse, tok)
	}
	return PaneID(n), nil
}

// Notification is one asynchronous event from the remote session.
// Concrete types below mirror the wire vocabulary one to one.
type Notification interface {
	notification()
}

// Output carries unescaped output bytes for one remote pane.
type Output struct {
	Pane PaneID
	Data []byte
}

// LayoutChange reports a new layout for a window.
type LayoutChange struct {
	Window        WindowID
	Layout        string
	VisibleLayout string
	Flags         string
}

// WindowAdd reports a window created on the remote side.
type WindowAdd struct {
	Window WindowID
}

// WindowClose reports a window closed on the remote side.
type WindowClose struct {
	Window WindowID
}

// WindowRenamed reports a window title change.
type WindowRenamed struct {
	Window WindowID
	Name   string
}

// SessionChanged reports the client switching to another session.
type SessionChanged struct {
	Session string
	Name    string
}

// SessionRenamed reports the attached session being renamed.
type SessionRenamed struct {
	Name string
}

// PaneFocusChanged reports the remote side moving pane focus.
type PaneFocusChanged struct {
	Window WindowID
	Pane   PaneID
}

// Pause is the flow-control signal suspending output for one pane.
type Pause struct {
	Pane PaneID
}

// Continue releases a paused pane's held output.
type Continue struct {
	Pane PaneID
}

// ClientDetached reports another client detaching from the session.
type ClientDetached struct {
	Client string
}

// Exit reports the control connection ending, with an optional reason.
type Exit struct {
	Reason string
}

func (Output) notification()           {}
func (LayoutChange) notification()     {}
func (WindowAdd) notification()        {}
func (WindowClose) notification()      {}
func (WindowRenamed) notification()    {}
func (SessionChanged) notification()   {}
func (SessionRenamed) notification()   {}
func (PaneFocusChanged) notification() {}
func (Pause) notification()            {}
func (Continue) notification()         {}
func (ClientDetached) notification()   {}
func (Exit) notification()             {}

// blockMarker is a %begin/%end/%error line opening or closing a
// command reply block.
type blockMarker struct {
	kind string // "begin", "end", "error"
	time int64
	num  uint64
}

// cutToken splits off the first space-separated token.
func cutToken(s string) (tok, rest string) {
	if i := strings.IndexByte(s, ' '); i >= 0 {
		return s[:i], s[i+1:]
	}
	return s, ""
}

// parseBlockMarker parses "%begin <time> <num> <flags>" and friends.
func parseBlockMarker(kind, rest string) (blockMarker, error) {
	tsTok, rest := cutToken(rest)
	numTok, _ := cutToken(rest)
	ts, err := strconv.ParseInt(tsTok, 10, 64)
	if err != nil {
		return blockMarker{}, fmt.Errorf("%w: %%%s timestamp %q", ErrProtocol, kind, tsTok)
	}
	num, err := strconv.ParseUint(numTok, 10, 64)
	if err != nil {
		return blockMarker{}, fmt.Errorf("%w: %%%s number %q", ErrProtocol, kind, numTok)
	}
	return blockMarker{kind: kind, time: ts, num: num}, nil
}

// parseNotification classifies one control-mode line that is not part
// of a reply block. It returns nil for lines that carry no event the
// consumer cares about, and ErrParse for unrecognized or malformed
// "%" lines.
func parseNotification(line string) (Notification, error) {
	marker, rest := cutToken(line)
	switch marker {
	case "%output":
		tok, data := cutToken(rest)
		pane, err := ParsePaneID(tok)
		if err != nil {
			return nil, err
		}
		return Output{Pane: pane, Data: unescapeOutput(data)}, nil

	case "%extended-output":
		tok, rest := cutToken(rest)
		pane, err := ParsePaneID(tok)
		if err != nil {
			return nil, err
		}
		// Fields between the pane id and " : " (age, flags) are
		// advisory; the payload follows the separator.
		data := rest
		if i := strings.Index(rest, " : "); i >= 0 {
			data = rest[i+3:]
		} else if i := strings.Index(rest, ": "); i >= 0 {
			data = rest[i+2:]
		}
		return Output{Pane: pane, Data: unescapeOutput(data)}, nil

	case "%layout-change":
		winTok, rest := cutToken(rest)
		win, err := ParseWindowID(winTok)
		if err != nil {
			return nil, err
		}
		layout, rest := cutToken(rest)
		if layout == "" {
			return nil, fmt.Errorf("%w: %%layout-change without layout", ErrParse)
		}
		visible, flags := cutToken(rest)
		return LayoutChange{Window: win, Layout: layout, VisibleLayout: visible, Flags: flags}, nil

	case "%window-add":
		win, err := ParseWindowID(rest)
		if err != nil {
			return nil, err
		}
		return WindowAdd{Window: win}, nil

	case "%window-close", "%unlinked-window-close":
		winTok, _ := cutToken(rest)
		win, err := ParseWindowID(winTok)
		if err != nil {
			return nil, err
		}
		return WindowClose{Window: win}, nil

	case "%window-renamed":
		winTok, name := cutToken(rest)
		win, err := ParseWindowID(winTok)
		if err != nil {
			return nil, err
		}
		return WindowRenamed{Window: win, Name: name}, nil

	case "%session-changed":
		sess, name := cutToken(rest)
		return SessionChanged{Session: sess, Name: name}, nil

	case "%session-renamed":
		return SessionRenamed{Name: rest}, nil

	case "%window-pane-changed":
		winTok, paneTok := cutToken(rest)
		win, err := ParseWindowID(winTok)
		if err != nil {
			return nil, err
		}
		paneTok, _ = cutToken(paneTok)
		pane, err := ParsePaneID(paneTok)
		if err != nil {
			return nil, err
		}
		return PaneFocusChanged{Window: win, Pane: pane}, nil

	case "%pause":
		pane, err := ParsePaneID(rest)
		if err != nil {
			return nil, err
		}
		return Pause{Pane: pane}, nil

	case "%continue":
		pane, err := ParsePaneID(rest)
		if err != nil {
			return nil, err
		}
		return Continue{Pane: pane}, nil

	case "%client-detached":
		return ClientDetached{Client: rest}, nil

	case "%exit":
		return Exit{Reason: rest}, nil

	case "%client-session-changed", "%session-window-changed",
		"%sessions-changed", "%pane-mode-changed", "%subscription-changed",
		"%message", "%config-error", "%paste-buffer-changed",
		"%paste-buffer-deleted":
		// Known notifications this client has no use for.
		return nil, nil
	}

	if strings.HasPrefix(marker, "%") {
		return nil, fmt.Errorf("%w: unknown notification %q", ErrParse, marker)
	}
	// Bare text outside a reply block; tmux does not produce this, so
	// treat it as noise.
	return nil, nil
}

// unescapeOutput decodes the octal escaping tmux applies to output
// payloads: "\ooo" for bytes outside the printable range and for the
// backslash itself.
func unescapeOutput(s string) []byte {
	if !strings.ContainsRune(s, '\\') {
		return []byte(s)
	}
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c != '\\' {
			out = append(out, c)
			continue
		}
		if i+3 < len(s) && isOctal(s[i+1]) && isOctal(s[i+2]) && isOctal(s[i+3]) {
			v := (s[i+1]-'0')<<6 | (s[i+2]-'0')<<3 | (s[i+3] - '0')
			out = append(out, v)
			i += 3
			continue
		}
		// Backslash not followed by three octal digits; keep it.
		out = append(out, c)
	}
	return out
}

func isOctal(c byte) bool { return c >= '0' && c <= '7' }
