package app

import (
	"fmt"
	"image/color"

	tea "charm.land/bubbletea/v2"
	"charm.land/lipgloss/v2"

	"github.com/paulrobello/parmux/internal/pane"
)

var (
	borderFocused   = lipgloss.Color("12")
	borderBroadcast = lipgloss.Color("11")
	borderIdle      = lipgloss.Color("8")

	tabActiveStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("0")).
			Background(lipgloss.Color("12")).
			Padding(0, 1)
	tabIdleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("7")).
			Padding(0, 1)
	statusStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("9"))
)

func (w *Workspace) View() tea.View {
	var view tea.View
	if w.quitting {
		view.SetContent("")
		return view
	}

	width, height := w.width, w.height
	if width <= 0 {
		width = 80
	}
	if height <= 1 {
		height = 24
	}

	canvas := lipgloss.NewCanvas()
	canvas.AddLayers(lipgloss.NewLayer(w.renderTabBar(width)).X(0).Y(0).Z(1))

	if t := w.ActiveTab(); t != nil {
		broadcast := make(map[pane.ID]bool)
		for _, id := range t.Mgr.BroadcastSet() {
			broadcast[id] = true
		}
		focused := t.Mgr.Focused()
		for id, r := range t.Mgr.Bounds() {
			layer := w.renderPane(t, id, r, id == focused, broadcast[id])
			canvas.AddLayers(layer)
		}
	}

	view.SetContent(lipgloss.Sprint(canvas.Render()))
	view.AltScreen = true
	view.MouseMode = tea.MouseModeCellMotion
	return view
}

// renderTabBar draws the tab strip plus session name and transient
// status on row zero.
func (w *Workspace) renderTabBar(width int) string {
	var cells []string
	for i, t := range w.tabs {
		label := fmt.Sprintf("%d:%s", i+1, t.Title)
		if t.Remote {
			label += "*"
		}
		style := tabIdleStyle
		if i == w.active {
			style = tabActiveStyle
		}
		cells = append(cells, style.Render(label))
	}
	if w.session != "" {
		cells = append(cells, tabIdleStyle.Render("["+w.session+"]"))
	}
	if w.status != "" {
		cells = append(cells, statusStyle.Render(w.status))
	}
	bar := lipgloss.JoinHorizontal(lipgloss.Top, cells...)
	return lipgloss.NewStyle().Width(width).MaxWidth(width).Render(bar)
}

// renderPane draws one pane's frame and label at its computed bounds.
// Pane interiors are frames only; what runs inside a pane paints
// through its own terminal, not through this view.
func (w *Workspace) renderPane(t *Tab, id pane.ID, r pane.Rect, focused, broadcast bool) *lipgloss.Layer {
	pw, ph := int(r.Width), int(r.Height)
	if pw < 2 {
		pw = 2
	}
	if ph < 2 {
		ph = 2
	}

	var border color.Color = borderIdle
	if broadcast {
		border = borderBroadcast
	}
	if focused {
		border = borderFocused
	}

	label := fmt.Sprintf("pane %d", id)
	if t.Remote {
		label += " (remote)"
	}

	box := lipgloss.NewStyle().
		Width(pw - 2).
		Height(ph - 2).
		Border(lipgloss.RoundedBorder()).
		BorderForeground(border).
		Align(lipgloss.Center).
		AlignVertical(lipgloss.Center).
		Render(label)

	z := 2
	if focused {
		z = 3
	}
	return lipgloss.NewLayer(box).X(int(r.X)).Y(int(r.Y)).Z(z).ID(fmt.Sprintf("%s-%d", t.ID, id))
}
