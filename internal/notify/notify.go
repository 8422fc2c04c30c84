// Package notify renders crosspost notices as coloured one-line toasts on a terminal.
package notify

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/blacktop/crosspost/internal/crosspost"
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
	"golang.org/x/term"
)

const (
	colorInfo    = lipgloss.Color("#1d9bf0")
	colorSuccess = lipgloss.Color("#00ba7c")
	colorError   = lipgloss.Color("#f4212e")
)

// Toast writes each notice as a styled line.
type Toast struct {
	mu     sync.Mutex
	out    io.Writer
	styles map[crosspost.Level]lipgloss.Style
}

// New returns a Toast writing to w. Colour is used only when w is a terminal and the
// environment does not ask for plain output.
func New(w io.Writer) *Toast {
	r := lipgloss.NewRenderer(w)
	r.SetColorProfile(colorProfile(w))

	base := r.NewStyle().Bold(true)
	return &Toast{
		out: w,
		styles: map[crosspost.Level]lipgloss.Style{
			crosspost.LevelInfo:    base.Foreground(colorInfo),
			crosspost.LevelSuccess: base.Foreground(colorSuccess),
			crosspost.LevelError:   base.Foreground(colorError),
		},
	}
}

// Notify implements crosspost.Notifier.
func (t *Toast) Notify(n crosspost.Notice) {
	style, ok := t.styles[n.Level]
	if !ok {
		style = t.styles[crosspost.LevelInfo]
	}
	line := fmt.Sprintf("%s %s", icon(n.Level), strings.TrimSpace(n.Message))

	t.mu.Lock()
	defer t.mu.Unlock()
	fmt.Fprintln(t.out, style.Render(line))
}

func icon(level crosspost.Level) string {
	switch level {
	case crosspost.LevelSuccess:
		return "✓"
	case crosspost.LevelError:
		return "✕"
	}
	return "•"
}

func colorProfile(w io.Writer) termenv.Profile {
	if termenv.EnvNoColor() {
		return termenv.Ascii
	}
	if v, ok := os.LookupEnv("TERM"); ok && strings.EqualFold(strings.TrimSpace(v), "dumb") {
		return termenv.Ascii
	}
	file, ok := w.(*os.File)
	if !ok || !term.IsTerminal(int(file.Fd())) {
		return termenv.Ascii
	}
	return termenv.NewOutput(w).ColorProfile()
}
