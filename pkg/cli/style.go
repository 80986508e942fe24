package cli

import (
	"io"
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"

	"github.com/funvibe/aspectweave/internal/diagnostics"
)

var (
	fatalStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#FFFFFF")).Background(lipgloss.Color("#CC0000"))
	errorStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#FF5F5F"))
	warningStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#FFAF00"))
	infoStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#5FAFFF"))
	successStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#5FD75F"))
	faintStyle   = lipgloss.NewStyle().Faint(true)
)

// styles renders with colors only when w is a terminal.
type styles struct {
	color bool
}

func newStyles(w io.Writer) styles {
	f, ok := w.(*os.File)
	if !ok {
		return styles{}
	}
	return styles{color: isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())}
}

func (s styles) render(st lipgloss.Style, text string) string {
	if !s.color {
		return text
	}
	return st.Render(text)
}

func (s styles) severity(sev diagnostics.Severity, text string) string {
	switch sev {
	case diagnostics.Fatal:
		return s.render(fatalStyle, text)
	case diagnostics.Error:
		return s.render(errorStyle, text)
	case diagnostics.Warning:
		return s.render(warningStyle, text)
	}
	return s.render(infoStyle, text)
}

func (s styles) success(text string) string { return s.render(successStyle, text) }
func (s styles) failure(text string) string { return s.render(errorStyle, text) }
func (s styles) faint(text string) string   { return s.render(faintStyle, text) }
