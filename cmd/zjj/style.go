package main

import (
	"fmt"
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
)

var colorProfile = termenv.NewOutput(os.Stdout).ColorProfile()

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Underline(true)
	okStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	warnStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("3"))
	errStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("1"))
)

// styledOrPlain renders s with style when stdout is a real terminal capable
// of color, and returns s unchanged otherwise (redirected output, dumb term).
func styledOrPlain(style lipgloss.Style, s string) string {
	if colorProfile == termenv.Ascii {
		return s
	}
	return style.Render(s)
}

func statusBadge(ok bool) string {
	if ok {
		return styledOrPlain(okStyle, "ok")
	}
	return styledOrPlain(errStyle, "FAIL")
}

func printTableHeader(cols ...any) {
	fmt.Println(styledOrPlain(headerStyle, fmt.Sprintf(tableFormat(len(cols)), cols...)))
}

func tableFormat(n int) string {
	f := ""
	for i := 0; i < n; i++ {
		f += "%-20s "
	}
	return f + "\n"
}
