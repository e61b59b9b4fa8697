package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/lipgloss"
)

// Color palette
var (
	primaryColor = lipgloss.Color("#2E7D32") // Canopy green
	accentColor  = lipgloss.Color("#1565C0") // Traffic blue
	warnColor    = lipgloss.Color("#C62828")
	mutedColor   = lipgloss.Color("#888888")
	textColor    = lipgloss.Color("#FFFFFF")
)

// Styles
var (
	TitleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(primaryColor).
			MarginBottom(1)

	ErrorStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(warnColor)

	NoticeStyle = lipgloss.NewStyle().
			Foreground(accentColor).
			Italic(true)

	KeyStyle = lipgloss.NewStyle().
			Foreground(mutedColor).
			Width(22)

	ValueStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(textColor)
)

// Field is one key/value line of a summary block.
type Field struct {
	Key   string
	Value string
}

func PrintVersion(version string) {
	fmt.Println(TitleStyle.Render("Soundscape"))
	fmt.Printf("%s %s\n", KeyStyle.Render("Version:"), ValueStyle.Render(version))
	fmt.Println()
}

// PrintError prints an error message, with optional advice, to stderr.
func PrintError(message string, advice string) {
	fmt.Fprintf(os.Stderr, "%s %s\n", ErrorStyle.Render("Error:"), message)
	if advice != "" {
		fmt.Fprintf(os.Stderr, "%s %s\n", KeyStyle.Render("Advice:"), advice)
	}
}

func PrintNotice(message string) {
	fmt.Println(NoticeStyle.Render(message))
}

// PrintSummary renders a titled key/value block to w.
func PrintSummary(w io.Writer, title string, fields []Field) {
	fmt.Fprintln(w, TitleStyle.Render(title))
	for _, f := range fields {
		fmt.Fprintf(w, "%s %s\n", KeyStyle.Render(f.Key+":"), ValueStyle.Render(f.Value))
	}
}
