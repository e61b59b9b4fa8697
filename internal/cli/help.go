package cli

import (
	"fmt"

	"github.com/alecthomas/kong"
	"github.com/charmbracelet/lipgloss"

	"github.com/soundscape-lab/soundscape/internal/config"
)

var (
	helpSectionStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(accentColor)

	helpEnvStyle = lipgloss.NewStyle().
			Foreground(primaryColor).
			Width(34)
)

// StyledHelpPrinter prints kong's usage under a styled title and lists the
// environment variables unset flags fall back to.
func StyledHelpPrinter(env []config.EnvVar) kong.HelpPrinter {
	return func(options kong.HelpOptions, ctx *kong.Context) error {
		fmt.Fprintln(ctx.Stdout, TitleStyle.Render("Soundscape"))
		if err := kong.DefaultHelpPrinter(options, ctx); err != nil {
			return err
		}
		if len(env) == 0 {
			return nil
		}

		fmt.Fprintln(ctx.Stdout)
		fmt.Fprintln(ctx.Stdout, helpSectionStyle.Render("Environment:"))
		for _, v := range env {
			line := v.Help
			if v.Default != "" {
				line += " " + KeyStyle.UnsetWidth().Render("(default: "+v.Default+")")
			}
			fmt.Fprintf(ctx.Stdout, "  %s%s\n", helpEnvStyle.Render(v.Name), line)
		}
		return nil
	}
}
