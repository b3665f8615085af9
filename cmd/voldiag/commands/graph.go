package commands

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var (
	graphDetails bool
	graphIssues  bool
	graphJSON    bool
	graphColor   string
)

var graphCmd = &cobra.Command{
	Use:   "graph",
	Short: "Print the knowledge graph",
	Long: `Print the knowledge graph built from the collector output after
inference: entities grouped by type, relationships and ranked root causes.
Use --json for the machine readable export.`,
	RunE: runGraph,
}

func init() {
	graphCmd.Flags().BoolVar(&graphDetails, "details", false, "Include entity attributes and fix plans")
	graphCmd.Flags().BoolVar(&graphIssues, "issues", true, "Include issues under each entity")
	graphCmd.Flags().BoolVar(&graphJSON, "json", false, "Print the graph export JSON instead of text")
	graphCmd.Flags().StringVar(&graphColor, "color", "auto", "Colorize output: auto, always or never")
}

func runGraph(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	rt, err := newRuntime(ctx, inputFlags)
	if err != nil {
		return err
	}
	defer rt.Close(ctx)

	out := cmd.OutOrStdout()
	if graphJSON {
		data, err := rt.session.Export(ctx)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(out, string(data))
		return err
	}

	text := rt.session.PrintGraph(ctx, graphDetails, graphIssues)
	if useColor(graphColor, out) {
		text = styleGraph(text)
	}
	_, err = fmt.Fprint(out, text)
	return err
}

func useColor(mode string, w io.Writer) bool {
	switch mode {
	case "always":
		return true
	case "never":
		return false
	}
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

var (
	colorPrimary = lipgloss.Color("#00D4FF") // Cyan
	colorWarning = lipgloss.Color("#F59E0B") // Yellow/Orange
	colorError   = lipgloss.Color("#EF4444") // Red
	colorMuted   = lipgloss.Color("#6B7280") // Gray

	sectionStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(colorPrimary)

	relationshipStyle = lipgloss.NewStyle().
				Foreground(colorMuted)

	severityStyles = map[string]lipgloss.Style{
		"[critical]": lipgloss.NewStyle().Bold(true).Foreground(colorError),
		"[high]":     lipgloss.NewStyle().Foreground(colorError),
		"[medium]":   lipgloss.NewStyle().Foreground(colorWarning),
		"[low]":      lipgloss.NewStyle().Foreground(colorMuted),
	}
)

// styleGraph colorizes the section headers, issue lines and relationship
// arrows of a printed graph.
func styleGraph(text string) string {
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		switch {
		case line != "" && !strings.HasPrefix(line, " ") && strings.HasSuffix(line, ":"):
			lines[i] = sectionStyle.Render(line)
		case strings.HasPrefix(trimmed, "! ["):
			for tag, style := range severityStyles {
				if strings.HasPrefix(trimmed, "! "+tag) {
					lines[i] = style.Render(line)
					break
				}
			}
		case strings.Contains(line, "--> "):
			lines[i] = relationshipStyle.Render(line)
		}
	}
	return strings.Join(lines, "\n")
}
