// Package theme provides the styles goevolve uses for terminal output.
// Every styled element references a lipgloss.Style held in a Theme struct
// so the whole look can be swapped with the --theme flag.
package theme

import "github.com/charmbracelet/lipgloss"

// Theme holds lipgloss.Style values for every element of a report.
type Theme struct {
	Name string

	// SQL syntax highlighting
	SQLKeyword    lipgloss.Style
	SQLString     lipgloss.Style
	SQLNumber     lipgloss.Style
	SQLComment    lipgloss.Style
	SQLOperator   lipgloss.Style
	SQLFunction   lipgloss.Style
	SQLType       lipgloss.Style
	SQLIdentifier lipgloss.Style

	// Report structure
	Title     lipgloss.Style
	Section   lipgloss.Style
	AppLabel  lipgloss.Style
	ModelName lipgloss.Style
	Key       lipgloss.Style
	Value     lipgloss.Style
	Box       lipgloss.Style

	// Change markers
	Added   lipgloss.Style
	Deleted lipgloss.Style
	Changed lipgloss.Style

	// General
	ErrorText   lipgloss.Style
	SuccessText lipgloss.Style
	WarningText lipgloss.Style
	MutedText   lipgloss.Style
}

// ---------------------------------------------------------------------------
// Theme definitions
// ---------------------------------------------------------------------------

// newDefaultTheme builds the Default dark theme.
func newDefaultTheme() *Theme {
	return &Theme{
		Name: "default",

		// SQL Syntax highlighting
		SQLKeyword: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#569CD6")),
		SQLString: lipgloss.NewStyle().
			Foreground(lipgloss.Color("#CE9178")),
		SQLNumber: lipgloss.NewStyle().
			Foreground(lipgloss.Color("#B5CEA8")),
		SQLComment: lipgloss.NewStyle().
			Italic(true).
			Foreground(lipgloss.Color("#6A9955")),
		SQLOperator: lipgloss.NewStyle().
			Foreground(lipgloss.Color("#D4D4D4")),
		SQLFunction: lipgloss.NewStyle().
			Foreground(lipgloss.Color("#DCDCAA")),
		SQLType: lipgloss.NewStyle().
			Foreground(lipgloss.Color("#4EC9B0")),
		SQLIdentifier: lipgloss.NewStyle().
			Foreground(lipgloss.Color("#9CDCFE")),

		Title: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#569CD6")),
		Section: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#DCDCAA")),
		AppLabel: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#4EC9B0")),
		ModelName: lipgloss.NewStyle().
			Foreground(lipgloss.Color("#9CDCFE")),
		Key: lipgloss.NewStyle().
			Foreground(lipgloss.Color("#808080")),
		Value: lipgloss.NewStyle().
			Foreground(lipgloss.Color("#D4D4D4")),
		Box: lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#3C3C3C")).
			Padding(0, 1),

		Added: lipgloss.NewStyle().
			Foreground(lipgloss.Color("#6A9955")),
		Deleted: lipgloss.NewStyle().
			Foreground(lipgloss.Color("#F44747")),
		Changed: lipgloss.NewStyle().
			Foreground(lipgloss.Color("#CCA700")),

		ErrorText: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#F44747")),
		SuccessText: lipgloss.NewStyle().
			Foreground(lipgloss.Color("#6A9955")),
		WarningText: lipgloss.NewStyle().
			Foreground(lipgloss.Color("#CCA700")),
		MutedText: lipgloss.NewStyle().
			Foreground(lipgloss.Color("#808080")),
	}
}

// newLightTheme builds the Light theme.
func newLightTheme() *Theme {
	return &Theme{
		Name: "light",

		SQLKeyword: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#0000FF")),
		SQLString: lipgloss.NewStyle().
			Foreground(lipgloss.Color("#A31515")),
		SQLNumber: lipgloss.NewStyle().
			Foreground(lipgloss.Color("#098658")),
		SQLComment: lipgloss.NewStyle().
			Italic(true).
			Foreground(lipgloss.Color("#008000")),
		SQLOperator: lipgloss.NewStyle().
			Foreground(lipgloss.Color("#000000")),
		SQLFunction: lipgloss.NewStyle().
			Foreground(lipgloss.Color("#795E26")),
		SQLType: lipgloss.NewStyle().
			Foreground(lipgloss.Color("#267F99")),
		SQLIdentifier: lipgloss.NewStyle().
			Foreground(lipgloss.Color("#001080")),

		Title: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#0000FF")),
		Section: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#795E26")),
		AppLabel: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#267F99")),
		ModelName: lipgloss.NewStyle().
			Foreground(lipgloss.Color("#001080")),
		Key: lipgloss.NewStyle().
			Foreground(lipgloss.Color("#6E6E6E")),
		Value: lipgloss.NewStyle().
			Foreground(lipgloss.Color("#000000")),
		Box: lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#C8C8C8")).
			Padding(0, 1),

		Added: lipgloss.NewStyle().
			Foreground(lipgloss.Color("#008000")),
		Deleted: lipgloss.NewStyle().
			Foreground(lipgloss.Color("#CD3131")),
		Changed: lipgloss.NewStyle().
			Foreground(lipgloss.Color("#BF8803")),

		ErrorText: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#CD3131")),
		SuccessText: lipgloss.NewStyle().
			Foreground(lipgloss.Color("#008000")),
		WarningText: lipgloss.NewStyle().
			Foreground(lipgloss.Color("#BF8803")),
		MutedText: lipgloss.NewStyle().
			Foreground(lipgloss.Color("#6E6E6E")),
	}
}

// newMonokaiTheme builds the Monokai theme.
func newMonokaiTheme() *Theme {
	return &Theme{
		Name: "monokai",

		SQLKeyword: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#F92672")),
		SQLString: lipgloss.NewStyle().
			Foreground(lipgloss.Color("#E6DB74")),
		SQLNumber: lipgloss.NewStyle().
			Foreground(lipgloss.Color("#AE81FF")),
		SQLComment: lipgloss.NewStyle().
			Italic(true).
			Foreground(lipgloss.Color("#75715E")),
		SQLOperator: lipgloss.NewStyle().
			Foreground(lipgloss.Color("#F92672")),
		SQLFunction: lipgloss.NewStyle().
			Foreground(lipgloss.Color("#A6E22E")),
		SQLType: lipgloss.NewStyle().
			Italic(true).
			Foreground(lipgloss.Color("#66D9EF")),
		SQLIdentifier: lipgloss.NewStyle().
			Foreground(lipgloss.Color("#F8F8F2")),

		Title: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#A6E22E")),
		Section: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#E6DB74")),
		AppLabel: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#66D9EF")),
		ModelName: lipgloss.NewStyle().
			Foreground(lipgloss.Color("#F8F8F2")),
		Key: lipgloss.NewStyle().
			Foreground(lipgloss.Color("#75715E")),
		Value: lipgloss.NewStyle().
			Foreground(lipgloss.Color("#F8F8F2")),
		Box: lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#49483E")).
			Padding(0, 1),

		Added: lipgloss.NewStyle().
			Foreground(lipgloss.Color("#A6E22E")),
		Deleted: lipgloss.NewStyle().
			Foreground(lipgloss.Color("#F92672")),
		Changed: lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FD971F")),

		ErrorText: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#F92672")),
		SuccessText: lipgloss.NewStyle().
			Foreground(lipgloss.Color("#A6E22E")),
		WarningText: lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FD971F")),
		MutedText: lipgloss.NewStyle().
			Foreground(lipgloss.Color("#75715E")),
	}
}

// ---------------------------------------------------------------------------
// Registry and accessors
// ---------------------------------------------------------------------------

// Themes maps theme names to their Theme definitions.
var Themes = map[string]*Theme{
	"default": newDefaultTheme(),
	"light":   newLightTheme(),
	"monokai": newMonokaiTheme(),
}

// Default returns the default dark theme.
func Default() *Theme {
	return Themes["default"]
}

// Get returns the theme identified by name. If no theme with that name exists
// it falls back to the default theme.
func Get(name string) *Theme {
	if t, ok := Themes[name]; ok {
		return t
	}
	return Default()
}

// Plain returns a theme whose styles render text unchanged, for output
// that is piped or written to files.
func Plain() *Theme {
	s := lipgloss.NewStyle()
	return &Theme{
		Name:          "plain",
		SQLKeyword:    s,
		SQLString:     s,
		SQLNumber:     s,
		SQLComment:    s,
		SQLOperator:   s,
		SQLFunction:   s,
		SQLType:       s,
		SQLIdentifier: s,
		Title:         s,
		Section:       s,
		AppLabel:      s,
		ModelName:     s,
		Key:           s,
		Value:         s,
		Box:           s,
		Added:         s,
		Deleted:       s,
		Changed:       s,
		ErrorText:     s,
		SuccessText:   s,
		WarningText:   s,
		MutedText:     s,
	}
}
