package report

import (
	"strings"

	"github.com/alecthomas/chroma/v2"
	"github.com/alecthomas/chroma/v2/lexers"
	"github.com/charmbracelet/lipgloss"

	"github.com/sadopc/goevolve/internal/theme"
)

// Highlighter tokenises SQL text using chroma and renders it with lipgloss
// styles from a theme.
type Highlighter struct {
	lexer chroma.Lexer
}

// lexerNames maps dialect names to chroma lexers.
var lexerNames = map[string]string{
	"postgres": "PostgreSQL",
	"mysql":    "MySQL",
}

// NewHighlighter creates a Highlighter for the given dialect. Dialects
// without a dedicated lexer use the generic SQL lexer.
func NewHighlighter(dialect string) *Highlighter {
	var l chroma.Lexer
	if name, ok := lexerNames[dialect]; ok {
		l = lexers.Get(name)
	}
	if l == nil {
		l = lexers.Get("SQL")
	}
	if l == nil {
		l = lexers.Fallback
	}
	return &Highlighter{lexer: chroma.Coalesce(l)}
}

// Highlight tokenises sql and styles each token with the matching theme
// style. Newlines are emitted unstyled so multi-line SQL keeps its shape.
func (h *Highlighter) Highlight(sql string, th *theme.Theme) string {
	if th == nil {
		return sql
	}

	iter, err := h.lexer.Tokenise(nil, sql)
	if err != nil {
		return sql
	}

	var b strings.Builder
	b.Grow(len(sql) * 2)

	for _, tok := range iter.Tokens() {
		value := tok.Value
		if value == "" {
			continue
		}

		style, ok := styleFor(tok.Type, th)
		if !ok {
			b.WriteString(value)
			continue
		}
		lines := strings.Split(value, "\n")
		for i, line := range lines {
			if line != "" {
				b.WriteString(style.Render(line))
			}
			if i < len(lines)-1 {
				b.WriteByte('\n')
			}
		}
	}

	return b.String()
}

// styleFor maps a chroma token type to a theme style. The second return
// value is false when the token passes through unstyled.
func styleFor(tt chroma.TokenType, th *theme.Theme) (lipgloss.Style, bool) {
	switch {
	// KeywordType is a Keyword subtype; column types get their own colour.
	case tt == chroma.KeywordType:
		return th.SQLType, true
	case tt == chroma.NameFunction || tt == chroma.NameBuiltin:
		return th.SQLFunction, true
	case tt.InCategory(chroma.Keyword):
		return th.SQLKeyword, true
	case tt.InSubCategory(chroma.LiteralString):
		return th.SQLString, true
	case tt.InSubCategory(chroma.LiteralNumber):
		return th.SQLNumber, true
	case tt.InCategory(chroma.Comment):
		return th.SQLComment, true
	case tt.InCategory(chroma.Operator):
		return th.SQLOperator, true
	case tt == chroma.NameVariable:
		return th.SQLIdentifier, true
	default:
		return lipgloss.Style{}, false
	}
}
