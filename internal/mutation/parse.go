package mutation

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"github.com/sadopc/goevolve/internal/signature"
)

// Parse reads hinted-evolution text: an assignment of a list of mutation
// constructor calls to MUTATIONS. Import lines and comments are ignored, so
// the text produced by Render parses back to equal mutations.
func Parse(src string) ([]Mutation, error) {
	p := &parser{lex: newLexer(stripPreamble(src))}
	if err := p.next(); err != nil {
		return nil, err
	}

	var list []any
	found := false
	for p.tok.kind != tokEOF {
		if p.tok.kind != tokName {
			return nil, p.errorf("expected an assignment, found %s", p.tok)
		}
		name := p.tok.text
		if err := p.next(); err != nil {
			return nil, err
		}
		if err := p.expect(tokPunct, "="); err != nil {
			return nil, err
		}
		v, err := p.value()
		if err != nil {
			return nil, err
		}
		if name != "MUTATIONS" {
			continue
		}
		items, ok := v.([]any)
		if !ok {
			return nil, fmt.Errorf("MUTATIONS must be a list, got %s", describe(v))
		}
		list, found = items, true
	}
	if !found {
		return nil, fmt.Errorf("no MUTATIONS list found")
	}

	out := make([]Mutation, 0, len(list))
	for i, item := range list {
		c, ok := item.(*call)
		if !ok {
			return nil, fmt.Errorf("MUTATIONS[%d]: expected a mutation, got %s", i, describe(item))
		}
		m, err := build(c)
		if err != nil {
			return nil, fmt.Errorf("MUTATIONS[%d]: %w", i, err)
		}
		out = append(out, m)
	}
	return out, nil
}

func stripPreamble(src string) string {
	lines := strings.Split(src, "\n")
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "from ") || strings.HasPrefix(trimmed, "import ") {
			lines[i] = ""
		}
	}
	return strings.Join(lines, "\n")
}

type call struct {
	name   string
	args   []any
	kwargs map[string]any
	order  []string
}

// builders construct each mutation from its parsed call.
var builders = map[string]func(c *call) (Mutation, error){
	"AddField": func(c *call) (Mutation, error) {
		if err := c.arity(3, 4); err != nil {
			return nil, err
		}
		model, field, err := c.twoStrings()
		if err != nil {
			return nil, err
		}
		t, err := fieldType(c.args[2])
		if err != nil {
			return nil, err
		}
		initial, _ := c.take("initial", 3)
		return NewAddField(model, field, t, initial, c.rest())
	},
	"DeleteField": func(c *call) (Mutation, error) {
		if err := c.arity(2, 2); err != nil {
			return nil, err
		}
		model, field, err := c.twoStrings()
		if err != nil {
			return nil, err
		}
		return &DeleteField{Model: model, Field: field}, c.noExtra()
	},
	"RenameField": func(c *call) (Mutation, error) {
		if err := c.arity(3, 3); err != nil {
			return nil, err
		}
		model, oldName, err := c.twoStrings()
		if err != nil {
			return nil, err
		}
		newName, err := c.str(2)
		if err != nil {
			return nil, err
		}
		r := &RenameField{Model: model, OldField: oldName, NewField: newName}
		if r.DBColumn, err = c.optString("db_column"); err != nil {
			return nil, err
		}
		if r.DBTable, err = c.optString("db_table"); err != nil {
			return nil, err
		}
		return r, c.noExtra()
	},
	"ChangeField": func(c *call) (Mutation, error) {
		if err := c.arity(2, 3); err != nil {
			return nil, err
		}
		model, field, err := c.twoStrings()
		if err != nil {
			return nil, err
		}
		initial, _ := c.take("initial", 2)
		var ft signature.FieldType
		if v, ok := c.take("field_type", -1); ok {
			if ft, err = fieldType(v); err != nil {
				return nil, err
			}
		}
		cf, err := NewChangeField(model, field, initial, c.rest())
		if err != nil {
			return nil, err
		}
		cf.FieldType = ft
		return cf, nil
	},
	"RenameModel": func(c *call) (Mutation, error) {
		if err := c.arity(2, 2); err != nil {
			return nil, err
		}
		oldName, newName, err := c.twoStrings()
		if err != nil {
			return nil, err
		}
		r := &RenameModel{OldModel: oldName, NewModel: newName}
		if r.DBTable, err = c.optString("db_table"); err != nil {
			return nil, err
		}
		return r, c.noExtra()
	},
	"DeleteModel": func(c *call) (Mutation, error) {
		if err := c.arity(1, 1); err != nil {
			return nil, err
		}
		model, err := c.str(0)
		if err != nil {
			return nil, err
		}
		return &DeleteModel{Model: model}, c.noExtra()
	},
	"ChangeMeta": func(c *call) (Mutation, error) {
		if err := c.arity(2, 3); err != nil {
			return nil, err
		}
		model, prop, err := c.twoStrings()
		if err != nil {
			return nil, err
		}
		value, ok := c.take("new_value", 2)
		if !ok {
			return nil, fmt.Errorf("ChangeMeta: missing new value")
		}
		if err := c.noExtra(); err != nil {
			return nil, err
		}
		return NewChangeMeta(model, prop, value)
	},
	"DeleteApplication": func(c *call) (Mutation, error) {
		if err := c.arity(0, 0); err != nil {
			return nil, err
		}
		return &DeleteApplication{}, c.noExtra()
	},
	"SQLMutation": func(c *call) (Mutation, error) {
		if err := c.arity(2, 2); err != nil {
			return nil, err
		}
		tag, err := c.str(0)
		if err != nil {
			return nil, err
		}
		var stmts []string
		switch v := c.args[1].(type) {
		case string:
			stmts = []string{v}
		default:
			if stmts, err = toStrings(v); err != nil {
				return nil, fmt.Errorf("SQLMutation: %w", err)
			}
		}
		return &SQLMutation{Tag: tag, SQL: stmts}, c.noExtra()
	},
	"MoveToMigrations": func(c *call) (Mutation, error) {
		if err := c.arity(0, 1); err != nil {
			return nil, err
		}
		mv := &MoveToMigrations{}
		if v, ok := c.take("mark_applied", 0); ok {
			applied, err := toStrings(v)
			if err != nil {
				return nil, fmt.Errorf("MoveToMigrations: %w", err)
			}
			mv.MarkApplied = applied
		}
		return mv, c.noExtra()
	},
}

// Constructors returns the names of every mutation Parse understands.
func Constructors() []string {
	names := make([]string, 0, len(builders))
	for name := range builders {
		names = append(names, name)
	}
	return names
}

func build(c *call) (Mutation, error) {
	b, ok := builders[c.name]
	if !ok {
		return nil, fmt.Errorf("unknown mutation %q", c.name)
	}
	m, err := b(c)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", c.name, err)
	}
	return m, nil
}

func (c *call) arity(min, max int) error {
	if len(c.args) < min {
		return fmt.Errorf("expected at least %d positional arguments, got %d", min, len(c.args))
	}
	if len(c.args) > max {
		return fmt.Errorf("expected at most %d positional arguments, got %d", max, len(c.args))
	}
	return nil
}

func (c *call) str(i int) (string, error) {
	s, ok := c.args[i].(string)
	if !ok {
		return "", fmt.Errorf("argument %d must be a string, got %s", i+1, describe(c.args[i]))
	}
	return s, nil
}

func (c *call) twoStrings() (string, string, error) {
	a, err := c.str(0)
	if err != nil {
		return "", "", err
	}
	b, err := c.str(1)
	return a, b, err
}

// take removes a keyword argument, falling back to positional index pos.
func (c *call) take(name string, pos int) (any, bool) {
	if v, ok := c.kwargs[name]; ok {
		delete(c.kwargs, name)
		return v, true
	}
	if pos >= 0 && pos < len(c.args) {
		return c.args[pos], true
	}
	return nil, false
}

func (c *call) optString(name string) (string, error) {
	v, ok := c.take(name, -1)
	if !ok || v == nil {
		return "", nil
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("%s must be a string, got %s", name, describe(v))
	}
	return s, nil
}

// rest returns the keyword arguments not yet taken.
func (c *call) rest() map[string]any {
	out := make(map[string]any, len(c.kwargs))
	for k, v := range c.kwargs {
		out[k] = v
	}
	return out
}

func (c *call) noExtra() error {
	for _, k := range c.order {
		if _, ok := c.kwargs[k]; ok {
			return fmt.Errorf("unexpected keyword argument %q", k)
		}
	}
	return nil
}

func fieldType(v any) (signature.FieldType, error) {
	switch t := v.(type) {
	case fieldTypeRef:
		return signature.ParseFieldType(string(t))
	case string:
		return signature.ParseFieldType(t)
	}
	return "", fmt.Errorf("expected a field type, got %s", describe(v))
}

func describe(v any) string {
	switch x := v.(type) {
	case *call:
		return x.name + "(...)"
	case nil:
		return "None"
	}
	return fmt.Sprintf("%T", v)
}

// Lexer.

type tokKind int

const (
	tokEOF tokKind = iota
	tokName
	tokString
	tokInt
	tokFloat
	tokPunct
	tokPlaceholder
)

type token struct {
	kind tokKind
	text string
	line int
}

func (t token) String() string {
	if t.kind == tokEOF {
		return "end of input"
	}
	return strconv.Quote(t.text)
}

type lexer struct {
	src  []rune
	pos  int
	line int
}

func newLexer(src string) *lexer {
	return &lexer{src: []rune(src), line: 1}
}

func (l *lexer) peek(off int) rune {
	if l.pos+off < len(l.src) {
		return l.src[l.pos+off]
	}
	return 0
}

func (l *lexer) skip() {
	for l.pos < len(l.src) {
		r := l.src[l.pos]
		switch {
		case r == '\n':
			l.line++
			l.pos++
		case r == '\\' && l.peek(1) == '\n':
			l.line++
			l.pos += 2
		case unicode.IsSpace(r):
			l.pos++
		case r == '#':
			for l.pos < len(l.src) && l.src[l.pos] != '\n' {
				l.pos++
			}
		default:
			return
		}
	}
}

func (l *lexer) next() (token, error) {
	l.skip()
	if l.pos >= len(l.src) {
		return token{kind: tokEOF, line: l.line}, nil
	}
	line := l.line
	r := l.src[l.pos]

	switch {
	case strings.HasPrefix(string(l.src[l.pos:min(l.pos+len(placeholderText), len(l.src))]), placeholderText):
		l.pos += len([]rune(placeholderText))
		return token{kind: tokPlaceholder, text: placeholderText, line: line}, nil
	case r == '\'' || r == '"':
		s, err := l.str(r)
		return token{kind: tokString, text: s, line: line}, err
	case r == '_' || unicode.IsLetter(r):
		start := l.pos
		for l.pos < len(l.src) && (l.src[l.pos] == '_' || l.src[l.pos] == '.' ||
			unicode.IsLetter(l.src[l.pos]) || unicode.IsDigit(l.src[l.pos])) {
			l.pos++
		}
		return token{kind: tokName, text: string(l.src[start:l.pos]), line: line}, nil
	case unicode.IsDigit(r) || ((r == '-' || r == '.') && unicode.IsDigit(l.peek(1))):
		return l.number(line)
	case strings.ContainsRune("[](){},=:", r):
		l.pos++
		return token{kind: tokPunct, text: string(r), line: line}, nil
	}
	return token{}, fmt.Errorf("line %d: unexpected character %q", line, r)
}

func (l *lexer) number(line int) (token, error) {
	start := l.pos
	if l.src[l.pos] == '-' {
		l.pos++
	}
	kind := tokInt
	for l.pos < len(l.src) {
		r := l.src[l.pos]
		switch {
		case unicode.IsDigit(r) || r == '_':
		case r == '.' || r == 'e' || r == 'E':
			kind = tokFloat
		case (r == '+' || r == '-') && (l.src[l.pos-1] == 'e' || l.src[l.pos-1] == 'E'):
		default:
			return token{kind: kind, text: string(l.src[start:l.pos]), line: line}, nil
		}
		l.pos++
	}
	return token{kind: kind, text: string(l.src[start:l.pos]), line: line}, nil
}

func (l *lexer) str(q rune) (string, error) {
	line := l.line
	triple := l.peek(1) == q && l.peek(2) == q
	if triple {
		l.pos += 3
	} else {
		l.pos++
	}

	var b strings.Builder
	for {
		if l.pos >= len(l.src) {
			return "", fmt.Errorf("line %d: unterminated string", line)
		}
		r := l.src[l.pos]
		switch {
		case r == q && !triple:
			l.pos++
			return b.String(), nil
		case r == q && l.peek(1) == q && l.peek(2) == q:
			l.pos += 3
			return b.String(), nil
		case r == '\n' && !triple:
			return "", fmt.Errorf("line %d: unterminated string", line)
		case r == '\\':
			e := l.peek(1)
			l.pos += 2
			switch e {
			case 'n':
				b.WriteByte('\n')
			case 'r':
				b.WriteByte('\r')
			case 't':
				b.WriteByte('\t')
			case '\\', '\'', '"':
				b.WriteRune(e)
			case '\n':
				l.line++
			case 'x':
				if l.pos+2 > len(l.src) {
					return "", fmt.Errorf("line %d: bad \\x escape", l.line)
				}
				n, err := strconv.ParseUint(string(l.src[l.pos:l.pos+2]), 16, 8)
				if err != nil {
					return "", fmt.Errorf("line %d: bad \\x escape", l.line)
				}
				b.WriteRune(rune(n))
				l.pos += 2
			default:
				b.WriteByte('\\')
				b.WriteRune(e)
			}
		default:
			if r == '\n' {
				l.line++
			}
			b.WriteRune(r)
			l.pos++
		}
	}
}

// Parser.

type parser struct {
	lex *lexer
	tok token
}

func (p *parser) next() error {
	t, err := p.lex.next()
	if err != nil {
		return err
	}
	p.tok = t
	return nil
}

func (p *parser) errorf(format string, args ...any) error {
	return fmt.Errorf("line %d: %s", p.tok.line, fmt.Sprintf(format, args...))
}

func (p *parser) is(kind tokKind, text string) bool {
	return p.tok.kind == kind && p.tok.text == text
}

func (p *parser) expect(kind tokKind, text string) error {
	if !p.is(kind, text) {
		return p.errorf("expected %q, found %s", text, p.tok)
	}
	return p.next()
}

func (p *parser) value() (any, error) {
	t := p.tok
	switch t.kind {
	case tokString:
		// Adjacent literals concatenate.
		var b strings.Builder
		for p.tok.kind == tokString {
			b.WriteString(p.tok.text)
			if err := p.next(); err != nil {
				return nil, err
			}
		}
		return b.String(), nil
	case tokInt:
		n, err := strconv.ParseInt(strings.ReplaceAll(t.text, "_", ""), 10, 64)
		if err != nil {
			return nil, p.errorf("bad integer %s", t)
		}
		return int(n), p.next()
	case tokFloat:
		f, err := strconv.ParseFloat(strings.ReplaceAll(t.text, "_", ""), 64)
		if err != nil {
			return nil, p.errorf("bad number %s", t)
		}
		return f, p.next()
	case tokPlaceholder:
		return UserValueRequired, p.next()
	case tokName:
		if err := p.next(); err != nil {
			return nil, err
		}
		switch t.text {
		case "True":
			return true, nil
		case "False":
			return false, nil
		case "None":
			return nil, nil
		}
		if p.is(tokPunct, "(") {
			if t.text == "float" {
				return p.floatCall()
			}
			return p.call(t.text)
		}
		if strings.HasPrefix(t.text, "models.") {
			return fieldTypeRef(strings.TrimPrefix(t.text, "models.")), nil
		}
		return nil, fmt.Errorf("line %d: unknown name %q", t.line, t.text)
	case tokPunct:
		switch t.text {
		case "[":
			items, _, err := p.seq("]")
			return items, err
		case "(":
			items, trailing, err := p.seq(")")
			if err != nil {
				return nil, err
			}
			if len(items) == 1 && !trailing {
				return items[0], nil
			}
			return tuple(items), nil
		case "{":
			return p.dict()
		}
	}
	return nil, p.errorf("unexpected %s", t)
}

// seq parses comma-separated values up to close. trailing reports a comma
// before close.
func (p *parser) seq(close string) ([]any, bool, error) {
	if err := p.next(); err != nil {
		return nil, false, err
	}
	items := []any{}
	trailing := false
	for !p.is(tokPunct, close) {
		v, err := p.value()
		if err != nil {
			return nil, false, err
		}
		items = append(items, v)
		trailing = false
		if p.is(tokPunct, ",") {
			trailing = true
			if err := p.next(); err != nil {
				return nil, false, err
			}
			continue
		}
		if !p.is(tokPunct, close) {
			return nil, false, p.errorf("expected \",\" or %q, found %s", close, p.tok)
		}
	}
	return items, trailing, p.next()
}

func (p *parser) dict() (map[string]any, error) {
	if err := p.next(); err != nil {
		return nil, err
	}
	d := map[string]any{}
	for !p.is(tokPunct, "}") {
		k, err := p.value()
		if err != nil {
			return nil, err
		}
		key, ok := k.(string)
		if !ok {
			return nil, p.errorf("dict keys must be strings")
		}
		if err := p.expect(tokPunct, ":"); err != nil {
			return nil, err
		}
		v, err := p.value()
		if err != nil {
			return nil, err
		}
		d[key] = v
		if p.is(tokPunct, ",") {
			if err := p.next(); err != nil {
				return nil, err
			}
		} else if !p.is(tokPunct, "}") {
			return nil, p.errorf("expected \",\" or \"}\", found %s", p.tok)
		}
	}
	return d, p.next()
}

func (p *parser) call(name string) (*call, error) {
	if err := p.next(); err != nil {
		return nil, err
	}
	c := &call{name: name, kwargs: map[string]any{}}
	for !p.is(tokPunct, ")") {
		if p.tok.kind == tokName {
			// Peek for a keyword argument.
			save, saveTok := *p.lex, p.tok
			key := p.tok.text
			if err := p.next(); err != nil {
				return nil, err
			}
			if p.is(tokPunct, "=") {
				if err := p.next(); err != nil {
					return nil, err
				}
				v, err := p.value()
				if err != nil {
					return nil, err
				}
				if _, dup := c.kwargs[key]; dup {
					return nil, p.errorf("duplicate keyword argument %q", key)
				}
				c.kwargs[key] = v
				c.order = append(c.order, key)
				if err := p.argSep(); err != nil {
					return nil, err
				}
				continue
			}
			*p.lex, p.tok = save, saveTok
		}
		if len(c.kwargs) > 0 {
			return nil, p.errorf("positional argument follows keyword argument")
		}
		v, err := p.value()
		if err != nil {
			return nil, err
		}
		c.args = append(c.args, v)
		if err := p.argSep(); err != nil {
			return nil, err
		}
	}
	return c, p.next()
}

func (p *parser) argSep() error {
	if p.is(tokPunct, ",") {
		return p.next()
	}
	if !p.is(tokPunct, ")") {
		return p.errorf("expected \",\" or \")\", found %s", p.tok)
	}
	return nil
}

// floatCall parses float('inf'), float('-inf') and float('nan').
func (p *parser) floatCall() (any, error) {
	if err := p.next(); err != nil {
		return nil, err
	}
	if p.tok.kind != tokString {
		return nil, p.errorf("float() expects a string")
	}
	f, err := strconv.ParseFloat(p.tok.text, 64)
	if err != nil {
		return nil, p.errorf("bad float %s", p.tok)
	}
	if err := p.next(); err != nil {
		return nil, err
	}
	return f, p.expect(tokPunct, ")")
}
