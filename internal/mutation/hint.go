package mutation

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/sadopc/goevolve/internal/signature"
)

// Placeholder stands in for a value an operator must supply before a
// hinted evolution can run. It renders as <<USER VALUE REQUIRED>>.
type Placeholder struct{}

const placeholderText = "<<USER VALUE REQUIRED>>"

func (Placeholder) String() string { return placeholderText }

// UserValueRequired is the placeholder substituted for a missing initial
// value when hints are generated.
var UserValueRequired = Placeholder{}

func isPlaceholder(v any) bool {
	_, ok := v.(Placeholder)
	return ok
}

// fieldTypeRef renders a field type as it appears in hint text.
type fieldTypeRef string

// tuple renders with parentheses instead of brackets.
type tuple []any

// Value formats v in hint syntax: Python-style literals, so the same
// logical value always renders identically.
func Value(v any) string {
	var b strings.Builder
	writeValue(&b, v)
	return b.String()
}

func writeValue(b *strings.Builder, v any) {
	switch x := v.(type) {
	case nil:
		b.WriteString("None")
	case bool:
		if x {
			b.WriteString("True")
		} else {
			b.WriteString("False")
		}
	case string:
		b.WriteString(quote(x))
	case int:
		b.WriteString(strconv.Itoa(x))
	case int64:
		b.WriteString(strconv.FormatInt(x, 10))
	case float64:
		b.WriteString(formatFloat(x))
	case Placeholder:
		b.WriteString(placeholderText)
	case fieldTypeRef:
		b.WriteString("models." + string(x))
	case signature.FieldType:
		b.WriteString("models." + string(x))
	case []string:
		writeSeq(b, "[", "]", len(x), func(i int) { b.WriteString(quote(x[i])) })
	case []any:
		writeSeq(b, "[", "]", len(x), func(i int) { writeValue(b, x[i]) })
	case tuple:
		b.WriteByte('(')
		for i, e := range x {
			if i > 0 {
				b.WriteString(", ")
			}
			writeValue(b, e)
		}
		if len(x) == 1 {
			b.WriteByte(',')
		}
		b.WriteByte(')')
	case [][]string:
		writeSeq(b, "[", "]", len(x), func(i int) {
			t := make(tuple, len(x[i]))
			for j, s := range x[i] {
				t[j] = s
			}
			writeValue(b, t)
		})
	case map[string]any:
		keys := make([]string, 0, len(x))
		for k := range x {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		writeSeq(b, "{", "}", len(keys), func(i int) {
			b.WriteString(quote(keys[i]))
			b.WriteString(": ")
			writeValue(b, x[keys[i]])
		})
	case []signature.IndexSignature:
		writeSeq(b, "[", "]", len(x), func(i int) { writeValue(b, indexDict(x[i])) })
	case []signature.ConstraintSignature:
		writeSeq(b, "[", "]", len(x), func(i int) { writeValue(b, constraintDict(x[i])) })
	default:
		b.WriteString(quote(fmt.Sprint(v)))
	}
}

func writeSeq(b *strings.Builder, open, close string, n int, item func(i int)) {
	b.WriteString(open)
	for i := 0; i < n; i++ {
		if i > 0 {
			b.WriteString(", ")
		}
		item(i)
	}
	b.WriteString(close)
}

func formatFloat(f float64) string {
	switch {
	case math.IsInf(f, 1):
		return "float('inf')"
	case math.IsInf(f, -1):
		return "float('-inf')"
	case math.IsNaN(f):
		return "float('nan')"
	}
	s := strconv.FormatFloat(f, 'g', -1, 64)
	if !strings.ContainsAny(s, ".e") {
		s += ".0"
	}
	return s
}

// quote renders a string the way Python's repr does: single quotes unless
// the text contains a single quote and no double quote.
func quote(s string) string {
	q := byte('\'')
	if strings.ContainsRune(s, '\'') && !strings.ContainsRune(s, '"') {
		q = '"'
	}
	var b strings.Builder
	b.WriteByte(q)
	for _, r := range s {
		switch {
		case r == '\\':
			b.WriteString(`\\`)
		case r == rune(q):
			b.WriteByte('\\')
			b.WriteByte(q)
		case r == '\n':
			b.WriteString(`\n`)
		case r == '\r':
			b.WriteString(`\r`)
		case r == '\t':
			b.WriteString(`\t`)
		case r < 0x20 || r == 0x7f:
			fmt.Fprintf(&b, `\x%02x`, r)
		default:
			b.WriteRune(r)
		}
	}
	b.WriteByte(q)
	return b.String()
}

func kwarg(name string, v any) string {
	return name + "=" + Value(v)
}

func indexDict(idx signature.IndexSignature) map[string]any {
	d := map[string]any{}
	for k, v := range idx.Attrs {
		d[k] = v
	}
	if len(idx.Fields) > 0 {
		d["fields"] = idx.Fields
	}
	if idx.Name != "" {
		d["name"] = idx.Name
	}
	return d
}

func constraintDict(c signature.ConstraintSignature) map[string]any {
	d := map[string]any{}
	for k, v := range c.Attrs {
		d[k] = v
	}
	d["name"] = c.Name
	d["type"] = c.Type
	return d
}

// Render formats a list of mutations as hinted-evolution text.
func Render(ms []Mutation) string {
	if len(ms) == 0 {
		return "MUTATIONS = []\n"
	}
	var b strings.Builder
	b.WriteString("MUTATIONS = [\n")
	for _, m := range ms {
		b.WriteString("    ")
		b.WriteString(m.String())
		b.WriteString(",\n")
	}
	b.WriteString("]\n")
	return b.String()
}
