// Package evolutions loads the stored evolutions of an application from
// its evolution directory.
//
// The directory holds a SEQUENCE file listing evolution labels in the order
// they apply, one per line, and one script per label:
//
//	<label>.evo               hinted-evolution text (MUTATIONS = [...])
//	<label>.sql               raw SQL, run as a single SQLMutation
//	<database>_<label>.sql    raw SQL for one database only
//	<label>.yaml              {tag: ..., sql: [...]}, run as a SQLMutation
package evolutions

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/sadopc/goevolve/internal/mutation"
)

// SequenceFile is the name of the label list in an evolution directory.
const SequenceFile = "SEQUENCE"

// Evolution is one stored evolution of an application.
type Evolution struct {
	AppLabel  string
	Label     string
	Path      string
	Mutations []mutation.Mutation
}

// Source reads the evolution directory of one application.
type Source struct {
	AppLabel string
	Dir      string
	// Database selects <database>_<label>.sql scripts.
	Database string
}

// Sequence returns the labels listed in SEQUENCE. A missing directory or
// file means the application has no evolutions.
func (s Source) Sequence() ([]string, error) {
	f, err := os.Open(filepath.Join(s.Dir, SequenceFile))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("evolutions %s: %w", s.AppLabel, err)
	}
	defer f.Close()

	var labels []string
	seen := map[string]bool{}
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if seen[line] {
			return nil, fmt.Errorf("evolutions %s: label %q listed twice in %s", s.AppLabel, line, SequenceFile)
		}
		seen[line] = true
		labels = append(labels, line)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("evolutions %s: read %s: %w", s.AppLabel, SequenceFile, err)
	}
	return labels, nil
}

// Load reads the script of one label.
func (s Source) Load(label string) (Evolution, error) {
	e := Evolution{AppLabel: s.AppLabel, Label: label}

	sqlNames := []string{label + ".sql"}
	if s.Database != "" {
		sqlNames = append(sqlNames, s.Database+"_"+label+".sql")
	}
	for _, name := range sqlNames {
		path := filepath.Join(s.Dir, name)
		data, err := os.ReadFile(path)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return e, fmt.Errorf("evolutions %s.%s: %w", s.AppLabel, label, err)
		}
		e.Path = path
		e.Mutations = []mutation.Mutation{&mutation.SQLMutation{Tag: label, SQL: SplitSQL(string(data))}}
		return e, nil
	}

	path := filepath.Join(s.Dir, label+".evo")
	data, err := os.ReadFile(path)
	if err == nil {
		ms, err := mutation.Parse(string(data))
		if err != nil {
			return e, fmt.Errorf("evolutions %s.%s: %w", s.AppLabel, label, err)
		}
		e.Path = path
		e.Mutations = ms
		return e, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return e, fmt.Errorf("evolutions %s.%s: %w", s.AppLabel, label, err)
	}

	path = filepath.Join(s.Dir, label+".yaml")
	data, err = os.ReadFile(path)
	if err == nil {
		var doc struct {
			Tag string   `yaml:"tag"`
			SQL []string `yaml:"sql"`
		}
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return e, fmt.Errorf("evolutions %s.%s: parse yaml: %w", s.AppLabel, label, err)
		}
		if doc.Tag == "" {
			doc.Tag = label
		}
		e.Path = path
		e.Mutations = []mutation.Mutation{&mutation.SQLMutation{Tag: doc.Tag, SQL: doc.SQL}}
		return e, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return e, fmt.Errorf("evolutions %s.%s: %w", s.AppLabel, label, err)
	}

	return e, fmt.Errorf("evolutions %s: no .evo, .sql or .yaml script for evolution %q in %s", s.AppLabel, label, s.Dir)
}

// All loads every evolution in sequence order.
func (s Source) All() ([]Evolution, error) {
	labels, err := s.Sequence()
	if err != nil {
		return nil, err
	}
	out := make([]Evolution, 0, len(labels))
	for _, label := range labels {
		e, err := s.Load(label)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

// AppliedChecker reports whether an evolution label has been recorded.
type AppliedChecker interface {
	Applied(ctx context.Context, appLabel, label string) (bool, error)
}

// Pending loads the evolutions in sequence order that h has not recorded.
func (s Source) Pending(ctx context.Context, h AppliedChecker) ([]Evolution, error) {
	labels, err := s.Sequence()
	if err != nil {
		return nil, err
	}
	var out []Evolution
	for _, label := range labels {
		applied, err := h.Applied(ctx, s.AppLabel, label)
		if err != nil {
			return nil, err
		}
		if applied {
			continue
		}
		e, err := s.Load(label)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

// Mutations concatenates the mutations of evos.
func Mutations(evos []Evolution) []mutation.Mutation {
	var out []mutation.Mutation
	for _, e := range evos {
		out = append(out, e.Mutations...)
	}
	return out
}

// Labels returns the labels of evos.
func Labels(evos []Evolution) []string {
	out := make([]string, len(evos))
	for i, e := range evos {
		out[i] = e.Label
	}
	return out
}

// SplitSQL splits a script into statements. A statement ends at a line
// whose last character is a semicolon; blank lines and -- comment lines
// are dropped.
func SplitSQL(script string) []string {
	var (
		out []string
		cur []string
	)
	flush := func() {
		if len(cur) > 0 {
			out = append(out, strings.Join(cur, "\n"))
			cur = nil
		}
	}
	for _, line := range strings.Split(script, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "--") {
			continue
		}
		cur = append(cur, strings.TrimRight(line, " \t\r"))
		if strings.HasSuffix(trimmed, ";") {
			flush()
		}
	}
	flush()
	return out
}

// Write saves hint text as <label>.evo and appends label to SEQUENCE,
// creating the directory when needed.
func (s Source) Write(label, text string) (string, error) {
	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return "", fmt.Errorf("evolutions %s: %w", s.AppLabel, err)
	}
	labels, err := s.Sequence()
	if err != nil {
		return "", err
	}
	for _, l := range labels {
		if l == label {
			return "", fmt.Errorf("evolutions %s: label %q already exists", s.AppLabel, label)
		}
	}

	path := filepath.Join(s.Dir, label+".evo")
	if err := os.WriteFile(path, []byte(text), 0o644); err != nil {
		return "", fmt.Errorf("evolutions %s: %w", s.AppLabel, err)
	}
	seq, err := os.OpenFile(filepath.Join(s.Dir, SequenceFile), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return "", fmt.Errorf("evolutions %s: %w", s.AppLabel, err)
	}
	defer seq.Close()
	if _, err := fmt.Fprintln(seq, label); err != nil {
		return "", fmt.Errorf("evolutions %s: %w", s.AppLabel, err)
	}
	return path, nil
}
