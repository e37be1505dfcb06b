// Package backend defines the database backends an evolution is compiled
// for and executed against: the dialect registry, live connections, and
// the SQL generators behind each dialect.
package backend

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/sahilm/fuzzy"

	"github.com/sadopc/goevolve/internal/schema"
)

var (
	ErrNotConnected = errors.New("not connected to database")
	ErrUnsupported  = errors.New("operation not supported by this backend")
)

// Backend creates database connections and exposes the SQL generator for
// its dialect.
type Backend interface {
	Connect(ctx context.Context, dsn string) (Connection, error)
	Name() string
	DefaultPort() int
	Operations() Operations
}

// Row is a single-row query result.
type Row interface {
	Scan(dest ...any) error
}

// Querier runs statements against a connection or transaction.
type Querier interface {
	Exec(ctx context.Context, query string, args ...any) error
	QueryRow(ctx context.Context, query string, args ...any) Row
}

// Tx is an open transaction.
type Tx interface {
	Querier
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// Connection represents an active database connection.
type Connection interface {
	Querier

	// Introspection
	Tables(ctx context.Context) ([]schema.Table, error)
	Columns(ctx context.Context, table string) ([]schema.Column, error)
	Indexes(ctx context.Context, table string) ([]schema.Index, error)
	ForeignKeys(ctx context.Context, table string) ([]schema.ForeignKey, error)

	// Begin opens a transaction. When checkConstraints is false, foreign
	// key checks are disabled or deferred for its duration.
	Begin(ctx context.Context, checkConstraints bool) (Tx, error)

	// Lifecycle
	Ping(ctx context.Context) error
	Close() error

	// Info
	DatabaseName() string
	AdapterName() string
}

// Registry holds registered backends by name.
var Registry = map[string]Backend{}

// Register adds a backend to the global registry.
func Register(b Backend) {
	Registry[b.Name()] = b
}

// Names returns the registered backend names, sorted.
func Names() []string {
	names := make([]string, 0, len(Registry))
	for name := range Registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Lookup resolves a backend by name. Unknown names produce an error that
// suggests the closest registered names.
func Lookup(name string) (Backend, error) {
	if b, ok := Registry[name]; ok {
		return b, nil
	}
	names := Names()
	msg := fmt.Sprintf("unknown backend %q (available: %s)", name, strings.Join(names, ", "))
	if s := Suggest(name, names); len(s) > 0 {
		msg = fmt.Sprintf("unknown backend %q, did you mean %q?", name, s[0])
	}
	return nil, errors.New(msg)
}

// Suggest returns the candidates that fuzzily match pattern, best first.
func Suggest(pattern string, candidates []string) []string {
	var out []string
	for _, m := range fuzzy.Find(pattern, candidates) {
		out = append(out, m.Str)
	}
	return out
}
