// Package history stores the evolution history of a database: one row per
// recorded project signature and one row per applied evolution label.
// Both tables live in the evolved database itself, so a history row is
// written in the same transaction as the SQL it describes.
package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/sadopc/goevolve/internal/backend"
	"github.com/sadopc/goevolve/internal/signature"
)

const (
	VersionTable   = "goevolve_version"
	EvolutionTable = "goevolve_evolution"
)

// ErrNoVersion is returned by Latest when nothing has been recorded yet.
var ErrNoVersion = errors.New("no signature version recorded")

// Version is one recorded project signature.
type Version struct {
	ID int64
	// Number is nil for hinted versions, which were produced from a
	// generated evolution rather than a stored one.
	Number    *int64
	Signature *signature.ProjectSignature
	RunID     string
	CreatedAt time.Time
}

// Hinted reports whether v was recorded by a hinted evolution.
func (v *Version) Hinted() bool { return v.Number == nil }

// Evolution is an applied evolution label.
type Evolution struct {
	AppLabel string
	Label    string
}

// Entry is what Add records.
type Entry struct {
	Signature  *signature.ProjectSignature
	Hinted     bool
	RunID      string
	Evolutions []Evolution
}

// Store reads and appends history rows through a querier, which may be a
// connection or an open transaction.
type Store struct {
	q      backend.Querier
	d      backend.Dialect
	logger *slog.Logger
	now    func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// New returns a store using d's SQL.
func New(q backend.Querier, d backend.Dialect, opts ...Option) *Store {
	s := &Store{q: q, d: d, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s
}

// In returns a copy of s that runs its statements through q.
func (s *Store) In(q backend.Querier) *Store {
	c := *s
	c.q = q
	return &c
}

func (s *Store) table(name string) string { return s.d.QuoteName(name) }

func (s *Store) col(name string) string { return s.d.QuoteName(name) }

func (s *Store) colType(t signature.FieldType) string {
	return s.d.DataType(signature.MustField("x", t, nil))
}

// bind replaces each ? in query with the dialect's placeholder.
func (s *Store) bind(query string) string {
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString(s.d.Placeholder(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// EnsureSchema creates the history tables if they do not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	bigint := s.colType(signature.BigIntegerField)
	text := s.colType(signature.TextField)
	label := s.d.DataType(signature.MustField("x", signature.CharField, map[string]any{"max_length": 255}))

	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	%s %s PRIMARY KEY,
	%s %s NULL,
	%s %s NOT NULL,
	%s %s NOT NULL,
	%s %s NOT NULL
)`, s.table(VersionTable),
			s.col("id"), bigint,
			s.col("version"), bigint,
			s.col("signature"), text,
			s.col("run_id"), label,
			s.col("created_at"), label),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	%s %s PRIMARY KEY,
	%s %s NOT NULL,
	%s %s NOT NULL,
	%s %s NOT NULL
)`, s.table(EvolutionTable),
			s.col("id"), bigint,
			s.col("version_id"), bigint,
			s.col("app_label"), label,
			s.col("label"), label),
	}
	for _, st := range stmts {
		if err := s.q.Exec(ctx, st); err != nil {
			return fmt.Errorf("history schema: %w", err)
		}
	}
	return nil
}

// Latest returns the most recently recorded version, or ErrNoVersion.
func (s *Store) Latest(ctx context.Context) (*Version, error) {
	query := fmt.Sprintf("SELECT %s, %s, %s, %s, %s FROM %s ORDER BY %s DESC LIMIT 1",
		s.col("id"), s.col("version"), s.col("signature"), s.col("run_id"), s.col("created_at"),
		s.table(VersionTable), s.col("id"))

	var (
		v       Version
		number  sql.NullInt64
		data    string
		created string
	)
	err := s.q.QueryRow(ctx, query).Scan(&v.ID, &number, &data, &v.RunID, &created)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNoVersion
		}
		return nil, fmt.Errorf("history latest: %w", err)
	}
	if number.Valid {
		n := number.Int64
		v.Number = &n
	}
	if v.Signature, err = signature.Deserialize([]byte(data)); err != nil {
		return nil, fmt.Errorf("history latest: version %d: %w", v.ID, err)
	}
	if v.CreatedAt, err = time.Parse(time.RFC3339Nano, created); err != nil {
		return nil, fmt.Errorf("history latest: version %d: %w", v.ID, err)
	}
	return &v, nil
}

// Add records a new version and its applied evolutions.
func (s *Store) Add(ctx context.Context, e Entry) (*Version, error) {
	data, err := e.Signature.Serialize()
	if err != nil {
		return nil, fmt.Errorf("history add: %w", err)
	}
	id, err := s.next(ctx, VersionTable, "id")
	if err != nil {
		return nil, fmt.Errorf("history add: %w", err)
	}

	v := &Version{ID: id, Signature: e.Signature, RunID: e.RunID, CreatedAt: s.now().UTC()}
	var number any
	if !e.Hinted {
		n, err := s.next(ctx, VersionTable, "version")
		if err != nil {
			return nil, fmt.Errorf("history add: %w", err)
		}
		v.Number = &n
		number = n
	}

	insert := s.bind(fmt.Sprintf("INSERT INTO %s (%s, %s, %s, %s, %s) VALUES (?, ?, ?, ?, ?)",
		s.table(VersionTable), s.col("id"), s.col("version"), s.col("signature"), s.col("run_id"), s.col("created_at")))
	if err := s.q.Exec(ctx, insert, id, number, string(data), e.RunID, v.CreatedAt.Format(time.RFC3339Nano)); err != nil {
		return nil, fmt.Errorf("history add: %w", err)
	}

	for _, evo := range e.Evolutions {
		if err := s.addEvolution(ctx, id, evo); err != nil {
			return nil, err
		}
	}
	s.logger.Info("signature version recorded", "id", id, "hinted", e.Hinted, "evolutions", len(e.Evolutions), "run_id", e.RunID)
	return v, nil
}

func (s *Store) addEvolution(ctx context.Context, versionID int64, evo Evolution) error {
	id, err := s.next(ctx, EvolutionTable, "id")
	if err != nil {
		return fmt.Errorf("history add evolution: %w", err)
	}
	insert := s.bind(fmt.Sprintf("INSERT INTO %s (%s, %s, %s, %s) VALUES (?, ?, ?, ?)",
		s.table(EvolutionTable), s.col("id"), s.col("version_id"), s.col("app_label"), s.col("label")))
	if err := s.q.Exec(ctx, insert, id, versionID, evo.AppLabel, evo.Label); err != nil {
		return fmt.Errorf("history add evolution %s.%s: %w", evo.AppLabel, evo.Label, err)
	}
	return nil
}

// next returns one past the largest value of column. Two runs against the
// same database could pick the same value; runs are assumed to be serialized.
func (s *Store) next(ctx context.Context, table, column string) (int64, error) {
	query := fmt.Sprintf("SELECT COALESCE(MAX(%s), 0) + 1 FROM %s", s.col(column), s.table(table))
	var n int64
	if err := s.q.QueryRow(ctx, query).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

// Applied reports whether label has been recorded for appLabel.
func (s *Store) Applied(ctx context.Context, appLabel, label string) (bool, error) {
	query := s.bind(fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE %s = ? AND %s = ?",
		s.table(EvolutionTable), s.col("app_label"), s.col("label")))
	var n int64
	if err := s.q.QueryRow(ctx, query, appLabel, label).Scan(&n); err != nil {
		return false, fmt.Errorf("history applied: %w", err)
	}
	return n > 0, nil
}

// Count returns the number of recorded versions.
func (s *Store) Count(ctx context.Context) (int64, error) {
	var n int64
	query := fmt.Sprintf("SELECT COUNT(*) FROM %s", s.table(VersionTable))
	if err := s.q.QueryRow(ctx, query).Scan(&n); err != nil {
		return 0, fmt.Errorf("history count: %w", err)
	}
	return n, nil
}

// Baseline records sig as the first version, marking every given
// evolution as applied. It fails if a version already exists.
func (s *Store) Baseline(ctx context.Context, sig *signature.ProjectSignature, runID string, evolutions []Evolution) (*Version, error) {
	if err := s.EnsureSchema(ctx); err != nil {
		return nil, err
	}
	if latest, err := s.Latest(ctx); err == nil {
		return nil, fmt.Errorf("history baseline: version %d already recorded", latest.ID)
	} else if !errors.Is(err, ErrNoVersion) {
		return nil, err
	}
	return s.Add(ctx, Entry{Signature: sig, RunID: runID, Evolutions: evolutions})
}
