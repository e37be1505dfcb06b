package history

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sadopc/goevolve/internal/backend"
	"github.com/sadopc/goevolve/internal/backend/postgres"
	"github.com/sadopc/goevolve/internal/backend/sqlite"
	"github.com/sadopc/goevolve/internal/signature"
)

// newTestStore opens an in-memory SQLite database with the history schema.
func newTestStore(t *testing.T) (*Store, backend.Connection) {
	t.Helper()
	ctx := context.Background()

	b, err := backend.Lookup("sqlite")
	if err != nil {
		t.Fatalf("lookup sqlite: %v", err)
	}
	conn, err := b.Connect(ctx, ":memory:")
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	s := New(conn, sqlite.Dialect{})
	if err := s.EnsureSchema(ctx); err != nil {
		t.Fatalf("EnsureSchema() error = %v", err)
	}
	return s, conn
}

func testSignature(t *testing.T, fields ...string) *signature.ProjectSignature {
	t.Helper()
	p := signature.NewProject()
	app := signature.NewApp("tests")
	m := signature.NewModel("Person", "")
	if err := m.AddField(signature.MustField("id", signature.AutoField, map[string]any{"primary_key": true})); err != nil {
		t.Fatal(err)
	}
	for _, f := range fields {
		if err := m.AddField(signature.MustField(f, signature.IntegerField, map[string]any{"null": true})); err != nil {
			t.Fatal(err)
		}
	}
	if err := app.AddModel(m); err != nil {
		t.Fatal(err)
	}
	if err := p.AddApp(app); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestLatestEmpty(t *testing.T) {
	s, _ := newTestStore(t)

	_, err := s.Latest(context.Background())
	if !errors.Is(err, ErrNoVersion) {
		t.Fatalf("Latest() error = %v, want ErrNoVersion", err)
	}
	n, err := s.Count(context.Background())
	if err != nil {
		t.Fatalf("Count() error = %v", err)
	}
	if n != 0 {
		t.Errorf("Count() = %d, want 0", n)
	}
}

func TestEnsureSchemaTwice(t *testing.T) {
	s, _ := newTestStore(t)
	if err := s.EnsureSchema(context.Background()); err != nil {
		t.Fatalf("second EnsureSchema() error = %v", err)
	}
}

func TestAddAndLatest(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)
	base := time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return base }

	v1, err := s.Add(ctx, Entry{Signature: testSignature(t), RunID: "run-1"})
	if err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	if v1.ID != 1 || v1.Number == nil || *v1.Number != 1 {
		t.Fatalf("first version = %+v, want id 1 number 1", v1)
	}

	s.now = func() time.Time { return base.Add(time.Minute) }
	v2, err := s.Add(ctx, Entry{Signature: testSignature(t, "age"), Hinted: true, RunID: "run-2"})
	if err != nil {
		t.Fatalf("Add() hinted error = %v", err)
	}
	if !v2.Hinted() {
		t.Errorf("hinted version has number %d", *v2.Number)
	}

	latest, err := s.Latest(ctx)
	if err != nil {
		t.Fatalf("Latest() error = %v", err)
	}
	if latest.ID != 2 {
		t.Errorf("Latest().ID = %d, want 2", latest.ID)
	}
	if !latest.Hinted() {
		t.Error("Latest() should be the hinted version")
	}
	if latest.RunID != "run-2" {
		t.Errorf("Latest().RunID = %q, want run-2", latest.RunID)
	}
	if !latest.CreatedAt.Equal(base.Add(time.Minute)) {
		t.Errorf("Latest().CreatedAt = %v", latest.CreatedAt)
	}
	if !latest.Signature.Equal(testSignature(t, "age")) {
		t.Error("Latest().Signature does not round trip")
	}

	v3, err := s.Add(ctx, Entry{Signature: testSignature(t, "age"), RunID: "run-3"})
	if err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	if v3.Number == nil || *v3.Number != 2 {
		t.Errorf("numbered version after a hinted one = %v, want 2", v3.Number)
	}
}

func TestApplied(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	_, err := s.Add(ctx, Entry{
		Signature:  testSignature(t),
		Evolutions: []Evolution{{AppLabel: "tests", Label: "add_age"}, {AppLabel: "tests", Label: "drop_age"}},
	})
	if err != nil {
		t.Fatalf("Add() error = %v", err)
	}

	tests := []struct {
		app, label string
		want       bool
	}{
		{"tests", "add_age", true},
		{"tests", "drop_age", true},
		{"tests", "other", false},
		{"blog", "add_age", false},
	}
	for _, tt := range tests {
		t.Run(tt.app+"."+tt.label, func(t *testing.T) {
			got, err := s.Applied(ctx, tt.app, tt.label)
			if err != nil {
				t.Fatalf("Applied() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("Applied(%q, %q) = %v, want %v", tt.app, tt.label, got, tt.want)
			}
		})
	}
}

func TestBaseline(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	v, err := s.Baseline(ctx, testSignature(t), "run", []Evolution{{AppLabel: "tests", Label: "initial"}})
	if err != nil {
		t.Fatalf("Baseline() error = %v", err)
	}
	if v.Hinted() {
		t.Error("baseline must carry a version number")
	}
	if ok, _ := s.Applied(ctx, "tests", "initial"); !ok {
		t.Error("baseline evolutions should be marked applied")
	}
	if _, err := s.Baseline(ctx, testSignature(t), "run", nil); err == nil {
		t.Error("second Baseline() should fail")
	}
}

func TestAddInRolledBackTransaction(t *testing.T) {
	ctx := context.Background()
	s, conn := newTestStore(t)

	tx, err := conn.Begin(ctx, true)
	if err != nil {
		t.Fatalf("Begin() error = %v", err)
	}
	if _, err := s.In(tx).Add(ctx, Entry{Signature: testSignature(t)}); err != nil {
		t.Fatalf("Add() in tx error = %v", err)
	}
	if err := tx.Rollback(ctx); err != nil {
		t.Fatalf("Rollback() error = %v", err)
	}

	if _, err := s.Latest(ctx); !errors.Is(err, ErrNoVersion) {
		t.Errorf("Latest() after rollback error = %v, want ErrNoVersion", err)
	}
}

func TestNextFollowsLargestValue(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	if n, err := s.next(ctx, EvolutionTable, "id"); err != nil || n != 1 {
		t.Fatalf("next() on empty table = %d, %v; want 1", n, err)
	}
	for i := 0; i < 2; i++ {
		if _, err := s.Add(ctx, Entry{Signature: testSignature(t)}); err != nil {
			t.Fatalf("Add() error = %v", err)
		}
	}
	if n, err := s.next(ctx, VersionTable, "id"); err != nil || n != 3 {
		t.Errorf("next() after two versions = %d, %v; want 3", n, err)
	}
}

func TestBindPlaceholders(t *testing.T) {
	tests := []struct {
		name string
		d    backend.Dialect
		want string
	}{
		{"postgres", postgres.Dialect{}, "a = $1 AND b = $2"},
		{"sqlite", sqlite.Dialect{}, "a = ? AND b = ?"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := New(nil, tt.d).bind("a = ? AND b = ?"); got != tt.want {
				t.Errorf("bind() = %q, want %q", got, tt.want)
			}
		})
	}
}
