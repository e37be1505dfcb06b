// Package audit records evolution runs as JSON Lines: one record per
// executed statement plus a closing record per run.
package audit

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Record kinds.
const (
	KindStatement = "statement"
	KindRun       = "run"
)

// Entry is a single audit log record.
type Entry struct {
	Kind       string    `json:"kind"`
	Timestamp  time.Time `json:"timestamp"`
	RunID      string    `json:"run_id"`
	Backend    string    `json:"backend"`
	Database   string    `json:"database"`
	AppLabel   string    `json:"app_label,omitempty"`
	Statement  string    `json:"statement,omitempty"`
	DurationMS int64     `json:"duration_ms"`
	IsError    bool      `json:"is_error"`
	Error      string    `json:"error,omitempty"`
	// Statements and Evolutions are set on run records.
	Statements int      `json:"statements,omitempty"`
	Evolutions []string `json:"evolutions,omitempty"`
}

// Logger appends entries to a file, rotating it by size.
type Logger struct {
	mu         sync.Mutex
	f          *os.File
	enc        *json.Encoder
	path       string
	maxSizeMB  int
	maxBackups int
}

// DefaultBackups is the number of rotated files kept.
const DefaultBackups = 3

// New opens path for appending, creating parent directories (0o700) and the
// file (0o600). With maxSizeMB > 0 the file is rotated to path.1 ... path.N
// once it grows past that size.
func New(path string, maxSizeMB int) (*Logger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("audit: create dir: %w", err)
	}
	l := &Logger{path: path, maxSizeMB: maxSizeMB, maxBackups: DefaultBackups}
	if err := l.open(); err != nil {
		return nil, err
	}
	return l, nil
}

func (l *Logger) open() error {
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return fmt.Errorf("audit: open file: %w", err)
	}
	l.f = f
	l.enc = json.NewEncoder(f)
	return nil
}

// Log writes a statement entry. It is safe for concurrent use; a nil
// Logger discards the entry.
func (l *Logger) Log(e Entry) {
	if e.Kind == "" {
		e.Kind = KindStatement
	}
	l.write(e)
}

// LogRun writes the closing record of a run.
func (l *Logger) LogRun(e Entry) {
	e.Kind = KindRun
	l.write(e)
}

func (l *Logger) write(e Entry) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.f == nil {
		return
	}
	_ = l.enc.Encode(e)
	if l.maxSizeMB > 0 {
		l.rotateIfNeeded()
	}
}

// Close closes the underlying file. Calling Close on a nil Logger is a no-op.
func (l *Logger) Close() error {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.f == nil {
		return nil
	}
	err := l.f.Close()
	l.f = nil
	return err
}

func (l *Logger) rotateIfNeeded() {
	info, err := l.f.Stat()
	if err != nil || info.Size() < int64(l.maxSizeMB)*1024*1024 {
		return
	}
	_ = l.f.Close()
	l.f = nil
	for i := l.maxBackups - 1; i >= 1; i-- {
		_ = os.Rename(backupPath(l.path, i), backupPath(l.path, i+1))
	}
	_ = os.Rename(l.path, backupPath(l.path, 1))
	_ = l.open()
}

func backupPath(path string, n int) string {
	return path + "." + strconv.Itoa(n)
}

// Filter selects entries in Read. Zero fields match everything.
type Filter struct {
	RunID    string
	AppLabel string
	Kind     string
}

func (f Filter) match(e Entry) bool {
	return (f.RunID == "" || e.RunID == f.RunID) &&
		(f.AppLabel == "" || e.AppLabel == f.AppLabel) &&
		(f.Kind == "" || e.Kind == f.Kind)
}

// Read returns the matching entries of path and its rotated backups,
// oldest first. A missing log reads as empty.
func Read(path string, f Filter) ([]Entry, error) {
	var files []string
	for i := DefaultBackups; i >= 1; i-- {
		files = append(files, backupPath(path, i))
	}
	files = append(files, path)

	var out []Entry
	for _, name := range files {
		entries, err := readFile(name, f)
		if err != nil {
			return nil, err
		}
		out = append(out, entries...)
	}
	return out, nil
}

func readFile(name string, f Filter) ([]Entry, error) {
	file, err := os.Open(name)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("audit read: %w", err)
	}
	defer file.Close()

	var out []Entry
	sc := bufio.NewScanner(file)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	line := 0
	for sc.Scan() {
		line++
		if len(strings.TrimSpace(sc.Text())) == 0 {
			continue
		}
		var e Entry
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			return nil, fmt.Errorf("audit read %s:%d: %w", filepath.Base(name), line, err)
		}
		if e.Kind == "" {
			e.Kind = KindStatement
		}
		if f.match(e) {
			out = append(out, e)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("audit read: %w", err)
	}
	return out, nil
}

// LastRun returns the id of the most recent run record, or "" when none
// exists.
func LastRun(path string) (string, error) {
	runs, err := Read(path, Filter{Kind: KindRun})
	if err != nil || len(runs) == 0 {
		return "", err
	}
	return runs[len(runs)-1].RunID, nil
}

// SanitizeDSN hides credentials in a DSN so it can be logged.
func SanitizeDSN(dsn string) string {
	if u, err := url.Parse(dsn); err == nil && u.Scheme != "" && u.Host != "" {
		if u.User != nil {
			u.User = url.User("***")
		}
		q := u.Query()
		if q.Has("password") {
			q.Set("password", "***")
			u.RawQuery = q.Encode()
		}
		return u.String()
	}
	// user:pass@tcp(host)/db
	dsn = reMySQLCreds.ReplaceAllString(dsn, "***@tcp(")
	// host=h password=secret
	return rePassword.ReplaceAllString(dsn, "password=***")
}

var (
	reMySQLCreds = regexp.MustCompile(`[^@]+@tcp\(`)
	rePassword   = regexp.MustCompile(`password=[^\s&]+`)
)
