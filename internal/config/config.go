package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/sadopc/goevolve/internal/backend"
	"github.com/sadopc/goevolve/internal/evolutions"
	"github.com/sadopc/goevolve/internal/mutation"
)

// Config holds all goevolve configuration.
type Config struct {
	DefaultDatabase string          `yaml:"default_database"`
	Databases       []Database      `yaml:"databases"`
	Apps            []App           `yaml:"apps"`
	Models          string          `yaml:"models"`         // declared signature file
	EvolutionsDir   string          `yaml:"evolutions_dir"` // root of per-app evolution directories
	Theme           string          `yaml:"theme"`
	Audit           AuditConfig     `yaml:"audit"`
	Evolution       EvolutionConfig `yaml:"evolution"`
}

// Database holds the connection parameters of one named database.
type Database struct {
	Name     string `yaml:"name"`
	Adapter  string `yaml:"adapter"`
	DSN      string `yaml:"dsn,omitempty"`
	Host     string `yaml:"host,omitempty"`
	Port     int    `yaml:"port,omitempty"`
	User     string `yaml:"user,omitempty"`
	Password string `yaml:"password,omitempty"`
	Database string `yaml:"database,omitempty"`
	File     string `yaml:"file,omitempty"`
}

// App configures one application.
type App struct {
	Label string `yaml:"label"`
	// Evolutions is the evolution directory. Empty means
	// <evolutions_dir>/<label>.
	Evolutions string `yaml:"evolutions,omitempty"`
	// Database owns the application's models. Empty means the default
	// database.
	Database string `yaml:"database,omitempty"`
	// Models routes individual models to another database.
	Models map[string]string `yaml:"models,omitempty"`
}

// AuditConfig holds audit logging settings.
type AuditConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Path      string `yaml:"path"`        // defaults to ConfigDir()/audit.jsonl
	MaxSizeMB int    `yaml:"max_size_mb"` // rotate when exceeded; 0 = no rotation
}

// EvolutionConfig holds the diff and hint settings.
type EvolutionConfig struct {
	DetectRenames bool `yaml:"detect_renames"`
	// HintDir receives written hint files instead of the application's
	// evolution directory.
	HintDir string `yaml:"hint_dir,omitempty"`
}

// DefaultConfig returns a Config populated with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		DefaultDatabase: "default",
		Models:          "models.yaml",
		EvolutionsDir:   "evolutions",
		Theme:           "default",
		Audit: AuditConfig{
			Enabled:   false,
			MaxSizeMB: 50,
		},
		Evolution: EvolutionConfig{
			DetectRenames: true,
		},
	}
}

// ConfigDir returns the goevolve configuration directory path.
// It uses os.UserConfigDir to locate the base config directory and
// appends "goevolve" to it, typically resulting in ~/.config/goevolve/.
func ConfigDir() (string, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("config dir: %w", err)
	}
	return filepath.Join(base, "goevolve"), nil
}

// Load reads a Config from the YAML file at path. If the file does not exist,
// it returns DefaultConfig without error.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultConfig(), nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// LoadDefault loads configuration from the default path
// (ConfigDir()/config.yaml).
func LoadDefault() (*Config, error) {
	dir, err := ConfigDir()
	if err != nil {
		return nil, err
	}
	return Load(filepath.Join(dir, "config.yaml"))
}

// Save writes the Config to the YAML file at path, creating any necessary
// parent directories.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// Validate checks names and references between sections.
func (c *Config) Validate() error {
	var errs []error
	dbs := map[string]bool{}
	for _, db := range c.Databases {
		if db.Name == "" {
			errs = append(errs, errors.New("database without a name"))
			continue
		}
		if dbs[db.Name] {
			errs = append(errs, fmt.Errorf("database %q defined twice", db.Name))
		}
		dbs[db.Name] = true
		if db.Adapter == "" {
			errs = append(errs, fmt.Errorf("database %q has no adapter", db.Name))
		}
	}
	if len(c.Databases) > 0 && !dbs[c.DefaultDatabase] {
		errs = append(errs, fmt.Errorf("default_database %q is not defined", c.DefaultDatabase))
	}

	apps := map[string]bool{}
	for _, app := range c.Apps {
		if app.Label == "" {
			errs = append(errs, errors.New("app without a label"))
			continue
		}
		if apps[app.Label] {
			errs = append(errs, fmt.Errorf("app %q defined twice", app.Label))
		}
		apps[app.Label] = true
		if app.Database != "" && !dbs[app.Database] {
			errs = append(errs, fmt.Errorf("app %q routes to unknown database %q", app.Label, app.Database))
		}
		for model, db := range app.Models {
			if !dbs[db] {
				errs = append(errs, fmt.Errorf("model %s.%s routes to unknown database %q", app.Label, model, db))
			}
		}
	}
	return errors.Join(errs...)
}

// DatabaseNames returns the configured database names in file order.
func (c *Config) DatabaseNames() []string {
	names := make([]string, len(c.Databases))
	for i, db := range c.Databases {
		names[i] = db.Name
	}
	return names
}

// LookupDatabase returns the named database; an empty name selects the
// default database. Unknown names get close matches in the error.
func (c *Config) LookupDatabase(name string) (*Database, error) {
	if name == "" {
		name = c.DefaultDatabase
	}
	for i := range c.Databases {
		if c.Databases[i].Name == name {
			return &c.Databases[i], nil
		}
	}
	msg := fmt.Sprintf("unknown database %q", name)
	if s := backend.Suggest(name, c.DatabaseNames()); len(s) > 0 {
		msg += fmt.Sprintf(" (did you mean %s?)", strings.Join(s, ", "))
	}
	return nil, errors.New(msg)
}

// App returns the configuration of an application, if any.
func (c *Config) App(label string) *App {
	for i := range c.Apps {
		if c.Apps[i].Label == label {
			return &c.Apps[i]
		}
	}
	return nil
}

// EvolutionDir returns the evolution directory of an application.
func (c *Config) EvolutionDir(label string) string {
	if app := c.App(label); app != nil && app.Evolutions != "" {
		return app.Evolutions
	}
	return filepath.Join(c.EvolutionsDir, label)
}

// HintDir returns where hint files for an application are written.
func (c *Config) HintDir(label string) string {
	if c.Evolution.HintDir != "" {
		return filepath.Join(c.Evolution.HintDir, label)
	}
	return c.EvolutionDir(label)
}

// Sources returns the evolution sources of the given applications as seen
// from one database.
func (c *Config) Sources(database string, labels []string) map[string]evolutions.Source {
	out := make(map[string]evolutions.Source, len(labels))
	for _, label := range labels {
		out[label] = evolutions.Source{AppLabel: label, Dir: c.EvolutionDir(label), Database: database}
	}
	return out
}

// Router routes models to databases: a per-model entry first, then the
// application's database, then the default database.
func (c *Config) Router() mutation.Router {
	return mutation.RouterFunc(func(appLabel, modelName string) string {
		if app := c.App(appLabel); app != nil {
			if db := app.Models[modelName]; db != "" {
				return db
			}
			if app.Database != "" {
				return app.Database
			}
		}
		return c.DefaultDatabase
	})
}

// AuditPath returns the audit log path, defaulting to
// ConfigDir()/audit.jsonl.
func (c *Config) AuditPath() (string, error) {
	if c.Audit.Path != "" {
		return c.Audit.Path, nil
	}
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "audit.jsonl"), nil
}

// BuildDSN constructs a connection string from the individual fields of a
// Database. If DSN is already set, it is returned as-is. For file-based
// adapters (sqlite, duckdb) it returns the File field. For network adapters
// it builds "<adapter>://user:password@host:port/database".
func (d *Database) BuildDSN() string {
	if d.DSN != "" {
		return d.DSN
	}

	adapter := strings.ToLower(d.Adapter)
	if adapter == "sqlite" || adapter == "duckdb" {
		return d.File
	}

	host := d.Host
	if host == "" {
		host = "localhost"
	}
	if d.Port > 0 {
		host = fmt.Sprintf("%s:%d", host, d.Port)
	}

	u := url.URL{Scheme: adapter, Host: host}
	if d.User != "" {
		if d.Password != "" {
			u.User = url.UserPassword(d.User, d.Password)
		} else {
			u.User = url.User(d.User)
		}
	}
	if d.Database != "" {
		u.Path = "/" + d.Database
	}
	return u.String()
}

// DisplayString returns a human-readable representation of the database,
// formatted as "adapter://host:port/database" for network adapters or
// "adapter://file" for file-based adapters. Credentials are never shown.
func (d *Database) DisplayString() string {
	adapter := strings.ToLower(d.Adapter)
	if adapter == "sqlite" || adapter == "duckdb" {
		file := d.File
		if file == "" {
			file = d.DSN
		}
		return fmt.Sprintf("%s://%s", d.Adapter, file)
	}

	host := d.Host
	if host == "" {
		host = "localhost"
	}

	var location string
	if d.Port > 0 {
		location = fmt.Sprintf("%s:%d", host, d.Port)
	} else {
		location = host
	}

	if d.Database != "" {
		return fmt.Sprintf("%s://%s/%s", d.Adapter, location, d.Database)
	}
	return fmt.Sprintf("%s://%s", d.Adapter, location)
}
