package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/sadopc/goevolve/internal/audit"
	"github.com/sadopc/goevolve/internal/backend"
	"github.com/sadopc/goevolve/internal/config"
	"github.com/sadopc/goevolve/internal/diff"
	"github.com/sadopc/goevolve/internal/evolver"
	"github.com/sadopc/goevolve/internal/report"
	"github.com/sadopc/goevolve/internal/signature"
	"github.com/sadopc/goevolve/internal/theme"

	// Register database backends
	_ "github.com/sadopc/goevolve/internal/backend/duckdb"
	_ "github.com/sadopc/goevolve/internal/backend/mysql"
	_ "github.com/sadopc/goevolve/internal/backend/postgres"
	_ "github.com/sadopc/goevolve/internal/backend/sqlite"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// errReported marks an error already written to stderr by the renderer.
var errReported = errors.New("reported")

type globalFlags struct {
	config   string
	database string
	theme    string
	noColor  bool
	verbose  bool
}

func main() {
	var g globalFlags

	rootCmd := &cobra.Command{
		Use:   "goevolve",
		Short: "Schema evolution for declared models",
		Long: `goevolve keeps database schemas in step with declared model signatures.
It applies stored evolutions, proposes hinted ones from signature diffs,
and records every run in the target database.

Examples:
  goevolve baseline                        # Record the current models
  goevolve evolve                          # Show what would run
  goevolve evolve --execute                # Apply pending evolutions
  goevolve evolve --hint --write add_age   # Save the proposed evolution
  goevolve evolve --sql --database reports # Dry-run SQL for one database`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&g.config, "config", "c", "", "Config file path")
	rootCmd.PersistentFlags().StringVarP(&g.database, "database", "d", "", "Database name from the config (default: default_database)")
	rootCmd.PersistentFlags().StringVar(&g.theme, "theme", "", "Output theme (default, light, monokai)")
	rootCmd.PersistentFlags().BoolVar(&g.noColor, "no-color", false, "Disable styled output")
	rootCmd.PersistentFlags().BoolVarP(&g.verbose, "verbose", "v", false, "Log progress to stderr")

	rootCmd.AddCommand(
		newEvolveCmd(&g),
		newBaselineCmd(&g),
		newListCmd(&g),
		newDiffCmd(&g),
		newAuditCmd(&g),
		newVersionCmd(),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		if !errors.Is(err, errReported) {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		os.Exit(1)
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("goevolve %s (commit: %s, built: %s)\n", version, commit, date)
			fmt.Println("\nSupported backends:")
			for _, name := range backend.Names() {
				fmt.Printf("  - %s\n", name)
			}
		},
	}
}

// session is everything a command needs to talk to one database.
type session struct {
	cfg      *config.Config
	db       *config.Database
	backend  backend.Backend
	conn     backend.Connection
	declared *signature.ProjectSignature
	audit    *audit.Logger
	logger   *slog.Logger
	render   *report.Renderer
}

func loadConfig(g *globalFlags) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if g.config != "" {
		cfg, err = config.Load(g.config)
	} else {
		cfg, err = config.LoadDefault()
	}
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func selectTheme(g *globalFlags, cfg *config.Config) *theme.Theme {
	switch {
	case g.noColor:
		return theme.Plain()
	case g.theme != "":
		return theme.Get(g.theme)
	default:
		return theme.Get(cfg.Theme)
	}
}

func newLogger(verbose bool) *slog.Logger {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func openSession(ctx context.Context, g *globalFlags) (*session, error) {
	cfg, err := loadConfig(g)
	if err != nil {
		return nil, err
	}
	logger := newLogger(g.verbose)
	slog.SetDefault(logger)

	db, err := cfg.LookupDatabase(g.database)
	if err != nil {
		return nil, err
	}
	b, err := backend.Lookup(db.Adapter)
	if err != nil {
		return nil, err
	}

	declared, err := signature.LoadFile(cfg.Models)
	if err != nil {
		return nil, fmt.Errorf("load declared models: %w", err)
	}

	s := &session{
		cfg:      cfg,
		db:       db,
		backend:  b,
		declared: declared,
		logger:   logger,
		render:   report.New(selectTheme(g, cfg), b.Operations().Dialect().Name()),
	}

	if cfg.Audit.Enabled {
		path, err := cfg.AuditPath()
		if err == nil {
			s.audit, err = audit.New(path, cfg.Audit.MaxSizeMB)
		}
		if err != nil {
			logger.Warn("could not open audit log", "error", err)
		}
	}

	dsn := db.BuildDSN()
	logger.Info("connecting", "database", db.Name, "backend", b.Name(), "dsn", audit.SanitizeDSN(dsn))
	conn, err := b.Connect(ctx, dsn)
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("connect %s (%s): %w", db.Name, db.DisplayString(), err)
	}
	s.conn = conn
	return s, nil
}

func (s *session) Close() {
	if s.conn != nil {
		_ = s.conn.Close()
	}
	if s.audit != nil {
		_ = s.audit.Close()
	}
}

// appLabels returns the declared applications followed by configured
// applications that declare no models yet.
func (s *session) appLabels() []string {
	labels := s.declared.AppLabels()
	for _, app := range s.cfg.Apps {
		if s.declared.App(app.Label) == nil {
			labels = append(labels, app.Label)
		}
	}
	return labels
}

func (s *session) evolver(hinted bool) *evolver.Evolver {
	return evolver.New(s.conn, s.backend.Operations(),
		evolver.WithDatabase(s.db.Name),
		evolver.WithRouter(s.cfg.Router()),
		evolver.WithDeclared(s.declared),
		evolver.WithSources(s.cfg.Sources(s.db.Name, s.appLabels())),
		evolver.WithHinted(hinted),
		evolver.WithDiffOptions(diff.Options{DetectRenames: s.cfg.Evolution.DetectRenames}),
		evolver.WithLogger(s.logger),
		evolver.WithAudit(s.audit),
	)
}

// fail renders err and returns errReported so main exits non-zero without
// printing it twice.
func (s *session) fail(err error) error {
	s.render.Error(os.Stderr, err)
	return errReported
}
