//go:build !duckdb

package duckdb

import (
	"context"
	"errors"

	"github.com/sadopc/goevolve/internal/backend"
)

var errDisabled = errors.New("DuckDB support not compiled in. Rebuild with -tags duckdb")

func init() {
	backend.Register(&disabledBackend{})
}

// disabledBackend still generates DuckDB SQL, so evolutions can be
// previewed without the driver; only connecting fails.
type disabledBackend struct{}

func (d *disabledBackend) Name() string                   { return "duckdb" }
func (d *disabledBackend) DefaultPort() int               { return 0 }
func (d *disabledBackend) Operations() backend.Operations { return backend.NewGenerator(Dialect{}) }

func (d *disabledBackend) Connect(_ context.Context, _ string) (backend.Connection, error) {
	return nil, errDisabled
}
