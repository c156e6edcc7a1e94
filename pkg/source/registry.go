// Package source provides row producers for table files: in-memory slices,
// channels, CSV and JSON-lines files, database/sql cursors (MySQL and
// PostgreSQL), native pgx cursors and MongoDB cursors. Every producer
// implements table.ColumnSource so it can be passed to table.Stream without
// a separate definition.
//
// Producers are created directly or by name through a Registry:
//
//	src, err := source.Create(ctx, "csv", source.Config{Path: "objects.csv"})
//	res, err := table.Stream(ctx, "objects.tbl", nil, src)
package source

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/ajitpratap0/ipactable/pkg/errors"
	"github.com/ajitpratap0/ipactable/pkg/logger"
	"github.com/ajitpratap0/ipactable/pkg/table"
)

// Config carries the settings of every built-in producer. Each factory reads
// the fields it needs.
type Config struct {
	// Path of a CSV or JSON-lines file
	Path string `yaml:"path" json:"path"`
	// Delimiter for CSV files; defaults to ','
	Delimiter rune `yaml:"delimiter" json:"delimiter"`
	// SampleRows is how many leading rows are buffered to infer column types
	SampleRows int `yaml:"sample_rows" json:"sample_rows"`

	// Driver is the database/sql driver name (mysql or pgx)
	Driver string `yaml:"driver" json:"driver"`
	// DSN is the connection string for SQL, pgx and MongoDB producers
	DSN   string `yaml:"dsn" json:"dsn"`
	Query string `yaml:"query" json:"query"`
	Args  []any  `yaml:"args" json:"args"`

	Database   string `yaml:"database" json:"database"`
	Collection string `yaml:"collection" json:"collection"`
	// Filter is a MongoDB filter in extended JSON
	Filter string `yaml:"filter" json:"filter"`

	// Columns overrides the discovered columns
	Columns []table.Column `yaml:"-" json:"-"`
}

// Factory creates a producer from a Config.
type Factory func(ctx context.Context, cfg Config) (table.ColumnSource, error)

// Registry maps producer names to factories.
type Registry struct {
	factories map[string]Factory
	mu        sync.RWMutex
	logger    *zap.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]Factory),
		logger:    logger.With(zap.String("component", "source_registry")),
	}
}

// Register adds a factory under name.
func (r *Registry) Register(name string, f Factory) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.factories[name]; exists {
		return errors.New(errors.ErrorTypeConfig, fmt.Sprintf("source %s already registered", name))
	}
	r.factories[name] = f
	r.logger.Debug("source registered", zap.String("name", name))
	return nil
}

// Create instantiates the named producer.
func (r *Registry) Create(ctx context.Context, name string, cfg Config) (table.ColumnSource, error) {
	r.mu.RLock()
	f, exists := r.factories[name]
	r.mu.RUnlock()

	if !exists {
		return nil, errors.New(errors.ErrorTypeConfig, fmt.Sprintf("source %s not found", name))
	}
	src, err := f(ctx, cfg)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeSetup, fmt.Sprintf("failed to create source %s", name))
	}
	return src, nil
}

// List returns the registered names in sorted order.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

var globalRegistry = newDefaultRegistry()

func newDefaultRegistry() *Registry {
	r := NewRegistry()
	_ = r.Register("csv", func(_ context.Context, cfg Config) (table.ColumnSource, error) {
		return OpenCSV(cfg.Path, cfg)
	})
	_ = r.Register("jsonl", func(_ context.Context, cfg Config) (table.ColumnSource, error) {
		return OpenJSONLines(cfg.Path, cfg)
	})
	_ = r.Register("table", func(_ context.Context, cfg Config) (table.ColumnSource, error) {
		return table.OpenTableSource(cfg.Path)
	})
	_ = r.Register("sql", func(ctx context.Context, cfg Config) (table.ColumnSource, error) {
		return OpenSQL(ctx, cfg.Driver, cfg.DSN, cfg.Query, cfg.Args...)
	})
	_ = r.Register("mysql", func(ctx context.Context, cfg Config) (table.ColumnSource, error) {
		return OpenSQL(ctx, DriverMySQL, cfg.DSN, cfg.Query, cfg.Args...)
	})
	_ = r.Register("postgres", func(ctx context.Context, cfg Config) (table.ColumnSource, error) {
		return OpenPgx(ctx, cfg.DSN, cfg.Query, cfg.Args...)
	})
	_ = r.Register("mongodb", func(ctx context.Context, cfg Config) (table.ColumnSource, error) {
		return OpenMongo(ctx, cfg)
	})
	return r
}

// Register adds a factory to the global registry.
func Register(name string, f Factory) error {
	return globalRegistry.Register(name, f)
}

// Create instantiates a producer from the global registry.
func Create(ctx context.Context, name string, cfg Config) (table.ColumnSource, error) {
	return globalRegistry.Create(ctx, name, cfg)
}

// List returns the producers in the global registry.
func List() []string {
	return globalRegistry.List()
}
