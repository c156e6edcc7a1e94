package source

import (
	"context"
	"database/sql"
	"io"
	"strings"

	_ "github.com/go-sql-driver/mysql" // registers the mysql driver
	_ "github.com/jackc/pgx/v5/stdlib" // registers the pgx driver

	"github.com/ajitpratap0/ipactable/pkg/errors"
	"github.com/ajitpratap0/ipactable/pkg/table"
)

// database/sql driver names.
const (
	DriverMySQL    = "mysql"
	DriverPostgres = "pgx"
)

// SQL yields the result rows of a query run through database/sql.
type SQL struct {
	base
	db     *sql.DB
	owned  bool
	rows   *sql.Rows
	dest   []any
	cancel context.CancelFunc
}

// OpenSQL connects with driver and dsn and runs query. The connection is
// closed with the source.
func OpenSQL(ctx context.Context, driver, dsn, query string, args ...any) (*SQL, error) {
	if driver == "" {
		driver = DriverMySQL
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "failed to open database")
	}
	src, err := NewSQL(ctx, db, query, args...)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	src.owned = true
	return src, nil
}

// NewSQL runs query on db. The caller keeps ownership of db.
//
// The cursor lives until Close, not until ctx ends, so a writer may hand it
// to a background worker after the request that opened it returns.
// Cancellation between rows goes through the ctx given to Next.
func NewSQL(ctx context.Context, db *sql.DB, query string, args ...any) (*SQL, error) {
	if strings.TrimSpace(query) == "" {
		return nil, errors.New(errors.ErrorTypeConfig, "query is required")
	}
	if err := ctx.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeSetup, "query not started")
	}
	qctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	rows, err := db.QueryContext(qctx, query, args...)
	if err != nil {
		cancel()
		return nil, errors.Wrap(err, errors.ErrorTypeSetup, "query failed")
	}
	types, err := rows.ColumnTypes()
	if err != nil {
		_ = rows.Close()
		cancel()
		return nil, errors.Wrap(err, errors.ErrorTypeSetup, "failed to read result columns")
	}

	cols := make([]table.Column, len(types))
	for i, ct := range types {
		cols[i] = table.Column{Name: ct.Name(), Type: MapSQLType(ct.DatabaseTypeName())}
		if cols[i].Type == table.TypeChar {
			if n, ok := ct.Length(); ok && n > 0 && n < 1<<16 {
				cols[i].Width = int(n)
			}
		}
	}
	b, err := newBase(cols)
	if err != nil {
		_ = rows.Close()
		cancel()
		return nil, errors.Wrap(err, errors.ErrorTypeSetup, "invalid result columns")
	}

	dest := make([]any, len(cols))
	for i := range dest {
		dest[i] = new(any)
	}
	return &SQL{base: b, db: db, rows: rows, dest: dest, cancel: cancel}, nil
}

// Next implements table.Source.
func (s *SQL) Next(ctx context.Context) (table.Row, error) {
	if err := ctx.Err(); err != nil {
		return table.Row{}, err
	}
	if !s.rows.Next() {
		if err := s.rows.Err(); err != nil {
			return table.Row{}, errors.Wrap(err, errors.ErrorTypeProducer, "result cursor failed")
		}
		return table.Row{}, io.EOF
	}
	if err := s.rows.Scan(s.dest...); err != nil {
		return table.Row{}, errors.Wrap(err, errors.ErrorTypeProducer, "failed to scan row")
	}
	values := make([]any, len(s.dest))
	for i, d := range s.dest {
		values[i] = normalize(*d.(*any))
	}
	return s.row(values), nil
}

// Close implements table.Source.
func (s *SQL) Close() error {
	err := s.rows.Close()
	s.cancel()
	if s.owned {
		if cerr := s.db.Close(); err == nil {
			err = cerr
		}
		s.owned = false
	}
	return err
}

// MapSQLType maps a database type name to a column type.
func MapSQLType(name string) table.DataType {
	name = strings.ToUpper(name)
	if i := strings.IndexByte(name, '('); i >= 0 {
		name = name[:i]
	}
	name = strings.TrimPrefix(strings.TrimSpace(name), "UNSIGNED ")
	switch name {
	case "TINYINT", "SMALLINT", "MEDIUMINT", "INT", "INT2", "INT4", "INTEGER", "SERIAL", "YEAR":
		return table.TypeInt
	case "BIGINT", "INT8", "BIGSERIAL":
		return table.TypeLong
	case "FLOAT", "FLOAT4", "REAL":
		return table.TypeFloat
	case "DOUBLE", "FLOAT8", "DOUBLE PRECISION", "DECIMAL", "NUMERIC":
		return table.TypeDouble
	case "BOOL", "BOOLEAN":
		return table.TypeBoolean
	case "DATE", "DATETIME", "TIMESTAMP", "TIMESTAMPTZ", "TIME":
		return table.TypeDate
	default:
		return table.TypeChar
	}
}
