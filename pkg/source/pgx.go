package source

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/ajitpratap0/ipactable/pkg/errors"
	"github.com/ajitpratap0/ipactable/pkg/table"
)

// closeTimeout bounds closing a connection the source owns.
const closeTimeout = 5 * time.Second

// Pgx yields the result rows of a PostgreSQL query over a native pgx
// connection. Column types come from the result's type OIDs.
type Pgx struct {
	base
	conn   *pgx.Conn
	owned  bool
	rows   pgx.Rows
	cancel context.CancelFunc
}

// OpenPgx connects to dsn and runs query. The connection is closed with the
// source.
func OpenPgx(ctx context.Context, dsn, query string, args ...any) (*Pgx, error) {
	conn, err := pgx.Connect(ctx, dsn)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "failed to connect to PostgreSQL")
	}
	src, err := NewPgx(ctx, conn, query, args...)
	if err != nil {
		_ = conn.Close(ctx)
		return nil, err
	}
	src.owned = true
	return src, nil
}

// NewPgx runs query on conn. The caller keeps ownership of conn.
//
// As with NewSQL, the cursor outlives ctx and is released by Close.
func NewPgx(ctx context.Context, conn *pgx.Conn, query string, args ...any) (*Pgx, error) {
	if strings.TrimSpace(query) == "" {
		return nil, errors.New(errors.ErrorTypeConfig, "query is required")
	}
	if err := ctx.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeSetup, "query not started")
	}
	qctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	rows, err := conn.Query(qctx, query, args...)
	if err != nil {
		cancel()
		return nil, errors.Wrap(err, errors.ErrorTypeSetup, "query failed")
	}
	b, err := newBase(pgColumns(rows.FieldDescriptions()))
	if err != nil {
		rows.Close()
		cancel()
		return nil, errors.Wrap(err, errors.ErrorTypeSetup, "invalid result columns")
	}
	return &Pgx{base: b, conn: conn, rows: rows, cancel: cancel}, nil
}

func pgColumns(fields []pgconn.FieldDescription) []table.Column {
	cols := make([]table.Column, len(fields))
	for i, f := range fields {
		cols[i] = table.Column{Name: f.Name, Type: MapPgOID(f.DataTypeOID)}
	}
	return cols
}

// Next implements table.Source.
func (p *Pgx) Next(ctx context.Context) (table.Row, error) {
	if err := ctx.Err(); err != nil {
		return table.Row{}, err
	}
	if !p.rows.Next() {
		if err := p.rows.Err(); err != nil {
			return table.Row{}, errors.Wrap(err, errors.ErrorTypeProducer, "result cursor failed")
		}
		return table.Row{}, io.EOF
	}
	raw, err := p.rows.Values()
	if err != nil {
		return table.Row{}, errors.Wrap(err, errors.ErrorTypeProducer, "failed to decode row")
	}
	values := make([]any, len(raw))
	for i, v := range raw {
		values[i] = convertPgValue(v)
	}
	return p.row(values), nil
}

// Close implements table.Source.
func (p *Pgx) Close() error {
	p.rows.Close()
	err := p.rows.Err()
	p.cancel()
	if p.owned {
		ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
		defer cancel()
		if cerr := p.conn.Close(ctx); err == nil {
			err = cerr
		}
		p.owned = false
	}
	return err
}

// MapPgOID maps a PostgreSQL type OID to a column type.
func MapPgOID(oid uint32) table.DataType {
	switch oid {
	case pgtype.Int2OID, pgtype.Int4OID:
		return table.TypeInt
	case pgtype.Int8OID:
		return table.TypeLong
	case pgtype.Float4OID:
		return table.TypeFloat
	case pgtype.Float8OID, pgtype.NumericOID:
		return table.TypeDouble
	case pgtype.BoolOID:
		return table.TypeBoolean
	case pgtype.DateOID, pgtype.TimestampOID, pgtype.TimestamptzOID:
		return table.TypeDate
	default:
		return table.TypeChar
	}
}

// convertPgValue converts the values pgx decodes to codec types.
func convertPgValue(value any) any {
	switch v := value.(type) {
	case nil:
		return nil
	case pgtype.Numeric:
		f, err := v.Float64Value()
		if err != nil || !f.Valid {
			return nil
		}
		return f.Float64
	case [16]byte:
		return fmt.Sprintf("%x-%x-%x-%x-%x", v[0:4], v[4:6], v[6:8], v[8:10], v[10:16])
	case map[string]any, []any:
		return jsonText(v)
	default:
		return normalize(v)
	}
}
