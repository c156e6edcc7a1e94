package source

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/ajitpratap0/ipactable/pkg/errors"
	"github.com/ajitpratap0/ipactable/pkg/table"
	"github.com/ajitpratap0/ipactable/pkg/testutil"
)

// fakeResult is the canned result of every query on a fake connection.
type fakeResult struct {
	columns []string
	types   []string
	rows    [][]driver.Value
	failAt  int
	delay   time.Duration
}

var fakeResults = map[string]*fakeResult{}

type fakeDriver struct{}

func (fakeDriver) Open(name string) (driver.Conn, error) {
	res, ok := fakeResults[name]
	if !ok {
		return nil, fmt.Errorf("unknown dsn %q", name)
	}
	return &fakeConn{res: res}, nil
}

type fakeConn struct {
	res *fakeResult
}

func (c *fakeConn) Prepare(string) (driver.Stmt, error) { return nil, fmt.Errorf("not supported") }
func (c *fakeConn) Close() error                        { return nil }
func (c *fakeConn) Begin() (driver.Tx, error)           { return nil, fmt.Errorf("not supported") }

func (c *fakeConn) QueryContext(_ context.Context, query string, _ []driver.NamedValue) (driver.Rows, error) {
	if query == "bad" {
		return nil, fmt.Errorf("syntax error")
	}
	return &fakeRows{res: c.res}, nil
}

type fakeRows struct {
	res *fakeResult
	i   int
}

func (r *fakeRows) Columns() []string { return r.res.columns }
func (r *fakeRows) Close() error      { return nil }

func (r *fakeRows) ColumnTypeDatabaseTypeName(i int) string { return r.res.types[i] }

func (r *fakeRows) Next(dest []driver.Value) error {
	if r.res.delay > 0 {
		time.Sleep(r.res.delay)
	}
	if r.res.failAt > 0 && r.i == r.res.failAt {
		return fmt.Errorf("connection reset")
	}
	if r.i >= len(r.res.rows) {
		return io.EOF
	}
	copy(dest, r.res.rows[r.i])
	r.i++
	return nil
}

func init() {
	sql.Register("fakecat", fakeDriver{})
}

func fakeDB(t *testing.T, res *fakeResult) *sql.DB {
	t.Helper()
	dsn := fmt.Sprintf("%s/%d", t.Name(), len(fakeResults))
	fakeResults[dsn] = res
	db, err := sql.Open("fakecat", dsn)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = db.Close()
		delete(fakeResults, dsn)
	})
	return db
}

func catalogResult(n int) *fakeResult {
	res := &fakeResult{
		columns: []string{"id", "ra", "name", "observed", "ok", "note"},
		types:   []string{"BIGINT", "DOUBLE", "VARCHAR", "TIMESTAMP", "BOOL", "TEXT"},
	}
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < n; i++ {
		var note driver.Value
		if i%2 == 1 {
			note = []byte("odd")
		}
		res.rows = append(res.rows, []driver.Value{
			int64(i), float64(i) / 4, fmt.Sprintf("star %d", i), base.Add(time.Duration(i) * time.Hour), i%3 == 0, note,
		})
	}
	return res
}

func TestSQL_Columns(t *testing.T) {
	db := fakeDB(t, catalogResult(3))
	src, err := NewSQL(context.Background(), db, "select * from catalog")
	require.NoError(t, err)
	defer src.Close()

	types := make([]table.DataType, 0, 6)
	for _, c := range src.Columns() {
		types = append(types, c.Type)
	}
	assert.Equal(t, []table.DataType{
		table.TypeLong, table.TypeDouble, table.TypeChar, table.TypeDate, table.TypeBoolean, table.TypeChar,
	}, types)

	rows := drain(t, src)
	require.Len(t, rows, 3)
	assert.Equal(t, []any{int64(1), 0.25, "star 1", "2024-03-01T13:00:00Z", false, "odd"}, rows[1].Values)
	note, _ := rows[0].Get("note")
	assert.Nil(t, note)
}

func TestSQL_Errors(t *testing.T) {
	db := fakeDB(t, catalogResult(5))

	_, err := NewSQL(context.Background(), db, "  ")
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
	_, err = NewSQL(context.Background(), db, "bad")
	assert.True(t, errors.IsType(err, errors.ErrorTypeSetup))

	res := catalogResult(5)
	res.failAt = 2
	src, err := NewSQL(context.Background(), fakeDB(t, res), "select")
	require.NoError(t, err)
	defer src.Close()
	for i := 0; i < 2; i++ {
		_, err := src.Next(context.Background())
		require.NoError(t, err)
	}
	_, err = src.Next(context.Background())
	assert.True(t, errors.IsType(err, errors.ErrorTypeProducer))
}

func TestSQL_StreamToTable(t *testing.T) {
	src, err := NewSQL(context.Background(), fakeDB(t, catalogResult(40)), "select")
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "sql.tbl")
	res, err := table.Stream(context.Background(), path, nil, src, table.WithLogger(testutil.TestLogger(t)))
	require.NoError(t, err)
	assert.Equal(t, table.StatusCompleted, testutil.WaitResult(t, res).Status)

	rows := testutil.ReadTable(t, path)
	require.Len(t, rows, 40)
	observed, _ := rows[39].Get("observed")
	assert.Equal(t, "2024-03-03T03:00:00Z", observed)
	ok, _ := rows[39].Get("ok")
	assert.Equal(t, true, ok)
}

func TestSQL_CursorOutlivesRequest(t *testing.T) {
	const n = 1500
	res := catalogResult(n)
	res.delay = 200 * time.Microsecond

	ctx, cancelRequest := context.WithCancel(context.Background())
	defer cancelRequest()
	src, err := NewSQL(ctx, fakeDB(t, res), "select")
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "detached.tbl")
	out, err := table.Stream(ctx, path, nil, src,
		table.WithPrefetch(table.MinPrefetch), table.WithLogger(testutil.TestLogger(t)))
	require.NoError(t, err)
	require.True(t, out.Handoff)

	// the request ends while the worker is still draining the cursor
	cancelRequest()

	final := testutil.WaitResult(t, out)
	assert.Equal(t, table.StatusCompleted, final.Status, "worker error: %v", final.Err)
	assert.Equal(t, n, final.Rows)
	assert.Len(t, testutil.ReadTable(t, path), n)
}

func TestSQL_CancelledBeforeQuery(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewSQL(ctx, fakeDB(t, catalogResult(3)), "select")
	assert.True(t, errors.IsType(err, errors.ErrorTypeSetup))
}

func TestMapSQLType(t *testing.T) {
	cases := map[string]table.DataType{
		"INT":              table.TypeInt,
		"unsigned bigint":  table.TypeLong,
		"int8":             table.TypeLong,
		"DECIMAL(10,2)":    table.TypeDouble,
		"double precision": table.TypeDouble,
		"float4":           table.TypeFloat,
		"timestamptz":      table.TypeDate,
		"boolean":          table.TypeBoolean,
		"VARCHAR":          table.TypeChar,
		"":                 table.TypeChar,
	}
	for name, want := range cases {
		assert.Equal(t, want, MapSQLType(name), name)
	}
}

func TestMapPgOID(t *testing.T) {
	assert.Equal(t, table.TypeInt, MapPgOID(pgtype.Int4OID))
	assert.Equal(t, table.TypeLong, MapPgOID(pgtype.Int8OID))
	assert.Equal(t, table.TypeDouble, MapPgOID(pgtype.NumericOID))
	assert.Equal(t, table.TypeDate, MapPgOID(pgtype.TimestamptzOID))
	assert.Equal(t, table.TypeChar, MapPgOID(pgtype.JSONBOID))

	assert.Nil(t, convertPgValue(nil))
	assert.Equal(t, "raw", convertPgValue([]byte("raw")))
	assert.Equal(t, int64(5), convertPgValue(int32(5)))
	uuid := [16]byte{0x12, 0x34, 0x56, 0x78, 0x9a, 0xbc, 0xde, 0xf0, 0x01, 0x23, 0x45, 0x67, 0x89, 0xab, 0xcd, 0xef}
	assert.Equal(t, "12345678-9abc-def0-0123-456789abcdef", convertPgValue(uuid))
	assert.Equal(t, `{"k":1}`, convertPgValue(map[string]any{"k": 1}))

	var n pgtype.Numeric
	require.NoError(t, n.Scan("12.5"))
	assert.Equal(t, 12.5, convertPgValue(n))
}

func TestBSONValue(t *testing.T) {
	id := primitive.NewObjectID()
	assert.Equal(t, id.Hex(), bsonValue(id))
	when := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	assert.Equal(t, "2024-01-02T03:04:05Z", bsonValue(primitive.NewDateTimeFromTime(when)))
	assert.Equal(t, int64(7), bsonValue(int32(7)))
	assert.Equal(t, "x", bsonValue("x"))

	cols := documentColumns([]bson.M{
		{"_id": id, "mag": 1.5, "n": int32(3)},
		{"_id": primitive.NewObjectID(), "mag": int32(2), "name": "m31"},
	})
	require.Len(t, cols, 4)
	assert.Equal(t, "_id", cols[0].Name)
	assert.Equal(t, table.TypeChar, cols[0].Type)
	assert.Equal(t, table.TypeDouble, cols[1].Type)
	assert.Equal(t, table.TypeLong, cols[2].Type)
	assert.Equal(t, table.TypeChar, cols[3].Type)
}

func TestMongo_Integration(t *testing.T) {
	uri := testutil.RequireEnv(t, testutil.EnvMongoURI)
	ctx, cancel := testutil.TestContext(t)
	defer cancel()

	src, err := OpenMongo(ctx, Config{DSN: uri, Database: "ipactable_test", Collection: "objects", Filter: `{"flag": 1}`})
	require.NoError(t, err)
	defer src.Close()
	drain(t, src)
}

func TestPgx_Integration(t *testing.T) {
	dsn := testutil.RequireEnv(t, testutil.EnvPostgresDSN)
	ctx, cancel := testutil.TestContext(t)
	defer cancel()

	src, err := OpenPgx(ctx, dsn, "select generate_series(1, 300) as id, random() as ra")
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "pg.tbl")
	res, err := table.Stream(ctx, path, nil, src, table.WithLogger(testutil.TestLogger(t)))
	require.NoError(t, err)
	assert.Equal(t, 300, testutil.WaitResult(t, res).Rows)
}

func TestMySQL_Integration(t *testing.T) {
	dsn := testutil.RequireEnv(t, testutil.EnvMySQLDSN)
	ctx, cancel := testutil.TestContext(t)
	defer cancel()

	src, err := OpenSQL(ctx, DriverMySQL, dsn, "select 1 as id, 'a' as name")
	require.NoError(t, err)
	defer src.Close()
	assert.Len(t, drain(t, src), 1)
}
