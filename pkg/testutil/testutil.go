// Package testutil provides testing utilities for ipactable
package testutil

import (
	"context"
	"encoding/csv"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/ajitpratap0/ipactable/pkg/table"
)

// TestLogger creates a test logger that writes to the test output.
// The logger is automatically cleaned up when the test completes.
func TestLogger(t *testing.T) *zap.Logger {
	return zaptest.NewLogger(t)
}

// TestContext creates a test context with a 30-second timeout.
// The caller must call the returned cancel function to avoid leaks.
func TestContext(_ *testing.T) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 30*time.Second)
}

// AssertEventually asserts that a condition becomes true within the specified timeout.
// It checks the condition every 10ms until it succeeds or the timeout expires.
func AssertEventually(t *testing.T, condition func() bool, timeout time.Duration, msg string) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}

	t.Fatalf("condition not met within %v: %s", timeout, msg)
}

// WaitResult waits up to ten seconds for a stream to finish.
func WaitResult(t *testing.T, res *table.Result) table.WorkerResult {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	out, err := res.Wait(ctx)
	require.NoError(t, err)
	return out
}

// ReadTable returns every row of a table file.
func ReadTable(t *testing.T, path string) []table.Row {
	t.Helper()
	r, err := table.OpenReader(path)
	require.NoError(t, err)
	defer r.Close()
	def, err := r.Refresh()
	require.NoError(t, err)
	rows, err := r.ReadRange(0, def.RowCount)
	require.NoError(t, err)
	return rows
}

// WriteCSV writes a CSV file under dir and returns its path.
func WriteCSV(t *testing.T, dir, name string, header []string, records [][]string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	w := csv.NewWriter(f)
	require.NoError(t, w.Write(header))
	require.NoError(t, w.WriteAll(records))
	return path
}

// Catalog returns the columns of a small object catalog: id, ra, dec, name
// and flag.
func Catalog() []table.Column {
	return []table.Column{
		{Name: "id", Type: table.TypeLong},
		{Name: "ra", Type: table.TypeDouble, Unit: "deg"},
		{Name: "dec", Type: table.TypeDouble, Unit: "deg"},
		{Name: "name", Type: table.TypeChar, Width: 12},
		{Name: "flag", Type: table.TypeInt},
	}
}

// CatalogRows returns n rows for Catalog. The flag is set on every third row.
func CatalogRows(n int) [][]any {
	rows := make([][]any, n)
	for i := range rows {
		var flag int64
		if i%3 == 0 {
			flag = 1
		}
		rows[i] = []any{int64(i), 10 + float64(i)*0.25, -float64(i) * 0.5, "src" + strconv.Itoa(i), flag}
	}
	return rows
}
