package table

import (
	"context"
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/ajitpratap0/ipactable/pkg/mmap"
)

func TestReadRange_MatchesSequentialScan(t *testing.T) {
	const n = 137
	path := writeTable(t, n)

	src, err := OpenTableSource(path)
	require.NoError(t, err)
	var seq []Row
	for {
		row, err := src.Next(context.Background())
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		seq = append(seq, row)
	}
	require.NoError(t, src.Close())
	require.Len(t, seq, n)

	r, err := OpenReader(path)
	require.NoError(t, err)
	defer r.Close()
	for i := 0; i < n; i++ {
		rows, err := r.ReadRange(i, 1)
		require.NoError(t, err)
		require.Len(t, rows, 1)
		assert.Equal(t, seq[i].Values, rows[0].Values)
		assert.Equal(t, seq[i].Index, rows[0].Index)
	}
}

func TestReadRange_Bounds(t *testing.T) {
	path := writeTable(t, 137)
	r, err := OpenReader(path)
	require.NoError(t, err)
	defer r.Close()

	rows, err := r.ReadRange(130, 50)
	require.NoError(t, err)
	assert.Len(t, rows, 7, "clipped at the end of the file")

	rows, err = r.ReadRange(137, 5)
	require.NoError(t, err)
	assert.Empty(t, rows, "beyond the end of a finalized file is empty, not an error")

	rows, err = r.ReadRange(10, 0)
	require.NoError(t, err)
	assert.Empty(t, rows)

	_, err = r.ReadRange(-1, 5)
	assert.Error(t, err)
}

func TestReadCells_Sparse(t *testing.T) {
	path := writeTable(t, 100)

	for _, threshold := range []int{0, 1000} {
		r, err := OpenReader(path, WithSeekThreshold(threshold), WithLogger(zaptest.NewLogger(t)))
		require.NoError(t, err)

		cells, err := r.ReadCells([]int{7, 0, 3, 3}, []string{"ra", "dec"})
		require.NoError(t, err)
		assert.Equal(t, 6, cells.Len())
		assert.Equal(t, 3, cells.Decoded, "only requested rows are decoded")
		assert.Empty(t, cells.Pending)

		for _, i := range []int{0, 3, 7} {
			want := testValues(i)
			ra, ok := cells.Get(i, "ra")
			require.True(t, ok)
			assert.Equal(t, want[1], ra)
			dec, ok := cells.Get(i, "dec")
			require.True(t, ok)
			assert.Equal(t, want[2], dec)
		}
		_, ok := cells.Get(1, "ra")
		assert.False(t, ok)
		_, ok = cells.Get(0, "name")
		assert.False(t, ok)

		require.NoError(t, r.Close())
	}
}

func TestReadCells_EdgeCases(t *testing.T) {
	path := writeTable(t, 20)
	r, err := OpenReader(path)
	require.NoError(t, err)
	defer r.Close()

	cells, err := r.ReadCells([]int{19, 150, -3}, []string{"id"})
	require.NoError(t, err)
	assert.Equal(t, 1, cells.Len())
	assert.Empty(t, cells.Pending, "rows beyond a finalized file are omitted")
	v, _ := cells.Get(19, "id")
	assert.Equal(t, int64(19), v)

	_, err = r.ReadCells([]int{1}, []string{"nope"})
	assert.ErrorIs(t, err, ErrUnknownColumn)

	cells, err = r.ReadCells(nil, []string{"id"})
	require.NoError(t, err)
	assert.Equal(t, 0, cells.Len())
}

func TestReader_Mmap(t *testing.T) {
	if !mmap.Supported {
		t.Skip("memory mapping not supported")
	}
	path := writeTable(t, 90)
	plain, err := OpenReader(path)
	require.NoError(t, err)
	defer plain.Close()
	mapped, err := OpenReader(path, WithMmap(true), WithSeekThreshold(2))
	require.NoError(t, err)
	defer mapped.Close()
	assert.False(t, plain.Mapped())
	require.True(t, mapped.Mapped())

	want, err := plain.ReadRange(20, 30)
	require.NoError(t, err)
	got, err := mapped.ReadRange(20, 30)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	cells, err := mapped.ReadCells([]int{89, 3, 40}, []string{"name", "id"})
	require.NoError(t, err)
	assert.Equal(t, 6, cells.Len())
	id, _ := cells.Get(89, "id")
	assert.Equal(t, int64(89), id)

	// rewriting the path leaves the mapped content intact
	w, err := Create(path, testDef(t), WithLogger(zaptest.NewLogger(t)))
	require.NoError(t, err)
	_, err = w.Finish(StatusCompleted)
	require.NoError(t, err)

	got, err = mapped.ReadRange(20, 30)
	require.NoError(t, err)
	assert.Equal(t, want, got)
	def, err := mapped.Refresh()
	require.NoError(t, err)
	assert.Equal(t, 90, def.RowCount)
}

func TestReader_MmapSkipsInProgressFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "growing.tbl")
	w, err := Create(path, testDef(t), WithLogger(zaptest.NewLogger(t)))
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		require.NoError(t, w.WriteRow(NewRow(w.Def(), testValues(i)...)))
	}
	require.NoError(t, w.Flush())

	r, err := OpenReader(path, WithMmap(true))
	require.NoError(t, err)
	defer r.Close()
	assert.False(t, r.Mapped())
	rows, err := r.ReadRange(0, 3)
	require.NoError(t, err)
	assert.Len(t, rows, 3)
	_, err = w.Finish(StatusCompleted)
	require.NoError(t, err)
}

func TestReader_InProgressFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "growing.tbl")
	w, err := Create(path, testDef(t), WithLogger(zaptest.NewLogger(t)))
	require.NoError(t, err)

	r, err := OpenReader(path)
	require.NoError(t, err)
	defer r.Close()
	assert.False(t, r.Def().Known(), "no rows yet")

	_, err = r.ReadRange(0, 10)
	assert.ErrorIs(t, err, ErrNotYetAvailable)

	for i := 0; i < 10; i++ {
		require.NoError(t, w.WriteRow(NewRow(w.Def(), testValues(i)...)))
	}
	require.NoError(t, w.Flush())

	rows, err := r.ReadRange(5, 10)
	require.NoError(t, err)
	assert.Len(t, rows, 5)

	cells, err := r.ReadCells([]int{5, 20}, []string{"name"})
	require.NoError(t, err)
	assert.Equal(t, 1, cells.Len())
	assert.Equal(t, []int{20}, cells.Pending)

	_, err = w.Finish(StatusCompleted)
	require.NoError(t, err)

	s, err := r.Status()
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, s)
	cells, err = r.ReadCells([]int{5, 20}, []string{"name"})
	require.NoError(t, err)
	assert.Empty(t, cells.Pending)
}

func TestTableSource_Follow(t *testing.T) {
	def := testDef(t)
	src := newGatedSource(def, testRows(180), MinPrefetch+1)
	path := filepath.Join(t.TempDir(), "follow.tbl")
	res, err := Stream(context.Background(), path, def, src, WithLogger(zaptest.NewLogger(t)), WithPrefetch(MinPrefetch))
	require.NoError(t, err)

	ts, err := OpenTableSource(path, WithFollow(true), WithPollInterval(5*time.Millisecond))
	require.NoError(t, err)
	defer ts.Close()

	ctx := context.Background()
	for i := 0; i < MinPrefetch; i++ {
		row, err := ts.Next(ctx)
		require.NoError(t, err)
		assert.Equal(t, i, row.Index)
	}
	src.release()

	count := MinPrefetch
	for {
		row, err := ts.Next(ctx)
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		assert.Equal(t, count, row.Index)
		count++
	}
	assert.Equal(t, 180, count)
	assert.Equal(t, StatusCompleted, waitResult(t, res).Status)
}
