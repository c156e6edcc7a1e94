package service

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/ipactable/pkg/config"
	"github.com/ajitpratap0/ipactable/pkg/errors"
	"github.com/ajitpratap0/ipactable/pkg/export"
	"github.com/ajitpratap0/ipactable/pkg/source"
	"github.com/ajitpratap0/ipactable/pkg/table"
	"github.com/ajitpratap0/ipactable/pkg/testutil"
)

func newService(t *testing.T, opts ...Option) *Service {
	t.Helper()
	cfg := config.NewConfig()
	cfg.Storage.WorkDir = t.TempDir()
	cfg.Table.PrefetchSize = table.MinPrefetch
	cfg.Table.FlushEvery = 10
	cfg.Table.FollowPollInterval = 10 * time.Millisecond
	cfg.Reader.PollInterval = 10 * time.Millisecond
	s, err := New(cfg, append([]Option{WithLogger(testutil.TestLogger(t))}, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close(context.Background()) })
	return s
}

// channelSource feeds n rows and keeps the producer open until the returned
// function is called.
func channelSource(t *testing.T, n int) (*source.Channel, func()) {
	t.Helper()
	rows := make(chan []any, n)
	for _, r := range testutil.CatalogRows(n) {
		rows <- r
	}
	src, err := source.NewChannel(testutil.Catalog(), rows, nil)
	require.NoError(t, err)
	var once sync.Once
	return src, func() { once.Do(func() { close(rows) }) }
}

func TestNew(t *testing.T) {
	s, err := New(nil)
	require.NoError(t, err)
	assert.True(t, filepath.IsAbs(s.Path("objects.tbl")))

	cfg := config.NewConfig()
	cfg.Table.LineTerminator = "\t"
	_, err = New(cfg)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
}

func TestService_SearchAndRead(t *testing.T) {
	var mu sync.Mutex
	var seen []table.Status
	s := newService(t, WithProgress(func(p table.Progress) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, p.Status)
	}))
	ctx := context.Background()

	src, err := source.NewSlice(testutil.Catalog(), testutil.CatalogRows(40))
	require.NoError(t, err)
	res, err := s.Search(ctx, "objects.tbl", nil, src)
	require.NoError(t, err)
	assert.False(t, res.Handoff)
	assert.Equal(t, 40, res.SyncRows)
	assert.Equal(t, filepath.Join(s.cfg.Storage.WorkDir, "objects.tbl"), res.Path)

	def, err := s.GetMetaInfo(ctx, "objects.tbl")
	require.NoError(t, err)
	assert.Equal(t, 40, def.RowCount)
	assert.Equal(t, table.StatusCompleted, def.Status())

	st, err := s.GetStatus(ctx, "objects.tbl")
	require.NoError(t, err)
	assert.Equal(t, table.StatusCompleted, st)

	rows, err := s.GetRange(ctx, "objects.tbl", 10, 5)
	require.NoError(t, err)
	require.Len(t, rows, 5)
	assert.Equal(t, 10, rows[0].Index)
	name, _ := rows[4].Get("name")
	assert.Equal(t, "src14", name)

	cells, err := s.GetCells(ctx, "objects.tbl", []int{39, 0, 21}, []string{"id", "flag"})
	require.NoError(t, err)
	assert.Equal(t, 6, cells.Len())
	id, ok := cells.Get(21, "id")
	require.True(t, ok)
	assert.Equal(t, int64(21), id)
	flag, _ := cells.Get(39, "flag")
	assert.Equal(t, int64(1), flag)

	_, err = s.GetCells(ctx, "objects.tbl", []int{1}, []string{"nope"})
	assert.ErrorIs(t, err, table.ErrUnknownColumn)

	_, err = s.GetMetaInfo(ctx, "missing.tbl")
	assert.True(t, errors.IsType(err, errors.ErrorTypeNotFound))

	mu.Lock()
	defer mu.Unlock()
	assert.Contains(t, seen, table.StatusCompleted)
}

func TestService_SingleWriterPerFile(t *testing.T) {
	s := newService(t)
	ctx := context.Background()

	src, finish := channelSource(t, table.MinPrefetch+5)
	res, err := s.Search(ctx, "growing.tbl", nil, src)
	require.NoError(t, err)
	require.True(t, res.Handoff)
	assert.True(t, s.Running("growing.tbl"))
	assert.Equal(t, []string{s.Path("growing.tbl")}, s.Jobs())

	st, err := s.GetStatus(ctx, "growing.tbl")
	require.NoError(t, err)
	assert.Equal(t, table.StatusInProgress, st)

	other, err := source.NewSlice(testutil.Catalog(), testutil.CatalogRows(3))
	require.NoError(t, err)
	_, err = s.Search(ctx, "growing.tbl", nil, other)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConflict))

	finish()
	out := testutil.WaitResult(t, res)
	assert.Equal(t, table.StatusCompleted, out.Status)
	assert.Equal(t, table.MinPrefetch+5, out.Rows)

	testutil.AssertEventually(t, func() bool { return !s.Running("growing.tbl") }, 5*time.Second, "writer released")
	assert.Empty(t, s.Jobs())

	again, err := source.NewSlice(testutil.Catalog(), testutil.CatalogRows(3))
	require.NoError(t, err)
	_, err = s.Search(ctx, "growing.tbl", nil, again)
	assert.NoError(t, err, "file can be rewritten once its writer is done")
}

func TestService_CancelAndWait(t *testing.T) {
	s := newService(t)
	ctx := context.Background()

	src, finish := channelSource(t, table.MinPrefetch+20)
	defer finish()
	res, err := s.Search(ctx, "cancelled.tbl", nil, src)
	require.NoError(t, err)
	require.True(t, res.Handoff)

	st, err := s.WaitForStatus(ctx, "cancelled.tbl", 50*time.Millisecond)
	assert.True(t, errors.IsType(err, errors.ErrorTypeTimeout))
	assert.Equal(t, table.StatusInProgress, st)

	assert.True(t, s.Cancel("cancelled.tbl"))
	st, err = s.WaitForStatus(ctx, "cancelled.tbl", 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, table.StatusPartial, st)

	out := testutil.WaitResult(t, res)
	assert.Equal(t, table.StatusPartial, out.Status)
	assert.Equal(t, table.MinPrefetch+20, out.Rows)
	assert.False(t, s.Cancel("unknown.tbl"))

	_, err = s.WaitForStatus(ctx, "missing.tbl", time.Second)
	assert.True(t, errors.IsType(err, errors.ErrorTypeNotFound))
}

func TestService_Filter(t *testing.T) {
	s := newService(t)
	ctx := context.Background()

	src, finish := channelSource(t, table.MinPrefetch+50)
	res, err := s.Search(ctx, "catalog.tbl", nil, src)
	require.NoError(t, err)
	require.True(t, res.Handoff)

	go func() {
		time.Sleep(50 * time.Millisecond)
		finish()
	}()
	// the source is still being written, so the filter follows it
	fres, err := s.Filter(ctx, "catalog.tbl", "flagged.tbl", []string{"flag = 1", "id >= 90"}, []string{"id", "name"})
	require.NoError(t, err)

	require.Equal(t, table.StatusCompleted, testutil.WaitResult(t, res).Status)
	out := testutil.WaitResult(t, fres)
	assert.Equal(t, table.StatusCompleted, out.Status)

	rows := testutil.ReadTable(t, s.Path("flagged.tbl"))
	require.Len(t, rows, out.Rows)
	// ids 90..149 divisible by 3
	assert.Len(t, rows, 20)
	for _, row := range rows {
		idx, _ := row.Get(table.RowIDColumn)
		id, _ := row.Get("id")
		assert.Equal(t, idx, id)
		assert.Zero(t, id.(int64)%3)
		assert.GreaterOrEqual(t, id.(int64), int64(90))
	}
	def, err := s.GetMetaInfo(ctx, "flagged.tbl")
	require.NoError(t, err)
	assert.Equal(t, []string{"id", "name", table.RowIDColumn}, def.ColumnNames())

	_, err = s.Filter(ctx, "catalog.tbl", "bad.tbl", []string{"flag"}, nil)
	assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))
	_, err = s.Filter(ctx, "catalog.tbl", "catalog.tbl", nil, nil)
	assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))
	assert.False(t, s.Running("bad.tbl"))
}

type recordingPublisher struct {
	mu    sync.Mutex
	paths []string
}

func (p *recordingPublisher) Name() string { return "memory" }

func (p *recordingPublisher) Publish(_ context.Context, path string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.paths = append(p.paths, path)
	return "mem://" + filepath.Base(path), nil
}

func TestService_ExportAndPublish(t *testing.T) {
	pub := &recordingPublisher{}
	s := newService(t, WithPublishers(pub))
	s.cfg.Export.Algorithm = "zstd"
	ctx := context.Background()

	src, err := source.NewSlice(testutil.Catalog(), testutil.CatalogRows(25))
	require.NoError(t, err)
	_, err = s.Search(ctx, "objects.tbl", nil, src)
	require.NoError(t, err)

	art, err := s.Export(ctx, "objects.tbl", "")
	require.NoError(t, err)
	assert.Equal(t, s.Path("objects.tbl")+".zst", art.Path)
	assert.Equal(t, export.Zstd, art.Algorithm)
	assert.Equal(t, 25, art.Rows)
	_, err = os.Stat(art.Path)
	require.NoError(t, err)

	pubs, err := s.Publish(ctx, art.Path)
	require.NoError(t, err)
	require.Len(t, pubs, 1)
	assert.Equal(t, "mem://objects.tbl.zst", pubs[0].Location)
	assert.Equal(t, []string{art.Path}, pub.paths)

	s.cfg.Export.Algorithm = "brotli"
	_, err = s.Export(ctx, "objects.tbl", "")
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
}

func TestService_PublishWithoutTargets(t *testing.T) {
	s := newService(t)
	_, err := s.Publish(context.Background(), "objects.tbl")
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
}

func TestService_CloseCancelsWriters(t *testing.T) {
	s := newService(t)
	src, finish := channelSource(t, table.MinPrefetch+1)
	defer finish()
	res, err := s.Search(context.Background(), "open.tbl", nil, src)
	require.NoError(t, err)
	require.True(t, res.Handoff)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, s.Close(ctx), context.DeadlineExceeded)

	out, done := res.Outcome()
	require.True(t, done)
	assert.Equal(t, table.StatusPartial, out.Status)
	assert.Empty(t, s.Jobs())
}
