package export

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/ipactable/pkg/config"
	"github.com/ajitpratap0/ipactable/pkg/errors"
	"github.com/ajitpratap0/ipactable/pkg/source"
	"github.com/ajitpratap0/ipactable/pkg/table"
	"github.com/ajitpratap0/ipactable/pkg/testutil"
)

func finishedTable(t *testing.T, n int) string {
	t.Helper()
	src, err := source.NewSlice(testutil.Catalog(), testutil.CatalogRows(n))
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "catalog.tbl")
	res, err := table.Stream(context.Background(), path, nil, src, table.WithLogger(testutil.TestLogger(t)))
	require.NoError(t, err)
	require.Equal(t, table.StatusCompleted, testutil.WaitResult(t, res).Status)
	return path
}

func TestCompressors_RoundTrip(t *testing.T) {
	original := bytes.Repeat([]byte("|ra        |dec       |name    |\n"), 200)
	for _, alg := range Algorithms() {
		for _, level := range []Level{Fastest, Default, Better, Best} {
			t.Run(fmt.Sprintf("%s/%d", alg, level), func(t *testing.T) {
				var buf bytes.Buffer
				w, err := NewWriter(&buf, alg, level)
				require.NoError(t, err)
				_, err = w.Write(original)
				require.NoError(t, err)
				require.NoError(t, w.Close())
				if alg != None {
					assert.Less(t, buf.Len(), len(original))
				}

				r, err := NewReader(&buf, alg)
				require.NoError(t, err)
				got, err := io.ReadAll(r)
				require.NoError(t, err)
				require.NoError(t, r.Close())
				assert.Equal(t, original, got)
			})
		}
	}
}

func TestParseAlgorithm(t *testing.T) {
	a, err := ParseAlgorithm(" ZSTD ")
	require.NoError(t, err)
	assert.Equal(t, Zstd, a)
	a, err = ParseAlgorithm("")
	require.NoError(t, err)
	assert.Equal(t, None, a)
	_, err = ParseAlgorithm("brotli")
	assert.Error(t, err)

	assert.Equal(t, Gzip, AlgorithmForPath("x.tbl.gz"))
	assert.Equal(t, LZ4, AlgorithmForPath("/a/b.tbl.lz4"))
	assert.Equal(t, None, AlgorithmForPath("x.tbl"))
}

func TestCompress(t *testing.T) {
	src := finishedTable(t, 120)
	want, err := os.ReadFile(src)
	require.NoError(t, err)

	for _, alg := range []Algorithm{Gzip, Zstd, LZ4, S2, Snappy} {
		art, err := Compress(context.Background(), src, "", Options{Algorithm: alg, Logger: testutil.TestLogger(t)})
		require.NoError(t, err)
		assert.Equal(t, src+alg.Extension(), art.Path)
		assert.Equal(t, table.StatusCompleted, art.Status)
		assert.Equal(t, 120, art.Rows)
		assert.Equal(t, int64(len(want)), art.SourceSize)

		r, err := Open(art.Path)
		require.NoError(t, err)
		got, err := io.ReadAll(r)
		require.NoError(t, err)
		require.NoError(t, r.Close())
		assert.Equal(t, want, got, alg)
	}

	entries, err := os.ReadDir(filepath.Dir(src))
	require.NoError(t, err)
	for _, e := range entries {
		assert.NotContains(t, e.Name(), ".tmp", "temporary files are renamed or removed")
	}
}

func TestCompress_RejectsInProgressTable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "growing.tbl")
	def, err := table.NewTableDef(testutil.Catalog())
	require.NoError(t, err)
	w, err := table.Create(path, def, table.WithLogger(testutil.TestLogger(t)))
	require.NoError(t, err)
	defer w.Finish(table.StatusCompleted)

	_, err = Compress(context.Background(), path, "", Options{Algorithm: Gzip})
	assert.ErrorIs(t, err, table.ErrNotYetAvailable)
	assert.True(t, errors.IsRetryable(err))
	_, statErr := os.Stat(path + ".gz")
	assert.True(t, os.IsNotExist(statErr))
}

func TestCompress_Cancelled(t *testing.T) {
	src := finishedTable(t, 10)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Compress(ctx, src, "", Options{Algorithm: Zstd, Logger: testutil.TestLogger(t)})
	assert.ErrorIs(t, err, context.Canceled)
	_, statErr := os.Stat(src + ".zst")
	assert.True(t, os.IsNotExist(statErr))
}

type fakeUploader struct {
	mu     sync.Mutex
	inputs []*s3.PutObjectInput
	bodies [][]byte
	err    error
}

func (f *fakeUploader) Upload(_ context.Context, in *s3.PutObjectInput, _ ...func(*manager.Uploader)) (*manager.UploadOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	body, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inputs = append(f.inputs, in)
	f.bodies = append(f.bodies, body)
	return &manager.UploadOutput{Location: "https://example/" + *in.Key}, nil
}

type memObject struct {
	bytes.Buffer
	bucket          *memBucket
	name            string
	contentEncoding string
}

func (o *memObject) Close() error {
	o.bucket.mu.Lock()
	defer o.bucket.mu.Unlock()
	o.bucket.objects[o.name] = o
	return nil
}

type memBucket struct {
	mu      sync.Mutex
	objects map[string]*memObject
}

func (b *memBucket) NewWriter(_ context.Context, object, _, contentEncoding string) io.WriteCloser {
	return &memObject{bucket: b, name: object, contentEncoding: contentEncoding}
}

func TestPublishAll(t *testing.T) {
	src := finishedTable(t, 30)
	art, err := Compress(context.Background(), src, "", Options{Algorithm: Gzip, Logger: testutil.TestLogger(t)})
	require.NoError(t, err)
	want, err := os.ReadFile(art.Path)
	require.NoError(t, err)

	up := &fakeUploader{}
	bucket := &memBucket{objects: map[string]*memObject{}}
	pubs := []Publisher{
		newS3Publisher("tables", "/releases/v1/", up),
		newGCSPublisher("tables-gcs", "", bucket),
	}

	got, err := PublishAll(context.Background(), art.Path, pubs...)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "s3", got[0].Target)
	assert.Equal(t, "s3://tables/releases/v1/catalog.tbl.gz", got[0].Location)
	assert.Equal(t, "gs://tables-gcs/catalog.tbl.gz", got[1].Location)

	require.Len(t, up.inputs, 1)
	assert.Equal(t, "gzip", *up.inputs[0].ContentEncoding)
	assert.Equal(t, want, up.bodies[0])

	obj := bucket.objects["catalog.tbl.gz"]
	require.NotNil(t, obj)
	assert.Equal(t, "gzip", obj.contentEncoding)
	assert.Equal(t, want, obj.Bytes())
}

func TestPublishAll_Failures(t *testing.T) {
	src := finishedTable(t, 5)

	_, err := PublishAll(context.Background(), src)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))

	_, err = PublishAll(context.Background(), src+".missing", newS3Publisher("b", "", &fakeUploader{}))
	assert.True(t, errors.IsType(err, errors.ErrorTypeNotFound))

	bucket := &memBucket{objects: map[string]*memObject{}}
	got, err := PublishAll(context.Background(), src,
		newS3Publisher("b", "", &fakeUploader{err: fmt.Errorf("access denied")}),
		newGCSPublisher("g", "p", bucket))
	assert.ErrorContains(t, err, "access denied")
	assert.True(t, errors.IsType(err, errors.ErrorTypeConnection))
	for _, pub := range got {
		assert.Equal(t, "gcs", pub.Target, "only successful targets are reported")
	}

	_, err = NewS3Publisher(context.Background(), config.S3Config{})
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
}
