package export

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/api/option"

	"github.com/ajitpratap0/ipactable/pkg/config"
	"github.com/ajitpratap0/ipactable/pkg/errors"
	"github.com/ajitpratap0/ipactable/pkg/logger"
	"github.com/ajitpratap0/ipactable/pkg/metrics"
)

const (
	defaultUploadPartSize = 5 * 1024 * 1024 // 5MB
	contentType           = "text/plain; charset=us-ascii"
)

// Publisher uploads a local file to a remote store.
type Publisher interface {
	// Name identifies the target in logs and results
	Name() string
	// Publish uploads the file at path and returns its remote location
	Publish(ctx context.Context, path string) (string, error)
}

// Publication is the outcome of publishing one file to one target.
type Publication struct {
	Target   string        `json:"target"`
	Location string        `json:"location"`
	Duration time.Duration `json:"duration"`
}

// PublishAll uploads path to every publisher concurrently. It returns the
// successful publications in publisher order and the first failure.
func PublishAll(ctx context.Context, path string, pubs ...Publisher) ([]Publication, error) {
	if len(pubs) == 0 {
		return nil, errors.New(errors.ErrorTypeConfig, "no publishing targets configured")
	}
	if _, err := os.Stat(path); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeNotFound, "nothing to publish")
	}

	out := make([]Publication, len(pubs))
	ok := make([]bool, len(pubs))
	g, gctx := errgroup.WithContext(ctx)
	for i, p := range pubs {
		i, p := i, p
		g.Go(func() error {
			timer := metrics.NewTimer("publish_" + p.Name())
			loc, err := p.Publish(gctx, path)
			d := timer.ObserveDuration()
			if err != nil {
				return errors.Wrap(err, errors.ErrorTypeConnection, fmt.Sprintf("publish to %s failed", p.Name()))
			}
			out[i] = Publication{Target: p.Name(), Location: loc, Duration: d}
			ok[i] = true
			return nil
		})
	}
	err := g.Wait()

	done := out[:0]
	for i, pub := range out {
		if ok[i] {
			done = append(done, pub)
		}
	}
	return done, err
}

// objectKey joins prefix and the file's base name.
func objectKey(prefix, file string) string {
	return path.Join(strings.Trim(prefix, "/"), filepath.Base(file))
}

// s3Uploader is the part of manager.Uploader used by S3Publisher.
type s3Uploader interface {
	Upload(ctx context.Context, input *s3.PutObjectInput, opts ...func(*manager.Uploader)) (*manager.UploadOutput, error)
}

// S3Publisher uploads files to an S3 bucket with multipart uploads.
type S3Publisher struct {
	bucket   string
	prefix   string
	uploader s3Uploader
	logger   *zap.Logger
}

// NewS3Publisher loads the default AWS credential chain for cfg.Region.
func NewS3Publisher(ctx context.Context, cfg config.S3Config) (*S3Publisher, error) {
	if cfg.Bucket == "" {
		return nil, errors.New(errors.ErrorTypeConfig, "s3 bucket is required")
	}
	opts := []func(*awsconfig.LoadOptions) error{}
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to load AWS config")
	}

	partSize := cfg.PartSize
	if partSize < defaultUploadPartSize {
		partSize = defaultUploadPartSize
	}
	uploader := manager.NewUploader(s3.NewFromConfig(awsCfg), func(u *manager.Uploader) {
		u.PartSize = partSize
	})
	return newS3Publisher(cfg.Bucket, cfg.Prefix, uploader), nil
}

func newS3Publisher(bucket, prefix string, u s3Uploader) *S3Publisher {
	return &S3Publisher{
		bucket:   bucket,
		prefix:   prefix,
		uploader: u,
		logger:   logger.With(zap.String("component", "s3_publisher")),
	}
}

// Name implements Publisher.
func (p *S3Publisher) Name() string { return "s3" }

// Publish implements Publisher.
func (p *S3Publisher) Publish(ctx context.Context, file string) (string, error) {
	f, err := os.Open(file)
	if err != nil {
		return "", err
	}
	defer f.Close()

	key := objectKey(p.prefix, file)
	input := &s3.PutObjectInput{
		Bucket:      aws.String(p.bucket),
		Key:         aws.String(key),
		Body:        f,
		ContentType: aws.String(contentType),
	}
	if enc := AlgorithmForPath(file).ContentEncoding(); enc != "" {
		input.ContentEncoding = aws.String(enc)
	}
	result, err := p.uploader.Upload(ctx, input)
	if err != nil {
		return "", err
	}

	loc := fmt.Sprintf("s3://%s/%s", p.bucket, key)
	p.logger.Info("table published",
		zap.String("path", file),
		zap.String("location", loc),
		zap.String("upload_location", result.Location))
	return loc, nil
}

// gcsBucket opens object writers. The storage-backed implementation wraps a
// *storage.BucketHandle.
type gcsBucket interface {
	NewWriter(ctx context.Context, object, contentType, contentEncoding string) io.WriteCloser
}

type storageBucket struct {
	handle *storage.BucketHandle
}

func (b storageBucket) NewWriter(ctx context.Context, object, contentType, contentEncoding string) io.WriteCloser {
	w := b.handle.Object(object).NewWriter(ctx)
	w.ContentType = contentType
	w.ContentEncoding = contentEncoding
	return w
}

// GCSPublisher uploads files to a Google Cloud Storage bucket.
type GCSPublisher struct {
	bucketName string
	prefix     string
	bucket     gcsBucket
	client     *storage.Client
	logger     *zap.Logger
}

// NewGCSPublisher creates a storage client using cfg.CredentialsFile or the
// application default credentials.
func NewGCSPublisher(ctx context.Context, cfg config.GCSConfig) (*GCSPublisher, error) {
	if cfg.Bucket == "" {
		return nil, errors.New(errors.ErrorTypeConfig, "gcs bucket is required")
	}
	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "failed to create GCS client")
	}
	p := newGCSPublisher(cfg.Bucket, cfg.Prefix, storageBucket{handle: client.Bucket(cfg.Bucket)})
	p.client = client
	return p, nil
}

func newGCSPublisher(bucket, prefix string, b gcsBucket) *GCSPublisher {
	return &GCSPublisher{
		bucketName: bucket,
		prefix:     prefix,
		bucket:     b,
		logger:     logger.With(zap.String("component", "gcs_publisher")),
	}
}

// Name implements Publisher.
func (p *GCSPublisher) Name() string { return "gcs" }

// Publish implements Publisher.
func (p *GCSPublisher) Publish(ctx context.Context, file string) (string, error) {
	f, err := os.Open(file)
	if err != nil {
		return "", err
	}
	defer f.Close()

	key := objectKey(p.prefix, file)
	w := p.bucket.NewWriter(ctx, key, contentType, AlgorithmForPath(file).ContentEncoding())
	if _, err := io.Copy(w, f); err != nil {
		_ = w.Close()
		return "", err
	}
	if err := w.Close(); err != nil {
		return "", err
	}

	loc := fmt.Sprintf("gs://%s/%s", p.bucketName, key)
	p.logger.Info("table published", zap.String("path", file), zap.String("location", loc))
	return loc, nil
}

// Close releases the storage client.
func (p *GCSPublisher) Close() error {
	if p.client == nil {
		return nil
	}
	return p.client.Close()
}
