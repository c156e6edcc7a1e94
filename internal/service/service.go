// Package service is the consumer-facing facade over table files. It resolves
// paths against the configured work directory, applies the configured table
// options, and keeps at most one background writer per file.
//
// Every operation is traced with an OpenTelemetry span, timed into the
// operation duration histogram, and logged with the table path.
package service

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ajitpratap0/ipactable/pkg/config"
	"github.com/ajitpratap0/ipactable/pkg/errors"
	"github.com/ajitpratap0/ipactable/pkg/export"
	"github.com/ajitpratap0/ipactable/pkg/logger"
	"github.com/ajitpratap0/ipactable/pkg/metrics"
	"github.com/ajitpratap0/ipactable/pkg/observability"
	"github.com/ajitpratap0/ipactable/pkg/table"
)

// Service serves table files under a work directory.
type Service struct {
	cfg        *config.Config
	logger     *zap.Logger
	publishers []export.Publisher
	progress   func(table.Progress)

	mu   sync.Mutex
	jobs map[string]*table.Result
	wg   sync.WaitGroup
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the service logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithPublishers replaces the publishers built from the export configuration.
func WithPublishers(p ...export.Publisher) Option {
	return func(s *Service) { s.publishers = p }
}

// WithProgress registers a callback for load-status notifications of every
// file the service writes.
func WithProgress(fn func(table.Progress)) Option {
	return func(s *Service) { s.progress = fn }
}

// New creates a service. A nil cfg uses the defaults.
func New(cfg *config.Config, opts ...Option) (*Service, error) {
	if cfg == nil {
		cfg = config.NewConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "invalid configuration")
	}
	s := &Service{
		cfg:    cfg,
		logger: logger.Get(),
		jobs:   make(map[string]*table.Result),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With(zap.String("component", "table_service"))
	return s, nil
}

// Path resolves a table path against the work directory.
func (s *Service) Path(p string) string {
	if !filepath.IsAbs(p) {
		p = filepath.Join(s.cfg.Storage.WorkDir, p)
	}
	if abs, err := filepath.Abs(p); err == nil {
		return abs
	}
	return filepath.Clean(p)
}

// tableOptions maps the configuration onto table options.
func (s *Service) tableOptions(log *zap.Logger, extra ...table.Option) []table.Option {
	tc := s.cfg.Table
	opts := []table.Option{
		table.WithPrefetch(tc.PrefetchSize),
		table.WithFlushEvery(tc.FlushEvery),
		table.WithSeekThreshold(tc.SeekThreshold),
		table.WithNullString(tc.NullString),
		table.WithLineTerminator(tc.LineTerminator),
		table.WithFileMode(os.FileMode(s.cfg.Storage.FileMode)),
		table.WithPollInterval(tc.FollowPollInterval),
		table.WithMmap(s.cfg.Reader.Mmap),
		table.WithLogger(log),
		table.WithProgress(s.notify(log)),
	}
	return append(opts, extra...)
}

func (s *Service) notify(log *zap.Logger) func(table.Progress) {
	return func(p table.Progress) {
		log.Info("table load status",
			zap.String("path", p.Path),
			zap.Int("rows", p.Rows),
			zap.String("status", string(p.Status)))
		if s.progress != nil {
			s.progress(p)
		}
	}
}

// opLogger returns the service logger with the request fields of ctx.
func (s *Service) opLogger(ctx context.Context, path string) *zap.Logger {
	if _, ok := ctx.Value(logger.TableKey).(string); !ok {
		ctx = context.WithValue(ctx, logger.TableKey, path)
	}
	return s.logger.With(logger.Fields(ctx)...)
}

// begin starts the span and timer of an operation.
func (s *Service) begin(ctx context.Context, op, path string) (context.Context, func(error)) {
	ctx, span := observability.StartSpan(ctx, "table."+op)
	span.SetAttribute("table", path)
	timer := metrics.NewTimer(op)
	return ctx, func(err error) {
		timer.ObserveDuration()
		span.End(err)
	}
}

// GetMetaInfo reads the definition of a table file.
func (s *Service) GetMetaInfo(ctx context.Context, path string) (def *table.TableDef, err error) {
	path = s.Path(path)
	_, end := s.begin(ctx, "get_meta_info", path)
	defer func() { end(err) }()

	return table.GetMetaInfo(path)
}

// GetStatus reads the status field of a table file.
func (s *Service) GetStatus(ctx context.Context, path string) (st table.Status, err error) {
	path = s.Path(path)
	_, end := s.begin(ctx, "get_status", path)
	defer func() { end(err) }()

	return table.ReadStatusFile(path)
}

// GetRange reads count rows starting at row start. Rows not yet written to an
// in-progress file yield a retryable unavailable error.
func (s *Service) GetRange(ctx context.Context, path string, start, count int) (rows []table.Row, err error) {
	path = s.Path(path)
	_, end := s.begin(ctx, "get_range", path)
	defer func() { end(err) }()

	log := s.opLogger(ctx, path)
	r, err := table.OpenReader(path, s.tableOptions(log)...)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	rows, err = r.ReadRange(start, count)
	if err != nil {
		return nil, err
	}
	log.Debug("range read", zap.Int("start", start), zap.Int("count", count), zap.Int("rows", len(rows)))
	return rows, nil
}

// GetCells reads the named columns of the given rows.
func (s *Service) GetCells(ctx context.Context, path string, indices []int, columns []string) (cells *table.Cells, err error) {
	path = s.Path(path)
	_, end := s.begin(ctx, "get_cells", path)
	defer func() { end(err) }()

	log := s.opLogger(ctx, path)
	r, err := table.OpenReader(path, s.tableOptions(log)...)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	cells, err = r.ReadCells(indices, columns)
	if err != nil {
		return nil, err
	}
	log.Debug("cells read",
		zap.Int("requested", len(indices)),
		zap.Int("decoded", cells.Decoded),
		zap.Int("pending", len(cells.Pending)))
	return cells, nil
}

// WaitForStatus polls until the file leaves IN_PROGRESS. A timeout of zero
// uses the configured wait timeout. On timeout the last status is returned
// with a timeout error.
func (s *Service) WaitForStatus(ctx context.Context, path string, timeout time.Duration) (st table.Status, err error) {
	path = s.Path(path)
	ctx, end := s.begin(ctx, "wait_for_status", path)
	defer func() { end(err) }()

	if timeout <= 0 {
		timeout = s.cfg.Reader.WaitTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(s.cfg.Reader.PollInterval)
	defer ticker.Stop()
	for {
		st, err = table.ReadStatusFile(path)
		if err != nil && !errors.Is(err, table.ErrNotYetAvailable) {
			return "", err
		}
		if err == nil && st.Terminal() {
			return st, nil
		}
		select {
		case <-ctx.Done():
			return st, errors.Wrap(ctx.Err(), errors.ErrorTypeTimeout,
				fmt.Sprintf("table still %s after %v", table.StatusInProgress, timeout))
		case <-ticker.C:
		}
	}
}

// Search writes the rows of src to path. Rows up to the prefetch threshold
// are written before Search returns; the rest are appended in the background.
// A nil def takes the columns from src.
func (s *Service) Search(ctx context.Context, path string, def *table.TableDef, src table.Source) (res *table.Result, err error) {
	path = s.Path(path)
	ctx, end := s.begin(ctx, "search", path)
	defer func() { end(err) }()

	release, err := s.reserve(path)
	if err != nil {
		_ = src.Close()
		return nil, err
	}
	log := s.opLogger(ctx, path)
	res, err = table.Stream(ctx, path, def, src, s.tableOptions(log)...)
	if err != nil {
		release(nil)
		return nil, err
	}
	release(res)
	log.Info("search started", zap.Int("sync_rows", res.SyncRows), zap.Bool("handoff", res.Handoff))
	return res, nil
}

// Filter writes the rows of src that satisfy every condition to dst, keeping
// only columns when given. A source still being written by this service is
// followed until it finishes.
func (s *Service) Filter(ctx context.Context, src, dst string, conditions []string, columns []string) (res *table.Result, err error) {
	src, dst = s.Path(src), s.Path(dst)
	ctx, end := s.begin(ctx, "filter", dst)
	defer func() { end(err) }()

	pred, err := table.ParseConditions(conditions...)
	if err != nil {
		return nil, err
	}
	if src == dst {
		return nil, errors.New(errors.ErrorTypeValidation, "filter destination equals source")
	}

	release, err := s.reserve(dst)
	if err != nil {
		return nil, err
	}
	log := s.opLogger(ctx, dst).With(zap.String("source", src))
	follow := s.Running(src)
	if !follow {
		if st, serr := table.ReadStatusFile(src); serr == nil && !st.Terminal() {
			follow = true
		}
	}
	extra := []table.Option{table.WithFollow(follow)}
	if len(columns) > 0 {
		extra = append(extra, table.WithColumns(columns...))
	}
	res, err = table.Filter(ctx, src, dst, pred, s.tableOptions(log, extra...)...)
	if err != nil {
		release(nil)
		return nil, err
	}
	release(res)
	log.Info("filter started",
		zap.Strings("conditions", conditions),
		zap.Bool("follow", follow),
		zap.Int("sync_rows", res.SyncRows))
	return res, nil
}

// Export compresses a finished table with the configured algorithm and level.
func (s *Service) Export(ctx context.Context, path, dst string) (art *export.Artifact, err error) {
	path = s.Path(path)
	ctx, end := s.begin(ctx, "export", path)
	defer func() { end(err) }()

	alg, err := export.ParseAlgorithm(s.cfg.Export.Algorithm)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "invalid export algorithm")
	}
	if dst != "" {
		dst = s.Path(dst)
	}
	return export.Compress(ctx, path, dst, export.Options{
		Algorithm: alg,
		Level:     export.Level(s.cfg.Export.Level),
		Logger:    s.opLogger(ctx, path),
	})
}

// Publish uploads a file to every configured object store.
func (s *Service) Publish(ctx context.Context, path string) (pubs []export.Publication, err error) {
	path = s.Path(path)
	ctx, end := s.begin(ctx, "publish", path)
	defer func() { end(err) }()

	targets, err := s.targets(ctx)
	if err != nil {
		return nil, err
	}
	pubs, err = export.PublishAll(ctx, path, targets...)
	for _, p := range pubs {
		s.opLogger(ctx, path).Info("published", zap.String("target", p.Target), zap.String("location", p.Location))
	}
	return pubs, err
}

func (s *Service) targets(ctx context.Context) ([]export.Publisher, error) {
	if s.publishers != nil {
		return s.publishers, nil
	}
	var pubs []export.Publisher
	if s.cfg.Export.HasS3() {
		p, err := export.NewS3Publisher(ctx, s.cfg.Export.S3)
		if err != nil {
			return nil, err
		}
		pubs = append(pubs, p)
	}
	if s.cfg.Export.HasGCS() {
		p, err := export.NewGCSPublisher(ctx, s.cfg.Export.GCS)
		if err != nil {
			return nil, err
		}
		pubs = append(pubs, p)
	}
	if len(pubs) == 0 {
		return nil, errors.New(errors.ErrorTypeConfig, "no publishing targets configured")
	}
	s.publishers = pubs
	return pubs, nil
}

// reserve claims path for a new writer. The returned function records the
// writer's result, or frees the claim when given nil.
func (s *Service) reserve(path string) (func(*table.Result), error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, busy := s.jobs[path]; busy {
		return nil, errors.New(errors.ErrorTypeConflict, "table is already being written").
			WithDetail("path", path)
	}
	s.jobs[path] = nil
	return func(res *table.Result) {
		s.mu.Lock()
		defer s.mu.Unlock()
		if res == nil {
			delete(s.jobs, path)
			return
		}
		s.jobs[path] = res
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			<-res.Done()
			s.mu.Lock()
			delete(s.jobs, path)
			s.mu.Unlock()
		}()
	}, nil
}

// Running reports whether the service is writing path.
func (s *Service) Running(path string) bool {
	path = s.Path(path)
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.jobs[path]
	return ok
}

// Jobs lists the files being written.
func (s *Service) Jobs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	paths := make([]string, 0, len(s.jobs))
	for p := range s.jobs {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// Result returns the in-flight result for path.
func (s *Service) Result(path string) (*table.Result, bool) {
	path = s.Path(path)
	s.mu.Lock()
	defer s.mu.Unlock()
	res, ok := s.jobs[path]
	return res, ok && res != nil
}

// Cancel stops the background writer of path. The file is finalized PARTIAL.
func (s *Service) Cancel(path string) bool {
	res, ok := s.Result(path)
	if ok {
		res.Cancel()
	}
	return ok
}

// Close waits for all background writers to finish. When ctx ends first the
// remaining writers are cancelled and Close waits for them to finalize.
func (s *Service) Close(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
	}

	s.mu.Lock()
	for _, res := range s.jobs {
		if res != nil {
			res.Cancel()
		}
	}
	s.mu.Unlock()
	<-done
	s.logger.Warn("background writers cancelled on close")
	return ctx.Err()
}
