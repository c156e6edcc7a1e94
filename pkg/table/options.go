package table

import (
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/ajitpratap0/ipactable/pkg/logger"
)

const (
	// DefaultPrefetch is the number of rows written before handoff.
	DefaultPrefetch = 1000
	// MinPrefetch is the smallest accepted prefetch threshold; smaller
	// values are raised to it.
	MinPrefetch = 100
	// DefaultFlushEvery is how many rows the background worker appends
	// between flushes.
	DefaultFlushEvery = 500
	// DefaultSeekThreshold is the row gap above which sparse reads seek.
	DefaultSeekThreshold = 64
	// DefaultPollInterval is how often follow mode re-checks a growing file.
	DefaultPollInterval = 200 * time.Millisecond
)

// Progress reports the load state of a file being written.
type Progress struct {
	Path   string
	Rows   int
	Status Status
}

type options struct {
	prefetch      int
	flushEvery    int
	seekThreshold int
	nullString    string
	terminator    string
	mode          os.FileMode
	logger        *zap.Logger
	progress      func(Progress)
	columns       []string
	follow        bool
	pollInterval  time.Duration
	mmap          bool
}

// Option configures writers, readers, streams and filters. Options that do
// not apply to an operation are ignored.
type Option func(*options)

func newOptions(opts []Option) *options {
	o := &options{
		prefetch:      DefaultPrefetch,
		flushEvery:    DefaultFlushEvery,
		seekThreshold: DefaultSeekThreshold,
		nullString:    DefaultNullString,
		terminator:    "\n",
		mode:          0o644,
		pollInterval:  DefaultPollInterval,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = logger.Get()
	}
	return o
}

// WithPrefetch sets the number of rows written synchronously before the rest
// is handed to a background worker. Values below MinPrefetch are raised.
func WithPrefetch(n int) Option {
	return func(o *options) {
		if n < MinPrefetch {
			n = MinPrefetch
		}
		o.prefetch = n
	}
}

// WithFlushEvery sets how many rows the background worker appends between flushes.
func WithFlushEvery(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.flushEvery = n
		}
	}
}

// WithSeekThreshold sets the row gap above which sparse reads seek instead of
// skipping forward.
func WithSeekThreshold(n int) Option {
	return func(o *options) {
		if n >= 0 {
			o.seekThreshold = n
		}
	}
}

// WithNullString sets the text written for nil cells of columns that do not
// declare their own.
func WithNullString(s string) Option {
	return func(o *options) {
		if s != "" {
			o.nullString = s
		}
	}
}

// WithLineTerminator selects "\n" or "\r\n".
func WithLineTerminator(t string) Option {
	return func(o *options) {
		if t == "\n" || t == "\r\n" {
			o.terminator = t
		}
	}
}

// WithFileMode sets the permission of newly created files.
func WithFileMode(m os.FileMode) Option {
	return func(o *options) {
		if m != 0 {
			o.mode = m
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithProgress registers a callback invoked at handoff and when the file is
// finalized. It is called from the writing goroutine and must not block.
func WithProgress(fn func(Progress)) Option {
	return func(o *options) {
		o.progress = fn
	}
}

// WithColumns restricts a filter's output to the named columns.
func WithColumns(names ...string) Option {
	return func(o *options) {
		o.columns = names
	}
}

// WithFollow makes a table source wait for rows of a file that is still
// IN_PROGRESS instead of stopping at its current end.
func WithFollow(follow bool) Option {
	return func(o *options) {
		o.follow = follow
	}
}

// WithPollInterval sets how often follow mode re-checks a growing file.
func WithPollInterval(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.pollInterval = d
		}
	}
}

func (o *options) notify(path string, rows int, s Status) {
	if o.progress != nil {
		o.progress(Progress{Path: path, Rows: rows, Status: s})
	}
}

// WithMmap lets readers memory-map files that are already COMPLETED or
// PARTIAL. Files still being written are always read through the file handle.
func WithMmap(enabled bool) Option {
	return func(o *options) { o.mmap = enabled }
}
