package table

import (
	"context"
	"fmt"
	"io"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/ajitpratap0/ipactable/pkg/errors"
	"github.com/ajitpratap0/ipactable/pkg/metrics"
)

// Source produces rows in order. Next returns io.EOF once the source is
// exhausted; any other error ends production early. Row values are positional
// and follow the column order of the table being written.
type Source interface {
	Next(ctx context.Context) (Row, error)
	Close() error
}

// ColumnSource is implemented by sources that know their columns. Stream
// uses it when called without a definition.
type ColumnSource interface {
	Source
	Columns() []Column
}

// WorkerResult is the outcome of writing a file, reported once the file has
// reached a terminal status.
type WorkerResult struct {
	// Rows is the total number of rows in the file.
	Rows   int
	Status Status
	// Err is the producer, write or cancellation error that ended writing
	// early. It is nil for COMPLETED files.
	Err error
}

// Result describes a file returned by Stream. The file is readable as soon as
// Stream returns. When Handoff is true the remaining rows are appended by a
// background worker and Done is closed once the file is finalized.
type Result struct {
	Path     string
	Def      *TableDef
	SyncRows int
	Handoff  bool

	done    chan struct{}
	cancel  context.CancelFunc
	outcome WorkerResult
}

// Done is closed when the file reaches a terminal status.
func (r *Result) Done() <-chan struct{} {
	return r.done
}

// Wait blocks until the file is finalized or ctx ends.
func (r *Result) Wait(ctx context.Context) (WorkerResult, error) {
	select {
	case <-r.done:
		return r.outcome, nil
	case <-ctx.Done():
		return WorkerResult{}, ctx.Err()
	}
}

// Outcome returns the final result and true once the file is finalized.
func (r *Result) Outcome() (WorkerResult, bool) {
	select {
	case <-r.done:
		return r.outcome, true
	default:
		return WorkerResult{}, false
	}
}

// Cancel asks the background worker to stop between rows. The file is then
// finalized as PARTIAL. It has no effect once the file is finalized.
func (r *Result) Cancel() {
	if r.cancel != nil {
		r.cancel()
	}
}

// handoff carries write ownership from the request path to the worker: the
// open writer, the producer positioned after the pending row, and that row.
type handoff struct {
	w       *Writer
	src     Source
	pending Row
}

var jobSeq atomic.Uint64

// Stream writes the rows of src to a new table file at path. Rows are written
// synchronously until the prefetch threshold is reached. If src then has more
// rows, ownership of the open file and of src moves to a background worker
// and Stream returns with the file IN_PROGRESS. Otherwise the file is
// finalized before Stream returns.
//
// Stream closes src in every case. Only a failure to create the file is
// returned as an error; a producer failure yields a PARTIAL file with the rows
// written so far. The worker runs detached from ctx; use Result.Cancel to stop
// it.
func Stream(ctx context.Context, path string, def *TableDef, src Source, opts ...Option) (*Result, error) {
	o := newOptions(opts)
	if def == nil {
		cs, ok := src.(ColumnSource)
		if !ok {
			_ = src.Close()
			return nil, errors.New(errors.ErrorTypeSetup, "no table definition and the source does not describe its columns")
		}
		d, err := NewTableDef(cs.Columns())
		if err != nil {
			_ = src.Close()
			return nil, errors.Wrap(err, errors.ErrorTypeSetup, "invalid source columns")
		}
		def = d
	}

	w, err := Create(path, def, opts...)
	if err != nil {
		_ = src.Close()
		return nil, err
	}
	log := o.logger.With(zap.String("table", path), zap.Uint64("job_id", jobSeq.Add(1)))
	res := &Result{Path: path, Def: w.Def(), done: make(chan struct{})}

	for w.Rows() < o.prefetch {
		if err := ctx.Err(); err != nil {
			finalize(res, w, src, StatusPartial, errors.Wrap(err, errors.ErrorTypeProducer, "request cancelled"), o, log)
			res.SyncRows = w.Rows()
			return res, nil
		}
		row, err := src.Next(ctx)
		if err == io.EOF {
			finalize(res, w, src, StatusCompleted, nil, o, log)
			res.SyncRows = w.Rows()
			return res, nil
		}
		if err != nil {
			finalize(res, w, src, StatusPartial, producerError(err, w.Rows()), o, log)
			res.SyncRows = w.Rows()
			return res, nil
		}
		if err := appendRow(w, row, log); err != nil {
			finalize(res, w, src, StatusPartial, err, o, log)
			res.SyncRows = w.Rows()
			return res, nil
		}
		metrics.RowsWritten.WithLabelValues(metrics.PhaseSync).Inc()
	}
	res.SyncRows = w.Rows()

	// look ahead one row to decide whether a handoff is needed
	row, err := src.Next(ctx)
	switch {
	case err == io.EOF:
		finalize(res, w, src, StatusCompleted, nil, o, log)
		return res, nil
	case err != nil:
		finalize(res, w, src, StatusPartial, producerError(err, w.Rows()), o, log)
		return res, nil
	}
	if err := w.Flush(); err != nil {
		finalize(res, w, src, StatusPartial, err, o, log)
		return res, nil
	}

	wctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	res.cancel = cancel
	res.Handoff = true
	ch := make(chan handoff, 1)
	ch <- handoff{w: w, src: src, pending: row}
	close(ch)

	metrics.Handoffs.Inc()
	log.Info("handing off table to background worker", zap.Int("rows", res.SyncRows))
	o.notify(path, res.SyncRows, StatusInProgress)
	go runWorker(wctx, ch, res, o, log)
	return res, nil
}

// appendRow writes one row. Rows the codec rejects are skipped; only file
// errors are returned.
func appendRow(w *Writer, row Row, log *zap.Logger) error {
	err := w.WriteRow(row)
	if err == nil {
		return nil
	}
	if errors.IsType(err, errors.ErrorTypeValidation) {
		metrics.EncodeErrors.Inc()
		log.Warn("skipping row that cannot be encoded", zap.Int("row", w.Rows()), zap.Error(err))
		return nil
	}
	return err
}

func producerError(err error, rows int) error {
	return errors.Wrap(err, errors.ErrorTypeProducer, "row source failed").WithDetail("rows_written", rows)
}

// runWorker drains the producer received through ch and finalizes the file.
// Failures are recorded on res and logged, never returned.
func runWorker(ctx context.Context, ch <-chan handoff, res *Result, o *options, log *zap.Logger) {
	h := <-ch
	defer res.cancel()
	metrics.InflightWriters.Inc()
	defer metrics.InflightWriters.Dec()

	status, cause := drain(ctx, h, o, log)
	finalize(res, h.w, h.src, status, cause, o, log)
}

func drain(ctx context.Context, h handoff, o *options, log *zap.Logger) (status Status, cause error) {
	defer func() {
		if r := recover(); r != nil {
			status = StatusPartial
			cause = errors.Newf(errors.ErrorTypeWorker, "background worker panic: %v", r)
		}
	}()

	row := h.pending
	for {
		if err := appendRow(h.w, row, log); err != nil {
			return StatusPartial, err
		}
		metrics.RowsWritten.WithLabelValues(metrics.PhaseBackground).Inc()
		if h.w.Rows()%o.flushEvery == 0 {
			if err := h.w.Flush(); err != nil {
				return StatusPartial, err
			}
		}
		if err := ctx.Err(); err != nil {
			return StatusPartial, errors.Wrap(err, errors.ErrorTypeWorker, "background worker cancelled")
		}
		var err error
		row, err = h.src.Next(ctx)
		if err == io.EOF {
			return StatusCompleted, nil
		}
		if err != nil {
			if ctx.Err() != nil {
				return StatusPartial, errors.Wrap(err, errors.ErrorTypeWorker, "background worker cancelled")
			}
			return StatusPartial, producerError(err, h.w.Rows())
		}
	}
}

// finalize releases the producer, writes the terminal status and records the
// outcome on res. It closes res.done.
func finalize(res *Result, w *Writer, src Source, status Status, cause error, o *options, log *zap.Logger) {
	if err := src.Close(); err != nil {
		log.Warn("failed to close row source", zap.Error(err))
	}
	written := status
	if !w.closed() {
		var err error
		written, err = w.Finish(status)
		if err != nil {
			log.Error("failed to finalize table file", zap.Error(err))
			if cause == nil {
				cause = err
			}
		}
	}
	res.outcome = WorkerResult{Rows: w.Rows(), Status: written, Err: cause}
	metrics.WorkerResults.WithLabelValues(string(written)).Inc()

	fields := []zap.Field{zap.Int("rows", w.Rows()), zap.String("status", string(written))}
	if cause != nil {
		log.Warn("table finalized early", append(fields, zap.Error(cause))...)
	} else {
		log.Info("table finalized", fields...)
	}
	o.notify(res.Path, w.Rows(), written)
	close(res.done)
}

// String implements fmt.Stringer.
func (r WorkerResult) String() string {
	if r.Err != nil {
		return fmt.Sprintf("%s (%d rows): %v", r.Status, r.Rows, r.Err)
	}
	return fmt.Sprintf("%s (%d rows)", r.Status, r.Rows)
}
