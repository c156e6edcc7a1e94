// Package table implements the IPAC fixed-width table file format and the
// streaming and random-access engine around it.
//
// A table file starts with attribute lines, column header lines and then one
// fixed-width line per row:
//
//	\STATUS = COMPLETED
//	\fixlen = T
//	|ra        |dec       |name |
//	|double    |double    |char |
//	       10.5      -3.25 m31
//
// The first line is always the status line. Its value field is padded so it
// can be rewritten in place while readers have the file open. Because every
// data line has the same width, row i lives at DataStart + i*LineWidth and a
// Reader can fetch any row range or a sparse set of cells without scanning.
//
// # Writing
//
// Stream writes rows from a Source up to a prefetch threshold. If the source
// has more rows, the open writer and the source move to a background worker
// through a channel and Stream returns with the file IN_PROGRESS:
//
//	res, err := table.Stream(ctx, "out.tbl", def, src, table.WithPrefetch(500))
//	if err != nil {
//	    return err
//	}
//	// out.tbl is readable now
//	final, _ := res.Wait(ctx)
//
// The file ends COMPLETED when the source is drained, or PARTIAL when the
// source fails or the worker is cancelled. Both are terminal.
//
// # Reading
//
//	r, err := table.OpenReader("out.tbl")
//	rows, err := r.ReadRange(100, 50)
//	cells, err := r.ReadCells([]int{7, 412, 50000}, []string{"ra", "dec"})
//
// A range beyond the visible end of an IN_PROGRESS file returns
// ErrNotYetAvailable so callers know to retry.
package table
