// Package ipactable reads and writes IPAC ASCII fixed-width table files while
// they are still being produced.
//
// A table file starts with a status line that tells readers whether the file
// is complete:
//
//	\STATUS = IN_PROGRESS
//	\fixlen = T
//	| id |   ra     |  dec     | name       |
//	| long| double  | double   | char       |
//	  1    10.25      -0.5       src1
//
// Writers stream rows from a producer. The first rows (the prefetch) are
// written synchronously, so a caller can hand the file to a client as soon as
// it exists; the remaining rows are appended by a background worker, which
// finally rewrites the status to COMPLETED or PARTIAL. Because every data
// line has the same width, readers compute byte offsets from the header and
// serve row ranges and sparse cells without scanning the file.
//
// # Packages
//
//   - pkg/table: table definitions, the row codec, the streaming writer,
//     the status protocol, the random-access reader and row filters
//   - pkg/source: row producers (CSV, JSON lines, MySQL, PostgreSQL, MongoDB,
//     other table files, slices and channels)
//   - pkg/export: compression of finished tables and publishing to S3 and GCS
//   - pkg/mmap, pkg/pool: memory-mapped reads and buffer reuse for readers
//   - internal/service: the path-resolving facade used by the command line tool
//   - cmd/ipactable: the command line tool
//
// # Quick Start
//
//	src, _ := source.Create(ctx, "csv", source.Config{Path: "objects.csv"})
//	res, err := table.Stream(ctx, "objects.tbl", nil, src)
//	if err != nil {
//		return err
//	}
//	// objects.tbl is readable now; res.Done() closes when it is final
//	r, err := table.OpenReader("objects.tbl")
//	if err != nil {
//		return err
//	}
//	defer r.Close()
//	rows, err := r.ReadRange(0, 50)
package ipactable
