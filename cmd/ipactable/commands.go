package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	ipaerrors "github.com/ajitpratap0/ipactable/pkg/errors"
	"github.com/ajitpratap0/ipactable/pkg/export"
	"github.com/ajitpratap0/ipactable/pkg/source"
	"github.com/ajitpratap0/ipactable/pkg/table"
)

func (a *app) sourcesCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "sources",
		Short: "List available row sources",
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, name := range source.List() {
				fmt.Fprintf(a.out, "  - %s\n", name)
			}
			return nil
		},
	}
}

func (a *app) searchCommand() *cobra.Command {
	var (
		name      string
		cfg       source.Config
		delimiter string
		queryArgs []string
		attrs     []string
	)
	cmd := &cobra.Command{
		Use:   "search <output>",
		Short: "Write the rows of a source to a table file",
		Long: `Write the rows of a source to a table file. The command reports the file once
the prefetch rows are on disk and then waits for the background writer.

Examples:
  ipactable search objects.tbl --source csv --path objects.csv
  ipactable search stars.tbl --source postgres --dsn "$PG_DSN" --query "select * from stars"
  ipactable search events.tbl --source mongodb --dsn mongodb://localhost --database sky --collection events`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if delimiter != "" {
				r, _ := utf8.DecodeRuneInString(delimiter)
				cfg.Delimiter = r
			}
			for _, arg := range queryArgs {
				cfg.Args = append(cfg.Args, arg)
			}
			ctx := cmd.Context()
			src, err := source.Create(ctx, name, cfg)
			if err != nil {
				return err
			}

			var def *table.TableDef
			if len(attrs) > 0 {
				parsed, err := parseAttributes(attrs)
				if err != nil {
					_ = src.Close()
					return err
				}
				if def, err = table.NewTableDef(src.Columns(), parsed...); err != nil {
					_ = src.Close()
					return err
				}
			}

			res, err := a.svc.Search(ctx, args[0], def, src)
			if err != nil {
				return err
			}
			return a.report(cmd, res)
		},
	}
	f := cmd.Flags()
	f.StringVarP(&name, "source", "s", "csv", "Row source ("+strings.Join(source.List(), ", ")+")")
	f.StringVar(&cfg.Path, "path", "", "Input file for csv and jsonl sources")
	f.StringVar(&delimiter, "delimiter", "", "CSV field delimiter")
	f.IntVar(&cfg.SampleRows, "sample-rows", 0, "Rows sampled to infer column types")
	f.StringVar(&cfg.Driver, "driver", "", "database/sql driver for the sql source (mysql or pgx)")
	f.StringVar(&cfg.DSN, "dsn", "", "Database connection string")
	f.StringVar(&cfg.Query, "query", "", "SQL query")
	f.StringArrayVar(&queryArgs, "arg", nil, "Query argument (repeatable)")
	f.StringVar(&cfg.Database, "database", "", "MongoDB database")
	f.StringVar(&cfg.Collection, "collection", "", "MongoDB collection")
	f.StringVar(&cfg.Filter, "filter", "", "MongoDB filter in extended JSON")
	f.StringArrayVar(&attrs, "attr", nil, `Table attribute "key=value" (repeatable)`)
	return cmd
}

// parseAttributes turns "key=value" pairs into header attributes.
func parseAttributes(pairs []string) ([]table.Attribute, error) {
	out := make([]table.Attribute, 0, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		k = strings.TrimSpace(k)
		if !ok || k == "" {
			return nil, ipaerrors.Newf(ipaerrors.ErrorTypeValidation, "invalid attribute %q, want key=value", p)
		}
		out = append(out, table.Attribute{Key: k, Value: strings.TrimSpace(v)})
	}
	return out, nil
}

func (a *app) filterCommand() *cobra.Command {
	var conditions, columns []string
	cmd := &cobra.Command{
		Use:   "filter <source> <output>",
		Short: "Copy the rows of a table that match every condition",
		Long: `Copy the rows of a table that match every condition into a new table. The
output carries a ROW_IDX column holding each row's index in the source.

Example:
  ipactable filter objects.tbl bright.tbl --where "mag < 12" --where "name LIKE m%" --columns ra,dec,mag`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := a.svc.Filter(cmd.Context(), args[0], args[1], conditions, columns)
			if err != nil {
				return err
			}
			return a.report(cmd, res)
		},
	}
	cmd.Flags().StringArrayVarP(&conditions, "where", "w", nil, "Condition such as \"ra > 10\" (repeatable)")
	cmd.Flags().StringSliceVar(&columns, "columns", nil, "Columns to keep")
	return cmd
}

type started struct {
	Path     string `json:"path"`
	SyncRows int    `json:"sync_rows"`
	Handoff  bool   `json:"handoff"`
}

type finished struct {
	Path   string       `json:"path"`
	Status table.Status `json:"status"`
	Rows   int          `json:"rows"`
	Error  string       `json:"error,omitempty"`
}

// report prints the synchronous result, then waits for the background writer.
func (a *app) report(cmd *cobra.Command, res *table.Result) error {
	if err := a.print(started{Path: res.Path, SyncRows: res.SyncRows, Handoff: res.Handoff}); err != nil {
		return err
	}
	out, err := res.Wait(cmd.Context())
	if err != nil {
		return err
	}
	f := finished{Path: res.Path, Status: out.Status, Rows: out.Rows}
	if out.Err != nil {
		f.Error = out.Err.Error()
		a.log.Warn("table finished with errors", zap.String("path", res.Path), zap.Error(out.Err))
	}
	return a.print(f)
}

type columnView struct {
	Name       string `json:"name"`
	Type       string `json:"type"`
	Width      int    `json:"width"`
	Unit       string `json:"unit,omitempty"`
	NullString string `json:"null,omitempty"`
	Desc       string `json:"desc,omitempty"`
}

type metaView struct {
	Path       string            `json:"path"`
	Status     table.Status      `json:"status"`
	Rows       *int              `json:"rows"`
	LineWidth  int               `json:"line_width"`
	Columns    []columnView      `json:"columns"`
	Attributes map[string]string `json:"attributes,omitempty"`
	Comments   []string          `json:"comments,omitempty"`
}

func (a *app) metaCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "meta <table>",
		Short: "Show the columns, attributes and row count of a table",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			def, err := a.svc.GetMetaInfo(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			view := metaView{
				Path:      def.Source,
				Status:    def.Status(),
				LineWidth: def.LineWidth,
			}
			if def.Known() {
				rows := def.RowCount
				view.Rows = &rows
			}
			for _, c := range def.Columns {
				view.Columns = append(view.Columns, columnView{
					Name: c.Name, Type: string(c.Type), Width: c.Width,
					Unit: c.Unit, NullString: c.NullString, Desc: c.Desc,
				})
			}
			for _, attr := range def.Attributes {
				if attr.Comment {
					view.Comments = append(view.Comments, attr.Value)
					continue
				}
				if view.Attributes == nil {
					view.Attributes = make(map[string]string)
				}
				view.Attributes[attr.Key] = attr.Value
			}
			return a.print(view)
		},
	}
}

func (a *app) statusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status <table>",
		Short: "Print the load status of a table",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := a.svc.GetStatus(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(a.out, st)
			return nil
		},
	}
}

func (a *app) waitCommand() *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "wait <table>",
		Short: "Wait until a table is COMPLETED or PARTIAL",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := a.svc.WaitForStatus(cmd.Context(), args[0], timeout)
			if st != "" {
				fmt.Fprintln(a.out, st)
			}
			return err
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "Give up after this long (default from reader.wait_timeout)")
	return cmd
}

type rowView struct {
	Row    int            `json:"row"`
	Values map[string]any `json:"values"`
}

func (a *app) rangeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "range <table> <start> <count>",
		Short: "Print count rows starting at row start",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			start, err := strconv.Atoi(args[1])
			if err != nil {
				return ipaerrors.Wrap(err, ipaerrors.ErrorTypeValidation, "invalid start row")
			}
			count, err := strconv.Atoi(args[2])
			if err != nil {
				return ipaerrors.Wrap(err, ipaerrors.ErrorTypeValidation, "invalid row count")
			}
			rows, err := a.svc.GetRange(cmd.Context(), args[0], start, count)
			if err != nil {
				return err
			}
			views := make([]rowView, len(rows))
			for i, r := range rows {
				views[i] = rowView{Row: r.Index, Values: r.Map()}
			}
			return a.print(views)
		},
	}
}

type cellsView struct {
	Values  map[int]map[string]any `json:"values"`
	Pending []int                  `json:"pending,omitempty"`
	Decoded int                    `json:"decoded"`
}

func (a *app) cellsCommand() *cobra.Command {
	var rows []int
	var columns []string
	cmd := &cobra.Command{
		Use:     "cells <table>",
		Short:   "Print selected cells of a table",
		Example: `  ipactable cells objects.tbl --rows 3,170,9000 --columns ra,dec`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cells, err := a.svc.GetCells(cmd.Context(), args[0], rows, columns)
			if err != nil {
				return err
			}
			return a.print(cellsView{Values: cells.Values, Pending: cells.Pending, Decoded: cells.Decoded})
		},
	}
	cmd.Flags().IntSliceVar(&rows, "rows", nil, "Row indices")
	cmd.Flags().StringSliceVar(&columns, "columns", nil, "Column names")
	_ = cmd.MarkFlagRequired("rows")
	_ = cmd.MarkFlagRequired("columns")
	return cmd
}

func (a *app) exportCommand() *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "export <table>",
		Short: "Write a compressed copy of a finished table",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			art, err := a.svc.Export(cmd.Context(), args[0], output)
			if err != nil {
				return err
			}
			return a.print(art)
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "Output path (default: table path plus extension)")
	cmd.Flags().String("algorithm", "", "Compression algorithm ("+joinAlgorithms()+")")
	cmd.Flags().Int("level", 0, "Compression level 1-9")
	return cmd
}

func joinAlgorithms() string {
	names := make([]string, 0, len(export.Algorithms()))
	for _, alg := range export.Algorithms() {
		names = append(names, string(alg))
	}
	return strings.Join(names, ", ")
}

func (a *app) publishCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "publish <file>",
		Short: "Upload a table or export to the configured S3 and GCS buckets",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pubs, err := a.svc.Publish(cmd.Context(), args[0])
			if perr := a.print(pubs); perr != nil && err == nil {
				err = perr
			}
			return err
		},
	}
}
