// Package export streams the documents matching a query to a writer as
// newline-delimited JSON or CSV.
package export

import (
	"bufio"
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strconv"

	"golang.org/x/sync/errgroup"
	"gopkg.in/cheggaaa/pb.v2"

	"github.com/leonunix/esquery/internal/command"
	"github.com/leonunix/esquery/internal/condition"
	"github.com/leonunix/esquery/internal/cursor"
	"github.com/leonunix/esquery/internal/query"
)

const (
	FormatJSON = "json" // one _source per line
	FormatRAW  = "raw"  // one full hit per line
	FormatCSV  = "csv"
)

type Options struct {
	Index     []string
	Where     condition.Condition
	Fields    []string
	Format    string
	BatchSize int
	Window    string
	// Progress shows a progress bar on stderr sized by a count request.
	Progress bool
}

// Run writes every matching document to w and returns how many were written.
// The cursor is read by one goroutine and the output written by another.
func Run(ctx context.Context, cmd *command.Command, opts Options, w io.Writer) (int64, error) {
	if opts.Format == "" {
		opts.Format = FormatJSON
	}
	if opts.Format == FormatCSV && len(opts.Fields) == 0 {
		return 0, fmt.Errorf("csv output requires a field list")
	}
	switch opts.Format {
	case FormatJSON, FormatRAW, FormatCSV:
	default:
		return 0, fmt.Errorf("unknown output format %q", opts.Format)
	}

	q := query.New(opts.Index...).Filter(opts.Where)
	if opts.BatchSize > 0 {
		q.Limit = opts.BatchSize
	}
	if len(opts.Fields) > 0 {
		q.Source = opts.Fields
	}

	var bar *pb.ProgressBar
	if opts.Progress {
		total, err := cmd.Count(ctx, q)
		if err != nil {
			return 0, fmt.Errorf("counting documents: %w", err)
		}
		bar = pb.StartNew(int(total))
		defer bar.Finish()
	}

	curOpts := []cursor.Option{cursor.Each()}
	if opts.Window != "" {
		curOpts = append(curOpts, cursor.WithWindow(opts.Window))
	}
	cur := cursor.New(cmd, cmd.Builder(), q, curOpts...)

	g, ctx := errgroup.WithContext(ctx)
	hits := make(chan command.Hit, max(q.Limit, 1))

	g.Go(func() error {
		defer close(hits)
		defer func() {
			if err := cur.Close(context.WithoutCancel(ctx)); err != nil {
				slog.Warn("failed to clear scroll", "error", err)
			}
		}()
		for cur.Next(ctx) {
			select {
			case hits <- cur.Hit():
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		return cur.Err()
	})

	var written int64
	g.Go(func() error {
		out := newWriter(w, opts)
		if err := out.header(); err != nil {
			return err
		}
		for hit := range hits {
			if err := out.write(hit); err != nil {
				return err
			}
			written++
			if bar != nil {
				bar.Increment()
			}
		}
		return out.flush()
	})

	if err := g.Wait(); err != nil {
		return written, err
	}
	slog.Debug("export finished", "index", opts.Index, "documents", written)
	return written, nil
}

type writer struct {
	opts    Options
	buf     *bufio.Writer
	csv     *csv.Writer
	compact bytes.Buffer
}

func newWriter(w io.Writer, opts Options) *writer {
	out := &writer{opts: opts, buf: bufio.NewWriter(w)}
	if opts.Format == FormatCSV {
		out.csv = csv.NewWriter(out.buf)
	}
	return out
}

func (w *writer) header() error {
	if w.csv == nil {
		return nil
	}
	return w.csv.Write(w.opts.Fields)
}

func (w *writer) write(hit command.Hit) error {
	switch w.opts.Format {
	case FormatRAW:
		line, err := json.Marshal(hit)
		if err != nil {
			return fmt.Errorf("encoding hit %s: %w", hit.ID, err)
		}
		return w.line(line)
	case FormatCSV:
		row, err := w.record(hit)
		if err != nil {
			return err
		}
		return w.csv.Write(row)
	default:
		if len(hit.Source) == 0 {
			return fmt.Errorf("hit %s has no _source", hit.ID)
		}
		w.compact.Reset()
		if err := json.Compact(&w.compact, hit.Source); err != nil {
			return fmt.Errorf("decoding _source of %s: %w", hit.ID, err)
		}
		return w.line(w.compact.Bytes())
	}
}

func (w *writer) line(b []byte) error {
	if _, err := w.buf.Write(b); err != nil {
		return err
	}
	return w.buf.WriteByte('\n')
}

// record returns one CSV row. Missing fields and nulls are empty cells;
// objects and arrays are written as JSON.
func (w *writer) record(hit command.Hit) ([]string, error) {
	var src map[string]any
	if len(hit.Source) > 0 {
		if err := json.Unmarshal(hit.Source, &src); err != nil {
			return nil, fmt.Errorf("decoding _source of %s: %w", hit.ID, err)
		}
	}
	row := make([]string, len(w.opts.Fields))
	for i, field := range w.opts.Fields {
		v, ok := src[field]
		if !ok {
			v, ok = hit.Value(field)
		}
		if !ok || v == nil {
			continue
		}
		row[i] = cell(v)
	}
	return row, nil
}

func cell(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(b)
}

func (w *writer) flush() error {
	if w.csv != nil {
		w.csv.Flush()
		if err := w.csv.Error(); err != nil {
			return err
		}
	}
	return w.buf.Flush()
}
