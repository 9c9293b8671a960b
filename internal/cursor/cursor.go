// Package cursor iterates large result sets through a server-side scroll
// context.
//
// A Cursor owns at most one scroll id at a time and releases it when the
// result set is exhausted, on Rewind and on Close. Callers must defer Close:
//
//	cur := cursor.New(cmd, cmd.Builder(), q, cursor.Each())
//	defer cur.Close(ctx)
//	for cur.Next(ctx) {
//		handle(cur.Key(), cur.Hit())
//	}
//	if err := cur.Err(); err != nil { ... }
package cursor

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"strconv"

	"github.com/leonunix/esquery/internal/command"
	"github.com/leonunix/esquery/internal/query"
)

// DefaultWindow is how long the engine keeps a scroll context alive between
// two pages.
const DefaultWindow = "1m"

// Searcher is the part of *command.Command a Cursor needs.
type Searcher interface {
	Search(ctx context.Context, req *query.Request, opts ...map[string]string) (*command.SearchResult, error)
	Scroll(ctx context.Context, scrollID, window string) (*command.SearchResult, error)
	ClearScroll(ctx context.Context, scrollIDs ...string) error
}

var _ Searcher = (*command.Command)(nil)

type state int

const (
	idle state = iota
	opened
	exhausted
	closed
)

func (s state) String() string {
	switch s {
	case idle:
		return "idle"
	case opened:
		return "opened"
	case exhausted:
		return "exhausted"
	default:
		return "closed"
	}
}

// Option configures a Cursor.
type Option func(*Cursor)

// WithWindow sets the scroll window, e.g. "5m".
func WithWindow(window string) Option {
	return func(c *Cursor) {
		if window != "" {
			c.window = window
		}
	}
}

// Each switches the cursor to record mode: Next advances one hit at a time.
func Each() Option {
	return func(c *Cursor) { c.each = true }
}

// IndexByField keys records by the value of field.
func IndexByField(field string) Option {
	return func(c *Cursor) { c.indexBy = fieldKey(field) }
}

// IndexByFunc keys records by fn.
func IndexByFunc(fn func(command.Hit) string) Option {
	return func(c *Cursor) { c.indexBy = fn }
}

func fieldKey(field string) func(command.Hit) string {
	return func(h command.Hit) string {
		v, ok := h.Value(field)
		if !ok || v == nil {
			return ""
		}
		return fmt.Sprint(v)
	}
}

// Cursor walks the results of a query page by page, or hit by hit in record
// mode. It is not safe for concurrent use.
type Cursor struct {
	searcher Searcher
	builder  *query.Builder
	query    *query.Query
	window   string
	each     bool
	indexBy  func(command.Hit) string

	state    state
	scrollID string
	total    int64
	page     []command.Hit
	pos      int
	pages    int
	records  int
	hit      command.Hit
	key      string
	err      error
}

// New returns an idle cursor over q. q is cloned when the first page is
// requested and is not modified.
func New(s Searcher, b *query.Builder, q *query.Query, opts ...Option) *Cursor {
	c := &Cursor{
		searcher: s,
		builder:  b,
		query:    q,
		window:   DefaultWindow,
	}
	if q.IndexBy != "" {
		c.indexBy = fieldKey(q.IndexBy)
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Next advances to the next page, or the next hit in record mode. It returns
// false when the results are exhausted, the cursor is closed or an error
// occurred; check Err afterwards.
func (c *Cursor) Next(ctx context.Context) bool {
	if c.err != nil || c.state == exhausted || c.state == closed {
		return false
	}

	if !c.each {
		if !c.fetch(ctx) {
			return false
		}
		c.key = strconv.Itoa(c.pages)
		c.pages++
		return true
	}

	for c.pos >= len(c.page) {
		if !c.fetch(ctx) {
			return false
		}
	}
	c.hit = c.page[c.pos]
	c.pos++
	if c.indexBy != nil {
		c.key = c.indexBy(c.hit)
	} else {
		c.key = strconv.Itoa(c.records)
	}
	c.records++
	return true
}

// fetch loads the next page. It returns false on error or on the first empty
// page, after which the scroll context is released.
func (c *Cursor) fetch(ctx context.Context) bool {
	var (
		result *command.SearchResult
		err    error
	)
	if c.state == idle {
		result, err = c.open(ctx)
	} else {
		result, err = c.searcher.Scroll(ctx, c.scrollID, c.window)
		if err != nil {
			err = fmt.Errorf("fetching page %d: %w", c.pages+1, err)
		}
	}
	if err != nil {
		c.err = err
		return false
	}

	if result.ScrollID != "" {
		c.scrollID = result.ScrollID
	}
	c.page = result.Hits.Hits
	c.pos = 0

	if len(c.page) == 0 {
		c.state = exhausted
		slog.Debug("scroll exhausted", "pages", c.pages, "records", c.records)
		if err := c.release(ctx); err != nil {
			c.err = err
		}
		return false
	}
	return true
}

func (c *Cursor) open(ctx context.Context) (*command.SearchResult, error) {
	q := c.query.Clone()
	q.Offset = 0
	if len(q.OrderBy) == 0 {
		// insertion order lets the engine skip scoring and sorting
		q.OrderBy = []query.Sort{{Field: "_doc"}}
	}

	req, err := c.builder.Build(q)
	if err != nil {
		return nil, err
	}
	result, err := c.searcher.Search(ctx, req, map[string]string{"scroll": c.window})
	if err != nil {
		return nil, fmt.Errorf("opening scroll: %w", err)
	}
	c.state = opened
	c.total = result.Hits.Total.Value
	slog.Debug("scroll opened", "index", q.Index, "window", c.window, "total", c.total)
	return result, nil
}

func (c *Cursor) release(ctx context.Context) error {
	if c.scrollID == "" {
		return nil
	}
	id := c.scrollID
	c.scrollID = ""
	if err := c.searcher.ClearScroll(ctx, id); err != nil {
		return fmt.Errorf("releasing scroll: %w", err)
	}
	slog.Debug("scroll released")
	return nil
}

// Page returns the current page.
func (c *Cursor) Page() []command.Hit {
	return c.page
}

// Hit returns the current hit in record mode.
func (c *Cursor) Hit() command.Hit {
	return c.hit
}

// Key returns the current key: the page ordinal in page mode, and the
// index-by value or record ordinal in record mode.
func (c *Cursor) Key() string {
	return c.key
}

// Total returns the hit count reported by the initial search.
func (c *Cursor) Total() int64 {
	return c.total
}

// Err returns the first error encountered.
func (c *Cursor) Err() error {
	return c.err
}

// Rewind releases the current scroll context and resets the cursor so the
// next call to Next starts a fresh search.
func (c *Cursor) Rewind(ctx context.Context) error {
	if c.state == closed {
		return fmt.Errorf("rewinding cursor: cursor is closed")
	}
	slog.Debug("rewinding cursor", "state", c.state)
	err := c.release(ctx)
	c.state = idle
	c.page, c.pos = nil, 0
	c.pages, c.records = 0, 0
	c.hit, c.key = command.Hit{}, ""
	c.total = 0
	c.err = nil
	return err
}

// Close releases the scroll context if one is held. It is safe to call more
// than once.
func (c *Cursor) Close(ctx context.Context) error {
	if c.state == closed {
		return nil
	}
	c.state = closed
	c.page = nil
	return c.release(ctx)
}

// Pages returns a sequence of (ordinal, page) pairs. The cursor is closed
// when the loop ends, including on break.
func (c *Cursor) Pages(ctx context.Context) iter.Seq2[int, []command.Hit] {
	c.each = false
	return func(yield func(int, []command.Hit) bool) {
		defer c.closeQuietly(ctx)
		for c.Next(ctx) {
			if !yield(c.pages-1, c.page) {
				return
			}
		}
	}
}

// Records returns a sequence of (key, hit) pairs. The cursor is closed when
// the loop ends, including on break.
func (c *Cursor) Records(ctx context.Context) iter.Seq2[string, command.Hit] {
	c.each = true
	return func(yield func(string, command.Hit) bool) {
		defer c.closeQuietly(ctx)
		for c.Next(ctx) {
			if !yield(c.key, c.hit) {
				return
			}
		}
	}
}

func (c *Cursor) closeQuietly(ctx context.Context) {
	// release even when the loop ended because ctx was canceled
	if err := c.Close(context.WithoutCancel(ctx)); err != nil {
		if c.err == nil {
			c.err = err
		}
		slog.Warn("failed to release scroll", "error", err)
	}
}
