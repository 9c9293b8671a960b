// Package reindex copies documents matching a condition from one index to
// another with a scroll cursor and bulk writes, optionally deleting the
// copied documents from the source afterwards.
package reindex

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/leonunix/esquery/internal/command"
	"github.com/leonunix/esquery/internal/condition"
	"github.com/leonunix/esquery/internal/config"
	"github.com/leonunix/esquery/internal/cursor"
	"github.com/leonunix/esquery/internal/query"
	"github.com/leonunix/esquery/internal/util"
)

// Job describes one reindex run.
type Job struct {
	Name string
	// Source selects the documents to copy. Its Limit is replaced by
	// BatchSize.
	Source      *query.Query
	TargetIndex string
	BatchSize   int
	// DeleteAfter removes the copied documents from the source once every
	// document was copied. Deletes are scoped by the source condition and
	// the copied ids, so documents indexed after the copy started are kept.
	DeleteAfter bool
}

// Result summarizes a job run.
type Result struct {
	Job       string
	Skipped   bool // lock held by another instance
	Pages     int
	Copied    int64
	Failed    int64
	Deleted   int64
	StartedAt time.Time
}

// Reindexer runs reindex jobs against one cluster.
type Reindexer struct {
	cmd     *command.Command
	window  string
	lock    Lock
	lockTTL time.Duration
	metrics MetricsRecorder
}

// Option configures optional Reindexer behavior.
type Option func(*Reindexer)

// WithLock enables distributed locking so only one instance runs a job at a
// time.
func WithLock(lock Lock) Option {
	return func(r *Reindexer) {
		r.lock = lock
	}
}

// WithLockTTL sets the TTL for job locks. Defaults to 1 hour.
func WithLockTTL(ttl time.Duration) Option {
	return func(r *Reindexer) {
		r.lockTTL = ttl
	}
}

// WithMetrics records a metric document after each run.
func WithMetrics(m MetricsRecorder) Option {
	return func(r *Reindexer) {
		r.metrics = m
	}
}

// WithScrollWindow sets the scroll keep-alive used while reading the source.
func WithScrollWindow(window string) Option {
	return func(r *Reindexer) {
		r.window = window
	}
}

func New(cmd *command.Command, opts ...Option) *Reindexer {
	r := &Reindexer{
		cmd:     cmd,
		window:  cursor.DefaultWindow,
		lockTTL: time.Hour,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// JobsFromConfig converts configured jobs, parsing their conditions.
func JobsFromConfig(cfgs []config.JobConfig) ([]Job, error) {
	jobs := make([]Job, 0, len(cfgs))
	for _, jc := range cfgs {
		cond, err := jc.Condition()
		if err != nil {
			return nil, fmt.Errorf("job %s: %w", jc.Name, err)
		}
		jobs = append(jobs, Job{
			Name:        jc.Name,
			Source:      query.New(jc.SourceIndex...).Filter(cond),
			TargetIndex: jc.TargetIndex,
			BatchSize:   jc.BatchSize,
			DeleteAfter: jc.DeleteAfter,
		})
	}
	return jobs, nil
}

// RunAll runs every job whose name matches one of patterns (all jobs when
// patterns is empty). A failing job is logged and the remaining jobs still
// run; the returned error joins all failures.
func (r *Reindexer) RunAll(ctx context.Context, jobs []Job, patterns []string) error {
	var errs []error
	for _, job := range jobs {
		if !util.MatchAny(patterns, job.Name) {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := r.Run(ctx, job); err != nil {
			slog.Error("reindex job failed", "job", job.Name, "error", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Run copies the job's source documents into the target index, preserving
// their ids.
func (r *Reindexer) Run(ctx context.Context, job Job) (*Result, error) {
	res := &Result{Job: job.Name, StartedAt: time.Now()}

	if r.lock != nil {
		key := "reindex-" + job.Name
		acquired, err := r.lock.Acquire(ctx, key, r.lockTTL)
		if err != nil {
			return nil, fmt.Errorf("acquiring lock for job %s: %w", job.Name, err)
		}
		if !acquired {
			slog.Info("skipping job, lock held by another instance", "job", job.Name)
			res.Skipped = true
			return res, nil
		}
		defer func() {
			// release even when ctx was canceled mid-run
			if err := r.lock.Release(context.WithoutCancel(ctx), key); err != nil {
				slog.Warn("failed to release reindex lock", "job", job.Name, "error", err)
			}
		}()
	}

	err := r.run(ctx, job, res)
	if r.metrics != nil {
		if mErr := r.metrics.Record(context.WithoutCancel(ctx), newRunMetric(job, res, err)); mErr != nil {
			slog.Warn("failed to record reindex metric", "job", job.Name, "error", mErr)
		}
	}
	if err != nil {
		return res, fmt.Errorf("job %s: %w", job.Name, err)
	}
	return res, nil
}

func (r *Reindexer) run(ctx context.Context, job Job, res *Result) error {
	if job.Source == nil || len(job.Source.Index) == 0 {
		return errors.New("source index is required")
	}
	if job.TargetIndex == "" {
		return errors.New("target index is required")
	}

	if job.DeleteAfter {
		if err := r.checkDeletable(job); err != nil {
			return err
		}
	}

	q := job.Source.Clone()
	if job.BatchSize > 0 {
		q.Limit = job.BatchSize
	}

	slog.Info("starting reindex",
		"job", job.Name,
		"source", q.Index,
		"target", job.TargetIndex,
		"batch_size", q.Limit,
		"delete_after", job.DeleteAfter,
	)

	cur := cursor.New(r.cmd, r.cmd.Builder(), q, cursor.WithWindow(r.window))
	defer func() {
		if err := cur.Close(context.WithoutCancel(ctx)); err != nil {
			slog.Warn("failed to clear scroll", "job", job.Name, "error", err)
		}
	}()

	var copied []string
	for cur.Next(ctx) {
		page := cur.Page()
		bulk := r.cmd.NewBulk(job.TargetIndex, "")
		for _, hit := range page {
			bulk.AddIndex("", hit.ID, hit.Source)
		}
		result, err := bulk.Execute(ctx)
		if err != nil {
			return fmt.Errorf("writing page %d: %w", res.Pages+1, err)
		}
		failed := int64(result.Failed())
		res.Pages++
		res.Failed += failed
		res.Copied += int64(len(page)) - failed
		if job.DeleteAfter {
			copied = appendCopied(copied, page, result)
		}
		slog.Debug("reindex page written", "job", job.Name, "page", res.Pages, "docs", len(page), "failed", failed)
	}
	if err := cur.Err(); err != nil {
		return fmt.Errorf("reading source: %w", err)
	}

	if job.DeleteAfter {
		switch {
		case res.Failed > 0:
			slog.Warn("keeping source documents, some copies failed", "job", job.Name, "failed", res.Failed)
		case len(copied) > 0:
			if err := r.deleteSource(ctx, job, copied, q.Limit, res); err != nil {
				return err
			}
		}
	}

	elapsed := time.Since(res.StartedAt)
	slog.Info("reindex completed",
		"job", job.Name,
		"copied", res.Copied,
		"failed", res.Failed,
		"deleted", res.Deleted,
		"elapsed", elapsed.Round(time.Second).String(),
	)
	return nil
}

// checkDeletable rejects delete-after jobs without a condition.
func (r *Reindexer) checkDeletable(job Job) error {
	req, err := r.cmd.Builder().Build(job.Source)
	if err != nil {
		return err
	}
	if req.Parts["query"] == nil {
		return fmt.Errorf("delete_after: %w", command.ErrMissingQuery)
	}
	return nil
}

// appendCopied adds the ids of page hits whose bulk item succeeded.
func appendCopied(ids []string, page []command.Hit, result *command.BulkResult) []string {
	failed := make(map[string]bool)
	for _, item := range result.FailedItems() {
		failed[item.ID] = true
	}
	for _, hit := range page {
		if !failed[hit.ID] {
			ids = append(ids, hit.ID)
		}
	}
	return ids
}

// deleteSource deletes the copied ids in chunks of size, each restricted by
// the source condition.
func (r *Reindexer) deleteSource(ctx context.Context, job Job, ids []string, size int, res *Result) error {
	slog.Info("deleting copied documents from source", "job", job.Name, "count", len(ids))
	for chunk := range slices.Chunk(ids, max(size, 1)) {
		values := make([]any, len(chunk))
		for i, id := range chunk {
			values[i] = id
		}
		q := job.Source.Clone().AndWhere(condition.In(condition.IDField, values...))
		req, err := r.cmd.Builder().Build(q)
		if err != nil {
			return err
		}
		deleted, err := r.cmd.DeleteByQuery(ctx, req)
		if err != nil {
			return fmt.Errorf("deleting copied documents: %w", err)
		}
		res.Deleted += deleted.Deleted
	}
	return nil
}
