package reindex

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/leonunix/esquery/internal/command"
)

// RunMetric records the outcome of a single reindex job run.
type RunMetric struct {
	Timestamp   time.Time `json:"@timestamp"`
	Job         string    `json:"job"`
	Source      []string  `json:"source_index"`
	Target      string    `json:"target_index"`
	StartedAt   time.Time `json:"started_at"`
	CompletedAt time.Time `json:"completed_at"`
	DurationSec float64   `json:"duration_sec"`
	Copied      int64     `json:"documents_copied"`
	Failed      int64     `json:"documents_failed"`
	Deleted     int64     `json:"documents_deleted"`
	DocsPerSec  float64   `json:"docs_per_sec"`
	BatchSize   int       `json:"batch_size"`
	Status      string    `json:"status"` // "success" or "failed"
	Error       string    `json:"error,omitempty"`
}

// MetricsRecorder persists run metrics for later analysis.
type MetricsRecorder interface {
	Record(ctx context.Context, metric *RunMetric) error
}

func newRunMetric(job Job, res *Result, err error) *RunMetric {
	now := time.Now().UTC()
	elapsed := now.Sub(res.StartedAt)
	var rate float64
	if elapsed.Seconds() > 0 {
		rate = float64(res.Copied) / elapsed.Seconds()
	}
	m := &RunMetric{
		Timestamp:   now,
		Job:         job.Name,
		Source:      job.Source.Index,
		Target:      job.TargetIndex,
		StartedAt:   res.StartedAt.UTC(),
		CompletedAt: now,
		DurationSec: elapsed.Seconds(),
		Copied:      res.Copied,
		Failed:      res.Failed,
		Deleted:     res.Deleted,
		DocsPerSec:  rate,
		BatchSize:   job.BatchSize,
		Status:      "success",
	}
	if err != nil {
		m.Status = "failed"
		m.Error = err.Error()
	}
	return m
}

// DocumentMetrics writes run metrics as documents into a cluster index.
type DocumentMetrics struct {
	cmd   *command.Command
	index string
}

var _ MetricsRecorder = (*DocumentMetrics)(nil)

func NewDocumentMetrics(cmd *command.Command, index string) *DocumentMetrics {
	return &DocumentMetrics{cmd: cmd, index: index}
}

// Record stores the metric under a deterministic id so retries overwrite
// instead of duplicating.
func (s *DocumentMetrics) Record(ctx context.Context, metric *RunMetric) error {
	res, err := s.cmd.Insert(ctx, s.index, "", metricDocID(metric), metric, command.WriteOptions{})
	if err != nil {
		return fmt.Errorf("recording metric: %w", err)
	}
	if !res.Found {
		return fmt.Errorf("recording metric: %w", &MissingIndexError{Index: s.index})
	}
	return nil
}

func metricDocID(m *RunMetric) string {
	return fmt.Sprintf("metric-%s-%d", m.Job, m.StartedAt.Unix())
}

func decodeSource(src json.RawMessage, v any) error {
	if len(src) == 0 {
		return fmt.Errorf("document has no _source")
	}
	if err := json.Unmarshal(src, v); err != nil {
		return fmt.Errorf("decoding _source: %w", err)
	}
	return nil
}
