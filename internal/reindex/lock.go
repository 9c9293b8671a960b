package reindex

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/leonunix/esquery/internal/command"
)

// Lock provides distributed locking for reindex jobs. When several
// esquery-reindex instances share a cluster, a Lock keeps them from running
// the same job at the same time.
type Lock interface {
	// Acquire attempts to acquire a lock for the given key with the specified TTL.
	// Returns true if the lock was acquired, false if already held by another instance.
	Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error)

	// Release releases the lock for the given key.
	Release(ctx context.Context, key string) error
}

// DocumentLock implements Lock with documents in a cluster index.
// Acquisition is a create-only write, so a second writer gets 409; expired
// locks are deleted conditionally on their _seq_no and _primary_term.
type DocumentLock struct {
	cmd   *command.Command
	index string
	owner string
	now   func() time.Time
}

var _ Lock = (*DocumentLock)(nil)

// NewDocumentLock creates a lock stored in index.
func NewDocumentLock(cmd *command.Command, index string) *DocumentLock {
	hostname, _ := os.Hostname()
	return &DocumentLock{
		cmd:   cmd,
		index: index,
		owner: fmt.Sprintf("%s-%d", hostname, os.Getpid()),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// MissingIndexError reports that a bookkeeping index does not exist and the
// cluster refused to create it on write.
type MissingIndexError struct {
	Index string
}

func (e *MissingIndexError) Error() string {
	return fmt.Sprintf("index %s does not exist and auto_create_index is disabled", e.Index)
}

type lockDoc struct {
	Owner      string    `json:"owner"`
	AcquiredAt time.Time `json:"acquired_at"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// Acquire first removes an expired lock for key, then tries to create it.
func (l *DocumentLock) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	if err := l.cleanupExpired(ctx, key); err != nil {
		slog.Debug("lock cleanup failed (non-fatal)", "key", key, "error", err)
	}

	return l.tryCreate(ctx, key, ttl)
}

// Release deletes the lock document. A lock that is already gone is fine.
func (l *DocumentLock) Release(ctx context.Context, key string) error {
	if _, err := l.cmd.Delete(ctx, l.index, "", key, command.WriteOptions{Refresh: "true"}); err != nil {
		return fmt.Errorf("releasing lock %s: %w", key, err)
	}
	return nil
}

func (l *DocumentLock) tryCreate(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	now := l.now()
	doc := lockDoc{Owner: l.owner, AcquiredAt: now, ExpiresAt: now.Add(ttl)}

	res, err := l.cmd.Insert(ctx, l.index, "", key, doc, command.WriteOptions{OpType: "create", Refresh: "true"})
	var stale *command.StaleResourceError
	switch {
	case errors.As(err, &stale):
		return false, nil
	case err != nil:
		return false, fmt.Errorf("acquiring lock %s: %w", key, err)
	case !res.Found:
		// auto_create_index is disabled and nobody created the index
		return false, fmt.Errorf("acquiring lock %s: %w", key, &MissingIndexError{Index: l.index})
	}
	return true, nil
}

func (l *DocumentLock) cleanupExpired(ctx context.Context, key string) error {
	doc, err := l.cmd.Get(ctx, l.index, "", key, nil)
	if err != nil {
		return err
	}
	if !doc.Found {
		return nil
	}

	var held lockDoc
	if err := decodeSource(doc.Source, &held); err != nil {
		return err
	}
	if !l.now().After(held.ExpiresAt) {
		return nil
	}

	slog.Info("cleaning up expired reindex lock",
		"key", key,
		"owner", held.Owner,
		"expired_at", held.ExpiresAt,
	)
	seqNo, term := doc.SeqNo, doc.PrimaryTerm
	_, err = l.cmd.Delete(ctx, l.index, "", key, command.WriteOptions{
		IfSeqNo:       &seqNo,
		IfPrimaryTerm: &term,
		Refresh:       "true",
	})
	var stale *command.StaleResourceError
	if errors.As(err, &stale) {
		// another instance cleaned it up or re-acquired it first
		return nil
	}
	return err
}
