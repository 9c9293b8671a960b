package reindex

import (
	"context"
	"encoding/json"
	"errors"
	"slices"
	"testing"
	"time"
)

func TestDocumentLock_AcquireAndRelease(t *testing.T) {
	cluster := newFakeCluster()
	lock := NewDocumentLock(newTestCommand(t, cluster), ".locks")
	ctx := context.Background()

	ok, err := lock.Acquire(ctx, "reindex-archive", time.Hour)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if !ok {
		t.Fatal("expected lock to be acquired")
	}

	var held lockDoc
	if err := json.Unmarshal(cluster.docs(".locks")["reindex-archive"].source, &held); err != nil {
		t.Fatalf("decoding lock doc: %v", err)
	}
	if held.Owner != lock.owner || !held.ExpiresAt.After(held.AcquiredAt) {
		t.Errorf("lock doc = %+v", held)
	}

	if err := lock.Release(ctx, "reindex-archive"); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if _, ok := cluster.docs(".locks")["reindex-archive"]; ok {
		t.Error("lock document still present after release")
	}

	// releasing again is fine
	if err := lock.Release(ctx, "reindex-archive"); err != nil {
		t.Fatalf("second Release: %v", err)
	}
}

func TestDocumentLock_AlreadyHeld(t *testing.T) {
	cluster := newFakeCluster()
	cmd := newTestCommand(t, cluster)
	first := NewDocumentLock(cmd, ".locks")
	second := NewDocumentLock(cmd, ".locks")
	second.owner = "other-host-999"
	ctx := context.Background()

	if ok, err := first.Acquire(ctx, "job", time.Hour); err != nil || !ok {
		t.Fatalf("first Acquire = %v, %v", ok, err)
	}
	ok, err := second.Acquire(ctx, "job", time.Hour)
	if err != nil {
		t.Fatalf("second Acquire: %v", err)
	}
	if ok {
		t.Fatal("expected lock NOT to be acquired (already held)")
	}
}

func TestDocumentLock_ExpiredLockCleanup(t *testing.T) {
	cluster := newFakeCluster()
	cmd := newTestCommand(t, cluster)
	ctx := context.Background()

	stale := NewDocumentLock(cmd, ".locks")
	stale.owner = "crashed-host-1"
	stale.now = func() time.Time { return time.Now().UTC().Add(-3 * time.Hour) }
	if ok, err := stale.Acquire(ctx, "job", time.Hour); err != nil || !ok {
		t.Fatalf("stale Acquire = %v, %v", ok, err)
	}

	fresh := NewDocumentLock(cmd, ".locks")
	ok, err := fresh.Acquire(ctx, "job", time.Hour)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if !ok {
		t.Fatal("expected expired lock to be replaced")
	}

	var held lockDoc
	json.Unmarshal(cluster.docs(".locks")["job"].source, &held)
	if held.Owner != fresh.owner {
		t.Errorf("lock owner = %q, want %q", held.Owner, fresh.owner)
	}

	if !slices.Contains(cluster.requestLog(), "DELETE /.locks/_doc/job") {
		t.Errorf("expected a delete of the expired lock, requests = %v", cluster.requestLog())
	}
}

func TestDocumentLock_MissingIndex(t *testing.T) {
	cluster := newFakeCluster()
	cluster.noAutoIndex = true
	lock := NewDocumentLock(newTestCommand(t, cluster), ".locks")

	ok, err := lock.Acquire(context.Background(), "job", time.Hour)
	var missing *MissingIndexError
	if !errors.As(err, &missing) || missing.Index != ".locks" {
		t.Fatalf("Acquire error = %v, want MissingIndexError", err)
	}
	if ok {
		t.Error("lock reported as acquired")
	}
}
