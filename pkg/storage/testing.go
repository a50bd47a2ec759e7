package storage

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/flowwatch/flowwatch/pkg/models"
	"github.com/flowwatch/flowwatch/pkg/present"
	"github.com/flowwatch/flowwatch/pkg/snapshot"
)

// StorageTestSuite defines a test suite that can be run against any Storage implementation.
type StorageTestSuite struct {
	NewStorage func(t *testing.T) Storage
}

// RunAllTests runs all storage tests against the provided storage implementation.
func (s *StorageTestSuite) RunAllTests(t *testing.T) {
	t.Run("SnapshotRoundTrip", s.TestSnapshotRoundTrip)
	t.Run("SnapshotOverwrite", s.TestSnapshotOverwrite)
	t.Run("SnapshotNotFound", s.TestSnapshotNotFound)
	t.Run("DeleteSnapshot", s.TestDeleteSnapshot)
	t.Run("ListUsers", s.TestListUsers)
	t.Run("InvalidInput", s.TestInvalidInput)
	t.Run("ReturnedCopyIsIsolated", s.TestReturnedCopyIsIsolated)
	t.Run("ConcurrentAccess", s.TestConcurrentAccess)
	t.Run("ClosedStorage", s.TestClosedStorage)
}

// SampleSnapshot builds a fully populated snapshot for userID.
func SampleSnapshot(userID string, token uint64) *snapshot.WorkflowSnapshot {
	at := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	agent := models.StageClassification
	end := at.Add(-time.Minute)

	snap := snapshot.Empty(userID)
	snap.Token = token
	snap.FetchedAt = at
	snap.Statistics = models.Statistics{Total: 3, Completed: 1, Processing: 1, Pending: 1}
	snap.ActiveWorkflows = []snapshot.WorkflowView{{
		Workflow: models.Workflow{
			WorkflowID:   "wf-1",
			Status:       models.WorkflowProcessing,
			CurrentAgent: &agent,
			Progress:     60,
			StartTime:    at.Add(-125 * time.Second),
		},
		Classification: present.Classify("processing"),
		Elapsed:        "2m 5s",
		StageIndex:     models.StageIndex(agent),
		StageCount:     models.StageCount(),
	}}
	snap.History = []snapshot.HistoryView{{
		ProcessingLogEntry: models.ProcessingLogEntry{
			ID: "h-1", Source: "statement.csv", Status: "completed", Timestamp: end, TransactionCount: 42,
		},
		Classification: present.Classify("completed"),
	}}
	snap.Communications = present.GroupCommunications([]models.Communication{
		{ID: "c-1", WorkflowID: "wf-1", Stage: models.StageIngestion, Agent: "ingestion", Status: "completed", Message: "parsed", Timestamp: at.Add(-2 * time.Minute)},
		{ID: "c-2", WorkflowID: "wf-1", Stage: models.StageClassification, Agent: "classification", Status: "processing", Message: "running", Timestamp: at.Add(-time.Minute)},
	})
	snap.Failures = snapshot.SourceFailures{History: true}
	return snap
}

// TestSnapshotRoundTrip tests that a saved snapshot is returned unchanged.
func (s *StorageTestSuite) TestSnapshotRoundTrip(t *testing.T) {
	store := s.NewStorage(t)
	defer store.Close()

	ctx := context.Background()
	want := SampleSnapshot("u1", 7)

	if err := store.SaveSnapshot(ctx, want); err != nil {
		t.Fatalf("SaveSnapshot failed: %v", err)
	}

	got, err := store.GetSnapshot(ctx, "u1")
	if err != nil {
		t.Fatalf("GetSnapshot failed: %v", err)
	}
	if !reflect.DeepEqual(want, got) {
		t.Errorf("round trip mismatch:\nwant %+v\ngot  %+v", want, got)
	}
}

// TestSnapshotOverwrite tests that saving again replaces the stored snapshot.
func (s *StorageTestSuite) TestSnapshotOverwrite(t *testing.T) {
	store := s.NewStorage(t)
	defer store.Close()

	ctx := context.Background()
	first := SampleSnapshot("u1", 1)
	second := SampleSnapshot("u1", 2)
	second.Statistics.Total = 9

	if err := store.SaveSnapshot(ctx, first); err != nil {
		t.Fatalf("SaveSnapshot failed: %v", err)
	}
	if err := store.SaveSnapshot(ctx, second); err != nil {
		t.Fatalf("SaveSnapshot failed: %v", err)
	}

	got, err := store.GetSnapshot(ctx, "u1")
	if err != nil {
		t.Fatalf("GetSnapshot failed: %v", err)
	}
	if got.Token != 2 || got.Statistics.Total != 9 {
		t.Errorf("expected token 2 total 9, got token %d total %d", got.Token, got.Statistics.Total)
	}
}

// TestSnapshotNotFound tests the typed error for a missing user.
func (s *StorageTestSuite) TestSnapshotNotFound(t *testing.T) {
	store := s.NewStorage(t)
	defer store.Close()

	_, err := store.GetSnapshot(context.Background(), "nobody")
	var nf *NotFoundError
	if !errors.As(err, &nf) {
		t.Fatalf("expected NotFoundError, got %T (%v)", err, err)
	}
	if nf.EntityType != EntitySnapshot || nf.ID != "nobody" {
		t.Errorf("unexpected NotFoundError fields: %+v", nf)
	}
}

// TestDeleteSnapshot tests deletion and deleting a missing snapshot.
func (s *StorageTestSuite) TestDeleteSnapshot(t *testing.T) {
	store := s.NewStorage(t)
	defer store.Close()

	ctx := context.Background()
	if err := store.SaveSnapshot(ctx, SampleSnapshot("u1", 1)); err != nil {
		t.Fatalf("SaveSnapshot failed: %v", err)
	}
	if err := store.DeleteSnapshot(ctx, "u1"); err != nil {
		t.Fatalf("DeleteSnapshot failed: %v", err)
	}

	var nf *NotFoundError
	if _, err := store.GetSnapshot(ctx, "u1"); !errors.As(err, &nf) {
		t.Errorf("expected NotFoundError after delete, got %v", err)
	}
	if err := store.DeleteSnapshot(ctx, "u1"); !errors.As(err, &nf) {
		t.Errorf("expected NotFoundError deleting twice, got %v", err)
	}
}

// TestListUsers tests that users are listed in ascending order.
func (s *StorageTestSuite) TestListUsers(t *testing.T) {
	store := s.NewStorage(t)
	defer store.Close()

	ctx := context.Background()
	users, err := store.ListUsers(ctx)
	if err != nil {
		t.Fatalf("ListUsers failed: %v", err)
	}
	if len(users) != 0 {
		t.Fatalf("expected no users, got %v", users)
	}

	for _, id := range []string{"carol", "alice", "bob"} {
		if err := store.SaveSnapshot(ctx, SampleSnapshot(id, 1)); err != nil {
			t.Fatalf("SaveSnapshot(%s) failed: %v", id, err)
		}
	}

	users, err = store.ListUsers(ctx)
	if err != nil {
		t.Fatalf("ListUsers failed: %v", err)
	}
	want := []string{"alice", "bob", "carol"}
	if !reflect.DeepEqual(want, users) {
		t.Errorf("expected %v, got %v", want, users)
	}
}

// TestInvalidInput tests that unkeyed snapshots are rejected.
func (s *StorageTestSuite) TestInvalidInput(t *testing.T) {
	store := s.NewStorage(t)
	defer store.Close()

	ctx := context.Background()
	var invalid *InvalidInputError
	if err := store.SaveSnapshot(ctx, nil); !errors.As(err, &invalid) {
		t.Errorf("expected InvalidInputError for nil, got %v", err)
	}
	if err := store.SaveSnapshot(ctx, snapshot.Empty("")); !errors.As(err, &invalid) {
		t.Errorf("expected InvalidInputError for blank user, got %v", err)
	}
}

// TestReturnedCopyIsIsolated tests that callers cannot modify stored state.
func (s *StorageTestSuite) TestReturnedCopyIsIsolated(t *testing.T) {
	store := s.NewStorage(t)
	defer store.Close()

	ctx := context.Background()
	orig := SampleSnapshot("u1", 1)
	if err := store.SaveSnapshot(ctx, orig); err != nil {
		t.Fatalf("SaveSnapshot failed: %v", err)
	}
	orig.History[0].Source = "changed after save"

	got, err := store.GetSnapshot(ctx, "u1")
	if err != nil {
		t.Fatalf("GetSnapshot failed: %v", err)
	}
	got.ActiveWorkflows[0].Elapsed = "changed after get"

	again, err := store.GetSnapshot(ctx, "u1")
	if err != nil {
		t.Fatalf("GetSnapshot failed: %v", err)
	}
	if again.History[0].Source != "statement.csv" {
		t.Errorf("stored history changed through the saved value: %q", again.History[0].Source)
	}
	if again.ActiveWorkflows[0].Elapsed != "2m 5s" {
		t.Errorf("stored view changed through a returned value: %q", again.ActiveWorkflows[0].Elapsed)
	}
}

// TestConcurrentAccess tests parallel saves and reads across users.
func (s *StorageTestSuite) TestConcurrentAccess(t *testing.T) {
	store := s.NewStorage(t)
	defer store.Close()

	ctx := context.Background()
	const users = 10
	const writes = 10

	var wg sync.WaitGroup
	errs := make(chan error, users*writes*2)
	for u := 0; u < users; u++ {
		wg.Add(1)
		go func(u int) {
			defer wg.Done()
			id := fmt.Sprintf("user-%02d", u)
			for i := 1; i <= writes; i++ {
				if err := store.SaveSnapshot(ctx, SampleSnapshot(id, uint64(i))); err != nil {
					errs <- err
					continue
				}
				if _, err := store.GetSnapshot(ctx, id); err != nil {
					errs <- err
				}
			}
		}(u)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Errorf("concurrent operation failed: %v", err)
	}

	list, err := store.ListUsers(ctx)
	if err != nil {
		t.Fatalf("ListUsers failed: %v", err)
	}
	if len(list) != users {
		t.Errorf("expected %d users, got %d", users, len(list))
	}
	for _, id := range list {
		snap, err := store.GetSnapshot(ctx, id)
		if err != nil {
			t.Fatalf("GetSnapshot(%s) failed: %v", id, err)
		}
		if snap.Token != writes {
			t.Errorf("%s: expected last token %d, got %d", id, writes, snap.Token)
		}
	}
}

// TestClosedStorage tests that a closed storage reports itself unavailable.
func (s *StorageTestSuite) TestClosedStorage(t *testing.T) {
	store := s.NewStorage(t)
	if err := store.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	var unavailable *StorageUnavailableError
	if _, err := store.GetSnapshot(context.Background(), "u1"); !errors.As(err, &unavailable) {
		t.Errorf("expected StorageUnavailableError, got %v", err)
	}
	if !errors.Is(unavailable, ErrClosed) {
		t.Errorf("expected ErrClosed cause, got %v", unavailable)
	}
	if err := store.Close(); err != nil {
		t.Errorf("second Close failed: %v", err)
	}
}
