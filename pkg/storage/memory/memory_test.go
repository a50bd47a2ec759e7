package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/flowwatch/flowwatch/pkg/storage"
)

// TestMemoryStorageSuite runs the full storage test suite against MemoryStorage.
func TestMemoryStorageSuite(t *testing.T) {
	suite := &storage.StorageTestSuite{
		NewStorage: func(t *testing.T) storage.Storage {
			return NewMemoryStorage()
		},
	}

	suite.RunAllTests(t)
}

func TestMemoryStorage_CancelledContext(t *testing.T) {
	m := NewMemoryStorage()
	defer m.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := m.SaveSnapshot(ctx, storage.SampleSnapshot("u1", 1))
	var unavailable *storage.StorageUnavailableError
	if !errors.As(err, &unavailable) {
		t.Fatalf("expected StorageUnavailableError, got %v", err)
	}
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled cause, got %v", err)
	}
}

func TestMemoryStorage_SaveDoesNotAliasInput(t *testing.T) {
	m := NewMemoryStorage()
	defer m.Close()

	ctx := context.Background()
	snap := storage.SampleSnapshot("u1", 1)
	if err := m.SaveSnapshot(ctx, snap); err != nil {
		t.Fatalf("SaveSnapshot failed: %v", err)
	}
	snap.ActiveWorkflows = nil
	snap.Token = 99

	got, err := m.GetSnapshot(ctx, "u1")
	if err != nil {
		t.Fatalf("GetSnapshot failed: %v", err)
	}
	if got.Token != 1 || len(got.ActiveWorkflows) != 1 {
		t.Errorf("stored snapshot changed: token %d, %d active", got.Token, len(got.ActiveWorkflows))
	}
}
