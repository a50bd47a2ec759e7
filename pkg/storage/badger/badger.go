// Package badger provides a Badger-based implementation of the storage interface.
package badger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/dgraph-io/badger/v4"

	"github.com/flowwatch/flowwatch/pkg/logger"
	"github.com/flowwatch/flowwatch/pkg/snapshot"
	"github.com/flowwatch/flowwatch/pkg/storage"
)

const snapshotPrefix = "snapshot:"

// Config holds configuration for BadgerStorage.
type Config struct {
	Path              string
	InMemory          bool
	SyncWrites        bool
	ValueLogFileSize  int64
	NumVersionsToKeep int
	Logger            logger.Logger
}

// BadgerStorage implements the Storage interface using Badger.
type BadgerStorage struct {
	db     *badger.DB
	config *Config
	closed atomic.Bool
}

// NewBadgerStorage creates a new Badger storage instance.
func NewBadgerStorage(config *Config) (*BadgerStorage, error) {
	if config == nil {
		return nil, &storage.InvalidInputError{Reason: "badger config is required"}
	}

	opts := badger.DefaultOptions(config.Path)
	if config.InMemory {
		opts = opts.WithDir("").WithValueDir("").WithInMemory(true)
	}
	opts.SyncWrites = config.SyncWrites
	if config.ValueLogFileSize > 0 {
		opts.ValueLogFileSize = config.ValueLogFileSize
	}
	if config.NumVersionsToKeep > 0 {
		opts.NumVersionsToKeep = config.NumVersionsToKeep
	}
	opts.Logger = nil
	if config.Logger != nil {
		opts.Logger = badgerLogger{log: config.Logger.With("component", "badger")}
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, &storage.StorageUnavailableError{Cause: err}
	}

	return &BadgerStorage{
		db:     db,
		config: config,
	}, nil
}

func snapshotKey(userID string) []byte {
	return []byte(snapshotPrefix + userID)
}

// Serialization helpers
func serialize(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, &storage.SerializationError{
			Operation: "marshal",
			Cause:     err,
		}
	}
	return data, nil
}

func deserialize(data []byte, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return &storage.SerializationError{
			Operation: "unmarshal",
			Cause:     err,
		}
	}
	return nil
}

func (b *BadgerStorage) usable(ctx context.Context) error {
	if b.closed.Load() {
		return &storage.StorageUnavailableError{Cause: storage.ErrClosed}
	}
	if err := ctx.Err(); err != nil {
		return &storage.StorageUnavailableError{Cause: err}
	}
	return nil
}

// SaveSnapshot saves the snapshot under its user's key.
func (b *BadgerStorage) SaveSnapshot(ctx context.Context, snap *snapshot.WorkflowSnapshot) error {
	if err := storage.CheckSnapshot(snap); err != nil {
		return err
	}
	if err := b.usable(ctx); err != nil {
		return err
	}
	data, err := serialize(snap)
	if err != nil {
		return err
	}

	err = b.db.Update(func(txn *badger.Txn) error {
		return txn.Set(snapshotKey(snap.UserID), data)
	})
	if err != nil {
		return &storage.StorageUnavailableError{Cause: err}
	}
	return nil
}

// GetSnapshot retrieves the snapshot stored for userID.
func (b *BadgerStorage) GetSnapshot(ctx context.Context, userID string) (*snapshot.WorkflowSnapshot, error) {
	if err := b.usable(ctx); err != nil {
		return nil, err
	}

	var snap snapshot.WorkflowSnapshot
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(snapshotKey(userID))
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return &storage.NotFoundError{
					EntityType: storage.EntitySnapshot,
					ID:         userID,
				}
			}
			return &storage.StorageUnavailableError{Cause: err}
		}

		return item.Value(func(val []byte) error {
			return deserialize(val, &snap)
		})
	})
	if err != nil {
		return nil, err
	}

	return &snap, nil
}

// DeleteSnapshot removes the snapshot stored for userID.
func (b *BadgerStorage) DeleteSnapshot(ctx context.Context, userID string) error {
	if err := b.usable(ctx); err != nil {
		return err
	}

	return b.db.Update(func(txn *badger.Txn) error {
		key := snapshotKey(userID)
		if _, err := txn.Get(key); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return &storage.NotFoundError{
					EntityType: storage.EntitySnapshot,
					ID:         userID,
				}
			}
			return &storage.StorageUnavailableError{Cause: err}
		}
		return txn.Delete(key)
	})
}

// ListUsers scans snapshot keys without loading values.
func (b *BadgerStorage) ListUsers(ctx context.Context) ([]string, error) {
	if err := b.usable(ctx); err != nil {
		return nil, err
	}

	users := []string{}
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(snapshotPrefix)
		opts.PrefetchValues = false

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			key := string(it.Item().Key())
			users = append(users, strings.TrimPrefix(key, snapshotPrefix))
		}
		return nil
	})
	if err != nil {
		return nil, &storage.StorageUnavailableError{Cause: err}
	}
	return users, nil
}

// Close closes the Badger database.
func (b *BadgerStorage) Close() error {
	if !b.closed.CompareAndSwap(false, true) {
		return nil
	}
	if !b.config.InMemory {
		if err := b.db.RunValueLogGC(0.5); err != nil && !errors.Is(err, badger.ErrNoRewrite) && b.config.Logger != nil {
			b.config.Logger.Debug("badger value log gc skipped", "error", err)
		}
	}
	return b.db.Close()
}

type badgerLogger struct {
	log logger.Logger
}

func (l badgerLogger) Errorf(format string, args ...any) {
	l.log.Error(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (l badgerLogger) Warningf(format string, args ...any) {
	l.log.Warn(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (l badgerLogger) Infof(format string, args ...any) {
	l.log.Debug(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (l badgerLogger) Debugf(format string, args ...any) {
	l.log.Debug(strings.TrimSpace(fmt.Sprintf(format, args...)))
}
