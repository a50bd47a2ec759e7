// Package events carries applied snapshots from the monitor to subscribers,
// in-process and across instances.
package events

import (
	"context"
	"errors"
	"time"

	"github.com/flowwatch/flowwatch/pkg/snapshot"
)

// TypeSnapshotUpdated is emitted once per applied snapshot.
const TypeSnapshotUpdated = "snapshot.updated"

// ErrClosed is returned when publishing on a closed transport.
var ErrClosed = errors.New("events: closed")

// Event is the canonical payload delivered to subscribers.
type Event struct {
	Type      string                     `json:"type"`
	UserID    string                     `json:"user_id"`
	Token     uint64                     `json:"token"`
	Timestamp time.Time                  `json:"timestamp"`
	Origin    string                     `json:"origin,omitempty"`
	Snapshot  *snapshot.WorkflowSnapshot `json:"snapshot,omitempty"`
}

// SnapshotUpdated builds the event announcing snap.
func SnapshotUpdated(snap *snapshot.WorkflowSnapshot) Event {
	return Event{
		Type:      TypeSnapshotUpdated,
		UserID:    snap.UserID,
		Token:     snap.Token,
		Timestamp: snap.FetchedAt,
		Snapshot:  snap,
	}
}

// Publisher delivers events to subscribers.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// MetricsRecorder receives publish and drop counts.
type MetricsRecorder interface {
	RecordEventPublished(transport, result string)
	RecordEventDropped()
}

type nopMetrics struct{}

func (nopMetrics) RecordEventPublished(string, string) {}
func (nopMetrics) RecordEventDropped()                 {}

// Transport names used in metrics.
const (
	TransportLocal = "local"
	TransportRedis = "redis"
)
