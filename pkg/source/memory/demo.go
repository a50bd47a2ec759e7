package memory

import (
	"fmt"
	"time"

	"github.com/flowwatch/flowwatch/pkg/models"
)

// Seed fills the source with a small, consistent data set for userID:
// one workflow mid-pipeline, one pending, and a short history.
func (s *Source) Seed(userID string, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[userID] = demoData(now)
}

// EnableDemo seeds every user on first request with data relative to now().
// Users that already have data are left alone.
func (s *Source) EnableDemo(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.demoNow = now
}

func demoData(now time.Time) *userData {
	running := models.StageClassification
	started := now.Add(-3*time.Minute - 12*time.Second)

	u := &userData{
		stats:    models.Statistics{Total: 5, Completed: 2, Processing: 1, Pending: 1, Failed: 1},
		hasStats: true,
		active: []models.Workflow{
			{
				WorkflowID:   "wf-demo-1",
				Status:       models.WorkflowProcessing,
				CurrentAgent: &running,
				Progress:     45,
				StartTime:    started,
			},
			{
				WorkflowID: "wf-demo-2",
				Status:     models.WorkflowPending,
				StartTime:  now.Add(-8 * time.Second),
			},
		},
		history: []models.ProcessingLogEntry{
			{ID: "log-3", Source: "checking.csv", Status: "completed", Timestamp: now.Add(-2 * time.Hour), TransactionCount: 214},
			{ID: "log-2", Source: "savings.ofx", Status: "failed", Timestamp: now.Add(-26 * time.Hour), TransactionCount: 0},
			{ID: "log-1", Source: "card-2026-01.pdf", Status: "completed", Timestamp: now.Add(-72 * time.Hour), TransactionCount: 88},
		},
	}

	for i, stage := range models.Stages()[:3] {
		status := "completed"
		if stage == running {
			status = "processing"
		}
		u.comms = append(u.comms, models.Communication{
			ID:         fmt.Sprintf("c-%d", i+1),
			WorkflowID: "wf-demo-1",
			Stage:      stage,
			Agent:      stage + "_agent",
			Status:     status,
			Message:    fmt.Sprintf("%s %s", stage, status),
			Timestamp:  started.Add(time.Duration(i) * 40 * time.Second),
		})
	}
	u.comms = append(u.comms, models.Communication{
		ID:         "c-4",
		WorkflowID: "wf-demo-2",
		Stage:      models.StageIngestion,
		Agent:      "ingestion_agent",
		Status:     "pending",
		Message:    "queued",
		Timestamp:  now.Add(-8 * time.Second),
	})
	return u
}
