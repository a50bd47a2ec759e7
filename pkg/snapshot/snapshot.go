// Package snapshot builds and holds immutable, derived views of a user's workflows.
package snapshot

import (
	"time"

	"github.com/flowwatch/flowwatch/pkg/models"
	"github.com/flowwatch/flowwatch/pkg/present"
	"github.com/flowwatch/flowwatch/pkg/source"
)

// SourceFailures records which views failed in the cycle that produced a snapshot.
type SourceFailures struct {
	Statistics     bool `json:"statistics"`
	Active         bool `json:"active"`
	History        bool `json:"history"`
	Communications bool `json:"communications"`
}

// Failed reports whether the named view failed.
func (f SourceFailures) Failed(name source.Name) bool {
	switch name {
	case source.Statistics:
		return f.Statistics
	case source.Active:
		return f.Active
	case source.History:
		return f.History
	case source.Communications:
		return f.Communications
	default:
		return false
	}
}

// Any reports whether at least one view failed.
func (f SourceFailures) Any() bool {
	return f.Statistics || f.Active || f.History || f.Communications
}

// Names lists the failed views in fetch order.
func (f SourceFailures) Names() []source.Name {
	var out []source.Name
	for _, n := range source.Names() {
		if f.Failed(n) {
			out = append(out, n)
		}
	}
	return out
}

func (f *SourceFailures) set(name source.Name) {
	switch name {
	case source.Statistics:
		f.Statistics = true
	case source.Active:
		f.Active = true
	case source.History:
		f.History = true
	case source.Communications:
		f.Communications = true
	}
}

// WorkflowView is an active workflow with its derived presentation values.
type WorkflowView struct {
	models.Workflow
	Classification present.Classification `json:"classification"`
	Elapsed        string                 `json:"elapsed"`
	StageIndex     int                    `json:"stage_index"`
	StageCount     int                    `json:"stage_count"`
}

// HistoryView is a processing log entry with its classification.
type HistoryView struct {
	models.ProcessingLogEntry
	Classification present.Classification `json:"classification"`
}

// WorkflowSnapshot is the merged result of one aggregation cycle.
// It is never mutated after it has been handed to a Store.
type WorkflowSnapshot struct {
	UserID          string                       `json:"user_id"`
	Token           uint64                       `json:"token"`
	FetchedAt       time.Time                    `json:"fetched_at"`
	Statistics      models.Statistics            `json:"statistics"`
	ActiveWorkflows []WorkflowView               `json:"active_workflows"`
	History         []HistoryView                `json:"history"`
	Communications  []present.CommunicationGroup `json:"communications"`
	Failures        SourceFailures               `json:"failures"`
}

// Empty returns the snapshot used before any cycle has completed.
func Empty(userID string) *WorkflowSnapshot {
	return &WorkflowSnapshot{
		UserID:          userID,
		ActiveWorkflows: []WorkflowView{},
		History:         []HistoryView{},
		Communications:  []present.CommunicationGroup{},
	}
}

// Stale reports whether the snapshot was not produced in this process.
func (s *WorkflowSnapshot) Stale() bool {
	return s.Token == 0
}

// FindWorkflow returns the active view for workflowID.
func (s *WorkflowSnapshot) FindWorkflow(workflowID string) (WorkflowView, bool) {
	for _, w := range s.ActiveWorkflows {
		if w.WorkflowID == workflowID {
			return w, true
		}
	}
	return WorkflowView{}, false
}
