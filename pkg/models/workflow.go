// Package models defines the workflow records read from the pipeline backend.
package models

import (
	"fmt"
	"strings"
	"time"
)

// WorkflowStatus is the lifecycle status of a workflow.
type WorkflowStatus string

const (
	WorkflowPending    WorkflowStatus = "pending"
	WorkflowProcessing WorkflowStatus = "processing"
	WorkflowCompleted  WorkflowStatus = "completed"
	WorkflowFailed     WorkflowStatus = "failed"
)

// IsTerminal reports whether the status is completed or failed.
func (s WorkflowStatus) IsTerminal() bool {
	return s == WorkflowCompleted || s == WorkflowFailed
}

// IsValid reports whether the status is one of the known lifecycle values.
func (s WorkflowStatus) IsValid() bool {
	switch s {
	case WorkflowPending, WorkflowProcessing, WorkflowCompleted, WorkflowFailed:
		return true
	default:
		return false
	}
}

// Workflow is one pipeline execution as reported by the backend.
type Workflow struct {
	// WorkflowID is the opaque, stable workflow identifier.
	WorkflowID string `json:"workflow_id"`

	// Status is the current lifecycle status.
	Status WorkflowStatus `json:"status"`

	// CurrentAgent is the stage currently executing, nil before the first stage starts.
	CurrentAgent *string `json:"current_agent,omitempty"`

	// Progress is the completion percentage.
	Progress int `json:"progress"`

	// StartTime is set when the workflow is created.
	StartTime time.Time `json:"start_time"`

	// EndTime is present only once the workflow is terminal.
	EndTime *time.Time `json:"end_time,omitempty"`

	// Result summarises a completed workflow.
	Result *WorkflowResult `json:"result,omitempty"`
}

// WorkflowResult is the summary attached to a completed workflow.
type WorkflowResult struct {
	TransactionsProcessed int `json:"transactions_processed"`
	InsightsGenerated     int `json:"insights_generated"`
	SuggestionsCount      int `json:"suggestions_count"`
}

// ValidationError describes a record that violates the workflow data model.
type ValidationError struct {
	Record string
	ID     string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.ID == "" {
		return fmt.Sprintf("invalid %s: %s", e.Record, e.Reason)
	}
	return fmt.Sprintf("invalid %s %s: %s", e.Record, e.ID, e.Reason)
}

// Validate checks the workflow against the lifecycle invariants.
func (w Workflow) Validate() error {
	if strings.TrimSpace(w.WorkflowID) == "" {
		return &ValidationError{Record: "workflow", Reason: "workflow_id is required"}
	}
	if !w.Status.IsValid() {
		return &ValidationError{Record: "workflow", ID: w.WorkflowID, Reason: fmt.Sprintf("unknown status %q", w.Status)}
	}
	if w.Progress < 0 || w.Progress > 100 {
		return &ValidationError{Record: "workflow", ID: w.WorkflowID, Reason: fmt.Sprintf("progress %d out of range [0,100]", w.Progress)}
	}
	if w.StartTime.IsZero() {
		return &ValidationError{Record: "workflow", ID: w.WorkflowID, Reason: "start_time is required"}
	}
	if w.EndTime != nil && !w.Status.IsTerminal() {
		return &ValidationError{Record: "workflow", ID: w.WorkflowID, Reason: fmt.Sprintf("end_time set while %s", w.Status)}
	}
	if w.EndTime == nil && w.Status.IsTerminal() {
		return &ValidationError{Record: "workflow", ID: w.WorkflowID, Reason: fmt.Sprintf("end_time missing while %s", w.Status)}
	}
	if w.Result != nil && w.Status != WorkflowCompleted {
		return &ValidationError{Record: "workflow", ID: w.WorkflowID, Reason: "result present before completion"}
	}
	return nil
}

// Statistics are backend-computed workflow counters.
// They are not required to match counts derived from the other views.
type Statistics struct {
	Total      int `json:"total"`
	Completed  int `json:"completed"`
	Processing int `json:"processing"`
	Pending    int `json:"pending"`
	Failed     int `json:"failed"`
}

// ProcessingLogEntry is a historical, terminal workflow record.
type ProcessingLogEntry struct {
	ID               string    `json:"id,omitempty"`
	Source           string    `json:"source"`
	Status           string    `json:"status"`
	Timestamp        time.Time `json:"timestamp"`
	TransactionCount int       `json:"transaction_count"`
}

// Communication is one stage-level trace event.
type Communication struct {
	ID         string    `json:"id,omitempty"`
	WorkflowID string    `json:"workflow_id"`
	Stage      string    `json:"stage"`
	Agent      string    `json:"agent"`
	Status     string    `json:"status"`
	Message    string    `json:"message"`
	Timestamp  time.Time `json:"timestamp"`
}
