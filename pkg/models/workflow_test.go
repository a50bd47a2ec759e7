package models

import (
	"errors"
	"testing"
	"time"
)

func TestWorkflow_Validate(t *testing.T) {
	start := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	end := start.Add(2 * time.Minute)
	agent := StageExtraction

	tests := []struct {
		name    string
		wf      Workflow
		wantErr bool
	}{
		{
			name: "processing without end time",
			wf:   Workflow{WorkflowID: "wf-1", Status: WorkflowProcessing, CurrentAgent: &agent, Progress: 40, StartTime: start},
		},
		{
			name: "completed with end time and result",
			wf: Workflow{WorkflowID: "wf-2", Status: WorkflowCompleted, Progress: 100, StartTime: start, EndTime: &end,
				Result: &WorkflowResult{TransactionsProcessed: 12}},
		},
		{
			name: "failed with end time",
			wf:   Workflow{WorkflowID: "wf-3", Status: WorkflowFailed, Progress: 60, StartTime: start, EndTime: &end},
		},
		{
			name:    "missing id",
			wf:      Workflow{Status: WorkflowPending, StartTime: start},
			wantErr: true,
		},
		{
			name:    "unknown status",
			wf:      Workflow{WorkflowID: "wf-4", Status: "paused", StartTime: start},
			wantErr: true,
		},
		{
			name:    "progress above range",
			wf:      Workflow{WorkflowID: "wf-5", Status: WorkflowProcessing, Progress: 101, StartTime: start},
			wantErr: true,
		},
		{
			name:    "end time while pending",
			wf:      Workflow{WorkflowID: "wf-6", Status: WorkflowPending, StartTime: start, EndTime: &end},
			wantErr: true,
		},
		{
			name:    "terminal without end time",
			wf:      Workflow{WorkflowID: "wf-7", Status: WorkflowCompleted, Progress: 100, StartTime: start},
			wantErr: true,
		},
		{
			name:    "missing start time",
			wf:      Workflow{WorkflowID: "wf-8", Status: WorkflowPending},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.wf.Validate()
			if tt.wantErr && err == nil {
				t.Fatal("expected validation error")
			}
			if !tt.wantErr && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if err != nil {
				var verr *ValidationError
				if !errors.As(err, &verr) {
					t.Fatalf("expected *ValidationError, got %T", err)
				}
			}
		})
	}
}

func TestStageIndex(t *testing.T) {
	tests := []struct {
		name string
		want int
	}{
		{"ingestion", 1},
		{"extraction_agent", 2},
		{"Classification", 3},
		{"Pattern Analysis", 4},
		{"pattern-analysis", 4},
		{"suggestion", 5},
		{"safety_agent", 6},
		{"", 0},
		{"reporting", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := StageIndex(tt.name); got != tt.want {
				t.Errorf("StageIndex(%q) = %d, want %d", tt.name, got, tt.want)
			}
		})
	}

	if StageCount() != 6 {
		t.Errorf("StageCount() = %d, want 6", StageCount())
	}
	s := Stages()
	s[0] = "mutated"
	if Stages()[0] != StageIngestion {
		t.Error("Stages() must return a copy")
	}
}
