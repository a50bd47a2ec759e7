package source

import (
	"errors"
	"io"
	"testing"
	"time"

	"github.com/flowwatch/flowwatch/pkg/models"
)

func TestErrors(t *testing.T) {
	fe := &FetchError{Source: History, StatusCode: 502, Err: io.ErrUnexpectedEOF}
	if got := fe.Error(); got != "fetch history: status 502: unexpected EOF" {
		t.Errorf("FetchError.Error() = %q", got)
	}
	if !errors.Is(fe, io.ErrUnexpectedEOF) {
		t.Error("FetchError should unwrap to its cause")
	}

	noStatus := &FetchError{Source: Active, Err: io.EOF}
	if got := noStatus.Error(); got != "fetch active: EOF" {
		t.Errorf("FetchError.Error() = %q", got)
	}

	de := &DecodeError{Source: Statistics, Err: io.EOF}
	if got := de.Error(); got != "decode statistics: EOF" {
		t.Errorf("DecodeError.Error() = %q", got)
	}
}

func TestValidateWorkflows(t *testing.T) {
	start := time.Now()
	ok := []models.Workflow{{WorkflowID: "a", Status: models.WorkflowPending, StartTime: start}}
	if err := ValidateWorkflows(Active, ok); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	bad := append(ok, models.Workflow{WorkflowID: "b", Status: models.WorkflowProcessing, Progress: 150, StartTime: start})
	err := ValidateWorkflows(Active, bad)
	var de *DecodeError
	if !errors.As(err, &de) {
		t.Fatalf("expected *DecodeError, got %v", err)
	}
	var ve *models.ValidationError
	if !errors.As(err, &ve) || ve.ID != "b" {
		t.Fatalf("expected wrapped validation error for b, got %v", err)
	}
}

func TestNames(t *testing.T) {
	names := Names()
	if len(names) != 4 || names[0] != Statistics || names[3] != Communications {
		t.Errorf("Names() = %v", names)
	}
}
