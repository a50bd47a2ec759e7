// Package source defines the read contracts of the workflow backend.
package source

import (
	"context"
	"fmt"

	"github.com/flowwatch/flowwatch/pkg/models"
)

// Name identifies one of the four independently fetched views.
type Name string

const (
	Statistics     Name = "statistics"
	Active         Name = "active"
	History        Name = "history"
	Communications Name = "communications"
)

// Names returns all source names in fetch order.
func Names() []Name {
	return []Name{Statistics, Active, History, Communications}
}

// Source is the read-only, user-scoped view of workflow state.
// Implementations must be safe for concurrent use.
type Source interface {
	GetStatistics(ctx context.Context, userID string) (models.Statistics, error)
	GetActiveWorkflows(ctx context.Context, userID string, limit int) ([]models.Workflow, error)
	GetWorkflowHistory(ctx context.Context, userID string, limit int) ([]models.ProcessingLogEntry, error)
	GetAgentCommunications(ctx context.Context, userID string, limit int) ([]models.Communication, error)
}

// FetchError indicates a transport or backend failure for one source.
type FetchError struct {
	Source     Name
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %s: status %d: %v", e.Source, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("fetch %s: %v", e.Source, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// DecodeError indicates a payload that could not be decoded or violated the data model.
type DecodeError struct {
	Source Name
	Err    error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s: %v", e.Source, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// ValidateWorkflows checks every workflow and wraps the first violation in a DecodeError.
func ValidateWorkflows(src Name, workflows []models.Workflow) error {
	for _, w := range workflows {
		if err := w.Validate(); err != nil {
			return &DecodeError{Source: src, Err: err}
		}
	}
	return nil
}
