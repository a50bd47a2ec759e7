package present

import (
	"sort"

	"github.com/flowwatch/flowwatch/pkg/models"
)

// CommunicationView is a trace event with its status classification.
type CommunicationView struct {
	models.Communication
	Classification Classification `json:"classification"`
}

// CommunicationGroup holds the time-ordered trace of one workflow.
type CommunicationGroup struct {
	WorkflowID     string              `json:"workflow_id"`
	Communications []CommunicationView `json:"communications"`
}

// GroupCommunications partitions events by workflow id.
//
// Groups appear in the order their first event appears in the input. Within a
// group events are sorted by timestamp; equal timestamps keep input order.
func GroupCommunications(events []models.Communication) []CommunicationGroup {
	groups := make([]CommunicationGroup, 0)
	index := make(map[string]int)

	for _, ev := range events {
		i, ok := index[ev.WorkflowID]
		if !ok {
			i = len(groups)
			index[ev.WorkflowID] = i
			groups = append(groups, CommunicationGroup{WorkflowID: ev.WorkflowID})
		}
		groups[i].Communications = append(groups[i].Communications, CommunicationView{
			Communication:  ev,
			Classification: Classify(ev.Status),
		})
	}

	for i := range groups {
		comms := groups[i].Communications
		sort.SliceStable(comms, func(a, b int) bool {
			return comms[a].Timestamp.Before(comms[b].Timestamp)
		})
	}

	return groups
}

// FindGroup returns the group for workflowID, if present.
func FindGroup(groups []CommunicationGroup, workflowID string) (CommunicationGroup, bool) {
	for _, g := range groups {
		if g.WorkflowID == workflowID {
			return g, true
		}
	}
	return CommunicationGroup{}, false
}
