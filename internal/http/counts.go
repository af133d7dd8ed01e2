package http

import (
	"context"

	"github.com/fyrsmithlabs/crewgate/internal/crew"
	"github.com/fyrsmithlabs/crewgate/internal/store"
)

// CountStatus gathers the status counts. Each count is read independently;
// a count that fails is reported as -1 so a degraded store still answers.
func CountStatus(ctx context.Context, st Store, humanID int64) StatusCounts {
	counts := StatusCounts{Agents: -1, QueuedForHuman: -1, UndeliveredEvents: -1, UnresolvedCritical: -1}
	if st == nil {
		return counts
	}

	if agents, err := st.ListAgents(ctx); err == nil {
		counts.Agents = len(agents)
	}
	if n, err := st.CountMessages(ctx, store.MessageFilter{
		ToIDs:    []int64{humanID},
		Statuses: []crew.MessageStatus{crew.StatusQueued},
	}); err == nil {
		counts.QueuedForHuman = n
	}
	if events, err := st.QuerySecurityEvents(ctx, store.SecurityEventFilter{
		MinSeverity:     crew.SeverityMedium,
		UnresolvedOnly:  true,
		UndeliveredOnly: true,
	}); err == nil {
		counts.UndeliveredEvents = len(events)
	}
	if events, err := st.QuerySecurityEvents(ctx, store.SecurityEventFilter{
		Severity:       crew.SeverityCritical,
		UnresolvedOnly: true,
	}); err == nil {
		counts.UnresolvedCritical = len(events)
	}
	return counts
}
