package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTransitionFor(t *testing.T) {
	tr, ok := TransitionFor(BookingScheduled, EventStart)
	assert.True(t, ok)
	assert.Equal(t, BookingInProgress, tr.To)

	_, ok = TransitionFor(BookingScheduled, EventComplete)
	assert.False(t, ok, "a scheduled booking cannot complete without starting")

	for _, terminal := range []BookingStatus{BookingCompleted, BookingCancelled, BookingInterrupted} {
		for _, ev := range []BookingEvent{EventStart, EventComplete, EventCancel, EventInterrupt} {
			_, ok := TransitionFor(terminal, ev)
			assert.False(t, ok, "%s must not leave on %s", terminal, ev)
		}
		assert.True(t, terminal.Terminal())
		assert.False(t, terminal.Active())
	}
}

func TestIssueFilterMatches(t *testing.T) {
	issue := Issue{StationID: "st", SlotID: "sl", Category: IssueMaintenance, Status: IssueOpen}
	f := IssueFilter{StationID: "st", SlotID: "sl", Category: IssueMaintenance}
	assert.True(t, f.Matches(issue))

	issue.Status = IssueResolved
	assert.False(t, f.Matches(issue))

	issue.Status = IssueInProgress
	assert.False(t, IssueFilter{Category: IssueEmergency}.Matches(issue))
	assert.False(t, IssueFilter{SlotID: "other"}.Matches(issue))
}
