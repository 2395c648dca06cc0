package workflows

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStateMachine(t *testing.T) {
	sm := NewStateMachine()

	assert.True(t, sm.CanTransition(StatusPending, StatusVerified))
	assert.True(t, sm.CanTransition(StatusPending, StatusRejected))
	assert.False(t, sm.CanTransition(StatusVerified, StatusRejected))
	assert.False(t, sm.CanTransition(StatusRejected, StatusVerified))
	assert.False(t, sm.CanTransition(StatusVerified, StatusPending))
	assert.False(t, sm.CanTransition("unknown", StatusVerified))

	assert.ElementsMatch(t, []string{StatusVerified, StatusRejected}, sm.GetAllowedTransitions(StatusPending))
	assert.Empty(t, sm.GetAllowedTransitions("unknown"))

	assert.False(t, sm.IsFinal(StatusPending))
	assert.True(t, sm.IsFinal(StatusVerified))
	assert.True(t, sm.IsFinal(StatusRejected))
	assert.False(t, sm.IsKnown("DRAFT"))
}
