package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to Status
		allowed  bool
	}{
		{StatusPending, StatusPaid, true},
		{StatusPending, StatusAbandoned, true},
		{StatusPaid, StatusRefunded, true},
		{StatusPaid, StatusChargeback, true},
		{StatusPaid, StatusPending, false},
		{StatusExpired, StatusPaid, false},
		{StatusCanceled, StatusPending, false},
		{StatusRefunded, StatusPaid, false},
		{StatusAbandoned, StatusPaid, false},
		{StatusPaid, StatusPaid, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.allowed, CanTransition(tt.from, tt.to))
		})
	}
}

func TestTerminalStatusesNeverRevertToPending(t *testing.T) {
	for _, s := range []Status{StatusPaid, StatusExpired, StatusCanceled, StatusRefunded, StatusChargeback, StatusAbandoned} {
		assert.False(t, CanTransition(s, StatusPending), s)
	}
	assert.True(t, StatusExpired.Terminal())
	assert.False(t, StatusPaid.Terminal())
}

func TestSourcesOf(t *testing.T) {
	assert.ElementsMatch(t, []Status{StatusPending, StatusPaid}, SourcesOf(StatusRefunded))
	assert.ElementsMatch(t, []Status{StatusPending}, SourcesOf(StatusPaid))
	assert.Empty(t, SourcesOf(StatusPending))
}

func TestEventForStatus(t *testing.T) {
	event, ok := EventForStatus(StatusPaid)
	assert.True(t, ok)
	assert.Equal(t, EventPurchaseApproved, event)

	_, ok = EventForStatus(StatusAbandoned)
	assert.False(t, ok)

	_, ok = EventForStatus(StatusPending)
	assert.False(t, ok)
}
