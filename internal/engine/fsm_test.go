package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voyra/relay/pkg/schema"
)

func TestRecordFSMValidTransitionEmitsEvent(t *testing.T) {
	events := &memEvents{}
	fsm := NewRecordFSM(events)

	err := fsm.Transition(context.Background(), "run-1", "rec-1",
		schema.RecordStatusPending, schema.RecordStatusProcessing)
	require.NoError(t, err)

	require.Len(t, events.events, 1)
	assert.Equal(t, schema.EventRecordProcessing, events.events[0].Type)
	assert.Equal(t, "run-1", events.events[0].RunID)
	assert.Equal(t, "rec-1", events.events[0].RecordID)
}

func TestRecordFSMInvalidTransition(t *testing.T) {
	fsm := NewRecordFSM(nil)

	cases := []struct {
		from, to schema.RecordStatus
	}{
		{schema.RecordStatusPending, schema.RecordStatusCompleted},
		{schema.RecordStatusPending, schema.RecordStatusAwaitingFeedback},
		{schema.RecordStatusCompleted, schema.RecordStatusProcessing},
		{schema.RecordStatusFailed, schema.RecordStatusProcessing},
		{schema.RecordStatusSummarised, schema.RecordStatusProcessing},
	}
	for _, tc := range cases {
		err := fsm.Transition(context.Background(), "run-1", "rec-1", tc.from, tc.to)
		require.Error(t, err, "%s -> %s should be rejected", tc.from, tc.to)
		var relayErr *schema.RelayError
		require.ErrorAs(t, err, &relayErr)
		assert.Equal(t, schema.ErrCodeInvalidTransition, relayErr.Code)
	}
}

func TestRecordFSMFullLifecycle(t *testing.T) {
	fsm := NewRecordFSM(nil)
	ctx := context.Background()

	path := []schema.RecordStatus{
		schema.RecordStatusPending,
		schema.RecordStatusProcessing,
		schema.RecordStatusAwaitingFeedback,
		schema.RecordStatusProcessing,
		schema.RecordStatusSummarised,
		schema.RecordStatusCompleted,
	}
	for i := 0; i < len(path)-1; i++ {
		require.NoError(t, fsm.Transition(ctx, "run-1", "rec-1", path[i], path[i+1]))
	}
}

func TestRecordFSMAnyNonTerminalCanFail(t *testing.T) {
	fsm := NewRecordFSM(nil)
	ctx := context.Background()

	for _, from := range []schema.RecordStatus{
		schema.RecordStatusPending,
		schema.RecordStatusProcessing,
		schema.RecordStatusAwaitingFeedback,
		schema.RecordStatusSummarised,
	} {
		require.NoError(t, fsm.Transition(ctx, "run-1", "rec-1", from, schema.RecordStatusFailed))
	}
}

func TestRecordFSMHooks(t *testing.T) {
	fsm := NewRecordFSM(nil)
	var order []string

	fsm.OnBefore(schema.RecordStatusPending, schema.RecordStatusProcessing, func(_, _ schema.RecordStatus) error {
		order = append(order, "before")
		return nil
	})
	fsm.OnAfter(schema.RecordStatusPending, schema.RecordStatusProcessing, func(_, _ schema.RecordStatus) error {
		order = append(order, "after")
		return nil
	})

	err := fsm.Transition(context.Background(), "run-1", "rec-1",
		schema.RecordStatusPending, schema.RecordStatusProcessing)
	require.NoError(t, err)
	assert.Equal(t, []string{"before", "after"}, order)
}

func TestRecordFSMBeforeHookBlocksTransition(t *testing.T) {
	events := &memEvents{}
	fsm := NewRecordFSM(events)
	blocked := errors.New("not yet")

	fsm.OnBefore(schema.RecordStatusPending, schema.RecordStatusProcessing, func(_, _ schema.RecordStatus) error {
		return blocked
	})

	err := fsm.Transition(context.Background(), "run-1", "rec-1",
		schema.RecordStatusPending, schema.RecordStatusProcessing)
	require.ErrorIs(t, err, blocked)
	assert.Empty(t, events.events)
}
