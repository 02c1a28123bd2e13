package custody

import (
	"context"
	"testing"

	"github.com/ipfs/go-datastore"
	"github.com/stretchr/testify/require"
)

func TestEventLogAppendAndTail(t *testing.T) {
	ctx := context.Background()
	ds := datastore.NewMapDatastore()
	l := newEventLog(ds)

	info := &CustodyInfo{Phase: PhaseCapture}
	require.NoError(t, l.record(1, EventCaptureStarted{}, info))
	require.NoError(t, l.record(2, EventHolderKeyCreated{}, info))
	require.NoError(t, l.record(3, EventSessionRegistered{}, info))

	entries, err := l.tail(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 3)

	// oldest first
	require.Equal(t, "CaptureStarted", entries[0].Kind)
	require.Equal(t, "HolderKeyCreated", entries[1].Kind)
	require.Equal(t, "SessionRegistered", entries[2].Kind)

	// bounded tail keeps the most recent entries
	entries, err = l.tail(ctx, 2)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, "HolderKeyCreated", entries[0].Kind)
	require.Equal(t, "SessionRegistered", entries[1].Kind)
}

func TestEventLogCoalescesRepeatedErrors(t *testing.T) {
	ctx := context.Background()
	l := newEventLog(datastore.NewMapDatastore())

	info := &CustodyInfo{Phase: PhaseHolding}
	require.NoError(t, l.record(1, EventCaptureStarted{}, info))
	require.NoError(t, l.record(2, EventProcessingError{Message: "dial tcp: refused"}, info))
	require.NoError(t, l.record(3, EventProcessingError{Message: "dial tcp: refused"}, info))
	require.NoError(t, l.record(4, EventProcessingError{Message: "dial tcp: refused"}, info))

	// a different error breaks the run
	require.NoError(t, l.record(5, EventProcessingError{Message: "other"}, info))
	require.NoError(t, l.record(6, EventProcessingError{Message: "dial tcp: refused"}, info))

	entries, err := l.tail(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 4)

	require.Equal(t, "CaptureStarted", entries[0].Kind)

	require.Equal(t, "ProcessingError", entries[1].Kind)
	require.Equal(t, uint64(3), entries[1].Count)
	require.Equal(t, "dial tcp: refused", entries[1].Detail)

	require.Equal(t, "other", entries[2].Detail)
	require.Equal(t, uint64(1), entries[2].Count)

	require.Equal(t, "dial tcp: refused", entries[3].Detail)
	require.Equal(t, uint64(1), entries[3].Count)
}

func TestEventLogRecoversIndexAcrossRestart(t *testing.T) {
	ctx := context.Background()
	ds := datastore.NewMapDatastore()

	info := &CustodyInfo{Phase: PhaseCapture}
	l := newEventLog(ds)
	require.NoError(t, l.record(1, EventCaptureStarted{}, info))
	require.NoError(t, l.record(2, EventProcessingError{Message: "x"}, info))

	// a fresh log over the same datastore continues the index and keeps
	// coalescing against the persisted tail
	l2 := newEventLog(ds)
	require.NoError(t, l2.record(3, EventProcessingError{Message: "x"}, info))
	require.NoError(t, l2.record(4, EventHolderKeyCreated{}, info))

	entries, err := l2.tail(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	require.Equal(t, "CaptureStarted", entries[0].Kind)
	require.Equal(t, uint64(2), entries[1].Count)
	require.Equal(t, "HolderKeyCreated", entries[2].Kind)
}
