package eventlog_test

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mailvault/sync-monitor/internal/eventlog"
)

func TestLog_AppendAndSnapshot(t *testing.T) {
	t.Parallel()

	log := eventlog.New(10)
	log.Info("first")
	log.Warn("second")
	log.Error("third")

	entries := log.Entries()
	require.Len(t, entries, 3)

	assert.Equal(t, eventlog.SeverityInfo, entries[0].Severity)
	assert.Equal(t, "first", entries[0].Message)
	assert.Equal(t, eventlog.SeverityWarn, entries[1].Severity)
	assert.Equal(t, eventlog.SeverityError, entries[2].Severity)
	assert.False(t, entries[0].Time.IsZero())
}

func TestLog_EvictsOldestAtCapacity(t *testing.T) {
	t.Parallel()

	const capacity = 5
	log := eventlog.New(capacity)

	for i := 0; i < capacity+3; i++ {
		log.Info(fmt.Sprintf("entry-%d", i))
	}

	entries := log.Entries()
	require.Len(t, entries, capacity)

	// Oldest three evicted, remaining entries stay in order
	assert.Equal(t, "entry-3", entries[0].Message)
	assert.Equal(t, "entry-7", entries[len(entries)-1].Message)
	assert.Equal(t, capacity, log.Len())
}

func TestLog_DefaultCapacity(t *testing.T) {
	t.Parallel()

	log := eventlog.New(0)

	for i := 0; i < eventlog.DefaultCapacity+10; i++ {
		log.Info(fmt.Sprintf("entry-%d", i))
	}

	assert.Equal(t, eventlog.DefaultCapacity, log.Len())
	assert.Equal(t, "entry-10", log.Entries()[0].Message)
}

func TestLog_SnapshotIsACopy(t *testing.T) {
	t.Parallel()

	log := eventlog.New(10)
	log.Info("original")

	entries := log.Entries()
	entries[0].Message = "mutated"

	assert.Equal(t, "original", log.Entries()[0].Message)
}
