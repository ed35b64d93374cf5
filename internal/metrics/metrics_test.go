package metrics

import (
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/m4nti5/mongolocust/internal/workload"
)

func TestRecordOutcomes(t *testing.T) {
	m := New()

	m.Record("insert_single_document", 10*time.Millisecond, workload.Done, nil)
	m.Record("insert_single_document", 30*time.Millisecond, workload.Done, nil)
	m.Record("find_document", time.Millisecond, workload.Skipped, nil)
	m.Record("update_document", 20*time.Millisecond, workload.Done, errors.New("write conflict"))

	assert.EqualValues(t, 3, m.TotalRequests())
	assert.EqualValues(t, 2, m.SuccessRequests())
	assert.EqualValues(t, 1, m.FailedRequests())
	assert.EqualValues(t, 1, m.SkippedRequests())
	assert.Equal(t, 20*time.Millisecond, m.AverageLatency())
	assert.InDelta(t, 1.0/3.0, m.ErrorRate(), 1e-9)

	snap := m.Snapshot()
	require.Len(t, snap.Ops, 3)
	assert.Equal(t, []string{"find_document", "insert_single_document", "update_document"},
		[]string{snap.Ops[0].Name, snap.Ops[1].Name, snap.Ops[2].Name})

	insert, ok := snap.Op("insert_single_document")
	require.True(t, ok)
	assert.EqualValues(t, 2, insert.Requests)
	assert.Equal(t, 20*time.Millisecond, insert.AverageLatency)
	assert.Equal(t, 30*time.Millisecond, insert.P99Latency)

	find, _ := snap.Op("find_document")
	assert.EqualValues(t, 0, find.Requests)
	assert.EqualValues(t, 1, find.Skipped)
	assert.Zero(t, find.AverageLatency)

	update, _ := snap.Op("update_document")
	assert.EqualValues(t, 1, update.Failures)
	assert.Equal(t, "write conflict", update.LastError)

	_, ok = snap.Op("migrate_chunk")
	assert.False(t, ok)
}

func TestP99Latency(t *testing.T) {
	m := New()
	assert.Zero(t, m.P99Latency())

	for i := 1; i <= 100; i++ {
		m.RecordSuccess("find_document", time.Duration(i)*time.Millisecond)
	}
	assert.Equal(t, 100*time.Millisecond, m.P99Latency())
}

func TestLatencySamplesAreBounded(t *testing.T) {
	m := NewWithConfig(Config{MaxLatencySamples: 10})
	for i := range 50 {
		m.RecordSuccess("insert_single_document", time.Duration(i))
	}
	assert.Len(t, m.latencies, 10)
	assert.Len(t, m.ops["insert_single_document"].latencies, 10)

	assert.Equal(t, 1000, NewWithConfig(Config{}).maxLatencySamples)
}

func TestReset(t *testing.T) {
	m := New()
	m.RecordSuccess("find_document", time.Millisecond)
	m.Reset()

	assert.Zero(t, m.P99Latency())
	assert.EqualValues(t, 1, m.TotalRequests())
}

func TestConcurrentRecord(t *testing.T) {
	m := New()
	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 1000 {
				m.Record("insert_documents_bulk", time.Microsecond, workload.Done, nil)
			}
		}()
	}
	wg.Wait()

	snap := m.Snapshot()
	assert.EqualValues(t, 8000, snap.TotalRequests)
	op, _ := snap.Op("insert_documents_bulk")
	assert.EqualValues(t, 8000, op.Requests)
}
