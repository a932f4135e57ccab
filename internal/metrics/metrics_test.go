package metrics

import (
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMetrics_String(t *testing.T) {
	m := New()
	atomic.AddInt64(&m.EventsLoggedTotal, 3)
	atomic.AddInt64(&m.BatchesPending, 2)
	atomic.AddInt64(&m.BatchesDiscardedTotal, 1)

	out := m.String()

	assert.Contains(t, out, "events_logged_total=3\n")
	assert.Contains(t, out, "batches_pending=2\n")
	assert.Contains(t, out, "batches_discarded_total=1\n")
	assert.Equal(t, 18, strings.Count(out, "\n"))
}

func TestMetrics_ConcurrentUpdates(t *testing.T) {
	m := New()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				atomic.AddInt64(&m.EventsWrittenTotal, 1)
			}
		}()
	}
	wg.Wait()

	assert.Contains(t, m.String(), "events_written_total=5000\n")
}
