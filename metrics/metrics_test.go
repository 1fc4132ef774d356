package metrics

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIncAndSnapshot(t *testing.T) {
	m := New(Config{Enabled: true, Latency: true})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				m.Inc(RefreshSuccess)
			}
		}()
	}
	wg.Wait()
	m.Inc(RefreshReuseDetected)

	m.Observe(VerifyLatency, 3*time.Millisecond)
	m.Observe(VerifyLatency, 2*time.Second)
	m.Observe(RefreshSuccess, time.Millisecond)

	s := m.Snapshot()
	assert.EqualValues(t, 800, s.Counters[RefreshSuccess])
	assert.EqualValues(t, 1, s.Counters[RefreshReuseDetected])
	_, hasLatencyCounter := s.Counters[VerifyLatency]
	assert.False(t, hasLatencyCounter)

	require.Len(t, s.Histograms[VerifyLatency], BucketCount)
	assert.EqualValues(t, 1, s.Histograms[VerifyLatency][0])
	assert.EqualValues(t, 1, s.Histograms[VerifyLatency][BucketCount-1])
	assert.Len(t, s.Histograms, 3)
	assert.Equal(t, 2*time.Second+3*time.Millisecond, s.Sums[VerifyLatency])
}

func TestDisabledAndNil(t *testing.T) {
	m := New(Config{Enabled: false, Latency: true})
	m.Inc(LoginSuccess)
	m.Observe(LoginLatency, time.Millisecond)
	assert.Zero(t, m.Value(LoginSuccess))
	assert.Empty(t, m.Snapshot().Counters)

	var nilM *Metrics
	nilM.Inc(LoginSuccess)
	assert.False(t, nilM.Enabled())
	assert.Empty(t, nilM.Snapshot().Histograms)
}

func TestCumulative(t *testing.T) {
	assert.Equal(t, [BucketCount]uint64{1, 3, 3, 3, 3, 3, 3, 3}, Cumulative([]uint64{1, 2}))
	assert.Equal(t, [BucketCount]uint64{}, Cumulative(nil))
}

func TestEveryCounterHasADef(t *testing.T) {
	seen := map[ID]bool{}
	for _, d := range CounterDefs {
		assert.False(t, seen[d.ID], d.Name)
		seen[d.ID] = true
	}
	for _, d := range HistogramDefs {
		seen[d.ID] = true
	}
	for id := ID(0); id < idCount; id++ {
		assert.True(t, seen[id], "id %d has no export definition", id)
	}
}
