package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCollector(t *testing.T) {
	prometheus.DefaultRegisterer = prometheus.NewRegistry()

	collector := NewCollector()

	assert.NotNil(t, collector)
	assert.NotNil(t, collector.putsTotal)
	assert.NotNil(t, collector.popsTotal)
	assert.NotNil(t, collector.completesTotal)
	assert.NotNil(t, collector.failsTotal)
	assert.NotNil(t, collector.retriesTotal)
	assert.NotNil(t, collector.stallsTotal)
	assert.NotNil(t, collector.resourceContentionTotal)
	assert.NotNil(t, collector.recurringMaterializedTotal)
	assert.NotNil(t, collector.jobLatency)
	assert.NotNil(t, collector.recoveryTime)
	assert.NotNil(t, collector.jobsWaiting)
	assert.NotNil(t, collector.jobsRunning)
}

func TestRecordPut(t *testing.T) {
	prometheus.DefaultRegisterer = prometheus.NewRegistry()
	collector := NewCollector()

	assert.NotPanics(t, func() {
		collector.RecordPut()
	})
	for i := 0; i < 5; i++ {
		collector.RecordPut()
	}
}

func TestRecordPop(t *testing.T) {
	prometheus.DefaultRegisterer = prometheus.NewRegistry()
	collector := NewCollector()

	assert.NotPanics(t, func() {
		collector.RecordPop()
	})
	for i := 0; i < 10; i++ {
		collector.RecordPop()
	}
}

func TestRecordComplete(t *testing.T) {
	prometheus.DefaultRegisterer = prometheus.NewRegistry()
	collector := NewCollector()

	latencies := []float64{0.001, 0.01, 0.1, 1.0, 5.0}
	for _, latency := range latencies {
		assert.NotPanics(t, func() {
			collector.RecordComplete(latency)
		}, "RecordComplete should not panic with latency %f", latency)
	}
}

func TestRecordFail(t *testing.T) {
	prometheus.DefaultRegisterer = prometheus.NewRegistry()
	collector := NewCollector()

	assert.NotPanics(t, func() {
		collector.RecordFail()
	})
	for i := 0; i < 3; i++ {
		collector.RecordFail()
	}
}

func TestRecordRetryAndStall(t *testing.T) {
	prometheus.DefaultRegisterer = prometheus.NewRegistry()
	collector := NewCollector()

	assert.NotPanics(t, func() {
		collector.RecordRetry()
		collector.RecordStall()
	})
}

func TestRecordResourceContentionAndRecurringMaterialized(t *testing.T) {
	prometheus.DefaultRegisterer = prometheus.NewRegistry()
	collector := NewCollector()

	assert.NotPanics(t, func() {
		collector.RecordResourceContention()
		collector.RecordRecurringMaterialized()
	})
}

func TestSetRecoveryTime(t *testing.T) {
	prometheus.DefaultRegisterer = prometheus.NewRegistry()
	collector := NewCollector()

	for _, rt := range []float64{0.001, 0.5, 1.5, 3.0} {
		assert.NotPanics(t, func() {
			collector.SetRecoveryTime(rt)
		}, "SetRecoveryTime should not panic with time %f", rt)
	}
}

func TestUpdateQueueStats(t *testing.T) {
	prometheus.DefaultRegisterer = prometheus.NewRegistry()
	collector := NewCollector()

	testCases := []struct {
		name    string
		waiting int
		running int
	}{
		{"zero values", 0, 0},
		{"normal values", 10, 5},
		{"high waiting", 100, 8},
		{"high running", 5, 50},
		{"equal values", 20, 20},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.NotPanics(t, func() {
				collector.UpdateQueueStats(tc.waiting, tc.running)
			})
		})
	}
}

func TestConcurrentMetricUpdates(t *testing.T) {
	prometheus.DefaultRegisterer = prometheus.NewRegistry()
	collector := NewCollector()

	done := make(chan bool, 100)
	for i := 0; i < 100; i++ {
		go func() {
			collector.RecordPut()
			collector.RecordPop()
			collector.RecordComplete(0.1)
			collector.UpdateQueueStats(10, 5)
			done <- true
		}()
	}
	for i := 0; i < 100; i++ {
		<-done
	}
}

func TestCollectorIsolation(t *testing.T) {
	prometheus.DefaultRegisterer = prometheus.NewRegistry()

	collector1 := NewCollector()
	require.NotNil(t, collector1)

	// A second collector against the same registerer panics on duplicate
	// registration: a process should construct exactly one Collector.
	assert.Panics(t, func() {
		NewCollector()
	})
}

func TestMetricOperationSequence(t *testing.T) {
	prometheus.DefaultRegisterer = prometheus.NewRegistry()
	collector := NewCollector()

	assert.NotPanics(t, func() {
		collector.RecordPut()
		collector.UpdateQueueStats(1, 0)

		collector.RecordPop()
		collector.UpdateQueueStats(0, 1)

		collector.RecordComplete(0.5)
		collector.UpdateQueueStats(0, 0)
	})
}

func TestMetricOperationWithFailureAndRetry(t *testing.T) {
	prometheus.DefaultRegisterer = prometheus.NewRegistry()
	collector := NewCollector()

	assert.NotPanics(t, func() {
		collector.RecordPut()
		collector.RecordPop()
		collector.RecordFail()
		collector.RecordRetry()
	})
}

func TestRecoveryTimeScenario(t *testing.T) {
	prometheus.DefaultRegisterer = prometheus.NewRegistry()
	collector := NewCollector()

	assert.NotPanics(t, func() {
		collector.SetRecoveryTime(2.5)
		collector.UpdateQueueStats(50, 0)
		collector.RecordPop()
		collector.RecordComplete(0.1)
	})
}

func TestZeroAndNegativeValues(t *testing.T) {
	prometheus.DefaultRegisterer = prometheus.NewRegistry()
	collector := NewCollector()

	assert.NotPanics(t, func() {
		collector.RecordComplete(0.0)
		collector.SetRecoveryTime(0.0)
		collector.UpdateQueueStats(0, 0)
		collector.UpdateQueueStats(-1, -1)
	})
}
