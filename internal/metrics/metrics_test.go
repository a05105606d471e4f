package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitIsIdempotent(t *testing.T) {
	Init()
	Init()
	require.NotNil(t, classifierCallsTotal)
	require.NotNil(t, stageRecordsTotal)
	require.NotNil(t, httpRequestsTotal)
}

func TestObserveClassifierCall(t *testing.T) {
	before := testutil.ToFloat64(classifierCallsTotalFor("fallback"))
	ObserveClassifierCall("fallback")
	ObserveClassifierCall("fallback")
	assert.Equal(t, before+2, testutil.ToFloat64(classifierCallsTotalFor("fallback")))
}

func TestObserveStageSkipsZeroCounts(t *testing.T) {
	ObserveStage("classify", "openings", 3, 1, 2, 0, 50*time.Millisecond)
	assert.Equal(t, float64(3), testutil.ToFloat64(stageRecordsTotal.WithLabelValues("classify", "openings", "considered")))
	assert.Equal(t, float64(0), testutil.ToFloat64(stageRecordsTotal.WithLabelValues("classify", "openings", "failed")))
}

func TestObserveClassifierRetry(t *testing.T) {
	before := testutil.ToFloat64(classifierRetriesTotal)
	ObserveClassifierRetry(2 * time.Second)
	assert.Equal(t, before+1, testutil.ToFloat64(classifierRetriesTotal))
}

func classifierCallsTotalFor(outcome string) prometheus.Counter {
	Init()
	return classifierCallsTotal.WithLabelValues(outcome)
}
