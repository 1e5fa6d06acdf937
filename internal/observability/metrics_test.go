package observability

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"
)

func TestRecordTransitionIncrementsLabeledCounter(t *testing.T) {
	before := testutil.ToFloat64(transitionCounter.WithLabelValues("pause", "conflict"))
	RecordTransition("pause", "conflict")
	after := testutil.ToFloat64(transitionCounter.WithLabelValues("pause", "conflict"))
	require.InDelta(t, before+1, after, 0.0001)
}

func TestRecordSessionPersistedIgnoresZeroTime(t *testing.T) {
	ts := time.Date(2025, time.March, 3, 9, 0, 0, 0, time.UTC)
	RecordSessionPersisted(ts)
	RecordSessionPersisted(time.Time{})
	require.Equal(t, float64(ts.Unix()), testutil.ToFloat64(sessionPersistGauge))
}

func TestRecordSessionFinishedObservesSeconds(t *testing.T) {
	before := histogramCount(t)
	RecordSessionFinished(90 * time.Minute)
	RecordSessionFinished(-time.Second)
	require.Equal(t, before+1, histogramCount(t))
}

func histogramCount(t *testing.T) uint64 {
	t.Helper()
	var metric dto.Metric
	require.NoError(t, sessionDuration.Write(&metric))
	return metric.GetHistogram().GetSampleCount()
}
