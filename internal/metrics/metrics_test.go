package metrics

import (
	"testing"
	"time"

	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"
)

func findMetric(t *testing.T, r *Recorder, name string, labels map[string]string) *dto.Metric {
	t.Helper()
	families, err := r.Gatherer().Gather()
	require.NoError(t, err)

	for _, family := range families {
		if family.GetName() != name {
			continue
		}
		for _, metric := range family.GetMetric() {
			matched := true
			for key, want := range labels {
				found := false
				for _, pair := range metric.GetLabel() {
					if pair.GetName() == key && pair.GetValue() == want {
						found = true
						break
					}
				}
				if !found {
					matched = false
					break
				}
			}
			if matched {
				return metric
			}
		}
	}
	return nil
}

func TestObserveRequest(t *testing.T) {
	recorder := NewRecorder(nil)
	recorder.ObserveRequest("/api/live", "hit", 200, 25*time.Millisecond)
	recorder.ObserveRequest("/api/live", "hit", 200, 30*time.Millisecond)
	recorder.ObserveRequest("/api/live", "unauthorized", 401, time.Millisecond)

	hit := findMetric(t, recorder, "livegate_http_requests_total", map[string]string{
		"endpoint": "/api/live", "outcome": "hit", "status_code": "200",
	})
	require.NotNil(t, hit)
	require.Equal(t, float64(2), hit.GetCounter().GetValue())

	unauthorized := findMetric(t, recorder, "livegate_http_requests_total", map[string]string{
		"endpoint": "/api/live", "outcome": "unauthorized", "status_code": "401",
	})
	require.NotNil(t, unauthorized)
	require.Equal(t, float64(1), unauthorized.GetCounter().GetValue())

	latency := findMetric(t, recorder, "livegate_http_request_duration_seconds", map[string]string{
		"endpoint": "/api/live", "outcome": "hit",
	})
	require.NotNil(t, latency)
	require.Equal(t, uint64(2), latency.GetHistogram().GetSampleCount())
}

func TestObserveRequestNormalizesLabels(t *testing.T) {
	recorder := NewRecorder(nil)
	recorder.ObserveRequest("  ", "", -1, time.Millisecond)

	metric := findMetric(t, recorder, "livegate_http_requests_total", map[string]string{
		"endpoint": "unknown", "outcome": "unknown", "status_code": "unknown",
	})
	require.NotNil(t, metric)
	require.Equal(t, float64(1), metric.GetCounter().GetValue())
}

func TestObserveCacheOperations(t *testing.T) {
	recorder := NewRecorder(nil)
	recorder.ObserveCacheLookup(CacheLookupHit, time.Millisecond)
	recorder.ObserveCacheLookup(CacheLookupMiss, time.Millisecond)
	recorder.ObserveCacheLookup("", time.Millisecond)
	recorder.ObserveCacheStore(true, time.Millisecond)
	recorder.ObserveCacheStore(false, time.Millisecond)

	miss := findMetric(t, recorder, "livegate_cache_operations_total", map[string]string{
		"operation": "lookup", "result": "miss",
	})
	require.NotNil(t, miss)
	require.Equal(t, float64(2), miss.GetCounter().GetValue(), "empty outcome counts as a miss")

	stored := findMetric(t, recorder, "livegate_cache_operations_total", map[string]string{
		"operation": "store", "result": "stored",
	})
	require.NotNil(t, stored)
	require.Equal(t, float64(1), stored.GetCounter().GetValue())

	storeErr := findMetric(t, recorder, "livegate_cache_operations_total", map[string]string{
		"operation": "store", "result": "error",
	})
	require.NotNil(t, storeErr)
	require.Equal(t, float64(1), storeErr.GetCounter().GetValue())
}

func TestObserveUpstreamCall(t *testing.T) {
	recorder := NewRecorder(nil)
	recorder.ObserveUpstreamCall(true, 150*time.Millisecond)
	recorder.ObserveUpstreamCall(false, 2*time.Second)

	success := findMetric(t, recorder, "livegate_upstream_calls_total", map[string]string{"result": "success"})
	require.NotNil(t, success)
	require.Equal(t, float64(1), success.GetCounter().GetValue())

	failure := findMetric(t, recorder, "livegate_upstream_calls_total", map[string]string{"result": "failure"})
	require.NotNil(t, failure)
	require.Equal(t, float64(1), failure.GetCounter().GetValue())
}

func TestObserveSessionOperation(t *testing.T) {
	recorder := NewRecorder(nil)
	recorder.ObserveSessionOperation("authorize", true)
	recorder.ObserveSessionOperation("authorize", false)
	recorder.ObserveSessionOperation("issue", true)

	authorized := findMetric(t, recorder, "livegate_session_operations_total", map[string]string{
		"operation": "authorize", "result": "success",
	})
	require.NotNil(t, authorized)
	require.Equal(t, float64(1), authorized.GetCounter().GetValue())

	issued := findMetric(t, recorder, "livegate_session_operations_total", map[string]string{
		"operation": "issue", "result": "success",
	})
	require.NotNil(t, issued)
	require.Equal(t, float64(1), issued.GetCounter().GetValue())
}

func TestNilRecorderIsInert(t *testing.T) {
	var recorder *Recorder
	recorder.ObserveRequest("/api/live", "hit", 200, time.Millisecond)
	recorder.ObserveCacheLookup(CacheLookupHit, time.Millisecond)
	recorder.ObserveCacheStore(true, time.Millisecond)
	recorder.ObserveUpstreamCall(true, time.Millisecond)
	recorder.ObserveSessionOperation("authorize", true)

	require.NotNil(t, recorder.Handler())
	families, err := recorder.Gatherer().Gather()
	require.NoError(t, err)
	require.Empty(t, families)
}
