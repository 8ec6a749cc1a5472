package metrics

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestHandlerExposesRecordedCalculation(t *testing.T) {
	RecordCalculation("loan", "success", 5*time.Millisecond)
	SetCacheHitRatio(0.5)
	SetActiveWorkers(3)
	RecordWorkerReplacement()

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/metrics", nil)
	Handler().ServeHTTP(rec, req)

	require.Equal(t, 200, rec.Code)
	body := rec.Body.String()
	require.Contains(t, body, "calcengine_engine_calculations_total")
	require.Contains(t, body, "calcengine_cache_hit_ratio")
	require.Contains(t, body, "calcengine_pool_active_workers")
	require.Contains(t, body, "calcengine_pool_worker_replacements_total")
}
