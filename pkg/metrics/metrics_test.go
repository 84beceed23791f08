package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCounters(t *testing.T) {
	before := testutil.ToFloat64(RecordsClassified.WithLabelValues(KindFeature))
	RecordsClassified.WithLabelValues(KindFeature).Add(3)
	assert.Equal(t, before+3, testutil.ToFloat64(RecordsClassified.WithLabelValues(KindFeature)))

	misses := testutil.ToFloat64(MergeMisses)
	MergeMisses.Inc()
	assert.Equal(t, misses+1, testutil.ToFloat64(MergeMisses))
}

func TestTimer(t *testing.T) {
	timer := NewTimer(StageMerge)
	assert.GreaterOrEqual(t, int64(timer.Stop()), int64(0))
}

func TestHandler(t *testing.T) {
	TablesCreated.Inc()

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "gpkgsink_tables_created_total")
}
