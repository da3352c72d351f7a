package metrics_test

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/smartml/pkg/metrics"
)

func TestMetricsNilSafe(t *testing.T) {
	t.Parallel()

	var m *metrics.Metrics
	assert.NotPanics(t, func() {
		m.Decision("api_call", true, "", time.Millisecond)
		m.Release("api_call", true)
		m.Transition("cancel", "active", "cancelled_pending")
		m.Webhook("razorpay", "payment_succeeded", "ok")
		m.Swept("transitioned")
	})
}

func TestMetricsHandler(t *testing.T) {
	t.Parallel()

	m := metrics.New()
	m.Decision("model_train", false, "limit_exceeded", 3*time.Millisecond)
	m.Decision("model_train", true, "", time.Millisecond)
	m.Transition("cancel", "active", "cancelled_pending")

	count, err := testutil.GatherAndCount(m.Registry(), "smartml_entitlement_decisions_total")
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(body),
		`smartml_entitlement_decisions_total{allowed="false",reason="limit_exceeded",resource="model_train"} 1`))
	assert.True(t, strings.Contains(string(body),
		`smartml_subscription_transitions_total{event="cancel",from="active",to="cancelled_pending"} 1`))
}
