package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCountersIncrement(t *testing.T) {
	m := New()
	m.ObserveMessage("ok", 20*time.Millisecond)
	m.ObserveMessage("ok", 10*time.Millisecond)
	m.Transaction("AIRTIME_SELF", "COMPLETED")
	m.PINFailure()
	m.Lockout()

	if got := testutil.ToFloat64(m.messages.WithLabelValues("ok")); got != 2 {
		t.Fatalf("expected 2 messages, got %v", got)
	}
	if got := testutil.ToFloat64(m.transactions.WithLabelValues("AIRTIME_SELF", "COMPLETED")); got != 1 {
		t.Fatalf("expected 1 transaction, got %v", got)
	}
	if got := testutil.ToFloat64(m.lockouts); got != 1 {
		t.Fatalf("expected 1 lockout, got %v", got)
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.ObserveMessage("ok", time.Second)
	m.FlowStarted("BUY_AIRTIME")
	m.OTPIssued("REGISTRATION")
}

func TestHandlerExposesMetrics(t *testing.T) {
	m := New()
	m.FlowStarted("BUY_DATA")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), `chatwallet_flow_starts_total{flow="BUY_DATA"} 1`) {
		t.Fatalf("flow start missing from exposition:\n%s", body)
	}
}
