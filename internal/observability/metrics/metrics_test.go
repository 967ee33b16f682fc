package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestObserveHTTPRequestCountsErrors(t *testing.T) {
	before := testutil.ToFloat64(httpErrors.WithLabelValues("/api/test", "POST"))
	ObserveHTTPRequest("/api/test", "POST", 502, 10*time.Millisecond)
	ObserveHTTPRequest("/api/test", "POST", 200, 10*time.Millisecond)

	if got := testutil.ToFloat64(httpErrors.WithLabelValues("/api/test", "POST")); got != before+1 {
		t.Fatalf("expected one more error, got %v", got-before)
	}
	if got := testutil.ToFloat64(httpRequests.WithLabelValues("/api/test", "POST", "200")); got < 1 {
		t.Fatalf("request counter not incremented")
	}
}

func TestHandlerExposesDomainMetrics(t *testing.T) {
	ObserveDispatch("brokerage")
	ObserveTool("get_realtime_quote", "success", time.Millisecond)
	ObserveTask("succeeded")
	ObserveChat("completed")

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)

	for _, name := range []string{
		"leno_dispatch_routes_total",
		"leno_tool_invocations_total",
		"leno_tool_duration_seconds",
		"leno_tasks_total",
		"leno_chat_replies_total",
	} {
		if !strings.Contains(string(body), name) {
			t.Fatalf("metric %s missing from exposition", name)
		}
	}
}
