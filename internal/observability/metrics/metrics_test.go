package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestHandlerRendersHTTPAndStageMetrics(t *testing.T) {
	ObserveHTTPRequest("erc20-transfer", "execute", http.MethodPost, http.StatusOK, 30*time.Millisecond)
	ObserveHTTPRequest("erc20-transfer", "execute", http.MethodPost, http.StatusBadGateway, 20*time.Second)
	ObserveStage("erc20-transfer", "commit", "failed", 15*time.Millisecond)

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	text := rec.Body.String()

	for _, want := range []string{
		"# TYPE agenttx_http_requests_total counter",
		`agenttx_http_requests_total{tool="erc20-transfer",operation="execute",method="POST",code="502"} `,
		"# TYPE agenttx_http_request_duration_seconds histogram",
		`agenttx_http_request_duration_seconds_bucket{tool="erc20-transfer",operation="execute",le="+Inf"} `,
		`agenttx_tool_stage_total{tool="erc20-transfer",stage="commit",outcome="failed"} `,
		`agenttx_tool_stage_duration_seconds_bucket{tool="erc20-transfer",stage="commit",outcome="failed",le="0.025"} `,
	} {
		if !strings.Contains(text, want) {
			t.Fatalf("metrics output missing %q:\n%s", want, text)
		}
	}
}

func TestStageCount(t *testing.T) {
	before := StageCount("count-test", "execute", "succeeded")
	ObserveStage("count-test", "execute", "succeeded", time.Millisecond)
	ObserveStage("count-test", "execute", "succeeded", time.Millisecond)
	if got := StageCount("count-test", "execute", "succeeded"); got != before+2 {
		t.Fatalf("expected %d, got %d", before+2, got)
	}
}

func TestHTTPRequestCount(t *testing.T) {
	ObserveHTTPRequest("count-test", "precheck", http.MethodPost, http.StatusBadRequest, time.Millisecond)
	if got := HTTPRequestCount("count-test", "precheck", http.MethodPost, http.StatusBadRequest); got != 1 {
		t.Fatalf("expected 1, got %d", got)
	}
	if got := HTTPRequestCount("count-test", "precheck", http.MethodPost, http.StatusOK); got != 0 {
		t.Fatalf("expected 0, got %d", got)
	}
}

func TestHistogramBucketsAreCumulative(t *testing.T) {
	v := &vec{name: "test_seconds", kind: kindHistogram, labels: []string{"stage"}, series: make(map[string]*series)}
	v.observe(200*time.Millisecond, "x")
	v.observe(20*time.Second, "x")

	s := v.series["x"]
	if s.total != 2 {
		t.Fatalf("expected 2 observations, got %d", s.total)
	}
	// 0.2s lands in 0.25 and every larger bucket; 20s only in +Inf.
	if s.counts[2] != 0 || s.counts[3] != 1 || s.counts[len(s.counts)-1] != 1 {
		t.Fatalf("unexpected bucket counts %v", s.counts)
	}

	var b strings.Builder
	v.write(&b)
	if !strings.Contains(b.String(), `test_seconds_bucket{stage="x",le="+Inf"} 2`) {
		t.Fatalf("unexpected rendering:\n%s", b.String())
	}
}

func TestLabelValuesAreQuoted(t *testing.T) {
	v := &vec{name: "test_total", kind: kindCounter, labels: []string{"stage"}, series: make(map[string]*series)}
	v.inc(`say "hi"`)
	var b strings.Builder
	v.write(&b)
	if !strings.Contains(b.String(), `test_total{stage="say \"hi\""} 1`) {
		t.Fatalf("unexpected rendering:\n%s", b.String())
	}
}
