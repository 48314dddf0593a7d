package observe

import (
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func serve(t *testing.T, m *Metrics, status int, path string, hdr map[string]string) (*httptest.ResponseRecorder, string) {
	t.Helper()
	var cid string
	h := Middleware(m)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cid = CorrelationID(r.Context())
		w.WriteHeader(status)
	}))
	req := httptest.NewRequest(http.MethodGet, path, nil)
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec, cid
}

func TestMiddleware_CorrelationID(t *testing.T) {
	installTracer(t)
	m, _ := newTestMetrics(t)

	rec, cid := serve(t, m, http.StatusOK, "/v1/speak", nil)
	if len(cid) != 32 {
		t.Fatalf("correlation ID = %q, want 32 hex characters", cid)
	}
	if got := rec.Header().Get("X-Correlation-ID"); got != cid {
		t.Errorf("X-Correlation-ID = %q, want %q", got, cid)
	}

	const traceID = "4bf92f3577b34da6a3ce929d0e0e4736"
	rec, cid = serve(t, m, http.StatusOK, "/v1/speak", map[string]string{
		"traceparent": "00-" + traceID + "-00f067aa0ba902b7-01",
	})
	if cid != traceID || rec.Header().Get("X-Correlation-ID") != traceID {
		t.Errorf("incoming trace context not propagated: cid %q header %q", cid, rec.Header().Get("X-Correlation-ID"))
	}
}

func TestMiddleware_SpanAndStatus(t *testing.T) {
	exp := installTracer(t)
	m, _ := newTestMetrics(t)

	rec, _ := serve(t, m, http.StatusNotFound, "/v1/journal", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}

	spans := exp.GetSpans()
	if len(spans) != 1 || spans[0].Name != "HTTP GET /v1/journal" {
		t.Fatalf("spans = %v", spans)
	}
	found := false
	for _, a := range spans[0].Attributes {
		if a.Key == "http.response.status_code" && a.Value.AsInt64() == 404 {
			found = true
		}
	}
	if !found {
		t.Error("span missing http.response.status_code=404")
	}
}

func TestMiddleware_RecordsDuration(t *testing.T) {
	installTracer(t)
	m, reader := newTestMetrics(t)

	serve(t, m, http.StatusAccepted, "/v1/listen/start", nil)

	met := findMetric(collect(t, reader), "parley.http.request.duration")
	if met == nil {
		t.Fatal("metric not found")
	}
	hist := met.Data.(metricdata.Histogram[float64])
	if len(hist.DataPoints) != 1 || hist.DataPoints[0].Count != 1 {
		t.Fatalf("data points = %+v", hist.DataPoints)
	}
	attrs := hist.DataPoints[0].Attributes
	want := map[attribute.Key]string{"method": "GET", "path": "/v1/listen/start"}
	for k, v := range want {
		if got, ok := attrs.Value(k); !ok || got.AsString() != v {
			t.Errorf("attribute %s = %v, want %s", k, got, v)
		}
	}
	if got, ok := attrs.Value("status"); !ok || got.AsInt64() != http.StatusAccepted {
		t.Errorf("attribute status = %v, want 202", got)
	}
}

func TestMiddleware_RecordsRoutePattern(t *testing.T) {
	installTracer(t)
	m, reader := newTestMetrics(t)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/voices/{id}", func(w http.ResponseWriter, _ *http.Request) {})
	h := Middleware(m)(mux)
	for _, id := range []string{"rachel", "adam", "bella"} {
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/v1/voices/"+id, nil))
	}

	met := findMetric(collect(t, reader), "parley.http.request.duration")
	if met == nil {
		t.Fatal("metric not found")
	}
	hist := met.Data.(metricdata.Histogram[float64])
	if len(hist.DataPoints) != 1 || hist.DataPoints[0].Count != 3 {
		t.Fatalf("data points = %+v, want one series with 3 samples", hist.DataPoints)
	}
	if got, _ := hist.DataPoints[0].Attributes.Value("path"); got.AsString() != "/v1/voices/{id}" {
		t.Errorf("path attribute = %q, want route pattern", got.AsString())
	}
}

func TestMiddleware_ProbesLogAtDebug(t *testing.T) {
	installTracer(t)
	m, _ := newTestMetrics(t)
	buf := captureLogs(t, slog.LevelInfo)

	serve(t, m, http.StatusOK, "/healthz", nil)
	if strings.Contains(buf.String(), "request completed") {
		t.Errorf("probe request logged at info: %s", buf)
	}
	serve(t, m, http.StatusOK, "/v1/speak", nil)
	if !strings.Contains(buf.String(), "path=/v1/speak") {
		t.Errorf("API request not logged: %s", buf)
	}
}
