package observe

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// instrumented wires a mux shaped like the control API behind Middleware and
// installs an in-memory tracer as the global provider for the test.
type instrumented struct {
	handler http.Handler
	metrics *Metrics
	reader  *sdkmetric.ManualReader
	spans   *tracetest.InMemoryExporter
}

func newInstrumented(t *testing.T) *instrumented {
	t.Helper()

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		otel.SetTracerProvider(prev)
		_ = tp.Shutdown(context.Background())
	})

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/live", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"state":"idle"}`))
	})
	mux.HandleFunc("POST /api/live/start", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})
	mux.HandleFunc("POST /api/live/stop", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.WriteHeader(http.StatusTeapot) // superfluous, ignored
	})
	mux.HandleFunc("GET /sessions/{id}", func(w http.ResponseWriter, _ *http.Request) {})

	return &instrumented{handler: Middleware(m)(mux), metrics: m, reader: reader, spans: exp}
}

func (in *instrumented) do(method, path string, header http.Header) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	for k, v := range header {
		req.Header[k] = v
	}
	rec := httptest.NewRecorder()
	in.handler.ServeHTTP(rec, req)
	return rec
}

func (in *instrumented) durations(t *testing.T) metricdata.Histogram[float64] {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := in.reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	met := findMetric(rm, "signbridge.http.request.duration")
	if met == nil {
		t.Fatal("request duration metric missing")
	}
	return met.Data.(metricdata.Histogram[float64])
}

func TestMiddleware_CorrelationHeaderMatchesContext(t *testing.T) {
	in := newInstrumented(t)

	var seen string
	in.handler = Middleware(in.metrics)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = CorrelationID(r.Context())
	}))
	rec := in.do("GET", "/api/live", nil)

	if len(seen) != 32 {
		t.Fatalf("correlation id = %q, want a 32-char trace id", seen)
	}
	if got := rec.Header().Get(CorrelationHeader); got != seen {
		t.Errorf("%s = %q, want %q", CorrelationHeader, got, seen)
	}
}

func TestMiddleware_ContinuesIncomingTrace(t *testing.T) {
	in := newInstrumented(t)
	const traceID = "4bf92f3577b34da6a3ce929d0e0e4736"

	rec := in.do("GET", "/api/live", http.Header{
		"Traceparent": {"00-" + traceID + "-00f067aa0ba902b7-01"},
	})

	if got := rec.Header().Get(CorrelationHeader); got != traceID {
		t.Errorf("%s = %q, want %q", CorrelationHeader, got, traceID)
	}
	spans := in.spans.GetSpans()
	if len(spans) != 1 || spans[0].SpanContext.TraceID().String() != traceID {
		t.Errorf("span did not join the incoming trace: %+v", spans)
	}
}

func TestMiddleware_SpanPerRoute(t *testing.T) {
	tests := []struct {
		method, path string
		wantName     string
		wantStatus   int
		wantError    bool
	}{
		{"GET", "/api/live", "GET /api/live", http.StatusOK, false},
		{"POST", "/api/live/start", "POST /api/live/start", http.StatusBadGateway, true},
		{"POST", "/api/live/stop", "POST /api/live/stop", http.StatusOK, false},
		{"GET", "/nowhere", "GET /nowhere", http.StatusNotFound, false},
	}
	for _, tt := range tests {
		t.Run(tt.wantName, func(t *testing.T) {
			in := newInstrumented(t)
			rec := in.do(tt.method, tt.path, nil)
			if rec.Code != tt.wantStatus {
				t.Errorf("response code = %d, want %d", rec.Code, tt.wantStatus)
			}

			spans := in.spans.GetSpans()
			if len(spans) != 1 {
				t.Fatalf("spans = %d, want 1", len(spans))
			}
			sp := spans[0]
			if sp.Name != tt.wantName {
				t.Errorf("span name = %q, want %q", sp.Name, tt.wantName)
			}
			var status int64
			for _, a := range sp.Attributes {
				if a.Key == "http.response.status_code" {
					status = a.Value.AsInt64()
				}
			}
			if status != int64(tt.wantStatus) {
				t.Errorf("span status attribute = %d, want %d", status, tt.wantStatus)
			}
			if got := sp.Status.Code == codes.Error; got != tt.wantError {
				t.Errorf("span error = %v, want %v", got, tt.wantError)
			}
		})
	}
}

func TestMiddleware_DurationLabelledByPattern(t *testing.T) {
	in := newInstrumented(t)
	for _, id := range []string{"a", "b", "c"} {
		in.do("GET", "/sessions/"+id, nil)
	}
	in.do("POST", "/api/live/start", nil)

	hist := in.durations(t)
	byPath := map[string]metricdata.HistogramDataPoint[float64]{}
	for _, dp := range hist.DataPoints {
		v, _ := dp.Attributes.Value("path")
		byPath[v.AsString()] = dp
	}
	if len(byPath) != 2 {
		t.Fatalf("paths = %v, want one series per route", byPath)
	}

	dp, ok := byPath["GET /sessions/{id}"]
	if !ok || dp.Count != 3 {
		t.Errorf("GET /sessions/{id} count = %d, want 3", dp.Count)
	}
	start := byPath["POST /api/live/start"]
	if v, _ := start.Attributes.Value("status_class"); v.AsString() != "5xx" {
		t.Errorf("status_class = %q, want 5xx", v.AsString())
	}
	if v, _ := start.Attributes.Value("method"); v.AsString() != "POST" {
		t.Errorf("method = %q, want POST", v.AsString())
	}
}

func TestResponseWriter_ImplicitOK(t *testing.T) {
	rec := httptest.NewRecorder()
	rw := &responseWriter{ResponseWriter: rec}
	if rw.code() != http.StatusOK {
		t.Errorf("code before write = %d, want 200", rw.code())
	}
	_, _ = rw.Write([]byte("x"))
	rw.WriteHeader(http.StatusInternalServerError)
	if rw.code() != http.StatusOK {
		t.Errorf("code = %d, want first status 200", rw.code())
	}
	if rw.Unwrap() != rec {
		t.Error("Unwrap does not return the wrapped writer")
	}
}
