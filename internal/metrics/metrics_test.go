package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMiddlewareUsesRoutePattern(t *testing.T) {
	r := chi.NewRouter()
	r.Use(Middleware)
	r.Get("/api/pastes/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	base := testutil.ToFloat64(httpReqs.WithLabelValues("GET", "/api/pastes/{id}", "404"))
	baseMiss := testutil.ToFloat64(httpReqs.WithLabelValues("GET", "/nowhere", "404"))

	for _, path := range []string{"/api/pastes/abc", "/api/pastes/def", "/nowhere"} {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		if rec.Code != http.StatusNotFound {
			t.Fatalf("GET %s -> %d", path, rec.Code)
		}
	}

	if got := testutil.ToFloat64(httpReqs.WithLabelValues("GET", "/api/pastes/{id}", "404")); got != base+2 {
		t.Fatalf("route counter = %v; want %v", got, base+2)
	}
	if got := testutil.ToFloat64(httpReqs.WithLabelValues("GET", "/nowhere", "404")); got != baseMiss+1 {
		t.Fatalf("fallback counter = %v; want %v", got, baseMiss+1)
	}
	if inFlight := testutil.ToFloat64(httpInflight); inFlight != 0 {
		t.Fatalf("inflight = %v; want 0", inFlight)
	}
}

func TestLifecycleCounters(t *testing.T) {
	before := testutil.ToFloat64(pasteReads.WithLabelValues(OutcomeViewLimit))
	ObserveRead(OutcomeViewLimit)
	if got := testutil.ToFloat64(pasteReads.WithLabelValues(OutcomeViewLimit)); got != before+1 {
		t.Fatalf("view_limit reads = %v; want %v", got, before+1)
	}

	ObserveCreate()
	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if !strings.Contains(rec.Body.String(), "pastes_created_total") {
		t.Fatalf("exposition missing pastes_created_total")
	}
}
