package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMiddleware_LabelsByRoutePattern(t *testing.T) {
	r := chi.NewRouter()
	r.Use(Middleware)
	r.Get("/api/v1/lp/{address}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	before := testutil.ToFloat64(HTTPRequestsTotal.WithLabelValues("GET", "/api/v1/lp/{address}", "418"))
	for _, addr := range []string{"alice", "bob"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/api/v1/lp/"+addr, nil))
	}
	after := testutil.ToFloat64(HTTPRequestsTotal.WithLabelValues("GET", "/api/v1/lp/{address}", "418"))

	if after-before != 2 {
		t.Fatalf("expected 2 requests under the route pattern, got %v", after-before)
	}
}

func TestObserveSeed(t *testing.T) {
	ok := testutil.ToFloat64(WorstCaseSeeds.WithLabelValues("converged"))
	bad := testutil.ToFloat64(WorstCaseSeeds.WithLabelValues("rejected"))

	ObserveSeed(true)
	ObserveSeed(false)
	ObserveSeed(false)

	if got := testutil.ToFloat64(WorstCaseSeeds.WithLabelValues("converged")) - ok; got != 1 {
		t.Errorf("converged: got %v, want 1", got)
	}
	if got := testutil.ToFloat64(WorstCaseSeeds.WithLabelValues("rejected")) - bad; got != 2 {
		t.Errorf("rejected: got %v, want 2", got)
	}
}

func TestHijack_UnsupportedWriter(t *testing.T) {
	w := &statusWriter{ResponseWriter: httptest.NewRecorder(), status: 200}
	if _, _, err := w.Hijack(); err == nil {
		t.Fatal("expected error from a recorder that cannot hijack")
	}
}
