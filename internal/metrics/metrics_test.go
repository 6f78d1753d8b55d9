package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestHandlerExposesCollectors(t *testing.T) {
	ClaimsFiled.WithLabelValues("water", "accepted").Inc()
	IndexBuilds.WithLabelValues("rebuilt").Inc()

	rr := httptest.NewRecorder()
	Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	body, _ := io.ReadAll(rr.Body)
	for _, name := range []string{"warranty_claims_filed_total", "warranty_index_builds_total", "go_goroutines"} {
		if !strings.Contains(string(body), name) {
			t.Fatalf("metrics output does not contain %s", name)
		}
	}
}
