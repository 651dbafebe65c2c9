package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestRegistry(t *testing.T) {
	if Registry == nil {
		t.Error("Registry should not be nil")
	}

	if Registry != prometheus.DefaultRegisterer {
		t.Error("Registry should be the default Prometheus registerer")
	}
}

func TestHandler_ServesBuildInfo(t *testing.T) {
	SetBuildInfo("v1.2.3")
	SetBuildInfo("v1.2.4")

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	body, _ := io.ReadAll(rec.Body)
	output := string(body)

	if !strings.Contains(output, `serenissima_build_info{version="v1.2.4"} 1`) {
		t.Errorf("Expected current build info in output")
	}
	if strings.Contains(output, `version="v1.2.3"`) {
		t.Errorf("Expected previous build info to be reset")
	}
	if !strings.Contains(output, "promhttp_metric_handler_requests_total") {
		t.Errorf("Expected handler self-instrumentation in output")
	}
}
