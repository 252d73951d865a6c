package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/mohammed-shakir/wmts-cache-manager/internal/core/observability"
)

func assertHasMetricLine(t *testing.T, body, metric string, wantLabels ...string) {
	t.Helper()
	for ln := range strings.SplitSeq(body, "\n") {
		if !strings.HasPrefix(ln, metric+"{") {
			continue
		}
		ok := true
		for _, s := range wantLabels {
			if !strings.Contains(ln, s) {
				ok = false
				break
			}
		}
		if ok && (len(ln) > 0 && ln[len(ln)-1] >= '0' && ln[len(ln)-1] <= '9') {
			return
		}
	}
	t.Fatalf("expected a %s line with labels %v; got:\n%s", metric, wantLabels, body)
}

func Test_AppMetrics_CustomRegistry_Smoke(t *testing.T) {
	p := Init(Config{Build: BuildInfo{Version: "test"}})
	observability.Init(p.Registerer())

	observability.ObserveCacheOp("zrange", nil, 0.002)
	observability.ObserveCacheOp("del", errors.New("down"), 0.001)
	observability.ObserveCascade("remove_project", "ok", 3, 0, 0.05)
	observability.ObserveHTTP("DELETE", "/collections/{id}", 200, 0.01)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()
	p.Handler().ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d", rr.Code)
	}
	body := rr.Body.String()

	assertHasMetricLine(t, body, "cache_op_total", `op="del"`, `result="error"`)
	assertHasMetricLine(t, body, "cascade_total", `op="remove_project"`, `outcome="ok"`)
	assertHasMetricLine(t, body, "cascade_items_total", `result="removed"`)
	assertHasMetricLine(t, body, "http_requests_total", `method="DELETE"`, `status="200"`)
	assertHasMetricLine(t, body, "app_build_info", `version="test"`)
}

func TestServe_DisabledReturnsImmediately(t *testing.T) {
	p := Init(Config{Enabled: false})
	if err := p.Serve(t.Context()); err != nil {
		t.Fatalf("Serve: %v", err)
	}
}
