package metrics

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func scrape(t *testing.T, h http.Handler) string {
	t.Helper()
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d want 200", rr.Code)
	}
	return rr.Body.String()
}

func TestInit_RegistryIsPrivate(t *testing.T) {
	a := Init(Config{Build: BuildInfo{Version: "1.2.0", Revision: "abc"}})
	b := Init(Config{})

	c := prometheus.NewCounter(prometheus.CounterOpts{Name: "inval_test_total", Help: "x"})
	a.Register(c)
	c.Inc()

	if body := scrape(t, a.Handler()); !strings.Contains(body, "inval_test_total 1") ||
		!strings.Contains(body, `version="1.2.0"`) || !strings.Contains(body, "go_goroutines") {
		t.Fatalf("unexpected payload:\n%s", body)
	}
	body := scrape(t, b.Handler())
	if strings.Contains(body, "inval_test_total") {
		t.Fatalf("collector leaked into a second provider")
	}
	if !strings.Contains(body, `version="dev"`) {
		t.Fatalf("empty version should read dev:\n%s", body)
	}
}

func TestServe_DedicatedListener(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	_ = ln.Close()

	p := Init(Config{Enabled: true, Addr: addr, Path: "/prom"})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Serve(ctx) }()

	var (
		resp *http.Response
		body []byte
	)
	deadline := time.Now().Add(2 * time.Second)
	for {
		resp, err = http.Get("http://" + addr + "/prom")
		if err == nil {
			break
		}
		if time.Now().After(deadline) {
			cancel()
			t.Fatalf("metrics listener never came up: %v", err)
		}
		time.Sleep(20 * time.Millisecond)
	}
	body, _ = io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(body), "app_build_info") {
		t.Fatalf("status=%d body=%s", resp.StatusCode, body)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Serve: %v", err)
		}
	case <-time.After(6 * time.Second):
		t.Fatalf("Serve did not stop")
	}
}
