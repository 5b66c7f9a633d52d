package prometheus_test

import (
	"io"
	"net"
	"net/http"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttputil"

	"github.com/fluxorio/diskbuffer/pkg/diskbuffer"
	dbprom "github.com/fluxorio/diskbuffer/pkg/observability/prometheus"
)

// TestMetricsEndpoint_Integration scrapes /metrics over an in-memory listener.
func TestMetricsEndpoint_Integration(t *testing.T) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(dbprom.NewBufferCollector("scrape", staticUsage{
		ReceivedEventCount: 5,
		BufferedRecords:    2,
	}))

	handler := dbprom.Router(dbprom.FastHTTPHandler(reg), func(ctx *fasthttp.RequestCtx) {
		ctx.SetStatusCode(fasthttp.StatusOK)
		ctx.SetBodyString("ok")
	})

	ln := fasthttputil.NewInmemoryListener()
	go func() {
		srv := &fasthttp.Server{Handler: handler}
		_ = srv.Serve(ln)
	}()
	defer ln.Close()

	httpClient := &http.Client{
		Transport: &http.Transport{
			Dial: func(network, addr string) (net.Conn, error) {
				return ln.Dial()
			},
		},
	}

	t.Run("ScrapeMetrics", func(t *testing.T) {
		resp, err := httpClient.Get("http://test/metrics")
		if err != nil {
			t.Fatalf("Failed to scrape metrics: %v", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != 200 {
			t.Fatalf("Expected status 200, got %d", resp.StatusCode)
		}
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			t.Fatalf("Failed to read response body: %v", err)
		}

		out := string(body)
		for _, want := range []string{
			`diskbuffer_received_events_total{buffer_id="scrape"} 5`,
			`diskbuffer_buffer_records{buffer_id="scrape"} 2`,
			"diskbuffer_buffer_max_records",
		} {
			if !strings.Contains(out, want) {
				t.Errorf("Metrics output missing %q", want)
			}
		}
	})

	t.Run("Fallback", func(t *testing.T) {
		resp, err := httpClient.Get("http://test/health")
		if err != nil {
			t.Fatalf("request failed: %v", err)
		}
		resp.Body.Close()
		if resp.StatusCode != 200 {
			t.Errorf("Expected status 200, got %d", resp.StatusCode)
		}
	})
}

func TestGetMetrics_UsesDefaultRegistry(t *testing.T) {
	m := dbprom.GetMetrics()
	if m != dbprom.GetMetrics() {
		t.Fatal("GetMetrics should return a singleton")
	}
	m.OnRotate(diskbuffer.RotateInfo{Reason: "size"})

	families, err := dbprom.DefaultRegistry.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	for _, mf := range families {
		if mf.GetName() != "diskbuffer_segment_rotations_total" {
			continue
		}
		for _, metric := range mf.GetMetric() {
			for _, lp := range metric.GetLabel() {
				if lp.GetName() == "service" && lp.GetValue() == "diskbuffer" {
					return
				}
			}
		}
	}
	t.Fatal("rotation counter with service label not found in DefaultRegistry")
}
