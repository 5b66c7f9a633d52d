package prometheus

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"
)

// FastHTTPHandler serves the metrics in gatherer, or DefaultRegistry when
// gatherer is nil, in the Prometheus exposition format.
func FastHTTPHandler(gatherer prometheus.Gatherer) fasthttp.RequestHandler {
	if gatherer == nil {
		gatherer = DefaultRegistry
	}
	return fasthttpadaptor.NewFastHTTPHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
}

// Router serves /metrics from the handler and everything else with
// fallback, or 404 when fallback is nil.
func Router(metrics, fallback fasthttp.RequestHandler) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		if string(ctx.Path()) == "/metrics" {
			metrics(ctx)
			return
		}
		if fallback != nil {
			fallback(ctx)
			return
		}
		ctx.Error("not found", fasthttp.StatusNotFound)
	}
}
