package main

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/linnemanlabs/go-core/httpmw"
	"github.com/linnemanlabs/go-core/log"
)

// maxBodyBytes bounds request bodies; end-of-call reports carry full transcripts.
const maxBodyBytes = 1 << 20

// newRouter returns the API router with route-aware middleware and the health
// endpoints mounted. Domain routes are registered by the caller.
func newRouter(healthz, readyz http.Handler) *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.Compress(5, "application/json"))
	r.Use(httpmw.AnnotateHTTPRoute)
	r.Use(httpmw.AccessLog())
	r.Use(httpmw.MaxBody(maxBodyBytes))

	r.Method(http.MethodGet, "/-/healthy", healthz)
	r.Method(http.MethodGet, "/-/ready", readyz)
	return r
}

// wrapAPI applies the outer middleware. Listed innermost first: the request
// logger sees trace and route data, while security headers and panic recovery
// wrap everything.
func wrapAPI(h http.Handler, L log.Logger, instrument func(http.Handler) http.Handler, mw httpmw.Config) http.Handler {
	h = httpmw.WithLogger(L)(h)
	h = httpmw.TraceResponseHeaders("X-Trace-Id", "X-Span-Id")(h)
	h = otelhttp.NewHandler(h, "http.server",
		otelhttp.WithFilter(traced),
		// renamed to the route pattern by AnnotateHTTPRoute
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + r.URL.Path
		}),
		// webhooks arrive from Vapi and Telegram, never from a traced client
		otelhttp.WithPublicEndpointFn(func(*http.Request) bool { return true }),
	)
	h = instrument(h)
	h = httpmw.ClientIPWithOptions(httpmw.ClientIPOptions{TrustedHops: mw.TrustedProxyHops})(h)
	h = httpmw.RequestID("X-Request-Id")(h)
	h = httpmw.Recover(L, nil)(h)
	return httpmw.SecurityHeaders(h)
}

// traced skips health probes.
func traced(r *http.Request) bool {
	return !strings.HasPrefix(r.URL.Path, "/-/")
}
