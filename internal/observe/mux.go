package observe

import (
	"net/http"
	"slices"
	"strings"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Mux is a ServeMux where routes are traced by default. Each traced route
// gets a server span named for its pattern rather than the raw URL.
type Mux struct {
	routes *http.ServeMux
}

func NewMux() *Mux {
	return &Mux{
		routes: http.NewServeMux(),
	}
}

// Handle registers a traced route.
func (mux *Mux) Handle(pattern string, handler http.Handler) {
	route := TrimMethod(pattern)

	taggedHandler := otelhttp.NewHandler(
		handler,
		route,
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + route
		}),
	)

	mux.routes.Handle(pattern, taggedHandler)
}

// HandleUntraced registers a route that bypasses telemetry: health checks,
// and connections that are hijacked and outlive the request.
func (mux *Mux) HandleUntraced(pattern string, handler http.Handler) {
	mux.routes.Handle(pattern, handler)
}

func (mux *Mux) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	mux.routes.ServeHTTP(w, r)
}

var methods = []string{
	http.MethodConnect,
	http.MethodDelete,
	http.MethodGet,
	http.MethodHead,
	http.MethodOptions,
	http.MethodPatch,
	http.MethodPost,
	http.MethodPut,
	http.MethodTrace,
}

// TrimMethod strips a leading HTTP method from a route pattern.
func TrimMethod(pattern string) string {
	method, resource, hasMethod := strings.Cut(pattern, " ")
	if hasMethod && slices.Contains(methods, method) {
		return resource
	}
	return pattern
}
