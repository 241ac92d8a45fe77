package observability

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// RouteFunc returns the route pattern a request matched, used as a low
// cardinality metric label.
type RouteFunc func(*http.Request) string

// HTTPMiddleware traces each request and records HTTP metrics. route is
// evaluated after the handler ran so routers can fill in their pattern.
func HTTPMiddleware(route RouteFunc) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			ctx, span := GetTracer("finrag.http").Start(r.Context(), SpanHTTPRequest,
				trace.WithAttributes(
					attribute.String(AttrHTTPMethod, r.Method),
					attribute.String("http.path", r.URL.Path),
				),
			)
			defer span.End()
			r = r.WithContext(ctx)

			wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(wrapped, r)

			pattern := r.URL.Path
			if route != nil {
				if p := route(r); p != "" {
					pattern = p
				}
			}

			span.SetAttributes(
				attribute.String(AttrHTTPRoute, pattern),
				attribute.Int(AttrHTTPStatusCode, wrapped.statusCode),
			)
			if wrapped.statusCode >= 500 {
				span.SetStatus(codes.Error, http.StatusText(wrapped.statusCode))
			}

			GetGlobalMetrics().RecordHTTPRequest(ctx, r.Method, pattern, wrapped.statusCode, time.Since(start), wrapped.bytesWritten)
		})
	}
}

type responseWriter struct {
	http.ResponseWriter
	statusCode   int
	bytesWritten int
	wroteHeader  bool
}

func (w *responseWriter) WriteHeader(code int) {
	if !w.wroteHeader {
		w.statusCode = code
		w.wroteHeader = true
		w.ResponseWriter.WriteHeader(code)
	}
}

func (w *responseWriter) Write(b []byte) (int, error) {
	if !w.wroteHeader {
		w.WriteHeader(http.StatusOK)
	}
	n, err := w.ResponseWriter.Write(b)
	w.bytesWritten += n
	return n, err
}

func (w *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if hijacker, ok := w.ResponseWriter.(http.Hijacker); ok {
		return hijacker.Hijack()
	}
	return nil, nil, fmt.Errorf("ResponseWriter does not implement http.Hijacker")
}

// Flush keeps SSE streaming on the MCP endpoint working.
func (w *responseWriter) Flush() {
	if flusher, ok := w.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}
