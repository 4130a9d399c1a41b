package api

import (
	"bufio"
	"context"
	"net"
	"net/http"
	"strings"

	"github.com/pacfleet/pacfleet/pkg/auth"
	"github.com/pacfleet/pacfleet/pkg/errdefs"
	"github.com/pacfleet/pacfleet/pkg/metrics"
)

type contextKey int

const identityKey contextKey = iota

// identityFrom returns the authenticated identity stored by the auth
// middleware, or nil on unauthenticated routes.
func identityFrom(ctx context.Context) *auth.Identity {
	id, _ := ctx.Value(identityKey).(*auth.Identity)
	return id
}

// bearerToken extracts the token from the Authorization header.
func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if h == "" {
		return ""
	}
	parts := strings.SplitN(h, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

// authenticate resolves the bearer token and stores the identity on the
// request context. Routes mounted behind it always see a non-nil identity.
func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := s.auth.Authenticate(r.Context(), bearerToken(r))
		if err != nil {
			writeError(w, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), identityKey, id)))
	})
}

// requireAdmin wraps a handler that only admin tokens may reach.
func (s *Server) requireAdmin(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := s.auth.RequireAdmin(identityFrom(r.Context())); err != nil {
			writeError(w, err)
			return
		}
		next(w, r)
	}
}

// requireSelf wraps a handler acting on the endpoint named by the id path
// variable; admin tokens pass, endpoint tokens only for themselves.
func (s *Server) requireSelf(pathVar string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := s.auth.AuthorizeSelf(identityFrom(r.Context()), pathVarValue(r, pathVar)); err != nil {
			writeError(w, err)
			return
		}
		next(w, r)
	}
}

// statusRecorder captures the response code for request instrumentation.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Hijack passes through so WebSocket upgrades work behind the recorder.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errdefs.Internal.New("response writer does not support hijacking")
	}
	return h.Hijack()
}

// instrument records request counts, latency and an access log line.
func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		timer := metrics.NewTimer()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		metrics.APIRequestsTotal.WithLabelValues(r.Method, httpStatusClass(rec.status)).Inc()
		timer.ObserveDuration(metrics.APIRequestDuration.WithLabelValues(r.Method))
		s.logger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rec.status).
			Dur("duration", timer.Duration()).
			Msg("request")
	})
}

// rejectWhenDraining turns synchronous mutations away while the server is
// shutting down.
func (s *Server) rejectWhenDraining(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.coord.Draining() {
			writeError(w, errdefs.Storage.New("server is shutting down"))
			return
		}
		next(w, r)
	}
}

func httpStatusClass(status int) string {
	switch {
	case status < 300:
		return "2xx"
	case status < 400:
		return "3xx"
	case status < 500:
		return "4xx"
	default:
		return "5xx"
	}
}
