package middleware

import (
	"net/http"
	"strings"

	"github.com/pvcast/pvcast/internal/api/models"
)

// SecurityHeaders sets models.SecurityHeaders on every response.
func SecurityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		for _, sh := range models.SecurityHeaders {
			h.Set(sh.Name, sh.Value)
		}
		next.ServeHTTP(w, r)
	})
}

// RequireTLS rejects plain HTTP requests when enabled. It trusts the scheme
// reported by a reverse proxy; with several proxies the first (client-facing)
// entry counts. Requests without the header are direct connections and pass.
func RequireTLS(enabled bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if !enabled {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			proto := forwardedProto(r)
			if proto == "" || strings.EqualFold(proto, "https") {
				next.ServeHTTP(w, r)
				return
			}
			problem := models.NewProblem(
				models.ProblemTypeTLSRequired,
				"TLS required",
				http.StatusForbidden,
				GetRequestID(r.Context()),
			)
			problem.Detail = "pvcast only accepts HTTPS requests"
			problem.Instance = r.URL.Path
			problem.Write(w)
		})
	}
}

func forwardedProto(r *http.Request) string {
	proto := r.Header.Get(models.HeaderForwardedProto)
	if i := strings.IndexByte(proto, ','); i >= 0 {
		proto = proto[:i]
	}
	return strings.TrimSpace(proto)
}
