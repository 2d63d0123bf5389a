package middleware

import (
	"log"
	"net/http"
	"time"
)

type responseWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func wrapResponseWriter(w http.ResponseWriter) *responseWriter {
	return &responseWriter{ResponseWriter: w}
}

func (rw *responseWriter) Status() int {
	if rw.status == 0 {
		return http.StatusOK
	}
	return rw.status
}

func (rw *responseWriter) WriteHeader(code int) {
	if rw.wroteHeader {
		return
	}

	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
	rw.wroteHeader = true
}

// Logging writes one line per request. Requests that carry a board session
// are tagged with the account so action failures can be traced to a tenant.
func Logging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		holder := &sessionHolder{}
		wrapped := wrapResponseWriter(w)
		next.ServeHTTP(wrapped, r.WithContext(withSessionHolder(r.Context(), holder)))

		if holder.session != nil {
			log.Printf(
				"%s %s %d %s account=%s user=%s",
				r.Method,
				r.URL.Path,
				wrapped.Status(),
				time.Since(start),
				holder.session.AccountID,
				holder.session.UserID,
			)
			return
		}

		log.Printf(
			"%s %s %d %s",
			r.Method,
			r.URL.Path,
			wrapped.Status(),
			time.Since(start),
		)
	})
}
