// Package middleware provides HTTP middleware for the API.
package middleware

import (
	"context"
	"log"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

// RequestIDHeader carries the short request id in responses.
const RequestIDHeader = "X-Request-ID"

const requestIDKey contextKey = "request_id"

// inboundID accepts ids set by a fronting proxy.
var inboundID = regexp.MustCompile(`^[A-Za-z0-9-]{8,64}$`)

// statusRecorder captures what the handler wrote.
type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (sr *statusRecorder) WriteHeader(status int) {
	sr.status = status
	sr.ResponseWriter.WriteHeader(status)
}

func (sr *statusRecorder) Write(b []byte) (int, error) {
	n, err := sr.ResponseWriter.Write(b)
	sr.bytes += n
	return n, err
}

// GetRequestID returns the id RequestLogger assigned to the request.
func GetRequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

// logPath drops the secret token segment of webhook URLs.
func logPath(path string) string {
	rest, ok := strings.CutPrefix(path, "/webhook/")
	if !ok {
		return path
	}
	id, _, _ := strings.Cut(rest, "/")
	return "/webhook/" + id + "/***"
}

// RequestLogger tags every request with an id and logs
// "[id] METHOD path status bytes duration". Unless verbose, only responses
// with status >= 400 are logged.
func RequestLogger(verbose bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			id := r.Header.Get(RequestIDHeader)
			if !inboundID.MatchString(id) {
				id = uuid.NewString()[:8]
			}
			w.Header().Set(RequestIDHeader, id)

			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r.WithContext(context.WithValue(r.Context(), requestIDKey, id)))

			if !verbose && rec.status < 400 {
				return
			}
			log.Printf("[%s] %s %s %d %d %v",
				id, r.Method, logPath(r.URL.Path), rec.status, rec.bytes, time.Since(start).Round(time.Microsecond))
		})
	}
}
