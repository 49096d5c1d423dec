package tcrweb

import (
	"log"
	"net/http"
	"time"

	"github.com/peterbourgon/tcr/internal/tcrutil"
)

// LogMiddleware decorates an HTTP handler with a request log line: remote
// address, method, URL, response code, bytes written, and duration. Meant
// for the agent's operational logging; anything fancier belongs to the
// embedding process.
func LogMiddleware(logger *log.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			iw := newInterceptor(w)

			defer func(b time.Time) {
				logger.Printf("%s %s %s -> HTTP %d, %s, %s",
					r.RemoteAddr, r.Method, r.URL.String(),
					iw.Code(),
					tcrutil.HumanizeBytes(iw.Written()),
					tcrutil.HumanizeDuration(time.Since(b)),
				)
			}(time.Now())

			next.ServeHTTP(iw, r)
		})
	}
}

//
//
//

type interceptor struct {
	http.ResponseWriter

	flush func()
	code  int
	n     int
}

func newInterceptor(w http.ResponseWriter) *interceptor {
	flush := func() {}
	if f, ok := w.(http.Flusher); ok {
		flush = f.Flush
	}
	return &interceptor{ResponseWriter: w, flush: flush}
}

func (i *interceptor) WriteHeader(code int) {
	if i.code == 0 {
		i.code = code
	}
	i.ResponseWriter.WriteHeader(code)
}

func (i *interceptor) Write(p []byte) (int, error) {
	n, err := i.ResponseWriter.Write(p)
	i.n += n
	return n, err
}

func (i *interceptor) Code() int {
	if i.code == 0 {
		return http.StatusOK
	}
	return i.code
}

func (i *interceptor) Written() int {
	return i.n
}

func (i *interceptor) Flush() {
	i.flush()
}
