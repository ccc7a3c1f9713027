// Package web serves the browsing and status interface over HTTP:
// current dashboard images, archive browsing, run history, and a manual
// advance trigger. Everything except the advance endpoint is read-only;
// the server is meant for a trusted network and carries no auth.
package web

import (
	"context"
	"net"
	"net/http"
	"time"

	"inkdash/internal/config"
	logx "inkdash/pkg/logx"
)

// Server wraps http.Server with the daemon's run-until-canceled shape.
type Server struct {
	log logx.Logger
	srv *http.Server
}

func NewServer(cfg config.Web, h http.Handler, log logx.Logger) *Server {
	return &Server{
		log: log,
		srv: &http.Server{
			Addr:         cfg.Listen,
			Handler:      withRequestLog(h, log),
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
	}
}

// Run serves until ctx is canceled, then drains in-flight requests.
// A listen failure is returned immediately and is fatal to the caller.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return err
	}
	s.log.Info("web interface listening", logx.String("addr", ln.Addr().String()))

	errc := make(chan error, 1)
	go func() { errc <- s.srv.Serve(ln) }()

	select {
	case <-ctx.Done():
		shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.srv.Shutdown(shCtx)
		<-errc
		return ctx.Err()
	case err := <-errc:
		return err
	}
}

// statusWriter records the response code for the request log.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func withRequestLog(next http.Handler, log logx.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)
		if !log.IsZero() {
			log.Debug("http request",
				logx.String("method", r.Method),
				logx.String("path", r.URL.Path),
				logx.Int("status", sw.status),
				logx.Duration("took", time.Since(start)),
			)
		}
	})
}
