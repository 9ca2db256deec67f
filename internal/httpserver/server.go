// Package httpserver is a thin wrapper around net/http.Server that ties its
// lifetime to a context.Context, the way utils.HTTP does in the teacher
// repository. TLS and basic-auth support are dropped: spec.md's HTTP surface
// is plain HTTP, and no SPEC_FULL.md component calls for either.
package httpserver

import (
	"context"
	"net"
	"net/http"

	"github.com/gravitational/trace"
	log "github.com/sirupsen/logrus"
)

// Server binds a Handler to a listen address with context-scoped
// start/stop, mirroring utils.HTTP's ListenAndServe/Shutdown pair.
type Server struct {
	listen string
	server http.Server
}

// New builds a Server serving handler on listen.
func New(listen string, handler http.Handler) *Server {
	return &Server{listen: listen, server: http.Server{Addr: listen, Handler: handler}}
}

// ListenAndServe runs the server until ctx is cancelled, at which point the
// underlying listener is closed. It returns nil on a clean shutdown.
func (s *Server) ListenAndServe(ctx context.Context) error {
	defer log.Debug("HTTP server terminated")

	s.server.BaseContext = func(_ net.Listener) context.Context {
		return ctx
	}
	go func() {
		<-ctx.Done()
		_ = s.server.Close()
	}()

	log.Debugf("starting HTTP server on %s", s.listen)
	err := s.server.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return trace.Wrap(err)
}

// Shutdown stops the server gracefully, the way utils.HTTP.Shutdown does.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
