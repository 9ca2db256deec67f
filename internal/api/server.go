// Package api is the request adapter described in spec.md §4.4: it
// translates HTTP requests into state.State operations and maps results and
// errors onto the HTTP surface fixed by spec.md §6 ("bit-exact for
// compatibility"). Grounded on access/pagerduty/webhook_server.go's router
// wiring and per-request correlation-id pattern in the teacher repository.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gravitational/trace"
	"github.com/julienschmidt/httprouter"
	log "github.com/sirupsen/logrus"
	"go.uber.org/atomic"

	"github.com/gravitational/throttle/internal/lease"
)

// Engine is the subset of state.State the adapter drives. state.State
// satisfies this interface without modification.
type Engine interface {
	Acquire(semaphore string, amount int64, expiresIn time.Duration) (peerID uint64, active bool, err error)
	BlockUntilAcquired(peerID uint64, semaphore string, amount int64, expiresIn, timeout time.Duration) (bool, error)
	Heartbeat(peerID uint64, semaphore string, amount int64, expiresIn time.Duration) error
	Remainder(semaphore string) (int64, error)
	Release(peerID uint64) bool
	RemoveExpired() int
}

// Server wires an Engine behind the fixed HTTP surface of spec.md §6:
//
//	POST   /acquire
//	POST   /leases/:id/block_until_acquired
//	PUT    /leases/:id
//	DELETE /leases/:id
//	GET    /remainder
//	POST   /remove_expired
type Server struct {
	engine  Engine
	router  *httprouter.Router
	counter atomic.Uint64
}

// NewServer builds a Server and registers its routes.
func NewServer(engine Engine) *Server {
	s := &Server{engine: engine, router: httprouter.New()}

	s.router.POST("/acquire", s.withRequestID(s.handleAcquire))
	s.router.POST("/leases/:id/block_until_acquired", s.withRequestID(s.handleBlockUntilAcquired))
	s.router.PUT("/leases/:id", s.withRequestID(s.handleHeartbeat))
	s.router.DELETE("/leases/:id", s.withRequestID(s.handleRelease))
	s.router.GET("/remainder", s.withRequestID(s.handleRemainder))
	s.router.POST("/remove_expired", s.withRequestID(s.handleRemoveExpired))

	return s
}

// ServeHTTP makes Server an http.Handler.
func (s *Server) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(rw, r)
}

// withRequestID assigns each inbound request a correlation id (a random
// uuid plus a monotonic per-server counter, mirroring the pagerduty webhook
// server's webhookID+counter pairing) and logs it alongside the method and
// path.
func (s *Server) withRequestID(handle func(context.Context, http.ResponseWriter, *http.Request, httprouter.Params)) httprouter.Handle {
	return func(rw http.ResponseWriter, r *http.Request, params httprouter.Params) {
		requestID := uuid.NewString()
		n := s.counter.Inc()
		entry := log.WithFields(log.Fields{"request_id": requestID, "request_seq": n, "method": r.Method, "path": r.URL.Path})
		ctx := context.WithValue(r.Context(), requestIDKey{}, entry)
		entry.Debug("handling request")
		handle(ctx, rw, r, params)
	}
}

type requestIDKey struct{}

func entryFromContext(ctx context.Context) *log.Entry {
	if entry, ok := ctx.Value(requestIDKey{}).(*log.Entry); ok {
		return entry
	}
	return log.NewEntry(log.StandardLogger())
}

// peerIDParam parses the ":id" URL param as a peer id.
func peerIDParam(params httprouter.Params) (uint64, bool) {
	raw := params.ByName("id")
	id, err := strconv.ParseUint(raw, 10, 64)
	return id, err == nil
}

func writeJSON(rw http.ResponseWriter, status int, body interface{}) {
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(status)
	_ = json.NewEncoder(rw).Encode(body)
}

func writeError(ctx context.Context, rw http.ResponseWriter, err error) {
	status := statusCode(err)
	entryFromContext(ctx).WithError(err).WithField("status", status).Warn("request failed")
	writeJSON(rw, status, map[string]string{"error": err.Error()})
}

// statusCode centralizes the error-to-HTTP-status mapping, the way
// semaphore_service.rs's ResponseError impl does in the original.
func statusCode(err error) int {
	var forever *lease.ForeverPendingError
	switch {
	case errors.As(err, &forever):
		return http.StatusConflict
	case errors.Is(err, lease.ErrUnknownSemaphore), errors.Is(err, lease.ErrUnknownPeer):
		return http.StatusBadRequest
	case trace.IsBadParameter(err):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
