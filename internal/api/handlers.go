package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gravitational/trace"
	"github.com/julienschmidt/httprouter"

	"github.com/gravitational/throttle/internal/lease"
)

// acquireRequest is the body of POST /acquire.
type acquireRequest struct {
	Pending   map[string]int64 `json:"pending"`
	ExpiresIn string            `json:"expires_in"`
}

// pair picks the single (semaphore, amount) pair the request names, the way
// semaphore_service.rs's PendingAdmissions::pending() does: the adapter
// supports exactly one admission per request, never a batch.
func (r acquireRequest) pair() (semaphore string, amount int64, ok bool) {
	for semaphore, amount := range r.Pending {
		return semaphore, amount, true
	}
	return "", 0, false
}

// heartbeatRequest is the body of PUT /leases/:id.
type heartbeatRequest struct {
	Active    map[string]int64 `json:"active"`
	ExpiresIn string            `json:"expires_in"`
}

func (r heartbeatRequest) pair() (semaphore string, amount int64, ok bool) {
	for semaphore, amount := range r.Active {
		return semaphore, amount, true
	}
	return "", 0, false
}

func decodeBody(r *http.Request, v interface{}) error {
	if r.ContentLength == 0 {
		return nil
	}
	defer r.Body.Close()
	return trace.Wrap(json.NewDecoder(r.Body).Decode(v))
}

// handleAcquire implements POST /acquire: 201 if the lease is granted
// active, 202 if it is pending, 400 on an empty or unknown-semaphore body,
// 409 on ForeverPending.
func (s *Server) handleAcquire(ctx context.Context, rw http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var req acquireRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(ctx, rw, trace.BadParameter("malformed request body: %v", err))
		return
	}

	semaphore, amount, ok := req.pair()
	if !ok {
		writeError(ctx, rw, trace.BadParameter("acquire requires exactly one (semaphore, amount) pair"))
		return
	}
	if amount <= 0 {
		writeError(ctx, rw, trace.BadParameter("amount must be positive, got %d", amount))
		return
	}
	expiresIn, err := time.ParseDuration(req.ExpiresIn)
	if err != nil {
		writeError(ctx, rw, trace.BadParameter("invalid expires_in: %v", err))
		return
	}

	peerID, active, err := s.engine.Acquire(semaphore, amount, expiresIn)
	if err != nil {
		writeError(ctx, rw, err)
		return
	}

	status := http.StatusAccepted
	if active {
		status = http.StatusCreated
	}
	writeJSON(rw, status, peerID)
}

// handleBlockUntilAcquired implements
// POST /leases/:id/block_until_acquired?timeout_ms=N. The body has the same
// shape as /acquire's (a "pending" pair), since a revenant reinsertion
// re-asserts what the peer is trying to acquire, not a claim of activity. An
// empty body is a trivial success: it answers true without looking up the
// lease, touching its deadline, or blocking.
func (s *Server) handleBlockUntilAcquired(ctx context.Context, rw http.ResponseWriter, r *http.Request, params httprouter.Params) {
	peerID, ok := peerIDParam(params)
	if !ok {
		writeError(ctx, rw, trace.BadParameter("invalid lease id"))
		return
	}

	var req acquireRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(ctx, rw, trace.BadParameter("malformed request body: %v", err))
		return
	}

	semaphore, amount, ok := req.pair()
	if !ok {
		writeJSON(rw, http.StatusOK, true)
		return
	}
	expiresIn, err := time.ParseDuration(req.ExpiresIn)
	if err != nil {
		writeError(ctx, rw, trace.BadParameter("invalid expires_in: %v", err))
		return
	}

	timeout := parseTimeoutMS(r)

	active, err := s.engine.BlockUntilAcquired(peerID, semaphore, amount, expiresIn, timeout)
	if err != nil {
		writeError(ctx, rw, err)
		return
	}
	writeJSON(rw, http.StatusOK, active)
}

func parseTimeoutMS(r *http.Request) time.Duration {
	raw := r.URL.Query().Get("timeout_ms")
	if raw == "" {
		return 0
	}
	ms, err := time.ParseDuration(raw + "ms")
	if err != nil {
		return 0
	}
	return ms
}

// handleHeartbeat implements PUT /leases/:id: responds "Ok" per spec.md §6
// whenever the body names a configured semaphore, since a missing peer is
// silently reinserted as a revenant. An invalid lease id, an empty or
// malformed body, an invalid expires_in, or an unknown semaphore yields 400.
func (s *Server) handleHeartbeat(ctx context.Context, rw http.ResponseWriter, r *http.Request, params httprouter.Params) {
	peerID, ok := peerIDParam(params)
	if !ok {
		writeError(ctx, rw, trace.BadParameter("invalid lease id"))
		return
	}

	var req heartbeatRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(ctx, rw, trace.BadParameter("malformed request body: %v", err))
		return
	}
	semaphore, amount, ok := req.pair()
	if !ok {
		writeError(ctx, rw, trace.BadParameter("heartbeat requires exactly one (semaphore, amount) pair"))
		return
	}
	expiresIn, err := time.ParseDuration(req.ExpiresIn)
	if err != nil {
		writeError(ctx, rw, trace.BadParameter("invalid expires_in: %v", err))
		return
	}

	if err := s.engine.Heartbeat(peerID, semaphore, amount, expiresIn); err != nil {
		writeError(ctx, rw, err)
		return
	}
	writeJSON(rw, http.StatusOK, "Ok")
}

// handleRelease implements DELETE /leases/:id: always 200, even for an
// unknown or already-released peer id (spec.md §6 and property P6).
func (s *Server) handleRelease(ctx context.Context, rw http.ResponseWriter, r *http.Request, params httprouter.Params) {
	peerID, ok := peerIDParam(params)
	if !ok {
		writeError(ctx, rw, trace.BadParameter("invalid lease id"))
		return
	}
	released := s.engine.Release(peerID)
	entryFromContext(ctx).WithField("released", released).Debug("release processed")
	writeJSON(rw, http.StatusOK, "Ok")
}

// handleRemainder implements GET /remainder?semaphore=S.
func (s *Server) handleRemainder(ctx context.Context, rw http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	semaphore := r.URL.Query().Get("semaphore")
	if semaphore == "" {
		writeError(ctx, rw, trace.Wrap(lease.ErrUnknownSemaphore, "semaphore parameter is required"))
		return
	}
	remainder, err := s.engine.Remainder(semaphore)
	if err != nil {
		writeError(ctx, rw, err)
		return
	}
	writeJSON(rw, http.StatusOK, remainder)
}

// handleRemoveExpired implements POST /remove_expired: a manual trigger of
// the litter-collection sweep, useful for testing (spec.md §4.4).
func (s *Server) handleRemoveExpired(ctx context.Context, rw http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	removed := s.engine.RemoveExpired()
	writeJSON(rw, http.StatusOK, removed)
}
