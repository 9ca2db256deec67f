// Package procutil supervises the throttle server's background jobs (the
// HTTP listener, the expiry driver, the metrics reporter) and handles
// signal-driven graceful shutdown. Grounded on utils/process.go,
// lib/signals.go, and utils/bail.go in the teacher repository.
package procutil

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// Job is a unit of background work that runs until ctx is cancelled.
type Job func(context.Context) error

// Process supervises a group of jobs sharing one lifetime: cancelling its
// context (via Shutdown or Close) stops every job, and Wait blocks until
// they have all returned.
type Process struct {
	group  *errgroup.Group
	ctx    context.Context
	cancel context.CancelFunc
}

// NewProcess derives a cancelable context from ctx and returns a Process
// ready to Spawn jobs onto it.
func NewProcess(ctx context.Context) *Process {
	ctx, cancel := context.WithCancel(ctx)
	group, ctx := errgroup.WithContext(ctx)
	return &Process{group: group, ctx: ctx, cancel: cancel}
}

// Spawn runs job under the process's shared context, folding its error (if
// any) into the result returned by Wait.
func (p *Process) Spawn(job Job) {
	p.group.Go(func() error {
		return job(p.ctx)
	})
}

// Context returns the process's shared, cancelable context.
func (p *Process) Context() context.Context {
	return p.ctx
}

// Wait blocks until every spawned job has returned, and returns the first
// non-nil error among them (golang.org/x/sync/errgroup.Group semantics).
func (p *Process) Wait() error {
	return p.group.Wait()
}

// Shutdown signals every job to stop by cancelling the shared context, then
// waits for them to finish or for ctx to expire, whichever comes first.
func (p *Process) Shutdown(ctx context.Context) error {
	p.cancel()
	done := make(chan struct{})
	go func() {
		p.group.Wait()
		close(done)
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}

// Close cancels the shared context and waits unconditionally for every job
// to finish. Unlike Shutdown, it never times out; it is meant for the
// "force quit" path after a graceful Shutdown has already failed.
func (p *Process) Close() {
	p.cancel()
	p.group.Wait()
}
