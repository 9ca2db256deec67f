package procutil

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
)

// Terminable is anything ServeSignals can shut down: SIGTERM and a first
// SIGINT attempt a graceful Shutdown, and a second SIGINT or a failed
// Shutdown triggers a fast Close.
type Terminable interface {
	Shutdown(context.Context) error
	Close()
}

// ServeSignals blocks, translating SIGTERM/SIGINT into graceful (then
// forced) shutdown of app. It returns after the shutdown triggered by a
// SIGTERM or by a second SIGINT; a first SIGINT starts a graceful shutdown
// in the background and keeps listening for signals.
func ServeSignals(app Terminable, shutdownTimeout time.Duration) {
	ctx := context.Background()
	sigC := make(chan os.Signal, 1)
	signal.Notify(sigC, syscall.SIGTERM, syscall.SIGINT)
	defer signal.Stop(sigC)

	gracefulShutdown := func() {
		tctx, cancel := context.WithTimeout(ctx, shutdownTimeout)
		defer cancel()
		log.Info("attempting graceful shutdown...")
		if err := app.Shutdown(tctx); err != nil {
			log.Warn("graceful shutdown failed, forcing shutdown")
			app.Close()
		}
	}

	var alreadyInterrupted bool
	for sig := range sigC {
		switch sig {
		case syscall.SIGTERM:
			gracefulShutdown()
			return
		case syscall.SIGINT:
			if alreadyInterrupted {
				app.Close()
				return
			}
			go gracefulShutdown()
			alreadyInterrupted = true
		}
	}
}
