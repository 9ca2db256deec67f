// Command throttled runs the distributed semaphore coordination server.
// Grounded on access/pagerduty/main.go's CLI structure in the teacher
// repository.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/gravitational/kingpin"
	"github.com/gravitational/trace"
	log "github.com/sirupsen/logrus"

	"github.com/gravitational/throttle/internal/api"
	"github.com/gravitational/throttle/internal/config"
	"github.com/gravitational/throttle/internal/expiry"
	"github.com/gravitational/throttle/internal/httpserver"
	"github.com/gravitational/throttle/internal/metrics"
	"github.com/gravitational/throttle/internal/procutil"
	"github.com/gravitational/throttle/internal/state"
	"github.com/gravitational/throttle/internal/tlog"
)

// Version and Gitref are set at build time via -ldflags, the way the
// teacher's plugin binaries stamp their version strings.
var (
	Version = "dev"
	Gitref  = "none"
)

func main() {
	tlog.Init()
	app := kingpin.New("throttled", "Distributed semaphore coordination server.")

	app.Command("configure", "Prints an example .TOML configuration file.")
	app.Command("version", "Prints the throttled version.")

	startCmd := app.Command("start", "Starts the throttle server.")
	path := startCmd.Flag("config", "TOML config file path").
		Short('c').
		Default("/etc/throttled.toml").
		String()
	debug := startCmd.Flag("debug", "Enable verbose (debug-level) logging").
		Short('d').
		Bool()

	selectedCmd, err := app.Parse(os.Args[1:])
	if err != nil {
		procutil.Bail(err)
	}

	switch selectedCmd {
	case "configure":
		fmt.Print(config.ExampleConfig())
	case "version":
		fmt.Printf("throttled %s (%s)\n", Version, Gitref)
	case "start":
		if err := run(*path, *debug); err != nil {
			procutil.Bail(err)
		} else {
			log.Info("successfully shut down")
		}
	}
}

func run(configPath string, debug bool) error {
	conf, err := config.LoadConfig(configPath)
	if err != nil {
		return trace.Wrap(err)
	}
	if err := tlog.Setup(conf.Log); err != nil {
		return trace.Wrap(err)
	}
	if debug {
		log.SetLevel(log.DebugLevel)
		log.Debug("debug logging enabled")
	}

	log.Infof("starting throttled %s:%s", Version, Gitref)

	st := state.New(conf.Semaphores, nil)
	server := api.NewServer(st)
	reporter := metrics.NewReporter(st, nil)
	sweeper := expiry.NewDriver(st, conf.ExpiryIntervalDuration(), nil)

	mux := http.NewServeMux()
	mux.Handle("/", server)
	mux.Handle("/metrics", reporter.Handler())

	httpSrv := httpserver.New(conf.HTTP.Listen, mux)

	proc := procutil.NewProcess(context.Background())
	proc.Spawn(func(ctx context.Context) error {
		return sweeper.Run(ctx)
	})
	proc.Spawn(func(ctx context.Context) error {
		return reporter.Run(ctx, conf.MetricsIntervalDuration())
	})
	proc.Spawn(func(ctx context.Context) error {
		return httpSrv.ListenAndServe(ctx)
	})

	go procutil.ServeSignals(&procAdapter{proc}, 15*time.Second)

	return trace.Wrap(proc.Wait())
}

// procAdapter lets *procutil.Process satisfy procutil.Terminable: Wait
// already blocks until every job has stopped, which Shutdown/Close
// indirectly trigger by cancelling the shared context.
type procAdapter struct {
	proc *procutil.Process
}

func (p *procAdapter) Shutdown(ctx context.Context) error {
	return p.proc.Shutdown(ctx)
}

func (p *procAdapter) Close() {
	p.proc.Close()
}
