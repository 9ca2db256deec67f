package procutil

import (
	"os"

	"github.com/gravitational/trace"
	log "github.com/sirupsen/logrus"
)

// Bail logs err and exits with a nonzero status, the way utils.Bail does in
// the teacher repository.
func Bail(err error) {
	if agg, ok := trace.Unwrap(err).(trace.Aggregate); ok {
		for _, aggErr := range agg.Errors() {
			log.WithError(aggErr).Error("terminating...")
		}
	} else {
		log.WithError(err).Error("terminating...")
	}
	log.Debugf("%v", trace.DebugReport(err))
	os.Exit(1)
}
