package consensus

import "github.com/btcsuite/btclog"

// log is the subsystem logger for the consensus package. It is disabled by
// default; callers wire in a real backend with UseLogger, matching the
// convention used throughout the teacher's subsystems.
var log = btclog.Disabled

// UseLogger sets the package-level logger used by this package. Callers
// should use this to finish configuring logging for this package as well as
// its subsystems.
func UseLogger(logger btclog.Logger) {
	log = logger
}
