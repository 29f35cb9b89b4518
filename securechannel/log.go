package securechannel

import "github.com/btcsuite/btclog"

// log is the subsystem logger for the securechannel package. It is disabled
// by default; callers wire in a real backend with UseLogger.
var log = btclog.Disabled

// UseLogger sets the package-level logger used by this package.
func UseLogger(logger btclog.Logger) {
	log = logger
}
