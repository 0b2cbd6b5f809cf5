package ipcdispatch

import "github.com/cohesix/queenroot/internal/kerr"

// ErrProbeTimedOut is returned by BootstrapProbe.Step once the idle
// observation limit elapses without a staged message.
var ErrProbeTimedOut = kerr.NewError("ipcdispatch.BootstrapProbe", kerr.CodeUnavailable, "no staged bootstrap message within idle limit")
