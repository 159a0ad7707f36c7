//go:build !linux && !darwin

package cost

// otherProbe is the fallback for every platform without a dedicated
// probe file: every signal is reported unavailable and the sampler
// falls back to its conservative defaults, mirroring the teacher's
// netmonitor_poll.go role as the catch-all implementation.
type otherProbe struct{}

func newPlatformProbe() platformProbe { return otherProbe{} }

func (otherProbe) probeBattery() (percent float64, pluggedIn bool, ok bool) { return 0, false, false }
func (otherProbe) probeThermal() (state string, ok bool)                   { return "", false }
func (otherProbe) probeMetered() (metered bool, ok bool)                   { return false, false }
func (otherProbe) probeCPULoad() (load float64, ok bool)                   { return 0, false }
