package cost

import (
	"runtime"

	"github.com/pbnjay/memory"
)

// Sampler produces one NodeCostFactors reading. The default sampler
// mixes a portable memory reading (pbnjay/memory, which works
// everywhere) with a platform-specific probe for battery, thermal state,
// and metered-network status, following the same per-OS file split
// (_linux/_darwin/_other, picked by build tag) the teacher uses for its
// network-change watcher. A probe that can't read a signal on its
// platform reports ok=false for that signal rather than fabricating one;
// the default sampler falls back to a conservative reading (plugged in,
// unmetered, nominal thermal) in that case.
type Sampler interface {
	Sample() (NodeCostFactors, error)
}

// platformProbe is implemented once per build tag (cost_linux.go,
// cost_darwin.go, cost_other.go).
type platformProbe interface {
	probeBattery() (percent float64, pluggedIn bool, ok bool)
	probeThermal() (state string, ok bool)
	probeMetered() (metered bool, ok bool)
	probeCPULoad() (load float64, ok bool)
}

// defaultSampler is the Sampler wired in by the supervisor unless a test
// substitutes its own.
type defaultSampler struct {
	nodeID string
	probe  platformProbe
}

// NewDefaultSampler builds the sampler used in production, self-reporting
// as nodeID.
func NewDefaultSampler(nodeID string) Sampler {
	return &defaultSampler{nodeID: nodeID, probe: newPlatformProbe()}
}

func (s *defaultSampler) Sample() (NodeCostFactors, error) {
	n := NodeCostFactors{NodeID: s.nodeID}

	total := memory.TotalMemory()
	free := memory.FreeMemory()
	if total > 0 {
		used := total - free
		n.MemoryPercent = 100 * float64(used) / float64(total)
	}
	n.MemoryAvailableGB = float64(free) / (1 << 30)

	if pct, plugged, ok := s.probe.probeBattery(); ok {
		n.BatteryPercent = pct
		n.PluggedIn = plugged
		n.OnBattery = !plugged
	} else {
		n.PluggedIn = true
		n.BatteryPercent = 100
	}

	if state, ok := s.probe.probeThermal(); ok {
		n.ThermalState = state
	} else {
		n.ThermalState = ThermalNominal
	}

	if metered, ok := s.probe.probeMetered(); ok {
		n.IsMetered = metered
	}

	if load, ok := s.probe.probeCPULoad(); ok {
		n.CPULoad = clamp01(load)
	} else {
		// No portable load signal at all: fall back to a goroutine-count
		// derived proxy, same spirit as the teacher's stdlib-only
		// fallback path when a platform syscall isn't available.
		n.CPULoad = clamp01(float64(runtime.NumGoroutine()) / 256)
	}

	return n, nil
}
