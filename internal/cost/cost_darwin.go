//go:build darwin

package cost

import (
	"os/exec"
	"strconv"
	"strings"
)

type darwinProbe struct{}

func newPlatformProbe() platformProbe { return darwinProbe{} }

// probeBattery shells out to `pmset -g batt`, the standard way to read
// battery state on macOS without CGo bindings to IOKit. Output looks
// like: "Now drawing from 'Battery Power' ... 87%; discharging; ...".
func (darwinProbe) probeBattery() (percent float64, pluggedIn bool, ok bool) {
	out, err := exec.Command("pmset", "-g", "batt").Output()
	if err != nil {
		return 0, false, false
	}
	text := string(out)
	idx := strings.Index(text, "%")
	if idx <= 0 {
		return 0, false, false
	}
	start := idx
	for start > 0 && (text[start-1] >= '0' && text[start-1] <= '9') {
		start--
	}
	pct, err := strconv.ParseFloat(text[start:idx], 64)
	if err != nil {
		return 0, false, false
	}
	plugged := strings.Contains(text, "AC Power")
	return pct, plugged, true
}

// probeThermal has no unprivileged userspace API on macOS short of
// parsing powermetrics (which requires sudo); reported as unavailable.
func (darwinProbe) probeThermal() (state string, ok bool) {
	return "", false
}

// probeMetered has no stable unprivileged signal on macOS either.
func (darwinProbe) probeMetered() (metered bool, ok bool) {
	return false, false
}

// probeCPULoad has no direct equivalent of /proc/loadavg without cgo;
// the sampler falls back to its goroutine-count proxy.
func (darwinProbe) probeCPULoad() (load float64, ok bool) {
	return 0, false
}
