//go:build linux

package cost

import (
	"bufio"
	"os"
	"strconv"
	"strings"
)

type linuxProbe struct{}

func newPlatformProbe() platformProbe { return linuxProbe{} }

// probeBattery reads /sys/class/power_supply/BAT0, the common sysfs
// location for a primary battery. A machine with no battery (most
// servers, desktops) simply has no such path, which is reported as
// ok=false rather than an error.
func (linuxProbe) probeBattery() (percent float64, pluggedIn bool, ok bool) {
	capRaw, err := os.ReadFile("/sys/class/power_supply/BAT0/capacity")
	if err != nil {
		return 0, false, false
	}
	pct, err := strconv.ParseFloat(strings.TrimSpace(string(capRaw)), 64)
	if err != nil {
		return 0, false, false
	}
	status, _ := os.ReadFile("/sys/class/power_supply/BAT0/status")
	plugged := strings.TrimSpace(string(status)) != "Discharging"
	return pct, plugged, true
}

// probeThermal reads the first thermal zone's temperature in millidegrees
// Celsius, classifying it into the spec's three discrete states.
func (linuxProbe) probeThermal() (state string, ok bool) {
	raw, err := os.ReadFile("/sys/class/thermal/thermal_zone0/temp")
	if err != nil {
		return "", false
	}
	milliC, err := strconv.ParseInt(strings.TrimSpace(string(raw)), 10, 64)
	if err != nil {
		return "", false
	}
	c := milliC / 1000
	switch {
	case c >= 85:
		return ThermalHot, true
	case c >= 70:
		return ThermalWarm, true
	default:
		return ThermalNominal, true
	}
}

// probeMetered has no standard sysfs signal on Linux; NetworkManager
// exposes it over D-Bus, which would pull in a whole D-Bus client for one
// boolean, so this reports ok=false and lets the sampler default to
// unmetered.
func (linuxProbe) probeMetered() (metered bool, ok bool) {
	return false, false
}

// probeCPULoad derives a [0,1] load fraction from /proc/loadavg's 1-minute
// average divided by the number of CPUs reported in /proc/cpuinfo.
func (linuxProbe) probeCPULoad() (load float64, ok bool) {
	raw, err := os.ReadFile("/proc/loadavg")
	if err != nil {
		return 0, false
	}
	fields := strings.Fields(string(raw))
	if len(fields) == 0 {
		return 0, false
	}
	load1, err := strconv.ParseFloat(fields[0], 64)
	if err != nil {
		return 0, false
	}
	ncpu := countCPUs()
	if ncpu == 0 {
		return 0, false
	}
	return load1 / float64(ncpu), true
}

func countCPUs() int {
	f, err := os.Open("/proc/cpuinfo")
	if err != nil {
		return 0
	}
	defer f.Close()
	n := 0
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		if strings.HasPrefix(sc.Text(), "processor") {
			n++
		}
	}
	return n
}
