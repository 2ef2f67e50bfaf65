package registry

import (
	"os"
	"strconv"
	"strings"
)

// systemLoad returns the 1-minute load average where the OS exposes it
// (/proc/loadavg), otherwise 0. Best effort; the dashboard treats 0 as
// "unavailable".
func systemLoad() float64 {
	data, err := os.ReadFile("/proc/loadavg")
	if err != nil {
		return 0
	}
	fields := strings.Fields(string(data))
	if len(fields) == 0 {
		return 0
	}
	load, err := strconv.ParseFloat(fields[0], 64)
	if err != nil {
		return 0
	}
	return load
}
