package device

import (
	"fmt"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/load"
)

// LocalDiscovery reports the host this process runs on as a single pseudo-device,
// carrying host health as trait metadata: CPU model, uptime, and load averages
// latched from gopsutil at scan time.
type LocalDiscovery struct {
	interval time.Duration
}

// NewLocalDiscovery builds a LocalDiscovery scanning at interval (defaulting
// to one minute).
func NewLocalDiscovery(interval time.Duration) *LocalDiscovery {
	if interval <= 0 {
		interval = time.Minute
	}
	return &LocalDiscovery{interval: interval}
}

func (l *LocalDiscovery) Name() string { return "local" }

func (l *LocalDiscovery) Interval() time.Duration { return l.interval }

// Scan reports one pseudo-device for the local host, with CPU model, uptime,
// and load averages attached as properties.
func (l *LocalDiscovery) Scan() ([]Device, error) {
	props := Properties{}

	if info, err := cpu.Info(); err == nil && len(info) > 0 {
		props["cpu_model"] = info[0].ModelName
	}
	if uptime, err := host.Uptime(); err == nil {
		props["uptime_seconds"] = fmt.Sprintf("%d", uptime)
	}
	if avg, err := load.Avg(); err == nil {
		props["load1"] = fmt.Sprintf("%.2f", avg.Load1)
		props["load5"] = fmt.Sprintf("%.2f", avg.Load5)
		props["load15"] = fmt.Sprintf("%.2f", avg.Load15)
	}

	uri := CanonicalURI("local", "host")
	return []Device{{UUID: UUID(uri), URI: uri, Props: props}}, nil
}
