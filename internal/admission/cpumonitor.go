package admission

import (
	"bufio"
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
)

// containerCPU reads CPU usage relative to the container's cgroup quota
// directly from cgroup statistics files, so usage is reported as a
// percentage of what the process is actually allocated rather than of the
// whole host.
type containerCPU struct {
	mu               sync.RWMutex
	lastCPUUsec      uint64
	lastSampleTime   time.Time
	cgroupVersion    int
	cgroupPath       string
	cpuQuota         int64
	cpuPeriod        int64
	numCPUsAllocated float64
	lastThrottle     throttleStats
}

// throttleStats holds CPU throttling counters read from cgroup.
type throttleStats struct {
	NrPeriods    uint64
	NrThrottled  uint64
	ThrottledSec float64
}

func newContainerCPU() (*containerCPU, error) {
	cc := &containerCPU{lastSampleTime: time.Now()}

	cgroupPath, version, err := detectCgroupPath()
	if err != nil {
		return nil, fmt.Errorf("detect cgroup: %w", err)
	}
	cc.cgroupPath = cgroupPath
	cc.cgroupVersion = version

	quota, period, err := readCPUQuota(cgroupPath, version)
	if err != nil {
		return nil, fmt.Errorf("read cpu quota: %w", err)
	}
	cc.cpuQuota = quota
	cc.cpuPeriod = period
	if quota > 0 && period > 0 {
		cc.numCPUsAllocated = float64(quota) / float64(period)
	} else {
		cc.numCPUsAllocated = float64(runtime.NumCPU())
	}

	usage, err := readCPUUsage(cgroupPath, version)
	if err != nil {
		return nil, fmt.Errorf("read initial cpu usage: %w", err)
	}
	cc.lastCPUUsec = usage

	if throttle, err := readThrottleStats(cgroupPath, version); err == nil {
		cc.lastThrottle = throttle
	}

	return cc, nil
}

// percent returns CPU usage as a percentage of the container's allocation
// since the previous call, plus throttling deltas over the same window.
func (cc *containerCPU) percent() (pct float64, throttled throttleStats, err error) {
	cc.mu.Lock()
	defer cc.mu.Unlock()

	now := time.Now()
	timeDeltaUsec := now.Sub(cc.lastSampleTime).Microseconds()
	if timeDeltaUsec == 0 {
		return 0, throttleStats{}, fmt.Errorf("time delta too small")
	}

	currentUsec, err := readCPUUsage(cc.cgroupPath, cc.cgroupVersion)
	if err != nil {
		return 0, throttleStats{}, err
	}
	usageDelta := currentUsec - cc.lastCPUUsec

	rawPercent := (float64(usageDelta) / float64(timeDeltaUsec)) * 100.0
	pct = rawPercent / cc.numCPUsAllocated

	if currentThrottle, err := readThrottleStats(cc.cgroupPath, cc.cgroupVersion); err == nil {
		throttled = throttleStats{
			NrPeriods:    currentThrottle.NrPeriods - cc.lastThrottle.NrPeriods,
			NrThrottled:  currentThrottle.NrThrottled - cc.lastThrottle.NrThrottled,
			ThrottledSec: currentThrottle.ThrottledSec - cc.lastThrottle.ThrottledSec,
		}
		cc.lastThrottle = currentThrottle
	}

	cc.lastCPUUsec = currentUsec
	cc.lastSampleTime = now
	return pct, throttled, nil
}

func (cc *containerCPU) allocation() float64 {
	cc.mu.RLock()
	defer cc.mu.RUnlock()
	return cc.numCPUsAllocated
}

func detectCgroupPath() (path string, version int, err error) {
	file, err := os.Open("/proc/self/cgroup")
	if err != nil {
		return "", 0, err
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		parts := strings.Split(scanner.Text(), ":")
		if len(parts) != 3 {
			continue
		}
		if parts[0] == "0" && parts[1] == "" {
			return "/sys/fs/cgroup" + parts[2], 2, nil
		}
		if strings.Contains(parts[1], "cpu") {
			return "/sys/fs/cgroup/cpu" + parts[2], 1, nil
		}
	}
	return "", 0, fmt.Errorf("could not detect cgroup path")
}

func readCPUQuota(cgroupPath string, version int) (quota, period int64, err error) {
	if version == 2 {
		data, err := os.ReadFile(cgroupPath + "/cpu.max")
		if err != nil {
			return 0, 0, err
		}
		fields := strings.Fields(string(data))
		if len(fields) != 2 {
			return 0, 0, fmt.Errorf("unexpected cpu.max format: %s", string(data))
		}
		if fields[0] == "max" {
			return -1, 0, nil
		}
		quota, err = strconv.ParseInt(fields[0], 10, 64)
		if err != nil {
			return 0, 0, err
		}
		period, err = strconv.ParseInt(fields[1], 10, 64)
		return quota, period, err
	}

	quotaData, err := os.ReadFile(cgroupPath + "/cpu.cfs_quota_us")
	if err != nil {
		return 0, 0, err
	}
	periodData, err := os.ReadFile(cgroupPath + "/cpu.cfs_period_us")
	if err != nil {
		return 0, 0, err
	}
	quota, err = strconv.ParseInt(strings.TrimSpace(string(quotaData)), 10, 64)
	if err != nil {
		return 0, 0, err
	}
	period, err = strconv.ParseInt(strings.TrimSpace(string(periodData)), 10, 64)
	return quota, period, err
}

func readCPUUsage(cgroupPath string, version int) (uint64, error) {
	if version == 2 {
		file, err := os.Open(cgroupPath + "/cpu.stat")
		if err != nil {
			return 0, err
		}
		defer file.Close()
		scanner := bufio.NewScanner(file)
		for scanner.Scan() {
			line := scanner.Text()
			if strings.HasPrefix(line, "usage_usec ") {
				fields := strings.Fields(line)
				if len(fields) == 2 {
					return strconv.ParseUint(fields[1], 10, 64)
				}
			}
		}
		return 0, fmt.Errorf("usage_usec not found in cpu.stat")
	}

	data, err := os.ReadFile(cgroupPath + "/cpuacct.usage")
	if err != nil {
		return 0, err
	}
	nsec, err := strconv.ParseUint(strings.TrimSpace(string(data)), 10, 64)
	if err != nil {
		return 0, err
	}
	return nsec / 1000, nil
}

func readThrottleStats(cgroupPath string, version int) (throttleStats, error) {
	var stats throttleStats
	file, err := os.Open(cgroupPath + "/cpu.stat")
	if err != nil {
		return stats, err
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) != 2 {
			continue
		}
		value, _ := strconv.ParseUint(fields[1], 10, 64)
		switch fields[0] {
		case "nr_periods":
			stats.NrPeriods = value
		case "nr_throttled":
			stats.NrThrottled = value
		case "throttled_usec":
			stats.ThrottledSec = float64(value) / 1000000.0
		case "throttled_time":
			if version == 1 {
				stats.ThrottledSec = float64(value) / 1000000000.0
			}
		}
	}
	return stats, nil
}

// cpuMonitor reports CPU usage relative to what this process is allocated,
// preferring cgroup accounting and falling back to whole-host gopsutil
// sampling when no cgroup is detected (e.g. running outside a container).
type cpuMonitor struct {
	mode      string
	container *containerCPU
	logger    zerolog.Logger
}

func newCPUMonitor(logger zerolog.Logger) *cpuMonitor {
	container, err := newContainerCPU()
	if err == nil {
		logger.Info().
			Int("cgroup_version", container.cgroupVersion).
			Float64("cpus_allocated", container.allocation()).
			Str("cgroup_path", container.cgroupPath).
			Msg("admission: using container-aware CPU measurement")
		return &cpuMonitor{mode: "container", container: container, logger: logger}
	}

	logger.Warn().Err(err).Msg("admission: no cgroup detected, falling back to host CPU measurement")
	return &cpuMonitor{mode: "host", logger: logger}
}

func (cm *cpuMonitor) percent() (float64, throttleStats, error) {
	if cm.mode == "container" {
		return cm.container.percent()
	}
	p, err := cpu.Percent(100*time.Millisecond, false)
	if err != nil {
		return 0, throttleStats{}, err
	}
	if len(p) == 0 {
		return 0, throttleStats{}, fmt.Errorf("no CPU data")
	}
	return p[0], throttleStats{}, nil
}

func (cm *cpuMonitor) allocation() float64 {
	if cm.mode == "container" {
		return cm.container.allocation()
	}
	return float64(runtime.NumCPU())
}
