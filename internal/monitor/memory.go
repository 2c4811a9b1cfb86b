// Package monitor tracks system memory and disk pressure during a solve run
// and recommends throttling before the process gets OOM-killed or a volume
// fills up mid-write.
package monitor

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/go-logr/logr"
)

// State is the memory-pressure classification a solve run can be in.
type State int

const (
	StateNormal State = iota
	StateThrottled
	StateCritical
)

func (s State) String() string {
	switch s {
	case StateThrottled:
		return "throttled"
	case StateCritical:
		return "critical"
	default:
		return "normal"
	}
}

const (
	// MinRecommendedCacheBytes is the floor RecommendedCacheBytes will
	// never go below, even under severe memory pressure.
	MinRecommendedCacheBytes = 16 << 20

	recommendedCacheFraction = 0.05
)

// MemoryStats is a point-in-time snapshot of process and system memory.
type MemoryStats struct {
	ProcessRSSBytes      uint64
	SystemTotalBytes     uint64
	SystemAvailableBytes uint64
}

// UsedPercent returns the fraction of system RAM currently in use.
func (s MemoryStats) UsedPercent() float64 {
	if s.SystemTotalBytes == 0 {
		return 0
	}
	used := s.SystemTotalBytes - s.SystemAvailableBytes
	return float64(used) / float64(s.SystemTotalBytes) * 100
}

// ReadMemoryStats reads current memory usage from /proc. There is no
// third-party memory-stats library anywhere in the example pack (no
// gopsutil-equivalent dependency appears in any example go.mod), and
// golang.org/x/sys exposes raw syscalls, not parsed /proc/meminfo fields,
// so this one read is done directly against the kernel interface rather
// than inventing a dependency that isn't grounded in the corpus.
func ReadMemoryStats() (MemoryStats, error) {
	total, available, err := readMemInfo("/proc/meminfo")
	if err != nil {
		return MemoryStats{}, err
	}
	rss, err := readProcessRSS(os.Getpid())
	if err != nil {
		return MemoryStats{}, err
	}
	return MemoryStats{
		ProcessRSSBytes:      rss,
		SystemTotalBytes:     total,
		SystemAvailableBytes: available,
	}, nil
}

func readMemInfo(path string) (total, available uint64, err error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, 0, fmt.Errorf("monitor: read meminfo: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "MemTotal:"):
			total = parseMemInfoKB(line) * 1024
		case strings.HasPrefix(line, "MemAvailable:"):
			available = parseMemInfoKB(line) * 1024
		}
	}
	if err := scanner.Err(); err != nil {
		return 0, 0, fmt.Errorf("monitor: scan meminfo: %w", err)
	}
	return total, available, nil
}

func parseMemInfoKB(line string) uint64 {
	fields := strings.Fields(line)
	if len(fields) < 2 {
		return 0
	}
	v, _ := strconv.ParseUint(fields[1], 10, 64)
	return v
}

func readProcessRSS(pid int) (uint64, error) {
	path := fmt.Sprintf("/proc/%d/status", pid)
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("monitor: read process status: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "VmRSS:") {
			return parseMemInfoKB(line) * 1024, nil
		}
	}
	return 0, nil
}

// MemoryMonitor classifies memory pressure against configured thresholds
// and recommends a cache size in proportion to available RAM.
type MemoryMonitor struct {
	throttledBelow uint64
	criticalBelow  uint64
	log            logr.Logger
	warnEvery      int
	checks         int
}

// NewMemoryMonitor builds a monitor that reports StateThrottled once
// available RAM drops below throttledBelow, and StateCritical below
// criticalBelow.
func NewMemoryMonitor(throttledBelow, criticalBelow uint64, log logr.Logger) *MemoryMonitor {
	return &MemoryMonitor{
		throttledBelow: throttledBelow,
		criticalBelow:  criticalBelow,
		log:            log,
		warnEvery:      60,
	}
}

// Check reads current stats and classifies them.
func (m *MemoryMonitor) Check() (State, MemoryStats, error) {
	stats, err := ReadMemoryStats()
	if err != nil {
		return StateNormal, stats, err
	}

	switch {
	case stats.SystemAvailableBytes < m.criticalBelow:
		m.log.Error(nil, "critical memory pressure",
			"available", humanize.Bytes(stats.SystemAvailableBytes),
			"threshold", humanize.Bytes(m.criticalBelow))
		return StateCritical, stats, nil
	case stats.SystemAvailableBytes < m.throttledBelow:
		m.checks++
		if m.checks%m.warnEvery == 1 {
			m.log.Info("memory pressure, throttling",
				"available", humanize.Bytes(stats.SystemAvailableBytes),
				"threshold", humanize.Bytes(m.throttledBelow))
		}
		return StateThrottled, stats, nil
	default:
		return StateNormal, stats, nil
	}
}

// ShouldThrottle reports whether the worker pool should shed concurrency.
func (m *MemoryMonitor) ShouldThrottle() bool {
	state, _, err := m.Check()
	return err == nil && state != StateNormal
}

// IsCritical reports whether the run should fail fast or force a flush.
func (m *MemoryMonitor) IsCritical() bool {
	state, _, err := m.Check()
	return err == nil && state == StateCritical
}

// RecommendedCacheBytes returns 5% of currently available RAM, clamped to
// [MinRecommendedCacheBytes, ceiling]; when ceiling is below the floor,
// the floor wins. Nothing in the solver calls it: the successor cache is
// sized from engine.Config.SuccessorCacheBytes.
func (m *MemoryMonitor) RecommendedCacheBytes(ceiling uint64) uint64 {
	stats, err := ReadMemoryStats()
	if err != nil {
		return ceiling
	}
	adaptive := uint64(float64(stats.SystemAvailableBytes) * recommendedCacheFraction)
	if adaptive > ceiling {
		adaptive = ceiling
	}
	if adaptive < MinRecommendedCacheBytes {
		adaptive = MinRecommendedCacheBytes
	}
	return adaptive
}

// LogStatus emits a single structured log line with current memory usage.
func (m *MemoryMonitor) LogStatus() {
	stats, err := ReadMemoryStats()
	if err != nil {
		m.log.Info("memory stats unavailable", "error", err.Error())
		return
	}
	m.log.Info("memory status",
		"process_rss", humanize.Bytes(stats.ProcessRSSBytes),
		"system_available", humanize.Bytes(stats.SystemAvailableBytes),
		"system_total", humanize.Bytes(stats.SystemTotalBytes),
		"used_percent", fmt.Sprintf("%.0f", stats.UsedPercent()))
}
