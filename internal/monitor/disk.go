package monitor

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/go-logr/logr"
	"golang.org/x/sys/unix"
)

// DiskStats is a point-in-time snapshot of free/total space on the volume
// holding a given path.
type DiskStats struct {
	FreeBytes  uint64
	TotalBytes uint64
}

// ReadDiskStats statfs(2)s the volume containing path.
func ReadDiskStats(path string) (DiskStats, error) {
	var stat unix.Statfs_t
	if err := unix.Statfs(path, &stat); err != nil {
		return DiskStats{}, fmt.Errorf("monitor: statfs %q: %w", path, err)
	}
	return DiskStats{
		FreeBytes:  stat.Bavail * uint64(stat.Bsize),
		TotalBytes: stat.Blocks * uint64(stat.Bsize),
	}, nil
}

// DefaultFatalBytes computes the disk-space floor below which a run must
// abort rather than risk a half-written batch: 5% of the volume's total
// capacity, but never less than 5GiB.
func DefaultFatalBytes(total uint64) uint64 {
	const (
		floor    = 5 << 30
		fraction = 0.05
	)
	pct := uint64(float64(total) * fraction)
	if pct > floor {
		return pct
	}
	return floor
}

// DiskMonitor guards a store path against running out of disk space
// mid-write.
type DiskMonitor struct {
	path       string
	fatalBelow uint64
	log        logr.Logger
}

// NewDiskMonitor builds a monitor over path that reports unsafe once free
// space drops below fatalBelow.
func NewDiskMonitor(path string, fatalBelow uint64, log logr.Logger) *DiskMonitor {
	return &DiskMonitor{path: path, fatalBelow: fatalBelow, log: log}
}

// Check reports whether there is still enough free space to continue.
func (d *DiskMonitor) Check() (bool, DiskStats, error) {
	stats, err := ReadDiskStats(d.path)
	if err != nil {
		return true, stats, err // can't check: don't block progress on it
	}
	safe := stats.FreeBytes >= d.fatalBelow
	if !safe {
		d.log.Error(nil, "disk space below fatal threshold",
			"free", humanize.Bytes(stats.FreeBytes),
			"threshold", humanize.Bytes(d.fatalBelow),
			"path", d.path)
	}
	return safe, stats, nil
}
