// Package compact runs the dedup compaction pass that reconciles the
// duplicate-tolerant rows a BFS enumeration run may have left behind
// (internal/engine's DuplicateTolerant mode) before retrograde evaluation
// begins.
package compact

import (
	"fmt"

	"github.com/go-logr/logr"

	"github.com/hailam/kalahsolve/internal/storage"
)

// Report is the compaction outcome, suitable for the CLI to print a
// before/after duplication summary.
type Report struct {
	Groups          uint64
	DuplicatesFound uint64
	DryRun          bool
}

// Percent returns the duplication rate as a percentage of rows scanned.
func (r Report) Percent() float64 {
	total := r.Groups + r.DuplicatesFound
	if total == 0 {
		return 0
	}
	return 100 * float64(r.DuplicatesFound) / float64(total)
}

// Run performs the compaction. When dryRun is true it only counts
// duplicates without mutating the store: an operator runs dry-run first to
// see the expected duplication rate, then re-runs for real.
func Run(store *storage.Store, dryRun bool, log logr.Logger) (Report, error) {
	log.Info("starting dedup compaction", "dry_run", dryRun)

	stats, err := store.CompactDuplicates(dryRun, func(s storage.CompactStats) {
		log.Info("compaction progress",
			"groups_scanned", s.Groups,
			"duplicates_found", s.DuplicatesFound)
	})
	if err != nil {
		return Report{}, fmt.Errorf("compact: %w", err)
	}

	report := Report{
		Groups:          stats.Groups,
		DuplicatesFound: stats.DuplicatesFound,
		DryRun:          dryRun,
	}

	if dryRun {
		log.Info("dry run complete", "would_remove", report.DuplicatesFound, "duplication_rate_percent", fmt.Sprintf("%.1f", report.Percent()))
		return report, nil
	}

	if err := store.Flush(); err != nil {
		return report, err
	}
	log.Info("compaction complete", "removed", report.DuplicatesFound, "duplication_rate_percent", fmt.Sprintf("%.1f", report.Percent()))
	return report, nil
}
