package journal

import (
	"fmt"
	"io"

	"github.com/nainya/eavstore/pkg/patch"
)

// RecoveryStats summarizes a replay
type RecoveryStats struct {
	TotalRecords         int
	ReplayedPatches      int
	ReplayedInstructions int
	LastCheckpointSeq    uint64 // 0 when no checkpoint was found
	LastSeq              uint64
}

// Recover replays the journal into target, which should start empty: the
// newest checkpoint first, then every patch record after it in order. It
// stops at the first unreadable record or failed instruction.
func (j *Journal) Recover(target patch.Target) (*RecoveryStats, error) {
	files, err := j.Files()
	if err != nil {
		return nil, err
	}
	return Recover(files, target)
}

// Recover replays the given journal files into target
func Recover(files []string, target patch.Target) (*RecoveryStats, error) {
	stats := &RecoveryStats{}

	reader := NewReader(files)
	defer reader.Close()

	// Only records from the newest checkpoint on are kept in memory
	var pending []*Record
	for {
		rec, err := reader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return stats, fmt.Errorf("journal: reading: %w", err)
		}
		stats.TotalRecords++
		stats.LastSeq = rec.Seq

		if rec.Kind == KindCheckpoint {
			stats.LastCheckpointSeq = rec.Seq
			pending = pending[:0]
		}
		pending = append(pending, rec)
	}

	for _, rec := range pending {
		p, err := rec.Patch()
		if err != nil {
			return stats, err
		}
		if err := p.ApplyTo(target); err != nil {
			return stats, fmt.Errorf("journal: replay failed at seq %d: %w", rec.Seq, err)
		}
		stats.ReplayedPatches++
		stats.ReplayedInstructions += len(p)
	}
	return stats, nil
}
