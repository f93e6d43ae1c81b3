package checkpoint

import (
	"time"

	"github.com/curatedhealth/missionengine/internal/domain"
)

// Stale identifies a pending checkpoint past the alarm threshold.
type Stale struct {
	MissionID    string
	CheckpointID string
	Age          time.Duration
}

// FindStale returns the open checkpoints of snaps pending longer than
// threshold that have not been reported yet.
func FindStale(snaps []domain.MissionSnapshot, now time.Time, threshold time.Duration) []Stale {
	var out []Stale
	for i := range snaps {
		cp := snaps[i].OpenCheckpoint()
		if cp == nil || cp.StaleNotifiedAt != nil {
			continue
		}
		age := now.Sub(cp.CreatedAt)
		if age < threshold {
			continue
		}
		out = append(out, Stale{MissionID: cp.MissionID, CheckpointID: cp.CheckpointID, Age: age})
	}
	return out
}
