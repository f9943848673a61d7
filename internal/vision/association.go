package vision

import (
	"errors"
	"fmt"
	"sort"
)

// ErrAssignment marks a malformed matching out of the assignment solver.
// It implies the cost matrix or solver state is corrupt, so correctness of
// track identities can no longer be guaranteed; callers must treat it as a
// fatal invariant violation.
var ErrAssignment = errors.New("assignment invariant violation")

// associate matches the frame's observations against live tracks.
//
// The cost of an (observation, track) pair blends the appearance distance
// (the minimum cosine distance between the observation's embedding and any
// vector in the track's gallery) with the IoU complement of the track's
// predicted box. A pair whose appearance distance exceeds the configured
// threshold is ineligible outright: the gate is a hard cutoff, not a soft
// penalty, so visually dissimilar objects never swap identities however
// closely they overlap.
//
// Track columns are ordered by ascending ID so equal-cost assignments
// resolve deterministically to the lower ID.
//
// Returns assignments[i] = column index for observation i (or -1), the
// column-ordered track IDs, and ErrAssignment if the solver produces a
// non-injective matching. Caller holds the tracker lock.
func (t *Tracker) associate(observations []Observation) ([]int, []TrackID, error) {
	trackIDs := make([]TrackID, 0, len(t.tracks))
	for id, track := range t.tracks {
		if track.State != TrackDeleted {
			trackIDs = append(trackIDs, id)
		}
	}
	sort.Slice(trackIDs, func(i, j int) bool { return trackIDs[i] < trackIDs[j] })

	if len(observations) == 0 {
		return nil, trackIDs, nil
	}
	if len(trackIDs) == 0 {
		assignments := make([]int, len(observations))
		for i := range assignments {
			assignments[i] = -1
		}
		return assignments, trackIDs, nil
	}

	cost := make([][]float64, len(observations))
	for i, obs := range observations {
		row := make([]float64, len(trackIDs))
		for j, id := range trackIDs {
			track := t.tracks[id]
			appDist := track.gallery.minDistance(obs.Appearance)
			if appDist > t.config.CosineDistanceThreshold {
				row[j] = hungarianInf
				continue
			}
			row[j] = appDist + t.config.SpatialCostWeight*(1-IoU(track.Box, obs.Detection.Box))
		}
		cost[i] = row
	}

	assignments := hungarianAssign(cost)

	// An injective matching is a solver postcondition; a duplicate column
	// means identities would be corrupted silently downstream.
	seen := make(map[int]int, len(assignments))
	for i, col := range assignments {
		if col < 0 {
			continue
		}
		if prev, dup := seen[col]; dup {
			return nil, nil, fmt.Errorf("%w: track %d matched observations %d and %d",
				ErrAssignment, trackIDs[col], prev, i)
		}
		seen[col] = i
	}

	return assignments, trackIDs, nil
}
