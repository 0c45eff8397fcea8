// Package heatmap maps viewport geometry to task priorities.
//
// Pure functions only — no entity state, no I/O. Callers recompute from
// scratch on every pointer/viewport update and apply Diff against the
// previous output so only changed assignments reach the engine.
package heatmap

import (
	"sort"

	"github.com/eargollo/warren/internal/engine"
)

const (
	// PrimaryRings is the Manhattan radius of the visible-item zone.
	PrimaryRings = 10
	// SecondaryRings is the radius of the speculative full-resolution zone.
	SecondaryRings = 4
	// Step is the priority drop per ring.
	Step = 3
	// SecondaryOffset shifts the speculative zone below the primary one.
	// With Top = 90 it puts secondary ring 0 at 87 and ring 1 at 84: an
	// interactive scan scheduled at 85 is preempted only by the cursor
	// cell's speculative work, never starved by the deeper rings.
	SecondaryOffset = 3

	// Top is the priority of the center cell in the primary zone.
	Top = engine.Viewer
)

// Assignment binds one visible grid index to a priority.
type Assignment struct {
	Index    int
	Priority engine.Priority
}

// RingDistance is the Manhattan (L1) distance between two grid cells.
func RingDistance(row, col, centerRow, centerCol int) int {
	return abs(row-centerRow) + abs(col-centerCol)
}

// PrimaryPriority is the priority of a primary-zone cell at the given ring.
func PrimaryPriority(ring int) engine.Priority {
	return Top - engine.Priority(Step*ring)
}

// SecondaryPriority is the priority of a speculative-zone cell at the given
// ring.
func SecondaryPriority(ring int) engine.Priority {
	return (Top - SecondaryOffset) - engine.Priority(Step*ring)
}

// Compute returns priority assignments around the center cell for a grid of
// `columns` columns holding `totalVisible` items in row-major order.
//
// Primary covers rings 0..PrimaryRings and excludes indices in loaded (their
// work is already done). Secondary covers rings 0..SecondaryRings and does
// not exclude loaded indices. Both are sorted by priority descending, index
// ascending.
//
// Iteration is clipped to the bounding box of the larger zone — cost scales
// with the zone, never with the grid.
func Compute(centerRow, centerCol, columns, totalVisible int, loaded map[int]struct{}) (primary, secondary []Assignment) {
	if columns <= 0 || totalVisible <= 0 {
		return nil, nil
	}

	maxRing := PrimaryRings
	if SecondaryRings > maxRing {
		maxRing = SecondaryRings
	}
	totalRows := (totalVisible + columns - 1) / columns

	minRow := max(0, centerRow-maxRing)
	maxRow := min(totalRows-1, centerRow+maxRing)
	minCol := max(0, centerCol-maxRing)
	maxCol := min(columns-1, centerCol+maxRing)

	for r := minRow; r <= maxRow; r++ {
		for c := minCol; c <= maxCol; c++ {
			idx := r*columns + c
			if idx >= totalVisible {
				continue
			}
			ring := RingDistance(r, c, centerRow, centerCol)

			if ring <= PrimaryRings {
				if _, done := loaded[idx]; !done {
					primary = append(primary, Assignment{idx, PrimaryPriority(ring)})
				}
			}
			if ring <= SecondaryRings {
				secondary = append(secondary, Assignment{idx, SecondaryPriority(ring)})
			}
		}
	}

	sortAssignments(primary)
	sortAssignments(secondary)
	return primary, secondary
}

// Diff compares a fresh Compute output against the previous one. changed
// holds assignments that are new or carry a different priority; removed
// holds indices present before but absent now (typically demoted by the
// caller rather than cancelled).
func Diff(prev, next []Assignment) (changed []Assignment, removed []int) {
	old := make(map[int]engine.Priority, len(prev))
	for _, a := range prev {
		old[a.Index] = a.Priority
	}
	seen := make(map[int]struct{}, len(next))
	for _, a := range next {
		seen[a.Index] = struct{}{}
		if p, ok := old[a.Index]; !ok || p != a.Priority {
			changed = append(changed, a)
		}
	}
	for _, a := range prev {
		if _, ok := seen[a.Index]; !ok {
			removed = append(removed, a.Index)
		}
	}
	sort.Ints(removed)
	return changed, removed
}

func sortAssignments(as []Assignment) {
	sort.Slice(as, func(i, j int) bool {
		if as[i].Priority != as[j].Priority {
			return as[i].Priority > as[j].Priority
		}
		return as[i].Index < as[j].Index
	})
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
