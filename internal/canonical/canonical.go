// Package canonical turns heterogeneous workout descriptions into a
// content-addressed identity. Signatures are independent of unit choice,
// ordering and repeat count, so "8x400m" and "2x0.4km" resolve to the same
// structure row.
package canonical

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/Carlvebbesen/IntervalInsights/internal/domain"
)

// Unit is the unit of exchange between raw workout descriptions and the
// canonicalizer.
type Unit string

const (
	UnitMeters     Unit = "m"
	UnitKilometers Unit = "km"
	UnitSeconds    Unit = "sec"
	UnitMinutes    Unit = "min"
)

// Component is one work magnitude with its unit.
type Component struct {
	Value float64
	Unit  Unit
}

// Normalize converts the value to meters or seconds.
func Normalize(value float64, unit Unit) float64 {
	switch unit {
	case UnitKilometers:
		return value * 1000
	case UnitMinutes:
		return value * 60
	default:
		return value
	}
}

// IsDistance reports whether the unit is distance-like.
func (u Unit) IsDistance() bool {
	return u == UnitMeters || u == UnitKilometers
}

func componentSignature(c Component) string {
	unitClass := "s"
	if c.Unit.IsDistance() {
		unitClass = "m"
	}
	return formatValue(Normalize(c.Value, c.Unit)) + unitClass
}

// Signature derives the canonical identity of a component list. Identical
// elements collapse to one entry and the remainder is sorted, so multiplicity
// and ordering never change the result.
func Signature(components []Component) string {
	seen := make(map[string]struct{}, len(components))
	parts := make([]string, 0, len(components))
	for _, c := range components {
		sig := componentSignature(c)
		if _, ok := seen[sig]; ok {
			continue
		}
		seen[sig] = struct{}{}
		parts = append(parts, sig)
	}
	sort.Strings(parts)
	return strings.Join(parts, "-")
}

// StructureName derives a display name: "(n)x 400m" for a single unique
// magnitude, "Mixed (a/b/c)" otherwise.
func StructureName(components []Component) string {
	if len(components) == 0 {
		return "Free Workout"
	}

	seen := make(map[string]struct{}, len(components))
	unique := make([]string, 0, len(components))
	for _, c := range components {
		sig := componentSignature(c)
		if _, ok := seen[sig]; ok {
			continue
		}
		seen[sig] = struct{}{}
		unique = append(unique, sig)
	}

	if len(unique) == 1 {
		return fmt.Sprintf("(n)x %s", unique[0])
	}
	return fmt.Sprintf("Mixed (%s)", strings.Join(unique, "/"))
}

// ComponentsFromSegments maps the work-typed segments to components.
// Rest, warm-up and cool-down carry no identity.
func ComponentsFromSegments(segments []domain.IntervalSegment) []Component {
	var components []Component
	for _, seg := range segments {
		if seg.Type != domain.SegmentWork {
			continue
		}
		unit := UnitSeconds
		if seg.TargetType == domain.TargetDistance {
			unit = UnitMeters
		}
		components = append(components, Component{Value: seg.TargetValue, Unit: unit})
	}
	return components
}

// ComponentsFromBlocks maps requested workout blocks to components.
func ComponentsFromBlocks(blocks []domain.Block) []Component {
	components := make([]Component, 0, len(blocks))
	for _, b := range blocks {
		unit := UnitSeconds
		if b.WorkType == domain.WorkDistance {
			unit = UnitMeters
		}
		components = append(components, Component{Value: b.WorkValue, Unit: unit})
	}
	return components
}

// ComponentsFromSets flattens a grouped workout request into components, in
// step order.
func ComponentsFromSets(sets []domain.Set) []Component {
	var components []Component
	for _, set := range sets {
		for _, step := range set.Steps {
			unit := UnitSeconds
			if step.WorkType == domain.WorkDistance {
				unit = UnitMeters
			}
			components = append(components, Component{Value: step.WorkValue, Unit: unit})
		}
	}
	return components
}

// ClassifyIntervalType runs the rule cascade over the work segments.
// avgElevation is the mean elevation gain per work segment; callers without
// per-segment elevation pass 0. First matching rule wins.
func ClassifyIntervalType(segments []domain.IntervalSegment, avgElevation float64) domain.IntervalType {
	var work []domain.IntervalSegment
	for _, seg := range segments {
		if seg.Type == domain.SegmentWork {
			work = append(work, seg)
		}
	}
	if len(work) == 0 {
		return domain.IntervalThreshold
	}

	count := len(work)
	var totalDist, totalTime float64
	distanceBased, timeBased := true, true
	unique := make(map[float64]struct{}, count)
	for _, seg := range work {
		if seg.TargetType == domain.TargetDistance {
			totalDist += seg.TargetValue
			timeBased = false
		} else {
			totalTime += seg.TargetValue
			distanceBased = false
		}
		unique[seg.TargetValue] = struct{}{}
	}
	avgDist := totalDist / float64(count)
	avgTime := totalTime / float64(count)

	if len(unique) > 3 && count > 5 {
		return domain.IntervalFartlek
	}

	shortDistance := distanceBased && avgDist < 300
	shortTime := timeBased && avgTime < 90
	if (shortDistance || shortTime) && avgElevation > 10 {
		return domain.IntervalHillSprints
	}
	if timeBased && avgTime <= 30 {
		return domain.IntervalSprints
	}
	if distanceBased && avgDist <= 200 {
		return domain.IntervalSprints
	}
	if (timeBased && avgTime < 120) || (distanceBased && avgDist < 800) {
		return domain.IntervalAnaerobicCapacity
	}
	if (timeBased && avgTime > 359) || (distanceBased && avgDist > 999) {
		return domain.IntervalThreshold
	}
	if (timeBased && avgTime >= 120) || (distanceBased && avgDist >= 800) {
		return domain.IntervalVO2Max
	}
	return domain.IntervalRecovery
}

// FromSegments builds the structure row for a segment set: signature, display
// name and interval-type classification. The ID is assigned on insert.
func FromSegments(segments []domain.IntervalSegment, trainingType domain.TrainingType, avgElevation float64) domain.IntervalStructure {
	components := ComponentsFromSegments(segments)
	return domain.IntervalStructure{
		Name:         StructureName(components),
		Signature:    Signature(components),
		TrainingType: trainingType,
		IntervalType: ClassifyIntervalType(segments, avgElevation),
	}
}

func formatValue(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
