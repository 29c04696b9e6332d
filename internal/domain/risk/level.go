// Package risk computes bounded, recency-weighted risk scores for areas and
// tracked entities.
package risk

import (
	"strings"

	"github.com/turtacn/CrimeSight-Intelligence/pkg/errors"
)

// Level is the discrete band of a score.
type Level string

const (
	LevelLow      Level = "low"
	LevelElevated Level = "elevated"
	LevelHigh     Level = "high"
	LevelCritical Level = "critical"
)

// Cutoffs are inclusive lower bounds.
const (
	CutoffElevated = 0.4
	CutoffHigh     = 0.6
	CutoffCritical = 0.8
)

// Levels lists the bands from lowest to highest.
func Levels() []Level { return []Level{LevelLow, LevelElevated, LevelHigh, LevelCritical} }

// LevelFor maps a score to its band.
func LevelFor(v float64) Level {
	switch {
	case v >= CutoffCritical:
		return LevelCritical
	case v >= CutoffHigh:
		return LevelHigh
	case v >= CutoffElevated:
		return LevelElevated
	default:
		return LevelLow
	}
}

// ParseLevel accepts the band names plus "moderate" as an alias of elevated.
func ParseLevel(s string) (Level, error) {
	switch l := Level(strings.ToLower(strings.TrimSpace(s))); l {
	case LevelLow, LevelElevated, LevelHigh, LevelCritical:
		return l, nil
	case "moderate":
		return LevelElevated, nil
	}
	return "", errors.InvalidParam("unknown risk level " + s)
}

// Rank orders levels 0 (low) to 3 (critical); unknown levels rank -1.
func (l Level) Rank() int {
	for i, x := range Levels() {
		if x == l {
			return i
		}
	}
	return -1
}

// AtLeast reports whether l is at or above other.
func (l Level) AtLeast(other Level) bool { return l.Rank() >= other.Rank() }
