// Package level maps total XP onto levels with a quadratic curve.
package level

import "pdiquest/internal/domain"

// PointsPerLevelUnit scales the curve: level n starts at n*n*PointsPerLevelUnit XP.
const PointsPerLevelUnit = 100

// Progress is the level view of a total XP amount.
type Progress struct {
	Level               int `json:"level"`
	CurrentXP           int `json:"current_xp"`
	NextLevelXP         int `json:"next_level_xp"`
	ProgressToNextLevel int `json:"progress_to_next_level"`
}

// Compute returns the level progress for totalXP. Negative totals count as zero.
func Compute(totalXP int) Progress {
	if totalXP < 0 {
		totalXP = 0
	}
	lvl := Of(totalXP)
	floor := XPForLevel(lvl)
	next := XPForLevel(lvl+1) - floor
	cur := totalXP - floor
	return Progress{Level: lvl, CurrentXP: cur, NextLevelXP: next, ProgressToNextLevel: percent(cur, next)}
}

// percent is min(100, floor(cur/next*100)); an empty step counts as complete.
func percent(cur, next int) int {
	if next <= 0 {
		return 100
	}
	pct := cur * 100 / next
	if pct > 100 {
		pct = 100
	}
	return pct
}

// Of returns floor(sqrt(totalXP/100)).
func Of(totalXP int) int {
	if totalXP <= 0 {
		return 0
	}
	return isqrt(totalXP / PointsPerLevelUnit)
}

// XPForLevel is the total XP at which level n begins.
func XPForLevel(n int) int {
	if n <= 0 {
		return 0
	}
	return n * n * PointsPerLevelUnit
}

// Title returns the display title for lvl from an ordered title ladder.
func Title(lvl int, titles []domain.LevelTitle) string {
	for _, t := range titles {
		if t.MaxLevel == 0 || lvl <= t.MaxLevel {
			return t.Title
		}
	}
	if len(titles) > 0 {
		return titles[len(titles)-1].Title
	}
	return ""
}

func isqrt(n int) int {
	if n < 2 {
		return n
	}
	x := n
	y := (x + 1) / 2
	for y < x {
		x = y
		y = (x + n/x) / 2
	}
	return x
}
