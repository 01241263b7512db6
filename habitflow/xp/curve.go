package xp

import "math"

// XPForLevel is the XP needed to advance from level to level+1:
// floor(8.5 × 1.05^(level−1)).
func XPForLevel(level int) int64 {
	if level < 1 {
		level = 1
	}
	return int64(8.5 * math.Pow(1.05, float64(level-1)))
}

// LevelFromTotalXP maps a lifetime total onto the level curve. The
// function is deterministic and non-decreasing in totalXP, so
// recomputing after every flush can never demote a user.
func LevelFromTotalXP(totalXP int64) int {
	if totalXP < 0 {
		totalXP = 0
	}
	level := 1
	var requiredSum int64
	for {
		required := XPForLevel(level)
		if totalXP < requiredSum+required {
			return level
		}
		requiredSum += required
		level++
	}
}

// StreakMultiplier scales base XP by consecutive streak days.
func StreakMultiplier(streakDays int) float64 {
	switch {
	case streakDays >= 20:
		return 2.0
	case streakDays >= 7:
		return 1.5
	case streakDays >= 3:
		return 1.3
	default:
		return 1.0
	}
}

// DailyCap is the step function bounding base XP per user per day,
// scaled by how many habits the user completed to goal that day.
func DailyCap(activeHabits int) int64 {
	switch {
	case activeHabits <= 2:
		return 50
	case activeHabits <= 4:
		return 75
	default:
		return 100
	}
}
