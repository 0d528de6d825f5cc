package beastiary

import "math"

const levelGrowth = 1.75

// LevelForExperience returns the level reached with xp experience. Level 1
// starts at 0 xp and each level needs 1.75 times the xp of the previous one.
func LevelForExperience(xp int) int {
	steps := math.Ceil(float64(xp+1) / 100)
	return int(math.Floor(math.Max(1, math.Log(steps)/math.Log(levelGrowth)+1)))
}

// ExperienceForLevel returns the total xp at which level begins.
func ExperienceForLevel(level int) int {
	return 100 * int(math.Floor(math.Pow(levelGrowth, float64(level-1))))
}

// EssenceReward is the essence granted for reaching level.
func EssenceReward(level int) int {
	return 1 + 2*int(math.Floor(float64(level-1)/5))
}

// EncounterReward maps r in [0,1) onto the bonus encounters granted for
// reaching level.
func EncounterReward(level int, r float64) int {
	lo := math.Max(1, float64(level)/2)
	hi := math.Max(0, float64(2*level-2))
	return int(math.Round(lo + r*(hi-lo)))
}

// CaptureReward maps r in [0,1) onto the bonus captures granted for reaching
// level.
func CaptureReward(level int, r float64) int {
	lo := math.Max(0, math.Floor(float64(level-3)/2))
	hi := math.Max(0, float64(level-4))
	return int(math.Round(lo + r*(hi-lo)))
}

// ScaledValue is an animal's worth in scraps at level.
func ScaledValue(baseValue, level int) int {
	// base * (1 + (level-1)/10), kept in integers so it floors exactly.
	return baseValue * (9 + level) / 10
}
