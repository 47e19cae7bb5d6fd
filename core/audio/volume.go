package audio

import "math"

const (
	minGainDB = -40.0
	maxGainDB = 0.0
)

// ClampLevel limits a user volume level to [0, 1].
func ClampLevel(level float64) float64 {
	if math.IsNaN(level) || level < 0 {
		return 0
	}
	if level > 1 {
		return 1
	}
	return level
}

// GainDB maps a 0..1 volume level linearly onto -40..0 dB.
func GainDB(level float64) float64 {
	return minGainDB + ClampLevel(level)*(maxGainDB-minGainDB)
}

// Amplitude is the linear factor applied to samples for a volume level.
func Amplitude(level float64) float64 {
	return math.Pow(10, GainDB(level)/20)
}

// ClampSeek limits a seek target in whole seconds to [0, duration-1].
func ClampSeek(seconds, duration int) int {
	if seconds >= duration {
		seconds = duration - 1
	}
	if seconds < 0 {
		seconds = 0
	}
	return seconds
}
