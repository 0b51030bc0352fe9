package settlement

import "math"

// DefaultKFactor is the Elo K used when none is configured.
const DefaultKFactor = 32

// Expected is the Elo expected score of own against opp.
func Expected(own, opp int) float64 {
	return 1 / (1 + math.Pow(10, float64(opp-own)/400))
}

// NewRating returns round(old + k*(score - expected)).
func NewRating(old, opp int, score, k float64) int {
	return int(math.Round(float64(old) + k*(score-Expected(old, opp))))
}
