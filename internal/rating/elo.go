package rating

import "math"

// KFactor is the ELO K used for every settlement.
const KFactor = 32.0

// DefaultRating is assigned to identities the store has never seen.
const DefaultRating = 1200

// Deltas are the rating changes for one game. For a draw "winner" and
// "loser" are just the two sides in argument order.
type Deltas struct {
	Winner int
	Loser  int
}

// Expected is the logistic expected score of rating against opponent.
func Expected(rating, opponent int) float64 {
	return 1.0 / (1.0 + math.Pow(10.0, float64(opponent-rating)/400.0))
}

// Settle computes both deltas, each from that side's own expected score.
// The two are not forced to be exact negatives of each other.
func Settle(winnerRating, loserRating int, isDraw bool) Deltas {
	winnerScore, loserScore := 1.0, 0.0
	if isDraw {
		winnerScore, loserScore = 0.5, 0.5
	}
	return Deltas{
		Winner: int(math.Round(KFactor * (winnerScore - Expected(winnerRating, loserRating)))),
		Loser:  int(math.Round(KFactor * (loserScore - Expected(loserRating, winnerRating)))),
	}
}
