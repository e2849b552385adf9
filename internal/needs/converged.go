package needs

import (
	"math"

	"github.com/cairn-labs/wbench/internal/whr"
)

// Converged reports whether a single dimension has reached its stopping
// condition: every configured model either has a CI below the threshold or
// is pairwise-resolved from every other model by separation, and has at
// least minPairsPerModel games.
func Converged(writers []string, ratings map[string]whr.Rating, ciThreshold float64, minPairsPerModel int) bool {
	for _, m := range writers {
		r, ok := ratings[m]
		if !ok || r.Games < minPairsPerModel {
			return false
		}
		if r.CI95 < ciThreshold {
			continue
		}
		if !separatedFromAll(m, writers, ratings) {
			return false
		}
	}
	return true
}

func separatedFromAll(m string, writers []string, ratings map[string]whr.Rating) bool {
	rm := ratings[m]
	for _, other := range writers {
		if other == m {
			continue
		}
		ro, ok := ratings[other]
		if !ok {
			return false
		}
		if math.Abs(rm.Elo-ro.Elo) < rm.CI95+ro.CI95 {
			return false
		}
	}
	return true
}

// AllConverged reports overall convergence across all three dimensions.
func AllConverged(writers []string, ratingsByDimension map[Dimension]map[string]whr.Rating, ciThreshold float64, minPairsPerModel int) bool {
	for _, dim := range []Dimension{DimensionWriting, DimensionRevised, DimensionFeedback} {
		if !Converged(writers, ratingsByDimension[dim], ciThreshold, minPairsPerModel) {
			return false
		}
	}
	return true
}
