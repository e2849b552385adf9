// Package whr computes Whole-History Rating: a Bradley-Terry posterior
// over per-model log-strengths with a Gaussian prior, solved by Newton's
// method, converted to an Elo-like display scale with centered 95%
// confidence intervals.
package whr

import (
	"math"
	"sort"
)

const (
	// priorVariance is sigma^2 for the Gaussian prior on log-strengths.
	priorVariance = 0.25
	// eloScale converts natural log-strength units to the Elo scale:
	// 400/ln(10).
	eloScale = 173.718
	// eloBase is the rating assigned to a log-strength of zero.
	eloBase = 1500.0
	// maxIterations caps Newton's method.
	maxIterations = 50
	// convergenceThreshold is the max |delta r| that stops iteration.
	convergenceThreshold = 1e-6
)

// Winner mirrors model.Winner without importing the model package, keeping
// this inference core free of any dependency on the artifact data model.
type Winner string

const (
	WinnerA   Winner = "A"
	WinnerB   Winner = "B"
	WinnerTie Winner = "tie"
)

// Game is a single weighted pairwise comparison between two models.
type Game struct {
	ModelA string
	ModelB string
	Winner Winner
	// Weight is the game's weight in the likelihood. For per-judgment games
	// it is the effective edge weight in [w_min, 1] (judge quality composed
	// with bias correction, see internal/judgequality); internal/cumulative
	// passes accumulated outcome counts, which can exceed 1.
	Weight float64
}

// Rating is one model's posterior summary on the Elo-like display scale.
type Rating struct {
	Model string
	// Elo is 1500 + 173.718 * logStrength.
	Elo float64
	// CI95 is the centered 95% confidence half-width on the Elo scale.
	// math.Inf(1) for a model with zero games.
	CI95 float64
	Wins   int
	Losses int
	Ties   int
	Games  int

	// logStrength and variance are kept in natural units for downstream
	// consumers (Need Identifier) that need them pre-Elo-conversion.
	logStrength float64
	variance    float64
}

// LogStrength returns the model's posterior-mode log-strength (natural
// units, after gauge-fixing recentering).
func (r Rating) LogStrength() float64 { return r.logStrength }

// Variance returns the posterior variance at the mode (natural units).
// math.Inf(1) for a model with zero games.
func (r Rating) Variance() float64 { return r.variance }

// Solve computes posterior ratings for every model appearing in games.
// Order of games never affects the result (WHR inference is order
// independent); models with zero games receive CI = +Inf.
func Solve(games []Game) map[string]Rating {
	modelSet := make(map[string]struct{})
	for _, g := range games {
		modelSet[g.ModelA] = struct{}{}
		modelSet[g.ModelB] = struct{}{}
	}
	models := make([]string, 0, len(modelSet))
	for m := range modelSet {
		models = append(models, m)
	}
	sort.Strings(models) // deterministic iteration order, not semantically required

	index := make(map[string]int, len(models))
	for i, m := range models {
		index[m] = i
	}

	r := make([]float64, len(models))
	gameCount := make([]int, len(models))
	wins := make([]int, len(models))
	losses := make([]int, len(models))
	ties := make([]int, len(models))

	for _, g := range games {
		a, b := index[g.ModelA], index[g.ModelB]
		gameCount[a]++
		gameCount[b]++
		switch g.Winner {
		case WinnerA:
			wins[a]++
			losses[b]++
		case WinnerB:
			wins[b]++
			losses[a]++
		default:
			ties[a]++
			ties[b]++
		}
	}

	for iter := 0; iter < maxIterations; iter++ {
		maxDelta := newtonStep(games, index, r)
		if maxDelta < convergenceThreshold {
			break
		}
	}

	recenter(r, gameCount)

	variances := informationVariances(games, index, r, gameCount)

	ratings := make(map[string]Rating, len(models))
	for i, m := range models {
		ci := math.Inf(1)
		if gameCount[i] > 0 {
			ci = 1.96 * math.Sqrt(variances[i]) * eloScale
		}
		ratings[m] = Rating{
			Model:       m,
			Elo:         eloBase + eloScale*r[i],
			CI95:        ci,
			Wins:        wins[i],
			Losses:      losses[i],
			Ties:        ties[i],
			Games:       gameCount[i],
			logStrength: r[i],
			variance:    variances[i],
		}
	}
	return ratings
}

// winShare returns the observed win share sA contributed by g to model i
// (the side passed as "self"), where a tie contributes 1/2.
func winShare(w Winner, isA bool) float64 {
	switch {
	case w == WinnerTie:
		return 0.5
	case w == WinnerA && isA, w == WinnerB && !isA:
		return 1.0
	default:
		return 0.0
	}
}

// newtonStep performs one Newton update across all models and returns the
// largest |delta r| observed, for the caller's convergence check.
func newtonStep(games []Game, index map[string]int, r []float64) float64 {
	grad := make([]float64, len(r))
	hess := make([]float64, len(r))

	for i := range r {
		grad[i] = -r[i] / priorVariance
		hess[i] = 1.0 / priorVariance
	}

	for _, g := range games {
		a, b := index[g.ModelA], index[g.ModelB]
		pA := 1.0 / (1.0 + math.Exp(r[b]-r[a]))
		pB := 1.0 - pA
		sA := winShare(g.Winner, true)
		sB := 1.0 - sA

		grad[a] += g.Weight * (sA - pA)
		grad[b] += g.Weight * (sB - pB)
		hess[a] += g.Weight * pA * pB
		hess[b] += g.Weight * pA * pB
	}

	var maxDelta float64
	for i := range r {
		delta := grad[i] / hess[i]
		r[i] += delta
		if math.Abs(delta) > maxDelta {
			maxDelta = math.Abs(delta)
		}
	}
	return maxDelta
}

// recenter subtracts the mean log-strength across models with at least one
// game, fixing the Bradley-Terry gauge freedom (adding a constant to every
// rating leaves all win probabilities unchanged).
func recenter(r []float64, gameCount []int) {
	var sum float64
	var n int
	for i, c := range gameCount {
		if c > 0 {
			sum += r[i]
			n++
		}
	}
	if n == 0 {
		return
	}
	mean := sum / float64(n)
	for i := range r {
		r[i] -= mean
	}
}

// informationVariances returns, per model, the reciprocal of that model's
// diagonal entry of the expected-information (Hessian) matrix at the
// posterior mode (prior precision plus the weighted p(1-p) terms of its
// games), evaluated after recentering. The full matrix is not inverted, so
// covariance between models does not enter the reported variance.
func informationVariances(games []Game, index map[string]int, r []float64, gameCount []int) []float64 {
	hess := make([]float64, len(r))
	for i := range r {
		hess[i] = 1.0 / priorVariance
	}
	for _, g := range games {
		a, b := index[g.ModelA], index[g.ModelB]
		pA := 1.0 / (1.0 + math.Exp(r[b]-r[a]))
		pB := 1.0 - pA
		hess[a] += g.Weight * pA * pB
		hess[b] += g.Weight * pA * pB
	}

	variances := make([]float64, len(r))
	for i := range r {
		if gameCount[i] == 0 {
			variances[i] = math.Inf(1)
			continue
		}
		variances[i] = 1.0 / hess[i]
	}
	return variances
}
