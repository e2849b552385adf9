package whr

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func manyGamesAWins(n int) []Game {
	games := make([]Game, 0, n)
	for i := 0; i < n; i++ {
		games = append(games, Game{ModelA: "a", ModelB: "b", Winner: WinnerA, Weight: 1.0})
	}
	return games
}

func TestSolveStrongerModelGetsHigherRating(t *testing.T) {
	ratings := Solve(manyGamesAWins(20))
	a, b := ratings["a"], ratings["b"]
	assert.Greater(t, a.Elo, b.Elo)
}

func TestSolveOrderIndependence(t *testing.T) {
	games := []Game{
		{ModelA: "a", ModelB: "b", Winner: WinnerA, Weight: 1.0},
		{ModelA: "b", ModelB: "c", Winner: WinnerB, Weight: 1.0},
		{ModelA: "a", ModelB: "c", Winner: WinnerTie, Weight: 0.8},
		{ModelA: "c", ModelB: "a", Winner: WinnerA, Weight: 0.5},
	}

	shuffled := make([]Game, len(games))
	copy(shuffled, games)
	rand.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })

	r1 := Solve(games)
	r2 := Solve(shuffled)

	for model := range r1 {
		assert.InDelta(t, r1[model].Elo, r2[model].Elo, 1e-6, "rating for %s must be order-independent", model)
	}
}

func TestSolveTranslationInvariantAfterCentering(t *testing.T) {
	games := []Game{
		{ModelA: "a", ModelB: "b", Winner: WinnerA, Weight: 1.0},
		{ModelA: "b", ModelB: "c", Winner: WinnerB, Weight: 1.0},
		{ModelA: "a", ModelB: "c", Winner: WinnerTie, Weight: 1.0},
	}
	r := Solve(games)

	var sum float64
	for _, rating := range r {
		sum += rating.LogStrength()
	}
	assert.InDelta(t, 0, sum, 1e-6, "centered log-strengths must sum to ~0 (gauge fix)")
}

func TestSolveCIShrinksAsGamesAdded(t *testing.T) {
	few := Solve(manyGamesAWins(2))
	many := Solve(manyGamesAWins(40))

	require.False(t, math.IsInf(few["a"].CI95, 1))
	assert.LessOrEqual(t, many["a"].CI95, few["a"].CI95)
}

func TestSolveEmptyGameList(t *testing.T) {
	ratings := Solve(nil)
	assert.Empty(t, ratings)
}
