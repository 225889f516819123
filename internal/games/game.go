package games

import (
	"fmt"
	"sort"

	"github.com/MJE43/tigrinho-pf/internal/engine"
)

// Seeds is the seed pair a game is evaluated with.
type Seeds = engine.Seeds

// GameSpec describes a registered game.
type GameSpec struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	MetricLabel string `json:"metric_label"`
}

// GameResult is the outcome of a single evaluation.
type GameResult struct {
	Metric      float64 `json:"metric"`
	MetricLabel string  `json:"metric_label"`
	Details     any     `json:"details,omitempty"`
}

// Game is a provably fair game that can be evaluated from seeds or raw floats.
type Game interface {
	Spec() GameSpec
	FloatCount(params map[string]any) int
	Evaluate(seeds Seeds, nonce uint64, params map[string]any) (GameResult, error)
	EvaluateWithFloats(floats []float64, params map[string]any) (GameResult, error)
}

var registry = map[string]Game{}

// RegisterGame adds a game to the registry, replacing any game with the same ID.
func RegisterGame(game Game) {
	registry[game.Spec().ID] = game
}

// GetGame retrieves a game by ID.
func GetGame(id string) (Game, bool) {
	game, ok := registry[id]
	return game, ok
}

// ListGames returns the specs of all registered games ordered by ID.
func ListGames() []GameSpec {
	specs := make([]GameSpec, 0, len(registry))
	for _, g := range registry {
		specs = append(specs, g.Spec())
	}
	sort.Slice(specs, func(i, j int) bool { return specs[i].ID < specs[j].ID })
	return specs
}

func init() {
	RegisterGame(&SlotGame{Params: DefaultEngineParams(0)})
}

// SlotGame adapts the slot engine to the Game interface. The metric is the
// payout multiplier, i.e. the payout of a unit bet.
type SlotGame struct {
	Params EngineParams
}

// Spec returns metadata about the slot game.
func (g *SlotGame) Spec() GameSpec {
	return GameSpec{
		ID:          "slot",
		Name:        "Slot",
		MetricLabel: "multiplier",
	}
}

// FloatCount returns one float per column.
func (g *SlotGame) FloatCount(params map[string]any) int {
	return g.Params.Reels.Columns()
}

// Evaluate spins the slot for the given seeds and nonce.
func (g *SlotGame) Evaluate(seeds Seeds, nonce uint64, params map[string]any) (GameResult, error) {
	floats := engine.Floats(seeds.Server, seeds.Client, nonce, g.FloatCount(params))
	return g.EvaluateWithFloats(floats, params)
}

// EvaluateWithFloats spins the slot using pre-computed floats.
func (g *SlotGame) EvaluateWithFloats(floats []float64, params map[string]any) (GameResult, error) {
	need := g.FloatCount(params)
	if len(floats) < need {
		return GameResult{}, fmt.Errorf("slot requires at least %d floats, got %d", need, len(floats))
	}
	if err := g.Params.Reels.Validate(); err != nil {
		return GameResult{}, err
	}

	window := windowFromFloats(floats[:need], g.Params.Reels)
	multiplier := EvaluatePayout(window, g.Params.Paytable, 1)

	return GameResult{
		Metric:      multiplier,
		MetricLabel: "multiplier",
		Details: map[string]any{
			"window":     WindowIndices(window),
			"multiplier": multiplier,
		},
	}, nil
}
