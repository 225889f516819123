package strategy

import (
	"math"

	"github.com/dop251/goja"
	"github.com/shopspring/decimal"
)

// Variables is the script-visible state between bets.
type Variables struct {
	NextBet     float64 `json:"nextbet"`
	BaseBet     float64 `json:"basebet"`
	PreviousBet float64 `json:"previousbet"`
	Win         bool    `json:"win"`
	Payout      float64 `json:"payout"`
	Nonce       uint64  `json:"nonce"`
	ClientSeed  string  `json:"clientseed"`
	Lines       uint32  `json:"lines"`
	LastReels   [][]uint8 `json:"reels"`

	Stats *Statistics `json:"-"`
}

// injectVariables sets the globals a script reads. Statistics are exposed as
// plain numbers; writes to them are ignored by syncFromVM.
func injectVariables(vm *goja.Runtime, vars *Variables) {
	vm.Set("nextbet", vars.NextBet)
	vm.Set("basebet", vars.BaseBet)
	vm.Set("previousbet", vars.PreviousBet)
	vm.Set("win", vars.Win)
	vm.Set("payout", vars.Payout)
	vm.Set("nonce", vars.Nonce)
	vm.Set("clientseed", vars.ClientSeed)
	vm.Set("lines", vars.Lines)
	vm.Set("reels", vars.LastReels)

	vm.Set("balance", vars.Stats.Balance.InexactFloat64())
	vm.Set("profit", vars.Stats.Profit.InexactFloat64())
	vm.Set("currentprofit", vars.Stats.CurrentProfit.InexactFloat64())
	vm.Set("wagered", vars.Stats.Wagered.InexactFloat64())
	vm.Set("bets", vars.Stats.Bets)
	vm.Set("wins", vars.Stats.Wins)
	vm.Set("losses", vars.Stats.Losses)
	vm.Set("winstreak", vars.Stats.WinStreak)
	vm.Set("losestreak", vars.Stats.LoseStreak)
	vm.Set("currentstreak", vars.Stats.CurrentStreak)
}

// syncFromVM reads back the variables a script may change.
func syncFromVM(vm *goja.Runtime, vars *Variables) {
	vars.NextBet = toFloat64(vm.Get("nextbet"))
	vars.BaseBet = toFloat64(vm.Get("basebet"))
	if lines := toInt(vm.Get("lines")); lines > 0 && lines <= math.MaxUint32 {
		vars.Lines = uint32(lines)
	}
}

// betAmount converts nextbet to the amount actually wagered.
func betAmount(nextbet float64) decimal.Decimal {
	if math.IsNaN(nextbet) || math.IsInf(nextbet, 0) {
		return decimal.Zero
	}
	return decimal.NewFromFloat(nextbet).Round(amountPlaces)
}

func toFloat64(v goja.Value) float64 {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return 0
	}
	return v.ToFloat()
}

func toInt(v goja.Value) int {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return 0
	}
	return int(v.ToInteger())
}
