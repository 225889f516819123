package strategy

import "github.com/shopspring/decimal"

// Statistics tracks session totals for a replay. Money is kept in decimal so
// long sessions don't drift.
type Statistics struct {
	Bets     int             `json:"bets"`
	Wins     int             `json:"wins"`
	Losses   int             `json:"losses"`
	Wagered  decimal.Decimal `json:"wagered"`
	Paid     decimal.Decimal `json:"paid"`
	Profit   decimal.Decimal `json:"profit"`
	Balance  decimal.Decimal `json:"balance"`
	StartBal decimal.Decimal `json:"start_balance"`

	WinStreak  int `json:"win_streak"`
	LoseStreak int `json:"lose_streak"`
	// Positive = win streak, negative = lose streak.
	CurrentStreak int `json:"current_streak"`

	HighestStreak int             `json:"highest_streak"`
	LowestStreak  int             `json:"lowest_streak"`
	HighestBet    decimal.Decimal `json:"highest_bet"`
	HighestPayout decimal.Decimal `json:"highest_payout"`
	HighestProfit decimal.Decimal `json:"highest_profit"`
	LowestProfit  decimal.Decimal `json:"lowest_profit"`

	CurrentProfit decimal.Decimal `json:"current_profit"`
	PreviousBet   decimal.Decimal `json:"previous_bet"`
}

// NewStatistics creates a Statistics with starting balance.
func NewStatistics(startBalance decimal.Decimal) *Statistics {
	return &Statistics{
		Balance:  startBalance,
		StartBal: startBalance,
	}
}

// RecordBet updates all statistics with one settled bet. A bet wins when it
// pays anything.
func (s *Statistics) RecordBet(amount, payout decimal.Decimal) {
	s.Bets++

	profit := payout.Sub(amount)
	s.CurrentProfit = profit
	s.Profit = s.Profit.Add(profit)
	s.Wagered = s.Wagered.Add(amount)
	s.Paid = s.Paid.Add(payout)
	s.PreviousBet = amount
	s.Balance = s.Balance.Add(profit)

	if payout.IsPositive() {
		s.Wins++
		s.WinStreak++
		s.LoseStreak = 0
		if s.CurrentStreak >= 0 {
			s.CurrentStreak++
		} else {
			s.CurrentStreak = 1
		}
	} else {
		s.Losses++
		s.LoseStreak++
		s.WinStreak = 0
		if s.CurrentStreak <= 0 {
			s.CurrentStreak--
		} else {
			s.CurrentStreak = -1
		}
	}

	if s.CurrentStreak > s.HighestStreak {
		s.HighestStreak = s.CurrentStreak
	}
	if s.CurrentStreak < s.LowestStreak {
		s.LowestStreak = s.CurrentStreak
	}
	if amount.GreaterThan(s.HighestBet) {
		s.HighestBet = amount
	}
	if payout.GreaterThan(s.HighestPayout) {
		s.HighestPayout = payout
	}
	if s.Profit.GreaterThan(s.HighestProfit) {
		s.HighestProfit = s.Profit
	}
	if s.Profit.LessThan(s.LowestProfit) {
		s.LowestProfit = s.Profit
	}
}

// RTP returns paid over wagered, zero before the first bet.
func (s *Statistics) RTP() decimal.Decimal {
	if s.Wagered.IsZero() {
		return decimal.Zero
	}
	return s.Paid.DivRound(s.Wagered, amountPlaces)
}

// ChartPoint is a single data point for the profit chart.
type ChartPoint struct {
	BetNumber int             `json:"x"`
	Profit    decimal.Decimal `json:"y"`
	Win       bool            `json:"win"`
}

// ChartBuffer holds a bounded, decimated profit curve.
type ChartBuffer struct {
	Points []ChartPoint `json:"points"`
	Max    int          `json:"-"`
}

// NewChartBuffer creates a chart buffer with the given max capacity.
func NewChartBuffer(max int) *ChartBuffer {
	if max <= 0 {
		max = 50
	}
	return &ChartBuffer{
		Points: make([]ChartPoint, 0, max),
		Max:    max,
	}
}

// Push adds a data point. At twice Max the buffer keeps every other point,
// always including the first and last.
func (cb *ChartBuffer) Push(p ChartPoint) {
	cb.Points = append(cb.Points, p)

	if len(cb.Points) >= cb.Max*2 {
		decimated := make([]ChartPoint, 0, cb.Max)
		decimated = append(decimated, cb.Points[0])
		for i := 2; i < len(cb.Points)-1; i += 2 {
			decimated = append(decimated, cb.Points[i])
		}
		decimated = append(decimated, cb.Points[len(cb.Points)-1])
		cb.Points = decimated
	}
}
