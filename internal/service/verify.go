package service

import (
	"context"
	"errors"
	"math"

	"github.com/MJE43/tigrinho-pf/internal/engine"
	"github.com/MJE43/tigrinho-pf/internal/games"
	"github.com/MJE43/tigrinho-pf/internal/store"
)

var ErrMissingServerSeed = errors.New("server_seed is required")

// payoutTolerance absorbs float noise between a published and a recomputed payout.
const payoutTolerance = 1e-9

// VerifyRequest checks a published outcome against a revealed server seed.
// With SpinID set the client seed, nonce, reels, bet, payout, commitment and
// paytable are taken from the recorded spin. Checks are skipped for fields
// left empty.
type VerifyRequest struct {
	SpinID         string         `json:"spin_id,omitempty"`
	ServerSeed     string         `json:"server_seed"`
	ServerSeedHash string         `json:"server_seed_hash,omitempty"`
	ClientSeed     string         `json:"client_seed,omitempty"`
	Nonce          uint64         `json:"nonce"`
	Reels          games.Grid     `json:"reels,omitempty"`
	Bet            float64        `json:"bet,omitempty"` // defaults to 1
	Payout         *float64       `json:"payout,omitempty"`
	Paytable       games.Paytable `json:"paytable,omitempty"`
}

// VerifyResult carries the recomputed outcome and one flag per check made.
type VerifyResult struct {
	Valid             bool       `json:"valid"`
	ServerSeedHash    string     `json:"server_seed_hash"`
	ClientSeed        string     `json:"client_seed"`
	Nonce             uint64     `json:"nonce"`
	Reels             games.Grid `json:"reels"`
	Bet               float64    `json:"bet"`
	Payout            float64    `json:"payout"`
	CommitmentMatches *bool      `json:"commitment_matches,omitempty"`
	ReelsMatch        *bool      `json:"reels_match,omitempty"`
	PayoutMatches     *bool      `json:"payout_matches,omitempty"`
}

// VerifySpin recomputes an outcome from revealed seeds. It never touches the
// nonce or the history.
func (s *SlotService) VerifySpin(ctx context.Context, req VerifyRequest) (*VerifyResult, error) {
	if req.ServerSeed == "" {
		return nil, ErrMissingServerSeed
	}
	var pricedWith string
	if req.SpinID != "" {
		rec, err := s.db.GetSpin(ctx, req.SpinID)
		if err != nil {
			return nil, err
		}
		payout := rec.Payout
		req.ClientSeed = rec.ClientSeed
		req.Nonce = rec.Nonce
		req.Reels = rec.Reels
		req.Bet = rec.Bet
		req.Payout = &payout
		req.ServerSeedHash = rec.ServerSeedHash
		pricedWith = rec.PaytableJSON
	}
	if req.ClientSeed == "" || len(req.ClientSeed) > MaxClientSeedLength {
		return nil, ErrInvalidSeed
	}
	bet := req.Bet
	if bet == 0 {
		bet = 1
	}
	if !validBet(bet) {
		return nil, ErrInvalidBet
	}

	paytable := req.Paytable
	switch {
	case len(paytable) > 0:
	case pricedWith != "":
		paytable, _ = games.PaytableOrDefault(pricedWith)
	default:
		current, err := s.CurrentEngineParams(ctx)
		switch {
		case errors.Is(err, store.ErrParamsNotFound):
			paytable = games.DefaultPaytable()
		case err != nil:
			return nil, err
		default:
			paytable = current.Paytable
		}
	}

	params := games.EngineParams{Reels: s.reels, Paytable: paytable}
	out := games.SpinWithSeeds(req.ServerSeed, req.ClientSeed, req.Nonce, params, bet, 1)

	res := &VerifyResult{
		Valid:          true,
		ServerSeedHash: engine.Commitment(req.ServerSeed),
		ClientSeed:     req.ClientSeed,
		Nonce:          req.Nonce,
		Reels:          out.Indices(),
		Bet:            bet,
		Payout:         normalizeAmount(out.Payout),
	}
	check := func(ok bool) *bool {
		res.Valid = res.Valid && ok
		return &ok
	}
	if req.ServerSeedHash != "" {
		res.CommitmentMatches = check(engine.MatchesCommitment(req.ServerSeed, req.ServerSeedHash))
	}
	if req.Reels != nil {
		res.ReelsMatch = check(games.Verify(req.ServerSeed, req.ClientSeed, req.Nonce, s.reels, req.Reels))
	}
	if req.Payout != nil {
		res.PayoutMatches = check(math.Abs(res.Payout-*req.Payout) <= payoutTolerance)
	}
	return res, nil
}
