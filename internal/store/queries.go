package store

import (
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	jsoniter "github.com/json-iterator/go"

	"github.com/MJE43/tigrinho-pf/internal/games"
)

const (
	tableParams = "params"
	tableSpins  = "spins"
	tableEpochs = "seed_epochs"
)

var (
	paramsColumns = []string{"server_seed", "server_seed_hash", "rtp_target", "paytable_json", "nonce", "epoch_id", "started_at", "updated_at"}
	spinColumns   = []string{"id", "created_at", "client_seed", "nonce", "server_seed_hash", "epoch_id", "reels_json", "bet", "lines", "payout", "paytable_json"}
	epochColumns  = []string{"id", "server_seed", "server_seed_hash", "final_nonce", "spin_count", "started_at", "rotated_at"}
)

// queries builds the statements both backends share. Only the placeholder
// format and row locking differ between dialects.
type queries struct {
	sb      sq.StatementBuilderType
	lockRow string
}

func newQueries(format sq.PlaceholderFormat, lockRow string) queries {
	return queries{sb: sq.StatementBuilder.PlaceholderFormat(format), lockRow: lockRow}
}

func (q queries) selectParams(forUpdate bool) sq.SelectBuilder {
	b := q.sb.Select(paramsColumns...).From(tableParams).Where(sq.Eq{"id": 1})
	if forUpdate && q.lockRow != "" {
		b = b.Suffix(q.lockRow)
	}
	return b
}

func (q queries) insertParams(p *Params, ts func(time.Time) any) sq.InsertBuilder {
	return q.sb.Insert(tableParams).
		Columns(append([]string{"id"}, paramsColumns...)...).
		Values(1, p.ServerSeed, p.ServerSeedHash, p.RTPTarget, p.PaytableJSON, int64(p.Nonce), p.EpochID, ts(p.StartedAt), ts(p.UpdatedAt))
}

func (q queries) updateNonce(nonce uint64, updatedAt any) sq.UpdateBuilder {
	return q.sb.Update(tableParams).
		Set("nonce", int64(nonce)).
		Set("updated_at", updatedAt).
		Where(sq.Eq{"id": 1})
}

func (q queries) updateSettings(rtpTarget float64, paytableJSON string, updatedAt any) sq.UpdateBuilder {
	return q.sb.Update(tableParams).
		Set("rtp_target", rtpTarget).
		Set("paytable_json", paytableJSON).
		Set("updated_at", updatedAt).
		Where(sq.Eq{"id": 1})
}

func (q queries) updateHash(hash string, updatedAt any) sq.UpdateBuilder {
	return q.sb.Update(tableParams).
		Set("server_seed_hash", hash).
		Set("updated_at", updatedAt).
		Where(sq.Eq{"id": 1})
}

func (q queries) installSeed(seed, hash, epochID string, now any) sq.UpdateBuilder {
	return q.sb.Update(tableParams).
		Set("server_seed", seed).
		Set("server_seed_hash", hash).
		Set("nonce", 0).
		Set("epoch_id", epochID).
		Set("started_at", now).
		Set("updated_at", now).
		Where(sq.Eq{"id": 1})
}

func (q queries) insertSpin(rec *SpinRecord, reelsJSON string, createdAt any) sq.InsertBuilder {
	return q.sb.Insert(tableSpins).
		Columns(spinColumns...).
		Values(rec.ID, createdAt, rec.ClientSeed, int64(rec.Nonce), rec.ServerSeedHash, rec.EpochID, reelsJSON, rec.Bet, int64(rec.Lines), rec.Payout, rec.PaytableJSON)
}

func spinFilter(query SpinsQuery) sq.And {
	where := sq.And{}
	if query.ClientSeed != "" {
		where = append(where, sq.Eq{"client_seed": query.ClientSeed})
	}
	if query.ServerSeedHash != "" {
		where = append(where, sq.Eq{"server_seed_hash": query.ServerSeedHash})
	}
	return where
}

func (q queries) countSpins(query SpinsQuery) sq.SelectBuilder {
	return q.sb.Select("COUNT(*)").From(tableSpins).Where(spinFilter(query))
}

func (q queries) listSpins(query SpinsQuery) sq.SelectBuilder {
	return q.sb.Select(spinColumns...).From(tableSpins).
		Where(spinFilter(query)).
		OrderBy("seq DESC").
		Limit(uint64(query.PerPage)).
		Offset(uint64(query.offset()))
}

func (q queries) getSpin(id string) sq.SelectBuilder {
	return q.sb.Select(spinColumns...).From(tableSpins).Where(sq.Eq{"id": id})
}

func (q queries) exportSpins() sq.SelectBuilder {
	return q.sb.Select(spinColumns...).From(tableSpins).OrderBy("seq ASC")
}

func (q queries) countEpochSpins(epochID string) sq.SelectBuilder {
	return q.sb.Select("COUNT(*)").From(tableSpins).Where(sq.Eq{"epoch_id": epochID})
}

func (q queries) seedUsed(hash string) sq.SelectBuilder {
	return q.sb.Select("COUNT(*)").From(tableEpochs).Where(sq.Eq{"server_seed_hash": hash})
}

func (q queries) insertEpoch(e *SeedEpoch, ts func(time.Time) any) sq.InsertBuilder {
	return q.sb.Insert(tableEpochs).
		Columns(epochColumns...).
		Values(e.ID, e.ServerSeed, e.ServerSeedHash, int64(e.FinalNonce), e.SpinCount, ts(e.StartedAt), ts(e.RotatedAt))
}

func (q queries) listEpochs(limit, offset int) sq.SelectBuilder {
	if limit <= 0 {
		limit = defaultPerPage
	}
	if offset < 0 {
		offset = 0
	}
	return q.sb.Select(epochColumns...).From(tableEpochs).
		OrderBy("rotated_at DESC", "id").
		Limit(uint64(limit)).
		Offset(uint64(offset))
}

func (q queries) totals() sq.SelectBuilder {
	return q.sb.Select(
		"COUNT(*)",
		"COALESCE(SUM(CASE WHEN payout > 0 THEN 1 ELSE 0 END), 0)",
		"COALESCE(SUM(bet), 0)",
		"COALESCE(SUM(payout), 0)",
		"COALESCE(MAX(payout), 0)",
	).From(tableSpins)
}

// rowScanner is satisfied by *sql.Row, *sql.Rows, pgx.Row and pgx.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func encodeReels(reels games.Grid) (string, error) {
	if reels == nil {
		reels = games.Grid{}
	}
	out, err := jsoniter.MarshalToString(reels)
	if err != nil {
		return "", fmt.Errorf("encode reels: %w", err)
	}
	return out, nil
}

func decodeReels(raw string) (games.Grid, error) {
	var reels games.Grid
	if err := jsoniter.UnmarshalFromString(raw, &reels); err != nil {
		return nil, fmt.Errorf("decode reels: %w", err)
	}
	return reels, nil
}
