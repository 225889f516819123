package store

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"

	"github.com/MJE43/tigrinho-pf/internal/engine"
)

// conn runs built statements. It is implemented over database/sql for
// SQLite and over pgx for Postgres.
type conn interface {
	exec(ctx context.Context, b sq.Sqlizer) (int64, error)
	queryRow(ctx context.Context, b sq.Sqlizer) rowScanner
	query(ctx context.Context, b sq.Sqlizer) (rows, error)
}

type txConn interface {
	conn
	commit(ctx context.Context) error
	rollback(ctx context.Context) error
}

type rows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
	Close()
}

// errRow defers a statement build error to Scan.
type errRow struct{ err error }

func (r errRow) Scan(...any) error { return r.err }

// sqlStore implements the dialect-independent part of DB.
type sqlStore struct {
	q          queries
	encodeTime func(time.Time) any
	retryable  func(error) bool
	conn       conn
	begin      func(ctx context.Context) (txConn, error)
	now        func() time.Time
}

// inTx runs fn in a transaction, retrying the whole transaction on transient
// lock or serialization failures.
func (s *sqlStore) inTx(ctx context.Context, fn func(ctx context.Context, tx conn) error) error {
	return withRetry(ctx, s.retryable, func(ctx context.Context) error {
		tx, err := s.begin(ctx)
		if err != nil {
			return fmt.Errorf("begin transaction: %w", err)
		}
		if err := fn(ctx, tx); err != nil {
			_ = tx.rollback(ctx)
			return err
		}
		return tx.commit(ctx)
	})
}

func (s *sqlStore) timestamp() time.Time {
	return s.now().UTC()
}

func scanParams(row rowScanner) (*Params, error) {
	var p Params
	var nonce int64
	var startedAt, updatedAt dbTime
	err := row.Scan(&p.ServerSeed, &p.ServerSeedHash, &p.RTPTarget, &p.PaytableJSON, &nonce, &p.EpochID, &startedAt, &updatedAt)
	if err != nil {
		if isNoRows(err) {
			return nil, ErrParamsNotFound
		}
		return nil, fmt.Errorf("failed to read params: %w", err)
	}
	p.Nonce = uint64(nonce)
	p.StartedAt = startedAt.Time
	p.UpdatedAt = updatedAt.Time
	return &p, nil
}

func scanSpin(row rowScanner) (*SpinRecord, error) {
	var rec SpinRecord
	var nonce, lines int64
	var createdAt dbTime
	var reelsJSON string
	err := row.Scan(&rec.ID, &createdAt, &rec.ClientSeed, &nonce, &rec.ServerSeedHash, &rec.EpochID, &reelsJSON, &rec.Bet, &lines, &rec.Payout, &rec.PaytableJSON)
	if err != nil {
		if isNoRows(err) {
			return nil, ErrSpinNotFound
		}
		return nil, fmt.Errorf("failed to scan spin: %w", err)
	}
	reels, err := decodeReels(reelsJSON)
	if err != nil {
		return nil, err
	}
	rec.CreatedAt = createdAt.Time
	rec.Nonce = uint64(nonce)
	rec.Lines = uint32(lines)
	rec.Reels = reels
	return &rec, nil
}

func scanEpoch(row rowScanner) (*SeedEpoch, error) {
	var e SeedEpoch
	var finalNonce int64
	var startedAt, rotatedAt dbTime
	err := row.Scan(&e.ID, &e.ServerSeed, &e.ServerSeedHash, &finalNonce, &e.SpinCount, &startedAt, &rotatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to scan seed epoch: %w", err)
	}
	e.FinalNonce = uint64(finalNonce)
	e.StartedAt = startedAt.Time
	e.RotatedAt = rotatedAt.Time
	return &e, nil
}

func (s *sqlStore) GetParams(ctx context.Context) (*Params, error) {
	return scanParams(s.conn.queryRow(ctx, s.q.selectParams(false)))
}

func (s *sqlStore) EnsureParams(ctx context.Context, seed string, rtpTarget float64, paytableJSON string) (*Params, error) {
	var out *Params
	err := s.inTx(ctx, func(ctx context.Context, tx conn) error {
		p, err := scanParams(tx.queryRow(ctx, s.q.selectParams(true)))
		switch {
		case errors.Is(err, ErrParamsNotFound):
			if seed == "" {
				return ErrEmptySeed
			}
			now := s.timestamp()
			p = &Params{
				ServerSeed:     seed,
				ServerSeedHash: engine.Commitment(seed),
				RTPTarget:      rtpTarget,
				PaytableJSON:   paytableJSON,
				EpochID:        uuid.NewString(),
				StartedAt:      now,
				UpdatedAt:      now,
			}
			if _, err := tx.exec(ctx, s.q.insertParams(p, s.encodeTime)); err != nil {
				return fmt.Errorf("failed to create params: %w", err)
			}
		case err != nil:
			return err
		default:
			if want := engine.Commitment(p.ServerSeed); p.ServerSeedHash != want {
				p.ServerSeedHash = want
				p.UpdatedAt = s.timestamp()
				if _, err := tx.exec(ctx, s.q.updateHash(want, s.encodeTime(p.UpdatedAt))); err != nil {
					return fmt.Errorf("failed to repair server seed hash: %w", err)
				}
			}
		}
		out = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *sqlStore) SetParams(ctx context.Context, rtpTarget float64, paytableJSON string) error {
	n, err := s.conn.exec(ctx, s.q.updateSettings(rtpTarget, paytableJSON, s.encodeTime(s.timestamp())))
	if err != nil {
		return fmt.Errorf("failed to update params: %w", err)
	}
	if n == 0 {
		return ErrParamsNotFound
	}
	return nil
}

func (s *sqlStore) ExecSpin(ctx context.Context, clientSeed string, play PlayFunc) (*SpinRecord, error) {
	var out *SpinRecord
	err := s.inTx(ctx, func(ctx context.Context, tx conn) error {
		p, err := scanParams(tx.queryRow(ctx, s.q.selectParams(true)))
		if err != nil {
			return err
		}
		p.Nonce++

		res, err := play(*p)
		if err != nil {
			return err
		}

		rec := &SpinRecord{
			ID:             uuid.NewString(),
			CreatedAt:      s.timestamp(),
			ClientSeed:     clientSeed,
			Nonce:          p.Nonce,
			ServerSeedHash: p.ServerSeedHash,
			EpochID:        p.EpochID,
			Reels:          res.Reels,
			Bet:            res.Bet,
			Lines:          res.Lines,
			Payout:         res.Payout,
			PaytableJSON:   p.PaytableJSON,
		}
		reelsJSON, err := encodeReels(rec.Reels)
		if err != nil {
			return err
		}

		createdAt := s.encodeTime(rec.CreatedAt)
		if _, err := tx.exec(ctx, s.q.updateNonce(p.Nonce, createdAt)); err != nil {
			return fmt.Errorf("failed to advance nonce: %w", err)
		}
		if _, err := tx.exec(ctx, s.q.insertSpin(rec, reelsJSON, createdAt)); err != nil {
			return fmt.Errorf("failed to record spin: %w", err)
		}
		out = rec
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *sqlStore) RotateSeed(ctx context.Context, newSeed string) (*SeedEpoch, error) {
	if newSeed == "" {
		return nil, ErrEmptySeed
	}
	newHash := engine.Commitment(newSeed)

	var out *SeedEpoch
	err := s.inTx(ctx, func(ctx context.Context, tx conn) error {
		p, err := scanParams(tx.queryRow(ctx, s.q.selectParams(true)))
		if err != nil {
			return err
		}
		if p.ServerSeed == newSeed {
			return ErrSeedReused
		}

		var used int64
		if err := tx.queryRow(ctx, s.q.seedUsed(newHash)).Scan(&used); err != nil {
			return fmt.Errorf("failed to check seed history: %w", err)
		}
		if used > 0 {
			return ErrSeedReused
		}

		var spinCount int64
		if err := tx.queryRow(ctx, s.q.countEpochSpins(p.EpochID)).Scan(&spinCount); err != nil {
			return fmt.Errorf("failed to count epoch spins: %w", err)
		}

		now := s.timestamp()
		epoch := &SeedEpoch{
			ID:             p.EpochID,
			ServerSeed:     p.ServerSeed,
			ServerSeedHash: engine.Commitment(p.ServerSeed),
			FinalNonce:     p.Nonce,
			SpinCount:      spinCount,
			StartedAt:      p.StartedAt,
			RotatedAt:      now,
		}
		if _, err := tx.exec(ctx, s.q.insertEpoch(epoch, s.encodeTime)); err != nil {
			return fmt.Errorf("failed to archive seed: %w", err)
		}
		if _, err := tx.exec(ctx, s.q.installSeed(newSeed, newHash, uuid.NewString(), s.encodeTime(now))); err != nil {
			return fmt.Errorf("failed to install seed: %w", err)
		}
		out = epoch
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *sqlStore) ListSpins(ctx context.Context, query SpinsQuery) (*SpinsPage, error) {
	query = normalizePage(query)

	var total int
	if err := s.conn.queryRow(ctx, s.q.countSpins(query)).Scan(&total); err != nil {
		return nil, fmt.Errorf("failed to get total count: %w", err)
	}

	rs, err := s.conn.query(ctx, s.q.listSpins(query))
	if err != nil {
		return nil, fmt.Errorf("failed to query spins: %w", err)
	}
	defer rs.Close()

	spins := make([]SpinRecord, 0, query.PerPage)
	for rs.Next() {
		rec, err := scanSpin(rs)
		if err != nil {
			return nil, err
		}
		spins = append(spins, *rec)
	}
	if err := rs.Err(); err != nil {
		return nil, fmt.Errorf("error iterating spins: %w", err)
	}

	return &SpinsPage{
		Spins:      spins,
		TotalCount: total,
		Page:       query.offset()/query.PerPage + 1,
		PerPage:    query.PerPage,
		TotalPages: totalPages(total, query.PerPage),
	}, nil
}

func (s *sqlStore) GetSpin(ctx context.Context, id string) (*SpinRecord, error) {
	return scanSpin(s.conn.queryRow(ctx, s.q.getSpin(id)))
}

func (s *sqlStore) ListSeedEpochs(ctx context.Context, limit, offset int) ([]SeedEpoch, error) {
	rs, err := s.conn.query(ctx, s.q.listEpochs(limit, offset))
	if err != nil {
		return nil, fmt.Errorf("failed to query seed epochs: %w", err)
	}
	defer rs.Close()

	epochs := []SeedEpoch{}
	for rs.Next() {
		e, err := scanEpoch(rs)
		if err != nil {
			return nil, err
		}
		epochs = append(epochs, *e)
	}
	if err := rs.Err(); err != nil {
		return nil, fmt.Errorf("error iterating seed epochs: %w", err)
	}
	return epochs, nil
}

func (s *sqlStore) Totals(ctx context.Context) (*Totals, error) {
	var t Totals
	err := s.conn.queryRow(ctx, s.q.totals()).Scan(&t.Spins, &t.WinningSpins, &t.TotalBet, &t.TotalPayout, &t.MaxPayout)
	if err != nil {
		return nil, fmt.Errorf("failed to compute totals: %w", err)
	}
	return &t, nil
}

func (s *sqlStore) ExportCSV(ctx context.Context, w io.Writer) error {
	rs, err := s.conn.query(ctx, s.q.exportSpins())
	if err != nil {
		return fmt.Errorf("failed to query spins: %w", err)
	}
	defer rs.Close()

	cw, err := newSpinCSVWriter(w)
	if err != nil {
		return err
	}
	for rs.Next() {
		rec, err := scanSpin(rs)
		if err != nil {
			return err
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	if err := rs.Err(); err != nil {
		return fmt.Errorf("error iterating spins: %w", err)
	}
	return cw.Flush()
}
