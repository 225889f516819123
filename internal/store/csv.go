package store

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"
)

var csvHeader = []string{"id", "ts", "client_seed", "nonce", "server_seed_hash", "reels_json", "bet", "lines", "payout"}

type spinCSVWriter struct {
	w *csv.Writer
}

func newSpinCSVWriter(w io.Writer) (*spinCSVWriter, error) {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return nil, fmt.Errorf("write csv header: %w", err)
	}
	return &spinCSVWriter{w: cw}, nil
}

func (s *spinCSVWriter) Write(rec *SpinRecord) error {
	reels, err := encodeReels(rec.Reels)
	if err != nil {
		return err
	}
	row := []string{
		rec.ID,
		rec.CreatedAt.UTC().Format(time.RFC3339Nano),
		rec.ClientSeed,
		strconv.FormatUint(rec.Nonce, 10),
		rec.ServerSeedHash,
		reels,
		strconv.FormatFloat(rec.Bet, 'f', -1, 64),
		strconv.FormatUint(uint64(rec.Lines), 10),
		strconv.FormatFloat(rec.Payout, 'f', -1, 64),
	}
	if err := s.w.Write(row); err != nil {
		return fmt.Errorf("write csv row: %w", err)
	}
	return nil
}

func (s *spinCSVWriter) Flush() error {
	s.w.Flush()
	if err := s.w.Error(); err != nil {
		return fmt.Errorf("flush csv: %w", err)
	}
	return nil
}
