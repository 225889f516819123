package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/MJE43/tigrinho-pf/internal/engine"
	"github.com/MJE43/tigrinho-pf/internal/scan"
	"github.com/MJE43/tigrinho-pf/internal/secrets"
	"github.com/MJE43/tigrinho-pf/internal/service"
	"github.com/MJE43/tigrinho-pf/internal/store"
	"github.com/MJE43/tigrinho-pf/internal/strategy"
)

var errVerifyFailed = errors.New("verification failed")

// countArg parses an optional positive count argument.
func countArg(args []string, def int) (int, error) {
	if len(args) == 0 {
		return def, nil
	}
	n, err := strconv.Atoi(args[0])
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("count must be a positive integer, got %q", args[0])
	}
	return n, nil
}

func cmdCommitment(e *env, _ []string) error {
	a, err := e.openApp()
	if err != nil {
		return err
	}
	c, err := a.Service.Commitment(e.ctx)
	if err != nil {
		return err
	}
	return printJSON(e.stdout, c)
}

func cmdRotateSeed(e *env, args []string) error {
	var newSeed string
	if len(args) > 0 {
		newSeed = args[0]
	}
	a, err := e.openApp()
	if err != nil {
		return err
	}
	res, err := a.Service.RotateSeed(e.ctx, newSeed)
	if err != nil {
		return err
	}
	fmt.Fprintf(e.stdout, "Revealed server seed: %s\n", res.Revealed.ServerSeed)
	fmt.Fprintf(e.stdout, "Revealed hash:        %s\n", res.Revealed.ServerSeedHash)
	fmt.Fprintf(e.stdout, "Final nonce:          %d (%d spins)\n", res.Revealed.FinalNonce, res.Revealed.SpinCount)
	fmt.Fprintf(e.stdout, "New server seed hash: %s\n", res.NewServerSeedHash)
	return nil
}

func cmdViewLogs(e *env, args []string) error {
	n, err := countArg(args, 20)
	if err != nil {
		return err
	}
	a, err := e.openApp()
	if err != nil {
		return err
	}
	page, err := a.Service.History(e.ctx, store.SpinsQuery{Page: 1, PerPage: n})
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(e.stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tCLIENT SEED\tNONCE\tSERVER HASH\tREELS\tBET\tPAYOUT")
	for _, s := range page.Spins {
		reels, _ := jsoniter.MarshalToString(s.Reels)
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\t%s\t%s\n",
			s.CreatedAt.Format(time.RFC3339),
			s.ClientSeed,
			s.Nonce,
			shortHash(s.ServerSeedHash),
			reels,
			strconv.FormatFloat(s.Bet, 'f', -1, 64),
			strconv.FormatFloat(s.Payout, 'f', -1, 64),
		)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(e.stdout, "%d of %d spins\n", len(page.Spins), page.TotalCount)
	return nil
}

func shortHash(h string) string {
	if len(h) <= 12 {
		return h
	}
	return h[:12]
}

func cmdExportCSV(e *env, args []string) error {
	if len(args) != 1 {
		return errors.New("usage: export-csv <path|->")
	}
	a, err := e.openApp()
	if err != nil {
		return err
	}
	if args[0] == "-" {
		return a.Service.ExportCSV(e.ctx, e.stdout)
	}

	f, err := os.Create(args[0])
	if err != nil {
		return err
	}
	if err := a.Service.ExportCSV(e.ctx, f); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	fmt.Fprintf(e.stdout, "exported spin history to %s\n", args[0])
	return nil
}

func cmdSpin(e *env, args []string) error {
	fs := newFlagSet("spin")
	client := fs.String("client", "", "client seed (required)")
	bet := fs.Float64("bet", 1, "bet amount")
	lines := fs.Uint("lines", 1, "paylines")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	a, err := e.openApp()
	if err != nil {
		return err
	}
	res, err := a.Service.Spin(e.ctx, service.SpinRequest{ClientSeed: *client, Bet: *bet, Lines: uint32(*lines)})
	if err != nil {
		return err
	}
	return printJSON(e.stdout, res)
}

func cmdVerify(e *env, args []string) error {
	fs := newFlagSet("verify")
	req := service.VerifyRequest{}
	fs.StringVar(&req.SpinID, "spin", "", "recorded spin id; fills the other fields")
	fs.StringVar(&req.ServerSeed, "server", "", "revealed server seed (required)")
	fs.StringVar(&req.ServerSeedHash, "hash", "", "published server seed hash to check")
	fs.StringVar(&req.ClientSeed, "client", "", "client seed")
	fs.Uint64Var(&req.Nonce, "nonce", 1, "nonce")
	fs.Float64Var(&req.Bet, "bet", 1, "bet amount")
	reels := fs.String("reels", "", `published reels as JSON, e.g. [[2,2,4],[3,3,0],[4,0,1]]`)
	payout := fs.Float64("payout", 0, "published payout to check")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	fs.Visit(func(f *flag.Flag) {
		if f.Name == "payout" {
			req.Payout = payout
		}
	})
	if *reels != "" {
		if err := jsoniter.UnmarshalFromString(*reels, &req.Reels); err != nil {
			return fmt.Errorf("parse reels: %w", err)
		}
	}

	a, err := e.openApp()
	if err != nil {
		return err
	}
	res, err := a.Service.VerifySpin(e.ctx, req)
	if err != nil {
		return err
	}
	if err := printJSON(e.stdout, res); err != nil {
		return err
	}
	if !res.Valid {
		return errVerifyFailed
	}
	return nil
}

func cmdHashSeed(e *env, args []string) error {
	if len(args) != 1 {
		return errors.New("usage: hash-seed <seed>")
	}
	_, err := fmt.Fprintln(e.stdout, engine.Commitment(args[0]))
	return err
}

func cmdRevealed(e *env, args []string) error {
	n, err := countArg(args, 20)
	if err != nil {
		return err
	}
	a, err := e.openApp()
	if err != nil {
		return err
	}
	seeds, err := a.Service.RevealedSeeds(e.ctx, n, 0)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(e.stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ROTATED\tSERVER SEED\tHASH\tFINAL NONCE\tSPINS")
	for _, s := range seeds {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\n",
			s.RotatedAt.Format(time.RFC3339), s.ServerSeed, shortHash(s.ServerSeedHash), s.FinalNonce, s.SpinCount)
	}
	return tw.Flush()
}

func cmdStats(e *env, _ []string) error {
	a, err := e.openApp()
	if err != nil {
		return err
	}
	stats, err := a.Service.Stats(e.ctx)
	if err != nil {
		return err
	}
	return printJSON(e.stdout, stats)
}

func cmdScan(e *env, args []string) error {
	fs := newFlagSet("scan")
	req := scan.ScanRequest{Game: "slot"}
	op := fs.String("op", string(scan.OpGreaterEqual), "target operator: eq gt ge lt le between outside")
	fs.StringVar(&req.Seeds.Server, "server", "", "server seed (required)")
	fs.StringVar(&req.Seeds.Client, "client", "", "client seed (required)")
	fs.Uint64Var(&req.NonceStart, "start", 1, "first nonce")
	fs.Uint64Var(&req.NonceEnd, "end", 1000, "last nonce")
	fs.Float64Var(&req.TargetVal, "target", 0, "target payout multiplier")
	fs.Float64Var(&req.TargetVal2, "target2", 0, "upper bound for between/outside")
	fs.Float64Var(&req.Bet, "bet", 1, "bet per spin")
	fs.IntVar(&req.Limit, "limit", 100, "maximum hits to return")
	fs.IntVar(&req.TimeoutMs, "timeout", 0, "timeout in milliseconds (0 for none)")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	if req.Seeds.Server == "" || req.Seeds.Client == "" {
		return errors.New("-server and -client are required")
	}
	req.TargetOp = scan.TargetOp(*op)

	a, err := e.openApp()
	if err != nil {
		return err
	}
	res, err := a.Service.Scan(e.ctx, req)
	if err != nil {
		return err
	}
	if err := printJSON(e.stdout, res); err != nil {
		return err
	}
	return res.Err()
}

func cmdReplay(e *env, args []string) error {
	fs := newFlagSet("replay")
	opts := strategy.Options{}
	fs.StringVar(&opts.ServerSeed, "server", "", "revealed server seed (required)")
	fs.StringVar(&opts.ClientSeed, "client", "", "client seed (required)")
	fs.Uint64Var(&opts.StartNonce, "start", 1, "first nonce")
	fs.IntVar(&opts.MaxBets, "max", strategy.DefaultMaxBets, "maximum bets")
	fs.Float64Var(&opts.StartBalance, "balance", 0, "starting balance (0 for unlimited)")
	fs.Float64Var(&opts.BaseBet, "basebet", 1, "initial basebet and nextbet")
	fs.DurationVar(&opts.CallTimeout, "call-timeout", 0, "time limit per script call")
	full := fs.Bool("json", false, "print every bet as JSON")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return errors.New("usage: replay [flags] <script.js>")
	}
	source, err := os.ReadFile(fs.Arg(0))
	if err != nil {
		return err
	}

	a, err := e.openApp()
	if err != nil {
		return err
	}
	res, err := a.Service.Replay(e.ctx, string(source), opts)
	if err != nil {
		return err
	}
	if *full {
		return printJSON(e.stdout, res)
	}
	printReplaySummary(e.stdout, res)
	return nil
}

func printReplaySummary(w io.Writer, res *strategy.Result) {
	for _, l := range res.Logs {
		fmt.Fprintf(w, "[bet %d] %s\n", l.Bet, l.Message)
	}
	s := res.Stats
	fmt.Fprintf(w, "server seed hash: %s\n", res.ServerSeedHash)
	fmt.Fprintf(w, "stopped:          %s\n", res.StopReason)
	fmt.Fprintf(w, "bets:             %d (%d wins, %d losses)\n", s.Bets, s.Wins, s.Losses)
	fmt.Fprintf(w, "wagered:          %s\n", s.Wagered)
	fmt.Fprintf(w, "profit:           %s (high %s, low %s)\n", s.Profit, s.HighestProfit, s.LowestProfit)
	fmt.Fprintf(w, "balance:          %s\n", s.Balance)
	fmt.Fprintf(w, "rtp:              %s\n", res.RTP)
	fmt.Fprintf(w, "streaks:          +%d / %d\n", s.HighestStreak, s.LowestStreak)
}

func cmdSetAdminKey(e *env, args []string) error {
	fs := newFlagSet("set-admin-key")
	del := fs.Bool("delete", false, "remove the stored key")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	ks := secrets.NewKeyringStore(e.cfg.Admin.KeyringService, e.cfg.Admin.FallbackPath)
	if *del {
		if err := ks.DeleteAdminKey(); err != nil {
			return err
		}
		fmt.Fprintln(e.stdout, "admin key removed")
		return nil
	}

	key := e.cfg.Admin.APIKey
	if fs.NArg() > 0 {
		key = fs.Arg(0)
	}
	if strings.TrimSpace(key) == "" {
		return errors.New("usage: set-admin-key <key> (or set API_KEY)")
	}
	if err := ks.SetAdminKey(key); err != nil {
		return err
	}
	fmt.Fprintln(e.stdout, "admin key hash stored")
	return nil
}
