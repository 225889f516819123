// Command tigrinho-cli runs operator and verification tasks against the slot
// database.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"strings"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/MJE43/tigrinho-pf/internal/app"
	"github.com/MJE43/tigrinho-pf/internal/config"
	"github.com/MJE43/tigrinho-pf/internal/logging"
)

// env is what every command runs with.
type env struct {
	ctx     context.Context
	cfg     *config.Config
	logger  *zap.Logger
	stdout  io.Writer
	openApp func() (*app.App, error)
}

type command struct {
	usage   string
	summary string
	run     func(e *env, args []string) error
}

var commands = map[string]command{
	"commitment":    {"", "show the live server seed hash and nonce", cmdCommitment},
	"rotate-seed":   {"[new_seed]", "reveal the live seed and install a new one (random when omitted)", cmdRotateSeed},
	"view-logs":     {"[n]", "show the last n spins, newest first (default 20)", cmdViewLogs},
	"export-csv":    {"<path|->", "write the spin history as CSV", cmdExportCSV},
	"spin":          {"[flags]", "play one spin against the live seed", cmdSpin},
	"verify":        {"[flags]", "recompute a spin from a revealed seed", cmdVerify},
	"hash-seed":     {"<seed>", "print the commitment of a seed", cmdHashSeed},
	"revealed":      {"[n]", "list revealed seeds", cmdRevealed},
	"stats":         {"", "show history totals and RTP", cmdStats},
	"scan":          {"[flags]", "scan a nonce range for payouts", cmdScan},
	"replay":        {"[flags] <script.js>", "replay a betting script against a revealed seed", cmdReplay},
	"set-admin-key": {"[-delete] [key]", "store the admin API key hash in the keyring", cmdSetAdminKey},
}

func main() {
	os.Exit(realMain(os.Args[1:], os.Stdout, os.Stderr))
}

func realMain(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("tigrinho-cli", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "", "path to a YAML config file")
	envFile := fs.String("env", ".env", "dotenv file loaded before the environment is read")
	verbose := fs.Bool("v", false, "log at info level")
	fs.Usage = func() { usage(stderr, fs) }
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() == 0 {
		fs.Usage()
		return 2
	}
	name, rest := fs.Arg(0), fs.Args()[1:]
	cmd, ok := commands[name]
	if !ok {
		fmt.Fprintf(stderr, "unknown command %q\n\n", name)
		fs.Usage()
		return 2
	}

	if err := config.LoadDotEnv(*envFile); err != nil {
		fmt.Fprintln(stderr, "error:", err)
		return 1
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(stderr, "error:", err)
		return 1
	}
	if !*verbose {
		cfg.Log.Level = "warn"
	}
	logger, err := logging.New(cfg.Log)
	if err != nil {
		fmt.Fprintln(stderr, "error:", err)
		return 1
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	e := &env{ctx: ctx, cfg: cfg, logger: logger, stdout: stdout}
	var opened *app.App
	e.openApp = func() (*app.App, error) {
		if opened != nil {
			return opened, nil
		}
		a, err := app.New(ctx, cfg, logger)
		if err != nil {
			return nil, err
		}
		if _, err := a.Bootstrap(ctx); err != nil {
			a.Close()
			return nil, err
		}
		opened = a
		return a, nil
	}
	defer func() {
		if opened != nil {
			opened.Close()
		}
	}()

	if err := cmd.run(e, rest); err != nil {
		fmt.Fprintf(stderr, "%s: %v\n", name, err)
		return 1
	}
	return 0
}

func usage(w io.Writer, fs *flag.FlagSet) {
	fmt.Fprintln(w, "usage: tigrinho-cli [global flags] <command> [args]")
	fmt.Fprintln(w, "\ncommands:")
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		c := commands[name]
		fmt.Fprintf(w, "  %-14s %-22s %s\n", name, c.usage, c.summary)
	}
	fmt.Fprintln(w, "\nglobal flags:")
	fs.PrintDefaults()
}

func printJSON(w io.Writer, v any) error {
	out, err := jsoniter.ConfigCompatibleWithStandardLibrary.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(out))
	return err
}

// newFlagSet returns a subcommand flag set that reports errors instead of
// exiting.
func newFlagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	return fs
}

func parseFlags(fs *flag.FlagSet, args []string) error {
	if err := fs.Parse(args); err != nil {
		var b strings.Builder
		fs.SetOutput(&b)
		fs.PrintDefaults()
		return fmt.Errorf("%w\n%s", err, b.String())
	}
	return nil
}
