package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/alejandrodnm/charliebot/config"
	"github.com/alejandrodnm/charliebot/internal/adapters/metrics"
	"github.com/alejandrodnm/charliebot/internal/adapters/notify"
	"github.com/alejandrodnm/charliebot/internal/adapters/storage"
	"github.com/alejandrodnm/charliebot/internal/application/controller"
	"github.com/alejandrodnm/charliebot/internal/domain"
	"github.com/alejandrodnm/charliebot/internal/ports"
)

const usage = `usage: charliebot [flags] short_big_spread short_small_spread initial_quantity [exchange]

  short_big_spread    USD above entry for the closing short of the initial size
  short_small_spread  USD above entry for the short covering the ladder fills
  initial_quantity    contracts of the entry long
  exchange            venue to trade on (default: bybit)

flags:
`

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to config file")
	paper := flag.Bool("paper", false, "simulate fills locally against live Bybit prices")
	once := flag.Bool("once", false, "run a single entry→flat cycle and exit")
	verbose := flag.Bool("verbose", false, "set log level to debug")
	logFormat := flag.String("format", "", "log format: text|json (overrides config)")
	console := flag.Bool("console", false, "print one compact line per event to stdout")
	ladder := flag.Float64("ladder", 0, "print the long ladder for this entry price and exit")
	report := flag.Bool("report", false, "print the journal report and exit")
	flag.Usage = func() {
		fmt.Fprint(flag.CommandLine.Output(), usage)
		flag.PrintDefaults()
	}
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err, "path", *configPath)
		os.Exit(1)
	}

	if *verbose {
		cfg.Log.Level = "debug"
	}
	if *logFormat != "" {
		cfg.Log.Format = *logFormat
	}
	closeLog := setupLogger(cfg.Log)
	defer closeLog()

	if *report {
		if err := runReport(cfg.Storage.DSN, os.Stdout); err != nil {
			slog.Error("report failed", "err", err)
			os.Exit(1)
		}
		return
	}

	args, err := parseArgs(flag.Args(), *ladder > 0)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		flag.Usage()
		os.Exit(2)
	}
	args.apply(cfg)

	if *ladder > 0 {
		qty := max(cfg.Strategy.InitialQuantity, 1)
		steps := domain.Ladder(*ladder, 2*qty, ladderParams(cfg.Strategy.Ladder))
		notify.NewConsole(false).PrintLadder(*ladder, 2*qty, steps)
		return
	}

	ccfg := controllerConfig(cfg)
	if *once {
		ccfg.MaxCycles = 1
	}
	if err := ccfg.Validate(); err != nil {
		slog.Error("invalid strategy", "err", err)
		os.Exit(2)
	}

	slog.Info("charliebot starting",
		"config", *configPath,
		"exchange", cfg.Exchange.Name,
		"symbol", cfg.Exchange.Symbol,
		"testnet", cfg.Exchange.Testnet,
		"paper", *paper,
		"short_big_spread", ccfg.ShortBigSpread,
		"short_small_spread", ccfg.ShortSmallSpread,
		"initial_quantity", ccfg.InitialQuantity,
		"poll", ccfg.PollInterval,
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	exchange, closeExchange, err := newExchange(ctx, cfg, *paper)
	if err != nil {
		slog.Error("failed to create exchange", "err", err, "exchange", cfg.Exchange.Name)
		os.Exit(2)
	}
	defer closeExchange()

	store, err := storage.NewSQLiteStorage(cfg.Storage.DSN)
	if err != nil {
		slog.Error("failed to open storage", "err", err, "dsn", cfg.Storage.DSN)
		os.Exit(1)
	}
	defer store.Close()

	reporters := []ports.Reporter{notify.NewLogger(nil), store}
	if *console {
		reporters = append(reporters, notify.NewConsole(*verbose))
	}
	if cfg.Metrics.Enabled {
		m := metrics.NewReporter()
		reporters = append(reporters, m)
		go func() {
			if err := m.Serve(ctx, cfg.Metrics.Addr); err != nil {
				slog.Warn("metrics server stopped", "err", err)
			}
		}()
	}

	c := controller.New(exchange, notify.NewMulti(reporters...), ccfg)
	if err := c.Run(ctx); err != nil {
		slog.Error("controller exited with error", "err", err, "state", c.State())
		closeExchange()
		store.Close()
		os.Exit(1)
	}

	slog.Info("charliebot stopped cleanly", "cycles", c.Cycles(), "state", c.State())
}

// cliArgs son los argumentos posicionales; los ceros no sobreescriben config.
type cliArgs struct {
	shortBigSpread   float64
	shortSmallSpread float64
	initialQuantity  int
	exchange         string
}

// parseArgs acepta 3 o 4 posicionales. Con optional=true (preview de la
// escalera) también acepta ninguno.
func parseArgs(args []string, optional bool) (cliArgs, error) {
	var out cliArgs
	if len(args) == 0 && optional {
		return out, nil
	}
	if len(args) < 3 || len(args) > 4 {
		return out, fmt.Errorf("expected 3 or 4 arguments, got %d", len(args))
	}

	var err error
	if out.shortBigSpread, err = strconv.ParseFloat(args[0], 64); err != nil {
		return out, fmt.Errorf("short_big_spread %q: %w", args[0], err)
	}
	if out.shortSmallSpread, err = strconv.ParseFloat(args[1], 64); err != nil {
		return out, fmt.Errorf("short_small_spread %q: %w", args[1], err)
	}
	if out.initialQuantity, err = strconv.Atoi(args[2]); err != nil {
		return out, fmt.Errorf("initial_quantity %q: %w", args[2], err)
	}
	if len(args) == 4 {
		out.exchange = args[3]
	}
	return out, nil
}

func (a cliArgs) apply(cfg *config.Config) {
	if a.shortBigSpread != 0 {
		cfg.Strategy.ShortBigSpread = a.shortBigSpread
	}
	if a.shortSmallSpread != 0 {
		cfg.Strategy.ShortSmallSpread = a.shortSmallSpread
	}
	if a.initialQuantity != 0 {
		cfg.Strategy.InitialQuantity = a.initialQuantity
	}
	if a.exchange != "" {
		cfg.Exchange.Name = a.exchange
	}
}

func ladderParams(l config.LadderConfig) domain.LadderParams {
	return domain.LadderParams{
		Index:        l.Index,
		Multiplier:   l.Multiplier,
		Intercept:    l.Intercept,
		GrowthFactor: l.GrowthFactor,
		MaxQuantity:  l.MaxQuantity,
	}
}

func controllerConfig(cfg *config.Config) controller.Config {
	s := cfg.Strategy
	cc := controller.DefaultConfig()
	cc.ShortBigSpread = s.ShortBigSpread
	cc.ShortSmallSpread = s.ShortSmallSpread
	cc.InitialQuantity = s.InitialQuantity
	cc.PollInterval = cfg.PollInterval()
	cc.EntryPollInterval = cfg.EntryPollInterval()
	cc.ChaseThreshold = s.ChaseThreshold
	cc.MaxCycles = s.MaxCycles
	cc.MaxConsecutiveFailures = s.MaxConsecutiveFailures
	cc.FailureCooldown = cfg.FailureCooldown()
	cc.GroupTimeout = cfg.GroupTimeout()
	cc.MaintenanceMargin = s.MaintenanceMargin
	if l := ladderParams(s.Ladder); l != (domain.LadderParams{}) {
		cc.Ladder = l
	}
	return cc
}

func runReport(dsn string, w io.Writer) error {
	store, err := storage.NewSQLiteStorage(dsn)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer store.Close()

	return printReport(context.Background(), store, w)
}

func printReport(ctx context.Context, journal ports.Journal, w io.Writer) error {
	stats, err := journal.Stats(ctx)
	if err != nil {
		return err
	}
	events, err := journal.RecentEvents(ctx, 25)
	if err != nil {
		return err
	}
	notify.NewConsoleWriter(w, false).PrintReport(stats, events)
	return nil
}

// setupLogger configura slog y, si hay fichero, lo rota con lumberjack.
func setupLogger(cfg config.LogConfig) func() {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	var out io.Writer = os.Stdout
	closer := func() {}
	if cfg.File != "" {
		lj := &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   true,
		}
		out = io.MultiWriter(os.Stdout, lj)
		closer = func() { lj.Close() }
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(out, opts)
	} else {
		handler = slog.NewTextHandler(out, opts)
	}
	slog.SetDefault(slog.New(handler))
	return closer
}
