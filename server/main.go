package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/golang/glog"
	"github.com/joho/godotenv"
	"github.com/pterm/pterm"

	"kuhn-arena/server/agent"
	"kuhn-arena/server/engine"
	"kuhn-arena/server/judge"
	"kuhn-arena/server/metrics"
	"kuhn-arena/server/sim"
	"kuhn-arena/server/store"
)

//
// ===== bootstrap =====
//

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
func atoiDef(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return def
	}
	return n
}
func int64Def(s string, def int64) int64 {
	if s == "" {
		return def
	}
	n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return def
	}
	return n
}
func floatDef(s string, def float64) float64 {
	if s == "" {
		return def
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return def
	}
	return f
}
func asBool(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "true", "yes", "y", "on":
		return true
	default:
		return false
	}
}

// configFromEnv reads SIM_*, PROGRESSIVE_HANDS and the EQ_* thresholds.
func configFromEnv() (sim.Config, error) {
	cfg := sim.DefaultConfig()
	t, err := agent.ThresholdsFromEnv()
	if err != nil {
		return cfg, err
	}
	cfg.Thresholds = t
	cfg.Seed = int64Def(os.Getenv("SIM_SEED"), 0)
	cfg.ProgressiveHands = atoiDef(os.Getenv("PROGRESSIVE_HANDS"), cfg.ProgressiveHands)
	cfg.Batch = atoiDef(os.Getenv("SIM_BATCH"), cfg.Batch)
	cfg.Workers = atoiDef(os.Getenv("SIM_WORKERS"), runtime.NumCPU())
	return cfg, cfg.Validate()
}

func watchSignals(cancel context.CancelFunc) {
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt)
	<-c
	cancel()
}

func main() {
	_ = godotenv.Load()

	var serve, simulate, progressive, parallel, migrate bool
	var hands, batch, workers int
	flag.BoolVar(&serve, "serve", false, "start the HTTP control surface (default when no mode is given)")
	flag.BoolVar(&simulate, "simulate", false, "play a batch run and print the summary")
	flag.BoolVar(&progressive, "progressive", false, "play a progressive run with a live progress bar")
	flag.BoolVar(&parallel, "parallel", false, "play a batch run over several workers")
	flag.BoolVar(&migrate, "migrate", false, "apply the Postgres schema and exit")
	flag.IntVar(&hands, "hands", -1, "hands to play (default SIM_HANDS, or PROGRESSIVE_HANDS with --progressive)")
	flag.IntVar(&batch, "batch", 0, "hands per progressive step (default SIM_BATCH)")
	flag.IntVar(&workers, "workers", 0, "workers for --parallel (default SIM_WORKERS)")
	flag.Parse()
	defer glog.Flush()

	if os.Getenv("NO_COLOR") != "" {
		pterm.DisableColor()
	}

	cfg, err := configFromEnv()
	if err != nil {
		glog.Exitf("config: %v", err)
	}
	if batch > 0 {
		cfg.Batch = batch
	}
	if workers > 0 {
		cfg.Workers = workers
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go watchSignals(cancel)

	st, mode, err := store.FromEnv(ctx)
	if err != nil {
		glog.Warningf("store disabled (%s): %v", mode, err)
		st, mode = store.Nop{}, store.ModeNone
	}
	defer st.Close()
	if db, ok := st.(*store.DB); ok && (migrate || asBool(os.Getenv("AUTO_MIGRATE"))) {
		if err := store.Migrate(ctx, db); err != nil {
			glog.Exitf("migrate: %v", err)
		}
		glog.Info("migrated")
	}
	if migrate {
		if mode != store.ModePostgres {
			glog.Warningf("--migrate only applies to STORE_MODE=postgres (current: %s)", mode)
		}
		return
	}

	s, err := sim.New(cfg)
	if err != nil {
		glog.Exitf("simulator: %v", err)
	}
	eq := agent.NewEquilibrium(cfg.Thresholds, engine.NewRand(1))
	exp, err := judge.Evaluate(map[engine.Actor]agent.Stochastic{
		engine.Equilibrium: eq,
		engine.Baseline:    agent.Baseline{},
	})
	if err != nil {
		glog.Exitf("judge: %v", err)
	}
	runner := NewRunner(s, st, exp)
	runner.eloK = floatDef(os.Getenv("ELO_K"), runner.eloK)
	glog.Infof("store=%s seed=%d thresholds=%+v", mode, cfg.Seed, cfg.Thresholds)

	n := atoiDef(os.Getenv("SIM_HANDS"), 10000)
	if progressive {
		n = cfg.ProgressiveHands
	}
	if hands >= 0 {
		n = hands
	}

	switch {
	case progressive:
		runProgressive(ctx, runner, n, cfg.Batch)
	case parallel:
		runParallel(ctx, runner, n, cfg.Workers)
	case simulate:
		runSimulate(ctx, runner, n)
	default:
		if !serve {
			glog.V(1).Info("no mode flag given, serving")
		}
		runServer(ctx, runner, eq)
	}
}

func runServer(ctx context.Context, runner *Runner, eq agent.Stochastic) {
	rec, err := metrics.Load(getenv("METRICS_FILE", "metrics/cfr_metrics.json"))
	if err != nil {
		glog.Warningf("metrics record unreadable, serving empty record: %v", err)
		rec = metrics.Empty()
	}
	delay := time.Duration(atoiDef(os.Getenv("PROGRESSIVE_DELAY_MS"), 5)) * time.Millisecond
	srv := NewServer(runner, rec, eq, atoiDef(os.Getenv("SIM_HANDS"), 10000), delay)

	port := getenv("PORT", "8080")
	hs := &http.Server{Addr: ":" + port, Handler: Router(srv), ReadTimeout: 15 * time.Second}
	go func() {
		<-ctx.Done()
		shut, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		runner.Sim().Cancel()
		_ = hs.Shutdown(shut)
	}()
	glog.Infof("listening on http://localhost:%s (Ctrl+C to stop)", port)
	pterm.Info.Printfln("listening on http://localhost:%s", port)
	if err := hs.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		glog.Exitf("http: %v", err)
	}
}

func runSimulate(ctx context.Context, runner *Runner, n int) {
	pterm.DefaultSection.Printfln("Batch run: %d hands", n)
	spinner, serr := pterm.DefaultSpinner.Start("Playing hands...")
	rep, err := runner.Batch(ctx, n)
	switch {
	case serr != nil:
	case err != nil:
		spinner.Warning(fmt.Sprintf("stopped early: %v", err))
	default:
		spinner.Success("Done")
	}
	printReport(rep)
	printLastHand(runner.Sim().LastHand())
}

func runParallel(ctx context.Context, runner *Runner, n, workers int) {
	pterm.DefaultSection.Printfln("Parallel run: %d hands over %d workers", n, workers)
	seed := uint64(runner.Sim().Config().Seed)
	rep, err := runner.Parallel(ctx, n, workers, seed)
	if err != nil {
		pterm.Warning.Printfln("stopped early: %v", err)
	}
	printReport(rep)
}

func runProgressive(ctx context.Context, runner *Runner, n, batch int) {
	pterm.DefaultSection.Printfln("Progressive run: %d hands, %d per step (Ctrl+C cancels)", n, batch)
	live, err := runner.Progressive(ctx, n, batch)
	if err != nil {
		glog.Exitf("progressive: %v", err)
	}
	bar, _ := pterm.DefaultProgressbar.WithTotal(n).WithTitle("hands").Start()
	seen := 0
	live.Drive(0, func(st sim.Stats) {
		if bar != nil {
			bar.Add(st.Total - seen)
			bar.UpdateTitle(fmt.Sprintf("cfr %.3f", st.WinRate(engine.Equilibrium)))
		}
		seen = st.Total
	})
	if bar != nil {
		_, _ = bar.Stop()
	}
	switch live.Status() {
	case sim.Cancelled:
		pterm.Warning.Printfln("cancelled after %d hands", live.Played())
	default:
		pterm.Success.Printfln("completed %d hands", live.Played())
	}
	printReport(live.Report())
}

func printReport(rep Report) {
	st := rep.Stats
	data := pterm.TableData{{"", "cfr", "baseline"}}
	eq, base := st.Seats[engine.Equilibrium], st.Seats[engine.Baseline]
	data = append(data,
		[]string{"wins", strconv.Itoa(st.EquilibriumWins), strconv.Itoa(st.BaselineWins)},
		[]string{"win rate", fmt.Sprintf("%.4f", st.WinRate(engine.Equilibrium)), fmt.Sprintf("%.4f", st.WinRate(engine.Baseline))},
		[]string{"net chips", strconv.Itoa(eq.Net), strconv.Itoa(base.Net)},
		[]string{"wins first/second", fmt.Sprintf("%d/%d", eq.FirstWins, eq.SecondWins), fmt.Sprintf("%d/%d", base.FirstWins, base.SecondWins)},
		[]string{"pass/bet", fmt.Sprintf("%d/%d", eq.Pass, eq.Bet), fmt.Sprintf("%d/%d", base.Pass, base.Bet)},
	)
	if rep.Ratings != nil {
		r := rep.Ratings
		data = append(data,
			[]string{"elo", fmt.Sprintf("%.1f", r.EloEquilibrium), fmt.Sprintf("%.1f", r.EloBaseline)},
			[]string{"glicko-2", fmt.Sprintf("%.1f ±%.0f", r.GlickoEq.Rating, 2*r.GlickoEq.RD), fmt.Sprintf("%.1f ±%.0f", r.GlickoBaseline.Rating, 2*r.GlickoBaseline.RD)},
		)
	}
	_ = pterm.DefaultTable.WithHasHeader().WithData(data).Render()

	pterm.Info.Printfln("hands=%d showdowns=%d consistent=%v", st.Total, st.Showdowns, rep.Consistent)
	pterm.Info.Printfln("cfr win rate %.4f, 95%% CI [%.4f, %.4f]; exact %.4f (z=%.2f)",
		rep.WinRate, rep.WinCILow, rep.WinCIHigh, rep.ExpWinRate, rep.ZScore)
	pterm.Info.Printfln("cfr net per hand %.4f, 95%% CI [%.4f, %.4f]; exact EV %.4f",
		rep.NetPerHand, rep.ChipCILow, rep.ChipCIHigh, rep.ExpEV)
}

func printLastHand(h *engine.Result) {
	if h == nil {
		return
	}
	var moves []string
	for _, m := range h.History {
		moves = append(moves, fmt.Sprintf("%s:%s", m.Actor, m.Action))
	}
	body := pterm.Sprintfln("cfr %s  vs  baseline %s", h.Cards[engine.Equilibrium].Face(), h.Cards[engine.Baseline].Face()) +
		pterm.Sprintfln("%s", strings.Join(moves, "  ")) +
		pterm.Sprintf("pot %d, winner %s", h.Pot, pterm.LightGreen(string(h.Winner)))
	pterm.DefaultBox.WithTitle(pterm.LightYellow("|LAST HAND " + h.ID + "|")).WithTitleTopCenter().Println(body)
}
