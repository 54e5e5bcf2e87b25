package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"maps"
	"slices"
	"strconv"

	"github.com/MrWong99/lumo/internal/config"
	"github.com/MrWong99/lumo/internal/interaction"
	"github.com/MrWong99/lumo/internal/learning"
	"github.com/MrWong99/lumo/internal/storage/postgres"
)

// minAnalyzeRecords is the smallest window the improvement loop reports on.
const minAnalyzeRecords = 5

var errUsage = errors.New("usage")

// command is an offline subcommand. It writes its report to w.
type command func(ctx context.Context, cfg *config.Config, args []string, w io.Writer) error

var commands = map[string]command{
	"stats":      statsCmd,
	"analyze":    analyzeCmd,
	"tune":       tuneCmd,
	"apply":      applyCmd,
	"thresholds": thresholdsCmd,
}

// openRecords returns the interaction store the running assistant writes to:
// PostgreSQL when configured, else the JSONL log.
func openRecords(ctx context.Context, cfg *config.Config) (interaction.Store, func(), error) {
	if dsn := cfg.Storage.PostgresDSN; dsn != "" {
		s, err := postgres.NewStore(ctx, dsn)
		if err != nil {
			return nil, nil, err
		}
		return s.Interactions(), s.Close, nil
	}
	return interaction.NewFileStore(cfg.Storage.InteractionLog), func() {}, nil
}

func recentRecords(ctx context.Context, cfg *config.Config, n int) ([]interaction.Record, error) {
	store, done, err := openRecords(ctx, cfg)
	if err != nil {
		return nil, err
	}
	defer done()
	return store.Recent(ctx, n)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// ── stats ─────────────────────────────────────────────────────────────────────

func statsCmd(ctx context.Context, cfg *config.Config, _ []string, w io.Writer) error {
	recs, err := recentRecords(ctx, cfg, 0)
	if err != nil {
		return err
	}
	return writeJSON(w, interaction.Summarize(recs))
}

// ── analyze ───────────────────────────────────────────────────────────────────

func analyzeCmd(ctx context.Context, cfg *config.Config, _ []string, w io.Writer) error {
	logs, err := recentRecords(ctx, cfg, learning.MonitorWindow)
	if err != nil {
		return err
	}
	if len(logs) < minAnalyzeRecords {
		fmt.Fprintf(w, "Not enough interactions yet (need %d+, have %d).\n", minAnalyzeRecords, len(logs))
		fmt.Fprintln(w, "Run lumo for a while and try various commands first.")
		return nil
	}
	all, err := recentRecords(ctx, cfg, 0)
	if err != nil {
		return err
	}
	tuner, err := learning.NewTuner(cfg.Tuning.Path)
	if err != nil {
		return err
	}

	header(w, "OBSERVE")
	stats := interaction.Summarize(all)
	fmt.Fprintf(w, "Observing %d recent interactions\n", len(logs))
	fmt.Fprintf(w, "  Total interactions: %d\n", stats.TotalInteractions)
	fmt.Fprintf(w, "  Success rate:       %.1f%%\n", stats.SuccessRate)
	fmt.Fprintf(w, "  Successful actions: %d / %d\n", stats.SuccessfulActions, stats.TotalInteractions)

	header(w, "DETECT PATTERNS")
	failures := learning.FailureAnalysis(logs)
	fmt.Fprintf(w, "Failures: %d (%s)\n", failures.TotalFailures, failures.FailureRate)
	for _, outcome := range slices.Sorted(maps.Keys(failures.ByType)) {
		fmt.Fprintf(w, "  %s: %d\n", outcome, failures.ByType[outcome])
	}
	for _, p := range failures.Patterns {
		fmt.Fprintf(w, "  - %s: %s failure rate, error %q\n", p.Intent, p.FailureRate, p.CommonError)
	}

	success := learning.SuccessRate(logs)
	fmt.Fprintf(w, "Success: %s overall\n", success.OverallSuccessRate)
	for _, in := range slices.Sorted(maps.Keys(success.ByIntent)) {
		s := success.ByIntent[in]
		fmt.Fprintf(w, "  - %s: %s (%d / %d)\n", in, s.Rate, s.Success, s.Total)
	}

	wake := learning.WakeWordDetection(logs)
	fmt.Fprintf(w, "Wake word detection: %s (%d / %d)\n", wake.DetectionRate, wake.WakeDetections, wake.TotalLogs)

	conf := learning.ConfirmationBehavior(logs)
	fmt.Fprintf(w, "Confirmations: %d (%d confirmed, %d cancelled, %s)\n",
		conf.TotalConfirmations, conf.Confirmed, conf.Cancelled, conf.ConfirmationRate)

	opps := learning.ImprovementOpportunities(logs)
	fmt.Fprintf(w, "Improvement opportunities: %d\n", len(opps.Recommendations))
	for _, r := range opps.Recommendations {
		fmt.Fprintf(w, "  [%s] %s: %s\n", r.Priority, r.Area, r.Issue)
		fmt.Fprintf(w, "         %s\n", r.Suggestion)
	}

	header(w, "ADJUST")
	printSuggestions(w, tuner.AutoTune(logs))

	header(w, "RE-TEST")
	if a := learning.CheckImprovementNeeded(logs); a.ImprovementNeeded {
		for _, al := range a.Alerts {
			fmt.Fprintf(w, "Alert %s: %s\n", al.Type, al.Message)
		}
	}
	sc := learning.SuggestRetestScenario(logs)
	if sc.Priority != "" {
		fmt.Fprintf(w, "[%s] %s\n", sc.Priority, sc.FocusArea)
	}
	fmt.Fprintf(w, "Scenario: %s\n", sc.Scenario)
	if sc.ExpectedOutcome != "" {
		fmt.Fprintf(w, "Expected: %s\n", sc.ExpectedOutcome)
	}
	if sc.SuccessCriteria != "" {
		fmt.Fprintf(w, "Success criteria: %s\n", sc.SuccessCriteria)
	}
	return nil
}

func header(w io.Writer, title string) {
	fmt.Fprintf(w, "\n== %s ==\n", title)
}

func printSuggestions(w io.Writer, rep learning.Report) {
	if len(rep.Suggestions) == 0 {
		fmt.Fprintln(w, "No threshold changes suggested.")
		return
	}
	for _, s := range rep.Suggestions {
		fmt.Fprintf(w, "%s: %g -> %g\n", s.Parameter, s.Current, s.Suggested)
		fmt.Fprintf(w, "  %s (%s)\n", s.Reason, s.Impact)
		fmt.Fprintf(w, "  apply with: lumo apply %s %g\n", s.Parameter, s.Suggested)
	}
	fmt.Fprintf(w, "Status: %s\n", rep.Status)
}

// ── tune ──────────────────────────────────────────────────────────────────────

func tuneCmd(ctx context.Context, cfg *config.Config, args []string, w io.Writer) error {
	fs := flag.NewFlagSet("tune", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	asJSON := fs.Bool("json", false, "print the report as JSON")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: lumo tune [-json]: %v", errUsage, err)
	}
	if fs.NArg() > 0 {
		return fmt.Errorf("%w: lumo tune [-json]", errUsage)
	}

	logs, err := recentRecords(ctx, cfg, learning.MonitorWindow)
	if err != nil {
		return err
	}
	tuner, err := learning.NewTuner(cfg.Tuning.Path)
	if err != nil {
		return err
	}
	rep := tuner.AutoTune(logs)
	if *asJSON {
		return writeJSON(w, rep)
	}
	fmt.Fprintf(w, "Analyzed %d interactions.\n", rep.LogsAnalyzed)
	printSuggestions(w, rep)
	return nil
}

// ── apply ─────────────────────────────────────────────────────────────────────

func applyCmd(_ context.Context, cfg *config.Config, args []string, w io.Writer) error {
	if len(args) != 2 {
		return fmt.Errorf("%w: lumo apply <parameter> <value>", errUsage)
	}
	value, err := strconv.ParseFloat(args[1], 64)
	if err != nil {
		return fmt.Errorf("%w: value %q is not a number", errUsage, args[1])
	}
	tuner, err := learning.NewTuner(cfg.Tuning.Path)
	if err != nil {
		return err
	}
	applied, err := tuner.Apply(args[0], value)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "%s: %g -> %g (written to %s)\n", applied.Parameter, applied.OldValue, applied.NewValue, tuner.Path())
	return nil
}

// ── thresholds ────────────────────────────────────────────────────────────────

func thresholdsCmd(_ context.Context, cfg *config.Config, _ []string, w io.Writer) error {
	tuner, err := learning.NewTuner(cfg.Tuning.Path)
	if err != nil {
		return err
	}
	return writeJSON(w, tuner.Current())
}
