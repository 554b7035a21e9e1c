package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/opensource-finance/tripwire/internal/cache"
	"github.com/opensource-finance/tripwire/internal/config"
	"github.com/opensource-finance/tripwire/internal/domain"
	"github.com/opensource-finance/tripwire/internal/geo"
	"github.com/opensource-finance/tripwire/internal/report"
	"github.com/opensource-finance/tripwire/internal/rules"
	"github.com/opensource-finance/tripwire/internal/worker"
)

// errAlert makes the scan command exit non-zero when --fail-on-alert is set.
var errAlert = errors.New("report raised alerts")

func newScanCmd() *cobra.Command {
	var (
		tenantID    string
		format      string
		failOnAlert bool
	)
	cmd := &cobra.Command{
		Use:   "scan [events.json]",
		Short: "Evaluate an event file offline and print the report",
		Long: "Reads events from a JSON file (or stdin with \"-\"), either a bare array or\n" +
			"{\"events\": [...]}, runs every rule and prints the report.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScan(cmd.Context(), cmd.OutOrStdout(), args[0], tenantID, format, failOnAlert)
		},
	}
	cmd.Flags().StringVar(&tenantID, "tenant", "default", "Tenant recorded on the report")
	cmd.Flags().StringVarP(&format, "output", "o", "json", "Output format: json or text")
	cmd.Flags().BoolVar(&failOnAlert, "fail-on-alert", false, "Exit non-zero when the report alerts")
	return cmd
}

func runScan(ctx context.Context, out io.Writer, path, tenantID, format string, failOnAlert bool) error {
	if format != "json" && format != "text" {
		return fmt.Errorf("unknown output format %q", format)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	setupLogger(os.Stderr, "text", cfg.Logging.Level)

	events, err := readEvents(path)
	if err != nil {
		return err
	}
	for i := range events {
		events[i].TenantID = tenantID
		events[i].Normalize()
		if err := events[i].Validate(); err != nil {
			return fmt.Errorf("event %d: %w", i, err)
		}
	}

	if ctx == nil {
		ctx = context.Background()
	}
	local := cache.NewLRUCache(cfg.Cache.LocalMaxSize)
	defer local.Close()

	engine, err := rules.NewEngine(geo.New(cfg.Geo, local), cfg.Engine, cfg.Detection)
	if err != nil {
		return err
	}
	defer engine.Close()
	if err := engine.Register(rules.Builtin()...); err != nil {
		return err
	}

	pipeline := worker.NewPipeline(engine, nil, report.NewProcessor(), nil)
	start := time.Now()
	rep, err := pipeline.Evaluate(ctx, tenantID, uuid.New().String(), events)
	if err != nil {
		return err
	}
	slog.Debug("scan complete",
		"events", len(events),
		"findings", len(rep.Findings),
		"duration_ms", time.Since(start).Milliseconds(),
	)

	if format == "json" {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(rep); err != nil {
			return err
		}
	} else {
		writeText(out, rep, pipeline.Alerts(rep))
	}

	if failOnAlert && report.ShouldAlert(rep) {
		return errAlert
	}
	return nil
}

func readEvents(path string) ([]domain.Event, error) {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("read events: %w", err)
	}
	return decodeEvents(data)
}

// decodeEvents accepts a bare array or an {"events": [...]} envelope.
func decodeEvents(data []byte) ([]domain.Event, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, errors.New("no events")
	}
	if data[0] == '[' {
		var events []domain.Event
		if err := json.Unmarshal(data, &events); err != nil {
			return nil, fmt.Errorf("decode events: %w", err)
		}
		return events, nil
	}
	var body struct {
		Events []domain.Event `json:"events"`
	}
	if err := json.Unmarshal(data, &body); err != nil {
		return nil, fmt.Errorf("decode events: %w", err)
	}
	return body.Events, nil
}

func writeText(w io.Writer, rep *domain.Report, alerts []domain.Alert) {
	fmt.Fprintf(w, "status: %s  score: %.3f  events: %d  findings: %d\n",
		rep.Status, rep.Score, rep.Metadata.EventsEvaluated, len(rep.Findings))
	for _, s := range rep.Summary {
		fmt.Fprintf(w, "  %-8s findings=%d score=%.3f\n", s.RuleID, s.Findings, s.Score)
	}
	for _, a := range alerts {
		fmt.Fprintf(w, "- [%s] %s: %s\n", a.Finding.RuleID, a.Title, a.Details)
	}
	for _, f := range rep.Failures {
		fmt.Fprintf(w, "! %s failed: %s\n", f.RuleID, f.Error)
	}
}
