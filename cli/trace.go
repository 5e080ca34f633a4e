package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/petal-labs/nighthawk/bus"
	"github.com/petal-labs/nighthawk/runtime"
)

// NewTraceCmd creates the "trace" command group over the SQLite event store.
func NewTraceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "trace",
		Short: "Inspect and maintain recorded step events",
	}
	cmd.PersistentFlags().String("dsn", "", "SQLite DSN of the event store (default: trace.dsn from config)")

	cmd.AddCommand(newTraceListCmd())
	cmd.AddCommand(newTraceShowCmd())
	cmd.AddCommand(newTracePruneCmd())
	return cmd
}

func newTraceListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recorded runs, newest first",
		Args:  cobra.NoArgs,
		RunE:  runTraceList,
	}
	cmd.Flags().Int("limit", 20, "Maximum number of runs (0 for all)")
	return cmd
}

func newTraceShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <run-id>",
		Short: "Print the events of one run",
		Args:  cobra.ExactArgs(1),
		RunE:  runTraceShow,
	}
	cmd.Flags().String("step", "", "Only events of this step id")
	cmd.Flags().StringArray("kind", nil, "Only events of this kind (repeatable)")
	cmd.Flags().String("format", "text", "Output format: text | json")
	return cmd
}

func newTracePruneCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete events older than the retention window",
		Args:  cobra.NoArgs,
		RunE:  runTracePrune,
	}
	cmd.Flags().Duration("older-than", 0, "Retention window (default: trace.retention from config)")
	return cmd
}

// openTraceStore opens the store named by --dsn or the configuration.
func openTraceStore(cmd *cobra.Command) (*bus.SQLiteEventStore, error) {
	dsn, _ := cmd.Flags().GetString("dsn")
	if strings.TrimSpace(dsn) == "" {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return nil, err
		}
		dsn = cfg.Trace.DSN
	}
	if strings.TrimSpace(dsn) == "" {
		return nil, exitError(exitConfig, "no event store configured: pass --dsn or set trace.dsn")
	}
	store, err := bus.NewSQLiteEventStore(dsn)
	if err != nil {
		return nil, exitError(exitRuntime, "opening event store: %v", err)
	}
	return store, nil
}

func runTraceList(cmd *cobra.Command, _ []string) error {
	limit, _ := cmd.Flags().GetInt("limit")
	store, err := openTraceStore(cmd)
	if err != nil {
		return err
	}
	defer store.Close()

	runs, err := store.Runs(cmd.Context(), limit)
	if err != nil {
		return exitError(exitRuntime, "listing runs: %v", err)
	}
	if len(runs) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No runs recorded.")
		return nil
	}

	writer := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 2, 2, ' ', 0)
	fmt.Fprintln(writer, "RUN\tSTARTED\tDURATION\tEVENTS\tSTEPS\tFAILURES")
	for _, r := range runs {
		fmt.Fprintf(writer, "%s\t%s\t%s\t%d\t%d\t%d\n",
			r.RunID,
			r.Started.Local().Format(time.DateTime),
			r.Last.Sub(r.Started).Round(time.Millisecond),
			r.Events, r.Steps, r.Failures,
		)
	}
	return writer.Flush()
}

// traceEvent is the JSON form printed by "trace show".
type traceEvent struct {
	Seq      uint64         `json:"seq"`
	Kind     string         `json:"kind"`
	Time     time.Time      `json:"time"`
	StepID   string         `json:"step_id,omitempty"`
	Function string         `json:"function,omitempty"`
	File     string         `json:"file,omitempty"`
	Line     int            `json:"line,omitempty"`
	Elapsed  string         `json:"elapsed,omitempty"`
	TraceID  string         `json:"trace_id,omitempty"`
	SpanID   string         `json:"span_id,omitempty"`
	Payload  map[string]any `json:"payload,omitempty"`
}

func runTraceShow(cmd *cobra.Command, args []string) error {
	stepID, _ := cmd.Flags().GetString("step")
	kinds, _ := cmd.Flags().GetStringArray("kind")
	format, _ := cmd.Flags().GetString("format")

	store, err := openTraceStore(cmd)
	if err != nil {
		return err
	}
	defer store.Close()

	q := bus.Query{RunID: args[0], StepID: stepID}
	for _, k := range kinds {
		q.Kinds = append(q.Kinds, runtime.EventKind(k))
	}
	events, err := store.List(cmd.Context(), q)
	if err != nil {
		return exitError(exitRuntime, "reading run %s: %v", args[0], err)
	}
	if len(events) == 0 {
		return exitError(exitFileNotFound, "no events recorded for run %s", args[0])
	}

	if format == "json" {
		out := make([]traceEvent, 0, len(events))
		for _, e := range events {
			te := traceEvent{
				Seq: e.Seq, Kind: string(e.Kind), Time: e.Time,
				StepID: e.StepID, Function: e.Function, File: e.File, Line: e.Line,
				TraceID: e.TraceID, SpanID: e.SpanID, Payload: e.Payload,
			}
			if e.Elapsed > 0 {
				te.Elapsed = e.Elapsed.String()
			}
			out = append(out, te)
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}

	printTraceText(cmd.OutOrStdout(), events)
	return nil
}

func printTraceText(w io.Writer, events []runtime.Event) {
	start := events[0].Time
	for _, e := range events {
		fmt.Fprintf(w, "%4d  +%-10s %-14s", e.Seq, e.Time.Sub(start).Round(time.Millisecond), e.Kind)
		if e.Function != "" {
			fmt.Fprintf(w, " %s", e.Function)
		}
		if e.File != "" {
			fmt.Fprintf(w, " (%s:%d)", e.File, e.Line)
		}
		if e.Elapsed > 0 {
			fmt.Fprintf(w, " took %s", e.Elapsed.Round(time.Microsecond))
		}
		if detail := payloadSummary(e.Payload); detail != "" {
			fmt.Fprintf(w, " %s", detail)
		}
		fmt.Fprintln(w)
	}
}

// payloadSummary renders a payload as sorted key=value pairs.
func payloadSummary(p map[string]any) string {
	if len(p) == 0 {
		return ""
	}
	keys := make([]string, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		v := p[k]
		switch v.(type) {
		case string, bool, int, int64, uint64, float64:
			parts = append(parts, fmt.Sprintf("%s=%v", k, v))
		default:
			data, err := json.Marshal(v)
			if err != nil {
				continue
			}
			parts = append(parts, fmt.Sprintf("%s=%s", k, data))
		}
	}
	return strings.Join(parts, " ")
}

func runTracePrune(cmd *cobra.Command, _ []string) error {
	olderThan, _ := cmd.Flags().GetDuration("older-than")
	if olderThan <= 0 {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		olderThan = cfg.RetentionDuration()
	}
	if olderThan <= 0 {
		return exitError(exitUsage, "no retention window: pass --older-than or set trace.retention")
	}

	store, err := openTraceStore(cmd)
	if err != nil {
		return err
	}
	defer store.Close()

	pruner, err := bus.NewPruner(store, olderThan, "", loggerFrom(cmd))
	if err != nil {
		return exitError(exitUsage, "%v", err)
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	n, err := pruner.PruneNow(ctx)
	if err != nil {
		return exitError(exitRuntime, "pruning: %v", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Pruned %d %s older than %s\n", n, pluralize("event", int(n)), olderThan)
	return nil
}
