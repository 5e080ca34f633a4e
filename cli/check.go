package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/petal-labs/nighthawk/core"
	"github.com/petal-labs/nighthawk/rewrite"
)

// NewCheckCmd creates the "check" subcommand.
func NewCheckCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "check [paths...]",
		Short: "Validate natural blocks without generating code",
		RunE:  runCheck,
	}

	cmd.Flags().String("format", "text", "Output format: text | json")
	cmd.Flags().String("suffix", rewrite.DefaultSuffix, "Suffix of generated files to skip")

	return cmd
}

// checkEntry is one reported block or failure.
type checkEntry struct {
	File    string   `json:"file"`
	Line    int      `json:"line,omitempty"`
	Kind    string   `json:"kind,omitempty"`
	Inputs  []string `json:"inputs,omitempty"`
	Outputs []string `json:"outputs,omitempty"`
	Error   string   `json:"error,omitempty"`
}

func runCheck(cmd *cobra.Command, args []string) error {
	format, _ := cmd.Flags().GetString("format")
	suffix, _ := cmd.Flags().GetString("suffix")

	var files []string
	for _, p := range defaultPaths(args) {
		info, err := os.Stat(p)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return exitError(exitFileNotFound, "path not found: %s", p)
			}
			return fmt.Errorf("reading %s: %w", p, err)
		}
		if !info.IsDir() {
			files = append(files, p)
			continue
		}
		sources, err := rewrite.Sources(p, suffix)
		if err != nil {
			return fmt.Errorf("listing %s: %w", p, err)
		}
		files = append(files, sources...)
	}

	entries, failed := checkFiles(files)
	if format == "json" {
		if entries == nil {
			entries = []checkEntry{}
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		_ = enc.Encode(entries)
	} else {
		printCheckText(cmd.OutOrStdout(), entries, len(files))
	}

	if failed > 0 {
		return exitError(exitParse, "%d of %d %s failed", failed, len(files), pluralize("file", len(files)))
	}
	return nil
}

func checkFiles(files []string) (entries []checkEntry, failed int) {
	for _, f := range files {
		src, err := os.ReadFile(f) // #nosec G304 -- path from user CLI arg
		if err != nil {
			entries = append(entries, checkEntry{File: f, Error: err.Error()})
			failed++
			continue
		}
		blocks, err := rewrite.Check(f, src)
		if err != nil {
			entry := checkEntry{File: f, Error: err.Error()}
			var perr *core.ParseError
			if errors.As(err, &perr) {
				entry.Line = perr.Line
				entry.Error = perr.Message
			}
			entries = append(entries, entry)
			failed++
			continue
		}
		for _, b := range blocks {
			entries = append(entries, checkEntry{
				File:    f,
				Line:    b.Line,
				Kind:    string(b.Kind),
				Inputs:  b.Inputs,
				Outputs: b.Outputs,
			})
		}
	}
	return entries, failed
}

func printCheckText(w io.Writer, entries []checkEntry, files int) {
	blocks, errs := 0, 0
	for _, e := range entries {
		if e.Error != "" {
			errs++
			if e.Line > 0 {
				fmt.Fprintf(w, "ERROR %s:%d: %s\n", e.File, e.Line, e.Error)
			} else {
				fmt.Fprintf(w, "ERROR %s: %s\n", e.File, e.Error)
			}
			continue
		}
		blocks++
		fmt.Fprintf(w, "%s:%d: %s block", e.File, e.Line, e.Kind)
		if len(e.Inputs) > 0 {
			fmt.Fprintf(w, " reads %s", strings.Join(e.Inputs, ", "))
		}
		if len(e.Outputs) > 0 {
			fmt.Fprintf(w, " writes %s", strings.Join(e.Outputs, ", "))
		}
		fmt.Fprintln(w)
	}

	switch {
	case files == 0:
		fmt.Fprintln(w, "No files carry the nighthawk build tag.")
	case errs == 0:
		fmt.Fprintf(w, "OK: %d %s in %d %s\n", blocks, pluralize("block", blocks), files, pluralize("file", files))
	default:
		fmt.Fprintf(w, "\n%d %s, %d %s\n", errs, pluralize("error", errs), blocks, pluralize("block", blocks))
	}
}
