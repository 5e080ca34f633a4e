package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/petal-labs/nighthawk/rewrite"
)

// NewGenerateCmd creates the "generate" subcommand.
func NewGenerateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "generate [paths...]",
		Short: "Generate step runner code for files marked with the nighthawk build tag",
		Long: "generate rewrites every file or package directory given (default: the working " +
			"directory) whose build constraint requires the nighthawk tag into a sibling file " +
			"that runs its natural blocks.",
		RunE: runGenerate,
	}

	cmd.Flags().String("suffix", rewrite.DefaultSuffix, "Suffix of generated files")
	cmd.Flags().Bool("dry-run", false, "Print generated code instead of writing files")
	cmd.Flags().Bool("watch", false, "Regenerate when marked sources change")
	cmd.Flags().Duration("debounce", 200*time.Millisecond, "Quiet period before regenerating in --watch mode")

	return cmd
}

func runGenerate(cmd *cobra.Command, args []string) error {
	suffix, _ := cmd.Flags().GetString("suffix")
	dryRun, _ := cmd.Flags().GetBool("dry-run")
	watch, _ := cmd.Flags().GetBool("watch")
	debounce, _ := cmd.Flags().GetDuration("debounce")

	if !strings.HasSuffix(suffix, ".go") {
		return exitError(exitUsage, "--suffix must end in .go, got %q", suffix)
	}
	if watch && dryRun {
		return exitError(exitUsage, "--watch and --dry-run cannot be combined")
	}

	paths := defaultPaths(args)
	opts := rewrite.Options{Suffix: suffix, DryRun: dryRun, Logger: loggerFrom(cmd)}

	err := generatePaths(cmd.OutOrStdout(), paths, opts)
	if !watch {
		return err
	}
	if err != nil {
		fmt.Fprintln(cmd.ErrOrStderr(), err)
	}

	watcher, werr := fsnotify.NewWatcher()
	if werr != nil {
		return fmt.Errorf("starting file watcher: %w", werr)
	}
	defer watcher.Close()
	for _, dir := range watchDirs(paths) {
		if err := watcher.Add(dir); err != nil {
			return fmt.Errorf("watching %s: %w", dir, err)
		}
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	fmt.Fprintf(cmd.ErrOrStderr(), "Watching %s for changes (Ctrl+C to stop)\n", strings.Join(paths, ", "))
	return watchLoop(ctx, watcher.Events, watcher.Errors, paths, opts, debounce, cmd.OutOrStdout(), cmd.ErrOrStderr())
}

// generatePaths runs the generator over every path. Dry runs print the
// generated code; otherwise one summary line per written file is printed.
func generatePaths(w io.Writer, paths []string, opts rewrite.Options) error {
	var errs []error
	for _, p := range paths {
		results, err := rewrite.Path(p, opts)
		for _, r := range results {
			if opts.DryRun {
				fmt.Fprintf(w, "// ---- %s ----\n", r.Output)
				_, _ = w.Write(r.Code)
				continue
			}
			fmt.Fprintf(w, "%s -> %s (%d %s)\n", r.Source, r.Output, len(r.Blocks), pluralize("block", len(r.Blocks)))
		}
		if err != nil {
			errs = append(errs, err)
		}
	}

	err := errors.Join(errs...)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, os.ErrNotExist):
		return exitError(exitFileNotFound, "%v", err)
	}
	return exitError(exitParse, "%v", err)
}

// watchDirs returns the directories to watch for paths.
func watchDirs(paths []string) []string {
	seen := map[string]bool{}
	var dirs []string
	for _, p := range paths {
		dir := p
		if info, err := os.Stat(p); err == nil && !info.IsDir() {
			dir = filepath.Dir(p)
		}
		dir = filepath.Clean(dir)
		if !seen[dir] {
			seen[dir] = true
			dirs = append(dirs, dir)
		}
	}
	return dirs
}

// affected returns the requested paths a change to file must regenerate.
func affected(file string, paths []string, suffix string) []string {
	if !strings.HasSuffix(file, ".go") || strings.HasSuffix(file, suffix) || strings.HasSuffix(file, "_test.go") {
		return nil
	}
	file = filepath.Clean(file)
	var out []string
	for _, p := range paths {
		clean := filepath.Clean(p)
		if clean == file || clean == filepath.Dir(file) {
			out = append(out, p)
		}
	}
	return out
}

// watchLoop regenerates affected paths once events have been quiet for
// debounce. Generation errors are reported and the loop keeps running.
func watchLoop(
	ctx context.Context,
	events <-chan fsnotify.Event,
	errs <-chan error,
	paths []string,
	opts rewrite.Options,
	debounce time.Duration,
	out, errOut io.Writer,
) error {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	pending := map[string]bool{}
	timer := time.NewTimer(debounce)
	if !timer.Stop() {
		<-timer.C
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			targets := affected(ev.Name, paths, opts.Suffix)
			if len(targets) == 0 {
				continue
			}
			for _, t := range targets {
				pending[t] = true
			}
			logger.Debug("source changed", "file", ev.Name, "op", ev.Op.String())
			timer.Reset(debounce)
		case err, ok := <-errs:
			if !ok {
				return nil
			}
			logger.Error("file watcher error", "error", err)
		case <-timer.C:
			var batch []string
			for _, p := range paths {
				if pending[p] {
					batch = append(batch, p)
				}
			}
			pending = map[string]bool{}
			if err := generatePaths(out, batch, opts); err != nil {
				fmt.Fprintln(errOut, err)
			}
		}
	}
}

// pluralize returns the singular or plural form of a word based on count.
func pluralize(word string, count int) string {
	if count == 1 {
		return word
	}
	return word + "s"
}
