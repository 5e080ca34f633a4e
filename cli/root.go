// Package cli implements the nighthawk command line: code generation,
// block checking, contract inspection and trace store maintenance.
package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/petal-labs/nighthawk/config"
)

type loggerKey struct{}

// NewRootCmd builds the nighthawk command tree.
func NewRootCmd(version string) *cobra.Command {
	root := &cobra.Command{
		Use:   "nighthawk",
		Short: "Natural-language steps inside Go functions",
		Long: "nighthawk generates Go code for natural blocks marked in function bodies " +
			"and inspects the step contract and recorded traces.",
		// SilenceUsage prevents printing usage on every error
		SilenceUsage:      true,
		PersistentPreRunE: setupLogging,
	}

	root.PersistentFlags().String("config", "", "Path to nighthawk.yaml or nighthawk.toml")
	root.PersistentFlags().String("log-level", "info", "Log level: debug | info | warn | error")
	root.PersistentFlags().String("log-format", "text", "Log format: text | json")

	root.Version = version
	root.SetVersionTemplate(fmt.Sprintf("nighthawk version %s\n", version))

	root.AddCommand(NewGenerateCmd())
	root.AddCommand(NewCheckCmd())
	root.AddCommand(NewSchemaCmd())
	root.AddCommand(NewToolsCmd())
	root.AddCommand(NewTraceCmd())
	return root
}

func setupLogging(cmd *cobra.Command, _ []string) error {
	level, _ := cmd.Flags().GetString("log-level")
	format, _ := cmd.Flags().GetString("log-format")
	logger, err := newLogger(cmd.ErrOrStderr(), level, format)
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	cmd.SetContext(context.WithValue(ctx, loggerKey{}, logger))
	return nil
}

// newLogger builds a slog logger writing to w.
func newLogger(w io.Writer, level, format string) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.TrimSpace(level))); err != nil {
		return nil, exitError(exitUsage, "invalid --log-level %q", level)
	}
	opts := &slog.HandlerOptions{Level: lvl}
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", "text":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	}
	return nil, exitError(exitUsage, "invalid --log-format %q (want text or json)", format)
}

func loggerFrom(cmd *cobra.Command) *slog.Logger {
	if ctx := cmd.Context(); ctx != nil {
		if l, ok := ctx.Value(loggerKey{}).(*slog.Logger); ok {
			return l
		}
	}
	return slog.Default()
}

// loadConfig resolves and loads the configuration selected by --config.
// Without a config file the defaults and environment apply.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	explicit, _ := cmd.Flags().GetString("config")
	path, found, err := config.Discover(explicit)
	if err != nil {
		return nil, exitError(exitConfig, "%v", err)
	}
	if !found {
		path = ""
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, exitError(exitConfig, "%v", err)
	}
	loggerFrom(cmd).Debug("configuration loaded", "path", cfg.Path)
	return cfg, nil
}

// defaultPaths returns args, or the working directory when empty.
func defaultPaths(args []string) []string {
	if len(args) == 0 {
		return []string{"."}
	}
	return args
}
