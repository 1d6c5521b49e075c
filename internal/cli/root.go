// Package cli wires the tally commands.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/rpggio/tally/internal/app"
	"github.com/rpggio/tally/internal/config"
	"github.com/rpggio/tally/internal/logging"
	"github.com/spf13/cobra"
)

type rootOptions struct {
	transport string
	dbPath    string
	logLevel  string
}

// NewRootCommand builds the tally command tree.
func NewRootCommand(version string) *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "tally",
		Short:         "Collect, group and act on feedback across a primary store and a realtime replica",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.dbPath, "db", "", "SQLite database path (overrides TALLY_DB_PATH)")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "debug, info, warn or error")

	root.AddCommand(
		newServeCommand(opts, version),
		newIngestCommand(opts),
		newCountsCommand(opts),
		newJournalCommand(opts),
		newAPIKeyCommand(opts),
	)
	return root
}

// loadConfig reads the environment and applies flag overrides.
func (o *rootOptions) loadConfig() (config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, fmt.Errorf("config: %w", err)
	}
	if o.dbPath != "" {
		cfg.DB.Path = o.dbPath
	}
	if o.logLevel != "" {
		cfg.Log.Level = o.logLevel
	}
	if o.transport != "" {
		cfg.Server.Transport = o.transport
	}
	return cfg, nil
}

// newLogger writes to w, or to cfg.Log.Path when set. The returned closer
// releases the log file.
func newLogger(cfg config.Config, w io.Writer) (*slog.Logger, func()) {
	closeFn := func() {}
	if cfg.Log.Path != "" {
		file, err := logging.OpenFile(cfg.Log.Path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "log file error: %v\n", err)
		} else {
			w = file
			closeFn = func() { _ = file.Close() }
		}
	}
	return logging.New(w, cfg.Log.Level, cfg.Log.Format), closeFn
}

// openApp builds the engine for one-shot commands. Logs go to stderr so
// stdout carries only command output.
func (o *rootOptions) openApp(cmd *cobra.Command) (*app.App, func(), error) {
	cfg, err := o.loadConfig()
	if err != nil {
		return nil, nil, err
	}
	logger, closeLog := newLogger(cfg, cmd.ErrOrStderr())
	a, err := app.New(cfg, logger)
	if err != nil {
		closeLog()
		return nil, nil, err
	}
	return a, func() {
		if err := a.Close(); err != nil {
			logger.Warn("close failed", "error", err)
		}
		closeLog()
	}, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
