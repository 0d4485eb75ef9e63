package main

import (
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/wailbentafat/debate-relay/config"
)

type rootOptions struct {
	configFile string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "debate-relay",
		Short: "Relay live debate events to monitoring clients",
		Long: `debate-relay fans debate lifecycle events out from a Redis pub/sub
channel per debate to any number of SSE or WebSocket monitors.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVarP(&opts.configFile, "config", "c", "", "config file (YAML)")

	cmd.AddCommand(newServeCmd(opts))
	cmd.AddCommand(newEmitCmd(opts))
	cmd.AddCommand(newTokenCmd(opts))
	return cmd
}

func (o *rootOptions) load() (*config.Config, error) {
	v, err := config.New(o.configFile)
	if err != nil {
		return nil, err
	}
	return config.Load(v)
}

// newLogger builds the root logger; every component derives its own from it.
func newLogger(w io.Writer, cfg config.LogConfig) (*slog.Logger, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		return nil, fmt.Errorf("log.level: %w", err)
	}
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	switch strings.ToLower(cfg.Format) {
	case "json":
		handler = slog.NewJSONHandler(w, opts)
	default:
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler), nil
}
