package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/wailbentafat/debate-relay/broker"
	"github.com/wailbentafat/debate-relay/publisher"
)

var errMemoryBroker = errors.New("emit needs a shared broker; memory:// only reaches the current process")

type emitOptions struct {
	debateID string
	event    string
	data     string
}

func newEmitCmd(root *rootOptions) *cobra.Command {
	opts := &emitOptions{}
	cmd := &cobra.Command{
		Use:   "emit",
		Short: "Publish one event on a debate's channel",
		Example: `  debate-relay emit --debate 42 --event update --data '{"round":1}'
  debate-relay emit --debate 42 --event debate_completed`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := root.load()
			if err != nil {
				return err
			}
			if strings.HasPrefix(cfg.Broker.URL, broker.MemoryURL) {
				return errMemoryBroker
			}
			if !json.Valid([]byte(opts.data)) {
				return fmt.Errorf("--data is not valid JSON")
			}
			logger, err := newLogger(cmd.ErrOrStderr(), cfg.Log)
			if err != nil {
				return err
			}

			dialer, err := broker.NewDialer(cfg.Broker.URL, cfg.Publish.MaxRetries, logger)
			if err != nil {
				return err
			}
			conn, err := dialer.Dial(cmd.Context())
			if err != nil {
				return err
			}
			pub := publisher.New(conn, logger)
			defer pub.Close()

			if err := pub.Emit(cmd.Context(), opts.debateID, opts.event, json.RawMessage(opts.data)); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "published %s to %s\n", opts.event, broker.Channel(opts.debateID))
			return nil
		},
	}

	cmd.Flags().StringVar(&opts.debateID, "debate", "", "debate ID")
	cmd.Flags().StringVar(&opts.event, "event", broker.DefaultEvent, "event name")
	cmd.Flags().StringVar(&opts.data, "data", "{}", "event payload as JSON")
	_ = cmd.MarkFlagRequired("debate")
	return cmd
}
