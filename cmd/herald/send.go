package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"herald/internal/app"
	"herald/internal/dispatch"
	"herald/internal/messages"
)

var sendDryRun bool

var sendCmd = &cobra.Command{
	Use:   "send <message-id>",
	Short: "Send one message now, ignoring its schedule",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, dur, log, err := loadConfig()
		if err != nil {
			return err
		}
		msgs, err := messages.Load(cfg.Messages.Path)
		if err != nil {
			return err
		}
		msg, ok := messages.ByID(msgs, args[0])
		if !ok {
			return fmt.Errorf("no message with id %q", args[0])
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), 2*time.Minute)
		defer cancel()
		st, err := app.OpenStore(cfg, dur, log)
		if err != nil {
			return err
		}
		defer st.Close()
		gopts, err := app.GoogleOptions(ctx, cfg)
		if err != nil {
			return err
		}
		disp, err := app.NewDispatcher(ctx, cfg, gopts, st, nil, log, sendDryRun)
		if err != nil {
			return err
		}
		return disp.Dispatch(ctx, dispatch.Request{JobID: "manual", MessageID: msg.ID, Payload: msg.Payload})
	},
}

func init() {
	sendCmd.Flags().BoolVar(&sendDryRun, "dry-run", false, "log the rendered message instead of sending it")
}
