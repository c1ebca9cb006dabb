package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"herald/internal/app"
	"herald/internal/dispatch"
	"herald/internal/messages"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check the config and messages and print the next fire times",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, _, err := loadConfig()
		if err != nil {
			return err
		}
		msgs, err := messages.Load(cfg.Messages.Path)
		if err != nil {
			return err
		}
		def, err := dispatch.ParseTransport(cfg.Dispatch.DefaultApp, dispatch.TransportSlack)
		if err != nil {
			return err
		}
		now := time.Now()
		plan, err := app.BuildPlan(msgs, now, cfg.Scheduler.Timezone, def)
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "JOB\tSPEC\tNEXT RUN")
		for _, j := range plan.Jobs {
			fmt.Fprintf(w, "%s\t%s\t%s\n", j.ID, j.Trigger.Spec(), fmtTime(j.Trigger.Next(now), j.Trigger.Location()))
		}
		for _, e := range plan.Calendar {
			fmt.Fprintf(w, "%s\tcalendar %q %s\t(resolved at run time)\n", e.MessageID, e.Anchor.EventName, e.Anchor.Offset)
		}
		if err := w.Flush(); err != nil {
			return err
		}
		fmt.Printf("\n%d messages ok: %d scheduled, %d calendar, %d disabled\n", len(msgs), len(plan.Jobs), len(plan.Calendar), plan.Disabled)
		return nil
	},
}
