package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"herald/internal/app"
	"herald/internal/task/scheduler"
	"herald/internal/tracker"
	logx "herald/pkg/logx"
)

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "List persisted jobs and tracked calendar events",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, dur, log, err := loadConfig()
		if err != nil {
			return err
		}
		st, err := app.OpenStore(cfg, dur, log)
		if err != nil {
			return err
		}
		defer st.Close()
		ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
		defer cancel()

		recs, err := st.LoadJobs(ctx)
		if err != nil {
			return err
		}
		loc, _ := time.LoadLocation(cfg.Scheduler.Timezone)
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tORIGIN\tMESSAGE\tSPEC\tNEXT RUN\tMAX OCC")
		for _, r := range recs {
			info, err := scheduler.Describe(r)
			if err != nil {
				fmt.Fprintf(w, "%s\t%s\t%s\t<%v>\t\t\n", r.ID, r.Origin, r.MessageID, err)
				continue
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n", info.ID, info.Origin, info.MessageID, info.Spec, fmtTime(info.Next, loc), fmtMax(info.MaxOccurrences))
		}
		if err := w.Flush(); err != nil {
			return err
		}

		events, err := tracker.New(st, logx.Nop()).List(ctx)
		if err != nil {
			return err
		}
		if len(events) == 0 {
			return nil
		}
		fmt.Println()
		w = tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "MESSAGE\tEVENT\tEVENT START\tSEND TIME\tSTATUS")
		for _, e := range events {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", e.MessageConfigID, e.EventID, fmtTime(e.EventStartTime, loc), fmtTime(e.ScheduledSendTime, loc), e.Status)
		}
		return w.Flush()
	},
}

func fmtTime(t time.Time, loc *time.Location) string {
	if t.IsZero() {
		return "-"
	}
	if loc != nil {
		t = t.In(loc)
	}
	return t.Format("2006-01-02 15:04 MST")
}

func fmtMax(n int) string {
	if n <= 0 {
		return "-"
	}
	return fmt.Sprintf("%d (unenforced)", n)
}
