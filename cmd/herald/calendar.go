package main

import (
	"context"
	"fmt"
	"os"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"herald/internal/anchor"
	"herald/internal/app"
	"herald/internal/calendar"
)

var (
	calID   string
	calDays int
	calN    int
)

var calendarCmd = &cobra.Command{
	Use:   "calendar",
	Short: "Query Google Calendar the way anchors do",
}

var calendarFindCmd = &cobra.Command{
	Use:   "find <event-name>",
	Short: "Show the next event an anchor with this name would use",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		g, loc, err := googleCalendar(cmd.Context())
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
		defer cancel()
		ev, err := g.FindNextEvent(ctx, args[0], calID, calDays)
		if err != nil {
			return err
		}
		if ev == nil {
			fmt.Printf("no event named %q in the next %d days\n", args[0], calDays)
			return nil
		}
		fmt.Printf("%s  %s  (id %s, all day %v)\n", ev.Start.In(loc).Format(time.RFC1123), ev.Title, ev.ID, ev.AllDay)
		return nil
	},
}

var calendarUpcomingCmd = &cobra.Command{
	Use:   "upcoming",
	Short: "List upcoming events",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		g, loc, err := googleCalendar(cmd.Context())
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
		defer cancel()
		evs, err := g.Upcoming(ctx, calID, calN)
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "START\tTITLE\tID")
		for _, ev := range evs {
			fmt.Fprintf(w, "%s\t%s\t%s\n", ev.Start.In(loc).Format("2006-01-02 15:04"), ev.Title, ev.ID)
		}
		return w.Flush()
	},
}

var calendarListCmd = &cobra.Command{
	Use:   "list",
	Short: "List calendars visible to the credentials",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		g, _, err := googleCalendar(cmd.Context())
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
		defer cancel()
		cals, err := g.Calendars(ctx)
		if err != nil {
			return err
		}
		ids := make([]string, 0, len(cals))
		for id := range cals {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME")
		for _, id := range ids {
			fmt.Fprintf(w, "%s\t%s\n", id, cals[id])
		}
		return w.Flush()
	},
}

func init() {
	calendarCmd.PersistentFlags().StringVar(&calID, "calendar", anchor.DefaultCalendarID, "calendar id")
	calendarFindCmd.Flags().IntVar(&calDays, "days", anchor.DefaultSearchWindow, "search window in days")
	calendarUpcomingCmd.Flags().IntVarP(&calN, "limit", "n", 10, "number of events")
	calendarCmd.AddCommand(calendarFindCmd, calendarUpcomingCmd, calendarListCmd)
}

func googleCalendar(ctx context.Context) (*calendar.Google, *time.Location, error) {
	cfg, _, log, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	gopts, err := app.GoogleOptions(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	if gopts == nil {
		return nil, nil, app.ErrCalendarDisabled
	}
	loc, err := time.LoadLocation(cfg.Scheduler.Timezone)
	if err != nil {
		return nil, nil, err
	}
	g, err := calendar.NewGoogle(ctx, loc, log, gopts...)
	if err != nil {
		return nil, nil, err
	}
	return g, loc, nil
}
