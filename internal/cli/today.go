package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/careviah/caregiver/internal/api/models"
	"github.com/careviah/caregiver/internal/resilience"
	"github.com/careviah/caregiver/internal/schedule"
)

func newTodayCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "today",
		Short: "Print today's visits",
		Long:  "Fetch the caregiver's visits once and print the categorized day: active, upcoming, missed and completed.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			log, err := newLogger(cmd.ErrOrStderr(), cfg)
			if err != nil {
				return err
			}

			client, err := newCareClient(cfg, resilience.NewRegistry(), log)
			if err != nil {
				return err
			}
			store, err := newStore(cfg, log)
			if err != nil {
				return err
			}

			if _, err := store.Refresh(cmd.Context(), client); err != nil {
				return fmt.Errorf("fetching schedule: %w", err)
			}

			day := store.Today()
			if opts.isJSON() {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(models.FromDay(day))
			}
			loc, err := cfg.TimeLocation()
			if err != nil {
				return err
			}
			printDay(cmd.OutOrStdout(), day, loc)
			return nil
		},
	}
}

// dayPrinter renders the categorized day for a terminal. Styles degrade to
// plain text when w is not a terminal.
type dayPrinter struct {
	w       io.Writer
	loc     *time.Location
	header  lipgloss.Style
	muted   lipgloss.Style
	warning lipgloss.Style
	late    lipgloss.Style
}

func newDayPrinter(w io.Writer, loc *time.Location) *dayPrinter {
	r := lipgloss.NewRenderer(w)
	return &dayPrinter{
		w:       w,
		loc:     loc,
		header:  r.NewStyle().Bold(true).Foreground(lipgloss.Color("33")),
		muted:   r.NewStyle().Foreground(lipgloss.Color("244")),
		warning: r.NewStyle().Foreground(lipgloss.Color("3")),
		late:    r.NewStyle().Foreground(lipgloss.Color("1")),
	}
}

func printDay(w io.Writer, day schedule.Day, loc *time.Location) {
	p := newDayPrinter(w, loc)

	fmt.Fprintf(w, "%s  %s\n", p.header.Render(day.Date.Format("Mon 2 Jan 2006")),
		p.muted.Render(fmt.Sprintf("missed %d  upcoming %d  completed %d",
			day.Stats.Missed, day.Stats.Upcoming, day.Stats.Completed)))

	for _, a := range day.Anomalies {
		fmt.Fprintln(w, p.warning.Render("warning: "+a.Message))
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, p.header.Render("Active"))
	if day.Active == nil {
		fmt.Fprintln(w, p.muted.Render("  none"))
	} else {
		p.view(*day.Active)
	}

	p.section("Upcoming", day.Upcoming)
	p.section("Missed", day.Missed)
	p.section("Completed", day.Completed)
}

func (p *dayPrinter) section(title string, views []schedule.View) {
	fmt.Fprintln(p.w)
	fmt.Fprintln(p.w, p.header.Render(title))
	if len(views) == 0 {
		fmt.Fprintln(p.w, p.muted.Render("  none"))
		return
	}
	for _, v := range views {
		p.view(v)
	}
}

func (p *dayPrinter) view(v schedule.View) {
	var note string
	switch {
	case v.DisplayStatus == schedule.DisplayInProgress:
		note = fmt.Sprintf("in progress %s, %d/%d tasks addressed",
			v.Elapsed.Truncate(time.Minute), len(v.Tasks)-len(schedule.UnaddressedTaskIDs(v.Tasks)), len(v.Tasks))
	case v.DisplayStatus == schedule.DisplayGracePeriod:
		note = p.late.Render(fmt.Sprintf("late by %s, clock in now", (-v.Countdown).Truncate(time.Second)))
	case v.StartingSoon:
		note = fmt.Sprintf("starts in %s", v.Countdown.Truncate(time.Minute))
	default:
		note = p.muted.Render(strings.ReplaceAll(string(v.DisplayStatus), "_", " "))
	}

	fmt.Fprintf(p.w, "  %s  %-20s %-28s %s  %s\n",
		v.ScheduledAt.In(p.loc).Format("15:04"), v.ClientName, v.Location, note, p.muted.Render("["+v.ID+"]"))
}
