package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/zulandar/gavel/internal/caselog"
	"github.com/zulandar/gavel/internal/config"
	"github.com/zulandar/gavel/internal/db"
	"github.com/zulandar/gavel/internal/models"
)

func newCasesCmd() *cobra.Command {
	var (
		configPath string
		limit      int
		thread     string
	)

	cmd := &cobra.Command{
		Use:   "cases",
		Short: "List recorded cases from the case log",
		Long:  "Reads the audit case log. With --thread, prints the full event history of a single case.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCases(cmd, configPath, limit, thread)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "gavel.yaml", "path to Gavel config file")
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "max cases to list")
	cmd.Flags().StringVar(&thread, "thread", "", "show one case by hearing thread ID")
	return cmd
}

func runCases(cmd *cobra.Command, configPath string, limit int, thread string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	gormDB, err := db.Connect(cfg.CaseLog)
	if err != nil {
		return fmt.Errorf("connect case log: %w", err)
	}
	clog, err := caselog.New(gormDB)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if thread != "" {
		rec, err := clog.ByThread(thread)
		if err != nil {
			return fmt.Errorf("no case for thread %s: %w", thread, err)
		}
		printCase(out, rec)
		return nil
	}

	records, err := clog.Recent(limit)
	if err != nil {
		return fmt.Errorf("list cases: %w", err)
	}
	if len(records) == 0 {
		fmt.Fprintln(out, "No cases recorded.")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTATUS\tISSUE\tPARTIES\tOUTCOME\tOPENED")
	for _, r := range records {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s vs %s\t%s\t%s\n",
			r.ID, r.Status, orDash(r.Issue),
			orDash(r.PartyA), orDash(r.PartyB),
			orDash(r.Outcome), r.OpenedAt.Format("2006-01-02 15:04"))
	}
	return w.Flush()
}

func printCase(out io.Writer, rec *models.CaseRecord) {
	fmt.Fprintf(out, "Case #%d (%s)\n", rec.ID, rec.Status)
	fmt.Fprintf(out, "  Thread:  %s\n", rec.ThreadID)
	fmt.Fprintf(out, "  Raiser:  %s\n", rec.RaiserID)
	fmt.Fprintf(out, "  Parties: %s vs %s\n", orDash(rec.PartyA), orDash(rec.PartyB))
	fmt.Fprintf(out, "  Issue:   %s\n", orDash(rec.Issue))
	fmt.Fprintf(out, "  Outcome: %s\n", orDash(rec.Outcome))
	fmt.Fprintf(out, "  Opened:  %s\n", rec.OpenedAt.Format(time.RFC3339))
	if rec.ClosedAt != nil {
		fmt.Fprintf(out, "  Closed:  %s\n", rec.ClosedAt.Format(time.RFC3339))
	}
	if len(rec.Events) > 0 {
		fmt.Fprintln(out, "  Events:")
		for _, ev := range rec.Events {
			detail := ev.Detail
			if detail != "" {
				detail = " — " + strings.TrimSpace(detail)
			}
			fmt.Fprintf(out, "    %s  %-8s %s%s\n",
				ev.CreatedAt.Format("2006-01-02 15:04"), ev.Kind, ev.Actor, detail)
		}
	}
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
