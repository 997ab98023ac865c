package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"trichat/internal/analytics"
)

func NewStatsCommand() *cobra.Command {
	var (
		date   string
		asJSON bool
	)

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Print per-provider statistics for one day of recorded interactions",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			if a.recorder == nil {
				return errors.New("interaction recording is disabled (RECORDER_DRIVER=none)")
			}

			day := time.Now().UTC()
			if date != "" {
				day, err = time.Parse("2006-01-02", date)
				if err != nil {
					return fmt.Errorf("invalid --date: %w", err)
				}
			}

			stats, err := analytics.ForDay(a.recorder, day)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				s, err := stats.ToJSON()
				if err != nil {
					return err
				}
				fmt.Fprintln(out, s)
				return nil
			}
			fmt.Fprint(out, stats.GenerateReportSummary())
			return nil
		},
	}

	cmd.Flags().StringVar(&date, "date", "", "Day to report on, YYYY-MM-DD (default today, UTC)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON instead of a text summary")
	return cmd
}
