package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

// historyCmd represents the history command
var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show the incident log",
	Long: `Prints the local incident log, most recent first. The local log is
optimistic: it includes incidents the backend never acknowledged.

With --refresh, the backend history replaces the view. Refresh is always
on-demand; the local log is never merged automatically.`,
	Args: cobra.NoArgs,
	RunE: runHistory,
}

var historyRefresh bool

func init() {
	historyCmd.Flags().BoolVar(&historyRefresh, "refresh", false, "Fetch the backend incident history")
}

func runHistory(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.close()
	cmd.SilenceUsage = true

	ctx := cmd.Context()
	incidents := a.mirror.Snapshot().Incidents
	if historyRefresh {
		remote, err := a.backend.TriggerHistory(ctx)
		if err != nil {
			return err
		}
		a.mirror.ReplaceIncidents(remote)
		incidents = remote
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTIME\tLAT\tLNG\tMODE\tSENT\tSTATUS")
	for _, inc := range incidents {
		fmt.Fprintf(w, "%s\t%s\t%.5f\t%.5f\t%s\t%v\t%s\n",
			inc.ID, inc.TriggeredAt.Format("2006-01-02 15:04:05"),
			inc.Latitude, inc.Longitude, inc.Mode, inc.Submitted, inc.Status)
	}
	w.Flush()
	fmt.Printf("%d incident(s)\n", len(incidents))
	return nil
}
