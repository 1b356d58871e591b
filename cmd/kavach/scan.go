package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/kavach/kavach/internal/registry"
)

// scanCmd represents the scan command
var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Scan for nearby Bluetooth devices",
	Long: `Scans both Bluetooth transports concurrently and prints a merged,
de-duplicated device list.

The general scan surfaces everything in range for 20 seconds. With
--wearable, only devices advertising the Kavach name are accepted and the
window drops to 10 seconds.`,
	Args: cobra.NoArgs,
	RunE: runScan,
}

var scanWearableOnly bool

func init() {
	scanCmd.Flags().BoolVar(&scanWearableOnly, "wearable", false, "Only surface Kavach wearables")
}

func runScan(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.close()
	cmd.SilenceUsage = true

	if err := a.registry.StartScanSession(cmd.Context(), a.sessionOptions(scanWearableOnly)); err != nil {
		return err
	}

	// Stream discoveries live while the window is open.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case ev, ok := <-a.registry.Events():
				if !ok {
					return
				}
				if ev.Type == registry.EventNew {
					fmt.Printf("found %s  %s  (%s)\n", ev.Candidate.ID, ev.Candidate.Name, ev.Candidate.Kind)
				}
			case <-cmd.Context().Done():
				return
			}
		}
	}()

	errs := a.registry.Wait()
	candidates := a.registry.Snapshot()

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tTRANSPORT\tBONDED\tRSSI")
	for _, c := range candidates {
		rssi := "-"
		if c.RSSI != nil {
			rssi = fmt.Sprintf("%d", *c.RSSI)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%v\t%s\n", c.ID, c.Name, c.Kind, c.Bonded, rssi)
	}
	w.Flush()
	fmt.Printf("%d device(s)\n", len(candidates))

	// A single transport failing is reported but does not fail the scan.
	for _, err := range errs {
		fmt.Fprintf(os.Stderr, "warning: %s\n", FormatUserError(err))
	}
	return nil
}
