package main

import (
	"context"
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

// sosCmd represents the sos command
var sosCmd = &cobra.Command{
	Use:   "sos",
	Short: "Trigger an emergency dispatch manually",
	Long: `Runs the same emergency workflow the wearable's SOS button does:
best-effort location, local incident record, backend submission.

The hold delay is the press-and-hold safeguard: the dispatch fires after
the delay unless cancelled with Ctrl+C. Use --now to skip it.`,
	Args: cobra.NoArgs,
	RunE: runSOS,
}

var (
	sosHold time.Duration
	sosNow  bool
)

func init() {
	sosCmd.Flags().DurationVar(&sosHold, "hold", 3*time.Second, "Hold delay before dispatching")
	sosCmd.Flags().BoolVar(&sosNow, "now", false, "Dispatch immediately without the hold delay")
}

func runSOS(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.close()
	cmd.SilenceUsage = true

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	if !sosNow && sosHold > 0 {
		color.Red("Dispatching SOS in %s - Ctrl+C to cancel", sosHold)
		select {
		case <-time.After(sosHold):
		case <-ctx.Done():
			fmt.Println("Cancelled.")
			return nil
		}
	}

	// Manual triggers feed the same dispatcher contract as the device
	// signal path; the persisted identifier keys the incident if present.
	deviceID := a.manager.CurrentDeviceID()
	if deviceID == "" {
		if stored, err := a.store.PairedDeviceID(ctx); err == nil {
			deviceID = stored
		}
	}

	a.dispatcher.Dispatch(ctx, deviceID, printOutcome)
	return nil
}
