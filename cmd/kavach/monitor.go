package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/kavach/kavach/internal/dispatch"
	"github.com/kavach/kavach/internal/state"
)

// monitorCmd represents the monitor command
var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Hold the SOS subscription to the paired wearable",
	Long: `Reconnects to the paired wearable from its persisted identifier and
holds the standing subscription to the notification characteristic. SOS
triggers run the emergency dispatch; telemetry updates are printed.

By default the session acts as the foreground screen: dispatch outcomes
print here. With --background the process detaches from that role and
outcomes surface as desktop notifications instead, exactly as they would
with no screen mounted.`,
	Args: cobra.NoArgs,
	RunE: runMonitor,
}

var monitorBackground bool

func init() {
	monitorCmd.Flags().BoolVar(&monitorBackground, "background", false, "Run without a foreground screen; report via notifications")
}

func runMonitor(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.close()
	cmd.SilenceUsage = true

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// The router's serialized loop is the main execution context here.
	go a.router.Run(ctx)

	if !monitorBackground {
		a.foreground.Store(true)
		defer a.foreground.Store(false)
		a.router.SetForegroundHandler(printOutcome)
		defer a.router.ClearForegroundHandler()
	}

	dev, err := a.manager.Reconnect(ctx)
	if err != nil {
		return err
	}
	defer a.manager.Disconnect()
	color.Green("Monitoring %s (%s) - Ctrl+C to stop", dev.Name, dev.DeviceID)

	changes, cancel := a.mirror.Subscribe()
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			fmt.Println("\nStopping monitor.")
			return nil
		case change, ok := <-changes:
			if !ok {
				return nil
			}
			if change.Kind == state.PayloadChanged && !change.Snapshot.LastPayload.IsTrigger {
				fmt.Printf("payload %s at %s\n",
					change.Snapshot.LastPayload.Hex,
					change.Snapshot.LastPayload.At.Format("15:04:05"))
			}
		}
	}
}

// printOutcome is the foreground screen's dispatch reporter.
func printOutcome(o dispatch.Outcome) {
	if o.Sent {
		color.Red("SOS dispatched: %s (incident %s)", o.Message, o.Incident.ID)
		return
	}
	color.Yellow("SOS recorded locally: %s (incident %s)", o.Message, o.Incident.ID)
}
