package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/kavach/kavach/internal/connmgr"
)

// pairCmd represents the pair command
var pairCmd = &cobra.Command{
	Use:   "pair [device-id]",
	Short: "Pair with a Kavach wearable",
	Long: `Pairs with the wearable: connects, subscribes to its notification
characteristic, persists the device identifier for reconnection, and
registers the device with the backend.

Without a device-id argument, a filtered scan runs first and the strongest
Kavach candidate is used.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runPair,
}

// unpairCmd represents the unpair command
var unpairCmd = &cobra.Command{
	Use:   "unpair",
	Short: "Remove the paired wearable",
	Long: `Disconnects, clears the persisted device identifier, and deletes the
device registration from the backend.`,
	Args: cobra.NoArgs,
	RunE: runUnpair,
}

func runPair(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.close()
	cmd.SilenceUsage = true

	var id string
	if len(args) == 1 {
		id = args[0]
	} else {
		fmt.Println("Searching for Kavach wearables...")
		if err := a.registry.StartScanSession(cmd.Context(), a.sessionOptions(true)); err != nil {
			return err
		}
		// Report per-transport scan failures so an empty result names the
		// real cause, not just "nothing nearby".
		for _, werr := range a.registry.Wait() {
			fmt.Fprintf(os.Stderr, "warning: %s\n", FormatUserError(werr))
		}
		candidates := a.registry.Snapshot()
		if len(candidates) == 0 {
			return fmt.Errorf("no Kavach wearable found nearby")
		}
		id = candidates[0].ID
		fmt.Printf("Found %s (%s)\n", candidates[0].Name, id)
	}

	dev, err := a.manager.Connect(cmd.Context(), id)
	if err != nil && !errors.Is(err, connmgr.ErrRegistrationDegraded) {
		return err
	}

	color.Green("Paired with %s (%s)", dev.Name, dev.DeviceID)
	if errors.Is(err, connmgr.ErrRegistrationDegraded) {
		color.Yellow("Backend registration failed - the device works locally; retry when online.")
	}
	fmt.Println("Run 'kavach monitor' to start SOS monitoring.")

	// The standing subscription belongs to the monitor command; this
	// process exits, so release the link cleanly.
	a.manager.Disconnect()
	return nil
}

func runUnpair(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.close()
	cmd.SilenceUsage = true

	if err := a.manager.Forget(cmd.Context()); err != nil {
		color.Yellow("Device removed locally; backend removal failed: %s", FormatUserError(err))
		return nil
	}
	color.Green("Device removed.")
	return nil
}
