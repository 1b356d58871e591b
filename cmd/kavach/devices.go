package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

// devicesCmd represents the devices command
var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "List registered devices",
	Long: `Shows the locally paired wearable and the device registrations the
backend knows about.`,
	Args: cobra.NoArgs,
	RunE: runDevices,
}

func runDevices(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.close()
	cmd.SilenceUsage = true

	ctx := cmd.Context()
	if paired, err := a.store.PairedDeviceID(ctx); err == nil && paired != "" {
		fmt.Printf("Paired locally: %s\n", paired)
	} else {
		fmt.Println("No device paired locally.")
	}

	devices, err := a.backend.Devices(ctx)
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tDEVICE ID")
	for _, d := range devices {
		fmt.Fprintf(w, "%s\t%s\n", d.ID, d.DeviceID)
	}
	w.Flush()
	fmt.Printf("%d registered device(s)\n", len(devices))
	return nil
}
