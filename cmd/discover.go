package cmd

import (
	"fmt"
	"sort"
	"time"

	"github.com/rosschurchill/upnpav/device"
	"github.com/spf13/cobra"
)

var discoverWait time.Duration

func init() {
	discoverCmd.Flags().DurationVar(&discoverWait, "wait", 5*time.Second, "how long to collect SSDP responses")
	rootCmd.AddCommand(discoverCmd)
}

var discoverCmd = &cobra.Command{
	Use:   "discover",
	Short: "List UPnP AV devices on the LAN",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		soapClient, _, stop := collaborators(ctx)
		defer stop()

		scanner := device.NewScanner(soapClient)
		if err := scanner.Start(ctx); err != nil {
			return err
		}
		defer scanner.Stop()

		if err := scanner.Refresh(ctx); err != nil {
			return err
		}
		time.Sleep(discoverWait)

		devices := scanner.GetDevices()
		udns := make([]string, 0, len(devices))
		for udn := range devices {
			udns = append(udns, udn)
		}
		sort.Strings(udns)

		for _, udn := range udns {
			dev := devices[udn]
			fmt.Printf("%-14s  %-30s  %s\n", dev.Type, dev.FriendlyName, dev.UDN)
			for kind := range dev.Services {
				fmt.Printf("                service: %s\n", kind)
			}
		}
		if len(devices) == 0 {
			fmt.Println("no devices found")
		}
		return nil
	},
}
