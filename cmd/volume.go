package cmd

import (
	"fmt"
	"strconv"
	"time"

	"github.com/rosschurchill/upnpav"
	"github.com/rosschurchill/upnpav/conf"
	"github.com/rosschurchill/upnpav/device"
	"github.com/rosschurchill/upnpav/mediarenderer"
	"github.com/spf13/cobra"
)

var volumeRenderer string

func init() {
	volumeCmd.Flags().StringVar(&volumeRenderer, "renderer", "", "UDN of the MediaRenderer (required)")
	_ = volumeCmd.MarkFlagRequired("renderer")
	rootCmd.AddCommand(volumeCmd)
}

var volumeCmd = &cobra.Command{
	Use:   "volume [level]",
	Short: "Read or set a renderer's volume",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		soapClient, events, stop := collaborators(ctx)
		defer stop()

		scanner := device.NewScanner(soapClient, upnpav.DeviceMediaRenderer)
		if err := scanner.Start(ctx); err != nil {
			return err
		}
		defer scanner.Stop()
		if err := scanner.Refresh(ctx); err != nil {
			return err
		}
		time.Sleep(3 * time.Second)

		dev, err := scanner.GetDevice(volumeRenderer)
		if err != nil {
			return fmt.Errorf("renderer %s: %w", volumeRenderer, err)
		}

		renderer := mediarenderer.New(soapClient, events)
		if err := renderer.SetDevice(ctx, dev); err != nil {
			return err
		}

		if len(args) == 0 {
			volume, err := renderer.GetVolume(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("%d\n", volume)
			return nil
		}

		level, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("invalid volume %q", args[0])
		}
		return renderer.SetVolume(ctx, level)
	},
}

// confListenAddr returns the configured webserver bind address.
func confListenAddr() string {
	return conf.Server.ListenAddr()
}
