package cmd

import (
	"fmt"
	"time"

	"github.com/rosschurchill/upnpav"
	"github.com/rosschurchill/upnpav/controlpoint"
	"github.com/rosschurchill/upnpav/device"
	"github.com/rosschurchill/upnpav/didl"
	"github.com/rosschurchill/upnpav/mediaserver"
	"github.com/spf13/cobra"
)

var (
	playServer   string
	playRenderer string
	playQueue    bool
)

func init() {
	playCmd.Flags().StringVar(&playServer, "server", "", "UDN of the MediaServer (required)")
	playCmd.Flags().StringVar(&playRenderer, "renderer", "", "UDN of the MediaRenderer (required)")
	playCmd.Flags().BoolVar(&playQueue, "queue", false, "queue as next item instead of playing now")
	_ = playCmd.MarkFlagRequired("server")
	_ = playCmd.MarkFlagRequired("renderer")
	rootCmd.AddCommand(playCmd)
}

var playCmd = &cobra.Command{
	Use:   "play <objectID>...",
	Short: "Play one or more directory objects on a renderer",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		soapClient, events, stop := collaborators(ctx)
		defer stop()

		scanner := device.NewScanner(soapClient)
		if err := scanner.Start(ctx); err != nil {
			return err
		}
		defer scanner.Stop()
		if err := scanner.Refresh(ctx); err != nil {
			return err
		}
		time.Sleep(3 * time.Second)

		serverDev, err := scanner.GetDevice(playServer)
		if err != nil {
			return fmt.Errorf("server %s: %w", playServer, err)
		}
		rendererDev, err := scanner.GetDevice(playRenderer)
		if err != nil {
			return fmt.Errorf("renderer %s: %w", playRenderer, err)
		}
		if rendererDev.Type != upnpav.DeviceMediaRenderer {
			return fmt.Errorf("%s is not a MediaRenderer", playRenderer)
		}

		server := mediaserver.New(soapClient, events)
		if err := server.SetDevice(ctx, serverDev); err != nil {
			return err
		}

		cp := controlpoint.New(soapClient, events)
		if err := cp.SetRendererDevice(ctx, rendererDev); err != nil {
			return err
		}

		web := controlpoint.NewWebserver(confListenAddr())
		if err := web.Start(ctx); err != nil {
			return err
		}
		defer web.Stop()
		cp.SetWebserver(web)

		items := make([]*didl.Item, 0, len(args))
		for _, objectID := range args {
			item, err := server.GetMetadata(ctx, objectID)
			if err != nil {
				return fmt.Errorf("object %s: %w", objectID, err)
			}
			items = append(items, item)
		}

		if playQueue {
			return cp.QueueItemsAsPlaylist(ctx, server, items)
		}
		return cp.PlayItemsAsPlaylist(ctx, server, items)
	},
}
