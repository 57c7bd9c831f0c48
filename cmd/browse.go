package cmd

import (
	"fmt"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rosschurchill/upnpav"
	"github.com/rosschurchill/upnpav/device"
	"github.com/rosschurchill/upnpav/didl"
	"github.com/rosschurchill/upnpav/gena"
	"github.com/rosschurchill/upnpav/mediaserver"
	"github.com/rosschurchill/upnpav/soap"
	"github.com/spf13/cobra"
)

var (
	browseServer string
	browseLimit  uint32
)

func init() {
	browseCmd.Flags().StringVar(&browseServer, "server", "", "UDN of the MediaServer (required)")
	browseCmd.Flags().Uint32Var(&browseLimit, "limit", 0, "maximum number of objects (0 = all)")
	_ = browseCmd.MarkFlagRequired("server")
	rootCmd.AddCommand(browseCmd)
}

var browseCmd = &cobra.Command{
	Use:   "browse [objectID]",
	Short: "List the children of a ContentDirectory container",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		objectID := mediaserver.RootID
		if len(args) == 1 {
			objectID = args[0]
		}

		soapClient, events, stop := collaborators(ctx)
		defer stop()

		server, err := findServer(cmd, soapClient, events, browseServer)
		if err != nil {
			return err
		}

		var wg sync.WaitGroup
		var browseErr error
		wg.Add(1)
		server.GetAllInContainer(ctx, objectID, func(items []*didl.Item, err error) {
			if err != nil {
				browseErr = err
				wg.Done()
				return
			}
			if items == nil {
				wg.Done()
				return
			}
			for _, item := range items {
				printItem(item)
			}
		}, 0, browseLimit, mediaserver.Sort{})
		wg.Wait()
		return browseErr
	},
}

func printItem(item *didl.Item) {
	if item.IsContainer() {
		fmt.Printf("%-34s  [%d]  %s\n", item.ID, item.ChildCount, item.Title)
		return
	}
	detail := ""
	if res, ok := item.FirstResource(); ok {
		detail = fmt.Sprintf("  %s  %s", res.Duration.Round(time.Second), humanize.Bytes(res.Size))
	}
	fmt.Printf("%-34s       %s%s\n", item.ID, item.Title, detail)
}

// findServer refreshes discovery and binds a MediaServer facade to the UDN.
func findServer(cmd *cobra.Command, soapClient *soap.Client, events *gena.Server, udn string) (*mediaserver.Server, error) {
	ctx := cmd.Context()
	scanner := device.NewScanner(soapClient, upnpav.DeviceMediaServer)
	if err := scanner.Start(ctx); err != nil {
		return nil, err
	}
	defer scanner.Stop()
	if err := scanner.Refresh(ctx); err != nil {
		return nil, err
	}
	time.Sleep(3 * time.Second)

	dev, err := scanner.GetDevice(udn)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", err, udn)
	}
	server := mediaserver.New(soapClient, events)
	if err := server.SetDevice(ctx, dev); err != nil {
		return nil, err
	}
	return server, nil
}
