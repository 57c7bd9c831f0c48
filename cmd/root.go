package cmd

import (
	"context"
	"os"

	"github.com/rosschurchill/upnpav/conf"
	"github.com/rosschurchill/upnpav/gena"
	"github.com/rosschurchill/upnpav/log"
	"github.com/rosschurchill/upnpav/soap"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "upnpav",
	Short: "UPnP AV control point",
	Long:  "Discover MediaServers and MediaRenderers on the LAN, browse content and drive playback.",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		conf.Load()
	},
	SilenceUsage: true,
}

// Execute runs the CLI.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// collaborators builds the shared SOAP client and event server used by every
// subcommand.
func collaborators(ctx context.Context) (*soap.Client, *gena.Server, func()) {
	soapClient := soap.NewClient()
	// The callback listener picks a free port; only the playlist webserver
	// uses the configured address.
	events := gena.NewServer("0.0.0.0:0")
	if err := events.Start(ctx); err != nil {
		log.Warn(ctx, "Eventing disabled, callback server failed to start", err)
		return soapClient, nil, func() {}
	}
	return soapClient, events, events.Stop
}
