// Command trackerctl is the operator CLI for a running trackerd:
// inspect cluster membership and look up content locations.
package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/buildcache/contenttracker/cmd/trackerctl/ui"
	"github.com/buildcache/contenttracker/internal/ids"
	"github.com/buildcache/contenttracker/pkg/client"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, ui.ErrorStyle.Render("error:"), err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var endpoint string

	cmd := &cobra.Command{
		Use:   "trackerctl",
		Short: "Operator CLI for the distributed content tracker",
	}
	cmd.PersistentFlags().StringVar(&endpoint, "endpoint", client.DefaultEndpoint(), "Tracker gRPC endpoint to dial")

	cmd.AddCommand(statusCmd(&endpoint))
	cmd.AddCommand(getCmd(&endpoint))
	return cmd
}

func statusCmd(endpoint *string) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show cluster membership as seen by the dialed tracker",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := client.Dial(*endpoint)
			if err != nil {
				return err
			}
			defer func() { _ = c.Close() }()

			snap, err := c.FetchSnapshot(cmd.Context())
			if err != nil {
				return err
			}

			records := snap.Records()
			if len(records) == 0 {
				fmt.Println(ui.LabelStyle.Render("no machines registered"))
				return nil
			}

			rows := make([][]string, len(records))
			for i, r := range records {
				rows[i] = []string{
					r.ID.String(),
					string(r.Location),
					r.Phase.String(),
					r.LastBeat.Format("2006-01-02T15:04:05Z07:00"),
				}
			}
			fmt.Println(ui.Table([]string{"ID", "Location", "Phase", "Last Heartbeat"}, rows))
			return nil
		},
	}
}

func getCmd(endpoint *string) *cobra.Command {
	return &cobra.Command{
		Use:   "get <hash>...",
		Short: "Look up content locations for one or more hashes",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := client.Dial(*endpoint)
			if err != nil {
				return err
			}
			defer func() { _ = c.Close() }()

			hashes := make([]ids.Hash, len(args))
			for i, a := range args {
				hashes[i] = ids.Hash(a)
			}

			entries, err := c.GetLocations(cmd.Context(), hashes)
			if err != nil {
				return err
			}

			rows := make([][]string, len(entries))
			for i, e := range entries {
				var holders []string
				for _, m := range e.Locations() {
					holders = append(holders, m.String())
				}
				size := "-"
				if e.Size >= 0 {
					size = strconv.FormatInt(e.Size, 10)
				}
				rows[i] = []string{string(e.Hash), size, strings.Join(holders, ",")}
			}
			fmt.Println(ui.Table([]string{"Hash", "Size", "Holders"}, rows))
			return nil
		},
	}
}
