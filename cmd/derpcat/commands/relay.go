package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/TheusHen/derpnet/derpnet/derptest"
)

func relayCmd(a *app) *cobra.Command {
	var listen string
	cmd := &cobra.Command{
		Use:   "relay",
		Short: "Run a plain-TCP development relay",
		Long: "Run an in-process DERP relay without TLS. Clients connect with --plain.\n" +
			"It keeps no state beyond connected clients and is meant for local testing.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			srv, err := derptest.NewServer(a.logger)
			if err != nil {
				return err
			}
			defer srv.Close()
			addr, err := srv.ListenTCP(listen)
			if err != nil {
				return err
			}
			a.logger.Info("relay listening", "addr", addr, "key", srv.PublicKey().String())
			fmt.Fprintln(cmd.OutOrStdout(), addr)

			<-cmd.Context().Done()
			a.logger.Info("relay stopping", "forwarded", srv.Forwarded(), "dropped", srv.Dropped())
			return nil
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "127.0.0.1:8080", "address to listen on")
	return cmd
}
