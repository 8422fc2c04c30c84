/*
Copyright © 2025 blacktop

Permission is hereby granted, free of charge, to any person obtaining a copy
of this software and associated documentation files (the "Software"), to deal
in the Software without restriction, including without limitation the rights
to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
copies of the Software, and to permit persons to whom the Software is
furnished to do so, subject to the following conditions:

The above copyright notice and this permission notice shall be included in
all copies or substantial portions of the Software.

THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN
THE SOFTWARE.
*/
package cmd

import (
	"github.com/blacktop/crosspost/internal/relay"
	"github.com/blacktop/crosspost/internal/settings"
	"github.com/spf13/cobra"
)

func newRelayCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "relay",
		Short: "Run the HTTP relay that publishers route their calls through",
	}

	var listen string
	serve := &cobra.Command{
		Use:   "serve",
		Short: "Serve the relay over a loopback WebSocket",
		Long: "Serve accepts relay clients on ws://<listen>/ws and performs their HTTP calls. " +
			"Clients must present relay.token when one is configured. Only loopback addresses are accepted.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := settings.NewStore(configPath).Load(cmd.Context())
			if err != nil {
				return err
			}
			addr := listen
			if addr == "" {
				addr = cfg.Relay.ListenAddr
			}
			return relay.NewServer(relay.NewFetcher(nil)).ListenAndServe(cmd.Context(), addr, cfg.Relay.Token)
		},
	}
	serve.Flags().StringVar(&listen, "listen", "", "Listen address (default: relay.listen_addr or "+settings.DefaultRelayListenAddr+")")

	cmd.AddCommand(serve)
	return cmd
}
