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
	"fmt"

	"github.com/blacktop/crosspost/internal/crosspost"
	"github.com/blacktop/crosspost/internal/notify"
	"github.com/blacktop/crosspost/internal/settings"
	"github.com/blacktop/crosspost/internal/uploader"
	"github.com/spf13/cobra"
)

func newUploaderCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "uploader",
		Short: "Inspect the image host used for Threads",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "test",
		Short: "Upload a tiny test image to the configured host",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			cfg, err := settings.NewStore(configPath).Load(ctx)
			if err != nil {
				return err
			}
			rl, err := openRelay(ctx, cfg)
			if err != nil {
				return err
			}
			defer rl.Close()

			up := uploader.New(rl, cfg.Uploader)
			url, err := up.Ping(ctx)
			if err != nil {
				return fmt.Errorf("%s: %w", up.Name(), err)
			}
			notify.New(cmd.OutOrStdout()).Notify(crosspost.Notice{
				Level:   crosspost.LevelSuccess,
				Message: fmt.Sprintf("%s is reachable: %s", up.Name(), url),
			})
			return nil
		},
	})
	return cmd
}
