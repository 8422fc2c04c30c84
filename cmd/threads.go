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
	"math"
	"strings"
	"time"

	"github.com/blacktop/crosspost/internal/crosspost"
	"github.com/blacktop/crosspost/internal/crosspost/threads"
	"github.com/blacktop/crosspost/internal/notify"
	"github.com/blacktop/crosspost/internal/settings"
	"github.com/spf13/cobra"
)

func newThreadsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "threads",
		Short: "Manage the Threads access token",
	}

	status := &cobra.Command{
		Use:   "status",
		Short: "Show how long the stored Threads token has left",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := settings.NewStore(configPath).Load(cmd.Context())
			if err != nil {
				return err
			}
			exp := threads.TokenExpiry(cfg.Threads.AccessToken, cfg.Threads.IssuedAt(), time.Now())
			notify.New(cmd.OutOrStdout()).Notify(expiryNotice(exp))
			return nil
		},
	}

	refresh := &cobra.Command{
		Use:   "refresh",
		Short: "Exchange the stored Threads token for a fresh 60-day token",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			store := settings.NewStore(configPath)
			cfg, err := store.Load(ctx)
			if err != nil {
				return err
			}
			rl, err := openRelay(ctx, cfg)
			if err != nil {
				return err
			}
			defer rl.Close()

			tok, err := threads.RefreshToken(ctx, rl, cfg.Threads.APIURL, cfg.Threads.AccessToken)
			if err != nil {
				return err
			}
			if err := store.SaveThreadsToken(tok.AccessToken, time.Now()); err != nil {
				return err
			}
			notify.New(cmd.OutOrStdout()).Notify(crosspost.Notice{
				Level:    crosspost.LevelSuccess,
				Platform: crosspost.Threads,
				Message:  fmt.Sprintf("Threads token refreshed (valid %d days)", tok.Days()),
			})
			return nil
		},
	}

	cmd.AddCommand(status, refresh)
	return cmd
}

func expiryNotice(exp threads.Expiry) crosspost.Notice {
	n := crosspost.Notice{Level: crosspost.LevelInfo, Platform: crosspost.Threads}
	switch exp.State {
	case threads.ExpiryNotSet:
		n.Message = "No Threads token configured"
	case threads.ExpiryUnknown:
		n.Message = "Threads token issue date unknown; run `crosspost threads refresh` to start tracking it"
	case threads.ExpiryExpired:
		n.Level = crosspost.LevelError
		n.Message = "Threads token expired; generate a new one"
	case threads.ExpiryDanger:
		n.Level = crosspost.LevelError
		n.Message = fmt.Sprintf("Threads token expires in %d days (%s)", exp.DaysLeft, exp.ExpiresAt.Format(time.DateOnly))
	case threads.ExpiryWarn:
		n.Message = fmt.Sprintf("Threads token expires in %d days (%s)", exp.DaysLeft, exp.ExpiresAt.Format(time.DateOnly))
	default:
		n.Level = crosspost.LevelSuccess
		n.Message = fmt.Sprintf("Threads token valid for %d more days", exp.DaysLeft)
	}
	if exp.State != threads.ExpiryNotSet && exp.State != threads.ExpiryUnknown {
		n.Message += fmt.Sprintf(" [%s]", lifetimeBar(exp.Remaining))
	}
	return n
}

const lifetimeBarWidth = 20

// lifetimeBar renders the fraction of token lifetime left, e.g. "█████░░░░░ 50%".
func lifetimeBar(remaining float64) string {
	remaining = min(max(remaining, 0), 1)
	filled := int(math.Round(remaining * lifetimeBarWidth))
	return fmt.Sprintf("%s%s %d%%",
		strings.Repeat("█", filled),
		strings.Repeat("░", lifetimeBarWidth-filled),
		int(math.Round(remaining*100)))
}
