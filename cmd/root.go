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
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/blacktop/crosspost/internal/crosspost"
	"github.com/blacktop/crosspost/internal/crosspost/bluesky"
	"github.com/blacktop/crosspost/internal/crosspost/mastodon"
	"github.com/blacktop/crosspost/internal/crosspost/threads"
	"github.com/blacktop/crosspost/internal/logutil"
	"github.com/blacktop/crosspost/internal/notify"
	"github.com/blacktop/crosspost/internal/relay"
	"github.com/blacktop/crosspost/internal/settings"
	"github.com/spf13/cobra"
)

var (
	messageFlag string
	imageFlags  []string
	targetsFlag []string
	dryRun      bool
	configPath  string
	relayURL    string
	verbose     bool
)

const stateFile = "state.yaml"

// Execute runs the root command.
func Execute(ctx context.Context) error {
	return newRootCommand().ExecuteContext(ctx)
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "crosspost [message]",
		Short: "Cross-post to Mastodon, Threads and Bluesky",
		Long: "crosspost publishes the same update to every armed platform at once, then makes the " +
			"host post to X. Platforms that fail stay armed so the next run retries only them.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(*cobra.Command, []string) {
			logutil.SetVerbose(verbose)
		},
		RunE: runRoot,
		Example: `  crosspost --message "hello world" --image ./shot.png
  crosspost "Ship it!" --target mastodon --target bluesky
  echo "Release shipped" | crosspost --target all`,
	}

	cmd.Flags().StringVarP(&messageFlag, "message", "m", "", "Message text to post")
	cmd.Flags().StringArrayVar(&imageFlags, "image", nil, "Image path or URL to attach (repeatable)")
	cmd.Flags().StringSliceVar(&targetsFlag, "target", nil, "Arm only these platforms for this run (mastodon, threads, bluesky, or all)")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Print actions without posting")
	cmd.Flags().SortFlags = false

	cmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default: $XDG_CONFIG_HOME/crosspost/crosspost.yaml)")
	cmd.PersistentFlags().StringVar(&relayURL, "relay", "", "WebSocket relay URL (default: in-process relay)")
	cmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")

	cmd.AddCommand(
		newCompletionCommand(),
		newRelayCommand(),
		newThreadsCommand(),
		newUploaderCommand(),
	)

	return cmd
}

func runRoot(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	message, err := resolveMessage(cmd, args)
	if err != nil {
		return err
	}

	store := settings.NewStore(configPath)
	cfg, err := store.Load(ctx)
	if err != nil {
		return err
	}

	board, persist, err := loadBoard(store, cfg, targetsFlag)
	if err != nil {
		return err
	}

	if dryRun {
		return describe(cmd.OutOrStdout(), cfg, board, message)
	}

	rl, err := openRelay(ctx, cfg)
	if err != nil {
		return err
	}
	defer rl.Close()

	toast := notify.New(cmd.ErrOrStderr())
	host := &cliHost{
		text:   message,
		images: imageFlags,
		relay:  rl,
		board:  board,
		store:  store,
		out:    cmd.OutOrStdout(),
	}
	orch := crosspost.New(crosspost.Config{
		Settings: store,
		Host:     host,
		Notifier: toast,
		Publishers: []crosspost.Publisher{
			mastodon.New(rl),
			threads.New(rl, threads.WithNotifier(toast)),
			bluesky.New(rl),
		},
	})

	result, err := orch.Crosspost(ctx)
	if persist != nil {
		if saveErr := persist.Save(); saveErr != nil {
			logutil.Warnf("could not save toggle state: %v", saveErr)
		}
	}
	if err != nil {
		return err
	}
	if failed := result.Failed(); len(failed) > 0 {
		names := make([]string, len(failed))
		for i, f := range failed {
			names[i] = string(f.Platform)
		}
		return fmt.Errorf("crosspost failed for %s (still armed for retry)", strings.Join(names, ", "))
	}
	return nil
}

func resolveMessage(cmd *cobra.Command, args []string) (string, error) {
	var message string

	if messageFlag != "" {
		message = messageFlag
	}

	if len(args) > 0 {
		if message != "" {
			return "", errors.New("provide the message either as an argument or with --message, not both")
		}
		message = strings.Join(args, " ")
	}

	if message != "" {
		return strings.TrimSpace(message), nil
	}

	stdin := cmd.InOrStdin()
	if file, ok := stdin.(*os.File); ok {
		info, err := file.Stat()
		if err != nil {
			return "", fmt.Errorf("read stdin: %w", err)
		}
		if (info.Mode() & os.ModeCharDevice) == 0 {
			data, err := io.ReadAll(stdin)
			if err != nil {
				return "", fmt.Errorf("read stdin: %w", err)
			}
			message = strings.TrimSpace(string(data))
		}
	} else if stdin != nil {
		data, err := io.ReadAll(stdin)
		if err != nil {
			return "", fmt.Errorf("read stdin: %w", err)
		}
		message = strings.TrimSpace(string(data))
	}

	if message == "" && len(imageFlags) == 0 {
		return "", errors.New("message is required")
	}

	return message, nil
}

// normalizeTargets parses --target values. "all" arms every platform.
func normalizeTargets(values []string) ([]crosspost.Platform, error) {
	var out []crosspost.Platform
	seen := map[crosspost.Platform]struct{}{}
	for _, raw := range values {
		raw = strings.TrimSpace(strings.ToLower(raw))
		if raw == "" {
			continue
		}
		if raw == "all" {
			return append([]crosspost.Platform(nil), crosspost.Platforms...), nil
		}
		p, err := crosspost.ParsePlatform(raw)
		if err != nil {
			return nil, err
		}
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	if len(values) > 0 && len(out) == 0 {
		return nil, errors.New("no targets selected")
	}
	return out, nil
}

type saver interface {
	Save() error
}

// loadBoard returns the toggle board for this run. An explicit --target list arms exactly those
// platforms and is not persisted; otherwise the armed set is read from and saved to the state file.
func loadBoard(store *settings.Store, cfg settings.Settings, targets []string) (crosspost.ToggleBoard, saver, error) {
	armed, err := normalizeTargets(targets)
	if err != nil {
		return nil, nil, err
	}
	if len(targets) > 0 {
		initial := map[crosspost.Platform]bool{}
		for _, p := range armed {
			initial[p] = true
		}
		return crosspost.NewMemoryBoard(initial), nil, nil
	}

	defaults := map[crosspost.Platform]bool{}
	for _, p := range crosspost.Platforms {
		defaults[p] = crosspost.DefaultChecked(cfg, p)
	}
	board, err := crosspost.LoadFileBoard(filepath.Join(store.Dir(), stateFile), defaults)
	if err != nil {
		return nil, nil, err
	}
	return board, board, nil
}

func openRelay(ctx context.Context, cfg settings.Settings) (*relay.Client, error) {
	url := cfg.Relay.URL
	if relayURL != "" {
		url = relayURL
	}
	if url == "" {
		return relay.NewLocal(relay.NewFetcher(nil), cfg.Relay.Timeout), nil
	}
	logutil.Debugf("dialing relay %s", url)
	return relay.Dial(ctx, url, cfg.Relay.Token, cfg.Relay.Timeout)
}

func describe(out io.Writer, cfg settings.Settings, board crosspost.ToggleBoard, message string) error {
	var armed int
	for _, p := range crosspost.Platforms {
		if !crosspost.Visible(cfg, p) || !board.Checked(p) {
			continue
		}
		armed++
		fmt.Fprintf(out, "[dry-run] would post to %s: %q\n", p, message)
	}
	for _, img := range imageFlags {
		fmt.Fprintf(out, "[dry-run] image: %s\n", img)
	}
	if armed == 0 {
		fmt.Fprintln(out, "[dry-run] no platforms armed")
	}
	if cfg.Twitter.Enabled {
		fmt.Fprintf(out, "[dry-run] would post to %s: %q\n", crosspost.X, message)
	}
	return nil
}
