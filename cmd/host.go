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
	"fmt"
	"io"

	"github.com/blacktop/crosspost/internal/crosspost"
	"github.com/blacktop/crosspost/internal/crosspost/twitter"
	"github.com/blacktop/crosspost/internal/logutil"
	"github.com/blacktop/crosspost/internal/relay"
	"github.com/blacktop/crosspost/internal/settings"
)

// cliHost plays the composing page for a terminal run: the draft comes from flags and the
// default submission is the X post.
type cliHost struct {
	text   string
	images []string
	relay  relay.Relay
	board  crosspost.ToggleBoard
	store  crosspost.SettingsSource
	out    io.Writer
}

func (h *cliHost) Draft(context.Context) (crosspost.PostDraft, error) {
	draft := crosspost.PostDraft{Text: h.text}
	for _, src := range h.images {
		if src == "" {
			continue
		}
		draft.Images = append(draft.Images, crosspost.NewImageRef(src, h.relay))
	}
	return draft, nil
}

func (h *cliHost) Toggles() crosspost.ToggleBoard {
	return h.board
}

func (h *cliHost) Submit(ctx context.Context) error {
	cfg, err := h.store.Load(ctx)
	if err != nil {
		return err
	}
	if !cfg.Twitter.Enabled {
		logutil.Debugf("twitter.enabled is off; skipping the post to %s", crosspost.X)
		return nil
	}

	poster, err := twitter.New(h.relay, cfg.Twitter)
	if err != nil {
		return err
	}
	draft, err := h.Draft(ctx)
	if err != nil {
		return err
	}
	if err := poster.Post(ctx, draft); err != nil {
		return err
	}
	if h.out != nil {
		fmt.Fprintf(h.out, "✓ posted to %s\n", crosspost.X)
	}
	return nil
}

var _ crosspost.Host = (*cliHost)(nil)
var _ crosspost.SettingsSource = (*settings.Store)(nil)
