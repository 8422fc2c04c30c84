package crosspost

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/blacktop/crosspost/internal/logutil"
	"github.com/blacktop/crosspost/internal/settings"
	"github.com/google/uuid"
)

// State is the orchestrator's re-entrancy state.
type State int32

const (
	Idle State = iota
	InFlight
)

func (s State) String() string {
	if s == InFlight {
		return "in-flight"
	}
	return "idle"
}

// Level classifies a user-facing notice.
type Level string

const (
	LevelInfo    Level = "info"
	LevelSuccess Level = "success"
	LevelError   Level = "error"
)

// Notice is a single user-facing message.
type Notice struct {
	Level    Level
	Platform Platform
	Message  string
}

// Notifier surfaces notices to the user.
type Notifier interface {
	Notify(Notice)
}

// SettingsSource yields a fresh settings snapshot.
type SettingsSource interface {
	Load(ctx context.Context) (settings.Settings, error)
}

// Host is the composing surface: it supplies the draft and toggles and owns the default submission.
type Host interface {
	Draft(ctx context.Context) (PostDraft, error)
	Toggles() ToggleBoard
	Submit(ctx context.Context) error
}

// Config wires an Orchestrator.
type Config struct {
	Settings   SettingsSource
	Host       Host
	Notifier   Notifier
	Publishers []Publisher
}

// Orchestrator fans a draft out to every enabled publisher and folds the outcomes into toggle
// and notification changes.
type Orchestrator struct {
	settings   SettingsSource
	host       Host
	notifier   Notifier
	publishers map[Platform]Publisher
	state      atomic.Int32
}

// New returns an idle Orchestrator.
func New(cfg Config) *Orchestrator {
	pubs := make(map[Platform]Publisher, len(cfg.Publishers))
	for _, p := range cfg.Publishers {
		pubs[p.Platform()] = p
	}
	return &Orchestrator{
		settings:   cfg.Settings,
		host:       cfg.Host,
		notifier:   cfg.Notifier,
		publishers: pubs,
	}
}

// State reports whether a crosspost is currently running.
func (o *Orchestrator) State() State {
	return State(o.state.Load())
}

// Result summarises one invocation.
type Result struct {
	ID       string
	Outcomes []PlatformOutcome
	// Deferred is set when nothing was enabled and only the host submission ran.
	Deferred bool
}

// Succeeded lists the platforms that published.
func (r Result) Succeeded() []Platform {
	var out []Platform
	for _, o := range r.Outcomes {
		if o.OK {
			out = append(out, o.Platform)
		}
	}
	return out
}

// Failed lists the outcomes that did not publish.
func (r Result) Failed() []PlatformOutcome {
	var out []PlatformOutcome
	for _, o := range r.Outcomes {
		if !o.OK {
			out = append(out, o)
		}
	}
	return out
}

// Crosspost runs one invocation. It returns ErrInFlight without side effects if another
// invocation has not finished.
func (o *Orchestrator) Crosspost(ctx context.Context) (Result, error) {
	if !o.state.CompareAndSwap(int32(Idle), int32(InFlight)) {
		logutil.Debugf("crosspost ignored: already in flight")
		return Result{}, ErrInFlight
	}
	release := sync.OnceFunc(func() { o.state.Store(int32(Idle)) })
	defer release()

	result := Result{ID: uuid.NewString()}
	lg := logutil.With("id", result.ID)

	cfg, err := o.settings.Load(ctx)
	if err != nil {
		return result, fmt.Errorf("load settings: %w", err)
	}

	board := o.host.Toggles()
	enabled := o.enabled(cfg, board)
	if len(enabled) == 0 {
		lg.Debug("no platforms enabled, deferring to host")
		result.Deferred = true
		release()
		return result, o.submit(ctx)
	}

	draft, err := o.host.Draft(ctx)
	if err != nil {
		return result, fmt.Errorf("extract draft: %w", err)
	}

	o.notify(Notice{Level: LevelInfo, Message: "Crossposting…"})
	lg.Info("crossposting", "platforms", joinPlatforms(enabled, ","), "images", len(draft.Images))

	result.Outcomes = o.fanOut(ctx, enabled, draft, cfg)
	o.report(result)
	o.rearm(cfg, board, result)

	release()
	return result, o.submit(ctx)
}

func (o *Orchestrator) enabled(cfg settings.Settings, board ToggleBoard) []Platform {
	var out []Platform
	for _, p := range Platforms {
		if !Visible(cfg, p) || !board.Checked(p) {
			continue
		}
		if _, ok := o.publishers[p]; !ok {
			logutil.Warnf("%s is enabled but has no publisher", p)
			continue
		}
		out = append(out, p)
	}
	return out
}

// fanOut runs every enabled publisher concurrently. A publisher's failure never cancels the others,
// and a caller-side cancel does not abort a platform flow midway; relay timeouts bound each call.
func (o *Orchestrator) fanOut(ctx context.Context, platforms []Platform, draft PostDraft, cfg settings.Settings) []PlatformOutcome {
	runCtx := context.WithoutCancel(ctx)
	outcomes := make([]PlatformOutcome, len(platforms))

	var wg sync.WaitGroup
	for i, p := range platforms {
		wg.Add(1)
		go func() {
			defer wg.Done()
			outcomes[i] = run(runCtx, o.publishers[p], draft, cfg)
		}()
	}
	wg.Wait()
	return outcomes
}

func run(ctx context.Context, pub Publisher, draft PostDraft, cfg settings.Settings) (outcome PlatformOutcome) {
	outcome.Platform = pub.Platform()
	defer func() {
		if r := recover(); r != nil {
			outcome.OK = false
			outcome.Error = fmt.Sprintf("internal error: %v", r)
			logutil.Errorf("%s publisher panicked: %v", outcome.Platform, r)
		}
	}()

	if err := pub.Publish(ctx, draft, cfg); err != nil {
		logutil.Errorf("%s failed: %v", outcome.Platform, err)
		outcome.Error = err.Error()
		return outcome
	}
	logutil.Infof("posted to %s", outcome.Platform)
	outcome.OK = true
	return outcome
}

func (o *Orchestrator) report(result Result) {
	failed := result.Failed()
	if len(failed) == 0 {
		o.notify(Notice{
			Level:   LevelSuccess,
			Message: fmt.Sprintf("Posted to %s", joinPlatforms(result.Succeeded(), " / ")),
		})
		return
	}
	for _, f := range failed {
		o.notify(Notice{
			Level:    LevelError,
			Platform: f.Platform,
			Message:  fmt.Sprintf("%s failed: %s", f.Platform, f.Error),
		})
	}
}

// rearm resets every toggle to its default after a full success. After a partial failure only
// the succeeded toggles are cleared, so the next trigger retries exactly the failed subset.
func (o *Orchestrator) rearm(cfg settings.Settings, board ToggleBoard, result Result) {
	if len(result.Failed()) == 0 {
		for _, p := range Platforms {
			if Visible(cfg, p) {
				board.Set(p, DefaultChecked(cfg, p))
			}
		}
		return
	}
	for _, p := range result.Succeeded() {
		board.Set(p, false)
	}
}

func (o *Orchestrator) submit(ctx context.Context) error {
	if err := o.host.Submit(ctx); err != nil {
		o.notify(Notice{Level: LevelError, Platform: X, Message: fmt.Sprintf("%s failed: %v", X, err)})
		return fmt.Errorf("host submit: %w", err)
	}
	return nil
}

func (o *Orchestrator) notify(n Notice) {
	if o.notifier != nil {
		o.notifier.Notify(n)
	}
}

func joinPlatforms(ps []Platform, sep string) string {
	names := make([]string, len(ps))
	for i, p := range ps {
		names[i] = string(p)
	}
	return strings.Join(names, sep)
}
