package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/storysync/internal/docsync"
	"github.com/roach88/storysync/internal/engine"
)

// SyncOptions holds flags for the sync command.
type SyncOptions struct {
	*RootOptions
	ScopeFlags

	Events   string        // JSON-lines event file, "-" for stdin
	Once     bool          // flush replayed operations and exit
	Interval time.Duration // overrides config interval
}

// SyncResult summarizes a sync session.
type SyncResult struct {
	StoryID   string           `json:"story_id"`
	ChapterID string           `json:"chapter_id"`
	Blocks    int              `json:"blocks"`
	Replayed  int              `json:"replayed"`
	Applied   int              `json:"applied"`
	Pending   int              `json:"pending"`
	Retries   int              `json:"retries"`
	Stats     engine.Stats     `json:"stats"`
	Results   []docsync.Result `json:"results,omitempty"`
}

func (r SyncResult) renderText(w io.Writer) error {
	fmt.Fprintf(w, "%s/%s: %d paragraphs loaded, %d replayed, %d events applied\n",
		r.StoryID, r.ChapterID, r.Blocks, r.Replayed, r.Applied)
	fmt.Fprintf(w, "requests: %d sent, %d ok, %d failed, %d deferred\n",
		r.Stats.Requests, r.Stats.Successes, r.Stats.Failures, r.Stats.Deferred)
	if r.Pending > 0 {
		fmt.Fprintf(w, "%d operations still pending (kept in journal)\n", r.Pending)
	}
	return nil
}

// NewSyncCommand creates the sync command.
func NewSyncCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SyncOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Sync a chapter from an editor event feed",
		Long: `Load a chapter, replay journaled operations, then sync editor events.

With --events the command applies a JSON-lines feed of editor events
({"type":"insert|edit|delete|paste|resync|flush", ...}) while the queue is
processed on the configured interval, so a live feed is sent as it arrives.
When the feed ends or the command is interrupted it makes a final bounded
flush and exits. With --once it only flushes what the journal held.
Otherwise it keeps processing the queue until interrupted.

Exit codes:
  0 - Everything was sent
  1 - Retry budget exhausted or operations left pending
  2 - Command error (bad config, missing story/chapter, unreadable feed)

Examples:
  storysync sync --story s1 --chapter c1 --events edits.jsonl
  tail -f edits.jsonl | storysync sync --story s1 --chapter c1 --events -
  storysync sync --once`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSync(opts, cmd)
		},
	}

	opts.ScopeFlags.register(cmd)
	cmd.Flags().StringVar(&opts.Events, "events", "", `JSON-lines event feed ("-" for stdin)`)
	cmd.Flags().BoolVar(&opts.Once, "once", false, "flush journaled operations and exit")
	cmd.Flags().DurationVar(&opts.Interval, "interval", 0, "queue processing interval (default from config)")

	return cmd
}

func runSync(opts *SyncOptions, cmd *cobra.Command) error {
	cfg, err := loadConfig(opts.RootOptions)
	if err != nil {
		return err
	}
	logger := newLogger(cfg, cmd.ErrOrStderr())

	scope, err := resolveScope(opts.ScopeFlags, cfg)
	if err != nil {
		return err
	}
	var feed io.Reader
	if opts.Events != "" {
		r, closeFeed, err := openFeed(opts.Events, cmd)
		if err != nil {
			return err
		}
		defer closeFeed()
		feed = r
	}
	j, err := openJournal(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := j.Close(); closeErr != nil {
			logger.Error("error closing journal", "error", closeErr)
		}
	}()

	interval := cfg.Interval
	if opts.Interval > 0 {
		interval = opts.Interval
	}
	session := docsync.NewSession(scope, newClient(opts.ScopeFlags, cfg, logger),
		docsync.WithJournal(j),
		docsync.WithLogger(logger),
		docsync.WithProcessorOptions(
			engine.WithInterval(interval),
			engine.WithRetryBudget(cfg.RetryBudget),
			engine.WithUnloadTimeout(cfg.UnloadTimeout),
		))

	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, stop := signal.NotifyContext(parentCtx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	loaded, err := session.Load(ctx)
	if err != nil {
		return WrapExitError(ExitFailure, "failed to load chapter", err)
	}

	result := SyncResult{
		StoryID:   scope.StoryID,
		ChapterID: scope.ChapterID,
		Blocks:    loaded.Blocks,
		Replayed:  loaded.Replayed,
	}

	var runErr error
	switch {
	case feed != nil:
		logger.Info("sync following feed", "story_id", scope.StoryID, "chapter_id", scope.ChapterID, "interval", interval.String())
		runErr = followFeed(ctx, feed, session, &result)
	case opts.Once:
		runErr = closeSession(ctx, session, cfg.UnloadTimeout)
	default:
		logger.Info("sync running", "story_id", scope.StoryID, "chapter_id", scope.ChapterID, "interval", interval.String())
		runErr = session.Run(ctx)
		if errors.Is(runErr, context.Canceled) {
			runErr = nil
		}
	}

	result.Pending = session.Pending()
	result.Retries = session.Processor().Retries()
	result.Stats = session.Processor().Stats()

	out := newFormatter(opts.RootOptions, cmd)
	if runErr != nil {
		_ = out.Error(ErrorCode(runErr), runErr.Error(), result)
		return WrapExitError(ExitFailure, "sync failed", runErr)
	}
	if err := out.Success(result); err != nil {
		return err
	}
	if result.Pending > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d operations left pending", result.Pending))
	}
	return nil
}

// openFeed opens the event feed; "-" is the command's stdin.
func openFeed(path string, cmd *cobra.Command) (io.Reader, func(), error) {
	if path == "-" {
		return cmd.InOrStdin(), func() {}, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, WrapExitError(ExitCommandError, "failed to open event feed", err)
	}
	return f, func() { _ = f.Close() }, nil
}

// followFeed applies the feed while the processor runs on its interval.
// When the feed ends, fails or ctx is cancelled, the processor is stopped
// and its unload flush completes before followFeed returns. A processor
// that halts on its retry budget stops the feed.
func followFeed(ctx context.Context, feed io.Reader, s *docsync.Session, result *SyncResult) error {
	feedCtx, stopFeed := context.WithCancel(ctx)
	defer stopFeed()
	runCtx, stopRun := context.WithCancel(ctx)
	defer stopRun()

	runDone := make(chan error, 1)
	go func() {
		err := s.Run(runCtx)
		if engine.IsRetryBudgetError(err) {
			stopFeed()
		}
		runDone <- err
	}()

	n, applyErr := s.ApplyStream(feedCtx, feed, func(res docsync.Result) {
		result.Results = append(result.Results, res)
	})
	result.Applied = n

	stopRun()
	runErr := <-runDone

	if engine.IsRetryBudgetError(runErr) {
		return runErr
	}
	if applyErr != nil && !errors.Is(applyErr, context.Canceled) {
		return fmt.Errorf("apply events: %w", applyErr)
	}
	return nil
}

// closeSession flushes with the unload timeout as the bound. A flush that
// stalls is not an error here: the leftovers are reported as pending.
func closeSession(ctx context.Context, s *docsync.Session, timeout time.Duration) error {
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()
	err := s.Close(cctx)
	if err != nil && !engine.IsRetryBudgetError(err) {
		return nil
	}
	return err
}
