package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"time"

	"github.com/charmbracelet/log"
	"github.com/urfave/cli/v3"

	"github.com/nuance-sudo/drawing-practice-agent-gch4/internal/api"
	"github.com/nuance-sudo/drawing-practice-agent-gch4/internal/channel"
	"github.com/nuance-sudo/drawing-practice-agent-gch4/internal/config"
	"github.com/nuance-sudo/drawing-practice-agent-gch4/internal/filter"
	"github.com/nuance-sudo/drawing-practice-agent-gch4/internal/push"
	"github.com/nuance-sudo/drawing-practice-agent-gch4/internal/review"
	"github.com/nuance-sudo/drawing-practice-agent-gch4/internal/upload"
)

// Runner holds the dependencies for CLI commands and provides a method per
// command action.
type Runner struct {
	cfg      config.Config
	client   *api.Client
	registry *channel.Registry
	pipeline *upload.Pipeline
	logger   *log.Logger
	output   io.Writer
}

type RunnerOpts struct {
	Config config.Config
	Logger *log.Logger
	Output io.Writer
}

func NewRunner(opts RunnerOpts) (*Runner, error) {
	logger := opts.Logger
	if logger == nil {
		logger = log.New(os.Stderr)
	}
	output := opts.Output
	if output == nil {
		output = os.Stdout
	}

	token, err := opts.Config.BearerToken()
	if err != nil {
		return nil, err
	}
	provider := api.StaticToken(token)

	client := api.NewClient(api.ClientOptions{
		BaseURL:       opts.Config.API.BaseURL,
		TokenProvider: provider,
		UserAgent:     opts.Config.API.UserAgent,
	})

	var source channel.PushSource
	if opts.Config.Push.Endpoint != "" {
		source = push.NewSource(push.SourceOptions{
			Endpoint:      opts.Config.Push.Endpoint,
			TokenProvider: provider,
			HTTPClient:    &http.Client{Timeout: 30 * time.Second},
			Logger:        logger,
		})
	} else {
		source = push.NewPoller(client, push.PollerOptions{
			Interval:    opts.Config.Push.PollInterval.Std(),
			JitterRatio: opts.Config.Push.PollJitter,
			Logger:      logger,
		})
	}

	return &Runner{
		cfg:      opts.Config,
		client:   client,
		registry: channel.NewRegistry(source, logger),
		pipeline: upload.NewPipeline(client, logger),
		logger:   logger,
		output:   output,
	}, nil
}

func (r *Runner) Close() {
	r.registry.Close()
}

// Submit validates and submits one drawing, optionally waiting for the
// review to finish.
func (r *Runner) Submit(ctx context.Context, cmd *cli.Command) error {
	path := cmd.StringArg("path")
	if path == "" {
		return fmt.Errorf("drawing path is required")
	}
	if err := r.pipeline.SelectFile(path); err != nil {
		return err
	}
	taskID, err := r.pipeline.Submit(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(r.output, "submitted: %s\n", taskID)

	if !cmd.Bool("wait") {
		return nil
	}
	return r.waitForReview(ctx, taskID, cmd.Duration("timeout"))
}

func (r *Runner) waitForReview(ctx context.Context, taskID string, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ch, release := r.registry.AcquireTask(taskID)
	defer release()

	var final *review.Task
	var lastStatus review.TaskStatus
	err := awaitSnapshot(waitCtx, ch, func() bool {
		snap := ch.Snapshot()
		if snap.Err != nil || snap.Loading {
			return snap.Err != nil
		}
		if snap.Task == nil {
			return false
		}
		// repeated deliveries with an unchanged status stay quiet
		if snap.Task.Status != lastStatus {
			lastStatus = snap.Task.Status
			fmt.Fprintf(r.output, "status: %s\n", snap.Task.Status)
		}
		switch snap.Task.Status {
		case review.StatusCompleted, review.StatusFailed:
			final = snap.Task
			return true
		}
		return false
	})
	if err != nil {
		return fmt.Errorf("waiting for review of %s: %w", taskID, err)
	}
	if snap := ch.Snapshot(); snap.Err != nil {
		return snap.Err
	}

	if final.Status == review.StatusFailed {
		message := final.ErrorMessage
		if message == "" {
			message = "review failed"
		}
		return fmt.Errorf("review of %s failed: %s", taskID, message)
	}
	if final.Feedback != nil {
		fmt.Fprintf(r.output, "score: %.1f\n", final.Feedback.OverallScore)
		for _, line := range final.Feedback.Strengths {
			fmt.Fprintf(r.output, "  + %s\n", line)
		}
		for _, line := range final.Feedback.Improvements {
			fmt.Fprintf(r.output, "  - %s\n", line)
		}
	}
	if final.RankChanged {
		fmt.Fprintf(r.output, "rank up! now %s\n", final.RankAtReview)
	}
	return nil
}

// Tasks prints the dashboard view of the task listing under the current
// date/tag selection.
func (r *Runner) Tasks(ctx context.Context, cmd *cli.Command) error {
	userID := r.cfg.API.UserID
	if userID == "" {
		return fmt.Errorf("api.user_id must be configured for task listing")
	}

	filters := review.TaskFilters{Status: review.TaskStatus(cmd.String("status"))}
	ch, release := r.registry.AcquireTasks(userID, filters)
	defer release()

	waitCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := awaitSnapshot(waitCtx, ch, func() bool {
		snap := ch.Snapshot()
		return snap.Err != nil || !snap.Loading
	}); err != nil {
		return fmt.Errorf("loading tasks: %w", err)
	}

	snap := ch.Snapshot()
	if snap.Err != nil {
		return snap.Err
	}

	sel := filter.Selection{Date: cmd.String("date"), Tag: cmd.String("tag")}
	view := filter.NewDashboardView(snap.Tasks, sel)

	if cmd.Bool("json") {
		return r.writeJSON(view)
	}

	fmt.Fprintf(r.output, "%d of %d tasks\n", len(view.Listing), len(snap.Tasks))
	for _, task := range view.Listing {
		line := fmt.Sprintf("%s  %-10s  %s", task.CreatedAt.Local().Format("2006-01-02 15:04"), task.Status, task.TaskID)
		if task.Score != nil {
			line += fmt.Sprintf("  %.1f", *task.Score)
		}
		fmt.Fprintln(r.output, line)
	}
	if len(view.Tags) > 0 {
		fmt.Fprintln(r.output, "\ntags:")
		for _, tc := range view.Tags {
			fmt.Fprintf(r.output, "  %s (%d)\n", tc.Tag, tc.Count)
		}
	}
	if len(view.Days) > 0 {
		days := make([]string, 0, len(view.Days))
		for day := range view.Days {
			days = append(days, day)
		}
		sort.Strings(days)
		fmt.Fprintln(r.output, "\ndays:")
		for _, day := range days {
			fmt.Fprintf(r.output, "  %s (%d)\n", day, view.Days[day])
		}
	}
	return nil
}

// Rank prints the user's progression rank.
func (r *Runner) Rank(ctx context.Context, cmd *cli.Command) error {
	userID := r.cfg.API.UserID
	if userID == "" {
		return fmt.Errorf("api.user_id must be configured for rank lookup")
	}

	ch, release := r.registry.AcquireRank(userID)
	defer release()

	waitCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := awaitSnapshot(waitCtx, ch, func() bool {
		snap := ch.Snapshot()
		return snap.Err != nil || !snap.Loading
	}); err != nil {
		return fmt.Errorf("loading rank: %w", err)
	}

	snap := ch.Snapshot()
	if snap.Err != nil {
		return snap.Err
	}
	rank := snap.Rank
	if rank == nil {
		defaults := review.DefaultRank()
		rank = &defaults
	}

	if cmd.Bool("json") {
		return r.writeJSON(rank)
	}
	fmt.Fprintf(r.output, "%s (level %d)\n", rank.Label, rank.Level)
	fmt.Fprintf(r.output, "latest score: %.1f\n", rank.CurrentScore)
	fmt.Fprintf(r.output, "submissions:  %d\n", rank.TotalSubmissions)
	if len(rank.HighScores) > 0 {
		fmt.Fprintf(r.output, "high scores:  %v\n", rank.HighScores)
	}
	return nil
}

// RetryImages re-requests the derived images for a task.
func (r *Runner) RetryImages(ctx context.Context, cmd *cli.Command) error {
	taskID := cmd.StringArg("task-id")
	if taskID == "" {
		return fmt.Errorf("task id is required")
	}
	if err := r.pipeline.RetryImages(ctx, taskID); err != nil {
		return err
	}
	fmt.Fprintf(r.output, "image regeneration requested for %s\n", taskID)
	return nil
}

func (r *Runner) writeJSON(data any) error {
	out, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(r.output, string(out))
	return err
}

type notifier interface {
	Subscribe(func()) func()
}

// awaitSnapshot blocks until ready reports true, re-checking on every store
// publication. ready runs on the caller's goroutine.
func awaitSnapshot(ctx context.Context, src notifier, ready func() bool) error {
	wake := make(chan struct{}, 1)
	unsubscribe := src.Subscribe(func() {
		select {
		case wake <- struct{}{}:
		default:
		}
	})
	defer unsubscribe()

	for {
		if ready() {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-wake:
		}
	}
}
