// Command dessin is the drawing-practice client: submit drawings for AI
// review, browse reviewed tasks with date/tag filtering, and check the
// progression rank.
package main

import (
	"context"
	"os"
	"time"

	"github.com/charmbracelet/log"
	"github.com/urfave/cli/v3"

	"github.com/nuance-sudo/drawing-practice-agent-gch4/internal/config"
)

func main() {
	logger := log.NewWithOptions(os.Stderr, log.Options{ReportTimestamp: true})

	app := &cli.Command{
		Name:    "dessin",
		Usage:   "Submit drawings for AI review and track your progression",
		Version: "0.3.0",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to configuration file",
				Value:   defaultConfigPath(),
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "Log level (debug, info, warn, error)",
			},
		},
		Commands: []*cli.Command{
			submitCommand(logger),
			tasksCommand(logger),
			rankCommand(logger),
			retryImagesCommand(logger),
		},
	}

	if err := app.Run(context.Background(), os.Args); err != nil {
		logger.Fatal(err)
	}
}

func defaultConfigPath() string {
	if home, err := os.UserHomeDir(); err == nil {
		return home + "/.config/dessin/config.toml"
	}
	return "config.toml"
}

// withRunner loads configuration, builds the Runner and tears it down after
// the action returns.
func withRunner(logger *log.Logger, action func(context.Context, *cli.Command, *Runner) error) cli.ActionFunc {
	return func(ctx context.Context, cmd *cli.Command) error {
		cfg, err := config.Load(cmd.String("config"))
		if err != nil {
			return err
		}
		level := cmd.String("log-level")
		if level == "" {
			level = cfg.Log.Level
		}
		if parsed, err := log.ParseLevel(level); err == nil {
			logger.SetLevel(parsed)
		}

		runner, err := NewRunner(RunnerOpts{Config: cfg, Logger: logger})
		if err != nil {
			return err
		}
		defer runner.Close()
		return action(ctx, cmd, runner)
	}
}

func submitCommand(logger *log.Logger) *cli.Command {
	return &cli.Command{
		Name:  "submit",
		Usage: "Submit a drawing for review",
		Arguments: []cli.Argument{
			&cli.StringArg{Name: "path"},
		},
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:    "wait",
				Aliases: []string{"w"},
				Usage:   "Wait for the review to finish and print the feedback",
			},
			&cli.DurationFlag{
				Name:  "timeout",
				Usage: "How long to wait for the review",
				Value: 5 * time.Minute,
			},
		},
		Action: withRunner(logger, func(ctx context.Context, cmd *cli.Command, r *Runner) error {
			return r.Submit(ctx, cmd)
		}),
	}
}

func tasksCommand(logger *log.Logger) *cli.Command {
	return &cli.Command{
		Name:  "tasks",
		Usage: "List reviewed tasks with date/tag filtering",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "date",
				Usage: "Only tasks created on this local day (YYYY-MM-DD)",
			},
			&cli.StringFlag{
				Name:  "tag",
				Usage: "Only tasks carrying this tag",
			},
			&cli.StringFlag{
				Name:  "status",
				Usage: "Subscription-level status filter (pending, processing, completed, failed)",
			},
			&cli.BoolFlag{
				Name:  "json",
				Usage: "Output the dashboard view as JSON",
			},
		},
		Action: withRunner(logger, func(ctx context.Context, cmd *cli.Command, r *Runner) error {
			return r.Tasks(ctx, cmd)
		}),
	}
}

func rankCommand(logger *log.Logger) *cli.Command {
	return &cli.Command{
		Name:  "rank",
		Usage: "Show the current progression rank",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "json",
				Usage: "Output the rank as JSON",
			},
		},
		Action: withRunner(logger, func(ctx context.Context, cmd *cli.Command, r *Runner) error {
			return r.Rank(ctx, cmd)
		}),
	}
}

func retryImagesCommand(logger *log.Logger) *cli.Command {
	return &cli.Command{
		Name:  "retry-images",
		Usage: "Re-request the example and annotated images for a task",
		Arguments: []cli.Argument{
			&cli.StringArg{Name: "task-id"},
		},
		Action: withRunner(logger, func(ctx context.Context, cmd *cli.Command, r *Runner) error {
			return r.RetryImages(ctx, cmd)
		}),
	}
}
