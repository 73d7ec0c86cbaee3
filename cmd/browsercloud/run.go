package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/antoniostano/browsercloud/internal/client"
	"github.com/antoniostano/browsercloud/internal/tasks"
)

type runOptions struct {
	url       string
	apiKey    string
	sessionID string
	maxSteps  int
	interval  time.Duration
	timeout   time.Duration
	follow    bool
}

func newRunCmd() *cobra.Command {
	opts := runOptions{}

	cmd := &cobra.Command{
		Use:   "run <description>",
		Short: "Submit a task to a running server and wait for its result",
		Long: "run posts a task to /api/v2/tasks and then polls it until it is finished or errored, " +
			"or follows its event stream with --follow. The server address and key default to " +
			"SELF_HOSTED_CLOUD_URL and SELF_HOSTED_CLOUD_API_KEY.",
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.url == "" {
				opts.url = os.Getenv("SELF_HOSTED_CLOUD_URL")
			}
			if opts.apiKey == "" {
				opts.apiKey = os.Getenv("SELF_HOSTED_CLOUD_API_KEY")
			}
			return runTask(cmd.Context(), cmd.OutOrStdout(), strings.Join(args, " "), opts)
		},
	}
	cmd.Flags().StringVar(&opts.url, "url", "", "server base URL (default $SELF_HOSTED_CLOUD_URL or "+client.DefaultBaseURL+")")
	cmd.Flags().StringVar(&opts.apiKey, "api-key", "", "API key (default $SELF_HOSTED_CLOUD_API_KEY or "+client.DefaultAPIKey+")")
	cmd.Flags().StringVar(&opts.sessionID, "session", "", "run in an existing session instead of allocating one")
	cmd.Flags().IntVar(&opts.maxSteps, "max-steps", client.DefaultMaxSteps, "agent step budget")
	cmd.Flags().DurationVar(&opts.interval, "interval", 5*time.Second, "poll interval")
	cmd.Flags().DurationVar(&opts.timeout, "timeout", 0, "give up after this long (0 waits forever)")
	cmd.Flags().BoolVar(&opts.follow, "follow", false, "print stream events instead of polling")
	return cmd
}

func runTask(ctx context.Context, out io.Writer, description string, opts runOptions) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if opts.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.timeout)
		defer cancel()
	}

	c := client.New(opts.url, opts.apiKey, nil)
	created, err := c.CreateTask(ctx, client.CreateTaskRequest{
		Description: description,
		SessionID:   strings.TrimSpace(opts.sessionID),
		MaxSteps:    opts.maxSteps,
	})
	if err != nil {
		return fmt.Errorf("create task: %w", err)
	}
	fmt.Fprintf(out, "Created task: %s in session: %s\n", created.ID, created.SessionID)

	if opts.follow {
		if _, err := c.Follow(ctx, created.ID, func(ev tasks.Event) {
			fmt.Fprintln(out, describeEvent(ev))
		}); err != nil {
			return fmt.Errorf("follow task: %w", err)
		}
	}

	view, err := c.WaitForTask(ctx, created.ID, opts.interval, func(v tasks.View) {
		if !opts.follow {
			fmt.Fprintf(out, "Task status: %s\n", v.Status)
		}
	})
	if err != nil {
		return fmt.Errorf("wait for task: %w", err)
	}

	fmt.Fprintln(out, "\nFinal task view:")
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(view); err != nil {
		return err
	}
	if view.Status == tasks.TaskStatusError {
		output := ""
		if view.Output != nil {
			output = *view.Output
		}
		return fmt.Errorf("task %s failed: %s", view.ID, output)
	}
	return nil
}

func describeEvent(ev tasks.Event) string {
	switch {
	case ev.Step != nil:
		return fmt.Sprintf("%s #%d %s %s", ev.Event, ev.Step.Number, ev.Step.URL, ev.Step.Memory)
	case ev.Output != "":
		return fmt.Sprintf("%s %s", ev.Event, ev.Output)
	case ev.Message != "":
		return fmt.Sprintf("%s %s", ev.Event, ev.Message)
	default:
		return string(ev.Event)
	}
}
