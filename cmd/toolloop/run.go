package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/abdul-hamid-achik/toolloop/internal/agent"
	"github.com/abdul-hamid-achik/toolloop/internal/session"
)

var (
	runApproval string
	runYes      bool
	runModel    string
	runJSON     bool
	runHeadless bool
)

var runCmd = &cobra.Command{
	Use:   "run <task>",
	Short: "Start a new task",
	Long: `Start a new task. The task text is every argument joined with spaces.

Use --headless or --json for unattended runs; they cannot answer permission
prompts, so pair them with --approval auto or --approval read-only.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		task := strings.TrimSpace(strings.Join(args, " "))
		if task == "" {
			return fmt.Errorf("task must not be empty")
		}
		return execute(func(*app) (taskFunc, error) {
			return func(ctx context.Context, ag *agent.Agent) (*agent.TaskResult, error) {
				return ag.Run(ctx, task)
			}, nil
		})
	},
}

var resumeCmd = &cobra.Command{
	Use:   "resume [session-id] [instructions...]",
	Short: "Resume a saved task",
	Long: `Resume a saved task. Without a session id the most recent session is
resumed. Any further arguments are passed to the model as new instructions.
Ids may be abbreviated to a unique prefix.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		var followup string
		if len(args) > 1 {
			followup = strings.Join(args[1:], " ")
		}
		return execute(func(a *app) (taskFunc, error) {
			sess, err := a.findSession(args)
			if err != nil {
				return nil, err
			}
			return func(ctx context.Context, ag *agent.Agent) (*agent.TaskResult, error) {
				return ag.Resume(ctx, sess, followup)
			}, nil
		})
	},
}

func init() {
	for _, c := range []*cobra.Command{runCmd, resumeCmd} {
		c.Flags().StringVar(&runApproval, "approval", "", "tool approval mode: auto, ask, strict or read-only")
		c.Flags().BoolVarP(&runYes, "yes", "y", false, "approve every tool call (same as --approval auto)")
		c.Flags().StringVarP(&runModel, "model", "m", "", "model id, overrides the configured model")
		c.Flags().BoolVar(&runJSON, "json", false, "print a JSON result instead of streaming output")
		c.Flags().BoolVar(&runHeadless, "headless", false, "plain output without colors or prompts")
	}
}

type taskFunc func(ctx context.Context, ag *agent.Agent) (*agent.TaskResult, error)

// execute wires an agent and runs the task prepare returns, cancelling on
// SIGINT or SIGTERM. A cancelled task has already been saved and can be
// resumed.
func execute(prepare func(*app) (taskFunc, error)) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	run, err := prepare(a)
	if err != nil {
		return err
	}

	opts := runOptions{approval: runApproval, model: runModel}
	if runYes {
		opts.approval = "auto"
	}
	switch {
	case runJSON:
		opts.mode = outputJSON
	case runHeadless:
		opts.mode = outputHeadless
	}

	ag, out, err := a.newAgent(opts)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	res, runErr := run(ctx, ag)

	if j, ok := out.(*agent.JSONOutput); ok {
		if err := j.Emit(os.Stdout, res); err != nil {
			return err
		}
	}

	if runErr != nil {
		if errors.Is(runErr, context.Canceled) && res != nil && res.SessionID != "" {
			fmt.Fprintf(os.Stderr, "Session %s saved; continue with: toolloop resume %s\n", res.SessionID, res.SessionID)
		}
		return runErr
	}
	return nil
}

// findSession resolves the session a resume refers to: the first argument
// as an id or prefix, or the most recent session.
func (a *app) findSession(args []string) (*session.Session, error) {
	if len(args) > 0 {
		return a.sessions.Load(args[0])
	}
	sess, err := a.sessions.GetCurrent()
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return nil, fmt.Errorf("no session to resume")
	}
	return sess, nil
}
