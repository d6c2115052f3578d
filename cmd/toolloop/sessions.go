package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/abdul-hamid-achik/toolloop/internal/agent"
	ctxmgr "github.com/abdul-hamid-achik/toolloop/internal/context"
	"github.com/abdul-hamid-achik/toolloop/internal/session"
	"github.com/abdul-hamid-achik/toolloop/internal/tools"
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List saved sessions",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		list, err := a.sessions.List()
		if err != nil {
			return err
		}
		printSessions(cmd.OutOrStdout(), list)
		return nil
	},
}

var sessionsDeleteCmd = &cobra.Command{
	Use:   "delete <session-id>",
	Short: "Delete a saved session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.sessions.Delete(args[0]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Deleted session %s\n", args[0])
		return nil
	},
}

var (
	healWrite bool
	healJSON  bool
)

var healCmd = &cobra.Command{
	Use:   "heal [session-id]",
	Short: "Heal a saved conversation and print it",
	Long: `Heal a saved conversation and print the result: roles alternate, every
tool_use is answered and tool blocks come first. Without a session id the
most recent session is used. --write stores the healed conversation.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		sess, err := a.findSession(args)
		if err != nil {
			return err
		}
		healed := ctxmgr.Heal(sess.Messages)

		out := cmd.OutOrStdout()
		if healJSON {
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			if err := enc.Encode(healed); err != nil {
				return err
			}
		} else {
			renderConversation(out, healed)
		}

		if healWrite {
			a.sessions.SetCurrent(sess)
			if err := a.sessions.Save(healed, sess.Model); err != nil {
				return err
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "Saved %d messages to session %s\n", len(healed), sess.ID)
		}
		return nil
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats [session-id]",
	Short: "Show token estimate, window usage and cost of a session",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		sess, err := a.findSession(args)
		if err != nil {
			return err
		}

		ws, err := tools.NewWorkspace(a.dir)
		if err != nil {
			return err
		}
		// The agent is only built for its system prompt and context manager;
		// it never talks to the model.
		ag := agent.New(agent.Config{
			Tools:   tools.NewDefaultRegistry(ws, tools.ExecConfig{}),
			Config:  a.cfg,
			Logger:  a.log,
			WorkDir: a.dir,
		})
		cm := ag.Context()
		cm.SetMessages(ctxmgr.Heal(sess.Messages))

		printStats(cmd.OutOrStdout(), sess, cm.GetStats(), cm.GetBreakdown())
		return nil
	},
}

func init() {
	sessionsCmd.AddCommand(sessionsDeleteCmd)

	healCmd.Flags().BoolVarP(&healWrite, "write", "w", false, "save the healed conversation back to the session")
	healCmd.Flags().BoolVar(&healJSON, "json", false, "print messages as JSON")
}

func printSessions(w io.Writer, list []session.SessionInfo) {
	if len(list) == 0 {
		fmt.Fprintln(w, "No saved sessions.")
		return
	}
	for _, s := range list {
		fmt.Fprintf(w, "%-10s %-16s %4d msgs  %-5s %s\n",
			shortID(s.ID), session.FormatRelativeTime(s.UpdatedAt), s.MsgCount, s.Format, s.Preview)
	}
}

func printStats(w io.Writer, sess *session.Session, stats ctxmgr.ContextStats, b ctxmgr.MessageBreakdown) {
	row := func(k string, v any) { fmt.Fprintf(w, "%-18s %v\n", k+":", v) }

	row("Session", sess.ID)
	row("Model", sess.Model)
	row("Updated", session.FormatRelativeTime(sess.UpdatedAt))
	row("Messages", stats.MessageCount)
	fmt.Fprintln(w)

	row("System prompt", b.SystemPrompt)
	row("User messages", b.UserMessages)
	row("Assistant", b.AssistantMsgs)
	row("Tool results", b.ToolResults)
	row("Images", b.Images)
	row("Total (estimate)", b.Total)
	if sess.Calibration > 0 {
		row("Calibration", fmt.Sprintf("%.2f estimated/actual, ~%d actual", sess.Calibration, int(float64(b.Total)/sess.Calibration)))
	}
	row("Window usage", fmt.Sprintf("%.1f%% of %d", float64(b.Total)/float64(stats.ContextWindow)*100, stats.ContextWindow))
	if stats.NeedsTruncation {
		row("Truncation", "next request will truncate history")
	}
	fmt.Fprintln(w)

	u := sess.Usage
	row("Input tokens", u.InputTokens)
	row("Output tokens", u.OutputTokens)
	row("Cache reads", u.CacheReadTokens)
	row("Cache writes", u.CacheWriteTokens)
	row("Cost", fmt.Sprintf("$%.4f", sess.Cost()))
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
