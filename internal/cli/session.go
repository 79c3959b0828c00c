package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/spf13/cobra"

	v1 "conduit/api/v1"
	"conduit/internal/queue"
)

// NewSessionCmd creates the session command.
func NewSessionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Work with agent sessions",
		Long:  `Send messages to a session, inspect its state, and close it.`,
	}

	cmd.AddCommand(newSessionSendCmd())
	cmd.AddCommand(newSessionShowCmd())
	cmd.AddCommand(newSessionTaskCmd())
	cmd.AddCommand(newSessionCloseCmd())

	return cmd
}

func newSessionSendCmd() *cobra.Command {
	var background bool

	cmd := &cobra.Command{
		Use:   "send <session-id> <message...>",
		Short: "Queue a message for a session",
		Example: `  conduit session send ops "summarize the open incidents"
  conduit session send ops --background "refresh the cache"`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cliCtx, err := mustContext(cmd)
			if err != nil {
				return err
			}
			kind := queue.KindDefault
			if background {
				kind = queue.KindBackground
			}
			req := v1.EnqueueRequest{
				Text:     strings.Join(args[1:], " "),
				Kind:     kind,
				Metadata: map[string]any{"source": "cli"},
			}
			var resp v1.EnqueueResponse
			if err := cliCtx.Client().Post(cmd.Context(), sessionPath(args[0], "/messages"), req, &resp); err != nil {
				return err
			}
			state := "idle"
			if resp.Busy {
				state = "busy"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Queued %s for session %s (session was %s)\n", resp.MessageID, resp.SessionID, state)
			return nil
		},
	}

	cmd.Flags().BoolVar(&background, "background", false, "queue as a background message")

	return cmd
}

func newSessionShowCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "show <session-id>",
		Short: "Show session state and history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cliCtx, err := mustContext(cmd)
			if err != nil {
				return err
			}
			var resp v1.SessionResponse
			if err := cliCtx.Client().Get(cmd.Context(), sessionPath(args[0], ""), &resp); err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(cmd.OutOrStdout(), resp)
			}
			printSession(cmd.OutOrStdout(), &resp)
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output in JSON format")

	return cmd
}

func newSessionTaskCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "task <session-id>",
		Short: "Show the session's current task state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cliCtx, err := mustContext(cmd)
			if err != nil {
				return err
			}
			var resp v1.TaskResponse
			if err := cliCtx.Client().Get(cmd.Context(), sessionPath(args[0], "/task"), &resp); err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), resp)
		},
	}
}

func newSessionCloseCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "close <session-id>",
		Aliases: []string{"delete", "rm"},
		Short:   "Close a session",
		Long:    `Stop the session's worker, drop its queue, and cancel its pending approvals.`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cliCtx, err := mustContext(cmd)
			if err != nil {
				return err
			}
			var resp v1.CloseSessionResponse
			if err := cliCtx.Client().Delete(cmd.Context(), sessionPath(args[0], ""), &resp); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Closed session %s (%d approvals canceled)\n", resp.SessionID, resp.ApprovalsCanceled)
			return nil
		},
	}
}

func printSession(w io.Writer, s *v1.SessionResponse) {
	fmt.Fprintf(w, "Session: %s\n", s.SessionID)
	fmt.Fprintf(w, "Busy:    %t\n", s.Busy)
	if s.Task.State != "" {
		fmt.Fprintf(w, "Task:    %s", s.Task.State)
		if s.Task.Message != "" {
			fmt.Fprintf(w, " (%s)", s.Task.Message)
		}
		fmt.Fprintln(w)
	}
	if len(s.Pending) > 0 {
		fmt.Fprintf(w, "Pending approvals: %d\n", len(s.Pending))
		for _, req := range s.Pending {
			fmt.Fprintf(w, "  %s  %s  expires %s\n", req.ID, req.Type, req.ExpiresAt.Format("15:04:05"))
		}
	}

	if len(s.History) == 0 {
		return
	}
	fmt.Fprintln(w, "\nHistory:")
	for _, m := range s.History {
		switch {
		case len(m.ToolCalls) > 0:
			names := make([]string, 0, len(m.ToolCalls))
			for _, tc := range m.ToolCalls {
				names = append(names, tc.Name)
			}
			fmt.Fprintf(w, "  [%s] calls %s\n", m.Role, strings.Join(names, ", "))
		case m.ToolCallID != "":
			fmt.Fprintf(w, "  [%s:%s] %s\n", m.Role, m.ToolCallID, truncate(m.Content, 120))
		default:
			fmt.Fprintf(w, "  [%s] %s\n", m.Role, m.Content)
		}
	}
}

func sessionPath(id, suffix string) string {
	return "/api/v1/sessions/" + url.PathEscape(id) + suffix
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func truncate(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
