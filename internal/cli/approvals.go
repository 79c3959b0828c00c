package cli

import (
	"bufio"
	"fmt"
	"io"
	"net/url"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	v1 "conduit/api/v1"
	"conduit/internal/approval"
	"conduit/internal/storage"
)

// stdinIsTerminal reports whether resolve may prompt for confirmation.
var stdinIsTerminal = func() bool {
	return term.IsTerminal(int(os.Stdin.Fd()))
}

// NewApprovalsCmd creates the approvals command.
func NewApprovalsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "approvals",
		Aliases: []string{"approval"},
		Short:   "Review and resolve approval requests",
		Long:    `List pending approval requests, approve or deny them, and browse past decisions.`,
	}

	cmd.AddCommand(newApprovalsListCmd())
	cmd.AddCommand(newApprovalsShowCmd())
	cmd.AddCommand(newApprovalsResolveCmd())
	cmd.AddCommand(newApprovalsShortcutCmd("approve", "approved"))
	cmd.AddCommand(newApprovalsShortcutCmd("deny", "denied"))
	cmd.AddCommand(newApprovalsHistoryCmd())

	return cmd
}

func newApprovalsListCmd() *cobra.Command {
	var (
		sessionID  string
		history    bool
		limit      int
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List pending approval requests",
		RunE: func(cmd *cobra.Command, args []string) error {
			cliCtx, err := mustContext(cmd)
			if err != nil {
				return err
			}

			q := url.Values{}
			if sessionID != "" {
				q.Set("session", sessionID)
			}
			if history {
				q.Set("history", "true")
				q.Set("limit", strconv.Itoa(limit))
			}
			path := "/api/v1/approvals"
			if len(q) > 0 {
				path += "?" + q.Encode()
			}

			var resp v1.ApprovalListResponse
			if err := cliCtx.Client().Get(cmd.Context(), path, &resp); err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(cmd.OutOrStdout(), resp)
			}

			out := cmd.OutOrStdout()
			printPending(out, resp.Pending)
			if history {
				fmt.Fprintln(out)
				printApprovalRecords(out, resp.History)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&sessionID, "session", "s", "", "only this session")
	cmd.Flags().BoolVar(&history, "history", false, "include recorded decisions")
	cmd.Flags().IntVarP(&limit, "limit", "l", 20, "maximum history entries")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output in JSON format")

	return cmd
}

func newApprovalsShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <request-id>",
		Short: "Show one approval request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cliCtx, err := mustContext(cmd)
			if err != nil {
				return err
			}
			var resp v1.ApprovalResponse
			if err := cliCtx.Client().Get(cmd.Context(), approvalPath(args[0]), &resp); err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), resp)
		},
	}
}

type resolveFlags struct {
	note      string
	by        string
	sessionID string
	yes       bool
}

func (f *resolveFlags) bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.note, "note", "", "note recorded with the decision")
	cmd.Flags().StringVar(&f.by, "by", "", "resolver name (default cli:$USER)")
	cmd.Flags().StringVarP(&f.sessionID, "session", "s", "", "require the request to belong to this session")
	cmd.Flags().BoolVarP(&f.yes, "yes", "y", false, "skip confirmation prompt")
}

func newApprovalsResolveCmd() *cobra.Command {
	flags := &resolveFlags{}

	cmd := &cobra.Command{
		Use:   "resolve <request-id> <approve|deny>",
		Short: "Approve or deny a pending request",
		Example: `  conduit approvals resolve 3f1c... approve
  conduit approvals resolve 3f1c... deny --note "not on prod"`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runResolve(cmd, args[0], args[1], flags)
		},
	}
	flags.bind(cmd)

	return cmd
}

func newApprovalsShortcutCmd(verb, decision string) *cobra.Command {
	flags := &resolveFlags{}

	cmd := &cobra.Command{
		Use:   verb + " <request-id>",
		Short: strings.ToUpper(verb[:1]) + verb[1:] + " a pending request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runResolve(cmd, args[0], decision, flags)
		},
	}
	flags.bind(cmd)

	return cmd
}

func runResolve(cmd *cobra.Command, id, decisionArg string, flags *resolveFlags) error {
	cliCtx, err := mustContext(cmd)
	if err != nil {
		return err
	}

	decision, err := approval.ParseDecision(strings.ToLower(decisionArg))
	if err != nil {
		return fmt.Errorf("%w: %q (use approve or deny)", err, decisionArg)
	}

	if !flags.yes && stdinIsTerminal() {
		ok, err := confirm(cmd.InOrStdin(), cmd.OutOrStdout(),
			fmt.Sprintf("Mark request %s as %s?", id, decision))
		if err != nil {
			return err
		}
		if !ok {
			fmt.Fprintln(cmd.OutOrStdout(), "Aborted.")
			return nil
		}
	}

	by := flags.by
	if by == "" {
		by = defaultResolver()
	}
	req := v1.ResolveRequest{
		Decision:  string(decision),
		By:        by,
		Note:      flags.note,
		SessionID: flags.sessionID,
	}
	var resp v1.ResolveResponse
	if err := cliCtx.Client().Post(cmd.Context(), approvalPath(id), req, &resp); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Request %s %s\n", resp.RequestID, resp.Decision)
	return nil
}

func newApprovalsHistoryCmd() *cobra.Command {
	var (
		sessionID  string
		limit      int
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recorded decisions from the local database",
		Long:  `Read approval history straight from storage. Works while the server is stopped.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cliCtx, err := mustContext(cmd)
			if err != nil {
				return err
			}
			db, err := cliCtx.GetStorage()
			if err != nil {
				return fmt.Errorf("open storage: %w", err)
			}
			records, err := db.ListApprovals(sessionID, limit)
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(cmd.OutOrStdout(), records)
			}
			printApprovalRecords(cmd.OutOrStdout(), records)
			return nil
		},
	}

	cmd.Flags().StringVarP(&sessionID, "session", "s", "", "only this session")
	cmd.Flags().IntVarP(&limit, "limit", "l", 20, "maximum entries")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output in JSON format")

	return cmd
}

func printPending(out io.Writer, pending []*approval.Request) {
	if len(pending) == 0 {
		fmt.Fprintln(out, "No pending approvals.")
		return
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSESSION\tTYPE\tTOOL\tEXPIRES IN")
	for _, req := range pending {
		tool, _ := req.Metadata["tool"].(string)
		if tool == "" {
			tool = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			req.ID, req.SessionID, req.Type, tool,
			time.Until(req.ExpiresAt).Round(time.Second))
	}
	w.Flush()
	fmt.Fprintf(out, "\nTotal: %d pending\n", len(pending))
}

func printApprovalRecords(out io.Writer, records []*storage.ApprovalRecord) {
	if len(records) == 0 {
		fmt.Fprintln(out, "No recorded approvals.")
		return
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSESSION\tTYPE\tCREATED\tDECISION\tBY")
	for _, rec := range records {
		decision, by := "pending", "-"
		if rec.Result != nil {
			decision = string(rec.Result.Decision)
			if rec.Result.DecidedBy != "" {
				by = rec.Result.DecidedBy
			}
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			rec.Request.ID, rec.Request.SessionID, rec.Request.Type,
			rec.Request.CreatedAt.Format("01-02 15:04:05"), decision, by)
	}
	w.Flush()
}

func confirm(in io.Reader, out io.Writer, prompt string) (bool, error) {
	fmt.Fprintf(out, "%s [y/N]: ", prompt)
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && err != io.EOF {
		return false, err
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true, nil
	}
	return false, nil
}

func defaultResolver() string {
	if user := os.Getenv("USER"); user != "" {
		return "cli:" + user
	}
	return "cli"
}

func approvalPath(id string) string {
	return "/api/v1/approvals/" + url.PathEscape(id)
}
