package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	v1 "conduit/api/v1"
	"conduit/internal/config"
	"conduit/internal/policy"
)

// NewPolicyCmd creates the policy command.
func NewPolicyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "policy",
		Short: "Inspect and test the tool policy",
	}

	cmd.AddCommand(newPolicyShowCmd())
	cmd.AddCommand(newPolicyCheckCmd())
	cmd.AddCommand(newPolicyValidateCmd())

	return cmd
}

func newPolicyShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the policy the server is enforcing",
		RunE: func(cmd *cobra.Command, args []string) error {
			cliCtx, err := mustContext(cmd)
			if err != nil {
				return err
			}
			var p policy.Policy
			if err := cliCtx.Client().Get(cmd.Context(), "/api/v1/policy", &p); err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), p)
		},
	}
}

func newPolicyCheckCmd() *cobra.Command {
	var (
		arguments string
		sessionID string
		local     bool
	)

	cmd := &cobra.Command{
		Use:   "check <tool>",
		Short: "Dry-run a tool call against the policy",
		Example: `  conduit policy check shell --args '{"command":"rm -rf /tmp/x"}'
  conduit policy check shell --args '{"command":"ls"}' --local`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cliCtx, err := mustContext(cmd)
			if err != nil {
				return err
			}
			if arguments != "" && !json.Valid([]byte(arguments)) {
				return fmt.Errorf("--args is not valid JSON")
			}

			var res *policy.Result
			if local {
				p, err := loadLocalPolicy(cliCtx.Config)
				if err != nil {
					return err
				}
				res, err = policy.NewExecutor(p).Check(cmd.Context(), &policy.ToolCall{
					Name:      args[0],
					SessionID: sessionID,
					Arguments: arguments,
				})
				if err != nil {
					return err
				}
			} else {
				req := v1.PolicyCheckRequest{Tool: args[0], Arguments: arguments, SessionID: sessionID}
				var resp v1.PolicyCheckResponse
				if err := cliCtx.Client().Post(cmd.Context(), "/api/v1/policy/check", req, &resp); err != nil {
					return err
				}
				res = resp.Result
			}
			printCheck(cmd.OutOrStdout(), args[0], res)
			return nil
		},
	}

	cmd.Flags().StringVarP(&arguments, "args", "a", "", "tool arguments as JSON")
	cmd.Flags().StringVarP(&sessionID, "session", "s", "", "session id")
	cmd.Flags().BoolVar(&local, "local", false, "evaluate the policy file instead of asking the server")

	return cmd
}

func newPolicyValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate [file]",
		Short: "Validate a policy file",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cliCtx, err := mustContext(cmd)
			if err != nil {
				return err
			}
			path := cliCtx.Config.Policy.Path
			if len(args) == 1 {
				path = args[0]
			}
			if path == "" {
				return fmt.Errorf("no policy file configured; pass one or set policy.path")
			}
			path, err = config.ExpandPath(path)
			if err != nil {
				return err
			}
			data, err := os.ReadFile(path)
			if err != nil {
				return err
			}
			p, err := policy.Parse(data)
			if err != nil {
				return fmt.Errorf("%s: %w", path, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✓ %s: %d rules, %d allowlisted, %d blocklisted\n",
				path, len(p.Rules), len(p.Allowlist), len(p.Blocklist))
			return nil
		},
	}
}

func loadLocalPolicy(cfg *config.Config) (*policy.Policy, error) {
	if cfg == nil || cfg.Policy.Path == "" {
		return policy.DefaultPolicy(), nil
	}
	path, err := config.ExpandPath(cfg.Policy.Path)
	if err != nil {
		return nil, err
	}
	return policy.Load(path)
}

func printCheck(out io.Writer, tool string, res *policy.Result) {
	if res == nil {
		fmt.Fprintf(out, "%s: no result\n", tool)
		return
	}
	switch {
	case !res.Allowed:
		fmt.Fprintf(out, "✗ %s: blocked", tool)
		if res.Reason != "" {
			fmt.Fprintf(out, " (%s)", res.Reason)
		}
		fmt.Fprintln(out)
	case res.RequireApproval:
		fmt.Fprintf(out, "? %s: allowed after approval", tool)
		if res.ApprovalReason != "" {
			fmt.Fprintf(out, " (%s)", res.ApprovalReason)
		}
		fmt.Fprintln(out)
		if res.Timeout > 0 {
			fmt.Fprintf(out, "  Timeout: %s\n", res.Timeout)
		}
	default:
		fmt.Fprintf(out, "✓ %s: allowed\n", tool)
	}
	if len(res.MatchedRules) > 0 {
		fmt.Fprintf(out, "  Rules: %s\n", strings.Join(res.MatchedRules, ", "))
	}
	for _, w := range res.Warnings {
		fmt.Fprintf(out, "  Warning: %s\n", w)
	}
}
