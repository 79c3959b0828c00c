package cli

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	v1 "conduit/api/v1"
	"conduit/internal/tools"
)

// NewToolCmd creates the tool command.
func NewToolCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tool",
		Short: "Inspect the tools the model can call",
	}

	cmd.AddCommand(newToolListCmd())
	cmd.AddCommand(newToolInfoCmd())

	return cmd
}

func newToolListCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List registered tools",
		RunE: func(cmd *cobra.Command, args []string) error {
			defs, err := fetchTools(cmd)
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(cmd.OutOrStdout(), defs)
			}
			printTools(cmd.OutOrStdout(), defs)
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output in JSON format")

	return cmd
}

func newToolInfoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "info <tool-name>",
		Short: "Show a tool's description and parameters",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			defs, err := fetchTools(cmd)
			if err != nil {
				return err
			}
			for _, d := range defs {
				if d.Name == args[0] {
					return printJSON(cmd.OutOrStdout(), d)
				}
			}
			return fmt.Errorf("tool not found: %s", args[0])
		},
	}
}

func fetchTools(cmd *cobra.Command) ([]tools.Definition, error) {
	cliCtx, err := mustContext(cmd)
	if err != nil {
		return nil, err
	}
	var resp v1.ToolsListResponse
	if err := cliCtx.Client().Get(cmd.Context(), "/api/v1/tools", &resp); err != nil {
		return nil, err
	}
	sort.Slice(resp.Tools, func(i, j int) bool { return resp.Tools[i].Name < resp.Tools[j].Name })
	return resp.Tools, nil
}

func printTools(out io.Writer, defs []tools.Definition) {
	if len(defs) == 0 {
		fmt.Fprintln(out, "No tools registered.")
		return
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tDESCRIPTION")
	for _, d := range defs {
		desc := d.Description
		if i := strings.IndexByte(desc, '\n'); i >= 0 {
			desc = desc[:i]
		}
		fmt.Fprintf(w, "%s\t%s\n", d.Name, truncate(desc, 80))
	}
	w.Flush()

	fmt.Fprintf(out, "\nTotal: %d tools\n", len(defs))
}
