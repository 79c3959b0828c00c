package cli

import (
	"fmt"
	"io"
	"net/url"

	"github.com/spf13/cobra"

	v1 "conduit/api/v1"
	"conduit/internal/todo"
)

// NewTodosCmd creates the todos command.
func NewTodosCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "todos",
		Aliases: []string{"todo"},
		Short:   "Inspect session todo lists",
	}

	cmd.AddCommand(newTodosListCmd())
	cmd.AddCommand(newTodosStatusCmd())
	cmd.AddCommand(newTodosClearCmd())

	return cmd
}

func newTodosListCmd() *cobra.Command {
	var (
		local      bool
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "list <session-id>",
		Short: "List a session's todos",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cliCtx, err := mustContext(cmd)
			if err != nil {
				return err
			}

			var list []todo.Todo
			if local {
				db, err := cliCtx.GetStorage()
				if err != nil {
					return fmt.Errorf("open storage: %w", err)
				}
				if list, err = db.LoadTodos(cmd.Context(), args[0]); err != nil {
					return err
				}
			} else {
				var resp v1.TodosResponse
				if err := cliCtx.Client().Get(cmd.Context(), sessionPath(args[0], "/todos"), &resp); err != nil {
					return err
				}
				list = resp.Todos
			}

			if jsonOutput {
				return printJSON(cmd.OutOrStdout(), list)
			}
			printTodos(cmd.OutOrStdout(), list)
			return nil
		},
	}

	cmd.Flags().BoolVar(&local, "local", false, "read from the local database instead of the server")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output in JSON format")

	return cmd
}

func newTodosStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <session-id> <todo-id> <pending|in_progress|completed|cancelled>",
		Short: "Change the status of one todo",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			cliCtx, err := mustContext(cmd)
			if err != nil {
				return err
			}
			path := sessionPath(args[0], "/todos/"+url.PathEscape(args[1]))
			req := v1.TodoStatusRequest{Status: todo.Status(args[2])}
			var resp v1.TodosResponse
			if err := cliCtx.Client().Do(cmd.Context(), "PATCH", path, req, &resp); err != nil {
				return err
			}
			printTodos(cmd.OutOrStdout(), resp.Todos)
			return nil
		},
	}
}

func newTodosClearCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clear <session-id>",
		Short: "Remove every todo of a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cliCtx, err := mustContext(cmd)
			if err != nil {
				return err
			}
			if err := cliCtx.Client().Delete(cmd.Context(), sessionPath(args[0], "/todos"), nil); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Cleared todos for session %s\n", args[0])
			return nil
		},
	}
}

var todoMarks = map[todo.Status]string{
	todo.StatusPending:    "[ ]",
	todo.StatusInProgress: "[~]",
	todo.StatusCompleted:  "[x]",
	todo.StatusCancelled:  "[-]",
}

func printTodos(w io.Writer, list []todo.Todo) {
	if len(list) == 0 {
		fmt.Fprintln(w, "No todos.")
		return
	}
	for _, t := range list {
		mark, ok := todoMarks[t.Status]
		if !ok {
			mark = "[?]"
		}
		fmt.Fprintf(w, "%s %s  (%s)\n", mark, t.Content, t.ID)
	}
	c := todo.Summarize(list)
	fmt.Fprintf(w, "\n%d pending, %d in progress, %d completed, %d cancelled\n",
		c[todo.StatusPending], c[todo.StatusInProgress], c[todo.StatusCompleted], c[todo.StatusCancelled])
}
