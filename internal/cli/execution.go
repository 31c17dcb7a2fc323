package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

// NewExecutionCmd создаёт группу команд для управления executions.
func NewExecutionCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "execution",
		Short: "Manage flow executions",
	}

	cmd.AddCommand(
		newExecutionShowCmd(clientFn, outputFn),
		newExecutionListCmd(clientFn, outputFn),
		newExecutionCancelCmd(clientFn, outputFn),
	)

	return cmd
}

var executionHeaders = []string{"ID", "FLOW", "CUSTOMER", "STATUS", "STEP", "RESUME_AT", "ERROR"}

func executionRow(e *ExecutionResponse) []string {
	return []string{
		e.ID, e.FlowID, e.CustomerID, e.Status,
		strconv.Itoa(e.CurrentStep),
		e.ResumeAt,
		e.LastError,
	}
}

func newExecutionShowCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "show ID",
		Short: "Show execution details",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			exec, err := client.GetExecution(args[0])
			if err != nil {
				return err
			}

			out.Print(executionHeaders, [][]string{executionRow(exec)}, exec)
			return nil
		},
	}
}

func newExecutionListCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "list FLOW_ID",
		Short: "List executions of a flow",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			execs, err := client.ListExecutions(args[0], limit)
			if err != nil {
				return err
			}

			rows := make([][]string, len(execs))
			for i := range execs {
				rows[i] = executionRow(&execs[i])
			}

			out.Print(executionHeaders, rows, execs)
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 100, "Maximum executions to list")

	return cmd
}

func newExecutionCancelCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel ID",
		Short: "Cancel a running execution",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			exec, err := client.CancelExecution(args[0])
			if err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Execution cancelled: %s", exec.ID))
			out.Print(executionHeaders, [][]string{executionRow(exec)}, exec)
			return nil
		},
	}
}
