package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"
)

// NewFlowCmd создаёт группу команд для управления flows.
func NewFlowCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "flow",
		Short: "Manage automation flows",
	}

	cmd.AddCommand(
		newFlowListCmd(clientFn, outputFn),
		newFlowCreateCmd(clientFn, outputFn),
		newFlowShowCmd(clientFn, outputFn),
		newFlowDeleteCmd(clientFn, outputFn),
		newFlowActivateCmd(clientFn, outputFn),
		newFlowTriggerCmd(clientFn, outputFn),
	)

	return cmd
}

var flowHeaders = []string{"ID", "NAME", "ACTIVE", "STEPS", "COMPLETIONS", "EMAILS", "CREATED"}

func flowRow(f *FlowResponse) []string {
	return []string{
		f.ID, f.Name, strconv.FormatBool(f.IsActive),
		strconv.Itoa(len(f.Steps)),
		strconv.FormatInt(f.Completions, 10),
		strconv.FormatInt(f.EmailsSent, 10),
		f.CreatedAt,
	}
}

func newFlowListCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all flows",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			flows, err := client.ListFlows()
			if err != nil {
				return err
			}

			rows := make([][]string, len(flows))
			for i := range flows {
				rows[i] = flowRow(&flows[i])
			}

			out.Print(flowHeaders, rows, flows)
			return nil
		},
	}
}

func newFlowCreateCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var name, stepsFile, triggerCron string
	var active bool

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a new flow",
		Long: `Create a new flow.

Steps are read from a JSON file: an array of {"type": ..., "config": {...}}
objects. Step types: send_email, wait, condition, add_tag, create_discount.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			req := CreateFlowRequest{
				Name:        name,
				TriggerCron: triggerCron,
				IsActive:    active,
			}

			if stepsFile != "" {
				data, err := os.ReadFile(stepsFile)
				if err != nil {
					return fmt.Errorf("read steps file: %w", err)
				}
				if err := json.Unmarshal(data, &req.Steps); err != nil {
					return fmt.Errorf("parse steps file: %w", err)
				}
			}

			flow, err := client.CreateFlow(req)
			if err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Flow created: %s", flow.ID))
			out.Print(flowHeaders, [][]string{flowRow(flow)}, flow)
			return nil
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "Flow name (required)")
	cmd.Flags().StringVar(&stepsFile, "steps", "", "JSON file with flow steps")
	cmd.Flags().StringVar(&triggerCron, "cron", "", "Cron expression for periodic trigger")
	cmd.Flags().BoolVar(&active, "active", false, "Activate the flow immediately")
	cmd.MarkFlagRequired("name")

	return cmd
}

func newFlowShowCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "show ID",
		Short: "Show flow details",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			flow, err := client.GetFlow(args[0])
			if err != nil {
				return err
			}

			out.Print(flowHeaders, [][]string{flowRow(flow)}, flow)
			return nil
		},
	}
}

func newFlowDeleteCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "delete ID",
		Short: "Delete a flow",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			if err := client.DeleteFlow(args[0]); err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Flow deleted: %s", args[0]))
			return nil
		},
	}
}

func newFlowActivateCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var off bool

	cmd := &cobra.Command{
		Use:   "activate ID",
		Short: "Activate or deactivate a flow",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			flow, err := client.SetFlowActive(args[0], !off)
			if err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Flow %s: active=%v", flow.ID, flow.IsActive))
			out.Print(flowHeaders, [][]string{flowRow(flow)}, flow)
			return nil
		},
	}

	cmd.Flags().BoolVar(&off, "off", false, "Deactivate instead of activating")

	return cmd
}

func newFlowTriggerCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var customerID, triggerKey string

	cmd := &cobra.Command{
		Use:   "trigger FLOW_ID",
		Short: "Trigger a flow for a customer",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			exec, err := client.TriggerFlow(args[0], TriggerFlowRequest{
				CustomerID: customerID,
				TriggerKey: triggerKey,
			})
			if err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Execution started: %s", exec.ID))
			out.Print(executionHeaders, [][]string{executionRow(exec)}, exec)
			return nil
		},
	}

	cmd.Flags().StringVar(&customerID, "customer", "", "Customer ID (required)")
	cmd.Flags().StringVar(&triggerKey, "key", "", "Trigger key for idempotency")
	cmd.MarkFlagRequired("customer")

	return cmd
}
