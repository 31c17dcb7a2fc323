package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// NewSendCmd создаёт группу команд для send ledger'а.
func NewSendCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "send",
		Short: "Inspect the send ledger",
	}

	cmd.AddCommand(newSendShowCmd(clientFn, outputFn))

	return cmd
}

func newSendShowCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "show JOB_KEY",
		Short: "Show a send ledger entry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			send, err := client.GetSend(args[0])
			if err != nil {
				return err
			}

			headers := []string{"JOB_KEY", "EMAIL", "STATUS", "ATTEMPTS", "PROVIDER_MSG", "SENT_AT", "ERROR"}
			row := []string{
				send.JobKey, send.Email, send.Status,
				fmt.Sprintf("%d/%d", send.Attempts, send.MaxAttempts),
				send.ProviderMessageID,
				send.SentAt,
				send.LastError,
			}
			out.Print(headers, [][]string{row}, send)
			return nil
		},
	}
}
