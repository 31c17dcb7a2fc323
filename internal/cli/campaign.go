package cli

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
)

// NewCampaignCmd создаёт группу команд для управления кампаниями.
func NewCampaignCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "campaign",
		Short: "Manage campaigns",
	}

	cmd.AddCommand(
		newCampaignCreateCmd(clientFn, outputFn),
		newCampaignShowCmd(clientFn, outputFn),
		newCampaignRegisterCmd(clientFn, outputFn),
		newCampaignRecipientsCmd(clientFn, outputFn),
	)

	return cmd
}

func campaignRow(c *CampaignResponse) []string {
	return []string{
		c.ID, c.Name, c.Subject,
		strconv.FormatInt(c.SentCount, 10),
		strconv.FormatInt(c.FailedCount, 10),
		c.CreatedAt,
	}
}

var campaignHeaders = []string{"ID", "NAME", "SUBJECT", "SENT", "FAILED", "CREATED"}

func newCampaignCreateCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var name, subject, templateID string

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a new campaign",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			campaign, err := client.CreateCampaign(CreateCampaignRequest{
				Name:       name,
				Subject:    subject,
				TemplateID: templateID,
			})
			if err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Campaign created: %s", campaign.ID))
			out.Print(campaignHeaders, [][]string{campaignRow(campaign)}, campaign)
			return nil
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "Campaign name (required)")
	cmd.Flags().StringVar(&subject, "subject", "", "Email subject (required)")
	cmd.Flags().StringVar(&templateID, "template", "", "Template ID")
	cmd.MarkFlagRequired("name")
	cmd.MarkFlagRequired("subject")

	return cmd
}

func newCampaignShowCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "show ID",
		Short: "Show campaign details",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			campaign, err := client.GetCampaign(args[0])
			if err != nil {
				return err
			}

			out.Print(campaignHeaders, [][]string{campaignRow(campaign)}, campaign)
			return nil
		},
	}
}

func newCampaignRegisterCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var emails []string
	var fromFile string

	cmd := &cobra.Command{
		Use:   "register CAMPAIGN_ID",
		Short: "Register recipients for a campaign",
		Long: `Register recipients for a campaign.

Emails are passed via --email flags or a file with one address per line.
Registration is idempotent: re-running the same list creates no duplicates.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			all := append([]string{}, emails...)
			if fromFile != "" {
				fileEmails, err := readEmailFile(fromFile)
				if err != nil {
					return err
				}
				all = append(all, fileEmails...)
			}
			if len(all) == 0 {
				return fmt.Errorf("no recipients given: use --email or --file")
			}

			recipients := make([]RecipientRequest, len(all))
			for i, email := range all {
				recipients[i] = RecipientRequest{Email: email}
			}

			result, err := client.RegisterRecipients(args[0], recipients)
			if err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Registered: %d created, %d duplicates, %d errors",
				result.Created, result.Duplicates, result.Errors))

			headers := []string{"EMAIL", "OUTCOME", "JOB_KEY", "ERROR"}
			rows := make([][]string, len(result.Details))
			for i, d := range result.Details {
				rows[i] = []string{d.Email, d.Outcome, d.JobKey, d.Error}
			}
			out.Print(headers, rows, result)
			return nil
		},
	}

	cmd.Flags().StringArrayVar(&emails, "email", nil, "Recipient email (repeatable)")
	cmd.Flags().StringVar(&fromFile, "file", "", "File with one email per line")

	return cmd
}

func newCampaignRecipientsCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "recipients CAMPAIGN_ID",
		Short: "List campaign ledger entries",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			sends, err := client.ListRecipients(args[0], limit)
			if err != nil {
				return err
			}

			headers := []string{"JOB_KEY", "EMAIL", "STATUS", "ATTEMPTS", "ERROR"}
			rows := make([][]string, len(sends))
			for i, s := range sends {
				rows[i] = []string{
					s.JobKey, s.Email, s.Status,
					fmt.Sprintf("%d/%d", s.Attempts, s.MaxAttempts),
					s.LastError,
				}
			}
			out.Print(headers, rows, sends)
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 100, "Maximum entries to list")

	return cmd
}

// readEmailFile читает адреса из файла, по одному на строку.
func readEmailFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open recipients file: %w", err)
	}
	defer f.Close()

	var emails []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		emails = append(emails, line)
	}
	return emails, scanner.Err()
}
