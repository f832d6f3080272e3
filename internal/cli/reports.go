package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/pendergraft/reportchain/internal/validation"
	"github.com/pendergraft/reportchain/pkg/client"
)

const defaultPageSize = 50

func createSubmitCmd() *cobra.Command {
	var accused string
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "submit <url>",
		Short: "Accuse a wallet of running a scam site",
		Long: `Submit a URL for classification. If the classifier does not judge the
site benign, a report against the accused wallet is written to the ledger.

EXAMPLES:
  reportchain submit https://free-airdrop.example --wallet 0x1234...abcd
`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSubmit(cmd.Context(), cmd.OutOrStdout(), newClient(), args[0], accused, jsonOutput)
		},
	}

	cmd.Flags().StringVar(&accused, "wallet", "", "accused wallet address (required)")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	_ = cmd.MarkFlagRequired("wallet")

	return cmd
}

func createSelfReportCmd() *cobra.Command {
	var wallet string
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "self-report <url>",
		Short: "Report a scam site and register for a reward",
		Long: `Write a self-report to the ledger and register the reporter wallet for
a reward. The wallet defaults to the one in reportchain.toml.

If the ledger write succeeds but the reward registration fails, the
evidence hash is printed so the reward can be retried with
'reportchain retry-reward'.
`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSelfReport(cmd.Context(), cmd.OutOrStdout(), newClient(), args[0], getWallet(wallet), jsonOutput)
		},
	}

	cmd.Flags().StringVar(&wallet, "wallet", "", "reporter wallet address")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")

	return cmd
}

func createRetryRewardCmd() *cobra.Command {
	var wallet string

	cmd := &cobra.Command{
		Use:   "retry-reward <evidence-hash>",
		Short: "Retry a failed reward registration",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRetryReward(cmd.Context(), cmd.OutOrStdout(), newClient(), args[0], getWallet(wallet))
		},
	}

	cmd.Flags().StringVar(&wallet, "wallet", "", "reporter wallet address")

	return cmd
}

func createListCmd() *cobra.Command {
	var offset, limit uint64
	var jsonOutput bool
	var stream bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List ledger reports",
		Long: `List reports from the ledger with their projected status.

EXAMPLES:
  # First page
  reportchain list

  # Next page
  reportchain list --offset 50

  # Every report, streamed as it is read
  reportchain list --stream
`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if limit == 0 && !stream {
				limit = defaultPageSize
				if config := loadProjectConfigSilent(); config != nil && config.List.PageSize > 0 {
					limit = config.List.PageSize
				}
			}
			if stream {
				return runListStream(cmd.Context(), cmd.OutOrStdout(), newClient(), offset, limit, jsonOutput)
			}
			return runList(cmd.Context(), cmd.OutOrStdout(), newClient(), offset, limit, jsonOutput)
		},
	}

	cmd.Flags().Uint64Var(&offset, "offset", 0, "first report id")
	cmd.Flags().Uint64Var(&limit, "limit", 0, "maximum reports to return")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	cmd.Flags().BoolVar(&stream, "stream", false, "stream reports as they are read")

	return cmd
}

func createShowCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:     "show <report-id>",
		Aliases: []string{"get"},
		Short:   "Show a single report",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := validation.ValidateReportID(args[0])
			if err != nil {
				return err
			}
			return runShow(cmd.Context(), cmd.OutOrStdout(), newClient(), id, jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")

	return cmd
}

func createVerifyCmd() *cobra.Command {
	var reject bool

	cmd := &cobra.Command{
		Use:   "verify <report-id>",
		Short: "Mark a report verified (or rejected)",
		Long: `Record a reviewer decision for a report. Requires an API key when the
server has authentication enabled.

EXAMPLES:
  reportchain verify 12
  reportchain verify 13 --reject
`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := validation.ValidateReportID(args[0])
			if err != nil {
				return err
			}
			return runVerify(cmd.Context(), cmd.OutOrStdout(), newClient(), id, reject)
		},
	}

	cmd.Flags().BoolVar(&reject, "reject", false, "reject the report instead")

	return cmd
}

func createBansCmd() *cobra.Command {
	var wallet, domain string

	cmd := &cobra.Command{
		Use:   "bans",
		Short: "Check whether a wallet or domain is banned",
		RunE: func(cmd *cobra.Command, args []string) error {
			if wallet == "" && domain == "" {
				return errors.New("at least one of --wallet or --domain is required")
			}
			return runBans(cmd.Context(), cmd.OutOrStdout(), newClient(), wallet, domain)
		},
	}

	cmd.Flags().StringVar(&wallet, "wallet", "", "wallet address")
	cmd.Flags().StringVar(&domain, "domain", "", "domain name")

	return cmd
}

func runSubmit(ctx context.Context, out io.Writer, c *client.Client, reportURL, accused string, jsonOutput bool) error {
	if err := validation.ValidateWallet(accused); err != nil {
		return err
	}

	resp, err := c.SubmitAccusation(ctx, reportURL, accused)
	if err != nil {
		return describeSubmitError(out, err)
	}

	if jsonOutput {
		return writeJSON(out, resp)
	}

	fmt.Fprintf(out, "Prediction: %s\n", resp.Prediction)
	if !resp.BlockchainSubmission {
		fmt.Fprintln(out, resp.Message)
		return nil
	}
	fmt.Fprintf(out, "✅ %s\n", resp.Message)
	if resp.Receipt != nil {
		fmt.Fprintf(out, "   Tx:    %s (block %s)\n", resp.TxHash, resp.BlockNumber)
	}
	if resp.EvidenceHash != "" {
		fmt.Fprintf(out, "   Evidence: %s\n", resp.EvidenceHash)
	}
	printBans(out, resp.Bans)
	return nil
}

func runSelfReport(ctx context.Context, out io.Writer, c *client.Client, reportURL, wallet string, jsonOutput bool) error {
	if err := validation.ValidateWallet(wallet); err != nil {
		return fmt.Errorf("reporter wallet: %w", err)
	}

	resp, err := c.SubmitSelfReport(ctx, reportURL, wallet)
	if err != nil {
		return describeSubmitError(out, err)
	}

	if jsonOutput {
		return writeJSON(out, resp)
	}
	printSelfReport(out, resp)
	return nil
}

func runRetryReward(ctx context.Context, out io.Writer, c *client.Client, evidenceHash, wallet string) error {
	if err := validation.ValidateWallet(wallet); err != nil {
		return fmt.Errorf("reporter wallet: %w", err)
	}

	resp, err := c.RetryReward(ctx, evidenceHash, wallet)
	if err != nil {
		return describeSubmitError(out, err)
	}
	printSelfReport(out, resp)
	return nil
}

func printSelfReport(out io.Writer, resp *client.SelfReport) {
	fmt.Fprintf(out, "✅ %s\n", resp.Message)
	fmt.Fprintf(out, "   Evidence: %s\n", resp.EvidenceHash)
	if resp.Receipt != nil {
		fmt.Fprintf(out, "   Ledger tx: %s (block %s)\n", resp.TxHash, resp.BlockNumber)
	}
	if resp.Reward != nil {
		fmt.Fprintf(out, "   Reward tx: %s (block %s)\n", resp.Reward.TxHash, resp.Reward.BlockNumber)
	}
}

// describeSubmitError prints the recoverable parts of a failed submission
// before returning the error.
func describeSubmitError(out io.Writer, err error) error {
	var pf *client.PartialFailure
	var pending *client.Pending
	var dup *client.Duplicate

	switch {
	case errors.As(err, &pf):
		fmt.Fprintln(out, "⚠️  Report recorded on the ledger but reward registration failed")
		if pf.Ledger != nil {
			fmt.Fprintf(out, "   Ledger tx: %s\n", pf.Ledger.TxHash)
		}
		if pf.RewardTxHash != "" {
			fmt.Fprintf(out, "   Reward tx (unconfirmed): %s\n", pf.RewardTxHash)
		}
		fmt.Fprintf(out, "   Retry with: reportchain retry-reward %s --wallet %s\n", pf.EvidenceHash, pf.Reporter)
	case errors.As(err, &pending):
		fmt.Fprintf(out, "⏳ Transaction %s was sent but not yet mined\n", pending.TxHash)
	case errors.As(err, &dup):
		if dup.Submission != nil {
			fmt.Fprintf(out, "Already submitted as %s (%s)\n", dup.Submission.ID, dup.Submission.State)
		}
	}
	return err
}

func runList(ctx context.Context, out io.Writer, c *client.Client, offset, limit uint64, jsonOutput bool) error {
	list, err := c.ListReports(ctx, offset, limit)
	if err != nil {
		return err
	}

	if jsonOutput {
		return writeJSON(out, list)
	}

	if len(list.Reports) == 0 {
		fmt.Fprintf(out, "No reports (total %s)\n", list.TotalReports)
		return nil
	}

	w := newReportTable(out)
	for _, r := range list.Reports {
		writeReportRow(w, r)
	}
	if err := w.Flush(); err != nil {
		return err
	}

	fmt.Fprintf(out, "\nShowing %d of %s reports\n", len(list.Reports), list.TotalReports)
	return nil
}

func runListStream(ctx context.Context, out io.Writer, c *client.Client, offset, limit uint64, jsonOutput bool) error {
	var total uint64
	var enc *json.Encoder
	var w *tabwriter.Writer
	if jsonOutput {
		enc = json.NewEncoder(out)
	} else {
		w = newReportTable(out)
	}

	n := 0
	for r, err := range c.StreamReports(ctx, offset, limit, &total) {
		if err != nil {
			if w != nil {
				_ = w.Flush()
			}
			return err
		}
		n++
		if enc != nil {
			if err := enc.Encode(r); err != nil {
				return err
			}
			continue
		}
		writeReportRow(w, r)
	}

	if w == nil {
		return nil
	}
	if err := w.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(out, "\nStreamed %d of %d reports\n", n, total)
	return nil
}

func runShow(ctx context.Context, out io.Writer, c *client.Client, id uint64, jsonOutput bool) error {
	r, err := c.GetReport(ctx, id)
	if err != nil {
		if client.IsNotFound(err) {
			return fmt.Errorf("report %d not found", id)
		}
		return err
	}

	if jsonOutput {
		return writeJSON(out, r)
	}

	fmt.Fprintf(out, "Report %d\n", r.ID)
	fmt.Fprintf(out, "  Status:    %s\n", r.Status)
	fmt.Fprintf(out, "  Domain:    %s\n", r.Domain)
	fmt.Fprintf(out, "  Accused:   %s\n", r.AccusedWallet)
	fmt.Fprintf(out, "  Reporter:  %s\n", r.Reporter)
	fmt.Fprintf(out, "  Evidence:  %s\n", r.EvidenceHash)
	fmt.Fprintf(out, "  Timestamp: %s\n", formatTimestamp(r.Timestamp))
	return nil
}

func runVerify(ctx context.Context, out io.Writer, c *client.Client, id uint64, reject bool) error {
	var resp *client.StatusChange
	var err error
	if reject {
		resp, err = c.RejectReport(ctx, id)
	} else {
		resp, err = c.VerifyReport(ctx, id)
	}
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "✅ %s\n", resp.Message)
	if resp.PreviousStatus != "" {
		fmt.Fprintf(out, "   %s -> %s\n", resp.PreviousStatus, resp.Status)
	}
	if resp.Receipt != nil {
		fmt.Fprintf(out, "   Tx: %s\n", resp.TxHash)
	}
	return nil
}

func runBans(ctx context.Context, out io.Writer, c *client.Client, wallet, domain string) error {
	bans, err := c.BanStatus(ctx, wallet, domain)
	if err != nil {
		return err
	}
	printBans(out, bans)
	return nil
}

func printBans(out io.Writer, bans *client.Bans) {
	if bans == nil {
		return
	}
	if bans.WalletBanned != nil {
		fmt.Fprintf(out, "   Wallet %s banned: %t\n", bans.Wallet, *bans.WalletBanned)
	}
	if bans.DomainBanned != nil {
		fmt.Fprintf(out, "   Domain %s banned: %t\n", bans.Domain, *bans.DomainBanned)
	}
}

func newReportTable(out io.Writer) *tabwriter.Writer {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTATUS\tDOMAIN\tACCUSED\tREPORTER\tTIMESTAMP")
	return w
}

func writeReportRow(w io.Writer, r client.Report) {
	fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\n",
		r.ID, r.Status, r.Domain, truncateAddress(r.AccusedWallet), truncateAddress(r.Reporter), formatTimestamp(r.Timestamp))
}

// truncateAddress shortens an address for display
func truncateAddress(addr string) string {
	if len(addr) <= 13 {
		return addr
	}
	return addr[:6] + "..." + addr[len(addr)-4:]
}

// formatTimestamp renders a unix seconds string in UTC, or returns it
// unchanged if it is not a number.
func formatTimestamp(ts string) string {
	secs, err := strconv.ParseInt(ts, 10, 64)
	if err != nil || secs <= 0 {
		return ts
	}
	return time.Unix(secs, 0).UTC().Format(time.RFC3339)
}

func writeJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
