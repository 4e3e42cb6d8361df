package cli

import (
	"context"
	"strconv"
	"strings"

	"github.com/bitfantasy/nimo-ipc/internal/bootstrap"
	"github.com/bitfantasy/nimo-ipc/internal/ipc/service"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

// NewFinalAccountCommand 最终结算核对与关闭
func NewFinalAccountCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "final-account",
		Aliases: []string{"fa"},
		Short:   "Close and verify contract final accounts",
	}
	cmd.AddCommand(newFinalAccountVerifyCommand(rootOpts))
	cmd.AddCommand(newFinalAccountCloseCommand(rootOpts))
	return cmd
}

func newFinalAccountVerifyCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "verify <contract-id>",
		Short: "Recompute the final amount due from certificate lines",
		Long:  "Recompute the final amount due from the counted certificates and compare it with the stored total. Exits 1 on mismatch.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return rootOpts.withApp(cmd, func(ctx context.Context, app *bootstrap.App) error {
				report, err := app.Services.FinalAccount.Verify(ctx, args[0])
				if err != nil {
					return err
				}
				fields := []Field{
					{"contract", report.ContractID},
					{"stored amount due", service.FormatAmount(report.StoredAmountDue)},
					{"recomputed amount due", service.FormatAmount(report.RecomputedAmountDue)},
					{"matches", strconv.FormatBool(report.Matches)},
				}
				for _, m := range report.CertificateMismatches {
					fields = append(fields, Field{"mismatch", m})
				}
				for _, w := range report.ConservationWarnings {
					fields = append(fields, Field{"warning", w})
				}
				if err := rootOpts.formatter(cmd).Print(report, fields); err != nil {
					return err
				}
				if !report.Matches {
					return NewExitError(ExitFailure, "final account does not reconcile")
				}
				return nil
			})
		},
	}
}

func newFinalAccountCloseCommand(rootOpts *RootOptions) *cobra.Command {
	var release string
	var bonuses, penalties []string
	cmd := &cobra.Command{
		Use:   "close <contract-id>",
		Short: "Fold settled certificates into a draft final account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := &service.CloseFinalAccountRequest{}
			if release != "" {
				pct, err := decimal.NewFromString(release)
				if err != nil {
					return WrapExitError(ExitCommandError, "--release", err)
				}
				req.RetentionReleasePercentage = &pct
			}
			for _, arg := range bonuses {
				adj, err := parseAdjustment("bonus", arg)
				if err != nil {
					return err
				}
				req.Adjustments = append(req.Adjustments, adj)
			}
			for _, arg := range penalties {
				adj, err := parseAdjustment("penalty", arg)
				if err != nil {
					return err
				}
				req.Adjustments = append(req.Adjustments, adj)
			}

			return rootOpts.withApp(cmd, func(ctx context.Context, app *bootstrap.App) error {
				view, err := app.Services.FinalAccount.Close(ctx, args[0], req, rootOpts.actor())
				if err != nil {
					return err
				}
				return rootOpts.formatter(cmd).Print(view, []Field{
					{"status", view.Status},
					{"certificates", strconv.Itoa(view.CertificateCount)},
					{"total net", service.FormatAmount(view.TotalNet)},
					{"retention held", service.FormatAmount(view.RetentionHeld)},
					{"retention released", service.FormatAmount(view.RetentionReleased)},
					{"bonuses", service.FormatAmount(view.Bonuses)},
					{"penalties", service.FormatAmount(view.Penalties)},
					{"final amount due", service.FormatAmount(view.FinalAmountDue)},
					{"amount paid", service.FormatAmount(view.AmountPaid)},
					{"balance due", service.FormatAmount(view.BalanceDue)},
				})
			})
		},
	}
	cmd.Flags().StringVar(&release, "release", "", "retention release percentage 0..1 (default: release all)")
	cmd.Flags().StringArrayVar(&bonuses, "bonus", nil, "bonus as REF=AMOUNT, repeatable")
	cmd.Flags().StringArrayVar(&penalties, "penalty", nil, "penalty as REF=AMOUNT, repeatable")
	return cmd
}

// parseAdjustment 解析 REF=AMOUNT
func parseAdjustment(kind, arg string) (service.AdjustmentInput, error) {
	ref, raw, ok := strings.Cut(arg, "=")
	if !ok {
		return service.AdjustmentInput{}, NewExitError(ExitCommandError, "--"+kind+" must be REF=AMOUNT, got "+arg)
	}
	amount, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return service.AdjustmentInput{}, WrapExitError(ExitCommandError, "--"+kind+" "+arg, err)
	}
	return service.AdjustmentInput{Type: kind, Reference: strings.TrimSpace(ref), Amount: &amount}, nil
}
