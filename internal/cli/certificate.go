package cli

import (
	"context"
	"fmt"
	"path/filepath"
	"strconv"

	"github.com/bitfantasy/nimo-ipc/internal/bootstrap"
	"github.com/bitfantasy/nimo-ipc/internal/ipc/repository"
	"github.com/bitfantasy/nimo-ipc/internal/ipc/service"
	"github.com/spf13/cobra"
)

// NewCertificateCommand 证书查看与导出
func NewCertificateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "certificate",
		Aliases: []string{"ipc"},
		Short:   "Inspect and export interim payment certificates",
	}
	cmd.AddCommand(newCertificateShowCommand(rootOpts))
	cmd.AddCommand(newCertificateExportCommand(rootOpts))
	return cmd
}

func newCertificateShowCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show <certificate-id>",
		Short: "Print a certificate's amounts and approval state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return rootOpts.withApp(cmd, func(ctx context.Context, app *bootstrap.App) error {
				view, err := app.Services.Query.GetCertificate(ctx, args[0])
				if err != nil {
					return err
				}
				contract, err := repository.NewContractRepository(app.DB).FindByID(ctx, view.ContractID)
				if err != nil {
					return err
				}
				fields := []Field{
					{"code", view.Code},
					{"contract", contract.Code},
					{"sequence", strconv.Itoa(view.Sequence)},
					{"status", view.Status},
					{"period", view.PeriodStart.Format("2006-01-02") + " .. " + view.PeriodEnd.Format("2006-01-02")},
					{"gross", service.FormatAmount(view.GrossAmount)},
					{"retention", service.FormatAmount(view.RetentionAmount)},
					{"advance recovery", service.FormatAmount(view.AdvanceRecoveryAmount)},
					{"price adjustment", service.FormatAmount(view.PriceAdjustmentAmount)},
					{"vat", service.FormatAmount(view.VATAmount)},
					{"net", service.FormatAmount(view.NetAmount)},
					{"net in words", service.AmountInWords(view.NetAmount, contract.Currency)},
					{"approval round", strconv.Itoa(view.ApprovalRound)},
				}
				for _, a := range view.Approvals {
					fields = append(fields, Field{
						Label: fmt.Sprintf("level %d", a.ApprovalLevel),
						Value: fmt.Sprintf("%s by %s (round %d)", a.Decision, a.ApproverID, a.Round),
					})
				}
				return rootOpts.formatter(cmd).Print(view, fields)
			})
		},
	}
}

func newCertificateExportCommand(rootOpts *RootOptions) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "export <certificate-id>",
		Short: "Write a certificate workbook (xlsx)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return rootOpts.withApp(cmd, func(ctx context.Context, app *bootstrap.App) error {
				f, name, err := app.Services.Export.Certificate(ctx, args[0])
				if err != nil {
					return err
				}
				defer f.Close()

				path := output
				if path == "" {
					path = name
				} else if filepath.Ext(path) == "" {
					path = filepath.Join(path, name)
				}
				if err := f.SaveAs(path); err != nil {
					return WrapExitError(ExitCommandError, "save workbook", err)
				}
				return rootOpts.formatter(cmd).Print(
					map[string]string{"file": path},
					[]Field{{"file", path}},
				)
			})
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "output file or directory (default: certificate code in the working directory)")
	return cmd
}
