package cli

import (
	"context"
	"strconv"

	"github.com/bitfantasy/nimo-ipc/internal/bootstrap"
	"github.com/spf13/cobra"
)

// NewLedgerCommand 过账发件箱
func NewLedgerCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ledger",
		Short: "Ledger posting outbox",
	}
	cmd.AddCommand(newLedgerRelayCommand(rootOpts))
	return cmd
}

func newLedgerRelayCommand(rootOpts *RootOptions) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "relay",
		Short: "Deliver pending postings to the general ledger",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return rootOpts.withApp(cmd, func(ctx context.Context, app *bootstrap.App) error {
				if limit <= 0 && app.Config != nil {
					limit = app.Config.Ledger.BatchSize
				}
				res, err := app.Services.Relay.Relay(ctx, limit)
				if err != nil {
					return err
				}
				if err := rootOpts.formatter(cmd).Print(res, []Field{
					{"dispatched", strconv.Itoa(res.Dispatched)},
					{"failed", strconv.Itoa(res.Failed)},
				}); err != nil {
					return err
				}
				if res.Failed > 0 {
					return NewExitError(ExitFailure, strconv.Itoa(res.Failed)+" postings failed, will retry")
				}
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum postings to deliver (default: ledger.batch_size)")
	return cmd
}
