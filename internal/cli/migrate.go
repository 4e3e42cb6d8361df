package cli

import (
	"context"

	"github.com/bitfantasy/nimo-ipc/internal/bootstrap"
	"github.com/bitfantasy/nimo-ipc/internal/ipc/entity"
	"github.com/spf13/cobra"
)

// NewMigrateCommand 建表（打开依赖时已执行，重复执行无副作用）
func NewMigrateCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the IPC schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return rootOpts.withApp(cmd, func(ctx context.Context, app *bootstrap.App) error {
				if err := entity.AutoMigrate(app.DB.WithContext(ctx)); err != nil {
					return WrapExitError(ExitCommandError, "migrate", err)
				}
				return rootOpts.formatter(cmd).Print(
					map[string]string{"status": "migrated", "driver": app.DB.Dialector.Name()},
					[]Field{{"status", "migrated"}, {"driver", app.DB.Dialector.Name()}},
				)
			})
		},
	}
}
