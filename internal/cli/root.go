// Package cli 计量支付运维命令行
package cli

import (
	"context"
	"fmt"

	"github.com/bitfantasy/nimo-ipc/internal/bootstrap"
	"github.com/bitfantasy/nimo-ipc/internal/config"
	"github.com/bitfantasy/nimo-ipc/internal/shared/engine"
	"github.com/spf13/cobra"
)

// Opener 打开运行时依赖，返回的函数用于释放
type Opener func(ctx context.Context) (*bootstrap.App, func(), error)

// RootOptions 全局参数
type RootOptions struct {
	Format string // "json" | "text"
	Actor  string
	Open   Opener
}

// ValidFormats 支持的输出格式
var ValidFormats = []string{"text", "json"}

// NewRootCommand 使用配置文件与环境变量打开依赖
func NewRootCommand() *cobra.Command {
	return NewRootCommandWith(openFromConfig)
}

// NewRootCommandWith 指定依赖来源，测试中注入临时库
func NewRootCommandWith(open Opener) *cobra.Command {
	opts := &RootOptions{Open: open}

	cmd := &cobra.Command{
		Use:   "ipcctl",
		Short: "Interim payment certificate operations",
		Long:  "Operate the IPC billing engine: migrate the schema, inspect and export certificates, verify final accounts and relay ledger postings.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVar(&opts.Actor, "actor", "ipcctl", "actor id recorded on transitions")

	cmd.AddCommand(NewMigrateCommand(opts))
	cmd.AddCommand(NewCertificateCommand(opts))
	cmd.AddCommand(NewFinalAccountCommand(opts))
	cmd.AddCommand(NewLedgerCommand(opts))

	return cmd
}

func (o *RootOptions) actor() engine.Actor {
	return engine.Actor{ID: o.Actor, Name: o.Actor, Role: "system", Type: "system"}
}

func (o *RootOptions) formatter(cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{Format: o.Format, Writer: cmd.OutOrStdout()}
}

// withApp 打开依赖后执行 fn
func (o *RootOptions) withApp(cmd *cobra.Command, fn func(ctx context.Context, app *bootstrap.App) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	app, closeFn, err := o.Open(ctx)
	if err != nil {
		return WrapExitError(ExitCommandError, "open", err)
	}
	defer closeFn()
	return fn(ctx, app)
}

func openFromConfig(ctx context.Context) (*bootstrap.App, func(), error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	// 命令行只输出结果，日志降为 warn
	cfg.Log.Level = "warn"
	cfg.Log.Format = "console"
	zapLogger, err := bootstrap.InitLogger(cfg.Log)
	if err != nil {
		return nil, nil, err
	}
	app, err := bootstrap.New(ctx, cfg, zapLogger)
	if err != nil {
		return nil, nil, err
	}
	return app, app.Close, nil
}

func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}
