package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/bitfantasy/nimo-ipc/internal/shared/apperr"
)

// 退出码
const (
	ExitSuccess      = 0
	ExitFailure      = 1 // 核对不一致、业务规则拒绝
	ExitCommandError = 2 // 配置、连接、参数错误
)

// ExitError 带退出码的错误
type ExitError struct {
	Code    int
	Message string
	Err     error
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

func NewExitError(code int, message string) *ExitError {
	return &ExitError{Code: code, Message: message}
}

func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode 业务错误返回 ExitFailure，依赖与未找到返回 ExitCommandError
func GetExitCode(err error) int {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	switch apperr.Category(err) {
	case apperr.ErrDependency, apperr.ErrNotFound:
		return ExitCommandError
	}
	return ExitFailure
}

// OutputFormatter json 或对齐文本输出
type OutputFormatter struct {
	Format string
	Writer io.Writer
}

// Field 文本模式下的一行
type Field struct {
	Label string
	Value string
}

// Print json 模式输出 data，文本模式输出 fields
func (f *OutputFormatter) Print(data interface{}, fields []Field) error {
	if f.Format == "json" {
		enc := json.NewEncoder(f.Writer)
		enc.SetIndent("", "  ")
		return enc.Encode(data)
	}
	tw := tabwriter.NewWriter(f.Writer, 0, 4, 2, ' ', 0)
	for _, field := range fields {
		fmt.Fprintf(tw, "%s\t%s\n", field.Label, field.Value)
	}
	return tw.Flush()
}

// Table 文本模式下的表格
func (f *OutputFormatter) Table(data interface{}, header []string, rows [][]string) error {
	if f.Format == "json" {
		return f.Print(data, nil)
	}
	tw := tabwriter.NewWriter(f.Writer, 0, 4, 2, ' ', 0)
	writeRow(tw, header)
	for _, row := range rows {
		writeRow(tw, row)
	}
	return tw.Flush()
}

func writeRow(w io.Writer, cols []string) {
	for i, c := range cols {
		if i > 0 {
			fmt.Fprint(w, "\t")
		}
		fmt.Fprint(w, c)
	}
	fmt.Fprintln(w)
}
