package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"mxprec/internal/config"
)

var createConfigCmd = &cobra.Command{
	Use:   "create-config [flags] <file.ll>",
	Short: "Write a change-record file listing the retypable values of a module",
	Long: `Write a change-record file with one record per float global, local,
tagged operator and tagged call of a module, each carrying its current type.
Edit the types and pass the file to rewrite --config.`,
	Args: cobra.ExactArgs(1),
	RunE: runCreateConfig,
}

func init() {
	f := createConfigCmd.Flags()
	f.Bool("ops", false, "list tagged float operators")
	f.StringSlice("funs", nil, "list tagged calls to these functions")
	f.Bool("only-scalars", false, "skip arrays")
	f.Bool("only-arrays", false, "skip scalars")
	f.StringSlice("include-globals", nil, "only list these globals")
	f.StringSlice("exclude-locals", nil, "skip these locals")
	f.StringSlice("include-funcs", nil, "only list values of these functions")
	f.StringSlice("exclude-funcs", nil, "skip values of these functions")
	f.StringP("output", "o", "", "output file; the extension picks json or yaml (default stdout)")
	f.String("format", "", "output format when writing to stdout (json|yaml)")
}

func runCreateConfig(cmd *cobra.Command, args []string) error {
	f := cmd.Flags()
	var (
		opts config.GenerateOptions
		err  error
	)
	if opts.Ops, err = f.GetBool("ops"); err != nil {
		return fmt.Errorf("failed to get ops flag: %w", err)
	}
	if opts.Funs, err = f.GetStringSlice("funs"); err != nil {
		return fmt.Errorf("failed to get funs flag: %w", err)
	}
	if opts.OnlyScalars, err = f.GetBool("only-scalars"); err != nil {
		return fmt.Errorf("failed to get only-scalars flag: %w", err)
	}
	if opts.OnlyArrays, err = f.GetBool("only-arrays"); err != nil {
		return fmt.Errorf("failed to get only-arrays flag: %w", err)
	}
	if opts.OnlyScalars && opts.OnlyArrays {
		return fmt.Errorf("only-scalars and only-arrays cannot be used together")
	}
	if opts.IncludeGlobals, err = f.GetStringSlice("include-globals"); err != nil {
		return fmt.Errorf("failed to get include-globals flag: %w", err)
	}
	if opts.ExcludeLocals, err = f.GetStringSlice("exclude-locals"); err != nil {
		return fmt.Errorf("failed to get exclude-locals flag: %w", err)
	}
	if opts.IncludeFuncs, err = f.GetStringSlice("include-funcs"); err != nil {
		return fmt.Errorf("failed to get include-funcs flag: %w", err)
	}
	if opts.ExcludeFuncs, err = f.GetStringSlice("exclude-funcs"); err != nil {
		return fmt.Errorf("failed to get exclude-funcs flag: %w", err)
	}
	output, err := f.GetString("output")
	if err != nil {
		return fmt.Errorf("failed to get output flag: %w", err)
	}
	formatStr, err := f.GetString("format")
	if err != nil {
		return fmt.Errorf("failed to get format flag: %w", err)
	}
	format := config.FormatFor(output)
	switch strings.ToLower(formatStr) {
	case "":
	case "json":
		format = config.FormatJSON
	case "yaml", "yml":
		format = config.FormatYAML
	default:
		return fmt.Errorf("unsupported format %q (must be json or yaml)", formatStr)
	}
	report, err := readReportOptions(cmd, "text")
	if err != nil {
		return err
	}

	l, err := loadForCommand(cmd, args[0], report)
	if err != nil {
		return err
	}
	doc, err := config.Generate(cmd.Context(), l.Module, opts)
	if err != nil {
		return err
	}

	var w io.Writer = cmd.OutOrStdout()
	if output != "" && output != "-" {
		file, err := os.Create(output)
		if err != nil {
			return err
		}
		defer file.Close()
		w = file
	}
	if err := doc.Encode(w, format); err != nil {
		return err
	}
	if !report.quiet && w != cmd.OutOrStdout() {
		fmt.Fprintf(cmd.ErrOrStderr(), "%s: %d records\n", output, doc.Len())
	}
	return nil
}
