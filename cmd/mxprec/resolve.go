package main

import (
	"encoding/json"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"mxprec/internal/diag"
	"mxprec/internal/driver"
)

var resolveCmd = &cobra.Command{
	Use:   "resolve [flags] <file.ll>",
	Short: "Print the resolved pointee type of every pointer",
	Long: `Print the (base type, depth) pair the resolver infers for every
pointer-typed global, argument and local of a module.`,
	Args: cobra.ExactArgs(1),
	RunE: runResolve,
}

func init() {
	resolveCmd.Flags().String("func", "", "only list values of this function")
	resolveCmd.Flags().String("format", "text", "output format (text|json|yaml)")
}

func runResolve(cmd *cobra.Command, args []string) error {
	fn, err := cmd.Flags().GetString("func")
	if err != nil {
		return fmt.Errorf("failed to get func flag: %w", err)
	}
	format, err := cmd.Flags().GetString("format")
	if err != nil {
		return fmt.Errorf("failed to get format flag: %w", err)
	}
	format = strings.ToLower(format)
	report, err := readReportOptions(cmd, "text")
	if err != nil {
		return err
	}

	l, err := loadForCommand(cmd, args[0], report)
	if err != nil {
		return err
	}
	if fn != "" && l.Module.Func(fn) == nil {
		return fmt.Errorf("no function @%s in %s", fn, args[0])
	}
	infos := driver.ResolvePointers(cmd.Context(), l.Module, fn, &diag.BagReporter{Bag: l.Bag})

	out := cmd.OutOrStdout()
	switch format {
	case "json":
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		err = enc.Encode(infos)
	case "yaml":
		enc := yaml.NewEncoder(out)
		enc.SetIndent(2)
		if err = enc.Encode(infos); err == nil {
			err = enc.Close()
		}
	case "text":
		tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		for _, info := range infos {
			scope := "@" + info.Function
			if info.Function == "" {
				scope = "(global)"
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\n", scope, info.Value, info.Type)
		}
		err = tw.Flush()
	default:
		return fmt.Errorf("unsupported format %q (must be text, json or yaml)", format)
	}
	if err != nil {
		return err
	}
	if err := printDiagnostics(cmd.ErrOrStderr(), l.Bag, l.FileSet, report); err != nil {
		return err
	}
	if l.Bag.HasErrors() {
		return errDiagnostics
	}
	return nil
}
