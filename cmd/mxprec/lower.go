package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"mxprec/internal/diag"
	"mxprec/internal/ir"
	"mxprec/internal/lower"
	"mxprec/internal/source"
)

var lowerCmd = &cobra.Command{
	Use:   "lower [flags] <file.ll>",
	Short: "Run precision lowering on a module",
	Args:  cobra.ExactArgs(1),
	RunE:  runLower,
}

func init() {
	lowerCmd.Flags().StringP("output", "o", "", "output file (default stdout)")
}

func runLower(cmd *cobra.Command, args []string) error {
	output, err := cmd.Flags().GetString("output")
	if err != nil {
		return fmt.Errorf("failed to get output flag: %w", err)
	}
	report, err := readReportOptions(cmd, "text")
	if err != nil {
		return err
	}

	l, err := loadForCommand(cmd, args[0], report)
	if err != nil {
		return err
	}
	rep := &diag.BagReporter{Bag: l.Bag}
	st := lower.Lower(cmd.Context(), l.Module, rep)
	if err := ir.Verify(l.Module); err != nil {
		diag.ReportError(rep, diag.PrsVerifyFailed, source.Span{}, err.Error()).Emit()
	}
	if err := printDiagnostics(cmd.ErrOrStderr(), l.Bag, l.FileSet, report); err != nil {
		return err
	}
	if l.Bag.HasErrors() {
		return errDiagnostics
	}

	if output == "" || output == "-" {
		if err := ir.Print(cmd.OutOrStdout(), l.Module); err != nil {
			return err
		}
	} else if err := writeFileAtomic(output, []byte(l.Module.String())); err != nil {
		return err
	}
	if !report.quiet && output != "" && output != "-" {
		fmt.Fprintf(cmd.ErrOrStderr(), "%s: %d operators lowered, %d instructions removed\n", output, st.Lowered, st.Erased)
	}
	return nil
}
