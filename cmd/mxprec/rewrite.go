package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"mxprec/internal/driver"
)

var rewriteCmd = &cobra.Command{
	Use:   "rewrite [flags] <file.ll>...",
	Short: "Apply change records to IR modules",
	Long: `Apply the change records of --config to every given module.

With one input the result goes to --output, or to stdout when no output is
set. With several inputs --output names a directory; without it each result
is written next to its input as <name>.mxprec.ll.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runRewrite,
}

func init() {
	rewriteCmd.Flags().String("config", "", "change-record file (.json, .yaml)")
	rewriteCmd.Flags().StringP("output", "o", "", "output file, or directory for several inputs")
	rewriteCmd.Flags().Int("jobs", 0, "max parallel sessions (0=auto)")
	rewriteCmd.Flags().Bool("strict", false, "fail a request on a consumer without a rewrite rule")
	rewriteCmd.Flags().Bool("delete-unhandled", false, "delete consumers without a rewrite rule instead of converting back")
	rewriteCmd.Flags().Bool("lower", false, "run precision lowering after the rewrite")
	rewriteCmd.Flags().Bool("no-cache", false, "disable the result cache")
	rewriteCmd.Flags().String("ui", "auto", "progress UI for several inputs (auto|on|off)")
	rewriteCmd.Flags().String("format", "text", "diagnostic format (text|json)")
}

func runRewrite(cmd *cobra.Command, args []string) error {
	flags := cmd.Flags()
	if err := activeManifest.applyRewrite(flags); err != nil {
		return err
	}

	cfgPath, err := flags.GetString("config")
	if err != nil {
		return fmt.Errorf("failed to get config flag: %w", err)
	}
	if cfgPath == "" {
		return errors.New("no change records: pass --config or set rewrite.config in " + manifestName)
	}
	output, err := flags.GetString("output")
	if err != nil {
		return fmt.Errorf("failed to get output flag: %w", err)
	}
	jobs, err := flags.GetInt("jobs")
	if err != nil {
		return fmt.Errorf("failed to get jobs flag: %w", err)
	}
	strict, err := flags.GetBool("strict")
	if err != nil {
		return fmt.Errorf("failed to get strict flag: %w", err)
	}
	deleteUnhandled, err := flags.GetBool("delete-unhandled")
	if err != nil {
		return fmt.Errorf("failed to get delete-unhandled flag: %w", err)
	}
	doLower, err := flags.GetBool("lower")
	if err != nil {
		return fmt.Errorf("failed to get lower flag: %w", err)
	}
	noCache, err := flags.GetBool("no-cache")
	if err != nil {
		return fmt.Errorf("failed to get no-cache flag: %w", err)
	}
	uiValue, err := flags.GetString("ui")
	if err != nil {
		return fmt.Errorf("failed to get ui flag: %w", err)
	}
	mode, err := readUIMode(uiValue)
	if err != nil {
		return err
	}
	format, err := flags.GetString("format")
	if err != nil {
		return fmt.Errorf("failed to get format flag: %w", err)
	}
	report, err := readReportOptions(cmd, format)
	if err != nil {
		return err
	}
	timings, err := cmd.Root().PersistentFlags().GetBool("timings")
	if err != nil {
		return fmt.Errorf("failed to get timings flag: %w", err)
	}

	opts := driver.Options{
		ConfigPath:      cfgPath,
		Strict:          strict,
		DeleteUnhandled: deleteUnhandled,
		Lower:           doLower,
		MaxDiagnostics:  report.max,
		Timings:         timings,
		Jobs:            jobs,
	}
	if !noCache {
		cache, err := driver.OpenDiskCache("mxprec")
		if err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "warning: result cache disabled: %v\n", err)
		}
		opts.Cache = cache
	}

	toStdout := len(args) == 1 && (output == "" || output == "-")
	var batch *driver.Batch
	if len(args) > 1 && !toStdout && shouldUseTUI(mode) {
		batch, err = runBatchWithUI(cmd.Context(), args, opts)
	} else {
		batch, err = driver.RewriteFiles(cmd.Context(), args, opts, nil)
	}
	if err != nil {
		return err
	}
	report.runID = batch.RunID

	failed := false
	for _, res := range batch.Results {
		if err := printDiagnostics(cmd.ErrOrStderr(), res.Bag, res.FileSet, report); err != nil {
			return err
		}
		if res.Failed() {
			failed = true
		}
		if res.Output == "" {
			continue
		}
		if err := writeResult(cmd.OutOrStdout(), res, output, len(args) > 1); err != nil {
			return err
		}
		if !report.quiet && !toStdout {
			fmt.Fprintf(cmd.ErrOrStderr(), "%s: %s\n", res.Path, summarize(res))
		}
	}
	if failed {
		return errDiagnostics
	}
	return nil
}

// writeResult stores res according to the output rules of the command.
func writeResult(stdout io.Writer, res *driver.Result, output string, many bool) error {
	var dst string
	switch {
	case !many && (output == "" || output == "-"):
		_, err := io.WriteString(stdout, res.Output)
		return err
	case !many:
		dst = output
	case output != "":
		if err := os.MkdirAll(output, 0o755); err != nil {
			return err
		}
		dst = filepath.Join(output, filepath.Base(res.Path))
	default:
		dst = strings.TrimSuffix(res.Path, filepath.Ext(res.Path)) + ".mxprec.ll"
	}
	return writeFileAtomic(dst, []byte(res.Output))
}

func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".mxprec-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

func summarize(res *driver.Result) string {
	applied, noop, failed := 0, 0, 0
	for _, o := range res.Outcomes {
		switch {
		case o.Err != "":
			failed++
		case o.NoOp:
			noop++
		default:
			applied++
		}
	}
	s := fmt.Sprintf("%d applied, %d unchanged, %d failed", applied, noop, failed)
	if res.Lowered.Lowered > 0 {
		s += fmt.Sprintf(", %d operators lowered", res.Lowered.Lowered)
	}
	if res.Cached {
		s += " (cached)"
	}
	return s
}
