package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"mxprec/internal/prof"
	"mxprec/internal/version"
)

var rootCmd = &cobra.Command{
	Use:   "mxprec",
	Short: "Mixed-precision rewriting of IR modules",
	Long: `mxprec retypes float storage, operators and calls in an IR module
according to a change-record file and keeps every user of a retyped value
consistent with its new precision.`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: setupRun,
}

// exitError carries a process exit status without a message of its own;
// the diagnostics explaining it were already printed.
type exitError struct{ code int }

func (e *exitError) Error() string { return fmt.Sprintf("exit status %d", e.code) }

var errDiagnostics = &exitError{code: 1}

func main() {
	rootCmd.Version = version.Version()

	rootCmd.AddCommand(rewriteCmd)
	rootCmd.AddCommand(resolveCmd)
	rootCmd.AddCommand(createConfigCmd)
	rootCmd.AddCommand(lowerCmd)
	rootCmd.AddCommand(versionCmd)

	rootCmd.PersistentFlags().String("color", "auto", "colorize output (auto|on|off)")
	rootCmd.PersistentFlags().Bool("quiet", false, "suppress non-essential output")
	rootCmd.PersistentFlags().Bool("timings", false, "show timing information")
	rootCmd.PersistentFlags().Int("max-diagnostics", 100, "maximum number of diagnostics to show")
	rootCmd.PersistentFlags().String("trace", "", "trace output file (- for stderr)")
	rootCmd.PersistentFlags().String("trace-level", "off", "trace level (off|error|phase|detail|debug)")
	rootCmd.PersistentFlags().String("trace-mode", "ring", "trace storage (stream|ring|both)")
	rootCmd.PersistentFlags().String("trace-format", "auto", "trace event format (auto|text|ndjson)")
	rootCmd.PersistentFlags().Int("trace-ring-size", 4096, "events kept by the ring tracer")
	rootCmd.PersistentFlags().Duration("trace-heartbeat", 0, "emit a heartbeat event at this interval (0 disables)")
	rootCmd.PersistentFlags().String("cpu-profile", "", "write a CPU profile to this file")
	rootCmd.PersistentFlags().String("mem-profile", "", "write a heap profile to this file on exit")
	rootCmd.PersistentFlags().String("runtime-trace", "", "write a Go runtime trace to this file")

	err := rootCmd.Execute()
	finishRun()
	if err != nil {
		var ee *exitError
		if !errors.As(err, &ee) {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		os.Exit(ee.code)
	}
}

var (
	cleanupTrace   func()
	profileSession *prof.Session
)

// setupRun applies the color mode and the manifest, then starts tracing
// and profiling.
func setupRun(cmd *cobra.Command, _ []string) error {
	colorFlag, err := cmd.Root().PersistentFlags().GetString("color")
	if err != nil {
		return fmt.Errorf("failed to get color flag: %w", err)
	}
	switch colorFlag {
	case "on":
		color.NoColor = false
	case "off":
		color.NoColor = true
	case "auto":
		color.NoColor = !isTerminal(os.Stdout)
	default:
		return fmt.Errorf("invalid --color value %q (expected auto|on|off)", colorFlag)
	}

	m, err := loadManifest(".")
	if err != nil {
		return err
	}
	activeManifest = m
	if err := m.applyTrace(cmd.Root().PersistentFlags()); err != nil {
		return err
	}

	cleanupTrace, err = setupTracing(cmd)
	if err != nil {
		return err
	}
	profileSession, err = setupProfiling(cmd)
	return err
}

func finishRun() {
	if err := profileSession.Stop(); err != nil {
		fmt.Fprintf(os.Stderr, "profile: %v\n", err)
	}
	profileSession = nil
	if cleanupTrace != nil {
		cleanupTrace()
		cleanupTrace = nil
	}
}

func useColor(cmd *cobra.Command) bool {
	colorFlag, err := cmd.Root().PersistentFlags().GetString("color")
	if err != nil {
		return false
	}
	return colorFlag == "on" || (colorFlag == "auto" && isTerminal(os.Stderr))
}

func isTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}
