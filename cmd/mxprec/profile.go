package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"mxprec/internal/prof"
)

func setupProfiling(cmd *cobra.Command) (*prof.Session, error) {
	flags := cmd.Root().PersistentFlags()
	var opts prof.Options
	var err error
	if opts.CPU, err = flags.GetString("cpu-profile"); err != nil {
		return nil, err
	}
	if opts.Heap, err = flags.GetString("mem-profile"); err != nil {
		return nil, err
	}
	if opts.Trace, err = flags.GetString("runtime-trace"); err != nil {
		return nil, err
	}
	s, err := prof.Start(opts)
	if err != nil {
		return nil, fmt.Errorf("start profiling: %w", err)
	}
	return s, nil
}
