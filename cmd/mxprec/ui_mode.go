package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"mxprec/internal/driver"
	"mxprec/internal/ui"
)

type uiMode string

const (
	uiModeAuto uiMode = "auto"
	uiModeOn   uiMode = "on"
	uiModeOff  uiMode = "off"
)

func readUIMode(value string) (uiMode, error) {
	switch strings.TrimSpace(strings.ToLower(value)) {
	case "", "auto":
		return uiModeAuto, nil
	case "on":
		return uiModeOn, nil
	case "off":
		return uiModeOff, nil
	default:
		return "", fmt.Errorf("invalid --ui value %q (expected auto|on|off)", value)
	}
}

func shouldUseTUI(mode uiMode) bool {
	switch mode {
	case uiModeOn:
		return true
	case uiModeOff:
		return false
	default:
		return isTerminal(os.Stdout)
	}
}

type batchOutcome struct {
	batch *driver.Batch
	err   error
}

// runBatchWithUI runs the batch while the progress view consumes its events.
func runBatchWithUI(ctx context.Context, files []string, opts driver.Options) (*driver.Batch, error) {
	events := make(chan driver.Event, 256)
	outcomeCh := make(chan batchOutcome, 1)

	go func() {
		batch, err := driver.RewriteFiles(ctx, files, opts, driver.ChannelSink{Ch: events})
		outcomeCh <- batchOutcome{batch: batch, err: err}
		close(events)
	}()

	uiErr := ui.Run(fmt.Sprintf("rewriting %d files", len(files)), files, events)
	go func() {
		for range events {
		}
	}()
	outcome := <-outcomeCh
	if uiErr != nil {
		return outcome.batch, uiErr
	}
	return outcome.batch, outcome.err
}
