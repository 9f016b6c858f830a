package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

const maxWatchBackoff = time.Hour

// nextWatchBackoff doubles the wait after a failed pass, capped at
// maxWatchBackoff, and resets to the base interval after a success.
func nextWatchBackoff(current, base time.Duration, failed bool) time.Duration {
	if !failed {
		return base
	}
	next := current * 2
	if next > maxWatchBackoff {
		next = maxWatchBackoff
	}
	return next
}

// watchDeck polls a deck and processes notes that have not been handled
// yet. Errors back off exponentially up to an hour; successful passes
// reset to the base interval.
func (app *App) watchDeck(ctx context.Context, deckName, noteTypeName string, interval time.Duration) error {
	if interval <= 0 {
		interval = 30 * time.Second
	}

	log.Infof("Watching deck %q (note type %q), polling every %v", deckName, noteTypeName, interval)

	backoff := interval
	for {
		summary, err := app.ProcessDeck(ctx, deckName, noteTypeName)
		switch {
		case ctx.Err() != nil:
			log.Info("Watch stopped")
			return nil
		case err != nil:
			log.Errorf("Watch pass failed: %v", err)
			backoff = nextWatchBackoff(backoff, interval, true)
			if backoff == maxWatchBackoff {
				log.Warnf("Repeated watch failures, backing off for %v", maxWatchBackoff)
			}
		default:
			if summary.Processed > 0 {
				log.Infof("Watch pass processed %d notes (%d failed)", summary.Processed, summary.Failed)
			}
			backoff = nextWatchBackoff(backoff, interval, false)
		}

		select {
		case <-ctx.Done():
			log.Info("Watch stopped")
			return nil
		case <-time.After(backoff):
		}
	}
}

func runWatch(cmd *cobra.Command, args []string) error {
	app, err := newApp(ProcessOptions{
		SkipAudio:     flagSkipAudio,
		SkipFrequency: flagSkipFrequency,
		SkipInvalid:   true,
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := app.Initialize(ctx); err != nil {
		return err
	}

	deck, noteType, err := resolveTarget(ctx, app)
	if err != nil {
		return err
	}
	if _, ok := noteTypeConfigs[noteType]; !ok {
		return fmt.Errorf("unsupported note type %q", noteType)
	}

	return app.watchDeck(ctx, deck, noteType, flagWatchInterval)
}
