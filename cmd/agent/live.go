package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/pteprep/livevoice/pkg/live"
	"github.com/spf13/cobra"
)

var showLevel bool

var liveCmd = &cobra.Command{
	Use:   "live",
	Short: "Talk to the model until Ctrl+C",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.stop()

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		go printEvents(a.studio.Events())
		if showLevel {
			go meter(ctx, a.pipeline.Level)
		}

		if err := a.studio.StartLiveSession(ctx); err != nil {
			return fmt.Errorf("start live session: %w", err)
		}
		fmt.Println("Connecting...")
		if err := a.studio.AwaitLive(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("live session: %w", err)
		}
		fmt.Println("Connected, press Ctrl+C to stop")

		<-ctx.Done()
		fmt.Printf("\nShutting down...\n")
		if err := a.studio.StopLiveSession(); err != nil {
			logger.Warn("stop live session", "error", err)
		}

		for i, t := range a.studio.LiveTranscript() {
			fmt.Printf("%2d  you:   %s\n    model: %s\n", i+1, t.User, t.Model)
		}
		return nil
	},
}

func init() {
	liveCmd.Flags().BoolVar(&showLevel, "level", false, "show the microphone level")
}

func printEvents(events <-chan live.Event) {
	for ev := range events {
		switch ev.Type {
		case live.StateChanged:
			fmt.Printf("\r\033[K[STATE] %v\n", ev.Data)
		case live.TranscriptPartial:
			p := ev.Data.(live.Partial)
			fmt.Printf("\r\033[K[...] you: %s | model: %s", p.User, p.Model)
		case live.TurnCompleted:
			t := ev.Data.(live.Turn)
			fmt.Printf("\r\033[K[TURN] you: %s\n       model: %s\n", t.User, t.Model)
		case live.InterruptedEvent:
			fmt.Printf("\r\033[K[INTERRUPTED] stopped %v chunks\n", ev.Data)
		case live.ErrorEvent:
			fmt.Printf("\r\033[K[ERROR] %v\n", ev.Data)
		}
	}
}

// meter redraws a microphone level bar until ctx ends.
func meter(ctx context.Context, level func() float64) {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l := level()
			dots := int(l * 500)
			if dots > 40 {
				dots = 40
			}
			fmt.Fprintf(os.Stderr, "\r[MIC %-40s] %.4f", strings.Repeat("|", dots), l)
		}
	}
}
