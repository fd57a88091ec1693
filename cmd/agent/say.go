package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
)

var sayCmd = &cobra.Command{
	Use:   "say [text...]",
	Short: "Speak text through Gemini TTS",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.stop()

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		h, err := a.studio.PlayText(ctx, strings.Join(args, " "))
		if err != nil {
			return err
		}
		select {
		case <-h.Done():
		case <-ctx.Done():
			a.studio.StopPlayback()
			fmt.Println()
		}
		return nil
	},
}
