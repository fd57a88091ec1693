package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pteprep/livevoice/pkg/practice"
	"github.com/spf13/cobra"
)

var (
	recordOut      string
	recordQuestion string
)

var recordCmd = &cobra.Command{
	Use:   "record",
	Short: "Run a timed prep and record drill and save the answer as WAV",
	Long: `record counts down the prep window, then records until the record window
runs out. Press Enter to skip the rest of prep or to finish early.

With --question, the timing comes from the question payload and repeat
sentence prompts are spoken before recording starts.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		timing := practice.Timing{Prep: cfg.Practice.PrepTime, Record: cfg.Practice.RecordTime}

		var q practice.Question
		if recordQuestion != "" {
			data, err := os.ReadFile(recordQuestion)
			if err != nil {
				return err
			}
			if q, err = practice.ParseQuestion(data); err != nil {
				return err
			}
			timing = q.Timing()
			if timing.Record == 0 {
				return fmt.Errorf("question %s (%s) has no spoken answer", q.QuestionID(), q.Kind())
			}
		}

		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.stop()

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		if err := showQuestion(ctx, a, q); err != nil {
			return err
		}

		drill := practice.NewDrill(a.studio, timing, logger)
		drill.OnTick = func(p practice.Phase, left time.Duration) {
			fmt.Printf("\r\033[K%-9s %4.0fs", p, left.Seconds())
		}
		go func() {
			sc := bufio.NewScanner(os.Stdin)
			for sc.Scan() {
				drill.Advance()
			}
		}()

		res, err := drill.Run(ctx)
		fmt.Println()
		if err != nil {
			if errors.Is(err, context.Canceled) {
				fmt.Println("Cancelled")
				return nil
			}
			return err
		}

		if err := os.WriteFile(recordOut, res.Blob.Data, 0o644); err != nil {
			return err
		}
		how := "finished early"
		if res.Expired {
			how = "time up"
		}
		fmt.Printf("Saved %s (%s, %s)\n", recordOut, res.Blob.Duration.Round(10*time.Millisecond), how)
		return nil
	},
}

func init() {
	recordCmd.Flags().StringVarP(&recordOut, "output", "o", "answer.wav", "output WAV file")
	recordCmd.Flags().StringVarP(&recordQuestion, "question", "q", "", "question payload (JSON)")
}

// showQuestion prints the task and speaks anything the candidate must hear
// before answering.
func showQuestion(ctx context.Context, a *app, q practice.Question) error {
	var spoken string
	switch q := q.(type) {
	case nil:
		return nil
	case *practice.ReadAloudQuestion:
		fmt.Printf("Read aloud:\n\n%s\n\n", q.Text)
	case *practice.DescribeImageQuestion:
		fmt.Printf("Describe the image at %s\n", q.ImageURL)
	case *practice.RepeatSentenceQuestion:
		fmt.Println("Listen, then repeat the sentence.")
		spoken = q.AudioText
	case *practice.RetellLectureQuestion:
		fmt.Println("Listen to the lecture, then retell it.")
		spoken = q.LectureText
	case *practice.ShortAnswerQuestion:
		spoken = q.Question
	}
	if spoken == "" {
		return nil
	}

	h, err := a.studio.PlayText(ctx, spoken)
	if err != nil {
		return err
	}
	select {
	case <-h.Done():
		return nil
	case <-ctx.Done():
		a.studio.StopPlayback()
		return ctx.Err()
	}
}
