package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/llll-robotics/llll/internal/interfaces"
	"github.com/llll-robotics/llll/internal/session"
	"github.com/llll-robotics/llll/internal/types"
)

var runCmd = &cobra.Command{
	Use:   "run <program.py>",
	Short: "Compile, upload and run a program, streaming its output",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.close()

		hub, _ := cmd.Flags().GetString("hub")
		timeout, _ := cmd.Flags().GetDuration("timeout")
		jsonOut, _ := cmd.Flags().GetBool("json")

		var streamed chan struct{}
		if !jsonOut {
			streamed = streamOutput(a.lm.Streamer())
		}

		result := a.lm.Run(ctx, interfaces.RunRequest{
			Program: args[0],
			Hub:     hub,
			Timeout: timeout,
		})

		if jsonOut {
			if err := printJSON(result); err != nil {
				return err
			}
		} else {
			select {
			case <-streamed:
			case <-time.After(time.Second):
			}
			printSummary(result)
		}

		if !result.Succeeded() {
			return fmt.Errorf("run %s", result.Status)
		}
		return nil
	},
}

// streamOutput prints captured lines as they arrive. The returned channel
// closes once the result event has been seen.
func streamOutput(streamer *session.Streamer) chan struct{} {
	events := streamer.Subscribe(session.AllSessions)
	done := make(chan struct{})

	go func() {
		defer close(done)
		defer streamer.Unsubscribe(session.AllSessions, events)
		for e := range events {
			switch e.Type {
			case session.EventOutput:
				fmt.Println(e.Line)
			case session.EventResult:
				return
			}
		}
	}()
	return done
}

func printSummary(r *types.RunResult) {
	fmt.Fprintf(os.Stderr, "\n%s in %.1fs", r.Status, r.Duration.Seconds())
	if r.ExitCode != nil {
		fmt.Fprintf(os.Stderr, ", exit code %d", *r.ExitCode)
	}
	fmt.Fprintln(os.Stderr)
	if r.Truncated {
		fmt.Fprintf(os.Stderr, "output truncated, %d earlier lines dropped\n", r.DroppedLines)
	}
	if r.Error != nil {
		if r.Error.Line > 0 {
			fmt.Fprintf(os.Stderr, "%s at line %d: %s\n", r.Error.Kind, r.Error.Line, r.Error.Message)
		} else {
			fmt.Fprintf(os.Stderr, "%s: %s\n", r.Error.Kind, r.Error.Message)
		}
	}
	if r.LogFile != "" {
		fmt.Fprintf(os.Stderr, "log: %s\n", r.LogFile)
	}
}

func init() {
	runCmd.Flags().String("hub", "", "hub name or address (default: first recorded hub)")
	runCmd.Flags().Duration("timeout", 0, "stop the program after this long (default from llll.toml or config)")
	runCmd.Flags().Bool("json", false, "print the result as JSON instead of streaming output")
}
