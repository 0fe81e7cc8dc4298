package cmd

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/audiolibrelab/echoid/internal/fingerprinter"
	"github.com/audiolibrelab/echoid/internal/recognition"
	"github.com/audiolibrelab/echoid/internal/service"
)

var listenCmd = &cobra.Command{
	Use:   "listen",
	Short: "Record from the microphone and identify the song",
	Long: `Record from the microphone for the configured number of seconds (10 to 30),
generate an Echoprint code and look it up.

With --continuous, passes repeat until interrupted with Ctrl+C. The pass in
progress still reports its result before the command exits.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		seconds, _ := cmd.Flags().GetInt("seconds")
		continuous := cfg.Session.Continuous
		if cmd.Flags().Changed("continuous") {
			continuous, _ = cmd.Flags().GetBool("continuous")
		}

		svc, err := service.New(cfg, cfgFile, service.WithListener(newConsoleListener(os.Stdout)))
		if err != nil {
			return fmt.Errorf("failed to create service: %w", err)
		}
		defer svc.Close()

		if err := svc.Start(seconds, continuous); err != nil {
			return fmt.Errorf("failed to start: %w", err)
		}

		// Handle interruption
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		defer signal.Stop(sigChan)

		done := make(chan struct{})
		go func() {
			svc.Wait()
			close(done)
		}()

		select {
		case <-sigChan:
			slog.Info("Stopping, waiting for the current pass to finish...")
			svc.Stop()
			<-done
		case <-done:
		}

		if msg := svc.GetLastError(); msg != "" && !continuous {
			return fmt.Errorf("identification failed: %s", msg)
		}
		return nil
	},
}

func init() {
	listenCmd.Flags().IntP("seconds", "s", 0, "seconds to record per pass, clamped to 10-30 (default from config)")
	listenCmd.Flags().BoolP("continuous", "c", false, "keep identifying until interrupted (default from config)")
}

// consoleListener prints session progress as coloured status lines
type consoleListener struct {
	fingerprinter.NopListener

	out     io.Writer
	status  *color.Color
	match   *color.Color
	noMatch *color.Color
	failure *color.Color
}

func newConsoleListener(out io.Writer) *consoleListener {
	return &consoleListener{
		out:     out,
		status:  color.New(color.FgCyan),
		match:   color.New(color.FgGreen, color.Bold),
		noMatch: color.New(color.FgYellow),
		failure: color.New(color.FgRed),
	}
}

func (c *consoleListener) WillStartListeningPass() {
	c.status.Fprintln(c.out, service.ListeningText())
}

func (c *consoleListener) DidGenerateFingerprintCode(code string) {
	c.status.Fprintln(c.out, service.FetchingText(code))
}

func (c *consoleListener) DidFindMatchForCode(match recognition.Match, code string) {
	c.match.Fprint(c.out, service.MatchText(match))
}

func (c *consoleListener) DidNotFindMatchForCode(code string) {
	c.noMatch.Fprintln(c.out, service.NoMatchText(code))
}

func (c *consoleListener) DidFailWithError(err error) {
	c.failure.Fprintln(c.out, service.ErrorText(err))
}

func (c *consoleListener) DidFinishListening() {
	c.status.Fprintln(c.out, service.IdleText())
}
