package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"photo-indexer/internal/pipeline"
)

func newScanCommand(ctx *commandContext) *cobra.Command {
	var full bool

	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Run one pipeline pass and wait for it to finish",
		Long: `Run one pipeline pass in the foreground.

A library scan reconciles the index with the library and processes new
photos. With --full the city dataset is imported first when missing.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}

			runCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := openApp(runCtx, cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			kind := pipeline.LibraryScan
			if full {
				kind = pipeline.FullScan
			}
			return runScan(runCtx, a.orchestrator, kind, cmd.OutOrStdout())
		},
	}

	cmd.Flags().BoolVar(&full, "full", false, "Run the full pipeline including the city import")
	return cmd
}

// scanRunner is the orchestrator surface the scan command drives.
type scanRunner interface {
	Run(ctx context.Context, kind pipeline.Kind) (pipeline.RunSummary, error)
	Subscribe() (<-chan pipeline.Progress, func())
}

func runScan(ctx context.Context, runner scanRunner, kind pipeline.Kind, out io.Writer) error {
	events, unsubscribe := runner.Subscribe()
	printer := newProgressPrinter(out)
	rendered := make(chan struct{})
	go func() {
		defer close(rendered)
		for ev := range events {
			printer.update(ev)
		}
	}()

	summary, err := runner.Run(ctx, kind)
	unsubscribe()
	<-rendered
	printer.finish()

	if errors.Is(err, pipeline.ErrAlreadyRunning) {
		return fmt.Errorf("scan not started: %w", err)
	}
	if summary.RunID != "" {
		fmt.Fprintf(out, "Run %s: %s in %v\n", summary.RunID, summary.Result,
			summary.FinishedAt.Sub(summary.StartedAt).Round(time.Millisecond))
	}
	if err != nil {
		if summary.FailedStage != "" {
			return fmt.Errorf("stage %s: %w", summary.FailedStage, err)
		}
		return err
	}
	return nil
}

// progressPrinter renders pipeline progress. On a terminal it redraws a
// single line; otherwise it prints one line per stage change, outcome and
// ten percent step.
type progressPrinter struct {
	out   io.Writer
	tty   bool
	width int

	stage       string
	lastPercent int
	drawn       bool
}

func newProgressPrinter(out io.Writer) *progressPrinter {
	p := &progressPrinter{out: out, lastPercent: -1}
	if f, ok := out.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		p.tty = true
		if w, _, err := term.GetSize(int(f.Fd())); err == nil && w > 0 {
			p.width = w
		}
	}
	return p
}

func (p *progressPrinter) update(ev pipeline.Progress) {
	label := ev.Label
	if label == "" {
		label = ev.Stage
	}

	if ev.Outcome != "" {
		p.endLine()
		fmt.Fprintf(p.out, "%s: %s\n", label, strings.ReplaceAll(string(ev.Outcome), "_", " "))
		p.stage = ""
		p.lastPercent = -1
		return
	}

	if p.tty {
		p.draw(fmt.Sprintf("%-20s %3d%%", label, ev.Percent))
		return
	}
	if ev.Stage != p.stage || ev.Percent/10 > p.lastPercent/10 {
		fmt.Fprintf(p.out, "%s %d%%\n", label, ev.Percent)
		p.stage = ev.Stage
		p.lastPercent = ev.Percent
	}
}

func (p *progressPrinter) draw(line string) {
	if !p.tty {
		return
	}
	if p.width > 0 && len(line) >= p.width {
		line = line[:p.width-1]
	}
	fmt.Fprintf(p.out, "\r\033[K%s", line)
	p.drawn = true
}

func (p *progressPrinter) endLine() {
	if p.drawn {
		fmt.Fprint(p.out, "\r\033[K")
		p.drawn = false
	}
}

func (p *progressPrinter) finish() {
	p.endLine()
}
