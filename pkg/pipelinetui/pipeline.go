package pipelinetui

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/macropower/helmbuild/pkg/log"
	"github.com/macropower/helmbuild/pkg/pipeline"
)

// Runner runs pipeline stages and reports progress as events.
type Runner interface {
	Run(ctx context.Context, target pipeline.Stage) error
	Subscribe(f func(any))
}

// PipelineTUI runs a [Runner] behind a [StageModel].
type PipelineTUI struct {
	runner Runner
	p      *tea.Program
	w      io.Writer
}

// NewPipelineTUI creates a [PipelineTUI] writing to w. The default
// [slog.Logger] is replaced so that log records are printed by the program.
func NewPipelineTUI(w io.Writer, logLevel slog.Level, runner Runner) (*PipelineTUI, error) {
	t := &PipelineTUI{
		runner: runner,
		w:      w,
	}

	t.runner.Subscribe(t.broadcastEvent)

	handler, err := log.CreateHandler(t, logLevel, log.FormatText)
	if err != nil {
		return nil, fmt.Errorf("failed to create log handler: %w", err)
	}

	slog.SetDefault(slog.New(handler))

	return t, nil
}

func (t *PipelineTUI) broadcastEvent(evt any) {
	if t.p != nil {
		t.p.Send(evt)
	}
}

func (t *PipelineTUI) Write(p []byte) (int, error) {
	t.broadcastEvent(teaMsgWriteLog(string(p)))

	return len(p), nil
}

func (t *PipelineTUI) Subscribe(f func(any)) {
	t.runner.Subscribe(f)
}

// Run runs the stages up to target and returns the run's error.
func (t *PipelineTUI) Run(ctx context.Context, target pipeline.Stage) error {
	t.p = tea.NewProgram(NewStageModel(), tea.WithOutput(t.w), tea.WithContext(ctx))

	errCh := make(chan error, 1)

	go func() {
		// The runner broadcasts pipeline.EventDone itself.
		errCh <- t.runner.Run(ctx, target)
	}()

	if _, err := t.p.Run(); err != nil {
		return fmt.Errorf("failed to launch tui: %w", err)
	}

	return <-errCh
}
