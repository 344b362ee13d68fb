package pipelinetui_test

import (
	"bytes"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/exp/teatest"
	"github.com/muesli/termenv"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/macropower/helmbuild/pkg/pipeline"
	"github.com/macropower/helmbuild/pkg/pipelinetui"
)

func TestMain(m *testing.M) {
	lipgloss.SetColorProfile(termenv.Ascii)

	os.Exit(m.Run())
}

func waitFor(t *testing.T, tm *teatest.TestModel, s string) {
	t.Helper()

	teatest.WaitFor(
		t, tm.Output(),
		func(bts []byte) bool {
			return bytes.Contains(bts, []byte(s))
		},
		teatest.WithDuration(5*time.Second),
	)
}

func TestStageModel_Success(t *testing.T) {
	t.Parallel()

	m := pipelinetui.NewStageModel()
	tm := teatest.NewTestModel(
		t, m,
		teatest.WithInitialTermSize(300, 100),
	)
	time.Sleep(100 * time.Millisecond)

	tm.Send(pipeline.EventSetStageTotal(2))
	tm.Send(pipeline.EventStageStarted(pipeline.StageDownload))
	waitFor(t, tm, "Running Download")

	tm.Send(pipeline.EventStageFinished{Stage: pipeline.StageDownload})
	waitFor(t, tm, "✓ Download")

	tm.Send(pipeline.EventStageStarted(pipeline.StageRepoSync))
	waitFor(t, tm, "Running Repo-Sync")

	tm.Send(pipeline.EventStageFinished{Stage: pipeline.StageRepoSync})
	waitFor(t, tm, "✓ Repo-Sync")

	tm.Send(pipeline.EventDone{})

	fm, ok := tm.FinalModel(t, teatest.WithFinalTimeout(10*time.Second)).(*pipelinetui.StageModel)
	require.True(t, ok)
	require.NoError(t, fm.Err())
	assert.Equal(t, []string{"Download", "Repo-Sync"}, fm.Finished())
	assert.Empty(t, fm.Skipped())
	assert.Contains(t, fm.View(), "Done! Ran 2 stages, skipped 0.")
}

func TestStageModel_Skipped(t *testing.T) {
	t.Parallel()

	m := pipelinetui.NewStageModel()
	tm := teatest.NewTestModel(
		t, m,
		teatest.WithInitialTermSize(300, 100),
	)
	time.Sleep(100 * time.Millisecond)

	tm.Send(pipeline.EventSetStageTotal(2))
	tm.Send(pipeline.EventStageFinished{Stage: pipeline.StageDownload, Skipped: true})
	waitFor(t, tm, "- Download (skipped)")

	tm.Send(pipeline.EventStageStarted(pipeline.StageInit))
	tm.Send(pipeline.EventStageFinished{Stage: pipeline.StageInit})
	waitFor(t, tm, "✓ Init")

	tm.Send(pipeline.EventDone{})

	fm, ok := tm.FinalModel(t, teatest.WithFinalTimeout(10*time.Second)).(*pipelinetui.StageModel)
	require.True(t, ok)
	assert.Equal(t, []string{"Init"}, fm.Finished())
	assert.Equal(t, []string{"Download"}, fm.Skipped())
}

func TestStageModel_Error(t *testing.T) {
	t.Parallel()

	m := pipelinetui.NewStageModel()
	tm := teatest.NewTestModel(
		t, m,
		teatest.WithInitialTermSize(300, 100),
	)
	time.Sleep(100 * time.Millisecond)

	runErr := errors.New("stage failed: build: chart source directory not found")

	tm.Send(pipeline.EventSetStageTotal(4))
	tm.Send(pipeline.EventStageStarted(pipeline.StageBuild))
	waitFor(t, tm, "Running Build")

	tm.Send(pipeline.EventStageFinished{Stage: pipeline.StageBuild, Err: runErr})
	waitFor(t, tm, "✗ Build")

	tm.Send(pipeline.EventDone{Err: runErr})

	fm, ok := tm.FinalModel(t, teatest.WithFinalTimeout(10*time.Second)).(*pipelinetui.StageModel)
	require.True(t, ok)
	require.ErrorIs(t, fm.Err(), runErr)
	assert.Contains(t, fm.View(), "chart source directory not found")
}
