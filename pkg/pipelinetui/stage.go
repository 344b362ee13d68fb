package pipelinetui

import (
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/lipgloss"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/macropower/helmbuild/pkg/pipeline"
)

// StageModel shows the running stage with a spinner and the overall
// progress of a pipeline run.
type StageModel struct {
	err         error
	caser       cases.Caser
	current     string
	finished    []string
	failed      []string
	skipped     []string
	spinner     spinner.Model
	progress    progress.Model
	totalStages int
	width       int
	height      int
	mu          sync.RWMutex
	done        bool
}

func NewStageModel() *StageModel {
	p := progress.New(
		progress.WithDefaultGradient(),
		progress.WithWidth(40),
		progress.WithoutPercentage(),
	)

	s := spinner.New()
	s.Style = spinnerStyle

	return &StageModel{
		caser:    cases.Title(language.English),
		finished: []string{},
		failed:   []string{},
		skipped:  []string{},
		spinner:  s,
		progress: p,
	}
}

func (m *StageModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.progress.SetPercent(0))
}

// Err returns the error the run ended with.
func (m *StageModel) Err() error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.err
}

// Finished returns the stages that ran, in order, including failed ones.
func (m *StageModel) Finished() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return append([]string(nil), m.finished...)
}

// Skipped returns the stages that were skipped.
func (m *StageModel) Skipped() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return append([]string(nil), m.skipped...)
}

//nolint:ireturn // Third-party.
func (m *StageModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "esc", "q":
			return m, tea.Quit
		}

	case teaMsgWriteLog:
		return m, writeLog(msg, m.width)

	case pipeline.EventSetStageTotal:
		m.mu.Lock()
		defer m.mu.Unlock()

		m.totalStages = int(msg)

	case pipeline.EventStageStarted:
		m.mu.Lock()
		defer m.mu.Unlock()

		m.current = m.caser.String(string(msg))

	case pipeline.EventStageFinished:
		m.mu.Lock()
		defer m.mu.Unlock()

		name := m.caser.String(string(msg.Stage))
		line := fmt.Sprintf("%s %s", checkMark, name)

		switch {
		case msg.Skipped:
			m.skipped = append(m.skipped, name)
			line = fmt.Sprintf("%s %s (skipped)", skipMark, name)

		case msg.Err != nil:
			m.failed = append(m.failed, name)
			m.finished = append(m.finished, name)
			line = fmt.Sprintf("%s %s", errorMark, name)

		default:
			m.finished = append(m.finished, name)
		}

		m.current = ""

		var progressCmd tea.Cmd
		if m.totalStages > 0 {
			progressCmd = m.progress.SetPercent(float64(m.completed()) / float64(m.totalStages))
		}

		return m, tea.Batch(progressCmd, tea.Println(line))

	case pipeline.EventDone:
		m.mu.Lock()
		defer m.mu.Unlock()

		m.err = msg.Err
		m.done = true

		return m, tea.Sequence(finalPause(), tea.Quit)

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)

		return m, cmd

	case progress.FrameMsg:
		newModel, cmd := m.progress.Update(msg)
		if newModel, ok := newModel.(progress.Model); ok {
			m.progress = newModel
		}

		return m, cmd

	case error:
		m.mu.Lock()
		defer m.mu.Unlock()

		m.err = msg

		return m, tea.Sequence(finalPause(), tea.Quit)
	}

	return m, nil
}

func (m *StageModel) completed() int {
	return len(m.finished) + len(m.skipped)
}

func (m *StageModel) View() string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.err != nil {
		return getErrorMessage(m.err, m.width)
	}

	if m.done {
		return doneStyle.Render(fmt.Sprintf("Done! Ran %d stages, skipped %d.\n", len(m.finished), len(m.skipped)))
	}

	w := lipgloss.Width(strconv.Itoa(m.totalStages))
	stageCount := fmt.Sprintf(" %*d/%*d", w, m.completed(), w, m.totalStages)

	progRendered := progressStyle.Render(m.progress.View() + stageCount)
	gap := strings.Repeat(" ", max(0, m.width-lipgloss.Width(progRendered)))
	progOut := progRendered + gap + "\n"

	if m.current == "" {
		return progOut
	}

	spin := m.spinner.View() + " "
	cellsAvail := max(0, m.width-lipgloss.Width(spin))
	info := lipgloss.NewStyle().MaxWidth(cellsAvail).Render("Running " + currentStageStyle.Render(m.current))
	spinGap := strings.Repeat(" ", max(0, m.width-lipgloss.Width(spin+info)))

	return spin + info + spinGap + "\n" + progOut
}
