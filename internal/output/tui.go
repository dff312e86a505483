package output

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/mattn/go-runewidth"

	"github.com/torosent/loadcheck/internal/metrics"
)

const (
	barWidth  = 30
	nameWidth = 32
)

type tickMsg time.Time

type finishMsg struct{}

// progressModel renders one progress bar per endpoint.
type progressModel struct {
	source   ProgressSource
	interval time.Duration
	bar      progress.Model
	snapshot []metrics.Progress
	start    time.Time
	elapsed  time.Duration
	done     bool
}

func newProgressModel(source ProgressSource, interval time.Duration) progressModel {
	return progressModel{
		source:   source,
		interval: interval,
		bar:      progress.New(progress.WithDefaultGradient(), progress.WithWidth(barWidth)),
		start:    time.Now(),
	}
}

func (m progressModel) tick() tea.Cmd {
	return tea.Tick(m.interval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m progressModel) Init() tea.Cmd {
	return m.tick()
}

func (m progressModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg.(type) {
	case tickMsg:
		m.refresh()
		return m, m.tick()
	case finishMsg:
		m.refresh()
		m.done = true
		return m, tea.Quit
	}
	return m, nil
}

func (m *progressModel) refresh() {
	m.snapshot = m.source.Snapshot()
	m.elapsed = time.Since(m.start)
}

func (m progressModel) View() string {
	var b strings.Builder
	for _, p := range m.snapshot {
		fraction := 1.0
		if p.Load > 0 {
			fraction = float64(p.Attempted) / float64(p.Load)
		}
		fmt.Fprintf(&b, "%-*s %s %d/%d", nameWidth, truncate(p.Name, nameWidth), m.bar.ViewAs(fraction), p.Attempted, p.Load)
		if p.Failed > 0 {
			fmt.Fprintf(&b, " (%d failed)", p.Failed)
		}
		b.WriteByte('\n')
	}
	fmt.Fprintf(&b, "\n%s\n", progressLine(m.snapshot, m.elapsed))
	return b.String()
}

// cellWidth measures names for the bar column. Ambiguous-width runes such as
// the ellipsis count as one cell whatever the locale.
var cellWidth = func() *runewidth.Condition {
	c := runewidth.NewCondition()
	c.EastAsianWidth = false
	return c
}()

// truncate shortens s to width terminal cells without splitting a character.
func truncate(s string, width int) string {
	return cellWidth.Truncate(s, width, "…")
}

// TUI displays per-endpoint progress bars until stopped.
type TUI struct {
	program  *tea.Program
	mu       sync.Mutex
	running  bool
	stopped  bool
	finished chan struct{}
	err      error
}

// NewTUI creates a progress view writing to w. It reads no input and leaves
// signal handling to the caller.
func NewTUI(source ProgressSource, interval time.Duration, w io.Writer) *TUI {
	model := newProgressModel(source, interval)
	return &TUI{
		program: tea.NewProgram(model,
			tea.WithOutput(w),
			tea.WithInput(nil),
			tea.WithoutSignalHandler(),
		),
		finished: make(chan struct{}),
	}
}

// Start runs the view in a background goroutine.
func (t *TUI) Start() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.running || t.stopped {
		return
	}
	t.running = true
	go func() {
		defer close(t.finished)
		_, err := t.program.Run()
		t.mu.Lock()
		t.err = err
		t.mu.Unlock()
	}()
}

// Stop renders the final state and tears the view down. It is a no-op when
// the view is not running.
func (t *TUI) Stop() {
	t.mu.Lock()
	running := t.running
	t.running = false
	t.stopped = true
	t.mu.Unlock()
	if !running {
		return
	}
	t.program.Send(finishMsg{})
	<-t.finished
}

// Err returns the error the view ended with, if any.
func (t *TUI) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}
