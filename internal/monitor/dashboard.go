// Package monitor renders a live terminal dashboard of a running
// screenpilot server from its /health, /documents and /metrics endpoints.
package monitor

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/NimbleMarkets/ntcharts/sparkline"
	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

const (
	sparklineWidth  = 30
	sparklineHeight = 3
	historySize     = 30
	topDocuments    = 5
	defaultMemMax   = 512 << 20
)

// Fetcher reads one snapshot of the server.
type Fetcher interface {
	Fetch(ctx context.Context) (Snapshot, error)
}

// Model is the BubbleTea dashboard model.
type Model struct {
	serverURL  string
	fetcher    Fetcher
	interval   time.Duration
	lastUpdate time.Time
	snapshot   Snapshot
	hasData    bool
	err        error
	quitting   bool

	opsRate     float64
	opsHistory  []float64
	memHistory  []float64
	memoryMax   float64
	docProgress progress.Model
	memProgress progress.Model
}

var (
	headerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("0")).
			Background(lipgloss.Color("51")).
			Bold(true).
			Padding(0, 1)

	sectionStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("51")).
			Bold(true)

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("45"))

	valueStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("231")).
			Bold(true)

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245"))

	healthyStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("46")).
			Bold(true)

	warningStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("226")).
			Bold(true)

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")).
			Bold(true)

	containerStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("238")).
			Padding(1, 2)

	footerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245")).
			MarginTop(1)

	footerKeyStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("51")).
			Bold(true)

	sparklineStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("51"))
)

// NewModel creates a dashboard polling serverURL every interval.
func NewModel(serverURL string, interval time.Duration) Model {
	return NewModelWithFetcher(serverURL, NewClient(serverURL), interval)
}

// NewModelWithFetcher creates a dashboard that reads snapshots from f.
func NewModelWithFetcher(serverURL string, f Fetcher, interval time.Duration) Model {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	return Model{
		serverURL: serverURL,
		fetcher:   f,
		interval:  interval,
		docProgress: progress.New(
			progress.WithGradient("#00ffff", "#ff00ff"),
			progress.WithWidth(30),
		),
		memProgress: progress.New(
			progress.WithGradient("#00ff00", "#ffff00"),
			progress.WithWidth(40),
		),
		opsHistory: make([]float64, 0, historySize),
		memHistory: make([]float64, 0, historySize),
		memoryMax:  defaultMemMax,
	}
}

// statusBadge renders the overall status reported by /health.
func statusBadge(status string) string {
	switch status {
	case "healthy":
		return healthyStyle.Render("✓ HEALTHY")
	case "degraded":
		return warningStyle.Render("⚠ DEGRADED")
	case "waiting":
		return dimStyle.Render("… WAITING")
	default:
		return errorStyle.Render("✗ " + strings.ToUpper(status))
	}
}

// appendToHistory appends a value to history, maintaining max size
func appendToHistory(history []float64, value float64) []float64 {
	history = append(history, value)
	if len(history) > historySize {
		history = history[1:]
	}
	return history
}

func createSparkline(data []float64) string {
	if len(data) == 0 {
		return dimStyle.Render(fmt.Sprintf("%*s", sparklineWidth, "no data"))
	}

	spark := sparkline.New(sparklineWidth, sparklineHeight)
	for _, v := range data {
		spark.Push(v)
	}
	spark.Draw()
	return sparklineStyle.Render(spark.View())
}

type tickMsg time.Time
type snapshotMsg Snapshot
type errMsg struct{ err error }

// Init schedules the first poll.
func (m Model) Init() tea.Cmd {
	return tea.Batch(
		tick(m.interval),
		fetch(m.fetcher),
	)
}

func tick(interval time.Duration) tea.Cmd {
	return tea.Tick(interval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func fetch(f Fetcher) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		s, err := f.Fetch(ctx)
		if err != nil {
			return errMsg{err}
		}
		return snapshotMsg(s)
	}
}

// Update handles messages
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		case "r":
			return m, fetch(m.fetcher)
		}

	case tickMsg:
		return m, tea.Batch(
			tick(m.interval),
			fetch(m.fetcher),
		)

	case snapshotMsg:
		s := Snapshot(msg)
		m.opsRate = 0
		if m.hasData {
			// A counter that went backwards means the server restarted.
			elapsed := s.At.Sub(m.snapshot.At).Seconds()
			if elapsed > 0 && s.StoreOps >= m.snapshot.StoreOps {
				m.opsRate = (s.StoreOps - m.snapshot.StoreOps) / elapsed
			}
		}
		m.opsHistory = appendToHistory(m.opsHistory, m.opsRate)
		m.memHistory = appendToHistory(m.memHistory, s.MemoryBytes)
		if s.MemoryBytes > m.memoryMax {
			m.memoryMax = s.MemoryBytes
		}

		m.snapshot = s
		m.hasData = true
		m.lastUpdate = s.At
		m.err = nil
		return m, nil

	case errMsg:
		m.err = msg.err
		return m, nil
	}

	return m, nil
}

// View renders the dashboard
func (m Model) View() string {
	if m.quitting {
		return ""
	}
	if m.err != nil {
		return m.renderError()
	}
	return m.renderDashboard()
}

func (m Model) renderError() string {
	header := headerStyle.Render("screenpilot Monitor")

	var b strings.Builder
	b.WriteString("\n")
	b.WriteString(errorStyle.Render("⚠ Cannot reach the screenpilot server") + "\n\n")
	b.WriteString(dimStyle.Render("URL: ") + valueStyle.Render(m.serverURL) + "\n")
	b.WriteString(dimStyle.Render("Error: ") + errorStyle.Render(m.err.Error()) + "\n\n")
	b.WriteString(dimStyle.Render("Start it with: screenpilot serve") + "\n")
	b.WriteString(footerStyle.Render("[q] quit  [r] retry") + "\n")

	return containerStyle.Render(header + "\n" + b.String())
}

func (m Model) renderDashboard() string {
	s := m.snapshot
	var b strings.Builder

	lastUpdate := "never"
	if !m.lastUpdate.IsZero() {
		lastUpdate = m.lastUpdate.Format("3:04:05 PM")
	}
	uptime := "n/a"
	if s.StartTime > 0 && !s.At.IsZero() {
		uptime = FormatUptime(s.At.Sub(time.Unix(int64(s.StartTime), 0)))
	}

	b.WriteString(headerStyle.Render("screenpilot Monitor") + "\n")
	status := "waiting"
	if m.hasData {
		status = s.Status
	}
	fmt.Fprintf(&b, "%s   %s %s   %s\n",
		statusBadge(status),
		dimStyle.Render("Uptime:"), valueStyle.Render(uptime),
		dimStyle.Render(lastUpdate))
	if s.HealthError != "" {
		b.WriteString(errorStyle.Render("  "+s.HealthError) + "\n")
	}

	b.WriteString("\n" + sectionStyle.Render("┃ Providers") + "\n")
	secondary := s.Secondary
	if secondary == "" {
		secondary = "none"
	}
	b.WriteString(labelStyle.Render("  Primary: ") + valueStyle.Render(s.Primary) +
		labelStyle.Render("  Fallback: ") + valueStyle.Render(secondary) + "\n")
	b.WriteString(labelStyle.Render("  Embeddings: ") + valueStyle.Render(s.Embeddings) +
		labelStyle.Render("  Vector store: ") + valueStyle.Render(s.VectorStore) + "\n")

	b.WriteString("\n" + sectionStyle.Render("┃ Corpus") + "\n")
	b.WriteString(labelStyle.Render("  Documents: ") + valueStyle.Render(fmt.Sprintf("%d", len(s.Documents))) +
		labelStyle.Render("  Chunks: ") + valueStyle.Render(fmt.Sprintf("%d", s.Chunks)) + "\n")
	for _, d := range largestDocuments(s.Documents, topDocuments) {
		share := 0.0
		if s.Chunks > 0 {
			share = float64(d.Chunks) / float64(s.Chunks)
		}
		fmt.Fprintf(&b, "  %s %s %s %s\n",
			m.docProgress.ViewAs(share),
			dimStyle.Render(FormatShare(share)),
			dimStyle.Render(fmt.Sprintf("%4d", d.Chunks)),
			d.SourceRef)
	}

	b.WriteString("\n" + sectionStyle.Render("┃ Vector Store") + "\n")
	b.WriteString(labelStyle.Render("  Ops: ") + valueStyle.Render(FormatRate(m.opsRate)) +
		"   " + createSparkline(m.opsHistory) + "\n")
	errLabel := valueStyle.Render(fmt.Sprintf("%.0f", s.StoreErrors))
	if s.StoreErrors > 0 {
		errLabel = warningStyle.Render(fmt.Sprintf("%.0f", s.StoreErrors))
	}
	b.WriteString(labelStyle.Render("  Total: ") + valueStyle.Render(fmt.Sprintf("%.0f", s.StoreOps)) +
		labelStyle.Render("  Errors: ") + errLabel + "\n")

	b.WriteString("\n" + sectionStyle.Render("┃ System") + "\n")
	memRatio := 0.0
	if m.memoryMax > 0 {
		memRatio = s.MemoryBytes / m.memoryMax
	}
	b.WriteString(labelStyle.Render("  Memory: ") + m.memProgress.ViewAs(memRatio) +
		" " + dimStyle.Render(FormatMemory(uint64(s.MemoryBytes))) + "\n")
	b.WriteString(labelStyle.Render("  Heap: ") + createSparkline(m.memHistory) + "\n")
	b.WriteString(labelStyle.Render("  Goroutines: ") + valueStyle.Render(fmt.Sprintf("%d", s.Goroutines)) + "\n")

	footer := footerKeyStyle.Render("[q]") + footerStyle.Render(" quit  ") +
		footerKeyStyle.Render("[r]") + footerStyle.Render(" refresh  ") +
		footerStyle.Render(fmt.Sprintf("Auto: %v", m.interval))
	b.WriteString("\n" + footer)

	return containerStyle.Render(b.String())
}

// largestDocuments returns up to n documents with the most chunks.
func largestDocuments(docs []Document, n int) []Document {
	out := append([]Document(nil), docs...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Chunks > out[j].Chunks })
	if len(out) > n {
		out = out[:n]
	}
	return out
}
