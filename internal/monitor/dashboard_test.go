package monitor

import (
	"context"
	"errors"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticFetcher struct {
	snapshot Snapshot
	err      error
}

func (f staticFetcher) Fetch(context.Context) (Snapshot, error) {
	return f.snapshot, f.err
}

const testURL = "http://localhost:8000"

func sampleSnapshot(at time.Time, ops float64) Snapshot {
	return Snapshot{
		Status:      "healthy",
		VectorStore: "chromem",
		Embeddings:  "openai",
		Primary:     "friendliai",
		Secondary:   "gemini",
		Documents: []Document{
			{SourceRef: "file:notes.md", Chunks: 3},
			{SourceRef: "file:design.md", Chunks: 9},
		},
		Chunks:      12,
		StoreOps:    ops,
		StoreErrors: 1,
		Goroutines:  42,
		MemoryBytes: 24 << 20,
		StartTime:   float64(at.Add(-2*time.Hour - 15*time.Minute).Unix()),
		At:          at,
	}
}

func TestNewModel(t *testing.T) {
	model := NewModel(testURL, 5*time.Second)
	assert.Equal(t, testURL, model.serverURL)
	assert.Equal(t, 5*time.Second, model.interval)
	assert.False(t, model.quitting)
	assert.NotNil(t, model.fetcher)

	assert.Equal(t, 2*time.Second, NewModel(testURL, 0).interval)
}

func TestModel_Init(t *testing.T) {
	model := NewModelWithFetcher(testURL, staticFetcher{}, time.Second)
	assert.NotNil(t, model.Init())
}

func TestModel_Update_QuitKey(t *testing.T) {
	model := NewModelWithFetcher(testURL, staticFetcher{}, time.Second)

	updated, cmd := model.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'q'}})
	m := updated.(Model)
	assert.True(t, m.quitting)
	assert.NotNil(t, cmd)
	assert.Empty(t, m.View())
}

func TestModel_Update_RefreshKeyFetches(t *testing.T) {
	snap := sampleSnapshot(time.Now(), 10)
	model := NewModelWithFetcher(testURL, staticFetcher{snapshot: snap}, time.Second)

	updated, cmd := model.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'r'}})
	m := updated.(Model)
	assert.False(t, m.quitting)
	require.NotNil(t, cmd)

	msg := cmd()
	got, ok := msg.(snapshotMsg)
	require.True(t, ok, "expected snapshotMsg, got %T", msg)
	assert.Equal(t, snap.Chunks, got.Chunks)
}

func TestModel_FetchErrorBecomesErrMsg(t *testing.T) {
	model := NewModelWithFetcher(testURL, staticFetcher{err: errors.New("connection refused")}, time.Second)

	_, cmd := model.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'r'}})
	require.NotNil(t, cmd)

	updated, next := model.Update(cmd())
	m := updated.(Model)
	assert.Nil(t, next)
	require.Error(t, m.err)
	assert.Contains(t, m.err.Error(), "connection refused")
}

func TestModel_Update_TickSchedulesPoll(t *testing.T) {
	model := NewModelWithFetcher(testURL, staticFetcher{}, time.Second)
	_, cmd := model.Update(tickMsg(time.Now()))
	assert.NotNil(t, cmd)
}

func TestModel_Update_SnapshotComputesRate(t *testing.T) {
	model := NewModelWithFetcher(testURL, staticFetcher{}, time.Second)
	start := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	updated, cmd := model.Update(snapshotMsg(sampleSnapshot(start, 100)))
	assert.Nil(t, cmd)
	m := updated.(Model)
	assert.True(t, m.hasData)
	assert.Zero(t, m.opsRate)

	updated, _ = m.Update(snapshotMsg(sampleSnapshot(start.Add(2*time.Second), 110)))
	m = updated.(Model)
	assert.InDelta(t, 5.0, m.opsRate, 1e-9)
	assert.Equal(t, []float64{0, 5}, m.opsHistory)

	// Restarted server: counters go backwards, rate resets to zero.
	updated, _ = m.Update(snapshotMsg(sampleSnapshot(start.Add(4*time.Second), 3)))
	m = updated.(Model)
	assert.Zero(t, m.opsRate)
}

func TestModel_Update_SnapshotClearsError(t *testing.T) {
	model := NewModelWithFetcher(testURL, staticFetcher{}, time.Second)
	model.err = errors.New("boom")

	updated, _ := model.Update(snapshotMsg(sampleSnapshot(time.Now(), 1)))
	assert.NoError(t, updated.(Model).err)
}

func TestModel_View_WithSnapshot(t *testing.T) {
	model := NewModelWithFetcher(testURL, staticFetcher{}, 5*time.Second)
	at := time.Date(2026, 1, 1, 12, 34, 56, 0, time.UTC)
	updated, _ := model.Update(snapshotMsg(sampleSnapshot(at, 10)))

	view := updated.(Model).View()
	assert.Contains(t, view, "screenpilot Monitor")
	assert.Contains(t, view, "HEALTHY")
	assert.Contains(t, view, "12:34:56")
	assert.Contains(t, view, "2h 15m")
	assert.Contains(t, view, "friendliai")
	assert.Contains(t, view, "gemini")
	assert.Contains(t, view, "chromem")
	assert.Contains(t, view, "file:design.md")
	assert.Contains(t, view, "Chunks: 12")
	assert.Contains(t, view, "0.0 ops/s")
	assert.Contains(t, view, "24.0 MB")
	assert.Contains(t, view, "42")
	assert.Contains(t, view, "[q]")
	assert.Contains(t, view, "[r]")
}

func TestModel_View_Degraded(t *testing.T) {
	model := NewModelWithFetcher(testURL, staticFetcher{}, time.Second)
	snap := sampleSnapshot(time.Now(), 1)
	snap.Status = "degraded"
	snap.HealthError = "vector store unreachable"
	snap.Secondary = ""
	updated, _ := model.Update(snapshotMsg(snap))

	view := updated.(Model).View()
	assert.Contains(t, view, "DEGRADED")
	assert.Contains(t, view, "vector store unreachable")
	assert.Contains(t, view, "none")
}

func TestModel_View_WithError(t *testing.T) {
	model := NewModelWithFetcher(testURL, staticFetcher{}, time.Second)
	model.err = errors.New("connection refused")

	view := model.View()
	assert.Contains(t, view, "Cannot reach the screenpilot server")
	assert.Contains(t, view, "connection refused")
	assert.Contains(t, view, testURL)
	assert.Contains(t, view, "[q]")
}

func TestModel_View_NoData(t *testing.T) {
	model := NewModelWithFetcher(testURL, staticFetcher{}, time.Second)

	view := model.View()
	assert.Contains(t, view, "screenpilot Monitor")
	assert.Contains(t, view, "WAITING")
	assert.Contains(t, view, "no data")
}

func TestLargestDocuments(t *testing.T) {
	docs := []Document{{"a", 1}, {"b", 5}, {"c", 3}}
	got := largestDocuments(docs, 2)
	assert.Equal(t, []Document{{"b", 5}, {"c", 3}}, got)
	// Input order is untouched.
	assert.Equal(t, "a", docs[0].SourceRef)
}

func TestAppendToHistory(t *testing.T) {
	var h []float64
	for i := 0; i < historySize+5; i++ {
		h = appendToHistory(h, float64(i))
	}
	assert.Len(t, h, historySize)
	assert.Equal(t, float64(5), h[0])
}
