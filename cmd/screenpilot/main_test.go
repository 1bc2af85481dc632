package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/screenpilot/internal/generation"
	"github.com/fyrsmithlabs/screenpilot/internal/rag"
	"github.com/fyrsmithlabs/screenpilot/internal/vectorstore"
)

func TestRootCmd_Subcommands(t *testing.T) {
	root := newRootCmd()

	var names []string
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}
	for _, want := range []string{"serve", "ingest", "ask", "mcp", "watch", "monitor", "version"} {
		assert.Contains(t, names, want)
	}
}

func TestVersionCmd(t *testing.T) {
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"version"})

	require.NoError(t, root.Execute())
	assert.Contains(t, out.String(), "Version:    "+version)
	assert.Contains(t, out.String(), "Commit:")
}

func TestAskCmd_RequiresQuestion(t *testing.T) {
	root := newRootCmd()
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"ask"})

	assert.Error(t, root.Execute())
}

func TestIngestCmd_NothingToDo(t *testing.T) {
	root := newRootCmd()
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"ingest"})

	err := root.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nothing to do")
}

func TestReadInput(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "notes.md")
	require.NoError(t, os.WriteFile(path, []byte("The sky is blue."), 0o600))

	text, ref, err := readInput(nil, path)
	require.NoError(t, err)
	assert.Equal(t, "The sky is blue.", text)
	assert.Equal(t, "file:notes.md", ref)

	text, ref, err = readInput(strings.NewReader("from stdin"), "-")
	require.NoError(t, err)
	assert.Equal(t, "from stdin", text)
	assert.Equal(t, "stdin", ref)
}

func TestReadInput_Rejects(t *testing.T) {
	dir := t.TempDir()
	bin := filepath.Join(dir, "blob.bin")
	require.NoError(t, os.WriteFile(bin, []byte{0xff, 0xfe, 0x00}, 0o600))

	_, _, err := readInput(nil, bin)
	assert.ErrorContains(t, err, "not UTF-8")

	_, _, err = readInput(nil, filepath.Join(dir, "missing.txt"))
	assert.Error(t, err)
}

func TestRenderAnswer(t *testing.T) {
	out := renderAnswer(generation.Response{
		Answer:   "The sky is blue.",
		Provider: "friendliai",
		TraceID:  "trace-1",
		Sources: []generation.Source{
			{ID: "notes:0", Text: "The sky\n\nis blue.", SourceRef: "notes", Score: 0.91},
		},
	})
	assert.Contains(t, out, "The sky is blue.")
	assert.Contains(t, out, "friendliai")
	assert.Contains(t, out, "trace-1")
	assert.Contains(t, out, "1. notes")
	assert.Contains(t, out, "0.910")

	empty := renderAnswer(generation.Response{Answer: "I don't know.", Provider: "gemini"})
	assert.Contains(t, empty, "no document context was used")
}

func TestRenderIngestAndDocuments(t *testing.T) {
	out := renderIngest(rag.IngestResult{SourceRef: "file:a.md", ChunksCreated: 4})
	assert.Contains(t, out, "file:a.md")
	assert.Contains(t, out, "4 chunks")

	out = renderDocuments([]vectorstore.SourceInfo{{SourceRef: "a", Chunks: 2}, {SourceRef: "b", Chunks: 1}})
	assert.Contains(t, out, "2 documents")
	assert.Contains(t, out, "a")
	assert.Contains(t, out, "(1 chunks)")
}

func TestPreview(t *testing.T) {
	assert.Equal(t, "a b c", preview("a\n b\t\tc"))

	long := strings.Repeat("é", excerptPreview+10)
	got := preview(long)
	assert.Equal(t, excerptPreview+1, len([]rune(got)))
	assert.True(t, strings.HasSuffix(got, "…"))
}
