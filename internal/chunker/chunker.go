// Package chunker splits document text into bounded, overlapping segments.
//
// Lengths are measured in Unicode code points (runes), never bytes, so a
// chunk boundary can not split a multi-byte character. Segment i+1 starts
// exactly MaxLength-Overlap runes after segment i; only the final segment
// may be shorter than MaxLength.
package chunker

import (
	"fmt"
	"strings"

	"github.com/fyrsmithlabs/screenpilot/internal/apperr"
)

// Default sizes, matching the fixed-size chunks the service has always used.
const (
	DefaultMaxLength = 1000
	DefaultOverlap   = 200
)

// Chunk is one bounded segment of a source document.
type Chunk struct {
	ID            string
	Text          string
	SourceRef     string
	SequenceIndex int

	// Start and End are rune offsets into the source text, End exclusive.
	Start int
	End   int
}

// Split cuts text into segments of at most maxLength runes, each starting
// maxLength-overlap runes after the previous one.
//
// Empty or whitespace-only text yields no chunks and no error.
func Split(text string, maxLength, overlap int) ([]Chunk, error) {
	if err := validate(maxLength, overlap); err != nil {
		return nil, err
	}
	if strings.TrimSpace(text) == "" {
		return []Chunk{}, nil
	}

	runes := []rune(text)
	n := len(runes)
	stride := maxLength - overlap

	chunks := make([]Chunk, 0, n/stride+1)
	for start, idx := 0, 0; ; start, idx = start+stride, idx+1 {
		end := start + maxLength
		if end > n {
			end = n
		}
		chunks = append(chunks, Chunk{
			Text:          string(runes[start:end]),
			SequenceIndex: idx,
			Start:         start,
			End:           end,
		})
		if end == n {
			break
		}
	}
	return chunks, nil
}

func validate(maxLength, overlap int) error {
	if maxLength <= 0 {
		return apperr.Newf(apperr.InvalidArgument, "chunk max length must be positive, got %d", maxLength)
	}
	if overlap < 0 || overlap >= maxLength {
		return apperr.Newf(apperr.InvalidArgument, "chunk overlap must be in [0, %d), got %d", maxLength, overlap)
	}
	return nil
}

// Chunker applies a fixed size/overlap to documents and labels the result.
type Chunker struct {
	MaxLength int
	Overlap   int
}

// New returns a Chunker after validating its parameters.
func New(maxLength, overlap int) (*Chunker, error) {
	if err := validate(maxLength, overlap); err != nil {
		return nil, err
	}
	return &Chunker{MaxLength: maxLength, Overlap: overlap}, nil
}

// ChunkDocument splits text and stamps every chunk with sourceRef and an
// id of the form "<sourceRef>:<index>". Ids are stable for identical input,
// which is what makes re-ingestion replace instead of duplicate.
func (c *Chunker) ChunkDocument(text, sourceRef string) ([]Chunk, error) {
	chunks, err := Split(text, c.MaxLength, c.Overlap)
	if err != nil {
		return nil, err
	}
	for i := range chunks {
		chunks[i].SourceRef = sourceRef
		chunks[i].ID = fmt.Sprintf("%s:%d", sourceRef, chunks[i].SequenceIndex)
	}
	return chunks, nil
}
