// Package vectorstore stores chunk embeddings and answers nearest-neighbour
// queries. Two backends are provided: an embedded chromem-go database and a
// Qdrant server reached over gRPC. Both score with cosine similarity.
package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/fyrsmithlabs/screenpilot/internal/apperr"
)

var (
	// ErrCollectionNotFound is returned when querying a collection that was never written to.
	ErrCollectionNotFound = errors.New("collection not found")

	// ErrDimensionMismatch is returned when a vector's length differs from the collection's.
	ErrDimensionMismatch = errors.New("vector dimension mismatch")

	// ErrInvalidConfig indicates a store cannot be built from its config.
	ErrInvalidConfig = errors.New("invalid vectorstore configuration")

	// ErrInvalidCollectionName is returned for names outside ^[a-z0-9_]{1,64}$.
	ErrInvalidCollectionName = errors.New("invalid collection name")

	// ErrConnectionFailed indicates the backend could not be reached.
	ErrConnectionFailed = errors.New("vectorstore connection failed")
)

// Metadata keys shared by both backends.
const (
	keySourceRef     = "source_ref"
	keySequenceIndex = "sequence_index"
	keyIngestedAt    = "ingested_at"
	keyRecordID      = "record_id"
	keyText          = "text"
)

// Record is one stored chunk.
type Record struct {
	ID            string
	Text          string
	SourceRef     string
	SequenceIndex int
	// IngestedAt is the batch's ingest time in Unix nanoseconds.
	IngestedAt int64
	Vector     []float32
}

// Result is a Record scored against a query vector.
type Result struct {
	Record
	Score float32
}

// SourceInfo summarises the chunks stored for one source.
type SourceInfo struct {
	SourceRef string `json:"source_ref"`
	Chunks    int    `json:"chunks"`
}

// Store is the vector database used by the ingestion and retrieval pipelines.
type Store interface {
	// Upsert writes records, replacing any with the same ID. The collection is
	// created on first write with the dimension of the first vector.
	Upsert(ctx context.Context, collection string, records []Record) (int, error)

	// QuerySimilar returns up to topK records ordered by descending cosine
	// similarity. Ties keep insertion order.
	QuerySimilar(ctx context.Context, collection string, vector []float32, topK int) ([]Result, error)

	// DeleteSource removes every record of sourceRef.
	DeleteSource(ctx context.Context, collection, sourceRef string) error

	// DeleteStale removes the records of sourceRef written by any batch other
	// than the one stamped keepIngestedAt. It is a no-op on a missing
	// collection.
	DeleteStale(ctx context.Context, collection, sourceRef string, keepIngestedAt int64) error

	// ListSources returns the stored sources with their chunk counts.
	ListSources(ctx context.Context, collection string) ([]SourceInfo, error)

	Health(ctx context.Context) error
	Close() error
}

var collectionNamePattern = regexp.MustCompile(`^[a-z0-9_]{1,64}$`)

// ValidateCollectionName checks name against ^[a-z0-9_]{1,64}$ after
// lowering it.
func ValidateCollectionName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: collection name cannot be empty", ErrInvalidCollectionName)
	}
	if !collectionNamePattern.MatchString(strings.ToLower(name)) {
		return fmt.Errorf("%w: must match ^[a-z0-9_]{1,64}$, got %q", ErrInvalidCollectionName, name)
	}
	return nil
}

// validateRecords checks that ids are present and unique and that every
// vector in the batch has the same, non-zero length. It returns that length.
func validateRecords(records []Record) (int, error) {
	dim := len(records[0].Vector)
	seen := make(map[string]struct{}, len(records))
	for i, r := range records {
		if r.ID == "" {
			return 0, apperr.New(apperr.InvalidArgument, fmt.Sprintf("record %d has no id", i))
		}
		if _, dup := seen[r.ID]; dup {
			return 0, apperr.New(apperr.InvalidArgument, fmt.Sprintf("record %q appears more than once", r.ID))
		}
		seen[r.ID] = struct{}{}
		if len(r.Vector) == 0 {
			return 0, apperr.New(apperr.InvalidArgument, fmt.Sprintf("record %q has no vector", r.ID))
		}
		if len(r.Vector) != dim {
			return 0, dimensionMismatch(dim, len(r.Vector))
		}
		if isZero(r.Vector) {
			return 0, apperr.New(apperr.InvalidArgument, fmt.Sprintf("record %q has a zero vector", r.ID))
		}
	}
	return dim, nil
}

func isZero(v []float32) bool {
	for _, x := range v {
		if x != 0 {
			return false
		}
	}
	return true
}

func dimensionMismatch(want, got int) error {
	return apperr.Wrap(apperr.InvalidArgument,
		fmt.Errorf("%w: collection has %d, got %d", ErrDimensionMismatch, want, got),
		"embedding dimension does not match the stored collection")
}

func collectionNotFound(name string) error {
	return apperr.Wrap(apperr.CollectionNotFound,
		fmt.Errorf("%w: %s", ErrCollectionNotFound, name),
		"no documents have been ingested yet")
}

// collectionKey validates name and returns the lowered form used as the
// backend collection name.
func collectionKey(name string) (string, error) {
	if err := ValidateCollectionName(name); err != nil {
		return "", apperr.Wrap(apperr.InvalidArgument, err, "invalid collection name")
	}
	return strings.ToLower(name), nil
}

func validateQuery(vector []float32, topK int) error {
	if topK < 1 {
		return apperr.Newf(apperr.InvalidArgument, "top_k must be at least 1, got %d", topK)
	}
	if len(vector) == 0 || isZero(vector) {
		return apperr.New(apperr.InvalidArgument, "query vector is empty")
	}
	return nil
}

// sortResults orders by score descending, breaking ties by ingest time and
// then sequence index so equal scores come back in insertion order.
func sortResults(results []Result) {
	sort.SliceStable(results, func(i, j int) bool {
		a, b := results[i], results[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.IngestedAt != b.IngestedAt {
			return a.IngestedAt < b.IngestedAt
		}
		return a.SequenceIndex < b.SequenceIndex
	})
}

func countSources(refs []string) []SourceInfo {
	counts := make(map[string]int)
	for _, ref := range refs {
		counts[ref]++
	}
	out := make([]SourceInfo, 0, len(counts))
	for ref, n := range counts {
		out = append(out, SourceInfo{SourceRef: ref, Chunks: n})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SourceRef < out[j].SourceRef })
	return out
}
