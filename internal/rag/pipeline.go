// Package rag wires chunking, embedding, vector storage and answer
// generation into the ingestion and retrieval pipelines.
//
// A Pipeline holds no per-request state; every dependency is supplied at
// construction and shared across concurrent calls.
package rag

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/screenpilot/internal/apperr"
	"github.com/fyrsmithlabs/screenpilot/internal/chunker"
	"github.com/fyrsmithlabs/screenpilot/internal/embeddings"
	"github.com/fyrsmithlabs/screenpilot/internal/events"
	"github.com/fyrsmithlabs/screenpilot/internal/generation"
	"github.com/fyrsmithlabs/screenpilot/internal/logging"
	"github.com/fyrsmithlabs/screenpilot/internal/secrets"
	"github.com/fyrsmithlabs/screenpilot/internal/vectorstore"
)

const instrumentationName = "github.com/fyrsmithlabs/screenpilot/internal/rag"

// DefaultTopK is used when a question does not ask for a specific count.
const DefaultTopK = 3

// pageRefPrefix marks documents ingested from a browser page.
const pageRefPrefix = "page:"

// Answerer produces an answer from a question and retrieved excerpts.
type Answerer interface {
	Generate(ctx context.Context, req generation.Request, useSecondary bool) (generation.Response, error)
}

// Config lists a Pipeline's dependencies. Scrubber, Publisher and Logger
// are optional.
type Config struct {
	Chunker    *chunker.Chunker
	Embedder   embeddings.Embedder
	Store      vectorstore.Store
	Generator  Answerer
	Collection string
	Scrubber   secrets.Scrubber
	Publisher  events.Publisher
	Logger     *logging.Logger

	// Now stamps ingested batches. Defaults to time.Now.
	Now func() time.Time
}

// IngestResult reports one ingestion.
type IngestResult struct {
	SourceRef     string `json:"source_ref"`
	ChunksCreated int    `json:"chunks_created"`
}

// Pipeline runs ingestion and retrieval.
type Pipeline struct {
	chunker    *chunker.Chunker
	embedder   embeddings.Embedder
	store      vectorstore.Store
	generator  Answerer
	collection string
	scrubber   secrets.Scrubber
	publisher  events.Publisher
	logger     *logging.Logger
	now        func() time.Time
	tracer     trace.Tracer

	// lastStamp is the most recent batch stamp in Unix nanoseconds.
	lastStamp atomic.Int64
}

// NewPipeline validates cfg and builds a Pipeline.
func NewPipeline(cfg Config) (*Pipeline, error) {
	switch {
	case cfg.Chunker == nil:
		return nil, errors.New("rag: chunker is required")
	case cfg.Embedder == nil:
		return nil, errors.New("rag: embedder is required")
	case cfg.Store == nil:
		return nil, errors.New("rag: store is required")
	case cfg.Generator == nil:
		return nil, errors.New("rag: generator is required")
	}
	if err := vectorstore.ValidateCollectionName(cfg.Collection); err != nil {
		return nil, fmt.Errorf("rag: %w", err)
	}

	p := &Pipeline{
		chunker:    cfg.Chunker,
		embedder:   cfg.Embedder,
		store:      cfg.Store,
		generator:  cfg.Generator,
		collection: cfg.Collection,
		scrubber:   cfg.Scrubber,
		publisher:  cfg.Publisher,
		logger:     cfg.Logger,
		now:        cfg.Now,
		tracer:     otel.Tracer(instrumentationName),
	}
	if p.scrubber == nil {
		p.scrubber = secrets.Nop{}
	}
	if p.publisher == nil {
		p.publisher = events.Nop{}
	}
	if p.logger == nil {
		p.logger = logging.NewNop()
	}
	if p.now == nil {
		p.now = time.Now
	}
	return p, nil
}

// stamp returns the batch stamp for an ingestion. Stamps strictly increase
// so a re-ingest never shares its stamp with the batch it replaces.
func (p *Pipeline) stamp() time.Time {
	for {
		now := p.now().UnixNano()
		last := p.lastStamp.Load()
		if now <= last {
			now = last + 1
		}
		if p.lastStamp.CompareAndSwap(last, now) {
			return time.Unix(0, now)
		}
	}
}

// Collection returns the name of the collection the pipeline reads and writes.
func (p *Pipeline) Collection() string {
	return p.collection
}

// Ingest scrubs, chunks, embeds and stores text under sourceRef. Re-ingesting
// under the same sourceRef replaces the earlier chunks, including any beyond
// the new chunk count.
//
// All chunks are embedded before anything is written, so an embedding
// failure or a cancellation before the write leaves the store untouched.
// Once the upsert has started a cancellation may leave a partial write.
func (p *Pipeline) Ingest(ctx context.Context, text, sourceRef string) (IngestResult, error) {
	ctx, span := p.tracer.Start(ctx, "rag.Ingest")
	defer span.End()

	sourceRef = strings.TrimSpace(sourceRef)
	if sourceRef == "" {
		return IngestResult{}, apperr.New(apperr.InvalidArgument, "source_ref is required")
	}
	span.SetAttributes(attribute.String("source_ref", sourceRef))
	result := IngestResult{SourceRef: sourceRef}

	scrubbed, err := p.scrubber.Scrub(text)
	if err != nil {
		return result, fail(span, apperr.Wrap(apperr.Internal, err, "secret scrubbing failed"))
	}
	if scrubbed.HasFindings() {
		p.logger.Warn(ctx, "redacted secrets from document",
			zap.String("source_ref", sourceRef),
			zap.Int("findings", len(scrubbed.Findings)),
			zap.Strings("rules", scrubbed.RuleIDs()))
	}

	chunks, err := p.chunker.ChunkDocument(scrubbed.Scrubbed, sourceRef)
	if err != nil {
		return result, fail(span, err)
	}
	if len(chunks) == 0 {
		p.logger.Debug(ctx, "document has no content", zap.String("source_ref", sourceRef))
		return result, nil
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	vectors, err := p.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return result, fail(span, classify(err, apperr.ProviderUnavailable, "embedding failed"))
	}
	if len(vectors) != len(chunks) {
		return result, fail(span, apperr.Newf(apperr.Internal, "embedder returned %d vectors for %d chunks", len(vectors), len(chunks)))
	}
	if err := ctx.Err(); err != nil {
		return result, fail(span, err)
	}

	ingestedAt := p.stamp()
	records := make([]vectorstore.Record, len(chunks))
	for i, c := range chunks {
		records[i] = vectorstore.Record{
			ID:            c.ID,
			Text:          c.Text,
			SourceRef:     sourceRef,
			SequenceIndex: c.SequenceIndex,
			IngestedAt:    ingestedAt.UnixNano(),
			Vector:        vectors[i],
		}
	}

	n, err := p.store.Upsert(ctx, p.collection, records)
	if err != nil {
		return result, fail(span, classify(err, apperr.Internal, "storing chunks failed"))
	}
	if err := p.store.DeleteStale(ctx, p.collection, sourceRef, ingestedAt.UnixNano()); err != nil {
		return result, fail(span, classify(err, apperr.Internal, "removing outdated chunks failed"))
	}
	result.ChunksCreated = n
	span.SetAttributes(attribute.Int("chunks", n))

	p.logger.Info(ctx, "ingested document", zap.String("source_ref", sourceRef), zap.Int("chunks", n))

	if err := p.publisher.DocumentIngested(ctx, events.DocumentIngested{
		Collection: p.collection,
		SourceRef:  sourceRef,
		Chunks:     n,
		IngestedAt: ingestedAt.UTC(),
	}); err != nil {
		p.logger.Warn(ctx, "failed to publish ingestion event", zap.String("source_ref", sourceRef), zap.Error(err))
	}
	return result, nil
}

// AnswerQuestion retrieves the topK most similar chunks and asks the
// generator to answer from them. A topK of 0 means DefaultTopK. An empty
// store is not an error: the question is answered without context.
func (p *Pipeline) AnswerQuestion(ctx context.Context, question string, topK int, useSecondary bool) (generation.Response, error) {
	ctx, span := p.tracer.Start(ctx, "rag.AnswerQuestion")
	defer span.End()

	if strings.TrimSpace(question) == "" {
		return generation.Response{}, apperr.New(apperr.InvalidArgument, "question is required")
	}
	if topK < 0 {
		return generation.Response{}, apperr.Newf(apperr.InvalidArgument, "top_k must not be negative, got %d", topK)
	}
	if topK == 0 {
		topK = DefaultTopK
	}
	span.SetAttributes(attribute.Int("top_k", topK), attribute.Bool("use_secondary", useSecondary))

	excerpts, err := p.retrieve(ctx, question, topK)
	if err != nil {
		return generation.Response{}, fail(span, err)
	}
	span.SetAttributes(attribute.Int("excerpts", len(excerpts)))

	resp, err := p.generator.Generate(ctx, generation.Request{Question: question, Context: excerpts}, useSecondary)
	if err != nil {
		return generation.Response{}, fail(span, err)
	}
	return resp, nil
}

func (p *Pipeline) retrieve(ctx context.Context, question string, topK int) ([]generation.Excerpt, error) {
	vector, err := p.embedder.EmbedQuery(ctx, question)
	if err != nil {
		return nil, classify(err, apperr.ProviderUnavailable, "embedding failed")
	}

	results, err := p.store.QuerySimilar(ctx, p.collection, vector, topK)
	if apperr.Is(err, apperr.CollectionNotFound) {
		p.logger.Debug(ctx, "no documents ingested yet, answering without context")
		return []generation.Excerpt{}, nil
	}
	if err != nil {
		return nil, classify(err, apperr.Internal, "retrieval failed")
	}

	excerpts := make([]generation.Excerpt, len(results))
	for i, r := range results {
		excerpts[i] = generation.Excerpt{
			ID:        r.ID,
			Text:      r.Text,
			SourceRef: r.SourceRef,
			Score:     r.Score,
		}
	}
	return excerpts, nil
}

// AskWithContext ingests the text of the page the user is looking at and
// then answers the question. Identical pages map to the same source ref,
// so asking twice about one page does not duplicate its chunks.
func (p *Pipeline) AskWithContext(ctx context.Context, question, pageContext string, topK int, useSecondary bool) (generation.Response, error) {
	if strings.TrimSpace(question) == "" {
		return generation.Response{}, apperr.New(apperr.InvalidArgument, "question is required")
	}
	if strings.TrimSpace(pageContext) != "" {
		if _, err := p.Ingest(ctx, pageContext, PageSourceRef(pageContext)); err != nil {
			return generation.Response{}, err
		}
	}
	return p.AnswerQuestion(ctx, question, topK, useSecondary)
}

// PageSourceRef derives a stable source ref from page text.
func PageSourceRef(pageContext string) string {
	sum := sha256.Sum256([]byte(pageContext))
	return pageRefPrefix + hex.EncodeToString(sum[:8])
}

// Documents lists stored sources with their chunk counts.
func (p *Pipeline) Documents(ctx context.Context) ([]vectorstore.SourceInfo, error) {
	sources, err := p.store.ListSources(ctx, p.collection)
	if apperr.Is(err, apperr.CollectionNotFound) {
		return []vectorstore.SourceInfo{}, nil
	}
	if err != nil {
		return nil, classify(err, apperr.Internal, "listing documents failed")
	}
	return sources, nil
}

// DeleteDocument removes every chunk of sourceRef.
func (p *Pipeline) DeleteDocument(ctx context.Context, sourceRef string) error {
	if strings.TrimSpace(sourceRef) == "" {
		return apperr.New(apperr.InvalidArgument, "source_ref is required")
	}
	if err := p.store.DeleteSource(ctx, p.collection, sourceRef); err != nil {
		return classify(err, apperr.Internal, "deleting document failed")
	}
	p.logger.Info(ctx, "deleted document", zap.String("source_ref", sourceRef))
	return nil
}

// classify keeps an existing classification and otherwise wraps err under kind.
func classify(err error, kind apperr.Kind, msg string) error {
	var ae *apperr.Error
	if errors.As(err, &ae) {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return apperr.Wrap(kind, err, msg)
}

func fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}
